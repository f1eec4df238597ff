package domain

import (
	"sort"
	"time"
)

// BranchError marks a failed branch of a comprehensive run.
type BranchError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// NewBranchError classifies err for a branch result.
func NewBranchError(err error) *BranchError {
	if err == nil {
		return nil
	}
	return &BranchError{Kind: ErrorKind(err), Message: err.Error()}
}

// BranchResult is the outcome of one detector in a comprehensive run.
type BranchResult struct {
	Detections []*Detection `json:"detections,omitempty"`
	Error      *BranchError `json:"error,omitempty"`
}

// BenfordBranch is the outcome of one Benford data type in a comprehensive run.
type BenfordBranch struct {
	Analysis *BenfordAnalysis `json:"analysis,omitempty"`
	Error    *BranchError     `json:"error,omitempty"`
}

// ComprehensiveResult collects every branch of a comprehensive run.
// A failed branch never hides the results of its siblings.
type ComprehensiveResult struct {
	CompanyID  string                     `json:"companyId"`
	StartedAt  time.Time                  `json:"startedAt"`
	FinishedAt time.Time                  `json:"finishedAt"`
	Detections map[FraudType]BranchResult `json:"detections"`
	Benford    map[DataType]BenfordBranch `json:"benford"`
}

// ScanSummary is the compact payload published when a scan finishes.
type ScanSummary struct {
	CompanyID          string            `json:"companyId"`
	RequestedBy        string            `json:"requestedBy,omitempty"`
	TotalDetections    int               `json:"totalDetections"`
	DetectionCounts    map[FraudType]int `json:"detectionCounts"`
	SignificantBenford []DataType        `json:"significantBenford"`
	Failed             map[string]string `json:"failed,omitempty"` // branch -> error kind
	DurationMs         int64             `json:"durationMs"`
	Skipped            string            `json:"skipped,omitempty"`
}

// Summary condenses the result for events and logs.
func (r *ComprehensiveResult) Summary() ScanSummary {
	s := ScanSummary{
		CompanyID:          r.CompanyID,
		DetectionCounts:    make(map[FraudType]int, len(r.Detections)),
		SignificantBenford: make([]DataType, 0),
		Failed:             make(map[string]string),
		DurationMs:         r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
	}

	for t, b := range r.Detections {
		if b.Error != nil {
			s.Failed[string(t)] = b.Error.Kind
			if len(b.Detections) == 0 {
				continue
			}
		}
		s.DetectionCounts[t] = len(b.Detections)
		s.TotalDetections += len(b.Detections)
	}
	for t, b := range r.Benford {
		if b.Error != nil {
			s.Failed["benford:"+string(t)] = b.Error.Kind
			continue
		}
		if b.Analysis != nil && b.Analysis.IsSignificant {
			s.SignificantBenford = append(s.SignificantBenford, t)
		}
	}
	sort.Slice(s.SignificantBenford, func(i, j int) bool {
		return s.SignificantBenford[i] < s.SignificantBenford[j]
	})

	return s
}
