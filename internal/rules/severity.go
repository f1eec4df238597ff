package rules

import (
	"fmt"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SeverityLadder maps a value onto a severity. Bands are checked from the
// highest Min down and the first band whose Min is at or below the value wins.
type SeverityLadder struct {
	bands    []domain.SeverityBand
	fallback domain.Severity
}

// NewSeverityLadder builds a ladder. Values below every band get fallback.
func NewSeverityLadder(fallback domain.Severity, bands ...domain.SeverityBand) (*SeverityLadder, error) {
	sorted := make([]domain.SeverityBand, len(bands))
	copy(sorted, bands)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Min > sorted[j].Min })

	for i := 1; i < len(sorted); i++ {
		if sorted[i].Min == sorted[i-1].Min {
			return nil, fmt.Errorf("severity ladder: duplicate band at %v", sorted[i].Min)
		}
	}

	return &SeverityLadder{bands: sorted, fallback: fallback}, nil
}

// MustSeverityLadder is like NewSeverityLadder but panics on error.
func MustSeverityLadder(fallback domain.Severity, bands ...domain.SeverityBand) *SeverityLadder {
	l, err := NewSeverityLadder(fallback, bands...)
	if err != nil {
		panic(err)
	}
	return l
}

// FixedSeverity returns a ladder that always yields s.
func FixedSeverity(s domain.Severity) *SeverityLadder {
	return &SeverityLadder{fallback: s}
}

// Classify returns the severity for value.
func (l *SeverityLadder) Classify(value float64) domain.Severity {
	for _, b := range l.bands {
		if value >= b.Min {
			return b.Severity
		}
	}
	return l.fallback
}

// Bands returns the bands from highest to lowest.
func (l *SeverityLadder) Bands() []domain.SeverityBand {
	out := make([]domain.SeverityBand, len(l.bands))
	copy(out, l.bands)
	return out
}
