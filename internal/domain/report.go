package domain

import "time"

// DashboardSummary is the 30-day overview of a company's findings.
type DashboardSummary struct {
	CompanyID   string    `json:"companyId"`
	WindowDays  int       `json:"windowDays"`
	GeneratedAt time.Time `json:"generatedAt"`

	Stats            DetectionStats        `json:"stats"`
	Summary          []TypeSeveritySummary `json:"summary"`
	RecentDetections []*Detection          `json:"recentDetections"`
	Series           []DayBucket           `json:"series"`

	Benford     BenfordStats       `json:"benford"`
	Departments []DepartmentRollup `json:"departments"`
}

// DetectionStats counts findings by type, severity and resolution state.
type DetectionStats struct {
	Total      int               `json:"total"`
	ByType     map[FraudType]int `json:"byType"`
	BySeverity map[Severity]int  `json:"bySeverity"`
	Resolved   int               `json:"resolved"`
	Unresolved int               `json:"unresolved"`
}

// TypeSeveritySummary groups findings by (type, severity) with their mean risk score.
type TypeSeveritySummary struct {
	FraudType    FraudType `json:"fraudType"`
	Severity     Severity  `json:"severity"`
	Count        int       `json:"count"`
	AvgRiskScore float64   `json:"avgRiskScore"`
}

// DayBucket counts findings detected on one UTC calendar day.
type DayBucket struct {
	Date   string `json:"date"` // YYYY-MM-DD
	Total  int    `json:"total"`
	High   int    `json:"high"`
	Medium int    `json:"medium"`
	Low    int    `json:"low"`
}

// TrendSeries is a day-bucketed series over an arbitrary window.
type TrendSeries struct {
	CompanyID string      `json:"companyId"`
	Days      int         `json:"days"`
	From      time.Time   `json:"from"`
	To        time.Time   `json:"to"`
	Buckets   []DayBucket `json:"buckets"`
}

// BenfordStats summarizes recent Benford runs.
type BenfordStats struct {
	TotalAnalyses       int                           `json:"totalAnalyses"`
	SignificantAnalyses int                           `json:"significantAnalyses"`
	AvgChiSquare        float64                       `json:"avgChiSquare"`
	AvgPValue           float64                       `json:"avgPValue"`
	ByDataType          map[DataType]BenfordTypeStats `json:"byDataType"`
}

// BenfordTypeStats summarizes Benford runs of one data type.
type BenfordTypeStats struct {
	Analyses       int        `json:"analyses"`
	Significant    int        `json:"significant"`
	AvgChiSquare   float64    `json:"avgChiSquare"`
	AvgPValue      float64    `json:"avgPValue"`
	WithAnomalies  int        `json:"withAnomalies"`
	MaxAnomalies   int        `json:"maxAnomalies"`
	LastAnalysisAt *time.Time `json:"lastAnalysisAt,omitempty"`
}

// BenfordTrendPoint is one (day, data type) cell of the Benford trend.
type BenfordTrendPoint struct {
	Date         string   `json:"date"`
	DataType     DataType `json:"dataType"`
	Analyses     int      `json:"analyses"`
	AvgChiSquare float64  `json:"avgChiSquare"`
	AvgPValue    float64  `json:"avgPValue"`
	Significant  int      `json:"significant"`
}

// DepartmentRollup groups ghost employee reports by department.
type DepartmentRollup struct {
	Department        string  `json:"department"`
	GhostCount        int     `json:"ghostCount"`
	AvgRiskScore      float64 `json:"avgRiskScore"`
	TotalSalaryAtRisk float64 `json:"totalSalaryAtRisk"`
	NoActivity        int     `json:"noActivity"`
	Inactive90        int     `json:"inactive90"`
	Inactive180       int     `json:"inactive180"`
}
