package domain

import (
	"time"
)

// FraudType identifies the heuristic that produced a detection.
type FraudType string

const (
	FraudGhostEmployee    FraudType = "ghost_employee"
	FraudSplitTransaction FraudType = "split_transaction"
	FraudDuplicateInvoice FraudType = "duplicate_invoice"
	FraudRoundNumber      FraudType = "round_number_transaction"
	FraudSuspiciousVendor FraudType = "suspicious_vendor"
)

// AllFraudTypes lists the heuristic detectors in the order they are reported.
func AllFraudTypes() []FraudType {
	return []FraudType{
		FraudGhostEmployee,
		FraudSplitTransaction,
		FraudDuplicateInvoice,
		FraudRoundNumber,
		FraudSuspiciousVendor,
	}
}

// Valid reports whether t is a known fraud type.
func (t FraudType) Valid() bool {
	for _, known := range AllFraudTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// EntityType is the kind of record a detection points at.
type EntityType string

const (
	EntityEmployee    EntityType = "employee"
	EntityTransaction EntityType = "transaction"
	EntityInvoice     EntityType = "invoice"
	EntityVendor      EntityType = "vendor"
)

// Severity is the banded risk level of a finding.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AllSeverities lists severities from lowest to highest.
func AllSeverities() []Severity {
	return []Severity{SeverityLow, SeverityMedium, SeverityHigh}
}

// DetailRiskScore is the detail key holding the composite risk score.
const DetailRiskScore = "riskScore"

// Detection is one persisted finding from a heuristic detector.
// Only the resolution fields ever change after creation, and only once.
type Detection struct {
	ID          string         `json:"id"`
	CompanyID   string         `json:"companyId"`
	FraudType   FraudType      `json:"fraudType"`
	EntityType  EntityType     `json:"entityType"`
	EntityID    string         `json:"entityId"`
	Severity    Severity       `json:"severity"`
	Description string         `json:"description"`
	Detail      map[string]any `json:"detail"`
	DetectedAt  time.Time      `json:"detectedAt"`

	IsResolved      bool       `json:"isResolved"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
	ResolutionNotes string     `json:"resolutionNotes,omitempty"`
	ResolutionType  string     `json:"resolutionType,omitempty"`
}

// RiskScore returns the score stored in the detail bag.
// Detail values read back from JSON are float64, freshly built ones are int.
func (d *Detection) RiskScore() int {
	switch v := d.Detail[DetailRiskScore].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Resolution is the caller input for closing a finding.
type Resolution struct {
	Notes string `json:"notes" validate:"required"`
	Type  string `json:"type" validate:"required,oneof=false_positive confirmed_fraud investigated corrected other"`
}

// Resolution types accepted by the resolve operation.
const (
	ResolutionFalsePositive  = "false_positive"
	ResolutionConfirmedFraud = "confirmed_fraud"
	ResolutionInvestigated   = "investigated"
	ResolutionCorrected      = "corrected"
	ResolutionOther          = "other"
)

// ActivityStatus classifies how inactive a suspected ghost employee is.
type ActivityStatus string

const (
	ActivityNone        ActivityStatus = "no_activity"
	ActivityMinimal     ActivityStatus = "minimal_activity"
	ActivityInactive90  ActivityStatus = "inactive_90_days"
	ActivityInactive180 ActivityStatus = "inactive_180_days"
)

// GhostEmployeeReport is the payroll-specific view of a ghost employee detection.
type GhostEmployeeReport struct {
	ID             string         `json:"id"`
	CompanyID      string         `json:"companyId"`
	DetectionID    string         `json:"detectionId"`
	EmployeeID     string         `json:"employeeId"`
	EmployeeName   string         `json:"employeeName"`
	EmployeeEmail  string         `json:"employeeEmail"`
	Department     string         `json:"department"`
	Position       string         `json:"position"`
	Salary         float64        `json:"salary"`
	HireDate       time.Time      `json:"hireDate"`
	ActivityStatus ActivityStatus `json:"activityStatus"`
	RiskScore      int            `json:"riskScore"`

	TotalExpenses      float64 `json:"totalExpenses"`
	TotalHours         float64 `json:"totalHours"`
	ExpenseCount       int     `json:"expenseCount"`
	TimesheetCount     int     `json:"timesheetCount"`
	CommunicationCount int     `json:"communicationCount"`
	ProjectCount       int     `json:"projectCount"`
	TaskCount          int     `json:"taskCount"`

	LastExpense       *time.Time `json:"lastExpense,omitempty"`
	LastTimesheet     *time.Time `json:"lastTimesheet,omitempty"`
	LastCommunication *time.Time `json:"lastCommunication,omitempty"`
	LastProject       *time.Time `json:"lastProject,omitempty"`
	LastTask          *time.Time `json:"lastTask,omitempty"`

	Recommendations []string  `json:"recommendations"`
	DetectedAt      time.Time `json:"detectedAt"`

	IsResolved      bool       `json:"isResolved"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
	ResolutionNotes string     `json:"resolutionNotes,omitempty"`
	ResolutionType  string     `json:"resolutionType,omitempty"`
}
