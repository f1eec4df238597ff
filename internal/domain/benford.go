package domain

import "time"

// DataType selects the amount sample a Benford analysis runs over.
type DataType string

const (
	DataTransactions DataType = "transactions"
	DataExpenses     DataType = "expenses"
	DataInvoices     DataType = "invoices"
	DataPayments     DataType = "payments"
)

// AllDataTypes lists the supported Benford samples.
func AllDataTypes() []DataType {
	return []DataType{DataTransactions, DataExpenses, DataInvoices, DataPayments}
}

// Valid reports whether t names a supported sample.
func (t DataType) Valid() bool {
	switch t {
	case DataTransactions, DataExpenses, DataInvoices, DataPayments:
		return true
	}
	return false
}

// BenfordDegreesOfFreedom is fixed: nine leading digits, one constraint.
const BenfordDegreesOfFreedom = 8

// BenfordAnalysis is one immutable statistical run over one data type.
type BenfordAnalysis struct {
	ID                  string         `json:"id"`
	CompanyID           string         `json:"companyId"`
	DataType            DataType       `json:"dataType"`
	TotalRecords        int            `json:"totalRecords"`
	BenfordDistribution []float64      `json:"benfordDistribution"`
	ActualDistribution  []float64      `json:"actualDistribution"`
	ChiSquareStatistic  float64        `json:"chiSquareStatistic"`
	DegreesOfFreedom    int            `json:"degreesOfFreedom"`
	PValue              float64        `json:"pValue"`
	IsSignificant       bool           `json:"isSignificant"`
	ConfidenceLevel     float64        `json:"confidenceLevel"`
	Anomalies           []DigitAnomaly `json:"anomalies"`
	AnalyzedAt          time.Time      `json:"analyzedAt"`
}

// DigitAnomaly is a leading digit whose frequency strays from Benford's Law.
type DigitAnomaly struct {
	Digit               int      `json:"digit"`
	Expected            float64  `json:"expected"`
	Actual              float64  `json:"actual"`
	Deviation           float64  `json:"deviation"`
	PercentageDeviation float64  `json:"percentageDeviation"`
	Severity            Severity `json:"severity"`
}

// BenfordInterpretation is the reviewer-facing reading of an analysis.
type BenfordInterpretation struct {
	OverallAssessment string   `json:"overallAssessment"`
	RiskLevel         string   `json:"riskLevel"`
	Recommendations   []string `json:"recommendations"`
}

// BenfordReport pairs a stored analysis with its interpretation.
type BenfordReport struct {
	Analysis       *BenfordAnalysis      `json:"analysis"`
	Interpretation BenfordInterpretation `json:"interpretation"`
}
