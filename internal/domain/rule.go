package domain

// ScoreRule is one row of a detector's declarative scoring table.
// When Expression evaluates to true the rule contributes Points.
type ScoreRule struct {
	ID          string `json:"id"`
	Description string `json:"description"`

	// CEL expression to evaluate, must return bool
	Expression string `json:"expression"`

	Points int `json:"points"`
}

// SeverityBand maps values at or above Min to a severity.
type SeverityBand struct {
	Min      float64  `json:"min"`
	Severity Severity `json:"severity"`
}

// MaxRiskScore is the ceiling every composite score is clamped to.
const MaxRiskScore = 100
