// Package benford implements first-digit analysis against Benford's Law.
package benford

import (
	"math"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

// AnomalyThreshold is the relative deviation, in percent, above which a digit is flagged.
const AnomalyThreshold = 10.0

// SignificanceLevel is the p-value below which a sample deviates from Benford's Law.
const SignificanceLevel = 0.05

// ConfidenceLevel is recorded on every analysis.
const ConfidenceLevel = 0.95

var expected = func() [9]float64 {
	var dist [9]float64
	for d := 1; d <= 9; d++ {
		dist[d-1] = math.Log10(1 + 1/float64(d))
	}
	return dist
}()

// ExpectedDistribution returns the Benford probabilities for digits 1 to 9.
func ExpectedDistribution() []float64 {
	out := make([]float64, 9)
	copy(out, expected[:])
	return out
}

// Canonical renders |amount| as a fixed-point decimal string with no exponent.
func Canonical(amount float64) string {
	return decimal.NewFromFloat(amount).Abs().String()
}

// LeadingDigit returns the first significant digit of amount, or 0 when the
// amount has none (zero, NaN or infinity).
func LeadingDigit(amount float64) int {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0
	}
	s := strings.TrimLeft(Canonical(amount), "0.")
	if s == "" {
		return 0
	}
	c := s[0]
	if c < '1' || c > '9' {
		return 0
	}
	return int(c - '0')
}

// Result is the statistical part of an analysis, independent of storage.
type Result struct {
	TotalRecords int
	Expected     []float64
	Actual       []float64
	ChiSquare    float64
	PValue       float64
	Significant  bool
	Anomalies    []domain.DigitAnomaly
}

// Evaluate runs the goodness-of-fit test over amounts. Non-positive amounts
// are dropped first; an empty remainder fails with domain.ErrNoData.
func Evaluate(amounts []float64) (*Result, error) {
	var counts [9]int
	total := 0
	counted := 0
	for _, a := range amounts {
		if !(a > 0) || math.IsInf(a, 0) {
			continue
		}
		total++
		if d := LeadingDigit(a); d > 0 {
			counts[d-1]++
			counted++
		}
	}

	if total == 0 || counted == 0 {
		return nil, domain.ErrNoData
	}

	actual := make([]float64, 9)
	for i, c := range counts {
		actual[i] = float64(c) / float64(counted)
	}

	chi := ChiSquare(actual, total)
	p := PValue(chi)

	return &Result{
		TotalRecords: total,
		Expected:     ExpectedDistribution(),
		Actual:       actual,
		ChiSquare:    chi,
		PValue:       p,
		Significant:  p < SignificanceLevel,
		Anomalies:    Anomalies(actual),
	}, nil
}

// ChiSquare computes the statistic over observed proportions scaled by n records.
func ChiSquare(actual []float64, n int) float64 {
	var chi float64
	for i := 0; i < 9 && i < len(actual); i++ {
		obs := actual[i] * float64(n)
		exp := expected[i] * float64(n)
		chi += (obs - exp) * (obs - exp) / exp
	}
	return chi
}

// pTable approximates the chi-square survival function at 8 degrees of freedom.
var pTable = []struct {
	below float64
	p     float64
}{
	{2.73, 0.95},
	{5.31, 0.90},
	{7.78, 0.80},
	{9.49, 0.70},
	{11.07, 0.60},
	{12.59, 0.50},
	{14.07, 0.40},
	{15.51, 0.30},
	{16.92, 0.20},
	{18.31, 0.10},
	{19.68, 0.05},
	{21.03, 0.02},
	{22.36, 0.01},
}

// PValue maps a chi-square statistic to its tabulated p-value.
func PValue(chi float64) float64 {
	for _, row := range pTable {
		if chi < row.below {
			return row.p
		}
	}
	return 0.001
}

// Anomalies flags digits whose relative deviation exceeds AnomalyThreshold.
func Anomalies(actual []float64) []domain.DigitAnomaly {
	out := make([]domain.DigitAnomaly, 0)
	for i := 0; i < 9 && i < len(actual); i++ {
		dev := math.Abs(actual[i] - expected[i])
		pct := dev / expected[i] * 100
		if pct <= AnomalyThreshold {
			continue
		}
		out = append(out, domain.DigitAnomaly{
			Digit:               i + 1,
			Expected:            expected[i],
			Actual:              actual[i],
			Deviation:           dev,
			PercentageDeviation: pct,
			Severity:            anomalySeverity(pct),
		})
	}
	return out
}

func anomalySeverity(pct float64) domain.Severity {
	switch {
	case pct > 50:
		return domain.SeverityHigh
	case pct > 25:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// Interpret produces the reviewer-facing reading of an analysis.
func Interpret(a *domain.BenfordAnalysis) domain.BenfordInterpretation {
	if !a.IsSignificant {
		return domain.BenfordInterpretation{
			OverallAssessment: "Data follows Benford's Law distribution",
			RiskLevel:         "low",
			Recommendations: []string{
				"Continue monitoring for changes",
				"Maintain current data quality standards",
			},
		}
	}

	in := domain.BenfordInterpretation{
		OverallAssessment: "Significant deviation from Benford's Law detected",
		RiskLevel:         "high",
		Recommendations: []string{
			"Investigate potential data manipulation",
			"Review data entry processes",
			"Consider additional fraud detection measures",
		},
	}
	if a.PValue < 0.01 {
		in.RiskLevel = "critical"
		in.Recommendations = append(in.Recommendations, "Immediate investigation required")
	}
	return in
}
