package detector

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/opensource-finance/kestrel/internal/benford"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// RoundNumberFloor is the smallest amount the round-number detector considers.
const RoundNumberFloor = 5000.0

// RoundNumberRules scores suspiciously round payments.
var RoundNumberRules = []domain.ScoreRule{
	{ID: "round-amount-10k", Description: "Amount of 10,000 or more", Expression: "amount >= 10000.0", Points: 40},
	{ID: "round-amount-5k", Description: "Amount between 5,000 and 10,000", Expression: "amount >= 5000.0 && amount < 10000.0", Points: 20},
	{ID: "round-suffix-0000", Description: "Ends in 0000", Expression: "suffix == '0000'", Points: 30},
	{ID: "round-suffix-000", Description: "Ends in 000", Expression: "suffix == '000'", Points: 20},
	{ID: "round-suffix-500", Description: "Ends in 500", Expression: "suffix == '500'", Points: 10},
}

var roundNumberVars = []rules.Variable{
	{Name: "amount", Type: cel.DoubleType},
	{Name: "suffix", Type: cel.StringType},
}

// RoundNumberSeverity bands the amount.
var RoundNumberSeverity = rules.MustSeverityLadder(domain.SeverityLow,
	domain.SeverityBand{Min: 10000, Severity: domain.SeverityHigh},
	domain.SeverityBand{Min: 5000, Severity: domain.SeverityMedium},
)

// RoundNumberDetector flags large payments with round amounts.
type RoundNumberDetector struct {
	base
	source TransactionSource
	rules  *rules.RuleSet
}

// NewRoundNumberDetector creates a round-number transaction detector.
func NewRoundNumberDetector(source TransactionSource, store Store, cfg domain.DetectionConfig) *RoundNumberDetector {
	return &RoundNumberDetector{
		base:   newBase(store, cfg),
		source: source,
		rules:  rules.MustRuleSet(string(domain.FraudRoundNumber), roundNumberVars, RoundNumberRules),
	}
}

// Type implements Detector.
func (d *RoundNumberDetector) Type() domain.FraudType {
	return domain.FraudRoundNumber
}

// RoundSuffix returns the most specific round suffix of the canonical amount
// string ("0000", "000" or "500"), or "" when the amount is not round.
func RoundSuffix(amount float64) string {
	s := benford.Canonical(amount)
	switch {
	case strings.HasSuffix(s, "0000"):
		return "0000"
	case strings.HasSuffix(s, "000"):
		return "000"
	case strings.HasSuffix(s, "500"):
		return "500"
	default:
		return ""
	}
}

// Detect implements Detector.
func (d *RoundNumberDetector) Detect(ctx context.Context, companyID string) ([]*domain.Detection, error) {
	if err := requireCompany(companyID); err != nil {
		return nil, err
	}

	txs, err := d.source.ListTransactions(ctx, companyID, d.daysAgo(d.cfg.RoundNumberWindowDays))
	if err != nil {
		return nil, domain.Upstream("list transactions", err)
	}

	findings := make([]finding, 0)
	for _, tx := range txs {
		if tx.Amount < RoundNumberFloor {
			continue
		}
		suffix := RoundSuffix(tx.Amount)
		if suffix == "" {
			continue
		}

		score, matched, err := d.rules.Score(map[string]any{
			"amount": tx.Amount,
			"suffix": suffix,
		})
		if err != nil {
			return nil, err
		}

		amount := benford.Canonical(tx.Amount)
		findings = append(findings, finding{
			fraudType:   domain.FraudRoundNumber,
			entityType:  domain.EntityTransaction,
			entityID:    tx.ID,
			severity:    RoundNumberSeverity.Classify(tx.Amount),
			description: fmt.Sprintf("Round-number transaction of %s to %s", amount, tx.VendorName),
			detail: map[string]any{
				"vendorId":        tx.VendorID,
				"vendorName":      tx.VendorName,
				"amount":          tx.Amount,
				"canonicalAmount": amount,
				"roundSuffix":     suffix,
				"transactionDate": formatDate(tx.TransactionDate),
				"description":     tx.Description,
			},
			score:   score,
			matched: matched,
		})
	}

	return d.persist(ctx, companyID, findings)
}
