package detector

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/shopspring/decimal"
)

// Approval-threshold evasion band for same-day totals.
var (
	splitBandLow  = decimal.NewFromInt(800)
	splitBandHigh = decimal.NewFromInt(1000)
)

// TransactionSource lists vendor transactions.
type TransactionSource interface {
	ListTransactions(ctx context.Context, companyID string, since time.Time) ([]domain.Transaction, error)
}

// SplitRules scores same-vendor same-day clusters.
var SplitRules = []domain.ScoreRule{
	{ID: "split-total-900", Description: "Total just under 1,000", Expression: "total >= 900.0 && total < 1000.0", Points: 40},
	{ID: "split-total-800", Description: "Total between 800 and 900", Expression: "total >= 800.0 && total < 900.0", Points: 30},
	{ID: "split-count-3", Description: "Three or more parts", Expression: "count >= 3", Points: 30},
	{ID: "split-count-5", Description: "Five or more parts", Expression: "count >= 5", Points: 20},
	{ID: "split-same-day", Description: "Same-day clustering", Expression: "true", Points: 10},
}

var splitVars = []rules.Variable{
	{Name: "total", Type: cel.DoubleType},
	{Name: "count", Type: cel.IntType},
}

// SplitSeverity bands the combined total, not the score.
var SplitSeverity = rules.MustSeverityLadder(domain.SeverityLow,
	domain.SeverityBand{Min: 900, Severity: domain.SeverityHigh},
	domain.SeverityBand{Min: 800, Severity: domain.SeverityMedium},
)

// SplitDetector flags payments split to stay under an approval threshold.
type SplitDetector struct {
	base
	source TransactionSource
	rules  *rules.RuleSet
}

// NewSplitDetector creates a split transaction detector.
func NewSplitDetector(source TransactionSource, store Store, cfg domain.DetectionConfig) *SplitDetector {
	return &SplitDetector{
		base:   newBase(store, cfg),
		source: source,
		rules:  rules.MustRuleSet(string(domain.FraudSplitTransaction), splitVars, SplitRules),
	}
}

// Type implements Detector.
func (d *SplitDetector) Type() domain.FraudType {
	return domain.FraudSplitTransaction
}

type splitGroup struct {
	vendorID   string
	vendorName string
	day        string
	txs        []domain.Transaction
	total      decimal.Decimal
}

// Detect implements Detector.
func (d *SplitDetector) Detect(ctx context.Context, companyID string) ([]*domain.Detection, error) {
	if err := requireCompany(companyID); err != nil {
		return nil, err
	}

	txs, err := d.source.ListTransactions(ctx, companyID, d.daysAgo(d.cfg.SplitWindowDays))
	if err != nil {
		return nil, domain.Upstream("list transactions", err)
	}

	findings := make([]finding, 0)
	for _, g := range groupByVendorDay(txs) {
		if len(g.txs) < 2 || g.total.LessThan(splitBandLow) || g.total.GreaterThan(splitBandHigh) {
			continue
		}

		total := g.total.InexactFloat64()
		score, matched, err := d.rules.Score(map[string]any{
			"total": total,
			"count": int64(len(g.txs)),
		})
		if err != nil {
			return nil, err
		}

		ids := make([]string, len(g.txs))
		amounts := make([]float64, len(g.txs))
		for i, tx := range g.txs {
			ids[i] = tx.ID
			amounts[i] = tx.Amount
		}

		findings = append(findings, finding{
			fraudType:  domain.FraudSplitTransaction,
			entityType: domain.EntityTransaction,
			entityID:   g.txs[0].ID,
			severity:   SplitSeverity.Classify(total),
			description: fmt.Sprintf("Potential split transaction: %d payments to %s on %s totaling %s",
				len(g.txs), g.vendorName, g.day, g.total.StringFixed(2)),
			detail: map[string]any{
				"vendorId":         g.vendorID,
				"vendorName":       g.vendorName,
				"transactionDate":  g.day,
				"transactionCount": len(g.txs),
				"totalAmount":      total,
				"transactionIds":   ids,
				"amounts":          amounts,
			},
			score:   score,
			matched: matched,
		})
	}

	return d.persist(ctx, companyID, findings)
}

// groupByVendorDay groups transactions by vendor and UTC calendar day.
// Groups and their members are ordered deterministically.
func groupByVendorDay(txs []domain.Transaction) []*splitGroup {
	sorted := make([]domain.Transaction, len(txs))
	copy(sorted, txs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].TransactionDate.Equal(sorted[j].TransactionDate) {
			return sorted[i].TransactionDate.Before(sorted[j].TransactionDate)
		}
		return sorted[i].ID < sorted[j].ID
	})

	groups := make(map[string]*splitGroup)
	order := make([]string, 0)
	for _, tx := range sorted {
		day := tx.TransactionDate.UTC().Format(time.DateOnly)
		key := tx.VendorID + "|" + day
		g, ok := groups[key]
		if !ok {
			g = &splitGroup{vendorID: tx.VendorID, vendorName: tx.VendorName, day: day}
			groups[key] = g
			order = append(order, key)
		}
		g.txs = append(g.txs, tx)
		g.total = g.total.Add(decimal.NewFromFloat(tx.Amount))
	}

	out := make([]*splitGroup, 0, len(order))
	for _, key := range order {
		out = append(out, groups[key])
	}
	return out
}
