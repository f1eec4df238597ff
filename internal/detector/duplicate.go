package detector

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/shopspring/decimal"
)

// InvoiceSource lists invoices.
type InvoiceSource interface {
	ListInvoices(ctx context.Context, companyID string) ([]domain.Invoice, error)
}

// DuplicateRules scores groups of identical invoices.
var DuplicateRules = []domain.ScoreRule{
	{ID: "dup-count-3", Description: "Three or more copies", Expression: "count >= 3", Points: 40},
	{ID: "dup-count-2", Description: "Two copies", Expression: "count == 2", Points: 20},
	{ID: "dup-amount-10k", Description: "Amount of 10,000 or more", Expression: "amount >= 10000.0", Points: 30},
	{ID: "dup-amount-5k", Description: "Amount between 5,000 and 10,000", Expression: "amount >= 5000.0 && amount < 10000.0", Points: 20},
	{ID: "dup-recent-7", Description: "First copy within 7 days", Expression: "days_since_first <= 7", Points: 20},
	{ID: "dup-recent-30", Description: "First copy within 30 days", Expression: "days_since_first > 7 && days_since_first <= 30", Points: 10},
}

var duplicateVars = []rules.Variable{
	{Name: "count", Type: cel.IntType},
	{Name: "amount", Type: cel.DoubleType},
	{Name: "days_since_first", Type: cel.IntType},
}

// DuplicateSeverity bands the number of copies.
var DuplicateSeverity = rules.MustSeverityLadder(domain.SeverityLow,
	domain.SeverityBand{Min: 3, Severity: domain.SeverityHigh},
	domain.SeverityBand{Min: 2, Severity: domain.SeverityMedium},
)

// DuplicateDetector flags invoices billed more than once.
type DuplicateDetector struct {
	base
	source InvoiceSource
	rules  *rules.RuleSet
}

// NewDuplicateDetector creates a duplicate invoice detector.
func NewDuplicateDetector(source InvoiceSource, store Store, cfg domain.DetectionConfig) *DuplicateDetector {
	return &DuplicateDetector{
		base:   newBase(store, cfg),
		source: source,
		rules:  rules.MustRuleSet(string(domain.FraudDuplicateInvoice), duplicateVars, DuplicateRules),
	}
}

// Type implements Detector.
func (d *DuplicateDetector) Type() domain.FraudType {
	return domain.FraudDuplicateInvoice
}

// Detect implements Detector.
func (d *DuplicateDetector) Detect(ctx context.Context, companyID string) ([]*domain.Detection, error) {
	if err := requireCompany(companyID); err != nil {
		return nil, err
	}

	invoices, err := d.source.ListInvoices(ctx, companyID)
	if err != nil {
		return nil, domain.Upstream("list invoices", err)
	}

	now := d.now()
	findings := make([]finding, 0)
	for _, group := range groupDuplicates(invoices) {
		count := len(group)
		if count < 2 {
			continue
		}

		first := group[0]
		days := daysBetween(first.CreatedAt, now)
		score, matched, err := d.rules.Score(map[string]any{
			"count":            int64(count),
			"amount":           first.Amount,
			"days_since_first": int64(days),
		})
		if err != nil {
			return nil, err
		}

		ids := make([]string, count)
		for i, inv := range group {
			ids[i] = inv.ID
		}

		findings = append(findings, finding{
			fraudType:  domain.FraudDuplicateInvoice,
			entityType: domain.EntityInvoice,
			entityID:   first.ID,
			severity:   DuplicateSeverity.Classify(float64(count)),
			description: fmt.Sprintf("Duplicate invoice: %s from %s for %s appears %d times",
				first.InvoiceNumber, first.VendorName, decimal.NewFromFloat(first.Amount).StringFixed(2), count),
			detail: map[string]any{
				"vendorId":       first.VendorID,
				"vendorName":     first.VendorName,
				"invoiceNumber":  first.InvoiceNumber,
				"amount":         first.Amount,
				"duplicateCount": count,
				"invoiceIds":     ids,
				"firstCreatedAt": formatDate(first.CreatedAt),
				"daysSinceFirst": days,
			},
			score:   score,
			matched: matched,
		})
	}

	return d.persist(ctx, companyID, findings)
}

// groupDuplicates groups invoices by vendor, number and amount, skipping blank
// numbers. Each group is ordered oldest first.
func groupDuplicates(invoices []domain.Invoice) [][]domain.Invoice {
	groups := make(map[string][]domain.Invoice)
	order := make([]string, 0)
	for _, inv := range invoices {
		number := strings.TrimSpace(inv.InvoiceNumber)
		if number == "" {
			continue
		}
		key := inv.VendorID + "|" + number + "|" + decimal.NewFromFloat(inv.Amount).String()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], inv)
	}

	out := make([][]domain.Invoice, 0, len(order))
	for _, key := range order {
		g := groups[key]
		sort.SliceStable(g, func(i, j int) bool { return g[i].CreatedAt.Before(g[j].CreatedAt) })
		out = append(out, g)
	}
	return out
}
