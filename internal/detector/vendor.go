package detector

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// VendorSource lists vendors with their transaction totals.
type VendorSource interface {
	ListVendorActivity(ctx context.Context, companyID string) ([]domain.VendorActivity, error)
}

// VendorRules scores vendors that cannot be verified.
var VendorRules = []domain.ScoreRule{
	{ID: "vendor-no-email", Description: "Missing email", Expression: "missing_email", Points: 25},
	{ID: "vendor-no-phone", Description: "Missing phone", Expression: "missing_phone", Points: 25},
	{ID: "vendor-no-address", Description: "Missing address", Expression: "missing_address", Points: 25},
	{ID: "vendor-volume-10k", Description: "Paid 10,000 or more", Expression: "total_amount >= 10000.0", Points: 25},
}

var vendorVars = []rules.Variable{
	{Name: "missing_email", Type: cel.BoolType},
	{Name: "missing_phone", Type: cel.BoolType},
	{Name: "missing_address", Type: cel.BoolType},
	{Name: "total_amount", Type: cel.DoubleType},
	{Name: "transaction_count", Type: cel.IntType},
}

// VendorSeverity is fixed for unverifiable vendors.
var VendorSeverity = rules.FixedSeverity(domain.SeverityMedium)

// VendorDetector flags paid vendors with incomplete contact details.
type VendorDetector struct {
	base
	source VendorSource
	rules  *rules.RuleSet
}

// NewVendorDetector creates a vendor verification detector.
func NewVendorDetector(source VendorSource, store Store, cfg domain.DetectionConfig) *VendorDetector {
	return &VendorDetector{
		base:   newBase(store, cfg),
		source: source,
		rules:  rules.MustRuleSet(string(domain.FraudSuspiciousVendor), vendorVars, VendorRules),
	}
}

// Type implements Detector.
func (d *VendorDetector) Type() domain.FraudType {
	return domain.FraudSuspiciousVendor
}

// Detect implements Detector.
func (d *VendorDetector) Detect(ctx context.Context, companyID string) ([]*domain.Detection, error) {
	if err := requireCompany(companyID); err != nil {
		return nil, err
	}

	vendors, err := d.source.ListVendorActivity(ctx, companyID)
	if err != nil {
		return nil, domain.Upstream("list vendor activity", err)
	}

	findings := make([]finding, 0)
	for _, v := range vendors {
		if v.TransactionCount < 1 {
			continue
		}
		missing := missingFields(&v.Vendor)
		if len(missing) == 0 {
			continue
		}

		score, matched, err := d.rules.Score(map[string]any{
			"missing_email":     isBlank(v.Email),
			"missing_phone":     isBlank(v.Phone),
			"missing_address":   isBlank(v.Address),
			"total_amount":      v.TotalAmount,
			"transaction_count": int64(v.TransactionCount),
		})
		if err != nil {
			return nil, err
		}

		detail := map[string]any{
			"vendorName":       v.Name,
			"missingFields":    missing,
			"transactionCount": v.TransactionCount,
			"totalAmount":      v.TotalAmount,
		}
		if v.LastTransaction != nil {
			detail["lastTransaction"] = formatDate(*v.LastTransaction)
		}

		findings = append(findings, finding{
			fraudType:  domain.FraudSuspiciousVendor,
			entityType: domain.EntityVendor,
			entityID:   v.ID,
			severity:   VendorSeverity.Classify(float64(score)),
			description: fmt.Sprintf("Unverified vendor %s is missing %s",
				v.Name, strings.Join(missing, ", ")),
			detail:  detail,
			score:   score,
			matched: matched,
		})
	}

	return d.persist(ctx, companyID, findings)
}

func missingFields(v *domain.Vendor) []string {
	missing := make([]string, 0, 3)
	if isBlank(v.Email) {
		missing = append(missing, "email")
	}
	if isBlank(v.Phone) {
		missing = append(missing, "phone")
	}
	if isBlank(v.Address) {
		missing = append(missing, "address")
	}
	return missing
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
