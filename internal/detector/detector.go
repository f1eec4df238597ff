// Package detector implements the heuristic fraud detectors.
//
// Every detector follows the same shape: query candidates over a bounded
// window, select, score through a declarative rule table, band severity and
// persist one Detection per candidate. Runs are not deduplicated against
// earlier runs; each run appends fresh rows.
package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Store is the persistence the detectors write to.
type Store interface {
	SaveDetection(ctx context.Context, companyID string, d *domain.Detection) error
}

// GhostReportStore additionally persists ghost employee reports.
type GhostReportStore interface {
	Store
	SaveGhostReport(ctx context.Context, companyID string, r *domain.GhostEmployeeReport) error
}

// Detector is one heuristic. When Detect fails after saving some detections
// it returns them alongside the error.
type Detector interface {
	Type() domain.FraudType
	Detect(ctx context.Context, companyID string) ([]*domain.Detection, error)
}

// Detail keys shared by all detectors.
const (
	detailMatchedRules = "matchedRules"
)

type base struct {
	store Store
	cfg   domain.DetectionConfig
	now   func() time.Time
}

func newBase(store Store, cfg domain.DetectionConfig) base {
	return base{
		store: store,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (b *base) setClock(now func() time.Time) {
	b.now = now
}

func (b *base) daysAgo(days int) time.Time {
	return b.now().AddDate(0, 0, -days)
}

func requireCompany(companyID string) error {
	if companyID == "" {
		return fmt.Errorf("%w: companyID is required", domain.ErrValidation)
	}
	return nil
}

// finding is a scored candidate before persistence.
type finding struct {
	fraudType   domain.FraudType
	entityType  domain.EntityType
	entityID    string
	severity    domain.Severity
	description string
	detail      map[string]any
	score       int
	matched     []string
}

func (f finding) detection(companyID string, at time.Time) *domain.Detection {
	detail := make(map[string]any, len(f.detail)+2)
	for k, v := range f.detail {
		detail[k] = v
	}
	detail[domain.DetailRiskScore] = f.score
	detail[detailMatchedRules] = f.matched

	return &domain.Detection{
		ID:          uuid.New().String(),
		CompanyID:   companyID,
		FraudType:   f.fraudType,
		EntityType:  f.entityType,
		EntityID:    f.entityID,
		Severity:    f.severity,
		Description: f.description,
		Detail:      detail,
		DetectedAt:  at,
	}
}

// persist stores one detection per finding, stopping at the first failure.
func (b *base) persist(ctx context.Context, companyID string, findings []finding) ([]*domain.Detection, error) {
	return b.persistWith(ctx, companyID, findings, nil)
}

// persistWith saves findings in order and runs after on each saved detection.
// On failure it returns the detections saved so far with the error.
func (b *base) persistWith(ctx context.Context, companyID string, findings []finding, after func(i int, d *domain.Detection) error) ([]*domain.Detection, error) {
	at := b.now()
	out := make([]*domain.Detection, 0, len(findings))
	for i, f := range findings {
		d := f.detection(companyID, at)
		if err := b.store.SaveDetection(ctx, companyID, d); err != nil {
			return out, fmt.Errorf("failed to save %s detection: %w", f.fraudType, err)
		}
		out = append(out, d)
		if after != nil {
			if err := after(i, d); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

func formatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
