// Package report aggregates persisted findings into dashboards and trend series.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	// DashboardWindowDays is the window covered by Dashboard.
	DashboardWindowDays = 30

	// RecentLimit is the number of detections listed on the dashboard.
	RecentLimit = 20

	// DefaultTrendDays is used when a trend request asks for zero or fewer days.
	DefaultTrendDays = 30

	// MaxTrendDays is the longest trend window accepted.
	MaxTrendDays = 365

	unassignedDepartment = "Unassigned"
	dayLayout            = time.DateOnly
)

// Store is the read side of the detection store used for reporting.
type Store interface {
	ListDetections(ctx context.Context, companyID string, filter domain.DetectionFilter) ([]*domain.Detection, error)
	ListBenfordAnalyses(ctx context.Context, companyID string, since time.Time, limit int) ([]*domain.BenfordAnalysis, error)
	ListGhostReports(ctx context.Context, companyID string, since time.Time, limit int) ([]*domain.GhostEmployeeReport, error)
}

// Reporter builds dashboards and trends. It holds no state beyond its store.
type Reporter struct {
	store Store
	now   func() time.Time
}

// NewReporter creates a reporter over store.
func NewReporter(store Store) *Reporter {
	return &Reporter{store: store, now: time.Now}
}

// WithClock overrides the reporter's clock.
func (r *Reporter) WithClock(now func() time.Time) *Reporter {
	r.now = now
	return r
}

// TrendDays normalizes a requested trend window. Zero or fewer days selects
// DefaultTrendDays; more than MaxTrendDays is rejected.
func TrendDays(days int) (int, error) {
	if days <= 0 {
		return DefaultTrendDays, nil
	}
	if days > MaxTrendDays {
		return 0, fmt.Errorf("%w: trend window of %d days exceeds %d", domain.ErrValidation, days, MaxTrendDays)
	}
	return days, nil
}

// windowStart returns midnight UTC of the first day of a window ending today.
func windowStart(now time.Time, days int) time.Time {
	today := now.UTC().Truncate(24 * time.Hour)
	return today.AddDate(0, 0, -(days - 1))
}

func requireCompany(companyID string) error {
	if companyID == "" {
		return fmt.Errorf("%w: companyID is required", domain.ErrValidation)
	}
	return nil
}

// Dashboard returns the 30-day overview of a company's findings.
func (r *Reporter) Dashboard(ctx context.Context, companyID string) (*domain.DashboardSummary, error) {
	if err := requireCompany(companyID); err != nil {
		return nil, err
	}

	now := r.now().UTC()
	since := windowStart(now, DashboardWindowDays)

	detections, err := r.store.ListDetections(ctx, companyID, domain.DetectionFilter{Since: since})
	if err != nil {
		return nil, fmt.Errorf("list detections: %w", err)
	}
	recent, err := r.store.ListDetections(ctx, companyID, domain.DetectionFilter{Limit: RecentLimit})
	if err != nil {
		return nil, fmt.Errorf("list recent detections: %w", err)
	}
	analyses, err := r.store.ListBenfordAnalyses(ctx, companyID, since, 0)
	if err != nil {
		return nil, fmt.Errorf("list benford analyses: %w", err)
	}
	ghosts, err := r.store.ListGhostReports(ctx, companyID, since, 0)
	if err != nil {
		return nil, fmt.Errorf("list ghost reports: %w", err)
	}

	return &domain.DashboardSummary{
		CompanyID:        companyID,
		WindowDays:       DashboardWindowDays,
		GeneratedAt:      now,
		Stats:            Stats(detections),
		Summary:          Summarize(detections),
		RecentDetections: recent,
		Series:           Buckets(detections, since, DashboardWindowDays),
		Benford:          BenfordSummary(analyses),
		Departments:      Departments(ghosts),
	}, nil
}

// Trends returns a day-bucketed series of findings over the last days.
func (r *Reporter) Trends(ctx context.Context, companyID string, days int) (*domain.TrendSeries, error) {
	if err := requireCompany(companyID); err != nil {
		return nil, err
	}

	days, err := TrendDays(days)
	if err != nil {
		return nil, err
	}
	now := r.now().UTC()
	since := windowStart(now, days)

	detections, err := r.store.ListDetections(ctx, companyID, domain.DetectionFilter{Since: since})
	if err != nil {
		return nil, fmt.Errorf("list detections: %w", err)
	}

	return &domain.TrendSeries{
		CompanyID: companyID,
		Days:      days,
		From:      since,
		To:        now,
		Buckets:   Buckets(detections, since, days),
	}, nil
}

// BenfordTrends returns per-day, per-data-type Benford statistics, newest day first.
func (r *Reporter) BenfordTrends(ctx context.Context, companyID string, days int) ([]domain.BenfordTrendPoint, error) {
	if err := requireCompany(companyID); err != nil {
		return nil, err
	}

	days, err := TrendDays(days)
	if err != nil {
		return nil, err
	}
	since := windowStart(r.now(), days)
	analyses, err := r.store.ListBenfordAnalyses(ctx, companyID, since, 0)
	if err != nil {
		return nil, fmt.Errorf("list benford analyses: %w", err)
	}

	type key struct {
		date     string
		dataType domain.DataType
	}
	type acc struct {
		count, significant int
		chi, p             float64
	}

	cells := make(map[key]*acc)
	for _, a := range analyses {
		k := key{date: a.AnalyzedAt.UTC().Format(dayLayout), dataType: a.DataType}
		c, ok := cells[k]
		if !ok {
			c = &acc{}
			cells[k] = c
		}
		c.count++
		c.chi += a.ChiSquareStatistic
		c.p += a.PValue
		if a.IsSignificant {
			c.significant++
		}
	}

	points := make([]domain.BenfordTrendPoint, 0, len(cells))
	for k, c := range cells {
		points = append(points, domain.BenfordTrendPoint{
			Date:         k.date,
			DataType:     k.dataType,
			Analyses:     c.count,
			AvgChiSquare: c.chi / float64(c.count),
			AvgPValue:    c.p / float64(c.count),
			Significant:  c.significant,
		})
	}

	sort.Slice(points, func(i, j int) bool {
		if points[i].Date != points[j].Date {
			return points[i].Date > points[j].Date
		}
		return points[i].DataType < points[j].DataType
	})

	return points, nil
}

// Stats counts detections by type, severity and resolution state.
// Every known type and severity is present, zero when unseen.
func Stats(detections []*domain.Detection) domain.DetectionStats {
	stats := domain.DetectionStats{
		ByType:     make(map[domain.FraudType]int),
		BySeverity: make(map[domain.Severity]int),
	}
	for _, t := range domain.AllFraudTypes() {
		stats.ByType[t] = 0
	}
	for _, s := range domain.AllSeverities() {
		stats.BySeverity[s] = 0
	}

	for _, d := range detections {
		stats.Total++
		stats.ByType[d.FraudType]++
		stats.BySeverity[d.Severity]++
		if d.IsResolved {
			stats.Resolved++
		} else {
			stats.Unresolved++
		}
	}

	return stats
}

// Summarize groups detections by (fraud type, severity) with their mean risk score.
// Groups follow the fraud type order, then severity high to low.
func Summarize(detections []*domain.Detection) []domain.TypeSeveritySummary {
	type key struct {
		fraudType domain.FraudType
		severity  domain.Severity
	}

	totals := make(map[key]int)
	counts := make(map[key]int)
	for _, d := range detections {
		k := key{d.FraudType, d.Severity}
		counts[k]++
		totals[k] += d.RiskScore()
	}

	summary := make([]domain.TypeSeveritySummary, 0, len(counts))
	for k, n := range counts {
		summary = append(summary, domain.TypeSeveritySummary{
			FraudType:    k.fraudType,
			Severity:     k.severity,
			Count:        n,
			AvgRiskScore: float64(totals[k]) / float64(n),
		})
	}

	sort.Slice(summary, func(i, j int) bool {
		a, b := summary[i], summary[j]
		if a.FraudType != b.FraudType {
			return typeRank(a.FraudType) < typeRank(b.FraudType)
		}
		return severityRank(a.Severity) > severityRank(b.Severity)
	})

	return summary
}

// Buckets counts detections per UTC day for days consecutive days starting at since.
// Days without findings are present with zero counts.
func Buckets(detections []*domain.Detection, since time.Time, days int) []domain.DayBucket {
	buckets := make([]domain.DayBucket, days)
	index := make(map[string]int, days)
	for i := range buckets {
		date := since.AddDate(0, 0, i).Format(dayLayout)
		buckets[i].Date = date
		index[date] = i
	}

	for _, d := range detections {
		i, ok := index[d.DetectedAt.UTC().Format(dayLayout)]
		if !ok {
			continue
		}
		b := &buckets[i]
		b.Total++
		switch d.Severity {
		case domain.SeverityHigh:
			b.High++
		case domain.SeverityMedium:
			b.Medium++
		case domain.SeverityLow:
			b.Low++
		}
	}

	return buckets
}

// BenfordSummary aggregates Benford runs overall and per data type.
func BenfordSummary(analyses []*domain.BenfordAnalysis) domain.BenfordStats {
	stats := domain.BenfordStats{ByDataType: make(map[domain.DataType]domain.BenfordTypeStats)}
	for _, t := range domain.AllDataTypes() {
		stats.ByDataType[t] = domain.BenfordTypeStats{}
	}
	if len(analyses) == 0 {
		return stats
	}

	var chi, p float64
	chiByType := make(map[domain.DataType]float64)
	pByType := make(map[domain.DataType]float64)

	for _, a := range analyses {
		stats.TotalAnalyses++
		chi += a.ChiSquareStatistic
		p += a.PValue

		ts := stats.ByDataType[a.DataType]
		ts.Analyses++
		chiByType[a.DataType] += a.ChiSquareStatistic
		pByType[a.DataType] += a.PValue
		if a.IsSignificant {
			stats.SignificantAnalyses++
			ts.Significant++
		}
		if n := len(a.Anomalies); n > 0 {
			ts.WithAnomalies++
			if n > ts.MaxAnomalies {
				ts.MaxAnomalies = n
			}
		}
		if ts.LastAnalysisAt == nil || a.AnalyzedAt.After(*ts.LastAnalysisAt) {
			at := a.AnalyzedAt
			ts.LastAnalysisAt = &at
		}
		stats.ByDataType[a.DataType] = ts
	}

	stats.AvgChiSquare = chi / float64(stats.TotalAnalyses)
	stats.AvgPValue = p / float64(stats.TotalAnalyses)
	for t, ts := range stats.ByDataType {
		if ts.Analyses == 0 {
			continue
		}
		ts.AvgChiSquare = chiByType[t] / float64(ts.Analyses)
		ts.AvgPValue = pByType[t] / float64(ts.Analyses)
		stats.ByDataType[t] = ts
	}

	return stats
}

// Departments rolls unresolved ghost reports up by department, largest first.
func Departments(reports []*domain.GhostEmployeeReport) []domain.DepartmentRollup {
	byDept := make(map[string]*domain.DepartmentRollup)
	riskTotals := make(map[string]int)

	for _, g := range reports {
		if g.IsResolved {
			continue
		}
		dept := strings.TrimSpace(g.Department)
		if dept == "" {
			dept = unassignedDepartment
		}
		r, ok := byDept[dept]
		if !ok {
			r = &domain.DepartmentRollup{Department: dept}
			byDept[dept] = r
		}
		r.GhostCount++
		r.TotalSalaryAtRisk += g.Salary
		riskTotals[dept] += g.RiskScore
		switch g.ActivityStatus {
		case domain.ActivityNone:
			r.NoActivity++
		case domain.ActivityInactive90:
			r.Inactive90++
		case domain.ActivityInactive180:
			r.Inactive180++
		}
	}

	rollup := make([]domain.DepartmentRollup, 0, len(byDept))
	for dept, r := range byDept {
		r.AvgRiskScore = float64(riskTotals[dept]) / float64(r.GhostCount)
		rollup = append(rollup, *r)
	}

	sort.Slice(rollup, func(i, j int) bool {
		if rollup[i].GhostCount != rollup[j].GhostCount {
			return rollup[i].GhostCount > rollup[j].GhostCount
		}
		return rollup[i].Department < rollup[j].Department
	})

	return rollup
}

func typeRank(t domain.FraudType) int {
	for i, known := range domain.AllFraudTypes() {
		if t == known {
			return i
		}
	}
	return len(domain.AllFraudTypes())
}

func severityRank(s domain.Severity) int {
	for i, known := range domain.AllSeverities() {
		if s == known {
			return i
		}
	}
	return -1
}
