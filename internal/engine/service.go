// Package engine is the entry point of the detection engine. It wires the
// Benford analyzer, the heuristic detectors, the detection store and the
// reporter together with caching, events, metrics and tracing.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/benford"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/detector"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/report"
)

var tracer = otel.Tracer("kestrel-engine")

const (
	dashboardKey        = "dashboard"
	defaultDashboardTTL = time.Minute
)

// Store is everything the engine reads and writes.
type Store interface {
	domain.RecordRepository
	domain.DetectionStore
}

// Options configures optional collaborators. Nil collaborators are skipped.
type Options struct {
	Detection    domain.DetectionConfig
	Cache        domain.Cache
	Bus          domain.EventBus
	Metrics      *metrics.Collector
	DashboardTTL time.Duration

	// Now overrides the clock of every component.
	Now func() time.Time
}

// Service exposes the detection operations.
type Service struct {
	store    Store
	suite    *detector.Suite
	analyzer *benford.Analyzer
	reporter *report.Reporter
	validate *validator.Validate

	cache        domain.Cache
	bus          domain.EventBus
	metrics      *metrics.Collector
	dashboardTTL time.Duration
	maxParallel  int
	now          func() time.Time
}

// New creates a service over store.
func New(store Store, opts Options) *Service {
	cfg := opts.Detection
	if cfg == (domain.DetectionConfig{}) {
		cfg = domain.DefaultDetectionConfig()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector()
	}
	if opts.DashboardTTL <= 0 {
		opts.DashboardTTL = defaultDashboardTTL
	}
	maxParallel := cfg.MaxConcurrency
	if maxParallel <= 0 {
		maxParallel = len(domain.AllFraudTypes()) + len(domain.AllDataTypes())
	}

	s := &Service{
		store:        store,
		suite:        detector.NewSuite(store, store, cfg),
		analyzer:     benford.NewAnalyzer(store, store),
		reporter:     report.NewReporter(store),
		validate:     validator.New(),
		cache:        opts.Cache,
		bus:          opts.Bus,
		metrics:      opts.Metrics,
		dashboardTTL: opts.DashboardTTL,
		maxParallel:  maxParallel,
		now:          func() time.Time { return time.Now().UTC() },
	}

	if opts.Now != nil {
		s.now = opts.Now
		s.suite.SetClock(opts.Now)
		s.analyzer.WithClock(opts.Now)
		s.reporter.WithClock(opts.Now)
	}

	return s
}

// Metrics returns the service's collector.
func (s *Service) Metrics() *metrics.Collector {
	return s.metrics
}

// AnalyzeBenford runs and stores one Benford analysis.
func (s *Service) AnalyzeBenford(ctx context.Context, companyID string, dataType domain.DataType) (*domain.BenfordAnalysis, error) {
	ctx, span := tracer.Start(ctx, "benford.analyze", trace.WithAttributes(
		attribute.String("company_id", companyID),
		attribute.String("data_type", string(dataType)),
	))
	defer span.End()

	start := time.Now()
	analysis, err := s.analyzer.Analyze(ctx, companyID, dataType)
	s.metrics.ObserveRun("benford_"+string(dataType), time.Since(start), err)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("total_records", analysis.TotalRecords),
		attribute.Bool("significant", analysis.IsSignificant),
	)
	s.metrics.RecordBenford(analysis)
	s.invalidateDashboard(ctx, companyID)
	s.publish(ctx, companyID, domain.TopicBenfordCompleted, analysis)

	return analysis, nil
}

// DetectGhostEmployees runs the ghost employee detector.
func (s *Service) DetectGhostEmployees(ctx context.Context, companyID string) ([]*domain.Detection, error) {
	return s.detect(ctx, s.suite.Ghost, companyID)
}

// DetectSplitTransactions runs the split transaction detector.
func (s *Service) DetectSplitTransactions(ctx context.Context, companyID string) ([]*domain.Detection, error) {
	return s.detect(ctx, s.suite.Split, companyID)
}

// DetectDuplicateInvoices runs the duplicate invoice detector.
func (s *Service) DetectDuplicateInvoices(ctx context.Context, companyID string) ([]*domain.Detection, error) {
	return s.detect(ctx, s.suite.Duplicate, companyID)
}

// DetectRoundNumberTransactions runs the round-number detector.
func (s *Service) DetectRoundNumberTransactions(ctx context.Context, companyID string) ([]*domain.Detection, error) {
	return s.detect(ctx, s.suite.RoundNumber, companyID)
}

// VerifyVendors runs the vendor verification detector.
func (s *Service) VerifyVendors(ctx context.Context, companyID string) ([]*domain.Detection, error) {
	return s.detect(ctx, s.suite.Vendor, companyID)
}

// Detect runs the detector of the given fraud type.
func (s *Service) Detect(ctx context.Context, companyID string, fraudType domain.FraudType) ([]*domain.Detection, error) {
	for _, d := range s.suite.All() {
		if d.Type() == fraudType {
			return s.detect(ctx, d, companyID)
		}
	}
	return nil, fmt.Errorf("%w: unknown fraud type %q", domain.ErrValidation, fraudType)
}

func (s *Service) detect(ctx context.Context, d detector.Detector, companyID string) ([]*domain.Detection, error) {
	fraudType := d.Type()
	ctx, span := tracer.Start(ctx, "detector."+string(fraudType), trace.WithAttributes(
		attribute.String("company_id", companyID),
		attribute.String("fraud_type", string(fraudType)),
	))
	defer span.End()

	start := time.Now()
	detections, err := d.Detect(ctx, companyID)
	elapsed := time.Since(start)
	s.metrics.ObserveRun(string(fraudType), elapsed, err)

	// Detections saved before a failure are announced like any others.
	span.SetAttributes(attribute.Int("detections", len(detections)))
	s.metrics.RecordDetections(detections)
	if len(detections) > 0 {
		s.invalidateDashboard(ctx, companyID)
		for _, det := range detections {
			s.publish(ctx, companyID, domain.TopicDetectionCreated, detectionEvent(det))
		}
	}

	if err != nil {
		recordError(span, err)
		slog.Error("detector failed",
			"company_id", companyID,
			"fraud_type", fraudType,
			"saved", len(detections),
			"error", err,
		)
		return detections, err
	}

	slog.Info("detector completed",
		"company_id", companyID,
		"fraud_type", fraudType,
		"detections", len(detections),
		"duration_ms", elapsed.Milliseconds(),
	)

	return detections, nil
}

// Resolve closes an unresolved detection. The resolution is validated before
// anything is written. A second resolve fails with domain.ErrConflict.
func (s *Service) Resolve(ctx context.Context, companyID, detectionID string, res domain.Resolution) (*domain.Detection, error) {
	ctx, span := tracer.Start(ctx, "detection.resolve", trace.WithAttributes(
		attribute.String("company_id", companyID),
		attribute.String("detection_id", detectionID),
	))
	defer span.End()

	if err := s.validateResolution(companyID, detectionID, &res); err != nil {
		recordError(span, err)
		return nil, err
	}

	det, err := s.store.ResolveDetection(ctx, companyID, detectionID, res, s.now())
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	s.metrics.RecordResolution(det.FraudType, res.Type)
	s.invalidateDashboard(ctx, companyID)
	s.publish(ctx, companyID, domain.TopicDetectionResolved, detectionEvent(det))

	slog.Info("detection resolved",
		"company_id", companyID,
		"detection_id", detectionID,
		"fraud_type", det.FraudType,
		"resolution_type", res.Type,
	)

	return det, nil
}

// ResolveGhostReport closes an unresolved ghost employee report and the
// detection it was built from.
func (s *Service) ResolveGhostReport(ctx context.Context, companyID, reportID string, res domain.Resolution) (*domain.GhostEmployeeReport, error) {
	ctx, span := tracer.Start(ctx, "ghost_report.resolve", trace.WithAttributes(
		attribute.String("company_id", companyID),
		attribute.String("report_id", reportID),
	))
	defer span.End()

	if err := s.validateResolution(companyID, reportID, &res); err != nil {
		recordError(span, err)
		return nil, err
	}

	g, err := s.store.ResolveGhostReport(ctx, companyID, reportID, res, s.now())
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	s.metrics.RecordResolution(domain.FraudGhostEmployee, res.Type)
	s.invalidateDashboard(ctx, companyID)
	if det, err := s.store.GetDetection(ctx, companyID, g.DetectionID); err == nil {
		s.publish(ctx, companyID, domain.TopicDetectionResolved, detectionEvent(det))
	} else {
		slog.Warn("failed to load resolved ghost detection",
			"company_id", companyID,
			"detection_id", g.DetectionID,
			"error", err,
		)
	}

	slog.Info("ghost report resolved",
		"company_id", companyID,
		"report_id", reportID,
		"resolution_type", res.Type,
	)

	return g, nil
}

// validateResolution trims res in place and rejects it when incomplete.
func (s *Service) validateResolution(companyID, id string, res *domain.Resolution) error {
	if companyID == "" || id == "" {
		return fmt.Errorf("%w: companyID and id are required", domain.ErrValidation)
	}
	res.Type = strings.TrimSpace(res.Type)
	res.Notes = strings.TrimSpace(res.Notes)
	if err := s.validate.Struct(res); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrValidation, err.Error())
	}
	return nil
}

// GhostReports lists ghost employee reports from the last days.
func (s *Service) GhostReports(ctx context.Context, companyID string, days int) ([]*domain.GhostEmployeeReport, error) {
	if companyID == "" {
		return nil, fmt.Errorf("%w: companyID is required", domain.ErrValidation)
	}
	days, err := report.TrendDays(days)
	if err != nil {
		return nil, err
	}
	since := s.now().AddDate(0, 0, -days)
	return s.store.ListGhostReports(ctx, companyID, since, 0)
}

// BenfordReport returns a stored analysis with its interpretation.
func (s *Service) BenfordReport(ctx context.Context, companyID, analysisID string) (*domain.BenfordReport, error) {
	return s.analyzer.Report(ctx, companyID, analysisID)
}

// Dashboard returns the 30-day overview, cached per company.
func (s *Service) Dashboard(ctx context.Context, companyID string) (*domain.DashboardSummary, error) {
	if s.cache != nil && companyID != "" {
		var cached domain.DashboardSummary
		ok, err := cache.GetJSON(ctx, s.cache, companyID, dashboardKey, &cached)
		if err != nil {
			slog.Warn("dashboard cache read failed", "company_id", companyID, "error", err)
		}
		if ok {
			return &cached, nil
		}
	}

	summary, err := s.reporter.Dashboard(ctx, companyID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, companyID, dashboardKey, summary, s.dashboardTTL); err != nil {
			slog.Warn("dashboard cache write failed", "company_id", companyID, "error", err)
		}
	}

	return summary, nil
}

// Trends returns the day-bucketed detection series.
func (s *Service) Trends(ctx context.Context, companyID string, days int) (*domain.TrendSeries, error) {
	return s.reporter.Trends(ctx, companyID, days)
}

// BenfordTrends returns per-day Benford statistics.
func (s *Service) BenfordTrends(ctx context.Context, companyID string, days int) ([]domain.BenfordTrendPoint, error) {
	return s.reporter.BenfordTrends(ctx, companyID, days)
}

func (s *Service) invalidateDashboard(ctx context.Context, companyID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, companyID, dashboardKey); err != nil {
		slog.Warn("dashboard cache invalidation failed", "company_id", companyID, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, companyID, topic string, v any) {
	if s.bus == nil {
		return
	}
	if err := bus.PublishJSON(ctx, s.bus, companyID, topic, v); err != nil {
		slog.Warn("failed to publish event",
			"company_id", companyID,
			"topic", topic,
			"error", err,
		)
	}
}

func detectionEvent(d *domain.Detection) domain.DetectionEvent {
	return domain.DetectionEvent{
		DetectionID: d.ID,
		CompanyID:   d.CompanyID,
		FraudType:   d.FraudType,
		Severity:    d.Severity,
		RiskScore:   d.RiskScore(),
	}
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String("error.kind", domain.ErrorKind(err)))
}
