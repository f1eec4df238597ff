// Package metrics exposes Prometheus metrics for detector runs and findings.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Run outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Collector owns a private registry so tests and embedded uses never collide
// with the global one.
type Collector struct {
	registry *prometheus.Registry

	detections  *prometheus.CounterVec
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	riskScore   prometheus.Histogram
	benford     *prometheus.CounterVec
	resolutions *prometheus.CounterVec
}

// NewCollector creates a collector with Go runtime and process metrics registered.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(registry)

	return &Collector{
		registry: registry,
		detections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_detections_total",
			Help: "Detections created, by fraud type and severity.",
		}, []string{"fraud_type", "severity"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_detector_runs_total",
			Help: "Detector and analyzer runs, by outcome.",
		}, []string{"detector", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kestrel_detector_duration_seconds",
			Help:    "Time taken by one detector or analyzer run.",
			Buckets: prometheus.DefBuckets,
		}, []string{"detector"}),
		riskScore: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "kestrel_risk_score",
			Help:    "Distribution of detection risk scores.",
			Buckets: []float64{0, 20, 40, 60, 80, 100},
		}),
		benford: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_benford_analyses_total",
			Help: "Benford analyses persisted, by data type and significance.",
		}, []string{"data_type", "significant"}),
		resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_resolutions_total",
			Help: "Resolved findings, by fraud type and resolution type.",
		}, []string{"fraud_type", "resolution_type"}),
	}
}

// ObserveRun records one run of a detector or analyzer.
func (c *Collector) ObserveRun(detector string, elapsed time.Duration, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	c.runs.WithLabelValues(detector, outcome).Inc()
	c.duration.WithLabelValues(detector).Observe(elapsed.Seconds())
}

// RecordDetections counts created detections and their risk scores.
func (c *Collector) RecordDetections(detections []*domain.Detection) {
	for _, d := range detections {
		c.detections.WithLabelValues(string(d.FraudType), string(d.Severity)).Inc()
		c.riskScore.Observe(float64(d.RiskScore()))
	}
}

// RecordBenford counts a persisted Benford analysis.
func (c *Collector) RecordBenford(a *domain.BenfordAnalysis) {
	c.benford.WithLabelValues(string(a.DataType), strconv.FormatBool(a.IsSignificant)).Inc()
}

// RecordResolution counts a resolved finding.
func (c *Collector) RecordResolution(fraudType domain.FraudType, resolutionType string) {
	c.resolutions.WithLabelValues(string(fraudType), resolutionType).Inc()
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
