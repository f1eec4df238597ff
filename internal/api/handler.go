package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Service is the detection surface exposed over HTTP.
type Service interface {
	AnalyzeBenford(ctx context.Context, companyID string, dataType domain.DataType) (*domain.BenfordAnalysis, error)
	BenfordReport(ctx context.Context, companyID, analysisID string) (*domain.BenfordReport, error)
	BenfordTrends(ctx context.Context, companyID string, days int) ([]domain.BenfordTrendPoint, error)
	Detect(ctx context.Context, companyID string, fraudType domain.FraudType) ([]*domain.Detection, error)
	RunComprehensive(ctx context.Context, companyID string) (*domain.ComprehensiveResult, error)
	Resolve(ctx context.Context, companyID, detectionID string, res domain.Resolution) (*domain.Detection, error)
	GhostReports(ctx context.Context, companyID string, days int) ([]*domain.GhostEmployeeReport, error)
	ResolveGhostReport(ctx context.Context, companyID, reportID string, res domain.Resolution) (*domain.GhostEmployeeReport, error)
	Dashboard(ctx context.Context, companyID string) (*domain.DashboardSummary, error)
	Trends(ctx context.Context, companyID string, days int) (*domain.TrendSeries, error)
}

// Pinger is a dependency checked by the health endpoints.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies for API handlers.
type Handler struct {
	svc     Service
	checks  map[string]Pinger
	version string
}

// NewHandler creates a new API handler. Nil checks are skipped.
func NewHandler(svc Service, checks map[string]Pinger, version string) *Handler {
	active := make(map[string]Pinger, len(checks))
	for name, p := range checks {
		if p != nil {
			active[name] = p
		}
	}
	return &Handler{
		svc:     svc,
		checks:  active,
		version: version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if len(h.failedChecks(r.Context())) > 0 {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns 503 until every dependency answers.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	failed := h.failedChecks(r.Context())
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ready":  false,
			"failed": failed,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ready": true,
	})
}

func (h *Handler) failedChecks(ctx context.Context) map[string]string {
	failed := make(map[string]string)
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			Logger(ctx).Warn("health check failed", "component", name, "error", err)
			failed[name] = err.Error()
		}
	}
	return failed
}

// Dashboard handles GET /dashboard.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Dashboard(r.Context(), GetCompanyID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Trends handles GET /trends?days=N.
func (h *Handler) Trends(w http.ResponseWriter, r *http.Request) {
	days, ok := queryDays(w, r)
	if !ok {
		return
	}
	series, err := h.svc.Trends(r.Context(), GetCompanyID(r.Context()), days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

// BenfordTrends handles GET /benford/trends?days=N.
func (h *Handler) BenfordTrends(w http.ResponseWriter, r *http.Request) {
	days, ok := queryDays(w, r)
	if !ok {
		return
	}
	points, err := h.svc.BenfordTrends(r.Context(), GetCompanyID(r.Context()), days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"points": points,
		"count":  len(points),
	})
}

// AnalyzeBenford handles POST /benford/{dataType}.
func (h *Handler) AnalyzeBenford(w http.ResponseWriter, r *http.Request) {
	dataType := domain.DataType(chi.URLParam(r, "dataType"))
	analysis, err := h.svc.AnalyzeBenford(r.Context(), GetCompanyID(r.Context()), dataType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, analysis)
}

// BenfordReport handles GET /benford/analyses/{id}.
func (h *Handler) BenfordReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.BenfordReport(r.Context(), GetCompanyID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Detect handles POST /detect/{fraudType}.
func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	fraudType := domain.FraudType(chi.URLParam(r, "fraudType"))
	detections, err := h.svc.Detect(r.Context(), GetCompanyID(r.Context()), fraudType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"detections": detections,
		"count":      len(detections),
	})
}

// Scan handles POST /scan, a synchronous comprehensive run.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.RunComprehensive(r.Context(), GetCompanyID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result":  result,
		"summary": result.Summary(),
	})
}

// ResolveDetection handles POST /detections/{id}/resolve.
func (h *Handler) ResolveDetection(w http.ResponseWriter, r *http.Request) {
	res, ok := decodeResolution(w, r)
	if !ok {
		return
	}
	det, err := h.svc.Resolve(r.Context(), GetCompanyID(r.Context()), chi.URLParam(r, "id"), res)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, det)
}

// GhostReports handles GET /ghost-reports?days=N.
func (h *Handler) GhostReports(w http.ResponseWriter, r *http.Request) {
	days, ok := queryDays(w, r)
	if !ok {
		return
	}
	reports, err := h.svc.GhostReports(r.Context(), GetCompanyID(r.Context()), days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reports": reports,
		"count":   len(reports),
	})
}

// ResolveGhostReport handles POST /ghost-reports/{id}/resolve.
func (h *Handler) ResolveGhostReport(w http.ResponseWriter, r *http.Request) {
	res, ok := decodeResolution(w, r)
	if !ok {
		return
	}
	report, err := h.svc.ResolveGhostReport(r.Context(), GetCompanyID(r.Context()), chi.URLParam(r, "id"), res)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func decodeResolution(w http.ResponseWriter, r *http.Request) (domain.Resolution, bool) {
	var res domain.Resolution
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return res, false
	}
	return res, true
}

// queryDays reads the optional days parameter. Zero selects the default window.
func queryDays(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return 0, true
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "days must be a non-negative integer",
		})
		return 0, false
	}
	return days, true
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch domain.ErrorKind(err) {
	case domain.KindValidation, domain.KindUnsupportedDataType:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindNoData:
		return http.StatusUnprocessableEntity
	case domain.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		Logger(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	body := map[string]string{
		"error": err.Error(),
		"kind":  domain.ErrorKind(err),
	}
	if traceID := GetTraceID(r.Context()); traceID != "" {
		body["traceId"] = traceID
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
