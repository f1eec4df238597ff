package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	// CompanyIDHeader names the company every scoped request acts for.
	CompanyIDHeader = "X-Company-ID"

	// RequestIDHeader is echoed back, or generated when absent.
	RequestIDHeader = "X-Request-ID"

	// TraceIDHeader carries the span's trace ID, or the request ID without a tracer.
	TraceIDHeader = "X-Trace-ID"
)

var tracer = otel.Tracer("kestrel-api")

type scopeKey struct{}

// requestScope carries request identity down the middleware stack. The
// company is filled in by CompanyMiddleware once routing reaches a scoped
// group, so outer middleware reads it after the handler returns.
type requestScope struct {
	requestID string
	traceID   string
	companyID string
	span      trace.Span
}

func scopeFrom(ctx context.Context) *requestScope {
	s, _ := ctx.Value(scopeKey{}).(*requestScope)
	return s
}

// TracingMiddleware opens the request span and the request scope. The span
// is renamed to the matched route once the handler returns.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
				attribute.String("request.id", requestID),
			),
		)
		defer span.End()

		scope := &requestScope{requestID: requestID, traceID: requestID, span: span}
		if sc := span.SpanContext(); sc.TraceID().IsValid() {
			scope.traceID = sc.TraceID().String()
		}

		w.Header().Set(RequestIDHeader, scope.requestID)
		w.Header().Set(TraceIDHeader, scope.traceID)

		rw := wrap(w)
		next.ServeHTTP(rw, r.WithContext(context.WithValue(ctx, scopeKey{}, scope)))

		if rc := chi.RouteContext(r.Context()); rc != nil {
			if pattern := rc.RoutePattern(); pattern != "" {
				span.SetName(r.Method + " " + pattern)
				span.SetAttributes(attribute.String("http.route", pattern))
			}
		}
		span.SetAttributes(attribute.Int("http.status_code", rw.statusCode))
		if rw.statusCode >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rw.statusCode))
		}
	})
}

// CompanyMiddleware requires the X-Company-ID header and records the company
// on the request scope and span.
func CompanyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		companyID := r.Header.Get(CompanyIDHeader)
		if companyID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": CompanyIDHeader + " header is required",
				"kind":  domain.KindValidation,
			})
			return
		}

		ctx := r.Context()
		scope := scopeFrom(ctx)
		if scope == nil {
			scope = &requestScope{span: trace.SpanFromContext(ctx)}
			ctx = context.WithValue(ctx, scopeKey{}, scope)
		}
		scope.companyID = companyID
		scope.span.SetAttributes(attribute.String("company_id", companyID))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware writes one structured line per request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := wrap(w)

		next.ServeHTTP(rw, r)

		level := slog.LevelInfo
		if rw.statusCode >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		Logger(r.Context()).Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// CORSMiddleware answers preflight requests and exposes the tracing headers.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if origin := r.Header.Get("Origin"); origin != "" {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		} else {
			h.Set("Access-Control-Allow-Origin", "*")
		}
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+CompanyIDHeader+", "+RequestIDHeader)
		h.Set("Access-Control-Expose-Headers", RequestIDHeader+", "+TraceIDHeader)
		h.Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RecoverMiddleware turns a handler panic into a 500.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				Logger(r.Context()).Error("panic recovered", "error", rec, "path", r.URL.Path)
				writeJSON(w, http.StatusInternalServerError, map[string]string{
					"error": "internal server error",
					"kind":  domain.KindInternal,
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func wrap(w http.ResponseWriter) *statusRecorder {
	if rw, ok := w.(*statusRecorder); ok {
		return rw
	}
	return &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// GetCompanyID returns the company of a scoped request, or "".
func GetCompanyID(ctx context.Context) string {
	if s := scopeFrom(ctx); s != nil {
		return s.companyID
	}
	return ""
}

// GetTraceID returns the request's trace ID, or "".
func GetTraceID(ctx context.Context) string {
	if s := scopeFrom(ctx); s != nil {
		return s.traceID
	}
	return ""
}

// Logger returns the default logger annotated with the request scope.
func Logger(ctx context.Context) *slog.Logger {
	s := scopeFrom(ctx)
	if s == nil {
		return slog.Default()
	}
	attrs := []any{"request_id", s.requestID, "trace_id", s.traceID}
	if s.companyID != "" {
		attrs = append(attrs, "company_id", s.companyID)
	}
	return slog.Default().With(attrs...)
}
