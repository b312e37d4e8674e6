package ingest

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/krishnamouli8/vantage/pkg/apperror"
	"github.com/krishnamouli8/vantage/pkg/config"
	"github.com/krishnamouli8/vantage/pkg/logger"
	"github.com/krishnamouli8/vantage/pkg/metrics"
	"github.com/krishnamouli8/vantage/pkg/telemetry"
)

// NewRouter builds the ingest gateway's route tree: correlation-ID →
// request-deadline → tracing → metrics → logging → panic recovery, then
// auth (when enabled), then the handlers themselves (admission control is
// handled inside HandleIngest so it can read the parsed identity).
func NewRouter(cfg *config.Config, gw *Gateway) http.Handler {
	r := chi.NewRouter()

	r.Use(correlationIDMiddleware)
	r.Use(requestDeadlineMiddleware(cfg.HTTP.RequestTimeout))
	r.Use(telemetry.Middleware)
	r.Use(httpMetricsMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if cfg.HTTP.AuthEnabled {
		r.Use(tokenAuthMiddleware(cfg.HTTP.APIKey))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/metrics", gw.HandleIngest)
		r.Get("/stats", gw.HandleStats)
	})

	r.Get("/healthz", gw.HandleHealthz)
	r.Get("/readyz", gw.HandleReadyz)
	r.Get("/live", gw.HandleHealthz)
	r.Handle("/metrics", metrics.Handler())

	return r
}

// correlationIDMiddleware propagates or generates X-Correlation-ID so every
// log line for a request can be joined across the gateway and worker.
func correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Correlation-ID", id)
		ctx := logger.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestDeadlineMiddleware bounds every request to d (default 30s),
// releasing in-flight publish/query work on the cancelled context.
func requestDeadlineMiddleware(d time.Duration) func(http.Handler) http.Handler {
	if d <= 0 {
		d = 30 * time.Second
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// tokenAuthMiddleware rejects requests missing X-API-Key or presenting one
// that does not match the configured key.
func tokenAuthMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/live" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("X-API-Key")
			if key == "" || key != apiKey {
				writeError(w, apperror.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// httpMetricsMiddleware records the self-instrumentation histogram/counter
// every request, regardless of outcome.
func httpMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m := metrics.Get()
		m.InFlightTracker.Start(r.Method)
		defer m.InFlightTracker.End(r.Method)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.RecordHTTPRequest(r.URL.Path, r.Method, httpStatusClass(rec.status), time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func httpStatusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
