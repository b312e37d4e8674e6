package query

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/krishnamouli8/vantage/internal/query/live"
	"github.com/krishnamouli8/vantage/pkg/apperror"
	"github.com/krishnamouli8/vantage/pkg/config"
	"github.com/krishnamouli8/vantage/pkg/logger"
	"github.com/krishnamouli8/vantage/pkg/metrics"
	"github.com/krishnamouli8/vantage/pkg/telemetry"
)

// NewRouter builds the query service's route tree, following the same
// middleware chain as the ingest gateway's router: correlation ID,
// request deadline, telemetry, metrics, logging, recovery, then optional
// token auth.
func NewRouter(cfg *config.Config, h *Handler, hub *live.Hub) http.Handler {
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

	r.Get("/api/metrics/timeseries", h.HandleTimeseries)
	r.Get("/api/metrics/aggregated", h.HandleAggregated)
	r.Get("/api/services", h.HandleServices)
	r.Get("/health/scores", h.HandleHealthScores)
	r.Get("/alerts", h.HandleAlerts)
	r.Get("/alerts/active", h.HandleAlertsActive)
	r.Post("/vql/execute", h.HandleVQL)
	r.Post("/compare/services", h.HandleCompare)
	r.Get("/ws/metrics", hub.ServeHTTP)

	r.Get("/healthz", h.HandleHealthz)
	r.Get("/readyz", h.HandleReadyz)
	r.Handle("/metrics", metrics.Handler())

	return r
}

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

func requestDeadlineMiddleware(d time.Duration) func(http.Handler) http.Handler {
	if d <= 0 {
		d = 30 * time.Second
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// /ws/metrics upgrades to a long-lived connection; it manages its
			// own lifetime via the heartbeat, not the request deadline.
			if r.URL.Path == "/ws/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func tokenAuthMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/healthz", "/readyz", "/metrics":
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

func httpMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /ws/metrics hijacks the connection for the WebSocket upgrade;
		// wrapping it would hide the http.Hijacker the upgrader needs.
		if r.URL.Path == "/ws/metrics" {
			next.ServeHTTP(w, r)
			return
		}
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
