package query

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/krishnamouli8/vantage/internal/query/alertstore"
	"github.com/krishnamouli8/vantage/internal/query/dsl"
	"github.com/krishnamouli8/vantage/internal/query/signals"
	"github.com/krishnamouli8/vantage/internal/store"
	"github.com/krishnamouli8/vantage/pkg/apperror"
	"github.com/krishnamouli8/vantage/pkg/cache"
	"github.com/krishnamouli8/vantage/pkg/config"
	"github.com/krishnamouli8/vantage/pkg/logger"
	"github.com/krishnamouli8/vantage/pkg/metrics"
)

// Handler implements the query & signals service's REST surface (§6): raw
// and aggregated metric queries, the health-score/alerting/cohort
// derived-signal endpoints, and VQL execution.
type Handler struct {
	store   store.Store
	alerts  alertstore.Repository
	health  *signals.HealthEngine
	alertEg *signals.AlertEngine
	cohort  *signals.CohortEngine
	cfg     config.QueryConfig
	cache   cache.Cache // nil disables result caching
}

// NewHandler wires a Handler from its dependencies. cache may be nil.
func NewHandler(st store.Store, alerts alertstore.Repository, health *signals.HealthEngine, alertEg *signals.AlertEngine, cohort *signals.CohortEngine, cfg config.QueryConfig, c cache.Cache) *Handler {
	return &Handler{store: st, alerts: alerts, health: health, alertEg: alertEg, cohort: cohort, cfg: cfg, cache: c}
}

// HandleTimeseries implements GET /api/metrics/timeseries.
func (h *Handler) HandleTimeseries(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { metrics.Get().RecordQuery("timeseries", time.Since(start)) }()

	serviceName := r.URL.Query().Get("service")
	if serviceName == "" {
		writeError(w, apperror.New(apperror.CodeValidation, "service is required"))
		return
	}
	rangeSec := parseRangeSeconds(r, 300)

	cacheKey := fmt.Sprintf("query:timeseries:%s:%d", serviceName, rangeSec)
	var out []BucketResponse
	if h.getCached(r.Context(), cacheKey, &out) {
		writeJSON(w, http.StatusOK, out)
		return
	}

	window := store.TimeWindow{Start: time.Now().Add(-time.Duration(rangeSec) * time.Second), End: time.Now()}

	buckets, err := h.store.QueryAggregates(r.Context(), store.Filter{ServiceName: serviceName}, window, time.Minute, "",
		[]store.AggregateFunc{store.FuncAvg, store.FuncMin, store.FuncMax, store.FuncP95})
	if err != nil {
		writeError(w, err)
		return
	}

	out = make([]BucketResponse, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, bucketToResponse(b))
	}
	h.setCached(r.Context(), cacheKey, out)
	writeJSON(w, http.StatusOK, out)
}

// HandleAggregated implements GET /api/metrics/aggregated.
func (h *Handler) HandleAggregated(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { metrics.Get().RecordQuery("aggregated", time.Since(start)) }()

	serviceName := r.URL.Query().Get("service")
	if serviceName == "" {
		writeError(w, apperror.New(apperror.CodeValidation, "service is required"))
		return
	}
	rangeSec := parseRangeSeconds(r, 300)

	cacheKey := fmt.Sprintf("query:aggregated:%s:%d", serviceName, rangeSec)
	var resp AggregateResponse
	if h.getCached(r.Context(), cacheKey, &resp) {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	window := store.TimeWindow{Start: time.Now().Add(-time.Duration(rangeSec) * time.Second), End: time.Now()}

	buckets, err := h.store.QueryAggregates(r.Context(), store.Filter{ServiceName: serviceName}, window, window.End.Sub(window.Start), "",
		[]store.AggregateFunc{store.FuncAvg, store.FuncMin, store.FuncMax, store.FuncP95})
	if err != nil {
		writeError(w, err)
		return
	}

	if len(buckets) > 0 {
		b := buckets[0]
		resp = AggregateResponse{
			Count:      b.Count,
			Avg:        b.Values[store.FuncAvg],
			Min:        b.Values[store.FuncMin],
			Max:        b.Values[store.FuncMax],
			P95:        b.Values[store.FuncP95],
			ErrorCount: b.ErrorCount,
		}
	}
	h.setCached(r.Context(), cacheKey, resp)
	writeJSON(w, http.StatusOK, resp)
}

// HandleServices implements GET /api/services.
func (h *Handler) HandleServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.store.ListServices(r.Context(), 24*time.Hour)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

// HandleHealthScores implements GET /health/scores.
func (h *Handler) HandleHealthScores(w http.ResponseWriter, r *http.Request) {
	scores, err := h.health.ScoreAll(r.Context(), 5*time.Minute)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]HealthScoreResponse, 0, len(scores))
	for _, s := range scores {
		out = append(out, HealthScoreResponse{
			ServiceName:    s.ServiceName,
			OverallScore:   s.OverallScore,
			ErrorRateScore: s.ErrorRateScore,
			LatencyScore:   s.LatencyScore,
			TrafficScore:   s.TrafficScore,
			ErrorRate:      s.ErrorRate,
			P95LatencyMs:   s.P95LatencyMs,
			RequestCount:   s.RequestCount,
			Status:         string(s.Status),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleAlerts implements GET /alerts?limit=.
func (h *Handler) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	alerts, err := h.alerts.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alertsToResponse(alerts))
}

// HandleAlertsActive implements GET /alerts/active.
func (h *Handler) HandleAlertsActive(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.alerts.ListActive(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alertsToResponse(alerts))
}

// HandleVQL implements POST /vql/execute.
func (h *Handler) HandleVQL(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { metrics.Get().RecordQuery("vql", time.Since(start)) }()

	var req VQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.Wrap(err, apperror.CodeValidation, "malformed JSON body"))
		return
	}

	q, err := dsl.Parse(req.Query)
	if err != nil {
		writeError(w, err)
		return
	}

	rows, err := h.runVQL(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, VQLResponse{Rows: rows})
}

// HandleCompare implements POST /compare/services.
func (h *Handler) HandleCompare(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { metrics.Get().RecordQuery("compare", time.Since(start)) }()

	var req CompareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.Wrap(err, apperror.CodeValidation, "malformed JSON body"))
		return
	}
	if req.BaselineService == "" || req.CandidateService == "" || req.MetricName == "" {
		writeError(w, apperror.New(apperror.CodeValidation, "baseline_service, candidate_service, and metric_name are required"))
		return
	}

	window := req.TimeEnd.Sub(req.TimeStart)
	if window <= 0 {
		window = time.Hour
	}

	cmp, err := h.cohort.Compare(r.Context(), req.BaselineService, req.CandidateService, req.MetricName, window)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CompareResponse{
		Baseline:       CohortStatsResponse(cmp.Baseline),
		Candidate:      CohortStatsResponse(cmp.Candidate),
		ImprovementPct: cmp.ImprovementPct,
		Significant:    cmp.Significant,
		PValue:         cmp.PValue,
		Recommendation: string(cmp.Recommendation),
	})
}

// HandleHealthz implements GET /healthz.
func (h *Handler) HandleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// HandleReadyz implements GET /readyz.
func (h *Handler) HandleReadyz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func parseRangeSeconds(r *http.Request, def int) int {
	v := r.URL.Query().Get("range")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func bucketToResponse(b store.Bucket) BucketResponse {
	return BucketResponse{
		BucketStart: b.BucketStart,
		Count:       b.Count,
		Avg:         b.Values[store.FuncAvg],
		Min:         b.Values[store.FuncMin],
		Max:         b.Values[store.FuncMax],
		P95:         b.Values[store.FuncP95],
		ErrorCount:  b.ErrorCount,
	}
}

func alertsToResponse(alerts []*alertstore.Alert) []AlertResponse {
	out := make([]AlertResponse, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, AlertResponse{
			AlertID:              a.AlertID,
			ServiceName:          a.ServiceName,
			MetricName:           a.MetricName,
			Severity:             string(a.Severity),
			Status:               string(a.Status),
			CurrentValue:         a.CurrentValue,
			ExpectedMin:          a.ExpectedMin,
			ExpectedMax:          a.ExpectedMax,
			ThresholdBreachCount: a.ThresholdBreachCount,
			FirstTriggered:       a.FirstTriggered,
			LastTriggered:        a.LastTriggered,
			ResolvedAt:           a.ResolvedAt,
		})
	}
	return out
}

// getCached reports whether key holds a cached response and, if so,
// unmarshals it into dst. A cache miss or disabled cache (h.cache == nil)
// returns false; callers fall through to computing the response fresh.
func (h *Handler) getCached(ctx context.Context, key string, dst any) bool {
	if h.cache == nil || h.cfg.ResultCacheTTL <= 0 {
		return false
	}
	raw, err := h.cache.Get(ctx, key)
	if err != nil {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false
	}
	return true
}

// setCached stores v under key with the configured result TTL. Failures are
// logged, not surfaced, since the cache is strictly an optimization.
func (h *Handler) setCached(ctx context.Context, key string, v any) {
	if h.cache == nil || h.cfg.ResultCacheTTL <= 0 {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := h.cache.Set(ctx, key, raw, h.cfg.ResultCacheTTL); err != nil {
		logger.Log.Warn("query result cache set failed", "key", key, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := apperror.HTTPStatus(err)
	writeJSON(w, status, map[string]any{
		"code":    apperror.Code(err),
		"message": err.Error(),
	})
}
