package query

import "time"

// BucketResponse is one entry of GET /api/metrics/timeseries.
type BucketResponse struct {
	BucketStart time.Time `json:"bucket_start"`
	Count       int64     `json:"count"`
	Avg         float64   `json:"avg"`
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
	P95         float64   `json:"p95"`
	ErrorCount  int64     `json:"error_count"`
}

// AggregateResponse is the body of GET /api/metrics/aggregated: the same
// shape as BucketResponse but collapsed across the whole window.
type AggregateResponse struct {
	Count      int64   `json:"count"`
	Avg        float64 `json:"avg"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	P95        float64 `json:"p95"`
	ErrorCount int64   `json:"error_count"`
}

// HealthScoreResponse is one entry of GET /health/scores.
type HealthScoreResponse struct {
	ServiceName    string  `json:"service_name"`
	OverallScore   float64 `json:"overall_score"`
	ErrorRateScore float64 `json:"error_rate_score"`
	LatencyScore   float64 `json:"latency_score"`
	TrafficScore   float64 `json:"traffic_score"`
	ErrorRate      float64 `json:"error_rate"`
	P95LatencyMs   float64 `json:"p95_latency_ms"`
	RequestCount   int64   `json:"request_count"`
	Status         string  `json:"status"`
}

// AlertResponse is one entry of GET /alerts and GET /alerts/active.
type AlertResponse struct {
	AlertID              string     `json:"alert_id"`
	ServiceName          string     `json:"service_name"`
	MetricName           string     `json:"metric_name"`
	Severity             string     `json:"severity"`
	Status               string     `json:"status"`
	CurrentValue         float64    `json:"current_value"`
	ExpectedMin          float64    `json:"expected_min"`
	ExpectedMax          float64    `json:"expected_max"`
	ThresholdBreachCount int        `json:"threshold_breach_count"`
	FirstTriggered       time.Time  `json:"first_triggered"`
	LastTriggered        time.Time  `json:"last_triggered"`
	ResolvedAt           *time.Time `json:"resolved_at,omitempty"`
}

// VQLRequest is the body of POST /vql/execute.
type VQLRequest struct {
	Query string `json:"query"`
}

// VQLResponse wraps the rows a VQL query returned. Rows are generic maps
// since the DSL's projection list is dynamic.
type VQLResponse struct {
	Rows []map[string]any `json:"rows"`
}

// CompareRequest is the body of POST /compare/services.
type CompareRequest struct {
	BaselineService  string    `json:"baseline_service"`
	CandidateService string    `json:"candidate_service"`
	MetricName       string    `json:"metric_name"`
	TimeStart        time.Time `json:"time_start"`
	TimeEnd          time.Time `json:"time_end"`
}

// CohortStatsResponse mirrors signals.CohortStats for one side of a
// comparison.
type CohortStatsResponse struct {
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int64   `json:"count"`
}

// CompareResponse is the body returned by POST /compare/services.
type CompareResponse struct {
	Baseline       CohortStatsResponse `json:"baseline"`
	Candidate      CohortStatsResponse `json:"candidate"`
	ImprovementPct float64             `json:"improvement_pct"`
	Significant    bool                `json:"significant"`
	PValue         float64             `json:"p_value"`
	Recommendation string              `json:"recommendation"`
}
