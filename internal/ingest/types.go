// Package ingest implements the HTTP intake gateway (C3): validation,
// admission control, pre-aggregation, and publish-with-retry to the bus.
package ingest

import "time"

// Sample is the atomic unit of a batch envelope.
type Sample struct {
	Timestamp   time.Time         `json:"timestamp"`
	ServiceName string            `json:"service_name"`
	MetricName  string            `json:"metric_name"`
	MetricType  string            `json:"metric_type"`
	Value       float64           `json:"value"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Method      string            `json:"method,omitempty"`
	StatusCode  int               `json:"status_code,omitempty"`
	DurationMs  float64           `json:"duration_ms,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	TraceID     string            `json:"trace_id,omitempty"`
	SpanID      string            `json:"span_id,omitempty"`
	Environment string            `json:"environment,omitempty"`
}

// BatchEnvelope is the body of POST /v1/metrics.
type BatchEnvelope struct {
	Metrics      []Sample  `json:"metrics"`
	ServiceName  string    `json:"service_name"`
	Environment  string    `json:"environment,omitempty"`
	AgentVersion string    `json:"agent_version,omitempty"`
	ReceivedAt   time.Time `json:"-"`
}

// SampleError describes one rejected sample within a batch, returned in the
// 400 response body.
type SampleError struct {
	Index   int    `json:"index"`
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResponse is the body of a 400 response.
type ValidationResponse struct {
	Errors []SampleError `json:"errors"`
}

// StatsResponse is the body of GET /v1/stats.
type StatsResponse struct {
	Accepted   uint64 `json:"accepted"`
	Rejected   uint64 `json:"rejected"`
	Published  uint64 `json:"published"`
	PublishErr uint64 `json:"publish_errors"`
}
