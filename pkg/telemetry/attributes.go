package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Standard attribute key names used across spans.
const (
	// Ingest
	AttrServiceName = "vantage.service_name"
	AttrMetricName  = "vantage.metric_name"
	AttrBatchSize   = "vantage.batch_size"
	AttrSamplesDrop = "vantage.samples_dropped"
	AttrPreaggShard = "vantage.preagg_shard"

	// Bus / stream worker
	AttrTopic        = "vantage.bus.topic"
	AttrPartition    = "vantage.bus.partition"
	AttrOffset       = "vantage.bus.offset"
	AttrBreakerState = "vantage.breaker.state"
	AttrRetryCount   = "vantage.retry_count"

	// Query & signals
	AttrQueryWindow   = "vantage.query.window"
	AttrResultRows    = "vantage.query.result_rows"
	AttrHealthScore   = "vantage.signals.health_score"
	AttrAlertSeverity = "vantage.signals.alert_severity"
)

// IngestAttributes returns the attributes recorded on an ingest-handling span.
func IngestAttributes(serviceName string, batchSize, samplesDropped int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrServiceName, serviceName),
		attribute.Int(AttrBatchSize, batchSize),
		attribute.Int(AttrSamplesDrop, samplesDropped),
	}
}

// BusAttributes returns the attributes recorded on a bus publish/consume span.
func BusAttributes(topic string, partition int32, offset int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrTopic, topic),
		attribute.Int64(AttrPartition, int64(partition)),
		attribute.Int64(AttrOffset, offset),
	}
}

// BreakerAttributes returns the attributes recorded when the circuit breaker
// state is attached to a span.
func BreakerAttributes(state string, retryCount int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrBreakerState, state),
		attribute.Int(AttrRetryCount, retryCount),
	}
}

// QueryAttributes returns the attributes recorded on a query-execution span.
func QueryAttributes(window string, resultRows int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrQueryWindow, window),
		attribute.Int(AttrResultRows, resultRows),
	}
}

// SignalAttributes returns the attributes recorded on a health-score or
// alert-evaluation span.
func SignalAttributes(serviceName string, healthScore float64, alertSeverity string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrServiceName, serviceName),
		attribute.Float64(AttrHealthScore, healthScore),
		attribute.String(AttrAlertSeverity, alertSeverity),
	}
}
