package store

import "fmt"

// schemaDDL returns the CREATE TABLE statements for the raw table, the two
// rollup tables, and the dead-letter table, parameterized by the
// configured retention windows.
//
// Dedup happens at query time (LIMIT 1 BY id in QueryRange and
// QueryAggregates), not at write
// time: a ReplacingMergeTree would defer dedup to background merges that
// run on ClickHouse's own schedule, which is unobservable from the
// application and would let duplicate rows leak into a query run shortly
// after a merge boundary. LIMIT BY id is slower per-query but correct on
// every query, which matches the "no offset committed before storage ack,
// tolerate at-least-once delivery" invariant.
func schemaDDL(database string, rawDays, hourlyDays, dailyDays int) []string {
	return []string{
		fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS %s`, database),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s.metric_samples (
	id UInt64,
	timestamp DateTime64(3) CODEC(DoubleDelta, ZSTD),
	service_name LowCardinality(String) CODEC(ZSTD),
	metric_name LowCardinality(String) CODEC(ZSTD),
	metric_type LowCardinality(String) CODEC(ZSTD),
	value Float64 CODEC(ZSTD),
	endpoint String CODEC(ZSTD),
	method LowCardinality(String) CODEC(ZSTD),
	status_code UInt16 CODEC(ZSTD),
	duration_ms Float64 CODEC(ZSTD),
	tags Map(String, String) CODEC(ZSTD),
	trace_id String CODEC(ZSTD),
	span_id String CODEC(ZSTD),
	environment LowCardinality(String) CODEC(ZSTD),
	aggregated UInt8 CODEC(ZSTD),
	resolution_minutes UInt16 CODEC(ZSTD)
) ENGINE = MergeTree
PARTITION BY toYYYYMM(timestamp)
ORDER BY (service_name, metric_name, timestamp)
TTL toDateTime(timestamp) + INTERVAL %d DAY
SETTINGS index_granularity = 8192`, database, rawDays),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s.metric_rollups_hourly (
	id UInt64,
	timestamp DateTime64(3) CODEC(DoubleDelta, ZSTD),
	service_name LowCardinality(String) CODEC(ZSTD),
	metric_name LowCardinality(String) CODEC(ZSTD),
	metric_type LowCardinality(String) CODEC(ZSTD),
	value Float64 CODEC(ZSTD),
	endpoint String CODEC(ZSTD),
	method LowCardinality(String) CODEC(ZSTD),
	status_code UInt16 CODEC(ZSTD),
	duration_ms Float64 CODEC(ZSTD),
	tags Map(String, String) CODEC(ZSTD),
	trace_id String CODEC(ZSTD),
	span_id String CODEC(ZSTD),
	environment LowCardinality(String) CODEC(ZSTD),
	aggregated UInt8 CODEC(ZSTD),
	resolution_minutes UInt16 CODEC(ZSTD)
) ENGINE = MergeTree
PARTITION BY toYYYYMM(timestamp)
ORDER BY (service_name, metric_name, timestamp)
TTL toDateTime(timestamp) + INTERVAL %d DAY
SETTINGS index_granularity = 8192`, database, hourlyDays),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s.metric_rollups_daily (
	id UInt64,
	timestamp DateTime64(3) CODEC(DoubleDelta, ZSTD),
	service_name LowCardinality(String) CODEC(ZSTD),
	metric_name LowCardinality(String) CODEC(ZSTD),
	metric_type LowCardinality(String) CODEC(ZSTD),
	value Float64 CODEC(ZSTD),
	endpoint String CODEC(ZSTD),
	method LowCardinality(String) CODEC(ZSTD),
	status_code UInt16 CODEC(ZSTD),
	duration_ms Float64 CODEC(ZSTD),
	tags Map(String, String) CODEC(ZSTD),
	trace_id String CODEC(ZSTD),
	span_id String CODEC(ZSTD),
	environment LowCardinality(String) CODEC(ZSTD),
	aggregated UInt8 CODEC(ZSTD),
	resolution_minutes UInt16 CODEC(ZSTD)
) ENGINE = MergeTree
PARTITION BY toYYYYMM(timestamp)
ORDER BY (service_name, metric_name, timestamp)
TTL toDateTime(timestamp) + INTERVAL %d DAY
SETTINGS index_granularity = 8192`, database, dailyDays),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s.dead_letter (
	id UInt64,
	received_at DateTime64(3) CODEC(ZSTD),
	reason String CODEC(ZSTD),
	payload String CODEC(ZSTD)
) ENGINE = MergeTree
PARTITION BY toYYYYMM(received_at)
ORDER BY (received_at, id)
TTL toDateTime(received_at) + INTERVAL 30 DAY`, database),
	}
}
