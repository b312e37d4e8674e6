// Package store defines the columnar time-series storage contract (C2) and
// a ClickHouse-backed implementation of it.
package store

import (
	"context"
	"time"
)

// Store is the contract the stream worker writes through and the query
// service reads through. Errors returned by InsertRows are always
// classified via apperror (CodeDependencyRetryable or CodeDependencyFatal)
// so callers can decide whether to retry.
type Store interface {
	// InsertRows batch-inserts rows. Expected batch size 100-10000. Safe to
	// re-invoke with the same Row.ID values; duplicates are resolved at
	// query time rather than rejected at write time (see DESIGN.md).
	InsertRows(ctx context.Context, rows []Row) error

	// QueryRange returns raw rows within window, newest-last, capped at
	// limit. It always reads the raw table; rollup tables hold one row per
	// bucket already and are only addressed through QueryAggregates.
	QueryRange(ctx context.Context, filter Filter, window TimeWindow, limit int) ([]Row, error)

	// QueryAggregates buckets rows within window by bucketWidth, grouping by
	// groupBy (one of "", "endpoint", "method", "status_code") and computing
	// every requested function per bucket. bucketWidth also selects which
	// physical table (raw, hourly rollup, or daily rollup) the query reads,
	// so an hour-or-wider bucket is served from pre-aggregated rows instead
	// of re-scanning raw ones.
	QueryAggregates(ctx context.Context, filter Filter, window TimeWindow, bucketWidth time.Duration, groupBy string, funcs []AggregateFunc) ([]Bucket, error)

	// ListServices returns every distinct service_name with at least one row
	// in the last since duration, across the raw table and both rollup
	// tables (a service can outlive the raw table's shorter retention).
	ListServices(ctx context.Context, since time.Duration) ([]string, error)

	// ListMetrics returns every distinct metric_name recorded by serviceName
	// in the last since duration, across the raw table and both rollup
	// tables.
	ListMetrics(ctx context.Context, serviceName string, since time.Duration) ([]string, error)

	// Close releases underlying connections.
	Close() error
}
