package store

import "time"

// Row is a persisted metric sample: the wire sample plus the fields the
// store itself assigns.
type Row struct {
	ID                 uint64
	Timestamp          time.Time
	ServiceName        string
	MetricName         string
	MetricType         string
	Value              float64
	Endpoint           string
	Method             string
	StatusCode         int
	DurationMs         float64
	Tags               map[string]string
	TraceID            string
	SpanID             string
	Environment        string
	Aggregated         bool
	ResolutionMinutes  int
}

// Filter narrows a range or aggregate query to one service/metric and an
// optional endpoint/method/status_code/environment refinement.
type Filter struct {
	ServiceName string
	MetricName  string
	Endpoint    string
	Method      string
	StatusCode  int // 0 means "unset"
	Environment string
}

// TimeWindow bounds a query to [Start, End).
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// AggregateFunc names a column reduction the store applies per group.
type AggregateFunc string

const (
	FuncAvg   AggregateFunc = "avg"
	FuncSum   AggregateFunc = "sum"
	FuncMin   AggregateFunc = "min"
	FuncMax   AggregateFunc = "max"
	FuncCount AggregateFunc = "count"
	FuncP50   AggregateFunc = "p50"
	FuncP95   AggregateFunc = "p95"
	FuncP99   AggregateFunc = "p99"
)

// Bucket is one row of an aggregate query result: a time bucket plus the
// requested reduction values, keyed by the function name that produced
// them ("avg", "p95", ...).
type Bucket struct {
	BucketStart time.Time
	GroupKey    string // non-empty only when the query grouped by a dimension
	Values      map[AggregateFunc]float64
	Count       int64
	ErrorCount  int64
}
