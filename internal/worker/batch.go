package worker

import (
	"encoding/json"
	"time"

	"github.com/krishnamouli8/vantage/internal/bus"
	"github.com/krishnamouli8/vantage/internal/store"
)

// wireSample mirrors ingest's wire format; kept as a local type so the
// worker package does not import the ingest package for one struct.
type wireSample struct {
	Timestamp         time.Time         `json:"timestamp"`
	ServiceName       string            `json:"service_name"`
	MetricName        string            `json:"metric_name"`
	MetricType        string            `json:"metric_type"`
	Value             float64           `json:"value"`
	Endpoint          string            `json:"endpoint,omitempty"`
	Method            string            `json:"method,omitempty"`
	StatusCode        int               `json:"status_code,omitempty"`
	DurationMs        float64           `json:"duration_ms,omitempty"`
	Tags              map[string]string `json:"tags,omitempty"`
	TraceID           string            `json:"trace_id,omitempty"`
	SpanID            string            `json:"span_id,omitempty"`
	Environment       string            `json:"environment,omitempty"`
	Aggregated        bool              `json:"aggregated"`
	ResolutionMinutes int               `json:"resolution_minutes"`
}

func decodeRecord(rec bus.Record, idSeq *idSequence) (store.Row, error) {
	var w wireSample
	if err := json.Unmarshal(rec.Value, &w); err != nil {
		return store.Row{}, err
	}
	return store.Row{
		ID:                idSeq.next(rec),
		Timestamp:         w.Timestamp,
		ServiceName:       w.ServiceName,
		MetricName:        w.MetricName,
		MetricType:        w.MetricType,
		Value:             w.Value,
		Endpoint:          w.Endpoint,
		Method:            w.Method,
		StatusCode:        w.StatusCode,
		DurationMs:        w.DurationMs,
		Tags:              w.Tags,
		TraceID:           w.TraceID,
		SpanID:            w.SpanID,
		Environment:       w.Environment,
		Aggregated:        w.Aggregated,
		ResolutionMinutes: w.ResolutionMinutes,
	}, nil
}

// idSequence derives a stable, globally unique row ID from a record's
// partition and offset, which is monotonic and collision-free per
// partition and therefore a safe idempotence key: replaying the same
// record always yields the same ID (see DESIGN.md row-id rationale).
type idSequence struct{}

func (idSequence) next(rec bus.Record) uint64 {
	return uint64(rec.Partition)<<48 | uint64(rec.Offset)
}

// accumulator holds consumed records pending flush, tracking both the
// decoded rows to insert and the records to commit once the insert
// succeeds (offsets are never committed ahead of storage acknowledgement).
type accumulator struct {
	rows    []store.Row
	records []bus.Record
	started time.Time
}

func newAccumulator() *accumulator {
	return &accumulator{started: time.Now()}
}

func (a *accumulator) add(row store.Row, rec bus.Record) {
	if len(a.rows) == 0 {
		a.started = time.Now()
	}
	a.rows = append(a.rows, row)
	a.records = append(a.records, rec)
}

func (a *accumulator) size() int {
	return len(a.rows)
}

func (a *accumulator) age() time.Duration {
	if len(a.rows) == 0 {
		return 0
	}
	return time.Since(a.started)
}

func (a *accumulator) reset() {
	a.rows = nil
	a.records = nil
}

// shouldFlush reports whether the accumulator has crossed its size or age
// trigger.
func (a *accumulator) shouldFlush(targetSize int, maxWait time.Duration) bool {
	if a.size() == 0 {
		return false
	}
	return a.size() >= targetSize || a.age() >= maxWait
}
