package ingest

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"
)

// AggregationKey identifies the bucket a sample's statistics accumulate
// under: service, metric, endpoint/method/status, floored to the minute.
type AggregationKey struct {
	ServiceName string
	MetricName  string
	Endpoint    string
	Method      string
	StatusCode  int
	MinuteEpoch int64
}

func aggregationKeyFor(s Sample) AggregationKey {
	return AggregationKey{
		ServiceName: s.ServiceName,
		MetricName:  s.MetricName,
		Endpoint:    s.Endpoint,
		Method:      s.Method,
		StatusCode:  s.StatusCode,
		MinuteEpoch: s.Timestamp.Unix() / 60,
	}
}

func (k AggregationKey) shard(n int) int {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s|%s|%s|%s|%d|%d", k.ServiceName, k.MetricName, k.Endpoint, k.Method, k.StatusCode, k.MinuteEpoch)
	return int(h.Sum32()) % n
}

// reservoir implements Algorithm R, retaining an unbiased uniform sample of
// up to capacity values seen so far without storing the full stream.
type reservoir struct {
	capacity int
	seen     int
	values   []float64
	rng      *rand.Rand
}

func newReservoir(capacity int) *reservoir {
	return &reservoir{
		capacity: capacity,
		values:   make([]float64, 0, capacity),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *reservoir) add(v float64) {
	r.seen++
	if len(r.values) < r.capacity {
		r.values = append(r.values, v)
		return
	}
	j := r.rng.Intn(r.seen)
	if j < r.capacity {
		r.values[j] = v
	}
}

// percentiles returns p50/p95/p99 over the sampled values, read at index
// floor(q*(n-1)) of the sorted reservoir (the same non-weighted approximation rollup.go's
// re-aggregation pass already accepts across granularities). Returns zeros
// if nothing was sampled.
func (r *reservoir) percentiles() (p50, p95, p99 float64) {
	if len(r.values) == 0 {
		return 0, 0, 0
	}
	sorted := make([]float64, len(r.values))
	copy(sorted, r.values)
	sort.Float64s(sorted)
	return percentileOf(sorted, 0.50), percentileOf(sorted, 0.95), percentileOf(sorted, 0.99)
}

// percentileOf indexes into an already-sorted slice at floor(q*(n-1)) for
// quantile q, without interpolation.
func percentileOf(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}

// aggregate accumulates statistics for one aggregation key.
type aggregate struct {
	key        AggregationKey
	count      int64
	sum        float64
	min        float64
	max        float64
	errorCount int64
	sample     *reservoir
	sampleType string
}

func newAggregate(key AggregationKey, metricType string, reservoirSize int) *aggregate {
	return &aggregate{
		key:        key,
		min:        math.MaxFloat64,
		max:        -math.MaxFloat64,
		sample:     newReservoir(reservoirSize),
		sampleType: metricType,
	}
}

func (a *aggregate) add(s Sample) {
	a.count++
	a.sum += s.Value
	if s.Value < a.min {
		a.min = s.Value
	}
	if s.Value > a.max {
		a.max = s.Value
	}
	if s.StatusCode >= 500 {
		a.errorCount++
	}
	a.sample.add(s.Value)
}

// toSample renders the aggregate back into a Sample carrying the mean
// value, tagged as aggregated by the caller before publish.
func (a *aggregate) toSample() Sample {
	mean := 0.0
	if a.count > 0 {
		mean = a.sum / float64(a.count)
	}
	p50, p95, p99 := a.sample.percentiles()
	return Sample{
		Timestamp:   time.Unix(a.key.MinuteEpoch*60, 0).UTC(),
		ServiceName: a.key.ServiceName,
		MetricName:  a.key.MetricName,
		MetricType:  a.sampleType,
		Value:       mean,
		Endpoint:    a.key.Endpoint,
		Method:      a.key.Method,
		StatusCode:  a.key.StatusCode,
		Tags: map[string]string{
			"agg_count":       strconv.FormatInt(a.count, 10),
			"agg_error_count": strconv.FormatInt(a.errorCount, 10),
			"agg_min":         strconv.FormatFloat(a.min, 'f', -1, 64),
			"agg_max":         strconv.FormatFloat(a.max, 'f', -1, 64),
			"agg_p50":         strconv.FormatFloat(p50, 'f', -1, 64),
			"agg_p95":         strconv.FormatFloat(p95, 'f', -1, 64),
			"agg_p99":         strconv.FormatFloat(p99, 'f', -1, 64),
		},
	}
}

// shard owns a partition of the aggregation-key space; each shard is
// written by at most one caller at a time (serialized through its own
// mutex), so sharding avoids one global lock across the whole buffer.
type shard struct {
	mu         sync.Mutex
	aggregates map[AggregationKey]*aggregate
}

// PreaggBuffer is a sharded, in-memory pre-aggregation buffer. Samples that
// carry an endpoint are folded into an aggregate; samples missing it are
// returned unmodified for direct publish, per the pre-aggregation
// best-effort contract (disabling it changes volume, not query semantics).
type PreaggBuffer struct {
	shards        []*shard
	reservoirSize int
}

// NewPreaggBuffer creates a buffer with the given shard count and
// per-key reservoir capacity.
func NewPreaggBuffer(shardCount, reservoirSize int) *PreaggBuffer {
	if shardCount <= 0 {
		shardCount = 16
	}
	if reservoirSize <= 0 {
		reservoirSize = 200
	}
	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = &shard{aggregates: make(map[AggregationKey]*aggregate)}
	}
	return &PreaggBuffer{shards: shards, reservoirSize: reservoirSize}
}

// Add folds s into its aggregation-key bucket, or reports it cannot be
// aggregated (no endpoint) so the caller publishes it raw instead.
func (b *PreaggBuffer) Add(s Sample) (aggregatable bool) {
	if s.Endpoint == "" {
		return false
	}

	key := aggregationKeyFor(s)
	sh := b.shards[key.shard(len(b.shards))]

	sh.mu.Lock()
	defer sh.mu.Unlock()

	agg, ok := sh.aggregates[key]
	if !ok {
		agg = newAggregate(key, s.MetricType, b.reservoirSize)
		sh.aggregates[key] = agg
	}
	agg.add(s)
	return true
}

// Flush drains every shard and returns one Sample per aggregation key seen
// since the last flush.
func (b *PreaggBuffer) Flush() []Sample {
	var out []Sample
	for _, sh := range b.shards {
		sh.mu.Lock()
		for _, agg := range sh.aggregates {
			out = append(out, agg.toSample())
		}
		sh.aggregates = make(map[AggregationKey]*aggregate)
		sh.mu.Unlock()
	}
	return out
}

// KeyCount returns the total number of distinct aggregation keys currently
// buffered. HandleIngest flushes early once it reaches a fixed 10000 keys;
// the threshold is not a config option.
func (b *PreaggBuffer) KeyCount() int {
	total := 0
	for _, sh := range b.shards {
		sh.mu.Lock()
		total += len(sh.aggregates)
		sh.mu.Unlock()
	}
	return total
}
