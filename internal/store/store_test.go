package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeStore_InsertAndQueryRange(t *testing.T) {
	s := NewFakeStore()
	now := time.Now()

	err := s.InsertRows(context.Background(), []Row{
		{ID: 1, Timestamp: now, ServiceName: "checkout-svc", MetricName: "http.duration", Value: 42.0},
		{ID: 2, Timestamp: now.Add(time.Second), ServiceName: "checkout-svc", MetricName: "http.duration", Value: 50.0},
		{ID: 3, Timestamp: now.Add(time.Second), ServiceName: "other-svc", MetricName: "http.duration", Value: 10.0},
	})
	require.NoError(t, err)

	rows, err := s.QueryRange(context.Background(),
		Filter{ServiceName: "checkout-svc"},
		TimeWindow{Start: now.Add(-time.Minute), End: now.Add(time.Minute)},
		10,
	)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 42.0, rows[0].Value)
}

func TestFakeStore_InsertIsIdempotentByID(t *testing.T) {
	s := NewFakeStore()
	now := time.Now()

	row := Row{ID: 7, Timestamp: now, ServiceName: "svc", MetricName: "m", Value: 1.0}
	require.NoError(t, s.InsertRows(context.Background(), []Row{row}))
	require.NoError(t, s.InsertRows(context.Background(), []Row{row}))

	rows, err := s.QueryRange(context.Background(), Filter{ServiceName: "svc"},
		TimeWindow{Start: now.Add(-time.Minute), End: now.Add(time.Minute)}, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestFakeStore_QueryAggregates(t *testing.T) {
	s := NewFakeStore()
	now := time.Now().Truncate(time.Minute)

	for i, v := range []float64{10, 20, 30, 500} {
		status := 200
		if i == 3 {
			status = 500
		}
		require.NoError(t, s.InsertRows(context.Background(), []Row{
			{ID: uint64(i + 1), Timestamp: now, ServiceName: "svc", MetricName: "latency", Value: v, StatusCode: status},
		}))
	}

	buckets, err := s.QueryAggregates(context.Background(),
		Filter{ServiceName: "svc", MetricName: "latency"},
		TimeWindow{Start: now.Add(-time.Minute), End: now.Add(time.Minute)},
		time.Minute, "", []AggregateFunc{FuncAvg, FuncCount, FuncMax},
	)
	require.NoError(t, err)
	require.Len(t, buckets, 1)

	b := buckets[0]
	assert.Equal(t, int64(4), b.Count)
	assert.Equal(t, int64(1), b.ErrorCount)
	assert.InDelta(t, 140.0, b.Values[FuncAvg], 0.001)
	assert.Equal(t, 500.0, b.Values[FuncMax])
}

// TestFakeStore_QueryAggregates_RawAndPreaggregatedAgree exercises Open
// Question Decision #2 (SPEC_FULL.md): QueryAggregates over the same
// (filter, window) must return the same count/avg/min/max/p95/error_count
// whether the rows it scans are raw samples or rows already flagged
// Aggregated (e.g. the output of a rollup pass re-inserted at a finer
// resolution than the query's bucketWidth). The aggregation math itself
// must not special-case the Aggregated flag.
func TestFakeStore_QueryAggregates_RawAndPreaggregatedAgree(t *testing.T) {
	now := time.Now().Truncate(time.Minute)
	values := []float64{10, 20, 30, 500}
	statuses := []int{200, 200, 200, 500}

	raw := NewFakeStore()
	preagg := NewFakeStore()
	for i := range values {
		raw.rows[uint64(i+1)] = Row{
			ID: uint64(i + 1), Timestamp: now, ServiceName: "svc", MetricName: "latency",
			Value: values[i], StatusCode: statuses[i], Aggregated: false,
		}
		preagg.rows[uint64(i+1)] = Row{
			ID: uint64(i + 1), Timestamp: now, ServiceName: "svc", MetricName: "latency",
			Value: values[i], StatusCode: statuses[i], Aggregated: true, ResolutionMinutes: 60,
		}
	}

	filter := Filter{ServiceName: "svc", MetricName: "latency"}
	window := TimeWindow{Start: now.Add(-time.Minute), End: now.Add(time.Minute)}
	funcs := []AggregateFunc{FuncAvg, FuncCount, FuncMin, FuncMax, FuncP95}

	rawBuckets, err := raw.QueryAggregates(context.Background(), filter, window, time.Minute, "", funcs)
	require.NoError(t, err)
	preaggBuckets, err := preagg.QueryAggregates(context.Background(), filter, window, time.Minute, "", funcs)
	require.NoError(t, err)

	require.Len(t, rawBuckets, 1)
	require.Len(t, preaggBuckets, 1)

	rb, pb := rawBuckets[0], preaggBuckets[0]
	assert.Equal(t, rb.Count, pb.Count)
	assert.Equal(t, rb.ErrorCount, pb.ErrorCount)
	assert.Equal(t, rb.Values[FuncAvg], pb.Values[FuncAvg])
	assert.Equal(t, rb.Values[FuncMin], pb.Values[FuncMin])
	assert.Equal(t, rb.Values[FuncMax], pb.Values[FuncMax])
	assert.Equal(t, rb.Values[FuncP95], pb.Values[FuncP95])
}

func TestFakeStore_ListServices(t *testing.T) {
	s := NewFakeStore()
	now := time.Now()

	require.NoError(t, s.InsertRows(context.Background(), []Row{
		{ID: 1, Timestamp: now, ServiceName: "a", MetricName: "m", Value: 1},
		{ID: 2, Timestamp: now.Add(-48 * time.Hour), ServiceName: "stale", MetricName: "m", Value: 1},
	}))

	services, err := s.ListServices(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, services)
}
