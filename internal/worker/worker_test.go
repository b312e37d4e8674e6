package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krishnamouli8/vantage/internal/bus"
	"github.com/krishnamouli8/vantage/internal/store"
	"github.com/krishnamouli8/vantage/pkg/apperror"
	"github.com/krishnamouli8/vantage/pkg/config"
)

type fakeDeadLetter struct {
	mu   sync.Mutex
	rows []store.Row
}

func (f *fakeDeadLetter) Put(_ context.Context, _ string, rows []store.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, rows...)
	return nil
}

func (f *fakeDeadLetter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func testConfig() config.WorkerConfig {
	return config.WorkerConfig{
		BatchMinSize:       2,
		BatchMaxSize:       10,
		BatchMaxWait:       20 * time.Millisecond,
		BreakerMaxRequests: 1,
		BreakerFailures:    2,
		BreakerCooldown:    50 * time.Millisecond,
	}
}

func publishWireSample(t *testing.T, fb *bus.FakeBus, serviceName, metricName string) {
	t.Helper()
	ws := wireSample{Timestamp: time.Now(), ServiceName: serviceName, MetricName: metricName, MetricType: "gauge", Value: 1}
	payload, err := json.Marshal(ws)
	require.NoError(t, err)
	require.NoError(t, fb.Publish(context.Background(), nil, payload))
}

func TestWorker_FlushesOnBatchSize(t *testing.T) {
	fb := bus.NewFakeBus()
	fst := store.NewFakeStore()
	cfg := testConfig()
	w := NewWorker(fb, fst, nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = w.Run(ctx, "test-group") }()

	publishWireSample(t, fb, "checkout-svc", "http.duration")
	publishWireSample(t, fb, "checkout-svc", "http.duration")

	require.Eventually(t, func() bool {
		rows, _ := fst.QueryRange(context.Background(), store.Filter{ServiceName: "checkout-svc"}, store.TimeWindow{Start: time.Now().Add(-time.Hour), End: time.Now().Add(time.Hour)}, 10)
		return len(rows) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestWorker_FlushesOnMaxWait(t *testing.T) {
	fb := bus.NewFakeBus()
	fst := store.NewFakeStore()
	cfg := testConfig()
	w := NewWorker(fb, fst, nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = w.Run(ctx, "test-group") }()

	publishWireSample(t, fb, "checkout-svc", "http.duration")

	require.Eventually(t, func() bool {
		rows, _ := fst.QueryRange(context.Background(), store.Filter{ServiceName: "checkout-svc"}, store.TimeWindow{Start: time.Now().Add(-time.Hour), End: time.Now().Add(time.Hour)}, 10)
		return len(rows) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestWorker_DeadLettersFatalFailure(t *testing.T) {
	fb := bus.NewFakeBus()
	fst := store.NewFakeStore()
	fst.InsertErr = apperror.New(apperror.CodeDependencyFatal, "store schema mismatch")
	dlq := &fakeDeadLetter{}
	cfg := testConfig()
	w := NewWorker(fb, fst, dlq, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = w.Run(ctx, "test-group") }()

	publishWireSample(t, fb, "checkout-svc", "http.duration")
	publishWireSample(t, fb, "checkout-svc", "http.duration")

	require.Eventually(t, func() bool { return dlq.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "closed", w.BreakerState())
}

func TestWorker_RetryableFailureTripsBreakerAfterThreshold(t *testing.T) {
	fb := bus.NewFakeBus()
	fst := store.NewFakeStore()
	fst.InsertErr = apperror.New(apperror.CodeDependencyRetryable, "clickhouse unavailable")
	cfg := testConfig()
	cfg.BatchMaxWait = 5 * time.Millisecond
	cfg.MaxRetries = 1
	cfg.RetryBackoff = 5 * time.Millisecond
	cfg.BreakerFailures = 1
	w := NewWorker(fb, fst, nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = w.Run(ctx, "test-group") }()

	publishWireSample(t, fb, "checkout-svc", "http.duration")
	publishWireSample(t, fb, "checkout-svc", "http.duration")

	require.Eventually(t, func() bool { return w.BreakerState() == "open" }, 2*time.Second, 10*time.Millisecond)
}

func TestTargetBatchSize_MonotonicInLag(t *testing.T) {
	cfg := config.WorkerConfig{BatchMinSize: 100, BatchMaxSize: 5000}
	small := targetBatchSize(cfg, 5)
	medium := targetBatchSize(cfg, 1000)
	large := targetBatchSize(cfg, 1_000_000)

	assert.LessOrEqual(t, small, medium)
	assert.LessOrEqual(t, medium, large)
	assert.GreaterOrEqual(t, small, cfg.BatchMinSize)
	assert.LessOrEqual(t, large, cfg.BatchMaxSize)
}

func TestAccumulator_ShouldFlush(t *testing.T) {
	acc := newAccumulator()
	assert.False(t, acc.shouldFlush(2, time.Minute))

	acc.add(store.Row{ID: 1}, bus.Record{})
	assert.False(t, acc.shouldFlush(2, time.Minute))

	acc.add(store.Row{ID: 2}, bus.Record{})
	assert.True(t, acc.shouldFlush(2, time.Minute))

	acc.reset()
	assert.Equal(t, 0, acc.size())
}

func TestIDSequence_StableAcrossReplays(t *testing.T) {
	var seq idSequence
	rec := bus.Record{Partition: 3, Offset: 42}
	assert.Equal(t, seq.next(rec), seq.next(rec))
}
