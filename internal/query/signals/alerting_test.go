package signals

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krishnamouli8/vantage/internal/query/alertstore"
	"github.com/krishnamouli8/vantage/internal/store"
	"github.com/krishnamouli8/vantage/pkg/config"
)

func testAlertConfig() config.AlertingConfig {
	return config.AlertingConfig{
		BaselineWindow:   time.Hour,
		EvalInterval:     time.Minute,
		SigmaK:           3.0,
		ZScoreWarn:       4.0,
		ZScoreCritical:   5.0,
		MinBaselineCount: 10,
		DedupWindow:      5 * time.Minute,
		ConsecBreaches:   2,
		ConsecOK:         3,
	}
}

// seedAt inserts one row at exactly offset minutes before now, each call
// given its own minute so the fake store's per-minute bucketing never
// merges two calls' rows together.
func seedAt(fs *store.FakeStore, id uint64, serviceName, metricName string, minutesAgo int, value float64) {
	_ = fs.InsertRows(context.Background(), []store.Row{{
		ID:          id,
		Timestamp:   time.Now().Add(-time.Duration(minutesAgo) * time.Minute),
		ServiceName: serviceName,
		MetricName:  metricName,
		Value:       value,
	}})
}

func TestAlertEngine_FiresAfterConsecutiveBreaches(t *testing.T) {
	fs := store.NewFakeStore()
	var id uint64 = 1
	for m := 50; m >= 11; m-- {
		seedAt(fs, id, "checkout", "latency_ms", m, 100)
		id++
	}

	repo := alertstore.NewFakeRepository()
	eng := NewAlertEngine(fs, repo, testAlertConfig())

	// First breach: consec_breaches=1, not enough to fire yet.
	seedAt(fs, id, "checkout", "latency_ms", 9, 900)
	id++
	require.NoError(t, eng.Evaluate(context.Background()))
	active, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)

	// Second consecutive breach: now fires.
	seedAt(fs, id, "checkout", "latency_ms", 8, 900)
	id++
	require.NoError(t, eng.Evaluate(context.Background()))
	active, err = repo.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "checkout", active[0].ServiceName)
	assert.Equal(t, alertstore.StatusFiring, active[0].Status)
}

func TestAlertEngine_SkipsWhenBaselineTooSmall(t *testing.T) {
	fs := store.NewFakeStore()
	seedAt(fs, 1, "checkout", "latency_ms", 5, 100)
	seedAt(fs, 2, "checkout", "latency_ms", 4, 100)
	seedAt(fs, 3, "checkout", "latency_ms", 1, 900)

	repo := alertstore.NewFakeRepository()
	eng := NewAlertEngine(fs, repo, testAlertConfig())

	require.NoError(t, eng.Evaluate(context.Background()))
	active, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, alertstore.SeverityInfo, severityFor(1.0, 4.0, 5.0))
	assert.Equal(t, alertstore.SeverityWarning, severityFor(4.2, 4.0, 5.0))
	assert.Equal(t, alertstore.SeverityCritical, severityFor(-5.5, 4.0, 5.0))
}

func TestMeanStddev(t *testing.T) {
	buckets := []store.Bucket{
		{Values: map[store.AggregateFunc]float64{store.FuncAvg: 10}},
		{Values: map[store.AggregateFunc]float64{store.FuncAvg: 20}},
		{Values: map[store.AggregateFunc]float64{store.FuncAvg: 30}},
	}
	mean, stddev := meanStddev(buckets)
	assert.InDelta(t, 20, mean, 0.01)
	assert.InDelta(t, math.Sqrt(200.0/3), stddev, 0.01)
}
