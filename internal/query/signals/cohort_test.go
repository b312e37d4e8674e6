package signals

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krishnamouli8/vantage/internal/store"
)

func seedCohort(fs *store.FakeStore, idStart uint64, serviceName string, n int, value float64) uint64 {
	id := idStart
	for i := 1; i <= n; i++ {
		_ = fs.InsertRows(context.Background(), []store.Row{{
			ID:          id,
			Timestamp:   time.Now().Add(-time.Duration(i) * time.Minute),
			ServiceName: serviceName,
			MetricName:  "request_duration",
			Value:       value,
		}})
		id++
	}
	return id
}

func TestCohortEngine_DeploysOnSignificantImprovement(t *testing.T) {
	fs := store.NewFakeStore()
	next := seedCohort(fs, 1, "checkout-control", 40, 200)
	seedCohort(fs, next, "checkout-candidate", 40, 100)

	eng := NewCohortEngine(fs)
	cmp, err := eng.Compare(context.Background(), "checkout-control", "checkout-candidate", "request_duration", time.Hour)
	require.NoError(t, err)

	assert.True(t, cmp.Significant)
	assert.Equal(t, RecommendDeploy, cmp.Recommendation)
	assert.InDelta(t, 50, cmp.ImprovementPct, 1.0)
}

func TestCohortEngine_HoldsOnNoSignal(t *testing.T) {
	fs := store.NewFakeStore()
	next := seedCohort(fs, 1, "checkout-control", 40, 100)
	seedCohort(fs, next, "checkout-candidate", 40, 100.5)

	eng := NewCohortEngine(fs)
	cmp, err := eng.Compare(context.Background(), "checkout-control", "checkout-candidate", "request_duration", time.Hour)
	require.NoError(t, err)

	assert.False(t, cmp.Significant)
	assert.Equal(t, RecommendHold, cmp.Recommendation)
}

func TestCohortEngine_InsufficientSamplesIsNotSignificant(t *testing.T) {
	fs := store.NewFakeStore()
	next := seedCohort(fs, 1, "checkout-control", 5, 200)
	seedCohort(fs, next, "checkout-candidate", 5, 100)

	eng := NewCohortEngine(fs)
	cmp, err := eng.Compare(context.Background(), "checkout-control", "checkout-candidate", "request_duration", time.Hour)
	require.NoError(t, err)

	assert.False(t, cmp.Significant)
}
