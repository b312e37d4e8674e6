package signals

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krishnamouli8/vantage/internal/store"
	"github.com/krishnamouli8/vantage/pkg/config"
)

var seedRowsIDCounter uint64

func seedRows(fs *store.FakeStore, serviceName string, n int, statusCode int, durationMs float64) {
	now := time.Now()
	for i := 0; i < n; i++ {
		seedRowsIDCounter++
		_ = fs.InsertRows(context.Background(), []store.Row{{
			ID:          seedRowsIDCounter,
			Timestamp:   now.Add(-time.Duration(i) * time.Second),
			ServiceName: serviceName,
			MetricName:  "request_duration",
			Value:       durationMs,
			StatusCode:  statusCode,
			DurationMs:  durationMs,
		}})
	}
}

func TestHealthEngine_HealthyService(t *testing.T) {
	fs := store.NewFakeStore()
	seedRows(fs, "checkout", 200, 200, 50)

	h := NewHealthEngine(fs, config.HealthConfig{})
	score, err := h.Score(context.Background(), "checkout", 5*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, StatusHealthy, score.Status)
	assert.InDelta(t, 100, score.ErrorRateScore, 0.01)
}

func TestHealthEngine_CriticalOnHighErrorRate(t *testing.T) {
	fs := store.NewFakeStore()
	seedRows(fs, "checkout", 50, 500, 50)

	h := NewHealthEngine(fs, config.HealthConfig{})
	score, err := h.Score(context.Background(), "checkout", 5*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, StatusCritical, score.Status)
	assert.InDelta(t, 1.0, score.ErrorRate, 0.01)
}

func TestHealthEngine_ScoreAll(t *testing.T) {
	fs := store.NewFakeStore()
	seedRows(fs, "checkout", 10, 200, 50)
	seedRows(fs, "payments", 10, 200, 50)

	h := NewHealthEngine(fs, config.HealthConfig{})
	scores, err := h.ScoreAll(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	assert.Len(t, scores, 2)
}
