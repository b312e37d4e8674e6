package alertstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeRepository_UpsertAndGetFiring(t *testing.T) {
	repo := NewFakeRepository()
	now := time.Now()

	a := &Alert{
		ServiceName:    "checkout",
		MetricName:     "latency_ms",
		Severity:       SeverityWarning,
		Status:         StatusFiring,
		CurrentValue:   900,
		ExpectedMin:    50,
		ExpectedMax:    500,
		FirstTriggered: now,
		LastTriggered:  now,
	}
	require.NoError(t, repo.Upsert(context.Background(), a))
	assert.NotEmpty(t, a.AlertID)

	got, err := repo.GetFiring(context.Background(), "checkout", "latency_ms")
	require.NoError(t, err)
	assert.Equal(t, a.AlertID, got.AlertID)
	assert.Equal(t, StatusFiring, got.Status)
}

func TestFakeRepository_GetFiringNotFound(t *testing.T) {
	repo := NewFakeRepository()
	_, err := repo.GetFiring(context.Background(), "unknown", "unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFakeRepository_Resolve(t *testing.T) {
	repo := NewFakeRepository()
	a := &Alert{ServiceName: "checkout", MetricName: "latency_ms", Status: StatusFiring, LastTriggered: time.Now()}
	require.NoError(t, repo.Upsert(context.Background(), a))

	require.NoError(t, repo.Resolve(context.Background(), a.AlertID, time.Now()))

	_, err := repo.GetFiring(context.Background(), "checkout", "latency_ms")
	assert.ErrorIs(t, err, ErrNotFound)

	active, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestFakeRepository_ListRecent(t *testing.T) {
	repo := NewFakeRepository()
	for i := 0; i < 3; i++ {
		a := &Alert{ServiceName: "checkout", MetricName: "latency_ms", Status: StatusFiring, LastTriggered: time.Now().Add(time.Duration(i) * time.Second)}
		require.NoError(t, repo.Upsert(context.Background(), a))
	}
	recent, err := repo.ListRecent(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}
