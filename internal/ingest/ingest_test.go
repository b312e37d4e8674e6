package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krishnamouli8/vantage/internal/bus"
	"github.com/krishnamouli8/vantage/pkg/apperror"
	"github.com/krishnamouli8/vantage/pkg/config"
)

func testGateway(t *testing.T) (*Gateway, *bus.FakeBus) {
	t.Helper()
	fb := bus.NewFakeBus()
	cfg := config.IngestConfig{MaxBatchSamples: 10, ReservoirSize: 10, PreaggShards: 0}
	gw := NewGateway(cfg, fb, NewAdmission(nil, false), func() bool { return true })
	return gw, fb
}

func TestHandleIngest_Accepted(t *testing.T) {
	gw, fb := testGateway(t)

	env := BatchEnvelope{
		ServiceName: "checkout-svc",
		Metrics: []Sample{
			{Timestamp: time.Now(), ServiceName: "checkout-svc", MetricName: "http.duration", MetricType: "gauge", Value: 42.0},
		},
	}
	body, _ := json.Marshal(env)

	req := httptest.NewRequest(http.MethodPost, "/v1/metrics", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	gw.HandleIngest(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, fb.Published(), 1)
}

func TestHandleIngest_RejectsNonFiniteValue(t *testing.T) {
	gw, fb := testGateway(t)

	env := BatchEnvelope{
		ServiceName: "checkout-svc",
		Metrics: []Sample{
			{Timestamp: time.Now(), ServiceName: "checkout-svc", MetricName: "http.duration", MetricType: "gauge", Value: math.NaN()},
		},
	}
	body, _ := json.Marshal(env)

	req := httptest.NewRequest(http.MethodPost, "/v1/metrics", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	gw.HandleIngest(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ValidationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "non_finite", resp.Errors[0].Code)
	assert.Equal(t, 0, resp.Errors[0].Index)
	assert.Empty(t, fb.Published())
}

func TestHandleIngest_BatchTooLarge(t *testing.T) {
	gw, _ := testGateway(t)

	samples := make([]Sample, 11)
	for i := range samples {
		samples[i] = Sample{Timestamp: time.Now(), ServiceName: "svc", MetricName: "m", MetricType: "gauge", Value: 1}
	}
	env := BatchEnvelope{ServiceName: "svc", Metrics: samples}
	body, _ := json.Marshal(env)

	req := httptest.NewRequest(http.MethodPost, "/v1/metrics", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	gw.HandleIngest(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestValidator_RejectsInvalidServiceName(t *testing.T) {
	v := NewValidator(config.IngestConfig{})
	env := &BatchEnvelope{
		Metrics: []Sample{
			{Timestamp: time.Now(), ServiceName: "bad name!", MetricName: "m", MetricType: "gauge", Value: 1},
		},
	}
	result := v.ValidateSamples(env)
	require.True(t, result.HasErrors())
}

func TestPreaggBuffer_AggregatesByKey(t *testing.T) {
	buf := NewPreaggBuffer(4, 10)
	now := time.Now().Truncate(time.Minute)

	for _, v := range []float64{10, 20, 30} {
		ok := buf.Add(Sample{Timestamp: now, ServiceName: "svc", MetricName: "latency", MetricType: "gauge", Endpoint: "/checkout", Value: v})
		require.True(t, ok)
	}

	noEndpoint := buf.Add(Sample{Timestamp: now, ServiceName: "svc", MetricName: "latency", MetricType: "gauge", Value: 5})
	assert.False(t, noEndpoint)

	flushed := buf.Flush()
	require.Len(t, flushed, 1)
	assert.InDelta(t, 20.0, flushed[0].Value, 0.001)
	assert.Equal(t, "3", flushed[0].Tags["agg_count"])
	assert.Equal(t, "20", flushed[0].Tags["agg_p50"])
	assert.Equal(t, "20", flushed[0].Tags["agg_p95"])
	assert.Equal(t, "20", flushed[0].Tags["agg_p99"])

	assert.Empty(t, buf.Flush())
}

func TestReservoir_Percentiles(t *testing.T) {
	r := newReservoir(100)
	for i := 1; i <= 100; i++ {
		r.add(float64(i))
	}
	p50, p95, p99 := r.percentiles()
	assert.InDelta(t, 50, p50, 1)
	assert.InDelta(t, 95, p95, 1)
	assert.InDelta(t, 99, p99, 1)
}

func TestReservoir_PercentilesEmpty(t *testing.T) {
	r := newReservoir(10)
	p50, p95, p99 := r.percentiles()
	assert.Equal(t, 0.0, p50)
	assert.Equal(t, 0.0, p95)
	assert.Equal(t, 0.0, p99)
}

func TestReservoir_NeverExceedsCapacity(t *testing.T) {
	r := newReservoir(5)
	for i := 0; i < 1000; i++ {
		r.add(float64(i))
	}
	assert.Len(t, r.values, 5)
	assert.Equal(t, 1000, r.seen)
}

func TestPublisher_PublishesOnFirstAttempt(t *testing.T) {
	fb := bus.NewFakeBus()
	p := NewPublisher(fb)

	err := p.Publish(context.Background(), "svc", []Sample{{ServiceName: "svc", MetricName: "m", Value: 1}}, false, 0)
	require.NoError(t, err)
	assert.Len(t, fb.Published(), 1)
}

func TestPublisher_ExhaustsRetryBudget(t *testing.T) {
	fb := bus.NewFakeBus()
	fb.PublishErr = apperror.Wrap(errors.New("connection refused"), apperror.CodeDependencyRetryable, "bus unavailable")
	p := NewPublisher(fb)

	start := time.Now()
	err := p.Publish(context.Background(), "svc", []Sample{{ServiceName: "svc", MetricName: "m", Value: 1}}, false, 0)
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestAdmission_AllowsWhenLimiterDisabled(t *testing.T) {
	a := NewAdmission(nil, false)
	require.NoError(t, a.Allow(context.Background(), "any"))
}
