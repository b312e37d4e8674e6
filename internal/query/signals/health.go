// Package signals implements the derived-signal engine: health scores,
// adaptive alerting, and cohort (A/B) comparison, all computed from C2
// aggregate queries rather than duplicating any raw-row bookkeeping.
package signals

import (
	"context"
	"math"
	"time"

	"github.com/krishnamouli8/vantage/internal/store"
	"github.com/krishnamouli8/vantage/pkg/config"
)

// HealthStatus names a score band.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusWarning  HealthStatus = "warning"
	StatusCritical HealthStatus = "critical"
)

// HealthScore is one service's computed score over its evaluation window.
type HealthScore struct {
	ServiceName      string
	OverallScore     float64
	ErrorRateScore   float64
	LatencyScore     float64
	TrafficScore     float64
	ErrorRate        float64
	P95LatencyMs     float64
	RequestCount     int64
	Status           HealthStatus
}

// HealthEngine computes HealthScore for services from C2 aggregate queries.
type HealthEngine struct {
	store store.Store
	cfg   config.HealthConfig
}

// NewHealthEngine builds a HealthEngine over st using cfg's scoring
// constants.
func NewHealthEngine(st store.Store, cfg config.HealthConfig) *HealthEngine {
	if cfg.ErrRef == 0 {
		cfg.ErrRef = 0.05
	}
	if cfg.LatRefHi == 0 {
		cfg.LatRefLo = 100
		cfg.LatRefHi = 1000
	}
	if cfg.TrafficRef == 0 {
		cfg.TrafficRef = 10000
	}
	if cfg.WeightError == 0 && cfg.WeightLat == 0 && cfg.WeightTraffic == 0 {
		cfg.WeightError, cfg.WeightLat, cfg.WeightTraffic = 0.5, 0.3, 0.2
	}
	return &HealthEngine{store: st, cfg: cfg}
}

// Score computes serviceName's health score over the trailing window
// duration (default 5 minutes).
func (h *HealthEngine) Score(ctx context.Context, serviceName string, window time.Duration) (HealthScore, error) {
	if window <= 0 {
		window = 5 * time.Minute
	}
	now := time.Now()
	tw := store.TimeWindow{Start: now.Add(-window), End: now}

	buckets, err := h.store.QueryAggregates(ctx, store.Filter{ServiceName: serviceName}, tw, window, "",
		[]store.AggregateFunc{store.FuncCount, store.FuncP95})
	if err != nil {
		return HealthScore{}, err
	}

	var requestCount, errorCount int64
	var p95 float64
	for _, b := range buckets {
		requestCount += b.Count
		errorCount += b.ErrorCount
		if v, ok := b.Values[store.FuncP95]; ok {
			p95 = v
		}
	}

	errorRate := float64(errorCount) / math.Max(float64(requestCount), 1)
	errorScore := 100 * (1 - clamp(errorRate/h.cfg.ErrRef, 0, 1))
	latencyScore := 100 * (1 - clamp((p95-h.cfg.LatRefLo)/(h.cfg.LatRefHi-h.cfg.LatRefLo), 0, 1))
	trafficScore := 100 * clamp(math.Log10(1+float64(requestCount))/math.Log10(1+h.cfg.TrafficRef), 0, 1)

	overall := clamp(h.cfg.WeightError*errorScore+h.cfg.WeightLat*latencyScore+h.cfg.WeightTraffic*trafficScore, 0, 100)

	return HealthScore{
		ServiceName:    serviceName,
		OverallScore:   overall,
		ErrorRateScore: errorScore,
		LatencyScore:   latencyScore,
		TrafficScore:   trafficScore,
		ErrorRate:      errorRate,
		P95LatencyMs:   p95,
		RequestCount:   requestCount,
		Status:         statusFor(overall),
	}, nil
}

// ScoreAll computes HealthScore for every service known to the store in
// the last 24 hours.
func (h *HealthEngine) ScoreAll(ctx context.Context, window time.Duration) ([]HealthScore, error) {
	services, err := h.store.ListServices(ctx, 24*time.Hour)
	if err != nil {
		return nil, err
	}
	out := make([]HealthScore, 0, len(services))
	for _, svc := range services {
		score, err := h.Score(ctx, svc, window)
		if err != nil {
			continue
		}
		out = append(out, score)
	}
	return out, nil
}

func statusFor(overall float64) HealthStatus {
	switch {
	case overall >= 80:
		return StatusHealthy
	case overall >= 50:
		return StatusWarning
	default:
		return StatusCritical
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
