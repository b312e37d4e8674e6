package signals

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/krishnamouli8/vantage/internal/query/alertstore"
	"github.com/krishnamouli8/vantage/internal/store"
	"github.com/krishnamouli8/vantage/pkg/config"
	"github.com/krishnamouli8/vantage/pkg/logger"
)

const baselineBucketWidth = time.Minute

// floorFraction is the ±fraction of the baseline mean used for
// expected_min/max when the baseline's observed standard deviation is too
// small to produce a meaningful band (a near-flat series would otherwise
// fire on the slightest wobble).
const floorFraction = 0.20

// minStdFraction below which the floor fallback replaces SigmaK*sigma.
const minStdFraction = 0.02

// evalState tracks the consecutive in/out-of-band run for one
// (service, metric) pair across successive Evaluate calls, since a single
// breach or single in-bound reading must not flip an alert's state.
type evalState struct {
	consecBreaches int
	consecOK       int
}

// AlertEngine implements adaptive alerting: a rolling per-(service,metric)
// baseline, z-score severity banding, and a debounced firing/resolved state
// machine persisted through alertstore.Repository.
type AlertEngine struct {
	store store.Store
	repo  alertstore.Repository
	cfg   config.AlertingConfig

	mu    sync.Mutex
	state map[string]*evalState
}

// NewAlertEngine builds an AlertEngine over st/repo using cfg's baseline,
// threshold, and debounce knobs.
func NewAlertEngine(st store.Store, repo alertstore.Repository, cfg config.AlertingConfig) *AlertEngine {
	if cfg.BaselineWindow <= 0 {
		cfg.BaselineWindow = 7 * 24 * time.Hour
	}
	if cfg.EvalInterval <= 0 {
		cfg.EvalInterval = time.Minute
	}
	if cfg.SigmaK <= 0 {
		cfg.SigmaK = 3.0
	}
	if cfg.ZScoreWarn <= 0 {
		cfg.ZScoreWarn = 4.0
	}
	if cfg.ZScoreCritical <= 0 {
		cfg.ZScoreCritical = 5.0
	}
	if cfg.MinBaselineCount <= 0 {
		cfg.MinBaselineCount = 30
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 5 * time.Minute
	}
	if cfg.ConsecBreaches <= 0 {
		cfg.ConsecBreaches = 2
	}
	if cfg.ConsecOK <= 0 {
		cfg.ConsecOK = 3
	}
	return &AlertEngine{
		store: st,
		repo:  repo,
		cfg:   cfg,
		state: make(map[string]*evalState),
	}
}

// Run evaluates every known (service, metric) pair every cfg.EvalInterval
// until ctx is cancelled.
func (e *AlertEngine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.EvalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Evaluate(ctx); err != nil {
				logger.Log.Error("alert evaluation failed", "error", err)
			}
		}
	}
}

// Evaluate runs one pass over every service/metric pair known to the store.
func (e *AlertEngine) Evaluate(ctx context.Context) error {
	services, err := e.store.ListServices(ctx, 24*time.Hour)
	if err != nil {
		return fmt.Errorf("alerting: list services: %w", err)
	}

	for _, svc := range services {
		metrics, err := e.store.ListMetrics(ctx, svc, 24*time.Hour)
		if err != nil {
			logger.Log.Warn("alerting: list metrics failed", "service", svc, "error", err)
			continue
		}
		for _, metric := range metrics {
			if err := e.evaluateOne(ctx, svc, metric); err != nil {
				logger.Log.Warn("alerting: evaluate failed", "service", svc, "metric", metric, "error", err)
			}
		}
	}
	return nil
}

func (e *AlertEngine) evaluateOne(ctx context.Context, serviceName, metricName string) error {
	now := time.Now()
	window := store.TimeWindow{Start: now.Add(-e.cfg.BaselineWindow), End: now}

	buckets, err := e.store.QueryAggregates(ctx,
		store.Filter{ServiceName: serviceName, MetricName: metricName},
		window, baselineBucketWidth, "", []store.AggregateFunc{store.FuncAvg})
	if err != nil {
		return fmt.Errorf("query baseline: %w", err)
	}
	if len(buckets) < e.cfg.MinBaselineCount {
		return nil // not enough history yet to form a baseline
	}

	mean, stddev := meanStddev(buckets)
	current := buckets[len(buckets)-1].Values[store.FuncAvg]

	floor := floorFraction * math.Abs(mean)
	spread := e.cfg.SigmaK * stddev
	if stddev < minStdFraction*math.Abs(mean) {
		spread = floor
	}
	expectedMin := mean - spread
	expectedMax := mean + spread

	breached := current < expectedMin || current > expectedMax
	var z float64
	if stddev > 0 {
		z = (current - mean) / stddev
	}

	key := serviceName + "|" + metricName
	e.mu.Lock()
	st, ok := e.state[key]
	if !ok {
		st = &evalState{}
		e.state[key] = st
	}
	e.mu.Unlock()

	if breached {
		st.consecOK = 0
		st.consecBreaches++
	} else {
		st.consecBreaches = 0
		st.consecOK++
	}

	if breached && st.consecBreaches >= e.cfg.ConsecBreaches {
		return e.fire(ctx, serviceName, metricName, current, expectedMin, expectedMax, z, now)
	}
	if !breached && st.consecOK >= e.cfg.ConsecOK {
		return e.resolveIfFiring(ctx, serviceName, metricName, now)
	}
	return nil
}

func (e *AlertEngine) fire(ctx context.Context, serviceName, metricName string, current, expectedMin, expectedMax, z float64, now time.Time) error {
	severity := severityFor(z, e.cfg.ZScoreWarn, e.cfg.ZScoreCritical)

	existing, err := e.repo.GetFiring(ctx, serviceName, metricName)
	if err != nil && err != alertstore.ErrNotFound {
		return fmt.Errorf("get firing: %w", err)
	}

	if existing != nil && now.Sub(existing.LastTriggered) <= e.cfg.DedupWindow {
		existing.CurrentValue = current
		existing.ExpectedMin = expectedMin
		existing.ExpectedMax = expectedMax
		existing.Severity = severity
		existing.ThresholdBreachCount++
		existing.LastTriggered = now
		return e.repo.Upsert(ctx, existing)
	}

	a := &alertstore.Alert{
		ServiceName:          serviceName,
		MetricName:           metricName,
		Severity:             severity,
		Status:               alertstore.StatusFiring,
		CurrentValue:         current,
		ExpectedMin:          expectedMin,
		ExpectedMax:          expectedMax,
		ThresholdBreachCount: 1,
		FirstTriggered:       now,
		LastTriggered:        now,
	}
	return e.repo.Upsert(ctx, a)
}

func (e *AlertEngine) resolveIfFiring(ctx context.Context, serviceName, metricName string, now time.Time) error {
	existing, err := e.repo.GetFiring(ctx, serviceName, metricName)
	if err != nil {
		if err == alertstore.ErrNotFound {
			return nil
		}
		return fmt.Errorf("get firing: %w", err)
	}
	return e.repo.Resolve(ctx, existing.AlertID, now)
}

func severityFor(z, warn, critical float64) alertstore.Severity {
	az := math.Abs(z)
	switch {
	case az >= critical:
		return alertstore.SeverityCritical
	case az >= warn:
		return alertstore.SeverityWarning
	default:
		return alertstore.SeverityInfo
	}
}

func meanStddev(buckets []store.Bucket) (mean, stddev float64) {
	var sum float64
	for _, b := range buckets {
		sum += b.Values[store.FuncAvg]
	}
	mean = sum / float64(len(buckets))

	var sqDiff float64
	for _, b := range buckets {
		d := b.Values[store.FuncAvg] - mean
		sqDiff += d * d
	}
	stddev = math.Sqrt(sqDiff / float64(len(buckets)))
	return mean, stddev
}
