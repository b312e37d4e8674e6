// Package worker implements the stream worker (C4): per-partition
// consumption, adaptive batching, a circuit breaker over the storage
// adapter, retry, dead-lettering, and periodic rollups.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/krishnamouli8/vantage/pkg/apperror"
	"github.com/krishnamouli8/vantage/pkg/config"
	"github.com/krishnamouli8/vantage/pkg/logger"
	"github.com/krishnamouli8/vantage/pkg/metrics"
)

// ErrBreakerOpen is returned by Breaker.Do when the breaker is open or the
// half-open probe slot is occupied, so the caller can distinguish "do not
// even try" from an actual insert failure.
var ErrBreakerOpen = errors.New("worker: circuit breaker is open")

// Breaker wraps gobreaker.CircuitBreaker with the exact state table from
// the spec: closed forwards normally, 5 consecutive retryable failures trip
// to open, a cooldown elapses before a single half-open probe is admitted,
// and that probe's outcome decides close-vs-reopen. gobreaker only ever
// transitions half-open from open on its own ReadyToTrip/Timeout clock,
// so "closed -> half-open directly" is structurally impossible here.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker builds a Breaker from the worker's breaker configuration.
func NewBreaker(cfg config.WorkerConfig) *Breaker {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	maxRequests := cfg.BreakerMaxRequests
	if maxRequests == 0 {
		maxRequests = 1
	}

	settings := gobreaker.Settings{
		Name:        "stream-worker-store-breaker",
		MaxRequests: maxRequests,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// A fatal-classified error is dead-lettered, not retried, and must
		// not count toward the trip threshold: only retryable failures
		// indicate the dependency itself is unhealthy.
		IsSuccessful: func(err error) bool {
			return err == nil || !apperror.IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Log.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			metrics.Get().SetBreakerState("0", stateToInt(to))
		},
	}

	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Do runs fn through the breaker. fn should return a retryable-classified
// error for failures that should count toward the trip threshold, and a
// fatal-classified error (or nil) for outcomes that should not.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrBreakerOpen
	}
	return err
}

// State returns the breaker's current state as a string for health probes.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

func stateToInt(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
