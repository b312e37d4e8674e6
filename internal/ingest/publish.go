package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/krishnamouli8/vantage/internal/bus"
	"github.com/krishnamouli8/vantage/pkg/apperror"
	"github.com/krishnamouli8/vantage/pkg/metrics"
	"github.com/krishnamouli8/vantage/pkg/telemetry"
)

// wireSample is the self-describing payload published to the bus: it is
// just Sample with an aggregated/resolution_minutes annotation so the
// stream worker can tell raw samples from pre-aggregated ones without a
// side channel.
type wireSample struct {
	Sample
	Aggregated        bool `json:"aggregated"`
	ResolutionMinutes int  `json:"resolution_minutes"`
}

var backoffSchedule = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}

const maxPublishAttempts = 3
const backoffCap = 2 * time.Second

// Publisher serializes samples and publishes them to the bus with
// exponential backoff on retryable failures.
type Publisher struct {
	bus bus.Bus
}

// NewPublisher wraps b.
func NewPublisher(b bus.Bus) *Publisher {
	return &Publisher{bus: b}
}

// Publish serializes samples (raw or pre-aggregated) and publishes them
// keyed by serviceName, retrying retryable failures up to maxPublishAttempts
// times with capped exponential backoff. Returns apperror.CodeDependencyRetryable
// (mapped to 503 by the handler) if the budget is exhausted.
func (p *Publisher) Publish(ctx context.Context, serviceName string, samples []Sample, aggregated bool, resolutionMinutes int) error {
	ctx, span := telemetry.StartSpan(ctx, "Publisher.Publish")
	defer span.End()

	payloads := make([][]byte, 0, len(samples))
	for _, s := range samples {
		w := wireSample{Sample: s, Aggregated: aggregated, ResolutionMinutes: resolutionMinutes}
		b, err := json.Marshal(w)
		if err != nil {
			return apperror.Wrap(err, apperror.CodeInternal, "failed to serialize sample")
		}
		payloads = append(payloads, b)
	}

	var lastErr error
	start := time.Now()
	for attempt := 0; attempt < maxPublishAttempts; attempt++ {
		if attempt > 0 {
			wait := backoffSchedule[minInt(attempt-1, len(backoffSchedule)-1)]
			if wait > backoffCap {
				wait = backoffCap
			}
			select {
			case <-ctx.Done():
				return apperror.Wrap(ctx.Err(), apperror.CodeCancelled, "publish cancelled")
			case <-time.After(wait):
			}
		}

		err := p.bus.PublishBatch(ctx, []byte(serviceName), payloads)
		if err == nil {
			metrics.Get().RecordPublish("ok", time.Since(start))
			return nil
		}

		lastErr = err
		if !apperror.IsRetryable(err) {
			metrics.Get().RecordPublish("error", time.Since(start))
			return err
		}
	}

	metrics.Get().RecordPublish("error", time.Since(start))
	return apperror.Wrap(lastErr, apperror.CodeDependencyRetryable, "publish retry budget exhausted")
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
