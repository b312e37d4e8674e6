package worker

import (
	"context"
	"time"

	"github.com/krishnamouli8/vantage/internal/bus"
	"github.com/krishnamouli8/vantage/internal/store"
	"github.com/krishnamouli8/vantage/pkg/apperror"
	"github.com/krishnamouli8/vantage/pkg/config"
	"github.com/krishnamouli8/vantage/pkg/logger"
	"github.com/krishnamouli8/vantage/pkg/metrics"
	"github.com/krishnamouli8/vantage/pkg/telemetry"
)

// DeadLetter is where fatal-classified batches are quarantined instead of
// retried. The stream worker commits their offsets (they will never
// succeed) after recording them here.
type DeadLetter interface {
	Put(ctx context.Context, reason string, rows []store.Row) error
}

// Worker consumes one subscription from the bus, batches records, and
// writes them through the breaker-guarded store, applying the spec's
// retry/backpressure/dead-letter rules uniformly across every partition it
// is assigned (Sarama's consumer group fans partitions into the same
// subscription channel, so one Worker instance already services all of
// them concurrently without per-partition goroutines of its own).
type Worker struct {
	bus     bus.Bus
	store   store.Store
	dlq     DeadLetter
	cfg     config.WorkerConfig
	breaker *Breaker
	idSeq   idSequence
}

// NewWorker wires a Worker from its dependencies.
func NewWorker(b bus.Bus, st store.Store, dlq DeadLetter, cfg config.WorkerConfig) *Worker {
	return &Worker{
		bus:     b,
		store:   st,
		dlq:     dlq,
		cfg:     cfg,
		breaker: NewBreaker(cfg),
	}
}

// breakerProbeInterval is how often Run retries a flush while paused on an
// open breaker. gobreaker itself gates whether that retry is actually
// admitted as the half-open probe; most of these calls just observe
// ErrBreakerOpen again.
const breakerProbeInterval = 2 * time.Second

// Run subscribes to group and processes records until ctx is cancelled, at
// which point it flushes any partial batch before returning. While the
// breaker is open, Run stops reading from records entirely so the bus
// retains the buffer instead of the worker growing one locally.
func (w *Worker) Run(ctx context.Context, group string) error {
	records, err := w.bus.Subscribe(ctx, group)
	if err != nil {
		return err
	}

	acc := newAccumulator()
	maxWait := w.cfg.BatchMaxWait
	if maxWait <= 0 {
		maxWait = time.Second
	}

	ticker := time.NewTicker(maxWait)
	defer ticker.Stop()

	probeTicker := time.NewTicker(breakerProbeInterval)
	defer probeTicker.Stop()

	var lag int64
	paused := false

	for {
		if paused {
			select {
			case <-ctx.Done():
				return nil
			case <-probeTicker.C:
				if w.flush(ctx, acc) {
					paused = false
				}
			}
			continue
		}

		select {
		case <-ctx.Done():
			w.flush(context.Background(), acc)
			return nil

		case rec, ok := <-records:
			if !ok {
				w.flush(context.Background(), acc)
				return nil
			}

			row, err := decodeRecord(rec, &w.idSeq)
			if err != nil {
				logger.Log.Error("worker: failed to decode record, dropping", "error", err)
				continue
			}
			acc.add(row, rec)

			target := targetBatchSize(w.cfg, lag)
			if acc.shouldFlush(target, maxWait) {
				if !w.flush(ctx, acc) {
					paused = true
				}
			}

		case <-ticker.C:
			if acc.age() >= maxWait {
				if !w.flush(ctx, acc) {
					paused = true
				}
			}
		}
	}
}

// flush writes acc's rows through the breaker and commits offsets on
// success (or on a fatal-but-dead-lettered outcome). It returns true when
// the batch was cleared (inserted or dead-lettered) and false when it must
// be retained — either because the breaker is open or because the insert
// failed with a retryable error; the caller pauses consumption in both
// retained cases until a probe clears the backlog.
func (w *Worker) flush(ctx context.Context, acc *accumulator) bool {
	if acc.size() == 0 {
		return true
	}

	ctx, span := telemetry.StartSpan(ctx, "Worker.flush")
	defer span.End()

	rows := acc.rows
	records := acc.records

	err := w.breaker.Do(ctx, func(ctx context.Context) error {
		return w.insertWithRetry(ctx, rows)
	})

	switch {
	case err == nil:
		w.commitAll(ctx, records)
		acc.reset()
		return true

	case err == ErrBreakerOpen:
		logger.Log.Warn("worker: breaker open, holding batch", "size", acc.size())
		// Retained: do not reset, do not commit.
		return false

	case apperror.Is(err, apperror.CodeDependencyFatal):
		logger.Log.Error("worker: fatal insert failure, dead-lettering batch", "size", len(rows), "error", err)
		if w.dlq != nil {
			if dlqErr := w.dlq.Put(ctx, err.Error(), rows); dlqErr != nil {
				logger.Log.Error("worker: failed to write dead letter", "error", dlqErr)
			}
		}
		metrics.Get().RecordDeadLettered()
		w.commitAll(ctx, records)
		acc.reset()
		return true

	default:
		logger.Log.Error("worker: insert failed after retries, breaker will count it", "error", err)
		// Retained: a retryable failure here means the breaker's
		// ReadyToTrip already observed a failure this flush; the batch
		// is retried on the next iteration.
		return false
	}
}

// insertWithRetry retries a retryable InsertRows failure in place, doubling
// cfg.RetryBackoff (default 2s, so 2s/4s/8s) for cfg.MaxRetries attempts
// (default 3) before returning it to the breaker. A fatal failure returns
// immediately without retrying.
func (w *Worker) insertWithRetry(ctx context.Context, rows []store.Row) error {
	maxRetries := w.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	backoff := w.cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return apperror.Wrap(ctx.Err(), apperror.CodeCancelled, "insert retry cancelled")
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		err := w.store.InsertRows(ctx, rows)
		if err == nil {
			return nil
		}
		lastErr = err
		if !apperror.IsRetryable(err) {
			return err
		}
	}
	return lastErr
}

func (w *Worker) commitAll(ctx context.Context, records []bus.Record) {
	for _, rec := range records {
		if err := w.bus.CommitOffset(ctx, rec); err != nil {
			logger.Log.Error("worker: failed to commit offset", "partition", rec.Partition, "offset", rec.Offset, "error", err)
		}
	}
}

// BreakerState exposes the breaker's current state for health probes.
func (w *Worker) BreakerState() string {
	return w.breaker.State()
}
