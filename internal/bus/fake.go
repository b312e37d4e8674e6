package bus

import (
	"context"
	"sync"
)

// FakeBus is an in-memory Bus used by ingest/worker tests in place of a real
// broker. Publish appends directly to an internal queue that Subscribe
// drains; there is no actual partitioning or rebalancing.
type FakeBus struct {
	mu        sync.Mutex
	published [][]byte
	out       chan Record
	nextOff   int64
	closed    bool

	// PublishErr, when set, is returned by Publish/PublishBatch instead of
	// succeeding, to exercise the caller's retry path.
	PublishErr error
}

// NewFakeBus returns a ready-to-use fake with a buffered subscription channel.
func NewFakeBus() *FakeBus {
	return &FakeBus{out: make(chan Record, 1024)}
}

func (f *FakeBus) Publish(ctx context.Context, key, payload []byte) error {
	return f.PublishBatch(ctx, key, [][]byte{payload})
}

func (f *FakeBus) PublishBatch(_ context.Context, key []byte, payloads [][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PublishErr != nil {
		return f.PublishErr
	}
	if f.closed {
		return context.Canceled
	}

	for _, p := range payloads {
		f.published = append(f.published, p)
		rec := Record{Topic: "fake", Partition: 0, Offset: f.nextOff, Key: key, Value: p}
		f.nextOff++
		select {
		case f.out <- rec:
		default:
		}
	}
	return nil
}

func (f *FakeBus) Subscribe(_ context.Context, _ string) (<-chan Record, error) {
	return f.out, nil
}

func (f *FakeBus) CommitOffset(_ context.Context, _ Record) error {
	return nil
}

func (f *FakeBus) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.out)
	}
	return nil
}

// Published returns every payload handed to Publish/PublishBatch so far.
func (f *FakeBus) Published() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.published))
	copy(out, f.published)
	return out
}
