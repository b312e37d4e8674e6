package alertstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FakeRepository is an in-memory Repository for tests.
type FakeRepository struct {
	mu     sync.Mutex
	alerts map[string]*Alert
}

// NewFakeRepository returns an empty FakeRepository.
func NewFakeRepository() *FakeRepository {
	return &FakeRepository{alerts: make(map[string]*Alert)}
}

func (f *FakeRepository) GetFiring(_ context.Context, serviceName, metricName string) (*Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var best *Alert
	for _, a := range f.alerts {
		if a.ServiceName != serviceName || a.MetricName != metricName || a.Status != StatusFiring {
			continue
		}
		if best == nil || a.LastTriggered.After(best.LastTriggered) {
			best = a
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (f *FakeRepository) Upsert(_ context.Context, a *Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if a.AlertID == "" {
		a.AlertID = uuid.NewString()
	}
	cp := *a
	f.alerts[a.AlertID] = &cp
	return nil
}

func (f *FakeRepository) Resolve(_ context.Context, alertID string, resolvedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.alerts[alertID]
	if !ok {
		return ErrNotFound
	}
	a.Status = StatusResolved
	t := resolvedAt
	a.ResolvedAt = &t
	return nil
}

func (f *FakeRepository) ListRecent(_ context.Context, limit int) ([]*Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	out := f.allSorted()
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *FakeRepository) ListActive(_ context.Context) ([]*Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*Alert
	for _, a := range f.allSorted() {
		if a.Status == StatusFiring {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *FakeRepository) allSorted() []*Alert {
	out := make([]*Alert, 0, len(f.alerts))
	for _, a := range f.alerts {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastTriggered.After(out[j].LastTriggered)
	})
	return out
}
