package worker

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/krishnamouli8/vantage/internal/bus"
	"github.com/krishnamouli8/vantage/internal/store"
	"github.com/krishnamouli8/vantage/pkg/config"
	"github.com/krishnamouli8/vantage/pkg/metrics"
)

// Service bundles the consumer loop, the rollup ticker, and a small health
// HTTP server for one stream-worker process.
type Service struct {
	cfg    *config.Config
	worker *Worker
	rollup *Rollup
	http   *http.Server
	cancel context.CancelFunc
}

// NewService wires a ready-to-Run stream worker.
func NewService(cfg *config.Config, b bus.Bus, st store.Store, dlq DeadLetter) *Service {
	w := NewWorker(b, st, dlq, cfg.Worker)
	r := NewRollup(st, cfg.Worker)

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/healthz", func(resp http.ResponseWriter, _ *http.Request) {
		resp.WriteHeader(http.StatusOK)
	})
	router.Get("/readyz", func(resp http.ResponseWriter, req *http.Request) {
		if w.BreakerState() == "open" {
			resp.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		resp.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", metrics.Handler())

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: router,
	}

	return &Service{cfg: cfg, worker: w, rollup: r, http: httpSrv}
}

// Run starts the consumer loop, the rollup ticker, and the health server,
// blocking until ctx is cancelled or the consumer loop exits.
func (s *Service) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go s.rollup.Run(ctx)
	go func() {
		_ = s.http.ListenAndServe()
	}()

	return s.worker.Run(ctx, s.cfg.Bus.ConsumerGroup)
}

// Shutdown stops the worker's context and the health server.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.http.Shutdown(ctx)
}
