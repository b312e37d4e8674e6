package query

import (
	"context"

	"github.com/krishnamouli8/vantage/internal/query/alertstore"
	"github.com/krishnamouli8/vantage/internal/query/live"
	"github.com/krishnamouli8/vantage/internal/query/signals"
	"github.com/krishnamouli8/vantage/internal/store"
	"github.com/krishnamouli8/vantage/pkg/cache"
	"github.com/krishnamouli8/vantage/pkg/config"
	"github.com/krishnamouli8/vantage/pkg/server"
)

// Service bundles the query service's HTTP server with the background
// alert-evaluation loop for one query-service process.
type Service struct {
	http    *server.HTTPServer
	alertEg *signals.AlertEngine
	cancel  context.CancelFunc
}

// NewService wires a ready-to-Run query service.
func NewService(cfg *config.Config, st store.Store, alerts alertstore.Repository, resultCache cache.Cache) *Service {
	health := signals.NewHealthEngine(st, cfg.Health)
	alertEg := signals.NewAlertEngine(st, alerts, cfg.Alerting)
	cohort := signals.NewCohortEngine(st)

	h := NewHandler(st, alerts, health, alertEg, cohort, cfg.Query, resultCache)
	hub := live.NewHub(st, cfg.Query)

	handler := NewRouter(cfg, h, hub)

	return &Service{
		http:    server.New(cfg, "query-service", handler),
		alertEg: alertEg,
	}
}

// Run starts the HTTP server and the background alert-evaluation loop,
// blocking until shutdown.
func (s *Service) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go s.alertEg.Run(ctx)

	return s.http.Run()
}

// Shutdown stops the alert-evaluation loop and the HTTP server.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.http.Shutdown(ctx)
}
