package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/krishnamouli8/vantage/internal/bus"
	"github.com/krishnamouli8/vantage/pkg/config"
	"github.com/krishnamouli8/vantage/pkg/logger"
	"github.com/krishnamouli8/vantage/pkg/ratelimit"
	"github.com/krishnamouli8/vantage/pkg/server"
)

// Service bundles the HTTP server with the background pre-aggregation
// flush loop for one ingest-gateway process.
type Service struct {
	http   *server.HTTPServer
	gw     *Gateway
	cfg    *config.Config
	bus    bus.Bus
	ready  int32
	cancel context.CancelFunc
}

// NewService wires a ready-to-Run ingest gateway.
func NewService(cfg *config.Config, b bus.Bus) (*Service, error) {
	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		var err error
		limiter, err = ratelimit.New(&ratelimit.Config{
			Requests:        cfg.RateLimit.Requests,
			Window:          cfg.RateLimit.Window,
			Strategy:        cfg.RateLimit.Strategy,
			Backend:         cfg.RateLimit.Backend,
			BurstSize:       cfg.RateLimit.BurstSize,
			CleanupInterval: cfg.RateLimit.CleanupInterval,
			RedisAddr:       cfg.RateLimit.RedisAddr,
		})
		if err != nil {
			logger.Log.Warn("failed to build admission-control limiter, continuing without it", "error", err)
		}
	}

	svc := &Service{cfg: cfg, bus: b}
	svc.ready = 1

	admission := NewAdmission(limiter, cfg.HTTP.AuthEnabled)
	gw := NewGateway(cfg.Ingest, b, admission, func() bool { return atomic.LoadInt32(&svc.ready) == 1 })
	svc.gw = gw

	handler := NewRouter(cfg, gw)
	svc.http = server.New(cfg, "ingest-gateway", handler)

	return svc, nil
}

// Run starts the HTTP server and the periodic pre-aggregation flush loop,
// blocking until shutdown.
func (s *Service) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	interval := s.cfg.Ingest.PreaggFlushInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if s.cfg.Ingest.PreaggShards > 0 {
		go s.flushLoop(ctx, interval)
	}

	return s.http.Run()
}

func (s *Service) flushLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.gw.FlushPreagg()
		}
	}
}

// Shutdown stops the flush loop and the HTTP server.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.http.Shutdown(ctx)
}
