package main

import (
	"context"

	"github.com/krishnamouli8/vantage/internal/bus"
	"github.com/krishnamouli8/vantage/internal/ingest"
	"github.com/krishnamouli8/vantage/pkg/config"
	"github.com/krishnamouli8/vantage/pkg/logger"
	"github.com/krishnamouli8/vantage/pkg/metrics"
	"github.com/krishnamouli8/vantage/pkg/telemetry"
)

func main() {
	cfg, err := config.LoadWithServiceDefaults("ingest-gateway", 8081)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger.InitWithConfig(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	ctx := context.Background()

	if cfg.Tracing.Enabled {
		tp, err := telemetry.Init(ctx, telemetry.Config{
			Enabled:     cfg.Tracing.Enabled,
			Endpoint:    cfg.Tracing.Endpoint,
			ServiceName: cfg.App.Name,
			Version:     cfg.App.Version,
			Environment: cfg.App.Environment,
			SampleRate:  cfg.Tracing.SampleRate,
		})
		if err != nil {
			logger.Log.Warn("failed to init telemetry", "error", err)
		} else {
			defer func() {
				if err := tp.Shutdown(context.Background()); err != nil {
					logger.Log.Warn("failed to shutdown telemetry", "error", err)
				}
			}()
		}
	}

	metrics.InitMetrics(cfg.Metrics.Namespace, cfg.App.Name)

	b, err := bus.NewSaramaBus(cfg.Bus)
	if err != nil {
		logger.Fatal("failed to connect to message bus", "error", err)
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Log.Warn("failed to close message bus", "error", err)
		}
	}()

	svc, err := ingest.NewService(cfg, b)
	if err != nil {
		logger.Fatal("failed to build ingest gateway", "error", err)
	}

	logger.Info("starting ingest gateway",
		"port", cfg.HTTP.Port,
		"environment", cfg.App.Environment,
		"version", cfg.App.Version,
	)

	if err := svc.Run(); err != nil {
		logger.Fatal("ingest gateway failed", "error", err)
	}
}
