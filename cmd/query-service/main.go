package main

import (
	"context"

	"github.com/krishnamouli8/vantage/internal/query"
	"github.com/krishnamouli8/vantage/internal/query/alertstore"
	"github.com/krishnamouli8/vantage/internal/store"
	"github.com/krishnamouli8/vantage/pkg/cache"
	"github.com/krishnamouli8/vantage/pkg/config"
	"github.com/krishnamouli8/vantage/pkg/database"
	"github.com/krishnamouli8/vantage/pkg/logger"
	"github.com/krishnamouli8/vantage/pkg/metrics"
	"github.com/krishnamouli8/vantage/pkg/telemetry"
)

func main() {
	cfg, err := config.LoadWithServiceDefaults("query-service", 8083)
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

	st, err := store.NewClickHouseStore(ctx, cfg.Store)
	if err != nil {
		logger.Fatal("failed to connect to time-series store", "error", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Log.Warn("failed to close time-series store", "error", err)
		}
	}()

	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to alert store database", "error", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(ctx, db.Pool(), &cfg.Database, alertstore.Migrations, alertstore.MigrationsDir); err != nil {
			logger.Fatal("failed to run alert store migrations", "error", err)
		}
	}

	alerts := alertstore.NewPostgresRepository(db)

	var resultCache cache.Cache
	if cfg.Query.ResultCacheTTL > 0 {
		resultCache, err = cache.New(cache.FromConfig(&cfg.Cache))
		if err != nil {
			logger.Log.Warn("failed to build result cache, continuing without it", "error", err)
			resultCache = nil
		}
	}

	svc := query.NewService(cfg, st, alerts, resultCache)

	logger.Info("starting query service",
		"port", cfg.HTTP.Port,
		"environment", cfg.App.Environment,
		"version", cfg.App.Version,
	)

	if err := svc.Run(); err != nil {
		logger.Fatal("query service failed", "error", err)
	}
}
