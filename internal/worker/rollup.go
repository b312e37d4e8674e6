package worker

import (
	"context"
	"strconv"
	"time"

	"github.com/krishnamouli8/vantage/internal/store"
	"github.com/krishnamouli8/vantage/pkg/config"
	"github.com/krishnamouli8/vantage/pkg/logger"
	"github.com/krishnamouli8/vantage/pkg/metrics"
)

// rollupFuncs is the fixed set of aggregates materialized into each rollup
// granularity; percentile functions are carried through unweighted across
// re-aggregation passes, an accepted approximation recorded in DESIGN.md.
var rollupFuncs = []store.AggregateFunc{
	store.FuncAvg, store.FuncSum, store.FuncMin, store.FuncMax, store.FuncCount,
	store.FuncP50, store.FuncP95, store.FuncP99,
}

// Rollup periodically materializes hourly and daily aggregates from raw (or
// lower-granularity rollup) rows, one bucket series per (service, metric)
// pair. Endpoint/method/status_code are collapsed out of rollups to keep
// long-term retention bounded; only the service+metric+time axis survives
// past the raw retention window. Expiry of source data is left entirely to
// the store's TTL clauses; Rollup never issues a delete.
type Rollup struct {
	store store.Store
	cfg   config.WorkerConfig
}

// NewRollup builds a Rollup over st using cfg's cadence settings.
func NewRollup(st store.Store, cfg config.WorkerConfig) *Rollup {
	return &Rollup{store: st, cfg: cfg}
}

// Run ticks the hourly and daily rollup tasks independently until ctx is
// cancelled.
func (r *Rollup) Run(ctx context.Context) {
	hourlyEvery := r.cfg.RollupHourlyCron
	if hourlyEvery <= 0 {
		hourlyEvery = time.Hour
	}
	dailyEvery := r.cfg.RollupDailyCron
	if dailyEvery <= 0 {
		dailyEvery = 24 * time.Hour
	}

	hourlyTicker := time.NewTicker(hourlyEvery)
	dailyTicker := time.NewTicker(dailyEvery)
	defer hourlyTicker.Stop()
	defer dailyTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-hourlyTicker.C:
			r.runOnce(ctx, "hourly", time.Hour, hourlyEvery)
		case <-dailyTicker.C:
			r.runOnce(ctx, "daily", 24*time.Hour, dailyEvery)
		}
	}
}

// runOnce materializes one rollup pass over the lookback window that just
// elapsed, for every (service, metric) pair with data in that window.
func (r *Rollup) runOnce(ctx context.Context, granularity string, bucketWidth, lookback time.Duration) {
	start := time.Now()
	window := store.TimeWindow{Start: start.Add(-lookback), End: start}

	services, err := r.store.ListServices(ctx, lookback)
	if err != nil {
		logger.Log.Error("rollup: list services failed", "granularity", granularity, "error", err)
		return
	}

	var allRows []store.Row
	for _, svc := range services {
		metricNames, err := r.store.ListMetrics(ctx, svc, lookback)
		if err != nil {
			logger.Log.Error("rollup: list metrics failed", "granularity", granularity, "service", svc, "error", err)
			continue
		}
		for _, metric := range metricNames {
			filter := store.Filter{ServiceName: svc, MetricName: metric}
			buckets, err := r.store.QueryAggregates(ctx, filter, window, bucketWidth, "", rollupFuncs)
			if err != nil {
				logger.Log.Error("rollup: query failed", "granularity", granularity, "service", svc, "metric", metric, "error", err)
				continue
			}
			allRows = append(allRows, bucketsToRows(buckets, svc, metric, granularity, bucketWidth)...)
		}
	}

	if len(allRows) == 0 {
		return
	}
	if err := r.store.InsertRows(ctx, allRows); err != nil {
		logger.Log.Error("rollup: insert failed", "granularity", granularity, "error", err)
		return
	}

	metrics.Get().RecordRollup(granularity, time.Since(start))
	logger.Log.Info("rollup: materialized", "granularity", granularity, "rows", len(allRows))
}

func bucketsToRows(buckets []store.Bucket, serviceName, metricName, granularity string, bucketWidth time.Duration) []store.Row {
	resolutionMinutes := int(bucketWidth / time.Minute)
	rows := make([]store.Row, 0, len(buckets))
	for _, b := range buckets {
		row := store.Row{
			ID:                rollupRowID(serviceName, metricName, granularity, b.BucketStart),
			Timestamp:         b.BucketStart,
			ServiceName:       serviceName,
			MetricName:        metricName,
			Aggregated:        true,
			ResolutionMinutes: resolutionMinutes,
			Tags: map[string]string{
				"agg_count":       strconv.FormatInt(b.Count, 10),
				"agg_error_count": strconv.FormatInt(b.ErrorCount, 10),
			},
		}
		if v, ok := b.Values[store.FuncAvg]; ok {
			row.Value = v
		}
		rows = append(rows, row)
	}
	return rows
}

// rollupRowID derives a stable ID from the series identity and bucket start
// so repeated rollup passes over the same window overwrite rather than
// duplicate (resolved at query time via the same read-time dedup as raw
// rows).
func rollupRowID(serviceName, metricName, granularity string, bucketStart time.Time) uint64 {
	h := uint64(14695981039346656037) // FNV offset basis
	for _, c := range granularity + "|" + serviceName + "|" + metricName {
		h ^= uint64(c)
		h *= 1099511628211
	}
	h ^= uint64(bucketStart.Unix())
	h *= 1099511628211
	return h
}
