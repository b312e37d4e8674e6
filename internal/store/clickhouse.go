package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/krishnamouli8/vantage/pkg/apperror"
	"github.com/krishnamouli8/vantage/pkg/config"
	"github.com/krishnamouli8/vantage/pkg/logger"
	"github.com/krishnamouli8/vantage/pkg/telemetry"
)

// ClickHouseStore implements Store over database/sql, using
// clickhouse.OpenDB rather than the native driver.Conn/Batch API: the
// sql.DB pool gives the same connection-limiting and health-check
// semantics pkg/database uses for Postgres, so the rest of the codebase
// only has to reason about one pooling model.
type ClickHouseStore struct {
	db      *sql.DB
	cfg     config.StoreConfig
	inserts map[string]string // table name -> prepared INSERT SQL
}

// Resolution, in minutes, of each table's rows. 0 means raw (unaggregated).
const (
	resolutionRaw    = 0
	resolutionHourly = 60
	resolutionDaily  = 1440
)

// tableForResolution picks the physical table backing rows at the given
// resolution, the same mapping schemaDDL used to create the three tables.
func tableForResolution(resolutionMinutes int) string {
	switch {
	case resolutionMinutes >= resolutionDaily:
		return "metric_rollups_daily"
	case resolutionMinutes >= resolutionHourly:
		return "metric_rollups_hourly"
	default:
		return "metric_samples"
	}
}

// resolutionForBucketWidth maps a QueryAggregates bucket width to the rollup
// resolution whose rows are already bucketed at (or finer than) that width,
// so the query reads pre-aggregated rows instead of re-scanning raw ones.
func resolutionForBucketWidth(bucketWidth time.Duration) int {
	switch {
	case bucketWidth >= 24*time.Hour:
		return resolutionDaily
	case bucketWidth >= time.Hour:
		return resolutionHourly
	default:
		return resolutionRaw
	}
}

// NewClickHouseStore opens the pool, optionally creates the schema, and
// returns a ready Store.
func NewClickHouseStore(ctx context.Context, cfg config.StoreConfig) (*ClickHouseStore, error) {
	db := clickhouse.OpenDB(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: cfg.DialTimeout,
	})
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("store: failed to ping clickhouse: %w", err)
	}

	s := &ClickHouseStore{
		db:  db,
		cfg: cfg,
	}
	s.inserts = make(map[string]string, 3)
	for _, table := range []string{"metric_samples", "metric_rollups_hourly", "metric_rollups_daily"} {
		s.inserts[table] = fmt.Sprintf(`INSERT INTO %s.%s
			(id, timestamp, service_name, metric_name, metric_type, value, endpoint, method,
			 status_code, duration_ms, tags, trace_id, span_id, environment, aggregated, resolution_minutes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, cfg.Database, table)
	}

	if !cfg.SkipSchemaCreation {
		for _, stmt := range schemaDDL(cfg.Database, cfg.RawRetentionDays, cfg.HourlyRetentionDays, cfg.DailyRetentionDays) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				db.Close()
				return nil, fmt.Errorf("store: schema creation failed: %w", err)
			}
		}
	}

	return s, nil
}

// InsertRows implements Store. Rows are routed to metric_samples,
// metric_rollups_hourly, or metric_rollups_daily by ResolutionMinutes, so a
// rollup pass's output lands in its own table rather than back in the raw
// one it was aggregated from.
func (s *ClickHouseStore) InsertRows(ctx context.Context, rows []Row) error {
	ctx, span := telemetry.StartSpan(ctx, "ClickHouseStore.InsertRows")
	defer span.End()

	if len(rows) == 0 {
		return nil
	}

	byTable := make(map[string][]Row, 3)
	for _, r := range rows {
		table := tableForResolution(r.ResolutionMinutes)
		byTable[table] = append(byTable[table], r)
	}

	for table, tableRows := range byTable {
		if err := s.insertIntoTable(ctx, table, tableRows); err != nil {
			return err
		}
	}

	return nil
}

func (s *ClickHouseStore) insertIntoTable(ctx context.Context, table string, rows []Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyError(err)
	}

	stmt, err := tx.PrepareContext(ctx, s.inserts[table])
	if err != nil {
		_ = tx.Rollback()
		return classifyError(err)
	}
	defer stmt.Close()

	for _, r := range rows {
		res := 0
		if r.Aggregated {
			res = 1
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.Timestamp, r.ServiceName, r.MetricName, r.MetricType, r.Value,
			r.Endpoint, r.Method, r.StatusCode, r.DurationMs, r.Tags,
			r.TraceID, r.SpanID, r.Environment, res, r.ResolutionMinutes,
		); err != nil {
			_ = tx.Rollback()
			return classifyError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classifyCommitError(err)
	}

	return nil
}

// QueryRange implements Store. It always reads metric_samples: a row-level
// scan is only meaningful against raw rows, since a rollup table already
// holds one row per bucket rather than the original per-request records.
// Callers wanting rollup-resolution series use QueryAggregates, which picks
// its source table from bucketWidth.
func (s *ClickHouseStore) QueryRange(ctx context.Context, filter Filter, window TimeWindow, limit int) ([]Row, error) {
	ctx, span := telemetry.StartSpan(ctx, "ClickHouseStore.QueryRange")
	defer span.End()

	if limit <= 0 || limit > 10000 {
		limit = 10000
	}

	where, args := filter.buildWhere(window)

	query := fmt.Sprintf(`
		SELECT id, timestamp, service_name, metric_name, metric_type, value, endpoint, method,
		       status_code, duration_ms, tags, trace_id, span_id, environment, aggregated, resolution_minutes
		FROM %s.metric_samples
		WHERE %s
		ORDER BY timestamp ASC
		LIMIT 1 BY id
		LIMIT ?`, s.cfg.Database, where)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var agg uint8
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.ServiceName, &r.MetricName, &r.MetricType, &r.Value,
			&r.Endpoint, &r.Method, &r.StatusCode, &r.DurationMs, &r.Tags,
			&r.TraceID, &r.SpanID, &r.Environment, &agg, &r.ResolutionMinutes); err != nil {
			return nil, classifyError(err)
		}
		r.Aggregated = agg == 1
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(err)
	}

	return out, nil
}

// QueryAggregates implements Store. bucketWidth selects the source table
// (resolutionForBucketWidth): an hour-or-wider bucket reads
// metric_rollups_hourly, a day-or-wider bucket reads metric_rollups_daily,
// anything finer reads metric_samples directly.
func (s *ClickHouseStore) QueryAggregates(ctx context.Context, filter Filter, window TimeWindow, bucketWidth time.Duration, groupBy string, funcs []AggregateFunc) ([]Bucket, error) {
	ctx, span := telemetry.StartSpan(ctx, "ClickHouseStore.QueryAggregates")
	defer span.End()

	groupCol, err := aggregateGroupColumn(groupBy)
	if err != nil {
		return nil, err
	}

	selectExprs := []string{fmt.Sprintf("toStartOfInterval(timestamp, INTERVAL %d SECOND) AS bucket", int(bucketWidth.Seconds()))}
	if groupCol != "" {
		selectExprs = append(selectExprs, groupCol+" AS group_key")
	}
	selectExprs = append(selectExprs,
		"count() AS cnt",
		"countIf(status_code >= 500) AS err_cnt",
	)
	for _, f := range funcs {
		expr, err := aggregateExpr(f)
		if err != nil {
			return nil, err
		}
		selectExprs = append(selectExprs, fmt.Sprintf("%s AS f_%s", expr, f))
	}

	where, args := filter.buildWhere(window)

	groupBySQL := "bucket"
	if groupCol != "" {
		groupBySQL += ", group_key"
	}

	table := tableForResolution(resolutionForBucketWidth(bucketWidth))
	query := fmt.Sprintf(`
		SELECT %s
		FROM (SELECT * FROM %s.%s WHERE %s LIMIT 1 BY id)
		GROUP BY %s
		ORDER BY bucket ASC`,
		strings.Join(selectExprs, ", "), s.cfg.Database, table, where, groupBySQL)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	var out []Bucket
	for rows.Next() {
		b := Bucket{Values: make(map[AggregateFunc]float64, len(funcs))}
		dest := []any{&b.BucketStart}
		if groupCol != "" {
			dest = append(dest, &b.GroupKey)
		}
		dest = append(dest, &b.Count, &b.ErrorCount)
		vals := make([]float64, len(funcs))
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, classifyError(err)
		}
		for i, f := range funcs {
			b.Values[f] = vals[i]
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(err)
	}

	return out, nil
}

// allTables lists every physical table a cross-resolution scan (ListServices,
// ListMetrics) must union over, so a service or metric whose raw rows have
// already aged out of metric_samples (90-day TTL) but whose rollups haven't
// (365-day / 3-year TTLs) is still discoverable.
var allTables = []string{"metric_samples", "metric_rollups_hourly", "metric_rollups_daily"}

// ListServices implements Store.
func (s *ClickHouseStore) ListServices(ctx context.Context, since time.Duration) ([]string, error) {
	ctx, span := telemetry.StartSpan(ctx, "ClickHouseStore.ListServices")
	defer span.End()

	selects := make([]string, len(allTables))
	args := make([]any, 0, len(allTables))
	cutoff := time.Now().Add(-since)
	for i, table := range allTables {
		selects[i] = fmt.Sprintf(`SELECT service_name FROM %s.%s WHERE timestamp >= ?`, s.cfg.Database, table)
		args = append(args, cutoff)
	}
	query := fmt.Sprintf(`SELECT DISTINCT service_name FROM (%s) ORDER BY service_name`, strings.Join(selects, " UNION ALL "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, classifyError(err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// ListMetrics implements Store.
func (s *ClickHouseStore) ListMetrics(ctx context.Context, serviceName string, since time.Duration) ([]string, error) {
	ctx, span := telemetry.StartSpan(ctx, "ClickHouseStore.ListMetrics")
	defer span.End()

	selects := make([]string, len(allTables))
	args := make([]any, 0, len(allTables)*2)
	cutoff := time.Now().Add(-since)
	for i, table := range allTables {
		selects[i] = fmt.Sprintf(`SELECT metric_name FROM %s.%s WHERE service_name = ? AND timestamp >= ?`, s.cfg.Database, table)
		args = append(args, serviceName, cutoff)
	}
	query := fmt.Sprintf(`SELECT DISTINCT metric_name FROM (%s) ORDER BY metric_name`, strings.Join(selects, " UNION ALL "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, classifyError(err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *ClickHouseStore) Close() error {
	logger.Log.Info("closing clickhouse store")
	return s.db.Close()
}

// DB exposes the underlying pool so callers can build auxiliary tables
// (e.g. the dead-letter writer) against the same connection pool.
func (s *ClickHouseStore) DB() *sql.DB {
	return s.db
}

func (f Filter) buildWhere(window TimeWindow) (string, []any) {
	conds := []string{"timestamp >= ?", "timestamp < ?"}
	args := []any{window.Start, window.End}

	if f.ServiceName != "" {
		conds = append(conds, "service_name = ?")
		args = append(args, f.ServiceName)
	}
	if f.MetricName != "" {
		conds = append(conds, "metric_name = ?")
		args = append(args, f.MetricName)
	}
	if f.Endpoint != "" {
		conds = append(conds, "endpoint = ?")
		args = append(args, f.Endpoint)
	}
	if f.Method != "" {
		conds = append(conds, "method = ?")
		args = append(args, f.Method)
	}
	if f.StatusCode != 0 {
		conds = append(conds, "status_code = ?")
		args = append(args, f.StatusCode)
	}
	if f.Environment != "" {
		conds = append(conds, "environment = ?")
		args = append(args, f.Environment)
	}

	return strings.Join(conds, " AND "), args
}

func aggregateGroupColumn(groupBy string) (string, error) {
	switch groupBy {
	case "":
		return "", nil
	case "endpoint":
		return "endpoint", nil
	case "method":
		return "method", nil
	case "status_code":
		return "toString(status_code)", nil
	default:
		return "", apperror.NewWithField(apperror.CodeValidation, "unsupported group_by dimension", "group_by")
	}
}

func aggregateExpr(f AggregateFunc) (string, error) {
	switch f {
	case FuncAvg:
		return "avg(value)", nil
	case FuncSum:
		return "sum(value)", nil
	case FuncMin:
		return "min(value)", nil
	case FuncMax:
		return "max(value)", nil
	case FuncCount:
		return "count()", nil
	case FuncP50:
		return "quantile(0.50)(value)", nil
	case FuncP95:
		return "quantile(0.95)(value)", nil
	case FuncP99:
		return "quantile(0.99)(value)", nil
	default:
		return "", apperror.NewWithField(apperror.CodeValidation, "unsupported aggregate function", "function")
	}
}

// classifyError maps a raw driver/network error to the retryable/fatal
// distinction InsertRows and the query methods return.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, io.EOF) || errors.Is(err, context.DeadlineExceeded) {
		return apperror.Wrap(err, apperror.CodeDependencyRetryable, "store connection error")
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperror.Wrap(err, apperror.CodeDependencyRetryable, "store network error")
	}

	var chErr *clickhouse.Exception
	if errors.As(err, &chErr) {
		if isRetryableClickHouseCode(chErr.Code) {
			return apperror.Wrap(err, apperror.CodeDependencyRetryable, "store temporarily unavailable")
		}
		return apperror.Wrap(err, apperror.CodeDependencyFatal, "store rejected rows")
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection refused", "i/o timeout", "broken pipe", "too many connections"} {
		if strings.Contains(msg, pattern) {
			return apperror.Wrap(err, apperror.CodeDependencyRetryable, "store connection error")
		}
	}

	return apperror.Wrap(err, apperror.CodeDependencyFatal, "store rejected rows")
}

// classifyCommitError treats an error from Tx.Commit itself as fatal rather
// than retryable: whether the batch landed is ambiguous, and retrying an
// ambiguous commit risks a duplicate write that QueryRange's read-time
// dedup cannot distinguish from a legitimately replayed bus message.
func classifyCommitError(err error) error {
	if err == nil {
		return nil
	}
	return apperror.Wrap(err, apperror.CodeDependencyFatal, "store commit failed (ambiguous outcome)")
}

func isRetryableClickHouseCode(code int32) bool {
	switch code {
	case 159, 160, 161, 209, 210, 279: // timeouts, too-many-connections, network errors
		return true
	default:
		return false
	}
}
