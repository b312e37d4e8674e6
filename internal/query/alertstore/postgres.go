package alertstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/google/uuid"

	"github.com/krishnamouli8/vantage/pkg/database"
	"github.com/krishnamouli8/vantage/pkg/telemetry"
)

// Repository persists and queries Alert records.
type Repository interface {
	// GetFiring returns the currently-firing alert for (serviceName,
	// metricName), if any, so the alerting engine can update it in place
	// instead of creating a duplicate within the dedup window.
	GetFiring(ctx context.Context, serviceName, metricName string) (*Alert, error)
	Upsert(ctx context.Context, a *Alert) error
	Resolve(ctx context.Context, alertID string, resolvedAt time.Time) error
	ListRecent(ctx context.Context, limit int) ([]*Alert, error)
	ListActive(ctx context.Context) ([]*Alert, error)
}

// PostgresRepository implements Repository over pkg/database.DB.
type PostgresRepository struct {
	db database.DB
}

// NewPostgresRepository wraps an already-connected pool.
func NewPostgresRepository(db database.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetFiring(ctx context.Context, serviceName, metricName string) (*Alert, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresRepository.GetFiring")
	defer span.End()

	query := `
		SELECT alert_id, service_name, metric_name, severity, status, current_value,
			expected_min, expected_max, threshold_breach_count, first_triggered, last_triggered, resolved_at
		FROM alerts
		WHERE service_name = $1 AND metric_name = $2 AND status = 'firing'
		ORDER BY last_triggered DESC
		LIMIT 1`

	a := &Alert{}
	err := r.db.QueryRow(ctx, query, serviceName, metricName).Scan(
		&a.AlertID, &a.ServiceName, &a.MetricName, &a.Severity, &a.Status, &a.CurrentValue,
		&a.ExpectedMin, &a.ExpectedMax, &a.ThresholdBreachCount, &a.FirstTriggered, &a.LastTriggered, &a.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("alertstore: get firing: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, a *Alert) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresRepository.Upsert")
	defer span.End()

	if a.AlertID == "" {
		a.AlertID = uuid.NewString()
	}

	query := `
		INSERT INTO alerts (
			alert_id, service_name, metric_name, severity, status, current_value,
			expected_min, expected_max, threshold_breach_count, first_triggered, last_triggered, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (alert_id) DO UPDATE SET
			severity = EXCLUDED.severity,
			status = EXCLUDED.status,
			current_value = EXCLUDED.current_value,
			expected_min = EXCLUDED.expected_min,
			expected_max = EXCLUDED.expected_max,
			threshold_breach_count = EXCLUDED.threshold_breach_count,
			last_triggered = EXCLUDED.last_triggered,
			resolved_at = EXCLUDED.resolved_at`

	_, err := r.db.Exec(ctx, query,
		a.AlertID, a.ServiceName, a.MetricName, a.Severity, a.Status, a.CurrentValue,
		a.ExpectedMin, a.ExpectedMax, a.ThresholdBreachCount, a.FirstTriggered, a.LastTriggered, a.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("alertstore: upsert: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Resolve(ctx context.Context, alertID string, resolvedAt time.Time) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresRepository.Resolve")
	defer span.End()

	query := `UPDATE alerts SET status = 'resolved', resolved_at = $2 WHERE alert_id = $1`
	_, err := r.db.Exec(ctx, query, alertID, resolvedAt)
	if err != nil {
		return fmt.Errorf("alertstore: resolve: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListRecent(ctx context.Context, limit int) ([]*Alert, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresRepository.ListRecent")
	defer span.End()

	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT alert_id, service_name, metric_name, severity, status, current_value,
			expected_min, expected_max, threshold_breach_count, first_triggered, last_triggered, resolved_at
		FROM alerts
		ORDER BY last_triggered DESC
		LIMIT $1`

	return r.scanAll(ctx, query, limit)
}

func (r *PostgresRepository) ListActive(ctx context.Context) ([]*Alert, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresRepository.ListActive")
	defer span.End()

	query := `
		SELECT alert_id, service_name, metric_name, severity, status, current_value,
			expected_min, expected_max, threshold_breach_count, first_triggered, last_triggered, resolved_at
		FROM alerts
		WHERE status = 'firing'
		ORDER BY last_triggered DESC`

	return r.scanAll(ctx, query)
}

func (r *PostgresRepository) scanAll(ctx context.Context, query string, args ...any) ([]*Alert, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("alertstore: query: %w", err)
	}
	defer rows.Close()

	var out []*Alert
	for rows.Next() {
		a := &Alert{}
		if err := rows.Scan(
			&a.AlertID, &a.ServiceName, &a.MetricName, &a.Severity, &a.Status, &a.CurrentValue,
			&a.ExpectedMin, &a.ExpectedMax, &a.ThresholdBreachCount, &a.FirstTriggered, &a.LastTriggered, &a.ResolvedAt,
		); err != nil {
			return nil, fmt.Errorf("alertstore: scan: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
