package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hookgate/internal/platform/database"
	"hookgate/internal/platform/models"
)

// MetricRepository upserts per-config daily and hourly delivery counters. Every write
// is a single atomic statement so concurrent workers never lose updates.
type MetricRepository struct {
	db *database.DB
}

func NewMetricRepository(db *database.DB) *MetricRepository {
	return &MetricRepository{db: db}
}

func (r *MetricRepository) RecordReceived(ctx context.Context, configID, date string) error {
	return r.bump(ctx, configID, date, "total_received")
}

func (r *MetricRepository) RecordRetry(ctx context.Context, configID, date string) error {
	return r.bump(ctx, configID, date, "retry_attempts")
}

// RecordRejected counts a delivery refused at the boundary as received and failed.
func (r *MetricRepository) RecordRejected(ctx context.Context, configID, date string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO delivery_metrics (webhook_config_id, metric_date, total_received, failed, updated_at)
		VALUES (?, ?, 1, 1, ?)
		ON CONFLICT (webhook_config_id, metric_date) DO UPDATE SET
			total_received = delivery_metrics.total_received + 1,
			failed = delivery_metrics.failed + 1,
			updated_at = excluded.updated_at
	`, configID, date, time.Now().Unix())
	return err
}

// RecordOutcome counts a terminal outcome, its event type, and folds the
// attempt duration into the running average.
func (r *MetricRepository) RecordOutcome(ctx context.Context, configID, date string, status models.EventStatus, eventType string, seconds float64) error {
	column, err := outcomeColumn(status)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO delivery_metrics (webhook_config_id, metric_date, %[1]s, average_processing_time_seconds, timed_samples, updated_at)
		VALUES (?, ?, 1, ?, 1, ?)
		ON CONFLICT (webhook_config_id, metric_date) DO UPDATE SET
			%[1]s = delivery_metrics.%[1]s + 1,
			average_processing_time_seconds = (delivery_metrics.average_processing_time_seconds * delivery_metrics.timed_samples + excluded.average_processing_time_seconds) / (delivery_metrics.timed_samples + 1),
			timed_samples = delivery_metrics.timed_samples + 1,
			updated_at = excluded.updated_at
	`, column)
	if _, err := tx.ExecContext(ctx, query, configID, date, seconds, time.Now().Unix()); err != nil {
		return err
	}

	if eventType != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO delivery_metric_event_types (webhook_config_id, metric_date, event_type, event_count)
			VALUES (?, ?, ?, 1)
			ON CONFLICT (webhook_config_id, metric_date, event_type) DO UPDATE SET
				event_count = delivery_metric_event_types.event_count + 1
		`, configID, date, eventType); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *MetricRepository) bump(ctx context.Context, configID, date, column string) error {
	query := fmt.Sprintf(`
		INSERT INTO delivery_metrics (webhook_config_id, metric_date, %[1]s, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (webhook_config_id, metric_date) DO UPDATE SET
			%[1]s = delivery_metrics.%[1]s + 1,
			updated_at = excluded.updated_at
	`, column)
	_, err := r.db.ExecContext(ctx, query, configID, date, time.Now().Unix())
	return err
}

// List returns the daily rows for a config between two dates (inclusive,
// YYYY-MM-DD). An empty configID lists every config.
func (r *MetricRepository) List(ctx context.Context, configID, from, to string) ([]*models.DeliveryMetric, error) {
	query := `
		SELECT webhook_config_id, metric_date, total_received, processed, failed, ignored, retry_attempts, average_processing_time_seconds
		FROM delivery_metrics
		WHERE metric_date >= ? AND metric_date <= ?`
	args := []any{from, to}
	if configID != "" {
		query += ` AND webhook_config_id = ?`
		args = append(args, configID)
	}
	query += ` ORDER BY metric_date DESC, webhook_config_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	var metrics []*models.DeliveryMetric
	index := map[string]*models.DeliveryMetric{}
	for rows.Next() {
		var m models.DeliveryMetric
		if err := rows.Scan(&m.WebhookConfigID, &m.Date, &m.TotalReceived, &m.Processed, &m.Failed, &m.Ignored, &m.RetryAttempts, &m.AverageProcessingTimeSecs); err != nil {
			rows.Close()
			return nil, err
		}
		m.EventTypeBreakdown = map[string]int{}
		metrics = append(metrics, &m)
		index[m.WebhookConfigID+"|"+m.Date] = &m
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	breakdown, err := r.db.QueryContext(ctx, `
		SELECT webhook_config_id, metric_date, event_type, event_count
		FROM delivery_metric_event_types
		WHERE metric_date >= ? AND metric_date <= ?
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer breakdown.Close()
	for breakdown.Next() {
		var cfgID, date, eventType string
		var count int
		if err := breakdown.Scan(&cfgID, &date, &eventType, &count); err != nil {
			return nil, err
		}
		if m, ok := index[cfgID+"|"+date]; ok {
			m.EventTypeBreakdown[eventType] = count
		}
	}
	return metrics, breakdown.Err()
}

var hourlyCounters = map[string]bool{
	"total_received": true,
	"processed":      true,
	"failed":         true,
	"ignored":        true,
	"retry_attempts": true,
}

// BumpHour increments each named counter on the config's row for hour.
func (r *MetricRepository) BumpHour(ctx context.Context, configID, hour string, counters ...string) error {
	if len(counters) == 0 {
		return fmt.Errorf("no hourly counters given")
	}
	set := make([]string, 0, len(counters))
	for _, c := range counters {
		if !hourlyCounters[c] {
			return fmt.Errorf("unknown hourly counter %q", c)
		}
		set = append(set, fmt.Sprintf("%[1]s = delivery_metric_hours.%[1]s + 1", c))
	}
	query := fmt.Sprintf(`
		INSERT INTO delivery_metric_hours (webhook_config_id, metric_hour, %s, updated_at)
		VALUES (?, ?, %s?)
		ON CONFLICT (webhook_config_id, metric_hour) DO UPDATE SET
			%s,
			updated_at = excluded.updated_at
	`, strings.Join(counters, ", "), strings.Repeat("1, ", len(counters)), strings.Join(set, ", "))
	_, err := r.db.ExecContext(ctx, query, configID, hour, time.Now().Unix())
	return err
}

// ListHourly returns hourly rows between two hours inclusive
// (YYYY-MM-DDTHH), newest first. An empty configID lists every config.
func (r *MetricRepository) ListHourly(ctx context.Context, configID, from, to string) ([]*models.HourlyDeliveryMetric, error) {
	query := `
		SELECT webhook_config_id, metric_hour, total_received, processed, failed, ignored, retry_attempts
		FROM delivery_metric_hours
		WHERE metric_hour >= ? AND metric_hour <= ?`
	args := []any{from, to}
	if configID != "" {
		query += ` AND webhook_config_id = ?`
		args = append(args, configID)
	}
	query += ` ORDER BY metric_hour DESC, webhook_config_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.HourlyDeliveryMetric
	for rows.Next() {
		var m models.HourlyDeliveryMetric
		if err := rows.Scan(&m.WebhookConfigID, &m.Hour, &m.TotalReceived, &m.Processed, &m.Failed, &m.Ignored, &m.RetryAttempts); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// DeleteBefore removes daily and hourly rows dated before the cutoff date.
func (r *MetricRepository) DeleteBefore(ctx context.Context, cutoffDate string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM delivery_metrics WHERE metric_date < ?`, cutoffDate)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM delivery_metric_event_types WHERE metric_date < ?`, cutoffDate); err != nil {
		return n, err
	}
	// "2025-10-14T23" sorts before "2025-10-15", so the day cutoff applies.
	if _, err := r.db.ExecContext(ctx, `DELETE FROM delivery_metric_hours WHERE metric_hour < ?`, cutoffDate); err != nil {
		return n, err
	}
	return n, nil
}

func outcomeColumn(status models.EventStatus) (string, error) {
	switch status {
	case models.EventProcessed:
		return "processed", nil
	case models.EventFailed:
		return "failed", nil
	case models.EventIgnored:
		return "ignored", nil
	}
	return "", fmt.Errorf("status %q is not a terminal outcome", status)
}
