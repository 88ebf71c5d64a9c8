// Package metrics rolls delivery outcomes into daily and hourly per-config
// rows and watches the pipeline's health.
package metrics

import (
	"context"
	"time"

	"hookgate/internal/platform/models"
	"hookgate/internal/platform/telemetry"
)

const (
	dateLayout = "2006-01-02"
	hourLayout = "2006-01-02T15"
)

type Repository interface {
	RecordReceived(ctx context.Context, configID, date string) error
	RecordRetry(ctx context.Context, configID, date string) error
	RecordRejected(ctx context.Context, configID, date string) error
	RecordOutcome(ctx context.Context, configID, date string, status models.EventStatus, eventType string, seconds float64) error
	List(ctx context.Context, configID, from, to string) ([]*models.DeliveryMetric, error)
	BumpHour(ctx context.Context, configID, hour string, counters ...string) error
	ListHourly(ctx context.Context, configID, from, to string) ([]*models.HourlyDeliveryMetric, error)
}

// Aggregator upserts the day's DeliveryMetric row and the hour's counters
// for the owning config, and mirrors outcomes into the prometheus
// collectors. Averages and the event type breakdown are kept per day only.
type Aggregator struct {
	repo    Repository
	metrics *telemetry.Collectors
}

func NewAggregator(repo Repository, metrics *telemetry.Collectors) *Aggregator {
	return &Aggregator{repo: repo, metrics: metrics}
}

func Date(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// Hour names the UTC hour bucket of t.
func Hour(t time.Time) string {
	return t.UTC().Format(hourLayout)
}

func (a *Aggregator) RecordReceived(ctx context.Context, configID string, at time.Time) error {
	if err := a.repo.RecordReceived(ctx, configID, Date(at)); err != nil {
		return err
	}
	return a.repo.BumpHour(ctx, configID, Hour(at), "total_received")
}

func (a *Aggregator) RecordRejected(ctx context.Context, configID string, at time.Time) error {
	if err := a.repo.RecordRejected(ctx, configID, Date(at)); err != nil {
		return err
	}
	return a.repo.BumpHour(ctx, configID, Hour(at), "total_received", "failed")
}

// RecordRetry counts a scheduled retry.
func (a *Aggregator) RecordRetry(ctx context.Context, e *models.WebhookEvent, at time.Time) error {
	if a.metrics != nil {
		a.metrics.Retries.WithLabelValues(string(e.Platform)).Inc()
	}
	if e.WebhookConfigID == nil {
		return nil
	}
	if err := a.repo.RecordRetry(ctx, *e.WebhookConfigID, Date(at)); err != nil {
		return err
	}
	return a.repo.BumpHour(ctx, *e.WebhookConfigID, Hour(at), "retry_attempts")
}

// RecordOutcome folds a terminal transition into the daily row.
func (a *Aggregator) RecordOutcome(ctx context.Context, e *models.WebhookEvent, status models.EventStatus, took time.Duration, at time.Time) error {
	if a.metrics != nil {
		a.metrics.Outcomes.WithLabelValues(string(e.Platform), string(status)).Inc()
		a.metrics.ProcessingDuration.WithLabelValues(string(e.Platform)).Observe(took.Seconds())
	}
	if e.WebhookConfigID == nil {
		return nil
	}
	if err := a.repo.RecordOutcome(ctx, *e.WebhookConfigID, Date(at), status, e.EventType, took.Seconds()); err != nil {
		return err
	}
	// Terminal statuses share their counter's name.
	return a.repo.BumpHour(ctx, *e.WebhookConfigID, Hour(at), string(status))
}

// Delivery lists daily rows between two dates inclusive.
func (a *Aggregator) Delivery(ctx context.Context, configID string, from, to time.Time) ([]*models.DeliveryMetric, error) {
	return a.repo.List(ctx, configID, Date(from), Date(to))
}

// Hourly lists hourly rows covering the days from and to inclusive.
func (a *Aggregator) Hourly(ctx context.Context, configID string, from, to time.Time) ([]*models.HourlyDeliveryMetric, error) {
	return a.repo.ListHourly(ctx, configID, Date(from)+"T00", Date(to)+"T23")
}
