package processing

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/rs/zerolog"
	"hookgate/internal/platform/models"
	"hookgate/internal/platform/telemetry"
)

// AnalyticsUpdater receives absolute metric snapshots for a post. Values
// are totals, never deltas, so replaying an event cannot double-count.
type AnalyticsUpdater interface {
	Update(ctx context.Context, externalPostID string, platform models.Platform, metrics map[string]int64) error
}

// NotificationHandler decides delivery of a notification intent. The
// "dedupe_key" entry of data is stable across retries of the same event.
type NotificationHandler interface {
	Handle(ctx context.Context, notificationType string, data map[string]any, event *models.WebhookEvent) error
}

// LogAnalytics records snapshots in the structured log.
type LogAnalytics struct {
	Log zerolog.Logger
}

func (a LogAnalytics) Update(_ context.Context, externalPostID string, platform models.Platform, metrics map[string]int64) error {
	ev := a.Log.Info().Str("post_id", externalPostID).Str("platform", string(platform))
	for k, v := range metrics {
		ev = ev.Int64(k, v)
	}
	ev.Msg("analytics snapshot")
	return nil
}

type LogNotifications struct {
	Log zerolog.Logger
}

func (n LogNotifications) Handle(_ context.Context, notificationType string, data map[string]any, event *models.WebhookEvent) error {
	n.Log.Info().
		Str("type", notificationType).
		Str("event_id", event.ID).
		Interface("data", data).
		Msg("notification intent")
	return nil
}

// Guarded wraps the collaborators in circuit breakers so a failing
// collaborator fails attempts fast instead of holding workers.
type Guarded struct {
	analytics     AnalyticsUpdater
	notifications NotificationHandler
	analyticsCB   circuitbreaker.CircuitBreaker[any]
	notifyCB      circuitbreaker.CircuitBreaker[any]
	metrics       *telemetry.Collectors
}

func NewGuarded(analytics AnalyticsUpdater, notifications NotificationHandler, openFor time.Duration, metrics *telemetry.Collectors, log zerolog.Logger) *Guarded {
	return &Guarded{
		analytics:     analytics,
		notifications: notifications,
		analyticsCB:   newBreaker("analytics", openFor, log),
		notifyCB:      newBreaker("notifications", openFor, log),
		metrics:       metrics,
	}
}

func newBreaker(name string, openFor time.Duration, log zerolog.Logger) circuitbreaker.CircuitBreaker[any] {
	if openFor <= 0 {
		openFor = 15 * time.Second
	}
	return circuitbreaker.NewBuilder[any]().
		WithFailureThresholdRatio(5, 10).
		WithDelay(openFor).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			log.Warn().
				Str("collaborator", name).
				Str("from", stateName(e.OldState)).
				Str("to", stateName(e.NewState)).
				Msg("circuit breaker state change")
		}).
		Build()
}

func stateName(s circuitbreaker.State) string {
	switch s {
	case circuitbreaker.OpenState:
		return "open"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	}
	return "closed"
}

func (g *Guarded) Update(ctx context.Context, externalPostID string, platform models.Platform, metrics map[string]int64) error {
	return g.call(ctx, g.analyticsCB, "analytics", func() error {
		return g.analytics.Update(ctx, externalPostID, platform, metrics)
	})
}

func (g *Guarded) Handle(ctx context.Context, notificationType string, data map[string]any, event *models.WebhookEvent) error {
	return g.call(ctx, g.notifyCB, "notifications", func() error {
		return g.notifications.Handle(ctx, notificationType, data, event)
	})
}

func (g *Guarded) call(ctx context.Context, cb circuitbreaker.CircuitBreaker[any], name string, fn func() error) error {
	_, err := failsafe.With[any](cb).WithContext(ctx).Get(func() (any, error) {
		return nil, fn()
	})
	if stderrors.Is(err, circuitbreaker.ErrOpen) && g.metrics != nil {
		g.metrics.BreakerRejections.WithLabelValues(name).Inc()
	}
	return err
}
