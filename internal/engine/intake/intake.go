// Package intake turns a delivery that passed the gatekeeper into a durable,
// deduplicated event and schedules it for processing.
package intake

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"hookgate/internal/engine/payload"
	"hookgate/internal/pkg/errors"
	"hookgate/internal/platform/models"
	"hookgate/internal/platform/repositories"
	"hookgate/internal/platform/telemetry"
)

type ConfigStore interface {
	GetByID(ctx context.Context, id string) (*models.WebhookConfig, error)
	GetByAccount(ctx context.Context, platform models.Platform, accountID string) (*models.WebhookConfig, error)
}

type EventStore interface {
	Insert(ctx context.Context, e *models.WebhookEvent) (bool, error)
	FindDuplicate(ctx context.Context, platform models.Platform, externalID *string, key string) (*models.WebhookEvent, error)
}

type Queue interface {
	Enqueue(ctx context.Context, eventID string, notBefore, now int64) (*models.Job, error)
}

// ReceivedRecorder counts accepted deliveries against a config's daily metrics.
type ReceivedRecorder interface {
	RecordReceived(ctx context.Context, configID string, at time.Time) error
}

// Delivery is a verified inbound POST.
type Delivery struct {
	Platform  models.Platform
	ConfigID  string
	Body      []byte
	Signature string
}

type Result struct {
	Event     *models.WebhookEvent
	Duplicate bool
}

type Service struct {
	configs  ConfigStore
	events   EventStore
	queue    Queue
	received ReceivedRecorder
	metrics  *telemetry.Collectors
	log      zerolog.Logger
	notify   func()
	now      func() time.Time
}

// NewService wires intake. notify, when set, is called after every enqueue
// so an embedded worker pool can skip its poll delay.
func NewService(configs ConfigStore, events EventStore, queue Queue, received ReceivedRecorder, notify func(), metrics *telemetry.Collectors, log zerolog.Logger) *Service {
	return &Service{
		configs:  configs,
		events:   events,
		queue:    queue,
		received: received,
		metrics:  metrics,
		log:      log,
		notify:   notify,
		now:      time.Now,
	}
}

// Accept persists the delivery. A redelivery of a known event is a
// successful no-op and schedules nothing.
func (s *Service) Accept(ctx context.Context, d Delivery) (*Result, error) {
	n, err := payload.Parse(d.Platform, d.Body)
	if err != nil {
		return nil, err
	}

	cfg, err := s.resolveConfig(ctx, d.Platform, d.ConfigID, n.AccountID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	event := &models.WebhookEvent{
		Platform:       d.Platform,
		EventType:      n.EventType,
		IdempotencyKey: n.IdempotencyKey(d.Body),
		ObjectType:     n.ObjectType,
		ObjectID:       n.ObjectID,
		Payload:        d.Body,
		Signature:      d.Signature,
		Status:         models.EventPending,
		ReceivedAt:     now.Unix(),
	}
	if n.ExternalEventID != "" {
		ext := n.ExternalEventID
		event.ExternalEventID = &ext
	}
	if cfg != nil {
		id := cfg.ID
		event.WebhookConfigID = &id
	}

	inserted, err := s.events.Insert(ctx, event)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "persist event")
	}
	if !inserted {
		if original, err := s.events.FindDuplicate(ctx, d.Platform, event.ExternalEventID, event.IdempotencyKey); err == nil {
			event = original
		}
		s.count(d.Platform, "duplicate")
		s.log.Info().
			Str("platform", string(d.Platform)).
			Str("event_type", event.EventType).
			Str("idempotency_key", event.IdempotencyKey).
			Msg("duplicate delivery ignored")
		return &Result{Event: event, Duplicate: true}, nil
	}

	if cfg != nil && s.received != nil {
		if err := s.received.RecordReceived(ctx, cfg.ID, now); err != nil {
			s.log.Error().Err(err).Str("config_id", cfg.ID).Msg("failed to record received metric")
		}
	}

	// The event is durable at this point; a lost enqueue is picked up by
	// the stale-event recovery loop.
	if _, err := s.queue.Enqueue(ctx, event.ID, now.Unix(), now.Unix()); err != nil {
		s.log.Error().Err(err).Str("event_id", event.ID).Msg("failed to enqueue event")
	} else if s.notify != nil {
		s.notify()
	}

	s.count(d.Platform, "accepted")
	s.log.Info().
		Str("event_id", event.ID).
		Str("platform", string(d.Platform)).
		Str("event_type", event.EventType).
		Msg("event accepted")
	return &Result{Event: event}, nil
}

func (s *Service) resolveConfig(ctx context.Context, platform models.Platform, configID, accountID string) (*models.WebhookConfig, error) {
	if configID != "" {
		cfg, err := s.configs.GetByID(ctx, configID)
		if stderrors.Is(err, repositories.ErrNotFound) || (err == nil && cfg.Platform != platform) {
			return nil, errors.Newf(errors.KindNotFound, "webhook config %s not found", configID)
		}
		if err != nil {
			return nil, errors.Wrap(errors.KindInternal, err, "load webhook config")
		}
		return cfg, nil
	}
	if accountID == "" {
		return nil, nil
	}
	cfg, err := s.configs.GetByAccount(ctx, platform, accountID)
	if stderrors.Is(err, repositories.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, fmt.Sprintf("resolve config for account %s", accountID))
	}
	return cfg, nil
}

func (s *Service) count(platform models.Platform, result string) {
	if s.metrics != nil {
		s.metrics.Deliveries.WithLabelValues(string(platform), result).Inc()
	}
}
