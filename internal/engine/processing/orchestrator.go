// Package processing drives stored events through
// pending -> processing -> {processed, failed, ignored} with bounded,
// backed-off retries.
package processing

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"hookgate/internal/engine/alerts"
	"hookgate/internal/engine/payload"
	"hookgate/internal/pkg/errors"
	"hookgate/internal/platform/config"
	"hookgate/internal/platform/models"
	"hookgate/internal/platform/repositories"
)

type EventStore interface {
	GetByID(ctx context.Context, id string) (*models.WebhookEvent, error)
	Claim(ctx context.Context, id string, maxRetries int, now int64) (bool, error)
	MarkProcessed(ctx context.Context, id string, now int64) error
	MarkIgnored(ctx context.Context, id, reason string, now int64) error
	MarkFailed(ctx context.Context, id, message string, nextAttemptAt, now int64) (int, error)
	Reschedule(ctx context.Context, id string, at, now int64) error
	Stale(ctx context.Context, before int64, limit int) ([]*models.WebhookEvent, error)
	Unscheduled(ctx context.Context, before int64, maxRetries, limit int) ([]*models.WebhookEvent, error)
}

type AttemptStore interface {
	Start(ctx context.Context, eventID, processorName string, startedAt int64) (*models.ProcessingAttempt, error)
	Close(ctx context.Context, a *models.ProcessingAttempt, status models.AttemptStatus, result, errMsg string, completedAt int64) error
	ListByEvent(ctx context.Context, eventID string) ([]*models.ProcessingAttempt, error)
}

type ConfigStore interface {
	GetByID(ctx context.Context, id string) (*models.WebhookConfig, error)
}

type Queue interface {
	Enqueue(ctx context.Context, eventID string, notBefore, now int64) (*models.Job, error)
}

type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, e *models.WebhookEvent, status models.EventStatus, took time.Duration, at time.Time) error
	RecordRetry(ctx context.Context, e *models.WebhookEvent, at time.Time) error
}

type Settings struct {
	MaxRetries int
	Backoff    []time.Duration
	// Timeout bounds one attempt; the processor is not told, its result is
	// discarded.
	Timeout time.Duration
}

func SettingsFromConfig(cfg config.ProcessingConfig) Settings {
	return Settings{MaxRetries: cfg.MaxRetries, Backoff: cfg.Backoff, Timeout: cfg.JobTimeout}
}

type Deps struct {
	Events        EventStore
	Attempts      AttemptStore
	Configs       ConfigStore
	Queue         Queue
	Outcomes      OutcomeRecorder
	Analytics     AnalyticsUpdater
	Notifications NotificationHandler
	Processors    map[models.Platform]Processor
	Alerts        alerts.Dispatcher
	Notify        func()
	Logger        zerolog.Logger
}

type Orchestrator struct {
	Deps
	settings Settings
	log      zerolog.Logger
	now      func() time.Time
}

func NewOrchestrator(settings Settings, deps Deps) *Orchestrator {
	if settings.MaxRetries <= 0 {
		settings.MaxRetries = 3
	}
	if len(settings.Backoff) == 0 {
		settings.Backoff = []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second}
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}
	if deps.Processors == nil {
		deps.Processors = DefaultProcessors()
	}
	return &Orchestrator{Deps: deps, settings: settings, log: deps.Logger, now: time.Now}
}

func (o *Orchestrator) MaxRetries() int { return o.settings.MaxRetries }

// Backoff returns the delay before the retry following the n-th failure.
func (o *Orchestrator) Backoff(retryCount int) time.Duration {
	i := retryCount - 1
	if i < 0 {
		i = 0
	}
	if i >= len(o.settings.Backoff) {
		i = len(o.settings.Backoff) - 1
	}
	return o.settings.Backoff[i]
}

type runResult struct {
	status models.EventStatus
	result string
	err    error
}

// Process claims the event and runs one attempt. Processing failures are
// handled here (retry or terminal); the returned error only reports
// bookkeeping failures, for which the caller should redeliver the job.
func (o *Orchestrator) Process(ctx context.Context, eventID string) error {
	started := o.now()
	claimed, err := o.Events.Claim(ctx, eventID, o.settings.MaxRetries, started.Unix())
	if err != nil {
		return fmt.Errorf("claim event %s: %w", eventID, err)
	}
	if !claimed {
		o.log.Debug().Str("event_id", eventID).Msg("event not claimable, skipping")
		return nil
	}

	// Bookkeeping must survive shutdown once the row is ours.
	bctx := context.WithoutCancel(ctx)

	event, err := o.Events.GetByID(bctx, eventID)
	if err != nil {
		return fmt.Errorf("load event %s: %w", eventID, err)
	}
	processor, ok := o.Processors[event.Platform]
	name := string(event.Platform) + "_processor"
	if ok {
		name = processor.Name()
	}
	attempt, err := o.Attempts.Start(bctx, event.ID, name, started.Unix())
	if err != nil {
		return fmt.Errorf("start attempt for %s: %w", eventID, err)
	}

	res := o.execute(ctx, event, processor)
	finished := o.now()
	took := finished.Sub(started)

	switch res.status {
	case models.EventIgnored:
		if err := o.Events.MarkIgnored(bctx, event.ID, res.result, finished.Unix()); err != nil {
			return fmt.Errorf("mark ignored %s: %w", eventID, err)
		}
		o.closeAttempt(bctx, attempt, models.AttemptCompleted, "ignored: "+res.result, "", finished)
		o.recordOutcome(bctx, event, models.EventIgnored, took, finished)
		o.log.Info().Str("event_id", event.ID).Str("event_type", event.EventType).Str("reason", res.result).Msg("event ignored")
		return nil

	case models.EventProcessed:
		if err := o.Events.MarkProcessed(bctx, event.ID, finished.Unix()); err != nil {
			return fmt.Errorf("mark processed %s: %w", eventID, err)
		}
		o.closeAttempt(bctx, attempt, models.AttemptCompleted, res.result, "", finished)
		o.recordOutcome(bctx, event, models.EventProcessed, took, finished)
		o.log.Info().
			Str("event_id", event.ID).
			Str("platform", string(event.Platform)).
			Str("event_type", event.EventType).
			Dur("took", took).
			Msg("event processed")
		return nil
	}

	return o.fail(bctx, event, attempt, res.err, took, finished)
}

// execute runs the attempt under the hard timeout. On timeout the
// attempt is abandoned; its late result is dropped.
func (o *Orchestrator) execute(ctx context.Context, event *models.WebhookEvent, processor Processor) runResult {
	runCtx, cancel := context.WithTimeout(ctx, o.settings.Timeout)
	defer cancel()

	done := make(chan runResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- runResult{status: models.EventFailed, err: errors.Newf(errors.KindProcessor, "processor panic: %v", r)}
			}
		}()
		done <- o.run(runCtx, event, processor)
	}()

	select {
	case res := <-done:
		return res
	case <-runCtx.Done():
		return runResult{status: models.EventFailed, err: errors.Wrap(errors.KindProcessor, runCtx.Err(), "processing timed out")}
	}
}

func (o *Orchestrator) run(ctx context.Context, event *models.WebhookEvent, processor Processor) runResult {
	cfg, reason, err := o.owningConfig(ctx, event)
	if err != nil {
		return runResult{status: models.EventFailed, err: errors.Wrap(errors.KindProcessor, err, "load webhook config")}
	}
	if reason != "" {
		return runResult{status: models.EventIgnored, result: reason}
	}

	if processor == nil {
		return runResult{status: models.EventFailed, err: errors.Newf(errors.KindProcessor, "no processor for platform %s", event.Platform)}
	}
	n, err := payload.Parse(event.Platform, event.Payload)
	if err != nil {
		return runResult{status: models.EventFailed, err: err}
	}
	// Processors only ever see the items the config subscribes to.
	wanted, ok := n.Subscribed(cfg.Subscribes)
	if !ok {
		return runResult{status: models.EventIgnored, result: fmt.Sprintf("event type %s not subscribed", strings.Join(n.EventTypes(), ","))}
	}
	actions, err := processor.Process(wanted)
	if err != nil {
		return runResult{status: models.EventFailed, err: errors.Wrap(errors.KindProcessor, err, "processor failed")}
	}

	for _, a := range actions.Analytics {
		if err := o.Analytics.Update(ctx, a.ExternalPostID, event.Platform, a.Metrics); err != nil {
			return runResult{status: models.EventFailed, err: errors.Wrap(errors.KindProcessor, err, "analytics update")}
		}
	}
	for i, nt := range actions.Notifications {
		data := make(map[string]any, len(nt.Data)+1)
		for k, v := range nt.Data {
			data[k] = v
		}
		data["dedupe_key"] = fmt.Sprintf("%s:%d", event.ID, i)
		if err := o.Notifications.Handle(ctx, nt.Type, data, event); err != nil {
			return runResult{status: models.EventFailed, err: errors.Wrap(errors.KindProcessor, err, "notification handler")}
		}
	}
	if err := ctx.Err(); err != nil {
		return runResult{status: models.EventFailed, err: errors.Wrap(errors.KindProcessor, err, "processing timed out")}
	}
	return runResult{status: models.EventProcessed, result: actions.String()}
}

// owningConfig loads the event's config. reason is non-empty when the event
// should be ignored without parsing it.
func (o *Orchestrator) owningConfig(ctx context.Context, event *models.WebhookEvent) (*models.WebhookConfig, string, error) {
	if event.WebhookConfigID == nil {
		return nil, "no webhook config for account", nil
	}
	cfg, err := o.Configs.GetByID(ctx, *event.WebhookConfigID)
	if stderrors.Is(err, repositories.ErrNotFound) {
		return nil, "webhook config removed", nil
	}
	if err != nil {
		return nil, "", err
	}
	if !cfg.IsActive {
		return nil, "webhook config inactive", nil
	}
	return cfg, "", nil
}

func (o *Orchestrator) fail(ctx context.Context, event *models.WebhookEvent, attempt *models.ProcessingAttempt, cause error, took time.Duration, at time.Time) error {
	msg := cause.Error()
	// The claim is ours, so the stored count cannot move under us.
	delay := o.Backoff(event.RetryCount + 1)
	retryAt := at.Add(delay)
	retryCount, err := o.Events.MarkFailed(ctx, event.ID, msg, retryAt.Unix(), at.Unix())
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", event.ID, err)
	}
	event.RetryCount = retryCount
	o.closeAttempt(ctx, attempt, models.AttemptFailed, "", msg, at)

	if retryCount < o.settings.MaxRetries {
		if _, err := o.Queue.Enqueue(ctx, event.ID, retryAt.Unix(), at.Unix()); err != nil {
			o.log.Error().Err(err).Str("event_id", event.ID).Msg("failed to schedule retry")
		}
		if o.Outcomes != nil {
			if err := o.Outcomes.RecordRetry(ctx, event, at); err != nil {
				o.log.Error().Err(err).Str("event_id", event.ID).Msg("failed to record retry metric")
			}
		}
		o.log.Warn().
			Err(cause).
			Str("event_id", event.ID).
			Str("kind", string(errors.KindOf(cause))).
			Int("retry_count", retryCount).
			Dur("retry_in", delay).
			Msg("event processing failed, retry scheduled")
		return nil
	}

	o.recordOutcome(ctx, event, models.EventFailed, took, at)
	o.log.Error().
		Err(cause).
		Str("event_id", event.ID).
		Int("retry_count", retryCount).
		Msg("event processing failed permanently")
	alerts.Raise(ctx, o.Alerts, o.log, alerts.Alert{
		Type:     alerts.TypeMaxRetriesExceeded,
		Severity: alerts.SeverityCritical,
		Title:    "Webhook event failed permanently",
		Message:  fmt.Sprintf("Event %s (%s %s) failed %d times: %s", event.ID, event.Platform, event.EventType, retryCount, msg),
		Fields: map[string]any{
			"event_id":    event.ID,
			"platform":    string(event.Platform),
			"event_type":  event.EventType,
			"retry_count": retryCount,
		},
		Key: event.ID,
	})
	return nil
}

func (o *Orchestrator) closeAttempt(ctx context.Context, a *models.ProcessingAttempt, status models.AttemptStatus, result, errMsg string, at time.Time) {
	if err := o.Attempts.Close(ctx, a, status, result, errMsg, at.Unix()); err != nil {
		o.log.Error().Err(err).Str("attempt_id", a.ID).Msg("failed to close processing attempt")
	}
}

func (o *Orchestrator) recordOutcome(ctx context.Context, e *models.WebhookEvent, status models.EventStatus, took time.Duration, at time.Time) {
	if o.Outcomes == nil {
		return
	}
	if err := o.Outcomes.RecordOutcome(ctx, e, status, took, at); err != nil {
		o.log.Error().Err(err).Str("event_id", e.ID).Msg("failed to record outcome metric")
	}
}

// RetryNow schedules an immediate attempt for a failed event below the
// retry ceiling. It does not consume a retry. Jobs queued for the old
// backoff find the event not yet due and are dropped by Claim.
func (o *Orchestrator) RetryNow(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	event, err := o.Events.GetByID(ctx, eventID)
	if stderrors.Is(err, repositories.ErrNotFound) {
		return nil, errors.Newf(errors.KindNotFound, "event %s not found", eventID)
	}
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "load event")
	}
	if event.Status != models.EventFailed {
		return nil, errors.Newf(errors.KindInvalidState, "event is %s, only failed events can be retried", event.Status)
	}
	if event.RetryCount >= o.settings.MaxRetries {
		return nil, errors.Newf(errors.KindMaxRetriesExceeded, "event already failed %d times", event.RetryCount)
	}

	now := o.now().Unix()
	if err := o.Events.Reschedule(ctx, event.ID, now, now); err != nil {
		if stderrors.Is(err, repositories.ErrNotFound) {
			return nil, errors.New(errors.KindInvalidState, "event changed state, retry again")
		}
		return nil, errors.Wrap(errors.KindInternal, err, "reschedule event")
	}
	event.NextAttemptAt = now
	if _, err := o.Queue.Enqueue(ctx, event.ID, now, now); err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "enqueue retry")
	}
	if o.Notify != nil {
		o.Notify()
	}
	o.log.Info().Str("event_id", event.ID).Msg("manual retry scheduled")
	return event, nil
}

// Recover fails events stuck in processing past staleAfter (their worker
// died) and re-enqueues events that lost their job.
func (o *Orchestrator) Recover(ctx context.Context, staleAfter time.Duration, limit int) (int, error) {
	now := o.now()
	cutoff := now.Add(-staleAfter).Unix()
	recovered := 0

	stale, err := o.Events.Stale(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("list stale events: %w", err)
	}
	for _, e := range stale {
		attempts, err := o.Attempts.ListByEvent(ctx, e.ID)
		if err != nil {
			return recovered, err
		}
		var open *models.ProcessingAttempt
		for _, a := range attempts {
			if a.CompletedAt == nil {
				open = a
			}
		}
		if open == nil {
			if open, err = o.Attempts.Start(ctx, e.ID, "recovery", now.Unix()); err != nil {
				return recovered, err
			}
		}
		cause := errors.New(errors.KindProcessor, "processing abandoned by worker")
		if err := o.fail(ctx, e, open, cause, now.Sub(time.Unix(e.UpdatedAt, 0)), now); err != nil {
			if stderrors.Is(err, repositories.ErrNotFound) {
				continue
			}
			return recovered, err
		}
		recovered++
	}

	orphans, err := o.Events.Unscheduled(ctx, cutoff, o.settings.MaxRetries, limit)
	if err != nil {
		return recovered, fmt.Errorf("list unscheduled events: %w", err)
	}
	for _, e := range orphans {
		due := now.Unix()
		if e.NextAttemptAt > due {
			due = e.NextAttemptAt
		}
		if _, err := o.Queue.Enqueue(ctx, e.ID, due, now.Unix()); err != nil {
			return recovered, err
		}
		recovered++
	}
	if recovered > 0 {
		o.log.Warn().Int("count", recovered).Msg("recovered stalled events")
		if o.Notify != nil {
			o.Notify()
		}
	}
	return recovered, nil
}
