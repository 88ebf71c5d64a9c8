package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"hookgate/internal/platform/database"
	"hookgate/internal/platform/models"
)

const eventColumns = `id, webhook_config_id, platform, event_type, external_event_id, idempotency_key, object_type, object_id,
	payload, signature, status, retry_count, error_message, received_at, processed_at, updated_at, next_attempt_at`

type EventRepository struct {
	db *database.DB
}

func NewEventRepository(db *database.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Insert stores a new pending event. It reports false without error when an
// event with the same (platform, external_event_id) or idempotency key
// already exists.
func (r *EventRepository) Insert(ctx context.Context, e *models.WebhookEvent) (bool, error) {
	if e.ID == "" {
		e.ID = "evt_" + uuid.New().String()
	}
	if e.Status == "" {
		e.Status = models.EventPending
	}
	if e.UpdatedAt == 0 {
		e.UpdatedAt = e.ReceivedAt
	}

	query := `
		INSERT INTO webhook_events (id, webhook_config_id, platform, event_type, external_event_id, idempotency_key,
			object_type, object_id, payload, signature, status, retry_count, error_message, received_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, '', ?, ?)
		ON CONFLICT DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, e.ID, nullableString(e.WebhookConfigID), string(e.Platform), e.EventType,
		nullableString(e.ExternalEventID), e.IdempotencyKey, e.ObjectType, e.ObjectID, string(e.Payload), e.Signature,
		string(e.Status), e.ReceivedAt, e.UpdatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *EventRepository) GetByID(ctx context.Context, id string) (*models.WebhookEvent, error) {
	return scanEvent(r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM webhook_events WHERE id = ?`, id))
}

// FindDuplicate returns the stored event matching the external id or the
// idempotency key for a platform.
func (r *EventRepository) FindDuplicate(ctx context.Context, platform models.Platform, externalID *string, key string) (*models.WebhookEvent, error) {
	if externalID != nil {
		e, err := scanEvent(r.db.QueryRowContext(ctx,
			`SELECT `+eventColumns+` FROM webhook_events WHERE platform = ? AND external_event_id = ?`, string(platform), *externalID))
		if !errors.Is(err, ErrNotFound) {
			return e, err
		}
	}
	return scanEvent(r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM webhook_events WHERE platform = ? AND idempotency_key = ?`, string(platform), key))
}

// Claim moves an event to processing when it is pending, or failed with
// retries left and its backoff elapsed. Only one caller can win the
// transition.
func (r *EventRepository) Claim(ctx context.Context, id string, maxRetries int, now int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE webhook_events SET status = ?, updated_at = ?
		WHERE id = ? AND (status = ? OR (status = ? AND retry_count < ? AND next_attempt_at <= ?))
	`, string(models.EventProcessing), now, id, string(models.EventPending), string(models.EventFailed), maxRetries, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *EventRepository) MarkProcessed(ctx context.Context, id string, now int64) error {
	return r.finish(ctx, id, models.EventProcessed, "", now)
}

func (r *EventRepository) MarkIgnored(ctx context.Context, id, reason string, now int64) error {
	return r.finish(ctx, id, models.EventIgnored, reason, now)
}

func (r *EventRepository) finish(ctx context.Context, id string, status models.EventStatus, message string, now int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE webhook_events SET status = ?, error_message = ?, processed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(status), message, now, now, id, string(models.EventProcessing))
	if err != nil {
		return err
	}
	return expectOne(res)
}

// MarkFailed records a failed attempt on a processing event, holds it back
// until nextAttemptAt and returns the incremented retry count.
func (r *EventRepository) MarkFailed(ctx context.Context, id, message string, nextAttemptAt, now int64) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE webhook_events SET status = ?, error_message = ?, retry_count = retry_count + 1, next_attempt_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(models.EventFailed), message, nextAttemptAt, now, id, string(models.EventProcessing))
	if err != nil {
		return 0, err
	}
	if err := expectOne(res); err != nil {
		return 0, err
	}

	var retryCount int
	err = r.db.QueryRowContext(ctx, `SELECT retry_count FROM webhook_events WHERE id = ?`, id).Scan(&retryCount)
	return retryCount, err
}

// Stale lists events left in processing since before the cutoff.
func (r *EventRepository) Stale(ctx context.Context, before int64, limit int) ([]*models.WebhookEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM webhook_events WHERE status = ? AND updated_at < ? ORDER BY updated_at LIMIT ?`,
		string(models.EventProcessing), before, limit)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

// Reschedule moves a failed event's next attempt to at.
func (r *EventRepository) Reschedule(ctx context.Context, id string, at, now int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE webhook_events SET next_attempt_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, at, now, id, string(models.EventFailed))
	if err != nil {
		return err
	}
	return expectOne(res)
}

// Unscheduled lists pending events, and failed events with retries left,
// received before the cutoff that have no queued job.
func (r *EventRepository) Unscheduled(ctx context.Context, before int64, maxRetries, limit int) ([]*models.WebhookEvent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM webhook_events e
		WHERE (e.status = ? OR (e.status = ? AND e.retry_count < ?)) AND e.updated_at < ?
		AND NOT EXISTS (SELECT 1 FROM processing_jobs j WHERE j.event_id = e.id)
		ORDER BY e.updated_at LIMIT ?`,
		string(models.EventPending), string(models.EventFailed), maxRetries, before, limit)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

func (r *EventRepository) List(ctx context.Context, f models.EventFilter) ([]*models.WebhookEvent, error) {
	var where []string
	var args []any
	if f.Platform != "" {
		where = append(where, "platform = ?")
		args = append(args, string(f.Platform))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.ConfigID != "" {
		where = append(where, "webhook_config_id = ?")
		args = append(args, f.ConfigID)
	}
	if f.Since > 0 {
		where = append(where, "received_at >= ?")
		args = append(args, f.Since)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `SELECT ` + eventColumns + ` FROM webhook_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY received_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

// OutcomeCounts tallies events by status among those updated since the cutoff.
func (r *EventRepository) OutcomeCounts(ctx context.Context, since int64) (models.OutcomeCounts, error) {
	var out models.OutcomeCounts
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM webhook_events WHERE updated_at >= ? GROUP BY status`, since)
	if err != nil {
		return out, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return out, err
		}
		switch models.EventStatus(status) {
		case models.EventProcessed:
			out.Processed = n
		case models.EventFailed:
			out.Failed = n
		case models.EventIgnored:
			out.Ignored = n
		case models.EventPending, models.EventProcessing:
			out.Pending += n
		}
	}
	return out, rows.Err()
}

// DeleteFinishedBefore removes processed, ignored and exhausted failed
// events received before the cutoff.
func (r *EventRepository) DeleteFinishedBefore(ctx context.Context, cutoff int64, maxRetries int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM webhook_events
		WHERE received_at < ? AND (status IN (?, ?) OR (status = ? AND retry_count >= ?))
	`, cutoff, string(models.EventProcessed), string(models.EventIgnored), string(models.EventFailed), maxRetries)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func collectEvents(rows *sql.Rows) ([]*models.WebhookEvent, error) {
	defer rows.Close()
	var events []*models.WebhookEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanEvent(row rowScanner) (*models.WebhookEvent, error) {
	var e models.WebhookEvent
	var configID, externalID sql.NullString
	var processedAt sql.NullInt64
	var platform, status, payload string

	err := row.Scan(&e.ID, &configID, &platform, &e.EventType, &externalID, &e.IdempotencyKey, &e.ObjectType, &e.ObjectID,
		&payload, &e.Signature, &status, &e.RetryCount, &e.ErrorMessage, &e.ReceivedAt, &processedAt, &e.UpdatedAt, &e.NextAttemptAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	e.Platform = models.Platform(platform)
	e.Status = models.EventStatus(status)
	e.Payload = []byte(payload)
	if configID.Valid {
		s := configID.String
		e.WebhookConfigID = &s
	}
	if externalID.Valid {
		s := externalID.String
		e.ExternalEventID = &s
	}
	if processedAt.Valid {
		v := processedAt.Int64
		e.ProcessedAt = &v
	}
	return &e, nil
}
