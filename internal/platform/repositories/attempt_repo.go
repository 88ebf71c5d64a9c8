package repositories

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"hookgate/internal/platform/database"
	"hookgate/internal/platform/models"
)

// AttemptRepository is the append-only processing audit trail.
type AttemptRepository struct {
	db *database.DB
}

func NewAttemptRepository(db *database.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

func (r *AttemptRepository) Start(ctx context.Context, eventID, processorName string, startedAt int64) (*models.ProcessingAttempt, error) {
	a := &models.ProcessingAttempt{
		ID:            "att_" + uuid.New().String(),
		EventID:       eventID,
		ProcessorName: processorName,
		Status:        models.AttemptProcessing,
		StartedAt:     startedAt,
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO processing_attempts (id, event_id, processor_name, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, a.ID, a.EventID, a.ProcessorName, string(a.Status), a.StartedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close finalises an open attempt. Closed attempts are never rewritten.
func (r *AttemptRepository) Close(ctx context.Context, a *models.ProcessingAttempt, status models.AttemptStatus, result, errMsg string, completedAt int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE processing_attempts SET status = ?, result = ?, error = ?, completed_at = ?
		WHERE id = ? AND completed_at IS NULL
	`, string(status), result, errMsg, completedAt, a.ID)
	if err != nil {
		return err
	}
	if err := expectOne(res); err != nil {
		return err
	}
	a.Status = status
	a.Result = result
	a.Error = errMsg
	a.CompletedAt = &completedAt
	return nil
}

func (r *AttemptRepository) ListByEvent(ctx context.Context, eventID string) ([]*models.ProcessingAttempt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_id, processor_name, status, started_at, completed_at, result, error
		FROM processing_attempts WHERE event_id = ? ORDER BY started_at, id
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []*models.ProcessingAttempt
	for rows.Next() {
		var a models.ProcessingAttempt
		var status string
		var completedAt sql.NullInt64
		if err := rows.Scan(&a.ID, &a.EventID, &a.ProcessorName, &status, &a.StartedAt, &completedAt, &a.Result, &a.Error); err != nil {
			return nil, err
		}
		a.Status = models.AttemptStatus(status)
		if completedAt.Valid {
			v := completedAt.Int64
			a.CompletedAt = &v
		}
		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}

// DeleteBefore removes attempts started before the cutoff, and attempts
// whose event no longer exists.
func (r *AttemptRepository) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM processing_attempts
		WHERE started_at < ? OR event_id NOT IN (SELECT id FROM webhook_events)
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
