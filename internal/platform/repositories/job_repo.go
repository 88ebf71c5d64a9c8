package repositories

import (
	"context"

	"github.com/google/uuid"
	"hookgate/internal/platform/database"
	"hookgate/internal/platform/models"
)

// JobRepository is the durable processing queue. Workers lease due jobs
// with a compare-and-set on leased_until so two workers never hold the
// same job; an expired lease makes the job visible again.
type JobRepository struct {
	db *database.DB
}

func NewJobRepository(db *database.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Enqueue(ctx context.Context, eventID string, notBefore, now int64) (*models.Job, error) {
	job := &models.Job{
		ID:        "job_" + uuid.New().String(),
		EventID:   eventID,
		NotBefore: notBefore,
		CreatedAt: now,
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO processing_jobs (id, event_id, not_before, attempt, lease_owner, created_at)
		VALUES (?, ?, ?, 0, '', ?)
	`, job.ID, job.EventID, job.NotBefore, job.CreatedAt)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Lease claims up to limit due jobs for owner until now+lease seconds.
func (r *JobRepository) Lease(ctx context.Context, owner string, now, leaseSeconds int64, limit int) ([]*models.Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_id, not_before, attempt, created_at
		FROM processing_jobs
		WHERE not_before <= ? AND (leased_until IS NULL OR leased_until < ?)
		ORDER BY not_before, created_at
		LIMIT ?
	`, now, now, limit)
	if err != nil {
		return nil, err
	}

	var candidates []*models.Job
	for rows.Next() {
		var j models.Job
		if err := rows.Scan(&j.ID, &j.EventID, &j.NotBefore, &j.Attempt, &j.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, &j)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	until := now + leaseSeconds
	var leased []*models.Job
	for _, j := range candidates {
		res, err := r.db.ExecContext(ctx, `
			UPDATE processing_jobs SET leased_until = ?, lease_owner = ?, attempt = attempt + 1
			WHERE id = ? AND (leased_until IS NULL OR leased_until < ?)
		`, until, owner, j.ID, now)
		if err != nil {
			return leased, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return leased, err
		}
		if n != 1 {
			continue
		}
		j.Attempt++
		j.LeasedUntil = &until
		j.LeaseOwner = owner
		leased = append(leased, j)
	}
	return leased, nil
}

// Ack removes a finished job held by owner.
func (r *JobRepository) Ack(ctx context.Context, id, owner string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM processing_jobs WHERE id = ? AND lease_owner = ?`, id, owner)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// Release drops the lease so the job becomes due again at notBefore.
func (r *JobRepository) Release(ctx context.Context, id, owner string, notBefore int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE processing_jobs SET leased_until = NULL, lease_owner = '', not_before = ?
		WHERE id = ? AND lease_owner = ?
	`, notBefore, id, owner)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// Depth counts queued jobs, leased or not.
func (r *JobRepository) Depth(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processing_jobs`).Scan(&n)
	return n, err
}

// DeleteOrphans removes jobs whose event has been deleted.
func (r *JobRepository) DeleteOrphans(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM processing_jobs WHERE event_id NOT IN (SELECT id FROM webhook_events)`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
