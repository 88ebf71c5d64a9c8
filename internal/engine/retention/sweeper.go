// Package retention deletes rows and security keys past their retention.
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"hookgate/internal/engine/metrics"
	"hookgate/internal/platform/config"
)

type EventStore interface {
	DeleteFinishedBefore(ctx context.Context, cutoff int64, maxRetries int) (int64, error)
}

type AttemptStore interface {
	DeleteBefore(ctx context.Context, cutoff int64) (int64, error)
}

type MetricStore interface {
	DeleteBefore(ctx context.Context, cutoffDate string) (int64, error)
}

type AuditStore interface {
	DeleteBefore(ctx context.Context, cutoff int64) (int64, error)
}

type JobStore interface {
	DeleteOrphans(ctx context.Context) (int64, error)
}

type KeyPurger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

type Stores struct {
	Events   EventStore
	Attempts AttemptStore
	Metrics  MetricStore
	Audit    AuditStore
	Jobs     JobStore
	Security KeyPurger
}

// Report counts what one sweep removed.
type Report struct {
	Events       int64 `json:"events"`
	Attempts     int64 `json:"attempts"`
	Metrics      int64 `json:"metrics"`
	Audit        int64 `json:"audit"`
	OrphanJobs   int64 `json:"orphan_jobs"`
	SecurityKeys int   `json:"security_keys"`
	Errors       int   `json:"errors"`
}

type Sweeper struct {
	stores     Stores
	cfg        config.RetentionConfig
	maxRetries int
	log        zerolog.Logger
	now        func() time.Time
}

func NewSweeper(stores Stores, cfg config.RetentionConfig, maxRetries int, log zerolog.Logger) *Sweeper {
	return &Sweeper{stores: stores, cfg: cfg, maxRetries: maxRetries, log: log, now: time.Now}
}

// Sweep runs every deletion. A failing step is logged and the rest still
// run; only terminal events are ever deleted.
func (s *Sweeper) Sweep(ctx context.Context) Report {
	now := s.now()
	var r Report

	if s.cfg.Events > 0 {
		r.Events = s.step("events", func() (int64, error) {
			return s.stores.Events.DeleteFinishedBefore(ctx, now.Add(-s.cfg.Events).Unix(), s.maxRetries)
		}, &r)
	}
	if s.cfg.Attempts > 0 {
		r.Attempts = s.step("attempts", func() (int64, error) {
			return s.stores.Attempts.DeleteBefore(ctx, now.Add(-s.cfg.Attempts).Unix())
		}, &r)
	}
	if s.cfg.Metrics > 0 {
		r.Metrics = s.step("metrics", func() (int64, error) {
			return s.stores.Metrics.DeleteBefore(ctx, metrics.Date(now.Add(-s.cfg.Metrics)))
		}, &r)
	}
	if s.cfg.Audit > 0 && s.stores.Audit != nil {
		r.Audit = s.step("audit", func() (int64, error) {
			return s.stores.Audit.DeleteBefore(ctx, now.Add(-s.cfg.Audit).Unix())
		}, &r)
	}
	r.OrphanJobs = s.step("orphan_jobs", func() (int64, error) {
		return s.stores.Jobs.DeleteOrphans(ctx)
	}, &r)
	r.SecurityKeys = int(s.step("security_keys", func() (int64, error) {
		n, err := s.stores.Security.PurgeExpired(ctx)
		return int64(n), err
	}, &r))

	s.log.Info().
		Int64("events", r.Events).
		Int64("attempts", r.Attempts).
		Int64("metrics", r.Metrics).
		Int64("audit", r.Audit).
		Int64("orphan_jobs", r.OrphanJobs).
		Int("security_keys", r.SecurityKeys).
		Int("errors", r.Errors).
		Msg("retention sweep finished")
	return r
}

func (s *Sweeper) step(name string, fn func() (int64, error), r *Report) int64 {
	n, err := fn()
	if err != nil {
		r.Errors++
		s.log.Error().Err(err).Str("step", name).Msg("retention step failed")
	}
	return n
}
