// Package workers runs the periodic background loops: stale-event recovery,
// health checks and the retention sweep.
package workers

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"hookgate/internal/engine/metrics"
	"hookgate/internal/engine/processing"
	"hookgate/internal/engine/retention"
)

// Every runs fn immediately and then on each tick until ctx is done.
func Every(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	fn(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

type Set struct {
	Pool         *processing.Pool
	Orchestrator *processing.Orchestrator
	Monitor      *metrics.Monitor
	Sweeper      *retention.Sweeper

	RecoverInterval   time.Duration
	StaleAfter        time.Duration
	HealthInterval    time.Duration
	RetentionInterval time.Duration
	Logger            zerolog.Logger
}

// Run starts every configured loop and blocks until ctx is cancelled.
func Run(ctx context.Context, s Set) error {
	g, ctx := errgroup.WithContext(ctx)

	if s.Pool != nil {
		g.Go(func() error { return s.Pool.Run(ctx) })
	}
	if s.Orchestrator != nil {
		g.Go(func() error {
			Every(ctx, orDefault(s.RecoverInterval, time.Minute), func(ctx context.Context) {
				if _, err := s.Orchestrator.Recover(ctx, orDefault(s.StaleAfter, 2*time.Minute), 100); err != nil {
					s.Logger.Error().Err(err).Msg("stale event recovery failed")
				}
			})
			return nil
		})
	}
	if s.Monitor != nil {
		g.Go(func() error {
			Every(ctx, orDefault(s.HealthInterval, time.Minute), func(ctx context.Context) {
				snap := s.Monitor.Check(ctx)
				s.Logger.Debug().
					Str("status", snap.Status).
					Float64("failure_ratio", snap.FailureRatio).
					Int("queue_depth", snap.QueueDepth).
					Msg("health check")
			})
			return nil
		})
	}
	if s.Sweeper != nil {
		g.Go(func() error {
			Every(ctx, orDefault(s.RetentionInterval, time.Hour), func(ctx context.Context) {
				s.Sweeper.Sweep(ctx)
			})
			return nil
		})
	}

	s.Logger.Info().Msg("background workers started")
	return g.Wait()
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
