package processing

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"hookgate/internal/platform/config"
	"hookgate/internal/platform/models"
)

// Signal is a coalescing wake-up for the worker pool.
type Signal chan struct{}

func NewSignal() Signal { return make(Signal, 1) }

func (s Signal) Notify() {
	select {
	case s <- struct{}{}:
	default:
	}
}

type JobStore interface {
	Lease(ctx context.Context, owner string, now, leaseSeconds int64, limit int) ([]*models.Job, error)
	Ack(ctx context.Context, id, owner string) error
	Release(ctx context.Context, id, owner string, notBefore int64) error
}

type PoolConfig struct {
	Workers       int
	PollInterval  time.Duration
	LeaseDuration time.Duration
}

func PoolConfigFrom(cfg config.ProcessingConfig) PoolConfig {
	return PoolConfig{Workers: cfg.Workers, PollInterval: cfg.PollInterval, LeaseDuration: cfg.LeaseDuration}
}

// Pool runs N workers fed from the durable job queue. Leasing is a
// compare-and-set, so several pools may share one queue.
type Pool struct {
	jobs  JobStore
	orch  *Orchestrator
	cfg   PoolConfig
	wake  Signal
	owner string
	log   zerolog.Logger
}

func NewPool(jobs JobStore, orch *Orchestrator, cfg PoolConfig, wake Signal, log zerolog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 2 * time.Minute
	}
	host, _ := os.Hostname()
	return &Pool{
		jobs:  jobs,
		orch:  orch,
		cfg:   cfg,
		wake:  wake,
		owner: fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.New().String()[:8]),
		log:   log,
	}
}

// Run blocks until ctx is cancelled and in-flight jobs have finished.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info().Int("workers", p.cfg.Workers).Str("owner", p.owner).Msg("worker pool started")

	queue := make(chan *models.Job)
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for job := range queue {
				p.handle(ctx, id, job)
			}
		}(i)
	}

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	defer func() {
		close(queue)
		wg.Wait()
		p.log.Info().Msg("worker pool stopped")
	}()

	for {
		n, err := p.dispatch(ctx, queue)
		if err != nil {
			p.log.Error().Err(err).Msg("failed to lease jobs")
		}
		if n > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-p.wake:
		}
	}
}

func (p *Pool) dispatch(ctx context.Context, queue chan<- *models.Job) (int, error) {
	if ctx.Err() != nil {
		return 0, nil
	}
	jobs, err := p.jobs.Lease(ctx, p.owner, time.Now().Unix(), int64(p.cfg.LeaseDuration/time.Second), p.cfg.Workers)
	if err != nil {
		return 0, err
	}
	for i, job := range jobs {
		select {
		case queue <- job:
		case <-ctx.Done():
			// Unsent leases expire and become visible to other pools.
			return i, nil
		}
	}
	return len(jobs), nil
}

func (p *Pool) handle(ctx context.Context, worker int, job *models.Job) {
	log := p.log.With().Int("worker", worker).Str("job_id", job.ID).Str("event_id", job.EventID).Logger()

	// In-flight jobs finish on shutdown; the attempt timeout bounds them.
	ctx = context.WithoutCancel(ctx)
	if err := p.orch.Process(ctx, job.EventID); err != nil {
		log.Error().Err(err).Msg("processing bookkeeping failed, releasing job")
		retryAt := time.Now().Add(p.cfg.PollInterval).Unix()
		if err := p.jobs.Release(ctx, job.ID, p.owner, retryAt); err != nil {
			log.Error().Err(err).Msg("failed to release job")
		}
		return
	}
	if err := p.jobs.Ack(ctx, job.ID, p.owner); err != nil {
		log.Error().Err(err).Msg("failed to ack job")
	}
}
