// Package app assembles the gatekeeper, intake, processing and background
// loops from configuration. The server and worker binaries share it.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"hookgate/internal/api"
	"hookgate/internal/api/handlers"
	"hookgate/internal/api/middleware"
	"hookgate/internal/engine/alerts"
	"hookgate/internal/engine/intake"
	"hookgate/internal/engine/metrics"
	"hookgate/internal/engine/processing"
	"hookgate/internal/engine/retention"
	"hookgate/internal/engine/security"
	"hookgate/internal/platform/audit"
	"hookgate/internal/platform/auth"
	"hookgate/internal/platform/config"
	"hookgate/internal/platform/database"
	"hookgate/internal/platform/repositories"
	"hookgate/internal/platform/telemetry"
	"hookgate/internal/workers"
)

type App struct {
	Config  *config.Config
	DB      *database.DB
	Store   security.Store
	Metrics *telemetry.Collectors
	Audit   *audit.Logger
	Alerts  alerts.Dispatcher
	Log     zerolog.Logger

	Configs     *repositories.WebhookConfigRepository
	Events      *repositories.EventRepository
	Attempts    *repositories.AttemptRepository
	Jobs        *repositories.JobRepository
	MetricsRepo *repositories.MetricRepository

	Gatekeeper   *security.Gatekeeper
	Secrets      *intake.Secrets
	Intake       *intake.Service
	Aggregator   *metrics.Aggregator
	Orchestrator *processing.Orchestrator
	Pool         *processing.Pool
	Monitor      *metrics.Monitor
	Sweeper      *retention.Sweeper
	// Wake lets intake and manual retries skip the pool's poll delay when
	// the pool runs in this process.
	Wake processing.Signal

	redis goredis.UniversalClient
}

// Options overrides pieces that tests swap out.
type Options struct {
	Store security.Store
	Now   func() time.Time
}

// New wires every component over an open, migrated database.
func New(ctx context.Context, cfg *config.Config, db *database.DB, log zerolog.Logger, opts Options) (*App, error) {
	a := &App{
		Config:      cfg,
		DB:          db,
		Metrics:     telemetry.New(),
		Audit:       audit.NewLogger(db),
		Log:         log,
		Configs:     repositories.NewWebhookConfigRepository(db),
		Events:      repositories.NewEventRepository(db),
		Attempts:    repositories.NewAttemptRepository(db),
		Jobs:        repositories.NewJobRepository(db),
		MetricsRepo: repositories.NewMetricRepository(db),
		Wake:        processing.NewSignal(),
	}

	a.Store = opts.Store
	if a.Store == nil {
		if cfg.Redis.Enabled {
			client, err := security.DialRedis(ctx, cfg.Redis)
			if err != nil {
				return nil, fmt.Errorf("security store: %w", err)
			}
			a.redis = client
			a.Store = security.NewRedisStore(client, cfg.Redis.KeyPrefix)
			log.Info().Strs("addrs", cfg.Redis.Addrs).Msg("security store: redis")
		} else {
			a.Store = security.NewMemoryStore()
			log.Warn().Msg("security store: in-memory, state is not shared between instances")
		}
	}

	sinks := alerts.Multi{
		alerts.NewLogDispatcher(log.With().Str("component", "alerts").Logger(), a.Metrics),
		alerts.AuditDispatcher{Audit: a.Audit},
	}
	if cfg.Alerts.WebhookURL != "" {
		sinks = append(sinks, alerts.NewHTTPDispatcher(cfg.Alerts.WebhookURL, cfg.Alerts.SigningSecret, cfg.Alerts.Timeout))
	}
	a.Alerts = alerts.NewCooldown(sinks, a.Store, cfg.Alerts.Cooldown, log)

	a.Aggregator = metrics.NewAggregator(a.MetricsRepo, a.Metrics)

	policy, err := security.PolicyFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("security policy: %w", err)
	}
	a.Gatekeeper, err = security.NewGatekeeper(a.Store, policy, security.Deps{
		Audit:      a.Audit,
		Alerts:     a.Alerts,
		Metrics:    a.Metrics,
		Rejections: a.Aggregator,
		Logger:     log.With().Str("component", "gatekeeper").Logger(),
		Now:        opts.Now,
	})
	if err != nil {
		return nil, err
	}

	a.Secrets = intake.NewSecrets(a.Configs, cfg.Platform)
	a.Intake = intake.NewService(a.Configs, a.Events, a.Jobs, a.Aggregator, a.Wake.Notify, a.Metrics,
		log.With().Str("component", "intake").Logger())

	procLog := log.With().Str("component", "processing").Logger()
	guarded := processing.NewGuarded(
		processing.LogAnalytics{Log: procLog},
		processing.LogNotifications{Log: procLog},
		cfg.Processing.BreakerTimeout, a.Metrics, procLog)
	a.Orchestrator = processing.NewOrchestrator(processing.SettingsFromConfig(cfg.Processing), processing.Deps{
		Events:        a.Events,
		Attempts:      a.Attempts,
		Configs:       a.Configs,
		Queue:         a.Jobs,
		Outcomes:      a.Aggregator,
		Analytics:     guarded,
		Notifications: guarded,
		Alerts:        a.Alerts,
		Notify:        a.Wake.Notify,
		Logger:        procLog,
	})
	a.Pool = processing.NewPool(a.Jobs, a.Orchestrator, processing.PoolConfigFrom(cfg.Processing), a.Wake, procLog)

	a.Monitor = metrics.NewMonitor(cfg.Health, metrics.MonitorDeps{
		DB:       db,
		Events:   a.Events,
		Security: a.Gatekeeper,
		Queue:    a.Jobs,
		Alerts:   a.Alerts,
		Metrics:  a.Metrics,
		Logger:   log.With().Str("component", "health").Logger(),
	})

	a.Sweeper = retention.NewSweeper(retention.Stores{
		Events:   a.Events,
		Attempts: a.Attempts,
		Metrics:  a.MetricsRepo,
		Audit:    a.Audit,
		Jobs:     a.Jobs,
		Security: a.Store,
	}, cfg.Retention, a.Orchestrator.MaxRetries(), log.With().Str("component", "retention").Logger())

	return a, nil
}

// Handler builds the HTTP surface.
func (a *App) Handler() http.Handler {
	tokenSvc := auth.NewTokenService(a.Config.JWT)
	httpLog := a.Log.With().Str("component", "http").Logger()

	deps := &api.Dependencies{
		WebhookHandler:  handlers.NewWebhookHandler(a.Gatekeeper, a.Secrets, a.Intake, httpLog),
		AuthHandler:     handlers.NewAuthHandler(auth.NewAuthenticator(a.Config.Admin), tokenSvc, a.Config.JWT, httpLog),
		SecurityHandler: handlers.NewSecurityHandler(a.Gatekeeper),
		EventHandler:    handlers.NewEventHandler(a.Events, a.Attempts, a.Orchestrator),
		MetricsHandler:  handlers.NewMetricsHandler(a.Aggregator, a.Metrics),
		ReportHandler:   handlers.NewReportHandler(a.Aggregator, a.Events, a.Gatekeeper, a.Audit, a.Monitor, httpLog),
		AuditHandler:    handlers.NewAuditHandler(a.Audit),
		ConfigHandler:   handlers.NewConfigHandler(a.Configs, httpLog),
		HealthHandler:   handlers.NewHealthHandler(a.Monitor),

		AuthMiddleware:     middleware.NewAuthMiddleware(tokenSvc),
		ClientIPMiddleware: middleware.NewClientIPMiddleware(a.Config.Server.TrustProxyHeaders),
		LoginLimiter:       middleware.NewRateLimiter(a.Config.Admin.LoginRateLimit, time.Minute),
		Logger:             httpLog,
	}
	return api.NewHandler(deps)
}

// Workers returns the background loops. The pool is included only when
// this process should drain the job queue.
func (a *App) Workers(withPool bool) workers.Set {
	s := workers.Set{
		Orchestrator:      a.Orchestrator,
		Monitor:           a.Monitor,
		Sweeper:           a.Sweeper,
		RecoverInterval:   a.Config.Processing.RecoverInterval,
		StaleAfter:        a.Config.Processing.StaleAfter,
		HealthInterval:    a.Config.Health.Interval,
		RetentionInterval: a.Config.Retention.Interval,
		Logger:            a.Log.With().Str("component", "workers").Logger(),
	}
	if withPool {
		s.Pool = a.Pool
	}
	return s
}

// Close flushes pending audit writes and releases the redis client. The
// database belongs to the caller.
func (a *App) Close() {
	a.Audit.Wait()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Log.Error().Err(err).Msg("failed to close redis client")
		}
	}
}
