package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"hookgate/internal/engine/alerts"
	"hookgate/internal/engine/security"
	"hookgate/internal/pkg/errors"
	"hookgate/internal/platform/config"
	"hookgate/internal/platform/models"
	"hookgate/internal/platform/telemetry"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

type OutcomeSource interface {
	OutcomeCounts(ctx context.Context, since int64) (models.OutcomeCounts, error)
}

type SecuritySource interface {
	Health(ctx context.Context) security.StoreHealth
	RecentViolations(ctx context.Context, window time.Duration, kinds ...errors.Kind) (int64, error)
}

type QueueSource interface {
	Depth(ctx context.Context) (int, error)
}

type ComponentHealth struct {
	Reachable bool   `json:"reachable"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type Snapshot struct {
	Status            string               `json:"status"`
	Database          ComponentHealth      `json:"database"`
	SecurityStore     ComponentHealth      `json:"security_store"`
	Outcomes          models.OutcomeCounts `json:"outcomes"`
	FailureRatio      float64              `json:"failure_ratio"`
	SignatureFailures int64                `json:"signature_failures"`
	QueueDepth        int                  `json:"queue_depth"`
	WindowSeconds     int64                `json:"window_seconds"`
	CheckedAt         int64                `json:"checked_at"`
}

// Monitor samples dependency reachability and recent failure ratios,
// caches the result for a short TTL and raises alerts on threshold
// crossings.
type Monitor struct {
	cfg      config.HealthConfig
	db       Pinger
	events   OutcomeSource
	security SecuritySource
	queue    QueueSource
	alerts   alerts.Dispatcher
	metrics  *telemetry.Collectors
	log      zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	last    *Snapshot
	expires time.Time
}

type MonitorDeps struct {
	DB       Pinger
	Events   OutcomeSource
	Security SecuritySource
	Queue    QueueSource
	Alerts   alerts.Dispatcher
	Metrics  *telemetry.Collectors
	Logger   zerolog.Logger
}

func NewMonitor(cfg config.HealthConfig, deps MonitorDeps) *Monitor {
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	return &Monitor{
		cfg:      cfg,
		db:       deps.DB,
		events:   deps.Events,
		security: deps.Security,
		queue:    deps.Queue,
		alerts:   deps.Alerts,
		metrics:  deps.Metrics,
		log:      deps.Logger,
		now:      time.Now,
	}
}

// Snapshot returns the cached snapshot while it is fresh, else probes.
func (m *Monitor) Snapshot(ctx context.Context) *Snapshot {
	m.mu.Lock()
	if m.last != nil && m.now().Before(m.expires) {
		s := m.last
		m.mu.Unlock()
		return s
	}
	m.mu.Unlock()
	return m.probe(ctx, false)
}

// Check probes every dependency, refreshes the cache and raises alerts.
func (m *Monitor) Check(ctx context.Context) *Snapshot {
	return m.probe(ctx, true)
}

func (m *Monitor) probe(ctx context.Context, raise bool) *Snapshot {
	now := m.now()
	s := &Snapshot{Status: StatusHealthy, WindowSeconds: int64(m.cfg.Window / time.Second), CheckedAt: now.Unix()}

	s.Database = m.pingDB(ctx)
	if m.security != nil {
		h := m.security.Health(ctx)
		s.SecurityStore = ComponentHealth{Reachable: h.Reachable, LatencyMS: h.LatencyMS, Error: h.Error}
	}
	if !s.Database.Reachable || !s.SecurityStore.Reachable {
		s.Status = StatusUnhealthy
	}

	if s.Database.Reachable {
		counts, err := m.events.OutcomeCounts(ctx, now.Add(-m.cfg.Window).Unix())
		if err != nil {
			m.log.Error().Err(err).Msg("health: outcome counts failed")
		} else {
			s.Outcomes = counts
			s.FailureRatio = counts.FailureRatio()
		}
		if m.queue != nil {
			if depth, err := m.queue.Depth(ctx); err == nil {
				s.QueueDepth = depth
			}
		}
	}
	if s.SecurityStore.Reachable {
		n, err := m.security.RecentViolations(ctx, m.cfg.Window, errors.KindSignatureMismatch, errors.KindMalformedSignature)
		if err != nil {
			m.log.Error().Err(err).Msg("health: signature failure count failed")
		} else {
			s.SignatureFailures = n
		}
	}

	ratioSeverity := m.ratioSeverity(s)
	if s.Status == StatusHealthy && (ratioSeverity != "" || m.signatureRateHigh(s)) {
		s.Status = StatusDegraded
	}

	m.export(s)
	m.mu.Lock()
	m.last = s
	m.expires = now.Add(m.cfg.SnapshotTTL)
	m.mu.Unlock()

	if raise {
		m.raise(ctx, s, ratioSeverity)
	}
	return s
}

func (m *Monitor) pingDB(ctx context.Context) ComponentHealth {
	if m.db == nil {
		return ComponentHealth{}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	start := time.Now()
	err := m.db.PingContext(ctx)
	h := ComponentHealth{Reachable: err == nil, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		h.Error = err.Error()
	}
	return h
}

func (m *Monitor) ratioSeverity(s *Snapshot) alerts.Severity {
	if s.Outcomes.Terminal() < m.cfg.MinSamples {
		return ""
	}
	switch {
	case m.cfg.FailureRatioCritical > 0 && s.FailureRatio >= m.cfg.FailureRatioCritical:
		return alerts.SeverityCritical
	case m.cfg.FailureRatioWarning > 0 && s.FailureRatio >= m.cfg.FailureRatioWarning:
		return alerts.SeverityWarning
	}
	return ""
}

// signatureRateHigh compares the per-minute signature failure rate over
// the window against the warning threshold.
func (m *Monitor) signatureRateHigh(s *Snapshot) bool {
	if m.cfg.SignatureFailuresWarn <= 0 {
		return false
	}
	minutes := m.cfg.Window.Minutes()
	if minutes < 1 {
		minutes = 1
	}
	return float64(s.SignatureFailures)/minutes >= float64(m.cfg.SignatureFailuresWarn)
}

func (m *Monitor) export(s *Snapshot) {
	if m.metrics == nil {
		return
	}
	m.metrics.Health.WithLabelValues("database").Set(boolGauge(s.Database.Reachable))
	m.metrics.Health.WithLabelValues("security_store").Set(boolGauge(s.SecurityStore.Reachable))
	m.metrics.QueueDepth.Set(float64(s.QueueDepth))
}

func (m *Monitor) raise(ctx context.Context, s *Snapshot, ratioSeverity alerts.Severity) {
	for name, h := range map[string]ComponentHealth{"database": s.Database, "security_store": s.SecurityStore} {
		if h.Reachable {
			continue
		}
		alerts.Raise(ctx, m.alerts, m.log, alerts.Alert{
			Type:     alerts.TypeDependencyDown,
			Severity: alerts.SeverityCritical,
			Title:    "Dependency unreachable",
			Message:  fmt.Sprintf("%s did not answer its health probe", name),
			Fields:   map[string]any{"component": name, "error": h.Error},
			Key:      name,
		})
	}
	if ratioSeverity != "" {
		alerts.Raise(ctx, m.alerts, m.log, alerts.Alert{
			Type:     alerts.TypeFailureRatio,
			Severity: ratioSeverity,
			Title:    "Event failure ratio above threshold",
			Message:  fmt.Sprintf("%.1f%% of %d events failed in the last %s", s.FailureRatio*100, s.Outcomes.Terminal(), m.cfg.Window),
			Fields:   map[string]any{"failure_ratio": s.FailureRatio, "failed": s.Outcomes.Failed, "terminal": s.Outcomes.Terminal()},
			Key:      string(ratioSeverity),
		})
	}
	if m.signatureRateHigh(s) {
		alerts.Raise(ctx, m.alerts, m.log, alerts.Alert{
			Type:     alerts.TypeSignatureFailures,
			Severity: alerts.SeverityWarning,
			Title:    "Signature failure rate above threshold",
			Message:  fmt.Sprintf("%d signature failures in the last %s", s.SignatureFailures, m.cfg.Window),
			Fields:   map[string]any{"signature_failures": s.SignatureFailures},
			Key:      "rate",
		})
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
