package alerts

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"hookgate/internal/platform/audit"
	"hookgate/internal/platform/models"
	"hookgate/internal/platform/telemetry"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	TypeSignatureFailures  = "signature_failure_threshold"
	TypeViolations         = "violation_threshold"
	TypeAutoBlock          = "ip_auto_blocked"
	TypeMaxRetriesExceeded = "max_retries_exceeded"
	TypeFailureRatio       = "failure_ratio"
	TypeDependencyDown     = "dependency_unreachable"
)

type Alert struct {
	Type     string         `json:"type"`
	Severity Severity       `json:"severity"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Fields   map[string]any `json:"fields,omitempty"`
	RaisedAt time.Time      `json:"raised_at"`
	// Key narrows the cooldown scope below the alert type, e.g. an event id.
	Key string `json:"-"`
}

// Dispatcher delivers alerts. Rendering and channel selection belong to
// the receiving side.
type Dispatcher interface {
	Dispatch(ctx context.Context, a Alert) error
}

// Raise stamps and sends an alert, logging instead of returning failures.
func Raise(ctx context.Context, d Dispatcher, log zerolog.Logger, a Alert) {
	if d == nil {
		return
	}
	if a.RaisedAt.IsZero() {
		a.RaisedAt = time.Now().UTC()
	}
	if err := d.Dispatch(ctx, a); err != nil {
		log.Error().Err(err).Str("alert", a.Type).Str("severity", string(a.Severity)).Msg("failed to dispatch alert")
	}
}

// LogDispatcher writes alerts to the structured log.
type LogDispatcher struct {
	log     zerolog.Logger
	metrics *telemetry.Collectors
}

func NewLogDispatcher(log zerolog.Logger, metrics *telemetry.Collectors) *LogDispatcher {
	return &LogDispatcher{log: log, metrics: metrics}
}

func (d *LogDispatcher) Dispatch(_ context.Context, a Alert) error {
	level := zerolog.WarnLevel
	if a.Severity == SeverityCritical {
		level = zerolog.ErrorLevel
	} else if a.Severity == SeverityInfo {
		level = zerolog.InfoLevel
	}
	d.log.WithLevel(level).
		Str("alert", a.Type).
		Str("severity", string(a.Severity)).
		Fields(a.Fields).
		Msg(a.Title + ": " + a.Message)
	if d.metrics != nil {
		d.metrics.Alerts.WithLabelValues(a.Type, string(a.Severity)).Inc()
	}
	return nil
}

// Multi fans an alert out to every dispatcher and returns the first error.
type Multi []Dispatcher

func (m Multi) Dispatch(ctx context.Context, a Alert) error {
	var first error
	for _, d := range m {
		if err := d.Dispatch(ctx, a); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type AuditRecorder interface {
	Record(entry models.SecurityAuditEntry)
}

// AuditDispatcher keeps a copy of every alert in the security audit log.
type AuditDispatcher struct {
	Audit AuditRecorder
}

func (d AuditDispatcher) Dispatch(_ context.Context, a Alert) error {
	d.Audit.Record(models.SecurityAuditEntry{
		Kind: audit.KindAlert,
		Rule: a.Type,
		Detail: map[string]interface{}{
			"severity": string(a.Severity),
			"title":    a.Title,
			"message":  a.Message,
			"fields":   a.Fields,
		},
		CreatedAt: a.RaisedAt.Unix(),
	})
	return nil
}
