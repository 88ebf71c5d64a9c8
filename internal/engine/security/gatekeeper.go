package security

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"hookgate/internal/engine/alerts"
	"hookgate/internal/engine/signature"
	"hookgate/internal/pkg/errors"
	"hookgate/internal/platform/audit"
	"hookgate/internal/platform/models"
	"hookgate/internal/platform/telemetry"
)

// windowRetention bounds how far back RecentViolations can look.
const windowRetention = time.Hour

// Request is one inbound, non-challenge delivery.
type Request struct {
	Platform models.Platform
	IP       string
	// ConfigID is set when the route names the owning config.
	ConfigID string
	Size     int64
	Body     []byte
	Header   http.Header
	BodyOnly bool
	// Secret resolves the signing key; it runs only after the size, IP and
	// rate checks pass.
	Secret func(ctx context.Context) (string, error)
}

type AuditRecorder interface {
	Record(entry models.SecurityAuditEntry)
}

// RejectionRecorder counts boundary rejections against a config's daily
// delivery metrics.
type RejectionRecorder interface {
	RecordRejected(ctx context.Context, configID string, at time.Time) error
}

type Deps struct {
	Audit      AuditRecorder
	Alerts     alerts.Dispatcher
	Metrics    *telemetry.Collectors
	Rejections RejectionRecorder
	Logger     zerolog.Logger
	Now        func() time.Time
}

// Gatekeeper applies, in order: size guard, IP policy, rate limit,
// signature verification and replay protection. Every decision is derived
// from atomic store operations.
type Gatekeeper struct {
	store Store
	deps  Deps
	log   zerolog.Logger
	now   func() time.Time

	mu     sync.RWMutex
	policy Policy
}

func NewGatekeeper(store Store, policy Policy, deps Deps) (*Gatekeeper, error) {
	compiled, err := policy.compile()
	if err != nil {
		return nil, err
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Gatekeeper{store: store, deps: deps, log: deps.Logger, now: now, policy: compiled}, nil
}

func (g *Gatekeeper) Store() Store { return g.store }

func (g *Gatekeeper) Policy() Policy {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.policy
}

// Check returns nil when the delivery may proceed to intake, or a typed
// security error after recording the violation.
func (g *Gatekeeper) Check(ctx context.Context, req Request) error {
	p := g.Policy()
	now := g.now()

	if req.Size > p.MaxPayloadBytes {
		return g.reject(ctx, p, req, errors.KindPayloadTooLarge,
			fmt.Sprintf("payload exceeds %d bytes", p.MaxPayloadBytes), "max_payload_bytes")
	}

	if !p.Allowed(req.IP) {
		return g.reject(ctx, p, req, errors.KindIPBlocked, "IP not in allowlist", "allowlist")
	}
	block, blocked, err := g.blockRecord(ctx, req.IP)
	if err != nil {
		return g.storeFailure(err, "blocklist")
	}
	if blocked {
		return g.reject(ctx, p, req, errors.KindIPBlocked, "IP is blocked", block.Rule)
	}

	limit := p.RateLimit(string(req.Platform))
	count, oldest, err := g.store.Hit(ctx, fmt.Sprintf("%s%s:%s", prefixRate, req.Platform, req.IP), now, p.RateLimitWindow)
	if err != nil {
		return g.storeFailure(err, "rate limit")
	}
	if count > int64(limit) {
		// Earliest moment the log can shrink; rejected requests stay in it.
		retryAfter := int64(math.Ceil(oldest.Add(p.RateLimitWindow).Sub(now).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		return g.reject(ctx, p, req, errors.KindRateLimited,
			fmt.Sprintf("more than %d requests per %s", limit, p.RateLimitWindow), "rate_limit").
			WithDetail("retry_after", retryAfter)
	}

	secret := ""
	if req.Secret != nil {
		if secret, err = req.Secret(ctx); err != nil {
			return errors.Wrap(errors.KindInternal, err, "resolve signing secret")
		}
	}
	if secret == "" {
		return g.reject(ctx, p, req, errors.KindSignatureMismatch, "no signing secret configured", "signature")
	}
	verifier, err := signature.For(req.Platform, signature.Options{Tolerance: p.TimestampTolerance, BodyOnly: req.BodyOnly})
	if err != nil {
		return errors.Wrap(errors.KindInvalidInput, err, "unsupported platform")
	}
	res := verifier.Verify(req.Body, req.Header, secret, now)
	if !res.OK {
		return g.reject(ctx, p, req, res.Kind, res.Reason, "signature")
	}

	ttl := p.TimestampTolerance
	if res.ReplayTTL > ttl {
		ttl = res.ReplayTTL
	}
	first, err := g.store.SetNX(ctx, prefixReplay+res.ReplayKey, "1", ttl)
	if err != nil {
		return g.storeFailure(err, "replay cache")
	}
	if !first {
		return g.reject(ctx, p, req, errors.KindReplayDetected, "delivery already seen", "replay_cache")
	}
	return nil
}

// RecordViolation books a rejection decided outside Check, such as a failed
// challenge handshake.
func (g *Gatekeeper) RecordViolation(ctx context.Context, req Request, kind errors.Kind, reason, rule string) error {
	return g.reject(ctx, g.Policy(), req, kind, reason, rule)
}

func (g *Gatekeeper) storeFailure(err error, stage string) error {
	g.log.Error().Err(err).Str("stage", stage).Msg("security store unavailable")
	return errors.Wrap(errors.KindInternal, err, "security store unavailable")
}

func (g *Gatekeeper) reject(ctx context.Context, p Policy, req Request, kind errors.Kind, reason, rule string) *errors.Error {
	now := g.now()

	count, err := g.store.Incr(ctx, violationKey(kind, req.IP), p.ViolationTTL)
	if err != nil {
		g.log.Error().Err(err).Str("kind", string(kind)).Msg("failed to count violation")
	}

	g.log.Warn().
		Str("ip", req.IP).
		Str("platform", string(req.Platform)).
		Str("kind", string(kind)).
		Int64("count", count).
		Str("rule", rule).
		Str("reason", reason).
		Msg("delivery rejected")

	if g.deps.Metrics != nil {
		g.deps.Metrics.Violations.WithLabelValues(string(req.Platform), string(kind)).Inc()
	}
	if g.deps.Audit != nil {
		g.deps.Audit.Record(models.SecurityAuditEntry{
			Kind:     audit.KindViolation,
			IP:       req.IP,
			Platform: string(req.Platform),
			Rule:     rule,
			Detail:   map[string]interface{}{"violation": string(kind), "reason": reason, "count": count},
		})
	}
	if req.ConfigID != "" && g.deps.Rejections != nil {
		if err := g.deps.Rejections.RecordRejected(ctx, req.ConfigID, now); err != nil {
			g.log.Error().Err(err).Str("config_id", req.ConfigID).Msg("failed to record rejected delivery")
		}
	}

	g.evaluateThreshold(ctx, p, kind, req, now)
	if kind != errors.KindIPBlocked {
		g.autoBlock(ctx, p, kind, req)
	}

	return errors.New(kind, reason).WithDetail("rule", rule)
}

func (g *Gatekeeper) evaluateThreshold(ctx context.Context, p Policy, kind errors.Kind, req Request, now time.Time) {
	n, err := g.store.Incr(ctx, windowKey(kind, now), windowRetention)
	if err != nil {
		g.log.Error().Err(err).Msg("failed to count violation window")
		return
	}

	threshold, alertType := p.ViolationAlert, alerts.TypeViolations
	if isSignatureKind(kind) {
		threshold, alertType = p.SignatureFailureAlert, alerts.TypeSignatureFailures
	}
	if threshold <= 0 || n != int64(threshold) {
		return
	}
	alerts.Raise(ctx, g.deps.Alerts, g.log, alerts.Alert{
		Type:     alertType,
		Severity: alerts.SeverityCritical,
		Title:    "Security threshold crossed",
		Message:  fmt.Sprintf("%d %s violations within one minute", n, kind),
		Fields:   map[string]any{"kind": string(kind), "count": n, "last_ip": req.IP, "platform": string(req.Platform)},
		Key:      string(kind),
	})
}

func (g *Gatekeeper) autoBlock(ctx context.Context, p Policy, kind errors.Kind, req Request) {
	if p.AutoBlockThreshold <= 0 || req.IP == "" {
		return
	}
	total, err := g.store.Incr(ctx, totalViolationKey(req.IP), p.ViolationTTL)
	if err != nil || total < int64(p.AutoBlockThreshold) {
		return
	}

	rule := "auto_block:" + string(kind)
	placed, err := g.block(ctx, req.IP, p.AutoBlockTTL, rule,
		fmt.Sprintf("%d violations within %s", total, p.ViolationTTL), "system", true)
	if err != nil {
		g.log.Error().Err(err).Str("ip", req.IP).Msg("failed to auto-block ip")
		return
	}
	if !placed {
		return
	}
	alerts.Raise(ctx, g.deps.Alerts, g.log, alerts.Alert{
		Type:     alerts.TypeAutoBlock,
		Severity: alerts.SeverityWarning,
		Title:    "IP auto-blocked",
		Message:  fmt.Sprintf("%s blocked for %s by %s", req.IP, p.AutoBlockTTL, rule),
		Fields:   map[string]any{"ip": req.IP, "rule": rule, "violations": total},
		Key:      req.IP,
	})
}

func isSignatureKind(kind errors.Kind) bool {
	return kind == errors.KindSignatureMismatch || kind == errors.KindMalformedSignature
}

func violationKey(kind errors.Kind, ip string) string {
	return prefixViolations + string(kind) + ":" + ip
}

func totalViolationKey(ip string) string {
	return prefixViolations + totalKind + ":" + ip
}

func windowKey(kind errors.Kind, at time.Time) string {
	return fmt.Sprintf("%s%s:%d", prefixViolationWindow, kind, at.Unix()/60)
}
