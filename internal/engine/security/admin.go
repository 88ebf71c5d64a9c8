package security

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"time"

	"hookgate/internal/pkg/errors"
	"hookgate/internal/platform/audit"
	"hookgate/internal/platform/models"
)

// totalKind is the pseudo violation kind counting every rejection per IP.
const totalKind = "all"

// BlockRecord explains a block: which rule placed it and when it lapses.
type BlockRecord struct {
	IP        string    `json:"ip"`
	Rule      string    `json:"rule"`
	Reason    string    `json:"reason,omitempty"`
	Actor     string    `json:"actor"`
	BlockedAt time.Time `json:"blocked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (g *Gatekeeper) blockRecord(ctx context.Context, ip string) (*BlockRecord, bool, error) {
	raw, ok, err := g.store.Get(ctx, prefixBlocked+ip)
	if err != nil || !ok {
		return nil, false, err
	}
	var rec BlockRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		// A value we cannot read still blocks.
		rec = BlockRecord{IP: ip, Rule: "unknown"}
	}
	return &rec, true, nil
}

func (g *Gatekeeper) block(ctx context.Context, ip string, ttl time.Duration, rule, reason, actor string, onlyIfAbsent bool) (bool, error) {
	now := g.now().UTC()
	rec := BlockRecord{IP: ip, Rule: rule, Reason: reason, Actor: actor, BlockedAt: now, ExpiresAt: now.Add(ttl)}
	value, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}

	if onlyIfAbsent {
		placed, err := g.store.SetNX(ctx, prefixBlocked+ip, string(value), ttl)
		if err != nil || !placed {
			return false, err
		}
	} else if err := g.store.Set(ctx, prefixBlocked+ip, string(value), ttl); err != nil {
		return false, err
	}

	g.log.Warn().Str("ip", ip).Str("rule", rule).Str("actor", actor).Dur("ttl", ttl).Msg("ip blocked")
	if g.deps.Audit != nil {
		g.deps.Audit.Record(models.SecurityAuditEntry{
			Kind:   audit.KindBlock,
			IP:     ip,
			Rule:   rule,
			Actor:  actor,
			Detail: map[string]interface{}{"ttl_seconds": int64(ttl / time.Second), "reason": reason},
		})
	}
	return true, nil
}

// Block places an explicit block on ip for ttl.
func (g *Gatekeeper) Block(ctx context.Context, ip string, ttl time.Duration, reason, actor string) (*BlockRecord, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return nil, errors.Newf(errors.KindInvalidInput, "invalid ip %q", ip)
	}
	if ttl <= 0 {
		return nil, errors.New(errors.KindInvalidInput, "block ttl must be positive")
	}
	ip = addr.Unmap().String()
	if _, err := g.block(ctx, ip, ttl, "manual", reason, actor, false); err != nil {
		return nil, g.storeFailure(err, "block")
	}
	rec, _, err := g.blockRecord(ctx, ip)
	if err != nil {
		return nil, g.storeFailure(err, "block")
	}
	return rec, nil
}

// Unblock lifts a block and resets the IP's auto-block counter.
func (g *Gatekeeper) Unblock(ctx context.Context, ip, actor string) (bool, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false, errors.Newf(errors.KindInvalidInput, "invalid ip %q", ip)
	}
	ip = addr.Unmap().String()
	n, err := g.store.Del(ctx, prefixBlocked+ip)
	if err != nil {
		return false, g.storeFailure(err, "unblock")
	}
	if _, err := g.store.Del(ctx, totalViolationKey(ip)); err != nil {
		return false, g.storeFailure(err, "unblock")
	}
	if n == 0 {
		return false, nil
	}

	g.log.Info().Str("ip", ip).Str("actor", actor).Msg("ip unblocked")
	if g.deps.Audit != nil {
		g.deps.Audit.Record(models.SecurityAuditEntry{Kind: audit.KindUnblock, IP: ip, Actor: actor})
	}
	return true, nil
}

func (g *Gatekeeper) ListBlocked(ctx context.Context) ([]*BlockRecord, error) {
	keys, err := g.store.Keys(ctx, prefixBlocked)
	if err != nil {
		return nil, g.storeFailure(err, "list blocked")
	}
	records := make([]*BlockRecord, 0, len(keys))
	for _, key := range keys {
		ip := strings.TrimPrefix(key, prefixBlocked)
		rec, ok, err := g.blockRecord(ctx, ip)
		if err != nil {
			return nil, g.storeFailure(err, "list blocked")
		}
		if ok {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].BlockedAt.After(records[j].BlockedAt) })
	return records, nil
}

// ClearViolations deletes violation counters filtered by kind and/or ip.
// With neither filter every counter, including alert windows, is cleared.
func (g *Gatekeeper) ClearViolations(ctx context.Context, kind, ip, actor string) (int64, error) {
	var keys []string
	switch {
	case kind != "" && ip != "":
		keys = []string{prefixViolations + kind + ":" + ip}
	case kind != "":
		found, err := g.store.Keys(ctx, prefixViolations+kind+":")
		if err != nil {
			return 0, g.storeFailure(err, "clear violations")
		}
		keys = found
	default:
		found, err := g.store.Keys(ctx, prefixViolations)
		if err != nil {
			return 0, g.storeFailure(err, "clear violations")
		}
		for _, k := range found {
			if ip == "" || strings.HasSuffix(k, ":"+ip) {
				keys = append(keys, k)
			}
		}
		if ip == "" {
			windows, err := g.store.Keys(ctx, prefixViolationWindow)
			if err != nil {
				return 0, g.storeFailure(err, "clear violations")
			}
			keys = append(keys, windows...)
		}
	}

	n, err := g.store.Del(ctx, keys...)
	if err != nil {
		return 0, g.storeFailure(err, "clear violations")
	}
	g.log.Info().Str("kind", kind).Str("ip", ip).Str("actor", actor).Int64("cleared", n).Msg("violations cleared")
	if g.deps.Audit != nil {
		g.deps.Audit.Record(models.SecurityAuditEntry{
			Kind: audit.KindClear, IP: ip, Actor: actor,
			Detail: map[string]interface{}{"violation": kind, "cleared": n},
		})
	}
	return n, nil
}

type Offender struct {
	IP    string `json:"ip"`
	Kind  string `json:"kind"`
	Count int64  `json:"count"`
}

type Stats struct {
	BlockedIPs       int              `json:"blocked_ips"`
	RateLimitKeys    int              `json:"active_rate_limit_keys"`
	ReplayEntries    int              `json:"replay_cache_entries"`
	ViolationsByKind map[string]int64 `json:"violations_by_kind"`
	LastMinute       map[string]int64 `json:"violations_last_minute"`
	TopOffenders     []Offender       `json:"top_offenders"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

func (g *Gatekeeper) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ViolationsByKind: map[string]int64{},
		LastMinute:       map[string]int64{},
		TopOffenders:     []Offender{},
		GeneratedAt:      g.now().UTC(),
	}

	counts := map[string]*int{prefixBlocked: &stats.BlockedIPs, prefixRate: &stats.RateLimitKeys, prefixReplay: &stats.ReplayEntries}
	for prefix, dst := range counts {
		keys, err := g.store.Keys(ctx, prefix)
		if err != nil {
			return nil, g.storeFailure(err, "stats")
		}
		*dst = len(keys)
	}

	keys, err := g.store.Keys(ctx, prefixViolations)
	if err != nil {
		return nil, g.storeFailure(err, "stats")
	}
	for _, key := range keys {
		kind, ip, ok := strings.Cut(strings.TrimPrefix(key, prefixViolations), ":")
		if !ok || kind == totalKind {
			continue
		}
		n, err := g.counter(ctx, key)
		if err != nil {
			return nil, g.storeFailure(err, "stats")
		}
		stats.ViolationsByKind[kind] += n
		stats.TopOffenders = append(stats.TopOffenders, Offender{IP: ip, Kind: kind, Count: n})
	}
	sort.Slice(stats.TopOffenders, func(i, j int) bool {
		return stats.TopOffenders[i].Count > stats.TopOffenders[j].Count
	})
	if len(stats.TopOffenders) > 10 {
		stats.TopOffenders = stats.TopOffenders[:10]
	}

	minute := g.now().Unix() / 60
	windows, err := g.store.Keys(ctx, prefixViolationWindow)
	if err != nil {
		return nil, g.storeFailure(err, "stats")
	}
	suffix := ":" + strconv.FormatInt(minute, 10)
	for _, key := range windows {
		if !strings.HasSuffix(key, suffix) {
			continue
		}
		kind := strings.TrimSuffix(strings.TrimPrefix(key, prefixViolationWindow), suffix)
		n, err := g.counter(ctx, key)
		if err != nil {
			return nil, g.storeFailure(err, "stats")
		}
		stats.LastMinute[kind] = n
	}
	return stats, nil
}

// RecentViolations sums the per-minute counters of the given kinds over
// the trailing window (at most one hour).
func (g *Gatekeeper) RecentViolations(ctx context.Context, window time.Duration, kinds ...errors.Kind) (int64, error) {
	if window > windowRetention {
		window = windowRetention
	}
	now := g.now()
	minutes := int64(window / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	var total int64
	for _, kind := range kinds {
		for i := int64(0); i < minutes; i++ {
			n, err := g.counter(ctx, windowKey(kind, now.Add(-time.Duration(i)*time.Minute)))
			if err != nil {
				return 0, err
			}
			total += n
		}
	}
	return total, nil
}

func (g *Gatekeeper) counter(ctx context.Context, key string) (int64, error) {
	raw, ok, err := g.store.Get(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

// PolicyView is the JSON shape of the runtime policy.
type PolicyView struct {
	MaxPayloadBytes        int64          `json:"max_payload_bytes"`
	AllowedIPs             []string       `json:"allowed_ips"`
	RateLimitWindowSeconds int64          `json:"rate_limit_window_seconds"`
	DefaultRateLimit       int            `json:"default_rate_limit"`
	PlatformRateLimits     map[string]int `json:"platform_rate_limits"`
	TimestampToleranceSecs int64          `json:"timestamp_tolerance_seconds"`
	ViolationTTLSeconds    int64          `json:"violation_ttl_seconds"`
	SignatureFailureAlert  int            `json:"signature_failure_alert"`
	ViolationAlert         int            `json:"violation_alert"`
	AutoBlockThreshold     int            `json:"auto_block_threshold"`
	AutoBlockTTLSeconds    int64          `json:"auto_block_ttl_seconds"`
}

func (p Policy) View() PolicyView {
	allowed := p.AllowedIPs
	if allowed == nil {
		allowed = []string{}
	}
	return PolicyView{
		MaxPayloadBytes:        p.MaxPayloadBytes,
		AllowedIPs:             allowed,
		RateLimitWindowSeconds: int64(p.RateLimitWindow / time.Second),
		DefaultRateLimit:       p.DefaultRateLimit,
		PlatformRateLimits:     p.PlatformRateLimits,
		TimestampToleranceSecs: int64(p.TimestampTolerance / time.Second),
		ViolationTTLSeconds:    int64(p.ViolationTTL / time.Second),
		SignatureFailureAlert:  p.SignatureFailureAlert,
		ViolationAlert:         p.ViolationAlert,
		AutoBlockThreshold:     p.AutoBlockThreshold,
		AutoBlockTTLSeconds:    int64(p.AutoBlockTTL / time.Second),
	}
}

// UpdatePolicy applies a validated patch atomically.
func (g *Gatekeeper) UpdatePolicy(ctx context.Context, patch PolicyPatch, actor string) (Policy, error) {
	g.mu.Lock()
	next, err := g.policy.apply(patch)
	if err != nil {
		g.mu.Unlock()
		return Policy{}, errors.New(errors.KindInvalidInput, err.Error())
	}
	g.policy = next
	g.mu.Unlock()

	g.log.Info().Str("actor", actor).Msg("security policy updated")
	if g.deps.Audit != nil {
		view, _ := json.Marshal(next.View())
		var detail map[string]interface{}
		_ = json.Unmarshal(view, &detail)
		g.deps.Audit.Record(models.SecurityAuditEntry{Kind: audit.KindPolicy, Actor: actor, Detail: detail})
	}
	return next, nil
}

type StoreHealth struct {
	Reachable bool   `json:"reachable"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Health pings the store backing the rate-limit, replay and IP namespaces.
func (g *Gatekeeper) Health(ctx context.Context) StoreHealth {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	start := time.Now()
	err := g.store.Ping(ctx)
	h := StoreHealth{Reachable: err == nil, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		h.Error = fmt.Sprintf("%v", err)
	}
	return h
}
