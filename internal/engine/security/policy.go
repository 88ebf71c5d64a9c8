package security

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"hookgate/internal/platform/config"
)

// Policy is the runtime-tunable gatekeeper configuration.
type Policy struct {
	MaxPayloadBytes       int64          `json:"max_payload_bytes"`
	AllowedIPs            []string       `json:"allowed_ips"`
	RateLimitWindow       time.Duration  `json:"rate_limit_window"`
	DefaultRateLimit      int            `json:"default_rate_limit"`
	PlatformRateLimits    map[string]int `json:"platform_rate_limits"`
	TimestampTolerance    time.Duration  `json:"timestamp_tolerance"`
	ViolationTTL          time.Duration  `json:"violation_ttl"`
	SignatureFailureAlert int            `json:"signature_failure_alert"`
	ViolationAlert        int            `json:"violation_alert"`
	AutoBlockThreshold    int            `json:"auto_block_threshold"`
	AutoBlockTTL          time.Duration  `json:"auto_block_ttl"`

	allow []netip.Prefix
}

func PolicyFromConfig(cfg *config.Config) (Policy, error) {
	p := Policy{
		MaxPayloadBytes:       cfg.Security.MaxPayloadBytes,
		AllowedIPs:            cfg.Security.AllowedIPs,
		RateLimitWindow:       cfg.Security.RateLimitWindow,
		DefaultRateLimit:      cfg.Security.DefaultRateLimit,
		PlatformRateLimits:    map[string]int{},
		TimestampTolerance:    cfg.Security.TimestampTolerance,
		ViolationTTL:          cfg.Security.ViolationTTL,
		SignatureFailureAlert: cfg.Security.SignatureFailureAlert,
		ViolationAlert:        cfg.Security.ViolationAlert,
		AutoBlockThreshold:    cfg.Security.AutoBlockThreshold,
		AutoBlockTTL:          cfg.Security.AutoBlockTTL,
	}
	for name, pc := range cfg.Platforms {
		if pc.RateLimit > 0 {
			p.PlatformRateLimits[strings.ToLower(name)] = pc.RateLimit
		}
	}
	return p.compile()
}

// compile validates the policy and parses the allowlist.
func (p Policy) compile() (Policy, error) {
	if p.MaxPayloadBytes <= 0 {
		return p, fmt.Errorf("max_payload_bytes must be positive")
	}
	if p.RateLimitWindow < time.Second {
		return p, fmt.Errorf("rate_limit_window must be at least 1s")
	}
	if p.DefaultRateLimit <= 0 {
		return p, fmt.Errorf("default_rate_limit must be positive")
	}
	if p.TimestampTolerance <= 0 {
		return p, fmt.Errorf("timestamp_tolerance must be positive")
	}
	if p.ViolationTTL <= 0 {
		p.ViolationTTL = time.Hour
	}
	if p.AutoBlockThreshold > 0 && p.AutoBlockTTL <= 0 {
		return p, fmt.Errorf("auto_block_ttl must be positive when auto-block is enabled")
	}

	p.allow = nil
	for _, raw := range p.AllowedIPs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				return p, fmt.Errorf("allowed_ips: %w", err)
			}
			p.allow = append(p.allow, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return p, fmt.Errorf("allowed_ips: %w", err)
		}
		p.allow = append(p.allow, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return p, nil
}

// RateLimit is the per-window ceiling for a platform.
func (p Policy) RateLimit(platform string) int {
	if n, ok := p.PlatformRateLimits[platform]; ok && n > 0 {
		return n
	}
	return p.DefaultRateLimit
}

// Allowed reports whether ip passes the allowlist. An empty allowlist
// admits everyone.
func (p Policy) Allowed(ip string) bool {
	if len(p.allow) == 0 {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range p.allow {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// PolicyPatch is a partial policy update; nil fields are left unchanged.
type PolicyPatch struct {
	MaxPayloadBytes       *int64         `json:"max_payload_bytes"`
	AllowedIPs            *[]string      `json:"allowed_ips"`
	RateLimitWindowSecs   *int           `json:"rate_limit_window_seconds"`
	DefaultRateLimit      *int           `json:"default_rate_limit"`
	PlatformRateLimits    map[string]int `json:"platform_rate_limits"`
	TimestampToleranceSec *int           `json:"timestamp_tolerance_seconds"`
	SignatureFailureAlert *int           `json:"signature_failure_alert"`
	ViolationAlert        *int           `json:"violation_alert"`
	AutoBlockThreshold    *int           `json:"auto_block_threshold"`
	AutoBlockTTLSecs      *int           `json:"auto_block_ttl_seconds"`
}

func (p Policy) apply(patch PolicyPatch) (Policy, error) {
	next := p
	next.PlatformRateLimits = make(map[string]int, len(p.PlatformRateLimits))
	for k, v := range p.PlatformRateLimits {
		next.PlatformRateLimits[k] = v
	}

	if patch.MaxPayloadBytes != nil {
		next.MaxPayloadBytes = *patch.MaxPayloadBytes
	}
	if patch.AllowedIPs != nil {
		next.AllowedIPs = append([]string(nil), (*patch.AllowedIPs)...)
	}
	if patch.RateLimitWindowSecs != nil {
		next.RateLimitWindow = time.Duration(*patch.RateLimitWindowSecs) * time.Second
	}
	if patch.DefaultRateLimit != nil {
		next.DefaultRateLimit = *patch.DefaultRateLimit
	}
	for k, v := range patch.PlatformRateLimits {
		if v <= 0 {
			delete(next.PlatformRateLimits, strings.ToLower(k))
			continue
		}
		next.PlatformRateLimits[strings.ToLower(k)] = v
	}
	if patch.TimestampToleranceSec != nil {
		next.TimestampTolerance = time.Duration(*patch.TimestampToleranceSec) * time.Second
	}
	if patch.SignatureFailureAlert != nil {
		next.SignatureFailureAlert = *patch.SignatureFailureAlert
	}
	if patch.ViolationAlert != nil {
		next.ViolationAlert = *patch.ViolationAlert
	}
	if patch.AutoBlockThreshold != nil {
		next.AutoBlockThreshold = *patch.AutoBlockThreshold
	}
	if patch.AutoBlockTTLSecs != nil {
		next.AutoBlockTTL = time.Duration(*patch.AutoBlockTTLSecs) * time.Second
	}
	return next.compile()
}
