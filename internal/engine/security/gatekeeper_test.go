package security

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hookgate/internal/engine/alerts"
	"hookgate/internal/engine/signature"
	"hookgate/internal/pkg/errors"
	"hookgate/internal/platform/models"
	"hookgate/internal/platform/telemetry"
)

const testSecret = "app-secret"

type capture struct {
	mu      sync.Mutex
	alerts  []alerts.Alert
	entries []models.SecurityAuditEntry
	rejects []string
}

func (c *capture) Dispatch(_ context.Context, a alerts.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *capture) Record(e models.SecurityAuditEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
}

func (c *capture) RecordRejected(_ context.Context, configID string, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejects = append(c.rejects, configID)
	return nil
}

func testPolicy() Policy {
	return Policy{
		MaxPayloadBytes:       1024,
		RateLimitWindow:       time.Minute,
		DefaultRateLimit:      30,
		PlatformRateLimits:    map[string]int{"facebook": 100, "instagram": 100, "twitter": 60, "linkedin": 50},
		TimestampTolerance:    300 * time.Second,
		ViolationTTL:          time.Hour,
		SignatureFailureAlert: 3,
		ViolationAlert:        50,
	}
}

func newGatekeeper(t *testing.T, p Policy) (*Gatekeeper, *capture, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1_760_000_000, 0)}
	c := &capture{}
	g, err := NewGatekeeper(NewMemoryStore().WithClock(clock.Now), p, Deps{
		Audit:      c,
		Alerts:     c,
		Rejections: c,
		Metrics:    telemetry.New(),
		Logger:     zerolog.Nop(),
		Now:        clock.Now,
	})
	require.NoError(t, err)
	return g, c, clock
}

func facebookRequest(ip string, n int) Request {
	body := []byte(fmt.Sprintf(`{"object":"page","entry":[{"id":"%d"}]}`, n))
	h := http.Header{}
	h.Set(signature.HeaderHubSignature, signature.SignHub(testSecret, body))
	return Request{
		Platform: models.PlatformFacebook,
		IP:       ip,
		Size:     int64(len(body)),
		Body:     body,
		Header:   h,
		Secret:   func(context.Context) (string, error) { return testSecret, nil },
	}
}

func TestGatekeeper_RateLimitBoundary(t *testing.T) {
	p := testPolicy()
	p.PlatformRateLimits["facebook"] = 5

	g, _, _ := newGatekeeper(t, p)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, g.Check(ctx, facebookRequest("198.51.100.1", i)), "request %d within limit", i)
	}

	err := g.Check(ctx, facebookRequest("198.51.100.1", 5))
	require.Error(t, err)
	assert.Equal(t, errors.KindRateLimited, errors.KindOf(err))
	assert.Equal(t, http.StatusTooManyRequests, errors.KindOf(err).Status())

	// A different ip has its own window.
	assert.NoError(t, g.Check(ctx, facebookRequest("198.51.100.2", 6)))
}

func TestGatekeeper_RateLimitResetsNextWindow(t *testing.T) {
	p := testPolicy()
	p.PlatformRateLimits["facebook"] = 1
	g, _, clock := newGatekeeper(t, p)
	ctx := context.Background()

	require.NoError(t, g.Check(ctx, facebookRequest("198.51.100.1", 0)))
	require.Error(t, g.Check(ctx, facebookRequest("198.51.100.1", 1)))
	clock.Advance(time.Minute)
	assert.NoError(t, g.Check(ctx, facebookRequest("198.51.100.1", 2)))
}

func TestGatekeeper_RateLimitSlidesAcrossMinuteBoundary(t *testing.T) {
	p := testPolicy()
	p.PlatformRateLimits["facebook"] = 5
	g, _, clock := newGatekeeper(t, p)
	ctx := context.Background()

	// One second before a wall-clock minute turns over.
	clock.t = time.Unix((clock.t.Unix()/60+1)*60-1, 0)
	for i := 0; i < 5; i++ {
		require.NoError(t, g.Check(ctx, facebookRequest("198.51.100.1", i)))
	}

	clock.Advance(2 * time.Second)
	err := g.Check(ctx, facebookRequest("198.51.100.1", 5))
	require.Error(t, err)
	assert.Equal(t, errors.KindRateLimited, errors.KindOf(err))
	e, ok := err.(*errors.Error)
	require.True(t, ok)
	assert.Equal(t, int64(58), e.Details["retry_after"])

	clock.Advance(58 * time.Second)
	assert.NoError(t, g.Check(ctx, facebookRequest("198.51.100.1", 6)))
}

func TestGatekeeper_ReplayDetected(t *testing.T) {
	g, c, _ := newGatekeeper(t, testPolicy())
	ctx := context.Background()
	req := facebookRequest("198.51.100.1", 1)

	require.NoError(t, g.Check(ctx, req))
	err := g.Check(ctx, req)
	require.Error(t, err)
	assert.Equal(t, errors.KindReplayDetected, errors.KindOf(err))
	assert.Equal(t, http.StatusUnauthorized, errors.KindOf(err).Status())
	require.NotEmpty(t, c.entries)
	assert.Equal(t, "replay_cache", c.entries[len(c.entries)-1].Rule)
}

func TestGatekeeper_ReplayCheckedAfterSignature(t *testing.T) {
	g, _, _ := newGatekeeper(t, testPolicy())
	ctx := context.Background()
	req := facebookRequest("198.51.100.1", 1)
	forged := req
	forged.Header = http.Header{}
	forged.Header.Set(signature.HeaderHubSignature, signature.SignHub("wrong", req.Body))

	require.Error(t, g.Check(ctx, forged))
	assert.NoError(t, g.Check(ctx, req), "a forged attempt must not poison the replay cache")
}

func TestGatekeeper_BlockedIPUntilTTLElapses(t *testing.T) {
	g, c, clock := newGatekeeper(t, testPolicy())
	ctx := context.Background()
	const ip = "203.0.113.5"

	rec, err := g.Block(ctx, ip, 3600*time.Second, "abuse", "ops")
	require.NoError(t, err)
	assert.Equal(t, "manual", rec.Rule)

	err = g.Check(ctx, facebookRequest(ip, 1))
	require.Error(t, err)
	assert.Equal(t, errors.KindIPBlocked, errors.KindOf(err))
	assert.Equal(t, http.StatusForbidden, errors.KindOf(err).Status())

	clock.Advance(3599 * time.Second)
	assert.Equal(t, errors.KindIPBlocked, errors.KindOf(g.Check(ctx, facebookRequest(ip, 2))))

	clock.Advance(time.Second)
	assert.NoError(t, g.Check(ctx, facebookRequest(ip, 3)))

	var blocks int
	for _, e := range c.entries {
		if e.Kind == "ip_blocked" {
			blocks++
		}
	}
	assert.Equal(t, 1, blocks)
}

func TestGatekeeper_BlockedIPRejectedEvenWithValidSignature(t *testing.T) {
	g, _, _ := newGatekeeper(t, testPolicy())
	ctx := context.Background()
	_, err := g.Block(ctx, "203.0.113.5", time.Hour, "", "ops")
	require.NoError(t, err)

	ok, err := g.Unblock(ctx, "203.0.113.5", "ops")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, g.Check(ctx, facebookRequest("203.0.113.5", 1)))

	_, err = g.Block(ctx, "203.0.113.5", 0, "", "ops")
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
}

func TestGatekeeper_UnblockMappedAddress(t *testing.T) {
	g, _, _ := newGatekeeper(t, testPolicy())
	ctx := context.Background()
	_, err := g.Block(ctx, "203.0.113.5", time.Hour, "", "ops")
	require.NoError(t, err)

	ok, err := g.Unblock(ctx, " ::ffff:203.0.113.5 ", "ops")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, g.Check(ctx, facebookRequest("203.0.113.5", 1)))

	_, err = g.Unblock(ctx, "not-an-ip", "ops")
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
}

func TestGatekeeper_Allowlist(t *testing.T) {
	p := testPolicy()
	p.AllowedIPs = []string{"10.0.0.0/8", "192.0.2.7"}
	g, _, _ := newGatekeeper(t, p)
	ctx := context.Background()

	assert.NoError(t, g.Check(ctx, facebookRequest("10.1.2.3", 1)))
	assert.NoError(t, g.Check(ctx, facebookRequest("192.0.2.7", 2)))
	assert.Equal(t, errors.KindIPBlocked, errors.KindOf(g.Check(ctx, facebookRequest("192.0.2.8", 3))))
}

func TestGatekeeper_PayloadTooLarge(t *testing.T) {
	g, c, _ := newGatekeeper(t, testPolicy())
	req := facebookRequest("198.51.100.1", 1)
	req.Size = 4096
	req.ConfigID = "whc_1"

	err := g.Check(context.Background(), req)
	assert.Equal(t, errors.KindPayloadTooLarge, errors.KindOf(err))
	assert.Equal(t, []string{"whc_1"}, c.rejects)
}

func TestGatekeeper_StaleTwitterTimestamp(t *testing.T) {
	g, _, clock := newGatekeeper(t, testPolicy())
	body := []byte(`{"for_user_id":"1","tweet_create_events":[{"id_str":"9"}]}`)
	ts := strconv.FormatInt(clock.Now().Unix()-400, 10)
	h := http.Header{}
	h.Set(signature.HeaderTwitterSignature, signature.SignTimestamped(testSecret, ts, "n", body, false))
	h.Set(signature.HeaderTimestamp, ts)
	h.Set(signature.HeaderNonce, "n")

	err := g.Check(context.Background(), Request{
		Platform: models.PlatformTwitter, IP: "198.51.100.9", Size: int64(len(body)), Body: body, Header: h,
		Secret: func(context.Context) (string, error) { return testSecret, nil },
	})
	assert.Equal(t, errors.KindSignatureMismatch, errors.KindOf(err))
	assert.Equal(t, http.StatusUnauthorized, errors.KindOf(err).Status())
}

func twitterRequest(ip string, ts int64, body []byte) Request {
	stamp := strconv.FormatInt(ts, 10)
	h := http.Header{}
	h.Set(signature.HeaderTwitterSignature, signature.SignTimestamped(testSecret, stamp, "n", body, false))
	h.Set(signature.HeaderTimestamp, stamp)
	h.Set(signature.HeaderNonce, "n")
	return Request{
		Platform: models.PlatformTwitter, IP: ip, Size: int64(len(body)), Body: body, Header: h,
		Secret: func(context.Context) (string, error) { return testSecret, nil },
	}
}

func TestGatekeeper_FutureTimestampCannotBeReplayed(t *testing.T) {
	g, _, clock := newGatekeeper(t, testPolicy())
	ctx := context.Background()
	body := []byte(`{"for_user_id":"1","tweet_create_events":[{"id_str":"9"}]}`)
	req := twitterRequest("198.51.100.9", clock.Now().Unix()+290, body)

	require.NoError(t, g.Check(ctx, req))

	// Past the tolerance measured from acceptance, but the stamp still verifies.
	clock.Advance(301 * time.Second)
	err := g.Check(ctx, req)
	require.Error(t, err)
	assert.Equal(t, errors.KindReplayDetected, errors.KindOf(err))

	// Once the stamp itself is stale the verifier rejects it first.
	clock.Advance(290 * time.Second)
	err = g.Check(ctx, req)
	require.Error(t, err)
	assert.Equal(t, errors.KindSignatureMismatch, errors.KindOf(err))
}

func TestGatekeeper_SignatureAlertThreshold(t *testing.T) {
	g, c, _ := newGatekeeper(t, testPolicy())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		req := facebookRequest("198.51.100.1", i)
		req.Header.Set(signature.HeaderHubSignature, signature.SignHub("forged", req.Body))
		require.Error(t, g.Check(ctx, req))
	}

	require.Len(t, c.alerts, 1, "threshold crossing alerts once")
	assert.Equal(t, alerts.TypeSignatureFailures, c.alerts[0].Type)
	assert.Equal(t, alerts.SeverityCritical, c.alerts[0].Severity)

	stats, err := g.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.ViolationsByKind[string(errors.KindSignatureMismatch)])
	assert.Equal(t, int64(5), stats.LastMinute[string(errors.KindSignatureMismatch)])

	recent, err := g.RecentViolations(ctx, 5*time.Minute, errors.KindSignatureMismatch, errors.KindMalformedSignature)
	require.NoError(t, err)
	assert.Equal(t, int64(5), recent)

	n, err := g.ClearViolations(ctx, string(errors.KindSignatureMismatch), "198.51.100.1", "ops")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestGatekeeper_AutoBlock(t *testing.T) {
	p := testPolicy()
	p.AutoBlockThreshold = 3
	p.AutoBlockTTL = 10 * time.Minute
	g, c, _ := newGatekeeper(t, p)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		req := facebookRequest("198.51.100.66", i)
		req.Header.Set(signature.HeaderHubSignature, "garbage")
		require.Error(t, g.Check(ctx, req))
	}

	err := g.Check(ctx, facebookRequest("198.51.100.66", 10))
	assert.Equal(t, errors.KindIPBlocked, errors.KindOf(err))

	blocked, err := g.ListBlocked(ctx)
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	assert.Equal(t, "auto_block:"+string(errors.KindMalformedSignature), blocked[0].Rule)

	var autoAlerts int
	for _, a := range c.alerts {
		if a.Type == alerts.TypeAutoBlock {
			autoAlerts++
		}
	}
	assert.Equal(t, 1, autoAlerts)
}

func TestGatekeeper_UpdatePolicy(t *testing.T) {
	g, _, _ := newGatekeeper(t, testPolicy())
	ctx := context.Background()

	limit := 1
	_, err := g.UpdatePolicy(ctx, PolicyPatch{PlatformRateLimits: map[string]int{"facebook": limit}}, "ops")
	require.NoError(t, err)
	assert.Equal(t, 1, g.Policy().RateLimit("facebook"))

	bad := -1
	_, err = g.UpdatePolicy(ctx, PolicyPatch{DefaultRateLimit: &bad}, "ops")
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
	assert.Equal(t, 30, g.Policy().DefaultRateLimit)

	assert.True(t, g.Health(ctx).Reachable)
}
