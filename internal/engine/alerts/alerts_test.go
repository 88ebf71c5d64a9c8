package alerts

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hookgate/internal/engine/signature"
	"hookgate/internal/platform/audit"
	"hookgate/internal/platform/models"
)

type recorder struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *recorder) Dispatch(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

type mapLocker struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (l *mapLocker) SetNX(_ context.Context, key, _ string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.keys[key] {
		return false, nil
	}
	l.keys[key] = true
	return true, nil
}

func TestCooldown_SuppressesRepeats(t *testing.T) {
	rec := &recorder{}
	c := NewCooldown(rec, &mapLocker{keys: map[string]bool{}}, time.Minute, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, c.Dispatch(ctx, Alert{Type: TypeSignatureFailures, Severity: SeverityCritical}))
	require.NoError(t, c.Dispatch(ctx, Alert{Type: TypeSignatureFailures, Severity: SeverityCritical}))
	require.NoError(t, c.Dispatch(ctx, Alert{Type: TypeMaxRetriesExceeded, Key: "evt_1"}))
	require.NoError(t, c.Dispatch(ctx, Alert{Type: TypeMaxRetriesExceeded, Key: "evt_2"}))

	assert.Len(t, rec.alerts, 3)
}

func TestHTTPDispatcher_RetriesServerErrors(t *testing.T) {
	var calls int32
	var got Alert
	var sig, deliveries []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		sig = append(sig, r.Header.Get("X-Hookgate-Signature"))
		deliveries = append(deliveries, r.Header.Get("X-Hookgate-Delivery"))
		mu.Unlock()
		assert.Equal(t, signature.SignHub("alert-secret", body), r.Header.Get("X-Hookgate-Signature"))
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d := NewHTTPDispatcher(srv.URL, "alert-secret", time.Second)
	err := d.Dispatch(context.Background(), Alert{Type: TypeFailureRatio, Severity: SeverityWarning, Title: "Failure ratio"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, TypeFailureRatio, got.Type)
	require.Len(t, deliveries, 2)
	assert.Equal(t, deliveries[0], deliveries[1], "retries reuse the delivery id")
	assert.NotEmpty(t, sig[0])
}

func TestHTTPDispatcher_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewHTTPDispatcher(srv.URL, "", time.Second).Dispatch(context.Background(), Alert{Type: "x"})
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestMulti_ReachesEveryDispatcher(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	require.NoError(t, Multi{a, b}.Dispatch(context.Background(), Alert{Type: "x"}))
	assert.Len(t, a.alerts, 1)
	assert.Len(t, b.alerts, 1)
}

type auditCapture struct {
	entries []models.SecurityAuditEntry
}

func (c *auditCapture) Record(e models.SecurityAuditEntry) { c.entries = append(c.entries, e) }

func TestAuditDispatcher_RecordsAlert(t *testing.T) {
	c := &auditCapture{}
	at := time.Unix(1_760_000_000, 0)
	require.NoError(t, AuditDispatcher{Audit: c}.Dispatch(context.Background(), Alert{
		Type: TypeAutoBlock, Severity: SeverityWarning, Title: "IP auto-blocked", RaisedAt: at,
	}))

	require.Len(t, c.entries, 1)
	assert.Equal(t, audit.KindAlert, c.entries[0].Kind)
	assert.Equal(t, TypeAutoBlock, c.entries[0].Rule)
	assert.Equal(t, at.Unix(), c.entries[0].CreatedAt)
	assert.Equal(t, "warning", c.entries[0].Detail["severity"])
}
