package metrics

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hookgate/internal/engine/alerts"
	"hookgate/internal/engine/security"
	"hookgate/internal/pkg/errors"
	"hookgate/internal/platform/config"
	"hookgate/internal/platform/database/dbtest"
	"hookgate/internal/platform/models"
	"hookgate/internal/platform/repositories"
	"hookgate/internal/platform/telemetry"
)

func TestAggregator_RecordsAgainstOwningConfig(t *testing.T) {
	db := dbtest.Open(t)
	collectors := telemetry.New()
	agg := NewAggregator(repositories.NewMetricRepository(db), collectors)
	ctx := context.Background()
	at := time.Date(2026, 10, 15, 23, 30, 0, 0, time.UTC)
	cfgID := "whc_1"
	event := &models.WebhookEvent{WebhookConfigID: &cfgID, Platform: models.PlatformFacebook, EventType: "page_posts"}

	require.NoError(t, agg.RecordReceived(ctx, cfgID, at))
	require.NoError(t, agg.RecordRetry(ctx, event, at))
	require.NoError(t, agg.RecordOutcome(ctx, event, models.EventProcessed, 2*time.Second, at))
	require.NoError(t, agg.RecordRejected(ctx, cfgID, at))

	rows, err := agg.Delivery(ctx, cfgID, at, at)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2026-10-15", rows[0].Date)
	assert.Equal(t, 2, rows[0].TotalReceived)
	assert.Equal(t, 1, rows[0].Processed)
	assert.Equal(t, 1, rows[0].Failed)
	assert.Equal(t, 1, rows[0].RetryAttempts)
	assert.Equal(t, 1, rows[0].EventTypeBreakdown["page_posts"])

	hours, err := agg.Hourly(ctx, cfgID, at, at)
	require.NoError(t, err)
	require.Len(t, hours, 1)
	assert.Equal(t, "2026-10-15T23", hours[0].Hour)
	assert.Equal(t, 2, hours[0].TotalReceived)
	assert.Equal(t, 1, hours[0].Processed)
	assert.Equal(t, 1, hours[0].Failed)
	assert.Equal(t, 1, hours[0].RetryAttempts)

	assert.Equal(t, float64(1), testutil.ToFloat64(collectors.Outcomes.WithLabelValues("facebook", "processed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collectors.Retries.WithLabelValues("facebook")))
}

func TestAggregator_UnownedEventOnlyExportsCollectors(t *testing.T) {
	collectors := telemetry.New()
	agg := NewAggregator(nil, collectors)
	event := &models.WebhookEvent{Platform: models.PlatformTwitter, EventType: "follow"}

	require.NoError(t, agg.RecordOutcome(context.Background(), event, models.EventIgnored, 0, time.Now()))
	assert.Equal(t, float64(1), testutil.ToFloat64(collectors.Outcomes.WithLabelValues("twitter", "ignored")))
}

type fakeDeps struct {
	mu         sync.Mutex
	pingErr    error
	counts     models.OutcomeCounts
	storeUp    bool
	sigFails   int64
	depth      int
	probes     int
	dispatched []alerts.Alert
}

func (f *fakeDeps) PingContext(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	return f.pingErr
}

func (f *fakeDeps) OutcomeCounts(context.Context, int64) (models.OutcomeCounts, error) {
	return f.counts, nil
}

func (f *fakeDeps) Health(context.Context) security.StoreHealth {
	if !f.storeUp {
		return security.StoreHealth{Error: "connection refused"}
	}
	return security.StoreHealth{Reachable: true}
}

func (f *fakeDeps) RecentViolations(context.Context, time.Duration, ...errors.Kind) (int64, error) {
	return f.sigFails, nil
}

func (f *fakeDeps) Depth(context.Context) (int, error) { return f.depth, nil }

func (f *fakeDeps) Dispatch(_ context.Context, a alerts.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, a)
	return nil
}

func newMonitor(f *fakeDeps) *Monitor {
	return NewMonitor(config.HealthConfig{
		SnapshotTTL:           30 * time.Second,
		Window:                10 * time.Minute,
		FailureRatioWarning:   0.1,
		FailureRatioCritical:  0.25,
		MinSamples:            10,
		SignatureFailuresWarn: 5,
	}, MonitorDeps{DB: f, Events: f, Security: f, Queue: f, Alerts: f, Metrics: telemetry.New(), Logger: zerolog.Nop()})
}

func TestMonitor_Healthy(t *testing.T) {
	f := &fakeDeps{storeUp: true, counts: models.OutcomeCounts{Processed: 50, Failed: 1}, depth: 4}
	s := newMonitor(f).Check(context.Background())

	assert.Equal(t, StatusHealthy, s.Status)
	assert.Equal(t, 4, s.QueueDepth)
	assert.Empty(t, f.dispatched)
}

func TestMonitor_FailureRatioCritical(t *testing.T) {
	f := &fakeDeps{storeUp: true, counts: models.OutcomeCounts{Processed: 6, Failed: 4}}
	s := newMonitor(f).Check(context.Background())

	assert.Equal(t, StatusDegraded, s.Status)
	require.Len(t, f.dispatched, 1)
	assert.Equal(t, alerts.TypeFailureRatio, f.dispatched[0].Type)
	assert.Equal(t, alerts.SeverityCritical, f.dispatched[0].Severity)
}

func TestMonitor_FailureRatioNeedsMinSamples(t *testing.T) {
	f := &fakeDeps{storeUp: true, counts: models.OutcomeCounts{Processed: 1, Failed: 3}}
	s := newMonitor(f).Check(context.Background())

	assert.Equal(t, StatusHealthy, s.Status)
	assert.Empty(t, f.dispatched)
}

func TestMonitor_SignatureFailureRate(t *testing.T) {
	f := &fakeDeps{storeUp: true, sigFails: 60}
	newMonitor(f).Check(context.Background())

	require.Len(t, f.dispatched, 1)
	assert.Equal(t, alerts.TypeSignatureFailures, f.dispatched[0].Type)
}

func TestMonitor_DependencyDown(t *testing.T) {
	f := &fakeDeps{pingErr: stderrors.New("database is locked"), storeUp: false}
	s := newMonitor(f).Check(context.Background())

	assert.Equal(t, StatusUnhealthy, s.Status)
	assert.Equal(t, "database is locked", s.Database.Error)
	assert.Len(t, f.dispatched, 2)
	for _, a := range f.dispatched {
		assert.Equal(t, alerts.TypeDependencyDown, a.Type)
	}
}

func TestMonitor_SnapshotCached(t *testing.T) {
	f := &fakeDeps{storeUp: true}
	m := newMonitor(f)
	now := time.Unix(1_760_000_000, 0)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	first := m.Snapshot(ctx)
	second := m.Snapshot(ctx)
	assert.Same(t, first, second)
	assert.Equal(t, 1, f.probes)

	now = now.Add(31 * time.Second)
	m.Snapshot(ctx)
	assert.Equal(t, 2, f.probes)
}
