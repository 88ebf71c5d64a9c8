package intake

import (
	"context"
	"net/url"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hookgate/internal/engine/metrics"
	"hookgate/internal/pkg/errors"
	"hookgate/internal/platform/config"
	"hookgate/internal/platform/database"
	"hookgate/internal/platform/database/dbtest"
	"hookgate/internal/platform/models"
	"hookgate/internal/platform/repositories"
	"hookgate/internal/platform/telemetry"
)

const feedBody = `{"object":"page","entry":[{"id":"page_1","time":1760000000,"changes":[{"field":"feed","value":{"item":"comment","verb":"add","post_id":"page_1_9","comment_id":"9_1"}}]}]}`

type fixture struct {
	db      *database.DB
	svc     *Service
	configs *repositories.WebhookConfigRepository
	metrics *repositories.MetricRepository
	wakes   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	f := &fixture{
		db:      db,
		configs: repositories.NewWebhookConfigRepository(db),
		metrics: repositories.NewMetricRepository(db),
	}
	f.svc = NewService(f.configs, repositories.NewEventRepository(db), repositories.NewJobRepository(db),
		metrics.NewAggregator(f.metrics, nil), func() { f.wakes++ }, telemetry.New(), zerolog.Nop())
	return f
}

func (f *fixture) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func (f *fixture) addConfig(t *testing.T, platform models.Platform, account string, secret *string) *models.WebhookConfig {
	t.Helper()
	cfg := &models.WebhookConfig{Platform: platform, AccountID: account, Secret: secret, SubscribedEvents: []string{"page_posts"}, IsActive: true}
	require.NoError(t, f.configs.Create(context.Background(), cfg))
	return cfg
}

func TestAccept_PersistsAndEnqueues(t *testing.T) {
	f := newFixture(t)
	cfg := f.addConfig(t, models.PlatformFacebook, "page_1", nil)

	res, err := f.svc.Accept(context.Background(), Delivery{Platform: models.PlatformFacebook, Body: []byte(feedBody), Signature: "sha256=ab"})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, models.EventPending, res.Event.Status)
	assert.Equal(t, "page_posts", res.Event.EventType)
	require.NotNil(t, res.Event.WebhookConfigID)
	assert.Equal(t, cfg.ID, *res.Event.WebhookConfigID)

	assert.Equal(t, 1, f.count(t, "webhook_events"))
	assert.Equal(t, 1, f.count(t, "processing_jobs"))
	assert.Equal(t, 1, f.wakes)

	rows, err := f.metrics.List(context.Background(), cfg.ID, "2000-01-01", "2999-12-31")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].TotalReceived)
}

func TestAccept_RedeliveryIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.addConfig(t, models.PlatformFacebook, "page_1", nil)
	ctx := context.Background()

	first, err := f.svc.Accept(ctx, Delivery{Platform: models.PlatformFacebook, Body: []byte(feedBody)})
	require.NoError(t, err)
	second, err := f.svc.Accept(ctx, Delivery{Platform: models.PlatformFacebook, Body: []byte(feedBody)})
	require.NoError(t, err)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Event.ID, second.Event.ID)
	assert.Equal(t, 1, f.count(t, "webhook_events"))
	assert.Equal(t, 1, f.count(t, "processing_jobs"))
}

func TestAccept_ContentHashFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Accept(ctx, Delivery{Platform: models.PlatformTwitter, Body: []byte(`{"for_user_id":"42","user_event":{}}`)})
	require.NoError(t, err)
	res, err := f.svc.Accept(ctx, Delivery{Platform: models.PlatformTwitter, Body: []byte(`{ "for_user_id": "42", "user_event": {} }`)})
	require.NoError(t, err)

	assert.True(t, res.Duplicate)
	assert.Nil(t, res.Event.ExternalEventID)
	assert.Equal(t, 1, f.count(t, "webhook_events"))
}

func TestAccept_InvalidPayload(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Accept(context.Background(), Delivery{Platform: models.PlatformLinkedIn, Body: []byte(`not json`)})
	assert.True(t, errors.IsKind(err, errors.KindValidation))
	assert.Equal(t, 0, f.count(t, "webhook_events"))
}

func TestAccept_UnknownRouteConfig(t *testing.T) {
	f := newFixture(t)
	cfg := f.addConfig(t, models.PlatformTwitter, "42", nil)
	ctx := context.Background()

	_, err := f.svc.Accept(ctx, Delivery{Platform: models.PlatformFacebook, ConfigID: "whc_missing", Body: []byte(feedBody)})
	assert.True(t, errors.IsKind(err, errors.KindNotFound))

	_, err = f.svc.Accept(ctx, Delivery{Platform: models.PlatformFacebook, ConfigID: cfg.ID, Body: []byte(feedBody)})
	assert.True(t, errors.IsKind(err, errors.KindNotFound), "config of another platform must not match")
}

func TestAccept_NoConfigStillPersists(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Accept(context.Background(), Delivery{Platform: models.PlatformFacebook, Body: []byte(feedBody)})
	require.NoError(t, err)
	assert.Nil(t, res.Event.WebhookConfigID)
	assert.Equal(t, 1, f.count(t, "processing_jobs"))
}

func platformSettings(name string) config.PlatformConfig {
	return map[string]config.PlatformConfig{
		"facebook": {AppSecret: "fb-app", VerifyToken: "tok"},
		"twitter":  {AppSecret: "tw-app"},
	}[name]
}

func TestSecrets_Resolution(t *testing.T) {
	f := newFixture(t)
	own := "own-secret"
	cfg := f.addConfig(t, models.PlatformFacebook, "page_1", &own)
	s := NewSecrets(f.configs, platformSettings)
	ctx := context.Background()

	secret, err := s.Resolver(models.PlatformFacebook, cfg.ID, nil)(ctx)
	require.NoError(t, err)
	assert.Equal(t, own, secret)

	secret, err = s.Resolver(models.PlatformFacebook, "", []byte(feedBody))(ctx)
	require.NoError(t, err)
	assert.Equal(t, own, secret, "account in payload resolves the config")

	secret, err = s.Resolver(models.PlatformFacebook, "", []byte(`{"object":"page","entry":[{"id":"other"}]}`))(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fb-app", secret)

	secret, err = s.Resolver(models.PlatformTwitter, "whc_missing", nil)(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tw-app", secret)
}

func TestSecrets_Challenge(t *testing.T) {
	f := newFixture(t)
	s := NewSecrets(f.configs, platformSettings)
	ctx := context.Background()

	resp, err := s.Challenge(ctx, models.PlatformFacebook, "", url.Values{
		"hub.mode": {"subscribe"}, "hub.verify_token": {"tok"}, "hub.challenge": {"1158201444"},
	})
	require.NoError(t, err)
	assert.Equal(t, "1158201444", string(resp.Body))

	_, err = s.Challenge(ctx, models.PlatformFacebook, "", url.Values{
		"hub.mode": {"subscribe"}, "hub.verify_token": {"wrong"}, "hub.challenge": {"1"},
	})
	assert.True(t, errors.IsKind(err, errors.KindSignatureMismatch))
	assert.Equal(t, 0, f.count(t, "webhook_events"))
}
