package security

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// storeHarness exposes a store and a way to move its notion of time.
type storeHarness struct {
	store   Store
	advance func(time.Duration)
}

func storeHarnesses(t *testing.T) map[string]storeHarness {
	clock := &fakeClock{t: time.Unix(1_760_000_000, 0)}
	mem := NewMemoryStore().WithClock(clock.Now)

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]storeHarness{
		"memory": {store: mem, advance: clock.Advance},
		"redis":  {store: NewRedisStore(client, "test:"), advance: mr.FastForward},
	}
}

func TestStore_Contract(t *testing.T) {
	for name, h := range storeHarnesses(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := h.store

			n, err := s.Incr(ctx, "rate:facebook:1.2.3.4:1", time.Minute)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)
			n, err = s.Incr(ctx, "rate:facebook:1.2.3.4:1", time.Minute)
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			ttl, err := s.TTL(ctx, "rate:facebook:1.2.3.4:1")
			require.NoError(t, err)
			assert.True(t, ttl > 0 && ttl <= time.Minute, "ttl = %s", ttl)

			first, err := s.SetNX(ctx, "replay:abc", "1", 5*time.Minute)
			require.NoError(t, err)
			assert.True(t, first)
			first, err = s.SetNX(ctx, "replay:abc", "1", 5*time.Minute)
			require.NoError(t, err)
			assert.False(t, first)

			require.NoError(t, s.Set(ctx, "blocked:203.0.113.5", `{"rule":"manual"}`, time.Hour))
			v, ok, err := s.Get(ctx, "blocked:203.0.113.5")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, `{"rule":"manual"}`, v)

			keys, err := s.Keys(ctx, "blocked:")
			require.NoError(t, err)
			assert.Equal(t, []string{"blocked:203.0.113.5"}, keys)

			h.advance(2 * time.Minute)
			_, ok, err = s.Get(ctx, "rate:facebook:1.2.3.4:1")
			require.NoError(t, err)
			assert.False(t, ok, "rate counter should expire")

			h.advance(time.Hour)
			_, err = s.PurgeExpired(ctx)
			require.NoError(t, err)
			keys, err = s.Keys(ctx, "")
			require.NoError(t, err)
			assert.Empty(t, keys)

			deleted, err := s.Del(ctx, "missing")
			require.NoError(t, err)
			assert.Equal(t, int64(0), deleted)
			assert.NoError(t, s.Ping(ctx))
		})
	}
}

func TestStore_HitSlidingLog(t *testing.T) {
	for name, h := range storeHarnesses(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := h.store
			start := time.Unix(1_760_000_000, 0)

			for i := 0; i < 3; i++ {
				n, oldest, err := s.Hit(ctx, "rate:twitter:1.2.3.4", start.Add(time.Duration(i)*10*time.Second), time.Minute)
				require.NoError(t, err)
				assert.Equal(t, int64(i+1), n)
				assert.True(t, oldest.Equal(start), "oldest = %s", oldest)
			}

			// The first hit is exactly one window old and falls out.
			n, oldest, err := s.Hit(ctx, "rate:twitter:1.2.3.4", start.Add(time.Minute), time.Minute)
			require.NoError(t, err)
			assert.Equal(t, int64(3), n)
			assert.True(t, oldest.Equal(start.Add(10*time.Second)), "oldest = %s", oldest)

			keys, err := s.Keys(ctx, "rate:")
			require.NoError(t, err)
			assert.Equal(t, []string{"rate:twitter:1.2.3.4"}, keys)

			deleted, err := s.Del(ctx, "rate:twitter:1.2.3.4")
			require.NoError(t, err)
			assert.Equal(t, int64(1), deleted)
			n, _, err = s.Hit(ctx, "rate:twitter:1.2.3.4", start.Add(time.Minute), time.Minute)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			h.advance(2 * time.Minute)
			keys, err = s.Keys(ctx, "rate:")
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestStore_DelManyKeys(t *testing.T) {
	for name, h := range storeHarnesses(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := h.store
			require.NoError(t, s.Set(ctx, "violations:signature_mismatch:10.0.0.1", "3", time.Hour))
			require.NoError(t, s.Set(ctx, "violations:rate_limited:10.0.0.1", "1", time.Hour))
			require.NoError(t, s.Set(ctx, "blocked:10.0.0.1", "{}", time.Hour))

			n, err := s.Del(ctx, "violations:signature_mismatch:10.0.0.1", "violations:rate_limited:10.0.0.1", "violations:missing:10.0.0.1")
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			keys, err := s.Keys(ctx, "")
			require.NoError(t, err)
			assert.Equal(t, []string{"blocked:10.0.0.1"}, keys)
		})
	}
}

func TestMemoryStore_PurgeExpired(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	s := NewMemoryStore().WithClock(clock.Now)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", "1", time.Second))
	require.NoError(t, s.Set(ctx, "b", "1", 0))
	clock.Advance(2 * time.Second)

	n, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok, _ := s.Get(ctx, "b")
	assert.True(t, ok)
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()
	s := NewRedisStore(client, "")
	mr.Close()

	assert.Error(t, s.Ping(context.Background()))
	_, err := s.Incr(context.Background(), "k", time.Second)
	assert.Error(t, err)
}
