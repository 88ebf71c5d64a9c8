package alerts

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Locker is the set-if-absent primitive of the security store.
type Locker interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// Cooldown suppresses repeats of the same alert type (and key) within ttl.
type Cooldown struct {
	next   Dispatcher
	locker Locker
	ttl    time.Duration
	log    zerolog.Logger
}

func NewCooldown(next Dispatcher, locker Locker, ttl time.Duration, log zerolog.Logger) *Cooldown {
	return &Cooldown{next: next, locker: locker, ttl: ttl, log: log}
}

func (c *Cooldown) Dispatch(ctx context.Context, a Alert) error {
	if c.ttl > 0 {
		key := "alert_cooldown:" + a.Type
		if a.Key != "" {
			key += ":" + a.Key
		}
		first, err := c.locker.SetNX(ctx, key, string(a.Severity), c.ttl)
		if err != nil {
			// Store trouble must not swallow alerts.
			c.log.Warn().Err(err).Str("alert", a.Type).Msg("alert cooldown unavailable")
		} else if !first {
			c.log.Debug().Str("alert", a.Type).Msg("alert suppressed by cooldown")
			return nil
		}
	}
	return c.next.Dispatch(ctx, a)
}
