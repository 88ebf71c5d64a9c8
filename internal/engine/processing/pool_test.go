package processing

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hookgate/internal/platform/models"
)

func TestPool_DrainsQueue(t *testing.T) {
	h := newHarness(t, defaultSettings(), nil)
	h.orch.now = time.Now
	e := h.seed(t, models.PlatformFacebook, []string{"*"}, feedComment)
	_, err := h.jobs.Enqueue(context.Background(), e.ID, time.Now().Unix(), time.Now().Unix())
	require.NoError(t, err)

	wake := NewSignal()
	pool := NewPool(h.jobs, h.orch, PoolConfig{Workers: 2, PollInterval: 10 * time.Millisecond, LeaseDuration: time.Minute}, wake, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()
	wake.Notify()

	require.Eventually(t, func() bool {
		got, err := h.events.GetByID(context.Background(), e.ID)
		return err == nil && got.Status == models.EventProcessed
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		depth, err := h.jobs.Depth(context.Background())
		return err == nil && depth == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestSignal_Coalesces(t *testing.T) {
	s := NewSignal()
	s.Notify()
	s.Notify()
	<-s
	select {
	case <-s:
		t.Fatal("expected a single pending wake-up")
	default:
	}
}
