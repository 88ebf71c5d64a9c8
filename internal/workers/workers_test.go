package workers

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestEvery_RunsImmediatelyAndOnTicks(t *testing.T) {
	var calls int32
	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()

	Every(ctx, 10*time.Millisecond, func(context.Context) { atomic.AddInt32(&calls, 1) })

	if n := atomic.LoadInt32(&calls); n < 2 {
		t.Errorf("Expected at least 2 runs, got %d", n)
	}
}

func TestRun_EmptySetStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Run(ctx, Set{Logger: zerolog.Nop()}); err != nil {
		t.Errorf("Run() error = %v", err)
	}
}
