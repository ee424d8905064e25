package janitor

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinic-gateway/internal/ratelimit"
)

type countingHealth struct {
	calls int64
	err   error
}

func (c *countingHealth) Health() error {
	atomic.AddInt64(&c.calls, 1)
	return c.err
}

func TestJanitorSweep(t *testing.T) {
	t.Run("scheduled sweep checks store health", func(t *testing.T) {
		health := &countingHealth{}
		j := New(nil, health)

		require.NoError(t, j.Start("@every 100ms"))
		defer j.Stop()

		assert.Eventually(t, func() bool {
			return atomic.LoadInt64(&health.calls) > 0
		}, 2*time.Second, 20*time.Millisecond)
	})

	t.Run("unhealthy store does not stop the schedule", func(t *testing.T) {
		health := &countingHealth{err: fmt.Errorf("dial refused")}
		j := New(nil, health)

		require.NoError(t, j.Start("@every 100ms"))
		defer j.Stop()

		assert.Eventually(t, func() bool {
			return atomic.LoadInt64(&health.calls) >= 2
		}, 2*time.Second, 20*time.Millisecond)
	})

	t.Run("invalid schedule is rejected", func(t *testing.T) {
		j := New(nil, nil)
		assert.Error(t, j.Start("not a schedule"))
	})

	t.Run("sweep clears rolled-over windows", func(t *testing.T) {
		counters := ratelimit.NewLocalCounter()
		_, err := counters.Incr(context.Background(), "anon:1.2.3.4", 50*time.Millisecond)
		require.NoError(t, err)

		j := New(counters, nil)
		require.NoError(t, j.Start("@every 100ms"))
		defer j.Stop()

		// Once the window lapses the scheduled sweep drops it.
		assert.Eventually(t, func() bool {
			return counters.Sweep() == 0 && counters.Len() == 0
		}, 2*time.Second, 20*time.Millisecond)
	})
}

func TestStopWaits(t *testing.T) {
	j := New(nil, &countingHealth{})
	require.NoError(t, j.Start("@every 1h"))

	done := make(chan struct{})
	go func() {
		j.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}
