package ratelimit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWait_AllowsWithinRate(t *testing.T) {
	l := New(1000, 5)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		assert.NoError(t, l.Wait(ctx))
	}
}

func TestWait_RespectsContextCancellation(t *testing.T) {
	l := New(0.001, 1) // effectively never refills within the test
	l.Wait(context.Background()) // drain the single burst token

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx)
	assert.Error(t, err)
}

// TestWait_SerializesConcurrentWaiters exercises the P7 property: with a
// slow-refilling limiter, concurrent Wait calls must actually come out
// spaced by at least the refill interval, not just complete without
// deadlocking.
func TestWait_SerializesConcurrentWaiters(t *testing.T) {
	const rps = 50.0 // refills every 20ms
	interval := time.Duration(float64(time.Second) / rps)
	l := New(rps, 1) // 1 token burst
	ctx := context.Background()
	l.Wait(ctx) // drain the initial token

	const n = 5
	var wg sync.WaitGroup
	var mu sync.Mutex
	releasedAt := make([]time.Time, 0, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Wait(ctx))
			mu.Lock()
			releasedAt = append(releasedAt, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, releasedAt, n)
	sort.Slice(releasedAt, func(i, j int) bool { return releasedAt[i].Before(releasedAt[j]) })

	// Allow a small tolerance for scheduling jitter around the timer fire.
	const slack = 3 * time.Millisecond
	for i := 1; i < len(releasedAt); i++ {
		gap := releasedAt[i].Sub(releasedAt[i-1])
		assert.GreaterOrEqualf(t, gap, interval-slack, "call %d fired only %s after call %d, want >= ~%s", i, gap, i-1, interval)
	}
}
