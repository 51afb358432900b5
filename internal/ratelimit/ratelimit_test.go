package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_EnforcesMinimumInterval(t *testing.T) {
	r := New(map[string]time.Duration{"slow": 50 * time.Millisecond}, 0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Acquire(ctx, "slow"))
	}
	// First grant is immediate, the next two wait one interval each.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestAcquire_ZeroIntervalIsNoop(t *testing.T) {
	r := New(map[string]time.Duration{"free": 0, "neg": -time.Second}, 0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, r.Acquire(ctx, "free"))
		require.NoError(t, r.Acquire(ctx, "neg"))
		require.NoError(t, r.Acquire(ctx, "unknown"))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestAcquire_KeysAreIndependent(t *testing.T) {
	r := New(map[string]time.Duration{"a": time.Hour, "b": time.Hour}, 0)
	ctx := context.Background()

	require.NoError(t, r.Acquire(ctx, "a"))
	require.NoError(t, r.Acquire(ctx, "b"))
}

func TestAcquire_RespectsContext(t *testing.T) {
	r := New(map[string]time.Duration{"slow": time.Hour}, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, r.Acquire(ctx, "slow"))
	err := r.Acquire(ctx, "slow")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ratelimit: acquire slow")
}

func TestAcquire_ConcurrentCallersShareLimiter(t *testing.T) {
	r := New(nil, 20*time.Millisecond)
	ctx := context.Background()

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Acquire(ctx, "shared"))
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
	assert.Equal(t, 20*time.Millisecond, r.Interval("shared"))
}
