package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(cfg Config, tiers map[string]Config) *Limiter {
	return New(cfg, tiers, nil)
}

func TestFixedWindowAllowsUpToLimit(t *testing.T) {
	l := newTestLimiter(Config{Strategy: StrategyFixedWindow, Limit: 3, Window: time.Minute}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "tenant-1:bot-1")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res, err := l.Allow(ctx, "tenant-1:bot-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
}

func TestFixedWindowResetsOnWindowExpiry(t *testing.T) {
	l := newTestLimiter(Config{Strategy: StrategyFixedWindow, Limit: 1, Window: time.Minute}, nil)
	ctx := context.Background()

	current := time.Date(2026, 8, 28, 10, 0, 30, 0, time.UTC)
	l.now = func() time.Time { return current }

	res, err := l.Allow(ctx, "key")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Allow(ctx, "key")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	current = current.Add(time.Minute)

	res, err = l.Allow(ctx, "key")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestSlidingWindowPrunesOldTimestamps(t *testing.T) {
	l := newTestLimiter(Config{Strategy: StrategySlidingWindow, Limit: 2, Window: time.Minute}, nil)
	ctx := context.Background()

	current := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return current }

	for i := 0; i < 2; i++ {
		res, err := l.Allow(ctx, "key")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}

	res, err := l.Allow(ctx, "key")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	// Half the window later one slot has freed nothing; a full window later
	// both original timestamps are outside the window.
	current = current.Add(30 * time.Second)
	res, err = l.Allow(ctx, "key")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	current = current.Add(31 * time.Second)
	res, err = l.Allow(ctx, "key")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestConcurrentChecksNeverExceedLimit(t *testing.T) {
	const limit = 10
	const workers = 100

	l := newTestLimiter(Config{Strategy: StrategyFixedWindow, Limit: limit, Window: time.Minute}, nil)
	ctx := context.Background()

	var allowed int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := l.Allow(ctx, "contended-key")
			if err == nil && res.Allowed {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, int64(limit), allowed)
}

func TestTierOverrides(t *testing.T) {
	tiers := map[string]Config{
		"free":       {Limit: 1, Window: time.Minute},
		"enterprise": {Limit: 100, Window: time.Minute},
	}
	l := newTestLimiter(Config{Strategy: StrategyFixedWindow, Limit: 5, Window: time.Minute}, tiers)
	ctx := context.Background()

	res, err := l.AllowTier(ctx, "free-key", "free")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.AllowTier(ctx, "free-key", "free")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	// Unknown tiers fall back to the default config.
	for i := 0; i < 5; i++ {
		res, err = l.AllowTier(ctx, "other-key", "unknown-tier")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err = l.AllowTier(ctx, "other-key", "unknown-tier")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestRemainingDoesNotConsume(t *testing.T) {
	l := newTestLimiter(Config{Strategy: StrategyFixedWindow, Limit: 2, Window: time.Minute}, nil)
	ctx := context.Background()

	assert.Equal(t, 2, l.Remaining(ctx, "key"))
	assert.Equal(t, 2, l.Remaining(ctx, "key"))

	_, err := l.Allow(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, 1, l.Remaining(ctx, "key"))
}

func TestResetClearsCounter(t *testing.T) {
	l := newTestLimiter(Config{Strategy: StrategyFixedWindow, Limit: 1, Window: time.Minute}, nil)
	ctx := context.Background()

	res, err := l.Allow(ctx, "key")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Allow(ctx, "key")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	require.NoError(t, l.Reset(ctx, "key"))

	res, err = l.Allow(ctx, "key")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestIndependentKeysDoNotInterfere(t *testing.T) {
	l := newTestLimiter(Config{Strategy: StrategyFixedWindow, Limit: 1, Window: time.Minute}, nil)
	ctx := context.Background()

	res, err := l.Allow(ctx, "key-a")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Allow(ctx, "key-b")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
