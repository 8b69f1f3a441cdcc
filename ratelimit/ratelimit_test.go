package ratelimit

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRateLimit(t *testing.T, count int, periodMs int64, clock func() int64) *RateLimit {
	t.Helper()

	policy, err := NewPolicy(count, periodMs, Blocks(4))
	require.NoError(t, err)

	opts := []Option{WithRegisterer(prometheus.NewRegistry())}
	if clock != nil {
		opts = append(opts, WithClock(clock))
	}

	return New(policy, opts...)
}

func TestRateLimit_HitEnforcesCountPerKey(t *testing.T) {
	now := int64(1_000_000)
	r := newTestRateLimit(t, 2, 60_000, func() int64 { return now })

	assert.True(t, r.Hit(context.Background(), "a"))
	assert.True(t, r.Hit(context.Background(), "a"))
	assert.False(t, r.Hit(context.Background(), "a"))

	assert.True(t, r.Hit(context.Background(), "b"), "separate key has its own budget")
}

func TestRateLimit_NextHitAndContains(t *testing.T) {
	now := int64(1_000_000)
	clock := func() int64 { return now }
	r := newTestRateLimit(t, 1, 1000, clock)

	_, tracked := r.NextHit("a")
	assert.False(t, tracked)
	assert.False(t, r.Contains("a"))

	r.Hit(context.Background(), "a")
	assert.True(t, r.Contains("a"))

	delay, tracked := r.NextHit("a")
	assert.True(t, tracked)
	assert.Equal(t, uint32(1000), delay)
}

func TestRateLimit_RemoveDropsKey(t *testing.T) {
	r := newTestRateLimit(t, 1, 1000, nil)

	assert.False(t, r.Remove("a"))

	r.Hit(context.Background(), "a")
	assert.True(t, r.Remove("a"))
	assert.False(t, r.Contains("a"))
}

func TestRateLimit_CleanupRemovesExpiredEntries(t *testing.T) {
	now := int64(1_000_000)
	r := newTestRateLimit(t, 1, 1000, func() int64 { return now })

	r.Hit(context.Background(), "a")
	assert.Equal(t, 1, r.Len())

	now += 2000
	removed := r.Cleanup(context.Background())

	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, r.Len())
}

func TestRateLimit_CleanupIsIdempotentWhenNothingExpired(t *testing.T) {
	now := int64(1_000_000)
	r := newTestRateLimit(t, 1, 60_000, func() int64 { return now })

	r.Hit(context.Background(), "a")

	assert.Equal(t, 0, r.Cleanup(context.Background()))
	assert.Equal(t, 1, r.Len())

	assert.Equal(t, 0, r.Cleanup(context.Background()))
	assert.Equal(t, 1, r.Len())
}

func TestRateLimit_InstallCleanupRejectsNonPositiveInterval(t *testing.T) {
	r := newTestRateLimit(t, 1, 1000, nil)
	assert.Error(t, r.InstallCleanup(0))
}

func TestRateLimit_InstallCleanupSweepsOnASchedule(t *testing.T) {
	var now atomic.Int64
	now.Store(1_000_000)

	r := newTestRateLimit(t, 1, 50, now.Load)

	r.Hit(context.Background(), "a")
	require.NoError(t, r.InstallCleanup(0.01))
	defer r.RemoveCleanup()

	now.Add(1000)

	require.Eventually(t, func() bool {
		return r.Len() == 0
	}, time.Second, 5*time.Millisecond)
}
