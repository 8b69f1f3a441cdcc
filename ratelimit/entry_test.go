package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntry_AdmitsUpToCountWithinWindow(t *testing.T) {
	e := &entry{}

	now := int64(1_000_000)
	for i := 0; i < 3; i++ {
		assert.True(t, e.hit(now, 3, 1000, 4))
	}
	assert.False(t, e.hit(now, 3, 1000, 4))
}

func TestEntry_AdmitsAgainAfterWindowSlides(t *testing.T) {
	e := &entry{}

	now := int64(1_000_000)
	require.True(t, e.hit(now, 1, 1000, 4))
	assert.False(t, e.hit(now+500, 1, 1000, 4))
	assert.True(t, e.hit(now+1001, 1, 1000, 4))
}

func TestEntry_NextHitZeroWhenAdmittable(t *testing.T) {
	e := &entry{}
	assert.Equal(t, uint32(0), e.nextHit(1_000_000, 2, 1000))
}

func TestEntry_NextHitReportsDelayUntilOldestExpires(t *testing.T) {
	e := &entry{}
	now := int64(1_000_000)

	require.True(t, e.hit(now, 1, 1000, 4))

	delay := e.nextHit(now+200, 1, 1000)
	assert.Equal(t, uint32(800), delay)
}

func TestEntry_IsExpiredWhenEmptyOrAllHitsAged(t *testing.T) {
	e := &entry{}
	assert.True(t, e.isExpired(1_000_000, 1000))

	require.True(t, e.hit(1_000_000, 1, 1000, 4))
	assert.False(t, e.isExpired(1_000_000, 1000))
	assert.True(t, e.isExpired(1_002_000, 1000))
}

func TestEntry_RebaseTransparentToAdmission(t *testing.T) {
	e := &entry{}

	now := int64(1_000_000)
	require.True(t, e.hit(now, 5, 1000, 4))

	// Force a rebase by jumping far enough that the raw offset would
	// overflow a uint32.
	farFuture := now + int64(maxOffset) + 10_000
	require.True(t, e.hit(farFuture, 5, 1000, 4))

	assert.Equal(t, 1, e.len, "the first hit should have aged out across the jump")
}

func TestEntry_GrowsRingInBlockSizeIncrements(t *testing.T) {
	e := &entry{}

	now := int64(1_000_000)
	for i := 0; i < 5; i++ {
		require.True(t, e.hit(now, 10, 60_000, 3))
	}

	assert.GreaterOrEqual(t, len(e.hits), 5)
	assert.Equal(t, 0, len(e.hits)%3)
}

func TestEntry_PruneEvictsExactlyAtBoundary(t *testing.T) {
	e := &entry{}

	now := int64(1_000_000)
	require.True(t, e.hit(now, 2, 1000, 4))

	// Exactly at the boundary (delta == periodMs) the hit has aged out.
	assert.True(t, e.hit(now+1000, 2, 1000, 4))
	assert.Equal(t, 1, e.len)
}
