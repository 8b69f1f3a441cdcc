package ratelimit

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRestore_RoundTripsAdmissionState(t *testing.T) {
	now := int64(1_000_000)
	policy, err := NewPolicy(2, 1000, Blocks(4))
	require.NoError(t, err)

	r := New(policy, WithRegisterer(prometheus.NewRegistry()), WithClock(func() int64 { return now }))
	r.Hit(context.Background(), "a")
	r.Hit(context.Background(), "a")

	snap := r.Snapshot()
	assert.Equal(t, 2, snap.Count)
	assert.Equal(t, int64(1000), snap.PeriodMs)
	assert.Len(t, snap.Entries["a"].Hits, 2)

	restored, err := Restore(snap, WithRegisterer(prometheus.NewRegistry()), WithClock(func() int64 { return now }))
	require.NoError(t, err)

	assert.False(t, restored.Hit(context.Background(), "a"), "the restored entry should already be at capacity")
}

func TestSnapshotRestore_NeverCarriesOverCleanup(t *testing.T) {
	policy, err := NewPolicy(1, 1000, Blocks(4))
	require.NoError(t, err)
	r := New(policy, WithRegisterer(prometheus.NewRegistry()))

	snap := r.Snapshot()
	restored, err := Restore(snap, WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)

	assert.Nil(t, restored.cleanup)
}
