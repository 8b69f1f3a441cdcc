package ratelimit

import (
	"context"
	"runtime"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDynList_ParsesCountSlashPeriodColonKey(t *testing.T) {
	count, periodMs, rest, ok := parseDynSpec("5/1m:some-client")
	require.True(t, ok)
	assert.Equal(t, 5, count)
	assert.Equal(t, int64(60_000), periodMs)
	assert.Equal(t, "some-client", rest)
}

func TestDynList_RejectsMalformedSpec(t *testing.T) {
	_, _, _, ok := parseDynSpec("not-a-spec")
	assert.False(t, ok)

	_, _, _, ok = parseDynSpec("5:no-slash")
	assert.False(t, ok)

	_, _, _, ok = parseDynSpec("0/5:zero-count")
	assert.False(t, ok)
}

func TestDynList_FallsBackToRootOnParseFailure(t *testing.T) {
	policy, err := NewPolicy(3, 1000, Blocks(4))
	require.NoError(t, err)
	root := New(policy, WithRegisterer(prometheus.NewRegistry()))

	target, key := root.DynList("not-a-spec")
	assert.Same(t, root, target)
	assert.Equal(t, "not-a-spec", key)
}

func TestDynList_SameSpecReturnsSameChildWhileReachable(t *testing.T) {
	policy, err := NewPolicy(3, 1000, Blocks(4))
	require.NoError(t, err)
	root := New(policy, WithRegisterer(prometheus.NewRegistry()))

	t1, k1 := root.DynList("5/1m:client-a")
	t2, k2 := root.DynList("5/1m:client-a")

	assert.Same(t, t1, t2)
	assert.Equal(t, k1, k2)
}

func TestDynList_ChildEnforcesItsOwnPolicyIndependentlyOfParent(t *testing.T) {
	policy, err := NewPolicy(100, 60_000, Blocks(4))
	require.NoError(t, err)
	root := New(policy, WithRegisterer(prometheus.NewRegistry()))

	child, key := root.DynList("1/60:client-a")
	require.NotSame(t, root, child)

	assert.True(t, child.Hit(context.Background(), key))
	assert.False(t, child.Hit(context.Background(), key))

	assert.False(t, root.Contains(key), "the child's key never lands in the parent's own entries")
}

func TestDynList_CleanupToleratesDeadChildEntries(t *testing.T) {
	policy, err := NewPolicy(3, 1000, Blocks(4))
	require.NoError(t, err)
	root := New(policy, WithRegisterer(prometheus.NewRegistry()))

	func() {
		child, _ := root.DynList("5/1m:transient")
		_ = child
	}()

	runtime.GC()

	// Whether or not the weak.Pointer's target has already been
	// collected by the time Cleanup runs, it must not panic, and the
	// dlists map must end up consistent (every remaining entry still
	// resolves to a live child).
	assert.NotPanics(t, func() {
		root.Cleanup(context.Background())
	})

	root.mu.Lock()
	defer root.mu.Unlock()
	for _, wp := range root.dlists {
		assert.NotNil(t, wp.Value())
	}
}
