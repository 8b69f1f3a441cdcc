package protocol

import (
	"bytes"
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.gearno.de/ratelimitd/ratelimit"
)

func newTestTarget(t *testing.T, count int, periodMs int64) *ratelimit.RateLimit {
	t.Helper()

	policy, err := ratelimit.NewPolicy(count, periodMs, ratelimit.Blocks(4))
	require.NoError(t, err)

	return ratelimit.New(policy, ratelimit.WithRegisterer(prometheus.NewRegistry()))
}

func TestConn_IncrAdmitsWithinWindow(t *testing.T) {
	target := newTestTarget(t, 2, 60_000)

	var out bytes.Buffer
	conn := New(&out, target, WithRegisterer(prometheus.NewRegistry()))

	require.NoError(t, conn.Feed(context.Background(), []byte("incr foo\r\n")))
	require.NoError(t, conn.Feed(context.Background(), []byte("incr foo\r\n")))
	require.NoError(t, conn.Feed(context.Background(), []byte("incr foo\r\n")))

	assert.Equal(t, "0\r\n0\r\n1\r\n", out.String())
}

func TestConn_IncrNoreplySuppressesResponse(t *testing.T) {
	target := newTestTarget(t, 1, 60_000)

	var out bytes.Buffer
	conn := New(&out, target, WithRegisterer(prometheus.NewRegistry()))

	require.NoError(t, conn.Feed(context.Background(), []byte("incr foo noreply\r\n")))

	assert.Empty(t, out.String())
	assert.True(t, target.Contains("foo"))
}

func TestConn_GetReportsNextHitAndEnd(t *testing.T) {
	target := newTestTarget(t, 1, 60_000)

	var out bytes.Buffer
	conn := New(&out, target, WithRegisterer(prometheus.NewRegistry()))

	require.NoError(t, conn.Feed(context.Background(), []byte("incr foo\r\n")))
	out.Reset()

	require.NoError(t, conn.Feed(context.Background(), []byte("get foo missing\r\n")))

	got := out.String()
	assert.Contains(t, got, "VALUE foo 0 ")
	assert.True(t, len(got) >= 5 && got[len(got)-5:] == "END\r\n")
	assert.NotContains(t, got, "VALUE missing")
}

func TestConn_DeleteReportsDeletedOrNotFound(t *testing.T) {
	target := newTestTarget(t, 1, 60_000)

	var out bytes.Buffer
	conn := New(&out, target, WithRegisterer(prometheus.NewRegistry()))

	require.NoError(t, conn.Feed(context.Background(), []byte("incr foo\r\n")))
	out.Reset()

	require.NoError(t, conn.Feed(context.Background(), []byte("delete foo\r\n")))
	assert.Equal(t, "DELETED\r\n", out.String())

	out.Reset()
	require.NoError(t, conn.Feed(context.Background(), []byte("delete foo\r\n")))
	assert.Equal(t, "NOT_FOUND\r\n", out.String())
}

func TestConn_UnknownCommandRepliesError(t *testing.T) {
	target := newTestTarget(t, 1, 60_000)

	var out bytes.Buffer
	conn := New(&out, target, WithRegisterer(prometheus.NewRegistry()))

	require.NoError(t, conn.Feed(context.Background(), []byte("bogus foo\r\n")))

	assert.Equal(t, "ERROR unknown command\r\n", out.String())
}

func TestConn_IncrWithNoKeyRepliesErrorAndKeepsOpen(t *testing.T) {
	target := newTestTarget(t, 1, 60_000)

	var out bytes.Buffer
	conn := New(&out, target, WithRegisterer(prometheus.NewRegistry()))

	err := conn.Feed(context.Background(), []byte("incr\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "ERROR unknown command\r\n", out.String())

	out.Reset()
	require.NoError(t, conn.Feed(context.Background(), []byte("incr foo\r\n")))
	assert.Equal(t, "0\r\n", out.String())
}

func TestConn_FeedSplitsAcrossMultipleCalls(t *testing.T) {
	target := newTestTarget(t, 1, 60_000)

	var out bytes.Buffer
	conn := New(&out, target, WithRegisterer(prometheus.NewRegistry()))

	require.NoError(t, conn.Feed(context.Background(), []byte("in")))
	require.NoError(t, conn.Feed(context.Background(), []byte("cr foo\r")))
	require.NoError(t, conn.Feed(context.Background(), []byte("\n")))

	assert.Equal(t, "0\r\n", out.String())
}

func TestConn_OversizeLineReturnsErrLineTooLong(t *testing.T) {
	target := newTestTarget(t, 1, 60_000)

	var out bytes.Buffer
	conn := New(&out, target, WithRegisterer(prometheus.NewRegistry()))

	huge := bytes.Repeat([]byte("x"), maxLineLen+1)
	err := conn.Feed(context.Background(), huge)

	assert.ErrorIs(t, err, ErrLineTooLong)
}

func TestConn_DynamicModeRoutesToChild(t *testing.T) {
	root := newTestTarget(t, 100, 60_000)

	var out bytes.Buffer
	conn := New(&out, root, WithRegisterer(prometheus.NewRegistry()), WithDynamic(true))

	require.NoError(t, conn.Feed(context.Background(), []byte("incr 1/5:bucket-a\r\n")))

	assert.False(t, root.Contains("bucket-a"))
	assert.Equal(t, "0\r\n", out.String())
}
