package daemon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefinition_PlainSecondsWhenNoSuffix(t *testing.T) {
	d, err := ParseDefinition("5/5")
	require.NoError(t, err)
	assert.Equal(t, 5, d.Count)
	assert.Equal(t, int64(5000), d.PeriodMs)
}

func TestParseDefinition_MinutesHoursDaysSuffixes(t *testing.T) {
	cases := []struct {
		in       string
		count    int
		periodMs int64
	}{
		{"1/8", 1, 8000},
		{"5/1m", 5, 60_000},
		{"5/2h", 5, 7_200_000},
		{"5/1d", 5, 86_400_000},
	}

	for _, c := range cases {
		d, err := ParseDefinition(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.count, d.Count, c.in)
		assert.Equal(t, c.periodMs, d.PeriodMs, c.in)
	}
}

func TestParseDefinition_RejectsMalformedInput(t *testing.T) {
	for _, in := range []string{"", "abc", "5", "5/", "/5", "5/5x"} {
		_, err := ParseDefinition(in)
		assert.Error(t, err, in)
	}
}
