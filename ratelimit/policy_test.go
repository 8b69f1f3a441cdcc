package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPolicy_RejectsNonPositiveCount(t *testing.T) {
	_, err := NewPolicy(0, 1000, Blocks(4))
	assert.Error(t, err)
}

func TestNewPolicy_RejectsNonPositivePeriod(t *testing.T) {
	_, err := NewPolicy(1, 0, Blocks(4))
	assert.Error(t, err)
}

func TestNewPolicy_RejectsPeriodOverMax(t *testing.T) {
	_, err := NewPolicy(1, maxPeriodMs+1, Blocks(4))
	assert.Error(t, err)
}

func TestNewPolicy_BlockFractionDerivesFromCount(t *testing.T) {
	p, err := NewPolicy(10, 1000, BlockFraction(0.5))
	require.NoError(t, err)
	assert.Equal(t, 5, p.BlockSize)
}

func TestNewPolicy_BlockFractionRejectsOutOfRange(t *testing.T) {
	_, err := NewPolicy(10, 1000, BlockFraction(1.5))
	assert.Error(t, err)

	_, err = NewPolicy(10, 1000, BlockFraction(0))
	assert.Error(t, err)
}

func TestNewPolicy_BlocksRejectsNonPositive(t *testing.T) {
	_, err := NewPolicy(10, 1000, Blocks(0))
	assert.Error(t, err)
}
