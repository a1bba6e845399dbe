package chainrpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlockSubsidyHalvings(t *testing.T) {
	assert.Equal(t, uint64(initialSubsidy), BlockSubsidy(0))
	assert.Equal(t, uint64(initialSubsidy)/2, BlockSubsidy(subsidyHalvingInterval))
	assert.Equal(t, uint64(initialSubsidy)/4, BlockSubsidy(subsidyHalvingInterval*2))
}

func TestBlockSubsidySaturatesToZero(t *testing.T) {
	assert.Equal(t, uint64(0), BlockSubsidy(subsidyHalvingInterval*maxHalvings))
	assert.Equal(t, uint64(0), BlockSubsidy(subsidyHalvingInterval*(maxHalvings+5)))
}

func TestBlockSubsidyMonotoneNonIncreasing(t *testing.T) {
	prev := BlockSubsidy(0)
	for h := uint32(0); h < subsidyHalvingInterval*5; h += subsidyHalvingInterval {
		cur := BlockSubsidy(h)
		assert.LessOrEqual(t, cur, prev)
		prev = cur
	}
}
