package reorgmon

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func fp(hash byte) BlockFingerprint {
	return BlockFingerprint{Hash: common.Hash{hash}}
}

func TestBlockCacheGetPut(t *testing.T) {
	c := newBlockCache()

	_, ok := c.get(10)
	assert.False(t, ok)

	c.put(10, fp(1))
	got, ok := c.get(10)
	assert.True(t, ok)
	assert.Equal(t, fp(1), got)

	// put overwrites unconditionally.
	c.put(10, fp(2))
	got, ok = c.get(10)
	assert.True(t, ok)
	assert.Equal(t, fp(2), got)
}

func TestBlockCacheNonContiguous(t *testing.T) {
	c := newBlockCache()

	c.put(100, fp(1))
	c.put(50, fp(2))
	assert.Equal(t, 2, c.size())

	_, ok := c.get(75)
	assert.False(t, ok)
}

func TestBlockCachePrune(t *testing.T) {
	c := newBlockCache()
	for h := uint64(0); h < 10; h++ {
		c.put(h, fp(byte(h)))
	}
	assert.Equal(t, 10, c.size())

	c.prune(5)
	assert.Equal(t, 5, c.size())

	for h := uint64(0); h < 5; h++ {
		_, ok := c.get(h)
		assert.False(t, ok, "height %d should have been pruned", h)
	}
	for h := uint64(5); h < 10; h++ {
		_, ok := c.get(h)
		assert.True(t, ok, "height %d should remain", h)
	}
}

func TestBlockCachePruneZeroFloorIsNoop(t *testing.T) {
	c := newBlockCache()
	c.put(0, fp(1))
	c.put(1, fp(2))

	c.prune(0)
	assert.Equal(t, 2, c.size())
}
