package reorgmon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMonitor(t *testing.T, rpc RPCClient, opts Options) *Monitor {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return epoch }
	}
	m, err := NewMonitor(rpc, opts)
	require.NoError(t, err)
	return m
}

func TestNewMonitorRejectsNilRPCClient(t *testing.T) {
	_, err := NewMonitor(nil, Options{})
	assert.ErrorIs(t, err, ErrNoRPCClient)
}

func TestTickColdStartSkipsHistory(t *testing.T) {
	rpc := newFakeRPC()
	rpc.setBlock(block(0, 0x00, 0x00)) // satisfies the identity prober's genesis fetch
	rpc.setBlock(block(1000, 0x10, 0x09))

	var buf countingWriter
	m := newTestMonitor(t, rpc, Options{EventWriter: &buf, CacheDepth: 10, RecheckDepth: 2})

	require.NoError(t, m.tick(context.Background()))

	// Cold start jumps last_processed_height to latest-1 and then forward
	// sync, within the same tick, advances it the rest of the way to the
	// tip -- so forward sync fetches only the tip height itself, never the
	// 999 heights in between. The deep recheck (RecheckDepth 2) does ask
	// for height 999, but the fake node has no block there, so nothing is
	// cached for it.
	assert.Equal(t, int64(1000), m.lastProcessedHeight)
	assert.Equal(t, uint64(1000), m.maxObservedHeight)
	_, cached := m.cache.get(1000)
	assert.True(t, cached)
	_, gap := m.cache.get(999)
	assert.False(t, gap, "cold start must not backfill the skipped history")
}

func TestTickForwardSyncsFromGenesisWhenTipIsZero(t *testing.T) {
	rpc := newFakeRPC()
	rpc.setBlock(block(0, 0x01, 0x00))

	var buf countingWriter
	m := newTestMonitor(t, rpc, Options{EventWriter: &buf, CacheDepth: 10, RecheckDepth: 2})

	require.NoError(t, m.tick(context.Background()))

	assert.Equal(t, int64(0), m.lastProcessedHeight)
	fp, ok := m.cache.get(0)
	require.True(t, ok)
	assert.Equal(t, hash(0x01), fp.Hash)
}

func TestTickForwardSyncAdvancesAcrossMultipleTicks(t *testing.T) {
	rpc := newFakeRPC()
	rpc.setBlock(block(0, 0x00, 0x00))

	var buf countingWriter
	m := newTestMonitor(t, rpc, Options{EventWriter: &buf, CacheDepth: 100, RecheckDepth: 2})

	require.NoError(t, m.tick(context.Background()))
	assert.Equal(t, int64(0), m.lastProcessedHeight)

	rpc.setBlock(block(1, 0x01, 0x00))
	rpc.setBlock(block(2, 0x02, 0x01))
	require.NoError(t, m.tick(context.Background()))

	assert.Equal(t, int64(2), m.lastProcessedHeight)
	assert.Equal(t, uint64(2), m.maxObservedHeight)
	for h := uint64(0); h <= 2; h++ {
		_, ok := m.cache.get(h)
		assert.True(t, ok, "height %d should be cached", h)
	}
}

func TestTickRewindDoesNotClearCache(t *testing.T) {
	rpc := newFakeRPC()
	rpc.setBlock(block(0, 0x00, 0x00))
	rpc.setBlock(block(1, 0x01, 0x00))
	rpc.setBlock(block(2, 0x02, 0x01))

	var buf countingWriter
	m := newTestMonitor(t, rpc, Options{EventWriter: &buf, CacheDepth: 100, RecheckDepth: 1})
	require.NoError(t, m.tick(context.Background()))
	require.Equal(t, int64(2), m.lastProcessedHeight)

	// Chain rewinds: node now reports height 1 as the tip, with a
	// different hash than before. The first tick's cold start skipped
	// height 1, so only height 2 is cached at this point.
	delete(rpc.blocks, 2)
	rpc.setBlock(block(1, 0xAA, 0x00))

	require.NoError(t, m.tick(context.Background()))

	assert.Equal(t, uint64(1), m.maxObservedHeight)
	assert.Equal(t, int64(1), m.lastProcessedHeight)
	assert.Equal(t, 1, m.stats.snapshot().chainRewinds)

	// height 2's stale entry must still be present -- rewind does not
	// clear the cache.
	_, ok := m.cache.get(2)
	assert.True(t, ok)

	// height 1 is now cached with the hash the node reports after the
	// rewind, fetched by the deep recheck.
	fp, ok := m.cache.get(1)
	require.True(t, ok)
	assert.Equal(t, hash(0xAA), fp.Hash)
}

func TestTickPruneRespectsCacheDepth(t *testing.T) {
	rpc := newFakeRPC()
	rpc.setBlock(block(0, 0x00, 0x00))

	var buf countingWriter
	m := newTestMonitor(t, rpc, Options{EventWriter: &buf, CacheDepth: 5, RecheckDepth: 1})

	// First tick: no cold start (tip is height 0), so forward sync fills
	// the cache contiguously from genesis instead of jumping ahead.
	require.NoError(t, m.tick(context.Background()))

	for h := uint64(1); h <= 20; h++ {
		rpc.setBlock(block(h, byte(h), byte(h-1)))
	}
	require.NoError(t, m.tick(context.Background()))
	require.Equal(t, int64(20), m.lastProcessedHeight)

	assert.LessOrEqual(t, m.cache.size(), 5)
	for h := uint64(0); h < 16; h++ {
		_, ok := m.cache.get(h)
		assert.False(t, ok, "height %d should have been pruned", h)
	}
	for h := uint64(16); h <= 20; h++ {
		_, ok := m.cache.get(h)
		assert.True(t, ok, "height %d should remain cached", h)
	}
}

func TestTickForwardSyncStopsAtFirstFailureWithoutGap(t *testing.T) {
	rpc := newFakeRPC()
	rpc.setBlock(block(0, 0x00, 0x00))
	rpc.setBlock(block(1, 0x01, 0x00))

	var buf countingWriter
	m := newTestMonitor(t, rpc, Options{EventWriter: &buf, CacheDepth: 100, RecheckDepth: 1})

	// Establish last_processed_height = 1 on an uneventful first tick, so
	// the second tick's forward sync -- not cold start -- is what walks
	// into the failing height.
	require.NoError(t, m.tick(context.Background()))
	require.Equal(t, int64(1), m.lastProcessedHeight)

	rpc.setErr(2, assertErr("boom"))
	rpc.setBlock(block(3, 0x03, 0x02))

	err := m.tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.lastProcessedHeight, "forward sync must stop before the failed height")
	_, ok := m.cache.get(3)
	assert.False(t, ok, "forward sync must not skip past the failed height")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
