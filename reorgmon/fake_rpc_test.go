package reorgmon

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// fakeRPC is a hand-written RPCClient test double, standing in for the
// httpvcr-recorded fixtures the teacher's legacy monitor test used — this
// package drives the same scenarios deterministically instead, since the
// detection rules care about exact byte-for-byte fingerprints, not wire
// replay.
type fakeRPC struct {
	blocks  map[uint64]Block
	chainID uint64
	err     map[uint64]error
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{blocks: make(map[uint64]Block), err: make(map[uint64]error)}
}

func (f *fakeRPC) setBlock(b Block) {
	f.blocks[b.Number] = b
}

func (f *fakeRPC) setErr(height uint64, err error) {
	f.err[height] = err
}

func (f *fakeRPC) maxHeight() uint64 {
	var max uint64
	for h := range f.blocks {
		if h > max {
			max = h
		}
	}
	return max
}

func (f *fakeRPC) GetBlockLatest(ctx context.Context) (Block, error) {
	return f.GetBlockByNumber(ctx, f.maxHeight())
}

func (f *fakeRPC) GetBlockByNumber(ctx context.Context, number uint64) (Block, error) {
	if err, ok := f.err[number]; ok {
		return Block{}, err
	}
	b, ok := f.blocks[number]
	if !ok {
		return Block{}, NewBlockNotFoundError(number)
	}
	return b, nil
}

func (f *fakeRPC) GetChainID(ctx context.Context) (uint64, error) {
	return f.chainID, nil
}

func hash(b byte) common.Hash {
	return common.Hash{b}
}

func block(number uint64, h, parent byte, txs ...byte) Block {
	refs := make([]TxRef, len(txs))
	for i, t := range txs {
		refs[i] = TxRef{Hash: hash(t)}
	}
	return Block{
		Number:       number,
		Hash:         hash(h),
		ParentHash:   hash(parent),
		Transactions: refs,
	}
}
