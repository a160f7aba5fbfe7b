// Package reorgmon watches a single chain's JSON-RPC endpoint, keeps a
// bounded cache of recently observed canonical blocks, and emits structured
// events the moment the observed chain diverges from that cache. It is a
// generalization of ethkit's ethmonitor: where ethmonitor rebuilds the
// canonical chain for downstream subscribers, reorgmon exists only to raise
// the alarm when the chain the node reports stops matching what was seen
// before.
package reorgmon

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RPCClient is the capability this package requires of the node connection.
// It is intentionally the entire external surface: no retry/backoff/timeout
// policy is specified here, that's left to the implementation (see spec
// §6.1) the same way ethkit's ethrpc.Interface is injected into ethmonitor
// rather than constructed by it.
type RPCClient interface {
	// GetBlockLatest returns the current tip of the chain as reported by
	// the node.
	GetBlockLatest(ctx context.Context) (Block, error)

	// GetBlockByNumber returns the canonical block at the given height, or
	// an error whose Error() contains the substring "Block not found" if
	// the node doesn't have it.
	GetBlockByNumber(ctx context.Context, number uint64) (Block, error)

	// GetChainID returns the chain's advertised chain id.
	GetChainID(ctx context.Context) (uint64, error)
}

// TxRef is the minimal per-transaction identity needed for reorg detection:
// just its hash, in the order the node reported it.
type TxRef struct {
	Hash common.Hash
}

// Block is the subset of a node's block response this package cares about.
// State root, base fee and gas used are optional because not every chain in
// the pack's presets reports all three (e.g. pre-London chains have no base
// fee).
type Block struct {
	Number        uint64
	Hash          common.Hash
	ParentHash    common.Hash
	StateRoot     *common.Hash
	BaseFeePerGas *big.Int
	GasUsed       *uint64
	Transactions  []TxRef
}

// BlockFingerprint is the cached projection of a Block at one height: just
// enough to detect that something about it changed. Per spec §3 it is
// compared by value, never refetched to revalidate.
type BlockFingerprint struct {
	Hash       common.Hash
	ParentHash common.Hash
	StateRoot  *common.Hash
	TxHashes   []common.Hash
}

func fingerprintOf(b Block) BlockFingerprint {
	txHashes := make([]common.Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		txHashes[i] = tx.Hash
	}
	return BlockFingerprint{
		Hash:       b.Hash,
		ParentHash: b.ParentHash,
		StateRoot:  b.StateRoot,
		TxHashes:   txHashes,
	}
}

func hashPtrEqual(a, b *common.Hash) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func hashPtrString(h *common.Hash) string {
	if h == nil {
		return ""
	}
	return h.Hex()
}
