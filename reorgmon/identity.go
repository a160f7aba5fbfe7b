package reorgmon

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goware/breaker"
	"github.com/goware/superr"
	"golang.org/x/sync/errgroup"
)

const (
	breakerBaseDelay  = 1 * time.Second
	breakerFactor     = 2
	breakerMaxRetries = 3
)

// chainIdentity holds the last-observed chain-id and genesis hash, plus the
// wall-clock timestamp of the last probe. It is owned exclusively by the
// tick controller, same single-writer discipline as blockCache.
type chainIdentity struct {
	lastChainID         *uint64
	lastGenesisHash     *common.Hash
	lastMetadataCheckMs int64
}

// identityProber implements C4. Individual RPC calls go through
// breaker.Do the same way ethmonitor.getChainID retries chain-id lookups,
// since a single dropped connection to the node shouldn't be treated as a
// GENESIS_CHANGED / CHAIN_ID_CHANGED event.
type identityProber struct {
	rpc           RPCClient
	pollInterval  int64
	em            *emitter
	expectChainID *uint64
}

func newIdentityProber(rpc RPCClient, pollIntervalMs int64, em *emitter, expectChainID *uint64) *identityProber {
	return &identityProber{rpc: rpc, pollInterval: pollIntervalMs, em: em, expectChainID: expectChainID}
}

// maybeProbe runs the five steps of spec §4.4 when the poll interval has
// elapsed. It mutates ident in place and returns an error when an RPC call
// ultimately fails after retries — per spec §4.4, that failure propagates to
// the tick controller's outer error handler — when the first probe's chain id
// contradicts Options.ChainID (wrapped in ErrFatal), or when an event cannot
// be written.
func (p *identityProber) maybeProbe(ctx context.Context, ident *chainIdentity, nowMs int64) error {
	if nowMs-ident.lastMetadataCheckMs < p.pollInterval {
		return nil
	}

	// Step 1: stamp before issuing RPC calls, so a slow probe doesn't starve
	// the next one back-to-back.
	ident.lastMetadataCheckMs = nowMs

	var chainID uint64
	var genesis Block

	// Step 2: concurrent fetch, the same errgroup.WithContext join used by
	// ethreceipts.go to fan out independent RPC calls and fail fast on the
	// first error.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		chainID, err = breakerChainID(gctx, p.rpc)
		return err
	})
	g.Go(func() error {
		var err error
		genesis, err = breakerGenesisBlock(gctx, p.rpc)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	genesisHash := genesis.Hash

	// Options.ChainID assertion: checked only against the first-ever probe
	// (ident.lastChainID == nil), since a configured expectation describes
	// which chain the operator meant to point this Monitor at, not a value
	// that should be re-asserted on every later CHAIN_ID_CHANGED divergence.
	// A mismatch here is a fatal startup error per spec §6.4.
	if ident.lastChainID == nil && p.expectChainID != nil && *p.expectChainID != chainID {
		return superr.New(ErrFatal, fmt.Errorf(
			"reorgmon: configured chain id %d does not match rpc-reported chain id %d",
			*p.expectChainID, chainID,
		))
	}

	// Steps 3-4: emit on divergence from a previously-recorded value. First
	// observation (lastChainID == nil) is recorded silently per step 5.
	if ident.lastChainID != nil && *ident.lastChainID != chainID {
		if err := p.em.emit(EventChainIDChanged, map[string]any{
			"old_chain_id": *ident.lastChainID,
			"new_chain_id": chainID,
			"severity":     severityCritical,
		}); err != nil {
			return err
		}
	}
	if ident.lastGenesisHash != nil && *ident.lastGenesisHash != genesisHash {
		if err := p.em.emit(EventGenesisChanged, map[string]any{
			"old_genesis_hash": ident.lastGenesisHash.Hex(),
			"new_genesis_hash": genesisHash.Hex(),
			"severity":         severityCritical,
		}); err != nil {
			return err
		}
	}

	// Step 5: update state in all cases.
	ident.lastChainID = &chainID
	ident.lastGenesisHash = &genesisHash

	return nil
}

func breakerChainID(ctx context.Context, rpc RPCClient) (uint64, error) {
	var chainID uint64
	err := breaker.Do(ctx, func() error {
		id, err := rpc.GetChainID(ctx)
		if err != nil {
			return err
		}
		chainID = id
		return nil
	}, nil, breakerBaseDelay, breakerFactor, breakerMaxRetries)
	return chainID, err
}

func breakerGenesisBlock(ctx context.Context, rpc RPCClient) (Block, error) {
	var genesis Block
	err := breaker.Do(ctx, func() error {
		b, err := rpc.GetBlockByNumber(ctx, 0)
		if err != nil {
			return err
		}
		genesis = b
		return nil
	}, nil, breakerBaseDelay, breakerFactor, breakerMaxRetries)
	return genesis, err
}
