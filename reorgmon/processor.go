package reorgmon

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// blockProcessor implements C5: fetch one height, compare it against the
// cache, and emit whichever of the three detection rules apply. Rules 1-3
// are independent checks (not an if/else-if chain) per spec §4.5: rule 1 and
// rule 2 can both fire for the same fetch, and rule 3 runs regardless of
// whether rule 1 fired.
type blockProcessor struct {
	rpc   RPCClient
	cache *blockCache
	em    *emitter
	stats *hourlyStats
}

func newBlockProcessor(rpc RPCClient, cache *blockCache, em *emitter, stats *hourlyStats) *blockProcessor {
	return &blockProcessor{rpc: rpc, cache: cache, em: em, stats: stats}
}

// process fetches height h and runs the detection rules against it. A fetch
// failure is returned unchanged and mutates no state, per spec §4.5's
// "action: fetch block at h ... Let fp_new be its fingerprint" being the
// only RPC step — callers decide whether the failure is fatal (forward
// sync) or tolerable (deep recheck). blocks_processed is incremented once
// the fetch succeeds, including when rules 1-3 all turn out to be no-ops
// (spec §4.7: "processed" means "fetched and compared").
func (p *blockProcessor) process(ctx context.Context, h uint64) error {
	b, err := p.rpc.GetBlockByNumber(ctx, h)
	if err != nil {
		return err
	}
	fpNew := fingerprintOf(b)
	p.stats.incBlocksProcessed()

	oldAtH, hadH := p.cache.get(h)

	// Rule 1: same-height divergence.
	if hadH && oldAtH.Hash != fpNew.Hash {
		dropped, added := txDiff(oldAtH.TxHashes, fpNew.TxHashes)
		p.stats.incBlocksReplaced()
		if err := p.em.emit(EventBlockReplaced, map[string]any{
			"height":         h,
			"old_hash":       oldAtH.Hash.Hex(),
			"new_hash":       fpNew.Hash.Hex(),
			"old_state_root": hashPtrString(oldAtH.StateRoot),
			"new_state_root": hashPtrString(fpNew.StateRoot),
			"tx_diff": map[string]any{
				"dropped": hexAll(dropped),
				"added":   hexAll(added),
			},
			"severity": severityCritical,
		}); err != nil {
			return err
		}
	}

	// Rule 2: parent-hash discontinuity.
	if h > 0 {
		if parentFp, hadParent := p.cache.get(h - 1); hadParent && parentFp.Hash != fpNew.ParentHash {
			p.stats.incReorgsDetected()
			if err := p.em.emit(EventParentHashMismatch, map[string]any{
				"at_height":       h,
				"expected_parent": parentFp.Hash.Hex(),
				"actual_parent":   fpNew.ParentHash.Hex(),
				"severity":        severityCritical,
			}); err != nil {
				return err
			}
		}
	}

	// Rule 3: new or changed entry.
	if !hadH || oldAtH.Hash != fpNew.Hash {
		payload := map[string]any{
			"height":       h,
			"hash":         fpNew.Hash.Hex(),
			"parent_hash":  fpNew.ParentHash.Hex(),
			"state_root":   hashPtrString(fpNew.StateRoot),
			"gas_used":     gasUsedOf(b),
			"tx_count":     len(b.Transactions),
			"transactions": txRefsToPayload(b.Transactions),
		}
		if b.BaseFeePerGas != nil {
			payload["base_fee"] = b.BaseFeePerGas.String()
		}
		if err := p.em.emit(EventBlockReceived, payload); err != nil {
			return err
		}
		p.cache.put(h, fpNew)
	}

	return nil
}

// gasUsedOf returns the block's reported gas_used, or 0 if the chain didn't
// report one (spec §6.3 lists gas_used as required in BLOCK_RECEIVED, unlike
// the optional base_fee).
func gasUsedOf(b Block) uint64 {
	if b.GasUsed == nil {
		return 0
	}
	return *b.GasUsed
}

// txRefsToPayload renders a block's transactions in the ordered,
// hash-per-entry shape spec §6.3's `transactions[]` field documents.
func txRefsToPayload(txs []TxRef) []map[string]any {
	out := make([]map[string]any, len(txs))
	for i, tx := range txs {
		out[i] = map[string]any{"hash": tx.Hash.Hex()}
	}
	return out
}

// txDiff computes the two one-sided multiset differences spec §4.5 rule 1
// requires: hashes present in old but not new ("dropped") and vice versa
// ("added"), each preserving its own side's order and preserving duplicate
// occurrences — a true set (e.g. deckarep/golang-set) would collapse
// duplicate tx hashes within one block and silently under-report a
// replacement that duplicated a transaction, so this counts occurrences by
// hash instead.
func txDiff(oldHashes, newHashes []common.Hash) (dropped, added []common.Hash) {
	oldCount := make(map[common.Hash]int, len(oldHashes))
	for _, h := range oldHashes {
		oldCount[h]++
	}
	newCount := make(map[common.Hash]int, len(newHashes))
	for _, h := range newHashes {
		newCount[h]++
	}

	for _, h := range oldHashes {
		if newCount[h] > 0 {
			newCount[h]--
			continue
		}
		dropped = append(dropped, h)
	}
	for _, h := range newHashes {
		if oldCount[h] > 0 {
			oldCount[h]--
			continue
		}
		added = append(added, h)
	}
	return dropped, added
}

func hexAll(hashes []common.Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.Hex()
	}
	return out
}
