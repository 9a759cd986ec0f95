package pipeline

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/goodnatureofminers/blockscan-core/internal/addressfilter"
	"github.com/goodnatureofminers/blockscan-core/internal/model"
)

//go:generate mockgen -source=types.go -destination=mocks_test.go -package=pipeline

// FilterSource obtains one stable AddressFilter snapshot per batch, per
// spec §4.4's "scanner obtains one snapshot per batch" requirement.
type FilterSource interface {
	Snapshot() AddressFilter
}

// Committer persists one batch's aggregated deltas (spec §4.6).
type Committer interface {
	Commit(ctx context.Context, result BatchResult) error
}

// DefaultFilterSource adapts an *addressfilter.Filter to FilterSource.
type DefaultFilterSource struct {
	Filter *addressfilter.Filter
}

// Snapshot returns the filter's current membership snapshot.
func (s DefaultFilterSource) Snapshot() AddressFilter {
	return s.Filter.Snapshot()
}

// allMatchFilter is the AddressFilter Super-mode scanning uses: it matches
// every address, since a Super database indexes the whole chain rather than
// just registered wallets.
type allMatchFilter struct{}

func (allMatchFilter) HasAddress(model.ScriptAddress) bool { return true }

// BatchResult aggregates every shard's Phase A and Phase B output for one
// batch, ready for IndexCommitter.
type BatchResult struct {
	StartHeight uint32
	EndHeight   uint32
	TopHash     chainhash.Hash

	Unspent []model.UnspentOutput
	Spent   []model.SpentOutput
	History map[model.ScriptAddress][]model.HistoryEntry

	// TxHints maps a transaction hash's 4-byte prefix to every IndexKey of
	// an output whose parent transaction's hash begins with that prefix
	// (spec §4.6, TXHINTS).
	TxHints map[[4]byte][]model.IndexKey
}

// phaseBCoordinator publishes the batch-wide merged utxo map built once,
// single-threaded, at the Phase-A barrier (spec §4.5, "merged into a single
// read-only utxoMap at the barrier"), and arbitrates claims against it so
// each matched output is consumed by at most one input.
type phaseBCoordinator struct {
	mu       sync.Mutex
	merged   map[chainhash.Hash]map[uint32]*model.UnspentOutput
	consumed map[chainhash.Hash]map[uint32]bool
}

func newPhaseBCoordinator(shards []*shard) *phaseBCoordinator {
	c := &phaseBCoordinator{
		merged:   make(map[chainhash.Hash]map[uint32]*model.UnspentOutput),
		consumed: make(map[chainhash.Hash]map[uint32]bool),
	}
	for _, sh := range shards {
		for txHash, byIndex := range sh.utxos {
			if c.merged[txHash] == nil {
				c.merged[txHash] = make(map[uint32]*model.UnspentOutput, len(byIndex))
			}
			for idx, uo := range byIndex {
				c.merged[txHash][idx] = uo
			}
		}
	}
	return c
}

// claim atomically tests whether (txHash, index) names a matched, unspent
// output and, if so, marks it spent and returns it. Safe for concurrent use
// by every shard's Phase B goroutine.
func (c *phaseBCoordinator) claim(txHash chainhash.Hash, index uint32) (*model.UnspentOutput, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byIndex, ok := c.merged[txHash]
	if !ok {
		return nil, false
	}
	uo, ok := byIndex[index]
	if !ok {
		return nil, false
	}
	if c.consumed[txHash] != nil && c.consumed[txHash][index] {
		return nil, false
	}
	if c.consumed[txHash] == nil {
		c.consumed[txHash] = make(map[uint32]bool)
	}
	c.consumed[txHash][index] = true
	return uo, true
}

// remainingUnspent returns every merged output never claimed in Phase B:
// these are the batch's genuine UnspentOutput records.
func (c *phaseBCoordinator) remainingUnspent() []model.UnspentOutput {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []model.UnspentOutput
	for txHash, byIndex := range c.merged {
		for idx, uo := range byIndex {
			if c.consumed[txHash] != nil && c.consumed[txHash][idx] {
				continue
			}
			out = append(out, *uo)
		}
	}
	return out
}
