// Package indexcommitter implements IndexCommitter (spec §4.6): the single
// writer that serializes one ScanPipeline batch's deltas into the STXO,
// HISTORY, and TXHINTS sub-stores in the crash-safe order the spec
// mandates, finishing with the TopScannedHash sentinel inside HISTORY's
// metadata record.
package indexcommitter

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/goodnatureofminers/blockscan-core/internal/kvstore"
	"github.com/goodnatureofminers/blockscan-core/internal/metrics"
	"github.com/goodnatureofminers/blockscan-core/internal/model"
	"github.com/goodnatureofminers/blockscan-core/internal/pipeline"
	"go.uber.org/zap"
)

// Committer is the default IndexCommitter, writing against a kvstore.Store.
type Committer struct {
	kv      kvstore.Store
	dbType  kvstore.DBType
	logger  *zap.Logger
	metrics *metrics.Committer
}

// New constructs a Committer over kv. dbType selects whether SSH aggregated
// balances are maintained alongside STXO/HISTORY (spec §6, dbType option).
func New(kv kvstore.Store, dbType kvstore.DBType, logger *zap.Logger, m *metrics.Committer) *Committer {
	return &Committer{kv: kv, dbType: dbType, logger: logger, metrics: m}
}

var _ pipeline.Committer = (*Committer)(nil)

// Commit writes one batch's aggregated deltas in the order spec §4.6
// requires: STXO, then HISTORY and TXHINTS, then the TopScannedHash
// sentinel inside HISTORY's metadata record. A crash before the sentinel
// write leaves the batch fully re-scannable, since every record is keyed by
// its canonical IndexKey and re-writing is idempotent.
func (c *Committer) Commit(ctx context.Context, result pipeline.BatchResult) error {
	if err := c.commitSTXO(ctx, result); err != nil {
		return fmt.Errorf("indexcommitter: STXO: %w", err)
	}
	if err := c.commitHistoryAndHints(ctx, result); err != nil {
		return fmt.Errorf("indexcommitter: HISTORY/TXHINTS: %w", err)
	}
	c.metrics.SetTopScannedHeight(result.EndHeight)
	return nil
}

func (c *Committer) commitSTXO(ctx context.Context, result pipeline.BatchResult) error {
	started := time.Now()

	// Spent records must overwrite unspent records written earlier in the
	// same batch for the same key (spec §4.6): build the pre-commit map with
	// unspent entries first, then let spent entries replace them.
	pre := make(map[model.IndexKey][]byte, len(result.Unspent)+len(result.Spent))
	for _, u := range result.Unspent {
		pre[u.Key()] = encodeUnspent(u)
	}
	for _, s := range result.Spent {
		pre[s.Key()] = encodeSpent(s)
	}

	tx, err := c.kv.Begin(ctx, kvstore.ReadWrite)
	if err != nil {
		c.metrics.ObserveWrite("STXO", err, started)
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for key, value := range pre {
		if err := tx.Put(kvstore.STXO, key.Bytes(), value); err != nil {
			c.metrics.ObserveWrite("STXO", err, started)
			return err
		}
	}

	err = tx.Commit()
	c.metrics.ObserveWrite("STXO", err, started)
	return err
}

func (c *Committer) commitHistoryAndHints(ctx context.Context, result pipeline.BatchResult) error {
	started := time.Now()

	tx, err := c.kv.Begin(ctx, kvstore.ReadWrite)
	if err != nil {
		c.metrics.ObserveWrite("HISTORY", err, started)
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// HISTORY and TXHINTS write disjoint keyspaces within the sub-store
	// abstraction; spec §4.6 calls them "in parallel" writes. The
	// kvstore.Tx contract is single-threaded per transaction (spec §5,
	// Locking discipline), so here they run as two sequential passes inside
	// one transaction rather than as concurrent goroutines sharing it.
	//
	// writeHistory reports, per address, only the entries that were not
	// already present under their group key so writeSSH can fold them into
	// the running balance without double-counting a re-committed batch.
	newlyAdded, err := c.writeHistory(tx, result)
	if err != nil {
		c.metrics.ObserveWrite("HISTORY", err, started)
		return err
	}
	if err := c.writeTxHints(tx, result); err != nil {
		c.metrics.ObserveWrite("TXHINTS", err, started)
		return err
	}
	if c.dbType != kvstore.Bare {
		if err := c.writeSSH(tx, newlyAdded); err != nil {
			c.metrics.ObserveWrite("SSH", err, started)
			return err
		}
	}

	sentinel := model.TopScannedHash{Height: result.EndHeight, Hash: result.TopHash}
	if err := tx.PutMeta(kvstore.HISTORY, encodeSentinel(sentinel)); err != nil {
		c.metrics.ObserveWrite("HISTORY", err, started)
		return err
	}

	err = tx.Commit()
	c.metrics.ObserveWrite("HISTORY", err, started)
	c.metrics.ObserveWrite("TXHINTS", err, started)
	return err
}

// writeHistory merges result.History into each (address, height, duplicateId)
// group's stored record, deduplicating by HistoryEntry.Key so that
// re-committing an already-written batch leaves the record unchanged (spec
// §8's byte-identical-on-rescan property) instead of appending a second
// copy of every entry. It returns, per address, only the entries that were
// genuinely new to their group, for writeSSH to fold into the running
// balance without double-counting.
func (c *Committer) writeHistory(tx kvstore.Tx, result pipeline.BatchResult) (map[model.ScriptAddress][]model.HistoryEntry, error) {
	type group struct {
		addr    model.ScriptAddress
		key     []byte
		entries []model.HistoryEntry
	}
	groups := make(map[string]*group)
	order := make([]string, 0, len(result.History))
	for addr, entries := range result.History {
		for _, e := range entries {
			gk := historyGroupKey(addr, e.Key.Height, e.Key.DuplicateID)
			gs := string(gk)
			g, ok := groups[gs]
			if !ok {
				g = &group{addr: addr, key: gk}
				groups[gs] = g
				order = append(order, gs)
			}
			g.entries = append(g.entries, e)
		}
	}
	sort.Strings(order)

	newlyAdded := make(map[model.ScriptAddress][]model.HistoryEntry)
	for _, gs := range order {
		g := groups[gs]
		existing, err := tx.Get(kvstore.HISTORY, g.key)
		if err != nil && err != kvstore.ErrNotFound {
			return nil, err
		}
		var prior []model.HistoryEntry
		if err == nil {
			prior, err = decodeHistoryGroup(existing)
			if err != nil {
				return nil, err
			}
		}

		byKey := make(map[model.IndexKey]model.HistoryEntry, len(prior)+len(g.entries))
		for _, e := range prior {
			byKey[e.Key] = e
		}
		for _, e := range g.entries {
			if _, seen := byKey[e.Key]; !seen {
				newlyAdded[g.addr] = append(newlyAdded[g.addr], e)
			}
			byKey[e.Key] = e
		}

		merged := make([]model.HistoryEntry, 0, len(byKey))
		for _, e := range byKey {
			merged = append(merged, e)
		}
		sort.Slice(merged, func(i, j int) bool { return merged[i].Key.Less(merged[j].Key) })

		if err := tx.Put(kvstore.HISTORY, g.key, encodeHistoryGroup(merged)); err != nil {
			return nil, err
		}
	}
	return newlyAdded, nil
}

// writeTxHints merges result.TxHints into each prefix's stored key list,
// deduplicating by IndexKey so a re-committed batch doesn't append a second
// copy of every hint.
func (c *Committer) writeTxHints(tx kvstore.Tx, result pipeline.BatchResult) error {
	prefixes := make([][4]byte, 0, len(result.TxHints))
	for prefix := range result.TxHints {
		prefixes = append(prefixes, prefix)
	}
	sort.Slice(prefixes, func(i, j int) bool { return string(prefixes[i][:]) < string(prefixes[j][:]) })

	for _, prefix := range prefixes {
		newKeys := result.TxHints[prefix]
		key := txHintsKey(prefix)

		existing, err := tx.Get(kvstore.TXHINTS, key)
		if err != nil && err != kvstore.ErrNotFound {
			return err
		}
		var prior []model.IndexKey
		if err == nil {
			prior, err = decodeTxHints(existing)
			if err != nil {
				return err
			}
		}

		seen := make(map[model.IndexKey]struct{}, len(prior)+len(newKeys))
		merged := make([]model.IndexKey, 0, len(prior)+len(newKeys))
		for _, k := range prior {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				merged = append(merged, k)
			}
		}
		for _, k := range newKeys {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				merged = append(merged, k)
			}
		}
		sort.Slice(merged, func(i, j int) bool { return merged[i].Less(merged[j]) })

		if err := tx.Put(kvstore.TXHINTS, key, encodeTxHints(merged)); err != nil {
			return err
		}
	}
	return nil
}

// LastCommitted returns the most recently persisted TopScannedHash
// sentinel, the resume point a Normal-mode startup scans forward from.
func (c *Committer) LastCommitted(ctx context.Context) (model.TopScannedHash, bool, error) {
	tx, err := c.kv.Begin(ctx, kvstore.ReadOnly)
	if err != nil {
		return model.TopScannedHash{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	buf, err := tx.GetMeta(kvstore.HISTORY)
	if err == kvstore.ErrNotFound {
		return model.TopScannedHash{}, false, nil
	}
	if err != nil {
		return model.TopScannedHash{}, false, err
	}
	sentinel, err := decodeSentinel(buf)
	return sentinel, true, err
}

// writeSSH maintains the aggregated running balance/tx-count record per
// address in the SSH sub-store for Full and Super databases (spec §6,
// dbType option). It takes only the entries writeHistory found to be
// genuinely new, so re-committing an already-written batch leaves the
// balance and tx count unchanged instead of accumulating a second time.
func (c *Committer) writeSSH(tx kvstore.Tx, newlyAdded map[model.ScriptAddress][]model.HistoryEntry) error {
	for addr, entries := range newlyAdded {
		if len(entries) == 0 {
			continue
		}
		key := addr[:]
		existing, err := tx.Get(kvstore.SSH, key)
		if err != nil && err != kvstore.ErrNotFound {
			return err
		}
		bal := sshBalance{}
		if err == nil {
			bal, err = decodeSSHBalance(existing)
			if err != nil {
				return err
			}
		}
		for _, e := range entries {
			bal.Balance += e.Value
			bal.TxCount++
		}
		if err := tx.Put(kvstore.SSH, key, encodeSSHBalance(bal)); err != nil {
			return err
		}
	}
	return nil
}

func encodeSentinel(t model.TopScannedHash) []byte {
	buf := make([]byte, 4+32)
	appendUint32Into(buf[0:4], t.Height)
	copy(buf[4:], t.Hash[:])
	return buf
}

func appendUint32Into(buf []byte, v uint32) {
	buf[0] = byte(v >> 24)
	buf[1] = byte(v >> 16)
	buf[2] = byte(v >> 8)
	buf[3] = byte(v)
}

func decodeSentinel(buf []byte) (model.TopScannedHash, error) {
	if len(buf) != 4+32 {
		return model.TopScannedHash{}, fmt.Errorf("indexcommitter: malformed sentinel record")
	}
	height := uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	var hash [32]byte
	copy(hash[:], buf[4:])
	return model.TopScannedHash{Height: height, Hash: hash}, nil
}
