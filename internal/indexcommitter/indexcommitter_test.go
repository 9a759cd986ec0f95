package indexcommitter

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/goodnatureofminers/blockscan-core/internal/kvstore"
	"github.com/goodnatureofminers/blockscan-core/internal/kvstore/boltstore"
	"github.com/goodnatureofminers/blockscan-core/internal/metrics"
	"github.com/goodnatureofminers/blockscan-core/internal/model"
	"github.com/goodnatureofminers/blockscan-core/internal/pipeline"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testCommitter(t *testing.T, dbType kvstore.DBType) (*Committer, kvstore.Store) {
	t.Helper()
	kv, err := boltstore.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return New(kv, dbType, zaptest.NewLogger(t), metrics.NewCommitter()), kv
}

func addrOf(b byte) model.ScriptAddress {
	var a model.ScriptAddress
	a[0] = b
	return a
}

func TestCommitWritesUnspentAndSentinel(t *testing.T) {
	c, kv := testCommitter(t, kvstore.Bare)
	ctx := context.Background()

	addr := addrOf(1)
	uo := model.UnspentOutput{
		ScriptAddress:   addr,
		Value:           1234,
		Height:          10,
		DuplicateID:     model.DuplicateIDCanonical,
		TxIndexInBlock:  0,
		OutputIndexInTx: 0,
		RawOutputBytes:  []byte{0xAB},
	}
	top := chainhash.HashH([]byte("top"))
	result := pipeline.BatchResult{
		StartHeight: 10,
		EndHeight:   10,
		TopHash:     top,
		Unspent:     []model.UnspentOutput{uo},
		History: map[model.ScriptAddress][]model.HistoryEntry{
			addr: {{Key: uo.Key(), Value: 1234, TxOutKey: uo.Key()}},
		},
		TxHints: map[[4]byte][]model.IndexKey{},
	}

	require.NoError(t, c.Commit(ctx, result))

	tx, err := kv.Begin(ctx, kvstore.ReadOnly)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	raw, err := tx.Get(kvstore.STXO, uo.Key().Bytes())
	require.NoError(t, err)
	spent, isSpent, err := decodeSTXO(uo.Key(), raw)
	require.NoError(t, err)
	require.False(t, isSpent)
	require.Equal(t, uo.Value, spent.Value)
	require.Equal(t, uo.ScriptAddress, spent.ScriptAddress)

	last, ok, err := c.LastCommitted(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(10), last.Height)
	require.Equal(t, top, last.Hash)
}

func TestCommitSpentOverwritesUnspentSameBatch(t *testing.T) {
	c, kv := testCommitter(t, kvstore.Bare)
	ctx := context.Background()

	addr := addrOf(2)
	uo := model.UnspentOutput{ScriptAddress: addr, Value: 500, Height: 1, TxIndexInBlock: 0, OutputIndexInTx: 0}
	spent := model.SpentOutput{UnspentOutput: uo, SpentByInputKey: model.IndexKey{Height: 2, TxIndex: 1, IOIndex: 0}}

	result := pipeline.BatchResult{
		StartHeight: 1,
		EndHeight:   2,
		Unspent:     []model.UnspentOutput{uo},
		Spent:       []model.SpentOutput{spent},
		History:     map[model.ScriptAddress][]model.HistoryEntry{},
		TxHints:     map[[4]byte][]model.IndexKey{},
	}
	require.NoError(t, c.Commit(ctx, result))

	tx, err := kv.Begin(ctx, kvstore.ReadOnly)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	raw, err := tx.Get(kvstore.STXO, uo.Key().Bytes())
	require.NoError(t, err)
	got, isSpent, err := decodeSTXO(uo.Key(), raw)
	require.NoError(t, err)
	require.True(t, isSpent)
	require.Equal(t, spent.SpentByInputKey, got.SpentByInputKey)
}

func TestCommitHistoryMergesAcrossBatches(t *testing.T) {
	c, _ := testCommitter(t, kvstore.Bare)
	ctx := context.Background()
	addr := addrOf(3)

	k1 := model.IndexKey{Height: 1, TxIndex: 0, IOIndex: 0}
	k2 := model.IndexKey{Height: 1, TxIndex: 1, IOIndex: 0}

	r1 := pipeline.BatchResult{
		EndHeight: 1,
		History:   map[model.ScriptAddress][]model.HistoryEntry{addr: {{Key: k1, Value: 10, TxOutKey: k1}}},
		TxHints:   map[[4]byte][]model.IndexKey{},
	}
	require.NoError(t, c.Commit(ctx, r1))

	r2 := pipeline.BatchResult{
		EndHeight: 1,
		History:   map[model.ScriptAddress][]model.HistoryEntry{addr: {{Key: k2, Value: 20, TxOutKey: k2}}},
		TxHints:   map[[4]byte][]model.IndexKey{},
	}
	require.NoError(t, c.Commit(ctx, r2))

	gk := historyGroupKey(addr, 1, model.DuplicateIDCanonical)
	tx, err := c.kv.Begin(ctx, kvstore.ReadOnly)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	raw, err := tx.Get(kvstore.HISTORY, gk)
	require.NoError(t, err)
	entries, err := decodeHistoryGroup(raw)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestCommitIdempotentOnRepeatedBatch(t *testing.T) {
	c, _ := testCommitter(t, kvstore.Full)
	ctx := context.Background()
	addr := addrOf(6)

	var prefix [4]byte
	copy(prefix[:], []byte{0xAA, 0xBB, 0xCC, 0xDD})
	k1 := model.IndexKey{Height: 1, TxIndex: 0, IOIndex: 0}

	result := pipeline.BatchResult{
		EndHeight: 1,
		History:   map[model.ScriptAddress][]model.HistoryEntry{addr: {{Key: k1, Value: 500, TxOutKey: k1}}},
		TxHints:   map[[4]byte][]model.IndexKey{prefix: {k1}},
	}

	require.NoError(t, c.Commit(ctx, result))
	require.NoError(t, c.Commit(ctx, result))

	gk := historyGroupKey(addr, 1, model.DuplicateIDCanonical)
	tx, err := c.kv.Begin(ctx, kvstore.ReadOnly)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	histRaw, err := tx.Get(kvstore.HISTORY, gk)
	require.NoError(t, err)
	entries, err := decodeHistoryGroup(histRaw)
	require.NoError(t, err)
	require.Len(t, entries, 1, "re-committing the same batch must not duplicate the HISTORY entry")
	require.Equal(t, int64(500), entries[0].Value)

	hintsRaw, err := tx.Get(kvstore.TXHINTS, txHintsKey(prefix))
	require.NoError(t, err)
	keys, err := decodeTxHints(hintsRaw)
	require.NoError(t, err)
	require.Equal(t, []model.IndexKey{k1}, keys, "re-committing the same batch must not duplicate the TXHINTS key")

	sshRaw, err := tx.Get(kvstore.SSH, addr[:])
	require.NoError(t, err)
	bal, err := decodeSSHBalance(sshRaw)
	require.NoError(t, err)
	require.Equal(t, int64(500), bal.Balance, "re-committing the same batch must not double-count the SSH balance")
	require.Equal(t, uint32(1), bal.TxCount, "re-committing the same batch must not double-count the SSH tx count")
}

func TestCommitTxHintsMergeByPrefix(t *testing.T) {
	c, _ := testCommitter(t, kvstore.Bare)
	ctx := context.Background()

	var prefix [4]byte
	copy(prefix[:], []byte{0x01, 0x02, 0x03, 0x04})
	k1 := model.IndexKey{Height: 1, TxIndex: 0, IOIndex: 0}

	result := pipeline.BatchResult{
		EndHeight: 1,
		History:   map[model.ScriptAddress][]model.HistoryEntry{},
		TxHints:   map[[4]byte][]model.IndexKey{prefix: {k1}},
	}
	require.NoError(t, c.Commit(ctx, result))

	tx, err := c.kv.Begin(ctx, kvstore.ReadOnly)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	raw, err := tx.Get(kvstore.TXHINTS, txHintsKey(prefix))
	require.NoError(t, err)
	keys, err := decodeTxHints(raw)
	require.NoError(t, err)
	require.Equal(t, []model.IndexKey{k1}, keys)
}

func TestCommitWritesSSHForFullDBType(t *testing.T) {
	c, _ := testCommitter(t, kvstore.Full)
	ctx := context.Background()
	addr := addrOf(4)
	k1 := model.IndexKey{Height: 1, TxIndex: 0, IOIndex: 0}

	result := pipeline.BatchResult{
		EndHeight: 1,
		History:   map[model.ScriptAddress][]model.HistoryEntry{addr: {{Key: k1, Value: 100, TxOutKey: k1}}},
		TxHints:   map[[4]byte][]model.IndexKey{},
	}
	require.NoError(t, c.Commit(ctx, result))

	tx, err := c.kv.Begin(ctx, kvstore.ReadOnly)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	raw, err := tx.Get(kvstore.SSH, addr[:])
	require.NoError(t, err)
	bal, err := decodeSSHBalance(raw)
	require.NoError(t, err)
	require.Equal(t, int64(100), bal.Balance)
	require.Equal(t, uint32(1), bal.TxCount)
}

func TestCommitBareDBTypeSkipsSSH(t *testing.T) {
	c, _ := testCommitter(t, kvstore.Bare)
	ctx := context.Background()
	addr := addrOf(5)
	k1 := model.IndexKey{Height: 1, TxIndex: 0, IOIndex: 0}

	result := pipeline.BatchResult{
		EndHeight: 1,
		History:   map[model.ScriptAddress][]model.HistoryEntry{addr: {{Key: k1, Value: 100, TxOutKey: k1}}},
		TxHints:   map[[4]byte][]model.IndexKey{},
	}
	require.NoError(t, c.Commit(ctx, result))

	tx, err := c.kv.Begin(ctx, kvstore.ReadOnly)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Get(kvstore.SSH, addr[:])
	require.ErrorIs(t, err, kvstore.ErrNotFound)
}

func TestLastCommittedNoneYet(t *testing.T) {
	c, _ := testCommitter(t, kvstore.Bare)
	_, ok, err := c.LastCommitted(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}
