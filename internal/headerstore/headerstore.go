// Package headerstore is the header database HeaderReconciler consults: it
// already lists every header the system knows about, keyed by hash, plus a
// canonical height index and the current chain top. It is a thin
// domain-specific layer over the BLKDATA sub-store of internal/kvstore.
package headerstore

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/goodnatureofminers/blockscan-core/internal/kvstore"
	"github.com/goodnatureofminers/blockscan-core/internal/model"
)

const (
	prefixHeader   = 'H' // H ∥ hash(32)              -> serialized header
	prefixCanon    = 'C' // C ∥ height(4)              -> canonical hash(32)
	metaChainTop   = "chaintop"
)

// Store reads and writes header records against a kvstore.Store's BLKDATA
// sub-store.
type Store struct {
	kv kvstore.Store
}

// New wraps kv as a header database.
func New(kv kvstore.Store) *Store {
	return &Store{kv: kv}
}

func headerKey(hash chainhash.Hash) []byte {
	k := make([]byte, 1+chainhash.HashSize)
	k[0] = prefixHeader
	copy(k[1:], hash[:])
	return k
}

func canonKey(height uint32) []byte {
	k := make([]byte, 5)
	k[0] = prefixCanon
	binary.BigEndian.PutUint32(k[1:], height)
	return k
}

func encodeHeader(h model.BlockHeader) []byte {
	buf := make([]byte, 80+4+1+4+8+4+4)
	copy(buf[0:80], h.Raw[:])
	off := 80
	binary.BigEndian.PutUint32(buf[off:], h.Height)
	off += 4
	buf[off] = h.DuplicateID
	off++
	binary.BigEndian.PutUint32(buf[off:], h.Fnum)
	off += 4
	binary.BigEndian.PutUint64(buf[off:], h.OffsetInFile)
	off += 8
	binary.BigEndian.PutUint32(buf[off:], h.NumTx)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], h.PayloadSize)
	return buf
}

func decodeHeader(hash chainhash.Hash, buf []byte) (model.BlockHeader, error) {
	want := 80 + 4 + 1 + 4 + 8 + 4 + 4
	if len(buf) != want {
		return model.BlockHeader{}, fmt.Errorf("headerstore: header record want %d bytes, got %d", want, len(buf))
	}
	h := model.BlockHeader{Hash: hash}
	copy(h.Raw[:], buf[0:80])
	off := 80
	h.Height = binary.BigEndian.Uint32(buf[off:])
	off += 4
	h.DuplicateID = buf[off]
	off++
	h.Fnum = binary.BigEndian.Uint32(buf[off:])
	off += 4
	h.OffsetInFile = binary.BigEndian.Uint64(buf[off:])
	off += 8
	h.NumTx = binary.BigEndian.Uint32(buf[off:])
	off += 4
	h.PayloadSize = binary.BigEndian.Uint32(buf[off:])
	copy(h.PrevHash[:], h.Raw[4:36])
	h.Timestamp = binary.LittleEndian.Uint32(h.Raw[68:72])
	return h, nil
}

// Has reports whether hash is already recorded in the header database.
func (s *Store) Has(ctx context.Context, hash chainhash.Hash) (bool, error) {
	tx, err := s.kv.Begin(ctx, kvstore.ReadOnly)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Get(kvstore.BLKDATA, headerKey(hash))
	if err == kvstore.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Put stamps a header with its (fnum, offset) in the database, and updates
// the canonical height index if this is the canonical sibling.
func (s *Store) Put(ctx context.Context, h model.BlockHeader) error {
	tx, err := s.kv.Begin(ctx, kvstore.ReadWrite)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.Put(kvstore.BLKDATA, headerKey(h.Hash), encodeHeader(h)); err != nil {
		return err
	}
	if h.DuplicateID == model.DuplicateIDCanonical {
		if err := tx.Put(kvstore.BLKDATA, canonKey(h.Height), h.Hash[:]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Get returns the header recorded for hash, if any.
func (s *Store) Get(ctx context.Context, hash chainhash.Hash) (model.BlockHeader, bool, error) {
	tx, err := s.kv.Begin(ctx, kvstore.ReadOnly)
	if err != nil {
		return model.BlockHeader{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	buf, err := tx.Get(kvstore.BLKDATA, headerKey(hash))
	if err == kvstore.ErrNotFound {
		return model.BlockHeader{}, false, nil
	}
	if err != nil {
		return model.BlockHeader{}, false, err
	}
	h, err := decodeHeader(hash, buf)
	return h, true, err
}

// CanonicalHashAtHeight returns the canonical hash recorded at height.
func (s *Store) CanonicalHashAtHeight(ctx context.Context, height uint32) (chainhash.Hash, bool, error) {
	tx, err := s.kv.Begin(ctx, kvstore.ReadOnly)
	if err != nil {
		return chainhash.Hash{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	buf, err := tx.Get(kvstore.BLKDATA, canonKey(height))
	if err == kvstore.ErrNotFound {
		return chainhash.Hash{}, false, nil
	}
	if err != nil {
		return chainhash.Hash{}, false, err
	}
	var hash chainhash.Hash
	copy(hash[:], buf)
	return hash, true, nil
}

// HeaderAtHeight resolves the canonical header recorded at height.
func (s *Store) HeaderAtHeight(ctx context.Context, height uint32) (model.BlockHeader, bool, error) {
	hash, ok, err := s.CanonicalHashAtHeight(ctx, height)
	if err != nil || !ok {
		return model.BlockHeader{}, ok, err
	}
	return s.Get(ctx, hash)
}

// ChainTopHeight resolves the height of the node's current chain tip.
func (s *Store) ChainTopHeight(ctx context.Context) (uint32, bool, error) {
	hash, ok, err := s.ChainTop(ctx)
	if err != nil || !ok {
		return 0, ok, err
	}
	h, ok, err := s.Get(ctx, hash)
	if err != nil || !ok {
		return 0, ok, err
	}
	return h.Height, true, nil
}

// ChainTop returns the hash of the node's current chain tip, as last
// advanced by the reconciler's forward population pass. It is the hash the
// reconciler must locate somewhere in the block files on its next run.
func (s *Store) ChainTop(ctx context.Context) (chainhash.Hash, bool, error) {
	tx, err := s.kv.Begin(ctx, kvstore.ReadOnly)
	if err != nil {
		return chainhash.Hash{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	buf, err := tx.Get(kvstore.BLKDATA, []byte(metaChainTop))
	if err == kvstore.ErrNotFound {
		return chainhash.Hash{}, false, nil
	}
	if err != nil {
		return chainhash.Hash{}, false, err
	}
	var hash chainhash.Hash
	copy(hash[:], buf)
	return hash, true, nil
}

// SetChainTop records the node's current chain tip hash.
func (s *Store) SetChainTop(ctx context.Context, hash chainhash.Hash) error {
	tx, err := s.kv.Begin(ctx, kvstore.ReadWrite)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.Put(kvstore.BLKDATA, []byte(metaChainTop), hash[:]); err != nil {
		return err
	}
	return tx.Commit()
}
