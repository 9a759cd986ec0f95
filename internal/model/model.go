// Package model defines the data types shared across the block-scanning core.
package model

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// DuplicateIDCanonical is the reserved duplicateId value assigned to the
// canonical sibling at a given height. Non-zero values are reserved for
// stale/competing siblings that reorg logic (out of scope) may later record.
const DuplicateIDCanonical = 0

// IndexKey is the canonical ordered identifier for a transaction input or
// output: height ∥ duplicateId ∥ txIndex ∥ ioIndex.
type IndexKey struct {
	Height      uint32
	DuplicateID uint8
	TxIndex     uint32
	IOIndex     uint32
}

// IndexKeySize is the encoded byte width of an IndexKey.
const IndexKeySize = 4 + 1 + 4 + 4

// Bytes encodes the key big-endian so that byte-lexicographic order matches
// (height, duplicateId, txIndex, ioIndex) tuple order, which every ordered
// key/value store in the persistence layer relies on for range scans.
func (k IndexKey) Bytes() []byte {
	buf := make([]byte, IndexKeySize)
	binary.BigEndian.PutUint32(buf[0:4], k.Height)
	buf[4] = k.DuplicateID
	binary.BigEndian.PutUint32(buf[5:9], k.TxIndex)
	binary.BigEndian.PutUint32(buf[9:13], k.IOIndex)
	return buf
}

// ParseIndexKey decodes a key produced by IndexKey.Bytes.
func ParseIndexKey(b []byte) (IndexKey, error) {
	if len(b) != IndexKeySize {
		return IndexKey{}, fmt.Errorf("index key: want %d bytes, got %d", IndexKeySize, len(b))
	}
	return IndexKey{
		Height:      binary.BigEndian.Uint32(b[0:4]),
		DuplicateID: b[4],
		TxIndex:     binary.BigEndian.Uint32(b[5:9]),
		IOIndex:     binary.BigEndian.Uint32(b[9:13]),
	}, nil
}

func (k IndexKey) String() string {
	return fmt.Sprintf("%d:%d:%d:%d", k.Height, k.DuplicateID, k.TxIndex, k.IOIndex)
}

// Less reports whether k sorts before other in canonical IndexKey order.
func (k IndexKey) Less(other IndexKey) bool {
	if k.Height != other.Height {
		return k.Height < other.Height
	}
	if k.DuplicateID != other.DuplicateID {
		return k.DuplicateID < other.DuplicateID
	}
	if k.TxIndex != other.TxIndex {
		return k.TxIndex < other.TxIndex
	}
	return k.IOIndex < other.IOIndex
}

// BlockHeader is the 80-byte Bitcoin block header plus the chain-position
// bookkeeping the core index needs.
type BlockHeader struct {
	Hash         chainhash.Hash
	Raw          [80]byte
	Height       uint32
	DuplicateID  uint8
	Fnum         uint32
	OffsetInFile uint64
	NumTx        uint32
	PayloadSize  uint32
	PrevHash     chainhash.Hash
	Timestamp    uint32
}

// ByteRange references a (start, length) slice relative to some owning
// buffer, used throughout the light parser so payload bytes are never
// copied until a record must outlive the underlying memory map.
type ByteRange struct {
	Start  int
	Length int
}

// Slice returns the referenced bytes out of payload.
func (r ByteRange) Slice(payload []byte) []byte {
	return payload[r.Start : r.Start+r.Length]
}

// LightInput is an input parsed only for its offsets and the outpoint it
// references, never the redeem script payload.
type LightInput struct {
	PrevTxHash  chainhash.Hash
	PrevIndex   uint32
	Range       ByteRange
	ScriptRange ByteRange
}

// LightOutput is an output parsed only for its offsets; Value is read
// eagerly since it is a fixed-width field with no reason to defer.
type LightOutput struct {
	Value       int64
	Range       ByteRange
	ScriptRange ByteRange
}

// LightTransaction is a transaction parsed only for offsets: the payload
// itself is never copied out of the block's memory-mapped bytes.
type LightTransaction struct {
	Hash          chainhash.Hash
	VersionOffset int
	Inputs        []LightInput
	Outputs       []LightOutput
	LockTimeOffset int
	Range         ByteRange
}

// ScriptAddress is a fixed-length opaque byte string derived from an output
// script. The scanner never interprets its contents.
type ScriptAddress [25]byte

func (a ScriptAddress) String() string {
	return fmt.Sprintf("%x", a[:])
}

// UnspentOutput is a matched output that has not (yet, within the batch that
// produced it) been consumed by a subsequent input.
type UnspentOutput struct {
	ScriptAddress   ScriptAddress
	Value           int64
	ParentTxHash    chainhash.Hash
	Height          uint32
	DuplicateID     uint8
	TxIndexInBlock  uint32
	OutputIndexInTx uint32
	RawOutputBytes  []byte
}

// Key returns the canonical IndexKey identifying this output.
func (u UnspentOutput) Key() IndexKey {
	return IndexKey{Height: u.Height, DuplicateID: u.DuplicateID, TxIndex: u.TxIndexInBlock, IOIndex: u.OutputIndexInTx}
}

// SpentOutput augments an UnspentOutput with the input that consumed it.
type SpentOutput struct {
	UnspentOutput
	SpentByInputKey IndexKey
}

// HistoryEntry is one per-address history record: an index key plus the
// value moved and, for the debit side, the input key that consumed it.
type HistoryEntry struct {
	Key     IndexKey
	Value   int64
	TxOutKey IndexKey
	TxInKey  *IndexKey
}

// TopScannedHash is the persisted sentinel marking the highest height whose
// index deltas have been durably committed.
type TopScannedHash struct {
	Height uint32
	Hash   chainhash.Hash
}
