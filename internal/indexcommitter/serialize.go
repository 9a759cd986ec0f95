package indexcommitter

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/goodnatureofminers/blockscan-core/internal/model"
)

const (
	stxoTagUnspent byte = 0x00
	stxoTagSpent   byte = 0x01
)

// encodeUnspent serializes an UnspentOutput as a tagged STXO record.
func encodeUnspent(u model.UnspentOutput) []byte {
	buf := make([]byte, 0, 1+25+8+32+4+len(u.RawOutputBytes))
	buf = append(buf, stxoTagUnspent)
	buf = append(buf, u.ScriptAddress[:]...)
	buf = appendUint64(buf, uint64(u.Value))
	buf = append(buf, u.ParentTxHash[:]...)
	buf = appendUint32(buf, uint32(len(u.RawOutputBytes)))
	buf = append(buf, u.RawOutputBytes...)
	return buf
}

// encodeSpent serializes a SpentOutput as a tagged STXO record.
func encodeSpent(s model.SpentOutput) []byte {
	buf := encodeUnspent(s.UnspentOutput)
	buf[0] = stxoTagSpent
	buf = append(buf, s.SpentByInputKey.Bytes()...)
	return buf
}

// decodeSTXO reverses encodeUnspent/encodeSpent, reporting whether the
// record is spent.
func decodeSTXO(key model.IndexKey, buf []byte) (model.SpentOutput, bool, error) {
	if len(buf) < 1+25+8+32+4 {
		return model.SpentOutput{}, false, fmt.Errorf("indexcommitter: truncated STXO record")
	}
	tag := buf[0]
	pos := 1

	var addr model.ScriptAddress
	copy(addr[:], buf[pos:pos+25])
	pos += 25

	value := int64(binary.BigEndian.Uint64(buf[pos : pos+8]))
	pos += 8

	var parentHash chainhash.Hash
	copy(parentHash[:], buf[pos:pos+32])
	pos += 32

	rawLen := binary.BigEndian.Uint32(buf[pos : pos+4])
	pos += 4
	if pos+int(rawLen) > len(buf) {
		return model.SpentOutput{}, false, fmt.Errorf("indexcommitter: truncated STXO raw bytes")
	}
	raw := make([]byte, rawLen)
	copy(raw, buf[pos:pos+int(rawLen)])
	pos += int(rawLen)

	uo := model.UnspentOutput{
		ScriptAddress:   addr,
		Value:           value,
		ParentTxHash:    parentHash,
		Height:          key.Height,
		DuplicateID:     key.DuplicateID,
		TxIndexInBlock:  key.TxIndex,
		OutputIndexInTx: key.IOIndex,
		RawOutputBytes:  raw,
	}

	if tag == stxoTagUnspent {
		return model.SpentOutput{UnspentOutput: uo}, false, nil
	}

	if pos+model.IndexKeySize > len(buf) {
		return model.SpentOutput{}, false, fmt.Errorf("indexcommitter: truncated STXO spentByInputKey")
	}
	inputKey, err := model.ParseIndexKey(buf[pos : pos+model.IndexKeySize])
	if err != nil {
		return model.SpentOutput{}, false, err
	}
	return model.SpentOutput{UnspentOutput: uo, SpentByInputKey: inputKey}, true, nil
}

// historyGroupKey returns the (addressPrefix, heightDupPrefix) key spec
// §4.6 groups HISTORY entries under.
func historyGroupKey(addr model.ScriptAddress, height uint32, dup uint8) []byte {
	buf := make([]byte, 25+4+1)
	copy(buf[0:25], addr[:])
	binary.BigEndian.PutUint32(buf[25:29], height)
	buf[29] = dup
	return buf
}

// encodeHistoryGroup serializes a group of HistoryEntry records sharing one
// (address, height, duplicateId) key.
func encodeHistoryGroup(entries []model.HistoryEntry) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(len(entries)))
	for _, e := range entries {
		buf = appendUint64(buf, uint64(e.Value))
		buf = append(buf, e.TxOutKey.Bytes()...)
		if e.TxInKey != nil {
			buf = append(buf, 1)
			buf = append(buf, e.TxInKey.Bytes()...)
		} else {
			buf = append(buf, 0)
		}
	}
	return buf
}

// decodeHistoryGroup reverses encodeHistoryGroup.
func decodeHistoryGroup(buf []byte) ([]model.HistoryEntry, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("indexcommitter: truncated HISTORY group")
	}
	count := binary.BigEndian.Uint32(buf[0:4])
	pos := 4
	entries := make([]model.HistoryEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		if pos+8+model.IndexKeySize+1 > len(buf) {
			return nil, fmt.Errorf("indexcommitter: truncated HISTORY entry %d", i)
		}
		value := int64(binary.BigEndian.Uint64(buf[pos : pos+8]))
		pos += 8
		outKey, err := model.ParseIndexKey(buf[pos : pos+model.IndexKeySize])
		if err != nil {
			return nil, err
		}
		pos += model.IndexKeySize
		hasIn := buf[pos] == 1
		pos++
		entry := model.HistoryEntry{Value: value, TxOutKey: outKey}
		if hasIn {
			if pos+model.IndexKeySize > len(buf) {
				return nil, fmt.Errorf("indexcommitter: truncated HISTORY entry %d input key", i)
			}
			inKey, err := model.ParseIndexKey(buf[pos : pos+model.IndexKeySize])
			if err != nil {
				return nil, err
			}
			pos += model.IndexKeySize
			entry.Key = inKey
			entry.TxInKey = &inKey
		} else {
			entry.Key = outKey
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// txHintsKey returns the 4-byte transaction-hash-prefix key TXHINTS is
// keyed by.
func txHintsKey(prefix [4]byte) []byte {
	return prefix[:]
}

// encodeTxHints serializes an ordered list of IndexKeys.
func encodeTxHints(keys []model.IndexKey) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(len(keys)))
	for _, k := range keys {
		buf = append(buf, k.Bytes()...)
	}
	return buf
}

// decodeTxHints reverses encodeTxHints.
func decodeTxHints(buf []byte) ([]model.IndexKey, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("indexcommitter: truncated TXHINTS record")
	}
	count := binary.BigEndian.Uint32(buf[0:4])
	pos := 4
	keys := make([]model.IndexKey, 0, count)
	for i := uint32(0); i < count; i++ {
		if pos+model.IndexKeySize > len(buf) {
			return nil, fmt.Errorf("indexcommitter: truncated TXHINTS entry %d", i)
		}
		k, err := model.ParseIndexKey(buf[pos : pos+model.IndexKeySize])
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
		pos += model.IndexKeySize
	}
	return keys, nil
}

// sshBalance is the aggregated per-address record Full/Super databases
// maintain in the SSH sub-store, grounded on Armory's StoredScriptHistory
// running balance/tx-count summary.
type sshBalance struct {
	Balance int64
	TxCount uint32
}

func encodeSSHBalance(b sshBalance) []byte {
	buf := make([]byte, 0, 12)
	buf = appendUint64(buf, uint64(b.Balance))
	buf = appendUint32(buf, b.TxCount)
	return buf
}

func decodeSSHBalance(buf []byte) (sshBalance, error) {
	if len(buf) != 12 {
		return sshBalance{}, fmt.Errorf("indexcommitter: malformed SSH balance record")
	}
	return sshBalance{
		Balance: int64(binary.BigEndian.Uint64(buf[0:8])),
		TxCount: binary.BigEndian.Uint32(buf[8:12]),
	}, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}
