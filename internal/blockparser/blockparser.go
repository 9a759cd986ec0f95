// Package blockparser implements the container framing scan, header parse,
// and light transaction parse of spec §4.2: it never copies transaction
// payload bytes, only records offsets into the caller-owned buffer.
package blockparser

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/goodnatureofminers/blockscan-core/internal/model"
	"github.com/goodnatureofminers/blockscan-core/internal/scanerrors"
	"go.uber.org/zap"
)

// ErrEndOfFile names the end-of-file condition. ScanFrames does not return
// it: when fewer than 8 bytes remain (or the declared length would exceed
// the buffer), ScanFrames stops and returns nil.
var ErrEndOfFile = errors.New("blockparser: end of file")

const frameHeaderSize = 8 // 4-byte magic + 4-byte little-endian length

// Frame is one framed block located inside a file's byte range.
type Frame struct {
	Offset  int // offset of the magic tag, relative to the file
	Payload []byte
}

// ScanFrames walks data looking for magic-tagged, length-prefixed frames,
// invoking yield for each one found. If a tag mismatches, it performs a
// forward byte-by-byte search for the next occurrence of magic and logs the
// recovered offset, per spec §3's FramedBlock resync behavior.
func ScanFrames(logger *zap.Logger, data []byte, magic [4]byte, fnum uint32, yield func(Frame) error) error {
	pos := 0
	for {
		if pos+frameHeaderSize > len(data) {
			return nil
		}
		if !matchMagic(data, pos, magic) {
			next := findMagic(data, pos+1, magic)
			if next < 0 {
				return nil
			}
			logger.Warn("blockparser: resynced past corrupted magic",
				zap.Uint32("fnum", fnum), zap.Int("garbage_start", pos), zap.Int("recovered_at", next))
			pos = next
			continue
		}

		length := le32(data[pos+4 : pos+8])
		payloadStart := pos + frameHeaderSize
		payloadEnd := payloadStart + int(length)
		if payloadEnd > len(data) {
			// Truncated trailing block: not fatal, simply stop here; a
			// rescan picks it up once the file is complete.
			return nil
		}

		if err := yield(Frame{Offset: pos, Payload: data[payloadStart:payloadEnd]}); err != nil {
			return err
		}
		pos = payloadEnd
	}
}

// ReadFrameAt validates and returns the single frame whose magic tag starts
// at offset, for the random-access case where a caller already knows the
// exact frame position (e.g. from a header database's stamped offset)
// rather than needing the forward resync ScanFrames performs.
func ReadFrameAt(data []byte, offset int, magic [4]byte) (Frame, error) {
	if offset+frameHeaderSize > len(data) {
		return Frame{}, fmt.Errorf("%w: frame at %d exceeds file bounds", scanerrors.ErrFormat, offset)
	}
	if !matchMagic(data, offset, magic) {
		return Frame{}, fmt.Errorf("%w: magic mismatch at offset %d", scanerrors.ErrFormat, offset)
	}
	length := le32(data[offset+4 : offset+8])
	payloadStart := offset + frameHeaderSize
	payloadEnd := payloadStart + int(length)
	if payloadEnd > len(data) {
		return Frame{}, fmt.Errorf("%w: frame at %d exceeds file bounds", scanerrors.ErrFormat, offset)
	}
	return Frame{Offset: offset, Payload: data[payloadStart:payloadEnd]}, nil
}

func matchMagic(data []byte, pos int, magic [4]byte) bool {
	return data[pos] == magic[0] && data[pos+1] == magic[1] && data[pos+2] == magic[2] && data[pos+3] == magic[3]
}

func findMagic(data []byte, from int, magic [4]byte) int {
	for i := from; i+4 <= len(data); i++ {
		if matchMagic(data, i, magic) {
			return i
		}
	}
	return -1
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// ParseHeader reads the 80-byte header from the start of payload and
// computes its double-SHA-256 hash.
func ParseHeader(payload []byte) (chainhash.Hash, [80]byte, error) {
	var raw [80]byte
	if len(payload) < 80 {
		return chainhash.Hash{}, raw, fmt.Errorf("%w: payload too short for header (%d bytes)", scanerrors.ErrFormat, len(payload))
	}
	copy(raw[:], payload[:80])

	first := sha256.Sum256(raw[:])
	second := sha256.Sum256(first[:])
	// chainhash.Hash stores bytes in internal (little-endian, byte-reversed
	// display) order already matching a raw double-SHA-256 digest.
	return chainhash.Hash(second), raw, nil
}

// ParseLightTransactions parses every transaction in payload, starting at
// the tx-count varint that follows the 80-byte header, recording only byte
// offsets relative to payload itself. It returns the transactions and the
// number of bytes consumed after the header. It never copies script or
// witness bytes.
func ParseLightTransactions(payload []byte) ([]model.LightTransaction, int, error) {
	if len(payload) < 80 {
		return nil, 0, fmt.Errorf("%w: payload too short for header", scanerrors.ErrFormat)
	}

	numTx, n, err := readVarInt(payload, 80)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: tx count: %v", scanerrors.ErrFormat, err)
	}
	pos := 80 + n

	txs := make([]model.LightTransaction, 0, numTx)
	for i := uint64(0); i < numTx; i++ {
		tx, consumed, err := parseOneTransaction(payload, pos)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: tx %d: %v", scanerrors.ErrFormat, i, err)
		}
		txs = append(txs, tx)
		pos += consumed
	}

	// sum of declared sizes must equal payload size minus header minus
	// tx-count varint, per spec §4.2's invariant.
	if pos != len(payload) {
		return nil, 0, fmt.Errorf("%w: declared payload size mismatch: parsed %d, payload %d", scanerrors.ErrFormat, pos, len(payload))
	}

	return txs, pos - 80, nil
}

func parseOneTransaction(body []byte, start int) (model.LightTransaction, int, error) {
	pos := start
	if pos+4 > len(body) {
		return model.LightTransaction{}, 0, fmt.Errorf("truncated version field")
	}
	versionOffset := pos
	pos += 4

	numIn, n, err := readVarInt(body, pos)
	if err != nil {
		return model.LightTransaction{}, 0, fmt.Errorf("input count: %w", err)
	}
	pos += n

	inputs := make([]model.LightInput, 0, numIn)
	for i := uint64(0); i < numIn; i++ {
		in, consumed, err := parseInput(body, pos)
		if err != nil {
			return model.LightTransaction{}, 0, fmt.Errorf("input %d: %w", i, err)
		}
		inputs = append(inputs, in)
		pos += consumed
	}

	numOut, n, err := readVarInt(body, pos)
	if err != nil {
		return model.LightTransaction{}, 0, fmt.Errorf("output count: %w", err)
	}
	pos += n

	outputs := make([]model.LightOutput, 0, numOut)
	for i := uint64(0); i < numOut; i++ {
		out, consumed, err := parseOutput(body, pos)
		if err != nil {
			return model.LightTransaction{}, 0, fmt.Errorf("output %d: %w", i, err)
		}
		outputs = append(outputs, out)
		pos += consumed
	}

	if pos+4 > len(body) {
		return model.LightTransaction{}, 0, fmt.Errorf("truncated lock time field")
	}
	lockTimeOffset := pos
	pos += 4

	txRange := model.ByteRange{Start: start, Length: pos - start}
	hash := hashTx(body[start:pos])

	return model.LightTransaction{
		Hash:           hash,
		VersionOffset:  versionOffset,
		Inputs:         inputs,
		Outputs:        outputs,
		LockTimeOffset: lockTimeOffset,
		Range:          txRange,
	}, pos - start, nil
}

func hashTx(raw []byte) chainhash.Hash {
	first := sha256.Sum256(raw)
	second := sha256.Sum256(first[:])
	return chainhash.Hash(second)
}

// parseInput reads outpoint(36) + scriptLen(varint) + script + sequence(4).
func parseInput(body []byte, start int) (model.LightInput, int, error) {
	pos := start
	if pos+36 > len(body) {
		return model.LightInput{}, 0, fmt.Errorf("truncated outpoint")
	}
	var prevHash chainhash.Hash
	copy(prevHash[:], body[pos:pos+32])
	prevIndex := le32(body[pos+32 : pos+36])
	pos += 36

	scriptLen, n, err := readVarInt(body, pos)
	if err != nil {
		return model.LightInput{}, 0, fmt.Errorf("script length: %w", err)
	}
	pos += n
	scriptStart := pos
	if pos+int(scriptLen) > len(body) {
		return model.LightInput{}, 0, fmt.Errorf("truncated script")
	}
	pos += int(scriptLen)

	if pos+4 > len(body) {
		return model.LightInput{}, 0, fmt.Errorf("truncated sequence")
	}
	pos += 4

	return model.LightInput{
		PrevTxHash:  prevHash,
		PrevIndex:   prevIndex,
		Range:       model.ByteRange{Start: start, Length: pos - start},
		ScriptRange: model.ByteRange{Start: scriptStart, Length: int(scriptLen)},
	}, pos - start, nil
}

// parseOutput reads value(8) + scriptLen(varint) + script.
func parseOutput(body []byte, start int) (model.LightOutput, int, error) {
	pos := start
	if pos+8 > len(body) {
		return model.LightOutput{}, 0, fmt.Errorf("truncated value")
	}
	value := int64(le32(body[pos:pos+4])) | int64(le32(body[pos+4:pos+8]))<<32
	pos += 8

	scriptLen, n, err := readVarInt(body, pos)
	if err != nil {
		return model.LightOutput{}, 0, fmt.Errorf("script length: %w", err)
	}
	pos += n
	scriptStart := pos
	if pos+int(scriptLen) > len(body) {
		return model.LightOutput{}, 0, fmt.Errorf("truncated script")
	}
	pos += int(scriptLen)

	return model.LightOutput{
		Value:       value,
		Range:       model.ByteRange{Start: start, Length: pos - start},
		ScriptRange: model.ByteRange{Start: scriptStart, Length: int(scriptLen)},
	}, pos - start, nil
}
