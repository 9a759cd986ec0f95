package blockparser

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

var testMagic = [4]byte{0xF9, 0xBE, 0xB4, 0xD9}

// buildHeader returns a syntactically valid 80-byte block header. Field
// contents (besides the fixed magic-adjacent structure) are arbitrary.
func buildHeader() []byte {
	h := make([]byte, 80)
	binary.LittleEndian.PutUint32(h[0:4], 1) // version
	// prevhash (32), merkleroot (32) left zero
	binary.LittleEndian.PutUint32(h[68:72], 1700000000) // timestamp
	binary.LittleEndian.PutUint32(h[72:76], 0x1d00ffff)  // bits
	binary.LittleEndian.PutUint32(h[76:80], 0)           // nonce
	return h
}

// buildEmptyBlockPayload returns a header followed by a zero tx-count varint.
func buildEmptyBlockPayload() []byte {
	var buf bytes.Buffer
	buf.Write(buildHeader())
	buf.WriteByte(0x00) // tx count = 0
	return buf.Bytes()
}

// buildOneTxBlockPayload returns a header followed by one minimal
// one-input, one-output transaction.
func buildOneTxBlockPayload() []byte {
	var buf bytes.Buffer
	buf.Write(buildHeader())
	buf.WriteByte(0x01) // tx count = 1

	// version
	writeUint32LE(&buf, 1)
	// input count = 1
	buf.WriteByte(0x01)
	// outpoint: 32-byte prev hash (zero) + index
	buf.Write(make([]byte, 32))
	writeUint32LE(&buf, 0xFFFFFFFF)
	// script length = 0
	buf.WriteByte(0x00)
	// sequence
	writeUint32LE(&buf, 0xFFFFFFFF)
	// output count = 1
	buf.WriteByte(0x01)
	// value = 5000000000 satoshis (int64 LE)
	value := uint64(5000000000)
	writeUint32LE(&buf, uint32(value))
	writeUint32LE(&buf, uint32(value>>32))
	// script length = 0
	buf.WriteByte(0x00)
	// locktime
	writeUint32LE(&buf, 0)

	return buf.Bytes()
}

func writeUint32LE(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func frameBlock(payload []byte) []byte {
	var buf bytes.Buffer
	buf.Write(testMagic[:])
	writeUint32LE(&buf, uint32(len(payload)))
	buf.Write(payload)
	return buf.Bytes()
}

func TestScanFramesFindsFramedBlocks(t *testing.T) {
	logger := zaptest.NewLogger(t)
	p1 := buildEmptyBlockPayload()
	p2 := buildOneTxBlockPayload()

	data := append(frameBlock(p1), frameBlock(p2)...)

	var frames []Frame
	err := ScanFrames(logger, data, testMagic, 0, func(f Frame) error {
		frames = append(frames, f)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, frames, 2)
	require.Equal(t, p1, frames[0].Payload)
	require.Equal(t, p2, frames[1].Payload)
	require.Equal(t, 0, frames[0].Offset)
}

func TestScanFramesStopsOnTruncatedTrailingFrame(t *testing.T) {
	logger := zaptest.NewLogger(t)
	p1 := buildEmptyBlockPayload()
	full := frameBlock(p1)
	truncated := append(full, frameBlock(buildEmptyBlockPayload())[:5]...)

	var count int
	err := ScanFrames(logger, truncated, testMagic, 0, func(Frame) error {
		count++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestScanFramesResyncsPastCorruption(t *testing.T) {
	logger := zaptest.NewLogger(t)
	garbage := []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05}
	good := frameBlock(buildEmptyBlockPayload())
	data := append(garbage, good...)

	var frames []Frame
	err := ScanFrames(logger, data, testMagic, 0, func(f Frame) error {
		frames = append(frames, f)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, frames, 1)
}

func TestScanFramesPropagatesYieldError(t *testing.T) {
	logger := zaptest.NewLogger(t)
	data := frameBlock(buildEmptyBlockPayload())

	sentinel := zap.NewNop()
	_ = sentinel

	callErr := ScanFrames(logger, data, testMagic, 0, func(Frame) error {
		return errStop
	})
	require.ErrorIs(t, callErr, errStop)
}

func TestReadFrameAtValid(t *testing.T) {
	p := buildEmptyBlockPayload()
	data := frameBlock(p)

	f, err := ReadFrameAt(data, 0, testMagic)
	require.NoError(t, err)
	require.Equal(t, p, f.Payload)
}

func TestReadFrameAtMagicMismatch(t *testing.T) {
	data := frameBlock(buildEmptyBlockPayload())
	data[0] = 0x00

	_, err := ReadFrameAt(data, 0, testMagic)
	require.Error(t, err)
}

func TestParseHeaderTooShort(t *testing.T) {
	_, _, err := ParseHeader(make([]byte, 40))
	require.Error(t, err)
}

func TestParseHeaderComputesHash(t *testing.T) {
	h := buildHeader()
	hash, raw, err := ParseHeader(h)
	require.NoError(t, err)
	require.Equal(t, h, raw[:])
	require.NotEqual(t, "0000000000000000000000000000000000000000000000000000000000000000", hash.String())
}

func TestParseLightTransactionsEmptyBlock(t *testing.T) {
	payload := buildEmptyBlockPayload()
	txs, consumed, err := ParseLightTransactions(payload)
	require.NoError(t, err)
	require.Empty(t, txs)
	require.Equal(t, 1, consumed) // just the tx-count varint byte
}

func TestParseLightTransactionsOneTx(t *testing.T) {
	payload := buildOneTxBlockPayload()
	txs, _, err := ParseLightTransactions(payload)
	require.NoError(t, err)
	require.Len(t, txs, 1)

	tx := txs[0]
	require.Len(t, tx.Inputs, 1)
	require.Len(t, tx.Outputs, 1)
	require.Equal(t, uint32(0xFFFFFFFF), tx.Inputs[0].PrevIndex)
	require.Equal(t, int64(5000000000), tx.Outputs[0].Value)
}

func TestParseLightTransactionsRejectsSizeMismatch(t *testing.T) {
	payload := append(buildEmptyBlockPayload(), 0xAA) // trailing garbage byte
	_, _, err := ParseLightTransactions(payload)
	require.Error(t, err)
}

func TestParseBlockBuildsHeaderAndTxs(t *testing.T) {
	payload := buildOneTxBlockPayload()
	parsed, err := ParseBlock(payload, 3, 128)
	require.NoError(t, err)

	require.Equal(t, uint32(3), parsed.Header.Fnum)
	require.Equal(t, uint64(128), parsed.Header.OffsetInFile)
	require.Equal(t, uint32(1), parsed.Header.NumTx)
	require.Equal(t, uint32(len(payload)), parsed.Header.PayloadSize)
	require.Equal(t, uint32(1700000000), parsed.Header.Timestamp)
	require.Len(t, parsed.Txs, 1)
}

var errStop = errStopType{}

type errStopType struct{}

func (errStopType) Error() string { return "stop" }
