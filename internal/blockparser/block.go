package blockparser

import (
	"github.com/goodnatureofminers/blockscan-core/internal/model"
	"github.com/goodnatureofminers/blockscan-core/pkg/safe"
)

// ParsedBlock is the result of fully light-parsing one framed block's
// payload: a header plus every transaction's offsets.
type ParsedBlock struct {
	Header model.BlockHeader
	Txs    []model.LightTransaction
	// Payload is the block payload this ParsedBlock's offsets are relative
	// to. It must not be read after the owning blockfile.Map is closed.
	Payload []byte
}

// ParseBlock light-parses one framed block's payload into a header and its
// transactions' offsets, per spec §4.2.
func ParseBlock(payload []byte, fnum uint32, offsetInFile uint64) (ParsedBlock, error) {
	hash, raw, err := ParseHeader(payload)
	if err != nil {
		return ParsedBlock{}, err
	}

	txs, _, err := ParseLightTransactions(payload)
	if err != nil {
		return ParsedBlock{}, err
	}

	numTx, err := safe.Uint32(len(txs))
	if err != nil {
		return ParsedBlock{}, err
	}
	payloadSize, err := safe.Uint32(len(payload))
	if err != nil {
		return ParsedBlock{}, err
	}

	header := model.BlockHeader{
		Hash:         hash,
		Raw:          raw,
		Fnum:         fnum,
		OffsetInFile: offsetInFile,
		NumTx:        numTx,
		PayloadSize:  payloadSize,
	}
	copy(header.PrevHash[:], raw[4:36])
	header.Timestamp = le32(raw[68:72])

	return ParsedBlock{Header: header, Txs: txs, Payload: payload}, nil
}
