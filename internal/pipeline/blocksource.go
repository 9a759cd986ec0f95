// Package pipeline implements ScanPipeline (spec §4.5): the four-stage
// parallel reader/scanner/writer pipeline with the two-phase output/input
// synchronization and lookahead-bounded backpressure. It is the core's
// largest component, mirroring the shape of the teacher's ingester
// services (internal/utxo/service/ingester's HeightFetcher / BlockProcessor
// / BlockWriter decomposition) generalized from RPC-sourced blocks to
// blockfile-sourced ones.
package pipeline

import (
	"context"
	"fmt"

	"github.com/goodnatureofminers/blockscan-core/internal/blockfile"
	"github.com/goodnatureofminers/blockscan-core/internal/blockparser"
	"github.com/goodnatureofminers/blockscan-core/internal/chainparams"
	"github.com/goodnatureofminers/blockscan-core/internal/headerstore"
	"github.com/goodnatureofminers/blockscan-core/internal/scanerrors"
)

// BlockSource resolves a height to its parsed block, hiding the
// file-mapping and header-lookup machinery from the pipeline's readers.
type BlockSource struct {
	files   *blockfile.Set
	headers *headerstore.Store
	params  chainparams.Params
}

// NewBlockSource builds a BlockSource over files and the header database.
func NewBlockSource(files *blockfile.Set, headers *headerstore.Store, params chainparams.Params) *BlockSource {
	return &BlockSource{files: files, headers: headers, params: params}
}

// openBlock is a parsed block plus the memory map handle it borrows bytes
// from. The handle must outlive every reference into ParsedBlock.Payload
// and be released once the scanner has copied out anything that must
// survive past the map's lifetime (spec §9, memory-mapped file ownership).
type openBlock struct {
	block blockparser.ParsedBlock
	rel   func() error
}

// blockAt resolves height to its parsed block, opening (and returning a
// release function for) the underlying file mapping.
func (s *BlockSource) blockAt(ctx context.Context, height uint32) (openBlock, error) {
	header, ok, err := s.headers.HeaderAtHeight(ctx, height)
	if err != nil {
		return openBlock{}, fmt.Errorf("pipeline: resolve header at height %d: %w", height, err)
	}
	if !ok {
		return openBlock{}, fmt.Errorf("%w: no header recorded at height %d", scanerrors.ErrRange, height)
	}

	m, err := s.files.Open(header.Fnum)
	if err != nil {
		return openBlock{}, err
	}

	frame, err := blockparser.ReadFrameAt(m.Bytes(), int(header.OffsetInFile), s.params.Magic)
	if err != nil {
		_ = m.Close()
		return openBlock{}, err
	}

	parsed, err := blockparser.ParseBlock(frame.Payload, header.Fnum, header.OffsetInFile)
	if err != nil {
		_ = m.Close()
		return openBlock{}, err
	}
	parsed.Header.Height = height
	parsed.Header.DuplicateID = header.DuplicateID

	return openBlock{block: parsed, rel: m.Close}, nil
}
