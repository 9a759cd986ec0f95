package pipeline

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/goodnatureofminers/blockscan-core/internal/model"
	"github.com/goodnatureofminers/blockscan-core/pkg/safe"
	"go.uber.org/zap"
)

// AddressFilter is the snapshot the scanner consults during Phase A; it
// must be obtained once per batch (spec §4.4).
type AddressFilter interface {
	HasAddress(model.ScriptAddress) bool
}

// ScriptDeriver derives a ScriptAddress from a raw output script.
type ScriptDeriver interface {
	Derive(script []byte) (model.ScriptAddress, error)
}

// shard owns one reader/scanner pair's private working set: its own utxo
// map, per-address history deltas, and spent-output list, all unshared
// across other shards (spec §5, shared-resource policy).
type shard struct {
	index    int
	heights  []uint32
	blocks   chan openBlock
	source   *BlockSource
	filter   AddressFilter
	deriver  ScriptDeriver
	logger   *zap.Logger

	// Phase A output.
	utxos     map[chainhash.Hash]map[uint32]*model.UnspentOutput
	history   map[model.ScriptAddress][]model.HistoryEntry
	txHashIdx map[chainhash.Hash]model.IndexKey // for TXHINTS: hash -> first output key seen

	// pendingInputs accumulates every input seen during Phase A (not just
	// filter-matched ones, since Phase B must test each against the merged
	// utxo map to discover matches).
	pendingInputs []pendingInput

	// Phase B output, populated once the coordinator publishes the merged
	// utxo map.
	spent []model.SpentOutput
}

// pendingInput is one input recorded during Phase A, deferred for
// resolution against the batch-wide merged utxo map in Phase B.
type pendingInput struct {
	Height      uint32
	DuplicateID uint8
	TxIndex     uint32
	IOIndex     uint32
	PrevTxHash  chainhash.Hash
	PrevIndex   uint32
}

func newShard(index int, heights []uint32, source *BlockSource, filter AddressFilter, deriver ScriptDeriver, lookahead int, logger *zap.Logger) *shard {
	return &shard{
		index:     index,
		heights:   heights,
		blocks:    make(chan openBlock, lookahead),
		source:    source,
		filter:    filter,
		deriver:   deriver,
		logger:    logger,
		utxos:     make(map[chainhash.Hash]map[uint32]*model.UnspentOutput),
		history:   make(map[model.ScriptAddress][]model.HistoryEntry),
		txHashIdx: make(map[chainhash.Hash]model.IndexKey),
	}
}

// read is the reader half of the shard: it resolves and parses each of the
// shard's assigned heights in order, sending them to the scanner over a
// bounded channel. The channel's fixed capacity (lookahead) is exactly the
// backpressure mechanism spec §4.5 describes as a condition variable gating
// the reader when it outruns the scanner.
func (s *shard) read(ctx context.Context) error {
	defer close(s.blocks)
	for _, h := range s.heights {
		select {
		case <-ctx.Done():
			return nil // cooperative stop: no mid-batch abort, just drain
		default:
		}
		ob, err := s.source.blockAt(ctx, h)
		if err != nil {
			return fmt.Errorf("shard %d: read height %d: %w", s.index, h, err)
		}
		select {
		case <-ctx.Done():
			_ = ob.rel()
			return nil
		case s.blocks <- ob:
		}
	}
	return nil
}

// scanPhaseA consumes every block the reader produces, resolving matched
// outputs into the shard's local utxo map and per-address history. It
// closes each block's memory map once Phase A has copied out everything it
// needs, since Phase B never touches raw payload bytes again.
func (s *shard) scanPhaseA(ctx context.Context) error {
	for ob := range s.blocks {
		if err := s.scanBlockOutputs(ob.block); err != nil {
			_ = ob.rel()
			return err
		}
		if err := ob.rel(); err != nil {
			return fmt.Errorf("shard %d: release map: %w", s.index, err)
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
	return nil
}

func (s *shard) scanBlockOutputs(b blockAtResultBlock) error {
	header := b.Header
	for txIdx, tx := range b.Txs {
		txIndex, err := safe.Uint32(txIdx)
		if err != nil {
			return err
		}

		for inIdx, in := range tx.Inputs {
			ioIndex, err := safe.Uint32(inIdx)
			if err != nil {
				return err
			}
			s.pendingInputs = append(s.pendingInputs, pendingInput{
				Height:      header.Height,
				DuplicateID: header.DuplicateID,
				TxIndex:     txIndex,
				IOIndex:     ioIndex,
				PrevTxHash:  in.PrevTxHash,
				PrevIndex:   in.PrevIndex,
			})
		}

		for outIdx, out := range tx.Outputs {
			outIndex, err := safe.Uint32(outIdx)
			if err != nil {
				return err
			}
			script := out.ScriptRange.Slice(b.Payload)
			addr, err := s.deriver.Derive(script)
			if err != nil {
				s.logger.Warn("pipeline: script decode failed, skipping output",
					zap.Uint32("height", header.Height), zap.Int("tx", txIdx), zap.Int("out", outIdx), zap.Error(err))
				continue
			}
			if !s.filter.HasAddress(addr) {
				continue
			}

			rawCopy := make([]byte, out.Range.Length)
			copy(rawCopy, out.Range.Slice(b.Payload))

			uo := model.UnspentOutput{
				ScriptAddress:   addr,
				Value:           out.Value,
				ParentTxHash:    tx.Hash,
				Height:          header.Height,
				DuplicateID:     header.DuplicateID,
				TxIndexInBlock:  txIndex,
				OutputIndexInTx: outIndex,
				RawOutputBytes:  rawCopy,
			}
			key := uo.Key()

			if s.utxos[tx.Hash] == nil {
				s.utxos[tx.Hash] = make(map[uint32]*model.UnspentOutput)
			}
			s.utxos[tx.Hash][outIndex] = &uo
			s.history[addr] = append(s.history[addr], model.HistoryEntry{Key: key, Value: uo.Value, TxOutKey: key})
			if _, exists := s.txHashIdx[tx.Hash]; !exists {
				s.txHashIdx[tx.Hash] = key
			}
		}
	}
	return nil
}

// scanPhaseB resolves this shard's pendingInputs against the batch-wide
// merged utxo map published by the coordinator after the Phase-A barrier
// (spec §4.5, Phase B). A match is claimed exactly once across all shards
// via coord's shared consumed-set.
func (s *shard) scanPhaseB(coord *phaseBCoordinator) error {
	for _, in := range s.pendingInputs {
		uo, ok := coord.claim(in.PrevTxHash, in.PrevIndex)
		if !ok {
			continue
		}

		inputKey := model.IndexKey{Height: in.Height, DuplicateID: in.DuplicateID, TxIndex: in.TxIndex, IOIndex: in.IOIndex}
		spent := model.SpentOutput{UnspentOutput: *uo, SpentByInputKey: inputKey}
		s.spent = append(s.spent, spent)

		outKey := uo.Key()
		s.history[uo.ScriptAddress] = append(s.history[uo.ScriptAddress], model.HistoryEntry{
			Key:      inputKey,
			Value:    -uo.Value,
			TxOutKey: outKey,
			TxInKey:  &inputKey,
		})
	}
	return nil
}

// blockAtResultBlock aliases the parsed block type so shard.go doesn't need
// to import blockparser just for this one type reference in scanBlockOutputs.
type blockAtResultBlock = struct {
	Header  model.BlockHeader
	Txs     []model.LightTransaction
	Payload []byte
}
