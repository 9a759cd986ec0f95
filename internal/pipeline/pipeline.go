package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/goodnatureofminers/blockscan-core/internal/blockfile"
	"github.com/goodnatureofminers/blockscan-core/internal/chainparams"
	"github.com/goodnatureofminers/blockscan-core/internal/headerstore"
	"github.com/goodnatureofminers/blockscan-core/internal/kvstore"
	"github.com/goodnatureofminers/blockscan-core/internal/metrics"
	"github.com/goodnatureofminers/blockscan-core/internal/model"
	"github.com/goodnatureofminers/blockscan-core/internal/progress"
	"github.com/goodnatureofminers/blockscan-core/internal/scanerrors"
	"github.com/goodnatureofminers/blockscan-core/pkg/workerpool"
	"go.uber.org/zap"
)

const progressPhase = "scan"

// Config sizes the pipeline's worker pool and batching behavior (spec §5,
// Memory budget; §4.5, Batching). Lookahead and FileCrossCount scale with
// the configured ram-usage level; FileCrossCount is spec's "N" (default 1).
// A ThreadCount below 1 is replaced by the number of CPUs.
type Config struct {
	ThreadCount    int
	Lookahead      int
	FileCrossCount int
	DBType         kvstore.DBType
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{ThreadCount: runtime.NumCPU(), Lookahead: 2, FileCrossCount: 1, DBType: kvstore.Bare}
}

// Pipeline is ScanPipeline (spec §4.5): the parallel reader/scanner/writer
// pipeline that walks from a start height to the current chain top,
// producing and committing one batch at a time.
type Pipeline struct {
	files     *blockfile.Set
	headers   *headerstore.Store
	params    chainparams.Params
	filters   FilterSource
	deriver   ScriptDeriver
	committer Committer
	progress  *progress.Reporter
	logger    *zap.Logger
	metrics   *metrics.Pipeline
	cfg       Config
}

// New constructs a Pipeline.
func New(
	files *blockfile.Set,
	headers *headerstore.Store,
	params chainparams.Params,
	filters FilterSource,
	deriver ScriptDeriver,
	committer Committer,
	reporter *progress.Reporter,
	logger *zap.Logger,
	m *metrics.Pipeline,
	cfg Config,
) *Pipeline {
	if cfg.ThreadCount < 1 {
		cfg.ThreadCount = runtime.NumCPU()
	}
	if cfg.Lookahead < 1 {
		cfg.Lookahead = 1
	}
	if cfg.FileCrossCount < 1 {
		cfg.FileCrossCount = 1
	}
	return &Pipeline{
		files: files, headers: headers, params: params,
		filters: filters, deriver: deriver, committer: committer,
		progress: reporter, logger: logger, metrics: m, cfg: cfg,
	}
}

// Scan runs scan(fromHeight) to the current chain top (spec §4.5). It
// returns scanerrors.ErrRange (wrapped) immediately, with no writes, if
// fromHeight is past the chain top; fromHeight equal to the chain top scans
// that one block.
func (p *Pipeline) Scan(ctx context.Context, fromHeight uint32) error {
	chainTop, ok, err := p.headers.ChainTopHeight(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: read chain top: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: no chain top recorded", scanerrors.ErrRange)
	}
	if fromHeight > chainTop {
		return fmt.Errorf("%w: fromHeight %d beyond chain top %d", scanerrors.ErrRange, fromHeight, chainTop)
	}

	p.progress.BeginPhase(progressPhase, float64(chainTop-fromHeight+1))

	fnumAt := fnumLookup(ctx, p.headers)
	source := NewBlockSource(p.files, p.headers, p.params)

	startHeight := fromHeight
	for startHeight <= chainTop {
		select {
		case <-ctx.Done():
			return nil // cooperative stop, no mid-batch abort already in flight
		default:
		}

		endHeight := planBatch(fnumAt, startHeight, chainTop, p.cfg.FileCrossCount)

		result, err := p.runBatch(ctx, source, startHeight, endHeight)
		if err != nil {
			return err
		}

		if err := p.committer.Commit(ctx, result); err != nil {
			return fmt.Errorf("%w: commit batch [%d,%d]: %v", scanerrors.ErrStore, startHeight, endHeight, err)
		}

		p.progress.Advance(ctx, progressPhase, float64(endHeight-startHeight+1))

		startHeight = endHeight + 1
	}
	return nil
}

// runBatch executes the four stages of one batch: reader pool, Phase A
// scanner pool, the Phase-A barrier and utxo merge, and Phase B.
func (p *Pipeline) runBatch(ctx context.Context, source *BlockSource, startHeight, endHeight uint32) (BatchResult, error) {
	started := time.Now()
	filterSnap := p.filters.Snapshot()

	shards := p.buildShards(startHeight, endHeight, source, filterSnap)

	if err := workerpool.Process(ctx, len(shards), shards, func(ctx context.Context, s *shard) error {
		errs := make(chan error, 2)
		go func() { errs <- s.read(ctx) }()
		go func() { errs <- s.scanPhaseA(ctx) }()
		for i := 0; i < 2; i++ {
			if err := <-errs; err != nil {
				return err
			}
		}
		return nil
	}, nil); err != nil {
		p.metrics.ObserveBatch(err, int(endHeight-startHeight+1), started)
		return BatchResult{}, fmt.Errorf("pipeline: batch [%d,%d] phase A: %w", startHeight, endHeight, err)
	}

	// Phase-A barrier: merge every shard's utxo map into one read-only view.
	coord := newPhaseBCoordinator(shards)

	if err := workerpool.Process(ctx, len(shards), shards, func(_ context.Context, s *shard) error {
		return s.scanPhaseB(coord)
	}, nil); err != nil {
		p.metrics.ObserveBatch(err, int(endHeight-startHeight+1), started)
		return BatchResult{}, fmt.Errorf("pipeline: batch [%d,%d] phase B: %w", startHeight, endHeight, err)
	}

	result, err := p.aggregate(ctx, shards, coord, startHeight, endHeight)
	p.metrics.ObserveBatch(err, int(endHeight-startHeight+1), started)
	return result, err
}

func (p *Pipeline) buildShards(startHeight, endHeight uint32, source *BlockSource, filter AddressFilter) []*shard {
	if p.cfg.DBType == kvstore.Super {
		filter = allMatchFilter{}
	}
	shards := make([]*shard, p.cfg.ThreadCount)
	for i := 0; i < p.cfg.ThreadCount; i++ {
		var heights []uint32
		for h := startHeight + uint32(i); h <= endHeight; h += uint32(p.cfg.ThreadCount) {
			heights = append(heights, h)
		}
		shards[i] = newShard(i, heights, source, filter, p.deriver, p.cfg.Lookahead*p.cfg.ThreadCount, p.logger)
	}
	return shards
}

func (p *Pipeline) aggregate(ctx context.Context, shards []*shard, coord *phaseBCoordinator, startHeight, endHeight uint32) (BatchResult, error) {
	result := BatchResult{
		StartHeight: startHeight,
		EndHeight:   endHeight,
		Unspent:     coord.remainingUnspent(),
		History:     make(map[model.ScriptAddress][]model.HistoryEntry),
		TxHints:     make(map[[4]byte][]model.IndexKey),
	}

	for _, s := range shards {
		result.Spent = append(result.Spent, s.spent...)
		for addr, entries := range s.history {
			result.History[addr] = append(result.History[addr], entries...)
		}
		for txHash, key := range s.txHashIdx {
			var prefix [4]byte
			copy(prefix[:], txHash[:4])
			result.TxHints[prefix] = append(result.TxHints[prefix], key)
		}
	}

	topHash, ok, err := p.headers.CanonicalHashAtHeight(ctx, endHeight)
	if err != nil {
		return BatchResult{}, fmt.Errorf("pipeline: resolve top hash at %d: %w", endHeight, err)
	}
	if !ok {
		return BatchResult{}, fmt.Errorf("%w: no canonical header at height %d", scanerrors.ErrCorruptHeaderDB, endHeight)
	}
	result.TopHash = topHash
	return result, nil
}
