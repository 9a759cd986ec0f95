// Package reconciler implements HeaderReconciler (spec §4.3): given the
// header database and the block files, it locates the first file offset
// whose block is not yet recorded, detecting header-database corruption
// and signaling a forced rebuild when the persisted chain top cannot be
// found anywhere in the files.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/goodnatureofminers/blockscan-core/internal/blockfile"
	"github.com/goodnatureofminers/blockscan-core/internal/blockparser"
	"github.com/goodnatureofminers/blockscan-core/internal/chainparams"
	"github.com/goodnatureofminers/blockscan-core/internal/headerstore"
	"github.com/goodnatureofminers/blockscan-core/internal/metrics"
	"github.com/goodnatureofminers/blockscan-core/internal/model"
	"go.uber.org/zap"
)

// Position is a resume point: the file and byte offset scanning should
// continue from.
type Position struct {
	Fnum   uint32
	Offset uint64
}

// Result is the outcome of one Reconcile run.
type Result struct {
	Position Position
	// Rebuild is set when the header database is inconsistent with the
	// files (ErrCorruptHeaderDB semantics): the caller should restart the
	// scan from file 0, height 0.
	Rebuild bool
}

// Reconciler locates the file offset scanning should resume from.
type Reconciler struct {
	files   *blockfile.Set
	headers *headerstore.Store
	params  chainparams.Params
	logger  *zap.Logger
	metrics *metrics.Reconciler
}

// New constructs a Reconciler over files and the header database.
func New(files *blockfile.Set, headers *headerstore.Store, params chainparams.Params, logger *zap.Logger, m *metrics.Reconciler) *Reconciler {
	return &Reconciler{files: files, headers: headers, params: params, logger: logger, metrics: m}
}

// Reconcile runs the algorithm of spec §4.3 and returns the resume
// position, or Result.Rebuild=true if the header database is inconsistent.
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	started := time.Now()

	top, hasTop, err := r.headers.ChainTop(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("reconciler: read chain top: %w", err)
	}

	files := r.files.Files()
	if len(files) == 0 {
		return Result{}, fmt.Errorf("reconciler: no block files discovered")
	}

	// Step 1: walk files ascending, testing each file's first header.
	boundaryFnum := uint32(0)
	boundaryIsFreshFile := true
	for _, f := range files {
		firstHash, ok, err := r.firstHeaderHash(f.Fnum)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			// Empty or unreadable file; treat as boundary.
			boundaryFnum = f.Fnum
			boundaryIsFreshFile = f.Fnum == 0
			break
		}

		known, err := r.headers.Has(ctx, firstHash)
		if err != nil {
			return Result{}, fmt.Errorf("reconciler: header lookup: %w", err)
		}
		if !known {
			if f.Fnum == 0 {
				// Fresh database, no previous file: fall through to step 2,
				// which will find this same unknown header and drive
				// populateForward from file 0, offset 0.
				boundaryFnum = 0
				boundaryIsFreshFile = true
				break
			}
			boundaryFnum = f.Fnum - 1
			boundaryIsFreshFile = false
			break
		}
		boundaryFnum = f.Fnum
		boundaryIsFreshFile = false
	}

	// Step 2: linearly scan the boundary file, stamping known headers and
	// watching for the chain top, until the first unrecorded header.
	pos, topSeen, err := r.scanBoundaryFile(ctx, boundaryFnum, top, hasTop)
	if err != nil {
		return Result{}, err
	}
	if pos != nil {
		resumeHeight, err := r.populateForward(ctx, *pos, top, hasTop)
		if err != nil {
			return Result{}, err
		}
		r.metrics.ObserveRun("resumed", resumeHeight, started)
		return Result{Position: *pos}, nil
	}

	if boundaryIsFreshFile {
		genesis := Position{Fnum: 0, Offset: 0}
		if _, err := r.populateForward(ctx, genesis, top, hasTop); err != nil {
			return Result{}, err
		}
		r.metrics.ObserveRun("genesis", 0, started)
		return Result{Position: genesis}, nil
	}

	// Every header in the boundary file was already known but the boundary
	// scan never found the top hash. Fall through to step 3.
	if hasTop && !topSeen {
		found, err := r.searchAllFilesForTop(ctx, top)
		if err != nil {
			return Result{}, err
		}
		if !found {
			r.metrics.ObserveRun("corrupt_header_db", 0, started)
			return Result{Rebuild: true}, nil
		}
	}

	// The boundary file was fully known and the top was located: resume
	// scanning at the start of the next file.
	resume := Position{Fnum: boundaryFnum + 1, Offset: 0}
	resumeHeight, err := r.populateForward(ctx, resume, top, hasTop)
	if err != nil {
		return Result{}, err
	}
	r.metrics.ObserveRun("resumed", resumeHeight, started)
	return Result{Position: resume}, nil
}

// populateForward assigns height, duplicateId, and file position to every
// header from pos through the end of the discovered files, and stamps them
// into the header database. This is the reconciler's other half of "locate
// where scanning must resume": the header database only records what a
// previous reconciliation pass already stamped, so anything past the
// boundary is new to the system and must be assigned a height before
// ScanPipeline can address it by height (spec §4.3 step 2's "stamping"
// generalizes here to full ingestion, since no external header manager is
// in scope to have pre-populated height/duplicateId). It returns the height
// assigned to the first new header.
func (r *Reconciler) populateForward(ctx context.Context, pos Position, top chainhash.Hash, hasTop bool) (uint32, error) {
	startHeight := uint32(0)
	if hasTop {
		th, ok, err := r.headers.Get(ctx, top)
		if err != nil {
			return 0, fmt.Errorf("reconciler: resolve chain top header: %w", err)
		}
		if ok {
			startHeight = th.Height + 1
		}
	}

	height := startHeight
	var lastHash chainhash.Hash
	sawAny := false

	files := r.files.Files()
	for _, f := range files {
		if f.Fnum < pos.Fnum {
			continue
		}
		m, err := r.files.Open(f.Fnum)
		if err != nil {
			return 0, err
		}

		data := m.Bytes()
		base := 0
		if f.Fnum == pos.Fnum {
			base = int(pos.Offset)
		}
		if base > len(data) {
			_ = m.Close()
			continue
		}

		scanErr := blockparser.ScanFrames(r.logger, data[base:], r.params.Magic, f.Fnum, func(fr blockparser.Frame) error {
			parsed, err := blockparser.ParseBlock(fr.Payload, f.Fnum, uint64(base+fr.Offset))
			if err != nil {
				return err
			}
			h := parsed.Header
			h.Height = height
			h.DuplicateID = model.DuplicateIDCanonical
			if err := r.headers.Put(ctx, h); err != nil {
				return err
			}
			height++
			lastHash = h.Hash
			sawAny = true
			return nil
		})
		_ = m.Close()
		if scanErr != nil {
			return 0, scanErr
		}
	}

	if sawAny {
		if err := r.headers.SetChainTop(ctx, lastHash); err != nil {
			return 0, fmt.Errorf("reconciler: set chain top: %w", err)
		}
	}
	return startHeight, nil
}

func (r *Reconciler) firstHeaderHash(fnum uint32) (h chainhash.Hash, ok bool, err error) {
	m, err := r.files.Open(fnum)
	if err != nil {
		return h, false, err
	}
	defer m.Close()

	data := m.Bytes()
	found := false
	scanErr := blockparser.ScanFrames(r.logger, data, r.params.Magic, fnum, func(fr blockparser.Frame) error {
		hash, _, err := blockparser.ParseHeader(fr.Payload)
		if err != nil {
			return err
		}
		h = hash
		found = true
		return errStopScan
	})
	if scanErr != nil && scanErr != errStopScan {
		return h, false, scanErr
	}
	return h, found, nil
}

var errStopScan = fmt.Errorf("reconciler: stop scan")

// scanBoundaryFile linearly reads every header in file fnum, stamping known
// ones into the header database (idempotent) and returning the position of
// the first header not already recorded. It also reports whether top's
// hash was observed along the way.
func (r *Reconciler) scanBoundaryFile(ctx context.Context, fnum uint32, top chainhash.Hash, hasTop bool) (*Position, bool, error) {
	m, err := r.files.Open(fnum)
	if err != nil {
		return nil, false, err
	}
	defer m.Close()

	data := m.Bytes()
	topSeen := false
	var resume *Position

	scanErr := blockparser.ScanFrames(r.logger, data, r.params.Magic, fnum, func(fr blockparser.Frame) error {
		hash, _, err := blockparser.ParseHeader(fr.Payload)
		if err != nil {
			return err
		}
		if hasTop && hash == top {
			topSeen = true
		}
		rec, known, err := r.headers.Get(ctx, hash)
		if err != nil {
			return err
		}
		if !known {
			resume = &Position{Fnum: fnum, Offset: uint64(fr.Offset)}
			return errStopScan
		}
		if rec.Fnum != fnum || rec.OffsetInFile != uint64(fr.Offset) {
			rec.Fnum = fnum
			rec.OffsetInFile = uint64(fr.Offset)
			return r.headers.Put(ctx, rec)
		}
		return nil
	})
	if scanErr != nil && scanErr != errStopScan {
		return nil, false, scanErr
	}
	return resume, topSeen, nil
}

// searchAllFilesForTop scans files newest to oldest looking for top's hash,
// per step 3 of spec §4.3.
func (r *Reconciler) searchAllFilesForTop(_ context.Context, top chainhash.Hash) (bool, error) {
	files := r.files.Files()
	for i := len(files) - 1; i >= 0; i-- {
		fnum := files[i].Fnum
		m, err := r.files.Open(fnum)
		if err != nil {
			return false, err
		}
		data := m.Bytes()
		found := false
		scanErr := blockparser.ScanFrames(r.logger, data, r.params.Magic, fnum, func(fr blockparser.Frame) error {
			hash, _, err := blockparser.ParseHeader(fr.Payload)
			if err != nil {
				return err
			}
			if hash == top {
				found = true
				return errStopScan
			}
			return nil
		})
		_ = m.Close()
		if scanErr != nil && scanErr != errStopScan {
			return false, scanErr
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}
