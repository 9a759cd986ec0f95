package pipeline

import (
	"context"

	"github.com/goodnatureofminers/blockscan-core/internal/headerstore"
)

// planBatch computes [startHeight, endHeight] (inclusive) for the batch that
// begins at startHeight: it extends through whichever height first crosses
// into the fileCrossCount-th subsequent block file relative to startHeight's
// own file, or to chainTop, whichever comes first (spec §4.5, Batching).
func planBatch(headerFnumAt func(height uint32) (uint32, bool), startHeight, chainTop uint32, fileCrossCount int) uint32 {
	if startHeight >= chainTop {
		return startHeight
	}

	startFnum, ok := headerFnumAt(startHeight)
	if !ok {
		return startHeight
	}

	limitFnum := startFnum + uint32(fileCrossCount)
	end := startHeight
	for h := startHeight; h <= chainTop; h++ {
		fnum, ok := headerFnumAt(h)
		if !ok {
			break
		}
		if fnum > limitFnum {
			break
		}
		end = h
	}
	return end
}

// fnumLookup adapts a headerstore.Store into the plain function planBatch
// wants, keeping planBatch free of any store dependency for testability.
func fnumLookup(ctx context.Context, headers *headerstore.Store) func(height uint32) (uint32, bool) {
	return func(height uint32) (uint32, bool) {
		h, ok, err := headers.HeaderAtHeight(ctx, height)
		if err != nil || !ok {
			return 0, false
		}
		return h.Fnum, true
	}
}
