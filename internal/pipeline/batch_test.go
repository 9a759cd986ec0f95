package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func fnumTable(t map[uint32]uint32) func(uint32) (uint32, bool) {
	return func(h uint32) (uint32, bool) {
		fnum, ok := t[h]
		return fnum, ok
	}
}

func TestPlanBatchStopsAtChainTop(t *testing.T) {
	table := fnumTable(map[uint32]uint32{0: 0, 1: 0, 2: 0})
	end := planBatch(table, 0, 2, 10)
	require.Equal(t, uint32(2), end)
}

func TestPlanBatchStopsAtFileCrossLimit(t *testing.T) {
	// heights 0,1 in file 0; heights 2,3 in file 1; height 4 in file 2.
	table := fnumTable(map[uint32]uint32{0: 0, 1: 0, 2: 1, 3: 1, 4: 2})
	end := planBatch(table, 0, 4, 1) // may cross into file 1 (start+1), not file 2
	require.Equal(t, uint32(3), end)
}

func TestPlanBatchFileCrossZeroMeansSameFileOnly(t *testing.T) {
	table := fnumTable(map[uint32]uint32{0: 0, 1: 0, 2: 1})
	end := planBatch(table, 0, 2, 0)
	require.Equal(t, uint32(1), end)
}

func TestPlanBatchStartAtOrPastChainTopReturnsStart(t *testing.T) {
	table := fnumTable(map[uint32]uint32{5: 0})
	require.Equal(t, uint32(5), planBatch(table, 5, 5, 1))
	require.Equal(t, uint32(7), planBatch(table, 7, 5, 1))
}

func TestPlanBatchMissingHeaderReturnsStart(t *testing.T) {
	table := fnumTable(map[uint32]uint32{})
	require.Equal(t, uint32(3), planBatch(table, 3, 10, 1))
}
