// Package addressfilter supplies the default AddressFilter of spec §4.4: an
// O(1), thread-safe, lock-free-for-reads membership test over a set of
// wallet-relevant ScriptAddresses. It is grounded on
// _examples/torrejonv-teranode's use of github.com/dolthub/swiss for its
// tx-meta cache.
package addressfilter

import (
	"sync"
	"sync/atomic"

	"github.com/dolthub/swiss"
	"github.com/goodnatureofminers/blockscan-core/internal/model"
)

// Filter is the default AddressFilter implementation. An address passed to
// Add becomes visible to HasAddress and to later Snapshot calls once that
// Add has swapped in a fresh table; a Snapshot taken earlier never sees it:
// readers hold a stable snapshot for
// the duration of one batch, and new addresses are picked up starting with
// the next scan pass, matching spec §4.4.
type Filter struct {
	mu      sync.Mutex // serializes writers only; readers never block
	current atomic.Pointer[swiss.Map[model.ScriptAddress, struct{}]]
}

// New constructs an empty Filter.
func New() *Filter {
	f := &Filter{}
	f.current.Store(swiss.NewMap[model.ScriptAddress, struct{}](0))
	return f
}

// Add registers addr for future membership tests. Safe for concurrent use
// with Snapshot and HasAddress, but concurrent Add calls are serialized.
func (f *Filter) Add(addr model.ScriptAddress) {
	f.mu.Lock()
	defer f.mu.Unlock()

	old := f.current.Load()
	next := swiss.NewMap[model.ScriptAddress, struct{}](uint32(old.Count() + 1))
	old.Iter(func(k model.ScriptAddress, _ struct{}) (stop bool) {
		next.Put(k, struct{}{})
		return false
	})
	next.Put(addr, struct{}{})
	f.current.Store(next)
}

// HasAddress reports whether addr is currently registered. It never blocks
// on writers: it reads whatever snapshot is currently published.
func (f *Filter) HasAddress(addr model.ScriptAddress) bool {
	_, ok := f.current.Load().Get(addr)
	return ok
}

// Snapshot is a stable view of the filter's membership set, obtained once
// per batch per spec §4.4 ("the scanner must obtain one stable snapshot per
// batch").
type Snapshot struct {
	table *swiss.Map[model.ScriptAddress, struct{}]
}

// HasAddress tests membership against the snapshot's fixed table.
func (s Snapshot) HasAddress(addr model.ScriptAddress) bool {
	_, ok := s.table.Get(addr)
	return ok
}

// Snapshot returns the filter's current table for the scanner to hold for
// the duration of one batch.
func (f *Filter) Snapshot() Snapshot {
	return Snapshot{table: f.current.Load()}
}
