// Package kvstore defines the transactional ordered key/value store contract
// the block-scanning core consumes. The store engine itself is out of
// scope; this package is the seam any conforming engine plugs into
// (internal/kvstore/boltstore supplies one concrete implementation on
// go.etcd.io/bbolt so the core is runnable standalone).
package kvstore

import (
	"context"
	"errors"
)

// SubStore names one of the store's named partitions.
type SubStore string

const (
	STXO    SubStore = "STXO"
	HISTORY SubStore = "HISTORY"
	TXHINTS SubStore = "TXHINTS"
	SSH     SubStore = "SSH"
	SUBSSH  SubStore = "SUBSSH"
	BLKDATA SubStore = "BLKDATA"
)

// AllSubStores lists every sub-store a Store implementation must provision
// on first open.
var AllSubStores = []SubStore{STXO, HISTORY, TXHINTS, SSH, SUBSSH, BLKDATA}

// Mode selects whether a transaction may mutate the store.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

// ErrNotFound is returned by Get and GetMeta when no record exists; Cursor
// methods report a missing key with ok=false instead.
var ErrNotFound = errors.New("kvstore: key not found")

// Cursor iterates a sub-store's keys in ascending byte order, the ordering
// property HISTORY range scans (by address/height prefix) rely on.
type Cursor interface {
	// Seek positions the cursor at the first key >= prefix and reports
	// whether such a key exists.
	Seek(prefix []byte) (key, value []byte, ok bool)
	// Next advances to the following key and reports whether it exists.
	Next() (key, value []byte, ok bool)
}

// Tx is a single transaction spanning one or more sub-stores. Read-write
// transactions from the same Store are serialized by the implementation;
// the IndexCommitter never holds more than one open at a time.
type Tx interface {
	Put(store SubStore, key, value []byte) error
	Get(store SubStore, key []byte) ([]byte, error)
	Delete(store SubStore, key []byte) error
	Cursor(store SubStore) (Cursor, error)

	// PutMeta and GetMeta store a single scalar metadata record per
	// sub-store (the SDBI record of spec §6), independent of the store's
	// regular keyspace.
	PutMeta(store SubStore, value []byte) error
	GetMeta(store SubStore) ([]byte, error)

	Commit() error
	Rollback() error
}

// Store is the persistent, ordered, transactional key/value engine the core
// consumes. The implementation provisions every named sub-store in
// AllSubStores when the store is opened.
type Store interface {
	Begin(ctx context.Context, mode Mode) (Tx, error)
	Close() error
}

// ResetMode selects how much of the store to clear before a scan begins,
// per the configuration surface's initMode option.
type ResetMode int

const (
	// Normal performs no reset; the scan resumes from TopScannedHash.
	Normal ResetMode = iota
	// Rescan clears the history sub-stores but preserves address
	// registration (the caller's AddressFilter is untouched).
	Rescan
	// Rebuild clears every sub-store; the scan restarts from file 0.
	Rebuild
	// RescanSSH clears only the aggregated-balance sub-store.
	RescanSSH
)

func (m ResetMode) String() string {
	switch m {
	case Rescan:
		return "Rescan"
	case Rebuild:
		return "Rebuild"
	case RescanSSH:
		return "RescanSSH"
	default:
		return "Normal"
	}
}

// DBType selects how much the scanner indexes beyond raw STXO records, per
// the configuration surface's dbType option (spec §6). It is grounded on
// Armory's ARMORY_DB_BARE/FULL/SUPER modes: Bare persists only STXO and
// per-address history; Full additionally maintains an aggregated running
// balance per address in SSH; Super does the same but ignores the
// AddressFilter, indexing every address in every block.
type DBType int

const (
	// Bare indexes only STXO and HISTORY for filter-matched addresses.
	Bare DBType = iota
	// Full additionally maintains an SSH aggregated-balance record per
	// filter-matched address.
	Full
	// Super behaves like Full but indexes every address, not just ones
	// registered in the AddressFilter.
	Super
)

func (t DBType) String() string {
	switch t {
	case Full:
		return "Full"
	case Super:
		return "Super"
	default:
		return "Bare"
	}
}

// UnmarshalFlag implements flags.Unmarshaler for jessevdk/go-flags.
func (t *DBType) UnmarshalFlag(value string) error {
	switch value {
	case "Bare", "":
		*t = Bare
	case "Full":
		*t = Full
	case "Super":
		*t = Super
	default:
		return errors.New("kvstore: unknown db type " + value)
	}
	return nil
}

// UnmarshalFlag implements flags.Unmarshaler for jessevdk/go-flags.
func (m *ResetMode) UnmarshalFlag(value string) error {
	switch value {
	case "Normal", "":
		*m = Normal
	case "Rescan":
		*m = Rescan
	case "Rebuild":
		*m = Rebuild
	case "RescanSSH":
		*m = RescanSSH
	default:
		return errors.New("kvstore: unknown init mode " + value)
	}
	return nil
}

// Reset clears the sub-stores implied by mode inside a single write
// transaction, following spec §6's reset-mode table.
func Reset(ctx context.Context, store Store, mode ResetMode) error {
	if mode == Normal {
		return nil
	}

	tx, err := store.Begin(ctx, ReadWrite)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var toClear []SubStore
	switch mode {
	case Rescan:
		toClear = []SubStore{STXO, HISTORY, TXHINTS}
	case Rebuild:
		toClear = AllSubStores
	case RescanSSH:
		toClear = []SubStore{SSH}
	}

	for _, sub := range toClear {
		if err := clearSubStore(tx, sub); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func clearSubStore(tx Tx, sub SubStore) error {
	cur, err := tx.Cursor(sub)
	if err != nil {
		return err
	}
	var keys [][]byte
	key, _, ok := cur.Seek(nil)
	for ok {
		k := make([]byte, len(key))
		copy(k, key)
		keys = append(keys, k)
		key, _, ok = cur.Next()
	}
	for _, k := range keys {
		if err := tx.Delete(sub, k); err != nil {
			return err
		}
	}
	return nil
}
