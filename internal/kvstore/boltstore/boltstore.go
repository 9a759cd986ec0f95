// Package boltstore implements internal/kvstore.Store on go.etcd.io/bbolt,
// adopted directly as an embedded ordered key/value store (no example in
// the pack imports bbolt). Each named sub-store is a bucket; ordered iteration falls out of
// bbolt's native cursor semantics, which is why kvstore keys are encoded
// big-endian fixed-width throughout the rest of the core.
package boltstore

import (
	"context"
	"fmt"

	"github.com/goodnatureofminers/blockscan-core/internal/kvstore"
	bolt "go.etcd.io/bbolt"
)

var metaKey = []byte("__sdbi__")

// Store wraps a *bolt.DB and satisfies kvstore.Store.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) a bbolt file at path and provisions every
// sub-store bucket declared in kvstore.AllSubStores.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, sub := range kvstore.AllSubStores {
			if _, err := tx.CreateBucketIfNotExists([]byte(sub)); err != nil {
				return fmt.Errorf("boltstore: create bucket %s: %w", sub, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin starts a bbolt transaction. Context cancellation is not honored
// mid-transaction: bbolt transactions are short-lived and CPU-bound by
// design, matching the "one transaction per table per batch" resource model.
func (s *Store) Begin(_ context.Context, mode kvstore.Mode) (kvstore.Tx, error) {
	tx, err := s.db.Begin(mode == kvstore.ReadWrite)
	if err != nil {
		return nil, fmt.Errorf("boltstore: begin: %w", err)
	}
	return &boltTx{tx: tx}, nil
}

type boltTx struct {
	tx *bolt.Tx
}

func (t *boltTx) bucket(sub kvstore.SubStore) (*bolt.Bucket, error) {
	b := t.tx.Bucket([]byte(sub))
	if b == nil {
		return nil, fmt.Errorf("boltstore: unknown sub-store %s", sub)
	}
	return b, nil
}

func (t *boltTx) Put(sub kvstore.SubStore, key, value []byte) error {
	b, err := t.bucket(sub)
	if err != nil {
		return err
	}
	return b.Put(key, value)
}

func (t *boltTx) Get(sub kvstore.SubStore, key []byte) ([]byte, error) {
	b, err := t.bucket(sub)
	if err != nil {
		return nil, err
	}
	v := b.Get(key)
	if v == nil {
		return nil, kvstore.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (t *boltTx) Delete(sub kvstore.SubStore, key []byte) error {
	b, err := t.bucket(sub)
	if err != nil {
		return err
	}
	return b.Delete(key)
}

func (t *boltTx) Cursor(sub kvstore.SubStore) (kvstore.Cursor, error) {
	b, err := t.bucket(sub)
	if err != nil {
		return nil, err
	}
	return &boltCursor{c: b.Cursor()}, nil
}

func (t *boltTx) PutMeta(sub kvstore.SubStore, value []byte) error {
	b, err := t.bucket(sub)
	if err != nil {
		return err
	}
	return b.Put(metaKey, value)
}

func (t *boltTx) GetMeta(sub kvstore.SubStore) ([]byte, error) {
	b, err := t.bucket(sub)
	if err != nil {
		return nil, err
	}
	v := b.Get(metaKey)
	if v == nil {
		return nil, kvstore.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (t *boltTx) Commit() error   { return t.tx.Commit() }
func (t *boltTx) Rollback() error { return t.tx.Rollback() }

type boltCursor struct {
	c *bolt.Cursor
}

func (c *boltCursor) Seek(prefix []byte) ([]byte, []byte, bool) {
	var k, v []byte
	if prefix == nil {
		k, v = c.c.First()
	} else {
		k, v = c.c.Seek(prefix)
	}
	if k == nil {
		return nil, nil, false
	}
	return k, v, true
}

func (c *boltCursor) Next() ([]byte, []byte, bool) {
	k, v := c.c.Next()
	if k == nil {
		return nil, nil, false
	}
	return k, v, true
}
