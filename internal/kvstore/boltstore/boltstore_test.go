package boltstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/goodnatureofminers/blockscan-core/internal/kvstore"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenProvisionsAllSubStores(t *testing.T) {
	s := openTestStore(t)
	tx, err := s.Begin(context.Background(), kvstore.ReadOnly)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	for _, sub := range kvstore.AllSubStores {
		_, err := tx.Cursor(sub)
		require.NoError(t, err, "sub-store %s should exist", sub)
	}
}

func TestPutGetDeleteRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx, kvstore.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, tx.Put(kvstore.STXO, []byte("k1"), []byte("v1")))
	require.NoError(t, tx.Commit())

	tx, err = s.Begin(ctx, kvstore.ReadOnly)
	require.NoError(t, err)
	v, err := tx.Get(kvstore.STXO, []byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)
	require.NoError(t, tx.Rollback())

	tx, err = s.Begin(ctx, kvstore.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, tx.Delete(kvstore.STXO, []byte("k1")))
	require.NoError(t, tx.Commit())

	tx, err = s.Begin(ctx, kvstore.ReadOnly)
	require.NoError(t, err)
	_, err = tx.Get(kvstore.STXO, []byte("k1"))
	require.ErrorIs(t, err, kvstore.ErrNotFound)
	require.NoError(t, tx.Rollback())
}

func TestMetaRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx, kvstore.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, tx.PutMeta(kvstore.HISTORY, []byte("sentinel")))
	require.NoError(t, tx.Commit())

	tx, err = s.Begin(ctx, kvstore.ReadOnly)
	require.NoError(t, err)
	v, err := tx.GetMeta(kvstore.HISTORY)
	require.NoError(t, err)
	require.Equal(t, []byte("sentinel"), v)
	require.NoError(t, tx.Rollback())
}

func TestCursorOrdersAscending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx, kvstore.ReadWrite)
	require.NoError(t, err)
	for _, k := range []string{"b", "a", "c"} {
		require.NoError(t, tx.Put(kvstore.STXO, []byte(k), []byte(k)))
	}
	require.NoError(t, tx.Commit())

	tx, err = s.Begin(ctx, kvstore.ReadOnly)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	cur, err := tx.Cursor(kvstore.STXO)
	require.NoError(t, err)

	var got []string
	k, _, ok := cur.Seek(nil)
	for ok {
		got = append(got, string(k))
		k, _, ok = cur.Next()
	}
	require.Equal(t, []string{"a", "b", "c"}, got)
}

func TestUnknownSubStore(t *testing.T) {
	s := openTestStore(t)
	tx, err := s.Begin(context.Background(), kvstore.ReadOnly)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Get(kvstore.SubStore("NOPE"), []byte("k"))
	require.Error(t, err)
}
