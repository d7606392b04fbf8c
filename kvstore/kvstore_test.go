// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package kvstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// newStores returns one fresh instance of every Store implementation.
func newStores(t *testing.T) map[string]Store {
	t.Helper()

	db, err := OpenDB(t.TempDir(), DefaultDBTimeout)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	return map[string]Store{
		"memory": NewMemory(),
		"bdb":    db,
	}
}

// TestStoreContract runs the same get, set and delete sequence against every
// implementation.
func TestStoreContract(t *testing.T) {
	t.Parallel()

	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.Get(ctx, "wallet_ids")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Set(ctx, "wallet_ids", []byte("a")))
			require.NoError(t, store.Set(ctx, "wallet_ids", []byte("b")))

			value, err := store.Get(ctx, "wallet_ids")
			require.NoError(t, err)
			require.Equal(t, []byte("b"), value)

			// Mutating the returned slice must not leak into the
			// store.
			value[0] = 'x'
			value, err = store.Get(ctx, "wallet_ids")
			require.NoError(t, err)
			require.Equal(t, []byte("b"), value)

			require.NoError(t, store.Delete(ctx, "wallet_ids"))
			require.NoError(t, store.Delete(ctx, "wallet_ids"))

			_, err = store.Get(ctx, "wallet_ids")
			require.ErrorIs(t, err, ErrNotFound)

			require.ErrorIs(t, store.Set(ctx, "", nil), ErrEmptyKey)
		})
	}
}

// TestJSONHelpers round trips a typed value through the JSON helpers.
func TestJSONHelpers(t *testing.T) {
	t.Parallel()

	type record struct {
		Name  string
		Index uint32
	}

	ctx := context.Background()
	store := NewMemory()

	want := []record{{Name: "a", Index: 1}, {Name: "b", Index: 2}}
	require.NoError(t, SetJSON(ctx, store, "records", want))

	got, err := GetJSON[[]record](ctx, store, "records")
	require.NoError(t, err)
	require.Equal(t, want, got)

	require.NoError(t, store.Set(ctx, "broken", []byte("{")))
	_, err = GetJSON[record](ctx, store, "broken")
	require.Error(t, err)
}

// TestDBReopen checks values survive closing and reopening the database.
func TestDBReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	db, err := OpenDB(dir, DefaultDBTimeout)
	require.NoError(t, err)
	require.NoError(t, db.Set(ctx, "trusted_electrum_peers", []byte("[]")))
	require.NoError(t, db.Close())

	db, err = OpenDB(dir, DefaultDBTimeout)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, db.Close())
	}()

	value, err := db.Get(ctx, "trusted_electrum_peers")
	require.NoError(t, err)
	require.Equal(t, []byte("[]"), value)
}

// TestCanceledContext makes sure a canceled context short-circuits.
func TestCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(ctx, "k")
			require.ErrorIs(t, err, context.Canceled)
			require.ErrorIs(t, store.Set(ctx, "k", nil),
				context.Canceled)
			require.ErrorIs(t, store.Delete(ctx, "k"),
				context.Canceled)
		})
	}
}
