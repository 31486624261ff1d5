package badger

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/kbingest/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "db")
	backend, err := OpenBackend(dir, false)
	require.NoError(t, err)
	defer backend.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpenBackend_PathIsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	_, err := OpenBackend(path, false)
	assert.Error(t, err)
}

func TestBackend_WithTx(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	err = backend.WithTx(func(tx *badger.Txn) error {
		return tx.Set([]byte("k"), []byte("v"))
	}, true)
	require.NoError(t, err)

	var got []byte
	err = backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte("k"))
		if err != nil {
			return err
		}
		got, err = item.ValueCopy(nil)
		return err
	}, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	err = backend.WithTx(func(tx *badger.Txn) error {
		_, err := tx.Get([]byte("missing"))
		return err
	}, false)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBackend_Closed(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	assert.True(t, backend.IsClosed())
	err = backend.WithTx(func(tx *badger.Txn) error { return nil }, false)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestBackend_Compact(t *testing.T) {
	t.Run("in memory", func(t *testing.T) {
		backend, err := OpenBackend("", true)
		require.NoError(t, err)
		defer backend.Close()

		n, err := backend.Compact(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("on disk after deletes", func(t *testing.T) {
		backend, err := OpenBackend(t.TempDir(), false)
		require.NoError(t, err)
		defer backend.Close()

		for i := range 20 {
			key := []byte(fmt.Sprintf("k%02d", i))
			require.NoError(t, backend.WithTx(func(tx *badger.Txn) error {
				return tx.Set(key, bytes.Repeat([]byte("x"), 4096))
			}, true))
			require.NoError(t, backend.WithTx(func(tx *badger.Txn) error {
				return tx.Delete(key)
			}, true))
		}

		_, err = backend.Compact(context.Background())
		assert.NoError(t, err)
	})

	t.Run("closed", func(t *testing.T) {
		backend, err := OpenBackend("", true)
		require.NoError(t, err)
		require.NoError(t, backend.Close())

		_, err = backend.Compact(context.Background())
		assert.ErrorIs(t, err, storage.ErrStorageClosed)
	})
}
