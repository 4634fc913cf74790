package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/basthon/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunBackupStoreContract runs a suite of tests to verify that a BackupStore
// implementation adheres to the defined interface contract.
func RunBackupStoreContract(t *testing.T, store BackupStore) {
	ctx := context.Background()
	key := "contract-backup-" + time.Now().Format("20060102150405")

	t.Run("Save and Load", func(t *testing.T) {
		data := []byte("print('hello')\n")
		require.NoError(t, store.Save(ctx, key, data), "Save should not return error")

		loaded, err := store.Load(ctx, key)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, data, loaded)
	})

	t.Run("Save Overwrites", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, key, []byte("v1")))
		require.NoError(t, store.Save(ctx, key, []byte("v2")))

		loaded, err := store.Load(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "v2", string(loaded))
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+key)
		assert.ErrorIs(t, err, domain.ErrBackupNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, key, []byte("x")))
		require.NoError(t, store.Delete(ctx, key), "Delete should not return error")

		_, err := store.Load(ctx, key)
		assert.ErrorIs(t, err, domain.ErrBackupNotFound, "Load after Delete should return ErrBackupNotFound")
	})

	t.Run("List", func(t *testing.T) {
		k1 := key + "-1"
		k2 := key + "-2"
		_ = store.Save(ctx, k1, []byte("a"))
		_ = store.Save(ctx, k2, []byte("b"))
		defer func() {
			_ = store.Delete(ctx, k1)
			_ = store.Delete(ctx, k2)
		}()

		keys, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, keys, k1)
		assert.Contains(t, keys, k2)
	})

	t.Run("Path-like Keys", func(t *testing.T) {
		nested := "notebooks/" + key + "/main.js"
		require.NoError(t, store.Save(ctx, nested, []byte("1")))
		defer func() { _ = store.Delete(ctx, nested) }()

		loaded, err := store.Load(ctx, nested)
		require.NoError(t, err)
		assert.Equal(t, "1", string(loaded))

		keys, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, keys, nested)
	})
}
