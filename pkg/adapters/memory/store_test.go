package memory_test

import (
	"context"
	"testing"

	"github.com/aretw0/basthon/pkg/adapters/memory"
	"github.com/aretw0/basthon/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	store := memory.NewStore()
	ports.RunBackupStoreContract(t, store)
}

func TestMemoryStore_Isolation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	data := []byte("abc")
	require.NoError(t, store.Save(ctx, "k", data))

	data[0] = 'x'
	loaded, err := store.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(loaded))

	loaded[1] = 'y'
	again, _ := store.Load(ctx, "k")
	assert.Equal(t, "abc", string(again))
}
