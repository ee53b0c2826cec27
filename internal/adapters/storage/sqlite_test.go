package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexrivas/mirrorbot/internal/adapters/storage"
)

func TestLoadMissingKeyReturnsNotOk(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()

	data, ok, err := db.Load(t.Context(), "cb")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, data)
}

func TestStoreThenLoadRoundTrips(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Store(t.Context(), "leader/0xabc", []byte(`{"last_processed_block":42}`)))

	data, ok, err := db.Load(t.Context(), "leader/0xabc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"last_processed_block":42}`, string(data))
}

func TestStoreOverwritesExistingKey(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()

	ctx := t.Context()
	require.NoError(t, db.Store(ctx, "cb", []byte(`{"consecutive_losses":1}`)))
	require.NoError(t, db.Store(ctx, "cb", []byte(`{"consecutive_losses":2}`)))

	data, ok, err := db.Load(ctx, "cb")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"consecutive_losses":2}`, string(data))
}

func TestKeysAreIndependent(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()

	ctx := t.Context()
	require.NoError(t, db.Store(ctx, "leader/0x1", []byte(`{"last_processed_block":1}`)))
	require.NoError(t, db.Store(ctx, "leader/0x2", []byte(`{"last_processed_block":2}`)))

	data1, _, _ := db.Load(ctx, "leader/0x1")
	data2, _, _ := db.Load(ctx, "leader/0x2")
	assert.JSONEq(t, `{"last_processed_block":1}`, string(data1))
	assert.JSONEq(t, `{"last_processed_block":2}`, string(data2))
}
