package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/spechawk/internal/logger"
	"github.com/jonesrussell/spechawk/internal/storage"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newFileStore(t *testing.T) *storage.FileStore {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir(), logger.NewNoOp())
	require.NoError(t, err)
	return store
}

func TestFileStore_WriteAndReadBack(t *testing.T) {
	store := newFileStore(t)
	ctx := context.Background()

	want := payload{Name: "viper", Count: 3}
	require.NoError(t, store.WriteObject(ctx, "runs/p1/summary.json", want))

	var got payload
	require.NoError(t, store.ReadJSON(ctx, "runs/p1/summary.json", &got))
	assert.Equal(t, want, got)
}

func TestFileStore_MissingKeyIsNotFound(t *testing.T) {
	store := newFileStore(t)

	var got payload
	err := store.ReadJSON(context.Background(), "runs/absent.json", &got)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFileStore_OverwriteLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	store, err := storage.NewFileStore(root, logger.NewNoOp())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.WriteObject(ctx, "a.json", payload{Count: 1}))
	require.NoError(t, store.WriteObject(ctx, "a.json", payload{Count: 2}))

	var got payload
	require.NoError(t, store.ReadJSON(ctx, "a.json", &got))
	assert.Equal(t, 2, got.Count)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.json", entries[0].Name())
}

func TestFileStore_ListKeysByPrefix(t *testing.T) {
	store := newFileStore(t)
	ctx := context.Background()

	require.NoError(t, store.WriteObject(ctx, "runs/p1/summary.json", payload{}))
	require.NoError(t, store.WriteObject(ctx, "runs/p2/summary.json", payload{}))
	require.NoError(t, store.WriteObject(ctx, "intel/daily.json", payload{}))

	keys, err := store.ListKeys(ctx, "runs/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"runs/p1/summary.json", "runs/p2/summary.json"}, keys)

	all, err := store.ListKeys(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestFileStore_DeleteIsIdempotent(t *testing.T) {
	store := newFileStore(t)
	ctx := context.Background()

	require.NoError(t, store.WriteObject(ctx, "a.json", payload{}))
	require.NoError(t, store.Delete(ctx, "a.json"))
	require.NoError(t, store.Delete(ctx, "a.json"))

	var got payload
	assert.ErrorIs(t, store.ReadJSON(ctx, "a.json", &got), storage.ErrNotFound)
}

func TestFileStore_RejectsEscapingKeys(t *testing.T) {
	store := newFileStore(t)

	err := store.WriteObject(context.Background(), "../outside.json", payload{})
	assert.Error(t, err)

	err = store.WriteObject(context.Background(), filepath.Join(string(filepath.Separator), "abs.json"), payload{})
	assert.Error(t, err)
}
