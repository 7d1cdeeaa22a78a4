package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/statuswatch/internal/publisher"
	"github.com/JakeFAU/statuswatch/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{Dir: t.TempDir(), Name: "status.json"})
		require.NoError(t, err)
		assert.Equal(t, "file", store.Name())
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "frontend")
		_, err := local.New(local.Config{Dir: dir, Name: "status.json"})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingFields", func(t *testing.T) {
		_, err := local.New(local.Config{Name: "status.json"})
		assert.Error(t, err)
		_, err = local.New(local.Config{Dir: t.TempDir()})
		assert.Error(t, err)
	})

	t.Run("DirIsAFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{Dir: file, Name: "status.json"})
		assert.Error(t, err)
	})

	t.Run("PathTraversal", func(t *testing.T) {
		_, err := local.New(local.Config{Dir: t.TempDir(), Name: "../escape.json"})
		assert.ErrorContains(t, err, "traversal")
	})
}

func TestPublishReplacesFile(t *testing.T) {
	dir := t.TempDir()
	store, err := local.New(local.Config{Dir: dir, Name: "status.json"})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "status.json"), store.Path())

	ctx := context.Background()
	require.NoError(t, store.Publish(ctx, publisher.Report{CycleID: "1"}, []byte(`{"cycle_id":"1"}`)))
	require.NoError(t, store.Publish(ctx, publisher.Report{CycleID: "2"}, []byte(`{"cycle_id":"2"}`)))

	got, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.JSONEq(t, `{"cycle_id":"2"}`, string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}
