package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/brandkit-crawler/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "blobs")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.NotNil(t, store)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsAFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "plain")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("WritesNestedPath", func(t *testing.T) {
		data := []byte("<html></html>")
		uri, err := store.PutObject(ctx, "snapshots/owner/job/abc.html", "text/html", data)
		require.NoError(t, err)
		full := filepath.Join(dir, "snapshots", "owner", "job", "abc.html")
		assert.Equal(t, "file://"+full, uri)

		// #nosec G304 -- test reads from the controlled temp directory.
		got, err := os.ReadFile(full)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("OverwriteIsIdempotent", func(t *testing.T) {
		_, err := store.PutObject(ctx, "same.html", "text/html", []byte("one"))
		require.NoError(t, err)
		_, err = store.PutObject(ctx, "same.html", "text/html", []byte("two"))
		require.NoError(t, err)
		// #nosec G304 -- test reads from the controlled temp directory.
		got, err := os.ReadFile(filepath.Join(dir, "same.html"))
		require.NoError(t, err)
		assert.Equal(t, "two", string(got))
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(ctx, " ", "text/plain", []byte("data"))
		assert.Error(t, err)
	})

	t.Run("Traversal", func(t *testing.T) {
		_, err := store.PutObject(ctx, "../escape.html", "text/html", []byte("data"))
		assert.Error(t, err)
	})
}
