package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_Lifecycle(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewLocalStore(tmpDir)
	ctx := context.Background()

	blobName := "backups/db-001.kdb"
	data := []byte("hello world, this is a test blob for keradb")

	w, err := store.Create(ctx, blobName)
	require.NoError(t, err)

	n, err := w.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)

	// Not visible until closed.
	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, w.Close())

	_, err = os.Stat(filepath.Join(tmpDir, "backups", "db-001.kdb"))
	require.NoError(t, err)

	blob, err := store.Open(ctx, blobName)
	require.NoError(t, err)
	defer blob.Close()
	require.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, 5)
	n, err = blob.ReadAt(ctx, buf, 6)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "world", string(buf))

	r, err := blob.ReadRange(ctx, 13, 4)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, "this", string(got))

	require.NoError(t, store.Put(ctx, "backups/db-002.kdb", []byte("second")))
	require.NoError(t, store.Put(ctx, "other.kdb", []byte("third")))

	names, err = store.List(ctx, "backups/")
	require.NoError(t, err)
	require.Equal(t, []string{"backups/db-001.kdb", "backups/db-002.kdb"}, names)

	require.NoError(t, store.Delete(ctx, blobName))
	require.NoError(t, store.Delete(ctx, blobName), "deleting a missing blob is not an error")

	names, err = store.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"backups/db-002.kdb", "other.kdb"}, names)

	_, err = store.Open(ctx, blobName)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_ReadRangeBoundaries(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "boundary.bin", []byte("0123456789")))

	blob, err := store.Open(ctx, "boundary.bin")
	require.NoError(t, err)
	defer blob.Close()

	tests := []struct {
		name     string
		off, len int64
		want     string
	}{
		{"full", 0, 10, "0123456789"},
		{"past end", 8, 5, "89"},
		{"at end", 10, 5, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := blob.ReadRange(ctx, tt.off, tt.len)
			require.NoError(t, err)
			defer r.Close()
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}

	_, err = blob.ReadRange(ctx, 20, 5)
	require.ErrorIs(t, err, io.EOF)
}

func TestLocalStore_ListMissingRoot(t *testing.T) {
	store := NewLocalStore(filepath.Join(t.TempDir(), "missing"))
	names, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	w, err := store.Create(ctx, "b")
	require.NoError(t, err)
	_, err = w.Write([]byte("payload"))
	require.NoError(t, err)

	_, err = store.Open(ctx, "b")
	require.ErrorIs(t, err, ErrNotFound, "blob is published on close")

	require.NoError(t, w.Close())
	require.NoError(t, store.Put(ctx, "a", []byte("x")))

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	blob, err := store.Open(ctx, "b")
	require.NoError(t, err)
	got, err := io.ReadAll(io.NewSectionReader(ReaderAt(ctx, blob), 0, blob.Size()))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	require.NoError(t, store.Delete(ctx, "b"))
	_, err = store.Open(ctx, "b")
	require.ErrorIs(t, err, ErrNotFound)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = store.Open(cancelled, "a")
	require.ErrorIs(t, err, context.Canceled)
}
