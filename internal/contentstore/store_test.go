package contentstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestContentStore_PutIsIdempotent exercises the universal property from
// spec.md §8.2: calling Put twice with identical bytes yields the same
// relative_path and writes exactly one file.
func TestContentStore_PutIsIdempotent(t *testing.T) {
	store, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	data := []byte("%PDF-1.4 fake pdf body for hashing purposes")

	first, err := store.Put(context.Background(), data)
	require.NoError(t, err)
	assert.False(t, first.PreExisting)

	second, err := store.Put(context.Background(), data)
	require.NoError(t, err)
	assert.True(t, second.PreExisting)

	assert.Equal(t, first.SHA256, second.SHA256)
	assert.Equal(t, first.BLAKE3, second.BLAKE3)
	assert.Equal(t, first.RelativePath, second.RelativePath)
}

func TestContentStore_PutThenOpenRoundTrips(t *testing.T) {
	store, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	data := []byte("some plain text document body")

	placement, err := store.Put(context.Background(), data)
	require.NoError(t, err)

	f, err := store.Open(placement.RelativePath)
	require.NoError(t, err)
	defer f.Close()

	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	assert.NoError(t, store.Verify(placement.RelativePath, placement.SHA256))
}

func TestContentStore_DifferentContentDifferentPath(t *testing.T) {
	store, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	a, err := store.Put(context.Background(), []byte("document A"))
	require.NoError(t, err)

	b, err := store.Put(context.Background(), []byte("document B"))
	require.NoError(t, err)

	assert.NotEqual(t, a.RelativePath, b.RelativePath)
}
