package fsstorage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/monogrid/internal/storage"
	"github.com/vk/monogrid/internal/storage/storagetest"
)

func TestContract(t *testing.T) {
	storagetest.RunBackendContract(t, func(t *testing.T) storage.Backend {
		b, err := New(t.TempDir())
		require.NoError(t, err)
		return b
	})
}

func TestShardedLayout(t *testing.T) {
	dir := t.TempDir()
	b, err := New(dir)
	require.NoError(t, err)

	addr, err := storage.Address("layout")
	require.NoError(t, err)
	require.NoError(t, b.Put(context.Background(), addr, []byte("x")))

	_, err = os.Stat(filepath.Join(dir, addr[:2], addr))
	assert.NoError(t, err)

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Join(dir, addr[:2]))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRejectsBadAddress(t *testing.T) {
	b, err := New(t.TempDir())
	require.NoError(t, err)

	err = b.Put(context.Background(), "../escape", []byte("x"))
	assert.ErrorIs(t, err, storage.ErrInvalidKey)
}

func TestEviction(t *testing.T) {
	// --- Arrange ---
	ctx := context.Background()
	b, err := New(t.TempDir(), WithMaxBytes(10))
	require.NoError(t, err)
	c := storage.NewClient(b)

	require.NoError(t, c.PutObject(ctx, "old", []byte("123456")))
	oldAddr, err := storage.Address("old")
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(b.path(oldAddr), past, past))

	// --- Act ---
	require.NoError(t, c.PutObject(ctx, "new", []byte("123456")))

	// --- Assert ---
	ok, err := c.ObjectExists(ctx, "old")
	require.NoError(t, err)
	assert.False(t, ok, "oldest object should be evicted")

	ok, err = c.ObjectExists(ctx, "new")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEviction_KeepsJustWritten(t *testing.T) {
	ctx := context.Background()
	b, err := New(t.TempDir(), WithMaxBytes(4))
	require.NoError(t, err)
	c := storage.NewClient(b)

	require.NoError(t, c.PutObject(ctx, "big", []byte("far more than four bytes")))

	got, err := c.GetString(ctx, "big")
	require.NoError(t, err)
	assert.Equal(t, "far more than four bytes", got)
}
