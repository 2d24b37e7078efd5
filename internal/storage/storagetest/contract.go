// Package storagetest holds the behavioural suite every storage.Backend
// must pass.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/monogrid/internal/storage"
)

// Factory returns a fresh, empty backend for one subtest.
type Factory func(t *testing.T) storage.Backend

// RunBackendContract runs the shared suite against backends built by newBackend.
func RunBackendContract(t *testing.T, newBackend Factory) {
	t.Helper()

	t.Run("round trip", func(t *testing.T) {
		ctx := context.Background()
		c := storage.NewClient(newBackend(t))
		key := map[string]any{"kind": "roundtrip", "n": 1}

		require.NoError(t, c.PutObject(ctx, key, []byte("hello")))

		got, err := c.GetObject(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), got)

		s, err := c.GetString(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "hello", s)
	})

	t.Run("overwrite replaces content", func(t *testing.T) {
		ctx := context.Background()
		c := storage.NewClient(newBackend(t))
		key := []string{"overwrite"}

		require.NoError(t, c.PutObject(ctx, key, []byte("first")))
		require.NoError(t, c.PutObject(ctx, key, []byte("second")))

		got, err := c.GetString(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "second", got)
	})

	t.Run("missing key is not found", func(t *testing.T) {
		ctx := context.Background()
		c := storage.NewClient(newBackend(t))

		_, err := c.GetObject(ctx, "never-written")
		require.Error(t, err)
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)

		ok, err := c.ObjectExists(ctx, "never-written")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("exists after put", func(t *testing.T) {
		ctx := context.Background()
		c := storage.NewClient(newBackend(t))

		require.NoError(t, c.PutObject(ctx, "present", []byte("x")))
		ok, err := c.ObjectExists(ctx, "present")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("empty object", func(t *testing.T) {
		ctx := context.Background()
		c := storage.NewClient(newBackend(t))

		require.NoError(t, c.PutObject(ctx, "empty", []byte{}))
		got, err := c.GetObject(ctx, "empty")
		require.NoError(t, err)
		assert.Empty(t, got)

		ok, err := c.ObjectExists(ctx, "empty")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("structured keys are deterministic", func(t *testing.T) {
		ctx := context.Background()
		c := storage.NewClient(newBackend(t))

		type key struct {
			Unit string `json:"unit"`
			Kind string `json:"kind"`
		}
		require.NoError(t, c.PutObject(ctx, key{Unit: "a", Kind: "build"}, []byte("v1")))

		// Same document, different key order.
		got, err := c.GetString(ctx, map[string]string{"kind": "build", "unit": "a"})
		require.NoError(t, err)
		assert.Equal(t, "v1", got)

		_, err = c.GetObject(ctx, key{Unit: "a", Kind: "test"})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("concurrent puts", func(t *testing.T) {
		ctx := context.Background()
		c := storage.NewClient(newBackend(t))
		const n = 20

		var wg sync.WaitGroup
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func(i int) {
				defer wg.Done()
				if err := c.PutObject(ctx, []int{i}, []byte(fmt.Sprintf("value-%d", i))); err != nil {
					t.Errorf("put %d: %v", i, err)
				}
			}(i)
		}
		wg.Wait()

		for i := 0; i < n; i++ {
			got, err := c.GetString(ctx, []int{i})
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("value-%d", i), got)
		}
	})
}
