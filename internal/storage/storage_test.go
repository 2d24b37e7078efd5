package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/monogrid/internal/storage"
	"github.com/vk/monogrid/internal/storage/memstorage"
)

func TestAddress(t *testing.T) {
	a, err := storage.Address(map[string]int{"b": 2, "a": 1})
	require.NoError(t, err)
	b, err := storage.Address(map[string]int{"a": 1, "b": 2})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NoError(t, storage.ValidateAddress(a))
}

func TestAddress_InvalidKey(t *testing.T) {
	testCases := []struct {
		name string
		key  any
	}{
		{name: "nil", key: nil},
		{name: "channel", key: make(chan int)},
		{name: "function", key: func() {}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := storage.Address(tc.key)
			assert.ErrorIs(t, err, storage.ErrInvalidKey)
		})
	}
}

func TestValidateAddress(t *testing.T) {
	assert.ErrorIs(t, storage.ValidateAddress("abc"), storage.ErrInvalidKey)
	assert.ErrorIs(t, storage.ValidateAddress("../../../../etc/passwd0000000000000000000000000000000000000000000"), storage.ErrInvalidKey)
}

func TestClient_InvalidKeyDoesNotReachBackend(t *testing.T) {
	c := storage.NewClient(memstorage.New())
	err := c.PutObject(context.Background(), nil, []byte("x"))
	assert.ErrorIs(t, err, storage.ErrInvalidKey)
}
