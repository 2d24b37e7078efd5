// Package memstorage is a storage.Backend held entirely in process memory.
// It backs tests and single-run invocations that do not want a cache on
// disk.
package memstorage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vk/monogrid/internal/storage"
)

// ErrCapacityExceeded is returned when a put would grow the store past its
// byte limit.
var ErrCapacityExceeded = errors.New("memstorage: capacity exceeded")

// Option configures a Backend.
type Option func(*Backend)

// WithMaxBytes bounds the total size of stored objects. Zero means unbounded.
func WithMaxBytes(n int64) Option {
	return func(b *Backend) { b.maxBytes = n }
}

// Backend is a map-backed storage.Backend safe for concurrent use.
type Backend struct {
	mu       sync.RWMutex
	objects  map[string][]byte
	size     int64
	maxBytes int64
}

var _ storage.Backend = (*Backend)(nil)

// New creates an empty in-memory backend.
func New(opts ...Option) *Backend {
	b := &Backend{objects: make(map[string][]byte)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Put stores a copy of data. An overwrite only counts the size delta
// against the limit.
func (b *Backend) Put(ctx context.Context, addr string, data []byte) error {
	if err := storage.ValidateAddress(addr); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	delta := int64(len(data)) - int64(len(b.objects[addr]))
	if b.maxBytes > 0 && b.size+delta > b.maxBytes {
		return fmt.Errorf("%w: %d + %d bytes > %d", ErrCapacityExceeded, b.size, delta, b.maxBytes)
	}
	b.objects[addr] = append([]byte{}, data...)
	b.size += delta
	return nil
}

// Get returns a copy of the object at addr.
func (b *Backend) Get(ctx context.Context, addr string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.objects[addr]
	if !ok {
		return nil, storage.NotFound(addr)
	}
	return append([]byte{}, data...), nil
}

// Exists reports whether addr holds an object.
func (b *Backend) Exists(ctx context.Context, addr string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.objects[addr]
	return ok, nil
}

// Size returns the total number of stored bytes.
func (b *Backend) Size() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Len returns the number of stored objects.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}
