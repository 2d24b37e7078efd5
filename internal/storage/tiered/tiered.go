// Package tiered puts an in-process ristretto cache in front of another
// storage.Backend.
package tiered

import (
	"context"
	"sync/atomic"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/vk/monogrid/internal/storage"
)

// Backend reads through an L1 cache bounded by total object bytes. Writes
// go to the wrapped backend first and only then to L1.
type Backend struct {
	l1     *ristretto.Cache[string, []byte]
	l2     storage.Backend
	hits   atomic.Int64
	misses atomic.Int64
}

var _ storage.Backend = (*Backend)(nil)

// New wraps l2 with an L1 holding at most maxCostBytes of object data.
func New(l2 storage.Backend, maxCostBytes int64) (*Backend, error) {
	counters := maxCostBytes / 100 * 10
	if counters < 1000 {
		counters = 1000
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: counters,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Backend{l1: c, l2: l2}, nil
}

// Put writes through to the wrapped backend, then fills L1.
func (b *Backend) Put(ctx context.Context, addr string, data []byte) error {
	if err := b.l2.Put(ctx, addr, data); err != nil {
		// L1 must not serve a value the wrapped backend never accepted.
		b.l1.Del(addr)
		return err
	}
	b.remember(addr, data)
	return nil
}

// Get serves from L1 when possible and fills it from the wrapped backend.
func (b *Backend) Get(ctx context.Context, addr string) ([]byte, error) {
	if data, ok := b.l1.Get(addr); ok {
		b.hits.Add(1)
		return append([]byte{}, data...), nil
	}
	b.misses.Add(1)
	data, err := b.l2.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	b.remember(addr, data)
	return data, nil
}

// Exists answers from L1 when possible.
func (b *Backend) Exists(ctx context.Context, addr string) (bool, error) {
	if _, ok := b.l1.Get(addr); ok {
		return true, nil
	}
	return b.l2.Exists(ctx, addr)
}

func (b *Backend) remember(addr string, data []byte) {
	b.l1.Set(addr, append([]byte{}, data...), int64(len(data)))
	b.l1.Wait()
}

// Stats returns the L1 hit and miss counts.
func (b *Backend) Stats() (hits, misses int64) {
	return b.hits.Load(), b.misses.Load()
}

// Close releases the L1 cache. The wrapped backend is left open.
func (b *Backend) Close() {
	b.l1.Close()
}
