// Package fsstorage is a storage.Backend on the local filesystem.
//
// Objects live at <dir>/<addr[:2]>/<addr>. Writes go to a temporary file in
// the shard directory and are renamed into place, so readers never observe
// a partial object.
package fsstorage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vk/monogrid/internal/ctxlog"
	"github.com/vk/monogrid/internal/storage"
)

// Option configures a Backend.
type Option func(*Backend)

// WithMaxBytes enables eviction of the least recently written objects once
// the directory grows past n bytes. Zero disables eviction.
func WithMaxBytes(n int64) Option {
	return func(b *Backend) { b.maxBytes = n }
}

// Backend stores objects as files under a directory.
type Backend struct {
	dir      string
	maxBytes int64
	evictMu  sync.Mutex
}

var _ storage.Backend = (*Backend)(nil)

// New creates the directory if needed and returns a backend rooted there.
func New(dir string, opts ...Option) (*Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
	}
	b := &Backend{dir: dir}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Dir returns the storage root.
func (b *Backend) Dir() string { return b.dir }

func (b *Backend) path(addr string) string {
	return filepath.Join(b.dir, addr[:2], addr)
}

// Put writes data atomically.
func (b *Backend) Put(ctx context.Context, addr string, data []byte) error {
	if err := storage.ValidateAddress(addr); err != nil {
		return err
	}
	target := b.path(addr)
	shard := filepath.Dir(target)
	if err := os.MkdirAll(shard, 0o755); err != nil {
		return fmt.Errorf("failed to create shard %s: %w", shard, err)
	}

	tmp, err := os.CreateTemp(shard, "."+addr+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("failed to move object into place: %w", err)
	}

	if b.maxBytes > 0 {
		if err := b.evict(ctx, target); err != nil {
			return err
		}
	}
	return nil
}

// Get reads the object at addr.
func (b *Backend) Get(ctx context.Context, addr string) ([]byte, error) {
	if err := storage.ValidateAddress(addr); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(b.path(addr))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.NotFound(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

// Exists reports whether addr holds an object.
func (b *Backend) Exists(ctx context.Context, addr string) (bool, error) {
	if err := storage.ValidateAddress(addr); err != nil {
		return false, err
	}
	_, err := os.Stat(b.path(addr))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
	return true, nil
}

type object struct {
	path    string
	size    int64
	modTime time.Time
}

// evict removes the oldest objects until the directory fits the limit. The
// object at keep is never removed.
func (b *Backend) evict(ctx context.Context, keep string) error {
	b.evictMu.Lock()
	defer b.evictMu.Unlock()

	var objects []object
	var total int64
	err := filepath.WalkDir(b.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Concurrent writers rename temp files away under us.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		objects = append(objects, object{path: path, size: info.Size(), modTime: info.ModTime()})
		total += info.Size()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan storage directory: %w", err)
	}
	if total <= b.maxBytes {
		return nil
	}

	slices.SortFunc(objects, func(x, y object) int {
		if c := x.modTime.Compare(y.modTime); c != 0 {
			return c
		}
		return strings.Compare(x.path, y.path)
	})

	logger := ctxlog.FromContext(ctx)
	for _, o := range objects {
		if total <= b.maxBytes {
			break
		}
		if o.path == keep {
			continue
		}
		if err := os.Remove(o.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to evict %s: %w", o.path, err)
		}
		total -= o.size
		logger.Debug("Evicted cached object.", "path", o.path, "size", o.size)
	}
	return nil
}
