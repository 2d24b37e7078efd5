package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/vk/monogrid/internal/ctxlog"
	"github.com/vk/monogrid/internal/storage"
	"github.com/vk/monogrid/internal/storage/fsstorage"
	"github.com/vk/monogrid/internal/storage/memstorage"
	"github.com/vk/monogrid/internal/storage/redisstorage"
	"github.com/vk/monogrid/internal/storage/s3storage"
	"github.com/vk/monogrid/internal/storage/tiered"
)

// openBackend creates the configured cache backend. The returned func
// releases it and is never nil.
func openBackend(ctx context.Context, cfg *Config, root string) (storage.Backend, func(), error) {
	logger := ctxlog.FromContext(ctx)
	noop := func() {}

	var backend storage.Backend
	closer := noop
	switch cfg.Cache.Backend {
	case BackendFS:
		dir := cfg.Cache.Dir
		if dir == "" {
			dir = filepath.Join(cfg.OutDir, "cache")
		}
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(root, dir)
		}
		fs, err := fsstorage.New(dir, fsstorage.WithMaxBytes(cfg.Cache.MaxBytes))
		if err != nil {
			return nil, noop, err
		}
		backend = fs
		logger.Debug("Using filesystem cache.", "dir", dir)
	case BackendMemory:
		backend = memstorage.New(memstorage.WithMaxBytes(cfg.Cache.MaxBytes))
		logger.Debug("Using in-memory cache.")
	case BackendS3:
		s3, err := s3storage.New(cfg.Cache.S3)
		if err != nil {
			return nil, noop, err
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			return nil, noop, err
		}
		backend = s3
		logger.Debug("Using S3 cache.", "endpoint", cfg.Cache.S3.Endpoint, "bucket", cfg.Cache.S3.Bucket)
	case BackendRedis:
		rd, err := redisstorage.New(ctx, cfg.Cache.Redis)
		if err != nil {
			return nil, noop, err
		}
		backend = rd
		closer = func() {
			if err := rd.Close(); err != nil {
				logger.Warn("Failed to close redis cache.", "error", err)
			}
		}
		logger.Debug("Using redis cache.", "addr", cfg.Cache.Redis.Addr)
	default:
		return nil, noop, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}

	if cfg.Cache.MemoryTierBytes > 0 {
		tb, err := tiered.New(backend, cfg.Cache.MemoryTierBytes)
		if err != nil {
			closer()
			return nil, noop, err
		}
		l2Close := closer
		closer = func() {
			hits, misses := tb.Stats()
			logger.Debug("Memory tier closed.", "hits", hits, "misses", misses)
			tb.Close()
			l2Close()
		}
		backend = tb
	}
	return backend, closer, nil
}
