package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/vk/monogrid/internal/executor"
	"github.com/vk/monogrid/internal/storage/redisstorage"
	"github.com/vk/monogrid/internal/storage/s3storage"
)

// Cache backends selectable with cache.backend.
const (
	BackendFS     = "fs"
	BackendMemory = "memory"
	BackendS3     = "s3"
	BackendRedis  = "redis"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// Root is the repository root. Relative paths below are resolved
	// against it.
	Root        string `yaml:"root"`
	OutDir      string `yaml:"out_dir"`
	Concurrency int    `yaml:"concurrency"`
	// TaskTimeout applies to tasks without their own timeout. Zero means
	// no limit.
	TaskTimeout time.Duration `yaml:"task_timeout"`
	// Env is added to the environment of every task command.
	Env map[string]string `yaml:"env"`

	Log   LogConfig   `yaml:"log"`
	Cache CacheConfig `yaml:"cache"`

	HealthcheckPort int    `yaml:"healthcheck_port"`
	EventForwardURL string `yaml:"event_forward_url"`
	PublishLogs     bool   `yaml:"publish_logs"`
}

// LogConfig selects the level and format of the application logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CacheConfig configures where task results are cached.
type CacheConfig struct {
	Backend string `yaml:"backend"`
	// Dir is the fs backend directory. Empty means <out_dir>/cache.
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"max_bytes"`
	// MemoryTierBytes puts an in-process LRU of this size in front of
	// the backend. Zero disables it.
	MemoryTierBytes  int64  `yaml:"memory_tier_bytes"`
	FailOnWriteError bool   `yaml:"fail_on_write_error"`
	StoreFailures    bool   `yaml:"store_failures"`
	Salt             string `yaml:"salt"`

	S3    s3storage.Config    `yaml:"s3"`
	Redis redisstorage.Config `yaml:"redis"`
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() Config {
	return Config{
		Root:        ".",
		OutDir:      ".monogrid",
		Concurrency: executor.DefaultConcurrency,
		Log:         LogConfig{Level: "info", Format: "text"},
		Cache:       CacheConfig{Backend: BackendFS},
	}
}

// NewConfig validates cfg and returns a copy of it.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.Root == "" {
		return nil, errors.New("root is a required configuration field and cannot be empty")
	}
	if cfg.OutDir == "" {
		return nil, errors.New("out_dir is a required configuration field and cannot be empty")
	}
	if cfg.Concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be >= 1, got %d", cfg.Concurrency)
	}
	if cfg.TaskTimeout < 0 {
		return nil, fmt.Errorf("task_timeout must not be negative, got %s", cfg.TaskTimeout)
	}
	if _, err := parseLevel(cfg.Log.Level); err != nil {
		return nil, err
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return nil, fmt.Errorf("log.format must be text or json, got %q", cfg.Log.Format)
	}
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		return nil, fmt.Errorf("healthcheck_port out of range: %d", cfg.HealthcheckPort)
	}

	c := cfg.Cache
	if c.MaxBytes < 0 || c.MemoryTierBytes < 0 {
		return nil, errors.New("cache sizes must not be negative")
	}
	switch c.Backend {
	case BackendFS, BackendMemory:
	case BackendS3:
		if c.S3.Endpoint == "" {
			return nil, errors.New("cache.s3.endpoint is required for the s3 backend")
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return nil, errors.New("cache.redis.addr is required for the redis backend")
		}
	default:
		return nil, fmt.Errorf("unknown cache.backend %q", c.Backend)
	}

	return &cfg, nil
}
