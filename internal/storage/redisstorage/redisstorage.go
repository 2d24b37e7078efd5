// Package redisstorage is a storage.Backend on Redis. Objects are plain
// string values under "<prefix>:<addr>", optionally expiring.
package redisstorage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vk/monogrid/internal/storage"
)

// Config holds the Redis connection settings.
type Config struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// Backend stores objects in Redis.
type Backend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ storage.Backend = (*Backend)(nil)

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewWithClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string, ttl time.Duration) *Backend {
	if prefix == "" {
		prefix = "monogrid"
	}
	return &Backend{client: client, prefix: prefix, ttl: ttl}
}

// Close closes the Redis connection.
func (b *Backend) Close() error {
	return b.client.Close()
}

func (b *Backend) key(addr string) string {
	return b.prefix + ":" + addr
}

// Put sets the object, replacing any previous value and its expiry.
func (b *Backend) Put(ctx context.Context, addr string, data []byte) error {
	if err := storage.ValidateAddress(addr); err != nil {
		return err
	}
	if err := b.client.Set(ctx, b.key(addr), data, b.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", addr, err)
	}
	return nil
}

// Get returns the object at addr.
func (b *Backend) Get(ctx context.Context, addr string) ([]byte, error) {
	if err := storage.ValidateAddress(addr); err != nil {
		return nil, err
	}
	data, err := b.client.Get(ctx, b.key(addr)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.NotFound(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", addr, err)
	}
	return data, nil
}

// Exists reports whether addr holds an object.
func (b *Backend) Exists(ctx context.Context, addr string) (bool, error) {
	if err := storage.ValidateAddress(addr); err != nil {
		return false, err
	}
	n, err := b.client.Exists(ctx, b.key(addr)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", addr, err)
	}
	return n > 0, nil
}
