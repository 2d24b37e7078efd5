// Package storage defines the content store used for cached task results
// and published assets.
//
// Objects are addressed by structured keys. A key is any JSON-serialisable
// value; its address is the hex sha256 of its canonical JSON encoding, so
// two keys that differ only in map key order share one object. Backends
// only ever see addresses.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/monogrid/internal/canon"
)

var (
	// ErrNotFound is returned when no object exists under a key.
	ErrNotFound = errors.New("storage: object not found")
	// ErrInvalidKey is returned for keys that cannot be addressed.
	ErrInvalidKey = errors.New("storage: invalid key")
)

// Backend stores opaque byte objects by address.
type Backend interface {
	Put(ctx context.Context, addr string, data []byte) error
	Get(ctx context.Context, addr string) ([]byte, error)
	Exists(ctx context.Context, addr string) (bool, error)
}

// Client stores objects under structured keys.
type Client interface {
	PutObject(ctx context.Context, key any, data []byte) error
	GetObject(ctx context.Context, key any) ([]byte, error)
	GetString(ctx context.Context, key any) (string, error)
	ObjectExists(ctx context.Context, key any) (bool, error)
}

// Address returns the storage address of key.
func Address(key any) (string, error) {
	if key == nil {
		return "", fmt.Errorf("%w: nil key", ErrInvalidKey)
	}
	addr, err := canon.Hash(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return addr, nil
}

// ValidateAddress checks that addr looks like a hex sha256 digest.
func ValidateAddress(addr string) error {
	if len(addr) != 64 {
		return fmt.Errorf("%w: address %q must be 64 hex characters", ErrInvalidKey, addr)
	}
	for _, c := range addr {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return fmt.Errorf("%w: address %q must be lowercase hex", ErrInvalidKey, addr)
		}
	}
	return nil
}

// NotFound wraps ErrNotFound with the missing address.
func NotFound(addr string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, addr)
}

type client struct {
	backend Backend
}

// NewClient returns a Client that hashes keys onto backend.
func NewClient(backend Backend) Client {
	return &client{backend: backend}
}

func (c *client) PutObject(ctx context.Context, key any, data []byte) error {
	addr, err := Address(key)
	if err != nil {
		return err
	}
	if data == nil {
		data = []byte{}
	}
	if err := c.backend.Put(ctx, addr, data); err != nil {
		return fmt.Errorf("failed to put object %s: %w", addr, err)
	}
	return nil
}

func (c *client) GetObject(ctx context.Context, key any) ([]byte, error) {
	addr, err := Address(key)
	if err != nil {
		return nil, err
	}
	data, err := c.backend.Get(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", addr, err)
	}
	return data, nil
}

func (c *client) GetString(ctx context.Context, key any) (string, error) {
	data, err := c.GetObject(ctx, key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c *client) ObjectExists(ctx context.Context, key any) (bool, error) {
	addr, err := Address(key)
	if err != nil {
		return false, err
	}
	ok, err := c.backend.Exists(ctx, addr)
	if err != nil {
		return false, fmt.Errorf("failed to check object %s: %w", addr, err)
	}
	return ok, nil
}
