// Package publish stores run assets, such as task logs, in the content
// store.
package publish

import (
	"context"
	"fmt"

	"github.com/vk/monogrid/internal/canon"
	"github.com/vk/monogrid/internal/ctxlog"
	"github.com/vk/monogrid/internal/events"
	"github.com/vk/monogrid/internal/protocol"
	"github.com/vk/monogrid/internal/storage"
	"github.com/vk/monogrid/internal/taskid"
)

// AssetKey is the storage key of a published asset. Content is part of the
// key, so publishing different content under one name never overwrites.
type AssetKey struct {
	Kind   string `json:"kind"`
	Unit   string `json:"unit"`
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
}

// StoragePublisher is a protocol.Publisher over a storage.Client.
type StoragePublisher struct {
	client storage.Client
	bus    *events.Bus
}

var _ protocol.Publisher = (*StoragePublisher)(nil)

// NewStoragePublisher creates a publisher. bus may be nil.
func NewStoragePublisher(client storage.Client, bus *events.Bus) *StoragePublisher {
	return &StoragePublisher{client: client, bus: bus}
}

// PublishAsset stores content and returns its storage address.
func (p *StoragePublisher) PublishAsset(ctx context.Context, unit taskid.UnitID, content []byte, name string) (string, error) {
	key := AssetKey{Kind: "asset", Unit: unit.String(), Name: name, SHA256: canon.HashBytes(content)}
	addr, err := storage.Address(key)
	if err != nil {
		return "", err
	}
	if err := p.client.PutObject(ctx, key, content); err != nil {
		return "", fmt.Errorf("failed to publish asset %s of unit %s: %w", name, unit, err)
	}
	ctxlog.FromContext(ctx).Debug("Published asset.", "unit", unit.String(), "name", name, "address", addr)

	if p.bus != nil {
		if err := p.bus.Publish(ctx, events.AssetPublished{Unit: unit, Name: name, Address: addr, Size: len(content)}); err != nil {
			return addr, err
		}
	}
	return addr, nil
}
