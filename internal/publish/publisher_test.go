package publish

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/monogrid/internal/canon"
	"github.com/vk/monogrid/internal/events"
	"github.com/vk/monogrid/internal/storage"
	"github.com/vk/monogrid/internal/storage/memstorage"
	"github.com/vk/monogrid/internal/taskid"
)

func TestPublishAsset(t *testing.T) {
	// --- Arrange ---
	ctx := context.Background()
	client := storage.NewClient(memstorage.New())
	bus := events.NewBus()
	var published []events.AssetPublished
	events.On(bus, func(_ context.Context, ev events.AssetPublished) error {
		published = append(published, ev)
		return nil
	})
	unit, err := taskid.NewUnitID("a")
	require.NoError(t, err)
	p := NewStoragePublisher(client, bus)

	// --- Act ---
	addr, err := p.PublishAsset(ctx, unit, []byte("log line\n"), "build.log")
	require.NoError(t, err)

	// --- Assert ---
	got, err := client.GetString(ctx, AssetKey{
		Kind:   "asset",
		Unit:   "a",
		Name:   "build.log",
		SHA256: canon.HashBytes([]byte("log line\n")),
	})
	require.NoError(t, err)
	assert.Equal(t, "log line\n", got)

	require.Len(t, published, 1)
	assert.Equal(t, addr, published[0].Address)
	assert.Equal(t, 9, published[0].Size)
}

func TestPublishAsset_ContentAddressed(t *testing.T) {
	ctx := context.Background()
	p := NewStoragePublisher(storage.NewClient(memstorage.New()), nil)
	unit, err := taskid.NewUnitID("a")
	require.NoError(t, err)

	first, err := p.PublishAsset(ctx, unit, []byte("one"), "x.log")
	require.NoError(t, err)
	second, err := p.PublishAsset(ctx, unit, []byte("two"), "x.log")
	require.NoError(t, err)
	again, err := p.PublishAsset(ctx, unit, []byte("one"), "x.log")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, first, again)
}
