// Package taskcache stores and restores task results keyed by fingerprint.
//
// A cached result is two storage objects: the output archive, written
// first, and the record that points at it. A record is only ever visible
// once its archive is complete.
package taskcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vk/monogrid/internal/artifact"
	"github.com/vk/monogrid/internal/ctxlog"
	"github.com/vk/monogrid/internal/repopath"
	"github.com/vk/monogrid/internal/report"
	"github.com/vk/monogrid/internal/storage"
	"github.com/vk/monogrid/internal/taskid"
)

// ErrStaleRecord is returned by Restore when a record outlived its output
// archive, for example after size-limit eviction. Callers treat it as a
// miss.
var ErrStaleRecord = errors.New("cache record without output archive")

// Record describes one cached task result.
type Record struct {
	Task        taskid.TaskName `json:"task"`
	Fingerprint string          `json:"fingerprint"`
	Verdict     report.Verdict  `json:"verdict"`
	Outputs     []string        `json:"outputs"`
	Archive     bool            `json:"archive"`
	StoredAt    time.Time       `json:"stored_at"`
}

type objectKey struct {
	Kind        string `json:"kind"`
	Task        string `json:"task"`
	Fingerprint string `json:"fingerprint"`
}

func recordKey(task taskid.TaskName, fp string) objectKey {
	return objectKey{Kind: "task-record", Task: task.String(), Fingerprint: fp}
}

func archiveKey(task taskid.TaskName, fp string) objectKey {
	return objectKey{Kind: "task-archive", Task: task.String(), Fingerprint: fp}
}

// Cache reads and writes task results through a storage.Client.
type Cache struct {
	client storage.Client
	root   repopath.Root
	now    func() time.Time
}

// New creates a cache over client for the repository at root.
func New(client storage.Client, root repopath.Root) *Cache {
	return &Cache{client: client, root: root, now: time.Now}
}

// Lookup returns the record for task at fingerprint fp. A missing record is
// a miss, not an error.
func (c *Cache) Lookup(ctx context.Context, task taskid.TaskName, fp string) (*Record, bool, error) {
	data, err := c.client.GetObject(ctx, recordKey(task, fp))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup for %s: %w", task, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("corrupt cache record for %s: %w", task, err)
	}
	return &rec, true, nil
}

// Restore replaces the outputs on disk with the cached ones. The archive is
// fetched before anything on disk is touched, so a failed fetch leaves the
// outputs as they were.
func (c *Cache) Restore(ctx context.Context, rec *Record, outputs []repopath.Path) error {
	var data []byte
	if rec.Archive {
		var err error
		data, err = c.client.GetObject(ctx, archiveKey(rec.Task, rec.Fingerprint))
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrStaleRecord, rec.Task)
		}
		if err != nil {
			return fmt.Errorf("failed to fetch output archive of %s: %w", rec.Task, err)
		}
	}

	if err := artifact.Purge(c.root, outputs); err != nil {
		return err
	}
	if !rec.Archive {
		return nil
	}
	if err := artifact.Unpack(c.root, data, outputs); err != nil {
		return fmt.Errorf("failed to restore outputs of %s: %w", rec.Task, err)
	}
	ctxlog.FromContext(ctx).Debug("Restored cached outputs.", "task", rec.Task.String(), "bytes", len(data))
	return nil
}

// Store archives the outputs of task and records verdict under fp.
func (c *Cache) Store(ctx context.Context, task taskid.TaskName, fp string, verdict report.Verdict, outputs []repopath.Path) error {
	rec := Record{
		Task:        task,
		Fingerprint: fp,
		Verdict:     verdict,
		Outputs:     make([]string, 0, len(outputs)),
		StoredAt:    c.now().UTC(),
	}
	for _, out := range outputs {
		rec.Outputs = append(rec.Outputs, out.String())
	}

	if len(outputs) > 0 {
		data, err := artifact.Pack(c.root, outputs)
		if err != nil {
			return fmt.Errorf("failed to archive outputs of %s: %w", task, err)
		}
		if err := c.client.PutObject(ctx, archiveKey(task, fp), data); err != nil {
			return fmt.Errorf("failed to store output archive of %s: %w", task, err)
		}
		rec.Archive = true
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode cache record: %w", err)
	}
	if err := c.client.PutObject(ctx, recordKey(task, fp), data); err != nil {
		return fmt.Errorf("failed to store cache record of %s: %w", task, err)
	}
	return nil
}
