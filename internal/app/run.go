package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/vk/monogrid/internal/ctxlog"
	"github.com/vk/monogrid/internal/eventsink"
	"github.com/vk/monogrid/internal/executor"
	"github.com/vk/monogrid/internal/fingerprint"
	"github.com/vk/monogrid/internal/inmemorystore"
	"github.com/vk/monogrid/internal/publish"
	"github.com/vk/monogrid/internal/storage"
	"github.com/vk/monogrid/internal/taskcache"
)

// Run executes the tasks selected by patterns, and their dependencies.
// No patterns runs every task. The error is non-nil for configuration and
// engine failures; task failures are reported through the result.
func (a *App) Run(ctx context.Context, patterns []string) (*executor.Result, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	a.startHealthcheckServer(ctx)
	defer a.closeHealthcheckServer(ctx)

	ws, err := a.LoadWorkspace(ctx)
	if err != nil {
		return nil, err
	}
	defer ws.Close()

	graph, err := selectTasks(ws.Graph, patterns)
	if err != nil {
		return nil, err
	}
	if graph.Len() == 0 {
		a.logger.Warn("No tasks found in workspace, execution not required.")
	}

	backend, closeBackend, err := openBackend(ctx, a.config, ws.Root.String())
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	defer closeBackend()
	client := storage.NewClient(backend)

	defer a.metrics.Attach(ws.Bus)()
	if a.config.EventForwardURL != "" {
		fwd, err := eventsink.Connect(ctx, eventsink.Config{URL: a.config.EventForwardURL})
		if err != nil {
			a.logger.Warn("Event forwarding disabled.", "url", a.config.EventForwardURL, "error", err)
		} else {
			defer fwd.Close()
			defer fwd.Attach(ws.Bus)()
		}
	}

	hashOpts := []fingerprint.Option{fingerprint.WithSalt(a.config.Cache.Salt)}
	if rel, err := filepath.Rel(ws.Root.String(), ws.OutDir); err == nil && filepath.IsLocal(rel) {
		hashOpts = append(hashOpts, fingerprint.WithIgnore(filepath.ToSlash(rel)+"/**"))
	}
	// The full registry keeps outputs of unselected tasks out of inputs.
	hasher := fingerprint.New(ws.Root, ws.Graph.Registry(), hashOpts...)

	exec := executor.New(
		graph,
		ws.Repo,
		taskcache.New(client, ws.Root),
		hasher,
		ws.Bus,
		publish.NewStoragePublisher(client, ws.Bus),
		inmemorystore.New(),
		executor.Config{
			Concurrency:           a.config.Concurrency,
			Root:                  ws.Root,
			OutDir:                ws.OutDir,
			FailOnCacheWriteError: a.config.Cache.FailOnWriteError,
			PublishLogs:           a.config.PublishLogs,
			StoreFailures:         a.config.Cache.StoreFailures,
		},
	)

	runID := a.newRunID()
	a.logger.Info("🚀 Starting run...", "run_id", runID, "tasks", graph.Len())
	res, err := exec.Run(ctx, runID)
	if err != nil {
		return res, fmt.Errorf("execution failed: %w", err)
	}
	a.logger.Info("🏁 Run finished.", "run_id", runID, "verdict", res.Verdict)
	return res, nil
}
