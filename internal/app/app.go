package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/vk/monogrid/internal/ctxlog"
	"github.com/vk/monogrid/internal/events"
	"github.com/vk/monogrid/internal/protocol"
	"github.com/vk/monogrid/internal/protocol/hclrepo"
	"github.com/vk/monogrid/internal/repopath"
	"github.com/vk/monogrid/internal/taskgraph"
	"github.com/vk/monogrid/internal/taskid"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW       io.Writer
	logger     *slog.Logger
	config     *Config
	metrics    *Metrics
	httpServer *http.Server
	newRunID   func() string
}

// NewApp is the constructor for the main application. It returns an App
// with its own isolated logger and metrics registry.
func NewApp(outW io.Writer, cfg *Config) *App {
	logger := newLogger(cfg.Log, outW)
	logger.Debug("Logger configured successfully.")

	return &App{
		outW:     outW,
		logger:   logger,
		config:   cfg,
		metrics:  NewMetrics(),
		newRunID: func() string { return uuid.NewString() },
	}
}

// Logger returns the application's logger.
func (a *App) Logger() *slog.Logger { return a.logger }

// Metrics returns the application's metrics. This is primarily for testing.
func (a *App) Metrics() *Metrics { return a.metrics }

// Config returns the configuration the app was created with.
func (a *App) Config() *Config { return a.config }

// Workspace is a loaded repository: its protocol, its full task graph and
// the bus the protocol publishes on.
type Workspace struct {
	Root   repopath.Root
	OutDir string
	Repo   protocol.RepoProtocol
	Graph  *taskgraph.Graph
	Bus    *events.Bus
}

// Close releases the repo protocol.
func (w *Workspace) Close() error {
	return w.Repo.Close()
}

// LoadWorkspace reads the workspace configuration below the configured
// root and builds its task graph.
func (a *App) LoadWorkspace(ctx context.Context) (*Workspace, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	logger := a.logger

	absRoot, err := filepath.Abs(a.config.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", a.config.Root, err)
	}
	root, err := repopath.NewRoot(absRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", taskgraph.ErrConfig, err)
	}
	outDir, outDirName := a.outDir(absRoot)

	bus := events.NewBus()
	repo := hclrepo.New()
	pcfg := protocol.Config{DefaultTimeout: a.config.TaskTimeout, Env: a.config.Env}
	if err := repo.Initialize(ctx, root, bus, outDirName, pcfg); err != nil {
		return nil, fmt.Errorf("failed to load workspace: %w", err)
	}

	graph, err := taskgraph.Build(ctx, repo.Units(), repo.Graph(), repo.Definitions(), repo.ExtraDeps())
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("failed to build task graph: %w", err)
	}
	logger.Debug("Task graph built.", "tasks", graph.Len(), "units", len(graph.Units()))

	return &Workspace{Root: root, OutDir: outDir, Repo: repo, Graph: graph, Bus: bus}, nil
}

// outDir returns the absolute out dir and, when it lies inside the
// repository, the name of its top-level directory there.
func (a *App) outDir(absRoot string) (string, string) {
	dir := a.config.OutDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(absRoot, dir)
	}
	rel, err := filepath.Rel(absRoot, dir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return dir, ""
	}
	return dir, strings.Split(filepath.ToSlash(rel), "/")[0]
}

// Graph loads the workspace and returns the graph selected by patterns.
func (a *App) Graph(ctx context.Context, patterns []string) (*taskgraph.Graph, error) {
	ws, err := a.LoadWorkspace(ctx)
	if err != nil {
		return nil, err
	}
	defer ws.Close()
	return selectTasks(ws.Graph, patterns)
}

// Owner returns the tasks whose outputs contain or lie below path. A
// relative path is relative to the repository root.
func (a *App) Owner(ctx context.Context, path string) ([]taskid.TaskName, error) {
	ws, err := a.LoadWorkspace(ctx)
	if err != nil {
		return nil, err
	}
	defer ws.Close()

	var p repopath.Path
	if filepath.IsAbs(path) {
		p, err = ws.Root.Unresolve(path)
	} else {
		p, err = repopath.New(filepath.ToSlash(path))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", taskgraph.ErrConfig, err)
	}
	return ws.Graph.Registry().WideLookup(p), nil
}

func selectTasks(g *taskgraph.Graph, patterns []string) (*taskgraph.Graph, error) {
	selected, err := g.Select(patterns)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", taskgraph.ErrConfig, err)
	}
	return selected, nil
}
