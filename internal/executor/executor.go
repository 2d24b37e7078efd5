// Package executor runs a task graph: it dispatches tasks in dependency
// order onto a bounded worker pool, serves them from the cache when it can,
// and aggregates their outcomes into a run verdict.
//
// # Concurrency Model
//
// A single coordinator goroutine owns all scheduling state: the remaining
// dependency counters, the FIFO ready queue and the fingerprints of
// finished tasks. Workers in an errgroup pull jobs from an unbuffered work
// channel and report outcomes on a done channel; they never touch
// scheduling state. A task is dispatched only after every dependency is
// terminal and succeeded.
package executor

import (
	"context"
	"errors"
	"time"

	"github.com/vk/monogrid/internal/events"
	"github.com/vk/monogrid/internal/protocol"
	"github.com/vk/monogrid/internal/repopath"
	"github.com/vk/monogrid/internal/report"
	"github.com/vk/monogrid/internal/taskcache"
	"github.com/vk/monogrid/internal/taskgraph"
	"github.com/vk/monogrid/internal/taskid"
)

// DefaultConcurrency is the number of tasks run at once when Config leaves
// it unset.
const DefaultConcurrency = 16

// ErrEngine wraps every failure of the engine itself, as opposed to a
// failure of a task.
var ErrEngine = errors.New("engine crash")

// Config holds the execution settings of one Executor.
type Config struct {
	Concurrency int
	// Root is the repository the outputs live in.
	Root repopath.Root
	// OutDir is the absolute directory receiving per-task log files.
	OutDir string
	// FailOnCacheWriteError turns a failed cache store into an engine crash.
	FailOnCacheWriteError bool
	// PublishLogs publishes the log of every successful executed task.
	PublishLogs bool
	// StoreFailures caches FAIL results as well as OK ones.
	StoreFailures bool
}

// StateStore records per-task phases and outcomes.
type StateStore interface {
	SetPhase(ctx context.Context, task taskid.TaskName, next report.Phase) error
	Phase(ctx context.Context, task taskid.TaskName) (report.Phase, error)
	SetSummary(ctx context.Context, summary report.TaskSummary) error
	SetError(ctx context.Context, task taskid.TaskName, err error) error
	Summaries(ctx context.Context) []report.TaskSummary
}

// Fingerprinter computes the cache key of a task.
type Fingerprinter interface {
	Compute(task taskgraph.TaskInfo, deps map[taskid.TaskName]string) (string, error)
}

// Cache looks up, restores and stores task results.
type Cache interface {
	Lookup(ctx context.Context, task taskid.TaskName, fp string) (*taskcache.Record, bool, error)
	Restore(ctx context.Context, rec *taskcache.Record, outputs []repopath.Path) error
	Store(ctx context.Context, task taskid.TaskName, fp string, verdict report.Verdict, outputs []repopath.Path) error
}

// Executor runs one task graph. It is not reusable across runs.
type Executor struct {
	graph     *taskgraph.Graph
	runner    protocol.Runner
	cache     Cache
	hasher    Fingerprinter
	bus       *events.Bus
	publisher protocol.Publisher
	store     StateStore
	cfg       Config
}

// New creates an executor. cache and publisher may be nil, which disables
// caching and log publishing respectively.
func New(
	graph *taskgraph.Graph,
	runner protocol.Runner,
	cache Cache,
	hasher Fingerprinter,
	bus *events.Bus,
	publisher protocol.Publisher,
	store StateStore,
	cfg Config,
) *Executor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Executor{
		graph:     graph,
		runner:    runner,
		cache:     cache,
		hasher:    hasher,
		bus:       bus,
		publisher: publisher,
		store:     store,
		cfg:       cfg,
	}
}

// Result is the outcome of a run.
type Result struct {
	RunID     string
	Summaries []report.TaskSummary
	Breakdown report.Breakdown
	Verdict   report.Verdict
	Duration  time.Duration
	// Err is the engine failure, if any. It wraps ErrEngine and the cause.
	Err error
}
