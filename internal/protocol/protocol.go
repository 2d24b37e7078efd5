// Package protocol defines how the engine talks to a repository: loading
// units and tasks, executing one task, and publishing assets.
package protocol

import (
	"context"
	"time"

	"github.com/vk/monogrid/internal/dag"
	"github.com/vk/monogrid/internal/events"
	"github.com/vk/monogrid/internal/repopath"
	"github.com/vk/monogrid/internal/report"
	"github.com/vk/monogrid/internal/taskgraph"
	"github.com/vk/monogrid/internal/taskid"
)

// ExitStatus is the outcome of a task execution as seen by the protocol.
type ExitStatus int

const (
	ExitOK ExitStatus = iota
	ExitFail
	ExitCrash
)

func (s ExitStatus) String() string {
	switch s {
	case ExitOK:
		return "OK"
	case ExitFail:
		return "FAIL"
	default:
		return "CRASH"
	}
}

// Verdict maps the exit status to a task verdict.
func (s ExitStatus) Verdict() report.Verdict {
	switch s {
	case ExitOK:
		return report.VerdictOK
	case ExitFail:
		return report.VerdictFail
	default:
		return report.VerdictCrash
	}
}

// Config carries protocol settings resolved by the application.
type Config struct {
	// DefaultTimeout bounds tasks that declare no timeout. Zero means none.
	DefaultTimeout time.Duration
	// Env is added to the environment of every task command.
	Env map[string]string
}

// Runner executes a single task. An error means the task crashed rather
// than failed.
type Runner interface {
	Execute(ctx context.Context, task taskgraph.TaskInfo, outputFile string, runID string) (ExitStatus, error)
}

// RepoProtocol is a complete repository implementation.
type RepoProtocol interface {
	Runner
	Initialize(ctx context.Context, root repopath.Root, bus *events.Bus, outDirName string, cfg Config) error
	Graph() *dag.Graph[taskid.UnitID]
	Units() []taskgraph.Unit
	Definitions() []taskgraph.TaskDefinition
	ExtraDeps() map[taskid.TaskName][]taskid.TaskName
	Close() error
}

// Publisher stores assets produced during a run and returns their address.
type Publisher interface {
	PublishAsset(ctx context.Context, unit taskid.UnitID, content []byte, name string) (string, error)
}
