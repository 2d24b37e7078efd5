package events

import (
	"time"

	"github.com/vk/monogrid/internal/report"
	"github.com/vk/monogrid/internal/taskid"
)

// EventType names an event kind on the wire.
type EventType string

const (
	EventRunStarted       EventType = "run.started"
	EventTaskStarted      EventType = "task.started"
	EventExecutionEnded   EventType = "task.ended"
	EventCacheStoreFailed EventType = "cache.store_failed"
	EventAssetPublished   EventType = "asset.published"
	EventTestResult       EventType = "task.test_result"
	EventRunEnded         EventType = "run.ended"
)

// Event is implemented by every payload published on a Bus.
type Event interface {
	EventType() EventType
}

// RunStarted is published once before any task is dispatched.
type RunStarted struct {
	RunID string    `json:"run_id"`
	Tasks int       `json:"tasks"`
	At    time.Time `json:"at"`
}

func (RunStarted) EventType() EventType { return EventRunStarted }

// TaskStarted is published when a task enters RUNNING.
type TaskStarted struct {
	RunID       string          `json:"run_id"`
	Task        taskid.TaskName `json:"task"`
	Fingerprint string          `json:"fingerprint,omitempty"`
}

func (TaskStarted) EventType() EventType { return EventTaskStarted }

// ExecutionEnded carries the final summary of one task, including tasks
// that could not start.
type ExecutionEnded struct {
	RunID   string             `json:"run_id"`
	Summary report.TaskSummary `json:"summary"`
}

func (ExecutionEnded) EventType() EventType { return EventExecutionEnded }

// CacheStoreFailed reports a cache write that did not go through.
type CacheStoreFailed struct {
	RunID       string          `json:"run_id"`
	Task        taskid.TaskName `json:"task"`
	Fingerprint string          `json:"fingerprint"`
	Error       string          `json:"error"`
}

func (CacheStoreFailed) EventType() EventType { return EventCacheStoreFailed }

// AssetPublished reports an asset stored by a Publisher.
type AssetPublished struct {
	Unit    taskid.UnitID `json:"unit"`
	Name    string        `json:"name"`
	Address string        `json:"address"`
	Size    int           `json:"size"`
}

func (AssetPublished) EventType() EventType { return EventAssetPublished }

// TestResult is published by repo protocols for tasks that produce test
// results.
type TestResult struct {
	RunID   string          `json:"run_id"`
	Task    taskid.TaskName `json:"task"`
	Passed  bool            `json:"passed"`
	LogFile string          `json:"log_file,omitempty"`
}

func (TestResult) EventType() EventType { return EventTestResult }

// RunEnded is published once after every task is terminal.
type RunEnded struct {
	RunID     string           `json:"run_id"`
	Verdict   report.Verdict   `json:"verdict"`
	Breakdown report.Breakdown `json:"breakdown"`
	Duration  time.Duration    `json:"duration"`
	Error     string           `json:"error,omitempty"`
}

func (RunEnded) EventType() EventType { return EventRunEnded }
