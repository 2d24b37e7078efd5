package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/vk/monogrid/internal/protocol"
	"github.com/vk/monogrid/internal/taskgraph"
)

// Script describes how FakeRunner answers for one task.
type Script struct {
	Status protocol.ExitStatus
	Err    error
	Panic  any
	Sleep  time.Duration
	// Do runs before the status is returned, e.g. to write outputs.
	Do func(ctx context.Context, task taskgraph.TaskInfo, outputFile string) error
}

// ExecutionRecord holds the start and end times of one execution.
type ExecutionRecord struct {
	Start time.Time
	End   time.Time
}

// FakeRunner is a scripted protocol.Runner that records every call and the
// highest number of calls that were in flight at once.
type FakeRunner struct {
	mu         sync.Mutex
	scripts    map[string]Script
	calls      []string
	records    map[string]ExecutionRecord
	running    int
	maxRunning int

	// Default answers tasks without a script.
	Default Script
}

var _ protocol.Runner = (*FakeRunner)(nil)

// NewFakeRunner returns a runner that succeeds for every task.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		scripts: make(map[string]Script),
		records: make(map[string]ExecutionRecord),
	}
}

// On sets the script of the task with the given name.
func (f *FakeRunner) On(task string, s Script) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[task] = s
	return f
}

// Execute implements protocol.Runner.
func (f *FakeRunner) Execute(ctx context.Context, task taskgraph.TaskInfo, outputFile string, runID string) (protocol.ExitStatus, error) {
	name := task.Name.String()

	f.mu.Lock()
	s, ok := f.scripts[name]
	if !ok {
		s = f.Default
	}
	f.calls = append(f.calls, name)
	f.running++
	if f.running > f.maxRunning {
		f.maxRunning = f.running
	}
	f.mu.Unlock()

	start := time.Now()
	defer func() {
		f.mu.Lock()
		f.running--
		f.records[name] = ExecutionRecord{Start: start, End: time.Now()}
		f.mu.Unlock()
	}()

	if s.Sleep > 0 {
		select {
		case <-time.After(s.Sleep):
		case <-ctx.Done():
			return protocol.ExitCrash, ctx.Err()
		}
	}
	if s.Do != nil {
		if err := s.Do(ctx, task, outputFile); err != nil {
			return protocol.ExitCrash, err
		}
	}
	if s.Panic != nil {
		panic(s.Panic)
	}
	return s.Status, s.Err
}

// Calls returns the task names in the order Execute was entered.
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount returns how often task was executed.
func (f *FakeRunner) CallCount(task string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == task {
			n++
		}
	}
	return n
}

// MaxConcurrent returns the highest number of simultaneous executions seen.
func (f *FakeRunner) MaxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxRunning
}

// Record returns the timing of the last execution of task.
func (f *FakeRunner) Record(task string) (ExecutionRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[task]
	return r, ok
}
