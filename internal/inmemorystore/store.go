package inmemorystore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/vk/monogrid/internal/report"
	"github.com/vk/monogrid/internal/taskid"
)

// Store holds the state of every task of one run.
//
// The store maintains three independent sync.Maps:
//   - phases: task name to report.Phase
//   - summaries: task name to the final report.TaskSummary
//   - errors: task name to the error that made the task FAIL or CRASH
type Store struct {
	phases    sync.Map
	summaries sync.Map
	errors    sync.Map
}

// New creates a new, empty in-memory task state store.
func New() *Store {
	return &Store{}
}

// SetPhase moves a task to next. Tasks start out PENDING; an illegal
// transition is rejected.
func (s *Store) SetPhase(ctx context.Context, task taskid.TaskName, next report.Phase) error {
	for {
		current, ok := s.phases.Load(task)
		if !ok {
			if !report.PhasePending.CanTransition(next) {
				return fmt.Errorf("task %s: illegal phase transition %s -> %s", task, report.PhasePending, next)
			}
			if _, loaded := s.phases.LoadOrStore(task, next); !loaded {
				return nil
			}
			continue
		}

		cur := current.(report.Phase)
		if !cur.CanTransition(next) {
			return fmt.Errorf("task %s: illegal phase transition %s -> %s", task, cur, next)
		}
		if s.phases.CompareAndSwap(task, cur, next) {
			return nil
		}
	}
}

// Phase returns the current phase of a task. Unknown tasks are PENDING.
func (s *Store) Phase(ctx context.Context, task taskid.TaskName) (report.Phase, error) {
	phase, ok := s.phases.Load(task)
	if !ok {
		return report.PhasePending, nil
	}
	return phase.(report.Phase), nil
}

// SetSummary records the final summary of a task.
func (s *Store) SetSummary(ctx context.Context, summary report.TaskSummary) error {
	s.summaries.Store(summary.Task, summary)
	return nil
}

// Summary retrieves the recorded summary of a task.
func (s *Store) Summary(ctx context.Context, task taskid.TaskName) (report.TaskSummary, bool) {
	v, ok := s.summaries.Load(task)
	if !ok {
		return report.TaskSummary{}, false
	}
	return v.(report.TaskSummary), true
}

// Summaries returns every recorded summary sorted by task name.
func (s *Store) Summaries(ctx context.Context) []report.TaskSummary {
	var out []report.TaskSummary
	s.summaries.Range(func(_, v any) bool {
		out = append(out, v.(report.TaskSummary))
		return true
	})
	slices.SortFunc(out, func(a, b report.TaskSummary) int { return a.Task.Compare(b.Task) })
	return out
}

// SetError records the error that ended a task.
func (s *Store) SetError(ctx context.Context, task taskid.TaskName, taskErr error) error {
	s.errors.Store(task, taskErr)
	return nil
}

// Error retrieves the recorded error of a task, or nil.
func (s *Store) Error(ctx context.Context, task taskid.TaskName) error {
	v, ok := s.errors.Load(task)
	if !ok {
		return nil
	}
	return v.(error)
}
