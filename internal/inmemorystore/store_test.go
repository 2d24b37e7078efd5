package inmemorystore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/monogrid/internal/report"
	"github.com/vk/monogrid/internal/taskid"
)

func name(t *testing.T, s string) taskid.TaskName {
	t.Helper()
	n, err := taskid.ParseTaskName(s)
	require.NoError(t, err)
	return n
}

func TestSetAndGetPhase(t *testing.T) {
	s := New()
	ctx := context.Background()
	task := name(t, "a:build")

	// A task that was never touched is pending.
	phase, err := s.Phase(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, report.PhasePending, phase)

	require.NoError(t, s.SetPhase(ctx, task, report.PhaseReady))
	require.NoError(t, s.SetPhase(ctx, task, report.PhaseRunning))

	phase, err = s.Phase(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, report.PhaseRunning, phase)

	require.NoError(t, s.SetPhase(ctx, task, report.PhaseDone))
}

func TestSetPhase_Illegal(t *testing.T) {
	s := New()
	ctx := context.Background()
	task := name(t, "a:build")

	err := s.SetPhase(ctx, task, report.PhaseRunning)
	assert.ErrorContains(t, err, "illegal phase transition PENDING -> RUNNING")

	require.NoError(t, s.SetPhase(ctx, task, report.PhaseDone))
	err = s.SetPhase(ctx, task, report.PhaseReady)
	assert.ErrorContains(t, err, "illegal phase transition DONE -> READY")
}

func TestSetAndGetSummary(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, ok := s.Summary(ctx, name(t, "a:build"))
	assert.False(t, ok)

	require.NoError(t, s.SetSummary(ctx, report.TaskSummary{Task: name(t, "b:build"), Verdict: report.VerdictOK}))
	require.NoError(t, s.SetSummary(ctx, report.TaskSummary{Task: name(t, "a:build"), Verdict: report.VerdictFail}))

	got, ok := s.Summary(ctx, name(t, "a:build"))
	require.True(t, ok)
	assert.Equal(t, report.VerdictFail, got.Verdict)

	all := s.Summaries(ctx)
	require.Len(t, all, 2)
	assert.Equal(t, "a:build", all[0].Task.String())
}

func TestSetAndGetError(t *testing.T) {
	s := New()
	ctx := context.Background()
	task := name(t, "a:build")

	assert.Nil(t, s.Error(ctx, task))

	expectedErr := errors.New("a test error occurred")
	require.NoError(t, s.SetError(ctx, task, expectedErr))
	assert.Equal(t, expectedErr, s.Error(ctx, task))
}

// TestStore_ConcurrentTransitions verifies that only one of many goroutines
// racing to move the same task out of READY succeeds.
func TestStore_ConcurrentTransitions(t *testing.T) {
	s := New()
	ctx := context.Background()
	task := name(t, "a:build")
	require.NoError(t, s.SetPhase(ctx, task, report.PhaseReady))

	const numGoroutines = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			if err := s.SetPhase(ctx, task, report.PhaseRunning); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := New()
	ctx := context.Background()
	numGoroutines := 100
	var wg sync.WaitGroup

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(i int) {
			defer wg.Done()
			task, err := taskid.ParseTaskName(fmt.Sprintf("u%d:build", i))
			if err != nil {
				t.Errorf("failed to parse task name: %v", err)
				return
			}
			_ = s.SetPhase(ctx, task, report.PhaseDone)
			_ = s.SetSummary(ctx, report.TaskSummary{Task: task, Verdict: report.VerdictOK})
		}(i)
	}
	wg.Wait()

	assert.Len(t, s.Summaries(ctx), numGoroutines)
}
