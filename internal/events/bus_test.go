package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/monogrid/internal/report"
	"github.com/vk/monogrid/internal/taskid"
)

func TestPublish_OrderAndTypes(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()
	var got []string

	On(bus, func(_ context.Context, ev RunStarted) error {
		got = append(got, "first:"+ev.RunID)
		return nil
	})
	bus.Subscribe(func(_ context.Context, ev Event) error {
		got = append(got, "all:"+string(ev.EventType()))
		return nil
	})
	On(bus, func(_ context.Context, ev RunEnded) error {
		got = append(got, "ended:"+ev.RunID)
		return nil
	})

	require.NoError(t, bus.Publish(ctx, RunStarted{RunID: "r1"}))
	require.NoError(t, bus.Publish(ctx, RunEnded{RunID: "r1"}))

	assert.Equal(t, []string{
		"first:r1",
		"all:run.started",
		"all:run.ended",
		"ended:r1",
	}, got)
}

func TestPublish_IsAwaited(t *testing.T) {
	bus := NewBus()
	done := false
	On(bus, func(_ context.Context, _ RunStarted) error {
		time.Sleep(20 * time.Millisecond)
		done = true
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), RunStarted{}))
	assert.True(t, done, "Publish must not return before handlers finish")
}

func TestPublish_JoinsErrors(t *testing.T) {
	bus := NewBus()
	errA := errors.New("handler a")
	errB := errors.New("handler b")
	called := 0

	bus.Subscribe(func(context.Context, Event) error { called++; return errA })
	bus.Subscribe(func(context.Context, Event) error { called++; return nil })
	bus.Subscribe(func(context.Context, Event) error { called++; return errB })

	err := bus.Publish(context.Background(), RunStarted{})
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Equal(t, 3, called, "a failing handler does not stop the others")
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()
	calls := 0
	unsub := On(bus, func(context.Context, RunStarted) error { calls++; return nil })

	require.NoError(t, bus.Publish(context.Background(), RunStarted{}))
	unsub()
	unsub()
	require.NoError(t, bus.Publish(context.Background(), RunStarted{}))

	assert.Equal(t, 1, calls)
}

func TestOnce(t *testing.T) {
	bus := NewBus()
	var seen []string
	Once(bus, func(_ context.Context, ev RunStarted) error {
		seen = append(seen, ev.RunID)
		return nil
	})

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, bus.Publish(context.Background(), RunStarted{RunID: id}))
	}
	assert.Equal(t, []string{"a"}, seen)
}

func TestWaitFor(t *testing.T) {
	bus := NewBus()
	target, err := taskid.ParseTaskName("b:build")
	require.NoError(t, err)
	other, err := taskid.ParseTaskName("a:build")
	require.NoError(t, err)

	w := Expect(bus, func(ev ExecutionEnded) bool { return ev.Summary.Task == target })

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = bus.Publish(context.Background(), ExecutionEnded{Summary: report.TaskSummary{Task: other}})
		_ = bus.Publish(context.Background(), ExecutionEnded{Summary: report.TaskSummary{Task: target, Verdict: report.VerdictOK}})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ev, err := w.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.VerdictOK, ev.Summary.Verdict)
	wg.Wait()
}

func TestWaitFor_ContextDone(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := WaitFor[RunEnded](ctx, bus, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The waiter no longer listens.
	require.NoError(t, bus.Publish(context.Background(), RunEnded{}))
}
