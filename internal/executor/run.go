package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vk/monogrid/internal/ctxlog"
	"github.com/vk/monogrid/internal/events"
	"github.com/vk/monogrid/internal/report"
	"github.com/vk/monogrid/internal/taskgraph"
	"github.com/vk/monogrid/internal/taskid"
	"golang.org/x/sync/errgroup"
)

// job is one dispatched task together with the fingerprints of its deps.
type job struct {
	info   taskgraph.TaskInfo
	depFps map[taskid.TaskName]string
}

// outcome is what a worker reports back for a job.
type outcome struct {
	summary report.TaskSummary
	// engineErr is set when the engine, not the task, failed.
	engineErr error
}

// coordinator owns the scheduling state of one run.
type coordinator struct {
	e         *Executor
	runID     string
	remaining map[taskid.TaskName]int
	terminal  map[taskid.TaskName]bool
	fps       map[taskid.TaskName]string
	ready     []taskid.TaskName
	engineErr error
}

// Run executes every task of the graph and returns the aggregated result.
// The returned error is non-nil only for engine failures; task failures
// are reported through the result's verdict.
func (e *Executor) Run(ctx context.Context, runID string) (*Result, error) {
	logger := ctxlog.FromContext(ctx).With("run_id", runID)
	ctx = ctxlog.WithLogger(ctx, logger)
	start := time.Now()

	c := &coordinator{
		e:         e,
		runID:     runID,
		remaining: make(map[taskid.TaskName]int, e.graph.Len()),
		terminal:  make(map[taskid.TaskName]bool, e.graph.Len()),
		fps:       make(map[taskid.TaskName]string, e.graph.Len()),
	}

	logger.Info("Run started.", "tasks", e.graph.Len(), "concurrency", e.cfg.Concurrency)
	if err := e.bus.Publish(ctx, events.RunStarted{RunID: runID, Tasks: e.graph.Len(), At: start}); err != nil {
		c.fail(fmt.Errorf("RunStarted handler: %w", err))
	}

	if c.engineErr == nil {
		c.schedule(ctx)
	}
	c.finishRemaining(ctx)

	summaries := e.store.Summaries(ctx)
	res := &Result{
		RunID:     runID,
		Summaries: summaries,
		Breakdown: report.NewBreakdown(summaries),
		Verdict:   report.Overall(summaries),
		Duration:  time.Since(start),
	}

	ended := events.RunEnded{RunID: runID, Breakdown: res.Breakdown, Duration: res.Duration}
	if c.engineErr != nil {
		ended.Error = c.engineErr.Error()
		ended.Verdict = report.VerdictCrash
	} else {
		ended.Verdict = res.Verdict
	}
	if err := e.bus.Publish(ctx, ended); err != nil {
		c.fail(fmt.Errorf("RunEnded handler: %w", err))
	}

	if c.engineErr != nil {
		res.Verdict = report.VerdictCrash
		res.Err = fmt.Errorf("%w: %w", ErrEngine, c.engineErr)
		logger.Error("Run crashed.", "error", c.engineErr, "duration", res.Duration)
		return res, res.Err
	}
	logger.Info("Run finished.", "verdict", res.Verdict, "duration", res.Duration,
		"executed", res.Breakdown.Count("", report.ExecutionExecuted),
		"cached", res.Breakdown.Count("", report.ExecutionCached),
		"cannot_start", res.Breakdown.Count("", report.ExecutionCannotStart),
	)
	return res, nil
}

// fail records an engine failure. The first cause is kept in front.
func (c *coordinator) fail(err error) {
	c.engineErr = errors.Join(c.engineErr, err)
}

// schedule runs the dispatch loop until every task is terminal or the
// engine has failed and no task is in flight.
func (c *coordinator) schedule(ctx context.Context) {
	e := c.e
	logger := ctxlog.FromContext(ctx)

	workCh := make(chan job)
	doneCh := make(chan outcome)
	stop := make(chan struct{})

	inFlight := 0

	var g errgroup.Group
	for i := 0; i < e.cfg.Concurrency; i++ {
		workerID := i
		g.Go(func() error {
			e.worker(ctx, workerID, c.runID, workCh, doneCh, stop)
			return nil
		})
	}
	defer func() {
		if r := recover(); r != nil {
			c.fail(fmt.Errorf("panic in scheduler: %v", r))
		}
		close(workCh)
		// Dispatched tasks record their own result; only collect them.
		for ; inFlight > 0; inFlight-- {
			out := <-doneCh
			c.terminal[out.summary.Task] = true
			if out.engineErr != nil {
				c.fail(out.engineErr)
			}
		}
		close(stop)
		_ = g.Wait()
	}()

	for _, name := range e.graph.Names() {
		c.remaining[name] = len(e.graph.Deps(name))
		if c.remaining[name] == 0 {
			c.markReady(ctx, name)
		}
	}

	total := e.graph.Len()
	done := 0
	ctxDone := ctx.Done()

	for done < total {
		var sendCh chan job
		var next job
		if c.engineErr == nil && len(c.ready) > 0 {
			sendCh = workCh
			next = c.jobFor(c.ready[0])
		}
		if sendCh == nil && inFlight == 0 {
			break
		}

		select {
		case sendCh <- next:
			c.ready = c.ready[1:]
			inFlight++
		case out := <-doneCh:
			inFlight--
			done++
			done += c.complete(ctx, out)
		case <-ctxDone:
			logger.Warn("Run cancelled; waiting for running tasks.", "in_flight", inFlight)
			c.fail(ctx.Err())
			ctxDone = nil
		}
	}

	// The last outcome may win the race against ctx.Done.
	if err := ctx.Err(); err != nil && ctxDone != nil {
		c.fail(err)
	}
}

func (c *coordinator) jobFor(name taskid.TaskName) job {
	info, _ := c.e.graph.Task(name)
	depFps := make(map[taskid.TaskName]string, len(info.Deps))
	for _, d := range info.Deps {
		depFps[d] = c.fps[d]
	}
	return job{info: info, depFps: depFps}
}

func (c *coordinator) markReady(ctx context.Context, name taskid.TaskName) {
	if err := c.e.store.SetPhase(ctx, name, report.PhaseReady); err != nil {
		c.fail(err)
		return
	}
	c.ready = append(c.ready, name)
}

// complete records a finished task and releases or blocks its dependents.
// It returns how many further tasks became terminal as a consequence.
func (c *coordinator) complete(ctx context.Context, out outcome) int {
	name := out.summary.Task
	c.terminal[name] = true
	c.fps[name] = out.summary.Fingerprint
	if out.engineErr != nil {
		c.fail(out.engineErr)
	}

	if !out.summary.Succeeded() {
		return c.block(ctx, name)
	}
	for _, d := range c.e.graph.Dependents(name) {
		c.remaining[d]--
		if c.remaining[d] == 0 && !c.terminal[d] {
			c.markReady(ctx, d)
		}
	}
	return 0
}

// block marks every transitive dependent of a failed task as unable to
// start. None of them has been dispatched yet since each waits for name.
func (c *coordinator) block(ctx context.Context, failed taskid.TaskName) int {
	logger := ctxlog.FromContext(ctx)
	n := 0
	queue := c.e.graph.Dependents(failed)
	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]
		if c.terminal[d] {
			continue
		}
		logger.Debug("Task cannot start.", "task", d.String(), "failed_dep", failed.String())
		c.cannotStart(ctx, d)
		n++
		queue = append(queue, c.e.graph.Dependents(d)...)
	}
	return n
}

// cannotStart makes a task terminal without running it.
func (c *coordinator) cannotStart(ctx context.Context, name taskid.TaskName) {
	c.terminal[name] = true
	summary := report.TaskSummary{
		Task:      name,
		Verdict:   report.VerdictUnknown,
		Execution: report.ExecutionCannotStart,
	}
	if err := c.e.store.SetPhase(ctx, name, report.PhaseDone); err != nil {
		c.fail(err)
	}
	if err := c.e.store.SetSummary(ctx, summary); err != nil {
		c.fail(err)
	}
	if err := c.e.bus.Publish(ctx, events.ExecutionEnded{RunID: c.runID, Summary: summary}); err != nil {
		c.fail(fmt.Errorf("ExecutionEnded handler for %s: %w", name, err))
	}
}

// finishRemaining marks every task that never became terminal, which only
// happens after an engine failure.
func (c *coordinator) finishRemaining(ctx context.Context) {
	for _, name := range c.e.graph.Names() {
		if !c.terminal[name] {
			c.cannotStart(ctx, name)
		}
	}
}
