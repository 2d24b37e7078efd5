package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vk/monogrid/internal/artifact"
	"github.com/vk/monogrid/internal/ctxlog"
	"github.com/vk/monogrid/internal/events"
	"github.com/vk/monogrid/internal/protocol"
	"github.com/vk/monogrid/internal/repopath"
	"github.com/vk/monogrid/internal/report"
	"github.com/vk/monogrid/internal/taskcache"
	"github.com/vk/monogrid/internal/taskgraph"
	"github.com/vk/monogrid/internal/taskid"
)

// worker is the processing loop of a single pool goroutine.
func (e *Executor) worker(ctx context.Context, workerID int, runID string, workCh <-chan job, doneCh chan<- outcome, stop <-chan struct{}) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker started.", "workerID", workerID)

	for j := range workCh {
		taskCtx := ctxlog.WithLogger(ctx, logger.With("workerID", workerID, "task", j.info.Name.String()))
		out := e.runTask(taskCtx, runID, j)
		select {
		case doneCh <- out:
		case <-stop:
		}
	}
	logger.Debug("Worker finished.", "workerID", workerID)
}

// taskRun accumulates the state of one task execution.
type taskRun struct {
	summary   report.TaskSummary
	taskErr   error
	engineErr error
}

func (r *taskRun) crash(err error) {
	r.summary.Verdict = report.VerdictCrash
	r.taskErr = err
}

// runTask takes a dispatched task to a terminal state.
func (e *Executor) runTask(ctx context.Context, runID string, j job) (out outcome) {
	logger := ctxlog.FromContext(ctx)
	info := j.info
	start := time.Now()
	r := &taskRun{summary: report.TaskSummary{Task: info.Name, Verdict: report.VerdictUnknown, Execution: report.ExecutionUnknown}}

	defer func() {
		if p := recover(); p != nil {
			r.crash(fmt.Errorf("panic while handling task: %v", p))
			r.engineErr = errors.Join(r.engineErr, fmt.Errorf("panic while handling %s: %v", info.Name, p))
		}
		out = e.finishTask(ctx, runID, r, start)
	}()

	if err := e.store.SetPhase(ctx, info.Name, report.PhaseRunning); err != nil {
		r.crash(err)
		r.engineErr = err
		return
	}
	if err := e.bus.Publish(ctx, events.TaskStarted{RunID: runID, Task: info.Name}); err != nil {
		r.crash(err)
		r.engineErr = fmt.Errorf("TaskStarted handler for %s: %w", info.Name, err)
		return
	}

	fp, err := e.hasher.Compute(info, j.depFps)
	if err != nil {
		r.crash(fmt.Errorf("failed to fingerprint: %w", err))
		return
	}
	r.summary.Fingerprint = fp
	logger.Debug("Task fingerprinted.", "fingerprint", fp)

	caching := info.UseCaching && e.cache != nil
	if caching {
		hit, err := e.tryCache(ctx, r, info, fp)
		if err != nil {
			r.crash(err)
			return
		}
		if hit {
			return
		}
	}

	logPath := e.logPath(info.Name)
	e.execute(ctx, r, info, logPath, runID)

	if caching && r.taskErr == nil && e.shouldStore(r.summary.Verdict) {
		e.storeResult(ctx, r, runID, info, fp)
	}
	if e.cfg.PublishLogs && r.summary.Verdict == report.VerdictOK && e.publisher != nil {
		e.publishLog(ctx, info.Name, logPath)
	}
	return
}

// tryCache restores the task from the cache on a hit.
func (e *Executor) tryCache(ctx context.Context, r *taskRun, info taskgraph.TaskInfo, fp string) (bool, error) {
	rec, ok, err := e.cache.Lookup(ctx, info.Name, fp)
	if err != nil {
		return false, err
	}
	if !ok {
		ctxlog.FromContext(ctx).Debug("Cache miss.")
		return false, nil
	}
	if err := e.cache.Restore(ctx, rec, outputPaths(info.Outputs)); err != nil {
		if errors.Is(err, taskcache.ErrStaleRecord) {
			// Storing the new result overwrites the record.
			ctxlog.FromContext(ctx).Warn("Cached outputs are gone; running task.", "error", err)
			return false, nil
		}
		return false, err
	}
	ctxlog.FromContext(ctx).Debug("Cache hit; outputs restored.", "cached_verdict", rec.Verdict)
	r.summary.Execution = report.ExecutionCached
	r.summary.Verdict = rec.Verdict
	return true, nil
}

// execute purges ALWAYS outputs and hands the task to the runner.
func (e *Executor) execute(ctx context.Context, r *taskRun, info taskgraph.TaskInfo, logPath string, runID string) {
	r.summary.Execution = report.ExecutionExecuted

	var purge []repopath.Path
	for _, o := range info.Outputs {
		if o.Purge == taskgraph.PurgeAlways {
			purge = append(purge, o.Path)
		}
	}
	if err := artifact.Purge(e.cfg.Root, purge); err != nil {
		r.crash(err)
		return
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		r.crash(fmt.Errorf("failed to create log directory: %w", err))
		return
	}
	if err := os.WriteFile(logPath, nil, 0o644); err != nil {
		r.crash(fmt.Errorf("failed to create log file: %w", err))
		return
	}

	status, err := e.invoke(ctx, info, logPath, runID)
	if err != nil {
		r.crash(err)
		return
	}
	r.summary.Verdict = status.Verdict()
	if status == protocol.ExitCrash {
		r.taskErr = fmt.Errorf("task reported a crash")
	}
}

// invoke calls the runner, turning a panic into an error.
func (e *Executor) invoke(ctx context.Context, info taskgraph.TaskInfo, logPath string, runID string) (status protocol.ExitStatus, err error) {
	defer func() {
		if p := recover(); p != nil {
			status, err = protocol.ExitCrash, fmt.Errorf("task panicked: %v", p)
		}
	}()
	return e.runner.Execute(ctx, info, logPath, runID)
}

func (e *Executor) shouldStore(v report.Verdict) bool {
	return v == report.VerdictOK || (v == report.VerdictFail && e.cfg.StoreFailures)
}

// storeResult writes the task to the cache. A failure never changes the
// task verdict.
func (e *Executor) storeResult(ctx context.Context, r *taskRun, runID string, info taskgraph.TaskInfo, fp string) {
	err := e.cache.Store(ctx, info.Name, fp, r.summary.Verdict, outputPaths(info.Outputs))
	if err == nil {
		return
	}
	ctxlog.FromContext(ctx).Error("Failed to store task result in cache.", "error", err)
	if pubErr := e.bus.Publish(ctx, events.CacheStoreFailed{RunID: runID, Task: info.Name, Fingerprint: fp, Error: err.Error()}); pubErr != nil {
		r.engineErr = errors.Join(r.engineErr, fmt.Errorf("CacheStoreFailed handler for %s: %w", info.Name, pubErr))
	}
	if e.cfg.FailOnCacheWriteError {
		r.engineErr = errors.Join(r.engineErr, fmt.Errorf("cache write for %s: %w", info.Name, err))
	}
}

func (e *Executor) publishLog(ctx context.Context, name taskid.TaskName, logPath string) {
	logger := ctxlog.FromContext(ctx)
	content, err := os.ReadFile(logPath)
	if err != nil {
		logger.Warn("Cannot read task log for publishing.", "error", err)
		return
	}
	if _, err := e.publisher.PublishAsset(ctx, name.Unit(), content, filepath.Base(logPath)); err != nil {
		logger.Warn("Failed to publish task log.", "error", err)
	}
}

// finishTask records the terminal state of a task and announces it.
func (e *Executor) finishTask(ctx context.Context, runID string, r *taskRun, start time.Time) outcome {
	logger := ctxlog.FromContext(ctx)
	r.summary.Duration = time.Since(start)
	if r.taskErr != nil {
		r.summary.Err = r.taskErr.Error()
		if err := e.store.SetError(ctx, r.summary.Task, r.taskErr); err != nil {
			r.engineErr = errors.Join(r.engineErr, err)
		}
	}
	if err := e.store.SetSummary(ctx, r.summary); err != nil {
		r.engineErr = errors.Join(r.engineErr, err)
	}
	if err := e.store.SetPhase(ctx, r.summary.Task, report.PhaseDone); err != nil {
		r.engineErr = errors.Join(r.engineErr, err)
	}

	switch r.summary.Verdict {
	case report.VerdictOK:
		logger.Debug("Task finished.", "execution", r.summary.Execution, "duration", r.summary.Duration)
	case report.VerdictFail:
		logger.Warn("Task failed.", "execution", r.summary.Execution, "duration", r.summary.Duration)
	default:
		logger.Error("Task crashed.", "error", r.taskErr, "duration", r.summary.Duration)
	}

	if err := e.bus.Publish(ctx, events.ExecutionEnded{RunID: runID, Summary: r.summary}); err != nil {
		r.engineErr = errors.Join(r.engineErr, fmt.Errorf("ExecutionEnded handler for %s: %w", r.summary.Task, err))
	}
	return outcome{summary: r.summary, engineErr: r.engineErr}
}

// logPath returns <outdir>/logs/<unit>/<kind>[.<sub>].log.
func (e *Executor) logPath(name taskid.TaskName) string {
	file := name.Kind().String()
	if sub := name.Sub(); sub != "" {
		file += "." + sub
	}
	return filepath.Join(e.cfg.OutDir, "logs", name.Unit().String(), file+".log")
}

func outputPaths(locs []taskgraph.OutputLocation) []repopath.Path {
	paths := make([]repopath.Path, 0, len(locs))
	for _, l := range locs {
		paths = append(paths, l.Path)
	}
	return paths
}
