package hclrepo

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/monogrid/internal/ctxlog"
	"github.com/vk/monogrid/internal/dag"
	"github.com/vk/monogrid/internal/events"
	"github.com/vk/monogrid/internal/protocol"
	"github.com/vk/monogrid/internal/repopath"
	"github.com/vk/monogrid/internal/taskgraph"
	"github.com/vk/monogrid/internal/taskid"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// Repo is the HCL workspace implementation of protocol.RepoProtocol.
type Repo struct {
	root      repopath.Root
	bus       *events.Bus
	cfg       protocol.Config
	ws        *workspace
	unitGraph *dag.Graph[taskid.UnitID]
	units     map[taskid.UnitID]taskgraph.Unit
}

var _ protocol.RepoProtocol = (*Repo)(nil)

// New returns an uninitialized repo protocol.
func New() *Repo {
	return &Repo{}
}

// Initialize loads the workspace below root.
func (r *Repo) Initialize(ctx context.Context, root repopath.Root, bus *events.Bus, outDirName string, cfg protocol.Config) error {
	ws, err := load(ctx, root, outDirName)
	if err != nil {
		return err
	}
	unitGraph, err := taskgraph.NewUnitGraph(ws.units)
	if err != nil {
		return err
	}

	r.root = root
	r.bus = bus
	r.cfg = cfg
	r.ws = ws
	r.unitGraph = unitGraph
	r.units = make(map[taskid.UnitID]taskgraph.Unit, len(ws.units))
	for _, u := range ws.units {
		r.units[u.ID] = u
	}
	ctxlog.FromContext(ctx).Info("Workspace initialized.", "root", root.String(), "units", len(ws.units))
	return nil
}

// Graph returns the unit dependency graph.
func (r *Repo) Graph() *dag.Graph[taskid.UnitID] { return r.unitGraph }

// Units returns the declared units sorted by id.
func (r *Repo) Units() []taskgraph.Unit {
	units := slices.Clone(r.ws.units)
	taskgraph.SortUnits(units)
	return units
}

// Definitions returns task definitions in the order they were read.
func (r *Repo) Definitions() []taskgraph.TaskDefinition {
	defs := make([]taskgraph.TaskDefinition, 0, len(r.ws.specs))
	for _, s := range r.ws.specs {
		defs = append(defs, s.def)
	}
	return defs
}

// ExtraDeps returns the explicit deps of every task, taken from the
// definition that wins for its unit.
func (r *Repo) ExtraDeps() map[taskid.TaskName][]taskid.TaskName {
	extra := make(map[taskid.TaskName][]taskid.TaskName)
	for _, u := range r.Units() {
		seen := make(map[taskid.TaskKind]bool)
		for _, s := range r.ws.specs {
			if seen[s.def.Kind] {
				continue
			}
			seen[s.def.Kind] = true
			winner := r.ws.applicable(u.ID, s.def.Kind)
			if winner == nil || len(winner.deps) == 0 {
				continue
			}
			extra[taskid.Of(u.ID, s.def.Kind)] = slices.Clone(winner.deps)
		}
	}
	return extra
}

// Close releases nothing; the protocol holds no external resources.
func (r *Repo) Close() error { return nil }

// Execute runs the command of task with stdout and stderr appended to
// outputFile. A non-zero exit or a timeout is a failure; anything that
// prevents the command from running at all is returned as an error.
func (r *Repo) Execute(ctx context.Context, task taskgraph.TaskInfo, outputFile string, runID string) (protocol.ExitStatus, error) {
	logger := ctxlog.FromContext(ctx).With("task", task.Name.String())

	unit, ok := r.units[task.Name.Unit()]
	if !ok {
		return protocol.ExitCrash, fmt.Errorf("task %s belongs to unknown unit", task.Name)
	}
	spec := r.ws.applicable(unit.ID, task.Name.Kind())
	if spec == nil || !spec.hasCommand {
		logger.Debug("No command defined; nothing to run.")
		return protocol.ExitOK, nil
	}

	command, err := r.renderCommand(spec.command, unit, task, runID)
	if err != nil {
		return protocol.ExitCrash, err
	}
	file, err := syntax.NewParser().Parse(strings.NewReader(command), task.Name.String())
	if err != nil {
		return protocol.ExitCrash, fmt.Errorf("failed to parse command of %s: %w", task.Name, err)
	}

	out, err := os.OpenFile(outputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return protocol.ExitCrash, fmt.Errorf("failed to open output file: %w", err)
	}
	defer out.Close()

	runCtx := ctx
	timeout := spec.timeout
	if timeout == 0 {
		timeout = r.cfg.DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	runner, err := interp.New(
		interp.Env(expand.ListEnviron(r.environ(unit, task, runID)...)),
		interp.Dir(r.root.Resolve(unit.Path)),
		interp.StdIO(nil, out, out),
	)
	if err != nil {
		return protocol.ExitCrash, fmt.Errorf("failed to create shell for %s: %w", task.Name, err)
	}

	logger.Debug("Running command.", "command", command)
	start := time.Now()
	runErr := runner.Run(runCtx, file)

	status, err := classify(ctx, runCtx, runErr)
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		fmt.Fprintf(out, "\nmonogrid: %s timed out after %s\n", task.Name, timeout)
	}
	logger.Debug("Command finished.", "status", status, "duration", time.Since(start))

	if spec.testResults && err == nil && r.bus != nil {
		if pubErr := r.bus.Publish(ctx, events.TestResult{
			RunID:   runID,
			Task:    task.Name,
			Passed:  status == protocol.ExitOK,
			LogFile: outputFile,
		}); pubErr != nil {
			return status, pubErr
		}
	}
	return status, err
}

// classify maps the shell's result onto an exit status.
func classify(ctx, runCtx context.Context, runErr error) (protocol.ExitStatus, error) {
	if runErr == nil {
		return protocol.ExitOK, nil
	}
	if ctx.Err() != nil {
		return protocol.ExitCrash, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return protocol.ExitFail, nil
	}
	var exit interp.ExitStatus
	if errors.As(runErr, &exit) {
		return protocol.ExitFail, nil
	}
	return protocol.ExitCrash, runErr
}

func (r *Repo) renderCommand(expr hcl.Expression, unit taskgraph.Unit, task taskgraph.TaskInfo, runID string) (string, error) {
	evalCtx := &hcl.EvalContext{Variables: map[string]cty.Value{
		"unit": cty.ObjectVal(map[string]cty.Value{
			"id":   cty.StringVal(unit.ID.String()),
			"path": cty.StringVal(unit.Path.String()),
			"dir":  cty.StringVal(r.root.Resolve(unit.Path)),
		}),
		"task": cty.ObjectVal(map[string]cty.Value{
			"kind": cty.StringVal(task.Name.Kind().String()),
			"name": cty.StringVal(task.Name.String()),
		}),
		"run": cty.ObjectVal(map[string]cty.Value{
			"id": cty.StringVal(runID),
		}),
		"root": cty.StringVal(r.root.String()),
	}}

	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return "", fmt.Errorf("failed to evaluate command of %s: %w", task.Name, diags)
	}
	val, err := convert.Convert(val, cty.String)
	if err != nil || val.IsNull() || !val.IsKnown() {
		return "", fmt.Errorf("command of %s must be a string", task.Name)
	}
	return val.AsString(), nil
}

func (r *Repo) environ(unit taskgraph.Unit, task taskgraph.TaskInfo, runID string) []string {
	env := os.Environ()
	for _, k := range slices.Sorted(maps.Keys(r.cfg.Env)) {
		env = append(env, k+"="+r.cfg.Env[k])
	}
	return append(env,
		"MONOGRID_UNIT="+unit.ID.String(),
		"MONOGRID_TASK="+task.Name.String(),
		"MONOGRID_RUN_ID="+runID,
		"MONOGRID_UNIT_DIR="+filepath.Clean(r.root.Resolve(unit.Path)),
	)
}
