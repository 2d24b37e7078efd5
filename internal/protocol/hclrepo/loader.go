package hclrepo

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/monogrid/internal/ctxlog"
	"github.com/vk/monogrid/internal/fsutil"
	"github.com/vk/monogrid/internal/repopath"
	"github.com/vk/monogrid/internal/taskgraph"
	"github.com/vk/monogrid/internal/taskid"
)

// FileName is the workspace file looked for in every directory.
const FileName = "monogrid.hcl"

// taskSpec is a task definition plus what only this protocol needs to run it.
type taskSpec struct {
	def         taskgraph.TaskDefinition
	command     hcl.Expression
	hasCommand  bool
	timeout     time.Duration
	testResults bool
	deps        []taskid.TaskName
	file        string
}

// workspace is everything read from the monogrid.hcl files of one root.
type workspace struct {
	units []taskgraph.Unit
	specs []*taskSpec
}

// load reads every workspace file below root, skipping VCS metadata,
// installed packages and the engine's own output directory.
func load(ctx context.Context, root repopath.Root, outDirName string) (*workspace, error) {
	logger := ctxlog.FromContext(ctx)

	skip := []string{".git", "node_modules"}
	if outDirName != "" {
		skip = append(skip, outDirName)
	}
	files, err := fsutil.FindFilesByName(root.String(), FileName, skip...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s for %s files: %w", root, FileName, err)
	}
	logger.Debug("Discovered workspace files.", "count", len(files))

	ws := &workspace{}
	parser := hclparse.NewParser()
	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("%w: failed to parse HCL file %s: %w", taskgraph.ErrConfig, file, diags)
		}

		var fr fileRoot
		if diags := gohcl.DecodeBody(hclFile.Body, nil, &fr); diags.HasErrors() {
			return nil, fmt.Errorf("%w: failed to decode HCL file %s: %w", taskgraph.ErrConfig, file, diags)
		}

		fileDir, err := root.Unresolve(filepath.Dir(file))
		if err != nil {
			return nil, err
		}

		for _, ub := range fr.Units {
			u, err := translateUnit(ub, fileDir)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", taskgraph.ErrConfig, file, err)
			}
			ws.units = append(ws.units, u)
		}
		for _, tb := range fr.Tasks {
			spec, err := translateTask(ctx, tb)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", taskgraph.ErrConfig, file, err)
			}
			spec.file = file
			ws.specs = append(ws.specs, spec)
		}
	}

	logger.Debug("Workspace loaded.", "units", len(ws.units), "task_definitions", len(ws.specs))
	return ws, nil
}

func translateUnit(ub *unitBlock, fileDir repopath.Path) (taskgraph.Unit, error) {
	id, err := taskid.NewUnitID(ub.ID)
	if err != nil {
		return taskgraph.Unit{}, err
	}
	p := fileDir
	if ub.Path != nil {
		if p, err = fileDir.Expand(*ub.Path); err != nil {
			return taskgraph.Unit{}, fmt.Errorf("unit %q: %w", ub.ID, err)
		}
	}
	deps, err := taskid.ParseUnitIDs(ub.Deps)
	if err != nil {
		return taskgraph.Unit{}, fmt.Errorf("unit %q: %w", ub.ID, err)
	}
	return taskgraph.Unit{ID: id, Path: p, Deps: deps}, nil
}

func translateTask(ctx context.Context, tb *taskBlock) (*taskSpec, error) {
	logger := ctxlog.FromContext(ctx).With("task_kind", tb.Kind)

	kind, err := taskid.NewTaskKind(tb.Kind)
	if err != nil {
		return nil, err
	}
	unitIDs, err := taskid.ParseUnitIDs(tb.Units)
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", tb.Kind, err)
	}

	def := taskgraph.TaskDefinition{
		Kind:         kind,
		UnitIDs:      unitIDs,
		InputsInUnit: tb.InputsInUnit,
		InputsInDeps: tb.InputsInDeps,
		UseCaching:   tb.UseCaching,
	}
	for _, o := range tb.Outputs {
		def.Outputs = append(def.Outputs, taskgraph.OutputSpec{Path: o, Purge: taskgraph.PurgeNever})
	}
	for _, ob := range tb.OutputBlocks {
		purge := taskgraph.PurgeNever
		if ob.Purge != nil {
			if purge, err = taskgraph.ParsePurgePolicy(*ob.Purge); err != nil {
				return nil, fmt.Errorf("task %q output %q: %w", tb.Kind, ob.Path, err)
			}
		}
		def.Outputs = append(def.Outputs, taskgraph.OutputSpec{Path: ob.Path, Purge: purge})
	}

	if def.DepsInUnit, err = taskid.ParseTaskKinds(tb.DepsInUnit); err != nil {
		return nil, fmt.Errorf("task %q deps_in_unit: %w", tb.Kind, err)
	}
	if isExprDefined(ctx, tb.DepsInDeps, "deps_in_deps") {
		var raw []string
		if diags := gohcl.DecodeExpression(tb.DepsInDeps, nil, &raw); diags.HasErrors() {
			return nil, fmt.Errorf("task %q deps_in_deps: %w", tb.Kind, diags)
		}
		kinds, err := taskid.ParseTaskKinds(raw)
		if err != nil {
			return nil, fmt.Errorf("task %q deps_in_deps: %w", tb.Kind, err)
		}
		if kinds == nil {
			// An explicit empty list disables the implicit rule.
			kinds = []taskid.TaskKind{}
		}
		def.DepsInDeps = kinds
	}

	spec := &taskSpec{def: def, command: tb.Command}
	spec.hasCommand = isExprDefined(ctx, tb.Command, "command")
	if !spec.hasCommand {
		logger.Debug("Task definition has no command; it will succeed without running anything.")
	}
	if tb.Timeout != nil {
		if spec.timeout, err = time.ParseDuration(*tb.Timeout); err != nil {
			return nil, fmt.Errorf("task %q timeout: %w", tb.Kind, err)
		}
	}
	if tb.TestResults != nil {
		spec.testResults = *tb.TestResults
	}
	for _, raw := range tb.Deps {
		dep, err := taskid.ParseTaskName(raw)
		if err != nil {
			return nil, fmt.Errorf("task %q deps: %w", tb.Kind, err)
		}
		spec.deps = append(spec.deps, dep)
	}
	return spec, nil
}

// isExprDefined reports whether an optional attribute was actually written
// in the file. The decoder fills omitted optional expressions with a
// zero-width placeholder, so a nil check is not enough.
func isExprDefined(ctx context.Context, expr hcl.Expression, attrName string) bool {
	if expr == nil {
		return false
	}
	r := expr.Range()
	defined := r.End.Byte > r.Start.Byte
	ctxlog.FromContext(ctx).Debug("Checking if HCL attribute was explicitly defined.",
		"attribute", attrName,
		"hcl_range", r.String(),
		"is_defined", defined,
	)
	return defined
}

// applicable returns the last spec of kind that applies to unit.
func (ws *workspace) applicable(unit taskid.UnitID, kind taskid.TaskKind) *taskSpec {
	var found *taskSpec
	for _, s := range ws.specs {
		if s.def.Kind != kind {
			continue
		}
		if len(s.def.UnitIDs) > 0 && !containsUnit(s.def.UnitIDs, unit) {
			continue
		}
		found = s
	}
	return found
}

func containsUnit(ids []taskid.UnitID, id taskid.UnitID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
