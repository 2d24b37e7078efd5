package taskgraph

import (
	"context"
	"fmt"
	"slices"

	"github.com/vk/monogrid/internal/ctxlog"
	"github.com/vk/monogrid/internal/dag"
	"github.com/vk/monogrid/internal/outputs"
	"github.com/vk/monogrid/internal/repopath"
	"github.com/vk/monogrid/internal/taskid"
)

// builder carries the state of one Build call.
type builder struct {
	units     map[taskid.UnitID]Unit
	unitGraph *dag.Graph[taskid.UnitID]
	defs      []TaskDefinition
	registry  *outputs.Registry

	tasks   map[taskid.TaskName]*TaskInfo
	sources map[taskid.TaskName]*TaskDefinition
}

// Build resolves definitions against units and returns the task graph.
// extraDeps adds explicit edges; every name it mentions must resolve to a
// task. Any configuration problem is returned wrapped in ErrConfig.
func Build(ctx context.Context, units []Unit, unitGraph *dag.Graph[taskid.UnitID], defs []TaskDefinition, extraDeps map[taskid.TaskName][]taskid.TaskName) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Task graph build started.", "units", len(units), "definitions", len(defs))

	b := &builder{
		units:     make(map[taskid.UnitID]Unit, len(units)),
		unitGraph: unitGraph,
		defs:      defs,
		registry:  outputs.New(),
		tasks:     make(map[taskid.TaskName]*TaskInfo),
		sources:   make(map[taskid.TaskName]*TaskDefinition),
	}
	for _, u := range units {
		b.units[u.ID] = u
	}

	sorted := slices.Clone(units)
	SortUnits(sorted)

	for _, kind := range distinctKinds(defs) {
		for _, u := range sorted {
			def, res := b.applicable(u.ID, kind)
			logger.Debug("Resolved task definition.", "unit", u.ID, "kind", kind, "resolution", res)
			if res == resolvedNone {
				continue
			}
			if err := b.addTask(u, def, res); err != nil {
				return nil, err
			}
		}
	}

	if err := b.linkDeps(extraDeps); err != nil {
		return nil, err
	}

	g, err := newGraph(b.tasks, b.units, b.registry)
	if err != nil {
		return nil, err
	}
	logger.Debug("Task graph built.", "tasks", g.Len())
	return g, nil
}

// distinctKinds returns kinds in order of first declaration.
func distinctKinds(defs []TaskDefinition) []taskid.TaskKind {
	var kinds []taskid.TaskKind
	seen := make(map[taskid.TaskKind]bool)
	for _, d := range defs {
		if !seen[d.Kind] {
			seen[d.Kind] = true
			kinds = append(kinds, d.Kind)
		}
	}
	return kinds
}

// applicable picks the last definition of kind that applies to unit.
func (b *builder) applicable(unit taskid.UnitID, kind taskid.TaskKind) (*TaskDefinition, resolution) {
	for i := len(b.defs) - 1; i >= 0; i-- {
		d := &b.defs[i]
		if d.Kind != kind || !d.appliesTo(unit) {
			continue
		}
		if d.isBare() {
			return d, resolvedDefault
		}
		return d, resolvedDefined
	}
	return nil, resolvedNone
}

// closure returns the units u depends on, directly or transitively.
func (b *builder) closure(u taskid.UnitID) ([]Unit, error) {
	ids, err := b.unitGraph.TraverseFrom(u)
	if err != nil {
		return nil, fmt.Errorf("%w: expanding dependencies of %q: %w", ErrConfig, u, err)
	}
	out := make([]Unit, 0, len(ids))
	for _, id := range ids {
		if id == u {
			continue
		}
		unit, ok := b.units[id]
		if !ok {
			return nil, fmt.Errorf("%w: unit %q depends on unknown unit %q", ErrConfig, u, id)
		}
		out = append(out, unit)
	}
	return out, nil
}

func (b *builder) addTask(u Unit, def *TaskDefinition, res resolution) error {
	name := taskid.Of(u.ID, def.Kind)
	info := &TaskInfo{Name: name, UseCaching: true}
	if def.UseCaching != nil {
		info.UseCaching = *def.UseCaching
	}

	closure, err := b.closure(u.ID)
	if err != nil {
		return err
	}

	if res == resolvedDefault {
		info.Inputs = []repopath.Path{u.Path}
	} else {
		inputs := make(map[repopath.Path]struct{})
		for _, pattern := range def.InputsInUnit {
			p, err := u.Path.Expand(pattern)
			if err != nil {
				return fmt.Errorf("%w: input of %s: %w", ErrConfig, name, err)
			}
			inputs[p] = struct{}{}
		}
		for _, dep := range closure {
			for _, pattern := range def.InputsInDeps {
				p, err := dep.Path.Expand(pattern)
				if err != nil {
					return fmt.Errorf("%w: dependency input of %s: %w", ErrConfig, name, err)
				}
				inputs[p] = struct{}{}
			}
		}
		for p := range inputs {
			info.Inputs = append(info.Inputs, p)
		}
		slices.SortFunc(info.Inputs, repopath.Path.Compare)

		for _, spec := range def.Outputs {
			p, err := u.Path.Expand(spec.Path)
			if err != nil {
				return fmt.Errorf("%w: output of %s: %w", ErrConfig, name, err)
			}
			if err := b.registry.Claim(name, p); err != nil {
				return fmt.Errorf("%w: %w", ErrConfig, err)
			}
			info.Outputs = append(info.Outputs, OutputLocation{Path: p, Purge: spec.Purge})
		}
	}

	b.tasks[name] = info
	b.sources[name] = def
	return nil
}

// linkDeps resolves dependency edges once every task exists. Kind-derived
// edges to tasks that do not exist are skipped; explicit edges must resolve.
func (b *builder) linkDeps(extraDeps map[taskid.TaskName][]taskid.TaskName) error {
	for name, info := range b.tasks {
		def := b.sources[name]
		unit := b.units[name.Unit()]
		deps := make(map[taskid.TaskName]struct{})

		for _, kind := range def.DepsInUnit {
			dep := taskid.Of(unit.ID, kind)
			if dep != name && b.tasks[dep] != nil {
				deps[dep] = struct{}{}
			}
		}

		kinds := def.DepsInDeps
		if kinds == nil {
			kinds = []taskid.TaskKind{def.Kind}
		}
		closure, err := b.closure(unit.ID)
		if err != nil {
			return err
		}
		for _, other := range closure {
			for _, kind := range kinds {
				dep := taskid.Of(other.ID, kind)
				if b.tasks[dep] != nil {
					deps[dep] = struct{}{}
				}
			}
		}

		for _, dep := range extraDeps[name] {
			if b.tasks[dep] == nil {
				return fmt.Errorf("%w: %s depends on unknown task %s", ErrConfig, name, dep)
			}
			if dep == name {
				return fmt.Errorf("%w: %s depends on itself", ErrConfig, name)
			}
			deps[dep] = struct{}{}
		}

		info.Deps = make([]taskid.TaskName, 0, len(deps))
		for dep := range deps {
			info.Deps = append(info.Deps, dep)
		}
		taskid.SortNames(info.Deps)
	}

	for name := range extraDeps {
		if b.tasks[name] == nil {
			return fmt.Errorf("%w: explicit dependencies declared for unknown task %s", ErrConfig, name)
		}
	}
	return nil
}
