package taskgraph

import (
	"fmt"
	"slices"

	"github.com/vk/monogrid/internal/dag"
	"github.com/vk/monogrid/internal/outputs"
	"github.com/vk/monogrid/internal/taskid"
)

// Graph is the immutable task graph of one run.
type Graph struct {
	tasks    map[taskid.TaskName]*TaskInfo
	names    []taskid.TaskName
	dag      *dag.Graph[taskid.TaskName]
	units    map[taskid.UnitID]Unit
	registry *outputs.Registry
}

func newGraph(tasks map[taskid.TaskName]*TaskInfo, units map[taskid.UnitID]Unit, registry *outputs.Registry) (*Graph, error) {
	d := dag.New[taskid.TaskName]()
	names := make([]taskid.TaskName, 0, len(tasks))
	for name := range tasks {
		d.AddNode(name)
		names = append(names, name)
	}
	taskid.SortNames(names)

	for _, name := range names {
		for _, dep := range tasks[name].Deps {
			if err := d.AddEdge(dep, name); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrConfig, err)
			}
		}
	}
	if err := d.DetectCycles(); err != nil {
		return nil, fmt.Errorf("%w: task graph: %w", ErrConfig, err)
	}

	return &Graph{tasks: tasks, names: names, dag: d, units: units, registry: registry}, nil
}

// FromTasks assembles a graph from already resolved tasks, as reported by
// a repo protocol. Output locations are claimed in the returned registry.
func FromTasks(units []Unit, infos []TaskInfo) (*Graph, error) {
	unitMap := make(map[taskid.UnitID]Unit, len(units))
	for _, u := range units {
		unitMap[u.ID] = u
	}

	registry := outputs.New()
	tasks := make(map[taskid.TaskName]*TaskInfo, len(infos))
	for i := range infos {
		info := infos[i]
		if _, dup := tasks[info.Name]; dup {
			return nil, fmt.Errorf("%w: task %s is declared more than once", ErrConfig, info.Name)
		}
		for _, out := range info.Outputs {
			if err := registry.Claim(info.Name, out.Path); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrConfig, err)
			}
		}
		tasks[info.Name] = &info
	}
	for _, info := range tasks {
		for _, dep := range info.Deps {
			if tasks[dep] == nil {
				return nil, fmt.Errorf("%w: %s depends on unknown task %s", ErrConfig, info.Name, dep)
			}
		}
	}
	return newGraph(tasks, unitMap, registry)
}

// Len returns the number of tasks.
func (g *Graph) Len() int { return len(g.names) }

// Names returns every task name, sorted.
func (g *Graph) Names() []taskid.TaskName { return slices.Clone(g.names) }

// Tasks returns every task, sorted by name.
func (g *Graph) Tasks() []TaskInfo {
	out := make([]TaskInfo, 0, len(g.names))
	for _, name := range g.names {
		out = append(out, *g.tasks[name])
	}
	return out
}

// Task returns the task with the given name.
func (g *Graph) Task(name taskid.TaskName) (TaskInfo, bool) {
	info, ok := g.tasks[name]
	if !ok {
		return TaskInfo{}, false
	}
	return *info, true
}

// Unit returns the metadata of a unit.
func (g *Graph) Unit(id taskid.UnitID) (Unit, bool) {
	u, ok := g.units[id]
	return u, ok
}

// Units returns all unit metadata sorted by id.
func (g *Graph) Units() []Unit {
	out := make([]Unit, 0, len(g.units))
	for _, u := range g.units {
		out = append(out, u)
	}
	SortUnits(out)
	return out
}

// Registry returns the output registry built alongside the graph.
func (g *Graph) Registry() *outputs.Registry { return g.registry }

// Deps returns the direct dependencies of name.
func (g *Graph) Deps(name taskid.TaskName) []taskid.TaskName {
	deps, err := g.dag.Dependencies(name)
	if err != nil {
		return nil
	}
	return deps
}

// Dependents returns the tasks that directly depend on name.
func (g *Graph) Dependents(name taskid.TaskName) []taskid.TaskName {
	dependents, err := g.dag.Dependents(name)
	if err != nil {
		return nil
	}
	return dependents
}

// TopologicalOrder returns task names so that dependencies come first.
func (g *Graph) TopologicalOrder() ([]taskid.TaskName, error) {
	return g.dag.TopologicalOrder()
}

// Subgraph restricts the graph to names and everything they depend on.
func (g *Graph) Subgraph(names []taskid.TaskName) (*Graph, error) {
	keep := make(map[taskid.TaskName]*TaskInfo)
	for _, name := range names {
		reach, err := g.dag.TraverseFrom(name)
		if err != nil {
			return nil, fmt.Errorf("unknown task %s: %w", name, err)
		}
		for _, r := range reach {
			keep[r] = g.tasks[r]
		}
	}
	return newGraph(keep, g.units, g.registry)
}

// Select resolves patterns and returns the matching subgraph. A pattern
// is a full task name, a task kind or a unit id. No patterns selects
// everything.
func (g *Graph) Select(patterns []string) (*Graph, error) {
	if len(patterns) == 0 {
		return g, nil
	}

	var selected []taskid.TaskName
	for _, pattern := range patterns {
		matched := g.match(pattern)
		if len(matched) == 0 {
			return nil, fmt.Errorf("no task matches %q", pattern)
		}
		selected = append(selected, matched...)
	}
	return g.Subgraph(selected)
}

func (g *Graph) match(pattern string) []taskid.TaskName {
	if name, err := taskid.ParseTaskName(pattern); err == nil {
		if _, ok := g.tasks[name]; ok {
			return []taskid.TaskName{name}
		}
	}
	var out []taskid.TaskName
	for _, name := range g.names {
		if name.Kind().String() == pattern || name.Unit().String() == pattern {
			out = append(out, name)
		}
	}
	return out
}
