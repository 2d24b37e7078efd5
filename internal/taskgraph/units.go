package taskgraph

import (
	"fmt"
	"slices"

	"github.com/vk/monogrid/internal/dag"
	"github.com/vk/monogrid/internal/taskid"
)

// NewUnitGraph materializes the unit dependency graph from unit metadata.
// Unknown dependencies and cycles are configuration errors.
func NewUnitGraph(units []Unit) (*dag.Graph[taskid.UnitID], error) {
	g := dag.New[taskid.UnitID]()
	for _, u := range units {
		if g.Has(u.ID) {
			return nil, fmt.Errorf("%w: unit %q is declared more than once", ErrConfig, u.ID)
		}
		g.AddNode(u.ID)
	}
	for _, u := range units {
		for _, dep := range u.Deps {
			if !g.Has(dep) {
				return nil, fmt.Errorf("%w: unit %q depends on unknown unit %q", ErrConfig, u.ID, dep)
			}
			if err := g.AddEdge(dep, u.ID); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrConfig, err)
			}
		}
	}
	if err := g.DetectCycles(); err != nil {
		return nil, fmt.Errorf("%w: unit graph: %w", ErrConfig, err)
	}
	return g, nil
}

// SortUnits orders units by id.
func SortUnits(units []Unit) {
	slices.SortFunc(units, func(a, b Unit) int { return a.ID.Compare(b.ID) })
}
