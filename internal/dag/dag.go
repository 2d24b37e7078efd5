package dag

import (
	"fmt"
	"slices"
	"strings"
)

// New creates and returns an initialized, empty Graph.
func New[K Key]() *Graph[K] {
	return &Graph[K]{
		nodes: make(map[K]*node[K]),
	}
}

// AddNode adds a new node with the given ID to the graph. If a node with
// the same ID already exists, the function does nothing.
func (g *Graph[K]) AddNode(id K) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if _, ok := g.nodes[id]; ok {
		return
	}

	g.nodes[id] = &node[K]{
		id:         id,
		deps:       make(map[K]*node[K]),
		dependents: make(map[K]*node[K]),
	}
}

// AddEdge creates a directed edge from the `fromID` node to the `toID` node.
// This signifies that `toID` has a dependency on `fromID`. An error is returned
// if either node does not exist or if the edge would create a self-reference.
func (g *Graph[K]) AddEdge(fromID, toID K) error {
	if fromID == toID {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", fromID, fromID)
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	fromNode, ok := g.nodes[fromID]
	if !ok {
		return fmt.Errorf("source node not found: %s", fromID)
	}

	toNode, ok := g.nodes[toID]
	if !ok {
		return fmt.Errorf("destination node not found: %s", toID)
	}

	toNode.deps[fromID] = fromNode
	fromNode.dependents[toID] = toNode

	return nil
}

// Has reports whether id is a node of the graph.
func (g *Graph[K]) Has(id K) bool {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// Len returns the number of nodes.
func (g *Graph[K]) Len() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return len(g.nodes)
}

// Nodes returns every node ID sorted by its string form.
func (g *Graph[K]) Nodes() []K {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	ids := make([]K, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sortKeys(ids)
	return ids
}

// Dependencies returns the node IDs that the given node depends on.
func (g *Graph[K]) Dependencies(id K) ([]K, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return keysOf(n.deps), nil
}

// Dependents returns the node IDs that depend on the given node.
func (g *Graph[K]) Dependents(id K) ([]K, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return keysOf(n.dependents), nil
}

// DetectCycles checks the graph for any cycles. It returns a non-nil error
// naming the nodes of the first cycle found, in edge order.
func (g *Graph[K]) DetectCycles() error {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	// Classic depth-first search with three sets of nodes:
	// permanent: fully visited and not part of a cycle.
	// temporary: on the current recursion stack.
	// unvisited: everything else.
	permanent := make(map[K]bool)
	temporary := make(map[K]bool)
	var stack []K

	var visit func(n *node[K]) error
	visit = func(n *node[K]) error {
		if permanent[n.id] {
			return nil
		}
		if temporary[n.id] {
			start := slices.Index(stack, n.id)
			cycle := append(slices.Clone(stack[start:]), n.id)
			return fmt.Errorf("cycle detected: %s", joinKeys(cycle, " -> "))
		}

		temporary[n.id] = true
		stack = append(stack, n.id)

		for _, id := range keysOf(n.dependents) {
			if err := visit(n.dependents[id]); err != nil {
				return err
			}
		}

		stack = stack[:len(stack)-1]
		delete(temporary, n.id)
		permanent[n.id] = true
		return nil
	}

	ids := make([]K, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sortKeys(ids)
	for _, id := range ids {
		if err := visit(g.nodes[id]); err != nil {
			return err
		}
	}
	return nil
}

func keysOf[K Key](m map[K]*node[K]) []K {
	ids := make([]K, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sortKeys(ids)
	return ids
}

func sortKeys[K Key](ids []K) {
	slices.SortFunc(ids, func(a, b K) int { return strings.Compare(a.String(), b.String()) })
}

func joinKeys[K Key](ids []K, sep string) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, sep)
}
