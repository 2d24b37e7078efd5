package dag

import "fmt"

// TraverseFrom returns every node reachable from start by following
// dependency edges, including start itself, sorted by string form.
func (g *Graph[K]) TraverseFrom(start K) ([]K, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	first, ok := g.nodes[start]
	if !ok {
		return nil, fmt.Errorf("unknown node: %s", start)
	}

	seen := map[K]bool{start: true}
	queue := []*node[K]{first}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for id, dep := range n.deps {
			if seen[id] {
				continue
			}
			seen[id] = true
			queue = append(queue, dep)
		}
	}

	out := make([]K, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sortKeys(out)
	return out, nil
}

// TopologicalOrder returns the nodes so that every node follows all of its
// dependencies. Ties are broken by string form so the order is stable.
// A cyclic graph yields an error.
func (g *Graph[K]) TopologicalOrder() ([]K, error) {
	g.mutex.RLock()
	remaining := make(map[K]int, len(g.nodes))
	var ready []K
	for id, n := range g.nodes {
		remaining[id] = len(n.deps)
		if len(n.deps) == 0 {
			ready = append(ready, id)
		}
	}
	g.mutex.RUnlock()

	order := make([]K, 0, len(remaining))
	for len(ready) > 0 {
		sortKeys(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		dependents, err := g.Dependents(id)
		if err != nil {
			return nil, err
		}
		for _, d := range dependents {
			remaining[d]--
			if remaining[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	if len(order) != len(remaining) {
		if err := g.DetectCycles(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("graph could not be ordered")
	}
	return order, nil
}
