package dag

import "sync"

// Key is the constraint for node identifiers. The String form is used for
// deterministic ordering and for error messages.
type Key interface {
	comparable
	String() string
}

// Graph is a collection of nodes and their dependencies.
// All operations on the graph are concurrency-safe.
type Graph[K Key] struct {
	// mutex protects the nodes map during concurrent access.
	mutex sync.RWMutex
	// nodes stores all nodes in the graph, keyed by their identifier.
	nodes map[K]*node[K]
}

// node is a single vertex. It is un-exported to enforce interaction with
// the graph through identifiers.
type node[K Key] struct {
	id K
	// deps holds the nodes this node depends on (predecessors).
	deps map[K]*node[K]
	// dependents holds the nodes that depend on this node (successors).
	dependents map[K]*node[K]
}
