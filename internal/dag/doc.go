// Package dag provides a small generic directed graph used for both the
// unit dependency graph and the task graph. Edges point from a dependency
// to its dependent; traversal follows dependencies.
package dag
