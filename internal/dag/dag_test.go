package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// id is a minimal Key for tests.
type id string

func (i id) String() string { return string(i) }

func TestNew(t *testing.T) {
	g := New[id]()
	require.NotNil(t, g)
	assert.NotNil(t, g.nodes)
	assert.Empty(t, g.nodes)
}

func TestAddNode(t *testing.T) {
	g := New[id]()

	g.AddNode("a")
	assert.Len(t, g.nodes, 1)
	nodeA, ok := g.nodes["a"]
	require.True(t, ok)
	assert.Equal(t, id("a"), nodeA.id)
	assert.NotNil(t, nodeA.deps)
	assert.NotNil(t, nodeA.dependents)

	g.AddNode("a") // Test idempotency
	assert.Len(t, g.nodes, 1)

	g.AddNode("b")
	assert.Equal(t, 2, g.Len())
	assert.True(t, g.Has("b"))
	assert.False(t, g.Has("c"))
}

func TestAddEdge(t *testing.T) {
	t.Run("success case", func(t *testing.T) {
		g := New[id]()
		g.AddNode("a")
		g.AddNode("b")

		err := g.AddEdge("a", "b") // b depends on a
		require.NoError(t, err)

		deps, err := g.Dependencies("b")
		require.NoError(t, err)
		assert.Equal(t, []id{"a"}, deps)

		dependents, err := g.Dependents("a")
		require.NoError(t, err)
		assert.Equal(t, []id{"b"}, dependents)
	})

	t.Run("error cases", func(t *testing.T) {
		g := New[id]()
		g.AddNode("a")
		g.AddNode("b")

		err := g.AddEdge("dne", "a")
		assert.ErrorContains(t, err, "source node not found")

		err = g.AddEdge("a", "dne")
		assert.ErrorContains(t, err, "destination node not found")

		err = g.AddEdge("a", "a")
		assert.ErrorContains(t, err, "self-referential edge")

		_, err = g.Dependencies("dne")
		assert.ErrorContains(t, err, "node not found")
	})
}

func TestDetectCycles(t *testing.T) {
	t.Run("empty graph has no cycles", func(t *testing.T) {
		g := New[id]()
		assert.NoError(t, g.DetectCycles())
	})

	t.Run("valid dag has no cycles", func(t *testing.T) {
		g := New[id]()
		for _, n := range []id{"a", "b", "c", "d"} {
			g.AddNode(n)
		}
		require.NoError(t, g.AddEdge("a", "b"))
		require.NoError(t, g.AddEdge("b", "c"))
		require.NoError(t, g.AddEdge("a", "c")) // Transitive edge
		require.NoError(t, g.AddEdge("c", "d"))
		assert.NoError(t, g.DetectCycles())
	})

	t.Run("cycle path is reported", func(t *testing.T) {
		g := New[id]()
		for _, n := range []id{"a", "b", "c"} {
			g.AddNode(n)
		}
		require.NoError(t, g.AddEdge("a", "b"))
		require.NoError(t, g.AddEdge("b", "c"))
		require.NoError(t, g.AddEdge("c", "a"))

		err := g.DetectCycles()
		require.Error(t, err)
		assert.Equal(t, "cycle detected: a -> b -> c -> a", err.Error())
	})

	t.Run("cycle in a disjoint component is detected", func(t *testing.T) {
		g := New[id]()
		for _, n := range []id{"a", "b", "x", "y", "z"} {
			g.AddNode(n)
		}
		require.NoError(t, g.AddEdge("a", "b"))
		require.NoError(t, g.AddEdge("x", "y"))
		require.NoError(t, g.AddEdge("y", "z"))
		require.NoError(t, g.AddEdge("z", "y")) // Cycle

		err := g.DetectCycles()
		assert.ErrorContains(t, err, "cycle detected: y -> z -> y")
	})
}

func TestTraverseFrom(t *testing.T) {
	// c depends on b, b depends on a; d is unrelated.
	g := New[id]()
	for _, n := range []id{"a", "b", "c", "d"} {
		g.AddNode(n)
	}
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "c"))

	got, err := g.TraverseFrom("c")
	require.NoError(t, err)
	assert.Equal(t, []id{"a", "b", "c"}, got)

	got, err = g.TraverseFrom("a")
	require.NoError(t, err)
	assert.Equal(t, []id{"a"}, got)

	_, err = g.TraverseFrom("zzz")
	assert.ErrorContains(t, err, "unknown node")
}

func TestTopologicalOrder(t *testing.T) {
	g := New[id]()
	for _, n := range []id{"d", "c", "b", "a"} {
		g.AddNode(n)
	}
	require.NoError(t, g.AddEdge("a", "c"))
	require.NoError(t, g.AddEdge("b", "c"))
	require.NoError(t, g.AddEdge("c", "d"))

	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []id{"a", "b", "c", "d"}, order)

	require.NoError(t, g.AddEdge("d", "a"))
	_, err = g.TopologicalOrder()
	assert.ErrorContains(t, err, "cycle detected")
}
