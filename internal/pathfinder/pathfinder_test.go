package pathfinder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sutragraph/internal/graph"
	"sutragraph/internal/sutraid"
)

// buildSnapshot constructs a directed graph from a list of (from, to)
// name pairs; names are hashed into ConceptIds via sutraid.FromContent.
func buildSnapshot(t *testing.T, edges [][2]string) (*graph.Snapshot, map[string]sutraid.ConceptId) {
	t.Helper()
	ids := make(map[string]sutraid.ConceptId)
	snap := graph.Empty()

	ensure := func(name string) sutraid.ConceptId {
		id, ok := ids[name]
		if !ok {
			id = sutraid.FromContent(name)
			ids[name] = id
			snap.Concepts[id] = &graph.Concept{ID: id, Neighbors: make(map[sutraid.ConceptId]struct{})}
		}
		return id
	}

	for _, e := range edges {
		from := ensure(e[0])
		to := ensure(e[1])
		snap.Concepts[from].Neighbors[to] = struct{}{}
		snap.Edges[sutraid.EdgeKey{Source: from, Target: to}] = &graph.Association{Source: from, Target: to}
	}
	return snap, ids
}

func TestFindPathSameNode(t *testing.T) {
	snap, ids := buildSnapshot(t, [][2]string{{"a", "b"}})
	path, found := FindPath(snap, ids["a"], ids["a"], 5)
	require.True(t, found)
	assert.Equal(t, []sutraid.ConceptId{ids["a"]}, path)
}

func TestFindPathDirectChain(t *testing.T) {
	snap, ids := buildSnapshot(t, [][2]string{
		{"a", "b"}, {"b", "c"}, {"c", "d"},
	})
	path, found := FindPath(snap, ids["a"], ids["d"], 5)
	require.True(t, found)
	require.Len(t, path, 4)
	assert.Equal(t, ids["a"], path[0])
	assert.Equal(t, ids["d"], path[len(path)-1])
}

func TestFindPathRespectsMaxDepth(t *testing.T) {
	snap, ids := buildSnapshot(t, [][2]string{
		{"a", "b"}, {"b", "c"}, {"c", "d"}, {"d", "e"},
	})
	_, found := FindPath(snap, ids["a"], ids["e"], 2)
	assert.False(t, found, "4-hop path must not be found within a 2-hop budget")
}

func TestFindPathUnreachable(t *testing.T) {
	snap, ids := buildSnapshot(t, [][2]string{{"a", "b"}})
	loneID := sutraid.FromContent("lonely")
	snap.Concepts[loneID] = &graph.Concept{ID: loneID, Neighbors: make(map[sutraid.ConceptId]struct{})}

	_, found := FindPath(snap, ids["a"], loneID, 5)
	assert.False(t, found)
}

func TestFindPathsParallelReturnsDistinctPaths(t *testing.T) {
	snap, ids := buildSnapshot(t, [][2]string{
		{"start", "m1"}, {"m1", "end"},
		{"start", "m2"}, {"m2", "end"},
	})

	paths, err := FindPathsParallel(context.Background(), snap, ids["start"], ids["end"], 4, 4)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	seen := make(map[string]bool)
	for _, p := range paths {
		require.Len(t, p, 3)
		seen[p[1].Hex()] = true
	}
	assert.True(t, seen[ids["m1"].Hex()])
	assert.True(t, seen[ids["m2"].Hex()])
}

func TestFindPathsParallelCapsAtK(t *testing.T) {
	snap, ids := buildSnapshot(t, [][2]string{
		{"start", "m1"}, {"m1", "end"},
		{"start", "m2"}, {"m2", "end"},
		{"start", "m3"}, {"m3", "end"},
	})

	paths, err := FindPathsParallel(context.Background(), snap, ids["start"], ids["end"], 2, 4)
	require.NoError(t, err)
	assert.Len(t, paths, 2)
}

func TestFindPathsParallelZeroKReturnsNil(t *testing.T) {
	snap, ids := buildSnapshot(t, [][2]string{{"a", "b"}})
	paths, err := FindPathsParallel(context.Background(), snap, ids["a"], ids["b"], 0, 4)
	require.NoError(t, err)
	assert.Nil(t, paths)
}
