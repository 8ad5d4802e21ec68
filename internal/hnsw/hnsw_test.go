package hnsw

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sutragraph/internal/graph"
	"sutragraph/internal/sutraid"
)

func vec(xs ...float32) []float32 { return xs }

func TestCosineDistanceIdenticalVectorsIsZero(t *testing.T) {
	d := CosineDistance(vec(1, 0, 0), vec(1, 0, 0))
	assert.InDelta(t, 0, d, 1e-6)
}

func TestCosineDistanceOrthogonalVectorsIsOne(t *testing.T) {
	d := CosineDistance(vec(1, 0), vec(0, 1))
	assert.InDelta(t, 1, d, 1e-6)
}

func TestCosineDistanceZeroVectorIsMaxDistance(t *testing.T) {
	d := CosineDistance(vec(0, 0), vec(1, 1))
	assert.Equal(t, float32(1), d)
}

func TestInsertAndSearchFindsNearestNeighbor(t *testing.T) {
	idx := New(Config{Namespace: "test"})
	target := sutraid.FromContent("target")
	far := sutraid.FromContent("far")

	idx.Insert(target, vec(1, 0, 0))
	idx.Insert(far, vec(0, 0, 1))

	hits := idx.Search(vec(0.9, 0.1, 0), 1, 0)
	require.Len(t, hits, 1)
	assert.Equal(t, target, hits[0].ID)
}

func TestRemoveTombstonesAndExcludesFromSearch(t *testing.T) {
	idx := New(Config{Namespace: "test"})
	id := sutraid.FromContent("removable")
	idx.Insert(id, vec(1, 0))
	require.Equal(t, 1, idx.Len())

	idx.Remove(id)
	assert.Equal(t, 0, idx.Len())

	hits := idx.Search(vec(1, 0), 5, 0)
	for _, h := range hits {
		assert.NotEqual(t, id, h.ID)
	}
}

func TestRebuildFromSnapshotRepopulatesIndex(t *testing.T) {
	idx := New(Config{Namespace: "test"})
	snap := graph.Empty()
	for i := 0; i < 5; i++ {
		id := sutraid.FromContent(string(rune('a' + i)))
		snap.Concepts[id] = &graph.Concept{ID: id, Vector: vec(float32(i), 1, 0)}
	}

	idx.Rebuild(snap)
	assert.Equal(t, 5, idx.Len())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.hnsw")
	idx := New(Config{Namespace: "test", Path: path})
	ids := make([]sutraid.ConceptId, 0, 8)
	for i := 0; i < 8; i++ {
		id := sutraid.FromContent(string(rune('a' + i)))
		ids = append(ids, id)
		idx.Insert(id, vec(float32(i), float32(8-i), 0))
	}
	require.NoError(t, idx.Save())

	reloaded := New(Config{Namespace: "test", Path: path})
	loaded, err := reloaded.Load()
	require.NoError(t, err)
	require.True(t, loaded)
	assert.Equal(t, idx.Len(), reloaded.Len())

	hits := reloaded.Search(vec(0, 8, 0), 1, 0)
	require.Len(t, hits, 1)
	assert.Equal(t, ids[0], hits[0].ID)
}

func TestLoadMissingFileReportsNotLoaded(t *testing.T) {
	idx := New(Config{Namespace: "test", Path: filepath.Join(t.TempDir(), "missing.hnsw")})
	loaded, err := idx.Load()
	assert.NoError(t, err)
	assert.False(t, loaded)
}
