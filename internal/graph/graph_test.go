package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"sutragraph/internal/sutraid"
)

func TestClamp01(t *testing.T) {
	assert.Equal(t, float32(0), Clamp01(-0.5))
	assert.Equal(t, float32(1), Clamp01(1.5))
	assert.Equal(t, float32(0.3), Clamp01(0.3))
}

func TestAssociationTypeStringDoesNotCollideWithSemanticStruct(t *testing.T) {
	assert.Equal(t, "Semantic", AssocSemantic.String())
	assert.Equal(t, "Causal", Causal.String())
	assert.Equal(t, "Unknown", AssociationType(99).String())
}

func TestSemanticConflictsViaNegationLinkage(t *testing.T) {
	a := sutraid.FromContent("fact-a")
	b := sutraid.FromContent("fact-b")

	fact := &Semantic{Type: Fact}
	negation := &Semantic{Type: Negation, NegationOf: []sutraid.ConceptId{a}}

	assert.True(t, negation.Conflicts(fact, a))
	assert.False(t, negation.Conflicts(fact, b))
	assert.False(t, fact.Conflicts(fact, a))
}

func TestSemanticConflictsNilSafe(t *testing.T) {
	var nilSem *Semantic
	assert.False(t, nilSem.Conflicts(&Semantic{}, sutraid.Zero))
	assert.False(t, (&Semantic{}).Conflicts(nil, sutraid.Zero))
}

func TestConceptCloneIsDeep(t *testing.T) {
	id := sutraid.FromContent("clone-me")
	orig := &Concept{
		ID:         id,
		Content:    []byte("hello"),
		Vector:     []float32{1, 2, 3},
		Attributes: map[string]string{"k": "v"},
		Semantic:   &Semantic{Type: Fact},
		Neighbors:  map[sutraid.ConceptId]struct{}{id: {}},
	}

	clone := orig.Clone()
	clone.Content[0] = 'H'
	clone.Vector[0] = 99
	clone.Attributes["k"] = "changed"
	clone.Semantic.Type = Negation
	clone.Neighbors[sutraid.FromContent("extra")] = struct{}{}

	assert.Equal(t, byte('h'), orig.Content[0])
	assert.Equal(t, float32(1), orig.Vector[0])
	assert.Equal(t, "v", orig.Attributes["k"])
	assert.Equal(t, Fact, orig.Semantic.Type)
	assert.Len(t, orig.Neighbors, 1)
}

func TestSnapshotCloneShallowSharesValuesButNotMaps(t *testing.T) {
	snap := Empty()
	id := sutraid.FromContent("shared")
	snap.Concepts[id] = &Concept{ID: id}

	clone := snap.CloneShallow()
	clone.Concepts[sutraid.FromContent("new")] = &Concept{}

	assert.Len(t, snap.Concepts, 1, "mutating the clone's map must not affect the original")
	assert.Same(t, snap.Concepts[id], clone.Concepts[id], "unmodified values are structurally shared")
}

func TestSnapshotNeighborsOfTraversesBothDirections(t *testing.T) {
	snap := Empty()
	a := sutraid.FromContent("a")
	b := sutraid.FromContent("b")
	c := sutraid.FromContent("c")
	snap.Concepts[a] = &Concept{ID: a, Neighbors: map[sutraid.ConceptId]struct{}{b: {}}}
	snap.Concepts[b] = &Concept{ID: b, Neighbors: map[sutraid.ConceptId]struct{}{}}
	snap.Concepts[c] = &Concept{ID: c, Neighbors: map[sutraid.ConceptId]struct{}{}}
	snap.Edges[sutraid.EdgeKey{Source: a, Target: b}] = &Association{Source: a, Target: b}
	snap.Edges[sutraid.EdgeKey{Source: c, Target: b}] = &Association{Source: c, Target: b}

	neighbors := snap.NeighborsOf(b)
	assert.ElementsMatch(t, []sutraid.ConceptId{a, c}, neighbors, "b has no outgoing edges, only incoming ones from a and c")

	neighborsOfA := snap.NeighborsOf(a)
	assert.Contains(t, neighborsOfA, b)
}
