package sutraid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContentIsDeterministic(t *testing.T) {
	a := FromContent("same content")
	b := FromContent("same content")
	assert.Equal(t, a, b)

	c := FromContent("different content")
	assert.NotEqual(t, a, c)
}

func TestHexRoundTrip(t *testing.T) {
	id := FromContent("round trip me")
	parsed, err := ParseHex(id.Hex())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseHexRejectsWrongLength(t *testing.T) {
	_, err := ParseHex("too-short")
	assert.Error(t, err)
}

func TestParseHexRejectsInvalidHex(t *testing.T) {
	_, err := ParseHex("zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz")
	assert.Error(t, err)
}

func TestIsZero(t *testing.T) {
	assert.True(t, Zero.IsZero())
	assert.False(t, FromContent("not zero").IsZero())
}

func TestLessGivesTotalOrder(t *testing.T) {
	a := ConceptId{0, 0, 1}
	b := ConceptId{0, 0, 2}
	assert.True(t, Less(a, b))
	assert.False(t, Less(b, a))
	assert.False(t, Less(a, a))
}

func TestSortIDsOrdersByByteValue(t *testing.T) {
	ids := []ConceptId{
		{0, 0, 3},
		{0, 0, 1},
		{0, 0, 2},
	}
	SortIDs(ids)
	assert.True(t, Less(ids[0], ids[1]))
	assert.True(t, Less(ids[1], ids[2]))
}

func TestSortEdgeKeysOrdersBySourceThenTarget(t *testing.T) {
	s1 := ConceptId{0, 0, 1}
	s2 := ConceptId{0, 0, 2}
	keys := []EdgeKey{
		{Source: s2, Target: s1},
		{Source: s1, Target: s2},
		{Source: s1, Target: s1},
	}
	SortEdgeKeys(keys)
	assert.Equal(t, EdgeKey{Source: s1, Target: s1}, keys[0])
	assert.Equal(t, EdgeKey{Source: s1, Target: s2}, keys[1])
	assert.Equal(t, EdgeKey{Source: s2, Target: s1}, keys[2])
}
