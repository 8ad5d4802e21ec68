package shard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sutragraph/internal/sutraid"
)

func TestNewRouterClampsToOne(t *testing.T) {
	r := NewRouter(0)
	assert.Equal(t, 1, r.Count())

	r = NewRouter(-5)
	assert.Equal(t, 1, r.Count())
}

func TestShardForIsDeterministic(t *testing.T) {
	r := NewRouter(8)
	id := sutraid.FromContent("concept-a")

	first := r.ShardFor(id)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, r.ShardFor(id))
	}
	assert.GreaterOrEqual(t, first, 0)
	assert.Less(t, first, 8)
}

func TestShardForDistributesAcrossShards(t *testing.T) {
	r := NewRouter(4)
	seen := make(map[int]bool)
	for i := 0; i < 200; i++ {
		id := sutraid.FromContent(string(rune('a')) + string(rune(i)))
		seen[r.ShardFor(id)] = true
	}
	assert.Greater(t, len(seen), 1, "expected ids to land in more than one shard")
}

func TestShardsForReturnsDistinctSortedShards(t *testing.T) {
	r := NewRouter(4)
	ids := make([]sutraid.ConceptId, 0, 50)
	for i := 0; i < 50; i++ {
		ids = append(ids, sutraid.FromContent(string(rune('a'+i%26))+string(rune(i))))
	}

	shards := r.ShardsFor(ids)
	require.NotEmpty(t, shards)
	for i := 1; i < len(shards); i++ {
		assert.Less(t, shards[i-1], shards[i], "shard list must be strictly increasing (distinct + sorted)")
	}
}

func TestShardsForSingleID(t *testing.T) {
	r := NewRouter(4)
	id := sutraid.FromContent("solo")
	shards := r.ShardsFor([]sutraid.ConceptId{id})
	require.Len(t, shards, 1)
	assert.Equal(t, r.ShardFor(id), shards[0])
}
