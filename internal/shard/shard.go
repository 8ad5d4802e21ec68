// Package shard implements deterministic shard routing: every ConceptId
// maps to exactly one of a fixed number of shards, with no rebalancing and
// no virtual nodes.
//
// The key is already a truncated sha256 digest, so routing does no hashing
// of its own: it reads the id's first 8 bytes as a fixed-width integer,
// then reduces that onto the available slots. The slot count is
// fixed at construction time, so a plain modulo suffices — sharding is
// deterministic, so there is nothing to rebalance.
package shard

import (
	"sutragraph/internal/sutraid"
)

// Router assigns ConceptIds to one of a fixed number of shards.
type Router struct {
	count int
}

// NewRouter creates a Router over count shards. count must be at least 1.
func NewRouter(count int) *Router {
	if count < 1 {
		count = 1
	}
	return &Router{count: count}
}

// Count returns the number of shards the router routes across.
func (r *Router) Count() int { return r.count }

// ShardFor returns the shard index (in [0, Count())) a ConceptId routes to.
// ConceptId is already a truncated sha256 digest (sutraid.FromContent), so
// routing reduces it onto the shard space directly rather than re-hashing.
func (r *Router) ShardFor(id sutraid.ConceptId) int {
	var acc uint64
	for _, b := range id[:8] {
		acc = acc<<8 | uint64(b)
	}
	return int(acc % uint64(r.count))
}

// ShardsFor returns the distinct shard indices a set of ConceptIds touch,
// in ascending order. Used by callers deciding whether a write needs the
// 2PC coordinator (len > 1) or can go straight to a single shard.
func (r *Router) ShardsFor(ids []sutraid.ConceptId) []int {
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		seen[r.ShardFor(id)] = true
	}
	out := make([]int, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
