// Package pathfinder implements bounded shortest-path and parallel
// multi-path search over a held graph snapshot.
//
// The bidirectional-BFS shape and the errgroup-based fan-out follow the
// same bounded-parallel-work idiom used elsewhere in this module
// (golang.org/x/sync/errgroup, also used by the reasoning loop and the
// 2PC coordinator) for consistency across the codebase.
package pathfinder

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"sutragraph/internal/graph"
	"sutragraph/internal/sutraid"
)

// FindPath performs a bidirectional BFS over snap from start to end, capped
// at maxDepth hops. Ties among shortest paths are broken deterministically:
// frontiers and neighbor lists are visited in ascending ConceptId order, so
// every node keeps the smallest-id node that discovered it as its parent,
// and when several nodes join the two searches in the same step the
// smallest id is used. The result is not necessarily the lexicographically
// smallest of all shortest paths.
func FindPath(snap *graph.Snapshot, start, end sutraid.ConceptId, maxDepth int) ([]sutraid.ConceptId, bool) {
	if start == end {
		return []sutraid.ConceptId{start}, true
	}
	if maxDepth <= 0 {
		return nil, false
	}

	forwardParent := map[sutraid.ConceptId]sutraid.ConceptId{start: start}
	backwardParent := map[sutraid.ConceptId]sutraid.ConceptId{end: end}
	forwardFrontier := []sutraid.ConceptId{start}
	backwardFrontier := []sutraid.ConceptId{end}

	var meet sutraid.ConceptId
	found := false

	for depth := 0; depth < maxDepth && len(forwardFrontier) > 0 && len(backwardFrontier) > 0; depth++ {
		if len(forwardFrontier) <= len(backwardFrontier) {
			forwardFrontier, meet, found = expand(snap, forwardFrontier, forwardParent, backwardParent)
		} else {
			backwardFrontier, meet, found = expand(snap, backwardFrontier, backwardParent, forwardParent)
		}
		if found {
			break
		}
	}
	if !found {
		return nil, false
	}

	var fwd []sutraid.ConceptId
	for cur := meet; ; {
		fwd = append(fwd, cur)
		if cur == start {
			break
		}
		cur = forwardParent[cur]
	}
	for i, j := 0, len(fwd)-1; i < j; i, j = i+1, j-1 {
		fwd[i], fwd[j] = fwd[j], fwd[i]
	}

	var bwd []sutraid.ConceptId
	if meet != end {
		for cur := backwardParent[meet]; ; {
			bwd = append(bwd, cur)
			if cur == end {
				break
			}
			cur = backwardParent[cur]
		}
	}

	full := append(fwd, bwd...)
	if len(full)-1 > maxDepth {
		return nil, false
	}
	return full, true
}

// expand grows one BFS frontier by a single hop, assigning parents for any
// newly-discovered node and reporting the lexicographically smallest node
// that the other direction has already reached, if any.
func expand(
	snap *graph.Snapshot,
	frontier []sutraid.ConceptId,
	ownParent, otherParent map[sutraid.ConceptId]sutraid.ConceptId,
) ([]sutraid.ConceptId, sutraid.ConceptId, bool) {
	sorted := append([]sutraid.ConceptId(nil), frontier...)
	sutraid.SortIDs(sorted)

	var next []sutraid.ConceptId
	var meets []sutraid.ConceptId
	for _, cur := range sorted {
		neighbors := snap.NeighborsOf(cur)
		sutraid.SortIDs(neighbors)
		for _, nb := range neighbors {
			if _, seen := ownParent[nb]; seen {
				continue
			}
			ownParent[nb] = cur
			next = append(next, nb)
			if _, reached := otherParent[nb]; reached {
				meets = append(meets, nb)
			}
		}
	}
	if len(meets) == 0 {
		return next, sutraid.Zero, false
	}
	sutraid.SortIDs(meets)
	return next, meets[0], true
}

// FindPathsParallel fans a search out over start's first-hop neighborhood,
// one worker per neighbor via errgroup, and returns up to k distinct paths
// deduplicated by their node-id signature. Results are ordered
// deterministically: shortest first, then lexicographically by the joined
// hex id sequence.
func FindPathsParallel(ctx context.Context, snap *graph.Snapshot, start, end sutraid.ConceptId, k, maxDepth int) ([][]sutraid.ConceptId, error) {
	if k <= 0 || maxDepth <= 0 {
		return nil, nil
	}

	neighbors := snap.NeighborsOf(start)
	sutraid.SortIDs(neighbors)

	var mu sync.Mutex
	seen := make(map[string]bool)
	var results [][]sutraid.ConceptId

	g, gctx := errgroup.WithContext(ctx)
	for _, n := range neighbors {
		n := n
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			path, ok := FindPath(snap, n, end, maxDepth-1)
			if !ok {
				return nil
			}
			full := append([]sutraid.ConceptId{start}, path...)
			sig := pathSignature(full)

			mu.Lock()
			defer mu.Unlock()
			if !seen[sig] {
				seen[sig] = true
				results = append(results, full)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if len(results[i]) != len(results[j]) {
			return len(results[i]) < len(results[j])
		}
		return pathSignature(results[i]) < pathSignature(results[j])
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func pathSignature(path []sutraid.ConceptId) string {
	parts := make([]string, len(path))
	for i, id := range path {
		parts[i] = id.Hex()
	}
	return strings.Join(parts, "-")
}
