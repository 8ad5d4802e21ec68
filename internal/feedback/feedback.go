// Package feedback applies accept/reject signals from a query's result
// set back onto concept strength, synchronously, from the request
// handler that received the feedback call.
package feedback

import (
	"fmt"

	"sutragraph/internal/graph"
	"sutragraph/internal/sutraid"
	"sutragraph/internal/writelog"
)

const (
	// AcceptBoost is the flat strength increment for an accepted result.
	AcceptBoost float32 = 0.05
	// MaxRankingBoost is the additional increment a rank-0 accepted result
	// gets on top of AcceptBoost; it scales down linearly to 0 at the
	// bottom of the ranking.
	MaxRankingBoost float32 = 0.05
	// RejectPenalty is the flat strength decrement for a rejected result.
	RejectPenalty float32 = 0.1
)

// WriteSubmitter is the minimal capability feedback needs from a
// namespace: enqueue a write and read a concept's current strength.
type WriteSubmitter interface {
	Submit(entry writelog.WriteEntry) (uint64, error)
	CurrentStrength(id sutraid.ConceptId) (float32, bool)
}

// Process folds one feedback call onto svc: for every id in ids,
// accepted[i] selects the accept or reject formula, and ranking (if
// non-nil) scales the accept boost by how early the result ranked.
// Unknown ids are skipped rather than erroring, since a stale result id
// from a client-held page is expected, not exceptional.
func Process(ids []sutraid.ConceptId, accepted []bool, ranking []int, svc WriteSubmitter) error {
	if len(accepted) != len(ids) {
		return fmt.Errorf("feedback: ids and accepted length mismatch: %d vs %d", len(ids), len(accepted))
	}
	if ranking != nil && len(ranking) != len(ids) {
		return fmt.Errorf("feedback: ids and ranking length mismatch: %d vs %d", len(ids), len(ranking))
	}

	total := len(ids)
	for i, id := range ids {
		old, ok := svc.CurrentStrength(id)
		if !ok {
			continue
		}

		var next float32
		if accepted[i] {
			boost := AcceptBoost
			if ranking != nil && total > 1 {
				rankingFactor := 1 - float32(ranking[i])/float32(total-1)
				boost += rankingFactor * MaxRankingBoost
			} else if ranking != nil {
				boost += MaxRankingBoost
			}
			next = graph.Clamp01(old + boost)
		} else {
			next = graph.Clamp01(old - RejectPenalty)
		}

		entry := writelog.WriteEntry{
			Kind:      writelog.KindUpdateStrength,
			ConceptID: id,
			Strength:  &next,
		}
		if _, err := svc.Submit(entry); err != nil {
			return fmt.Errorf("feedback: submit strength update for %s: %w", id.Hex(), err)
		}
	}
	return nil
}
