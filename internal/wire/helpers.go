package wire

import (
	"encoding/json"

	"sutragraph/internal/sutraerr"
	"sutragraph/internal/sutraid"
)

func decode(body []byte, v interface{}) error {
	if err := json.Unmarshal(body, v); err != nil {
		return sutraerr.Wrap(sutraerr.KindProtocolError, "malformed request body", err)
	}
	return nil
}

func floatPtr(v float32) *float32 { return &v }

func orDefault(v, def float32) float32 {
	if v == 0 {
		return def
	}
	return v
}

func hexAll(ids []sutraid.ConceptId) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Hex()
	}
	return out
}

func preview(content []byte) string {
	const max = 160
	if len(content) <= max {
		return string(content)
	}
	return string(content[:max]) + "..."
}

type recentEntry struct {
	id   sutraid.ConceptId
	last int64
}

// insertionSortDesc sorts recency lists by last-accessed descending without
// pulling in the sort package. ListRecent passes it every concept in the
// snapshot and truncates to the limit afterwards.
func insertionSortDesc(items []recentEntry) {
	for i := 1; i < len(items); i++ {
		v := items[i]
		j := i - 1
		for j >= 0 && items[j].last < v.last {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = v
	}
}
