package feedback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sutragraph/internal/sutraid"
	"sutragraph/internal/writelog"
)

type fakeSubmitter struct {
	strengths map[sutraid.ConceptId]float32
	submitted []writelog.WriteEntry
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{strengths: make(map[sutraid.ConceptId]float32)}
}

func (f *fakeSubmitter) Submit(entry writelog.WriteEntry) (uint64, error) {
	f.submitted = append(f.submitted, entry)
	f.strengths[entry.ConceptID] = *entry.Strength
	return uint64(len(f.submitted)), nil
}

func (f *fakeSubmitter) CurrentStrength(id sutraid.ConceptId) (float32, bool) {
	v, ok := f.strengths[id]
	return v, ok
}

func TestProcessAcceptBoostsStrength(t *testing.T) {
	svc := newFakeSubmitter()
	id := sutraid.FromContent("concept-1")
	svc.strengths[id] = 0.5

	err := Process([]sutraid.ConceptId{id}, []bool{true}, nil, svc)
	require.NoError(t, err)
	require.Len(t, svc.submitted, 1)
	assert.InDelta(t, 0.55, svc.strengths[id], 1e-6)
}

func TestProcessRejectPenalizesStrength(t *testing.T) {
	svc := newFakeSubmitter()
	id := sutraid.FromContent("concept-2")
	svc.strengths[id] = 0.5

	err := Process([]sutraid.ConceptId{id}, []bool{false}, nil, svc)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, svc.strengths[id], 1e-6)
}

func TestProcessRankingScalesAcceptBoost(t *testing.T) {
	svc := newFakeSubmitter()
	idFirst := sutraid.FromContent("ranked-first")
	idLast := sutraid.FromContent("ranked-last")
	svc.strengths[idFirst] = 0.5
	svc.strengths[idLast] = 0.5

	err := Process(
		[]sutraid.ConceptId{idFirst, idLast},
		[]bool{true, true},
		[]int{0, 1},
		svc,
	)
	require.NoError(t, err)
	assert.Greater(t, svc.strengths[idFirst], svc.strengths[idLast],
		"the earlier-ranked accepted result should get a larger boost")
}

func TestProcessClampsToUnitInterval(t *testing.T) {
	svc := newFakeSubmitter()
	idHigh := sutraid.FromContent("near-ceiling")
	idLow := sutraid.FromContent("near-floor")
	svc.strengths[idHigh] = 0.99
	svc.strengths[idLow] = 0.01

	err := Process([]sutraid.ConceptId{idHigh, idLow}, []bool{true, false}, nil, svc)
	require.NoError(t, err)
	assert.LessOrEqual(t, svc.strengths[idHigh], float32(1.0))
	assert.GreaterOrEqual(t, svc.strengths[idLow], float32(0.0))
}

func TestProcessSkipsUnknownIDs(t *testing.T) {
	svc := newFakeSubmitter()
	unknown := sutraid.FromContent("never-submitted")

	err := Process([]sutraid.ConceptId{unknown}, []bool{true}, nil, svc)
	require.NoError(t, err)
	assert.Empty(t, svc.submitted)
}

func TestProcessRejectsMismatchedLengths(t *testing.T) {
	svc := newFakeSubmitter()
	id := sutraid.FromContent("concept-3")

	err := Process([]sutraid.ConceptId{id}, []bool{true, false}, nil, svc)
	assert.Error(t, err)
}
