package writelog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sutragraph/internal/sutraerr"
)

func TestAppendAssignsMonotoneSequence(t *testing.T) {
	l := New(4)
	seq1, err := l.Append(WriteEntry{Kind: KindWriteConcept})
	require.NoError(t, err)
	seq2, err := l.Append(WriteEntry{Kind: KindWriteConcept})
	require.NoError(t, err)
	assert.Equal(t, seq1+1, seq2)
}

func TestAppendBackpressureWhenFull(t *testing.T) {
	l := New(2)
	_, err := l.Append(WriteEntry{})
	require.NoError(t, err)
	_, err = l.Append(WriteEntry{})
	require.NoError(t, err)

	_, err = l.Append(WriteEntry{})
	assert.ErrorIs(t, err, sutraerr.ErrBackpressure)
	assert.Equal(t, uint64(1), l.Dropped())
}

func TestDrainUpToReturnsFIFOOrder(t *testing.T) {
	l := New(8)
	for i := 0; i < 5; i++ {
		_, err := l.Append(WriteEntry{Kind: KindUpdateStrength})
		require.NoError(t, err)
	}

	drained := l.DrainUpTo(3)
	require.Len(t, drained, 3)
	assert.Equal(t, uint64(1), drained[0].Sequence)
	assert.Equal(t, uint64(2), drained[1].Sequence)
	assert.Equal(t, uint64(3), drained[2].Sequence)
	assert.Equal(t, 2, l.Pending())
}

func TestDrainUpToCapsAtPending(t *testing.T) {
	l := New(8)
	_, err := l.Append(WriteEntry{})
	require.NoError(t, err)

	drained := l.DrainUpTo(100)
	assert.Len(t, drained, 1)
	assert.Empty(t, l.DrainUpTo(1))
}

func TestNearCapacityThreshold(t *testing.T) {
	l := New(10)
	for i := 0; i < 8; i++ {
		_, err := l.Append(WriteEntry{})
		require.NoError(t, err)
	}
	assert.False(t, l.NearCapacity())

	_, err := l.Append(WriteEntry{})
	require.NoError(t, err)
	assert.True(t, l.NearCapacity())
}

func TestRingBufferWrapsAfterDrain(t *testing.T) {
	l := New(3)
	for i := 0; i < 3; i++ {
		_, err := l.Append(WriteEntry{})
		require.NoError(t, err)
	}
	require.Len(t, l.DrainUpTo(2), 2)

	for i := 0; i < 2; i++ {
		_, err := l.Append(WriteEntry{})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, l.Pending())
	drained := l.DrainUpTo(3)
	require.Len(t, drained, 3)
	for i := 1; i < len(drained); i++ {
		assert.Less(t, drained[i-1].Sequence, drained[i].Sequence)
	}
}
