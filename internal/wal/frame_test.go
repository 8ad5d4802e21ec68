package wal

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFrameReadFramesRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payloads := [][]byte{
		[]byte("first"),
		[]byte("second payload, a bit longer"),
		{},
	}
	for _, p := range payloads {
		require.NoError(t, WriteFrame(&buf, p))
	}

	frames, truncated, err := ReadFrames(&buf)
	require.NoError(t, err)
	assert.False(t, truncated)
	require.Len(t, frames, len(payloads))
	for i, p := range payloads {
		assert.Equal(t, p, frames[i])
	}
}

func TestReadFramesDetectsTruncatedTail(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("complete frame")))

	full := buf.Bytes()
	truncatedInput := append([]byte(nil), full...)
	truncatedInput = append(truncatedInput, full[:len(full)/2]...)

	frames, truncated, err := ReadFrames(bytes.NewReader(truncatedInput))
	require.NoError(t, err)
	assert.True(t, truncated)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("complete frame"), frames[0])
}

func TestReadFramesEmptyInput(t *testing.T) {
	frames, truncated, err := ReadFrames(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.False(t, truncated)
	assert.Empty(t, frames)
}
