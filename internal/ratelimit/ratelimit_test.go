package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowConsumesTokensThenBlocks(t *testing.T) {
	l := NewLimiter(3, 1)

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("client-a")
		require.True(t, ok, "request %d should be allowed within capacity", i)
	}

	ok, retryAfter := l.Allow("client-a")
	assert.False(t, ok)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestAllowRefillsOverTime(t *testing.T) {
	l := NewLimiter(1, 1000) // fast refill for the test

	ok, _ := l.Allow("client-b")
	require.True(t, ok)

	ok, _ = l.Allow("client-b")
	require.False(t, ok)

	time.Sleep(5 * time.Millisecond)
	ok, _ = l.Allow("client-b")
	assert.True(t, ok, "bucket should have refilled at least one token")
}

func TestAllowSeparatesBucketsPerClient(t *testing.T) {
	l := NewLimiter(1, 0.001)

	ok, _ := l.Allow("client-c")
	require.True(t, ok)

	ok, _ = l.Allow("client-d")
	assert.True(t, ok, "a different client id must not share client-c's exhausted bucket")
}

func TestAllowEmptyClientIDUsesAnonymousBucket(t *testing.T) {
	l := NewLimiter(1, 0.001)

	ok, _ := l.Allow("")
	require.True(t, ok)

	ok, _ = l.Allow("")
	assert.False(t, ok, "anonymous callers should share one bucket")
}

func TestResetRefillsBucketImmediately(t *testing.T) {
	l := NewLimiter(1, 0.001)

	ok, _ := l.Allow("client-e")
	require.True(t, ok)
	ok, _ = l.Allow("client-e")
	require.False(t, ok)

	l.Reset("client-e")
	ok, _ = l.Allow("client-e")
	assert.True(t, ok)
}
