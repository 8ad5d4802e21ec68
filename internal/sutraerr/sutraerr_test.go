package sutraerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCarriesKind(t *testing.T) {
	err := New(KindNotFound, "missing")
	assert.True(t, Is(err, KindNotFound))
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Contains(t, err.Error(), "missing")
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk exploded")
	err := Wrap(KindStorageCorrupt, "load snapshot", cause)
	assert.True(t, Is(err, KindStorageCorrupt))
	assert.ErrorIs(t, err, cause)
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(KindTimeout, "no-op", nil))
}

func TestKindOfUntaggedErrorIsUnknown(t *testing.T) {
	plain := errors.New("plain error")
	assert.Equal(t, KindUnknown, KindOf(plain))
	assert.False(t, Is(plain, KindNotFound))
}

func TestSentinelErrorsCarryExpectedKinds(t *testing.T) {
	assert.True(t, Is(ErrNotFound, KindNotFound))
	assert.True(t, Is(ErrBackpressure, KindBackpressure))
	assert.True(t, Is(ErrReadOnly, KindReadOnly))
	assert.True(t, Is(ErrTimeout, KindTimeout))
}

func TestKindStringCoversEveryKind(t *testing.T) {
	kinds := []Kind{
		KindInvalidArgument, KindBackpressure, KindNotFound, KindTimeout,
		KindRateLimited, KindAuthFailed, KindProtocolError, KindStorageCorrupt,
		KindTransient, KindReadOnly,
	}
	for _, k := range kinds {
		assert.NotEqual(t, "Unknown", k.String(), "kind %d should have a named String()", k)
	}
	assert.Equal(t, "Unknown", Kind(999).String())
}
