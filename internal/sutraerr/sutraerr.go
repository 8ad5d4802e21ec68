// Package sutraerr defines the engine-wide error-kind taxonomy.
//
// Errors carry a Kind so callers at the wire boundary can translate them
// into the right response variant without string-matching messages.
package sutraerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for disposition at the wire boundary.
type Kind int

const (
	// KindUnknown is the zero value; never returned deliberately.
	KindUnknown Kind = iota
	KindInvalidArgument
	KindBackpressure
	KindNotFound
	KindTimeout
	KindRateLimited
	KindAuthFailed
	KindProtocolError
	KindStorageCorrupt
	KindTransient
	KindReadOnly
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindBackpressure:
		return "Backpressure"
	case KindNotFound:
		return "NotFound"
	case KindTimeout:
		return "Timeout"
	case KindRateLimited:
		return "RateLimited"
	case KindAuthFailed:
		return "AuthFailed"
	case KindProtocolError:
		return "ProtocolError"
	case KindStorageCorrupt:
		return "StorageCorrupt"
	case KindTransient:
		return "Transient"
	case KindReadOnly:
		return "ReadOnly"
	default:
		return "Unknown"
	}
}

// Error is a typed, wrappable error tagged with a Kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a Kind-tagged error with no wrapped cause.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap tags err with kind, preserving it as the cause.
func Wrap(kind Kind, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or KindUnknown if err is not a tagged Error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// Sentinel convenience errors for errors.Is comparisons where no extra
// context is needed.
var (
	ErrNotFound     = New(KindNotFound, "not found")
	ErrBackpressure = New(KindBackpressure, "write log full")
	ErrReadOnly     = New(KindReadOnly, "namespace is read-only")
	ErrTimeout      = New(KindTimeout, "deadline exceeded")
)
