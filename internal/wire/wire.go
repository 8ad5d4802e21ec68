// Package wire implements the TCP request/response protocol:
// length-prefixed binary frames, each carrying a one-byte variant
// discriminant followed by a JSON-encoded body.
//
// The length-prefix framing is the same [u32 length][payload] shape
// wal.WriteFrame/ReadFrames already implement for the WAL and the 2PC
// coordinator's log, generalized here to carry an arbitrary request or
// response body instead of a mutation record. Bodies stay JSON-encoded for
// consistency with the rest of this module; the binary length-prefix
// framing around them gives a TCP stream the explicit frame boundary an
// HTTP transport already has for free.
package wire

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"sutragraph/internal/sutraerr"
)

// MaxFrameBytes is the largest payload (discriminant + JSON body) the
// protocol accepts.
const MaxFrameBytes = 16 * 1024 * 1024

// Kind discriminates a request or response variant.
type Kind uint8

const (
	KindHealthCheck Kind = iota
	KindLearnConceptV2
	KindLearnWithEmbedding
	KindQueryConcept
	KindVectorSearch
	KindFindPath
	KindFindPathsParallel
	KindListRecent
	KindFeedback
	KindFlush
	KindStats
	KindListNamespaces
	KindClearNamespace
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindHealthCheck:
		return "HealthCheck"
	case KindLearnConceptV2:
		return "LearnConceptV2"
	case KindLearnWithEmbedding:
		return "LearnWithEmbedding"
	case KindQueryConcept:
		return "QueryConcept"
	case KindVectorSearch:
		return "VectorSearch"
	case KindFindPath:
		return "FindPath"
	case KindFindPathsParallel:
		return "FindPathsParallel"
	case KindListRecent:
		return "ListRecent"
	case KindFeedback:
		return "Feedback"
	case KindFlush:
		return "Flush"
	case KindStats:
		return "Stats"
	case KindListNamespaces:
		return "ListNamespaces"
	case KindClearNamespace:
		return "ClearNamespace"
	case KindError:
		return "Error"
	default:
		return "Unknown"
	}
}

// ReadFrame reads one [u32 length][kind byte][json body] frame from r.
// An oversize length is a sutraerr.KindProtocolError the caller must treat
// as fatal to the connection.
func ReadFrame(r io.Reader) (Kind, []byte, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}

	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(br, lenBuf); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf)
	if n == 0 || uint64(n) > MaxFrameBytes {
		return 0, nil, sutraerr.New(sutraerr.KindProtocolError, fmt.Sprintf("frame size %d exceeds limit", n))
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(br, body); err != nil {
		return 0, nil, err
	}
	return Kind(body[0]), body[1:], nil
}

// WriteFrame writes one [u32 length][kind byte][json body] frame to w.
func WriteFrame(w io.Writer, kind Kind, payload []byte) error {
	if len(payload)+1 > MaxFrameBytes {
		return sutraerr.New(sutraerr.KindProtocolError, "response payload exceeds frame limit")
	}
	buf := make([]byte, 4+1+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(1+len(payload)))
	buf[4] = byte(kind)
	copy(buf[5:], payload)
	_, err := w.Write(buf)
	return err
}

// WriteJSON marshals v and writes it as a kind-tagged frame.
func WriteJSON(w io.Writer, kind Kind, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return WriteFrame(w, kind, body)
}

// WriteError writes an ErrorResponse frame for err. retryAfter is only
// meaningful (and only serialized) for RateLimited/Backpressure errors.
func WriteError(w io.Writer, err error, retryAfter time.Duration) error {
	resp := ErrorResponse{
		Kind:    sutraerr.KindOf(err).String(),
		Message: err.Error(),
	}
	if retryAfter > 0 {
		resp.RetryAfterMs = retryAfter.Milliseconds()
	}
	return WriteJSON(w, KindError, resp)
}

// PerformClientHandshake sends a bare [u32 length][token] frame and reads
// the server's one-byte accept/reject reply. Conn is assumed already
// TLS-wrapped if TLS is in use.
func PerformClientHandshake(conn net.Conn, token string) error {
	buf := make([]byte, 4+len(token))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(token)))
	copy(buf[4:], token)
	if _, err := conn.Write(buf); err != nil {
		return err
	}
	reply := make([]byte, 1)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return err
	}
	if reply[0] != 1 {
		return sutraerr.New(sutraerr.KindAuthFailed, "authentication rejected")
	}
	return nil
}

// PerformServerHandshake reads the bare [u32 length][token] frame a
// connecting client sends before its first request and replies with a
// single accept/reject byte.
func PerformServerHandshake(conn net.Conn, expectedToken string) (bool, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(conn, lenBuf); err != nil {
		return false, err
	}
	n := binary.BigEndian.Uint32(lenBuf)
	if n > 4096 {
		return false, sutraerr.New(sutraerr.KindProtocolError, "auth token too large")
	}
	token := make([]byte, n)
	if _, err := io.ReadFull(conn, token); err != nil {
		return false, err
	}

	ok := string(token) == expectedToken
	if ok {
		_, err := conn.Write([]byte{1})
		return true, err
	}
	_, _ = conn.Write([]byte{0})
	return false, nil
}
