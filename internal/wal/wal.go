// Package wal implements the write-ahead log: a single append-only file of
// framed entries, each [uint32 length][payload][uint32 crc32].
//
// Entries are length-prefixed binary frames rather than newline-delimited
// JSON, matching the framing used by the wire protocol. fsync-every-write
// is kept as the `always` policy option; `group-commit-every-N-ms` batches
// pending appends behind a ticker before a single fsync.
package wal

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
	"time"

	"sutragraph/internal/graph"
	"sutragraph/internal/sutraerr"
	"sutragraph/internal/sutraid"
)

// EntryKind mirrors writelog.EntryKind but is WAL-local so the WAL package
// has no dependency on the reconciler's in-memory queue shape.
type EntryKind uint8

const (
	KindWriteConcept EntryKind = iota
	KindWriteAssociation
	KindUpdateStrength
	KindRecordAccess
	KindDeleteConcept
	KindUpdateAttributes
)

// Entry is one durable mutation record. Payload fields are JSON-encoded
// and wrapped in the binary length+checksum frame.
type Entry struct {
	Sequence   uint64
	Kind       EntryKind
	ConceptID  sutraid.ConceptId
	Content    []byte            `json:",omitempty"`
	Vector     []float32         `json:",omitempty"`
	Attributes map[string]string `json:",omitempty"`
	Strength   *float32          `json:",omitempty"`
	Confidence *float32          `json:",omitempty"`
	Source     sutraid.ConceptId `json:",omitempty"`
	Target     sutraid.ConceptId `json:",omitempty"`
	AssocType  uint8             `json:",omitempty"`
	Weight     float32           `json:",omitempty"`
	Semantic   *graph.Semantic   `json:",omitempty"`
}

// FsyncPolicy selects when the WAL flushes to stable storage.
type FsyncPolicy int

const (
	// FsyncAlways fsyncs after every append (teacher's default behavior).
	FsyncAlways FsyncPolicy = iota
	// FsyncGroupCommit batches appends and fsyncs on a fixed interval.
	FsyncGroupCommit
)

// WAL is the durable, ordered, crash-safe mutation log for one namespace.
type WAL struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string

	policy         FsyncPolicy
	groupCommitMs  time.Duration
	dirtySinceSync bool
	stopGroup      chan struct{}
	groupWG        sync.WaitGroup
}

// Open opens (or creates) the WAL file at path with the given fsync policy.
func Open(path string, policy FsyncPolicy, groupCommitMs time.Duration) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	if groupCommitMs <= 0 {
		groupCommitMs = 10 * time.Millisecond
	}
	w := &WAL{
		file:          f,
		writer:        bufio.NewWriter(f),
		path:          path,
		policy:        policy,
		groupCommitMs: groupCommitMs,
	}
	if policy == FsyncGroupCommit {
		w.stopGroup = make(chan struct{})
		w.groupWG.Add(1)
		go w.groupCommitLoop()
	}
	return w, nil
}

func (w *WAL) groupCommitLoop() {
	defer w.groupWG.Done()
	ticker := time.NewTicker(w.groupCommitMs)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.mu.Lock()
			if w.dirtySinceSync {
				_ = w.writer.Flush()
				_ = w.file.Sync()
				w.dirtySinceSync = false
			}
			w.mu.Unlock()
		case <-w.stopGroup:
			return
		}
	}
}

// frame serializes an entry as JSON and wraps it: [len][json][crc32].
func frame(e Entry) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("wal: marshal entry: %w", err)
	}
	buf := make([]byte, 4+len(payload)+4)
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	sum := crc32.ChecksumIEEE(payload)
	binary.BigEndian.PutUint32(buf[4+len(payload):], sum)
	return buf, nil
}

// Append durably records entry. fsync behavior depends on the WAL's policy:
// FsyncAlways flushes and fsyncs before returning; FsyncGroupCommit leaves
// the fsync to the background ticker, trading a small durability window for
// throughput.
func (w *WAL) Append(e Entry) error {
	buf, err := frame(e)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.writer.Write(buf); err != nil {
		return sutraerr.Wrap(sutraerr.KindTransient, "wal append write", err)
	}

	switch w.policy {
	case FsyncAlways:
		if err := w.writer.Flush(); err != nil {
			return sutraerr.Wrap(sutraerr.KindTransient, "wal flush", err)
		}
		if err := w.file.Sync(); err != nil {
			return sutraerr.Wrap(sutraerr.KindTransient, "wal fsync", err)
		}
	case FsyncGroupCommit:
		w.dirtySinceSync = true
	}
	return nil
}

// Flush forces buffered writes and an fsync regardless of policy; used
// before Store.SnapshotToDisk and at shutdown.
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writer.Flush(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.dirtySinceSync = false
	return nil
}

// ReplayResult carries the parsed entries plus a flag for a tolerated
// truncated tail (a crash mid-append).
type ReplayResult struct {
	Entries       []Entry
	TruncatedTail bool
}

// Replay reads path from the beginning and returns every well-formed entry.
// A truncated final entry (a partial length prefix, or a length that
// overruns EOF) is tolerated: everything parsed up to that point is
// returned with TruncatedTail=true. Any checksum or structural error that
// occurs before such a tail is fatal (sutraerr.KindStorageCorrupt).
func Replay(path string) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ReplayResult{}, nil
		}
		return nil, fmt.Errorf("wal: open for replay %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	result := &ReplayResult{}

	for {
		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(r, lenBuf); err != nil {
			if err == io.EOF {
				return result, nil
			}
			if err == io.ErrUnexpectedEOF {
				result.TruncatedTail = true
				return result, nil
			}
			return nil, sutraerr.Wrap(sutraerr.KindStorageCorrupt, "wal: read length prefix", err)
		}
		plen := binary.BigEndian.Uint32(lenBuf)

		payload := make([]byte, plen)
		if _, err := io.ReadFull(r, payload); err != nil {
			result.TruncatedTail = true
			return result, nil
		}

		crcBuf := make([]byte, 4)
		if _, err := io.ReadFull(r, crcBuf); err != nil {
			result.TruncatedTail = true
			return result, nil
		}
		wantSum := binary.BigEndian.Uint32(crcBuf)
		gotSum := crc32.ChecksumIEEE(payload)
		if wantSum != gotSum {
			return nil, sutraerr.New(sutraerr.KindStorageCorrupt,
				fmt.Sprintf("wal: checksum mismatch at offset, want %x got %x", wantSum, gotSum))
		}

		var e Entry
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, sutraerr.Wrap(sutraerr.KindStorageCorrupt, "wal: unmarshal entry", err)
		}
		result.Entries = append(result.Entries, e)
	}
}

// WriteFrame writes an arbitrary payload using the same
// [length][payload][crc32] framing Append uses, so other durable logs can
// reuse the shape without coupling to the graph-mutation Entry type. The
// 2PC coordinator's own commit log is built on this.
func WriteFrame(w io.Writer, payload []byte) error {
	buf := make([]byte, 4+len(payload)+4)
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	binary.BigEndian.PutUint32(buf[4+len(payload):], crc32.ChecksumIEEE(payload))
	_, err := w.Write(buf)
	return err
}

// ReadFrames reads every well-formed frame from r, tolerating a truncated
// final frame the same way Replay does. A checksum mismatch before any
// such tail is fatal.
func ReadFrames(r io.Reader) (frames [][]byte, truncatedTail bool, err error) {
	br := bufio.NewReader(r)
	for {
		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(br, lenBuf); err != nil {
			if err == io.EOF {
				return frames, false, nil
			}
			if err == io.ErrUnexpectedEOF {
				return frames, true, nil
			}
			return nil, false, sutraerr.Wrap(sutraerr.KindStorageCorrupt, "wal: read frame length", err)
		}
		plen := binary.BigEndian.Uint32(lenBuf)

		payload := make([]byte, plen)
		if _, err := io.ReadFull(br, payload); err != nil {
			return frames, true, nil
		}

		crcBuf := make([]byte, 4)
		if _, err := io.ReadFull(br, crcBuf); err != nil {
			return frames, true, nil
		}
		want := binary.BigEndian.Uint32(crcBuf)
		if crc32.ChecksumIEEE(payload) != want {
			return nil, false, sutraerr.New(sutraerr.KindStorageCorrupt, "wal: frame checksum mismatch")
		}
		frames = append(frames, payload)
	}
}

// Truncate empties the WAL file; called after a Store snapshot whose
// sequence covers every entry currently on disk has been fsynced.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Truncate(0); err != nil {
		return err
	}
	if _, err := w.file.Seek(0, 0); err != nil {
		return err
	}
	w.writer.Reset(w.file)
	w.dirtySinceSync = false
	return nil
}

// Close stops the group-commit loop (if any) and closes the file.
func (w *WAL) Close() error {
	if w.stopGroup != nil {
		close(w.stopGroup)
		w.groupWG.Wait()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.writer.Flush()
	return w.file.Close()
}
