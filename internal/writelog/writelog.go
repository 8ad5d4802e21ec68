// Package writelog implements the bounded, multi-producer/single-consumer
// queue of committed-but-not-yet-reconciled mutations.
//
// A mutex-guarded fixed-capacity ring buffer fronts the queue so appends
// never block a writer — a full queue fails fast with Backpressure
// instead.
package writelog

import (
	"sync"
	"sync/atomic"

	"sutragraph/internal/graph"
	"sutragraph/internal/sutraerr"
	"sutragraph/internal/sutraid"
)

// EntryKind tags the mutation carried by a WriteEntry.
type EntryKind int

const (
	KindWriteConcept EntryKind = iota
	KindWriteAssociation
	KindUpdateStrength
	KindRecordAccess
	KindDeleteConcept
	KindUpdateAttributes
)

// WriteEntry is one pending mutation, stamped with its assigned sequence.
type WriteEntry struct {
	Sequence uint64
	Kind     EntryKind

	ConceptID sutraid.ConceptId

	// Populated depending on Kind.
	Content     []byte
	Vector      []float32
	Attributes  map[string]string
	Strength    *float32
	Confidence  *float32
	DeltaAccess bool
	Semantic    *graph.Semantic

	Association *AssociationWrite
}

// AssociationWrite carries the fields needed to create/update an edge.
type AssociationWrite struct {
	Source     sutraid.ConceptId
	Target     sutraid.ConceptId
	Type       int
	Confidence float32
	Weight     float32
}

// Log is the bounded in-memory write queue for one namespace.
type Log struct {
	mu       sync.Mutex
	entries  []WriteEntry
	capacity int
	head     int // index of oldest entry
	count    int // number of entries currently queued

	nextSequence uint64

	written uint64
	dropped uint64
}

// New creates a Log with the given fixed capacity.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = 50_000
	}
	return &Log{
		entries:  make([]WriteEntry, capacity),
		capacity: capacity,
	}
}

// Append assigns the next monotone sequence to entry and enqueues it.
// Returns sutraerr.ErrBackpressure (Kind Backpressure) when the queue is full;
// writers must treat this as retryable and never block here.
func (l *Log) Append(entry WriteEntry) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count >= l.capacity {
		atomic.AddUint64(&l.dropped, 1)
		return 0, sutraerr.ErrBackpressure
	}

	l.nextSequence++
	seq := l.nextSequence
	entry.Sequence = seq

	idx := (l.head + l.count) % l.capacity
	l.entries[idx] = entry
	l.count++

	atomic.AddUint64(&l.written, 1)
	return seq, nil
}

// DrainUpTo removes and returns up to n entries in FIFO order. Only the
// reconciler calls this.
func (l *Log) DrainUpTo(n int) []WriteEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n > l.count {
		n = l.count
	}
	if n <= 0 {
		return nil
	}

	out := make([]WriteEntry, n)
	for i := 0; i < n; i++ {
		out[i] = l.entries[(l.head+i)%l.capacity]
	}
	l.head = (l.head + n) % l.capacity
	l.count -= n
	return out
}

// Pending returns the number of entries currently queued.
func (l *Log) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Capacity returns the fixed queue capacity.
func (l *Log) Capacity() int { return l.capacity }

// Written returns the cumulative count of entries ever accepted.
func (l *Log) Written() uint64 { return atomic.LoadUint64(&l.written) }

// Dropped returns the cumulative count of entries rejected due to backpressure.
func (l *Log) Dropped() uint64 { return atomic.LoadUint64(&l.dropped) }

// NearCapacity reports whether pending has crossed the backpressure-warning
// threshold (90% of capacity).
func (l *Log) NearCapacity() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return float64(l.count) >= 0.9*float64(l.capacity)
}
