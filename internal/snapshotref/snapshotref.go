// Package snapshotref implements the read view: a shared, atomically
// swappable reference to the current graph snapshot.
//
// A plain sync.RWMutex around the map would let readers share a consistent
// view, but blocks a swap from completing while any reader holds the lock
// for a long-running query. This package instead holds the current
// snapshot behind an atomic.Pointer: Current() is a single atomic load
// (wait-free, lock-free) and a publish is a single atomic store.
// Each Ref counts the readers currently holding it; an old snapshot is
// reclaimed by the garbage collector once nothing references it.
package snapshotref

import (
	"sync/atomic"

	"sutragraph/internal/graph"
)

// Ref is a refcounted handle to one immutable Snapshot. The count only
// exists for observability (how many readers are mid-query against a given
// snapshot); reclamation itself is left to the garbage collector once no
// reader and no Publisher slot points at a Ref anymore.
type Ref struct {
	snap  *graph.Snapshot
	count int64
}

// Snapshot returns the underlying immutable snapshot.
func (r *Ref) Snapshot() *graph.Snapshot { return r.snap }

// Acquire increments the reference count and returns the same Ref; callers
// must call Release exactly once per Acquire/initial hand-out.
func (r *Ref) Acquire() *Ref {
	atomic.AddInt64(&r.count, 1)
	return r
}

// Release decrements the reference count.
func (r *Ref) Release() {
	atomic.AddInt64(&r.count, -1)
}

// Publisher holds the currently-published Ref and exposes Current/Publish.
type Publisher struct {
	current atomic.Pointer[Ref]
}

// NewPublisher creates a Publisher seeded with an initial snapshot.
func NewPublisher(initial *graph.Snapshot) *Publisher {
	p := &Publisher{}
	ref := &Ref{snap: initial, count: 1}
	p.current.Store(ref)
	return p
}

// Current returns the live snapshot reference, acquired on the caller's
// behalf. The caller must Release it when done.
func (p *Publisher) Current() *Ref {
	ref := p.current.Load()
	atomic.AddInt64(&ref.count, 1)
	return ref
}

// Publish atomically swaps in a new snapshot. The previous snapshot remains
// valid for any reader that already acquired it; it is not explicitly freed
// here — Go's GC reclaims it once the last reference to the old Ref drops
// (the Publisher's own pointer no longer counts after the swap, and each
// in-flight reader's Ref.Release is purely a bookkeeping decrement, not a
// free).
func (p *Publisher) Publish(snap *graph.Snapshot) *Ref {
	ref := &Ref{snap: snap, count: 1}
	p.current.Store(ref)
	return ref
}
