// Package reconciler implements the background folder: drain the write
// log, fold entries into a new snapshot, append them to the WAL, update
// the HNSW index, publish, and periodically flush the store and truncate
// the WAL.
//
// The tick pace is adaptive rather than a fixed interval, to keep up under
// write bursts while staying quiet when idle; the periodic "flush, then
// truncate the WAL" sequencing ensures the durable store and the WAL never
// disagree about what has been persisted.
package reconciler

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"sutragraph/internal/graph"
	"sutragraph/internal/hnsw"
	"sutragraph/internal/metrics"
	"sutragraph/internal/snapshotref"
	"sutragraph/internal/storage"
	"sutragraph/internal/sutraid"
	"sutragraph/internal/sutralog"
	"sutragraph/internal/wal"
	"sutragraph/internal/writelog"
)

// Config bounds the reconciler's adaptive pacing.
type Config struct {
	Namespace         string
	MinIntervalMs     int64
	MaxIntervalMs     int64
	InitialIntervalMs int64
	MemoryThreshold   int // pending count that forces an immediate cycle
	TargetLatencyMs   float64
	FlushEveryCycles  int
	MinBatch          int
	MaxBatch          int

	// MinAssociationConfidence and MaxAssociationsPerConcept mirror
	// LearnConceptV2's options and SUTRA_MIN_ASSOCIATION_CONFIDENCE /
	// SUTRA_MAX_ASSOCIATIONS_PER_CONCEPT: caps enforced at association-
	// insert time, carried over from the original's
	// association_extractor.rs (see SPEC_FULL.md).
	MinAssociationConfidence  float32
	MaxAssociationsPerConcept int
}

func (c Config) withDefaults() Config {
	if c.MinIntervalMs <= 0 {
		c.MinIntervalMs = 2
	}
	if c.MaxIntervalMs <= 0 {
		c.MaxIntervalMs = 200
	}
	if c.InitialIntervalMs <= 0 {
		c.InitialIntervalMs = 10
	}
	if c.MemoryThreshold <= 0 {
		c.MemoryThreshold = 1000
	}
	if c.TargetLatencyMs <= 0 {
		c.TargetLatencyMs = 50
	}
	if c.FlushEveryCycles <= 0 {
		c.FlushEveryCycles = 100
	}
	if c.MinBatch <= 0 {
		c.MinBatch = 32
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 4096
	}
	return c
}

// Reconciler is the single background task that folds a namespace's Write
// Log into new, published snapshots.
type Reconciler struct {
	cfg Config
	log zerolog.Logger

	writeLog  *writelog.Log
	wal       *wal.WAL
	store     *storage.Store
	index     *hnsw.Index
	publisher *snapshotref.Publisher

	cancel   chan struct{}
	wg       sync.WaitGroup
	readOnly atomic.Bool

	intervalMs int64
	batchSize  int
	avgDrain   float64
	avgLatency float64

	cyclesSinceFlush int

	deferredEdges map[sutraid.EdgeKey]writelog.WriteEntry
}

// New constructs a Reconciler wired to one namespace's services.
func New(cfg Config, wl *writelog.Log, w *wal.WAL, st *storage.Store, idx *hnsw.Index, pub *snapshotref.Publisher) *Reconciler {
	cfg = cfg.withDefaults()
	return &Reconciler{
		cfg:           cfg,
		log:           sutralog.New("reconciler").With().Str("namespace", cfg.Namespace).Logger(),
		writeLog:      wl,
		wal:           w,
		store:         st,
		index:         idx,
		publisher:     pub,
		cancel:        make(chan struct{}),
		intervalMs:    cfg.InitialIntervalMs,
		batchSize:     cfg.MinBatch,
		deferredEdges: make(map[sutraid.EdgeKey]writelog.WriteEntry),
	}
}

// ReadOnly reports whether the namespace has been demoted due to a fatal
// WAL append failure.
func (r *Reconciler) ReadOnly() bool { return r.readOnly.Load() }

// Start launches the background loop. Call Stop to drain and shut down.
func (r *Reconciler) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop cancels the loop, drains the write log once more, and performs a
// final flush and WAL truncation so shutdown never loses a buffered write.
func (r *Reconciler) Stop() {
	close(r.cancel)
	r.wg.Wait()
	r.RunNow()
	if err := r.store.SnapshotToDisk(r.publisher.Current().Snapshot()); err == nil {
		_ = r.wal.Truncate()
	}
}

// RunNow synchronously drains the write log, repeating runCycle until
// nothing is left pending (or the namespace goes read-only). Callers that
// need every buffered write reflected in the published snapshot before
// proceeding — an explicit Flush request, or shutdown — call this first.
func (r *Reconciler) RunNow() {
	for r.writeLog.Pending() > 0 && !r.readOnly.Load() {
		r.runCycle()
	}
}

func (r *Reconciler) loop(ctx context.Context) {
	defer r.wg.Done()
	for {
		wait := time.Duration(r.intervalMs) * time.Millisecond
		if r.writeLog.Pending() >= r.cfg.MemoryThreshold && !r.readOnly.Load() {
			// Run the next cycle immediately instead of waiting out
			// another interval.
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-r.cancel:
			timer.Stop()
			return
		case <-timer.C:
			r.runCycle()
		}
	}
}

func (r *Reconciler) runCycle() {
	if r.readOnly.Load() {
		return
	}
	start := time.Now()

	// Edges already deferred when this cycle starts get this one cycle for
	// their endpoints to arrive; any still deferred at its end are dropped.
	carried := make([]sutraid.EdgeKey, 0, len(r.deferredEdges))
	for key := range r.deferredEdges {
		carried = append(carried, key)
	}
	defer func() {
		for _, key := range carried {
			if _, still := r.deferredEdges[key]; still {
				r.log.Warn().Str("source", key.Source.Hex()).Str("target", key.Target.Hex()).
					Msg("association endpoints still missing after one deferred cycle; dropping")
				delete(r.deferredEdges, key)
			}
		}
	}()

	entries := r.writeLog.DrainUpTo(r.batchSize)
	if len(entries) == 0 {
		r.adaptPacing(0, 0)
		r.maybeFlush()
		return
	}

	cur := r.publisher.Current()
	base := cur.Snapshot()
	cur.Release()

	next := base.CloneShallow()
	next.Sequence = base.Sequence + 1

	var vectorChanges []hnsw.Change

	for _, e := range entries {
		r.apply(next, e, &vectorChanges)
		if err := r.wal.Append(toWALEntry(e)); err != nil {
			r.log.Error().Err(err).Msg("wal append failed; demoting namespace to read-only")
			r.readOnly.Store(true)
			return
		}
	}

	for _, ch := range vectorChanges {
		if ch.Remove {
			r.index.Remove(ch.ID)
		} else {
			r.index.Insert(ch.ID, ch.Vector)
		}
	}

	r.publisher.Publish(next)
	metrics.ReconcilerSequence.WithLabelValues(r.cfg.Namespace).Set(float64(next.Sequence))
	metrics.HNSWSize.WithLabelValues(r.cfg.Namespace).Set(float64(r.index.Len()))

	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0
	r.adaptPacing(len(entries), latencyMs)
	r.maybeFlush()
}

func (r *Reconciler) maybeFlush() {
	r.cyclesSinceFlush++
	pending := r.writeLog.Pending()
	if r.cyclesSinceFlush < r.cfg.FlushEveryCycles && pending != 0 {
		return
	}
	r.cyclesSinceFlush = 0
	cur := r.publisher.Current()
	snap := cur.Snapshot()
	cur.Release()
	if err := r.store.SnapshotToDisk(snap); err != nil {
		r.log.Warn().Err(err).Msg("store flush failed")
		return
	}
	if err := r.wal.Truncate(); err != nil {
		r.log.Warn().Err(err).Msg("wal truncate failed")
	}
}

// adaptPacing updates the EWMA of drain size / latency and retunes
// intervalMs and batchSize to hold latency under TargetLatencyMs while
// maximizing throughput.
func (r *Reconciler) adaptPacing(drained int, latencyMs float64) {
	const alpha = 0.2
	r.avgDrain = alpha*float64(drained) + (1-alpha)*r.avgDrain
	r.avgLatency = alpha*latencyMs + (1-alpha)*r.avgLatency

	pending := r.writeLog.Pending()
	capacity := r.writeLog.Capacity()
	health := 1.0 - math.Min(1.0, float64(pending)/float64(capacity))
	metrics.ReconcilerHealth.WithLabelValues(r.cfg.Namespace).Set(health)
	metrics.WriteLogPending.WithLabelValues(r.cfg.Namespace).Set(float64(pending))

	if r.avgLatency > r.cfg.TargetLatencyMs {
		// Tail latency is creeping up: shrink batches and tighten the loop.
		r.batchSize = max(r.cfg.MinBatch, r.batchSize/2)
		r.intervalMs = max(r.cfg.MinIntervalMs, r.intervalMs/2)
	} else if float64(pending) > 0.5*float64(capacity) {
		// Overloaded: raise pace to drain the backlog faster.
		r.batchSize = min(r.cfg.MaxBatch, r.batchSize*2)
		r.intervalMs = max(r.cfg.MinIntervalMs, r.intervalMs/2)
	} else {
		// Healthy and under target latency: relax to save CPU.
		r.intervalMs = min(r.cfg.MaxIntervalMs, r.intervalMs+1)
	}
	metrics.ReconcilerIntervalMs.WithLabelValues(r.cfg.Namespace).Set(float64(r.intervalMs))
}

// apply folds one write-log entry into next: association endpoints must
// both exist (deferred one cycle, then dropped with a warning), deletes
// cascade to incident edges and mark the HNSW point for removal,
// strength/confidence are clamped.
func (r *Reconciler) apply(next *graph.Snapshot, e writelog.WriteEntry, changes *[]hnsw.Change) {
	nowUs := time.Now().UnixMicro()

	switch e.Kind {
	case writelog.KindWriteConcept:
		c := next.Concepts[e.ConceptID]
		if c != nil {
			c = c.Clone()
		} else {
			c = &graph.Concept{ID: e.ConceptID, CreatedUs: nowUs, Neighbors: make(map[sutraid.ConceptId]struct{})}
		}
		if e.Content != nil {
			c.Content = e.Content
		}
		if e.Vector != nil {
			c.Vector = e.Vector
			*changes = append(*changes, hnsw.Change{ID: c.ID, Vector: c.Vector})
		}
		if e.Attributes != nil {
			if c.Attributes == nil {
				c.Attributes = make(map[string]string, len(e.Attributes))
			}
			for k, v := range e.Attributes {
				c.Attributes[k] = v
			}
		}
		if e.Strength != nil {
			c.Strength = graph.Clamp01(*e.Strength)
		}
		if e.Confidence != nil {
			c.Confidence = graph.Clamp01(*e.Confidence)
		}
		if e.Semantic != nil {
			c.Semantic = e.Semantic
		}
		c.LastAccessedUs = nowUs
		next.Concepts[c.ID] = c
		r.retryDeferredFor(next, c.ID)

	case writelog.KindUpdateStrength:
		c := next.Concepts[e.ConceptID]
		if c == nil {
			r.log.Warn().Str("concept", e.ConceptID.Hex()).Msg("update strength: concept missing")
			return
		}
		c = c.Clone()
		if e.Strength != nil {
			c.Strength = graph.Clamp01(*e.Strength)
		}
		if e.Confidence != nil {
			c.Confidence = graph.Clamp01(*e.Confidence)
		}
		next.Concepts[c.ID] = c

	case writelog.KindRecordAccess:
		c := next.Concepts[e.ConceptID]
		if c == nil {
			return
		}
		c = c.Clone()
		c.AccessCount++
		c.LastAccessedUs = nowUs
		next.Concepts[c.ID] = c

	case writelog.KindUpdateAttributes:
		c := next.Concepts[e.ConceptID]
		if c == nil {
			return
		}
		c = c.Clone()
		if c.Attributes == nil {
			c.Attributes = make(map[string]string, len(e.Attributes))
		}
		for k, v := range e.Attributes {
			c.Attributes[k] = v
		}
		next.Concepts[c.ID] = c

	case writelog.KindDeleteConcept:
		if _, ok := next.Concepts[e.ConceptID]; !ok {
			return
		}
		delete(next.Concepts, e.ConceptID)
		for key := range next.Edges {
			if key.Source == e.ConceptID || key.Target == e.ConceptID {
				delete(next.Edges, key)
			}
		}
		for _, c := range next.Concepts {
			if _, ok := c.Neighbors[e.ConceptID]; ok {
				c = c.Clone()
				delete(c.Neighbors, e.ConceptID)
				next.Concepts[c.ID] = c
			}
		}
		*changes = append(*changes, hnsw.Change{ID: e.ConceptID, Remove: true})

	case writelog.KindWriteAssociation:
		r.applyAssociation(next, e)
	}
}

func (r *Reconciler) applyAssociation(next *graph.Snapshot, e writelog.WriteEntry) {
	if e.Association == nil {
		return
	}
	aw := e.Association
	key := sutraid.EdgeKey{Source: aw.Source, Target: aw.Target}

	_, srcOk := next.Concepts[aw.Source]
	_, dstOk := next.Concepts[aw.Target]
	if !srcOk || !dstOk {
		if _, deferred := r.deferredEdges[key]; deferred {
			r.log.Warn().
				Str("source", aw.Source.Hex()).
				Str("target", aw.Target.Hex()).
				Msg("association endpoints still missing after one deferred cycle; dropping")
			delete(r.deferredEdges, key)
			return
		}
		r.deferredEdges[key] = e
		return
	}

	confidence := graph.Clamp01(aw.Confidence)
	if confidence < r.cfg.MinAssociationConfidence {
		delete(r.deferredEdges, key)
		return
	}

	if maxPerConcept := r.cfg.MaxAssociationsPerConcept; maxPerConcept > 0 {
		if weakest, count := r.weakestOutgoing(next, aw.Source); count >= maxPerConcept {
			if weakest == nil || confidence <= weakest.Confidence {
				delete(r.deferredEdges, key)
				return
			}
			delete(next.Edges, sutraid.EdgeKey{Source: weakest.Source, Target: weakest.Target})
		}
	}

	nowUs := time.Now().UnixMicro()
	assoc := &graph.Association{
		Source:     aw.Source,
		Target:     aw.Target,
		Type:       graph.AssociationType(aw.Type),
		Confidence: confidence,
		Weight:     graph.Clamp01(aw.Weight),
		CreatedUs:  nowUs,
		LastUsedUs: nowUs,
	}
	next.Edges[key] = assoc

	src := next.Concepts[aw.Source].Clone()
	if src.Neighbors == nil {
		src.Neighbors = make(map[sutraid.ConceptId]struct{})
	}
	src.Neighbors[aw.Target] = struct{}{}
	next.Concepts[src.ID] = src

	delete(r.deferredEdges, key)
}

// weakestOutgoing returns the lowest-confidence association sourced at id
// and the total count of such associations, enforcing
// Config.MaxAssociationsPerConcept.
func (r *Reconciler) weakestOutgoing(next *graph.Snapshot, id sutraid.ConceptId) (*graph.Association, int) {
	var weakest *graph.Association
	count := 0
	for key, a := range next.Edges {
		if key.Source != id {
			continue
		}
		count++
		if weakest == nil || a.Confidence < weakest.Confidence {
			weakest = a
		}
	}
	return weakest, count
}

func (r *Reconciler) retryDeferredFor(next *graph.Snapshot, id sutraid.ConceptId) {
	for key, e := range r.deferredEdges {
		if key.Source == id || key.Target == id {
			delete(r.deferredEdges, key)
			r.applyAssociation(next, e)
		}
	}
}

// Replay folds a WAL tail directly onto snap, in place, using the same
// apply logic the live reconciler uses for write-log entries. The
// namespace manager calls this once at startup to catch a snapshot loaded
// from storage.dat up with any mutations recorded after the last flush.
// It returns the HNSW changes the caller must still apply to the index,
// since Replay has no index of its own to update.
func Replay(cfg Config, snap *graph.Snapshot, entries []wal.Entry) []hnsw.Change {
	r := &Reconciler{
		cfg:           cfg.withDefaults(),
		log:           sutralog.New("reconciler").With().Str("namespace", cfg.Namespace).Logger(),
		deferredEdges: make(map[sutraid.EdgeKey]writelog.WriteEntry),
	}
	var changes []hnsw.Change
	for _, we := range entries {
		r.apply(snap, fromWALEntry(we), &changes)
	}
	return changes
}

func fromWALEntry(we wal.Entry) writelog.WriteEntry {
	e := writelog.WriteEntry{
		Sequence:   we.Sequence,
		Kind:       writelog.EntryKind(we.Kind),
		ConceptID:  we.ConceptID,
		Content:    we.Content,
		Vector:     we.Vector,
		Attributes: we.Attributes,
		Strength:   we.Strength,
		Confidence: we.Confidence,
		Semantic:   we.Semantic,
	}
	if we.Kind == wal.KindWriteAssociation {
		confidence := float32(0)
		if we.Confidence != nil {
			confidence = *we.Confidence
		}
		e.Association = &writelog.AssociationWrite{
			Source:     we.Source,
			Target:     we.Target,
			Type:       int(we.AssocType),
			Confidence: confidence,
			Weight:     we.Weight,
		}
	}
	return e
}

func toWALEntry(e writelog.WriteEntry) wal.Entry {
	we := wal.Entry{
		Sequence:  e.Sequence,
		Kind:      wal.EntryKind(e.Kind),
		ConceptID: e.ConceptID,
		Content:   e.Content,
		Vector:    e.Vector,
		Attributes: e.Attributes,
		Strength:  e.Strength,
		Confidence: e.Confidence,
		Semantic:  e.Semantic,
	}
	if e.Association != nil {
		we.Source = e.Association.Source
		we.Target = e.Association.Target
		we.AssocType = uint8(e.Association.Type)
		we.Weight = e.Association.Weight
		if we.Confidence == nil {
			c := e.Association.Confidence
			we.Confidence = &c
		}
	}
	return we
}
