// Package autonomy implements three background maintenance loops: decay,
// reasoning, and self-monitoring. Each is an independent cancelable ticker
// loop that only ever reads through a snapshotref.Ref and writes back
// through the normal write-log path, never touching the snapshot directly.
//
// All three embed one reusable Loop type (ticker, cancel, done) instead of
// each carrying its own copy of the same ticker/select scaffolding.
package autonomy

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"sutragraph/internal/graph"
	"sutragraph/internal/namespace"
	"sutragraph/internal/pathfinder"
	"sutragraph/internal/sutraid"
	"sutragraph/internal/sutralog"
	"sutragraph/internal/writelog"
)

// Loop runs fn every interval until Stop is called, on its own goroutine.
type Loop struct {
	interval time.Duration
	fn       func(ctx context.Context)

	cancel chan struct{}
	done   chan struct{}
}

func newLoop(interval time.Duration, fn func(ctx context.Context)) *Loop {
	return &Loop{interval: interval, fn: fn}
}

// Start launches the loop's goroutine. Calling Start twice is a no-op.
func (l *Loop) Start(ctx context.Context) {
	if l.cancel != nil {
		return
	}
	l.cancel = make(chan struct{})
	l.done = make(chan struct{})
	go func() {
		defer close(l.done)
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.fn(ctx)
			case <-l.cancel:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the loop and waits for its goroutine to exit.
func (l *Loop) Stop() {
	if l.cancel == nil {
		return
	}
	close(l.cancel)
	<-l.done
	l.cancel = nil
}

// exemptSources are attribute["sutra:source"] values the decay loop never
// prunes: concepts the engine itself generates to describe its own state.
var exemptSources = map[string]bool{
	"self_monitor": true,
	"gap_detector": true,
}

// DecayConfig tunes the exponential decay formula.
type DecayConfig struct {
	Interval           time.Duration
	Rate               float64
	ReinforcementBonus float64
	PruneThreshold     float32
}

func (c DecayConfig) withDefaults() DecayConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.Rate <= 0 {
		c.Rate = 0.05
	}
	if c.PruneThreshold <= 0 {
		c.PruneThreshold = 0.05
	}
	return c
}

// Decay periodically shrinks every user-created concept's strength and
// prunes concepts that decay below the threshold.
type Decay struct {
	*Loop
	ns  *namespace.Namespace
	cfg DecayConfig
}

// NewDecay creates a Decay loop over ns.
func NewDecay(ns *namespace.Namespace, cfg DecayConfig) *Decay {
	cfg = cfg.withDefaults()
	d := &Decay{ns: ns, cfg: cfg}
	d.Loop = newLoop(cfg.Interval, d.tick)
	return d
}

func (d *Decay) tick(ctx context.Context) {
	ref := d.ns.Current()
	snap := ref.Snapshot()
	dt := d.cfg.Interval.Seconds()

	for id, c := range snap.Concepts {
		if exemptSources[c.Attributes["sutra:source"]] {
			continue
		}
		next := graph.Clamp01(float32(
			float64(c.Strength)*math.Exp(-d.cfg.Rate*dt) +
				d.cfg.ReinforcementBonus*math.Log(1+float64(c.AccessCount)),
		))

		if next < d.cfg.PruneThreshold {
			_, _ = d.ns.Submit(writelog.WriteEntry{Kind: writelog.KindDeleteConcept, ConceptID: id})
			continue
		}
		_, _ = d.ns.Submit(writelog.WriteEntry{Kind: writelog.KindUpdateStrength, ConceptID: id, Strength: &next})
	}
	ref.Release()
}

// ReasoningConfig tunes the reasoning loop.
type ReasoningConfig struct {
	Interval            time.Duration
	SampleSize          int
	SimilarityThreshold float32
	ConfidenceBlend     float32
	ConnectedBoost      float32
	MaxHops             int
}

func (c ReasoningConfig) withDefaults() ReasoningConfig {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.SampleSize <= 0 {
		c.SampleSize = 16
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = 0.85
	}
	if c.ConfidenceBlend <= 0 {
		c.ConfidenceBlend = 0.1
	}
	if c.ConnectedBoost <= 0 {
		c.ConnectedBoost = 0.02
	}
	if c.MaxHops <= 0 {
		c.MaxHops = 3
	}
	return c
}

// Reasoning periodically samples concepts, discovers new associations via
// ANN search over unreached neighbors, flags semantic conflicts, nudges
// association confidence toward observed similarity, and boosts connected
// concepts' strength.
type Reasoning struct {
	*Loop
	ns  *namespace.Namespace
	cfg ReasoningConfig
}

// NewReasoning creates a Reasoning loop over ns.
func NewReasoning(ns *namespace.Namespace, cfg ReasoningConfig) *Reasoning {
	cfg = cfg.withDefaults()
	r := &Reasoning{ns: ns, cfg: cfg}
	r.Loop = newLoop(cfg.Interval, r.tick)
	return r
}

func (r *Reasoning) tick(ctx context.Context) {
	ref := r.ns.Current()
	snap := ref.Snapshot()
	defer ref.Release()

	sample := make([]sutraid.ConceptId, 0, r.cfg.SampleSize)
	for id, c := range snap.Concepts {
		if len(c.Vector) == 0 {
			continue
		}
		sample = append(sample, id)
		if len(sample) >= r.cfg.SampleSize {
			break
		}
	}

	g, _ := errgroup.WithContext(ctx)
	for _, id := range sample {
		id := id
		g.Go(func() error {
			r.reasonAbout(snap, id)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Reasoning) reasonAbout(snap *graph.Snapshot, id sutraid.ConceptId) {
	c := snap.Concepts[id]
	if c == nil || len(c.Vector) == 0 {
		return
	}
	index := r.ns.Index()
	hits := index.Search(c.Vector, r.cfg.SampleSize, 0)

	for _, hit := range hits {
		if hit.ID == id {
			continue
		}
		similarity := 1 - hit.Distance
		neighbor := snap.Concepts[hit.ID]
		if neighbor == nil {
			continue
		}

		if similarity > r.cfg.SimilarityThreshold {
			if _, reachable := pathfinder.FindPath(snap, id, hit.ID, r.cfg.MaxHops); !reachable {
				_, _ = r.ns.Submit(writelog.WriteEntry{
					Kind: writelog.KindWriteAssociation,
					Association: &writelog.AssociationWrite{
						Source:     id,
						Target:     hit.ID,
						Type:       int(graph.AssocSemantic),
						Confidence: similarity,
						Weight:     similarity,
					},
				})
			} else if edge := snap.Edges[sutraid.EdgeKey{Source: id, Target: hit.ID}]; edge != nil {
				blended := graph.Clamp01(edge.Confidence + r.cfg.ConfidenceBlend*(similarity-edge.Confidence))
				_, _ = r.ns.Submit(writelog.WriteEntry{
					Kind: writelog.KindWriteAssociation,
					Association: &writelog.AssociationWrite{
						Source:     id,
						Target:     hit.ID,
						Type:       int(edge.Type),
						Confidence: blended,
						Weight:     edge.Weight,
					},
				})
			}
		}

		if analyzer := r.ns.Semantic(); analyzer != nil && c.Semantic != nil && neighbor.Semantic != nil {
			if analyzer.Conflicts(c.Semantic, neighbor.Semantic, id) {
				r.recordNegation(id, hit.ID)
			}
		}

		boosted := graph.Clamp01(neighbor.Strength + r.cfg.ConnectedBoost)
		_, _ = r.ns.Submit(writelog.WriteEntry{Kind: writelog.KindUpdateStrength, ConceptID: hit.ID, Strength: &boosted})
	}
}

func (r *Reasoning) recordNegation(a, b sutraid.ConceptId) {
	content := []byte(fmt.Sprintf("contradiction between %s and %s", a.Hex(), b.Hex()))
	negID := sutraid.FromContent("negation:" + a.Hex() + ":" + b.Hex())
	_, _ = r.ns.Submit(writelog.WriteEntry{
		Kind:      writelog.KindWriteConcept,
		ConceptID: negID,
		Content:   content,
		Semantic: &graph.Semantic{
			Type:       graph.Negation,
			NegationOf: []sutraid.ConceptId{a, b},
		},
		Attributes: map[string]string{"sutra:source": "gap_detector"},
	})
}

// SelfMonitorConfig tunes the self-monitor loop.
type SelfMonitorConfig struct {
	Interval   time.Duration
	MaxHistory int
}

func (c SelfMonitorConfig) withDefaults() SelfMonitorConfig {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = 100
	}
	return c
}

// StatsSnapshot is the engine health summary self-monitor serializes into
// an Event concept every tick.
type StatsSnapshot struct {
	Concepts          int     `json:"concepts"`
	Edges             int     `json:"edges"`
	WriteLogPending   int     `json:"write_log_pending"`
	WriteLogCapacity  int     `json:"write_log_capacity"`
	HNSWSize          int     `json:"hnsw_size"`
	CapturedAtUnixUs  int64   `json:"captured_at_unix_us"`
}

// StatsProvider is the minimal engine capability self-monitor needs.
type StatsProvider interface {
	Stats() StatsSnapshot
}

// SelfMonitor periodically serializes engine stats as an Event concept,
// maintaining a bounded FIFO ring of its own prior snapshots.
type SelfMonitor struct {
	*Loop
	ns     *namespace.Namespace
	source StatsProvider
	cfg    SelfMonitorConfig

	mu      sync.Mutex
	history []sutraid.ConceptId
}

// NewSelfMonitor creates a SelfMonitor loop over ns, pulling stats from source.
func NewSelfMonitor(ns *namespace.Namespace, source StatsProvider, cfg SelfMonitorConfig) *SelfMonitor {
	cfg = cfg.withDefaults()
	sm := &SelfMonitor{ns: ns, source: source, cfg: cfg}
	sm.Loop = newLoop(cfg.Interval, sm.tick)
	return sm
}

func (sm *SelfMonitor) tick(ctx context.Context) {
	stats := sm.source.Stats()
	stats.CapturedAtUnixUs = time.Now().UnixMicro()

	body, err := json.Marshal(stats)
	if err != nil {
		sutralog.New("self-monitor").Warn().Err(err).Msg("marshal stats snapshot failed")
		return
	}

	id := sutraid.FromContent(fmt.Sprintf("self_monitor:%d", stats.CapturedAtUnixUs))
	_, err = sm.ns.Submit(writelog.WriteEntry{
		Kind:      writelog.KindWriteConcept,
		ConceptID: id,
		Content:   body,
		Semantic:  &graph.Semantic{Type: graph.Event},
		Attributes: map[string]string{"sutra:source": "self_monitor"},
	})
	if err != nil {
		return
	}

	sm.mu.Lock()
	sm.history = append(sm.history, id)
	var oldest sutraid.ConceptId
	evict := false
	if len(sm.history) > sm.cfg.MaxHistory {
		oldest = sm.history[0]
		sm.history = sm.history[1:]
		evict = true
	}
	sm.mu.Unlock()

	if evict {
		_, _ = sm.ns.Submit(writelog.WriteEntry{Kind: writelog.KindDeleteConcept, ConceptID: oldest})
	}
}
