// Package engine wires a namespace.Manager, its per-namespace autonomy
// loops, and a shared rate limiter into the single object cmd/sutrad's
// wire and admin-HTTP servers both depend on. Pulled out into its own
// package because there are two front doors (the TCP wire protocol and the
// admin HTTP surface) that both need this same construction sequence.
package engine

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"sutragraph/internal/autonomy"
	"sutragraph/internal/namespace"
	"sutragraph/internal/ratelimit"
	"sutragraph/internal/sutraerr"
	"sutragraph/internal/sutralog"
)

// Config carries every process-level default the engine's namespaces and
// autonomy loops are constructed with.
type Config struct {
	Namespace   namespace.Config
	Decay       autonomy.DecayConfig
	Reasoning   autonomy.ReasoningConfig
	SelfMonitor autonomy.SelfMonitorConfig

	RateLimitCapacity        float64
	RateLimitRefillPerSecond float64
}

// Engine is the process-wide handle: one namespace.Manager, one rate
// limiter shared across every connection, and a set of autonomy loops
// started lazily the first time each namespace is touched.
type Engine struct {
	cfg     Config
	manager *namespace.Manager
	limiter *ratelimit.Limiter
	log     zerolog.Logger

	mu    sync.Mutex
	loops map[string][]*autonomy.Loop
}

// New constructs an Engine. Namespaces and their autonomy loops are
// created lazily via Namespace, not eagerly here.
func New(cfg Config) *Engine {
	return &Engine{
		cfg:     cfg,
		manager: namespace.NewManager(cfg.Namespace),
		limiter: ratelimit.NewLimiter(cfg.RateLimitCapacity, cfg.RateLimitRefillPerSecond),
		log:     sutralog.New("engine"),
		loops:   make(map[string][]*autonomy.Loop),
	}
}

// Namespace returns the namespace for name, constructing it (and starting
// its decay/reasoning/self-monitor loops, once) on first use.
func (e *Engine) Namespace(ctx context.Context, name string) (*namespace.Namespace, error) {
	ns, err := e.manager.GetOrCreate(ctx, name)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, started := e.loops[ns.Name()]; !started {
		e.startLoops(ctx, ns)
	}
	return ns, nil
}

func (e *Engine) startLoops(ctx context.Context, ns *namespace.Namespace) {
	decay := autonomy.NewDecay(ns, e.cfg.Decay)
	reasoning := autonomy.NewReasoning(ns, e.cfg.Reasoning)
	monitor := autonomy.NewSelfMonitor(ns, namespaceStats{ns}, e.cfg.SelfMonitor)

	decay.Start(ctx)
	reasoning.Start(ctx)
	monitor.Start(ctx)

	e.loops[ns.Name()] = []*autonomy.Loop{decay.Loop, reasoning.Loop, monitor.Loop}
	e.log.Info().Str("namespace", ns.Name()).Msg("autonomy loops started")
}

// RateLimiter exposes the shared per-client token bucket.
func (e *Engine) RateLimiter() *ratelimit.Limiter { return e.limiter }

// ListNamespaces returns every namespace constructed so far.
func (e *Engine) ListNamespaces() []string { return e.manager.List() }

// Stats reports the health summary for an already-constructed namespace.
// An empty name means the default namespace, as in Namespace.
func (e *Engine) Stats(name string) (autonomy.StatsSnapshot, error) {
	if name == "" {
		name = "default"
	}
	ns, ok := e.manager.Get(name)
	if !ok {
		return autonomy.StatsSnapshot{}, sutraerr.ErrNotFound
	}
	return namespaceStats{ns}.Stats(), nil
}

// ClearNamespace stops and deletes a namespace's state on disk.
func (e *Engine) ClearNamespace(name string) error {
	e.mu.Lock()
	delete(e.loops, name)
	e.mu.Unlock()
	return e.manager.Clear(name)
}

// Close stops every autonomy loop and closes every namespace.
func (e *Engine) Close() {
	e.mu.Lock()
	all := e.loops
	e.loops = make(map[string][]*autonomy.Loop)
	e.mu.Unlock()

	for _, loops := range all {
		for _, l := range loops {
			l.Stop()
		}
	}
	e.manager.CloseAll()
}

// namespaceStats adapts a Namespace to autonomy.StatsProvider.
type namespaceStats struct {
	ns *namespace.Namespace
}

func (s namespaceStats) Stats() autonomy.StatsSnapshot {
	ref := s.ns.Current()
	snap := ref.Snapshot()
	pending, capacity, _, _ := s.ns.WriteLogStats()
	stat := autonomy.StatsSnapshot{
		Concepts:         snap.ConceptCount(),
		Edges:            snap.EdgeCount(),
		WriteLogPending:  pending,
		WriteLogCapacity: capacity,
		HNSWSize:         s.ns.Index().Len(),
	}
	ref.Release()
	return stat
}
