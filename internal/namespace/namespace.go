// Package namespace implements multi-tenant isolation: each namespace owns
// an independent Store, WAL, Write Log, snapshot, HNSW index, and
// reconciler under its own directory.
//
// Namespaces are created lazily on first use. Concurrent first-creation
// races are collapsed with golang.org/x/sync/singleflight rather than a
// hand-rolled creation mutex, on top of a double-checked RWMutex read for
// the already-exists fast path.
package namespace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"sutragraph/internal/graph"
	"sutragraph/internal/hnsw"
	"sutragraph/internal/metrics"
	"sutragraph/internal/reconciler"
	"sutragraph/internal/snapshotref"
	"sutragraph/internal/storage"
	"sutragraph/internal/sutraerr"
	"sutragraph/internal/sutraid"
	"sutragraph/internal/sutralog"
	"sutragraph/internal/wal"
	"sutragraph/internal/writelog"
)

// EmbeddingProvider generates dense vectors for concept content. The core
// never inspects how a provider produces a vector, only that it does.
type EmbeddingProvider interface {
	GenerateOne(ctx context.Context, content []byte) ([]float32, error)
	GenerateBatch(ctx context.Context, contents [][]byte) ([][]float32, error)
}

// SemanticAnalyzer classifies content into Semantic metadata and detects
// conflicts between two already-classified concepts.
type SemanticAnalyzer interface {
	Classify(ctx context.Context, content []byte) (*graph.Semantic, error)
	Conflicts(a, b *graph.Semantic, subject sutraid.ConceptId) bool
}

// Config carries the process-level defaults new namespaces are
// constructed with; Manager.GetOrCreate never takes per-namespace
// overrides. Namespaces share nothing except these process-level
// configuration defaults.
type Config struct {
	DataDir string

	WriteLogCapacity int
	FsyncPolicy      wal.FsyncPolicy
	GroupCommitMs    time.Duration

	HNSW        hnsw.Config
	Reconciler  reconciler.Config
	Embedding   EmbeddingProvider
	Semantic    SemanticAnalyzer
}

// manifest is the per-namespace metadata file recording when the
// namespace was created and which on-disk format version it uses.
type manifest struct {
	Version       int   `json:"version"`
	CreatedUs     int64 `json:"created_us"`
	FormatVersion int   `json:"format_version"`
}

const manifestVersion = 1

// Namespace is one isolated tenant: its own storage, log, index, and
// snapshot, reachable concurrently by any number of readers and writers.
type Namespace struct {
	name string
	dir  string
	log  zerolog.Logger

	store      *storage.Store
	wal        *wal.WAL
	writeLog   *writelog.Log
	publisher  *snapshotref.Publisher
	index      *hnsw.Index
	reconciler *reconciler.Reconciler

	embedding EmbeddingProvider
	semantic  SemanticAnalyzer
}

// Name returns the namespace's name.
func (ns *Namespace) Name() string { return ns.name }

// Current returns an acquired reference to the live snapshot; callers must
// Release it when done.
func (ns *Namespace) Current() *snapshotref.Ref { return ns.publisher.Current() }

// Index exposes the namespace's HNSW index for vector search.
func (ns *Namespace) Index() *hnsw.Index { return ns.index }

// Embedding returns the injected embedding capability, or nil if none was configured.
func (ns *Namespace) Embedding() EmbeddingProvider { return ns.embedding }

// Semantic returns the injected semantic-analysis capability, or nil if none was configured.
func (ns *Namespace) Semantic() SemanticAnalyzer { return ns.semantic }

// ReadOnly reports whether the namespace has been demoted after a fatal
// WAL append failure.
func (ns *Namespace) ReadOnly() bool { return ns.reconciler.ReadOnly() }

// HealthReason returns a human-readable explanation when ReadOnly is true,
// and the empty string otherwise — what the admin surface's /healthz and
// the wire protocol's HealthCheck variant both report.
func (ns *Namespace) HealthReason() string {
	if ns.reconciler.ReadOnly() {
		return "reconciler demoted namespace to read-only after a WAL append failure"
	}
	return ""
}

// WriteLogStats reports the write-log depth, matching Stats' contract.
func (ns *Namespace) WriteLogStats() (pending int, capacity int, written uint64, dropped uint64) {
	return ns.writeLog.Pending(), ns.writeLog.Capacity(), ns.writeLog.Written(), ns.writeLog.Dropped()
}

// Submit enqueues entry onto the write log, assigning it the next monotone
// sequence. Returns sutraerr.ErrReadOnly if the namespace has been
// demoted, or sutraerr.ErrBackpressure if the queue is full.
func (ns *Namespace) Submit(entry writelog.WriteEntry) (uint64, error) {
	if ns.reconciler.ReadOnly() {
		return 0, sutraerr.ErrReadOnly
	}
	seq, err := ns.writeLog.Append(entry)
	if err != nil {
		metrics.WriteLogDropped.WithLabelValues(ns.name).Inc()
		return 0, err
	}
	metrics.WriteLogWritten.WithLabelValues(ns.name).Inc()
	return seq, nil
}

// CurrentStrength returns a concept's strength as of the latest published
// snapshot, for the feedback processor's read-modify-write.
func (ns *Namespace) CurrentStrength(id sutraid.ConceptId) (float32, bool) {
	ref := ns.publisher.Current()
	defer ref.Release()
	c, ok := ref.Snapshot().Concepts[id]
	if !ok {
		return 0, false
	}
	return c.Strength, true
}

// Flush forces an immediate reconciliation cycle, a Store snapshot, and a
// WAL truncation — the explicit `Flush` wire request variant.
func (ns *Namespace) Flush() error {
	ns.reconciler.RunNow()
	cur := ns.publisher.Current()
	snap := cur.Snapshot()
	cur.Release()
	if err := ns.store.SnapshotToDisk(snap); err != nil {
		return err
	}
	return ns.wal.Truncate()
}

// Close stops the namespace's reconciler (performing a final flush) and
// closes its WAL file.
func (ns *Namespace) Close() error {
	ns.reconciler.Stop()
	if err := ns.index.Save(); err != nil {
		ns.log.Warn().Err(err).Msg("hnsw save on close failed")
	}
	return ns.wal.Close()
}

// open constructs a Namespace rooted at dir: loads the latest Store
// snapshot, replays any WAL tail left after an unclean shutdown, loads or
// rebuilds the HNSW index, writes/validates the manifest, and starts the
// reconciler.
func open(ctx context.Context, name, dir string, cfg Config) (*Namespace, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("namespace %s: mkdir %s: %w", name, dir, err)
	}

	if err := ensureManifest(dir); err != nil {
		return nil, err
	}

	st, err := storage.New(dir)
	if err != nil {
		return nil, fmt.Errorf("namespace %s: open store: %w", name, err)
	}
	snap, err := st.LoadLatest()
	if err != nil {
		return nil, sutraerr.Wrap(sutraerr.KindStorageCorrupt, fmt.Sprintf("namespace %s: load snapshot", name), err)
	}

	walPath := filepath.Join(dir, "wal.log")
	replay, err := wal.Replay(walPath)
	if err != nil {
		return nil, sutraerr.Wrap(sutraerr.KindStorageCorrupt, fmt.Sprintf("namespace %s: replay wal", name), err)
	}

	w, err := wal.Open(walPath, cfg.FsyncPolicy, cfg.GroupCommitMs)
	if err != nil {
		return nil, fmt.Errorf("namespace %s: open wal: %w", name, err)
	}

	rcfg := cfg.Reconciler
	rcfg.Namespace = name
	var pendingChanges []hnsw.Change
	if len(replay.Entries) > 0 {
		snap.Sequence++
		pendingChanges = reconciler.Replay(rcfg, snap, replay.Entries)
	}

	hcfg := cfg.HNSW
	hcfg.Namespace = name
	hcfg.Path = filepath.Join(dir, "storage.hnsw")
	index := hnsw.New(hcfg)
	loaded, err := index.Load()
	if err != nil {
		loaded = false
	}
	if !loaded {
		index.Rebuild(snap)
	}
	for _, ch := range pendingChanges {
		if ch.Remove {
			index.Remove(ch.ID)
		} else {
			index.Insert(ch.ID, ch.Vector)
		}
	}

	publisher := snapshotref.NewPublisher(snap)
	writeLog := writelog.New(cfg.WriteLogCapacity)
	rec := reconciler.New(rcfg, writeLog, w, st, index, publisher)
	rec.Start(ctx)

	ns := &Namespace{
		name:       name,
		dir:        dir,
		log:        sutralog.New("namespace").With().Str("namespace", name).Logger(),
		store:      st,
		wal:        w,
		writeLog:   writeLog,
		publisher:  publisher,
		index:      index,
		reconciler: rec,
		embedding:  cfg.Embedding,
		semantic:   cfg.Semantic,
	}
	ns.log.Info().
		Int("concepts", snap.ConceptCount()).
		Int("edges", snap.EdgeCount()).
		Bool("replayed_wal", len(replay.Entries) > 0).
		Msg("namespace opened")
	if replay.TruncatedTail {
		ns.log.Warn().Int("entries_recovered", len(replay.Entries)).Msg("wal replay stopped at a truncated final entry")
	}
	return ns, nil
}

func ensureManifest(dir string) error {
	path := filepath.Join(dir, "manifest.json")
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	m := manifest{
		Version:       manifestVersion,
		CreatedUs:     time.Now().UnixMicro(),
		FormatVersion: storage.CurrentFormatVersion,
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// Manager lazily constructs and caches one Namespace per tenant name.
type Manager struct {
	cfg Config
	log zerolog.Logger

	mu         sync.RWMutex
	namespaces map[string]*Namespace
	group      singleflight.Group
}

// NewManager creates a Manager rooted at cfg.DataDir.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:        cfg,
		log:        sutralog.New("namespace-manager"),
		namespaces: make(map[string]*Namespace),
	}
}

// GetOrCreate returns the Namespace for name, constructing it on first use.
// Concurrent first-creation calls for the same name collapse into a single
// construction via singleflight, and the double-checked RWMutex read keeps
// the common case (namespace already exists) lock-cheap.
func (m *Manager) GetOrCreate(ctx context.Context, name string) (*Namespace, error) {
	if name == "" {
		name = "default"
	}

	m.mu.RLock()
	ns, ok := m.namespaces[name]
	m.mu.RUnlock()
	if ok {
		return ns, nil
	}

	v, err, _ := m.group.Do(name, func() (interface{}, error) {
		m.mu.RLock()
		if existing, ok := m.namespaces[name]; ok {
			m.mu.RUnlock()
			return existing, nil
		}
		m.mu.RUnlock()

		dir := filepath.Join(m.cfg.DataDir, name)
		created, err := open(ctx, name, dir, m.cfg)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		m.namespaces[name] = created
		m.mu.Unlock()
		return created, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Namespace), nil
}

// Get returns an already-constructed namespace without creating one.
func (m *Manager) Get(name string) (*Namespace, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, ok := m.namespaces[name]
	return ns, ok
}

// List returns the names of every namespace constructed so far, sorted.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.namespaces))
	for n := range m.namespaces {
		names = append(names, n)
	}
	sortStrings(names)
	return names
}

// Clear removes namespace name's in-memory state and on-disk directory —
// the `ClearNamespace` administrative wire variant.
func (m *Manager) Clear(name string) error {
	m.mu.Lock()
	ns, ok := m.namespaces[name]
	if ok {
		delete(m.namespaces, name)
	}
	m.mu.Unlock()
	if !ok {
		return sutraerr.ErrNotFound
	}
	if err := ns.Close(); err != nil {
		m.log.Warn().Err(err).Str("namespace", name).Msg("close on clear failed")
	}
	return os.RemoveAll(ns.dir)
}

// CloseAll shuts down every constructed namespace, used at process
// shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Namespace, 0, len(m.namespaces))
	for _, ns := range m.namespaces {
		all = append(all, ns)
	}
	m.mu.Unlock()
	for _, ns := range all {
		if err := ns.Close(); err != nil {
			m.log.Warn().Err(err).Str("namespace", ns.name).Msg("close failed")
		}
	}
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
