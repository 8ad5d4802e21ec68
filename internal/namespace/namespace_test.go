package namespace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sutragraph/internal/sutraerr"
	"sutragraph/internal/sutraid"
	"sutragraph/internal/testsupport"
	"sutragraph/internal/wal"
	"sutragraph/internal/writelog"
)

func newTestConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		DataDir:          t.TempDir(),
		WriteLogCapacity: 256,
		FsyncPolicy:      wal.FsyncAlways,
		Embedding:        testsupport.NewHashEmbedder(8),
		Semantic:         testsupport.KeywordAnalyzer{},
	}
}

func waitForReconcile(ns *Namespace, id sutraid.ConceptId, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ref := ns.Current()
		_, ok := ref.Snapshot().Concepts[id]
		ref.Release()
		if ok {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return false
}

func TestManagerGetOrCreateIsIdempotentPerName(t *testing.T) {
	mgr := NewManager(newTestConfig(t))
	defer mgr.CloseAll()

	a, err := mgr.GetOrCreate(context.Background(), "tenant-a")
	require.NoError(t, err)
	b, err := mgr.GetOrCreate(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := mgr.GetOrCreate(context.Background(), "tenant-b")
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}

func TestSubmitReconcilesIntoSnapshot(t *testing.T) {
	mgr := NewManager(newTestConfig(t))
	defer mgr.CloseAll()

	ns, err := mgr.GetOrCreate(context.Background(), "default")
	require.NoError(t, err)

	id := sutraid.FromContent("hello world")
	strength := float32(0.5)
	_, err = ns.Submit(writelog.WriteEntry{
		Kind:      writelog.KindWriteConcept,
		ConceptID: id,
		Content:   []byte("hello world"),
		Strength:  &strength,
	})
	require.NoError(t, err)

	require.True(t, waitForReconcile(ns, id, time.Second), "concept should be folded into a published snapshot")

	strengthNow, ok := ns.CurrentStrength(id)
	require.True(t, ok)
	assert.InDelta(t, 0.5, strengthNow, 1e-6)
}

func TestFlushPersistsSnapshotAndTruncatesWAL(t *testing.T) {
	cfg := newTestConfig(t)
	mgr := NewManager(cfg)
	defer mgr.CloseAll()

	ns, err := mgr.GetOrCreate(context.Background(), "default")
	require.NoError(t, err)

	id := sutraid.FromContent("persisted concept")
	strength := float32(0.7)
	_, err = ns.Submit(writelog.WriteEntry{
		Kind:      writelog.KindWriteConcept,
		ConceptID: id,
		Content:   []byte("persisted concept"),
		Strength:  &strength,
	})
	require.NoError(t, err)
	require.True(t, waitForReconcile(ns, id, time.Second))

	walPath := filepath.Join(cfg.DataDir, "default", "wal.log")
	info, err := os.Stat(walPath)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0), "wal should hold the appended entry before Flush")

	require.NoError(t, ns.Flush())

	info, err = os.Stat(walPath)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size(), "wal should be truncated to empty after Flush")

	snapPath := filepath.Join(cfg.DataDir, "default", "storage.dat")
	_, err = os.Stat(snapPath)
	require.NoError(t, err, "store snapshot should exist after Flush")
}

// TestFlushDrainsPendingWriteLogEntries exercises the bug where a write
// still sitting in the in-memory write log (not yet folded by the
// background reconciler) at the moment Flush is called would end up in
// neither the WAL-truncated-to-empty state nor the snapshot. Flush must
// force a synchronous reconciliation drain first.
func TestFlushDrainsPendingWriteLogEntries(t *testing.T) {
	cfg := newTestConfig(t)
	mgr := NewManager(cfg)
	defer mgr.CloseAll()

	ns, err := mgr.GetOrCreate(context.Background(), "default")
	require.NoError(t, err)

	id := sutraid.FromContent("racing the reconciler")
	strength := float32(0.3)
	_, err = ns.Submit(writelog.WriteEntry{
		Kind:      writelog.KindWriteConcept,
		ConceptID: id,
		Content:   []byte("racing the reconciler"),
		Strength:  &strength,
	})
	require.NoError(t, err)

	require.NoError(t, ns.Flush())

	strengthNow, ok := ns.CurrentStrength(id)
	require.True(t, ok, "entry submitted just before Flush must be folded in by it")
	assert.InDelta(t, 0.3, strengthNow, 1e-6)

	walPath := filepath.Join(cfg.DataDir, "default", "wal.log")
	info, err := os.Stat(walPath)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())
}

func TestManagerClearRemovesNamespaceState(t *testing.T) {
	mgr := NewManager(newTestConfig(t))
	defer mgr.CloseAll()

	_, err := mgr.GetOrCreate(context.Background(), "disposable")
	require.NoError(t, err)

	require.NoError(t, mgr.Clear("disposable"))
	_, ok := mgr.Get("disposable")
	assert.False(t, ok)
}

func TestManagerClearUnknownNamespaceErrors(t *testing.T) {
	mgr := NewManager(newTestConfig(t))
	defer mgr.CloseAll()
	assert.Error(t, mgr.Clear("never-existed"))
}

func TestSubmitRejectsWritesWhenReadOnly(t *testing.T) {
	mgr := NewManager(newTestConfig(t))
	defer mgr.CloseAll()

	ns, err := mgr.GetOrCreate(context.Background(), "default")
	require.NoError(t, err)
	assert.False(t, ns.ReadOnly())

	// Closing the WAL file underneath the reconciler makes its next append
	// fail, which demotes the namespace to read-only.
	require.NoError(t, ns.wal.Close())
	_, err = ns.Submit(writelog.WriteEntry{Kind: writelog.KindWriteConcept, ConceptID: sutraid.FromContent("doomed"), Content: []byte("doomed")})
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for !ns.ReadOnly() && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	require.True(t, ns.ReadOnly())

	_, err = ns.Submit(writelog.WriteEntry{Kind: writelog.KindWriteConcept, ConceptID: sutraid.FromContent("rejected"), Content: []byte("rejected")})
	assert.ErrorIs(t, err, sutraerr.ErrReadOnly)
}

func TestManagerListReturnsSortedNames(t *testing.T) {
	mgr := NewManager(newTestConfig(t))
	defer mgr.CloseAll()

	_, err := mgr.GetOrCreate(context.Background(), "zeta")
	require.NoError(t, err)
	_, err = mgr.GetOrCreate(context.Background(), "alpha")
	require.NoError(t, err)

	names := mgr.List()
	require.Len(t, names, 2)
	assert.Equal(t, []string{"alpha", "zeta"}, names)
}
