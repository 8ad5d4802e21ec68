package txn

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sutragraph/internal/writelog"
)

type fakeParticipant struct {
	mu          sync.Mutex
	prepareErr  error
	commitErr   error
	prepared    []string
	committed   []string
	aborted     []string
}

func (p *fakeParticipant) Prepare(ctx context.Context, txnID string, entries []writelog.WriteEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.prepareErr != nil {
		return p.prepareErr
	}
	p.prepared = append(p.prepared, txnID)
	return nil
}

func (p *fakeParticipant) Commit(ctx context.Context, txnID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.commitErr != nil {
		return p.commitErr
	}
	p.committed = append(p.committed, txnID)
	return nil
}

func (p *fakeParticipant) Abort(ctx context.Context, txnID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.aborted = append(p.aborted, txnID)
	return nil
}

func entry() []writelog.WriteEntry {
	return []writelog.WriteEntry{{Kind: writelog.KindUpdateStrength}}
}

func TestCoordinatorRunCommitsOnSuccess(t *testing.T) {
	p0 := &fakeParticipant{}
	p1 := &fakeParticipant{}
	logPath := filepath.Join(t.TempDir(), "coordinator.log")
	c := NewCoordinator(logPath, map[int]Participant{0: p0, 1: p1}, 0)

	txnID, err := c.Run(context.Background(), []Op{
		{Shard: 0, Entries: entry()},
		{Shard: 1, Entries: entry()},
	})
	require.NoError(t, err)
	assert.Contains(t, p0.prepared, txnID)
	assert.Contains(t, p0.committed, txnID)
	assert.Contains(t, p1.prepared, txnID)
	assert.Contains(t, p1.committed, txnID)
	assert.Empty(t, p0.aborted)
	assert.Empty(t, p1.aborted)
}

func TestCoordinatorRunAbortsOnPrepareFailure(t *testing.T) {
	p0 := &fakeParticipant{}
	p1 := &fakeParticipant{prepareErr: errors.New("disk full")}
	logPath := filepath.Join(t.TempDir(), "coordinator.log")
	c := NewCoordinator(logPath, map[int]Participant{0: p0, 1: p1}, 0)

	_, err := c.Run(context.Background(), []Op{
		{Shard: 0, Entries: entry()},
		{Shard: 1, Entries: entry()},
	})
	require.NoError(t, err) // abort itself succeeds; only participant prepare failed
	assert.Empty(t, p0.committed)
	assert.NotEmpty(t, p0.aborted)
}

func TestCoordinatorRunUnknownShardErrors(t *testing.T) {
	p0 := &fakeParticipant{}
	logPath := filepath.Join(t.TempDir(), "coordinator.log")
	c := NewCoordinator(logPath, map[int]Participant{0: p0}, 0)

	_, err := c.Run(context.Background(), []Op{{Shard: 99, Entries: entry()}})
	assert.Error(t, err)
}

func TestCoordinatorRecoverReDrivesMidCommit(t *testing.T) {
	p0 := &fakeParticipant{}
	logPath := filepath.Join(t.TempDir(), "coordinator.log")
	c := NewCoordinator(logPath, map[int]Participant{0: p0}, 0)

	// Simulate a crash that recorded "committing" but never reached
	// "committed": append the phase transitions a real Run would have
	// made up to that point, without ever calling commitAll.
	require.NoError(t, c.appendRecord(record{TxnID: "crash-txn", State: StatePreparing, Shards: []int{0}, TimestampUs: 1}))
	require.NoError(t, c.appendRecord(record{TxnID: "crash-txn", State: StateCommitting, Shards: []int{0}, TimestampUs: 2}))

	require.NoError(t, c.Recover(context.Background()))
	assert.Contains(t, p0.committed, "crash-txn")
}

func TestCoordinatorRecoverAbortsMidPrepare(t *testing.T) {
	p0 := &fakeParticipant{}
	logPath := filepath.Join(t.TempDir(), "coordinator.log")
	c := NewCoordinator(logPath, map[int]Participant{0: p0}, 0)

	require.NoError(t, c.appendRecord(record{TxnID: "stuck-txn", State: StatePreparing, Shards: []int{0}, TimestampUs: 1}))

	require.NoError(t, c.Recover(context.Background()))
	assert.Contains(t, p0.aborted, "stuck-txn")
	assert.Empty(t, p0.committed)
}

func TestCoordinatorRecoverIgnoresTerminalTransactions(t *testing.T) {
	p0 := &fakeParticipant{}
	logPath := filepath.Join(t.TempDir(), "coordinator.log")
	c := NewCoordinator(logPath, map[int]Participant{0: p0}, 0)

	require.NoError(t, c.appendRecord(record{TxnID: "done-txn", State: StateCommitted, Shards: []int{0}, TimestampUs: 1}))

	require.NoError(t, c.Recover(context.Background()))
	assert.Empty(t, p0.committed)
	assert.Empty(t, p0.aborted)
}

func TestCoordinatorRecoverOnMissingLogIsNoOp(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "does-not-exist.log")
	c := NewCoordinator(logPath, map[int]Participant{}, 0)
	assert.NoError(t, c.Recover(context.Background()))
}
