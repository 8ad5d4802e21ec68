// Package txn implements the two-phase commit coordinator that makes a
// write spanning multiple shards atomic: either every shard's entries
// land, or none do.
//
// The Prepare/Commit/Abort fan-out collects acks from a fixed set of
// participants via golang.org/x/sync/errgroup, bailing out on the first
// hard error: all-or-nothing across len(shards) participants rather than a
// quorum of acks. The coordinator keeps its own durable log of phase
// transitions, reusing wal.WriteFrame/ReadFrames so a crash mid-transaction
// leaves a recoverable trail without coupling this package to the
// graph-mutation wal.Entry shape.
package txn

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"sutragraph/internal/sutralog"
	"sutragraph/internal/wal"
	"sutragraph/internal/writelog"
)

// State is one point in the coordinator's per-transaction state machine.
type State int

const (
	StateInit State = iota
	StatePreparing
	StatePrepared
	StateCommitting
	StateCommitted
	StateAborting
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StatePreparing:
		return "preparing"
	case StatePrepared:
		return "prepared"
	case StateCommitting:
		return "committing"
	case StateCommitted:
		return "committed"
	case StateAborting:
		return "aborting"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Participant is the per-shard durable surface the coordinator drives.
// Prepare must durably record the proposed entries before returning nil,
// so that a coordinator crash after a Yes vote never loses the intent;
// Commit folds the previously-prepared entries into the shard's own write
// path (its writelog.Log). Abort discards them.
type Participant interface {
	Prepare(ctx context.Context, txnID string, entries []writelog.WriteEntry) error
	Commit(ctx context.Context, txnID string) error
	Abort(ctx context.Context, txnID string) error
}

// Op is one shard's share of a multi-shard write.
type Op struct {
	Shard   int
	Entries []writelog.WriteEntry
}

// record is one line of the coordinator's durable phase log.
type record struct {
	TxnID       string `json:"txn_id"`
	State       State  `json:"state"`
	Shards      []int  `json:"shards"`
	TimestampUs int64  `json:"timestamp_us"`
}

// Coordinator drives the Init -> Preparing -> Prepared -> Committing ->
// Committed (or ... -> Aborting -> Aborted) state machine across a fixed
// set of shard participants.
type Coordinator struct {
	mu           sync.Mutex
	participants map[int]Participant
	logPath      string
	timeout      time.Duration
	log          zerolog.Logger
}

// NewCoordinator creates a Coordinator whose durable phase log lives at
// logPath, driving the given shard participants.
func NewCoordinator(logPath string, participants map[int]Participant, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Coordinator{
		participants: participants,
		logPath:      logPath,
		timeout:      timeout,
		log:          sutralog.New("txn-coordinator"),
	}
}

// Run drives one transaction end-to-end and returns its id. A participant
// error during prepare aborts the whole transaction; a participant error
// during commit is logged (the write was already durably prepared on
// every shard, so Recover will re-drive it on the next restart) rather
// than retried inline.
func (c *Coordinator) Run(ctx context.Context, ops []Op) (string, error) {
	txnID := uuid.NewString()
	shards := make([]int, len(ops))
	for i, op := range ops {
		shards[i] = op.Shard
	}

	if err := c.appendRecord(record{TxnID: txnID, State: StatePreparing, Shards: shards, TimestampUs: nowUs()}); err != nil {
		return txnID, fmt.Errorf("txn %s: append preparing record: %w", txnID, err)
	}

	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	g, gctx := errgroup.WithContext(pctx)
	for _, op := range ops {
		op := op
		p, ok := c.participants[op.Shard]
		if !ok {
			cancel()
			return txnID, fmt.Errorf("txn %s: unknown shard %d", txnID, op.Shard)
		}
		g.Go(func() error { return p.Prepare(gctx, txnID, op.Entries) })
	}
	prepareErr := g.Wait()
	cancel()

	if prepareErr != nil {
		c.log.Warn().Str("txn", txnID).Err(prepareErr).Msg("prepare phase failed; aborting")
		return txnID, c.abort(ctx, txnID, shards)
	}

	if err := c.appendRecord(record{TxnID: txnID, State: StateCommitting, Shards: shards, TimestampUs: nowUs()}); err != nil {
		return txnID, fmt.Errorf("txn %s: append committing record: %w", txnID, err)
	}

	if err := c.commitAll(ctx, txnID, shards); err != nil {
		c.log.Error().Str("txn", txnID).Err(err).Msg("commit phase had participant errors; will re-drive on recovery")
		// The committing record stays the latest one for txnID, so Recover
		// re-drives the commit.
		return txnID, nil
	}

	if err := c.appendRecord(record{TxnID: txnID, State: StateCommitted, Shards: shards, TimestampUs: nowUs()}); err != nil {
		return txnID, fmt.Errorf("txn %s: append committed record: %w", txnID, err)
	}
	return txnID, nil
}

func (c *Coordinator) commitAll(ctx context.Context, txnID string, shards []int) error {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	g, gctx := errgroup.WithContext(cctx)
	for _, shardID := range shards {
		p, ok := c.participants[shardID]
		if !ok {
			continue
		}
		g.Go(func() error { return p.Commit(gctx, txnID) })
	}
	return g.Wait()
}

func (c *Coordinator) abort(ctx context.Context, txnID string, shards []int) error {
	if err := c.appendRecord(record{TxnID: txnID, State: StateAborting, Shards: shards, TimestampUs: nowUs()}); err != nil {
		return err
	}

	actx, cancel := context.WithTimeout(ctx, c.timeout)
	g, gctx := errgroup.WithContext(actx)
	for _, shardID := range shards {
		p, ok := c.participants[shardID]
		if !ok {
			continue
		}
		g.Go(func() error { return p.Abort(gctx, txnID) })
	}
	abortErr := g.Wait()
	cancel()
	if abortErr != nil {
		c.log.Warn().Str("txn", txnID).Err(abortErr).Msg("abort phase had participant errors")
	}

	return c.appendRecord(record{TxnID: txnID, State: StateAborted, Shards: shards, TimestampUs: nowUs()})
}

// appendRecord durably records one phase transition using the WAL
// package's generic frame helpers.
func (c *Coordinator) appendRecord(r record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.OpenFile(c.logPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if err := wal.WriteFrame(f, payload); err != nil {
		return err
	}
	return f.Sync()
}

// Recover replays the coordinator's durable log and re-drives every
// transaction that never reached a terminal state by re-polling its
// participants: a transaction caught mid-Preparing is aborted (no durable
// Yes/No decision exists), one caught mid-Committing is re-driven to
// completion, and one caught mid-Aborting has its abort re-driven.
func (c *Coordinator) Recover(ctx context.Context) error {
	f, err := os.Open(c.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	frames, _, err := wal.ReadFrames(f)
	f.Close()
	if err != nil {
		return err
	}

	latest := make(map[string]record, len(frames))
	for _, payload := range frames {
		var r record
		if err := json.Unmarshal(payload, &r); err != nil {
			continue
		}
		latest[r.TxnID] = r
	}

	for txnID, r := range latest {
		switch r.State {
		case StateCommitted, StateAborted:
			continue
		case StatePreparing, StatePrepared:
			if err := c.abort(ctx, txnID, r.Shards); err != nil {
				c.log.Error().Str("txn", txnID).Err(err).Msg("recovery abort failed")
			}
		case StateCommitting:
			if err := c.commitAll(ctx, txnID, r.Shards); err != nil {
				c.log.Error().Str("txn", txnID).Err(err).Msg("recovery commit had participant errors")
			}
			if err := c.appendRecord(record{TxnID: txnID, State: StateCommitted, Shards: r.Shards, TimestampUs: nowUs()}); err != nil {
				c.log.Error().Str("txn", txnID).Err(err).Msg("recovery: append committed record")
			}
		case StateAborting:
			if err := c.abort(ctx, txnID, r.Shards); err != nil {
				c.log.Error().Str("txn", txnID).Err(err).Msg("recovery abort failed")
			}
		}
	}
	return nil
}

func nowUs() int64 {
	return time.Now().UnixMicro()
}
