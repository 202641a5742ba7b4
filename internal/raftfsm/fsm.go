// Package raftfsm implements the Raft state machine (S): a deterministic
// applier of registry commands to the entity graph, full-text index, and
// RBAC store, with whole-state JSON snapshotting.
//
// Snapshot persistence encodes the whole state as indented JSON to whatever
// raft.SnapshotSink the library hands us; raft.FileSnapshotStore handles the
// atomic rename to disk on our behalf.
package raftfsm

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/orneryd/registry/internal/fts"
	"github.com/orneryd/registry/internal/model"
	"github.com/orneryd/registry/internal/rbac"
	"github.com/orneryd/registry/internal/registry"
	"github.com/orneryd/registry/internal/sequencer"
)

const snapshotVersion = "1.0"

// FSM implements raft.FSM over a registry.Engine.
type FSM struct {
	mu          sync.RWMutex
	engine      *registry.Engine
	lastApplied uint64
	seq         *sequencer.Sequencer
	logger      *log.Logger
}

// New creates an FSM wrapping engine. seq is notified after every applied
// log entry, including ones whose command failed, so HTTP handlers blocked
// on an opt-seq wait can wake up.
func New(engine *registry.Engine, seq *sequencer.Sequencer, logger *log.Logger) *FSM {
	if logger == nil {
		logger = log.Default()
	}
	return &FSM{engine: engine, seq: seq, logger: logger}
}

// LastApplied returns the index of the most recently applied log entry.
func (f *FSM) LastApplied() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastApplied
}

// Engine exposes the underlying engine for read operations taken under a
// caller-held read lock (see WithReadLock).
func (f *FSM) Engine() *registry.Engine { return f.engine }

// WithReadLock runs fn holding the FSM's read lock, letting HTTP read
// handlers observe a consistent snapshot of G/F/R concurrently with Apply.
func (f *FSM) WithReadLock(fn func(*registry.Engine)) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	fn(f.engine)
}

// Apply decodes a Command from log.Data, executes it against the engine
// under the FSM's write lock, and returns the *model.CommandResult. Apply
// never halts the log on a command-level error: the result's Err field
// carries it back to the submitter while last_applied still advances.
func (f *FSM) Apply(l *raft.Log) any {
	var cmd model.Command
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		f.logger.Printf("raftfsm: failed to decode log entry at index %d: %v", l.Index, err)
		f.mu.Lock()
		f.lastApplied = l.Index
		f.mu.Unlock()
		if f.seq != nil {
			f.seq.Advance(l.Index)
		}
		return &model.CommandResult{Err: fmt.Errorf("malformed command: %w", err)}
	}

	f.mu.Lock()
	result := f.engine.ApplyCommand(cmd)
	f.lastApplied = l.Index
	f.mu.Unlock()

	if f.seq != nil {
		f.seq.Advance(l.Index)
	}
	return &result
}

// snapshotData is the whole-state JSON envelope persisted by Snapshot and
// consumed by Restore.
type snapshotData struct {
	Version     string             `json:"version"`
	LastApplied uint64             `json:"lastApplied"`
	Entities    []*model.Entity    `json:"entities"`
	Edges       []model.Edge       `json:"edges"`
	RBACRecords []*rbac.Record     `json:"rbacRecords"`
	RBACAudit   []rbac.AuditEntry  `json:"rbacAudit"`
}

// fsmSnapshot is the raft.FSMSnapshot returned by Snapshot: a point-in-time
// copy taken under the FSM's read lock, so Persist needs no further
// synchronization and Release is a no-op.
type fsmSnapshot struct {
	data snapshotData
}

// Snapshot captures the current state: version tag, all entities, all
// edges, all RBAC records (including soft-deleted ones, preserving audit),
// and the last-applied index.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	// Revoke updates records in place, so copy them rather than share them.
	records := f.engine.RBAC.All()
	for i, r := range records {
		c := *r
		records[i] = &c
	}

	return &fsmSnapshot{data: snapshotData{
		Version:     snapshotVersion,
		LastApplied: f.lastApplied,
		Entities:    f.engine.Graph.All(),
		Edges:       f.engine.Graph.AllEdges(),
		RBACRecords: records,
		RBACAudit:   f.engine.RBAC.AllAudit(),
	}}, nil
}

// Persist streams the snapshot as indented JSON to sink.
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	encoder := json.NewEncoder(sink)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s.data); err != nil {
		sink.Cancel()
		return fmt.Errorf("raftfsm: failed to encode snapshot: %w", err)
	}
	return sink.Close()
}

// Release is a no-op: the snapshot is an immutable copy, not a live
// reference into the engine's maps.
func (s *fsmSnapshot) Release() {}

// Restore replaces the entire state from rc, then rebuilds the full-text
// index from scratch — the index format is decoupled from the wire format,
// so rebuilding on install keeps snapshots small and install itself rare
// enough that this is cheap in practice.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var data snapshotData
	if err := json.NewDecoder(rc).Decode(&data); err != nil {
		return fmt.Errorf("raftfsm: failed to decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.engine.Graph.Reset()
	f.engine.RBAC.Reset()

	for _, e := range data.Entities {
		f.engine.Graph.RestoreEntity(e)
	}
	// Edges leaving a Project are replayed first, so that RestoreEdge can
	// resolve an Anchor's project when the Anchor's own Contains edges are
	// replayed in the second pass.
	for _, projectPass := range []bool{true, false} {
		for _, e := range data.Edges {
			if from, err := f.engine.Graph.Get(e.From); err == nil && (from.Kind == model.KindProject) != projectPass {
				continue
			}
			if err := f.engine.Graph.RestoreEdge(e.From, e.To, e.Kind); err != nil {
				// Fatal: a replica that cannot reproduce the leader's state
				// must not keep serving stale reads.
				return fmt.Errorf("raftfsm: failed to restore edge: %w", err)
			}
		}
	}
	for _, r := range data.RBACRecords {
		f.engine.RBAC.RestoreRecord(r)
	}
	for _, a := range data.RBACAudit {
		f.engine.RBAC.RestoreAudit(a)
	}

	f.engine.FTS = fts.New()
	for _, e := range data.Entities {
		f.engine.FTS.Add(e)
	}

	f.lastApplied = data.LastApplied
	return nil
}
