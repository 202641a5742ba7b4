package raftfsm_test

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/registry/internal/model"
	"github.com/orneryd/registry/internal/raftfsm"
	"github.com/orneryd/registry/internal/registry"
	"github.com/orneryd/registry/internal/sequencer"
)

// memSink is a minimal in-memory raft.SnapshotSink for testing Persist
// without a real FileSnapshotStore.
type memSink struct {
	bytes.Buffer
	id string
}

func (m *memSink) ID() string           { return m.id }
func (m *memSink) Cancel() error        { return nil }
func (m *memSink) Close() error         { return nil }

func applyCmd(t *testing.T, f *raftfsm.FSM, index uint64, typ model.CommandType, payload any) *model.CommandResult {
	t.Helper()
	cmd, err := model.Encode(typ, payload)
	require.NoError(t, err)
	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	res := f.Apply(&raft.Log{Index: index, Data: data})
	cr, ok := res.(*model.CommandResult)
	require.True(t, ok)
	return cr
}

func TestApply_FailedCommandStillAdvancesLastApplied(t *testing.T) {
	seq := sequencer.New()
	f := raftfsm.New(registry.New(), seq, nil)

	cr := applyCmd(t, f, 1, model.CmdDeleteEntity, model.DeleteEntityPayload{ID: "missing"})
	require.Error(t, cr.Err)
	assert.Equal(t, uint64(1), f.LastApplied())
	assert.Equal(t, uint64(1), seq.Current())
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	seq := sequencer.New()
	f := raftfsm.New(registry.New(), seq, nil)
	now := time.Unix(0, 0)

	cr := applyCmd(t, f, 1, model.CmdCreateProject, model.CreateProjectPayload{
		ID: "P", Name: "P", QualifiedName: "P", CreatedBy: "u", CreatedAt: now,
	})
	require.NoError(t, cr.Err)
	cr = applyCmd(t, f, 2, model.CmdCreateSource, model.CreateSourcePayload{
		ID: "S", ProjectID: "P", Name: "S", QualifiedName: "P.S", CreatedBy: "u", CreatedAt: now,
		Props: model.SourceProps{SourceType: "hdfs"},
	})
	require.NoError(t, cr.Err)

	snap, err := f.Snapshot()
	require.NoError(t, err)
	sink := &memSink{id: "snap-1"}
	require.NoError(t, snap.Persist(sink))

	restored := raftfsm.New(registry.New(), sequencer.New(), nil)
	require.NoError(t, restored.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))))

	assert.Equal(t, f.LastApplied(), restored.LastApplied())

	var gotEntities, wantEntities []*model.Entity
	f.WithReadLock(func(e *registry.Engine) { wantEntities = e.Graph.All() })
	restored.WithReadLock(func(e *registry.Engine) { gotEntities = e.Graph.All() })
	require.Len(t, gotEntities, len(wantEntities))
	for i := range wantEntities {
		assert.Equal(t, wantEntities[i].ID, gotEntities[i].ID)
		assert.Equal(t, wantEntities[i].QualifiedName, gotEntities[i].QualifiedName)
	}

	restored.WithReadLock(func(e *registry.Engine) {
		results, err := e.Search("hdfs", "", 10)
		require.NoError(t, err)
		assert.NotEmpty(t, results)
	})
}
