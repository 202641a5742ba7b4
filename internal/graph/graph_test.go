package graph_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/registry/internal/graph"
	"github.com/orneryd/registry/internal/model"
)

func mustEntity(t *testing.T, id string, kind model.Kind, qname string) *model.Entity {
	t.Helper()
	return &model.Entity{
		ID:            id,
		Kind:          kind,
		Name:          qname,
		QualifiedName: qname,
		CreatedBy:     "test",
		CreatedAt:     time.Unix(0, 0),
	}
}

// buildLineageFixture wires P / P.S / P.A (ref S) / P.A.f1, matching the
// concrete scenario 1 fixture.
func buildLineageFixture(t *testing.T) (*graph.Graph, string) {
	t.Helper()
	g := graph.New()

	p := mustEntity(t, "P", model.KindProject, "P")
	s := mustEntity(t, "S", model.KindSource, "P.S")
	a := mustEntity(t, "A", model.KindAnchor, "P.A")
	f := mustEntity(t, "F", model.KindAnchorFeature, "P.A.f1")

	require.NoError(t, g.InsertEntity(p))
	require.NoError(t, g.InsertEntity(s))
	require.NoError(t, g.InsertEntity(a))
	require.NoError(t, g.InsertEntity(f))

	require.NoError(t, g.InsertEdge("P", "S", model.EdgeContains))
	require.NoError(t, g.InsertEdge("P", "A", model.EdgeContains))
	require.NoError(t, g.InsertEdge("A", "F", model.EdgeContains))

	return g, "P"
}

func TestProjectLineage_ScenarioOne(t *testing.T) {
	g, projID := buildLineageFixture(t)

	lin, err := g.ProjectLineage(projID)
	require.NoError(t, err)
	assert.Len(t, lin.Entities, 4)
	assert.Len(t, lin.Edges, 6) // 3 Contains + 3 BelongsTo
}

func TestInsertEdge_RejectsDisallowedKindPair(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.InsertEntity(mustEntity(t, "P", model.KindProject, "P")))
	require.NoError(t, g.InsertEntity(mustEntity(t, "F", model.KindAnchorFeature, "P.f")))

	err := g.InsertEdge("P", "F", model.EdgeContains)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BadRequest")
}

func TestInsertEdge_ConsumesCycleRejected(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.InsertEntity(mustEntity(t, "d1", model.KindDerivedFeature, "P.d1")))
	require.NoError(t, g.InsertEntity(mustEntity(t, "d2", model.KindDerivedFeature, "P.d2")))

	require.NoError(t, g.InsertEdge("d1", "d2", model.EdgeConsumes))

	err := g.InsertEdge("d2", "d1", model.EdgeConsumes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestDeleteEntity_FailsWhileConsumed(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.InsertEntity(mustEntity(t, "f1", model.KindAnchorFeature, "P.A.f1")))
	require.NoError(t, g.InsertEntity(mustEntity(t, "d1", model.KindDerivedFeature, "P.d1")))
	require.NoError(t, g.InsertEdge("d1", "f1", model.EdgeConsumes))

	err := g.DeleteEntity("f1")
	require.Error(t, err)

	require.NoError(t, g.DeleteEntity("d1"))
	require.NoError(t, g.DeleteEntity("f1"))
}

func TestInsertEntity_DuplicateQualifiedNameConflicts(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.InsertEntity(mustEntity(t, "a1", model.KindAnchor, "P.A")))

	err := g.InsertEntity(mustEntity(t, "a2", model.KindAnchor, "P.A"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Conflict")
}

func TestLineage_TerminatesOnCorruptCycle(t *testing.T) {
	// Defensive test: even if invariant 5 were somehow violated, BFS with a
	// visited set must still terminate.
	g := graph.New()
	require.NoError(t, g.InsertEntity(mustEntity(t, "d1", model.KindDerivedFeature, "P.d1")))
	require.NoError(t, g.InsertEntity(mustEntity(t, "d2", model.KindDerivedFeature, "P.d2")))
	require.NoError(t, g.InsertEdge("d1", "d2", model.EdgeConsumes))
	// RestoreEdge skips the cycle check, so it can plant the corrupt edge.
	require.NoError(t, g.RestoreEdge("d2", "d1", model.EdgeConsumes))

	lin, err := g.Lineage("d1", graph.DirUpstream, 0)
	require.NoError(t, err)
	assert.Len(t, lin.Entities, 2)
}
