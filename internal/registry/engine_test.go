package registry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/registry/internal/model"
	"github.com/orneryd/registry/internal/registry"
	"github.com/orneryd/registry/internal/rerrors"
)

func apply[T any](t *testing.T, e *registry.Engine, typ model.CommandType, payload T) model.CommandResult {
	t.Helper()
	cmd, err := model.Encode(typ, payload)
	require.NoError(t, err)
	return e.ApplyCommand(cmd)
}

func TestScenarioOne_ProjectSourceAnchorFeatureLineage(t *testing.T) {
	e := registry.New()
	now := time.Unix(0, 0)

	res := apply(t, e, model.CmdCreateProject, model.CreateProjectPayload{
		ID: "P", Name: "P", QualifiedName: "P", CreatedBy: "u", CreatedAt: now,
	})
	require.NoError(t, res.Err)

	res = apply(t, e, model.CmdCreateSource, model.CreateSourcePayload{
		ID: "S", ProjectID: "P", Name: "S", QualifiedName: "P.S", CreatedBy: "u", CreatedAt: now,
		Props: model.SourceProps{SourceType: "hdfs"},
	})
	require.NoError(t, res.Err)

	res = apply(t, e, model.CmdCreateAnchor, model.CreateAnchorPayload{
		ID: "A", ProjectID: "P", SourceID: "S", Name: "A", QualifiedName: "P.A", CreatedBy: "u", CreatedAt: now,
	})
	require.NoError(t, res.Err)

	res = apply(t, e, model.CmdCreateAnchorFeature, model.CreateAnchorFeaturePayload{
		ID: "f1", ProjectID: "P", AnchorID: "A", Name: "f1", QualifiedName: "P.A.f1", CreatedBy: "u", CreatedAt: now,
	})
	require.NoError(t, res.Err)

	lin, err := e.GetProjectLineage("P")
	require.NoError(t, err)
	assert.Len(t, lin.Entities, 4)
	assert.Len(t, lin.Edges, 6)
}

func setupDerivedFixture(t *testing.T) *registry.Engine {
	t.Helper()
	e := registry.New()
	now := time.Unix(0, 0)

	require.NoError(t, apply(t, e, model.CmdCreateProject, model.CreateProjectPayload{
		ID: "P", Name: "P", QualifiedName: "P", CreatedBy: "u", CreatedAt: now,
	}).Err)
	require.NoError(t, apply(t, e, model.CmdCreateSource, model.CreateSourcePayload{
		ID: "S", ProjectID: "P", Name: "S", QualifiedName: "P.S", CreatedBy: "u", CreatedAt: now,
		Props: model.SourceProps{SourceType: "hdfs"},
	}).Err)
	require.NoError(t, apply(t, e, model.CmdCreateAnchor, model.CreateAnchorPayload{
		ID: "A", ProjectID: "P", SourceID: "S", Name: "A", QualifiedName: "P.A", CreatedBy: "u", CreatedAt: now,
	}).Err)
	require.NoError(t, apply(t, e, model.CmdCreateAnchorFeature, model.CreateAnchorFeaturePayload{
		ID: "f1", ProjectID: "P", AnchorID: "A", Name: "f1", QualifiedName: "P.A.f1", CreatedBy: "u", CreatedAt: now,
	}).Err)
	return e
}

func TestScenarioTwo_DerivedFeatureCycleRejected(t *testing.T) {
	e := setupDerivedFixture(t)
	now := time.Unix(0, 0)
	require.NoError(t, apply(t, e, model.CmdCreateDerivedFeature, model.CreateDerivedFeaturePayload{
		ID: "d1", ProjectID: "P", Name: "d1", QualifiedName: "P.d1", CreatedBy: "u", CreatedAt: now,
		InputAnchorFeatures: []string{"f1"},
	}).Err)
	require.NoError(t, apply(t, e, model.CmdCreateDerivedFeature, model.CreateDerivedFeaturePayload{
		ID: "d2", ProjectID: "P", Name: "d2", QualifiedName: "P.d2", CreatedBy: "u", CreatedAt: now,
		InputDerivedFeatures: []string{"d1"},
	}).Err)

	err := e.Graph.InsertEdge("d1", "d2", model.EdgeConsumes)
	require.Error(t, err)
	var re *rerrors.RegistryError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, rerrors.KindBadRequest, re.Kind)
}

func TestScenarioThree_DeleteInUseThenSucceeds(t *testing.T) {
	e := setupDerivedFixture(t)
	now := time.Unix(0, 0)
	require.NoError(t, apply(t, e, model.CmdCreateDerivedFeature, model.CreateDerivedFeaturePayload{
		ID: "d1", ProjectID: "P", Name: "d1", QualifiedName: "P.d1", CreatedBy: "u", CreatedAt: now,
		InputAnchorFeatures: []string{"f1"},
	}).Err)

	res := apply(t, e, model.CmdDeleteEntity, model.DeleteEntityPayload{ID: "f1"})
	require.Error(t, res.Err)

	require.NoError(t, apply(t, e, model.CmdDeleteEntity, model.DeleteEntityPayload{ID: "d1"}).Err)
	require.NoError(t, apply(t, e, model.CmdDeleteEntity, model.DeleteEntityPayload{ID: "f1"}).Err)
}

func TestScenarioFour_DuplicateQualifiedNameConflicts(t *testing.T) {
	e := setupDerivedFixture(t)
	now := time.Unix(0, 0)
	res := apply(t, e, model.CmdCreateAnchor, model.CreateAnchorPayload{
		ID: "A2", ProjectID: "P", SourceID: "S", Name: "A", QualifiedName: "P.A", CreatedBy: "u", CreatedAt: now,
	})
	require.Error(t, res.Err)
	var re *rerrors.RegistryError
	require.ErrorAs(t, res.Err, &re)
	assert.Equal(t, rerrors.KindConflict, re.Kind)
}

func TestSearch_ReturnsHydratedEntities(t *testing.T) {
	e := setupDerivedFixture(t)
	results, err := e.Search("f1", "", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "f1", results[0].ID)
}

func TestQualifyChild_RejectsCollision(t *testing.T) {
	e := setupDerivedFixture(t)
	_, err := e.QualifyChild("P", "A")
	require.Error(t, err)
}

func TestGrantAndRevoke_ThroughCommands(t *testing.T) {
	e := registry.New()
	now := time.Unix(0, 0)
	require.NoError(t, apply(t, e, model.CmdGrant, model.GrantPayload{
		Scope: "P", Credential: "u", Permission: "Read", Requestor: "admin", Time: now,
	}).Err)

	view := e.ListPermissions("u", "P.A.f1")
	assert.True(t, view.Allowed)
	assert.Equal(t, "consumer", view.Role)

	require.NoError(t, apply(t, e, model.CmdRevoke, model.RevokePayload{
		Scope: "P", Credential: "u", DeletedBy: "admin", Time: now,
	}).Err)

	view = e.ListPermissions("u", "P.A.f1")
	assert.False(t, view.Allowed)
}
