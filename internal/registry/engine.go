// Package registry implements the Registry API (A): the externally visible
// create/get/delete/search/lineage/grant operations composed from the
// entity graph, full-text index, and RBAC store. Engine.ApplyCommand is
// also the deterministic applier the Raft state machine (S) drives — the
// registry API and the state machine share one implementation of "what a
// command does to G+F+R" so the two can never drift.
package registry

import (
	"encoding/json"

	"github.com/orneryd/registry/internal/fts"
	"github.com/orneryd/registry/internal/graph"
	"github.com/orneryd/registry/internal/model"
	"github.com/orneryd/registry/internal/rbac"
	"github.com/orneryd/registry/internal/rerrors"
)

func unmarshal(raw json.RawMessage, v any) error { return json.Unmarshal(raw, v) }

// Sink is the optional write-through mirror, called synchronously inside
// ApplyCommand after a write command applies successfully. Errors it returns
// are discarded without being logged; they never fail the command.
type Sink interface {
	WriteEntity(e *model.Entity) error
	WriteEdge(e model.Edge) error
	WriteRBACRecord(r *rbac.Record) error
}

// Engine holds the sole mutable copy of the entity graph, full-text index,
// and RBAC store. It performs no locking of its own — the caller (the Raft
// FSM for writes, the HTTP read handlers for reads) is responsible for
// holding the appropriate reader/writer lock for the duration of one
// operation.
type Engine struct {
	Graph *graph.Graph
	FTS   *fts.Index
	RBAC  *rbac.Store
	Sink  Sink // nil disables the write-through sink
}

// New creates an empty Engine.
func New() *Engine {
	return &Engine{
		Graph: graph.New(),
		FTS:   fts.New(),
		RBAC:  rbac.New(),
	}
}

func qualify(parent, child string) string { return parent + "." + child }

func (e *Engine) mirror(entity *model.Entity, edges []model.Edge) {
	if e.Sink == nil {
		return
	}
	if entity != nil {
		_ = e.Sink.WriteEntity(entity)
	}
	for _, edge := range edges {
		_ = e.Sink.WriteEdge(edge)
	}
}

// ApplyCommand executes cmd against Graph+FTS+RBAC and returns its result.
// It never returns a Go error itself — apply failures are carried inside
// CommandResult.Err so a failed write still advances last-applied without
// halting the log.
func (e *Engine) ApplyCommand(cmd model.Command) model.CommandResult {
	switch cmd.Type {
	case model.CmdCreateProject:
		return e.applyCreateProject(cmd)
	case model.CmdCreateSource:
		return e.applyCreateSource(cmd)
	case model.CmdCreateAnchor:
		return e.applyCreateAnchor(cmd)
	case model.CmdCreateAnchorFeature:
		return e.applyCreateAnchorFeature(cmd)
	case model.CmdCreateDerivedFeature:
		return e.applyCreateDerivedFeature(cmd)
	case model.CmdDeleteEntity:
		return e.applyDeleteEntity(cmd)
	case model.CmdGrant:
		return e.applyGrant(cmd)
	case model.CmdRevoke:
		return e.applyRevoke(cmd)
	default:
		return model.CommandResult{Err: rerrors.BadRequestf("unknown command type %q", cmd.Type)}
	}
}

func decode[T any](cmd model.Command) (T, error) {
	var payload T
	if err := unmarshal(cmd.Payload, &payload); err != nil {
		return payload, rerrors.BadRequestf("invalid payload for %s: %v", cmd.Type, err)
	}
	return payload, nil
}

// CreateResult is returned by every Create* command.
type CreateResult struct {
	ID            string `json:"id"`
	QualifiedName string `json:"qualifiedName"`
}

func (e *Engine) applyCreateProject(cmd model.Command) model.CommandResult {
	p, err := decode[model.CreateProjectPayload](cmd)
	if err != nil {
		return model.CommandResult{Err: err}
	}
	entity := &model.Entity{
		ID: p.ID, Kind: model.KindProject, Name: p.Name, QualifiedName: p.QualifiedName,
		Tags: p.Tags, CreatedBy: p.CreatedBy, CreatedAt: p.CreatedAt,
	}
	if err := e.Graph.InsertEntity(entity); err != nil {
		return model.CommandResult{Err: err}
	}
	e.FTS.Add(entity)
	e.mirror(entity, nil)
	return model.CommandResult{Payload: CreateResult{ID: entity.ID, QualifiedName: entity.QualifiedName}}
}

func (e *Engine) applyCreateSource(cmd model.Command) model.CommandResult {
	p, err := decode[model.CreateSourcePayload](cmd)
	if err != nil {
		return model.CommandResult{Err: err}
	}
	qname := qualify(mustQName(e, p.ProjectID), p.Name)
	entity := &model.Entity{
		ID: p.ID, Kind: model.KindSource, Name: p.Name, QualifiedName: qname,
		Labels: p.Labels, Tags: p.Tags, CreatedBy: p.CreatedBy, CreatedAt: p.CreatedAt,
		Source: &p.Props,
	}
	if err := e.Graph.InsertEntity(entity); err != nil {
		return model.CommandResult{Err: err}
	}
	if err := e.Graph.InsertEdge(p.ProjectID, entity.ID, model.EdgeContains); err != nil {
		_ = e.Graph.DeleteEntity(entity.ID)
		return model.CommandResult{Err: err}
	}
	e.FTS.Add(entity)
	e.mirror(entity, []model.Edge{{From: p.ProjectID, To: entity.ID, Kind: model.EdgeContains}})
	return model.CommandResult{Payload: CreateResult{ID: entity.ID, QualifiedName: entity.QualifiedName}}
}

func (e *Engine) applyCreateAnchor(cmd model.Command) model.CommandResult {
	p, err := decode[model.CreateAnchorPayload](cmd)
	if err != nil {
		return model.CommandResult{Err: err}
	}
	if _, err := e.Graph.Get(p.SourceID); err != nil {
		return model.CommandResult{Err: rerrors.NotFoundf("source %q not found", p.SourceID)}
	}
	qname := qualify(mustQName(e, p.ProjectID), p.Name)
	entity := &model.Entity{
		ID: p.ID, Kind: model.KindAnchor, Name: p.Name, QualifiedName: qname,
		Labels: p.Labels, Tags: p.Tags, CreatedBy: p.CreatedBy, CreatedAt: p.CreatedAt,
		Anchor: &model.AnchorProps{SourceID: p.SourceID},
	}
	if err := e.Graph.InsertEntity(entity); err != nil {
		return model.CommandResult{Err: err}
	}
	if err := e.Graph.InsertEdge(p.ProjectID, entity.ID, model.EdgeContains); err != nil {
		_ = e.Graph.DeleteEntity(entity.ID)
		return model.CommandResult{Err: err}
	}
	if err := e.Graph.InsertEdge(entity.ID, p.SourceID, model.EdgeConsumes); err != nil {
		// Anchor-to-source reference failed validation; roll back fully.
		_ = e.Graph.DeleteEntity(entity.ID)
		return model.CommandResult{Err: err}
	}
	e.FTS.Add(entity)
	e.mirror(entity, []model.Edge{
		{From: p.ProjectID, To: entity.ID, Kind: model.EdgeContains},
		{From: entity.ID, To: p.SourceID, Kind: model.EdgeConsumes},
	})
	return model.CommandResult{Payload: CreateResult{ID: entity.ID, QualifiedName: entity.QualifiedName}}
}

func (e *Engine) applyCreateAnchorFeature(cmd model.Command) model.CommandResult {
	p, err := decode[model.CreateAnchorFeaturePayload](cmd)
	if err != nil {
		return model.CommandResult{Err: err}
	}
	anchor, err := e.Graph.Get(p.AnchorID)
	if err != nil {
		return model.CommandResult{Err: rerrors.NotFoundf("anchor %q not found", p.AnchorID)}
	}
	qname := qualify(anchor.QualifiedName, p.Name)
	entity := &model.Entity{
		ID: p.ID, Kind: model.KindAnchorFeature, Name: p.Name, QualifiedName: qname,
		Labels: p.Labels, Tags: p.Tags, CreatedBy: p.CreatedBy, CreatedAt: p.CreatedAt,
		Feature: &p.Props,
	}
	if err := e.Graph.InsertEntity(entity); err != nil {
		return model.CommandResult{Err: err}
	}
	if err := e.Graph.InsertEdge(p.AnchorID, entity.ID, model.EdgeContains); err != nil {
		_ = e.Graph.DeleteEntity(entity.ID)
		return model.CommandResult{Err: err}
	}
	e.FTS.Add(entity)
	e.mirror(entity, []model.Edge{{From: p.AnchorID, To: entity.ID, Kind: model.EdgeContains}})
	return model.CommandResult{Payload: CreateResult{ID: entity.ID, QualifiedName: entity.QualifiedName}}
}

func (e *Engine) applyCreateDerivedFeature(cmd model.Command) model.CommandResult {
	p, err := decode[model.CreateDerivedFeaturePayload](cmd)
	if err != nil {
		return model.CommandResult{Err: err}
	}
	qname := qualify(mustQName(e, p.ProjectID), p.Name)

	consumes := unionDedup(p.InputAnchorFeatures, p.InputDerivedFeatures)
	props := p.Props
	props.Consumes = consumes

	entity := &model.Entity{
		ID: p.ID, Kind: model.KindDerivedFeature, Name: p.Name, QualifiedName: qname,
		Labels: p.Labels, Tags: p.Tags, CreatedBy: p.CreatedBy, CreatedAt: p.CreatedAt,
		Feature: &props,
	}
	if err := e.Graph.InsertEntity(entity); err != nil {
		return model.CommandResult{Err: err}
	}
	if err := e.Graph.InsertEdge(p.ProjectID, entity.ID, model.EdgeContains); err != nil {
		_ = e.Graph.DeleteEntity(entity.ID)
		return model.CommandResult{Err: err}
	}
	edges := []model.Edge{{From: p.ProjectID, To: entity.ID, Kind: model.EdgeContains}}
	for _, upstream := range consumes {
		if err := e.Graph.InsertEdge(entity.ID, upstream, model.EdgeConsumes); err != nil {
			_ = e.Graph.DeleteEntity(entity.ID)
			return model.CommandResult{Err: err}
		}
		edges = append(edges, model.Edge{From: entity.ID, To: upstream, Kind: model.EdgeConsumes})
	}
	e.FTS.Add(entity)
	e.mirror(entity, edges)
	return model.CommandResult{Payload: CreateResult{ID: entity.ID, QualifiedName: entity.QualifiedName}}
}

func (e *Engine) applyDeleteEntity(cmd model.Command) model.CommandResult {
	p, err := decode[model.DeleteEntityPayload](cmd)
	if err != nil {
		return model.CommandResult{Err: err}
	}
	if err := e.Graph.DeleteEntity(p.ID); err != nil {
		return model.CommandResult{Err: err}
	}
	e.FTS.Remove(p.ID)
	return model.CommandResult{Payload: struct{}{}}
}

func (e *Engine) applyGrant(cmd model.Command) model.CommandResult {
	p, err := decode[model.GrantPayload](cmd)
	if err != nil {
		return model.CommandResult{Err: err}
	}
	if err := e.RBAC.Grant(p.Scope, p.Credential, rbac.Permission(p.Permission), p.Requestor, p.Reason, p.Time); err != nil {
		return model.CommandResult{Err: err}
	}
	if e.Sink != nil {
		for _, r := range e.RBAC.ListForScope(p.Scope) {
			if r.Credential == p.Credential {
				_ = e.Sink.WriteRBACRecord(r)
			}
		}
	}
	return model.CommandResult{Payload: struct{}{}}
}

func (e *Engine) applyRevoke(cmd model.Command) model.CommandResult {
	p, err := decode[model.RevokePayload](cmd)
	if err != nil {
		return model.CommandResult{Err: err}
	}
	if err := e.RBAC.Revoke(p.Scope, p.Credential, p.DeletedBy, p.Reason, p.Time); err != nil {
		return model.CommandResult{Err: err}
	}
	return model.CommandResult{Payload: struct{}{}}
}

func mustQName(e *Engine, id string) string {
	entity, err := e.Graph.Get(id)
	if err != nil {
		return id
	}
	return entity.QualifiedName
}

func unionDedup(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// ---- Read operations (bypass the log) ----

// GetEntity returns the entity by ID.
func (e *Engine) GetEntity(id string) (*model.Entity, error) { return e.Graph.Get(id) }

// GetByQualifiedName returns the entity by qualified name.
func (e *Engine) GetByQualifiedName(name string) (*model.Entity, error) {
	return e.Graph.GetByQualifiedName(name)
}

// ListChildren returns the Contains-children of id, optionally filtered by kind.
func (e *Engine) ListChildren(id string, kindFilter model.Kind) ([]*model.Entity, error) {
	return e.Graph.Children(id, kindFilter)
}

// GetLineage returns the reachable subgraph from id in the given direction.
func (e *Engine) GetLineage(id string, dir graph.Direction, depthLimit int) (*graph.Lineage, error) {
	return e.Graph.Lineage(id, dir, depthLimit)
}

// GetProjectLineage returns the project's full transitive Contains closure.
func (e *Engine) GetProjectLineage(projectID string) (*graph.Lineage, error) {
	return e.Graph.ProjectLineage(projectID)
}

// Search runs a ranked full-text query, resolving each hit's ID back to its entity.
func (e *Engine) Search(query string, kindFilter model.Kind, limit int) ([]*model.Entity, error) {
	hits := e.FTS.Search(query, kindFilter, limit)
	out := make([]*model.Entity, 0, len(hits))
	for _, h := range hits {
		if ent, err := e.Graph.Get(h.ID); err == nil {
			out = append(out, ent)
		}
	}
	return out, nil
}

// ListPermissions returns a permission response for (user, resource):
// the effective permission, derived access list, and role name.
type PermissionView struct {
	Resource   string   `json:"resource"`
	Permission string   `json:"permission,omitempty"`
	AccessList []string `json:"accessList,omitempty"`
	Role       string   `json:"role,omitempty"`
	Allowed    bool     `json:"allowed"`
}

// ListPermissions projects credential's effective permission on resource.
func (e *Engine) ListPermissions(credential, resource string) PermissionView {
	eff, ok := e.RBAC.Effective(credential, resource)
	if !ok {
		return PermissionView{Resource: resource, Allowed: false}
	}
	return PermissionView{
		Resource: resource, Permission: string(eff), AccessList: eff.AccessList(),
		Role: eff.RoleName(), Allowed: true,
	}
}

// CheckPermission reports whether credential has at least `need` over resource.
func (e *Engine) CheckPermission(credential, resource string, need rbac.Permission) bool {
	return e.RBAC.Check(credential, resource, need)
}

// ListForUser returns credential's active grants.
func (e *Engine) ListForUser(credential string) []*rbac.Record { return e.RBAC.ListForUser(credential) }

// QualifyChild derives a child's qualified name by prefixing the parent's,
// failing Conflict if the result already exists.
func (e *Engine) QualifyChild(parentID, name string) (string, error) {
	parent, err := e.Graph.Get(parentID)
	if err != nil {
		return "", err
	}
	candidate := qualify(parent.QualifiedName, name)
	if _, err := e.Graph.GetByQualifiedName(candidate); err == nil {
		return "", rerrors.Conflictf("qualified name %q already exists", candidate)
	}
	return candidate, nil
}
