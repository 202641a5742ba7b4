package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/orneryd/registry/internal/graph"
	"github.com/orneryd/registry/internal/model"
	"github.com/orneryd/registry/internal/rbac"
	"github.com/orneryd/registry/internal/registry"
	"github.com/orneryd/registry/internal/rerrors"
)

func (s *Server) userOf(r *http.Request) string {
	if u := r.Header.Get("x-registry-user"); u != "" {
		return u
	}
	return "anonymous"
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, typ model.CommandType, payload any) (*model.CommandResult, bool) {
	cmd, err := model.Encode(typ, payload)
	if err != nil {
		WriteError(w, rerrors.Internalf(err, "failed to encode command"))
		return nil, false
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		WriteError(w, rerrors.Internalf(err, "failed to encode command envelope"))
		return nil, false
	}
	resp, err := s.node.Submit(data, submitTimeout)
	if err != nil {
		WriteError(w, err)
		return nil, false
	}
	cr, ok := resp.(*model.CommandResult)
	if !ok {
		WriteError(w, rerrors.Internalf(nil, "unexpected apply response type"))
		return nil, false
	}
	if cr.Err != nil {
		WriteError(w, cr.Err)
		return nil, false
	}
	return cr, true
}

// ---- Projects ----

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	var out []*model.Entity
	s.fsm.WithReadLock(func(e *registry.Engine) {
		for _, ent := range e.Graph.All() {
			if ent.Kind == model.KindProject {
				out = append(out, ent)
			}
		}
	})
	WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var ent *model.Entity
	var lin *graph.Lineage
	var err error
	s.fsm.WithReadLock(func(e *registry.Engine) {
		ent, err = e.GetByQualifiedName(id)
		if err != nil {
			ent, err = e.GetEntity(id)
		}
		if err == nil {
			lin, err = e.GetProjectLineage(ent.ID)
		}
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"entity": ent, "lineage": lin})
}

type projectDefRequest struct {
	Name string            `json:"name"`
	Tags map[string]string `json:"tags,omitempty"`
}

type createResponse struct {
	GUID    string `json:"guid"`
	Version int    `json:"version"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var def projectDefRequest
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		WriteError(w, rerrors.BadRequestf("invalid request body: %v", err))
		return
	}
	id := uuid.NewString()
	cr, ok := s.submit(w, r, model.CmdCreateProject, model.CreateProjectPayload{
		ID: id, Name: def.Name, QualifiedName: def.Name, Tags: def.Tags,
		CreatedBy: s.userOf(r), CreatedAt: time.Now(),
	})
	if !ok {
		return
	}
	res := cr.Payload.(registry.CreateResult)
	WriteJSON(w, http.StatusCreated, createResponse{GUID: res.ID, Version: 1})
}

type sourceDefRequest struct {
	Name   string            `json:"name"`
	Props  model.SourceProps `json:"props"`
	Tags   map[string]string `json:"tags,omitempty"`
	Labels []string          `json:"labels,omitempty"`
}

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	var def sourceDefRequest
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		WriteError(w, rerrors.BadRequestf("invalid request body: %v", err))
		return
	}

	var qname string
	var err error
	s.fsm.WithReadLock(func(e *registry.Engine) { qname, err = e.QualifyChild(projectID, def.Name) })
	if err != nil {
		WriteError(w, err)
		return
	}

	id := uuid.NewString()
	cr, ok := s.submit(w, r, model.CmdCreateSource, model.CreateSourcePayload{
		ID: id, ProjectID: projectID, Name: def.Name, QualifiedName: qname,
		Labels: def.Labels, Tags: def.Tags, CreatedBy: s.userOf(r), CreatedAt: time.Now(),
		Props: def.Props,
	})
	if !ok {
		return
	}
	res := cr.Payload.(registry.CreateResult)
	WriteJSON(w, http.StatusCreated, createResponse{GUID: res.ID, Version: 1})
}

type anchorDefRequest struct {
	Name     string            `json:"name"`
	SourceID string            `json:"sourceId"`
	Tags     map[string]string `json:"tags,omitempty"`
	Labels   []string          `json:"labels,omitempty"`
}

func (s *Server) handleCreateAnchor(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	var def anchorDefRequest
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		WriteError(w, rerrors.BadRequestf("invalid request body: %v", err))
		return
	}

	var qname string
	var err error
	s.fsm.WithReadLock(func(e *registry.Engine) { qname, err = e.QualifyChild(projectID, def.Name) })
	if err != nil {
		WriteError(w, err)
		return
	}

	id := uuid.NewString()
	cr, ok := s.submit(w, r, model.CmdCreateAnchor, model.CreateAnchorPayload{
		ID: id, ProjectID: projectID, SourceID: def.SourceID, Name: def.Name, QualifiedName: qname,
		Labels: def.Labels, Tags: def.Tags, CreatedBy: s.userOf(r), CreatedAt: time.Now(),
	})
	if !ok {
		return
	}
	res := cr.Payload.(registry.CreateResult)
	WriteJSON(w, http.StatusCreated, createResponse{GUID: res.ID, Version: 1})
}

type featureDefRequest struct {
	Name   string             `json:"name"`
	Props  model.FeatureProps `json:"props"`
	Tags   map[string]string  `json:"tags,omitempty"`
	Labels []string           `json:"labels,omitempty"`
}

func (s *Server) handleCreateAnchorFeature(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	anchorID := chi.URLParam(r, "anchorId")
	var def featureDefRequest
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		WriteError(w, rerrors.BadRequestf("invalid request body: %v", err))
		return
	}

	var qname string
	var err error
	s.fsm.WithReadLock(func(e *registry.Engine) { qname, err = e.QualifyChild(anchorID, def.Name) })
	if err != nil {
		WriteError(w, err)
		return
	}

	id := uuid.NewString()
	cr, ok := s.submit(w, r, model.CmdCreateAnchorFeature, model.CreateAnchorFeaturePayload{
		ID: id, ProjectID: projectID, AnchorID: anchorID, Name: def.Name, QualifiedName: qname,
		Labels: def.Labels, Tags: def.Tags, CreatedBy: s.userOf(r), CreatedAt: time.Now(),
		Props: def.Props,
	})
	if !ok {
		return
	}
	res := cr.Payload.(registry.CreateResult)
	WriteJSON(w, http.StatusCreated, createResponse{GUID: res.ID, Version: 1})
}

type derivedFeatureDefRequest struct {
	Name                 string             `json:"name"`
	Props                model.FeatureProps `json:"props"`
	InputAnchorFeatures  []string           `json:"inputAnchorFeatures,omitempty"`
	InputDerivedFeatures []string           `json:"inputDerivedFeatures,omitempty"`
	Tags                 map[string]string  `json:"tags,omitempty"`
	Labels               []string           `json:"labels,omitempty"`
}

func (s *Server) handleCreateDerivedFeature(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	var def derivedFeatureDefRequest
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		WriteError(w, rerrors.BadRequestf("invalid request body: %v", err))
		return
	}

	var qname string
	var err error
	s.fsm.WithReadLock(func(e *registry.Engine) { qname, err = e.QualifyChild(projectID, def.Name) })
	if err != nil {
		WriteError(w, err)
		return
	}

	id := uuid.NewString()
	cr, ok := s.submit(w, r, model.CmdCreateDerivedFeature, model.CreateDerivedFeaturePayload{
		ID: id, ProjectID: projectID, Name: def.Name, QualifiedName: qname,
		Labels: def.Labels, Tags: def.Tags, CreatedBy: s.userOf(r), CreatedAt: time.Now(),
		Props:                def.Props,
		InputAnchorFeatures:  def.InputAnchorFeatures,
		InputDerivedFeatures: def.InputDerivedFeatures,
	})
	if !ok {
		return
	}
	res := cr.Payload.(registry.CreateResult)
	WriteJSON(w, http.StatusCreated, createResponse{GUID: res.ID, Version: 1})
}

func (s *Server) handleProjectLineage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var lin *graph.Lineage
	var err error
	s.fsm.WithReadLock(func(e *registry.Engine) { lin, err = e.GetProjectLineage(id) })
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"entities": lin.Entities, "relations": lin.Edges})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("query")
	if query == "" {
		query = q.Get("keyword")
	}
	size := 10
	if raw := q.Get("size"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			size = n
		}
	}
	kindFilter := model.Kind(q.Get("kind"))

	var results []*model.Entity
	s.fsm.WithReadLock(func(e *registry.Engine) {
		results, _ = e.Search(query, kindFilter, size)
	})
	WriteJSON(w, http.StatusOK, results)
}

func (s *Server) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	_, ok := s.submit(w, r, model.CmdDeleteEntity, model.DeleteEntityPayload{ID: id})
	if !ok {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- RBAC ----

type userRoleRequest struct {
	Scope      string `json:"scope"`
	Permission string `json:"permission"`
	Reason     string `json:"reason,omitempty"`
}

func (s *Server) handleListUserRoles(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	var records []*rbac.Record
	s.fsm.WithReadLock(func(e *registry.Engine) { records = e.ListForUser(user) })
	WriteJSON(w, http.StatusOK, records)
}

func (s *Server) handleAddUserRole(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	var req userRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, rerrors.BadRequestf("invalid request body: %v", err))
		return
	}
	_, ok := s.submit(w, r, model.CmdGrant, model.GrantPayload{
		Scope: req.Scope, Credential: user, Permission: req.Permission,
		Requestor: s.userOf(r), Reason: req.Reason, Time: time.Now(),
	})
	if !ok {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteUserRole(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	scope := r.URL.Query().Get("scope")
	reason := r.URL.Query().Get("reason")
	_, ok := s.submit(w, r, model.CmdRevoke, model.RevokePayload{
		Scope: scope, Credential: user, DeletedBy: s.userOf(r), Reason: reason, Time: time.Now(),
	})
	if !ok {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
