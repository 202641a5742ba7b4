// Package httpapi exposes the registry's HTTP REST surface: the registry
// API routes, Raft-internal administrative endpoints, and the management
// endpoints gated by x-registry-management-code, built on a chi router with
// chained middleware and a request logger wrapping a stdlib logger.
package httpapi

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/orneryd/registry/internal/config"
	"github.com/orneryd/registry/internal/raftfsm"
	"github.com/orneryd/registry/internal/raftnode"
	"github.com/orneryd/registry/internal/sequencer"
)

// Server wires the registry's read/write handlers onto a chi router.
type Server struct {
	fsm    *raftfsm.FSM
	node   *raftnode.Node
	seq    *sequencer.Sequencer
	cfg    *config.Config
	logger *log.Logger
	router chi.Router
}

// NewServer builds a Server with every route registered.
func NewServer(fsm *raftfsm.FSM, node *raftnode.Node, seq *sequencer.Sequencer, cfg *config.Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{fsm: fsm, node: node, seq: seq, cfg: cfg, logger: logger}
	s.router = s.buildRouter()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(s.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Content-Type", SeqHeader, ManagementCodeHeader},
		ExposedHeaders:   []string{SeqHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)

	r.Group(func(api chi.Router) {
		api.Use(SequencerMiddleware(s.seq))

		api.Get("/projects", s.handleListProjects)
		api.Get("/projects/{id}", s.handleGetProject)
		api.Post("/projects", s.handleCreateProject)
		api.Post("/projects/{id}/datasources", s.handleCreateSource)
		api.Post("/projects/{id}/anchors", s.handleCreateAnchor)
		api.Post("/projects/{id}/anchors/{anchorId}/features", s.handleCreateAnchorFeature)
		api.Post("/projects/{id}/derivedfeatures", s.handleCreateDerivedFeature)
		api.Get("/projects/{id}/lineage", s.handleProjectLineage)

		api.Get("/features/search", s.handleSearch)
		api.Delete("/entity/{id}", s.handleDeleteEntity)

		api.Get("/userroles", s.handleListUserRoles)
		api.Post("/users/{user}/userroles/add", s.handleAddUserRole)
		api.Delete("/users/{user}/userroles/delete", s.handleDeleteUserRole)
	})

	r.Group(func(internalAPI chi.Router) {
		internalAPI.Use(ManagementAuth(s.cfg.Raft.ManagementCode))

		internalAPI.Post("/raft-vote", s.handleRaftVote)
		internalAPI.Post("/raft-append", s.handleRaftAppend)
		internalAPI.Post("/raft-snapshot", s.handleRaftSnapshot)

		internalAPI.Post("/management/init", s.handleManagementInit)
		internalAPI.Post("/management/add-learner", s.handleManagementAddLearner)
		internalAPI.Post("/management/change-membership", s.handleManagementChangeMembership)
		internalAPI.Post("/management/metrics", s.handleManagementMetrics)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

const submitTimeout = 10 * time.Second
