package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/orneryd/registry/internal/rerrors"
)

// handleRaftVote and handleRaftAppend are a thin administrative surface for
// operators, not a reimplementation of Raft RPC over HTTP — actual vote
// requests and log-append entries travel over the TCP transport the Node
// opened in raftnode.Open. These endpoints only report the node's current
// term/state/leader view and its log indexes for diagnostics and
// cluster-bootstrap tooling.
func (s *Server) handleRaftVote(w http.ResponseWriter, r *http.Request) {
	stats := s.node.Stats()
	WriteJSON(w, http.StatusOK, map[string]string{
		"term":   stats["term"],
		"state":  stats["state"],
		"leader": s.node.LeaderAddr(),
	})
}

func (s *Server) handleRaftAppend(w http.ResponseWriter, r *http.Request) {
	stats := s.node.Stats()
	WriteJSON(w, http.StatusOK, map[string]string{
		"last_log_index":  stats["last_log_index"],
		"commit_index":    stats["commit_index"],
		"applied_index":   stats["applied_index"],
		"fsm_last_applied": strconv.FormatUint(s.fsm.LastApplied(), 10),
	})
}

// handleRaftSnapshot triggers an out-of-band snapshot on this node, the one
// Raft-internal operation an operator legitimately needs to force rather
// than observe.
func (s *Server) handleRaftSnapshot(w http.ResponseWriter, r *http.Request) {
	future := s.node.Raft.Snapshot()
	if err := future.Error(); err != nil {
		WriteError(w, rerrors.ServiceUnavailablef("snapshot failed: %v", err))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "snapshot triggered"})
}

// ---- Management ----

func (s *Server) handleManagementInit(w http.ResponseWriter, r *http.Request) {
	if err := s.node.Bootstrap(); err != nil {
		WriteError(w, rerrors.ServiceUnavailablef("bootstrap failed: %v", err))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "bootstrapped"})
}

type membershipRequest struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

func (s *Server) handleManagementAddLearner(w http.ResponseWriter, r *http.Request) {
	var req membershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, rerrors.BadRequestf("invalid request body: %v", err))
		return
	}
	if err := s.node.AddLearner(req.ID, req.Address, 10*time.Second); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "learner added"})
}

func (s *Server) handleManagementChangeMembership(w http.ResponseWriter, r *http.Request) {
	var req membershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, rerrors.BadRequestf("invalid request body: %v", err))
		return
	}
	if err := s.node.AddVoter(req.ID, req.Address, 10*time.Second); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "voter added"})
}

func (s *Server) handleManagementMetrics(w http.ResponseWriter, r *http.Request) {
	stats := s.node.Stats()
	stats["fsm_last_applied"] = strconv.FormatUint(s.fsm.LastApplied(), 10)
	WriteJSON(w, http.StatusOK, stats)
}
