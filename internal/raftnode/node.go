// Package raftnode implements the Raft node (N): log persistence, term/vote
// persistence, leader election, log replication, snapshotting, and
// single-server membership changes, built on hashicorp/raft over
// raft-boltdb/v2 for the log and stable stores.
package raftnode

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"

	"github.com/orneryd/registry/internal/config"
	"github.com/orneryd/registry/internal/rerrors"
)

// Node wraps a *raft.Raft with the configuration used to build it.
type Node struct {
	Raft      *raft.Raft
	transport *raft.NetworkTransport
	cfg       *config.RaftConfig
}

// Open builds and starts a Raft node backed by fsm, using cfg for storage
// paths, server identity, and tuning parameters.
func Open(cfg *config.RaftConfig, fsm raft.FSM) (*Node, error) {
	if err := os.MkdirAll(cfg.JournalPath, 0o755); err != nil {
		return nil, fmt.Errorf("raftnode: failed to create journal directory: %w", err)
	}
	if err := os.MkdirAll(cfg.SnapshotPath, 0o755); err != nil {
		return nil, fmt.Errorf("raftnode: failed to create snapshot directory: %w", err)
	}

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = localID(cfg)
	raftCfg.HeartbeatTimeout = cfg.HeartbeatTimeout
	raftCfg.ElectionTimeout = cfg.ElectionTimeout
	raftCfg.SnapshotInterval = cfg.SnapshotInterval
	raftCfg.SnapshotThreshold = cfg.SnapshotThreshold

	boltPath := filepath.Join(cfg.JournalPath, "raft.db")
	store, err := raftboltdb.New(raftboltdb.Options{Path: boltPath})
	if err != nil {
		return nil, fmt.Errorf("raftnode: failed to open bolt store: %w", err)
	}

	snapshots, err := raft.NewFileSnapshotStore(cfg.SnapshotPath, 3, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("raftnode: failed to open snapshot store: %w", err)
	}

	addr, err := net.ResolveTCPAddr("tcp", cfg.AdvertiseAddr)
	if err != nil {
		return nil, fmt.Errorf("raftnode: failed to resolve advertise address: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("raftnode: failed to open raft transport: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, fsm, store, store, snapshots, transport)
	if err != nil {
		return nil, fmt.Errorf("raftnode: failed to start raft: %w", err)
	}

	return &Node{Raft: r, transport: transport, cfg: cfg}, nil
}

// localID derives a server's raft.ServerID from its configuration. Open and
// Bootstrap must agree on this value, or the node will never find itself in
// its own cluster configuration.
func localID(cfg *config.RaftConfig) raft.ServerID {
	return raft.ServerID(fmt.Sprintf("%s-%s", cfg.InstancePrefix, cfg.BindAddr))
}

// Bootstrap initializes a single-server cluster with this node as the only
// voter, used by the `init` CLI subcommand.
func (n *Node) Bootstrap() error {
	cfg := raft.Configuration{
		Servers: []raft.Server{{
			ID:      localID(n.cfg),
			Address: n.transport.LocalAddr(),
		}},
	}
	return n.Raft.BootstrapCluster(cfg).Error()
}

// Submit applies cmd through the Raft log, blocking up to timeout. It
// returns a leader hint in the error when this node is not currently the
// leader — clients should retry against the hinted address.
func (n *Node) Submit(data []byte, timeout time.Duration) (any, error) {
	if n.Raft.State() != raft.Leader {
		hint := string(n.Raft.Leader())
		if hint == "" {
			return nil, rerrors.ServiceUnavailablef("no leader elected")
		}
		return nil, rerrors.ServiceUnavailablef("not leader, retry against %s", hint)
	}
	future := n.Raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		return nil, rerrors.ServiceUnavailablef("raft apply failed: %v", err)
	}
	return future.Response(), nil
}

// AddVoter adds id@addr as a full voting member, used by
// /management/change-membership.
func (n *Node) AddVoter(id, addr string, timeout time.Duration) error {
	if n.Raft.State() != raft.Leader {
		return rerrors.ServiceUnavailablef("not leader")
	}
	return n.Raft.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, timeout).Error()
}

// AddLearner adds id@addr as a non-voting learner, used by
// /management/add-learner.
func (n *Node) AddLearner(id, addr string, timeout time.Duration) error {
	if n.Raft.State() != raft.Leader {
		return rerrors.ServiceUnavailablef("not leader")
	}
	return n.Raft.AddNonvoter(raft.ServerID(id), raft.ServerAddress(addr), 0, timeout).Error()
}

// LeaderAddr returns the currently known leader's advertise address, or ""
// if none is known.
func (n *Node) LeaderAddr() string {
	addr, _ := n.Raft.LeaderWithID()
	return string(addr)
}

// Stats returns the raft library's own key/value diagnostic snapshot,
// surfaced by /management/metrics with fsm_last_applied added.
func (n *Node) Stats() map[string]string {
	return n.Raft.Stats()
}

// Shutdown stops the Raft node and closes its transport.
func (n *Node) Shutdown() error {
	if err := n.Raft.Shutdown().Error(); err != nil {
		return err
	}
	return n.transport.Close()
}
