// Package config loads registry node configuration from environment
// variables: every field has a sane default, and Validate reports a single
// actionable error before the node binds any listener.
//
// Example usage:
//
//	cfg := config.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid configuration: %v", err)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all registry node configuration loaded from environment
// variables.
type Config struct {
	Raft  RaftConfig
	HTTP  HTTPConfig
	Sink  SinkConfig
}

// RaftConfig holds Raft log/snapshot/cluster settings.
type RaftConfig struct {
	// JournalPath is the directory holding the Raft log and stable stores.
	JournalPath string
	// SnapshotPath is the directory holding periodic state snapshots.
	SnapshotPath string
	// InstancePrefix namespaces this node's Raft server ID.
	InstancePrefix string
	// ManagementCode gates the /management/* and /raft-* administrative
	// endpoints; requests must present it via x-registry-management-code.
	ManagementCode string
	// BindAddr is the address the Raft transport listens on.
	BindAddr string
	// AdvertiseAddr is the address peers use to reach this node's Raft
	// transport; defaults to BindAddr when unset.
	AdvertiseAddr string

	HeartbeatTimeout  time.Duration
	ElectionTimeout   time.Duration
	SnapshotInterval  time.Duration
	SnapshotThreshold uint64
}

// HTTPConfig holds the registry API listener settings.
type HTTPConfig struct {
	Addr string
}

// SinkConfig holds the optional write-through sink settings.
type SinkConfig struct {
	// Path is the badger data directory for the write-through sink. Empty
	// disables the sink entirely.
	Path string
}

// LoadFromEnv loads configuration from environment variables. All values
// have sensible defaults, so LoadFromEnv() can be called without any
// environment variables set (suitable for local single-node bootstrap).
func LoadFromEnv() *Config {
	cfg := &Config{}

	cfg.Raft.JournalPath = getEnv("RAFT_JOURNAL_PATH", "./data/raft/journal")
	cfg.Raft.SnapshotPath = getEnv("RAFT_SNAPSHOT_PATH", "./data/raft/snapshots")
	cfg.Raft.InstancePrefix = getEnv("RAFT_INSTANCE_PREFIX", "registry")
	cfg.Raft.ManagementCode = getEnv("RAFT_MANAGEMENT_CODE", "")
	cfg.Raft.BindAddr = getEnv("RAFT_BIND_ADDR", "127.0.0.1:7300")
	cfg.Raft.AdvertiseAddr = getEnv("RAFT_ADVERTISE_ADDR", cfg.Raft.BindAddr)
	cfg.Raft.HeartbeatTimeout = getEnvDuration("RAFT_HEARTBEAT_TIMEOUT", 1*time.Second)
	cfg.Raft.ElectionTimeout = getEnvDuration("RAFT_ELECTION_TIMEOUT", 1*time.Second)
	cfg.Raft.SnapshotInterval = getEnvDuration("RAFT_SNAPSHOT_INTERVAL", 2*time.Minute)
	cfg.Raft.SnapshotThreshold = uint64(getEnvInt("RAFT_SNAPSHOT_THRESHOLD", 8192))

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", "127.0.0.1:7400")

	cfg.Sink.Path = getEnv("REGISTRY_SINK_PATH", "")

	return cfg
}

// Validate returns nil if the configuration is usable, or an error
// describing the first problem found.
func (c *Config) Validate() error {
	if c.Raft.JournalPath == "" {
		return fmt.Errorf("RAFT_JOURNAL_PATH must not be empty")
	}
	if c.Raft.SnapshotPath == "" {
		return fmt.Errorf("RAFT_SNAPSHOT_PATH must not be empty")
	}
	if c.Raft.InstancePrefix == "" {
		return fmt.Errorf("RAFT_INSTANCE_PREFIX must not be empty")
	}
	if c.Raft.ManagementCode == "" {
		return fmt.Errorf("RAFT_MANAGEMENT_CODE must be set: management and raft-internal endpoints would otherwise be unauthenticated")
	}
	if c.Raft.BindAddr == "" {
		return fmt.Errorf("RAFT_BIND_ADDR must not be empty")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("HTTP_ADDR must not be empty")
	}
	if c.Raft.SnapshotThreshold == 0 {
		return fmt.Errorf("RAFT_SNAPSHOT_THRESHOLD must be positive")
	}
	return nil
}

// String returns a safe, loggable representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Raft: %s@%s, HTTP: %s, Sink: %q}",
		c.Raft.InstancePrefix, c.Raft.BindAddr, c.HTTP.Addr, c.Sink.Path,
	)
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
