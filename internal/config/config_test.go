package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/registry/internal/config"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg := config.LoadFromEnv()
	assert.Equal(t, "./data/raft/journal", cfg.Raft.JournalPath)
	assert.Equal(t, "127.0.0.1:7400", cfg.HTTP.Addr)
}

func TestValidate_RequiresManagementCode(t *testing.T) {
	cfg := config.LoadFromEnv()
	assert.Error(t, cfg.Validate())

	cfg.Raft.ManagementCode = "secret"
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv_OverridesFromEnvironment(t *testing.T) {
	t.Setenv("RAFT_MANAGEMENT_CODE", "s3cr3t")
	t.Setenv("HTTP_ADDR", "0.0.0.0:9000")

	cfg := config.LoadFromEnv()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "s3cr3t", cfg.Raft.ManagementCode)
	assert.Equal(t, "0.0.0.0:9000", cfg.HTTP.Addr)

	os.Unsetenv("RAFT_MANAGEMENT_CODE")
	os.Unsetenv("HTTP_ADDR")
}
