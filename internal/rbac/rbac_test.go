package rbac_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/registry/internal/rbac"
)

func TestGrantCheckRevoke_ScenarioSix(t *testing.T) {
	s := rbac.New()
	now := time.Unix(1000, 0)

	require.NoError(t, s.Grant("P", "u", rbac.PermRead, "admin", "onboarding", now))

	assert.True(t, s.Check("u", "P.A.f1", rbac.PermRead))
	assert.False(t, s.Check("u", "P.A.f1", rbac.PermWrite))

	require.NoError(t, s.Revoke("P", "u", "admin", "offboarding", now.Add(time.Minute)))
	assert.False(t, s.Check("u", "P.A.f1", rbac.PermRead))

	audit := s.ListAudit("P")
	require.Len(t, audit, 2)
	assert.Equal(t, rbac.AuditGrant, audit[0].Action)
	assert.Equal(t, rbac.AuditRevoke, audit[1].Action)
}

func TestEffective_AncestorScopeWins(t *testing.T) {
	s := rbac.New()
	now := time.Unix(0, 0)
	require.NoError(t, s.Grant("P", "u", rbac.PermWrite, "admin", "", now))
	require.NoError(t, s.Grant("P.A", "u", rbac.PermRead, "admin", "", now))

	eff, ok := s.Effective("u", "P.A.f1")
	require.True(t, ok)
	assert.Equal(t, rbac.PermWrite, eff)
	assert.Equal(t, []string{"read", "write"}, eff.AccessList())
	assert.Equal(t, "producer", eff.RoleName())
}

func TestRevoke_NoActiveGrant(t *testing.T) {
	s := rbac.New()
	err := s.Revoke("P", "u", "admin", "", time.Unix(0, 0))
	assert.Error(t, err)
}
