package authz_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Mindburn-Labs/chatops/pkg/authz"
)

func deployMatrix(bypass string) *authz.Matrix {
	return authz.NewMatrix(map[string]authz.Entry{
		"/deploy": {RequiresAuth: true, AllowedRoleIDs: []string{"R1"}, AllowedUserIDs: []string{"u-ops"}, BypassOnEnv: bypass},
		"help":    {RequiresAuth: false},
	})
}

func TestAuthorize_DecisionOrder(t *testing.T) {
	matrix := deployMatrix("development")

	tests := []struct {
		name    string
		engine  *authz.Engine
		command string
		user    string
		roles   []string
		env     string
		allowed bool
		reason  authz.Reason
	}{
		{"rbac disabled", authz.NewEngine(matrix, authz.WithEnabled(false)), "deploy", "u1", nil, "production", true, authz.ReasonDisabled},
		{"public command", authz.NewEngine(matrix), "help", "", nil, "production", true, authz.ReasonPublic},
		{"env bypass", authz.NewEngine(matrix), "deploy", "u1", []string{"R2"}, "development", true, authz.ReasonEnvBypass},
		{"admin role", authz.NewEngine(matrix, authz.WithAdminRoles("ADMIN")), "deploy", "u1", []string{"ADMIN"}, "production", true, authz.ReasonAdminRole},
		{"allowed user", authz.NewEngine(matrix), "deploy", "u-ops", nil, "production", true, authz.ReasonAllowedUser},
		{"allowed role", authz.NewEngine(matrix), "/deploy", "u1", []string{"R2", "R1"}, "production", true, authz.ReasonAllowedRole},
		{"role mismatch denied", authz.NewEngine(matrix), "/deploy", "u1", []string{"R2"}, "production", false, authz.ReasonDenied},
		{"no roles deny", authz.NewEngine(matrix), "deploy", "u1", nil, "staging", false, authz.ReasonDenied},
		{"missing entry fails closed", authz.NewEngine(matrix), "rollback", "u-ops", []string{"R1"}, "development", false, authz.ReasonUnknownEntry},
		{"missing entry admin", authz.NewEngine(matrix, authz.WithAdminRoles("ADMIN")), "rollback", "u1", []string{"ADMIN"}, "production", true, authz.ReasonAdminRole},
		{"nil matrix fails closed", authz.NewEngine(nil), "help", "u1", nil, "production", false, authz.ReasonUnknownEntry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.engine.Authorize(tt.command, tt.user, tt.roles, tt.env)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestAuthorize_BypassWithEmptyLists(t *testing.T) {
	matrix := authz.NewMatrix(map[string]authz.Entry{
		"deploy": {RequiresAuth: true, BypassOnEnv: "development"},
	})
	e := authz.NewEngine(matrix)

	assert.True(t, e.Authorize("deploy", "anyone", nil, "development").Allowed)
	assert.False(t, e.Authorize("deploy", "anyone", nil, "production").Allowed)
}

func TestAuthorize_EmptyBypassNeverMatchesEmptyEnv(t *testing.T) {
	e := authz.NewEngine(deployMatrix(""))
	assert.False(t, e.Authorize("deploy", "u1", nil, "").Allowed)
}

func TestAuthorize_IsPure(t *testing.T) {
	roles := []string{"R2"}
	e := authz.NewEngine(deployMatrix(""), authz.WithAdminRoles("ADMIN"))

	first := e.Authorize("deploy", "u1", roles, "production")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, e.Authorize("deploy", "u1", roles, "production"))
	}
	assert.Equal(t, []string{"R2"}, roles)
}

func TestMatrix_LookupDefaultsFailClosed(t *testing.T) {
	m := deployMatrix("development")

	e, ok := m.Lookup("/DEPLOY")
	assert.True(t, ok)
	assert.Equal(t, []string{"R1"}, e.AllowedRoleIDs)
	assert.Equal(t, "development", e.BypassOnEnv)

	e, ok = m.Lookup("unknown")
	assert.False(t, ok)
	assert.True(t, e.RequiresAuth)
	assert.Empty(t, e.AllowedRoleIDs)
	assert.Empty(t, e.AllowedUserIDs)

	// Lookup hands out copies.
	e, _ = m.Lookup("deploy")
	e.AllowedRoleIDs[0] = "mutated"
	again, _ := m.Lookup("deploy")
	assert.Equal(t, "R1", again.AllowedRoleIDs[0])
}

func TestDeniedMessageDoesNotLeakRoles(t *testing.T) {
	assert.NotContains(t, authz.DeniedMessage, "R1")
	assert.NotContains(t, authz.DeniedMessage, "role id")
}

func TestDefaultMatrix(t *testing.T) {
	e := authz.NewEngine(authz.DefaultMatrix())

	assert.True(t, e.Authorize("help", "u1", nil, "production").Allowed)
	assert.True(t, e.Authorize("conversations", "u1", nil, "production").Allowed)
	assert.True(t, e.Authorize("ship", "u1", nil, "development").Allowed)
	assert.Equal(t, authz.ReasonDenied, e.Authorize("ship", "u1", nil, "production").Reason)
	assert.Equal(t, authz.ReasonDenied, e.Authorize("comment", "u1", nil, "development").Reason)
	assert.Equal(t, authz.ReasonUnknownEntry, e.Authorize("rollback", "u1", nil, "development").Reason)
}
