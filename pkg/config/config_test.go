package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/chatops/pkg/authz"
	"github.com/Mindburn-Labs/chatops/pkg/config"
)

var allKeys = []string{
	"CHATOPS_ENV", "PORT", "LOG_LEVEL", "LOG_FORMAT",
	"PERSISTENCE_ADAPTER", "SQLITE_PATH", "DATABASE_URL", "DYNAMODB_STATE_TABLE",
	"DYNAMODB_CONVERSATION_TABLE", "AWS_REGION", "DYNAMODB_ENDPOINT",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "STATE_DEFAULT_TTL", "CONVERSATION_TTL_HOURS",
	"CLEANUP_INTERVAL", "CHECK_MODE", "CHECK_LINT_CMD", "CHECK_TEST_CMD", "CHECK_BUILD_CMD",
	"CHECK_TIMEOUT", "VCS_API_URL", "VCS_TOKENS", "GITHUB_TOKEN", "VCS_OWNER", "VCS_REPO",
	"VCS_RPS", "VCS_MAX_RETRIES", "VCS_BASE_DELAY", "VCS_MAX_DELAY", "VCS_EXPONENTIAL_BASE",
	"VCS_JITTER", "RBAC_ENABLED", "RBAC_ADMIN_ROLE_IDS", "RBAC_MATRIX_PATH",
	"FOLLOWUP_BASE_URL", "APPLICATION_ID", "ARTIFACT_STORE", "ARTIFACT_DIR", "ARTIFACT_PREFIX",
	"ARTIFACT_S3_BUCKET", "ARTIFACT_S3_REGION", "ARTIFACT_S3_ENDPOINT", "ARTIFACT_GCS_BUCKET", "OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_INSECURE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

// The process boots with safe defaults; development must be asked for.
func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := config.Load()

	assert.Equal(t, config.EnvProduction, cfg.Environment)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, config.AdapterAuto, cfg.Persistence.Adapter)
	assert.Equal(t, 168*time.Hour, cfg.Persistence.ConversationTTL)
	assert.Equal(t, 15*time.Minute, cfg.Persistence.StateDefaultTTL)
	assert.Equal(t, 5, cfg.VCS.MaxRetries)
	assert.Equal(t, time.Second, cfg.VCS.BaseDelay)
	assert.Equal(t, time.Minute, cfg.VCS.MaxDelay)
	assert.Equal(t, 2.0, cfg.VCS.ExponentialBase)
	assert.True(t, cfg.VCS.Jitter)
	assert.Empty(t, cfg.VCS.Tokens)
	assert.True(t, cfg.RBAC.Enabled)
	assert.Equal(t, config.CheckModeAuto, cfg.Checks.Mode)
	assert.Zero(t, cfg.CleanupInterval)
	assert.False(t, cfg.Observability.Enabled)
	assert.Equal(t, config.ArtifactsNone, cfg.Artifacts.Backend)
	require.NoError(t, cfg.Validate())
}

func TestLoad_UnsetEnvironmentDoesNotBypassAuthorization(t *testing.T) {
	clearEnv(t)

	cfg := config.Load()
	e := authz.NewEngine(authz.DefaultMatrix())

	d := e.Authorize("ship", "random-user", []string{"nobody"}, cfg.Environment)
	assert.False(t, d.Allowed)
	assert.Equal(t, authz.ReasonDenied, d.Reason)

	t.Setenv("CHATOPS_ENV", config.EnvDevelopment)
	cfg = config.Load()
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, authz.ReasonEnvBypass, e.Authorize("ship", "random-user", nil, cfg.Environment).Reason)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHATOPS_ENV", "production")
	t.Setenv("PERSISTENCE_ADAPTER", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/state.db")
	t.Setenv("VCS_TOKENS", "t1, t2,,t3")
	t.Setenv("GITHUB_TOKEN", "ignored")
	t.Setenv("VCS_MAX_RETRIES", "3")
	t.Setenv("VCS_BASE_DELAY", "250ms")
	t.Setenv("VCS_MAX_DELAY", "30")
	t.Setenv("VCS_EXPONENTIAL_BASE", "1.5")
	t.Setenv("VCS_JITTER", "false")
	t.Setenv("RBAC_ADMIN_ROLE_IDS", "100,200")
	t.Setenv("RBAC_ENABLED", "false")
	t.Setenv("CONVERSATION_TTL_HOURS", "24")
	t.Setenv("CHECK_MODE", "REAL")
	t.Setenv("CLEANUP_INTERVAL", "10m")

	cfg := config.Load()

	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, config.AdapterSQLite, cfg.Persistence.Adapter)
	assert.Equal(t, "/tmp/state.db", cfg.Persistence.SQLitePath)
	assert.Equal(t, []string{"t1", "t2", "t3"}, cfg.VCS.Tokens)
	assert.Equal(t, 3, cfg.VCS.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.VCS.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.VCS.MaxDelay)
	assert.Equal(t, 1.5, cfg.VCS.ExponentialBase)
	assert.False(t, cfg.VCS.Jitter)
	assert.Equal(t, []string{"100", "200"}, cfg.RBAC.AdminRoleIDs)
	assert.False(t, cfg.RBAC.Enabled)
	assert.Equal(t, 24*time.Hour, cfg.Persistence.ConversationTTL)
	assert.Equal(t, config.CheckModeReal, cfg.Checks.Mode)
	assert.Equal(t, 10*time.Minute, cfg.CleanupInterval)
	require.NoError(t, cfg.Validate())
}

func TestLoad_GitHubTokenFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("GITHUB_TOKEN", "ghp_single")

	assert.Equal(t, []string{"ghp_single"}, config.Load().VCS.Tokens)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"adapter", "PERSISTENCE_ADAPTER", "mongodb"},
		{"check mode", "CHECK_MODE", "sometimes"},
		{"retries", "VCS_MAX_RETRIES", "0"},
		{"exp base", "VCS_EXPONENTIAL_BASE", "0.5"},
		{"log format", "LOG_FORMAT", "xml"},
		{"conversation ttl", "CONVERSATION_TTL_HOURS", "0"},
		{"artifact backend", "ARTIFACT_STORE", "ftp"},
		{"s3 without bucket", "ARTIFACT_STORE", "s3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)
			assert.Error(t, config.Load().Validate())
		})
	}
}
