package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Mindburn-Labs/chatops/pkg/credentials"
)

// Environments with special meaning. CHATOPS_ENV defaults to production.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Persistence adapters accepted by PERSISTENCE_ADAPTER.
const (
	AdapterAuto     = ""
	AdapterMemory   = "memory"
	AdapterSQLite   = "sqlite"
	AdapterPostgres = "postgres"
	AdapterDynamoDB = "dynamodb"
	AdapterRedis    = "redis"
)

// Check modes accepted by CHECK_MODE.
const (
	CheckModeReal = "real"
	CheckModeMock = "mock"
	CheckModeAuto = "auto"
)

// Artifact backends accepted by ARTIFACT_STORE.
const (
	ArtifactsNone = ""
	ArtifactsFS   = "fs"
	ArtifactsS3   = "s3"
	ArtifactsGCS  = "gcs"
)

// Config holds process configuration.
type Config struct {
	Environment string
	Port        string
	LogLevel    string
	LogFormat   string

	Persistence   PersistenceConfig
	VCS           VCSConfig
	RBAC          RBACConfig
	Checks        ChecksConfig
	FollowUp      FollowUpConfig
	Artifacts     ArtifactsConfig
	Observability ObservabilityConfig

	// CleanupInterval enables the periodic sweeper in serve mode. Zero disables it.
	CleanupInterval time.Duration

	// Per-IP limit on the interactions endpoint. Zero RPS disables it.
	APIRPS   float64
	APIBurst int
	// ReplayTTL is how long responses are kept for redelivered interactions.
	ReplayTTL time.Duration
}

type PersistenceConfig struct {
	Adapter           string
	SQLitePath        string
	DatabaseURL       string
	StateTable        string
	ConversationTable string
	AWSRegion         string
	DynamoEndpoint    string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	StateDefaultTTL   time.Duration
	ConversationTTL   time.Duration
}

type VCSConfig struct {
	APIURL          string
	Tokens          []string
	Owner           string
	Repo            string
	RPS             float64
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	Jitter          bool
}

type RBACConfig struct {
	Enabled      bool
	AdminRoleIDs []string
	MatrixPath   string
}

type ChecksConfig struct {
	Mode     string
	LintCmd  string
	TestCmd  string
	BuildCmd string
	Timeout  time.Duration
}

type FollowUpConfig struct {
	BaseURL       string
	ApplicationID string
}

// ArtifactsConfig selects where full health-check logs are kept.
type ArtifactsConfig struct {
	Backend    string
	Dir        string
	Prefix     string
	S3Bucket   string
	S3Region   string
	S3Endpoint string
	GCSBucket  string
}

type ObservabilityConfig struct {
	Enabled      bool
	OTLPEndpoint string
	Insecure     bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	tokens := credentials.ParseTokenList(os.Getenv("VCS_TOKENS"))
	if len(tokens) == 0 {
		tokens = credentials.ParseTokenList(os.Getenv("GITHUB_TOKEN"))
	}

	return &Config{
		Environment: envOr("CHATOPS_ENV", EnvProduction),
		Port:        envOr("PORT", "8080"),
		LogLevel:    strings.ToLower(envOr("LOG_LEVEL", "info")),
		LogFormat:   strings.ToLower(envOr("LOG_FORMAT", "json")),

		Persistence: PersistenceConfig{
			Adapter:           strings.ToLower(strings.TrimSpace(os.Getenv("PERSISTENCE_ADAPTER"))),
			SQLitePath:        os.Getenv("SQLITE_PATH"),
			DatabaseURL:       os.Getenv("DATABASE_URL"),
			StateTable:        os.Getenv("DYNAMODB_STATE_TABLE"),
			ConversationTable: os.Getenv("DYNAMODB_CONVERSATION_TABLE"),
			AWSRegion:         envOr("AWS_REGION", "us-east-1"),
			DynamoEndpoint:    os.Getenv("DYNAMODB_ENDPOINT"),
			RedisAddr:         os.Getenv("REDIS_ADDR"),
			RedisPassword:     os.Getenv("REDIS_PASSWORD"),
			RedisDB:           envInt("REDIS_DB", 0),
			StateDefaultTTL:   envDuration("STATE_DEFAULT_TTL", 15*time.Minute),
			ConversationTTL:   time.Duration(envInt("CONVERSATION_TTL_HOURS", 168)) * time.Hour,
		},

		VCS: VCSConfig{
			APIURL:          envOr("VCS_API_URL", "https://api.github.com"),
			Tokens:          tokens,
			Owner:           os.Getenv("VCS_OWNER"),
			Repo:            os.Getenv("VCS_REPO"),
			RPS:             envFloat("VCS_RPS", 0),
			MaxRetries:      envInt("VCS_MAX_RETRIES", 5),
			BaseDelay:       envDuration("VCS_BASE_DELAY", time.Second),
			MaxDelay:        envDuration("VCS_MAX_DELAY", 60*time.Second),
			ExponentialBase: envFloat("VCS_EXPONENTIAL_BASE", 2),
			Jitter:          envBool("VCS_JITTER", true),
		},

		RBAC: RBACConfig{
			Enabled:      envBool("RBAC_ENABLED", true),
			AdminRoleIDs: credentials.ParseTokenList(os.Getenv("RBAC_ADMIN_ROLE_IDS")),
			MatrixPath:   os.Getenv("RBAC_MATRIX_PATH"),
		},

		Checks: ChecksConfig{
			Mode:     strings.ToLower(envOr("CHECK_MODE", CheckModeAuto)),
			LintCmd:  os.Getenv("CHECK_LINT_CMD"),
			TestCmd:  os.Getenv("CHECK_TEST_CMD"),
			BuildCmd: os.Getenv("CHECK_BUILD_CMD"),
			Timeout:  envDuration("CHECK_TIMEOUT", 5*time.Minute),
		},

		FollowUp: FollowUpConfig{
			BaseURL:       envOr("FOLLOWUP_BASE_URL", "https://discord.com/api/v10"),
			ApplicationID: os.Getenv("APPLICATION_ID"),
		},

		Artifacts: ArtifactsConfig{
			Backend:    strings.ToLower(strings.TrimSpace(os.Getenv("ARTIFACT_STORE"))),
			Dir:        envOr("ARTIFACT_DIR", filepath.Join("data", "artifacts")),
			Prefix:     envOr("ARTIFACT_PREFIX", "checks/"),
			S3Bucket:   os.Getenv("ARTIFACT_S3_BUCKET"),
			S3Region:   envOr("ARTIFACT_S3_REGION", envOr("AWS_REGION", "us-east-1")),
			S3Endpoint: os.Getenv("ARTIFACT_S3_ENDPOINT"),
			GCSBucket:  os.Getenv("ARTIFACT_GCS_BUCKET"),
		},

		Observability: ObservabilityConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:     envBool("OTEL_INSECURE", true),
		},

		CleanupInterval: envDuration("CLEANUP_INTERVAL", 0),

		APIRPS:    envFloat("API_RPS", 20),
		APIBurst:  envInt("API_BURST", 40),
		ReplayTTL: envDuration("REPLAY_TTL", 15*time.Minute),
	}
}

// IsDevelopment reports whether the process runs in the development environment.
// Development is opt-in: an unset CHATOPS_ENV means production.
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// Validate rejects settings the process cannot run with.
func (c *Config) Validate() error {
	switch c.Persistence.Adapter {
	case AdapterAuto, AdapterMemory, AdapterSQLite, AdapterPostgres, AdapterDynamoDB, AdapterRedis:
	default:
		return fmt.Errorf("config: unknown PERSISTENCE_ADAPTER %q", c.Persistence.Adapter)
	}
	switch c.Checks.Mode {
	case CheckModeReal, CheckModeMock, CheckModeAuto:
	default:
		return fmt.Errorf("config: unknown CHECK_MODE %q", c.Checks.Mode)
	}
	if c.VCS.MaxRetries < 1 {
		return fmt.Errorf("config: VCS_MAX_RETRIES must be at least 1, got %d", c.VCS.MaxRetries)
	}
	if c.VCS.ExponentialBase < 1 {
		return fmt.Errorf("config: VCS_EXPONENTIAL_BASE must be >= 1, got %v", c.VCS.ExponentialBase)
	}
	if c.VCS.BaseDelay < 0 || c.VCS.MaxDelay < 0 {
		return fmt.Errorf("config: VCS delays must not be negative")
	}
	if c.Persistence.ConversationTTL <= 0 {
		return fmt.Errorf("config: CONVERSATION_TTL_HOURS must be positive")
	}
	switch c.Artifacts.Backend {
	case ArtifactsNone, ArtifactsFS, ArtifactsS3, ArtifactsGCS:
	default:
		return fmt.Errorf("config: unknown ARTIFACT_STORE %q", c.Artifacts.Backend)
	}
	if c.Artifacts.Backend == ArtifactsS3 && c.Artifacts.S3Bucket == "" {
		return fmt.Errorf("config: ARTIFACT_S3_BUCKET is required when ARTIFACT_STORE=s3")
	}
	if c.Artifacts.Backend == ArtifactsGCS && c.Artifacts.GCSBucket == "" {
		return fmt.Errorf("config: ARTIFACT_GCS_BUCKET is required when ARTIFACT_STORE=gcs")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown LOG_FORMAT %q", c.LogFormat)
	}
	return nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil {
		return v
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64); err == nil {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key))); err == nil {
		return v
	}
	return def
}

// envDuration accepts Go duration strings ("90s") or a bare number of seconds.
func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}
