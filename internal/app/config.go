package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Version is set at build time via -ldflags.
var Version = "dev"

const (
	AuditBackendSQLite   = "sqlite"
	AuditBackendPostgres = "postgres"
)

type Config struct {
	ListenAddr string
	LogLevel   string

	// ConfigPath is the routing YAML. A missing file falls back to the
	// built-in defaults.
	ConfigPath string

	// DBDSN is the SQLite database holding the vault blob and, with the
	// sqlite backend, the audit log.
	DBDSN        string
	AuditBackend string
	PostgresDSN  string

	// VaultPassword unlocks the credential vault at startup when set.
	VaultPassword string

	// Security & hardening.
	AdminToken  string   // required for /admin/v1 access in production
	DataDir     string   // where the generated admin token is persisted
	CORSOrigins []string // allowed CORS origins; empty = ["*"]

	ProviderTimeoutSecs int

	// OpenTelemetry tracing.
	OTelEnabled     bool
	OTelEndpoint    string
	OTelSampleRatio float64

	// Temporal workflow engine.
	TemporalEnabled   bool
	TemporalHostPort  string
	TemporalNamespace string
	TemporalTaskQueue string
}

// LoadConfig reads ROUTEHUB_* settings from the environment. A .env file in
// the working directory pre-populates variables that are not already set.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		ListenAddr: getEnv("ROUTEHUB_LISTEN_ADDR", ":8090"),
		LogLevel:   getEnv("ROUTEHUB_LOG_LEVEL", "info"),
		ConfigPath: getEnv("ROUTEHUB_CONFIG", "routehub.yaml"),

		DBDSN:        getEnv("ROUTEHUB_DB_DSN", "file:/data/routehub.sqlite"),
		AuditBackend: strings.ToLower(getEnv("ROUTEHUB_AUDIT_BACKEND", AuditBackendSQLite)),
		PostgresDSN:  getEnv("ROUTEHUB_POSTGRES_DSN", ""),

		VaultPassword: getEnv("ROUTEHUB_VAULT_PASSWORD", ""),

		AdminToken:  getEnv("ROUTEHUB_ADMIN_TOKEN", ""),
		DataDir:     getEnv("ROUTEHUB_DATA_DIR", "/data"),
		CORSOrigins: getEnvStringSlice("ROUTEHUB_CORS_ORIGINS", nil),

		ProviderTimeoutSecs: getEnvInt("ROUTEHUB_PROVIDER_TIMEOUT_SECS", 60),

		OTelEnabled:     getEnvBool("ROUTEHUB_OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("ROUTEHUB_OTEL_ENDPOINT", "localhost:4318"),
		OTelSampleRatio: getEnvFloat("ROUTEHUB_OTEL_SAMPLE_RATIO", 1),

		TemporalEnabled:   getEnvBool("ROUTEHUB_TEMPORAL_ENABLED", false),
		TemporalHostPort:  getEnv("ROUTEHUB_TEMPORAL_HOST", "localhost:7233"),
		TemporalNamespace: getEnv("ROUTEHUB_TEMPORAL_NAMESPACE", "routehub"),
		TemporalTaskQueue: getEnv("ROUTEHUB_TEMPORAL_TASK_QUEUE", "routehub-audit"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("ROUTEHUB_LISTEN_ADDR must not be empty")
	}
	switch c.AuditBackend {
	case AuditBackendSQLite:
	case AuditBackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("ROUTEHUB_POSTGRES_DSN is required when ROUTEHUB_AUDIT_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("ROUTEHUB_AUDIT_BACKEND must be %q or %q, got %q", AuditBackendSQLite, AuditBackendPostgres, c.AuditBackend)
	}
	if c.ProviderTimeoutSecs <= 0 {
		return fmt.Errorf("ROUTEHUB_PROVIDER_TIMEOUT_SECS must be > 0, got %d", c.ProviderTimeoutSecs)
	}
	if c.OTelSampleRatio < 0 || c.OTelSampleRatio > 1 {
		return fmt.Errorf("ROUTEHUB_OTEL_SAMPLE_RATIO must be within [0, 1], got %g", c.OTelSampleRatio)
	}
	if c.TemporalEnabled && c.TemporalTaskQueue == "" {
		return fmt.Errorf("ROUTEHUB_TEMPORAL_TASK_QUEUE must not be empty when Temporal is enabled")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}
