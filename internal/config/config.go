// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"

	"github.com/JonMunkholm/simsync/internal/ingest"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

// Embedding providers.
const (
	ProviderNone   = "none"
	ProviderOpenAI = "openai"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Redis     RedisConfig
	Ingest    IngestConfig
	Embedding EmbeddingConfig
	Rate      RateLimitConfig
	Security  SecurityConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"2m"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 2m)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"2m"`
}

// StoreConfig selects and configures persistence.
type StoreConfig struct {
	// Driver is memory, postgres or badger (default: badger)
	Driver string `env:"STORE_DRIVER" default:"badger"`

	// DatabaseURL is the PostgreSQL connection string, required for the
	// postgres driver. DB_URL is accepted for compatibility.
	DatabaseURL     string        `env:"DATABASE_URL" envAlt:"DB_URL"`
	MaxConns        int           `env:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// BadgerPath is the data directory for the badger driver.
	BadgerPath       string        `env:"BADGER_PATH" default:"./data/simsync"`
	BadgerSyncWrites bool          `env:"BADGER_SYNC_WRITES" default:"true"`
	BadgerGCInterval time.Duration `env:"BADGER_GC_INTERVAL" default:"5m"`
}

// RedisConfig enables the shared commit lock. Leave Addr empty to use the
// in-process lock.
type RedisConfig struct {
	Addr     string        `env:"REDIS_ADDR"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB" default:"0"`
	LockKey  string        `env:"REDIS_LOCK_KEY" default:"simsync:commit"`
	LockTTL  time.Duration `env:"REDIS_LOCK_TTL" default:"1m"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// IngestConfig holds upload limits, the preview lifecycle and matching
// thresholds.
type IngestConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 100MB)
	MaxFileSize int64 `env:"INGEST_MAX_FILE_SIZE" envAlt:"UPLOAD_MAX_FILE_SIZE" default:"104857600"`

	// Timeout bounds planning one upload (default: 10m)
	Timeout time.Duration `env:"INGEST_TIMEOUT" default:"10m"`

	// CommitWait is how long a confirm waits for the commit lock (default: 30s)
	CommitWait time.Duration `env:"INGEST_COMMIT_WAIT" default:"30s"`

	// PlanTTL is how long a preview stays confirmable (default: 30m)
	PlanTTL       time.Duration `env:"INGEST_PLAN_TTL" default:"30m"`
	SweepInterval time.Duration `env:"INGEST_SWEEP_INTERVAL" default:"1m"`

	// CatalogPath points at a YAML field catalog. Empty uses the built-in one.
	CatalogPath string `env:"CATALOG_PATH"`

	HighThreshold float64       `env:"MATCH_HIGH_THRESHOLD" default:"90"`
	Margin        float64       `env:"MATCH_MARGIN" default:"5"`
	Floor         float64       `env:"MATCH_FLOOR" default:"50"`
	KeyWeight     float64       `env:"MATCH_KEY_WEIGHT" default:"0.3"`
	RecentWindow  time.Duration `env:"MATCH_RECENT_WINDOW" default:"2160h"`

	EmbeddingConsultBelow float64 `env:"MATCH_EMBEDDING_CONSULT_BELOW" default:"0.6"`
	EmbeddingWeight       float64 `env:"MATCH_EMBEDDING_WEIGHT" default:"1"`
	EmbeddingMayOverride  bool    `env:"MATCH_EMBEDDING_MAY_OVERRIDE" default:"true"`
}

// EmbeddingConfig configures the optional header embedding provider.
type EmbeddingConfig struct {
	// Provider is none or openai (default: none)
	Provider          string        `env:"EMBEDDING_PROVIDER" default:"none"`
	APIKey            string        `env:"OPENAI_API_KEY"`
	Model             string        `env:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	BaseURL           string        `env:"EMBEDDING_BASE_URL"`
	RequestsPerMinute int           `env:"EMBEDDING_REQUESTS_PER_MINUTE" default:"0"`
	CacheSize         int           `env:"EMBEDDING_CACHE_SIZE" default:"4096"`
	Timeout           time.Duration `env:"EMBEDDING_TIMEOUT" default:"20s"`
}

// Enabled reports whether an embedding provider is configured.
func (e EmbeddingConfig) Enabled() bool { return e.Provider != "" && e.Provider != ProviderNone }

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for ingest endpoints (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey rejects API requests without a valid X-API-Key header.
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of name:key pairs. The name is
	// recorded as the actor of changes made with that key.
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// PlannerOptions turns the matching settings into planner options.
func (c *IngestConfig) PlannerOptions() ingest.PlannerOptions {
	opts := ingest.DefaultPlannerOptions()

	opts.Resolve.HighThreshold = c.HighThreshold
	opts.Resolve.Margin = c.Margin
	opts.Resolve.Floor = c.Floor
	opts.Resolve.KeyWeight = c.KeyWeight
	opts.Resolve.RecentWindow = c.RecentWindow

	opts.Matcher.EmbeddingConsultBelow = c.EmbeddingConsultBelow
	opts.Matcher.EmbeddingWeight = c.EmbeddingWeight
	opts.Matcher.EmbeddingMayOverride = c.EmbeddingMayOverride
	return opts
}
