// Package config provides centralized configuration management for the service.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Country      CountryConfig
	Oracle       OracleConfig
	Batch        BatchConfig
	Confirmation ConfirmationConfig
	Rate         RateLimitConfig
	Security     SecurityConfig
	Logging      LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" envAlt:"PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing a response (default: 90s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"90s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// CORSOrigins lists origins allowed to call the API; "*" allows any
	CORSOrigins []string `env:"CORS_ORIGINS" default:"*"`
}

// DatabaseConfig holds database connection settings. Without a URL the
// service keeps results in memory.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// Enabled reports whether a database is configured.
func (c *DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

// CountryConfig holds the rule document settings.
type CountryConfig struct {
	// RulesDir is the directory holding <slug>.json/.yaml/.toml documents
	RulesDir string `env:"COUNTRY_RULES_DIR" default:"./countries"`

	// DefaultSlug is used when no country is given or its rules are missing
	DefaultSlug string `env:"DEFAULT_COUNTRY" default:"south-africa"`
}

// OracleConfig holds the address interpretation model settings.
type OracleConfig struct {
	// Provider is one of gemini, openai, anthropic, rules (default: gemini).
	// Without an APIKey the rules provider is used.
	Provider string `env:"ORACLE_PROVIDER" default:"gemini"`

	// Model overrides the provider's default model
	Model string `env:"ORACLE_MODEL"`

	// APIKey authenticates with the provider
	APIKey string `env:"ORACLE_API_KEY" envAlt:"GEMINI_API_KEY"`

	// BaseURL overrides the provider endpoint (openai and anthropic only)
	BaseURL string `env:"ORACLE_BASE_URL"`

	// Timeout bounds one oracle call (default: 30s)
	Timeout time.Duration `env:"ORACLE_TIMEOUT" default:"30s"`

	// Temperature is the sampling temperature (default: 0.1)
	Temperature float64 `env:"ORACLE_TEMPERATURE" default:"0.1"`

	// MaxTokens caps the response length (default: 2048)
	MaxTokens int `env:"ORACLE_MAX_TOKENS" default:"2048"`
}

// BatchConfig holds batch job settings.
type BatchConfig struct {
	// Workers is the number of rows validated in parallel per job (default: 4)
	Workers int `env:"BATCH_WORKERS" default:"4"`

	// RowTimeout bounds the validation of a single row (default: 45s)
	RowTimeout time.Duration `env:"BATCH_ROW_TIMEOUT" default:"45s"`

	// MaxConcurrentJobs is the number of jobs running at once (default: 4)
	MaxConcurrentJobs int `env:"BATCH_MAX_CONCURRENT_JOBS" default:"4"`

	// MaxWait is how long a job waits for a slot before failing (default: 1m)
	MaxWait time.Duration `env:"BATCH_MAX_WAIT" default:"1m"`

	// Retention is how long finished jobs stay queryable (default: 1h)
	Retention time.Duration `env:"BATCH_RETENTION" default:"1h"`

	// MaxRows is the largest accepted batch (default: 5000)
	MaxRows int `env:"BATCH_MAX_ROWS" default:"5000"`

	// MaxUploadBytes is the largest accepted CSV upload (default: 10MB)
	MaxUploadBytes int64 `env:"BATCH_MAX_UPLOAD_BYTES" default:"10485760"`
}

// ConfirmationConfig holds the confirmation agent settings.
type ConfirmationConfig struct {
	// AgentURL is the agent API root; empty disables triggering
	AgentURL string `env:"AGENT_URL"`

	// APIKey is sent in the api-key header
	APIKey string `env:"AGENT_API_KEY"`

	// Timeout bounds one agent request (default: 5s)
	Timeout time.Duration `env:"AGENT_TIMEOUT" default:"5s"`

	// PollInterval is how often pending confirmations are polled (default: 30s)
	PollInterval time.Duration `env:"AGENT_POLL_INTERVAL" default:"30s"`

	// RatePerSecond limits outbound agent requests (default: 2)
	RatePerSecond float64 `env:"AGENT_RATE_PER_SECOND" default:"2"`

	// Burst is the outbound burst size (default: 4)
	Burst int `env:"AGENT_BURST" default:"4"`

	// DefaultRegion parses contact numbers without a country prefix (default: ZA)
	DefaultRegion string `env:"AGENT_DEFAULT_REGION" default:"ZA"`

	// DefaultPhone is used when a result carries no valid contact number
	DefaultPhone string `env:"AGENT_DEFAULT_PHONE"`
}

// Enabled reports whether an agent is configured.
func (c *ConfirmationConfig) Enabled() bool {
	return c.AgentURL != ""
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// BatchLimit is requests per minute for batch submission (default: 10)
	BatchLimit int `env:"RATE_LIMIT_BATCH" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey enables X-API-Key checks on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
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
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
