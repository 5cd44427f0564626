package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// LookupFunc returns the value of an environment variable and whether it
// was set.
type LookupFunc func(key string) (string, bool)

// Load reads configuration from the process environment, applies defaults
// and validates the result.
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom reads configuration through lookup. Every unparsable variable is
// reported, not just the first.
func LoadFrom(lookup LookupFunc) (*Config, error) {
	cfg := &Config{}

	l := loader{lookup: lookup}
	l.walk(reflect.ValueOf(cfg).Elem())
	if err := errors.Join(l.errs...); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loader fills tagged fields and collects their errors.
type loader struct {
	lookup LookupFunc
	errs   []error
}

// value returns the first non-empty of env, envAlt and default.
func (l *loader) value(tag reflect.StructTag) (string, error) {
	for _, name := range []string{tag.Get("env"), tag.Get("envAlt")} {
		if name == "" {
			continue
		}
		if v, ok := l.lookup(name); ok && v != "" {
			return v, nil
		}
	}
	if tag.Get("required") == "true" {
		return "", fmt.Errorf("required environment variable %s is not set", tag.Get("env"))
	}
	return tag.Get("default"), nil
}

// walk populates v's exported fields, descending into nested sections.
func (l *loader) walk(v reflect.Value) {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fv := v.Field(i)
		if !fv.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct {
			l.walk(fv)
			continue
		}

		name := field.Tag.Get("env")
		if name == "" {
			continue
		}

		raw, err := l.value(field.Tag)
		if err != nil {
			l.errs = append(l.errs, err)
			continue
		}
		if raw == "" {
			continue
		}

		if err := parseInto(fv, raw); err != nil {
			l.errs = append(l.errs, fmt.Errorf("invalid value for %s=%q: %w", name, raw, err))
		}
	}
}

var durationType = reflect.TypeOf(time.Duration(0))

// parseInto converts raw to the field's type. Slices of strings are
// comma-separated with blanks dropped.
func parseInto(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)

	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(n)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid number: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		var items []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
		field.Set(reflect.ValueOf(items))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	if c.Database.Enabled() {
		if c.Database.MaxConns < c.Database.MinConns {
			errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
				c.Database.MaxConns, c.Database.MinConns))
		}
		if c.Database.MaxConns <= 0 {
			errs = append(errs, "DB_MAX_CONNS must be positive")
		}
		if c.Database.MinConns < 0 {
			errs = append(errs, "DB_MIN_CONNS must be non-negative")
		}
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Country validation
	if strings.TrimSpace(c.Country.RulesDir) == "" {
		errs = append(errs, "COUNTRY_RULES_DIR must not be empty")
	}
	if strings.TrimSpace(c.Country.DefaultSlug) == "" {
		errs = append(errs, "DEFAULT_COUNTRY must not be empty")
	}

	// Oracle validation
	validProviders := map[string]bool{"gemini": true, "openai": true, "anthropic": true, "rules": true}
	if !validProviders[strings.ToLower(c.Oracle.Provider)] {
		errs = append(errs, fmt.Sprintf("ORACLE_PROVIDER (%q) must be one of: gemini, openai, anthropic, rules", c.Oracle.Provider))
	}
	if c.Oracle.Timeout <= 0 {
		errs = append(errs, "ORACLE_TIMEOUT must be positive")
	}
	if c.Oracle.Temperature < 0 || c.Oracle.Temperature > 2 {
		errs = append(errs, fmt.Sprintf("ORACLE_TEMPERATURE (%g) must be 0-2", c.Oracle.Temperature))
	}

	// Batch validation
	if c.Batch.Workers <= 0 {
		errs = append(errs, "BATCH_WORKERS must be positive")
	}
	if c.Batch.RowTimeout <= 0 {
		errs = append(errs, "BATCH_ROW_TIMEOUT must be positive")
	}
	if c.Batch.RowTimeout > 0 && c.Oracle.Timeout > c.Batch.RowTimeout {
		errs = append(errs, fmt.Sprintf("ORACLE_TIMEOUT (%s) must not exceed BATCH_ROW_TIMEOUT (%s)",
			c.Oracle.Timeout, c.Batch.RowTimeout))
	}
	if c.Batch.MaxConcurrentJobs <= 0 {
		errs = append(errs, "BATCH_MAX_CONCURRENT_JOBS must be positive")
	}
	if c.Batch.MaxWait <= 0 {
		errs = append(errs, "BATCH_MAX_WAIT must be positive")
	}
	if c.Batch.MaxRows <= 0 {
		errs = append(errs, "BATCH_MAX_ROWS must be positive")
	}
	if c.Batch.MaxUploadBytes <= 0 {
		errs = append(errs, "BATCH_MAX_UPLOAD_BYTES must be positive")
	}

	// Confirmation validation
	if c.Confirmation.Enabled() {
		if c.Confirmation.PollInterval <= 0 {
			errs = append(errs, "AGENT_POLL_INTERVAL must be positive")
		}
		if c.Confirmation.RatePerSecond < 0 {
			errs = append(errs, "AGENT_RATE_PER_SECOND must be non-negative")
		}
	}

	// Rate limit validation
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
	if c.Rate.Enabled && c.Rate.BatchLimit <= 0 {
		errs = append(errs, "RATE_LIMIT_BATCH must be positive when rate limiting is enabled")
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Secrets such as the database URL and API keys are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port))
	b.WriteString(fmt.Sprintf("Database: {URL: %s, MaxConns: %d, MinConns: %d}, ",
		mask(c.Database.URL), c.Database.MaxConns, c.Database.MinConns))
	b.WriteString(fmt.Sprintf("Country: {RulesDir: %q, Default: %q}, ", c.Country.RulesDir, c.Country.DefaultSlug))
	b.WriteString(fmt.Sprintf("Oracle: {Provider: %q, Model: %q, APIKey: %s, Timeout: %s}, ",
		c.Oracle.Provider, c.Oracle.Model, mask(c.Oracle.APIKey), c.Oracle.Timeout))
	b.WriteString(fmt.Sprintf("Batch: {Workers: %d, RowTimeout: %s, MaxConcurrentJobs: %d, MaxRows: %d}, ",
		c.Batch.Workers, c.Batch.RowTimeout, c.Batch.MaxConcurrentJobs, c.Batch.MaxRows))
	b.WriteString(fmt.Sprintf("Confirmation: {AgentURL: %q, APIKey: %s, PollInterval: %s}, ",
		c.Confirmation.AgentURL, mask(c.Confirmation.APIKey), c.Confirmation.PollInterval))
	b.WriteString(fmt.Sprintf("Rate: {Enabled: %v, RequestsPerMinute: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}

func mask(secret string) string {
	if secret == "" {
		return "[UNSET]"
	}
	return "[MASKED]"
}
