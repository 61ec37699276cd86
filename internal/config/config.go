// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.tecnvirons/config.yaml, or ./config.yaml)
//  3. Default values
//
// Sensitive values (the OpenAI API key, the PostgreSQL password) are never
// logged; MarshalJSON and String mask them explicitly.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/viper"
)

// Sentinel errors for configuration validation, checked with errors.Is().
var (
	// ErrMissingAPIKey indicates OPENAI_API_KEY is not set.
	ErrMissingAPIKey = errors.New("missing OpenAI API key")

	// ErrInvalidModelName indicates the model name is empty.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is empty.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidHistoryLimit indicates the history limit is out of range.
	ErrInvalidHistoryLimit = errors.New("invalid history limit")
)

const (
	// DefaultMaxHistoryEvents is the default number of prior events loaded
	// per turn.
	DefaultMaxHistoryEvents int32 = 200

	// MaxAllowedHistoryEvents is the absolute maximum to prevent OOM.
	MaxAllowedHistoryEvents int32 = 10000
)

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON. When adding new
// sensitive fields, update MarshalJSON as well.
type Config struct {
	// Model configuration
	OpenAIAPIKey  string `mapstructure:"openai_api_key" json:"openai_api_key"` // SENSITIVE: masked in MarshalJSON
	OpenAIBaseURL string `mapstructure:"openai_base_url" json:"openai_base_url"`
	ModelName     string `mapstructure:"model_name" json:"model_name"`
	SystemPrompt  string `mapstructure:"system_prompt" json:"system_prompt"`

	// Conversation history configuration
	MaxHistoryEvents int32 `mapstructure:"max_history_events" json:"max_history_events"`

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Server configuration
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	TrustProxy bool   `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For (behind reverse proxy)
	RateBurst  int    `mapstructure:"rate_burst" json:"rate_burst"`   // Per-IP rate limiter burst (0 = default)

	// Tracing configuration (OTLP HTTP to a local collector/agent)
	TracingEnabled bool   `mapstructure:"tracing_enabled" json:"tracing_enabled"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName    string `mapstructure:"service_name" json:"service_name"`
}

// DefaultOTLPEndpoint is the default OTLP HTTP trace endpoint.
const DefaultOTLPEndpoint = "localhost:4318"

// DefaultSystemPrompt establishes the assistant's role when no override is
// configured.
const DefaultSystemPrompt = "You are a helpful customer support agent. " +
	"You can check order statuses using the available tools."

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".tecnvirons")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use defaults
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL takes priority over individual PostgreSQL fields
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	viper.SetDefault("model_name", "gpt-4o-mini")
	viper.SetDefault("system_prompt", DefaultSystemPrompt)
	viper.SetDefault("max_history_events", DefaultMaxHistoryEvents)

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "tecnvirons")
	viper.SetDefault("postgres_password", "tecnvirons_dev_password")
	viper.SetDefault("postgres_db_name", "tecnvirons")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("listen_addr", ":8080")
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_burst", 0)

	viper.SetDefault("tracing_enabled", false)
	viper.SetDefault("otlp_endpoint", DefaultOTLPEndpoint)
	viper.SetDefault("service_name", "tecnvirons-realtime")
}

// bindEnvVariables binds environment variables explicitly.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug, not a
	// runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("openai_api_key", "OPENAI_API_KEY")
	mustBind("openai_base_url", "OPENAI_BASE_URL")
	mustBind("model_name", "TECNVIRONS_MODEL_NAME")
	mustBind("listen_addr", "TECNVIRONS_LISTEN_ADDR")
	mustBind("trust_proxy", "TECNVIRONS_TRUST_PROXY")
	mustBind("tracing_enabled", "TECNVIRONS_TRACING_ENABLED")
	mustBind("otlp_endpoint", "TECNVIRONS_OTLP_ENDPOINT")
	mustBind("service_name", "TECNVIRONS_SERVICE_NAME")

	// NOTE: DATABASE_URL is read directly in parseDatabaseURL, not via viper,
	// because it expands into several PostgreSQL fields.
}

// parseDatabaseURL overrides the PostgreSQL fields from DATABASE_URL if set.
// Accepts postgres:// and postgresql:// schemes.
func (c *Config) parseDatabaseURL() error {
	raw := os.Getenv("DATABASE_URL")
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	c.PostgresHost = u.Hostname()
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", p, err)
		}
		c.PostgresPort = port
	}
	if u.User != nil {
		c.PostgresUser = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if db := filepath.Base(u.Path); db != "." && db != "/" {
		c.PostgresDBName = db
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}

// Validate checks the configuration, fail-fast on startup.
func (c *Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("%w: set OPENAI_API_KEY", ErrMissingAPIKey)
	}
	if c.ModelName == "" {
		return ErrInvalidModelName
	}
	if c.PostgresHost == "" {
		return ErrInvalidPostgresHost
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return ErrInvalidPostgresDBName
	}
	if c.MaxHistoryEvents < 1 || c.MaxHistoryEvents > MaxAllowedHistoryEvents {
		return fmt.Errorf("%w: %d (must be 1..%d)",
			ErrInvalidHistoryLimit, c.MaxHistoryEvents, MaxAllowedHistoryEvents)
	}
	return nil
}

// PostgresURL returns the connection string in URL format, as required by
// golang-migrate and pgxpool.ParseConfig.
func (c *Config) PostgresURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:   fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:   "/" + c.PostgresDBName,
	}
	q := url.Values{}
	q.Set("sslmode", c.PostgresSSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Secrets of 8 characters
// or fewer are fully masked to prevent substring matching; longer secrets show
// the first and last 2 characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.OpenAIAPIKey = maskSecret(a.OpenAIAPIKey)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
