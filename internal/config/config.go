// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.breeze/config.yaml or ./config.yaml)
//  3. Default values
//
// Error handling uses sentinel errors so callers can check categories with
// errors.Is() and wrap with fmt.Errorf("%w: details", ErrXxx).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidListenAddr indicates the HTTP listen address is invalid.
	ErrInvalidListenAddr = errors.New("invalid listen address")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidWindowSize indicates the context window size is out of range.
	ErrInvalidWindowSize = errors.New("invalid context window size")

	// ErrInvalidRunTimeout indicates the run timeout is out of range.
	ErrInvalidRunTimeout = errors.New("invalid run timeout")

	// ErrInvalidToolTimeout indicates the tool timeout is out of range.
	ErrInvalidToolTimeout = errors.New("invalid tool timeout")

	// ErrInvalidToolCallLimit indicates the per-run tool call limit is out of range.
	ErrInvalidToolCallLimit = errors.New("invalid tool call limit")
)

// Orchestrator bounds. The window size cap keeps a single prompt from
// dragging in unbounded history; the tool call cap breaks planner loops.
const (
	DefaultWindowSize   = 10
	MaxWindowSize       = 100
	DefaultToolCalls    = 6
	MaxToolCalls        = 20
	DefaultRunTimeout   = 90 * time.Second
	DefaultToolTimeout  = 10 * time.Second
	DefaultStreamEvents = 200
	DefaultStreamTTL    = 2 * time.Minute
)

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON.
type Config struct {
	// HTTP server
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // trust X-Real-IP/X-Forwarded-For (set behind reverse proxy)
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`

	// Storage (see storage.go for DSN helpers)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Orchestrator knobs
	WindowSize   int           `mapstructure:"window_size" json:"window_size"`
	MaxToolCalls int           `mapstructure:"max_tool_calls" json:"max_tool_calls"`
	RunTimeout   time.Duration `mapstructure:"run_timeout" json:"run_timeout"`
	ToolTimeout  time.Duration `mapstructure:"tool_timeout" json:"tool_timeout"`
	StreamEvents int           `mapstructure:"stream_events" json:"stream_events"`
	StreamTTL    time.Duration `mapstructure:"stream_ttl" json:"stream_ttl"`

	// Weather tool
	WeatherBaseURL string `mapstructure:"weather_base_url" json:"weather_base_url"`
	GeocodeBaseURL string `mapstructure:"geocode_base_url" json:"geocode_base_url"`
	MockWeather    bool   `mapstructure:"mock_weather" json:"mock_weather"`

	// Planner. With an empty OpenAIAPIKey the deterministic weather planner
	// is used; with a key set, reasoning goes through the OpenAI API.
	OpenAIAPIKey string `mapstructure:"openai_api_key" json:"openai_api_key"` // SENSITIVE: masked in MarshalJSON
	OpenAIModel  string `mapstructure:"openai_model" json:"openai_model"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".breeze")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides the individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", "localhost:8080")
	v.SetDefault("cors_origins", []string{"http://localhost:5173"})
	v.SetDefault("trust_proxy", false)
	v.SetDefault("rate_burst", 0)

	// PostgreSQL defaults (matching compose.yaml)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "breeze")
	v.SetDefault("postgres_password", "breeze_dev_password")
	v.SetDefault("postgres_db_name", "breeze")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("window_size", DefaultWindowSize)
	v.SetDefault("max_tool_calls", DefaultToolCalls)
	v.SetDefault("run_timeout", DefaultRunTimeout)
	v.SetDefault("tool_timeout", DefaultToolTimeout)
	v.SetDefault("stream_events", DefaultStreamEvents)
	v.SetDefault("stream_ttl", DefaultStreamTTL)

	v.SetDefault("weather_base_url", "https://wttr.in")
	v.SetDefault("geocode_base_url", "https://geocoding-api.open-meteo.com")
	v.SetDefault("mock_weather", false)

	v.SetDefault("openai_model", "gpt-4o-mini")
}

// bindEnvVariables binds environment overrides explicitly. Hardcoded keys
// cannot fail to bind; a bind error here is a bug, hence the panic.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("listen_addr", "BREEZE_LISTEN_ADDR")
	mustBind("cors_origins", "BREEZE_CORS_ORIGINS")
	mustBind("trust_proxy", "BREEZE_TRUST_PROXY")
	mustBind("rate_burst", "BREEZE_RATE_BURST")
	mustBind("window_size", "BREEZE_WINDOW_SIZE")
	mustBind("max_tool_calls", "BREEZE_MAX_TOOL_CALLS")
	mustBind("run_timeout", "BREEZE_RUN_TIMEOUT")
	mustBind("tool_timeout", "BREEZE_TOOL_TIMEOUT")
	mustBind("stream_events", "BREEZE_STREAM_EVENTS")
	mustBind("stream_ttl", "BREEZE_STREAM_TTL")
	mustBind("mock_weather", "BREEZE_MOCK_WEATHER")
	mustBind("weather_base_url", "BREEZE_WEATHER_BASE_URL")
	mustBind("geocode_base_url", "BREEZE_GEOCODE_BASE_URL")
	mustBind("openai_api_key", "OPENAI_API_KEY")
	mustBind("openai_model", "BREEZE_OPENAI_MODEL")
}

// maskedValue is the placeholder for masked sensitive data. Full-width
// blocks avoid accidental substring matches against real secret content.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Secrets of 8 characters or
// fewer are fully masked; longer ones keep the first and last 2 characters
// for debug utility. This defends against accidental logging, nothing more.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.OpenAIAPIKey = maskSecret(a.OpenAIAPIKey)
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
