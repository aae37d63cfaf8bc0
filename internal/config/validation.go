package config

import (
	"fmt"
	"log/slog"
	"slices"
	"time"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen_addr cannot be empty", ErrInvalidListenAddr)
	}

	// PostgreSQL
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set", ErrInvalidPostgresPassword)
	}
	if c.PostgresPassword == "breeze_dev_password" {
		slog.Warn("using default development password for PostgreSQL",
			"warning", "change postgres_password for production deployments")
	}
	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// Modern SSL modes only; allow/prefer are deprecated (MITM vulnerable).
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	// Orchestrator
	if c.WindowSize < 1 || c.WindowSize > MaxWindowSize {
		return fmt.Errorf("%w: must be between 1 and %d, got %d", ErrInvalidWindowSize, MaxWindowSize, c.WindowSize)
	}
	if c.MaxToolCalls < 1 || c.MaxToolCalls > MaxToolCalls {
		return fmt.Errorf("%w: must be between 1 and %d, got %d", ErrInvalidToolCallLimit, MaxToolCalls, c.MaxToolCalls)
	}
	if c.RunTimeout < time.Second || c.RunTimeout > 10*time.Minute {
		return fmt.Errorf("%w: must be between 1s and 10m, got %s", ErrInvalidRunTimeout, c.RunTimeout)
	}
	if c.ToolTimeout < 100*time.Millisecond || c.ToolTimeout > c.RunTimeout {
		return fmt.Errorf("%w: must be between 100ms and run_timeout (%s), got %s",
			ErrInvalidToolTimeout, c.RunTimeout, c.ToolTimeout)
	}

	return nil
}

// NormalizeWindowSize clamps a requested context window size into range.
// Zero or negative falls back to the default.
func NormalizeWindowSize(n int) int {
	if n <= 0 {
		return DefaultWindowSize
	}
	if n > MaxWindowSize {
		return MaxWindowSize
	}
	return n
}
