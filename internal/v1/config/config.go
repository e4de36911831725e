package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default values applied when the corresponding variable is unset.
const (
	DefaultPort           = "8080"
	DefaultAllowedOrigins = "http://localhost:3000"
	DefaultWsConnectRate  = "60-M"
	DefaultGracePeriod    = 60 * time.Second
	DefaultShutdownTime   = 30 * time.Second
)

// Config holds validated environment configuration
type Config struct {
	// Listen port. The first CLI argument overrides it (see cmd).
	Port string

	// Optional variables with defaults
	GoEnv           string
	LogLevel        string
	DevelopmentMode bool
	AllowedOrigins  string

	// Connection-level rate limit (ulule format, e.g. "60-M")
	RateLimitWsConnect string

	// Room lifecycle
	RoomGracePeriod time.Duration

	// Graceful shutdown budget
	ShutdownTimeout time.Duration
}

// ValidateEnv validates all environment variables and returns a Config object.
// Returns an error if any variable is present but invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// PORT (valid port number; missing or malformed falls back to the default)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			slog.Warn("PORT is not a valid port number, using default", "got", cfg.Port, "default", DefaultPort)
			cfg.Port = DefaultPort
		}
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = getEnvOrDefault("ALLOWED_ORIGINS", DefaultAllowedOrigins)

	cfg.RateLimitWsConnect = getEnvOrDefault("RATE_LIMIT_WS_CONNECT", DefaultWsConnectRate)

	// ROOM_GRACE_PERIOD (Go duration, e.g. "60s")
	var err error
	cfg.RoomGracePeriod, err = parseDurationEnv("ROOM_GRACE_PERIOD", DefaultGracePeriod)
	if err != nil {
		errors = append(errors, err.Error())
	}

	// SHUTDOWN_TIMEOUT (Go duration, e.g. "30s")
	cfg.ShutdownTimeout, err = parseDurationEnv("SHUTDOWN_TIMEOUT", DefaultShutdownTime)
	if err != nil {
		errors = append(errors, err.Error())
	}

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	// Log validated configuration
	logValidatedConfig(cfg)

	return cfg, nil
}

// Origins splits the configured ALLOWED_ORIGINS into a trimmed list.
func (cfg *Config) Origins() []string {
	parts := strings.Split(cfg.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	if len(origins) == 0 {
		origins = []string{DefaultAllowedOrigins}
	}
	return origins
}

// parseDurationEnv reads a Go duration from the environment with a fallback.
func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration like '60s' (got '%s')", key, raw)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive (got '%s')", key, raw)
	}
	return d, nil
}

// logValidatedConfig logs the validated configuration
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"port", cfg.Port,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"allowed_origins", cfg.AllowedOrigins,
		"rate_limit_ws_connect", cfg.RateLimitWsConnect,
		"room_grace_period", cfg.RoomGracePeriod,
		"shutdown_timeout", cfg.ShutdownTimeout,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
