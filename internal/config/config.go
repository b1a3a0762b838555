package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	devAPIURL      = "http://localhost:8000/api"
	devRealtimeURL = "ws://localhost:8000"

	prodAPIURL      = "https://api.taskboard.app/api"
	prodRealtimeURL = "wss://api.taskboard.app"
)

// Config contains all runtime settings for the board client.
type Config struct {
	Env      string
	BindAddr string

	APIBaseURL  string
	RealtimeURL string

	StateDir         string
	MetricsNamespace string

	HTTPTimeout              time.Duration
	ShutdownTimeout          time.Duration
	RealtimeHandshakeTimeout time.Duration
	RealtimeBackoffBase      time.Duration
	RealtimeMaxAttempts      int
}

// Load reads environment variables and applies safe defaults. The API and
// realtime endpoints default per APP_ENV so a plain `boardsync` run talks to a
// local backend while production builds point at the hosted one.
func Load() (Config, error) {
	env := strings.ToLower(envOrDefault("APP_ENV", "development"))
	apiDefault, rtDefault := devAPIURL, devRealtimeURL
	switch env {
	case "development", "dev":
		env = "development"
	case "production", "prod":
		env = "production"
		apiDefault, rtDefault = prodAPIURL, prodRealtimeURL
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV: %q (expected development|production)", env)
	}

	cfg := Config{
		Env:                      env,
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":7070"),
		APIBaseURL:               envOrDefault("BOARD_API_URL", apiDefault),
		RealtimeURL:              envOrDefault("BOARD_REALTIME_URL", rtDefault),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "boardsync"),
		HTTPTimeout:              30 * time.Second,
		ShutdownTimeout:          15 * time.Second,
		RealtimeHandshakeTimeout: 4 * time.Second,
		RealtimeBackoffBase:      500 * time.Millisecond,
		RealtimeMaxAttempts:      6,
	}

	var err error
	cfg.StateDir, err = resolveStateDir(trimmedEnv("APP_STATE_DIR"))
	if err != nil {
		return Config{}, err
	}
	cfg.HTTPTimeout, err = durationFromEnv("APP_HTTP_TIMEOUT", cfg.HTTPTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RealtimeHandshakeTimeout, err = durationFromEnv("APP_REALTIME_HANDSHAKE_TIMEOUT", cfg.RealtimeHandshakeTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RealtimeBackoffBase, err = durationFromEnv("APP_REALTIME_BACKOFF_BASE", cfg.RealtimeBackoffBase)
	if err != nil {
		return Config{}, err
	}
	cfg.RealtimeMaxAttempts, err = intFromEnv("APP_REALTIME_MAX_ATTEMPTS", cfg.RealtimeMaxAttempts)
	if err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return Config{}, fmt.Errorf("BOARD_API_URL must not be empty")
	}
	if strings.TrimSpace(cfg.RealtimeURL) == "" {
		return Config{}, fmt.Errorf("BOARD_REALTIME_URL must not be empty")
	}
	if cfg.HTTPTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_HTTP_TIMEOUT must be positive")
	}
	if cfg.RealtimeMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("APP_REALTIME_MAX_ATTEMPTS must be positive")
	}
	if cfg.RealtimeBackoffBase <= 0 {
		return Config{}, fmt.Errorf("APP_REALTIME_BACKOFF_BASE must be positive")
	}

	return cfg, nil
}

func resolveStateDir(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory for state dir: %w", err)
	}
	if strings.TrimSpace(home) == "" {
		return "", fmt.Errorf("cannot resolve home directory for state dir")
	}
	return filepath.Join(home, ".boardsync"), nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}
