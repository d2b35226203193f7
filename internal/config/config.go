package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// DefaultPort is the TCP port the server listens on.
	DefaultPort = 8080
	// DefaultHeartbeatInterval is the cadence of the per-socket liveness check.
	DefaultHeartbeatInterval = 15 * time.Second
	// DefaultHeartbeatTimeout evicts a socket whose last heartbeat is older than this.
	DefaultHeartbeatTimeout = 45 * time.Second
	// DefaultSnapshotDebounce collapses bursts of persists into one write.
	DefaultSnapshotDebounce = time.Second
	// DefaultMetricsFlushInterval controls how often counters are logged.
	DefaultMetricsFlushInterval = time.Minute
	// DefaultLogLevel controls log verbosity.
	DefaultLogLevel = "info"
)

// Config captures all runtime tunables for the realtime server.
type Config struct {
	Port                 int
	SharedSecret         string // HMAC key for join tokens
	BroadcastSecret      string // shared secret for the HTTP ingress
	DatabaseURL          string // empty disables persistence
	LogLevel             string
	AllowedOrigins       []string
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	SnapshotDebounce     time.Duration
	MetricsFlushInterval time.Duration
}

// Load reads a .env file when present, then the environment. The two shared
// secrets are required; everything else has a default.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 DefaultPort,
		SharedSecret:         os.Getenv("REALTIME_SHARED_SECRET"),
		BroadcastSecret:      os.Getenv("REALTIME_BROADCAST_SECRET"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		LogLevel:             DefaultLogLevel,
		HeartbeatInterval:    DefaultHeartbeatInterval,
		HeartbeatTimeout:     DefaultHeartbeatTimeout,
		SnapshotDebounce:     DefaultSnapshotDebounce,
		MetricsFlushInterval: DefaultMetricsFlushInterval,
	}

	var err error
	if cfg.Port, err = envInt("PORT", cfg.Port); err != nil {
		return nil, err
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	}
	if cfg.HeartbeatInterval, err = envMillis("HEARTBEAT_INTERVAL_MS", cfg.HeartbeatInterval); err != nil {
		return nil, err
	}
	if cfg.HeartbeatTimeout, err = envMillis("HEARTBEAT_TIMEOUT_MS", cfg.HeartbeatTimeout); err != nil {
		return nil, err
	}
	if cfg.SnapshotDebounce, err = envMillis("SNAPSHOT_DEBOUNCE_MS", cfg.SnapshotDebounce); err != nil {
		return nil, err
	}
	if cfg.MetricsFlushInterval, err = envMillis("METRICS_FLUSH_INTERVAL_MS", cfg.MetricsFlushInterval); err != nil {
		return nil, err
	}

	if cfg.SharedSecret == "" {
		return nil, fmt.Errorf("REALTIME_SHARED_SECRET is required")
	}
	if cfg.BroadcastSecret == "" {
		return nil, fmt.Errorf("REALTIME_BROADCAST_SECRET is required")
	}
	return cfg, nil
}

func envInt(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return n, nil
}

func envMillis(name string, fallback time.Duration) (time.Duration, error) {
	n, err := envInt(name, int(fallback/time.Millisecond))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", name)
	}
	return time.Duration(n) * time.Millisecond, nil
}
