package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("REALTIME_SHARED_SECRET", "join-secret")
	t.Setenv("REALTIME_BROADCAST_SECRET", "ingress-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultHeartbeatInterval, cfg.HeartbeatInterval)
	assert.Equal(t, DefaultHeartbeatTimeout, cfg.HeartbeatTimeout)
	assert.Equal(t, DefaultSnapshotDebounce, cfg.SnapshotDebounce)
	assert.Equal(t, DefaultMetricsFlushInterval, cfg.MetricsFlushInterval)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("REALTIME_SHARED_SECRET", "")
	t.Setenv("REALTIME_BROADCAST_SECRET", "x")
	_, err := Load()
	require.ErrorContains(t, err, "REALTIME_SHARED_SECRET")

	t.Setenv("REALTIME_SHARED_SECRET", "x")
	t.Setenv("REALTIME_BROADCAST_SECRET", "")
	_, err = Load()
	require.ErrorContains(t, err, "REALTIME_BROADCAST_SECRET")
}

func TestLoadParsesOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("METRICS_FLUSH_INTERVAL_MS", "5000")
	t.Setenv("SNAPSHOT_DEBOUNCE_MS", "250")
	t.Setenv("ALLOWED_ORIGINS", "https://pitchparty.app, https://staging.pitchparty.app")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.MetricsFlushInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.SnapshotDebounce)
	assert.Equal(t, []string{"https://pitchparty.app", "https://staging.pitchparty.app"}, cfg.AllowedOrigins)
}

func TestLoadRejectsBadValues(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "not-a-port")
	_, err := Load()
	require.Error(t, err)

	setRequired(t)
	t.Setenv("PORT", "8080")
	t.Setenv("HEARTBEAT_TIMEOUT_MS", "-5")
	_, err = Load()
	require.Error(t, err)
}
