package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.Equal(t, 16*time.Millisecond, c.FlushInterval)
	require.False(t, c.DebugEvents)
	require.Equal(t, "info", c.Log.Level)
	require.False(t, c.Metrics.Enabled)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("LOOM_FLUSH_INTERVAL", "50ms")
	t.Setenv("LOOM_DEBUG_EVENTS", "true")
	t.Setenv("LOOM_LOG_LEVEL", "debug")
	t.Setenv("LOOM_METRICS_PORT", "9464")

	c := FromEnv()
	require.Equal(t, 50*time.Millisecond, c.FlushInterval)
	require.True(t, c.DebugEvents)
	require.Equal(t, "debug", c.Log.Level)
	require.True(t, c.Metrics.Enabled)
	require.Equal(t, 9464, c.Metrics.PrometheusPort)
}

func TestFromEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("LOOM_FLUSH_INTERVAL", "not-a-duration")
	t.Setenv("LOOM_METRICS_PORT", "-1")

	c := FromEnv()
	require.Equal(t, Default().FlushInterval, c.FlushInterval)
	require.False(t, c.Metrics.Enabled)
}
