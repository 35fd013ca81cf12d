// Package config holds the pipeline's runtime settings with defaults and
// environment overrides.
package config

import (
	"os"
	"strconv"
	"time"

	"loom/internal/dispatch"
	"loom/internal/observability"
)

// Config is the full runtime configuration.
type Config struct {
	FlushInterval time.Duration
	DebugEvents   bool
	Log           observability.LogConfig
	Metrics       observability.MetricsConfig
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		FlushInterval: dispatch.DefaultFlushInterval,
		Log: observability.LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// FromEnv returns Default overridden by LOOM_* environment variables.
func FromEnv() Config {
	c := Default()
	if v := os.Getenv("LOOM_FLUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.FlushInterval = d
		}
	}
	if v := os.Getenv("LOOM_DEBUG_EVENTS"); v != "" {
		c.DebugEvents, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("LOOM_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOOM_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("LOOM_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Metrics.Enabled = true
			c.Metrics.PrometheusPort = port
		}
	}
	return c
}
