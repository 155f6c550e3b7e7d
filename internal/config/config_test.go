package config

import (
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMapboxToken = "pk.test-token"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("INPUT_DIR", "./noaa")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./noaa", cfg.InputDir)
	assert.Equal(t, "./lipd", cfg.OutputDir)
	assert.Equal(t, min(runtime.NumCPU(), 256), cfg.Workers)
	assert.Empty(t, cfg.FieldTablesPath)
	assert.Equal(t, filepath.Join("./lipd", "quarantine.jsonl"), cfg.QuarantineLog)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.False(t, cfg.Serve)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Empty(t, cfg.LogFile)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "paleo-timeseries", cfg.KafkaTimeseriesTopic)
	assert.False(t, cfg.MapboxEnabled)
	assert.Empty(t, cfg.MapboxToken)
	assert.Equal(t, 5*time.Second, cfg.MapboxTimeout)
	assert.Equal(t, 1000, cfg.MapboxCacheSize)
	assert.Equal(t, 24*time.Hour, cfg.MapboxCacheTTL)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("INPUT_DIR", "/data/noaa")
	t.Setenv("OUTPUT_DIR", "/data/lipd")
	t.Setenv("WORKERS", "4")
	t.Setenv("FIELD_TABLES_PATH", "/etc/paleo/tables.yaml")
	t.Setenv("QUARANTINE_LOG", "/var/log/quarantine.jsonl")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("SERVE", "true")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("LOG_FILE", "/var/log/paleo.log")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_TIMESERIES_TOPIC", "ts")
	t.Setenv("MAPBOX_TOKEN", testMapboxToken)
	t.Setenv("MAPBOX_TIMEOUT", "10s")
	t.Setenv("MAPBOX_CACHE_SIZE", "500")
	t.Setenv("MAPBOX_CACHE_TTL", "1h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/data/noaa", cfg.InputDir)
	assert.Equal(t, "/data/lipd", cfg.OutputDir)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "/etc/paleo/tables.yaml", cfg.FieldTablesPath)
	assert.Equal(t, "/var/log/quarantine.jsonl", cfg.QuarantineLog)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.True(t, cfg.Serve)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "/var/log/paleo.log", cfg.LogFile)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.True(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "ts", cfg.KafkaTimeseriesTopic)
	assert.True(t, cfg.MapboxEnabled)
	assert.Equal(t, testMapboxToken, cfg.MapboxToken)
	assert.Equal(t, 10*time.Second, cfg.MapboxTimeout)
	assert.Equal(t, 500, cfg.MapboxCacheSize)
	assert.Equal(t, time.Hour, cfg.MapboxCacheTTL)
}

func TestLoad_QuarantineFollowsOutputDir(t *testing.T) {
	t.Setenv("INPUT_DIR", "in")
	t.Setenv("OUTPUT_DIR", "out")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("out", "quarantine.jsonl"), cfg.QuarantineLog)
}

func TestLoad_InputDirRequired(t *testing.T) {
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INPUT_DIR")
}

func TestLoad_ServeWithoutInputDir(t *testing.T) {
	t.Setenv("SERVE", "true")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.InputDir)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"workers not a number", map[string]string{"WORKERS": "many"}, "WORKERS"},
		{"workers zero", map[string]string{"WORKERS": "0"}, "WORKERS"},
		{"workers too large", map[string]string{"WORKERS": "257"}, "WORKERS"},
		{"shutdown timeout", map[string]string{"SHUTDOWN_TIMEOUT": "not-a-duration"}, "SHUTDOWN_TIMEOUT"},
		{"negative shutdown timeout", map[string]string{"SHUTDOWN_TIMEOUT": "-1s"}, "SHUTDOWN_TIMEOUT"},
		{"mapbox timeout", map[string]string{"MAPBOX_TIMEOUT": "bad"}, "MAPBOX_TIMEOUT"},
		{"mapbox cache ttl", map[string]string{"MAPBOX_CACHE_TTL": "0s"}, "MAPBOX_CACHE_TTL"},
		{"mapbox without token", map[string]string{"MAPBOX_ENABLED": "true"}, "MAPBOX_TOKEN"},
		{"log format", map[string]string{"LOG_FORMAT": "xml"}, "LOG_FORMAT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("INPUT_DIR", "in")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MapboxTokenImpliesEnabled(t *testing.T) {
	t.Setenv("INPUT_DIR", "in")
	t.Setenv("MAPBOX_TOKEN", testMapboxToken)
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.MapboxEnabled)
}

func TestLoad_MapboxExplicitlyDisabled(t *testing.T) {
	t.Setenv("INPUT_DIR", "in")
	t.Setenv("MAPBOX_TOKEN", testMapboxToken)
	t.Setenv("MAPBOX_ENABLED", "false")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.MapboxEnabled)
}
