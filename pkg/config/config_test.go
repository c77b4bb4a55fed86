package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camaraproject/QualityOnDemand-PI3/pkg/config"
)

var envKeys = []string{
	"QOD_STORE_DRIVER", "DATABASE_URL", "SQLITE_PATH", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	"QOD_STORE_TIMEOUT", "QOD_STORE_RETRY_ONCE", "LOG_LEVEL", "LOG_FORMAT", "NATS_URL", "NATS_SUBJECT",
	"SNAPSHOT_STORAGE_TYPE", "SNAPSHOT_DIR", "SNAPSHOT_S3_BUCKET", "SNAPSHOT_S3_REGION",
	"SNAPSHOT_S3_ENDPOINT", "SNAPSHOT_S3_PREFIX", "SNAPSHOT_GCS_BUCKET", "SNAPSHOT_GCS_PREFIX",
	"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_INSECURE", "QOD_SEED_RATE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 2*time.Second, cfg.Store.Timeout)
	assert.False(t, cfg.Store.RetryOnce)
	assert.Equal(t, "INFO", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Empty(t, cfg.Events.Subject, "the change feed supplies its own default subject")
	assert.Empty(t, cfg.Events.NATSURL)
	assert.Empty(t, cfg.Snapshot.Type)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

// TestLoad_Overrides verifies that environment variables override defaults.
func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("QOD_STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://qod@db:5432/qod")
	t.Setenv("QOD_STORE_TIMEOUT", "750ms")
	t.Setenv("QOD_STORE_RETRY_ONCE", "true")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("NATS_URL", "nats://nats:4222")
	t.Setenv("SNAPSHOT_STORAGE_TYPE", "s3")
	t.Setenv("SNAPSHOT_S3_BUCKET", "qod-snapshots")
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("QOD_SEED_RATE", "50")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://qod@db:5432/qod", cfg.Store.DatabaseURL)
	assert.Equal(t, 750*time.Millisecond, cfg.Store.Timeout)
	assert.True(t, cfg.Store.RetryOnce)
	assert.Equal(t, 3, cfg.Store.RedisDB)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "nats://nats:4222", cfg.Events.NATSURL)
	assert.Equal(t, "s3", cfg.Snapshot.Type)
	assert.Equal(t, "qod-snapshots", cfg.Snapshot.S3Bucket)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 50.0, cfg.Seed.Rate)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := map[string]map[string]string{
		"bad timeout":          {"QOD_STORE_TIMEOUT": "soon"},
		"bad bool":             {"QOD_STORE_RETRY_ONCE": "maybe"},
		"bad redis db":         {"REDIS_DB": "zero"},
		"unknown driver":       {"QOD_STORE_DRIVER": "mongo"},
		"postgres without url": {"QOD_STORE_DRIVER": "postgres"},
		"s3 without bucket":    {"SNAPSHOT_STORAGE_TYPE": "s3"},
		"negative rate":        {"QOD_SEED_RATE": "-1"},
		"bad log format":       {"LOG_FORMAT": "xml"},
	}

	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := config.Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "qod.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  driver: sqlite
  sqlite_path: /var/lib/qod/qod.db
  timeout: 5s
  retry_once: true
log:
  level: WARN
snapshot:
  type: fs
  dir: /var/lib/qod/snapshots
seed:
  rate: 10
`), 0o600))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/var/lib/qod/qod.db", cfg.Store.SQLitePath)
	assert.Equal(t, 5*time.Second, cfg.Store.Timeout)
	assert.True(t, cfg.Store.RetryOnce)
	assert.Equal(t, slog.LevelWarn, cfg.SlogLevel())
	assert.Equal(t, "fs", cfg.Snapshot.Type)
	assert.Equal(t, 10.0, cfg.Seed.Rate)
	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Store.RedisAddr)
	assert.Equal(t, "localhost:4317", cfg.Telemetry.Endpoint)

	t.Run("env wins over file", func(t *testing.T) {
		t.Setenv("QOD_STORE_DRIVER", "memory")
		cfg, err := config.LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "memory", cfg.Store.Driver)
		assert.Equal(t, 5*time.Second, cfg.Store.Timeout)
	})

	t.Run("unknown key", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("store:\n  drvier: sqlite\n"), 0o600))
		_, err := config.LoadFile(bad)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := config.LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("empty file", func(t *testing.T) {
		empty := filepath.Join(t.TempDir(), "empty.yaml")
		require.NoError(t, os.WriteFile(empty, nil, 0o600))
		cfg, err := config.LoadFile(empty)
		require.NoError(t, err)
		assert.Equal(t, "memory", cfg.Store.Driver)
	})
}

func TestLoadFile_Example(t *testing.T) {
	clearEnv(t)

	cfg, err := config.LoadFile(filepath.Join("..", "..", "examples", "seed", "qod.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "data/qod.db", cfg.Store.SQLitePath)
	assert.True(t, cfg.Store.RetryOnce)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "fs", cfg.Snapshot.Type)
	assert.InDelta(t, 100.0, cfg.Seed.Rate, 0)
}
