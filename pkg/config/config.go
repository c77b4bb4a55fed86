// Package config loads qod-bootstrap configuration from the environment,
// optionally layered over a YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds process configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" json:"store"`
	Log       LogConfig       `yaml:"log" json:"log"`
	Events    EventsConfig    `yaml:"events" json:"events"`
	Snapshot  SnapshotConfig  `yaml:"snapshot" json:"snapshot"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Seed      SeedConfig      `yaml:"seed" json:"seed"`
}

// StoreConfig selects and tunes the backing store.
type StoreConfig struct {
	Driver        string        `yaml:"driver" json:"driver"` // "memory" | "postgres" | "sqlite" | "redis"
	DatabaseURL   string        `yaml:"database_url" json:"database_url"`
	SQLitePath    string        `yaml:"sqlite_path" json:"sqlite_path"`
	RedisAddr     string        `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string        `yaml:"redis_password" json:"-"`
	RedisDB       int           `yaml:"redis_db" json:"redis_db"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
	RetryOnce     bool          `yaml:"retry_once" json:"retry_once"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`   // DEBUG | INFO | WARN | ERROR
	Format string `yaml:"format" json:"format"` // text | json
}

// EventsConfig enables the NATS change feed when URL is set. An empty
// Subject uses the change feed's default.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url" json:"nats_url"`
	Subject string `yaml:"subject" json:"subject"`
}

// SnapshotConfig enables snapshot restore and export when Type is set.
type SnapshotConfig struct {
	Type       string `yaml:"type" json:"type"` // "" | "fs" | "s3" | "gcs"
	Dir        string `yaml:"dir" json:"dir"`
	S3Bucket   string `yaml:"s3_bucket" json:"s3_bucket"`
	S3Region   string `yaml:"s3_region" json:"s3_region"`
	S3Endpoint string `yaml:"s3_endpoint" json:"s3_endpoint"`
	S3Prefix   string `yaml:"s3_prefix" json:"s3_prefix"`
	GCSBucket  string `yaml:"gcs_bucket" json:"gcs_bucket"`
	GCSPrefix  string `yaml:"gcs_prefix" json:"gcs_prefix"`
}

type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Insecure bool   `yaml:"insecure" json:"insecure"`
}

// SeedConfig paces batch writes. Rate is records per second; zero means
// unthrottled.
type SeedConfig struct {
	Rate float64 `yaml:"rate" json:"rate"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:     "memory",
			SQLitePath: "qod.db",
			RedisAddr:  "localhost:6379",
			Timeout:    2 * time.Second,
		},
		Log: LogConfig{
			Level:  "INFO",
			Format: "text",
		},
		Snapshot: SnapshotConfig{
			Dir:      "data/snapshots",
			S3Region: "us-east-1",
		},
		Telemetry: TelemetryConfig{
			Endpoint: "localhost:4317",
			Insecure: true,
		},
	}
}

// Load loads configuration from environment variables over the defaults.
func Load() (*Config, error) {
	cfg := Defaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a YAML file over the defaults, then applies environment
// overrides. Unknown YAML keys are an error.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Store.Driver, "QOD_STORE_DRIVER")
	setString(&c.Store.DatabaseURL, "DATABASE_URL")
	setString(&c.Store.SQLitePath, "SQLITE_PATH")
	setString(&c.Store.RedisAddr, "REDIS_ADDR")
	setString(&c.Store.RedisPassword, "REDIS_PASSWORD")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
	setString(&c.Events.NATSURL, "NATS_URL")
	setString(&c.Events.Subject, "NATS_SUBJECT")
	setString(&c.Snapshot.Type, "SNAPSHOT_STORAGE_TYPE")
	setString(&c.Snapshot.Dir, "SNAPSHOT_DIR")
	setString(&c.Snapshot.S3Bucket, "SNAPSHOT_S3_BUCKET")
	setString(&c.Snapshot.S3Region, "SNAPSHOT_S3_REGION")
	setString(&c.Snapshot.S3Endpoint, "SNAPSHOT_S3_ENDPOINT")
	setString(&c.Snapshot.S3Prefix, "SNAPSHOT_S3_PREFIX")
	setString(&c.Snapshot.GCSBucket, "SNAPSHOT_GCS_BUCKET")
	setString(&c.Snapshot.GCSPrefix, "SNAPSHOT_GCS_PREFIX")
	setString(&c.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")

	var errs []error
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("REDIS_DB: %w", err))
		}
		c.Store.RedisDB = n
	}
	if v := os.Getenv("QOD_STORE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("QOD_STORE_TIMEOUT: %w", err))
		}
		c.Store.Timeout = d
	}
	if v := os.Getenv("QOD_SEED_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("QOD_SEED_RATE: %w", err))
		}
		c.Seed.Rate = f
	}
	errs = append(errs,
		setBool(&c.Store.RetryOnce, "QOD_STORE_RETRY_ONCE"),
		setBool(&c.Telemetry.Enabled, "OTEL_ENABLED"),
		setBool(&c.Telemetry.Insecure, "OTEL_INSECURE"),
	)
	return errors.Join(errs...)
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "memory", "sqlite", "redis":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("store: DATABASE_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store: unsupported driver %q", c.Store.Driver))
	}
	if c.Store.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("store: timeout must be positive, got %s", c.Store.Timeout))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log: unsupported format %q", c.Log.Format))
	}
	switch c.Snapshot.Type {
	case "", "fs":
	case "gcs":
		if c.Snapshot.GCSBucket == "" {
			errs = append(errs, errors.New("snapshot: SNAPSHOT_GCS_BUCKET is required for gcs snapshots"))
		}
	case "s3":
		if c.Snapshot.S3Bucket == "" {
			errs = append(errs, errors.New("snapshot: SNAPSHOT_S3_BUCKET is required for s3 snapshots"))
		}
	default:
		errs = append(errs, fmt.Errorf("snapshot: unsupported storage type %q", c.Snapshot.Type))
	}
	if c.Seed.Rate < 0 {
		errs = append(errs, fmt.Errorf("seed: rate must not be negative, got %v", c.Seed.Rate))
	}
	return errors.Join(errs...)
}

// SlogLevel maps Log.Level to a slog level, defaulting to Info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.Log.Level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}
