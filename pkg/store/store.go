// Package store holds the backing-store adapters for the provisioning
// registry. Every adapter persists the same document layout:
// {accessIdentifier, externalApplicationId, qosProfileMap}.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/camaraproject/QualityOnDemand-PI3/pkg/provisioning"
	"github.com/camaraproject/QualityOnDemand-PI3/pkg/qos"
)

// Driver selects a backing store.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
	DriverRedis    Driver = "redis"
)

// Config carries the settings every driver might need. Only the fields for
// the selected Driver are read.
type Config struct {
	Driver Driver

	DatabaseURL string // postgres
	SQLitePath  string // sqlite; ":memory:" for a private in-process database

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Open builds the store selected by cfg.Driver. SQL schemas are created
// before Open returns.
func Open(ctx context.Context, cfg Config) (provisioning.Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to reach postgres: %w", err)
		}
		s := NewPostgresStore(db)
		if err := s.Init(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to init postgres schema: %w", err)
		}
		return s, nil
	case DriverSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = "qod.db"
		}
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		// modernc sqlite serializes writers; one connection keeps ":memory:"
		// databases shared across calls.
		db.SetMaxOpenConns(1)
		s, err := NewSQLiteStore(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil
	case DriverRedis:
		s := NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}

// encodeProfiles and decodeProfiles convert the QoS profile map to and from
// the JSON column the SQL stores share.
func encodeProfiles(m map[qos.Label]string) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal qos profile map: %w", err)
	}
	return b, nil
}

func decodeProfiles(b []byte) (map[qos.Label]string, error) {
	m := make(map[qos.Label]string)
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal qos profile map: %w", err)
	}
	return m, nil
}
