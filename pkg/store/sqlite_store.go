package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/camaraproject/QualityOnDemand-PI3/pkg/provisioning"
)

// SQLiteStore implements provisioning.Store on an embedded SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps db and migrates the schema.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite store: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	query := `
    CREATE TABLE IF NOT EXISTS qod_provisioned_sessions (
        access_identifier TEXT PRIMARY KEY,
        external_application_id TEXT NOT NULL,
        qos_profile_map JSON NOT NULL,
        updated_at DATETIME NOT NULL
    );`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *SQLiteStore) Put(ctx context.Context, rec provisioning.Record) error {
	profiles, err := encodeProfiles(rec.QosProfileMap)
	if err != nil {
		return err
	}

	query := `INSERT INTO qod_provisioned_sessions (
		access_identifier, external_application_id, qos_profile_map, updated_at
	) VALUES (?, ?, ?, ?)
	ON CONFLICT(access_identifier) DO UPDATE SET
		external_application_id = excluded.external_application_id,
		qos_profile_map = excluded.qos_profile_map,
		updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		rec.AccessIdentifier, rec.ExternalApplicationID, string(profiles), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, accessIdentifier string) (*provisioning.Record, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT access_identifier, external_application_id, qos_profile_map
        FROM qod_provisioned_sessions
        WHERE access_identifier = ?`, accessIdentifier)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, accessIdentifier string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM qod_provisioned_sessions WHERE access_identifier = ?`, accessIdentifier)
	if err != nil {
		return false, fmt.Errorf("failed to delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]provisioning.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT access_identifier, external_application_id, qos_profile_map
        FROM qod_provisioned_sessions
        ORDER BY access_identifier`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []provisioning.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
