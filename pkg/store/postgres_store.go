package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/camaraproject/QualityOnDemand-PI3/pkg/provisioning"
)

// PostgresStore implements provisioning.Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS qod_provisioned_sessions (
	access_identifier TEXT PRIMARY KEY,
	external_application_id TEXT NOT NULL,
	qos_profile_map JSONB NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

// Init creates the table if it does not exist.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, pgSchema)
	return err
}

func (s *PostgresStore) Put(ctx context.Context, rec provisioning.Record) error {
	profiles, err := encodeProfiles(rec.QosProfileMap)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO qod_provisioned_sessions (access_identifier, external_application_id, qos_profile_map, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (access_identifier) DO UPDATE SET
			external_application_id = EXCLUDED.external_application_id,
			qos_profile_map = EXCLUDED.qos_profile_map,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.ExecContext(ctx, query, rec.AccessIdentifier, rec.ExternalApplicationID, profiles, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to persist record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, accessIdentifier string) (*provisioning.Record, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT access_identifier, external_application_id, qos_profile_map FROM qod_provisioned_sessions WHERE access_identifier = $1",
		accessIdentifier)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Delete(ctx context.Context, accessIdentifier string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM qod_provisioned_sessions WHERE access_identifier = $1", accessIdentifier)
	if err != nil {
		return false, fmt.Errorf("failed to delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete record: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]provisioning.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT access_identifier, external_application_id, qos_profile_map FROM qod_provisioned_sessions ORDER BY access_identifier")
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []provisioning.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*provisioning.Record, error) {
	var (
		rec      provisioning.Record
		profiles []byte
	)
	if err := row.Scan(&rec.AccessIdentifier, &rec.ExternalApplicationID, &profiles); err != nil {
		return nil, err
	}
	m, err := decodeProfiles(profiles)
	if err != nil {
		return nil, err
	}
	rec.QosProfileMap = m
	return &rec, nil
}
