package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/switchboard-run/switchboard/pkg/errs"
	"github.com/switchboard-run/switchboard/pkg/schemas"

	_ "modernc.org/sqlite"
)

// SQLiteEnvelopeStore is a durable single-node EnvelopeStore backed by
// modernc.org/sqlite, following the teacher's embedded-sqlite receipt store
// shape: a migrate-on-construct table, JSON-serialized payload columns, and
// ?-placeholder queries (SPEC_FULL.md §B).
type SQLiteEnvelopeStore struct {
	db *sql.DB
}

// NewSQLiteEnvelopeStore opens (and migrates) the envelopes table on db.
func NewSQLiteEnvelopeStore(db *sql.DB) (*SQLiteEnvelopeStore, error) {
	s := &SQLiteEnvelopeStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteEnvelopeStore) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS envelopes (
		id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		principal_id TEXT NOT NULL,
		organization_id TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		payload JSON NOT NULL
	);
	CREATE TABLE IF NOT EXISTS envelope_idempotency_keys (
		idempotency_key TEXT PRIMARY KEY,
		envelope_id TEXT NOT NULL
	);
	`
	_, err := s.db.ExecContext(context.Background(), schema)
	return err
}

func (s *SQLiteEnvelopeStore) Get(ctx context.Context, id string) (*schemas.ActionEnvelope, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM envelopes WHERE id = ?`, id)
	return scanEnvelopePayload(row)
}

func (s *SQLiteEnvelopeStore) Create(ctx context.Context, env *schemas.ActionEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return errs.Wrap(errs.Fatal, err, "marshaling envelope")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO envelopes (id, version, principal_id, organization_id, created_at, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		env.ID, env.Version, env.PrincipalID, env.OrganizationID,
		env.CreatedAt.UTC().Format(time.RFC3339Nano), env.UpdatedAt.UTC().Format(time.RFC3339Nano), string(payload),
	)
	if err != nil {
		return errs.Wrap(errs.Fatal, err, "inserting envelope")
	}
	return nil
}

func (s *SQLiteEnvelopeStore) Update(ctx context.Context, env *schemas.ActionEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return errs.Wrap(errs.Fatal, err, "marshaling envelope")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE envelopes SET version = ?, updated_at = ?, payload = ?
		WHERE id = ? AND version = ?`,
		env.Version, env.UpdatedAt.UTC().Format(time.RFC3339Nano), string(payload),
		env.ID, env.Version-1,
	)
	if err != nil {
		return errs.Wrap(errs.Fatal, err, "updating envelope")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Wrap(errs.Fatal, err, "checking rows affected")
	}
	if n == 0 {
		return errs.Newf(errs.StaleVersion, "envelope %q: version %d was not the current version", env.ID, env.Version-1)
	}
	return nil
}

func (s *SQLiteEnvelopeStore) ListByPrincipal(ctx context.Context, principalID string, limit int) ([]*schemas.ActionEnvelope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM envelopes WHERE principal_id = ? ORDER BY created_at DESC LIMIT ?`,
		principalID, nonZeroLimit(limit))
	if err != nil {
		return nil, errs.Wrap(errs.Fatal, err, "listing envelopes")
	}
	defer func() { _ = rows.Close() }()

	var out []*schemas.ActionEnvelope
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, errs.Wrap(errs.Fatal, err, "scanning envelope row")
		}
		var env schemas.ActionEnvelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			return nil, errs.Wrap(errs.Fatal, err, "unmarshaling envelope payload")
		}
		out = append(out, &env)
	}
	return out, rows.Err()
}

func (s *SQLiteEnvelopeStore) GetByIdempotencyKey(ctx context.Context, key string) (*schemas.ActionEnvelope, error) {
	var envID string
	err := s.db.QueryRowContext(ctx, `SELECT envelope_id FROM envelope_idempotency_keys WHERE idempotency_key = ?`, key).Scan(&envID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFoundf("idempotency key", key)
		}
		return nil, errs.Wrap(errs.Fatal, err, "looking up idempotency key")
	}
	return s.Get(ctx, envID)
}

func (s *SQLiteEnvelopeStore) PutIdempotencyKey(ctx context.Context, key, envelopeID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO envelope_idempotency_keys (idempotency_key, envelope_id) VALUES (?, ?)
		ON CONFLICT(idempotency_key) DO NOTHING`, key, envelopeID)
	if err != nil {
		return errs.Wrap(errs.Fatal, err, "storing idempotency key")
	}
	return nil
}

func scanEnvelopePayload(row *sql.Row) (*schemas.ActionEnvelope, error) {
	var payload string
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFoundf("envelope", "")
		}
		return nil, errs.Wrap(errs.Fatal, err, "scanning envelope")
	}
	var env schemas.ActionEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, errs.Wrap(errs.Fatal, err, "unmarshaling envelope payload")
	}
	return &env, nil
}

func nonZeroLimit(limit int) int {
	if limit <= 0 {
		return 1000
	}
	return limit
}

var _ EnvelopeStore = (*SQLiteEnvelopeStore)(nil)
