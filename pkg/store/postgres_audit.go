package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"

	"github.com/switchboard-run/switchboard/pkg/errs"
	"github.com/switchboard-run/switchboard/pkg/schemas"

	_ "github.com/lib/pq"
)

// PostgresAuditStore is a durable AuditStore backed by lib/pq, grounded on
// the teacher's PostgresLedger hash-chain pattern ($-numbered placeholders,
// a migrate-on-construct schema, JSON-serialized snapshot column).
type PostgresAuditStore struct {
	db *sql.DB
}

// NewPostgresAuditStore opens (and migrates) the audit_entries table on db.
func NewPostgresAuditStore(db *sql.DB) (*PostgresAuditStore, error) {
	s := &PostgresAuditStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresAuditStore) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		seq BIGSERIAL,
		event_type TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		envelope_id TEXT,
		organization_id TEXT,
		entity_type TEXT,
		entity_id TEXT,
		entry_hash TEXT NOT NULL,
		previous_entry_hash TEXT,
		payload JSONB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS audit_entries_envelope_idx ON audit_entries (envelope_id);
	CREATE INDEX IF NOT EXISTS audit_entries_org_idx ON audit_entries (organization_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *PostgresAuditStore) Append(ctx context.Context, entry schemas.AuditEntry) error {
	return s.insert(ctx, entry)
}

func (s *PostgresAuditStore) insert(ctx context.Context, entry schemas.AuditEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return errs.Wrap(errs.Fatal, err, "marshaling audit entry")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (id, event_type, ts, envelope_id, organization_id, entity_type, entity_id, entry_hash, previous_entry_hash, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.EventType, entry.Timestamp, entry.EnvelopeID, entry.OrganizationID,
		entry.EntityType, entry.EntityID, entry.EntryHash, entry.PreviousEntryHash, payload,
	)
	if err != nil {
		return errs.Wrap(errs.Fatal, err, "inserting audit entry")
	}
	return nil
}

// AppendAtomic mirrors the teacher's lease-acquisition pattern: it reads the
// current tail under a transaction and only commits the insert if the tail
// still matches expectedPrevHash, using SELECT ... FOR UPDATE to serialize
// concurrent appenders against the single writable chain tail.
func (s *PostgresAuditStore) AppendAtomic(ctx context.Context, entry schemas.AuditEntry, expectedPrevHash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.Fatal, err, "beginning audit append transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var tail sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT entry_hash FROM audit_entries ORDER BY seq DESC LIMIT 1 FOR UPDATE`).Scan(&tail)
	if err != nil && err != sql.ErrNoRows {
		return errs.Wrap(errs.Fatal, err, "reading audit chain tail")
	}
	if tail.String != expectedPrevHash {
		return errs.Newf(errs.StaleVersion, "audit chain tail changed: expected prev hash %q, have %q", expectedPrevHash, tail.String)
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return errs.Wrap(errs.Fatal, err, "marshaling audit entry")
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_entries (id, event_type, ts, envelope_id, organization_id, entity_type, entity_id, entry_hash, previous_entry_hash, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.EventType, entry.Timestamp, entry.EnvelopeID, entry.OrganizationID,
		entry.EntityType, entry.EntityID, entry.EntryHash, entry.PreviousEntryHash, payload,
	)
	if err != nil {
		return errs.Wrap(errs.Fatal, err, "inserting audit entry")
	}
	return tx.Commit()
}

func (s *PostgresAuditStore) GetLatest(ctx context.Context) (*schemas.AuditEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM audit_entries ORDER BY seq DESC LIMIT 1`)
	entry, err := scanAuditPayload(row)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return nil, nil
		}
		return nil, err
	}
	return entry, nil
}

func (s *PostgresAuditStore) Get(ctx context.Context, id string) (*schemas.AuditEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM audit_entries WHERE id = $1`, id)
	return scanAuditPayload(row)
}

func (s *PostgresAuditStore) Query(ctx context.Context, filter AuditFilter) ([]schemas.AuditEntry, error) {
	query := `SELECT payload FROM audit_entries WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.EnvelopeID != "" {
		query += " AND envelope_id = " + arg(filter.EnvelopeID)
	}
	if filter.OrganizationID != "" {
		query += " AND organization_id = " + arg(filter.OrganizationID)
	}
	if filter.EntityType != "" {
		query += " AND entity_type = " + arg(filter.EntityType)
	}
	if filter.EntityID != "" {
		query += " AND entity_id = " + arg(filter.EntityID)
	}
	if !filter.Since.IsZero() {
		query += " AND ts >= " + arg(filter.Since)
	}
	if !filter.Until.IsZero() {
		query += " AND ts <= " + arg(filter.Until)
	}
	query += " ORDER BY seq ASC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.Fatal, err, "querying audit entries")
	}
	defer func() { _ = rows.Close() }()

	var out []schemas.AuditEntry
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, errs.Wrap(errs.Fatal, err, "scanning audit row")
		}
		var entry schemas.AuditEntry
		if err := json.Unmarshal(payload, &entry); err != nil {
			return nil, errs.Wrap(errs.Fatal, err, "unmarshaling audit payload")
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func scanAuditPayload(row *sql.Row) (*schemas.AuditEntry, error) {
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFoundf("audit entry", "")
		}
		return nil, errs.Wrap(errs.Fatal, err, "scanning audit entry")
	}
	var entry schemas.AuditEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, errs.Wrap(errs.Fatal, err, "unmarshaling audit payload")
	}
	return &entry, nil
}

var _ AuditStore = (*PostgresAuditStore)(nil)
