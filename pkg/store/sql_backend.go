package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Dialect selects the placeholder style of the underlying driver.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// SQLBackend persists audit entries in a single append-only table. It works
// with lib/pq and modernc.org/sqlite. The sequence primary key rejects a
// second writer racing on the same chain position; Persist reports that as
// ErrSequenceConflict.
type SQLBackend struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLBackend(db *sql.DB, dialect Dialect) *SQLBackend {
	return &SQLBackend{db: db, dialect: dialect}
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	sequence BIGINT PRIMARY KEY,
	entry_id TEXT NOT NULL UNIQUE,
	recorded_at TEXT NOT NULL,
	entry_type TEXT NOT NULL,
	subject TEXT NOT NULL,
	action TEXT NOT NULL,
	payload TEXT NOT NULL,
	payload_hash TEXT NOT NULL,
	previous_hash TEXT NOT NULL,
	entry_hash TEXT NOT NULL UNIQUE,
	metadata TEXT
);
`

// Init creates the audit table if it does not exist.
func (b *SQLBackend) Init(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, auditSchema); err != nil {
		return fmt.Errorf("init audit schema: %w", err)
	}
	return nil
}

func (b *SQLBackend) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		if b.dialect == DialectPostgres {
			parts[i] = fmt.Sprintf("$%d", i+1)
		} else {
			parts[i] = "?"
		}
	}
	return strings.Join(parts, ", ")
}

// Persist inserts one entry.
func (b *SQLBackend) Persist(ctx context.Context, e *AuditEntry) error {
	var meta sql.NullString
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		meta = sql.NullString{String: string(raw), Valid: true}
	}

	query := `INSERT INTO audit_entries (
		sequence, entry_id, recorded_at, entry_type, subject, action, payload, payload_hash, previous_hash, entry_hash, metadata
	) VALUES (` + b.placeholders(11) + `)`

	_, err := b.db.ExecContext(ctx, query,
		int64(e.Sequence), e.EntryID, e.Timestamp.UTC().Format(time.RFC3339Nano), string(e.EntryType),
		e.Subject, e.Action, string(e.Payload), e.PayloadHash, e.PreviousHash, e.EntryHash, meta,
	)
	if err != nil {
		if b.sequenceTaken(ctx, e.Sequence) {
			return fmt.Errorf("insert audit entry %d: %w", e.Sequence, ErrSequenceConflict)
		}
		return fmt.Errorf("insert audit entry %d: %w", e.Sequence, err)
	}
	return nil
}

// sequenceTaken reports whether a row already holds seq. It is asked after a
// failed insert so the primary-key violation can be told apart from other
// driver errors without matching on driver-specific codes.
func (b *SQLBackend) sequenceTaken(ctx context.Context, seq uint64) bool {
	var n int
	query := `SELECT COUNT(*) FROM audit_entries WHERE sequence = ` + b.placeholders(1)
	if err := b.db.QueryRowContext(ctx, query, int64(seq)).Scan(&n); err != nil {
		return false
	}
	return n > 0
}

// Load returns every persisted entry in sequence order.
func (b *SQLBackend) Load(ctx context.Context) ([]*AuditEntry, error) {
	query := `SELECT sequence, entry_id, recorded_at, entry_type, subject, action, payload, payload_hash, previous_hash, entry_hash, metadata
		FROM audit_entries ORDER BY sequence`
	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]*AuditEntry, 0)
	for rows.Next() {
		var (
			seq       int64
			recorded  string
			entryType string
			payload   string
			meta      sql.NullString
			e         AuditEntry
		)
		if err := rows.Scan(&seq, &e.EntryID, &recorded, &entryType, &e.Subject, &e.Action,
			&payload, &e.PayloadHash, &e.PreviousHash, &e.EntryHash, &meta); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, recorded)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp of entry %d: %w", seq, err)
		}
		e.Sequence = uint64(seq)
		e.Timestamp = ts.UTC()
		e.EntryType = EntryType(entryType)
		e.Payload = json.RawMessage(payload)
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of entry %d: %w", seq, err)
			}
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
