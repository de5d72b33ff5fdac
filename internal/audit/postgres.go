package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the interruption_decisions table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS interruption_decisions (
    id          BIGSERIAL PRIMARY KEY,
    session_id  TEXT NOT NULL,
    text        TEXT NOT NULL,
    confidence  DOUBLE PRECISION NOT NULL,
    is_final    BOOLEAN NOT NULL,
    agent_state TEXT NOT NULL,
    interrupt   BOOLEAN NOT NULL,
    reason      TEXT NOT NULL,
    action      TEXT NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    latency_us  BIGINT NOT NULL,
    decided_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interruption_decisions_session ON interruption_decisions(session_id, decided_at DESC);
CREATE INDEX IF NOT EXISTS idx_interruption_decisions_reason ON interruption_decisions(reason);
`

// tableName and columns describe the COPY target used by [PostgresStore.Append].
var (
	tableName = pgx.Identifier{"interruption_decisions"}
	columns   = []string{
		"session_id", "text", "confidence", "is_final", "agent_state",
		"interrupt", "reason", "action", "error", "latency_us", "decided_at",
	}
)

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Ping(ctx context.Context) error
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPool connects a pgx pool to dsn and verifies the connection.
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}
	return pool, nil
}

// Migrate executes the [Schema] DDL against the database, creating the
// interruption_decisions table and indexes if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("audit: migrate: %w", err)
	}
	return nil
}

// Append implements [Store] using COPY. Record IDs are not populated.
func (s *PostgresStore) Append(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{
			r.SessionID, r.Text, r.Confidence, r.IsFinal, r.State,
			r.Interrupt, r.Reason, r.Action, r.Error, r.Latency.Microseconds(), r.DecidedAt,
		}
	}
	n, err := s.db.CopyFrom(ctx, tableName, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("audit: append %d records: %w", len(records), err)
	}
	if int(n) != len(records) {
		return fmt.Errorf("audit: append: wrote %d of %d records", n, len(records))
	}
	return nil
}

// Recent implements [Store].
func (s *PostgresStore) Recent(ctx context.Context, q Query) ([]Record, error) {
	const query = `
		SELECT id, session_id, text, confidence, is_final, agent_state,
		       interrupt, reason, action, error, latency_us, decided_at
		FROM interruption_decisions
		WHERE ($1 = '' OR session_id = $1)
		  AND ($2 = '' OR reason = $2)
		ORDER BY decided_at DESC, id DESC
		LIMIT $3`

	rows, err := s.db.Query(ctx, query, q.SessionID, q.Reason, q.limit())
	if err != nil {
		return nil, fmt.Errorf("audit: recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r         Record
			latencyUS int64
		)
		if err := rows.Scan(
			&r.ID, &r.SessionID, &r.Text, &r.Confidence, &r.IsFinal, &r.State,
			&r.Interrupt, &r.Reason, &r.Action, &r.Error, &latencyUS, &r.DecidedAt,
		); err != nil {
			return nil, fmt.Errorf("audit: recent: scan: %w", err)
		}
		r.Latency = time.Duration(latencyUS) * time.Microsecond
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: recent: %w", err)
	}
	return out, nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("audit: ping: %w", err)
	}
	return nil
}
