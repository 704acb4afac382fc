// File: internal/session/postgres.go
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/planforge-cli/api/schemas"
)

// DBPool abstracts pgxpool.Pool so the store can be tested against pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id         TEXT PRIMARY KEY,
    task       TEXT NOT NULL,
    state      TEXT NOT NULL,
    iterations INTEGER NOT NULL DEFAULT 0,
    data       JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_updated_at_idx ON sessions (updated_at DESC);
`

// PostgresStore persists sessions in a single JSONB-backed table. The
// iteration counter is duplicated into its own column so concurrent writers
// can be rejected with a row lock instead of a full document compare.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgresStore verifies the connection and ensures the schema exists.
func NewPostgresStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to ensure session schema: %w", err)
	}
	return &PostgresStore{pool: pool, log: logger.Named("session.postgres")}, nil
}

// Load reads one session by id.
func (s *PostgresStore) Load(ctx context.Context, id string) (*schemas.Session, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM sessions WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query session %q: %w", id, err)
	}

	var session schemas.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session %q: %w", id, err)
	}
	return &session, nil
}

// Save upserts the session inside a transaction. The existing row is locked
// and its iteration counter compared first: a stored iteration past the
// caller's snapshot means a concurrent writer won, and the save is rejected.
func (s *PostgresStore) Save(ctx context.Context, session *schemas.Session) error {
	if session.ID == "" {
		return fmt.Errorf("session has no id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	var stored int
	err = tx.QueryRow(ctx, `SELECT iterations FROM sessions WHERE id = $1 FOR UPDATE`, session.ID).Scan(&stored)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// First save for this session.
	case err != nil:
		return fmt.Errorf("failed to lock session %q: %w", session.ID, err)
	case stored > session.Guardrails.Iterations:
		return fmt.Errorf("session %q at iteration %d, tried to save iteration %d: %w",
			session.ID, stored, session.Guardrails.Iterations, ErrConflict)
	}

	session.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session %q: %w", session.ID, err)
	}

	_, err = tx.Exec(ctx, `
        INSERT INTO sessions (id, task, state, iterations, data, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (id) DO UPDATE SET
            state = EXCLUDED.state,
            iterations = EXCLUDED.iterations,
            data = EXCLUDED.data,
            updated_at = EXCLUDED.updated_at;`,
		session.ID, session.Task, string(session.State), session.Guardrails.Iterations,
		data, session.CreatedAt.UTC(), session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session %q: %w", session.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit session %q: %w", session.ID, err)
	}
	return nil
}

// List returns summaries of every stored session, newest first.
func (s *PostgresStore) List(ctx context.Context) ([]schemas.SessionSummary, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id, task, state, iterations, updated_at
        FROM sessions
        ORDER BY updated_at DESC;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var summaries []schemas.SessionSummary
	for rows.Next() {
		var summary schemas.SessionSummary
		var state string
		if err := rows.Scan(&summary.ID, &summary.Task, &state, &summary.Iterations, &summary.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		summary.State = schemas.SessionState(state)
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return summaries, nil
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
