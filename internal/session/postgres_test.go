// File: internal/session/postgres_test.go
package session

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/planforge-cli/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for
// more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

type anyArg struct{}

func (anyArg) Match(_ interface{}) bool { return true }

const sqlUpsertSession = `
        INSERT INTO sessions (id, task, state, iterations, data, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (id) DO UPDATE SET
            state = EXCLUDED.state,
            iterations = EXCLUDED.iterations,
            data = EXCLUDED.data,
            updated_at = EXCLUDED.updated_at;`

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)

	mockPool.ExpectPing()
	mockPool.ExpectExec(flexibleSQLMatcher("CREATE TABLE IF NOT EXISTS sessions")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	store, err := NewPostgresStore(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return store, mockPool
}

func TestNewPostgresStorePingFailure(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	pingErr := errors.New("database unavailable")
	mockPool.ExpectPing().WillReturnError(pingErr)

	_, err = NewPostgresStore(context.Background(), mockPool, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, pingErr)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresStoreSaveNewSession(t *testing.T) {
	store, mockPool := newMockStore(t)
	defer mockPool.Close()

	session := testSession("sess-pg", 1)

	mockPool.ExpectBegin()
	mockPool.ExpectQuery(flexibleSQLMatcher("SELECT iterations FROM sessions WHERE id = $1 FOR UPDATE")).
		WithArgs("sess-pg").
		WillReturnRows(pgxmock.NewRows([]string{"iterations"})) // no rows
	mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertSession)).
		WithArgs("sess-pg", session.Task, "generating", 1, anyArg{}, anyArg{}, anyArg{}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCommit()
	mockPool.ExpectRollback() // deferred rollback after commit is a no-op

	require.NoError(t, store.Save(context.Background(), session))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresStoreSaveRejectsStaleWrite(t *testing.T) {
	store, mockPool := newMockStore(t)
	defer mockPool.Close()

	session := testSession("sess-pg", 2)

	mockPool.ExpectBegin()
	mockPool.ExpectQuery(flexibleSQLMatcher("SELECT iterations FROM sessions WHERE id = $1 FOR UPDATE")).
		WithArgs("sess-pg").
		WillReturnRows(pgxmock.NewRows([]string{"iterations"}).AddRow(5))
	mockPool.ExpectRollback()

	err := store.Save(context.Background(), session)
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresStoreLoad(t *testing.T) {
	store, mockPool := newMockStore(t)
	defer mockPool.Close()

	session := testSession("sess-load", 3)
	data, err := json.Marshal(session)
	require.NoError(t, err)

	mockPool.ExpectQuery(flexibleSQLMatcher("SELECT data FROM sessions WHERE id = $1")).
		WithArgs("sess-load").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(data))

	loaded, err := store.Load(context.Background(), "sess-load")
	require.NoError(t, err)
	assert.Equal(t, session.Task, loaded.Task)
	assert.Equal(t, 3, loaded.Guardrails.Iterations)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresStoreList(t *testing.T) {
	store, mockPool := newMockStore(t)
	defer mockPool.Close()

	now := time.Now().UTC()
	mockPool.ExpectQuery(flexibleSQLMatcher("SELECT id, task, state, iterations, updated_at FROM sessions ORDER BY updated_at DESC")).
		WillReturnRows(pgxmock.NewRows([]string{"id", "task", "state", "iterations", "updated_at"}).
			AddRow("a", "task a", "approved", 4, now).
			AddRow("b", "task b", "needs_input", 2, now.Add(-time.Hour)))

	summaries, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, schemas.StateApproved, summaries[0].State)
	assert.Equal(t, schemas.StateNeedsInput, summaries[1].State)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
