// File: internal/session/filestore.go
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/planforge-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FileStore persists each session as one JSON file under a directory. Writes
// go through a temp file plus rename so a crash never leaves a half-written
// session behind.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

// NewFileStore creates the directory if needed and returns the store.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory %q: %w", dir, err)
	}
	return &FileStore{dir: dir, logger: logger.Named("session.file")}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Load reads one session by id.
func (s *FileStore) Load(_ context.Context, id string) (*schemas.Session, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read session %q: %w", id, err)
	}

	var session schemas.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session %q: %w", id, err)
	}
	return &session, nil
}

// Save writes the session atomically. A stored copy whose iteration counter
// is already past the caller's snapshot means another writer got there first;
// the save is rejected with ErrConflict instead of silently losing its work.
func (s *FileStore) Save(ctx context.Context, session *schemas.Session) error {
	if session.ID == "" {
		return fmt.Errorf("session has no id")
	}

	existing, err := s.Load(ctx, session.ID)
	if err == nil && existing.Guardrails.Iterations > session.Guardrails.Iterations {
		return fmt.Errorf("session %q at iteration %d, tried to save iteration %d: %w",
			session.ID, existing.Guardrails.Iterations, session.Guardrails.Iterations, ErrConflict)
	}

	session.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session %q: %w", session.ID, err)
	}

	tmp, err := os.CreateTemp(s.dir, session.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session %q: %w", session.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(session.ID)); err != nil {
		return fmt.Errorf("failed to persist session %q: %w", session.ID, err)
	}

	s.logger.Debug("Session saved",
		zap.String("session_id", session.ID),
		zap.String("state", string(session.State)),
		zap.Int("iterations", session.Guardrails.Iterations),
	)
	return nil
}

// List returns summaries of every stored session, newest first. Unreadable
// files are skipped with a warning rather than failing the listing.
func (s *FileStore) List(ctx context.Context) ([]schemas.SessionSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read session directory: %w", err)
	}

	var summaries []schemas.SessionSummary
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		session, err := s.Load(ctx, id)
		if err != nil {
			s.logger.Warn("Skipping unreadable session file", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		summaries = append(summaries, schemas.SessionSummary{
			ID:         session.ID,
			Task:       session.Task,
			State:      session.State,
			Iterations: session.Guardrails.Iterations,
			UpdatedAt:  session.UpdatedAt,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error { return nil }
