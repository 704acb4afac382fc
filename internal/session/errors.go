// File: internal/session/errors.go

// Package session provides the persistent store backends for orchestration
// sessions: a file tree for local use and PostgreSQL for shared deployments.
package session

import "errors"

var (
	// ErrNotFound is returned when no session exists under the requested id.
	ErrNotFound = errors.New("session not found")
	// ErrConflict is returned when a save would overwrite a session another
	// writer has already advanced past the caller's snapshot.
	ErrConflict = errors.New("session was modified concurrently")
)
