package session

import "errors"

var (
	// ErrClockSkew reports a session whose end lies before its start.
	// Reconciliation aborts before touching the store or any file.
	ErrClockSkew = errors.New("clock skew")

	// ErrNoSession reports that no files exist for a session id.
	ErrNoSession = errors.New("no such session")

	// ErrInvalidID reports a session id that cannot be used as a file name.
	ErrInvalidID = errors.New("invalid session id")

	// ErrReconcile wraps a failure to reconcile the previous session during
	// [Manager.Open]. The new session was persisted regardless.
	ErrReconcile = errors.New("reconciling previous session")

	// ErrInvalidTrack reports a track path that cannot be stored in a
	// tracks file.
	ErrInvalidTrack = errors.New("invalid track path")
)
