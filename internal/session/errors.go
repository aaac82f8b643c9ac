package session

import "errors"

var (
	// ErrSessionNotFound is returned for unknown or already closed session
	// ids. Callers may treat it as "already closed".
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionStart means the browser could not be created or the initial
	// navigation failed. Nothing stays registered.
	ErrSessionStart = errors.New("session start failed")
	// ErrInvalidState rejects an operation the session's current state does
	// not allow. The session is left untouched.
	ErrInvalidState = errors.New("invalid session state")
)
