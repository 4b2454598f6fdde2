package domain

import "errors"

// Error taxonomy shared across the core. Validation and rate-limit failures
// are resolved at the boundary; only transport-level failures reach the
// connection supervisor.
var (
	// ErrInvalidAddress is the canonical rejection for any raw input that
	// does not normalize to a valid address. Invalid input is never
	// partially accepted.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrInvalidPhone rejects a malformed pairing-phone number before any
	// network call is attempted.
	ErrInvalidPhone = errors.New("invalid phone number")

	// ErrNotConnected is returned when an operation requires a session in
	// the connected state.
	ErrNotConnected = errors.New("session not connected")

	// ErrAlreadyLinked is returned when a pairing-code request is made for
	// a session that is already connected or already registered.
	ErrAlreadyLinked = errors.New("already linked")

	// ErrSessionNotFound is returned when an operation references a tenant
	// with no live session.
	ErrSessionNotFound = errors.New("session not found")
)
