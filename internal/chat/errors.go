// Package chat implements the room directory, the message stream, and
// the per-session subscription manager.
package chat

import (
	"context"
	"errors"
	"fmt"
)

// Failure kinds surfaced by the chat services. Handlers map these onto
// HTTP statuses; everything else is an internal error.
var (
	// ErrNotFound means the room or invite code does not resolve.
	ErrNotFound = errors.New("not found")
	// ErrNotMember means the action requires a membership the caller
	// does not hold.
	ErrNotMember = errors.New("not a member")
	// ErrForbidden means the caller is not allowed to perform the action.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidInput covers empty names, malformed codes and oversized text.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict means optimistic-concurrency retries were exhausted.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrResourceExhausted means invite-code generation kept colliding.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrTimeout means the caller-supplied deadline expired; state is
	// unchanged.
	ErrTimeout = errors.New("timed out")
	// ErrUnavailable means the underlying store could not be reached.
	ErrUnavailable = errors.New("store unavailable")
)

// unavailable wraps a store failure so callers can tell "your request was
// invalid" apart from "the system could not be reached". A store call
// that failed because the caller's deadline expired is a Timeout, not an
// outage.
func unavailable(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// invalid reports a validation failure with detail.
func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// ctxErr maps a context error to the service taxonomy.
func ctxErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}
