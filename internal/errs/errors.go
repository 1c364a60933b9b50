package errs

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when an entity no longer exists remotely or
	// was never cached locally.
	ErrNotFound = errors.New("not found")

	// ErrUnsupportedQuery is returned when a search token cannot be
	// translated into the active backend's native query syntax.
	ErrUnsupportedQuery = errors.New("unsupported query")

	// ErrRateLimited is returned when an adapter call could not acquire
	// rate-limit budget within the configured wait bound.
	ErrRateLimited = errors.New("rate limited")

	// ErrAuthExpired is returned when credentials cannot be refreshed.
	// It is fatal to the current session and never retried.
	ErrAuthExpired = errors.New("authentication expired")

	// ErrTransientIO covers network failures and deadline expiries.
	ErrTransientIO = errors.New("transient io error")
)

// IsTransient reports whether an error should be retried with backoff.
// Deadline expiry counts as transient, auth expiry never does.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthExpired) || errors.Is(err, ErrUnsupportedQuery) || errors.Is(err, ErrNotFound) {
		return false
	}
	if errors.Is(err, ErrTransientIO) || errors.Is(err, ErrRateLimited) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return isConnectionError(err)
}

// isConnectionError matches the connectivity failures the IMAP client
// library reports as plain strings.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "EOF")
}

// AsTransientIO wraps connectivity-looking errors into the taxonomy so
// callers can classify with errors.Is.
func AsTransientIO(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransientIO) {
		return err
	}
	if isConnectionError(err) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(ErrTransientIO, err.Error())
	}
	return err
}
