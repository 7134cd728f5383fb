package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the jobs and webhook packages.
var (
	// ErrTimeout marks an item or monitor that exhausted its time budget.
	ErrTimeout = errors.New("operation timed out")
	// ErrJobNotFound is returned by storage lookups for unknown jobs.
	ErrJobNotFound = errors.New("job not found")
)

// TransientProviderError wraps a provider failure worth retrying:
// network errors, 5xx responses, rate-limit pushback.
type TransientProviderError struct {
	Provider string
	Err      error
}

func (e *TransientProviderError) Error() string {
	return fmt.Sprintf("%s: transient provider error: %v", e.Provider, e.Err)
}

func (e *TransientProviderError) Unwrap() error { return e.Err }

// NewTransientError wraps err as retryable.
func NewTransientError(provider string, err error) error {
	return &TransientProviderError{Provider: provider, Err: err}
}

// TerminalProviderError wraps a provider failure that retrying cannot fix:
// rejected input, 4xx responses, provider-side job failure.
type TerminalProviderError struct {
	Provider string
	Err      error
}

func (e *TerminalProviderError) Error() string {
	return fmt.Sprintf("%s: terminal provider error: %v", e.Provider, e.Err)
}

func (e *TerminalProviderError) Unwrap() error { return e.Err }

// NewTerminalError wraps err as non-retryable.
func NewTerminalError(provider string, err error) error {
	return &TerminalProviderError{Provider: provider, Err: err}
}

// MalformedEventError marks an inbound webhook payload that cannot be
// correlated or validated. Such events are rejected at intake and never
// stored.
type MalformedEventError struct {
	Reason string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed webhook event: %s", e.Reason)
}

// NewMalformedEventError describes why an inbound event was rejected.
func NewMalformedEventError(format string, args ...any) error {
	return &MalformedEventError{Reason: fmt.Sprintf(format, args...)}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var t *TransientProviderError
	return errors.As(err, &t)
}

// IsTerminal reports whether err is a permanent provider failure.
func IsTerminal(err error) bool {
	var t *TerminalProviderError
	return errors.As(err, &t)
}

// IsTimeout reports whether err carries the timeout sentinel.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsMalformed reports whether err is a rejected webhook payload.
func IsMalformed(err error) bool {
	var m *MalformedEventError
	return errors.As(err, &m)
}
