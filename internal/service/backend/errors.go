// Package backend defines the error taxonomy and turn outcomes shared by
// the speech, generation and synthesis backends.
package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrStreamAborted is returned when a stream stops because the user
	// interrupted. It is a normal outcome and is never counted as an error.
	ErrStreamAborted = errors.New("stream aborted by interruption")

	// ErrConfiguration is wrapped by every configuration validation error.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrNotInitialized is returned when a backend is used before Initialize.
	ErrNotInitialized = errors.New("backend not initialized")
)

// TransientError is a recoverable backend failure such as a subprocess
// crash, a network timeout or a malformed response line.
type TransientError struct {
	// Backend is the provider name, e.g. "google" or "claude".
	Backend string
	// Op is the operation that failed.
	Op    string
	Cause error
}

// NewTransientError creates a new TransientError.
func NewTransientError(backendName, op string, cause error) *TransientError {
	return &TransientError{Backend: backendName, Op: op, Cause: cause}
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Backend, e.Op, e.Cause)
}

// Unwrap returns the underlying error.
func (e *TransientError) Unwrap() error {
	return e.Cause
}

// InitError is a fatal failure to initialize a backend. The pipeline does
// not start when one is returned.
type InitError struct {
	Backend string
	Cause   error
}

// NewInitError creates a new InitError.
func NewInitError(backendName string, cause error) *InitError {
	return &InitError{Backend: backendName, Cause: cause}
}

// Error implements the error interface.
func (e *InitError) Error() string {
	return fmt.Sprintf("%s initialization failed: %v", e.Backend, e.Cause)
}

// Unwrap returns the underlying error.
func (e *InitError) Unwrap() error {
	return e.Cause
}

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal reports whether err is an InitError.
func IsFatal(err error) bool {
	var ie *InitError
	return errors.As(err, &ie)
}

// IsAborted reports whether err signals an interruption rather than a failure.
func IsAborted(err error) bool {
	return errors.Is(err, ErrStreamAborted)
}

// ConfigError builds an error wrapping ErrConfiguration.
func ConfigError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
