// Package stage provides lifecycle tracking for pipeline stages and turn IDs.
package stage

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a pipeline stage.
type State int

const (
	// StateStopped - Stage is not running. Initial state.
	StateStopped State = iota
	// StateRunning - Stage is consuming work.
	StateRunning
	// StateRetrying - Stage hit a backend failure and is backing off.
	StateRetrying
	// StateFailed - Stage gave up after exhausting retries.
	// This is a terminal state until the pipeline is restarted.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateRunning:
		return "RUNNING"
	case StateRetrying:
		return "RETRYING"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsActive returns true if the stage is running or retrying.
func (s State) IsActive() bool {
	return s == StateRunning || s == StateRetrying
}

// Errors for invalid state transitions.
var (
	ErrAlreadyRunning = errors.New("stage is already running")
	ErrNotRunning     = errors.New("stage is not running")
)

// Lifecycle manages the state machine for a single stage.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	STOPPED → RUNNING ⇄ RETRYING
//	   ↑         │          │
//	   └─ Stop() ┴──────────┴── Fail() ──→ FAILED
//
// Rules:
//   - RUNNING: Retry() moves to RETRYING and counts consecutive failures
//   - RETRYING: Recover() returns to RUNNING and clears the failure count
//   - FAILED: Only Start() (a pipeline restart) leaves this state
//   - Stop() is idempotent and keeps FAILED so the cause stays visible
type Lifecycle struct {
	mu      sync.RWMutex
	name    string
	state   State
	retries int
	lastErr error
}

// NewLifecycle creates a new stage lifecycle in STOPPED state.
func NewLifecycle(name string) *Lifecycle {
	return &Lifecycle{
		name:  name,
		state: StateStopped,
	}
}

// Name returns the stage name.
func (l *Lifecycle) Name() string {
	return l.name
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Retries returns the number of consecutive failures.
func (l *Lifecycle) Retries() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.retries
}

// LastError returns the most recent failure, if any.
func (l *Lifecycle) LastError() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastErr
}

// Start transitions to RUNNING and clears failure history.
func (l *Lifecycle) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsActive() {
		return ErrAlreadyRunning
	}
	l.state = StateRunning
	l.retries = 0
	l.lastErr = nil
	return nil
}

// Retry records a failure and transitions to RETRYING.
// Returns the number of consecutive failures including this one.
func (l *Lifecycle) Retry(cause error) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.state.IsActive() {
		return l.retries, ErrNotRunning
	}
	l.state = StateRetrying
	l.retries++
	l.lastErr = cause
	return l.retries, nil
}

// Recover transitions back to RUNNING after a successful operation.
func (l *Lifecycle) Recover() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.state.IsActive() {
		return
	}
	l.state = StateRunning
	l.retries = 0
}

// Fail transitions to FAILED. Returns false if the stage was not active.
func (l *Lifecycle) Fail(cause error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.state.IsActive() {
		return false
	}
	l.state = StateFailed
	l.lastErr = cause
	return true
}

// Stop transitions an active stage to STOPPED. Idempotent.
func (l *Lifecycle) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsActive() {
		l.state = StateStopped
	}
}
