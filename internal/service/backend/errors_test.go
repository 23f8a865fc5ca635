package backend

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	cause := errors.New("broken pipe")

	tests := []struct {
		name      string
		err       error
		transient bool
		fatal     bool
		aborted   bool
	}{
		{"transient", NewTransientError("claude", "read", cause), true, false, false},
		{"wrapped transient", fmt.Errorf("stage: %w", NewTransientError("google", "recv", cause)), true, false, false},
		{"init", NewInitError("whisperkit", cause), false, true, false},
		{"aborted", ErrStreamAborted, false, false, true},
		{"wrapped aborted", fmt.Errorf("tts: %w", ErrStreamAborted), false, false, true},
		{"plain", cause, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.transient {
				t.Errorf("IsTransient() = %v, want %v", got, tt.transient)
			}
			if got := IsFatal(tt.err); got != tt.fatal {
				t.Errorf("IsFatal() = %v, want %v", got, tt.fatal)
			}
			if got := IsAborted(tt.err); got != tt.aborted {
				t.Errorf("IsAborted() = %v, want %v", got, tt.aborted)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("exit status 1")
	if !errors.Is(NewTransientError("claude", "read", cause), cause) {
		t.Error("TransientError should unwrap to its cause")
	}
	if !errors.Is(NewInitError("claude", cause), cause) {
		t.Error("InitError should unwrap to its cause")
	}
}

func TestConfigError(t *testing.T) {
	err := ConfigError("queue size %d out of range", 9)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatal("ConfigError should wrap ErrConfiguration")
	}
	if err.Error() != "invalid configuration: queue size 9 out of range" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestOutcomeString(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    string
	}{
		{OutcomeCompleted, "completed"},
		{OutcomeAborted, "aborted"},
		{OutcomeFailed, "failed"},
		{Outcome(99), "unknown(99)"},
	}
	for _, tt := range tests {
		if got := tt.outcome.String(); got != tt.want {
			t.Errorf("Outcome(%d).String() = %q, want %q", tt.outcome, got, tt.want)
		}
	}
	if r := Aborted(); !IsAborted(r.Err) {
		t.Error("Aborted() result should carry ErrStreamAborted")
	}
}
