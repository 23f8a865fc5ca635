package stage

import (
	"errors"
	"sync"
	"testing"
)

func TestLifecycle_InitialState(t *testing.T) {
	lc := NewLifecycle("capture")

	if lc.State() != StateStopped {
		t.Errorf("expected StateStopped, got %v", lc.State())
	}
	if lc.Name() != "capture" {
		t.Errorf("expected capture, got %v", lc.Name())
	}
	if lc.Retries() != 0 {
		t.Errorf("expected 0 retries, got %d", lc.Retries())
	}
}

func TestLifecycle_StartTwice(t *testing.T) {
	lc := NewLifecycle("capture")

	if err := lc.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := lc.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestLifecycle_RetryAndRecover(t *testing.T) {
	lc := NewLifecycle("capture")
	_ = lc.Start()
	cause := errors.New("subprocess exited")

	for i := 1; i <= 3; i++ {
		n, err := lc.Retry(cause)
		if err != nil {
			t.Fatalf("retry %d: unexpected error: %v", i, err)
		}
		if n != i {
			t.Errorf("retry %d: expected count %d, got %d", i, i, n)
		}
	}
	if lc.State() != StateRetrying {
		t.Errorf("expected StateRetrying, got %v", lc.State())
	}
	if !errors.Is(lc.LastError(), cause) {
		t.Errorf("expected last error %v, got %v", cause, lc.LastError())
	}

	lc.Recover()
	if lc.State() != StateRunning {
		t.Errorf("expected StateRunning after recover, got %v", lc.State())
	}
	if lc.Retries() != 0 {
		t.Errorf("expected retries reset, got %d", lc.Retries())
	}
}

func TestLifecycle_RetryWhenStopped(t *testing.T) {
	lc := NewLifecycle("capture")
	if _, err := lc.Retry(errors.New("x")); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}

func TestLifecycle_FailIsTerminal(t *testing.T) {
	lc := NewLifecycle("capture")
	_ = lc.Start()

	if !lc.Fail(errors.New("gave up")) {
		t.Fatal("expected Fail to return true")
	}
	if lc.Fail(errors.New("again")) {
		t.Error("expected second Fail to return false")
	}

	// Stop keeps the failure visible.
	lc.Stop()
	if lc.State() != StateFailed {
		t.Errorf("expected StateFailed after Stop, got %v", lc.State())
	}

	// Recover does not leave FAILED.
	lc.Recover()
	if lc.State() != StateFailed {
		t.Errorf("expected StateFailed after Recover, got %v", lc.State())
	}

	// A restart clears the failure.
	if err := lc.Start(); err != nil {
		t.Fatalf("unexpected error on restart: %v", err)
	}
	if lc.LastError() != nil {
		t.Errorf("expected cleared error, got %v", lc.LastError())
	}
}

func TestLifecycle_StopIdempotent(t *testing.T) {
	lc := NewLifecycle("synthesis")
	_ = lc.Start()
	lc.Stop()
	lc.Stop()
	if lc.State() != StateStopped {
		t.Errorf("expected StateStopped, got %v", lc.State())
	}
}

func TestLifecycle_ConcurrentAccess(t *testing.T) {
	lc := NewLifecycle("capture")
	_ = lc.Start()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = lc.Retry(errors.New("x"))
		}()
		go func() {
			defer wg.Done()
			lc.Recover()
			_ = lc.State()
		}()
	}
	wg.Wait()

	if !lc.State().IsActive() {
		t.Errorf("expected active state, got %v", lc.State())
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateStopped, "STOPPED"},
		{StateRunning, "RUNNING"},
		{StateRetrying, "RETRYING"},
		{StateFailed, "FAILED"},
		{State(42), "UNKNOWN(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
