package backend

import "fmt"

// Outcome is the terminal result of one streamed turn.
type Outcome int

const (
	// OutcomeCompleted - the stream reached its final chunk.
	OutcomeCompleted Outcome = iota
	// OutcomeAborted - the stream was cut short by an interruption.
	OutcomeAborted
	// OutcomeFailed - the backend returned an error.
	OutcomeFailed
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeAborted:
		return "aborted"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// Result pairs an Outcome with the error that caused a failure.
type Result struct {
	Outcome Outcome
	Err     error
}

// Completed returns a completed result.
func Completed() Result { return Result{Outcome: OutcomeCompleted} }

// Aborted returns an aborted result.
func Aborted() Result { return Result{Outcome: OutcomeAborted, Err: ErrStreamAborted} }

// Failed returns a failed result carrying err.
func Failed(err error) Result { return Result{Outcome: OutcomeFailed, Err: err} }

// Status is a backend's self-reported state, exposed in pipeline snapshots.
type Status map[string]any
