package cleaner

import "fmt"

// TransientError describes a recoverable failure the task swallows and
// retries on its next tick: no survivor allocation available, a slow
// replica, or anything else that resolves itself given time.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("cleaner: transient error during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// InvariantViolation describes a collaborator behaving inconsistently with
// the invariants the cleaner relies on: a handler reporting an entry live
// then dead within the same pass, a segment manager returning an
// already-freed segment, and so on. This is fatal; the task terminates and
// Cleaner.FatalError reports it.
type InvariantViolation struct {
	Invariant string
	Detail    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("cleaner: invariant %s violated: %s", e.Invariant, e.Detail)
}
