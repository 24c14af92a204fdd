package engine

import "fmt"

// IllegalTransitionError indicates the target state is not reachable from
// the case's current state. Self-loops are always illegal.
type IllegalTransitionError struct {
	From string
	To   string
}

func (e IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

// PreconditionError indicates a guarded transition was attempted while a
// prerequisite sub-workflow (citations, hearings, deadlines) is unresolved.
type PreconditionError struct {
	Reason string
}

func (e PreconditionError) Error() string {
	return "precondition failed: " + e.Reason
}

// StorageUnavailableError indicates the persistence layer could not open or
// commit the operation's transaction. The underlying driver error is wrapped;
// the domain request itself may be perfectly valid and retryable.
type StorageUnavailableError struct {
	Op  string
	Err error
}

func (e StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable during %s: %v", e.Op, e.Err)
}

func (e StorageUnavailableError) Unwrap() error { return e.Err }

// ValidationError indicates a malformed input: unknown state, bad outcome,
// malformed identifier or attempt payload.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string {
	return "validation failed: " + e.Reason
}
