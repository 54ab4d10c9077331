package engine

import "errors"

var (
	// ErrInstanceNotFound is returned when no instance matches the
	// given reference.
	ErrInstanceNotFound = errors.New("approval instance not found")

	// ErrInstanceTerminal is returned when an action targets an
	// instance that already resolved. A conflict: the caller must
	// refetch.
	ErrInstanceTerminal = errors.New("approval instance already resolved")

	// ErrStaleStep is returned when the submitted step order no longer
	// matches the instance's current step. A conflict: the caller must
	// refetch, never retry blindly.
	ErrStaleStep = errors.New("stale step: instance has moved on")

	// ErrConflict is returned when a concurrent writer won the
	// transition for the same instance state.
	ErrConflict = errors.New("concurrent update conflict")

	// ErrNotAuthorized is returned when the actor is not in the
	// resolved or delegated approver set for the step.
	ErrNotAuthorized = errors.New("actor not authorized for this step")

	// ErrInvalidAction is returned for submissions that fail
	// validation, e.g. returning past the first step or delegating
	// without naming a delegate.
	ErrInvalidAction = errors.New("invalid action")
)
