package lifecycle

import "errors"

var (
	// ErrInvalidTransition is returned when an action is not allowed in
	// the current state, e.g. returning past the first step.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrTerminalState is returned when an action targets an instance
	// that has already resolved.
	ErrTerminalState = errors.New("instance is in a terminal state")

	// ErrStepMismatch is returned when an action names a step other than
	// the one currently awaiting action.
	ErrStepMismatch = errors.New("step does not match current step")

	// ErrNoSteps is returned when a machine is built from a flow with no
	// steps.
	ErrNoSteps = errors.New("flow has no steps")

	// ErrUnknownStep is returned when the machine is positioned at a step
	// order the flow does not define.
	ErrUnknownStep = errors.New("step order not defined by flow")
)
