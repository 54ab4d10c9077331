package registry

import "errors"

var (
	// ErrNoFlowMatches is returned when no active flow covers the
	// requester's target type and scope. Never silently defaulted.
	ErrNoFlowMatches = errors.New("no approval flow matches")

	// ErrAmbiguousFlows is returned when two matching flows tie on both
	// specificity and priority. Surfaced to the caller, not resolved
	// arbitrarily.
	ErrAmbiguousFlows = errors.New("ambiguous approval flow configuration")

	// ErrFlowNotFound is returned when a flow code does not exist.
	ErrFlowNotFound = errors.New("approval flow not found")

	// ErrInvalidFlow is returned when a flow definition fails save-time
	// validation.
	ErrInvalidFlow = errors.New("invalid approval flow definition")
)
