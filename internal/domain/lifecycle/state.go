package lifecycle

// Status represents an instance state in the approval lifecycle. PENDING
// is parameterized by the current step order tracked on the machine; the
// remaining statuses are terminal.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
)

var validStatuses = map[Status]bool{
	StatusPending:   true,
	StatusApproved:  true,
	StatusRejected:  true,
	StatusCancelled: true,
}

var terminalStatuses = map[Status]bool{
	StatusApproved:  true,
	StatusRejected:  true,
	StatusCancelled: true,
}

// IsTerminal returns true if the status allows no further transitions.
func (s Status) IsTerminal() bool {
	return terminalStatuses[s]
}

// IsValid returns true if the status is a known lifecycle status.
func (s Status) IsValid() bool {
	return validStatuses[s]
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// ActionType represents a decision that can drive a transition.
type ActionType string

const (
	ActionApproved  ActionType = "APPROVED"
	ActionRejected  ActionType = "REJECTED"
	ActionReturned  ActionType = "RETURNED"
	ActionDelegated ActionType = "DELEGATED"
	ActionCancelled ActionType = "CANCELLED"
)

var validActions = map[ActionType]bool{
	ActionApproved:  true,
	ActionRejected:  true,
	ActionReturned:  true,
	ActionDelegated: true,
	ActionCancelled: true,
}

// IsValid returns true if the action type is known.
func (a ActionType) IsValid() bool {
	return validActions[a]
}

// String returns the string representation of the action type.
func (a ActionType) String() string {
	return string(a)
}
