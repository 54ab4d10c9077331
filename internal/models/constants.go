package models

// Status constants for ApprovalInstance
const (
	StatusPending   = "PENDING"
	StatusApproved  = "APPROVED"
	StatusRejected  = "REJECTED"
	StatusCancelled = "CANCELLED"
)

// Action type constants for ApprovalAction
const (
	ActionApproved  = "APPROVED"
	ActionRejected  = "REJECTED"
	ActionReturned  = "RETURNED"
	ActionDelegated = "DELEGATED"
	ActionCancelled = "CANCELLED"
)

// Approver type constants for ApprovalFlowStep. This is a closed set:
// the resolver dispatches over it with a switch, not a plugin registry.
const (
	ApproverRole            = "role"
	ApproverManager         = "manager"
	ApproverSkipManager     = "skip_manager"
	ApproverBranchManager   = "branch_manager"
	ApproverRegionalManager = "regional_manager"
	ApproverDepartmentHead  = "department_head"
	ApproverSpecificUser    = "specific_user"
)

// ApproverTypes lists every valid approver type.
var ApproverTypes = []string{
	ApproverRole,
	ApproverManager,
	ApproverSkipManager,
	ApproverBranchManager,
	ApproverRegionalManager,
	ApproverDepartmentHead,
	ApproverSpecificUser,
}

// IsValidApproverType reports whether t names a known approver type.
func IsValidApproverType(t string) bool {
	for _, v := range ApproverTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Synthetic actor identities used for engine-generated actions.
const (
	ActorSystemSkip        = "system:skip"
	ActorSystemAutoApprove = "system:auto-approve"
	ActorSystemEscalation  = "system:escalation"
)

// IsSystemActor reports whether the identity is an engine-generated actor.
func IsSystemActor(id string) bool {
	return id == ActorSystemSkip || id == ActorSystemAutoApprove || id == ActorSystemEscalation
}

// Override kind constants for StepOverride
const (
	OverrideDelegate   = "DELEGATE"
	OverrideEscalation = "ESCALATION"
)

// Notification status constants
const (
	NotificationStatusPending = "PENDING"
	NotificationStatusSent    = "SENT"
	NotificationStatusFailed  = "FAILED"
)

// Notification event names emitted by the engine.
const (
	EventInstanceCreated  = "INSTANCE_CREATED"
	EventStepAdvanced     = "STEP_ADVANCED"
	EventInstanceResolved = "INSTANCE_RESOLVED"
	EventStepEscalated    = "STEP_ESCALATED"
	EventStepBlocked      = "STEP_BLOCKED"
)
