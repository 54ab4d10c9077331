package models

import "time"

// Requester captures who submitted a request and their organizational
// coordinates at submission time. Scope resolution is never re-evaluated
// mid-flight, so these values are frozen on the instance.
type Requester struct {
	UserID string `json:"user_id"`
	Scope  Scope  `json:"scope"`
}

// ApprovalInstance is one in-flight (or resolved) approval process bound
// to a specific submitted request. The engine is the only writer of
// Status, CurrentStepOrder and ResolvedAt after creation.
type ApprovalInstance struct {
	ID               int64      `json:"id"`
	Code             string     `json:"code"` // public uuid reference
	TargetType       string     `json:"target_type"`
	TargetID         string     `json:"target_id"`
	FlowID           int64      `json:"flow_id"`
	Requester        Requester  `json:"requester"`
	Status           string     `json:"status"` // PENDING, APPROVED, REJECTED, CANCELLED
	CurrentStepOrder *int       `json:"current_step_order,omitempty"`
	IsUrgent         bool       `json:"is_urgent"`
	StepEnteredAt    time.Time  `json:"step_entered_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	FinalComment     string     `json:"final_comment,omitempty"`
}

// IsTerminal reports whether the instance has reached a final status.
func (i *ApprovalInstance) IsTerminal() bool {
	return i.Status != StatusPending
}

// StepOverride is an instance-scoped addition to the authorized-actor set
// of one step, created by delegation or escalation. Overrides never touch
// the shared flow definition. Escalation rows are keyed by the
// step-entered timestamp so a sweep can tell whether escalation already
// fired for the current dwell period.
type StepOverride struct {
	ID            int64     `json:"id"`
	InstanceID    int64     `json:"instance_id"`
	StepOrder     int       `json:"step_order"`
	Kind          string    `json:"kind"` // DELEGATE or ESCALATION
	ActorID       string    `json:"actor_id"`
	StepEnteredAt time.Time `json:"step_entered_at"`
	CreatedAt     time.Time `json:"created_at"`
}
