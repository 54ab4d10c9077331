package models

import "time"

// ApprovalAction is one immutable decision taken against an instance at a
// given step. The ordered action sequence is the instance's full audit
// trail; Status and CurrentStepOrder are always reproducible by folding
// the flow definition over this sequence.
type ApprovalAction struct {
	ID         int64     `json:"id"`
	InstanceID int64     `json:"instance_id"`
	StepOrder  int       `json:"step_order"`
	ActorID    string    `json:"actor_id"`
	Action     string    `json:"action"` // APPROVED, REJECTED, RETURNED, DELEGATED, CANCELLED
	Comment    string    `json:"comment,omitempty"`
	DelegateTo string    `json:"delegate_to,omitempty"` // set iff Action = DELEGATED
	ActedAt    time.Time `json:"acted_at"`
}

// Notification is one queued outbound message about an instance event.
// Rows are written by the engine and drained best-effort by a dispatch
// worker; delivery failure never affects the committed instance state.
type Notification struct {
	ID         int64      `json:"id"`
	InstanceID int64      `json:"instance_id"`
	Event      string     `json:"event"`
	Recipients []string   `json:"recipients"`
	Status     string     `json:"status"` // PENDING, SENT, FAILED
	CreatedAt  time.Time  `json:"created_at"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
}
