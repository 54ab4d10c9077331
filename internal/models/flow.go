package models

import "time"

// Scope is the organizational filter attached to a flow. An empty field
// acts as a wildcard and matches any requester value for that dimension.
type Scope struct {
	Region     string `json:"region,omitempty"`
	Branch     string `json:"branch,omitempty"`
	Department string `json:"department,omitempty"`
	Position   string `json:"position,omitempty"`
}

// Matches reports whether the flow scope accepts the requester scope.
// Each dimension must be either unset or equal to the requester's value.
func (s Scope) Matches(r Scope) bool {
	if s.Region != "" && s.Region != r.Region {
		return false
	}
	if s.Branch != "" && s.Branch != r.Branch {
		return false
	}
	if s.Department != "" && s.Department != r.Department {
		return false
	}
	if s.Position != "" && s.Position != r.Position {
		return false
	}
	return true
}

// Specificity counts the non-wildcard dimensions (0-4). Used to rank
// competing flows for the same target type.
func (s Scope) Specificity() int {
	n := 0
	if s.Region != "" {
		n++
	}
	if s.Branch != "" {
		n++
	}
	if s.Department != "" {
		n++
	}
	if s.Position != "" {
		n++
	}
	return n
}

// ApprovalFlow is a named configuration record defining an ordered
// sequence of approval steps for one category of request.
type ApprovalFlow struct {
	ID         int64               `json:"id"`
	Code       string              `json:"code"`
	Name       string              `json:"name"`
	TargetType string              `json:"target_type"` // leave, claim, staff_loan, ...
	Priority   int                 `json:"priority"`
	IsActive   bool                `json:"is_active"`
	Scope      Scope               `json:"scope"`
	Steps      []*ApprovalFlowStep `json:"steps"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// StepAt returns the step with the given order, or nil.
func (f *ApprovalFlow) StepAt(order int) *ApprovalFlowStep {
	for _, s := range f.Steps {
		if s.StepOrder == order {
			return s
		}
	}
	return nil
}

// ApprovalFlowStep is one position in a flow. Step orders are unique and
// strictly increasing within a flow but need not be contiguous.
type ApprovalFlowStep struct {
	ID                 int64  `json:"id"`
	FlowID             int64  `json:"flow_id"`
	StepOrder          int    `json:"step_order"`
	ApproverType       string `json:"approver_type"`
	ApproverRoleCode   string `json:"approver_role_code,omitempty"`   // required iff approver_type = role
	SpecificApproverID string `json:"specific_approver_id,omitempty"` // required iff approver_type = specific_user
	IsFinal            bool   `json:"is_final"`
	CanSkip            bool   `json:"can_skip"`
	AutoApproveHours   int    `json:"auto_approve_hours"` // 0 = disabled
	EscalationRoleCode string `json:"escalation_role_code,omitempty"`
	EscalationHours    int    `json:"escalation_hours"` // 0 = disabled
	Instructions       string `json:"instructions,omitempty"`
}
