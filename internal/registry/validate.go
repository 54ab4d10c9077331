package registry

import (
	"fmt"

	"github.com/garyjia/staffops-approval/internal/models"
	"github.com/garyjia/staffops-approval/pkg/utils"
)

// ValidateFlow checks a flow definition before it is saved. Every
// violation is a configuration error: a flow with zero steps, more than
// one final step, or a final step that is not last must be rejected here
// rather than discovered mid-approval.
func ValidateFlow(flow *models.ApprovalFlow) error {
	if flow.Code == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidFlow)
	}
	if err := utils.ValidateCode(flow.Code); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFlow, err)
	}
	if flow.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidFlow)
	}
	if flow.TargetType == "" {
		return fmt.Errorf("%w: target_type is required", ErrInvalidFlow)
	}
	if len(flow.Steps) == 0 {
		return fmt.Errorf("%w: flow %q has no steps", ErrInvalidFlow, flow.Code)
	}

	finals := 0
	maxOrder := 0
	var finalOrder int
	seen := make(map[int]bool, len(flow.Steps))

	for _, step := range flow.Steps {
		if err := validateStep(flow.Code, step); err != nil {
			return err
		}
		if seen[step.StepOrder] {
			return fmt.Errorf("%w: flow %q has duplicate step order %d", ErrInvalidFlow, flow.Code, step.StepOrder)
		}
		seen[step.StepOrder] = true
		if step.StepOrder > maxOrder {
			maxOrder = step.StepOrder
		}
		if step.IsFinal {
			finals++
			finalOrder = step.StepOrder
		}
	}

	if finals != 1 {
		return fmt.Errorf("%w: flow %q must have exactly one final step, has %d", ErrInvalidFlow, flow.Code, finals)
	}
	if finalOrder != maxOrder {
		return fmt.Errorf("%w: flow %q final step must have the highest order (final=%d, max=%d)",
			ErrInvalidFlow, flow.Code, finalOrder, maxOrder)
	}

	return nil
}

func validateStep(flowCode string, step *models.ApprovalFlowStep) error {
	if step.StepOrder <= 0 {
		return fmt.Errorf("%w: flow %q step order must be positive, got %d", ErrInvalidFlow, flowCode, step.StepOrder)
	}
	if !models.IsValidApproverType(step.ApproverType) {
		return fmt.Errorf("%w: flow %q step %d has unknown approver type %q",
			ErrInvalidFlow, flowCode, step.StepOrder, step.ApproverType)
	}

	if step.ApproverType == models.ApproverRole && step.ApproverRoleCode == "" {
		return fmt.Errorf("%w: flow %q step %d requires approver_role_code", ErrInvalidFlow, flowCode, step.StepOrder)
	}
	if step.ApproverType != models.ApproverRole && step.ApproverRoleCode != "" {
		return fmt.Errorf("%w: flow %q step %d sets approver_role_code without role type", ErrInvalidFlow, flowCode, step.StepOrder)
	}
	if step.ApproverType == models.ApproverSpecificUser && step.SpecificApproverID == "" {
		return fmt.Errorf("%w: flow %q step %d requires specific_approver_id", ErrInvalidFlow, flowCode, step.StepOrder)
	}
	if step.ApproverType != models.ApproverSpecificUser && step.SpecificApproverID != "" {
		return fmt.Errorf("%w: flow %q step %d sets specific_approver_id without specific_user type", ErrInvalidFlow, flowCode, step.StepOrder)
	}

	if step.AutoApproveHours < 0 {
		return fmt.Errorf("%w: flow %q step %d has negative auto_approve_hours", ErrInvalidFlow, flowCode, step.StepOrder)
	}
	if step.EscalationHours < 0 {
		return fmt.Errorf("%w: flow %q step %d has negative escalation_hours", ErrInvalidFlow, flowCode, step.StepOrder)
	}
	if step.EscalationHours > 0 && step.EscalationRoleCode == "" {
		return fmt.Errorf("%w: flow %q step %d enables escalation without escalation_role_code", ErrInvalidFlow, flowCode, step.StepOrder)
	}
	if step.EscalationHours == 0 && step.EscalationRoleCode != "" {
		return fmt.Errorf("%w: flow %q step %d sets escalation_role_code with escalation disabled", ErrInvalidFlow, flowCode, step.StepOrder)
	}

	return nil
}
