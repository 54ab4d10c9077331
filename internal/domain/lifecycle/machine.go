package lifecycle

import (
	"fmt"
	"sort"

	"github.com/garyjia/staffops-approval/internal/models"
)

// Machine tracks one instance's position in a flow and validates
// transitions. It is a pure value: it never touches storage, so the same
// transition logic serves live processing and history replay.
type Machine struct {
	steps   []*models.ApprovalFlowStep // ascending by StepOrder
	status  Status
	current int // step order awaiting action; meaningful only while pending
}

// New builds a machine positioned at the first step of the flow, in the
// PENDING status a freshly created instance starts in.
func New(steps []*models.ApprovalFlowStep) (*Machine, error) {
	ordered, err := orderSteps(steps)
	if err != nil {
		return nil, err
	}
	return &Machine{
		steps:   ordered,
		status:  StatusPending,
		current: ordered[0].StepOrder,
	}, nil
}

// At builds a machine positioned at a stored instance state. A nil
// currentStep is only valid for terminal statuses.
func At(steps []*models.ApprovalFlowStep, status Status, currentStep *int) (*Machine, error) {
	ordered, err := orderSteps(steps)
	if err != nil {
		return nil, err
	}
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTransition, status)
	}

	m := &Machine{steps: ordered, status: status}
	if status == StatusPending {
		if currentStep == nil {
			return nil, fmt.Errorf("%w: pending instance without a current step", ErrInvalidTransition)
		}
		if stepAt(ordered, *currentStep) == nil {
			return nil, fmt.Errorf("%w: order %d", ErrUnknownStep, *currentStep)
		}
		m.current = *currentStep
	}
	return m, nil
}

// Status returns the current lifecycle status.
func (m *Machine) Status() Status {
	return m.status
}

// CurrentOrder returns the step order awaiting action. The second return
// is false once the machine is terminal.
func (m *Machine) CurrentOrder() (int, bool) {
	if m.status != StatusPending {
		return 0, false
	}
	return m.current, true
}

// CurrentStep returns the step definition awaiting action, or nil once
// terminal.
func (m *Machine) CurrentStep() *models.ApprovalFlowStep {
	if m.status != StatusPending {
		return nil
	}
	return stepAt(m.steps, m.current)
}

// Apply executes one action taken against the given step and transitions
// the machine. The step order must match the step currently awaiting
// action; stale submissions are rejected rather than silently ignored.
func (m *Machine) Apply(action ActionType, stepOrder int) error {
	if m.status.IsTerminal() {
		return fmt.Errorf("%w: status %s", ErrTerminalState, m.status)
	}
	if !action.IsValid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, action)
	}
	if stepOrder != m.current {
		return fmt.Errorf("%w: got %d, current is %d", ErrStepMismatch, stepOrder, m.current)
	}

	step := stepAt(m.steps, m.current)
	if step == nil {
		return fmt.Errorf("%w: order %d", ErrUnknownStep, m.current)
	}

	switch action {
	case ActionApproved:
		if step.IsFinal {
			m.status = StatusApproved
			return nil
		}
		next := m.stepAfter(m.current)
		if next == nil {
			return fmt.Errorf("%w: no step after non-final step %d", ErrInvalidTransition, m.current)
		}
		m.current = next.StepOrder
		return nil

	case ActionRejected:
		m.status = StatusRejected
		return nil

	case ActionCancelled:
		m.status = StatusCancelled
		return nil

	case ActionReturned:
		prev := m.stepBefore(m.current)
		if prev == nil {
			return fmt.Errorf("%w: cannot return past the first step", ErrInvalidTransition)
		}
		m.current = prev.StepOrder
		return nil

	case ActionDelegated:
		// Delegation changes who may act, never where the instance is.
		return nil
	}

	return fmt.Errorf("%w: unhandled action %q", ErrInvalidTransition, action)
}

// Replay folds an ordered action history over a fresh machine and
// returns the resulting state. Delegations are applied for validation
// but do not move the machine, matching live behavior.
func Replay(steps []*models.ApprovalFlowStep, actions []*models.ApprovalAction) (*Machine, error) {
	m, err := New(steps)
	if err != nil {
		return nil, err
	}
	for _, a := range actions {
		if err := m.Apply(ActionType(a.Action), a.StepOrder); err != nil {
			return nil, fmt.Errorf("replay action %d: %w", a.ID, err)
		}
	}
	return m, nil
}

// stepAfter returns the next step above order, or nil.
func (m *Machine) stepAfter(order int) *models.ApprovalFlowStep {
	for _, s := range m.steps {
		if s.StepOrder > order {
			return s
		}
	}
	return nil
}

// stepBefore returns the closest step below order, or nil.
func (m *Machine) stepBefore(order int) *models.ApprovalFlowStep {
	var prev *models.ApprovalFlowStep
	for _, s := range m.steps {
		if s.StepOrder >= order {
			break
		}
		prev = s
	}
	return prev
}

func stepAt(steps []*models.ApprovalFlowStep, order int) *models.ApprovalFlowStep {
	for _, s := range steps {
		if s.StepOrder == order {
			return s
		}
	}
	return nil
}

// orderSteps copies and sorts steps ascending, rejecting empty flows and
// duplicate orders.
func orderSteps(steps []*models.ApprovalFlowStep) ([]*models.ApprovalFlowStep, error) {
	if len(steps) == 0 {
		return nil, ErrNoSteps
	}
	ordered := make([]*models.ApprovalFlowStep, len(steps))
	copy(ordered, steps)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].StepOrder < ordered[j].StepOrder
	})
	for i := 1; i < len(ordered); i++ {
		if ordered[i].StepOrder == ordered[i-1].StepOrder {
			return nil, fmt.Errorf("%w: duplicate order %d", ErrUnknownStep, ordered[i].StepOrder)
		}
	}
	return ordered, nil
}
