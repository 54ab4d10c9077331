package lifecycle

import (
	"errors"
	"testing"

	"github.com/garyjia/staffops-approval/internal/models"
)

func threeStepFlow() []*models.ApprovalFlowStep {
	return []*models.ApprovalFlowStep{
		{StepOrder: 10, ApproverType: models.ApproverManager},
		{StepOrder: 20, ApproverType: models.ApproverDepartmentHead},
		{StepOrder: 30, ApproverType: models.ApproverRole, ApproverRoleCode: "HR_MANAGER", IsFinal: true},
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		expected bool
	}{
		{StatusPending, false},
		{StatusApproved, true},
		{StatusRejected, true},
		{StatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.expected {
				t.Errorf("Status.IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestNew_RejectsEmptyFlow(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrNoSteps) {
		t.Errorf("New(nil) error = %v, want ErrNoSteps", err)
	}
}

func TestNew_StartsAtFirstStep(t *testing.T) {
	m, err := New(threeStepFlow())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if m.Status() != StatusPending {
		t.Errorf("Status() = %v, want PENDING", m.Status())
	}
	order, ok := m.CurrentOrder()
	if !ok || order != 10 {
		t.Errorf("CurrentOrder() = %d, %v, want 10, true", order, ok)
	}
}

func TestMachine_ApproveAdvances(t *testing.T) {
	m, _ := New(threeStepFlow())

	if err := m.Apply(ActionApproved, 10); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	order, _ := m.CurrentOrder()
	if order != 20 {
		t.Errorf("CurrentOrder() = %d, want 20", order)
	}
	if m.Status() != StatusPending {
		t.Errorf("Status() = %v, want PENDING", m.Status())
	}
}

func TestMachine_ApproveAtFinalStepResolves(t *testing.T) {
	m, _ := New(threeStepFlow())
	mustApply(t, m, ActionApproved, 10)
	mustApply(t, m, ActionApproved, 20)

	if err := m.Apply(ActionApproved, 30); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if m.Status() != StatusApproved {
		t.Errorf("Status() = %v, want APPROVED", m.Status())
	}
	if _, ok := m.CurrentOrder(); ok {
		t.Error("CurrentOrder() should report no current step once terminal")
	}
}

func TestMachine_RejectIsImmediatelyTerminal(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *Machine)
		step  int
	}{
		{"at first step", func(m *Machine) {}, 10},
		{"mid flow", func(m *Machine) { mustApply(t, m, ActionApproved, 10) }, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := New(threeStepFlow())
			tt.setup(m)

			if err := m.Apply(ActionRejected, tt.step); err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			if m.Status() != StatusRejected {
				t.Errorf("Status() = %v, want REJECTED", m.Status())
			}
		})
	}
}

func TestMachine_ReturnMovesToPreviousStep(t *testing.T) {
	m, _ := New(threeStepFlow())
	mustApply(t, m, ActionApproved, 10)
	mustApply(t, m, ActionApproved, 20)

	if err := m.Apply(ActionReturned, 30); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	order, _ := m.CurrentOrder()
	if order != 20 {
		t.Errorf("CurrentOrder() = %d, want 20", order)
	}
}

func TestMachine_ReturnAtFirstStepIsInvalid(t *testing.T) {
	m, _ := New(threeStepFlow())

	err := m.Apply(ActionReturned, 10)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Apply() error = %v, want ErrInvalidTransition", err)
	}

	// No state change on rejection of the action.
	order, _ := m.CurrentOrder()
	if order != 10 || m.Status() != StatusPending {
		t.Errorf("state changed after invalid return: order=%d status=%v", order, m.Status())
	}
}

func TestMachine_StaleStepIsConflict(t *testing.T) {
	m, _ := New(threeStepFlow())
	mustApply(t, m, ActionApproved, 10)

	if err := m.Apply(ActionApproved, 10); !errors.Is(err, ErrStepMismatch) {
		t.Errorf("Apply() error = %v, want ErrStepMismatch", err)
	}
}

func TestMachine_TerminalRejectsFurtherActions(t *testing.T) {
	m, _ := New(threeStepFlow())
	mustApply(t, m, ActionRejected, 10)

	if err := m.Apply(ActionApproved, 10); !errors.Is(err, ErrTerminalState) {
		t.Errorf("Apply() error = %v, want ErrTerminalState", err)
	}
}

func TestMachine_DelegateKeepsPosition(t *testing.T) {
	m, _ := New(threeStepFlow())

	if err := m.Apply(ActionDelegated, 10); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	order, _ := m.CurrentOrder()
	if order != 10 || m.Status() != StatusPending {
		t.Errorf("delegate moved the machine: order=%d status=%v", order, m.Status())
	}
}

func TestMachine_CancelIsTerminal(t *testing.T) {
	m, _ := New(threeStepFlow())

	if err := m.Apply(ActionCancelled, 10); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if m.Status() != StatusCancelled {
		t.Errorf("Status() = %v, want CANCELLED", m.Status())
	}
}

func TestReplay_ReproducesStoredState(t *testing.T) {
	steps := threeStepFlow()

	tests := []struct {
		name       string
		actions    []*models.ApprovalAction
		wantStatus Status
		wantOrder  int // 0 = terminal
	}{
		{
			name:       "empty history stays at first step",
			actions:    nil,
			wantStatus: StatusPending,
			wantOrder:  10,
		},
		{
			name: "approve, delegate, approve",
			actions: []*models.ApprovalAction{
				{StepOrder: 10, Action: models.ActionApproved},
				{StepOrder: 20, Action: models.ActionDelegated, DelegateTo: "u-99"},
				{StepOrder: 20, Action: models.ActionApproved},
			},
			wantStatus: StatusPending,
			wantOrder:  30,
		},
		{
			name: "full approval chain",
			actions: []*models.ApprovalAction{
				{StepOrder: 10, Action: models.ActionApproved},
				{StepOrder: 20, Action: models.ActionApproved},
				{StepOrder: 30, Action: models.ActionApproved},
			},
			wantStatus: StatusApproved,
		},
		{
			name: "return then re-approve",
			actions: []*models.ApprovalAction{
				{StepOrder: 10, Action: models.ActionApproved},
				{StepOrder: 20, Action: models.ActionReturned},
				{StepOrder: 10, Action: models.ActionApproved},
			},
			wantStatus: StatusPending,
			wantOrder:  20,
		},
		{
			name: "rejection halts the chain",
			actions: []*models.ApprovalAction{
				{StepOrder: 10, Action: models.ActionApproved},
				{StepOrder: 20, Action: models.ActionRejected},
			},
			wantStatus: StatusRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Replay(steps, tt.actions)
			if err != nil {
				t.Fatalf("Replay() error = %v", err)
			}
			if m.Status() != tt.wantStatus {
				t.Errorf("Status() = %v, want %v", m.Status(), tt.wantStatus)
			}
			if tt.wantStatus == StatusPending {
				order, _ := m.CurrentOrder()
				if order != tt.wantOrder {
					t.Errorf("CurrentOrder() = %d, want %d", order, tt.wantOrder)
				}
			}
		})
	}
}

func TestReplay_RejectsCorruptHistory(t *testing.T) {
	actions := []*models.ApprovalAction{
		{StepOrder: 20, Action: models.ActionApproved}, // not the current step
	}

	if _, err := Replay(threeStepFlow(), actions); !errors.Is(err, ErrStepMismatch) {
		t.Errorf("Replay() error = %v, want ErrStepMismatch", err)
	}
}

func TestMachine_NonContiguousOrders(t *testing.T) {
	steps := []*models.ApprovalFlowStep{
		{StepOrder: 5, ApproverType: models.ApproverManager},
		{StepOrder: 50, ApproverType: models.ApproverSkipManager},
		{StepOrder: 500, ApproverType: models.ApproverSpecificUser, SpecificApproverID: "u-1", IsFinal: true},
	}
	m, _ := New(steps)

	mustApply(t, m, ActionApproved, 5)
	order, _ := m.CurrentOrder()
	if order != 50 {
		t.Fatalf("CurrentOrder() = %d, want 50", order)
	}

	mustApply(t, m, ActionReturned, 50)
	order, _ = m.CurrentOrder()
	if order != 5 {
		t.Errorf("CurrentOrder() = %d, want 5", order)
	}
}

func mustApply(t *testing.T, m *Machine, action ActionType, step int) {
	t.Helper()
	if err := m.Apply(action, step); err != nil {
		t.Fatalf("Apply(%s, %d) error = %v", action, step, err)
	}
}
