// Package engine implements the action processor, the single mutation
// gateway for approval instances. Every state change — human decisions,
// scheduler auto-actions, cancellations — goes through SubmitAction, so
// the per-instance optimistic guard covers all writers.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/staffops-approval/internal/domain/lifecycle"
	"github.com/garyjia/staffops-approval/internal/models"
	"github.com/garyjia/staffops-approval/internal/registry"
	"github.com/garyjia/staffops-approval/internal/repository"
	"github.com/garyjia/staffops-approval/internal/resolver"
	"github.com/garyjia/staffops-approval/pkg/database"
)

// SubmitRequest carries one action submission.
type SubmitRequest struct {
	InstanceID int64
	StepOrder  int
	ActorID    string
	Action     string
	Comment    string
	DelegateTo string // required iff Action = DELEGATED
}

// Processor validates and applies actions against approval instances.
type Processor struct {
	db          *database.DB
	instances   *repository.InstanceRepository
	actions     *repository.ActionRepository
	overrides   *repository.OverrideRepository
	registry    *registry.Service
	resolver    *resolver.Resolver
	notifier    NotificationSink
	audit       AuditSink
	completions CompletionHandler
	logger      *zap.Logger
	now         func() time.Time
}

// NewProcessor creates a new action processor.
func NewProcessor(
	db *database.DB,
	instances *repository.InstanceRepository,
	actions *repository.ActionRepository,
	overrides *repository.OverrideRepository,
	reg *registry.Service,
	res *resolver.Resolver,
	notifier NotificationSink,
	audit AuditSink,
	completions CompletionHandler,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		db:          db,
		instances:   instances,
		actions:     actions,
		overrides:   overrides,
		registry:    reg,
		resolver:    res,
		notifier:    notifier,
		audit:       audit,
		completions: completions,
		logger:      logger,
		now:         time.Now,
	}
}

// SetClock overrides the processor's time source. Intended for tests.
func (p *Processor) SetClock(now func() time.Time) {
	p.now = now
}

// CreateInstance selects the governing flow for a request and opens an
// approval instance at its first step. Skippable steps with no eligible
// approver are skipped immediately, each recorded as a synthetic
// approval, so the instance lands on the first actionable step.
func (p *Processor) CreateInstance(
	ctx context.Context,
	targetType, targetID string,
	requester models.Requester,
	isUrgent bool,
) (*models.ApprovalInstance, error) {
	flow, err := p.registry.SelectFlow(ctx, targetType, requester.Scope)
	if err != nil {
		return nil, err
	}

	machine, err := lifecycle.New(flow.Steps)
	if err != nil {
		return nil, fmt.Errorf("%w: flow %q: %v", registry.ErrInvalidFlow, flow.Code, err)
	}

	skips, _, err := p.skipForward(ctx, machine, requester)
	if err != nil {
		return nil, err
	}

	now := p.now()
	instance := &models.ApprovalInstance{
		Code:          uuid.NewString(),
		TargetType:    targetType,
		TargetID:      targetID,
		FlowID:        flow.ID,
		Requester:     requester,
		Status:        string(machine.Status()),
		IsUrgent:      isUrgent,
		StepEnteredAt: now,
		CreatedAt:     now,
	}
	if order, ok := machine.CurrentOrder(); ok {
		instance.CurrentStepOrder = &order
	} else {
		instance.ResolvedAt = &now
	}

	err = p.db.WithTransaction(func(tx *sql.Tx) error {
		if err := p.instances.Create(ctx, tx, instance); err != nil {
			return err
		}
		for _, skip := range skips {
			skip.InstanceID = instance.ID
			skip.ActedAt = now
			if err := p.actions.Create(ctx, tx, skip); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		p.logger.Error("Failed to create instance",
			zap.String("target_type", targetType),
			zap.String("target_id", targetID),
			zap.Error(err))
		return nil, err
	}

	p.logger.Info("Instance created",
		zap.Int64("id", instance.ID),
		zap.String("code", instance.Code),
		zap.String("flow", flow.Code),
		zap.String("status", instance.Status))
	p.audit.Record(ctx, "instance.created", requester.UserID, instance.Code, map[string]interface{}{
		"target_type": targetType,
		"target_id":   targetID,
		"flow":        flow.Code,
	})

	p.afterCommit(ctx, instance, flow, models.EventInstanceCreated)
	return instance, nil
}

// SubmitAction is the public entry point for a human or synthetic actor
// to act on an instance. Preconditions are checked in order: the
// instance exists and is pending, the step matches, the actor is
// authorized. The check-then-write sequence is serialized per instance
// by a conditional update, so two simultaneous decisions at the same
// step produce exactly one winner and one conflict.
func (p *Processor) SubmitAction(ctx context.Context, req SubmitRequest) (*models.ApprovalInstance, error) {
	instance, err := p.instances.GetByID(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, fmt.Errorf("%w: id %d", ErrInstanceNotFound, req.InstanceID)
	}
	if instance.IsTerminal() {
		return nil, fmt.Errorf("%w: status %s", ErrInstanceTerminal, instance.Status)
	}
	if instance.CurrentStepOrder == nil || *instance.CurrentStepOrder != req.StepOrder {
		return nil, fmt.Errorf("%w: submitted %d", ErrStaleStep, req.StepOrder)
	}

	actionType := lifecycle.ActionType(req.Action)
	if !actionType.IsValid() {
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidAction, req.Action)
	}
	if actionType == lifecycle.ActionDelegated && req.DelegateTo == "" {
		return nil, fmt.Errorf("%w: delegation must name a delegate", ErrInvalidAction)
	}

	flow, err := p.registry.GetFlowByID(ctx, instance.FlowID)
	if err != nil {
		return nil, err
	}
	step := flow.StepAt(req.StepOrder)
	if step == nil {
		return nil, fmt.Errorf("%w: flow %q has no step %d", ErrInvalidAction, flow.Code, req.StepOrder)
	}

	if err := p.authorize(ctx, instance, step, req.ActorID, actionType); err != nil {
		return nil, err
	}

	machine, err := lifecycle.At(flow.Steps, lifecycle.Status(instance.Status), instance.CurrentStepOrder)
	if err != nil {
		return nil, err
	}
	if err := machine.Apply(actionType, req.StepOrder); err != nil {
		return nil, mapLifecycleError(err)
	}

	// Resolution for skip-forward runs fresh per action, before the
	// guarded write; the guard still covers the whole plan.
	var skips []*models.ApprovalAction
	if actionType == lifecycle.ActionApproved && machine.Status() == lifecycle.StatusPending {
		skips, _, err = p.skipForward(ctx, machine, instance.Requester)
		if err != nil {
			return nil, err
		}
	}

	now := p.now()
	change := repository.StateChange{
		Status:        string(machine.Status()),
		StepEnteredAt: now,
		FinalComment:  instance.FinalComment,
	}
	if order, ok := machine.CurrentOrder(); ok {
		change.CurrentStepOrder = &order
	} else {
		change.ResolvedAt = &now
		change.FinalComment = req.Comment
	}
	if actionType == lifecycle.ActionDelegated {
		// Delegation leaves the dwell clock running.
		change.StepEnteredAt = instance.StepEnteredAt
	}

	primary := &models.ApprovalAction{
		InstanceID: instance.ID,
		StepOrder:  req.StepOrder,
		ActorID:    req.ActorID,
		Action:     req.Action,
		Comment:    req.Comment,
		DelegateTo: req.DelegateTo,
		ActedAt:    now,
	}

	err = p.db.WithTransaction(func(tx *sql.Tx) error {
		if err := p.instances.TransitionState(ctx, tx, instance.ID, models.StatusPending, instance.CurrentStepOrder, change); err != nil {
			return err
		}
		if err := p.actions.Create(ctx, tx, primary); err != nil {
			return err
		}
		for _, skip := range skips {
			skip.InstanceID = instance.ID
			skip.ActedAt = now
			if err := p.actions.Create(ctx, tx, skip); err != nil {
				return err
			}
		}
		if actionType == lifecycle.ActionDelegated {
			return p.overrides.Create(ctx, tx, &models.StepOverride{
				InstanceID:    instance.ID,
				StepOrder:     req.StepOrder,
				Kind:          models.OverrideDelegate,
				ActorID:       req.DelegateTo,
				StepEnteredAt: instance.StepEnteredAt,
			})
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		p.logger.Error("Failed to apply action",
			zap.Int64("instance_id", instance.ID),
			zap.String("action", req.Action),
			zap.Error(err))
		return nil, err
	}

	updated, err := p.instances.GetByID(ctx, instance.ID)
	if err != nil {
		return nil, err
	}

	p.logger.Info("Action applied",
		zap.Int64("instance_id", instance.ID),
		zap.String("action", req.Action),
		zap.String("actor", req.ActorID),
		zap.Int("step", req.StepOrder),
		zap.String("status", updated.Status))
	p.audit.Record(ctx, "instance.action", req.ActorID, updated.Code, map[string]interface{}{
		"action": req.Action,
		"step":   req.StepOrder,
		"status": updated.Status,
	})

	if actionType == lifecycle.ActionDelegated {
		p.notifyBestEffort(ctx, updated.ID, models.EventStepAdvanced, []string{req.DelegateTo})
	} else {
		p.afterCommit(ctx, updated, flow, models.EventStepAdvanced)
	}
	return updated, nil
}

// CancelInstance cancels a pending instance on behalf of its requester.
func (p *Processor) CancelInstance(ctx context.Context, instanceID int64, actorID, comment string) (*models.ApprovalInstance, error) {
	instance, err := p.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, fmt.Errorf("%w: id %d", ErrInstanceNotFound, instanceID)
	}
	if instance.CurrentStepOrder == nil {
		return nil, fmt.Errorf("%w: status %s", ErrInstanceTerminal, instance.Status)
	}
	return p.SubmitAction(ctx, SubmitRequest{
		InstanceID: instanceID,
		StepOrder:  *instance.CurrentStepOrder,
		ActorID:    actorID,
		Action:     models.ActionCancelled,
		Comment:    comment,
	})
}

// Delegate adds an extra authorized actor to an instance's current step.
// Thin wrapper over SubmitAction for callers that know only the target.
func (p *Processor) Delegate(ctx context.Context, instanceID int64, stepOrder int, actorID, delegateTo, comment string) (*models.ApprovalInstance, error) {
	return p.SubmitAction(ctx, SubmitRequest{
		InstanceID: instanceID,
		StepOrder:  stepOrder,
		ActorID:    actorID,
		Action:     models.ActionDelegated,
		Comment:    comment,
		DelegateTo: delegateTo,
	})
}

// ApproverSet returns the identities currently authorized to act at an
// instance's current step: fresh resolution plus any delegation or
// escalation overrides.
func (p *Processor) ApproverSet(ctx context.Context, instance *models.ApprovalInstance, step *models.ApprovalFlowStep) ([]string, error) {
	resolved, err := p.resolver.Resolve(ctx, step, instance.Requester)
	if err != nil {
		return nil, err
	}
	extra, err := p.overrides.ListActors(ctx, instance.ID, step.StepOrder)
	if err != nil {
		return nil, err
	}
	return append(resolved, extra...), nil
}

func (p *Processor) authorize(
	ctx context.Context,
	instance *models.ApprovalInstance,
	step *models.ApprovalFlowStep,
	actorID string,
	actionType lifecycle.ActionType,
) error {
	if models.IsSystemActor(actorID) {
		return nil
	}
	if actionType == lifecycle.ActionCancelled {
		if actorID != instance.Requester.UserID {
			return fmt.Errorf("%w: only the requester may cancel", ErrNotAuthorized)
		}
		return nil
	}

	approvers, err := p.ApproverSet(ctx, instance, step)
	if err != nil {
		return err
	}
	for _, id := range approvers {
		if id == actorID {
			return nil
		}
	}
	return fmt.Errorf("%w: %q at step %d", ErrNotAuthorized, actorID, step.StepOrder)
}

// skipForward advances the machine past steps whose approver set
// resolves empty and that allow skipping, recording a synthetic approval
// for each. A non-skippable empty step leaves the machine parked there:
// blocked is an observable state, not an error.
func (p *Processor) skipForward(
	ctx context.Context,
	machine *lifecycle.Machine,
	requester models.Requester,
) (skips []*models.ApprovalAction, blocked bool, err error) {
	for {
		step := machine.CurrentStep()
		if step == nil {
			return skips, false, nil // terminal, nothing left to inspect
		}
		approvers, err := p.resolver.Resolve(ctx, step, requester)
		if err != nil {
			return nil, false, err
		}
		if len(approvers) > 0 {
			return skips, false, nil
		}
		if !step.CanSkip {
			return skips, true, nil
		}
		order := step.StepOrder
		if err := machine.Apply(lifecycle.ActionApproved, order); err != nil {
			return nil, false, mapLifecycleError(err)
		}
		skips = append(skips, &models.ApprovalAction{
			StepOrder: order,
			ActorID:   models.ActorSystemSkip,
			Action:    models.ActionApproved,
			Comment:   "no eligible approver",
		})
	}
}

// afterCommit emits best-effort side effects once the mutation is
// durable. Failures here are logged and swallowed.
func (p *Processor) afterCommit(ctx context.Context, instance *models.ApprovalInstance, flow *models.ApprovalFlow, event string) {
	if instance.IsTerminal() {
		p.completions.InstanceResolved(ctx, instance)
		p.notifyBestEffort(ctx, instance.ID, models.EventInstanceResolved, []string{instance.Requester.UserID})
		return
	}
	if instance.CurrentStepOrder == nil {
		return
	}

	step := flow.StepAt(*instance.CurrentStepOrder)
	if step == nil {
		return
	}
	approvers, err := p.resolver.Resolve(ctx, step, instance.Requester)
	if err != nil {
		p.logger.Warn("Failed to resolve approvers for notification",
			zap.Int64("instance_id", instance.ID), zap.Error(err))
		return
	}
	if len(approvers) == 0 {
		p.logger.Warn("Instance blocked: no eligible approver",
			zap.Int64("instance_id", instance.ID),
			zap.Int("step", *instance.CurrentStepOrder))
		p.notifyBestEffort(ctx, instance.ID, models.EventStepBlocked, []string{instance.Requester.UserID})
		return
	}
	p.notifyBestEffort(ctx, instance.ID, event, approvers)
}

func (p *Processor) notifyBestEffort(ctx context.Context, instanceID int64, event string, recipients []string) {
	if err := p.notifier.Notify(ctx, instanceID, event, recipients); err != nil {
		p.logger.Warn("Notification dispatch failed",
			zap.Int64("instance_id", instanceID),
			zap.String("event", event),
			zap.Error(err))
	}
}

// GetInstance retrieves an instance by numeric id.
func (p *Processor) GetInstance(ctx context.Context, id int64) (*models.ApprovalInstance, error) {
	instance, err := p.instances.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, fmt.Errorf("%w: id %d", ErrInstanceNotFound, id)
	}
	return instance, nil
}

// GetInstanceByCode retrieves an instance by its public reference code.
func (p *Processor) GetInstanceByCode(ctx context.Context, code string) (*models.ApprovalInstance, error) {
	instance, err := p.instances.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, fmt.Errorf("%w: code %q", ErrInstanceNotFound, code)
	}
	return instance, nil
}

// GetInstanceByTarget retrieves the latest instance bound to a target
// reference.
func (p *Processor) GetInstanceByTarget(ctx context.Context, targetType, targetID string) (*models.ApprovalInstance, error) {
	instance, err := p.instances.GetByTarget(ctx, targetType, targetID)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrInstanceNotFound, targetType, targetID)
	}
	return instance, nil
}

// History returns an instance's full action trail.
func (p *Processor) History(ctx context.Context, instanceID int64) ([]*models.ApprovalAction, error) {
	return p.actions.ListByInstance(ctx, instanceID)
}

// ListInstances returns a page of instances, newest first.
func (p *Processor) ListInstances(ctx context.Context, limit, offset int) ([]*models.ApprovalInstance, error) {
	return p.instances.List(ctx, limit, offset)
}

// ListPending returns every pending instance, oldest step first.
func (p *Processor) ListPending(ctx context.Context) ([]*models.ApprovalInstance, error) {
	return p.instances.ListPending(ctx)
}

// CurrentApprovers resolves who may act on an instance's current step
// right now, delegation grants included.
func (p *Processor) CurrentApprovers(ctx context.Context, instanceID int64) ([]string, error) {
	instance, err := p.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if instance.CurrentStepOrder == nil {
		return nil, nil
	}
	flow, err := p.registry.GetFlowByID(ctx, instance.FlowID)
	if err != nil {
		return nil, err
	}
	step := flow.StepAt(*instance.CurrentStepOrder)
	if step == nil {
		return nil, fmt.Errorf("flow %q has no step at order %d", flow.Code, *instance.CurrentStepOrder)
	}
	return p.ApproverSet(ctx, instance, step)
}

// ListBlocked returns pending instances whose current step has no
// eligible approver and cannot skip. Exposed for monitoring.
func (p *Processor) ListBlocked(ctx context.Context) ([]*models.ApprovalInstance, error) {
	pending, err := p.instances.ListPending(ctx)
	if err != nil {
		return nil, err
	}

	var blocked []*models.ApprovalInstance
	for _, instance := range pending {
		if instance.CurrentStepOrder == nil {
			continue
		}
		flow, err := p.registry.GetFlowByID(ctx, instance.FlowID)
		if err != nil {
			p.logger.Warn("Failed to load flow for blocked scan",
				zap.Int64("instance_id", instance.ID), zap.Error(err))
			continue
		}
		step := flow.StepAt(*instance.CurrentStepOrder)
		if step == nil || step.CanSkip {
			continue
		}
		approvers, err := p.ApproverSet(ctx, instance, step)
		if err != nil {
			p.logger.Warn("Failed to resolve approvers for blocked scan",
				zap.Int64("instance_id", instance.ID), zap.Error(err))
			continue
		}
		if len(approvers) == 0 {
			blocked = append(blocked, instance)
		}
	}
	return blocked, nil
}

func mapLifecycleError(err error) error {
	switch {
	case errors.Is(err, lifecycle.ErrStepMismatch):
		return fmt.Errorf("%w: %v", ErrStaleStep, err)
	case errors.Is(err, lifecycle.ErrTerminalState):
		return fmt.Errorf("%w: %v", ErrInstanceTerminal, err)
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return fmt.Errorf("%w: %v", ErrInvalidAction, err)
	default:
		return err
	}
}
