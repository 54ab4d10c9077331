// Package scheduler runs the periodic escalation sweep: it finds pending
// instances whose current step sat unattended past a configured deadline
// and acts on their behalf through the action processor.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/garyjia/staffops-approval/internal/engine"
	"github.com/garyjia/staffops-approval/internal/models"
	"github.com/garyjia/staffops-approval/internal/registry"
	"github.com/garyjia/staffops-approval/internal/repository"
	"github.com/garyjia/staffops-approval/internal/resolver"
	"github.com/garyjia/staffops-approval/pkg/database"
)

// Sweeper periodically scans pending instances for expired step
// deadlines. The sweep is idempotent: elapsed time is measured from the
// moment the current step became current, auto-approval moves the
// instance (resetting the clock), and escalation is recorded once per
// step visit.
type Sweeper struct {
	db        *database.DB
	instances *repository.InstanceRepository
	overrides *repository.OverrideRepository
	registry  *registry.Service
	resolver  *resolver.Resolver
	processor *engine.Processor
	notifier  engine.NotificationSink
	logger    *zap.Logger

	schedule string
	cron     *cron.Cron
	now      func() time.Time

	mu        sync.Mutex
	isRunning bool
}

// NewSweeper creates a new escalation sweeper. The schedule is a cron
// spec, e.g. "@every 1m".
func NewSweeper(
	db *database.DB,
	instances *repository.InstanceRepository,
	overrides *repository.OverrideRepository,
	reg *registry.Service,
	res *resolver.Resolver,
	processor *engine.Processor,
	notifier engine.NotificationSink,
	schedule string,
	logger *zap.Logger,
) *Sweeper {
	return &Sweeper{
		db:        db,
		instances: instances,
		overrides: overrides,
		registry:  reg,
		resolver:  res,
		processor: processor,
		notifier:  notifier,
		schedule:  schedule,
		logger:    logger,
		now:       time.Now,
	}
}

// Start schedules the sweep.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("escalation sweeper is already running")
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.schedule, func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.isRunning = true

	s.logger.Info("Escalation sweeper started", zap.String("schedule", s.schedule))
	return nil
}

// Stop halts scheduling and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}
	<-s.cron.Stop().Done()
	s.isRunning = false
	s.logger.Info("Escalation sweeper stopped")
}

// Name returns the worker name for identification.
func (s *Sweeper) Name() string {
	return "EscalationSweeper"
}

// Sweep runs one pass over all pending instances. Failures are isolated
// per instance: one broken flow or directory hiccup never halts the
// rest of the sweep.
func (s *Sweeper) Sweep(ctx context.Context) {
	pending, err := s.instances.ListPending(ctx)
	if err != nil {
		s.logger.Error("Sweep failed to list pending instances", zap.Error(err))
		return
	}
	if len(pending) == 0 {
		return
	}

	autoApproved := 0
	escalated := 0
	for _, instance := range pending {
		action, err := s.sweepInstance(ctx, instance)
		if err != nil {
			s.logger.Error("Sweep failed for instance",
				zap.Int64("instance_id", instance.ID),
				zap.Error(err))
			continue
		}
		switch action {
		case sweptAutoApprove:
			autoApproved++
		case sweptEscalate:
			escalated++
		}
	}

	if autoApproved > 0 || escalated > 0 {
		s.logger.Info("Sweep completed",
			zap.Int("scanned", len(pending)),
			zap.Int("auto_approved", autoApproved),
			zap.Int("escalated", escalated))
	}
}

type sweepResult int

const (
	sweptNothing sweepResult = iota
	sweptAutoApprove
	sweptEscalate
)

func (s *Sweeper) sweepInstance(ctx context.Context, instance *models.ApprovalInstance) (sweepResult, error) {
	if instance.CurrentStepOrder == nil {
		return sweptNothing, nil
	}

	flow, err := s.registry.GetFlowByID(ctx, instance.FlowID)
	if err != nil {
		return sweptNothing, err
	}
	step := flow.StepAt(*instance.CurrentStepOrder)
	if step == nil {
		return sweptNothing, fmt.Errorf("flow %q has no step %d", flow.Code, *instance.CurrentStepOrder)
	}

	elapsed := s.now().Sub(instance.StepEnteredAt)

	if step.AutoApproveHours > 0 && elapsed >= time.Duration(step.AutoApproveHours)*time.Hour {
		return s.autoApprove(ctx, instance, step)
	}
	if step.EscalationHours > 0 && elapsed >= time.Duration(step.EscalationHours)*time.Hour {
		return s.escalate(ctx, instance, step)
	}
	return sweptNothing, nil
}

func (s *Sweeper) autoApprove(ctx context.Context, instance *models.ApprovalInstance, step *models.ApprovalFlowStep) (sweepResult, error) {
	_, err := s.processor.SubmitAction(ctx, engine.SubmitRequest{
		InstanceID: instance.ID,
		StepOrder:  step.StepOrder,
		ActorID:    models.ActorSystemAutoApprove,
		Action:     models.ActionApproved,
		Comment:    fmt.Sprintf("auto-approved after %dh without action", step.AutoApproveHours),
	})
	if err != nil {
		// A human (or a concurrent sweep) acted first. The deadline no
		// longer applies; nothing to do.
		if errors.Is(err, engine.ErrConflict) || errors.Is(err, engine.ErrStaleStep) || errors.Is(err, engine.ErrInstanceTerminal) {
			s.logger.Debug("Auto-approve lost to a concurrent actor", zap.Int64("instance_id", instance.ID))
			return sweptNothing, nil
		}
		return sweptNothing, err
	}

	s.logger.Info("Instance auto-approved",
		zap.Int64("instance_id", instance.ID),
		zap.Int("step", step.StepOrder))
	return sweptAutoApprove, nil
}

// escalate widens the step's authorized-actor set to the escalation
// role's holders. Instance status and step stay untouched. The override
// rows double as the fired-already marker for this step visit, enforced
// by a unique index, so re-running the sweep (or a redundant deployment
// sweeping concurrently) cannot escalate or notify twice.
func (s *Sweeper) escalate(ctx context.Context, instance *models.ApprovalInstance, step *models.ApprovalFlowStep) (sweepResult, error) {
	fired, err := s.overrides.HasEscalation(ctx, instance.ID, step.StepOrder, instance.StepEnteredAt)
	if err != nil {
		return sweptNothing, err
	}
	if fired {
		return sweptNothing, nil
	}

	holders, err := s.resolver.EscalationApprovers(ctx, step)
	if err != nil {
		return sweptNothing, err
	}
	if len(holders) == 0 {
		// Role currently unfilled; leave the marker unset so a later
		// sweep retries once someone holds the role.
		s.logger.Warn("Escalation role has no holders",
			zap.Int64("instance_id", instance.ID),
			zap.String("role", step.EscalationRoleCode))
		return sweptNothing, nil
	}

	err = s.db.WithTransaction(func(tx *sql.Tx) error {
		for _, holder := range holders {
			err := s.overrides.Create(ctx, tx, &models.StepOverride{
				InstanceID:    instance.ID,
				StepOrder:     step.StepOrder,
				Kind:          models.OverrideEscalation,
				ActorID:       holder,
				StepEnteredAt: instance.StepEnteredAt,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// The unique grant index trips when another sweep got here
		// first; that sweep owns the notification.
		s.logger.Debug("Escalation already recorded by a concurrent sweep",
			zap.Int64("instance_id", instance.ID), zap.Error(err))
		return sweptNothing, nil
	}

	if nerr := s.notifier.Notify(ctx, instance.ID, models.EventStepEscalated, holders); nerr != nil {
		s.logger.Warn("Escalation notification failed",
			zap.Int64("instance_id", instance.ID), zap.Error(nerr))
	}

	s.logger.Info("Instance escalated",
		zap.Int64("instance_id", instance.ID),
		zap.Int("step", step.StepOrder),
		zap.String("role", step.EscalationRoleCode),
		zap.Int("holders", len(holders)))
	return sweptEscalate, nil
}
