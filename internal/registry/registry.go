// Package registry stores approval flow definitions and selects the
// single best-matching active flow for a submitted request.
package registry

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/garyjia/staffops-approval/internal/models"
)

// FlowStore is the persistence port the registry depends on. Implemented
// by repository.FlowRepository.
type FlowStore interface {
	Create(ctx context.Context, flow *models.ApprovalFlow) error
	Update(ctx context.Context, flow *models.ApprovalFlow) error
	Delete(ctx context.Context, code string) error
	GetByCode(ctx context.Context, code string) (*models.ApprovalFlow, error)
	GetByID(ctx context.Context, id int64) (*models.ApprovalFlow, error)
	List(ctx context.Context) ([]*models.ApprovalFlow, error)
	ListActiveByTarget(ctx context.Context, targetType string) ([]*models.ApprovalFlow, error)
	ReplaceSteps(ctx context.Context, flowID int64, steps []*models.ApprovalFlowStep) error
}

// Service manages flow configuration and scope resolution.
type Service struct {
	flows  FlowStore
	logger *zap.Logger
}

// NewService creates a new flow registry service.
func NewService(flows FlowStore, logger *zap.Logger) *Service {
	return &Service{
		flows:  flows,
		logger: logger,
	}
}

// SelectFlow returns the single active flow governing the given target
// type for a requester with the given scope. Selection is deterministic:
// wildcard dimensions match anything, higher specificity wins, then
// higher priority; a remaining tie is an ambiguous-configuration error.
func (s *Service) SelectFlow(ctx context.Context, targetType string, scope models.Scope) (*models.ApprovalFlow, error) {
	candidates, err := s.flows.ListActiveByTarget(ctx, targetType)
	if err != nil {
		return nil, fmt.Errorf("list flows for %q: %w", targetType, err)
	}

	var matching []*models.ApprovalFlow
	for _, flow := range candidates {
		if flow.Scope.Matches(scope) {
			matching = append(matching, flow)
		}
	}
	if len(matching) == 0 {
		return nil, fmt.Errorf("%w: target_type %q", ErrNoFlowMatches, targetType)
	}

	sort.Slice(matching, func(i, j int) bool {
		si, sj := matching[i].Scope.Specificity(), matching[j].Scope.Specificity()
		if si != sj {
			return si > sj
		}
		return matching[i].Priority > matching[j].Priority
	})

	best := matching[0]
	if len(matching) > 1 {
		next := matching[1]
		if next.Scope.Specificity() == best.Scope.Specificity() && next.Priority == best.Priority {
			s.logger.Error("Ambiguous flow configuration",
				zap.String("target_type", targetType),
				zap.String("flow_a", best.Code),
				zap.String("flow_b", next.Code))
			return nil, fmt.Errorf("%w: flows %q and %q tie for target_type %q",
				ErrAmbiguousFlows, best.Code, next.Code, targetType)
		}
	}

	return best, nil
}

// CreateFlow validates and persists a new flow with its steps.
func (s *Service) CreateFlow(ctx context.Context, flow *models.ApprovalFlow) error {
	if err := ValidateFlow(flow); err != nil {
		return err
	}
	if err := s.flows.Create(ctx, flow); err != nil {
		s.logger.Error("Failed to create flow", zap.String("code", flow.Code), zap.Error(err))
		return err
	}
	s.logger.Info("Flow created", zap.String("code", flow.Code), zap.String("target_type", flow.TargetType))
	return nil
}

// UpdateFlow validates and persists changes to an existing flow,
// replacing its step list. In-flight instances keep the flow they were
// created against by flow id and are not re-selected.
func (s *Service) UpdateFlow(ctx context.Context, flow *models.ApprovalFlow) error {
	existing, err := s.flows.GetByCode(ctx, flow.Code)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w: %q", ErrFlowNotFound, flow.Code)
	}
	flow.ID = existing.ID

	if err := ValidateFlow(flow); err != nil {
		return err
	}
	if err := s.flows.Update(ctx, flow); err != nil {
		s.logger.Error("Failed to update flow", zap.String("code", flow.Code), zap.Error(err))
		return err
	}
	s.logger.Info("Flow updated", zap.String("code", flow.Code))
	return nil
}

// DeleteFlow removes a flow definition by code.
func (s *Service) DeleteFlow(ctx context.Context, code string) error {
	existing, err := s.flows.GetByCode(ctx, code)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w: %q", ErrFlowNotFound, code)
	}
	if err := s.flows.Delete(ctx, code); err != nil {
		s.logger.Error("Failed to delete flow", zap.String("code", code), zap.Error(err))
		return err
	}
	s.logger.Info("Flow deleted", zap.String("code", code))
	return nil
}

// GetFlow returns a flow with its steps by code.
func (s *Service) GetFlow(ctx context.Context, code string) (*models.ApprovalFlow, error) {
	flow, err := s.flows.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if flow == nil {
		return nil, fmt.Errorf("%w: %q", ErrFlowNotFound, code)
	}
	return flow, nil
}

// GetFlowByID returns a flow with its steps by numeric id.
func (s *Service) GetFlowByID(ctx context.Context, id int64) (*models.ApprovalFlow, error) {
	flow, err := s.flows.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if flow == nil {
		return nil, fmt.Errorf("%w: id %d", ErrFlowNotFound, id)
	}
	return flow, nil
}

// ListFlows returns all flow definitions.
func (s *Service) ListFlows(ctx context.Context) ([]*models.ApprovalFlow, error) {
	return s.flows.List(ctx)
}

// ReorderSteps atomically renumbers a flow's steps to match the given
// sequence of step ids. Orders are assigned as 10, 20, 30, ... so later
// inserts can slot between steps without a full renumber.
func (s *Service) ReorderSteps(ctx context.Context, code string, stepIDs []int64) error {
	flow, err := s.GetFlow(ctx, code)
	if err != nil {
		return err
	}

	if len(stepIDs) != len(flow.Steps) {
		return fmt.Errorf("%w: reorder must name all %d steps of flow %q, got %d",
			ErrInvalidFlow, len(flow.Steps), code, len(stepIDs))
	}

	byID := make(map[int64]*models.ApprovalFlowStep, len(flow.Steps))
	for _, step := range flow.Steps {
		byID[step.ID] = step
	}

	reordered := make([]*models.ApprovalFlowStep, 0, len(stepIDs))
	for i, id := range stepIDs {
		step, ok := byID[id]
		if !ok {
			return fmt.Errorf("%w: step id %d does not belong to flow %q", ErrInvalidFlow, id, code)
		}
		copied := *step
		copied.StepOrder = (i + 1) * 10
		reordered = append(reordered, &copied)
		delete(byID, id)
	}

	check := *flow
	check.Steps = reordered
	if err := ValidateFlow(&check); err != nil {
		return err
	}

	if err := s.flows.ReplaceSteps(ctx, flow.ID, reordered); err != nil {
		s.logger.Error("Failed to reorder steps", zap.String("code", code), zap.Error(err))
		return err
	}
	s.logger.Info("Flow steps reordered", zap.String("code", code), zap.Int("steps", len(reordered)))
	return nil
}
