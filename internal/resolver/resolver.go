// Package resolver turns a step's abstract approver description into the
// concrete identities authorized to act at that step.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/staffops-approval/internal/models"
)

// ErrUnknownApproverType is returned for an approver type outside the
// closed set. Flows are validated at save time, so hitting this at
// resolution time means corrupted configuration.
var ErrUnknownApproverType = errors.New("unknown approver type")

// Directory is the Org Directory collaborator the resolver consults.
// Lookups are read-only. Implementations return empty results, not
// errors, when an org position is simply unfilled.
type Directory interface {
	GetManager(ctx context.Context, userID string) (string, error)
	GetSkipManager(ctx context.Context, userID string) (string, error)
	GetBranchHead(ctx context.Context, branchID string) (string, error)
	GetRegionalHead(ctx context.Context, regionID string) (string, error)
	GetDepartmentHead(ctx context.Context, departmentID string) (string, error)
	GetUsersWithRole(ctx context.Context, roleCode string) ([]string, error)
}

// Resolver resolves step approver specifications against the directory.
type Resolver struct {
	dir    Directory
	logger *zap.Logger
}

// New creates a new resolver.
func New(dir Directory, logger *zap.Logger) *Resolver {
	return &Resolver{
		dir:    dir,
		logger: logger,
	}
}

// Resolve returns the identities authorized to act at the given step for
// the given requester. The result may be empty; deciding whether an
// empty set skips or blocks the step is the caller's concern. Lookups
// for org-unit heads use the requester's captured coordinates, never a
// fresh org snapshot.
func (r *Resolver) Resolve(ctx context.Context, step *models.ApprovalFlowStep, requester models.Requester) ([]string, error) {
	switch step.ApproverType {
	case models.ApproverRole:
		users, err := r.dir.GetUsersWithRole(ctx, step.ApproverRoleCode)
		if err != nil {
			return nil, fmt.Errorf("resolve role %q: %w", step.ApproverRoleCode, err)
		}
		return users, nil

	case models.ApproverManager:
		return r.single(r.dir.GetManager(ctx, requester.UserID))

	case models.ApproverSkipManager:
		return r.single(r.dir.GetSkipManager(ctx, requester.UserID))

	case models.ApproverBranchManager:
		if requester.Scope.Branch == "" {
			return nil, nil
		}
		return r.single(r.dir.GetBranchHead(ctx, requester.Scope.Branch))

	case models.ApproverRegionalManager:
		if requester.Scope.Region == "" {
			return nil, nil
		}
		return r.single(r.dir.GetRegionalHead(ctx, requester.Scope.Region))

	case models.ApproverDepartmentHead:
		if requester.Scope.Department == "" {
			return nil, nil
		}
		return r.single(r.dir.GetDepartmentHead(ctx, requester.Scope.Department))

	case models.ApproverSpecificUser:
		// The referenced identity regardless of requester context.
		return []string{step.SpecificApproverID}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownApproverType, step.ApproverType)
}

// EscalationApprovers returns the identities a stalled step escalates
// to: the holders of the step's escalation role.
func (r *Resolver) EscalationApprovers(ctx context.Context, step *models.ApprovalFlowStep) ([]string, error) {
	if step.EscalationRoleCode == "" {
		return nil, nil
	}
	users, err := r.dir.GetUsersWithRole(ctx, step.EscalationRoleCode)
	if err != nil {
		return nil, fmt.Errorf("resolve escalation role %q: %w", step.EscalationRoleCode, err)
	}
	return users, nil
}

func (r *Resolver) single(id string, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, nil
	}
	return []string{id}, nil
}
