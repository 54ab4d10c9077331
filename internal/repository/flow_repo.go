package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/staffops-approval/internal/models"
	"github.com/garyjia/staffops-approval/pkg/database"
)

// FlowRepository handles approval flow database operations.
type FlowRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewFlowRepository creates a new flow repository.
func NewFlowRepository(db *database.DB, logger *zap.Logger) *FlowRepository {
	return &FlowRepository{
		db:     db,
		logger: logger,
	}
}

// Create persists a flow and its steps in one transaction.
func (r *FlowRepository) Create(ctx context.Context, flow *models.ApprovalFlow) error {
	err := r.db.WithTransaction(func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO approval_flows (
				code, name, target_type, priority, is_active,
				scope_region, scope_branch, scope_department, scope_position
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			flow.Code, flow.Name, flow.TargetType, flow.Priority, flow.IsActive,
			flow.Scope.Region, flow.Scope.Branch, flow.Scope.Department, flow.Scope.Position,
		)
		if err != nil {
			return fmt.Errorf("insert flow: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		flow.ID = id

		return r.insertSteps(ctx, tx, id, flow.Steps)
	})

	if err != nil {
		r.logger.Error("Failed to create flow", zap.String("code", flow.Code), zap.Error(err))
		return err
	}
	return nil
}

// Update rewrites a flow's fields and replaces its step list.
func (r *FlowRepository) Update(ctx context.Context, flow *models.ApprovalFlow) error {
	err := r.db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE approval_flows SET
				name = ?, target_type = ?, priority = ?, is_active = ?,
				scope_region = ?, scope_branch = ?, scope_department = ?, scope_position = ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`,
			flow.Name, flow.TargetType, flow.Priority, flow.IsActive,
			flow.Scope.Region, flow.Scope.Branch, flow.Scope.Department, flow.Scope.Position,
			flow.ID,
		)
		if err != nil {
			return fmt.Errorf("update flow: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM approval_flow_steps WHERE flow_id = ?`, flow.ID); err != nil {
			return fmt.Errorf("clear steps: %w", err)
		}
		return r.insertSteps(ctx, tx, flow.ID, flow.Steps)
	})

	if err != nil {
		r.logger.Error("Failed to update flow", zap.String("code", flow.Code), zap.Error(err))
		return err
	}
	return nil
}

// Delete removes a flow by code. Steps cascade.
func (r *FlowRepository) Delete(ctx context.Context, code string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM approval_flows WHERE code = ?`, code); err != nil {
		r.logger.Error("Failed to delete flow", zap.String("code", code), zap.Error(err))
		return fmt.Errorf("delete flow: %w", err)
	}
	return nil
}

// GetByCode retrieves a flow with its steps by code. Returns nil when
// not found.
func (r *FlowRepository) GetByCode(ctx context.Context, code string) (*models.ApprovalFlow, error) {
	return r.getOne(ctx, `WHERE code = ?`, code)
}

// GetByID retrieves a flow with its steps by id. Returns nil when not
// found.
func (r *FlowRepository) GetByID(ctx context.Context, id int64) (*models.ApprovalFlow, error) {
	return r.getOne(ctx, `WHERE id = ?`, id)
}

const flowColumns = `
	id, code, name, target_type, priority, is_active,
	scope_region, scope_branch, scope_department, scope_position,
	created_at, updated_at
`

func (r *FlowRepository) getOne(ctx context.Context, where string, arg interface{}) (*models.ApprovalFlow, error) {
	query := `SELECT ` + flowColumns + ` FROM approval_flows ` + where

	flow, err := scanFlow(r.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get flow", zap.Error(err))
		return nil, fmt.Errorf("failed to get flow: %w", err)
	}

	if err := r.loadSteps(ctx, flow); err != nil {
		return nil, err
	}
	return flow, nil
}

// List retrieves all flows with their steps.
func (r *FlowRepository) List(ctx context.Context) ([]*models.ApprovalFlow, error) {
	return r.list(ctx, `SELECT `+flowColumns+` FROM approval_flows ORDER BY target_type, code`)
}

// ListActiveByTarget retrieves active flows governing a target type.
func (r *FlowRepository) ListActiveByTarget(ctx context.Context, targetType string) ([]*models.ApprovalFlow, error) {
	return r.list(ctx,
		`SELECT `+flowColumns+` FROM approval_flows WHERE target_type = ? AND is_active = 1 ORDER BY id`,
		targetType)
}

func (r *FlowRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.ApprovalFlow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list flows", zap.Error(err))
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}
	defer rows.Close()

	var flows []*models.ApprovalFlow
	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}
		flows = append(flows, flow)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, flow := range flows {
		if err := r.loadSteps(ctx, flow); err != nil {
			return nil, err
		}
	}
	return flows, nil
}

// ReplaceSteps atomically replaces a flow's step list.
func (r *FlowRepository) ReplaceSteps(ctx context.Context, flowID int64, steps []*models.ApprovalFlowStep) error {
	err := r.db.WithTransaction(func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM approval_flow_steps WHERE flow_id = ?`, flowID); err != nil {
			return fmt.Errorf("clear steps: %w", err)
		}
		return r.insertSteps(ctx, tx, flowID, steps)
	})

	if err != nil {
		r.logger.Error("Failed to replace steps", zap.Int64("flow_id", flowID), zap.Error(err))
		return err
	}
	return nil
}

func (r *FlowRepository) insertSteps(ctx context.Context, tx *sql.Tx, flowID int64, steps []*models.ApprovalFlowStep) error {
	for _, step := range steps {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO approval_flow_steps (
				flow_id, step_order, approver_type, approver_role_code,
				specific_approver_id, is_final, can_skip, auto_approve_hours,
				escalation_role_code, escalation_hours, instructions
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			flowID, step.StepOrder, step.ApproverType, step.ApproverRoleCode,
			step.SpecificApproverID, step.IsFinal, step.CanSkip, step.AutoApproveHours,
			step.EscalationRoleCode, step.EscalationHours, step.Instructions,
		)
		if err != nil {
			return fmt.Errorf("insert step %d: %w", step.StepOrder, err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		step.ID = id
		step.FlowID = flowID
	}
	return nil
}

func (r *FlowRepository) loadSteps(ctx context.Context, flow *models.ApprovalFlow) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, flow_id, step_order, approver_type, approver_role_code,
			specific_approver_id, is_final, can_skip, auto_approve_hours,
			escalation_role_code, escalation_hours, instructions
		FROM approval_flow_steps
		WHERE flow_id = ?
		ORDER BY step_order ASC
	`, flow.ID)
	if err != nil {
		return fmt.Errorf("failed to load steps: %w", err)
	}
	defer rows.Close()

	flow.Steps = nil
	for rows.Next() {
		var step models.ApprovalFlowStep
		err := rows.Scan(
			&step.ID, &step.FlowID, &step.StepOrder, &step.ApproverType, &step.ApproverRoleCode,
			&step.SpecificApproverID, &step.IsFinal, &step.CanSkip, &step.AutoApproveHours,
			&step.EscalationRoleCode, &step.EscalationHours, &step.Instructions,
		)
		if err != nil {
			return fmt.Errorf("failed to scan step: %w", err)
		}
		flow.Steps = append(flow.Steps, &step)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFlow(row rowScanner) (*models.ApprovalFlow, error) {
	var flow models.ApprovalFlow
	err := row.Scan(
		&flow.ID, &flow.Code, &flow.Name, &flow.TargetType, &flow.Priority, &flow.IsActive,
		&flow.Scope.Region, &flow.Scope.Branch, &flow.Scope.Department, &flow.Scope.Position,
		&flow.CreatedAt, &flow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &flow, nil
}
