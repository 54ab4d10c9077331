package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/staffops-approval/internal/models"
)

// ActionRepository handles the append-only action log. Rows are created
// by the action processor and never updated or deleted.
type ActionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewActionRepository creates a new action repository.
func NewActionRepository(db *sql.DB, logger *zap.Logger) *ActionRepository {
	return &ActionRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends one action to an instance's history.
func (r *ActionRepository) Create(ctx context.Context, tx *sql.Tx, action *models.ApprovalAction) error {
	query := `
		INSERT INTO approval_actions (
			instance_id, step_order, actor_id, action, comment, delegate_to, acted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	args := []interface{}{
		action.InstanceID, action.StepOrder, action.ActorID,
		action.Action, action.Comment, action.DelegateTo, action.ActedAt,
	}

	var result sql.Result
	var err error
	if tx != nil {
		result, err = tx.ExecContext(ctx, query, args...)
	} else {
		result, err = r.db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		r.logger.Error("Failed to create action", zap.Int64("instance_id", action.InstanceID), zap.Error(err))
		return fmt.Errorf("failed to create action: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	action.ID = id
	return nil
}

// ListByInstance retrieves an instance's full action history in the
// order it was taken.
func (r *ActionRepository) ListByInstance(ctx context.Context, instanceID int64) ([]*models.ApprovalAction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, instance_id, step_order, actor_id, action, comment, delegate_to, acted_at
		FROM approval_actions
		WHERE instance_id = ?
		ORDER BY id ASC
	`, instanceID)
	if err != nil {
		r.logger.Error("Failed to list actions", zap.Int64("instance_id", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	var actions []*models.ApprovalAction
	for rows.Next() {
		var action models.ApprovalAction
		err := rows.Scan(
			&action.ID, &action.InstanceID, &action.StepOrder, &action.ActorID,
			&action.Action, &action.Comment, &action.DelegateTo, &action.ActedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		actions = append(actions, &action)
	}
	return actions, rows.Err()
}
