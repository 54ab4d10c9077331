package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/staffops-approval/internal/models"
)

// ErrConflict is returned when a conditional state update finds the
// instance no longer in the expected state. The losing writer must
// refetch and re-decide, never retry blindly.
var ErrConflict = errors.New("instance state conflict")

// StateChange is the new instance state applied by a conditional update.
type StateChange struct {
	Status           string
	CurrentStepOrder *int
	StepEnteredAt    time.Time
	ResolvedAt       *time.Time
	FinalComment     string
}

// InstanceRepository handles approval instance database operations.
type InstanceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(db *sql.DB, logger *zap.Logger) *InstanceRepository {
	return &InstanceRepository{
		db:     db,
		logger: logger,
	}
}

// Create persists a new approval instance.
func (r *InstanceRepository) Create(ctx context.Context, tx *sql.Tx, instance *models.ApprovalInstance) error {
	query := `
		INSERT INTO approval_instances (
			code, target_type, target_id, flow_id,
			requester_id, requester_region, requester_branch, requester_department, requester_position,
			status, current_step_order, is_urgent, step_entered_at, resolved_at, final_comment
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	args := []interface{}{
		instance.Code, instance.TargetType, instance.TargetID, instance.FlowID,
		instance.Requester.UserID, instance.Requester.Scope.Region, instance.Requester.Scope.Branch,
		instance.Requester.Scope.Department, instance.Requester.Scope.Position,
		instance.Status, nullableInt(instance.CurrentStepOrder), instance.IsUrgent,
		instance.StepEnteredAt, nullableTime(instance.ResolvedAt), instance.FinalComment,
	}

	var result sql.Result
	var err error
	if tx != nil {
		result, err = tx.ExecContext(ctx, query, args...)
	} else {
		result, err = r.db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		r.logger.Error("Failed to create instance", zap.Error(err))
		return fmt.Errorf("failed to create instance: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	instance.ID = id
	return nil
}

const instanceColumns = `
	id, code, target_type, target_id, flow_id,
	requester_id, requester_region, requester_branch, requester_department, requester_position,
	status, current_step_order, is_urgent, step_entered_at,
	created_at, updated_at, resolved_at, final_comment
`

// GetByID retrieves an instance by numeric id. Returns nil when not
// found.
func (r *InstanceRepository) GetByID(ctx context.Context, id int64) (*models.ApprovalInstance, error) {
	return r.getOne(ctx, `WHERE id = ?`, id)
}

// GetByCode retrieves an instance by public reference code.
func (r *InstanceRepository) GetByCode(ctx context.Context, code string) (*models.ApprovalInstance, error) {
	return r.getOne(ctx, `WHERE code = ?`, code)
}

// GetByTarget retrieves the most recent instance bound to a target
// reference. Resubmission after rejection creates a new instance, so
// the latest one is the authoritative process.
func (r *InstanceRepository) GetByTarget(ctx context.Context, targetType, targetID string) (*models.ApprovalInstance, error) {
	return r.getOne(ctx, `WHERE target_type = ? AND target_id = ? ORDER BY id DESC LIMIT 1`, targetType, targetID)
}

func (r *InstanceRepository) getOne(ctx context.Context, where string, args ...interface{}) (*models.ApprovalInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM approval_instances ` + where

	instance, err := scanInstance(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get instance", zap.Error(err))
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return instance, nil
}

// ListPending retrieves all pending instances, oldest step-dwell first.
func (r *InstanceRepository) ListPending(ctx context.Context) ([]*models.ApprovalInstance, error) {
	return r.list(ctx, `SELECT `+instanceColumns+` FROM approval_instances WHERE status = ? ORDER BY step_entered_at ASC`,
		models.StatusPending)
}

// List retrieves instances with pagination, newest first.
func (r *InstanceRepository) List(ctx context.Context, limit, offset int) ([]*models.ApprovalInstance, error) {
	return r.list(ctx, `SELECT `+instanceColumns+` FROM approval_instances ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset)
}

func (r *InstanceRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.ApprovalInstance, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list instances", zap.Error(err))
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []*models.ApprovalInstance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, instance)
	}
	return instances, rows.Err()
}

// TransitionState applies a state change guarded by the expected current
// (status, current_step_order) pair. A concurrent writer that already
// moved the instance makes the guard fail and the caller receives
// ErrConflict; exactly one of two simultaneous writers can win.
func (r *InstanceRepository) TransitionState(
	ctx context.Context,
	tx *sql.Tx,
	id int64,
	expectStatus string,
	expectStep *int,
	change StateChange,
) error {
	query := `
		UPDATE approval_instances SET
			status = ?, current_step_order = ?, step_entered_at = ?,
			resolved_at = ?, final_comment = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ? AND current_step_order IS ?
	`
	args := []interface{}{
		change.Status, nullableInt(change.CurrentStepOrder), change.StepEnteredAt,
		nullableTime(change.ResolvedAt), change.FinalComment,
		id, expectStatus, nullableInt(expectStep),
	}

	var result sql.Result
	var err error
	if tx != nil {
		result, err = tx.ExecContext(ctx, query, args...)
	} else {
		result, err = r.db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		r.logger.Error("Failed to transition instance", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to transition instance: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: instance %d is no longer %s at step %v", ErrConflict, id, expectStatus, expectStep)
	}
	return nil
}

func scanInstance(row rowScanner) (*models.ApprovalInstance, error) {
	var instance models.ApprovalInstance
	var currentStep sql.NullInt64
	var resolvedAt sql.NullTime

	err := row.Scan(
		&instance.ID, &instance.Code, &instance.TargetType, &instance.TargetID, &instance.FlowID,
		&instance.Requester.UserID, &instance.Requester.Scope.Region, &instance.Requester.Scope.Branch,
		&instance.Requester.Scope.Department, &instance.Requester.Scope.Position,
		&instance.Status, &currentStep, &instance.IsUrgent, &instance.StepEnteredAt,
		&instance.CreatedAt, &instance.UpdatedAt, &resolvedAt, &instance.FinalComment,
	)
	if err != nil {
		return nil, err
	}

	if currentStep.Valid {
		order := int(currentStep.Int64)
		instance.CurrentStepOrder = &order
	}
	if resolvedAt.Valid {
		instance.ResolvedAt = &resolvedAt.Time
	}
	return &instance, nil
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(v *time.Time) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
