// Package directory provides the built-in Org Directory adapter backed
// by the org_users / org_units / user_roles tables. Deployments with an
// external HR system implement resolver.Directory against it instead.
package directory

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// SQLDirectory answers org lookups from the local database. All queries
// are read-only and ignore inactive users.
type SQLDirectory struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLDirectory creates a new SQL-backed directory.
func NewSQLDirectory(db *sql.DB, logger *zap.Logger) *SQLDirectory {
	return &SQLDirectory{
		db:     db,
		logger: logger,
	}
}

// GetManager returns the direct manager of a user, or "" when the user
// has none (or is unknown).
func (d *SQLDirectory) GetManager(ctx context.Context, userID string) (string, error) {
	return d.lookupManager(ctx, userID)
}

// GetSkipManager returns the manager's manager, or "" when the chain
// ends early.
func (d *SQLDirectory) GetSkipManager(ctx context.Context, userID string) (string, error) {
	manager, err := d.lookupManager(ctx, userID)
	if err != nil || manager == "" {
		return "", err
	}
	return d.lookupManager(ctx, manager)
}

// GetBranchHead returns the designated head of a branch, or "".
func (d *SQLDirectory) GetBranchHead(ctx context.Context, branchID string) (string, error) {
	return d.lookupUnitHead(ctx, "branch", branchID)
}

// GetRegionalHead returns the designated head of a region, or "".
func (d *SQLDirectory) GetRegionalHead(ctx context.Context, regionID string) (string, error) {
	return d.lookupUnitHead(ctx, "region", regionID)
}

// GetDepartmentHead returns the designated head of a department, or "".
func (d *SQLDirectory) GetDepartmentHead(ctx context.Context, departmentID string) (string, error) {
	return d.lookupUnitHead(ctx, "department", departmentID)
}

// GetUsersWithRole returns every active user holding the given role.
func (d *SQLDirectory) GetUsersWithRole(ctx context.Context, roleCode string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT u.user_id
		FROM user_roles r
		JOIN org_users u ON u.user_id = r.user_id
		WHERE r.role_code = ? AND u.is_active = 1
		ORDER BY u.user_id
	`, roleCode)
	if err != nil {
		d.logger.Error("Failed to query role holders", zap.String("role", roleCode), zap.Error(err))
		return nil, fmt.Errorf("failed to query role holders: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan role holder: %w", err)
		}
		users = append(users, userID)
	}
	return users, rows.Err()
}

func (d *SQLDirectory) lookupManager(ctx context.Context, userID string) (string, error) {
	var manager sql.NullString
	err := d.db.QueryRowContext(ctx, `
		SELECT m.user_id
		FROM org_users u
		JOIN org_users m ON m.user_id = u.manager_id AND m.is_active = 1
		WHERE u.user_id = ?
	`, userID).Scan(&manager)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		d.logger.Error("Failed to look up manager", zap.String("user_id", userID), zap.Error(err))
		return "", fmt.Errorf("failed to look up manager: %w", err)
	}
	return manager.String, nil
}

func (d *SQLDirectory) lookupUnitHead(ctx context.Context, kind, unitID string) (string, error) {
	var head string
	err := d.db.QueryRowContext(ctx, `
		SELECT head_user_id FROM org_units WHERE kind = ? AND unit_id = ?
	`, kind, unitID).Scan(&head)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		d.logger.Error("Failed to look up unit head",
			zap.String("kind", kind), zap.String("unit_id", unitID), zap.Error(err))
		return "", fmt.Errorf("failed to look up %s head: %w", kind, err)
	}
	return head, nil
}
