package directory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/staffops-approval/pkg/database"
)

func newTestDirectory(t *testing.T) *SQLDirectory {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{
		Path:            filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).RunMigrations("../../migrations"))

	seed := []string{
		`INSERT INTO org_users (user_id, manager_id, region_id, branch_id, department_id, is_active)
		 VALUES ('ceo', NULL, 'R1', 'B1', 'D1', 1)`,
		`INSERT INTO org_users (user_id, manager_id, region_id, branch_id, department_id, is_active)
		 VALUES ('mgr1', 'ceo', 'R1', 'B1', 'D1', 1)`,
		`INSERT INTO org_users (user_id, manager_id, region_id, branch_id, department_id, is_active)
		 VALUES ('emp1', 'mgr1', 'R1', 'B1', 'D1', 1)`,
		`INSERT INTO org_users (user_id, manager_id, region_id, branch_id, department_id, is_active)
		 VALUES ('emp2', 'gone1', 'R1', 'B1', 'D1', 1)`,
		`INSERT INTO org_users (user_id, manager_id, region_id, branch_id, department_id, is_active)
		 VALUES ('gone1', NULL, 'R1', 'B1', 'D1', 0)`,
		`INSERT INTO org_units (kind, unit_id, head_user_id) VALUES ('branch', 'B1', 'bhead1')`,
		`INSERT INTO org_units (kind, unit_id, head_user_id) VALUES ('region', 'R1', 'rhead1')`,
		`INSERT INTO org_units (kind, unit_id, head_user_id) VALUES ('department', 'D1', 'dhead1')`,
		`INSERT INTO user_roles (user_id, role_code) VALUES ('mgr1', 'FIN_APPROVER')`,
		`INSERT INTO user_roles (user_id, role_code) VALUES ('emp1', 'FIN_APPROVER')`,
		`INSERT INTO user_roles (user_id, role_code) VALUES ('gone1', 'FIN_APPROVER')`,
	}
	for _, stmt := range seed {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}

	return NewSQLDirectory(db.DB, logger)
}

func TestGetManager(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	manager, err := dir.GetManager(ctx, "emp1")
	require.NoError(t, err)
	assert.Equal(t, "mgr1", manager)

	// Top of the chain has no manager.
	manager, err = dir.GetManager(ctx, "ceo")
	require.NoError(t, err)
	assert.Empty(t, manager)

	// Unknown users resolve empty, not to an error.
	manager, err = dir.GetManager(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, manager)

	// An inactive manager does not count.
	manager, err = dir.GetManager(ctx, "emp2")
	require.NoError(t, err)
	assert.Empty(t, manager)
}

func TestGetSkipManager(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	skip, err := dir.GetSkipManager(ctx, "emp1")
	require.NoError(t, err)
	assert.Equal(t, "ceo", skip)

	// Chain ends one hop up.
	skip, err = dir.GetSkipManager(ctx, "mgr1")
	require.NoError(t, err)
	assert.Empty(t, skip)
}

func TestUnitHeads(t *testing.T) {
	dir := newTestDirectory(t)
	ctx := context.Background()

	head, err := dir.GetBranchHead(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, "bhead1", head)

	head, err = dir.GetRegionalHead(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "rhead1", head)

	head, err = dir.GetDepartmentHead(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, "dhead1", head)

	head, err = dir.GetBranchHead(ctx, "B9")
	require.NoError(t, err)
	assert.Empty(t, head)
}

func TestGetUsersWithRole(t *testing.T) {
	dir := newTestDirectory(t)

	users, err := dir.GetUsersWithRole(context.Background(), "FIN_APPROVER")
	require.NoError(t, err)
	assert.Equal(t, []string{"emp1", "mgr1"}, users, "inactive holders are excluded, result is ordered")

	users, err = dir.GetUsersWithRole(context.Background(), "NO_SUCH_ROLE")
	require.NoError(t, err)
	assert.Empty(t, users)
}
