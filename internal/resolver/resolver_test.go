package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/staffops-approval/internal/models"
)

// fakeDirectory is an in-memory Directory for resolver tests.
type fakeDirectory struct {
	managers    map[string]string // userID -> manager
	branchHeads map[string]string
	regionHeads map[string]string
	deptHeads   map[string]string
	roles       map[string][]string
	err         error
}

func (d *fakeDirectory) GetManager(_ context.Context, userID string) (string, error) {
	return d.managers[userID], d.err
}

func (d *fakeDirectory) GetSkipManager(_ context.Context, userID string) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	return d.managers[d.managers[userID]], nil
}

func (d *fakeDirectory) GetBranchHead(_ context.Context, branchID string) (string, error) {
	return d.branchHeads[branchID], d.err
}

func (d *fakeDirectory) GetRegionalHead(_ context.Context, regionID string) (string, error) {
	return d.regionHeads[regionID], d.err
}

func (d *fakeDirectory) GetDepartmentHead(_ context.Context, departmentID string) (string, error) {
	return d.deptHeads[departmentID], d.err
}

func (d *fakeDirectory) GetUsersWithRole(_ context.Context, roleCode string) ([]string, error) {
	return d.roles[roleCode], d.err
}

func testDirectory() *fakeDirectory {
	return &fakeDirectory{
		managers:    map[string]string{"emp-1": "mgr-1", "mgr-1": "mgr-2"},
		branchHeads: map[string]string{"B1": "branch-head-1"},
		regionHeads: map[string]string{"R1": "region-head-1"},
		deptHeads:   map[string]string{"D1": "dept-head-1"},
		roles:       map[string][]string{"HR_MANAGER": {"hr-1", "hr-2"}},
	}
}

func testRequester() models.Requester {
	return models.Requester{
		UserID: "emp-1",
		Scope:  models.Scope{Region: "R1", Branch: "B1", Department: "D1", Position: "officer"},
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		step *models.ApprovalFlowStep
		want []string
	}{
		{
			name: "role resolves every holder",
			step: &models.ApprovalFlowStep{ApproverType: models.ApproverRole, ApproverRoleCode: "HR_MANAGER"},
			want: []string{"hr-1", "hr-2"},
		},
		{
			name: "manager resolves direct manager",
			step: &models.ApprovalFlowStep{ApproverType: models.ApproverManager},
			want: []string{"mgr-1"},
		},
		{
			name: "skip_manager resolves manager's manager",
			step: &models.ApprovalFlowStep{ApproverType: models.ApproverSkipManager},
			want: []string{"mgr-2"},
		},
		{
			name: "branch_manager uses captured branch",
			step: &models.ApprovalFlowStep{ApproverType: models.ApproverBranchManager},
			want: []string{"branch-head-1"},
		},
		{
			name: "regional_manager uses captured region",
			step: &models.ApprovalFlowStep{ApproverType: models.ApproverRegionalManager},
			want: []string{"region-head-1"},
		},
		{
			name: "department_head uses captured department",
			step: &models.ApprovalFlowStep{ApproverType: models.ApproverDepartmentHead},
			want: []string{"dept-head-1"},
		},
		{
			name: "specific_user ignores requester context",
			step: &models.ApprovalFlowStep{ApproverType: models.ApproverSpecificUser, SpecificApproverID: "cfo-1"},
			want: []string{"cfo-1"},
		},
	}

	r := New(testDirectory(), zap.NewNop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), tt.step, testRequester())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_EmptyResults(t *testing.T) {
	r := New(testDirectory(), zap.NewNop())

	t.Run("unknown role yields empty set", func(t *testing.T) {
		step := &models.ApprovalFlowStep{ApproverType: models.ApproverRole, ApproverRoleCode: "NOBODY"}
		got, err := r.Resolve(context.Background(), step, testRequester())
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("requester without manager yields empty set", func(t *testing.T) {
		step := &models.ApprovalFlowStep{ApproverType: models.ApproverManager}
		req := testRequester()
		req.UserID = "ceo-1"
		got, err := r.Resolve(context.Background(), step, req)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("missing scope coordinate yields empty set", func(t *testing.T) {
		step := &models.ApprovalFlowStep{ApproverType: models.ApproverBranchManager}
		req := testRequester()
		req.Scope.Branch = ""
		got, err := r.Resolve(context.Background(), step, req)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestResolve_UnknownApproverType(t *testing.T) {
	r := New(testDirectory(), zap.NewNop())

	_, err := r.Resolve(context.Background(), &models.ApprovalFlowStep{ApproverType: "committee"}, testRequester())

	assert.ErrorIs(t, err, ErrUnknownApproverType)
}

func TestResolve_DirectoryErrorPropagates(t *testing.T) {
	dir := testDirectory()
	dir.err = errors.New("directory unavailable")
	r := New(dir, zap.NewNop())

	_, err := r.Resolve(context.Background(),
		&models.ApprovalFlowStep{ApproverType: models.ApproverRole, ApproverRoleCode: "HR_MANAGER"},
		testRequester())

	assert.Error(t, err)
}

func TestEscalationApprovers(t *testing.T) {
	dir := testDirectory()
	dir.roles["BRANCH_OPS"] = []string{"ops-1"}
	r := New(dir, zap.NewNop())

	got, err := r.EscalationApprovers(context.Background(),
		&models.ApprovalFlowStep{EscalationRoleCode: "BRANCH_OPS", EscalationHours: 24})

	require.NoError(t, err)
	assert.Equal(t, []string{"ops-1"}, got)
}
