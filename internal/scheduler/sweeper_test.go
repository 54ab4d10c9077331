package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/staffops-approval/internal/engine"
	"github.com/garyjia/staffops-approval/internal/models"
	"github.com/garyjia/staffops-approval/internal/registry"
	"github.com/garyjia/staffops-approval/internal/repository"
	"github.com/garyjia/staffops-approval/internal/resolver"
	"github.com/garyjia/staffops-approval/pkg/database"
)

type fakeDirectory struct {
	managers map[string]string
	roles    map[string][]string
}

func (d *fakeDirectory) GetManager(_ context.Context, userID string) (string, error) {
	return d.managers[userID], nil
}

func (d *fakeDirectory) GetSkipManager(_ context.Context, userID string) (string, error) {
	return d.managers[d.managers[userID]], nil
}

func (d *fakeDirectory) GetBranchHead(context.Context, string) (string, error)     { return "", nil }
func (d *fakeDirectory) GetRegionalHead(context.Context, string) (string, error)   { return "", nil }
func (d *fakeDirectory) GetDepartmentHead(context.Context, string) (string, error) { return "", nil }

func (d *fakeDirectory) GetUsersWithRole(_ context.Context, roleCode string) ([]string, error) {
	return d.roles[roleCode], nil
}

type recordedEvent struct {
	InstanceID int64
	Event      string
	Recipients []string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []recordedEvent
}

func (n *recordingNotifier) Notify(_ context.Context, instanceID int64, event string, recipients []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, recordedEvent{InstanceID: instanceID, Event: event, Recipients: recipients})
	return nil
}

func (n *recordingNotifier) countOf(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, s := range n.sent {
		if s.Event == event {
			count++
		}
	}
	return count
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, string, string, string, map[string]interface{}) {}

type nopCompletions struct{}

func (nopCompletions) InstanceResolved(context.Context, *models.ApprovalInstance) {}

// fakeClock is shared between the processor and the sweeper so a test
// can move the whole system forward in one step.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sweepEnv struct {
	clock     *fakeClock
	dir       *fakeDirectory
	notifier  *recordingNotifier
	registry  *registry.Service
	processor *engine.Processor
	sweeper   *Sweeper
}

func newSweepEnv(t *testing.T) *sweepEnv {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{
		Path:            filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).RunMigrations("../../migrations"))

	env := &sweepEnv{
		clock:    &fakeClock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)},
		dir:      &fakeDirectory{managers: map[string]string{}, roles: map[string][]string{}},
		notifier: &recordingNotifier{},
	}

	instances := repository.NewInstanceRepository(db.DB, logger)
	overrides := repository.NewOverrideRepository(db.DB, logger)
	res := resolver.New(env.dir, logger)
	env.registry = registry.NewService(repository.NewFlowRepository(db, logger), logger)

	env.processor = engine.NewProcessor(
		db,
		instances,
		repository.NewActionRepository(db.DB, logger),
		overrides,
		env.registry,
		res,
		env.notifier,
		nopAudit{},
		nopCompletions{},
		logger,
	)
	env.processor.SetClock(env.clock.Now)

	env.sweeper = NewSweeper(db, instances, overrides, env.registry, res, env.processor, env.notifier, "@every 1m", logger)
	env.sweeper.now = env.clock.Now
	return env
}

// deadlineFlow has a manager step that auto-approves after 48h and
// escalates to OPS_LEAD after 24h, then a final HR step.
func deadlineFlow() *models.ApprovalFlow {
	return &models.ApprovalFlow{
		Code:       "leave-default",
		Name:       "leave-default",
		TargetType: "leave",
		IsActive:   true,
		Steps: []*models.ApprovalFlowStep{
			{
				StepOrder:          10,
				ApproverType:       models.ApproverManager,
				AutoApproveHours:   48,
				EscalationRoleCode: "OPS_LEAD",
				EscalationHours:    24,
			},
			{StepOrder: 20, ApproverType: models.ApproverRole, ApproverRoleCode: "HR_MANAGER", IsFinal: true},
		},
	}
}

func (env *sweepEnv) startInstance(t *testing.T, targetID string) *models.ApprovalInstance {
	t.Helper()
	instance, err := env.processor.CreateInstance(context.Background(), "leave", targetID,
		models.Requester{UserID: "emp1"}, false)
	require.NoError(t, err)
	return instance
}

func TestSweep_NothingDue(t *testing.T) {
	env := newSweepEnv(t)
	require.NoError(t, env.registry.CreateFlow(context.Background(), deadlineFlow()))
	env.dir.managers["emp1"] = "mgr1"
	env.dir.roles["HR_MANAGER"] = []string{"hr1"}

	instance := env.startInstance(t, "REQ-1")

	env.clock.Advance(23 * time.Hour)
	env.sweeper.Sweep(context.Background())

	current, err := env.processor.GetInstance(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, *current.CurrentStepOrder)
	assert.Equal(t, 0, env.notifier.countOf(models.EventStepEscalated))
}

func TestSweep_EscalationFiresOncePerStepVisit(t *testing.T) {
	env := newSweepEnv(t)
	require.NoError(t, env.registry.CreateFlow(context.Background(), deadlineFlow()))
	env.dir.managers["emp1"] = "mgr1"
	env.dir.roles["HR_MANAGER"] = []string{"hr1"}
	env.dir.roles["OPS_LEAD"] = []string{"lead1"}

	instance := env.startInstance(t, "REQ-2")

	env.clock.Advance(25 * time.Hour)
	env.sweeper.Sweep(context.Background())

	// Escalation widens the approver set without moving the step.
	current, err := env.processor.GetInstance(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, current.Status)
	assert.Equal(t, 10, *current.CurrentStepOrder)
	assert.Equal(t, 1, env.notifier.countOf(models.EventStepEscalated))

	approvers, err := env.processor.CurrentApprovers(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"mgr1", "lead1"}, approvers)

	// Re-sweeping the same dwell must not escalate again.
	env.clock.Advance(time.Hour)
	env.sweeper.Sweep(context.Background())
	assert.Equal(t, 1, env.notifier.countOf(models.EventStepEscalated))
}

func TestSweep_EscalatedApproverMayAct(t *testing.T) {
	env := newSweepEnv(t)
	require.NoError(t, env.registry.CreateFlow(context.Background(), deadlineFlow()))
	env.dir.managers["emp1"] = "mgr1"
	env.dir.roles["HR_MANAGER"] = []string{"hr1"}
	env.dir.roles["OPS_LEAD"] = []string{"lead1"}

	instance := env.startInstance(t, "REQ-3")

	env.clock.Advance(25 * time.Hour)
	env.sweeper.Sweep(context.Background())

	updated, err := env.processor.SubmitAction(context.Background(), engine.SubmitRequest{
		InstanceID: instance.ID, StepOrder: 10, ActorID: "lead1", Action: models.ActionApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, 20, *updated.CurrentStepOrder)
}

func TestSweep_EmptyEscalationRoleRetriesLater(t *testing.T) {
	env := newSweepEnv(t)
	require.NoError(t, env.registry.CreateFlow(context.Background(), deadlineFlow()))
	env.dir.managers["emp1"] = "mgr1"
	env.dir.roles["HR_MANAGER"] = []string{"hr1"}

	env.startInstance(t, "REQ-4")

	env.clock.Advance(25 * time.Hour)
	env.sweeper.Sweep(context.Background())
	assert.Equal(t, 0, env.notifier.countOf(models.EventStepEscalated))

	// Once the role is filled, the next sweep escalates.
	env.dir.roles["OPS_LEAD"] = []string{"lead1"}
	env.clock.Advance(time.Hour)
	env.sweeper.Sweep(context.Background())
	assert.Equal(t, 1, env.notifier.countOf(models.EventStepEscalated))
}

func TestSweep_AutoApproveAdvancesExactlyOnce(t *testing.T) {
	env := newSweepEnv(t)
	require.NoError(t, env.registry.CreateFlow(context.Background(), deadlineFlow()))
	env.dir.managers["emp1"] = "mgr1"
	env.dir.roles["HR_MANAGER"] = []string{"hr1"}

	instance := env.startInstance(t, "REQ-5")

	env.clock.Advance(49 * time.Hour)
	env.sweeper.Sweep(context.Background())

	current, err := env.processor.GetInstance(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, current.Status)
	assert.Equal(t, 20, *current.CurrentStepOrder)

	history, err := env.processor.History(context.Background(), instance.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ActorSystemAutoApprove, history[0].ActorID)
	assert.Equal(t, models.ActionApproved, history[0].Action)

	// Step 20 has no deadline; further sweeps leave it alone.
	env.clock.Advance(100 * time.Hour)
	env.sweeper.Sweep(context.Background())

	current, err = env.processor.GetInstance(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, *current.CurrentStepOrder)
	history, err = env.processor.History(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestSweep_AutoApproveTakesPrecedenceOverEscalation(t *testing.T) {
	env := newSweepEnv(t)
	require.NoError(t, env.registry.CreateFlow(context.Background(), deadlineFlow()))
	env.dir.managers["emp1"] = "mgr1"
	env.dir.roles["HR_MANAGER"] = []string{"hr1"}
	env.dir.roles["OPS_LEAD"] = []string{"lead1"}

	instance := env.startInstance(t, "REQ-6")

	// Both deadlines have passed by the first sweep; the instance moves
	// on rather than escalating a step it is leaving.
	env.clock.Advance(49 * time.Hour)
	env.sweeper.Sweep(context.Background())

	current, err := env.processor.GetInstance(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, *current.CurrentStepOrder)
	assert.Equal(t, 0, env.notifier.countOf(models.EventStepEscalated))
}

func TestSweep_ReturnRestartsDeadlines(t *testing.T) {
	env := newSweepEnv(t)
	require.NoError(t, env.registry.CreateFlow(context.Background(), deadlineFlow()))
	env.dir.managers["emp1"] = "mgr1"
	env.dir.roles["HR_MANAGER"] = []string{"hr1"}
	env.dir.roles["OPS_LEAD"] = []string{"lead1"}

	instance := env.startInstance(t, "REQ-7")

	env.clock.Advance(25 * time.Hour)
	env.sweeper.Sweep(context.Background())
	assert.Equal(t, 1, env.notifier.countOf(models.EventStepEscalated))

	// Approve past step 10, then return to it: a fresh dwell begins and
	// the step may escalate again.
	_, err := env.processor.SubmitAction(context.Background(), engine.SubmitRequest{
		InstanceID: instance.ID, StepOrder: 10, ActorID: "mgr1", Action: models.ActionApproved,
	})
	require.NoError(t, err)
	_, err = env.processor.SubmitAction(context.Background(), engine.SubmitRequest{
		InstanceID: instance.ID, StepOrder: 20, ActorID: "hr1", Action: models.ActionReturned,
	})
	require.NoError(t, err)

	env.clock.Advance(25 * time.Hour)
	env.sweeper.Sweep(context.Background())
	assert.Equal(t, 2, env.notifier.countOf(models.EventStepEscalated))
}
