package notify

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/staffops-approval/internal/models"
	"github.com/garyjia/staffops-approval/internal/repository"
	"github.com/garyjia/staffops-approval/pkg/database"
)

type fakeSender struct {
	sent    []*models.Notification
	failFor map[int64]bool
}

func (s *fakeSender) Send(_ context.Context, notification *models.Notification) error {
	if s.failFor[notification.ID] {
		return errors.New("channel unavailable")
	}
	s.sent = append(s.sent, notification)
	return nil
}

func newNotifyEnv(t *testing.T) (*repository.NotificationRepository, *Outbox) {
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

	repo := repository.NewNotificationRepository(db.DB, logger)
	return repo, NewOutbox(repo, logger)
}

func TestOutbox_EnqueuesPendingRow(t *testing.T) {
	repo, outbox := newNotifyEnv(t)
	ctx := context.Background()

	require.NoError(t, outbox.Notify(ctx, 7, models.EventStepAdvanced, []string{"mgr1", "lead1"}))

	pending, err := repo.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(7), pending[0].InstanceID)
	assert.Equal(t, models.EventStepAdvanced, pending[0].Event)
	assert.Equal(t, []string{"mgr1", "lead1"}, pending[0].Recipients)
	assert.Equal(t, models.NotificationStatusPending, pending[0].Status)
}

func TestOutbox_DropsEmptyRecipientList(t *testing.T) {
	repo, outbox := newNotifyEnv(t)
	ctx := context.Background()

	require.NoError(t, outbox.Notify(ctx, 7, models.EventStepBlocked, nil))

	pending, err := repo.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDrain_DeliversAndMarksRows(t *testing.T) {
	repo, outbox := newNotifyEnv(t)
	ctx := context.Background()

	require.NoError(t, outbox.Notify(ctx, 1, models.EventInstanceCreated, []string{"mgr1"}))
	require.NoError(t, outbox.Notify(ctx, 1, models.EventStepAdvanced, []string{"fin1"}))

	pending, err := repo.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	sender := &fakeSender{failFor: map[int64]bool{pending[1].ID: true}}
	dispatcher := NewDispatcher(repo, sender, zap.NewNop(), time.Minute, 10)
	dispatcher.ctx = context.Background()

	dispatcher.Drain()

	require.Len(t, sender.sent, 1)
	assert.Equal(t, models.EventInstanceCreated, sender.sent[0].Event)

	// Both rows left the queue: one SENT, one FAILED, neither retried.
	remaining, err := repo.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	dispatcher.Drain()
	assert.Len(t, sender.sent, 1)
}
