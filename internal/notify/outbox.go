// Package notify implements the notification outbox. Workflow events are
// recorded as rows first and delivered later by the Dispatcher worker, so
// a slow or failing channel never blocks an approval action.
package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/staffops-approval/internal/models"
	"github.com/garyjia/staffops-approval/internal/repository"
)

// Outbox records workflow events as pending notification rows.
type Outbox struct {
	notifications *repository.NotificationRepository
	logger        *zap.Logger
}

// NewOutbox creates a new notification outbox.
func NewOutbox(notifications *repository.NotificationRepository, logger *zap.Logger) *Outbox {
	return &Outbox{
		notifications: notifications,
		logger:        logger,
	}
}

// Notify enqueues one notification row for the given event. Events with
// no recipients are dropped silently.
func (o *Outbox) Notify(ctx context.Context, instanceID int64, event string, recipients []string) error {
	if len(recipients) == 0 {
		return nil
	}

	notification := &models.Notification{
		InstanceID: instanceID,
		Event:      event,
		Recipients: recipients,
		Status:     models.NotificationStatusPending,
	}
	if err := o.notifications.Create(ctx, notification); err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}

	o.logger.Debug("Notification enqueued",
		zap.Int64("instance_id", instanceID),
		zap.String("event", event),
		zap.Int("recipients", len(recipients)))
	return nil
}
