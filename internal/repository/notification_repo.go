package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/staffops-approval/internal/models"
)

// NotificationRepository handles the notification outbox.
type NotificationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationRepository creates a new notification repository.
func NewNotificationRepository(db *sql.DB, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// Create queues one notification.
func (r *NotificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	recipients, err := json.Marshal(notification.Recipients)
	if err != nil {
		return fmt.Errorf("failed to marshal recipients: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (instance_id, event, recipients, status)
		VALUES (?, ?, ?, ?)
	`, notification.InstanceID, notification.Event, string(recipients), models.NotificationStatusPending)
	if err != nil {
		r.logger.Error("Failed to create notification", zap.Int64("instance_id", notification.InstanceID), zap.Error(err))
		return fmt.Errorf("failed to create notification: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	notification.ID = id
	return nil
}

// ListPending retrieves queued notifications up to the given batch size.
func (r *NotificationRepository) ListPending(ctx context.Context, limit int) ([]*models.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, instance_id, event, recipients, status, created_at, sent_at
		FROM notifications
		WHERE status = ?
		ORDER BY id ASC
		LIMIT ?
	`, models.NotificationStatusPending, limit)
	if err != nil {
		r.logger.Error("Failed to list pending notifications", zap.Error(err))
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		var n models.Notification
		var recipients string
		var sentAt sql.NullTime
		if err := rows.Scan(&n.ID, &n.InstanceID, &n.Event, &recipients, &n.Status, &n.CreatedAt, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if err := json.Unmarshal([]byte(recipients), &n.Recipients); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recipients: %w", err)
		}
		if sentAt.Valid {
			n.SentAt = &sentAt.Time
		}
		notifications = append(notifications, &n)
	}
	return notifications, rows.Err()
}

// MarkSent records a successful delivery.
func (r *NotificationRepository) MarkSent(ctx context.Context, id int64) error {
	return r.setStatus(ctx, id, models.NotificationStatusSent, true)
}

// MarkFailed records a failed delivery attempt. Failed rows stay failed;
// the engine's decision is already committed and delivery is best-effort.
func (r *NotificationRepository) MarkFailed(ctx context.Context, id int64) error {
	return r.setStatus(ctx, id, models.NotificationStatusFailed, false)
}

func (r *NotificationRepository) setStatus(ctx context.Context, id int64, status string, sent bool) error {
	var sentAt interface{}
	if sent {
		sentAt = time.Now()
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE notifications SET status = ?, sent_at = ? WHERE id = ?`, status, sentAt, id); err != nil {
		r.logger.Error("Failed to update notification", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to update notification: %w", err)
	}
	return nil
}
