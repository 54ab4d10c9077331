package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/staffops-approval/internal/models"
	"github.com/garyjia/staffops-approval/internal/repository"
)

// Sender delivers one notification over a concrete channel (chat, email).
type Sender interface {
	Send(ctx context.Context, notification *models.Notification) error
}

// Dispatcher drains the notification outbox in the background.
type Dispatcher struct {
	notifications *repository.NotificationRepository
	sender        Sender
	logger        *zap.Logger

	drainInterval time.Duration
	batchSize     int

	mu        sync.Mutex
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewDispatcher creates a new outbox dispatcher. Zero interval or batch
// size fall back to defaults.
func NewDispatcher(notifications *repository.NotificationRepository, sender Sender, logger *zap.Logger, drainInterval time.Duration, batchSize int) *Dispatcher {
	if drainInterval <= 0 {
		drainInterval = 15 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Dispatcher{
		notifications: notifications,
		sender:        sender,
		logger:        logger,
		drainInterval: drainInterval,
		batchSize:     batchSize,
	}
}

// Start begins draining the outbox.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isRunning {
		return fmt.Errorf("notification dispatcher is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.isRunning = true

	d.logger.Info("NotificationDispatcher started",
		zap.Duration("drain_interval", d.drainInterval),
		zap.Int("batch_size", d.batchSize))

	go d.drainLoop()

	return nil
}

// Stop stops the dispatcher.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isRunning {
		return
	}

	d.isRunning = false
	if d.cancel != nil {
		d.cancel()
	}

	d.logger.Info("NotificationDispatcher stopped")
}

// Name returns the worker name for identification.
func (d *Dispatcher) Name() string {
	return "NotificationDispatcher"
}

func (d *Dispatcher) drainLoop() {
	ticker := time.NewTicker(d.drainInterval)
	defer ticker.Stop()

	// Drain immediately on start
	d.Drain()

	for {
		select {
		case <-d.ctx.Done():
			d.logger.Debug("Drain loop context cancelled")
			return

		case <-ticker.C:
			d.Drain()
		}
	}
}

// Drain delivers one batch of pending notifications. A failed send marks
// the row FAILED; it is never retried automatically, so a broken channel
// cannot pile up redeliveries.
func (d *Dispatcher) Drain() {
	ctx, cancel := context.WithTimeout(d.ctx, 30*time.Second)
	defer cancel()

	pending, err := d.notifications.ListPending(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("Failed to list pending notifications", zap.Error(err))
		return
	}
	if len(pending) == 0 {
		return
	}

	sent := 0
	failed := 0
	for _, notification := range pending {
		if err := d.sender.Send(ctx, notification); err != nil {
			d.logger.Warn("Failed to deliver notification",
				zap.Int64("notification_id", notification.ID),
				zap.String("event", notification.Event),
				zap.Error(err))
			if err := d.notifications.MarkFailed(ctx, notification.ID); err != nil {
				d.logger.Error("Failed to mark notification failed",
					zap.Int64("notification_id", notification.ID), zap.Error(err))
			}
			failed++
			continue
		}
		if err := d.notifications.MarkSent(ctx, notification.ID); err != nil {
			d.logger.Error("Failed to mark notification sent",
				zap.Int64("notification_id", notification.ID), zap.Error(err))
			continue
		}
		sent++
	}

	d.logger.Info("Notification batch drained",
		zap.Int("sent", sent),
		zap.Int("failed", failed))
}

// LogSender writes notifications to the service log. It is the default
// channel for environments without a configured chat integration.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a log-only sender.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the notification.
func (s *LogSender) Send(_ context.Context, notification *models.Notification) error {
	s.logger.Info("Notification",
		zap.Int64("instance_id", notification.InstanceID),
		zap.String("event", notification.Event),
		zap.Strings("recipients", notification.Recipients))
	return nil
}
