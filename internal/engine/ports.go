package engine

import (
	"context"

	"github.com/garyjia/staffops-approval/internal/models"
)

// NotificationSink receives fire-and-forget event notifications. Called
// after the instance mutation commits; a failing sink never rolls back
// the decision.
type NotificationSink interface {
	Notify(ctx context.Context, instanceID int64, event string, recipients []string) error
}

// AuditSink records engine events for external audit persistence.
type AuditSink interface {
	Record(ctx context.Context, event, actorID, entityRef string, details map[string]interface{})
}

// CompletionHandler is invoked once when an instance reaches a terminal
// status, so the originating domain module (leave, claim, loan) can take
// effect on its own records.
type CompletionHandler interface {
	InstanceResolved(ctx context.Context, instance *models.ApprovalInstance)
}
