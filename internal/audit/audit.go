// Package audit records who did what to which approval entity. The action
// history table is the durable record; this sink is the operational trail.
package audit

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes audit events to the structured service log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates an audit sink backed by the service log.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

// Record emits one audit entry.
func (s *LogSink) Record(_ context.Context, event, actorID, entityRef string, details map[string]interface{}) {
	fields := []zap.Field{
		zap.String("event", event),
		zap.String("actor_id", actorID),
		zap.String("entity", entityRef),
	}
	for key, value := range details {
		fields = append(fields, zap.Any(key, value))
	}
	s.logger.Info("Audit event", fields...)
}
