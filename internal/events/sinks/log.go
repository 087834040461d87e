// Package sinks provides Sink implementations for the event hub.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/repo-capture-engine/internal/events"
)

// LogSink emits structured logs for the lifecycle stream. Useful during
// development and audits where no durable sink is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.logger.Info("lifecycle event",
			zap.String("kind", string(evt.Kind)),
			zap.String("job_id", evt.JobID),
			zap.String("repository_id", evt.RepositoryID),
			zap.String("job_type", string(evt.JobType)),
			zap.String("processor", string(evt.Processor)),
			zap.String("status", string(evt.Status)),
			zap.Int("attempts", evt.Attempts),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
