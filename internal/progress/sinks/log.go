// Package sinks contains Sink implementations for the progress hub.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/mediafetch/fetchd/internal/progress"
)

// LogSink emits structured logs for job lifecycle events. Per-callback
// JOB_PROGRESS events are logged at debug level to keep production logs
// quiet.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("kind", evt.Kind),
			zap.Int64("bytes", evt.Bytes),
			zap.Float64("percent", evt.Percent),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		}
		if evt.Stage == progress.StageJobProgress {
			s.logger.Debug("job progress", fields...)
			continue
		}
		s.logger.Info("job event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
