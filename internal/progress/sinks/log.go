package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/progressive-loader/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. Chunk-level
// events are logged at debug level so production output stays small.
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
			zap.String("load_id", evt.LoadUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.Int64("received", evt.Received),
			zap.Int64("total", evt.Total),
			zap.Int("percent", evt.Percent),
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		switch evt.Stage {
		case progress.StageLoadProgress:
			s.logger.Debug("progress event", fields...)
		case progress.StageLoadError:
			s.logger.Warn("progress event", fields...)
		default:
			s.logger.Info("progress event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
