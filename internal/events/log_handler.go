package events

import (
	"context"
	"log/slog"
)

// LogHandler writes one structured log record per lifecycle event:
// successes at INFO, scheduled retries at WARN, terminal failures at ERROR.
type LogHandler struct {
	logger *slog.Logger
}

// NewLogHandler creates a LogHandler writing to logger.
func NewLogHandler(logger *slog.Logger) *LogHandler {
	return &LogHandler{logger: logger.With("component", "task_lifecycle")}
}

// HandleEvent implements EventHandler.
func (h *LogHandler) HandleEvent(ctx context.Context, event *LifecycleEvent) error {
	attrs := []any{
		slog.String("event_id", event.ID.String()),
		slog.String("task_id", event.TaskID),
		slog.Int("attempt", event.Attempt),
		slog.Duration("duration", event.Duration),
	}
	if event.StorageFailure {
		attrs = append(attrs, slog.String("error_kind", "storage"))
	}

	switch event.Type {
	case TaskSucceeded:
		attrs = append(attrs, slog.String("result_locator", event.ResultLocator))
		h.logger.InfoContext(ctx, "task succeeded", attrs...)
	case TaskRetryScheduled:
		attrs = append(attrs,
			slog.String("error_detail", event.ErrorDetail),
			slog.Duration("retry_after", event.RetryAfter))
		h.logger.WarnContext(ctx, "task retry scheduled", attrs...)
	case TaskFailed:
		attrs = append(attrs, slog.String("error_detail", event.ErrorDetail))
		h.logger.ErrorContext(ctx, "task failed", attrs...)
	default:
		attrs = append(attrs, slog.String("event_type", string(event.Type)))
		h.logger.DebugContext(ctx, "unknown task event", attrs...)
	}
	return nil
}
