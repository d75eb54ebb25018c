package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// HandlersRegistry routes task types to handlers. Every task run is logged
// with its outcome and retry count.
type HandlersRegistry struct {
	mux *asynq.ServeMux
}

func NewHandlersRegistry(logger *slog.Logger) *HandlersRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	mux := asynq.NewServeMux()
	mux.Use(logTasks(logger))
	return &HandlersRegistry{mux: mux}
}

func (r *HandlersRegistry) Register(taskType string, handler asynq.Handler) {
	r.mux.Handle(taskType, handler)
}

func (r *HandlersRegistry) Mux() *asynq.ServeMux {
	return r.mux
}

func logTasks(logger *slog.Logger) asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
			start := time.Now()
			retry, _ := asynq.GetRetryCount(ctx)
			id, _ := asynq.GetTaskID(ctx)

			err := next.ProcessTask(ctx, t)

			attrs := []any{"task_type", t.Type(), "task_id", id, "retry", retry, "duration", time.Since(start)}
			if err != nil {
				logger.Error("task failed", append(attrs, "error", err)...)
				return err
			}
			logger.Info("task done", attrs...)
			return nil
		})
	}
}
