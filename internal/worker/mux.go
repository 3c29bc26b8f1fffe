package worker

import (
	"context"
	"time"

	"github.com/hibiken/asynq"

	"bggsync/internal/logger"
	"bggsync/internal/platform/tasks"
)

type Mux struct{ mux *asynq.ServeMux }

func NewMux() *Mux { return &Mux{mux: asynq.NewServeMux()} }

func (m *Mux) HandleFunc(t string, h func(ctx context.Context, task *asynq.Task) error) {
	m.mux.HandleFunc(t, h)
}

func (m *Mux) Mux() *asynq.ServeMux { return m.mux }

// Run executes a single task in-process through the registered handlers.
// Retry metadata is absent, so handlers treat it as a final attempt.
func (m *Mux) Run(ctx context.Context, taskType string, payload []byte) error {
	return m.mux.ProcessTask(ctx, asynq.NewTask(taskType, payload))
}

// NewServer builds the queue consumer. concurrency caps how many items are
// processed at once across the whole process.
func NewServer(opt asynq.RedisClientOpt, concurrency int, log *logger.Logger) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 1
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{tasks.QueueSync: 1},
		// Linear delay between item retries.
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return time.Duration(n+1) * 10 * time.Second
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			log.Warn().
				Str("task_type", task.Type()).
				Int("retried", retried).
				Int("max_retry", maxRetry).
				Err(err).
				Msg("task failed")
		}),
		ShutdownTimeout: 30 * time.Second,
	})
}
