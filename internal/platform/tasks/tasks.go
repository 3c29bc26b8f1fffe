package tasks

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"

	"bggsync/internal/platform/redis"
)

const (
	TaskTypeDispatch = "sync:dispatch"
	TaskTypeItem     = "sync:item"

	QueueSync = "sync"
)

// Enqueuer submits tasks to the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, queue string, maxRetries int, opts ...asynq.Option) error
}

type Client struct{ c *asynq.Client }

var _ Enqueuer = (*Client)(nil)

func New(r *redis.Service) *Client { return &Client{c: asynq.NewClient(r.AsynqRedisOpt())} }

// NewWithOpt connects straight to Redis without a redis.Service.
func NewWithOpt(opt asynq.RedisClientOpt) *Client { return &Client{c: asynq.NewClient(opt)} }

func (t *Client) Close() error { return t.c.Close() }

// Enqueue submits task. A task id that is already queued counts as success,
// so re-dispatching the same run item is a no-op.
func (t *Client) Enqueue(ctx context.Context, task *asynq.Task, queue string, maxRetries int, opts ...asynq.Option) error {
	all := append([]asynq.Option{asynq.Queue(queue), asynq.MaxRetry(maxRetries)}, opts...)
	_, err := t.c.EnqueueContext(ctx, task, all...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}
