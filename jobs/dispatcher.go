package jobs

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
)

// Dispatcher accepts background tasks by name. Services depend on this
// interface rather than a process-wide registry so callers can be tested
// with a recording fake.
type Dispatcher interface {
	Dispatch(ctx context.Context, taskType string, payload any) error
}

// AsynqDispatcher enqueues tasks onto the Redis-backed queue.
type AsynqDispatcher struct {
	client *asynq.Client
}

// NewAsynqDispatcher constructs a Dispatcher backed by Asynq.
func NewAsynqDispatcher(redisOpts asynq.RedisClientOpt) *AsynqDispatcher {
	return &AsynqDispatcher{client: asynq.NewClient(redisOpts)}
}

// Dispatch marshals the payload and enqueues the task on the default queue.
func (d *AsynqDispatcher) Dispatch(ctx context.Context, taskType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = d.client.EnqueueContext(ctx, asynq.NewTask(taskType, data), asynq.Queue(QueueDefault))
	return err
}

// Close releases client resources.
func (d *AsynqDispatcher) Close() error {
	return d.client.Close()
}
