package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultQueueKey is the Redis list the import worker consumes from.
const DefaultQueueKey = "importd:tasks"

// RedisQueue is a Dispatcher backed by a Redis list. Enqueue pushes onto the
// list; Run blocks popping tasks and invoking the handler until the context
// is cancelled.
type RedisQueue struct {
	client *redis.Client
	key    string
	logger *zap.Logger
}

// NewRedisQueue creates a queue on the given Redis client.
func NewRedisQueue(client *redis.Client, key string, logger *zap.Logger) *RedisQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisQueue{client: client, key: key, logger: logger}
}

// Enqueue pushes a task onto the queue.
func (q *RedisQueue) Enqueue(ctx context.Context, task Task) error {
	data, err := encodeTask(task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// Run consumes tasks until ctx is cancelled. Handler errors are logged and
// the task is dropped; redelivery is the caller's retry policy, not ours.
func (q *RedisQueue) Run(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		result, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.logger.Warn("queue pop failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		task, err := decodeTask([]byte(result[1]))
		if err != nil {
			q.logger.Warn("dropping malformed task", zap.Error(err))
			continue
		}

		if err := handler(ctx, task); err != nil {
			q.logger.Error("task failed",
				zap.String("type", task.Type),
				zap.String("job_id", task.JobID.String()),
				zap.Error(err))
		}
	}
}
