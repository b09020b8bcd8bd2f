package queue

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// InProcQueue runs tasks on goroutines inside the same process. It backs
// single-instance deployments without Redis, and tests.
type InProcQueue struct {
	handler Handler
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewInProcQueue creates an in-process dispatcher routing to handler.
func NewInProcQueue(handler Handler, logger *zap.Logger) *InProcQueue {
	return &InProcQueue{handler: handler, logger: logger}
}

// Enqueue runs the task on a new goroutine.
func (q *InProcQueue) Enqueue(ctx context.Context, task Task) error {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		// The request context may be cancelled as soon as the response is
		// written; background work carries on independently of it.
		if err := q.handler(context.Background(), task); err != nil {
			q.logger.Error("task failed",
				zap.String("type", task.Type),
				zap.String("job_id", task.JobID.String()),
				zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until all enqueued tasks finish. Used in shutdown and tests.
func (q *InProcQueue) Wait() {
	q.wg.Wait()
}
