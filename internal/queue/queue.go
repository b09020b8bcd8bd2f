// Package queue hands background work to the import worker. Tasks are
// at-least-once: the worker side is responsible for idempotency.
package queue

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Task types handled by the import worker.
const (
	TaskProcessJob = "import_job.process"
	TaskPromoteJob = "import_job.promote"
)

// Task is one unit of background work.
type Task struct {
	Type  string    `json:"type"`
	JobID uuid.UUID `json:"job_id"`
	// Edit rides along with a promote task so the change that triggered
	// promotion is applied even when the caller's wait times out.
	Edit *CellEdit `json:"edit,omitempty"`
}

// CellEdit is a single pending cell change. Row is 0-based.
type CellEdit struct {
	Row   int    `json:"row"`
	Field string `json:"field"`
	Value string `json:"value"`
}

// Handler consumes dequeued tasks.
type Handler func(ctx context.Context, task Task) error

// Dispatcher enqueues tasks for background execution.
type Dispatcher interface {
	Enqueue(ctx context.Context, task Task) error
}

func encodeTask(task Task) ([]byte, error) {
	return json.Marshal(task)
}

func decodeTask(data []byte) (Task, error) {
	var task Task
	err := json.Unmarshal(data, &task)
	return task, err
}
