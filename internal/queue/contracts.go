package queue

import (
	"context"
	"time"

	"github.com/iago/autoconnect-pipeline/internal/domain"
)

// Producer appends tasks to the tail of the queue.
type Producer interface {
	Push(ctx context.Context, task domain.Task) error
}

// Consumer pops one task, blocking up to timeout. ok is false when the
// timeout expired without a task.
type Consumer interface {
	Pop(ctx context.Context, timeout time.Duration) (task domain.Task, ok bool, err error)
}

type TaskQueue interface {
	Producer
	Consumer
}

// BatchProducer writes several tasks in one queue operation. Consumers
// see them in slice order.
type BatchProducer interface {
	Producer
	PushBatch(ctx context.Context, tasks []domain.Task) error
}
