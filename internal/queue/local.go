package queue

import (
	"context"
	"time"

	"github.com/iago/autoconnect-pipeline/internal/domain"
)

// LocalQueue is a fallback queue used when Redis is not configured. Each
// pushed task is received by exactly one Pop caller.
type LocalQueue struct {
	ch chan domain.Task
}

func NewLocalQueue(bufferSize int) *LocalQueue {
	if bufferSize <= 0 {
		bufferSize = 4096
	}
	return &LocalQueue{ch: make(chan domain.Task, bufferSize)}
}

func (q *LocalQueue) Push(ctx context.Context, task domain.Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- task:
		return nil
	}
}

func (q *LocalQueue) PushBatch(ctx context.Context, tasks []domain.Task) error {
	for _, task := range tasks {
		if err := q.Push(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

func (q *LocalQueue) Pop(ctx context.Context, timeout time.Duration) (domain.Task, bool, error) {
	if timeout <= 0 {
		select {
		case task := <-q.ch:
			return task, true, nil
		default:
			return domain.Task{}, false, nil
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return domain.Task{}, false, ctx.Err()
	case <-timer.C:
		return domain.Task{}, false, nil
	case task := <-q.ch:
		return task, true, nil
	}
}

// Len reports the number of tasks waiting.
func (q *LocalQueue) Len() int {
	return len(q.ch)
}
