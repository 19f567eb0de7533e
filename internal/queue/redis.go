package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iago/autoconnect-pipeline/internal/domain"
	"github.com/redis/go-redis/v9"
)

const DefaultTaskQueue = "task_queue"

// RedisQueue implements Producer+Consumer on a Redis list: LPUSH appends,
// BRPOP takes from the other end, so tasks come out in push order.
type RedisQueue struct {
	client *redis.Client
	key    string
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultTaskQueue
	}
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Push(ctx context.Context, task domain.Task) error {
	payload, err := domain.EncodeTask(task)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", q.key, err)
	}
	return nil
}

// PushBatch writes all tasks with a single LPUSH, preserving their order.
func (q *RedisQueue) PushBatch(ctx context.Context, tasks []domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	values := make([]any, 0, len(tasks))
	for _, task := range tasks {
		payload, err := domain.EncodeTask(task)
		if err != nil {
			return err
		}
		values = append(values, payload)
	}
	if err := q.client.LPush(ctx, q.key, values...).Err(); err != nil {
		return fmt.Errorf("lpush %s batch: %w", q.key, err)
	}
	return nil
}

// Pop blocks with BRPOP. Redis rounds timeouts below one second up to one
// second.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (domain.Task, bool, error) {
	if timeout <= 0 {
		timeout = time.Second
	}
	result, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Task{}, false, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Task{}, false, ctxErr
		}
		return domain.Task{}, false, fmt.Errorf("brpop %s: %w", q.key, err)
	}
	if len(result) != 2 {
		return domain.Task{}, false, fmt.Errorf("brpop %s: unexpected reply %v", q.key, result)
	}

	task, err := domain.DecodeTask([]byte(result[1]))
	if err != nil {
		return domain.Task{}, false, fmt.Errorf("decode task from %s: %w", q.key, err)
	}
	return task, true, nil
}

// Len reports the number of queued tasks.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
