package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iago/autoconnect-pipeline/internal/domain"
)

var (
	ErrQueueBackpressure = errors.New("queue backpressure: push buffer is full")
	ErrBatchingClosed    = errors.New("batching producer is closed")
)

type BatchingConfig struct {
	MaxBatchSize       int
	FlushInterval      time.Duration
	FlushTimeout       time.Duration
	QueueCapacity      int
	MaxInFlightBatches int
}

func (c BatchingConfig) withDefaults() BatchingConfig {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 64
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 10 * time.Millisecond
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 3 * time.Second
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 2048
	}
	if c.MaxInFlightBatches <= 0 {
		c.MaxInFlightBatches = 4
	}
	return c
}

// taskGroup is the tasks of one push call. A group is never split across
// writes, so a job distributed with PushBatch reaches the queue at once.
type taskGroup struct {
	ctx    context.Context
	tasks  []domain.Task
	result chan error
}

// BatchingProducer merges the groups pushed by jobs distributing at the
// same time into shared queue writes. Groups keep their arrival order.
type BatchingProducer struct {
	write  func(context.Context, []domain.Task) error
	config BatchingConfig

	groups   chan taskGroup
	slots    chan struct{}
	inFlight sync.WaitGroup

	parentDone <-chan struct{}
	stop       chan struct{}
	stopOnce   sync.Once
	done       chan struct{}
}

func NewBatchingProducer(parent context.Context, base Producer, cfg BatchingConfig) *BatchingProducer {
	cfg = cfg.withDefaults()
	b := &BatchingProducer{
		write:      pushEach(base),
		config:     cfg,
		groups:     make(chan taskGroup, cfg.QueueCapacity),
		slots:      make(chan struct{}, cfg.MaxInFlightBatches),
		parentDone: parent.Done(),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	if writer, ok := base.(BatchProducer); ok {
		b.write = writer.PushBatch
	}

	go b.loop()
	return b
}

func pushEach(base Producer) func(context.Context, []domain.Task) error {
	return func(ctx context.Context, tasks []domain.Task) error {
		for _, task := range tasks {
			if err := base.Push(ctx, task); err != nil {
				return fmt.Errorf("push task %s: %w", task.ID, err)
			}
		}
		return nil
	}
}

func (b *BatchingProducer) Push(ctx context.Context, task domain.Task) error {
	return b.PushBatch(ctx, []domain.Task{task})
}

// PushBatch queues tasks as one group and waits for the write carrying it.
func (b *BatchingProducer) PushBatch(ctx context.Context, tasks []domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-b.done:
		return ErrBatchingClosed
	default:
	}

	group := taskGroup{ctx: ctx, tasks: tasks, result: make(chan error, 1)}
	select {
	case b.groups <- group:
	default:
		return ErrQueueBackpressure
	}

	select {
	case err := <-group.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		// The loop answers every group it took before closing done.
		select {
		case err := <-group.result:
			return err
		default:
			return ErrBatchingClosed
		}
	}
}

// Close writes what is pending, waits for in-flight writes and stops the
// loop. Pushes after Close fail with ErrBatchingClosed.
func (b *BatchingProducer) Close() {
	b.stopOnce.Do(func() { close(b.stop) })
	<-b.done
}

func (b *BatchingProducer) loop() {
	defer close(b.done)
	defer b.inFlight.Wait()

	var (
		pending []taskGroup
		size    int
		due     <-chan time.Time
	)
	timer := time.NewTimer(b.config.FlushInterval)
	timer.Stop()
	defer timer.Stop()

	flush := func(final bool) {
		timer.Stop()
		due = nil
		if len(pending) == 0 {
			return
		}
		b.dispatch(pending, final)
		pending, size = nil, 0
	}
	shutdown := func() {
		for {
			select {
			case group := <-b.groups:
				pending = append(pending, group)
			default:
				flush(true)
				return
			}
		}
	}

	for {
		select {
		case <-b.parentDone:
			shutdown()
			return
		case <-b.stop:
			shutdown()
			return
		case <-due:
			flush(false)
		case group := <-b.groups:
			if err := group.ctx.Err(); err != nil {
				group.result <- err
				continue
			}
			if size > 0 && size+len(group.tasks) > b.config.MaxBatchSize {
				flush(false)
			}
			pending = append(pending, group)
			size += len(group.tasks)
			switch {
			case size >= b.config.MaxBatchSize:
				flush(false)
			case due == nil:
				timer.Reset(b.config.FlushInterval)
				due = timer.C
			}
		}
	}
}

// dispatch hands one write to a background goroutine once an in-flight
// slot is free. Waiting for a slot stalls the loop, which is what turns a
// slow queue into ErrQueueBackpressure for callers.
func (b *BatchingProducer) dispatch(groups []taskGroup, final bool) {
	live := make([]taskGroup, 0, len(groups))
	var tasks []domain.Task
	for _, group := range groups {
		if err := group.ctx.Err(); err != nil {
			group.result <- err
			continue
		}
		live = append(live, group)
		tasks = append(tasks, group.tasks...)
	}
	if len(live) == 0 {
		return
	}

	ctx, cancel := context.Background(), context.CancelFunc(func() {})
	if !final {
		ctx, cancel = context.WithTimeout(context.Background(), b.config.FlushTimeout)
	}

	select {
	case b.slots <- struct{}{}:
	case <-ctx.Done():
		cancel()
		answer(live, ctx.Err())
		return
	}

	b.inFlight.Add(1)
	go func() {
		defer b.inFlight.Done()
		defer func() { <-b.slots }()
		defer cancel()
		answer(live, b.write(ctx, tasks))
	}()
}

func answer(groups []taskGroup, err error) {
	for _, group := range groups {
		group.result <- err
	}
}
