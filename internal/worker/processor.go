package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iago/autoconnect-pipeline/internal/analytics"
	"github.com/iago/autoconnect-pipeline/internal/domain"
	"github.com/iago/autoconnect-pipeline/internal/queue"
	"github.com/iago/autoconnect-pipeline/internal/repository"
	"github.com/sirupsen/logrus"
)

// ErrChunkUnavailable marks a task whose chunk payload is missing or corrupt.
// Such tasks are dropped without being marked done.
var ErrChunkUnavailable = errors.New("chunk payload unavailable")

type Store interface {
	repository.ChunkStore
	repository.PartialStore
	repository.CompletionTracker
}

type Config struct {
	Concurrency int
	PopTimeout  time.Duration
	IdleSleep   time.Duration
}

// Processor pops tasks, aggregates their chunk and records completion.
type Processor struct {
	consumer queue.Consumer
	store    Store
	logger   logrus.FieldLogger
	cfg      Config
}

func NewProcessor(consumer queue.Consumer, store Store, logger logrus.FieldLogger, cfg Config) *Processor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = time.Second
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = time.Second
	}
	return &Processor{
		consumer: consumer,
		store:    store,
		logger:   logger.WithField("component", "worker"),
		cfg:      cfg,
	}
}

// Start runs Concurrency pop loops and returns once ctx is cancelled and
// every loop has exited.
func (p *Processor) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			p.loop(ctx, p.logger.WithField("slot", slot))
		}(i)
	}
	p.logger.WithField("concurrency", p.cfg.Concurrency).Info("worker started, waiting for tasks")
	wg.Wait()
}

func (p *Processor) loop(ctx context.Context, log logrus.FieldLogger) {
	for ctx.Err() == nil {
		task, ok, err := p.consumer.Pop(ctx, p.cfg.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("pop failed")
			p.idle(ctx)
			continue
		}
		if !ok {
			p.idle(ctx)
			continue
		}

		if err := p.ProcessTask(ctx, task); err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"job_id":  task.JobID,
				"task_id": task.ID,
			}).Error("task abandoned")
		}
	}
}

func (p *Processor) idle(ctx context.Context) {
	timer := time.NewTimer(p.cfg.IdleSleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// ProcessTask computes the partial result of one chunk, stores it and only
// then marks the task done.
func (p *Processor) ProcessTask(ctx context.Context, task domain.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	rows, err := p.store.GetChunk(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrChunkUnavailable, task.ID, err)
	}

	started := time.Now()
	partial := analytics.ComputePartial(task.JobID, task.ChunkIndex, rows)
	if err := p.store.PutPartial(ctx, partial); err != nil {
		return fmt.Errorf("store partial result: %w", err)
	}
	if err := p.store.MarkDone(ctx, task.JobID, task.ID); err != nil {
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"job_id":      task.JobID,
		"task_id":     task.ID,
		"chunk_index": task.ChunkIndex,
		"rows":        len(rows),
		"elapsed_ms":  time.Since(started).Milliseconds(),
	}).Info("task processed")
	return nil
}
