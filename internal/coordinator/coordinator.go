// Package coordinator owns the lifecycle of a job: it loads the dataset,
// splits it into chunks, distributes one task per chunk and waits for the
// workers to report every task before signalling the aggregator.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iago/autoconnect-pipeline/internal/dataset"
	"github.com/iago/autoconnect-pipeline/internal/domain"
	"github.com/iago/autoconnect-pipeline/internal/events"
	"github.com/iago/autoconnect-pipeline/internal/queue"
	"github.com/iago/autoconnect-pipeline/internal/repository"
	"github.com/sirupsen/logrus"
)

var ErrJobDeadlineExceeded = errors.New("job deadline exceeded")

const DefaultPollInterval = 2 * time.Second

// Store is the slice of shared state the coordinator mutates.
type Store interface {
	repository.JobStore
	repository.CompletionTracker
	repository.ChunkStore
}

type Config struct {
	PollInterval time.Duration
	// JobTimeout bounds Monitor. Zero polls until the count matches.
	JobTimeout time.Duration
}

type Coordinator struct {
	store    Store
	producer queue.Producer
	loader   dataset.Loader
	signals  *events.Signals
	logger   logrus.FieldLogger
	cfg      Config
	now      func() time.Time

	wg sync.WaitGroup
}

func New(
	store Store,
	producer queue.Producer,
	loader dataset.Loader,
	signals *events.Signals,
	logger logrus.FieldLogger,
	cfg Config,
) *Coordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Coordinator{
		store:    store,
		producer: producer,
		loader:   loader,
		signals:  signals,
		logger:   logger.WithField("component", "coordinator"),
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Listen runs jobs announced on the start channel until ctx is cancelled.
// Each job runs on its own goroutine; Listen waits for them before returning.
func (c *Coordinator) Listen(ctx context.Context) error {
	sub, err := c.signals.SubscribeStart(ctx)
	if err != nil {
		return fmt.Errorf("subscribe start signals: %w", err)
	}
	defer sub.Close()

	c.logger.WithField("channel", c.signals.Channels().Start).Info("waiting for start signals")
	for {
		select {
		case <-ctx.Done():
			c.wg.Wait()
			return nil
		case raw := <-sub.Messages():
			message, err := events.DecodeStartProcessing(raw)
			if err != nil {
				c.logger.WithError(err).Warn("ignoring malformed start signal")
				continue
			}
			job, err := c.jobForSignal(ctx, message)
			if err != nil {
				c.logger.WithError(err).WithField("job_id", message.JobID).Error("cannot prepare job")
				continue
			}
			c.Start(ctx, job)
		}
	}
}

// Submit records a new pending job and starts it in the background.
func (c *Coordinator) Submit(ctx context.Context, dataSource string, workerCount int) (*domain.Job, error) {
	if workerCount < 1 {
		return nil, ErrInvalidWorkerCount
	}
	job := &domain.Job{
		ID:          uuid.NewString(),
		DataSource:  dataSource,
		WorkerCount: workerCount,
		Status:      domain.JobStatusPending,
		CreatedAt:   c.now(),
	}
	if err := c.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	c.publishUpdate(ctx, job, 0)
	c.Start(ctx, job)
	return job, nil
}

// Start runs the job on a tracked goroutine. The outcome is only visible
// through the shared store.
func (c *Coordinator) Start(ctx context.Context, job *domain.Job) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		// Failures are already logged and recorded by Run.
		if err := c.Run(ctx, job); err != nil && job.Status != domain.JobStatusFailed {
			c.logger.WithError(err).WithField("job_id", job.ID).Warn("job run interrupted")
		}
	}()
}

// Wait blocks until every started job has returned.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Run drives one job from pending to completed or failed. A job already
// claimed by another coordinator is skipped.
func (c *Coordinator) Run(ctx context.Context, job *domain.Job) error {
	log := c.logger.WithField("job_id", job.ID)

	claimed, err := c.store.ClaimJob(ctx, job.ID)
	if err != nil {
		return err
	}
	if !claimed {
		log.Info("job already claimed by another coordinator")
		return nil
	}

	job.MarkRunning(c.now())
	if err := c.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	c.publishUpdate(ctx, job, 0)

	rows, err := c.loader.Load(ctx, job.DataSource)
	if err != nil {
		return c.fail(ctx, job, fmt.Errorf("load data source: %w", err))
	}
	chunks, err := SplitChunks(rows, job.WorkerCount)
	if err != nil {
		return c.fail(ctx, job, err)
	}
	log.WithFields(logrus.Fields{"rows": len(rows), "chunks": len(chunks)}).Info("dataset split")

	job.ExpectedTaskCount = len(chunks)
	if len(chunks) == 0 {
		if err := c.store.RegisterTasks(ctx, job.ID, 0); err != nil {
			return c.fail(ctx, job, err)
		}
		return c.complete(ctx, job)
	}

	if _, err := c.Distribute(ctx, job.ID, chunks); err != nil {
		return c.fail(ctx, job, err)
	}
	if err := c.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("record expected tasks: %w", err)
	}
	c.publishUpdate(ctx, job, 0)

	if err := c.Monitor(ctx, job); err != nil {
		if errors.Is(err, ErrJobDeadlineExceeded) {
			return c.fail(ctx, job, err)
		}
		return err
	}
	return c.complete(ctx, job)
}

// Distribute registers the expected task count, stores every chunk under its
// task id and pushes one task per chunk in chunk order.
func (c *Coordinator) Distribute(ctx context.Context, jobID string, chunks []domain.Chunk) ([]domain.Task, error) {
	if err := c.store.RegisterTasks(ctx, jobID, len(chunks)); err != nil {
		return nil, err
	}

	tasks := make([]domain.Task, 0, len(chunks))
	for _, chunk := range chunks {
		task := domain.NewTask(jobID, chunk.Index, c.now())
		if err := c.store.PutChunk(ctx, task.ID, chunk.Rows); err != nil {
			return nil, fmt.Errorf("store chunk %d: %w", chunk.Index, err)
		}
		tasks = append(tasks, task)
	}
	if err := c.push(ctx, tasks); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{"job_id": jobID, "tasks": len(tasks)}).Info("tasks distributed")
	return tasks, nil
}

// push hands a job's tasks to the queue in one call when the producer
// supports it, so a batching producer writes them together.
func (c *Coordinator) push(ctx context.Context, tasks []domain.Task) error {
	if batcher, ok := c.producer.(queue.BatchProducer); ok {
		if err := batcher.PushBatch(ctx, tasks); err != nil {
			return fmt.Errorf("push %d tasks: %w", len(tasks), err)
		}
		return nil
	}
	for _, task := range tasks {
		if err := c.producer.Push(ctx, task); err != nil {
			return fmt.Errorf("push task %s: %w", task.ID, err)
		}
	}
	return nil
}

// Monitor polls the completion count until it equals the job's expected
// task count. A failed count query is retried, never taken as completion.
func (c *Coordinator) Monitor(ctx context.Context, job *domain.Job) error {
	log := c.logger.WithFields(logrus.Fields{"job_id": job.ID, "expected": job.ExpectedTaskCount})

	var deadline <-chan time.Time
	if c.cfg.JobTimeout > 0 {
		timer := time.NewTimer(c.cfg.JobTimeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	last := -1
	for {
		completed, err := c.store.CountCompleted(ctx, job.ID)
		switch {
		case err != nil:
			log.WithError(err).Warn("completion count unavailable, retrying")
		case completed == job.ExpectedTaskCount:
			log.WithField("completed", completed).Info("all tasks completed")
			return nil
		case completed != last:
			last = completed
			log.WithField("completed", completed).Info("progress")
			c.publishUpdate(ctx, job, completed)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return ErrJobDeadlineExceeded
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) complete(ctx context.Context, job *domain.Job) error {
	job.MarkCompleted(c.now())
	if err := c.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if err := c.signals.PublishCompleted(ctx, job.ID); err != nil {
		return fmt.Errorf("publish completion: %w", err)
	}
	c.publishUpdate(ctx, job, job.ExpectedTaskCount)

	c.logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"tasks":    job.ExpectedTaskCount,
		"duration": job.DurationSeconds,
	}).Info("job completed")
	return nil
}

func (c *Coordinator) fail(ctx context.Context, job *domain.Job, cause error) error {
	job.MarkFailed(c.now(), cause.Error())
	if err := c.store.UpdateJob(ctx, job); err != nil {
		c.logger.WithError(err).WithField("job_id", job.ID).Error("cannot record job failure")
	}
	c.publishUpdate(ctx, job, 0)
	c.logger.WithError(cause).WithField("job_id", job.ID).Error("job failed")
	return cause
}

func (c *Coordinator) jobForSignal(ctx context.Context, message events.StartProcessing) (*domain.Job, error) {
	job, err := c.store.GetJob(ctx, message.JobID)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	// Signals from publishers that did not record the job first.
	job = &domain.Job{
		ID:          message.JobID,
		DataSource:  message.DataSource,
		WorkerCount: message.WorkerCount,
		Status:      domain.JobStatusPending,
		CreatedAt:   c.now(),
	}
	if err := c.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (c *Coordinator) publishUpdate(ctx context.Context, job *domain.Job, completed int) {
	update := events.NewJobUpdate(job, completed, c.now())
	if err := c.signals.PublishJobUpdate(ctx, update); err != nil {
		c.logger.WithError(err).WithField("job_id", job.ID).Warn("job update not published")
	}
}
