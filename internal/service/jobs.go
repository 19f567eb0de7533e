package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/iago/autoconnect-pipeline/internal/cache"
	"github.com/iago/autoconnect-pipeline/internal/domain"
	"github.com/iago/autoconnect-pipeline/internal/events"
	"github.com/iago/autoconnect-pipeline/internal/repository"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrResultNotReady = errors.New("result not ready")
	ErrNoResult       = errors.New("no result available")
)

type Store interface {
	repository.JobStore
	repository.CompletionTracker
	repository.ResultStore
}

type Defaults struct {
	DataSource  string
	WorkerCount int
}

// JobProgress is a job record plus its completion fraction.
type JobProgress struct {
	domain.Job
	CompletedTasks int     `json:"completed_tasks"`
	Progress       float64 `json:"progress"`
}

// JobsService is the query and trigger surface in front of the pipeline.
type JobsService struct {
	store    Store
	signals  *events.Signals
	defaults Defaults
	results  *cache.ResultCache
	logger   logrus.FieldLogger
	now      func() time.Time
}

type Option func(*JobsService)

// WithResultCache serves repeated report reads from memory. The latest
// report may then lag the store by up to the cache TTL.
func WithResultCache(results *cache.ResultCache) Option {
	return func(s *JobsService) {
		s.results = results
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *JobsService) {
		s.logger = logger
	}
}

func NewJobsService(store Store, signals *events.Signals, defaults Defaults, opts ...Option) *JobsService {
	if defaults.WorkerCount < 1 {
		defaults.WorkerCount = 1
	}
	s := &JobsService{
		store:    store,
		signals:  signals,
		defaults: defaults,
		logger:   logrus.StandardLogger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitJob records a pending job and asks a coordinator to run it. It
// returns as soon as the start signal is published.
func (s *JobsService) SubmitJob(ctx context.Context, dataSource string, workerCount int) (*domain.Job, error) {
	dataSource = strings.TrimSpace(dataSource)
	if dataSource == "" {
		dataSource = s.defaults.DataSource
	}
	if dataSource == "" {
		return nil, fmt.Errorf("%w: data_source is required", ErrInvalidRequest)
	}
	if workerCount == 0 {
		workerCount = s.defaults.WorkerCount
	}
	if workerCount < 1 {
		return nil, fmt.Errorf("%w: worker_count must be at least 1", ErrInvalidRequest)
	}

	job := &domain.Job{
		ID:          uuid.NewString(),
		DataSource:  dataSource,
		WorkerCount: workerCount,
		Status:      domain.JobStatusPending,
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	err := s.signals.PublishStart(ctx, events.StartProcessing{
		JobID:       job.ID,
		DataSource:  job.DataSource,
		WorkerCount: job.WorkerCount,
	})
	if err != nil {
		publishErr := fmt.Errorf("publish start signal: %w", err)
		job.MarkFailed(s.now(), err.Error())
		if updateErr := s.store.UpdateJob(ctx, job); updateErr != nil {
			s.logger.WithError(updateErr).WithField("job_id", job.ID).Error("cannot record job failure")
			return nil, errors.Join(publishErr, fmt.Errorf("mark job failed: %w", updateErr))
		}
		return nil, publishErr
	}
	if err := s.signals.PublishJobUpdate(ctx, events.NewJobUpdate(job, 0, s.now())); err != nil {
		s.logger.WithError(err).WithField("job_id", job.ID).Warn("job update not published")
	}

	return job, nil
}

func (s *JobsService) GetJobStatus(ctx context.Context, jobID string) (*JobProgress, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	completed, err := s.store.CountCompleted(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &JobProgress{
		Job:            *job,
		CompletedTasks: completed,
		Progress:       progress(job, completed),
	}, nil
}

func (s *JobsService) GetLatestResult(ctx context.Context) (*domain.AggregatedResult, error) {
	if cached, ok := s.cached(cache.LatestKey); ok {
		return cached, nil
	}
	result, err := s.store.GetLatest(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoResult
	}
	if err != nil {
		return nil, err
	}
	s.remember(cache.LatestKey, result)
	return result, nil
}

// GetJobResult returns repository.ErrNotFound for unknown jobs and
// ErrResultNotReady until the job completed and its report was written.
func (s *JobsService) GetJobResult(ctx context.Context, jobID string) (*domain.AggregatedResult, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusCompleted {
		return nil, fmt.Errorf("%w: job is %s", ErrResultNotReady, job.Status)
	}

	if cached, ok := s.cached(jobID); ok {
		return cached, nil
	}
	result, err := s.store.GetAggregated(ctx, jobID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: aggregation pending", ErrResultNotReady)
	}
	if err != nil {
		return nil, err
	}
	s.remember(jobID, result)
	return result, nil
}

func (s *JobsService) cached(key string) (*domain.AggregatedResult, bool) {
	if s.results == nil {
		return nil, false
	}
	return s.results.Get(key)
}

func (s *JobsService) remember(key string, result *domain.AggregatedResult) {
	if s.results != nil {
		s.results.Set(key, result)
	}
}

func progress(job *domain.Job, completed int) float64 {
	if job.ExpectedTaskCount == 0 {
		if job.Status == domain.JobStatusCompleted {
			return 1
		}
		return 0
	}
	return min(float64(completed)/float64(job.ExpectedTaskCount), 1)
}
