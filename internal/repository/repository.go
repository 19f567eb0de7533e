package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/iago/autoconnect-pipeline/internal/domain"
)

var ErrNotFound = errors.New("resource not found")

// Backend is the shared key-value store. Every operation is atomic on a
// single key; SetMany groups writes that must become visible together.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetMany(ctx context.Context, values map[string][]byte) error
	// AddMember inserts into a set and reports whether the member was new.
	AddMember(ctx context.Context, key, member string) (bool, error)
	CountMembers(ctx context.Context, key string) (int, error)
	Members(ctx context.Context, key string) ([]string, error)
	Close() error
}

// JobStore persists job records and their status keys.
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	UpdateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	RegisterTasks(ctx context.Context, jobID string, expected int) error
	ClaimJob(ctx context.Context, jobID string) (bool, error)
}

// CompletionTracker records which tasks of a job have finished.
type CompletionTracker interface {
	MarkDone(ctx context.Context, jobID, taskID string) error
	CountCompleted(ctx context.Context, jobID string) (int, error)
	CompletedTasks(ctx context.Context, jobID string) ([]string, error)
}

type ChunkStore interface {
	PutChunk(ctx context.Context, taskID string, rows []domain.Transaction) error
	GetChunk(ctx context.Context, taskID string) ([]domain.Transaction, error)
}

type PartialStore interface {
	PutPartial(ctx context.Context, result *domain.PartialResult) error
	GetPartial(ctx context.Context, jobID string, chunkIndex int) (*domain.PartialResult, error)
}

type ResultStore interface {
	PutAggregated(ctx context.Context, result *domain.AggregatedResult) error
	GetAggregated(ctx context.Context, jobID string) (*domain.AggregatedResult, error)
	GetLatest(ctx context.Context) (*domain.AggregatedResult, error)
}

// Repository maps the pipeline records onto the shared key layout.
type Repository struct {
	backend Backend
}

func New(backend Backend) *Repository {
	return &Repository{backend: backend}
}

func (r *Repository) Close() error {
	return r.backend.Close()
}

func (r *Repository) CreateJob(ctx context.Context, job *domain.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	values, err := jobValues(job)
	if err != nil {
		return err
	}
	if err := r.backend.SetMany(ctx, values); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (r *Repository) UpdateJob(ctx context.Context, job *domain.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if _, err := r.backend.Get(ctx, domain.JobMetaKey(job.ID)); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("load job: %w", err)
	}
	values, err := jobValues(job)
	if err != nil {
		return err
	}
	if err := r.backend.SetMany(ctx, values); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// GetJob reads the job record, overlaying the individually written status
// and task count keys.
func (r *Repository) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	raw, err := r.backend.Get(ctx, domain.JobMetaKey(jobID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	job, err := domain.DecodeJob(raw)
	if err != nil {
		return nil, fmt.Errorf("decode job %s: %w", jobID, err)
	}

	if status, err := r.backend.Get(ctx, domain.JobStatusKey(jobID)); err == nil {
		if parsed := domain.JobStatus(status); parsed.Valid() {
			job.Status = parsed
		}
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get job status: %w", err)
	}

	if count, err := r.backend.Get(ctx, domain.JobTasksCountKey(jobID)); err == nil {
		parsed, convErr := strconv.Atoi(string(count))
		if convErr != nil || parsed < 0 {
			return nil, fmt.Errorf("%w: tasks_count %q", domain.ErrInvalidPayload, count)
		}
		job.ExpectedTaskCount = parsed
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get job tasks count: %w", err)
	}
	return job, nil
}

func (r *Repository) RegisterTasks(ctx context.Context, jobID string, expected int) error {
	if expected < 0 {
		return fmt.Errorf("%w: negative task count", domain.ErrInvalidPayload)
	}
	if err := r.backend.Set(ctx, domain.JobTasksCountKey(jobID), []byte(strconv.Itoa(expected))); err != nil {
		return fmt.Errorf("register tasks: %w", err)
	}
	return nil
}

// ClaimJob grants ownership of a job to the first caller only.
func (r *Repository) ClaimJob(ctx context.Context, jobID string) (bool, error) {
	added, err := r.backend.AddMember(ctx, domain.JobClaimKey(jobID), "claimed")
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return added, nil
}

func (r *Repository) MarkDone(ctx context.Context, jobID, taskID string) error {
	if _, err := r.backend.AddMember(ctx, domain.JobCompletedTasksKey(jobID), taskID); err != nil {
		return fmt.Errorf("mark task done: %w", err)
	}
	return nil
}

func (r *Repository) CountCompleted(ctx context.Context, jobID string) (int, error) {
	count, err := r.backend.CountMembers(ctx, domain.JobCompletedTasksKey(jobID))
	if err != nil {
		return 0, fmt.Errorf("count completed tasks: %w", err)
	}
	return count, nil
}

func (r *Repository) CompletedTasks(ctx context.Context, jobID string) ([]string, error) {
	members, err := r.backend.Members(ctx, domain.JobCompletedTasksKey(jobID))
	if err != nil {
		return nil, fmt.Errorf("list completed tasks: %w", err)
	}
	return members, nil
}

func (r *Repository) PutChunk(ctx context.Context, taskID string, rows []domain.Transaction) error {
	encoded, err := domain.EncodeRows(rows)
	if err != nil {
		return err
	}
	if err := r.backend.Set(ctx, domain.ChunkKey(taskID), encoded); err != nil {
		return fmt.Errorf("put chunk: %w", err)
	}
	return nil
}

func (r *Repository) GetChunk(ctx context.Context, taskID string) ([]domain.Transaction, error) {
	raw, err := r.backend.Get(ctx, domain.ChunkKey(taskID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get chunk: %w", err)
	}
	return domain.DecodeRows(raw)
}

func (r *Repository) PutPartial(ctx context.Context, result *domain.PartialResult) error {
	if err := result.Validate(); err != nil {
		return err
	}
	encoded, err := domain.EncodePartialResult(result)
	if err != nil {
		return err
	}
	if err := r.backend.Set(ctx, domain.PartialResultKey(result.JobID, result.ChunkIndex), encoded); err != nil {
		return fmt.Errorf("put partial result: %w", err)
	}
	return nil
}

func (r *Repository) GetPartial(ctx context.Context, jobID string, chunkIndex int) (*domain.PartialResult, error) {
	raw, err := r.backend.Get(ctx, domain.PartialResultKey(jobID, chunkIndex))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get partial result: %w", err)
	}
	return domain.DecodePartialResult(raw)
}

// PutAggregated writes the job-scoped result and replaces the latest snapshot.
func (r *Repository) PutAggregated(ctx context.Context, result *domain.AggregatedResult) error {
	if err := result.Validate(); err != nil {
		return err
	}
	encoded, err := domain.EncodeAggregatedResult(result)
	if err != nil {
		return err
	}
	err = r.backend.SetMany(ctx, map[string][]byte{
		domain.JobAggregatedResultsKey(result.JobID): encoded,
		domain.LatestResultsKey:                      encoded,
	})
	if err != nil {
		return fmt.Errorf("put aggregated result: %w", err)
	}
	return nil
}

func (r *Repository) GetAggregated(ctx context.Context, jobID string) (*domain.AggregatedResult, error) {
	return r.getAggregated(ctx, domain.JobAggregatedResultsKey(jobID))
}

func (r *Repository) GetLatest(ctx context.Context) (*domain.AggregatedResult, error) {
	return r.getAggregated(ctx, domain.LatestResultsKey)
}

func (r *Repository) getAggregated(ctx context.Context, key string) (*domain.AggregatedResult, error) {
	raw, err := r.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get aggregated result: %w", err)
	}
	return domain.DecodeAggregatedResult(raw)
}

func jobValues(job *domain.Job) (map[string][]byte, error) {
	meta, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	values := map[string][]byte{
		domain.JobMetaKey(job.ID):       meta,
		domain.JobStatusKey(job.ID):     []byte(job.Status),
		domain.JobTasksCountKey(job.ID): []byte(strconv.Itoa(job.ExpectedTaskCount)),
		domain.JobErrorKey(job.ID):      []byte(job.ErrorMessage),
	}
	if job.CompletedAt != nil {
		values[domain.JobDurationKey(job.ID)] = []byte(strconv.FormatFloat(job.DurationSeconds, 'f', 3, 64))
	}
	return values, nil
}
