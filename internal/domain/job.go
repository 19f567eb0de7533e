package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrInvalidPayload = errors.New("invalid payload")

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is one end-to-end request to turn a dataset into an aggregated report.
type Job struct {
	ID                string     `json:"id"`
	DataSource        string     `json:"data_source"`
	WorkerCount       int        `json:"worker_count"`
	Status            JobStatus  `json:"status"`
	ExpectedTaskCount int        `json:"expected_task_count"`
	ErrorMessage      string     `json:"error,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	DurationSeconds   float64    `json:"duration_seconds,omitempty"`
}

func (j *Job) Validate() error {
	if j == nil {
		return fmt.Errorf("%w: nil job", ErrInvalidPayload)
	}
	if j.ID == "" {
		return fmt.Errorf("%w: job id is empty", ErrInvalidPayload)
	}
	if !j.Status.Valid() {
		return fmt.Errorf("%w: unknown job status %q", ErrInvalidPayload, j.Status)
	}
	if j.ExpectedTaskCount < 0 {
		return fmt.Errorf("%w: negative expected task count", ErrInvalidPayload)
	}
	return nil
}

// MarkRunning records the start of processing.
func (j *Job) MarkRunning(now time.Time) {
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.ErrorMessage = ""
}

// MarkCompleted records completion and the duration since start.
func (j *Job) MarkCompleted(now time.Time) {
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	if j.StartedAt != nil {
		j.DurationSeconds = now.Sub(*j.StartedAt).Seconds()
	}
}

func (j *Job) MarkFailed(now time.Time, reason string) {
	j.Status = JobStatusFailed
	j.ErrorMessage = reason
	j.CompletedAt = &now
	if j.StartedAt != nil {
		j.DurationSeconds = now.Sub(*j.StartedAt).Seconds()
	}
}

func DecodeJob(raw []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}
