package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/iago/autoconnect-pipeline/internal/domain"
)

const (
	DefaultStartChannel      = "start_processing"
	DefaultCompletedChannel  = "tasks_completed"
	DefaultJobUpdatesChannel = "job_updates"
)

type Channels struct {
	Start      string
	Completed  string
	JobUpdates string
}

func (c Channels) withDefaults() Channels {
	if c.Start == "" {
		c.Start = DefaultStartChannel
	}
	if c.Completed == "" {
		c.Completed = DefaultCompletedChannel
	}
	if c.JobUpdates == "" {
		c.JobUpdates = DefaultJobUpdatesChannel
	}
	return c
}

// StartProcessing asks a coordinator to run a job.
type StartProcessing struct {
	JobID       string `json:"job_id"`
	DataSource  string `json:"data_source"`
	WorkerCount int    `json:"worker_count"`
}

// JobUpdate describes a job status transition.
type JobUpdate struct {
	JobID             string           `json:"job_id"`
	Status            domain.JobStatus `json:"status"`
	CompletedTasks    int              `json:"completed_tasks"`
	ExpectedTaskCount int              `json:"expected_task_count"`
	UpdatedAt         time.Time        `json:"updated_at"`
	Error             string           `json:"error,omitempty"`
}

func NewJobUpdate(job *domain.Job, completed int, now time.Time) JobUpdate {
	return JobUpdate{
		JobID:             job.ID,
		Status:            job.Status,
		CompletedTasks:    completed,
		ExpectedTaskCount: job.ExpectedTaskCount,
		UpdatedAt:         now,
		Error:             job.ErrorMessage,
	}
}

// Signals wraps a Bus with the pipeline's typed messages.
type Signals struct {
	bus      Bus
	channels Channels
}

func NewSignals(bus Bus, channels Channels) *Signals {
	return &Signals{bus: bus, channels: channels.withDefaults()}
}

func (s *Signals) Channels() Channels {
	return s.channels
}

func (s *Signals) PublishStart(ctx context.Context, message StartProcessing) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode start signal: %w", err)
	}
	return s.bus.Publish(ctx, s.channels.Start, payload)
}

// PublishCompleted carries the bare job id.
func (s *Signals) PublishCompleted(ctx context.Context, jobID string) error {
	return s.bus.Publish(ctx, s.channels.Completed, []byte(jobID))
}

func (s *Signals) PublishJobUpdate(ctx context.Context, update JobUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("encode job update: %w", err)
	}
	return s.bus.Publish(ctx, s.channels.JobUpdates, payload)
}

func (s *Signals) SubscribeStart(ctx context.Context) (Subscription, error) {
	return s.bus.Subscribe(ctx, s.channels.Start)
}

func (s *Signals) SubscribeCompleted(ctx context.Context) (Subscription, error) {
	return s.bus.Subscribe(ctx, s.channels.Completed)
}

func (s *Signals) SubscribeJobUpdates(ctx context.Context) (Subscription, error) {
	return s.bus.Subscribe(ctx, s.channels.JobUpdates)
}

func DecodeStartProcessing(raw []byte) (StartProcessing, error) {
	var message StartProcessing
	if err := json.Unmarshal(raw, &message); err != nil {
		return StartProcessing{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if message.JobID == "" || message.DataSource == "" || message.WorkerCount < 1 {
		return StartProcessing{}, fmt.Errorf("%w: start signal %s", domain.ErrInvalidPayload, raw)
	}
	return message, nil
}

func DecodeCompleted(raw []byte) (string, error) {
	jobID := strings.TrimSpace(string(raw))
	if jobID == "" {
		return "", fmt.Errorf("%w: empty completion signal", domain.ErrInvalidPayload)
	}
	return jobID, nil
}
