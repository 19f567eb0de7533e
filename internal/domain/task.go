package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidTaskID = errors.New("invalid task id")

const taskIDPrefix = "task:"

// Task references one chunk awaiting processing. The chunk rows travel
// separately under the task id so the queue only carries the reference.
type Task struct {
	ID         string    `json:"task_id"`
	JobID      string    `json:"job_id"`
	ChunkIndex int       `json:"chunk_index"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	// LeaseSeconds is reserved for lease based redelivery. Zero means no lease.
	LeaseSeconds int `json:"lease_seconds,omitempty"`
}

// Chunk is a contiguous slice of the input dataset identified by its ordinal.
type Chunk struct {
	Index int
	Rows  []Transaction
}

func NewTask(jobID string, chunkIndex int, now time.Time) Task {
	return Task{
		ID:         TaskID(jobID, chunkIndex),
		JobID:      jobID,
		ChunkIndex: chunkIndex,
		EnqueuedAt: now,
	}
}

func TaskID(jobID string, chunkIndex int) string {
	return taskIDPrefix + jobID + ":" + strconv.Itoa(chunkIndex)
}

// ParseTaskID splits "task:<job_id>:<chunk_index>" back into its parts.
func ParseTaskID(taskID string) (string, int, error) {
	rest, ok := strings.CutPrefix(taskID, taskIDPrefix)
	if !ok {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidTaskID, taskID)
	}
	sep := strings.LastIndex(rest, ":")
	if sep <= 0 || sep == len(rest)-1 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidTaskID, taskID)
	}
	index, err := strconv.Atoi(rest[sep+1:])
	if err != nil || index < 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidTaskID, taskID)
	}
	return rest[:sep], index, nil
}

func (t Task) Validate() error {
	if t.JobID == "" {
		return fmt.Errorf("%w: task without job id", ErrInvalidPayload)
	}
	if t.ChunkIndex < 0 {
		return fmt.Errorf("%w: negative chunk index", ErrInvalidPayload)
	}
	if t.ID != TaskID(t.JobID, t.ChunkIndex) {
		return fmt.Errorf("%w: task id %q does not match job and chunk", ErrInvalidPayload, t.ID)
	}
	return nil
}

func EncodeTask(task Task) ([]byte, error) {
	encoded, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	return encoded, nil
}

func DecodeTask(raw []byte) (Task, error) {
	var task Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return Task{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := task.Validate(); err != nil {
		return Task{}, err
	}
	return task, nil
}
