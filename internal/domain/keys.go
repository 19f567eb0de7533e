package domain

import "fmt"

// Shared store key layout. Every component reads and writes through these.
const LatestResultsKey = "latest_results"

func JobStatusKey(jobID string) string { return "job:" + jobID + ":status" }

func JobTasksCountKey(jobID string) string { return "job:" + jobID + ":tasks_count" }

func JobCompletedTasksKey(jobID string) string { return "job:" + jobID + ":completed_tasks" }

func JobErrorKey(jobID string) string { return "job:" + jobID + ":error" }

func JobDurationKey(jobID string) string { return "job:" + jobID + ":duration" }

// JobMetaKey holds the full job record (timestamps, source, worker count).
func JobMetaKey(jobID string) string { return "job:" + jobID + ":meta" }

// JobClaimKey is a set whose first successful insert grants job ownership.
func JobClaimKey(jobID string) string { return "job:" + jobID + ":claim" }

func JobAggregatedResultsKey(jobID string) string { return "job:" + jobID + ":aggregated_results" }

func PartialResultKey(jobID string, chunkIndex int) string {
	return fmt.Sprintf("%s:%d:results", jobID, chunkIndex)
}

// ChunkKey stores the serialized rows of a task.
func ChunkKey(taskID string) string { return taskID }
