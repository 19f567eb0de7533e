package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/iago/autoconnect-pipeline/internal/repository"
	"github.com/iago/autoconnect-pipeline/internal/service"
)

// Process starts a job. A repeated Idempotency-Key with the same payload
// returns the job created the first time.
func (api *API) Process(w http.ResponseWriter, r *http.Request) {
	var request processRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	payloadHash := hashPayload(request)
	if idempotencyKey != "" {
		if entry, exists := api.idempotency.Get(idempotencyKey); exists {
			if entry.PayloadHash != payloadHash {
				writeError(w, r, http.StatusConflict, "idempotency_conflict", "Idempotency-Key already used with different payload")
				return
			}
			writeAccepted(w, entry.JobID, entry.CreatedAt)
			return
		}
	}

	job, err := api.jobsService.SubmitJob(r.Context(), request.DataSource, request.WorkerCount)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		api.logger.WithError(err).Error("cannot start job")
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to start job")
		return
	}

	if idempotencyKey != "" {
		api.idempotency.Put(idempotencyKey, payloadHash, job.ID, job.CreatedAt)
	}
	writeAccepted(w, job.ID, job.CreatedAt)
}

func writeAccepted(w http.ResponseWriter, jobID string, acceptedAt time.Time) {
	w.Header().Set("Retry-After", "2")
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":      "processing_started",
		"job_id":      jobID,
		"status_url":  "/api/jobs/" + jobID,
		"accepted_at": acceptedAt.Format(time.RFC3339Nano),
	})
}

func (api *API) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.PathValue("id"))
	if jobID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job id is required")
		return
	}

	status, err := api.jobsService.GetJobStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "job not found")
			return
		}
		api.logger.WithError(err).WithField("job_id", jobID).Error("cannot load job")
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (api *API) JobResult(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.PathValue("id"))
	if jobID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job id is required")
		return
	}

	result, err := api.jobsService.GetJobResult(r.Context(), jobID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, service.ErrResultNotReady):
		w.Header().Set("Retry-After", "2")
		writeError(w, r, http.StatusConflict, "not_ready", err.Error())
	default:
		api.logger.WithError(err).WithField("job_id", jobID).Error("cannot load job result")
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load job result")
	}
}

func (api *API) LatestResult(w http.ResponseWriter, r *http.Request) {
	result, err := api.jobsService.GetLatestResult(r.Context())
	if err != nil {
		api.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
