package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"model-orchestrator/core/models"
)

// JobService is what the job endpoints need from the orchestrator
type JobService interface {
	GetActiveJobs() []*models.RetrainingJob
	GetQueuedJobs() []*models.RetrainingJob
	TriggerRetraining(ctx context.Context, modelType models.ModelType, reason models.TriggerReason, priority models.Priority, detail string) (*models.RetrainingJob, error)
	GetJob(ctx context.Context, id string) (*models.RetrainingJob, error)
	GetJobHistory(ctx context.Context, modelType models.ModelType, limit int) ([]*models.RetrainingJob, error)
	GetJobEvents(ctx context.Context, jobID string, limit int) ([]models.JobEvent, error)
}

// JobHandler handles retraining job requests
type JobHandler struct {
	svc JobService
}

// NewJobHandler creates a new job handler
func NewJobHandler(svc JobService) *JobHandler {
	return &JobHandler{svc: svc}
}

// SubmitJobRequest represents a manual retraining request
type SubmitJobRequest struct {
	ModelType models.ModelType     `json:"model_type"`
	Reason    models.TriggerReason `json:"reason,omitempty"`
	Priority  models.Priority      `json:"priority,omitempty"`
	Detail    string               `json:"detail,omitempty"`
}

// SubmitJob handles POST /v1/jobs
func (h *JobHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	job, err := h.svc.TriggerRetraining(r.Context(), req.ModelType, req.Reason, req.Priority, req.Detail)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if job.Status == models.JobStatusQueued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, job)
}

// ListActiveJobs handles GET /v1/jobs
func (h *JobHandler) ListActiveJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active": h.svc.GetActiveJobs(),
		"queued": h.svc.GetQueuedJobs(),
	})
}

// GetJob handles GET /v1/jobs/{id}
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.GetJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ListJobHistory handles GET /v1/jobs/history
func (h *JobHandler) ListJobHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 50)
	if err != nil {
		writeError(w, err)
		return
	}
	modelType := models.ModelType(r.URL.Query().Get("model_type"))

	jobs, err := h.svc.GetJobHistory(r.Context(), modelType, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": jobs})
}

// GetJobEvents handles GET /v1/jobs/{id}/events
func (h *JobHandler) GetJobEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 200)
	if err != nil {
		writeError(w, err)
		return
	}
	events, err := h.svc.GetJobEvents(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": events})
}
