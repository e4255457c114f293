package handlers

import (
	"net/http"
	"time"

	"model-orchestrator/core/models"
)

// DashboardService is what the overview endpoints need from the orchestrator
type DashboardService interface {
	ModelTypes() []models.ModelType
	GetChampion(modelType models.ModelType) (*models.ModelArtifact, bool)
	CurrentPerformance(modelType models.ModelType) (float64, bool)
	GetRetrainingTriggerStatus() map[models.ModelType]models.TriggerStatus
	TriggerStatusList() []models.TriggerStatus
	GetActiveJobs() []*models.RetrainingJob
	GetQueuedJobs() []*models.RetrainingJob
}

// DashboardHandler handles overview requests
type DashboardHandler struct {
	svc DashboardService
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(svc DashboardService) *DashboardHandler {
	return &DashboardHandler{svc: svc}
}

// ModelOverview summarises one model type
type ModelOverview struct {
	ModelType          models.ModelType      `json:"model_type"`
	ChampionID         string                `json:"champion_id,omitempty"`
	ChampionVersion    string                `json:"champion_version,omitempty"`
	ChampionMetrics    map[string]float64    `json:"champion_metrics,omitempty"`
	DeployedAt         *time.Time            `json:"deployed_at,omitempty"`
	CurrentPerformance *float64              `json:"current_performance,omitempty"`
	ActiveJobID        string                `json:"active_job_id,omitempty"`
	ActiveJobStatus    models.JobStatus      `json:"active_job_status,omitempty"`
	LastTrigger        *models.TriggerStatus `json:"last_trigger,omitempty"`
}

// GetTriggerStatus handles GET /v1/triggers
func (h *DashboardHandler) GetTriggerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": h.svc.TriggerStatusList()})
}

// GetOverview handles GET /v1/overview
func (h *DashboardHandler) GetOverview(w http.ResponseWriter, r *http.Request) {
	jobs := make(map[models.ModelType]*models.RetrainingJob)
	active := h.svc.GetActiveJobs()
	queued := h.svc.GetQueuedJobs()
	for _, job := range append(active, queued...) {
		jobs[job.ModelType] = job
	}
	triggers := h.svc.GetRetrainingTriggerStatus()

	items := make([]ModelOverview, 0)
	for _, t := range h.svc.ModelTypes() {
		o := ModelOverview{ModelType: t}
		if champion, ok := h.svc.GetChampion(t); ok {
			o.ChampionID = champion.ModelID
			o.ChampionVersion = champion.Version
			o.ChampionMetrics = champion.PerformanceMetrics
			o.DeployedAt = champion.DeployedAt
		}
		if v, ok := h.svc.CurrentPerformance(t); ok {
			o.CurrentPerformance = &v
		}
		if job, ok := jobs[t]; ok {
			o.ActiveJobID = job.ID
			o.ActiveJobStatus = job.Status
		}
		if s, ok := triggers[t]; ok {
			o.LastTrigger = &s
		}
		items = append(items, o)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"models":      items,
		"active_jobs": len(active),
		"queued_jobs": len(queued),
	})
}
