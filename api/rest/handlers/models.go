package handlers

import (
	"context"
	"net/http"

	"model-orchestrator/core/models"
)

// ModelService is what the model registry endpoints need from the orchestrator
type ModelService interface {
	GetModelArtifacts(modelType models.ModelType) []models.ModelVersion
	ListArtifacts(modelType models.ModelType) []*models.ModelArtifact
	GetChampion(modelType models.ModelType) (*models.ModelArtifact, bool)
	DeployModel(ctx context.Context, modelType models.ModelType, modelID string) error
	RollbackModel(ctx context.Context, modelType models.ModelType, version string) error
	CleanupModels(ctx context.Context, modelType models.ModelType, keepVersions int) (int, error)
}

// ModelHandler handles artifact registry requests
type ModelHandler struct {
	svc ModelService
}

// NewModelHandler creates a new model handler
func NewModelHandler(svc ModelService) *ModelHandler {
	return &ModelHandler{svc: svc}
}

// DeployRequest names the artifact to promote
type DeployRequest struct {
	ModelID string `json:"model_id"`
}

// RollbackRequest names the version to restore
type RollbackRequest struct {
	Version string `json:"version"`
}

// CleanupRequest sets how many recent versions survive
type CleanupRequest struct {
	KeepVersions *int `json:"keep_versions"`
}

// ListVersions handles GET /v1/models/{type}/versions
func (h *ModelHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": h.svc.GetModelArtifacts(modelTypeVar(r)),
	})
}

// ListArtifacts handles GET /v1/models/{type}/artifacts
func (h *ModelHandler) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": h.svc.ListArtifacts(modelTypeVar(r)),
	})
}

// GetChampion handles GET /v1/models/{type}/champion
func (h *ModelHandler) GetChampion(w http.ResponseWriter, r *http.Request) {
	modelType := modelTypeVar(r)
	champion, ok := h.svc.GetChampion(modelType)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no deployed model for " + string(modelType)})
		return
	}
	writeJSON(w, http.StatusOK, champion)
}

// Deploy handles POST /v1/models/{type}/deploy
func (h *ModelHandler) Deploy(w http.ResponseWriter, r *http.Request) {
	var req DeployRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ModelID == "" {
		writeError(w, &models.ValidationError{Field: "model_id", Message: "must not be empty"})
		return
	}

	modelType := modelTypeVar(r)
	if err := h.svc.DeployModel(r.Context(), modelType, req.ModelID); err != nil {
		writeError(w, err)
		return
	}
	h.writeChampion(w, modelType)
}

// Rollback handles POST /v1/models/{type}/rollback
func (h *ModelHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	var req RollbackRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Version == "" {
		writeError(w, &models.ValidationError{Field: "version", Message: "must not be empty"})
		return
	}

	modelType := modelTypeVar(r)
	if err := h.svc.RollbackModel(r.Context(), modelType, req.Version); err != nil {
		writeError(w, err)
		return
	}
	h.writeChampion(w, modelType)
}

// Cleanup handles POST /v1/models/{type}/cleanup
func (h *ModelHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	var req CleanupRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.KeepVersions == nil {
		writeError(w, &models.ValidationError{Field: "keep_versions", Message: "is required"})
		return
	}

	deleted, err := h.svc.CleanupModels(r.Context(), modelTypeVar(r), *req.KeepVersions)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (h *ModelHandler) writeChampion(w http.ResponseWriter, modelType models.ModelType) {
	champion, _ := h.svc.GetChampion(modelType)
	writeJSON(w, http.StatusOK, champion)
}
