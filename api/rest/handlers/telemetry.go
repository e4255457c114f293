package handlers

import (
	"context"
	"net/http"

	"model-orchestrator/core/models"
)

// TelemetryService is what the feedback and performance endpoints need
type TelemetryService interface {
	SubmitFeedback(ctx context.Context, modelType models.ModelType, record models.FeedbackRecord) (*models.FeedbackSummary, error)
	LatestFeedbackSummary(ctx context.Context, modelType models.ModelType) (*models.FeedbackSummary, error)
	SubmitPerformanceSample(ctx context.Context, modelType models.ModelType, value float64) error
	GetPerformanceHistory(modelType models.ModelType, windowDays int) []models.PerformanceHistoryEntry
}

// TelemetryHandler ingests feedback and live performance
type TelemetryHandler struct {
	svc TelemetryService
}

// NewTelemetryHandler creates a new telemetry handler
func NewTelemetryHandler(svc TelemetryService) *TelemetryHandler {
	return &TelemetryHandler{svc: svc}
}

// PerformanceSampleRequest carries one live performance value
type PerformanceSampleRequest struct {
	Value *float64 `json:"value"`
}

// SubmitFeedback handles POST /v1/feedback/{type}
func (h *TelemetryHandler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var record models.FeedbackRecord
	if err := decodeBody(r, &record); err != nil {
		writeError(w, err)
		return
	}

	summary, err := h.svc.SubmitFeedback(r.Context(), modelTypeVar(r), record)
	if err != nil && summary == nil {
		writeError(w, err)
		return
	}
	// a summary with an error means the buffer was flushed but not persisted
	resp := map[string]interface{}{"accepted": true, "summary": summary}
	if err != nil {
		resp["warning"] = err.Error()
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// GetFeedbackSummary handles GET /v1/feedback/{type}/summary
func (h *TelemetryHandler) GetFeedbackSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.LatestFeedbackSummary(r.Context(), modelTypeVar(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// SubmitPerformance handles POST /v1/performance/{type}
func (h *TelemetryHandler) SubmitPerformance(w http.ResponseWriter, r *http.Request) {
	var req PerformanceSampleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Value == nil {
		writeError(w, &models.ValidationError{Field: "value", Message: "is required"})
		return
	}
	if err := h.svc.SubmitPerformanceSample(r.Context(), modelTypeVar(r), *req.Value); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// GetPerformanceHistory handles GET /v1/performance/{type}?days=
func (h *TelemetryHandler) GetPerformanceHistory(w http.ResponseWriter, r *http.Request) {
	days, err := intQuery(r, "days", 7)
	if err != nil {
		writeError(w, err)
		return
	}
	if days < 1 {
		writeError(w, &models.ValidationError{Field: "days", Message: "must be at least 1"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": h.svc.GetPerformanceHistory(modelTypeVar(r), days),
	})
}
