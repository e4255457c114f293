package routes

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"model-orchestrator/api/rest/handlers"
)

// Service is the orchestrator surface exposed over HTTP
type Service interface {
	handlers.JobService
	handlers.ModelService
	handlers.TelemetryService
	handlers.DashboardService
}

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, svc Service, logger *zap.SugaredLogger) {
	jobHandler := handlers.NewJobHandler(svc)
	modelHandler := handlers.NewModelHandler(svc)
	telemetryHandler := handlers.NewTelemetryHandler(svc)
	dashboardHandler := handlers.NewDashboardHandler(svc)

	r.Use(requestLogger(logger.With("component", "http")))

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/v1").Subrouter()

	// Job endpoints
	api.HandleFunc("/jobs", jobHandler.SubmitJob).Methods("POST")
	api.HandleFunc("/jobs", jobHandler.ListActiveJobs).Methods("GET")
	api.HandleFunc("/jobs/history", jobHandler.ListJobHistory).Methods("GET")
	api.HandleFunc("/jobs/{id}", jobHandler.GetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}/events", jobHandler.GetJobEvents).Methods("GET")

	// Registry endpoints
	api.HandleFunc("/models/{type}/versions", modelHandler.ListVersions).Methods("GET")
	api.HandleFunc("/models/{type}/artifacts", modelHandler.ListArtifacts).Methods("GET")
	api.HandleFunc("/models/{type}/champion", modelHandler.GetChampion).Methods("GET")
	api.HandleFunc("/models/{type}/deploy", modelHandler.Deploy).Methods("POST")
	api.HandleFunc("/models/{type}/rollback", modelHandler.Rollback).Methods("POST")
	api.HandleFunc("/models/{type}/cleanup", modelHandler.Cleanup).Methods("POST")

	// Telemetry endpoints
	api.HandleFunc("/feedback/{type}", telemetryHandler.SubmitFeedback).Methods("POST")
	api.HandleFunc("/feedback/{type}/summary", telemetryHandler.GetFeedbackSummary).Methods("GET")
	api.HandleFunc("/performance/{type}", telemetryHandler.SubmitPerformance).Methods("POST")
	api.HandleFunc("/performance/{type}", telemetryHandler.GetPerformanceHistory).Methods("GET")

	// Overview endpoints
	api.HandleFunc("/triggers", dashboardHandler.GetTriggerStatus).Methods("GET")
	api.HandleFunc("/overview", dashboardHandler.GetOverview).Methods("GET")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func requestLogger(logger *zap.SugaredLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debugw("Request served",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start))
		})
	}
}
