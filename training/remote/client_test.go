package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"model-orchestrator/core/executor"
	"model-orchestrator/core/models"
)

func newServer(t *testing.T) (*httptest.Server, *[]challengerRequest) {
	t.Helper()
	var challengers []challengerRequest

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/data/recommendation/count", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		_ = json.NewEncoder(w).Encode(countResponse{Count: 1200})
	})
	mux.HandleFunc("/v1/data/recommendation/prepare", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		_ = json.NewEncoder(w).Encode(executor.TrainingSet{Location: "s3://data/rec", DataHash: "abc", SampleCount: 1200})
	})
	mux.HandleFunc("/v1/data/search_ranking/prepare", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "warehouse offline", http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/v1/train", func(w http.ResponseWriter, r *http.Request) {
		var req trainRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewEncoder(w).Encode(executor.ModelHandle{
			ID:        "handle-1",
			ModelType: req.ModelType,
			Artifact:  []byte("weights"),
			Metadata:  map[string]string{"data_hash": req.TrainingSet.DataHash},
		})
	})
	mux.HandleFunc("/v1/evaluate", func(w http.ResponseWriter, r *http.Request) {
		var req evaluateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "handle-1", req.HandleID)
		_ = json.NewEncoder(w).Encode(models.EvaluationResults{
			Metrics:      map[string]float64{"accuracy": 0.83},
			QualityScore: 0.9,
			SampleSize:   500,
		})
	})
	mux.HandleFunc("/v1/experiments/challengers", func(w http.ResponseWriter, r *http.Request) {
		var req challengerRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		challengers = append(challengers, req)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/v1/performance/recommendation", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(performanceResponse{Value: 0.77})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &challengers
}

func TestClientPipeline(t *testing.T) {
	srv, challengers := newServer(t)
	c, err := NewClient(srv.URL+"/", 5*time.Second, zap.NewNop().Sugar())
	require.NoError(t, err)
	ctx := context.Background()

	count, err := c.NewDataCount(ctx, models.ModelTypeRecommendation)
	require.NoError(t, err)
	assert.Equal(t, 1200, count)

	set, err := c.PrepareTrainingData(ctx, models.ModelTypeRecommendation)
	require.NoError(t, err)
	assert.Equal(t, models.ModelTypeRecommendation, set.ModelType)
	assert.Equal(t, 1200, set.SampleCount)

	handle, err := c.Train(ctx, models.ModelTypeRecommendation, set)
	require.NoError(t, err)
	assert.Equal(t, []byte("weights"), handle.Artifact)
	assert.Equal(t, "abc", handle.Metadata["data_hash"])

	results, err := c.Evaluate(ctx, handle, models.ModelTypeRecommendation)
	require.NoError(t, err)
	assert.Equal(t, 0.83, results.Metrics["accuracy"])
	assert.Equal(t, 500, results.SampleSize)

	require.NoError(t, c.RegisterChallenger(ctx, models.ModelTypeRecommendation, handle, results.Metrics))
	require.Len(t, *challengers, 1)
	assert.Equal(t, "handle-1", (*challengers)[0].HandleID)

	value, err := c.SamplePerformance(ctx, models.ModelTypeRecommendation)
	require.NoError(t, err)
	assert.Equal(t, 0.77, value)
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	srv, _ := newServer(t)
	c, err := NewClient(srv.URL, time.Second, zap.NewNop().Sugar())
	require.NoError(t, err)

	_, err = c.PrepareTrainingData(context.Background(), models.ModelTypeSearchRanking)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "warehouse offline", apiErr.Message)

	_, err = c.NewDataCount(context.Background(), models.ModelTypePersonalization)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestNewClientRejectsBadURL(t *testing.T) {
	tests := map[string]string{
		"no scheme":   "training.internal:8080",
		"unsupported": "ftp://training.internal",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewClient(raw, time.Second, zap.NewNop().Sugar())
			assert.Error(t, err)
		})
	}
}
