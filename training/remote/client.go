package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"model-orchestrator/core/executor"
	"model-orchestrator/core/models"
)

// APIError is a non-2xx answer from the training service
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("training service %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Client talks JSON over HTTP to an external training and evaluation service
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

var (
	_ executor.DataProvider     = (*Client)(nil)
	_ executor.Trainer          = (*Client)(nil)
	_ executor.Evaluator        = (*Client)(nil)
	_ executor.ExperimentClient = (*Client)(nil)
)

// NewClient creates a client for baseURL. timeout bounds each request; zero means no client-side limit.
func NewClient(baseURL string, timeout time.Duration, logger *zap.SugaredLogger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid training service url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid training service url %q: scheme must be http or https", baseURL)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "remote_training"),
	}, nil
}

func (c *Client) apipath(elem ...string) string {
	escaped := make([]string, len(elem))
	for i, e := range elem {
		escaped[i] = url.PathEscape(e)
	}
	return c.baseURL + "/v1/" + strings.Join(escaped, "/")
}

type countResponse struct {
	Count int `json:"count"`
}

type trainRequest struct {
	ModelType   models.ModelType      `json:"model_type"`
	TrainingSet *executor.TrainingSet `json:"training_set"`
}

type evaluateRequest struct {
	ModelType models.ModelType `json:"model_type"`
	HandleID  string           `json:"handle_id"`
}

type challengerRequest struct {
	ModelType models.ModelType   `json:"model_type"`
	HandleID  string             `json:"handle_id"`
	Metrics   map[string]float64 `json:"metrics"`
}

type performanceResponse struct {
	Value float64 `json:"value"`
}

// NewDataCount implements executor.DataProvider
func (c *Client) NewDataCount(ctx context.Context, modelType models.ModelType) (int, error) {
	var resp countResponse
	if err := c.do(ctx, http.MethodGet, c.apipath("data", string(modelType), "count"), nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// PrepareTrainingData implements executor.DataProvider
func (c *Client) PrepareTrainingData(ctx context.Context, modelType models.ModelType) (*executor.TrainingSet, error) {
	var set executor.TrainingSet
	if err := c.do(ctx, http.MethodPost, c.apipath("data", string(modelType), "prepare"), nil, &set); err != nil {
		return nil, err
	}
	if set.ModelType == "" {
		set.ModelType = modelType
	}
	return &set, nil
}

// Train implements executor.Trainer
func (c *Client) Train(ctx context.Context, modelType models.ModelType, set *executor.TrainingSet) (*executor.ModelHandle, error) {
	var handle executor.ModelHandle
	body := trainRequest{ModelType: modelType, TrainingSet: set}
	if err := c.do(ctx, http.MethodPost, c.apipath("train"), body, &handle); err != nil {
		return nil, err
	}
	if handle.ID == "" {
		return nil, fmt.Errorf("training service returned a model without id")
	}
	c.logger.Infow("Remote training finished", "model_type", modelType, "handle_id", handle.ID, "bytes", len(handle.Artifact))
	return &handle, nil
}

// Evaluate implements executor.Evaluator
func (c *Client) Evaluate(ctx context.Context, handle *executor.ModelHandle, modelType models.ModelType) (*models.EvaluationResults, error) {
	var results models.EvaluationResults
	body := evaluateRequest{ModelType: modelType, HandleID: handle.ID}
	if err := c.do(ctx, http.MethodPost, c.apipath("evaluate"), body, &results); err != nil {
		return nil, err
	}
	return &results, nil
}

// RegisterChallenger implements executor.ExperimentClient
func (c *Client) RegisterChallenger(ctx context.Context, modelType models.ModelType, handle *executor.ModelHandle, metrics map[string]float64) error {
	body := challengerRequest{ModelType: modelType, HandleID: handle.ID, Metrics: metrics}
	return c.do(ctx, http.MethodPost, c.apipath("experiments", "challengers"), body, nil)
}

// SamplePerformance implements monitoring.PerformanceSource
func (c *Client) SamplePerformance(ctx context.Context, modelType models.ModelType) (float64, error) {
	var resp performanceResponse
	if err := c.do(ctx, http.MethodGet, c.apipath("performance", string(modelType)), nil, &resp); err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// do sends body as JSON and decodes a 2xx answer into out, when out is non-nil
func (c *Client) do(ctx context.Context, method, target string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			Method:     method,
			Path:       req.URL.Path,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, req.URL.Path, err)
	}
	return nil
}
