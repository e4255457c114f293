package executor

import (
	"context"

	"model-orchestrator/core/models"
)

// TrainingSet describes the data prepared for one training run
type TrainingSet struct {
	ModelType   models.ModelType `json:"model_type"`
	Location    string           `json:"location"`
	DataHash    string           `json:"data_hash"`
	SampleCount int              `json:"sample_count"`
}

// ModelHandle is a trained candidate model
type ModelHandle struct {
	ID        string            `json:"id"`
	ModelType models.ModelType  `json:"model_type"`
	Artifact  []byte            `json:"artifact"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// DataProvider supplies training data
type DataProvider interface {
	NewDataCount(ctx context.Context, modelType models.ModelType) (int, error)
	PrepareTrainingData(ctx context.Context, modelType models.ModelType) (*TrainingSet, error)
}

// Trainer produces a candidate model from a training set
type Trainer interface {
	Train(ctx context.Context, modelType models.ModelType, set *TrainingSet) (*ModelHandle, error)
}

// Evaluator scores a candidate model
type Evaluator interface {
	Evaluate(ctx context.Context, handle *ModelHandle, modelType models.ModelType) (*models.EvaluationResults, error)
}

// ExperimentClient stages candidates as A/B challengers
type ExperimentClient interface {
	RegisterChallenger(ctx context.Context, modelType models.ModelType, handle *ModelHandle, metrics map[string]float64) error
}
