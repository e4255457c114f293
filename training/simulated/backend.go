package simulated

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"model-orchestrator/core/executor"
	"model-orchestrator/core/models"
)

// Config shapes the simulated data and model quality
type Config struct {
	Seed int64
	// BaseAccuracy is the starting accuracy per type; DefaultBaseAccuracy applies otherwise
	BaseAccuracy        map[models.ModelType]float64
	DefaultBaseAccuracy float64
	// MaxNewDataPerPoll bounds how many samples arrive between two NewDataCount calls
	MaxNewDataPerPoll int
	// DecayPerSample bounds how much live performance drifts down per sample
	DecayPerSample float64
	// TrainDuration is how long Train blocks
	TrainDuration time.Duration
}

// DefaultConfig returns settings suitable for a local run
func DefaultConfig(seed int64) Config {
	return Config{
		Seed:                seed,
		BaseAccuracy:        map[models.ModelType]float64{},
		DefaultBaseAccuracy: 0.8,
		MaxNewDataPerPoll:   400,
		DecayPerSample:      0.004,
		TrainDuration:       2 * time.Second,
	}
}

// Backend simulates the data provider, trainer, evaluator, experiment service
// and live telemetry. It is deterministic for a given seed and call order.
type Backend struct {
	cfg    Config
	logger *zap.SugaredLogger

	mu          sync.Mutex
	rng         *rand.Rand
	pending     map[models.ModelType]int
	generations map[models.ModelType]int
	drift       map[models.ModelType]float64
	challengers map[models.ModelType]string
}

var (
	_ executor.DataProvider     = (*Backend)(nil)
	_ executor.Trainer          = (*Backend)(nil)
	_ executor.Evaluator        = (*Backend)(nil)
	_ executor.ExperimentClient = (*Backend)(nil)
)

// NewBackend creates a simulated backend
func NewBackend(cfg Config, logger *zap.SugaredLogger) *Backend {
	if cfg.DefaultBaseAccuracy == 0 {
		cfg.DefaultBaseAccuracy = 0.8
	}
	return &Backend{
		cfg:         cfg,
		logger:      logger.With("component", "simulated_training"),
		rng:         rand.New(rand.NewSource(cfg.Seed)),
		pending:     make(map[models.ModelType]int),
		generations: make(map[models.ModelType]int),
		drift:       make(map[models.ModelType]float64),
		challengers: make(map[models.ModelType]string),
	}
}

func (b *Backend) base(t models.ModelType) float64 {
	if v, ok := b.cfg.BaseAccuracy[t]; ok {
		return v
	}
	return b.cfg.DefaultBaseAccuracy
}

// NewDataCount reports the samples accumulated since the last PrepareTrainingData
func (b *Backend) NewDataCount(_ context.Context, modelType models.ModelType) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cfg.MaxNewDataPerPoll > 0 {
		b.pending[modelType] += b.rng.Intn(b.cfg.MaxNewDataPerPoll + 1)
	}
	return b.pending[modelType], nil
}

// PrepareTrainingData snapshots the pending samples into a training set
func (b *Backend) PrepareTrainingData(_ context.Context, modelType models.ModelType) (*executor.TrainingSet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := b.pending[modelType]
	if count == 0 {
		return &executor.TrainingSet{ModelType: modelType}, nil
	}
	b.pending[modelType] = 0
	delete(b.drift, modelType)
	b.generations[modelType]++
	gen := b.generations[modelType]

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s/%d/%d", modelType, gen, count)))
	return &executor.TrainingSet{
		ModelType:   modelType,
		Location:    fmt.Sprintf("sim://%s/generation-%d", modelType, gen),
		DataHash:    hex.EncodeToString(sum[:]),
		SampleCount: count,
	}, nil
}

// Train blocks for the configured duration and returns a small synthetic binary
func (b *Backend) Train(ctx context.Context, modelType models.ModelType, set *executor.TrainingSet) (*executor.ModelHandle, error) {
	b.logger.Infow("Simulating training", "model_type", modelType, "samples", set.SampleCount, "duration", b.cfg.TrainDuration)

	if b.cfg.TrainDuration > 0 {
		timer := time.NewTimer(b.cfg.TrainDuration)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	b.mu.Lock()
	weights := make([]byte, 256+b.rng.Intn(768))
	b.rng.Read(weights)
	b.mu.Unlock()

	return &executor.ModelHandle{
		ID:        uuid.New().String(),
		ModelType: modelType,
		Artifact:  weights,
		Metadata: map[string]string{
			"framework":    "simulated",
			"data_hash":    set.DataHash,
			"sample_count": strconv.Itoa(set.SampleCount),
		},
	}, nil
}

// Evaluate scores a candidate around the type's base accuracy.
// More training data gives a small lift.
func (b *Backend) Evaluate(_ context.Context, handle *executor.ModelHandle, modelType models.ModelType) (*models.EvaluationResults, error) {
	samples, _ := strconv.Atoi(handle.Metadata["sample_count"])

	b.mu.Lock()
	defer b.mu.Unlock()

	lift := 0.03 * math.Log10(1+float64(samples)/1000)
	accuracy := clamp(b.base(modelType) + lift + b.rng.NormFloat64()*0.02)
	precision := clamp(accuracy + b.rng.NormFloat64()*0.01)
	recall := clamp(accuracy - 0.02 + b.rng.NormFloat64()*0.01)
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}

	return &models.EvaluationResults{
		Metrics: map[string]float64{
			"accuracy":  accuracy,
			"precision": precision,
			"recall":    recall,
			"f1":        f1,
		},
		QualityScore: clamp(0.75 + b.rng.Float64()*0.23),
		SampleSize:   samples / 5,
	}, nil
}

// RegisterChallenger records the candidate as the type's current challenger
func (b *Backend) RegisterChallenger(_ context.Context, modelType models.ModelType, handle *executor.ModelHandle, metrics map[string]float64) error {
	b.mu.Lock()
	b.challengers[modelType] = handle.ID
	b.mu.Unlock()
	b.logger.Infow("Challenger registered", "model_type", modelType, "handle_id", handle.ID, "accuracy", metrics["accuracy"])
	return nil
}

// Challenger returns the last registered challenger handle for a type
func (b *Backend) Challenger(modelType models.ModelType) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.challengers[modelType]
	return id, ok
}

// SamplePerformance returns a live value that slowly drifts below the base accuracy.
// A new training generation resets the drift.
func (b *Backend) SamplePerformance(_ context.Context, modelType models.ModelType) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg.DecayPerSample > 0 {
		b.drift[modelType] += b.rng.Float64() * b.cfg.DecayPerSample
	}
	return clamp(b.base(modelType) - b.drift[modelType] + b.rng.NormFloat64()*0.005), nil
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
