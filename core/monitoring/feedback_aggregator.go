package monitoring

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"model-orchestrator/core/models"
)

// SummarySink persists flushed feedback summaries
type SummarySink interface {
	SaveFeedbackSummary(ctx context.Context, summary *models.FeedbackSummary) error
}

// FeedbackAggregator buffers feedback per model type and aggregates it once the buffer is full
type FeedbackAggregator struct {
	sink      SummarySink
	threshold int
	interval  time.Duration
	logger    *zap.SugaredLogger
	now       func() time.Time

	mu      sync.Mutex
	buffers map[models.ModelType][]models.FeedbackRecord
	latest  map[models.ModelType]*models.FeedbackSummary
}

// NewFeedbackAggregator creates an aggregator flushing at threshold records per type
func NewFeedbackAggregator(sink SummarySink, threshold int, interval time.Duration, logger *zap.SugaredLogger) *FeedbackAggregator {
	if threshold < 1 {
		threshold = 1
	}
	return &FeedbackAggregator{
		sink:      sink,
		threshold: threshold,
		interval:  interval,
		logger:    logger.With("component", "feedback_aggregator"),
		now:       time.Now,
		buffers:   make(map[models.ModelType][]models.FeedbackRecord),
		latest:    make(map[models.ModelType]*models.FeedbackSummary),
	}
}

// Start flushes every full buffer on each tick until ctx is done
func (fa *FeedbackAggregator) Start(ctx context.Context) {
	ticker := time.NewTicker(fa.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fa.flushAll(ctx)
		}
	}
}

func (fa *FeedbackAggregator) flushAll(ctx context.Context) {
	fa.mu.Lock()
	types := make([]models.ModelType, 0, len(fa.buffers))
	for t := range fa.buffers {
		types = append(types, t)
	}
	fa.mu.Unlock()

	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, t := range types {
		if _, err := fa.FlushIfThresholdReached(ctx, t); err != nil {
			fa.logger.Warnw("Failed to persist feedback summary", "model_type", t, "error", err)
		}
	}
}

// RecordFeedback buffers one record
func (fa *FeedbackAggregator) RecordFeedback(modelType models.ModelType, record models.FeedbackRecord) {
	if record.Timestamp.IsZero() {
		record.Timestamp = fa.now()
	}
	record.ModelType = modelType

	fa.mu.Lock()
	fa.buffers[modelType] = append(fa.buffers[modelType], record)
	size := len(fa.buffers[modelType])
	fa.mu.Unlock()

	FeedbackBufferSize.WithLabelValues(string(modelType)).Set(float64(size))
}

// BufferSize returns the number of buffered records for a type
func (fa *FeedbackAggregator) BufferSize(modelType models.ModelType) int {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return len(fa.buffers[modelType])
}

// FlushIfThresholdReached aggregates and clears the buffer when it holds at least threshold records.
// It returns nil when the buffer is still below the threshold. The buffer is cleared even if
// persisting the summary fails; the summary is still returned alongside the error.
func (fa *FeedbackAggregator) FlushIfThresholdReached(ctx context.Context, modelType models.ModelType) (*models.FeedbackSummary, error) {
	fa.mu.Lock()
	records := fa.buffers[modelType]
	if len(records) < fa.threshold {
		fa.mu.Unlock()
		return nil, nil
	}
	delete(fa.buffers, modelType)
	summary := summarize(modelType, records, fa.now())
	fa.latest[modelType] = summary
	fa.mu.Unlock()

	FeedbackBufferSize.WithLabelValues(string(modelType)).Set(0)
	fa.logger.Infow("Feedback aggregated",
		"model_type", modelType,
		"count", summary.Count,
		"mean_satisfaction", summary.MeanSatisfaction)

	if fa.sink != nil {
		if err := fa.sink.SaveFeedbackSummary(ctx, summary); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

// LatestSummary returns the most recent summary for a type
func (fa *FeedbackAggregator) LatestSummary(modelType models.ModelType) (*models.FeedbackSummary, bool) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	s, ok := fa.latest[modelType]
	if !ok {
		return nil, false
	}
	c := *s
	return &c, true
}

func summarize(modelType models.ModelType, records []models.FeedbackRecord, now time.Time) *models.FeedbackSummary {
	s := &models.FeedbackSummary{
		ModelType:      modelType,
		Count:          len(records),
		MeanEngagement: make(map[string]float64),
		WindowStart:    records[0].Timestamp,
		WindowEnd:      records[0].Timestamp,
		CreatedAt:      now,
	}
	counts := make(map[string]int)
	total := 0.0
	for _, r := range records {
		total += r.Satisfaction
		for k, v := range r.Engagement {
			s.MeanEngagement[k] += v
			counts[k]++
		}
		if r.Timestamp.Before(s.WindowStart) {
			s.WindowStart = r.Timestamp
		}
		if r.Timestamp.After(s.WindowEnd) {
			s.WindowEnd = r.Timestamp
		}
	}
	s.MeanSatisfaction = total / float64(len(records))
	for k, sum := range s.MeanEngagement {
		s.MeanEngagement[k] = sum / float64(counts[k])
	}
	return s
}
