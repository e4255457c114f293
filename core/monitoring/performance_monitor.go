package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"model-orchestrator/core/models"
)

// PerformanceSource samples the live performance of a deployed model
type PerformanceSource interface {
	SamplePerformance(ctx context.Context, modelType models.ModelType) (float64, error)
}

// PerformanceStore persists the rolling performance history
type PerformanceStore interface {
	AppendPerformance(ctx context.Context, modelType models.ModelType, entry models.PerformanceHistoryEntry) error
	PerformanceHistory(ctx context.Context, modelType models.ModelType, since time.Time) ([]models.PerformanceHistoryEntry, error)
	TrimPerformance(ctx context.Context, modelType models.ModelType, before time.Time) error
}

// PerformanceMonitor keeps a bounded trailing window of performance samples per model type
type PerformanceMonitor struct {
	source   PerformanceSource
	store    PerformanceStore
	window   time.Duration
	interval time.Duration
	logger   *zap.SugaredLogger
	now      func() time.Time

	mu      sync.RWMutex
	history map[models.ModelType][]models.PerformanceHistoryEntry
}

// NewPerformanceMonitor creates a performance monitor.
// source and store may be nil: samples then only arrive via RecordSample and live in memory.
func NewPerformanceMonitor(
	source PerformanceSource,
	store PerformanceStore,
	window time.Duration,
	interval time.Duration,
	logger *zap.SugaredLogger,
) *PerformanceMonitor {
	return &PerformanceMonitor{
		source:   source,
		store:    store,
		window:   window,
		interval: interval,
		logger:   logger.With("component", "performance_monitor"),
		now:      time.Now,
		history:  make(map[models.ModelType][]models.PerformanceHistoryEntry),
	}
}

// SetClock overrides the time source
func (pm *PerformanceMonitor) SetClock(now func() time.Time) {
	pm.now = now
}

// Restore loads persisted history for the given types
func (pm *PerformanceMonitor) Restore(ctx context.Context, types []models.ModelType) {
	if pm.store == nil {
		return
	}
	since := pm.now().Add(-pm.window)
	for _, t := range types {
		entries, err := pm.store.PerformanceHistory(ctx, t, since)
		if err != nil {
			pm.logger.Warnw("Failed to restore performance history", "model_type", t, "error", err)
			continue
		}
		pm.mu.Lock()
		pm.history[t] = entries
		pm.mu.Unlock()
	}
}

// Start samples every model type on each tick until ctx is done
func (pm *PerformanceMonitor) Start(ctx context.Context, types func() []models.ModelType) {
	if pm.source == nil {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(pm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.sampleAll(ctx, types())
		}
	}
}

// sampleAll samples each type; one type's failure does not stop the others
func (pm *PerformanceMonitor) sampleAll(ctx context.Context, types []models.ModelType) {
	for _, t := range types {
		value, err := pm.source.SamplePerformance(ctx, t)
		if err != nil {
			pm.logger.Warnw("Failed to sample performance", "model_type", t, "error", err)
			continue
		}
		pm.RecordSample(ctx, t, value)
	}
}

// RecordSample appends a sample and drops everything older than the window
func (pm *PerformanceMonitor) RecordSample(ctx context.Context, modelType models.ModelType, value float64) {
	now := pm.now()
	entry := models.PerformanceHistoryEntry{Timestamp: now, Value: value}
	cutoff := now.Add(-pm.window)

	pm.mu.Lock()
	entries := append(pm.history[modelType], entry)
	pm.history[modelType] = pruneBefore(entries, cutoff)
	pm.mu.Unlock()

	CurrentPerformance.WithLabelValues(string(modelType)).Set(value)

	if pm.store == nil {
		return
	}
	if err := pm.store.AppendPerformance(ctx, modelType, entry); err != nil {
		pm.logger.Warnw("Failed to persist performance sample", "model_type", modelType, "error", err)
		return
	}
	if err := pm.store.TrimPerformance(ctx, modelType, cutoff); err != nil {
		pm.logger.Warnw("Failed to trim performance history", "model_type", modelType, "error", err)
	}
}

// CurrentPerformance returns the most recent sample
func (pm *PerformanceMonitor) CurrentPerformance(modelType models.ModelType) (float64, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	entries := pm.history[modelType]
	if len(entries) == 0 {
		return 0, false
	}
	return entries[len(entries)-1].Value, true
}

// History returns the samples from the last windowDays days, oldest first
func (pm *PerformanceMonitor) History(modelType models.ModelType, windowDays int) []models.PerformanceHistoryEntry {
	cutoff := pm.now().Add(-time.Duration(windowDays) * 24 * time.Hour)

	pm.mu.RLock()
	defer pm.mu.RUnlock()

	var out []models.PerformanceHistoryEntry
	for _, e := range pm.history[modelType] {
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

func pruneBefore(entries []models.PerformanceHistoryEntry, cutoff time.Time) []models.PerformanceHistoryEntry {
	i := 0
	for i < len(entries) && entries[i].Timestamp.Before(cutoff) {
		i++
	}
	if i == 0 {
		return entries
	}
	out := make([]models.PerformanceHistoryEntry, len(entries)-i)
	copy(out, entries[i:])
	return out
}
