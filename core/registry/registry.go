package registry

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"model-orchestrator/core/models"
	"model-orchestrator/storage"
)

// Repository persists one registry record per model type
type Repository interface {
	SaveRegistry(ctx context.Context, rec *models.RegistryRecord) error
	LoadRegistries(ctx context.Context) ([]*models.RegistryRecord, error)
}

// Registry is the versioned store of model artifacts.
// All mutation of a model type's artifacts happens under that type's lock,
// which keeps at most one artifact deployed per type.
type Registry struct {
	blobs  storage.BlobStore
	repo   Repository
	prefix string
	logger *zap.SugaredLogger
	now    func() time.Time

	mu    sync.Mutex
	types map[models.ModelType]*typeRegistry
}

type typeRegistry struct {
	mu          sync.RWMutex
	artifacts   []*models.ModelArtifact
	lastUpdated time.Time
	lastVersion int64
}

// Option customises a Registry
type Option func(*Registry)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithStoragePrefix sets the key prefix for stored binaries
func WithStoragePrefix(prefix string) Option {
	return func(r *Registry) { r.prefix = prefix }
}

// NewRegistry creates a registry. repo may be nil, in which case state lives only in memory.
func NewRegistry(blobs storage.BlobStore, repo Repository, logger *zap.SugaredLogger, opts ...Option) *Registry {
	r := &Registry{
		blobs:  blobs,
		repo:   repo,
		logger: logger.With("component", "registry"),
		now:    time.Now,
		types:  make(map[models.ModelType]*typeRegistry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load restores persisted registry records
func (r *Registry) Load(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}
	records, err := r.repo.LoadRegistries(ctx)
	if err != nil {
		return &models.StorageError{Op: "load registry", Err: err}
	}
	for _, rec := range records {
		tr := r.forType(rec.ModelType)
		tr.mu.Lock()
		tr.artifacts = rec.Artifacts
		tr.lastUpdated = rec.LastUpdated
		for _, a := range rec.Artifacts {
			if v := parseVersion(a.Version); v > tr.lastVersion {
				tr.lastVersion = v
			}
		}
		tr.mu.Unlock()
		r.logger.Infow("Registry restored", "model_type", rec.ModelType, "artifacts", len(rec.Artifacts))
	}
	return nil
}

func (r *Registry) forType(modelType models.ModelType) *typeRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()

	tr, ok := r.types[modelType]
	if !ok {
		tr = &typeRegistry{}
		r.types[modelType] = tr
	}
	return tr
}

// lookup returns the type's registry, or nil when nothing was ever stored for it.
// Only Store and Load create entries.
func (r *Registry) lookup(modelType models.ModelType) *typeRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.types[modelType]
}

// ModelTypes returns every model type that has a registry
func (r *Registry) ModelTypes() []models.ModelType {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.ModelType, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Store writes a new binary and appends a pending artifact.
// Existing artifacts are never touched; on failure the registry is unchanged.
func (r *Registry) Store(
	ctx context.Context,
	modelType models.ModelType,
	data []byte,
	metrics map[string]float64,
	dataHash string,
	meta map[string]interface{},
) (*models.ModelArtifact, error) {
	tr := r.forType(modelType)

	// Reserve a version so concurrent stores stay monotonic without holding the lock during IO.
	now := r.now()
	tr.mu.Lock()
	v := now.UnixMilli()
	if v <= tr.lastVersion {
		v = tr.lastVersion + 1
	}
	tr.lastVersion = v
	tr.mu.Unlock()

	version := formatVersion(v)
	path := storage.ArtifactPath(r.prefix, modelType, version)

	if err := r.blobs.Write(ctx, path, data); err != nil {
		return nil, &models.StorageError{Op: "write", Path: path, Err: err}
	}

	size, err := r.blobs.Size(ctx, path)
	if err != nil {
		r.logger.Warnw("Failed to read artifact size, using payload length", "path", path, "error", err)
		size = int64(len(data))
	}

	metricsCopy := make(map[string]float64, len(metrics))
	for k, v := range metrics {
		metricsCopy[k] = v
	}
	artifact := &models.ModelArtifact{
		ModelID:            fmt.Sprintf("%s_%s", modelType, version),
		ModelType:          modelType,
		Version:            version,
		CreatedAt:          now,
		PerformanceMetrics: metricsCopy,
		TrainingDataHash:   dataHash,
		Size:               size,
		DeploymentStatus:   models.DeploymentPending,
		StoragePath:        path,
		Metadata:           meta,
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	next := make([]*models.ModelArtifact, 0, len(tr.artifacts)+1)
	next = append(next, tr.artifacts...)
	next = append(next, artifact)
	if err := r.persist(ctx, modelType, next, now); err != nil {
		if delErr := r.blobs.Delete(ctx, path); delErr != nil {
			r.logger.Warnw("Failed to remove orphaned artifact", "path", path, "error", delErr)
		}
		return nil, err
	}
	tr.artifacts = next
	tr.lastUpdated = now

	r.logger.Infow("Artifact stored",
		"model_type", modelType,
		"model_id", artifact.ModelID,
		"size", size)

	return artifact.Clone(), nil
}

// GetVersions returns the read view of every artifact, newest first
func (r *Registry) GetVersions(modelType models.ModelType) []models.ModelVersion {
	artifacts := r.Artifacts(modelType)
	sortNewestFirst(artifacts)

	out := make([]models.ModelVersion, len(artifacts))
	for i, a := range artifacts {
		out[i] = a.VersionView()
	}
	return out
}

// Artifacts returns copies of every artifact of the type in insertion order
func (r *Registry) Artifacts(modelType models.ModelType) []*models.ModelArtifact {
	tr := r.lookup(modelType)
	if tr == nil {
		return []*models.ModelArtifact{}
	}
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	out := make([]*models.ModelArtifact, len(tr.artifacts))
	for i, a := range tr.artifacts {
		out[i] = a.Clone()
	}
	return out
}

// GetArtifact returns one artifact by model id
func (r *Registry) GetArtifact(modelType models.ModelType, modelID string) (*models.ModelArtifact, error) {
	tr := r.lookup(modelType)
	if tr == nil {
		return nil, &models.NotFoundError{ModelType: modelType, Kind: "model_id", Key: modelID}
	}
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	for _, a := range tr.artifacts {
		if a.ModelID == modelID {
			return a.Clone(), nil
		}
	}
	return nil, &models.NotFoundError{ModelType: modelType, Kind: "model_id", Key: modelID}
}

// GetChampion returns the deployed artifact, or false when none is deployed
func (r *Registry) GetChampion(modelType models.ModelType) (*models.ModelArtifact, bool) {
	tr := r.lookup(modelType)
	if tr == nil {
		return nil, false
	}
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	for _, a := range tr.artifacts {
		if a.DeploymentStatus == models.DeploymentDeployed {
			return a.Clone(), true
		}
	}
	return nil, false
}

// LastUpdated returns when the type's registry last changed
func (r *Registry) LastUpdated(modelType models.ModelType) time.Time {
	tr := r.lookup(modelType)
	if tr == nil {
		return time.Time{}
	}
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return tr.lastUpdated
}

// Deploy retires the current champion and deploys modelID as one step.
// Deploying the current champion again is a no-op.
func (r *Registry) Deploy(ctx context.Context, modelType models.ModelType, modelID string) error {
	tr := r.lookup(modelType)
	if tr == nil {
		return &models.NotFoundError{ModelType: modelType, Kind: "model_id", Key: modelID}
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()

	idx := -1
	for i, a := range tr.artifacts {
		if a.ModelID == modelID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return &models.NotFoundError{ModelType: modelType, Kind: "model_id", Key: modelID}
	}
	return r.deployLocked(ctx, modelType, tr, idx)
}

// Rollback redeploys the artifact with the given version
func (r *Registry) Rollback(ctx context.Context, modelType models.ModelType, version string) error {
	tr := r.lookup(modelType)
	if tr == nil {
		return &models.NotFoundError{ModelType: modelType, Kind: "version", Key: version}
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()

	idx := -1
	for i, a := range tr.artifacts {
		if a.Version == version {
			idx = i
			break
		}
	}
	if idx < 0 {
		return &models.NotFoundError{ModelType: modelType, Kind: "version", Key: version}
	}
	r.logger.Infow("Rolling back", "model_type", modelType, "version", version)
	return r.deployLocked(ctx, modelType, tr, idx)
}

// deployLocked must be called with tr.mu held for writing
func (r *Registry) deployLocked(ctx context.Context, modelType models.ModelType, tr *typeRegistry, idx int) error {
	target := tr.artifacts[idx]
	if target.DeploymentStatus == models.DeploymentDeployed {
		return nil
	}

	now := r.now()
	next := make([]*models.ModelArtifact, len(tr.artifacts))
	var retired string
	for i, a := range tr.artifacts {
		switch {
		case i == idx:
			c := a.Clone()
			c.DeploymentStatus = models.DeploymentDeployed
			c.DeployedAt = &now
			c.RetiredAt = nil
			next[i] = c
		case a.DeploymentStatus == models.DeploymentDeployed:
			c := a.Clone()
			c.DeploymentStatus = models.DeploymentRetired
			c.RetiredAt = &now
			next[i] = c
			retired = c.ModelID
		default:
			next[i] = a
		}
	}

	if err := r.persist(ctx, modelType, next, now); err != nil {
		return err
	}
	tr.artifacts = next
	tr.lastUpdated = now

	r.logger.Infow("Model deployed",
		"model_type", modelType,
		"model_id", target.ModelID,
		"retired", retired)
	return nil
}

// Cleanup keeps the keepVersions newest artifacts plus the champion and deletes the rest.
// It returns how many artifacts were removed.
func (r *Registry) Cleanup(ctx context.Context, modelType models.ModelType, keepVersions int) (int, error) {
	if keepVersions < 0 {
		keepVersions = 0
	}
	tr := r.lookup(modelType)
	if tr == nil {
		return 0, nil
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()

	ordered := make([]*models.ModelArtifact, len(tr.artifacts))
	copy(ordered, tr.artifacts)
	sortNewestFirst(ordered)

	keep := make(map[string]bool, keepVersions+1)
	for i, a := range ordered {
		if i < keepVersions || a.DeploymentStatus == models.DeploymentDeployed {
			keep[a.ModelID] = true
		}
	}

	survivors := make([]*models.ModelArtifact, 0, len(keep))
	var doomed []*models.ModelArtifact
	for _, a := range tr.artifacts {
		if keep[a.ModelID] {
			survivors = append(survivors, a)
		} else {
			doomed = append(doomed, a)
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	now := r.now()
	if err := r.persist(ctx, modelType, survivors, now); err != nil {
		return 0, err
	}
	tr.artifacts = survivors
	tr.lastUpdated = now

	for _, a := range doomed {
		if err := r.blobs.Delete(ctx, a.StoragePath); err != nil {
			r.logger.Warnw("Failed to delete artifact binary", "model_id", a.ModelID, "path", a.StoragePath, "error", err)
		}
	}

	r.logger.Infow("Registry cleaned up",
		"model_type", modelType,
		"deleted", len(doomed),
		"remaining", len(survivors))
	return len(doomed), nil
}

func (r *Registry) persist(ctx context.Context, modelType models.ModelType, artifacts []*models.ModelArtifact, now time.Time) error {
	if r.repo == nil {
		return nil
	}
	rec := &models.RegistryRecord{
		ModelType:   modelType,
		Artifacts:   artifacts,
		LastUpdated: now,
	}
	if err := r.repo.SaveRegistry(ctx, rec); err != nil {
		return &models.StorageError{Op: "persist registry", Path: string(modelType), Err: err}
	}
	return nil
}

// CountDeployed returns how many artifacts of the type are deployed
func (r *Registry) CountDeployed(modelType models.ModelType) int {
	tr := r.lookup(modelType)
	if tr == nil {
		return 0
	}
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	n := 0
	for _, a := range tr.artifacts {
		if a.DeploymentStatus == models.DeploymentDeployed {
			n++
		}
	}
	return n
}

// ChampionMetric returns one metric of the champion, used as a performance baseline
func (r *Registry) ChampionMetric(modelType models.ModelType, metric string) (float64, bool) {
	champion, ok := r.GetChampion(modelType)
	if !ok {
		return 0, false
	}
	v, ok := champion.PerformanceMetrics[metric]
	return v, ok
}

// sortNewestFirst orders by version, which is monotonic per type even when the clock is not
func sortNewestFirst(artifacts []*models.ModelArtifact) {
	sort.SliceStable(artifacts, func(i, j int) bool {
		vi, vj := parseVersion(artifacts[i].Version), parseVersion(artifacts[j].Version)
		if vi != vj {
			return vi > vj
		}
		return artifacts[i].CreatedAt.After(artifacts[j].CreatedAt)
	})
}

func formatVersion(v int64) string {
	return "v" + strconv.FormatInt(v, 10)
}

func parseVersion(version string) int64 {
	v, err := strconv.ParseInt(strings.TrimPrefix(version, "v"), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
