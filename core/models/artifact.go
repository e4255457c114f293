package models

import (
	"time"
)

// DeploymentStatus is the lifecycle state of a stored model artifact
type DeploymentStatus string

const (
	DeploymentPending  DeploymentStatus = "pending"
	DeploymentDeployed DeploymentStatus = "deployed"
	DeploymentRetired  DeploymentStatus = "retired"
)

// ModelArtifact is the registry's metadata for one stored model binary
type ModelArtifact struct {
	ModelID            string                 `json:"model_id"`
	ModelType          ModelType              `json:"model_type"`
	Version            string                 `json:"version"`
	CreatedAt          time.Time              `json:"created_at"`
	PerformanceMetrics map[string]float64     `json:"performance_metrics"`
	TrainingDataHash   string                 `json:"training_data_hash"`
	Size               int64                  `json:"size"`
	DeploymentStatus   DeploymentStatus       `json:"deployment_status"`
	StoragePath        string                 `json:"storage_path"`
	DeployedAt         *time.Time             `json:"deployed_at,omitempty"`
	RetiredAt          *time.Time             `json:"retired_at,omitempty"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
}

// PerformanceScore is the mean of all performance metrics, 0 when there are none
func (a *ModelArtifact) PerformanceScore() float64 {
	if len(a.PerformanceMetrics) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range a.PerformanceMetrics {
		sum += v
	}
	return sum / float64(len(a.PerformanceMetrics))
}

// Clone returns a deep copy
func (a *ModelArtifact) Clone() *ModelArtifact {
	if a == nil {
		return nil
	}
	c := *a
	c.PerformanceMetrics = copyMetrics(a.PerformanceMetrics)
	if a.DeployedAt != nil {
		t := *a.DeployedAt
		c.DeployedAt = &t
	}
	if a.RetiredAt != nil {
		t := *a.RetiredAt
		c.RetiredAt = &t
	}
	if a.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// ModelVersion is the read view of an artifact
type ModelVersion struct {
	ModelID          string     `json:"model_id"`
	Version          string     `json:"version"`
	CreatedAt        time.Time  `json:"created_at"`
	PerformanceScore float64    `json:"performance_score"`
	IsChampion       bool       `json:"is_champion"`
	IsChallenger     bool       `json:"is_challenger"`
	DeploymentDate   *time.Time `json:"deployment_date,omitempty"`
	RetirementDate   *time.Time `json:"retirement_date,omitempty"`
}

// VersionView derives the read view of the artifact
func (a *ModelArtifact) VersionView() ModelVersion {
	v := ModelVersion{
		ModelID:          a.ModelID,
		Version:          a.Version,
		CreatedAt:        a.CreatedAt,
		PerformanceScore: a.PerformanceScore(),
		IsChampion:       a.DeploymentStatus == DeploymentDeployed,
		IsChallenger:     a.DeploymentStatus == DeploymentPending,
	}
	if a.DeployedAt != nil {
		t := *a.DeployedAt
		v.DeploymentDate = &t
	}
	if a.RetiredAt != nil {
		t := *a.RetiredAt
		v.RetirementDate = &t
	}
	return v
}

// RegistryRecord is the persisted form of one model type's registry
type RegistryRecord struct {
	ModelType   ModelType        `json:"model_type"`
	Artifacts   []*ModelArtifact `json:"artifacts"`
	LastUpdated time.Time        `json:"last_updated"`
}
