package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"

	"model-orchestrator/core/models"
)

// ArtifactLister is the read side of the registry the exporter scrapes
type ArtifactLister interface {
	ModelTypes() []models.ModelType
	ListArtifacts(modelType models.ModelType) []*models.ModelArtifact
}

// RegistryExporter exports registry state for Prometheus/Grafana dashboards.
// Values are read from the registry at scrape time.
type RegistryExporter struct {
	source ArtifactLister

	artifacts       *prometheus.Desc
	storedBytes     *prometheus.Desc
	championScore   *prometheus.Desc
	championAgeSecs *prometheus.Desc
}

// NewRegistryExporter creates a new registry exporter
func NewRegistryExporter(source ArtifactLister) *RegistryExporter {
	return &RegistryExporter{
		source: source,
		artifacts: prometheus.NewDesc(
			"model_artifacts",
			"Stored model artifacts by deployment status",
			[]string{"model_type", "status"}, nil,
		),
		storedBytes: prometheus.NewDesc(
			"model_artifacts_bytes",
			"Total size of stored model binaries",
			[]string{"model_type"}, nil,
		),
		championScore: prometheus.NewDesc(
			"model_champion_score",
			"Mean offline metric of the deployed model",
			[]string{"model_type", "version"}, nil,
		),
		championAgeSecs: prometheus.NewDesc(
			"model_champion_deployed_timestamp_seconds",
			"Unix time the current champion was deployed",
			[]string{"model_type", "version"}, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (e *RegistryExporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.artifacts
	ch <- e.storedBytes
	ch <- e.championScore
	ch <- e.championAgeSecs
}

// Collect implements prometheus.Collector
func (e *RegistryExporter) Collect(ch chan<- prometheus.Metric) {
	for _, t := range e.source.ModelTypes() {
		counts := map[models.DeploymentStatus]int{
			models.DeploymentPending:  0,
			models.DeploymentDeployed: 0,
			models.DeploymentRetired:  0,
		}
		var size int64

		for _, a := range e.source.ListArtifacts(t) {
			counts[a.DeploymentStatus]++
			size += a.Size

			if a.DeploymentStatus != models.DeploymentDeployed {
				continue
			}
			ch <- prometheus.MustNewConstMetric(e.championScore, prometheus.GaugeValue,
				a.PerformanceScore(), string(t), a.Version)
			if a.DeployedAt != nil {
				ch <- prometheus.MustNewConstMetric(e.championAgeSecs, prometheus.GaugeValue,
					float64(a.DeployedAt.Unix()), string(t), a.Version)
			}
		}

		for status, n := range counts {
			ch <- prometheus.MustNewConstMetric(e.artifacts, prometheus.GaugeValue,
				float64(n), string(t), string(status))
		}
		ch <- prometheus.MustNewConstMetric(e.storedBytes, prometheus.GaugeValue, float64(size), string(t))
	}
}
