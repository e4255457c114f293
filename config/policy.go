package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"model-orchestrator/core/models"
)

// Policy is the YAML threshold file. Every field is optional; unset fields keep their current value.
type Policy struct {
	Orchestrator PolicyOrchestrator `yaml:"orchestrator"`
	Triggers     PolicyTriggers     `yaml:"triggers"`
	Decision     PolicyDecision     `yaml:"decision"`
	Registry     PolicyRegistry     `yaml:"registry"`
}

// PolicyOrchestrator represents the orchestrator section
type PolicyOrchestrator struct {
	MaxConcurrentJobs *int     `yaml:"max_concurrent_jobs,omitempty"`
	AutoDeploy        *bool    `yaml:"auto_deploy,omitempty"`
	ABTesting         *bool    `yaml:"ab_testing,omitempty"`
	JobTimeout        string   `yaml:"job_timeout,omitempty"`      // e.g. "90m"
	RetrainInterval   string   `yaml:"retrain_interval,omitempty"` // e.g. "168h"
	ModelTypes        []string `yaml:"model_types,omitempty"`
}

// PolicyTriggers represents the triggers section
type PolicyTriggers struct {
	PerformanceDegradationThreshold *float64           `yaml:"performance_degradation_threshold,omitempty"`
	MinNewDataThreshold             *int               `yaml:"min_new_data_threshold,omitempty"`
	Baselines                       map[string]float64 `yaml:"baselines,omitempty"`
}

// PolicyDecision represents the decision section
type PolicyDecision struct {
	PrimaryMetric        string   `yaml:"primary_metric,omitempty"`
	ImprovementThreshold *float64 `yaml:"improvement_threshold,omitempty"`
	DegradationThreshold *float64 `yaml:"degradation_threshold,omitempty"`
	QualityFloor         *float64 `yaml:"quality_floor,omitempty"`
	MinSampleSize        *int     `yaml:"min_sample_size,omitempty"`
}

// PolicyRegistry represents the registry section
type PolicyRegistry struct {
	KeepVersions *int `yaml:"keep_versions,omitempty"`
}

// LoadPolicyFile reads and parses a policy file
func LoadPolicyFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy parses a YAML policy document
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Durations are validated here so a typo fails at startup
	for name, raw := range map[string]string{
		"job_timeout":      p.Orchestrator.JobTimeout,
		"retrain_interval": p.Orchestrator.RetrainInterval,
	} {
		if raw == "" {
			continue
		}
		if _, err := parseDuration(raw); err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", name, raw, err)
		}
	}
	return &p, nil
}

// Apply overlays the policy on cfg
func (p *Policy) Apply(cfg *Config) {
	o := p.Orchestrator
	if o.MaxConcurrentJobs != nil {
		cfg.Orchestrator.MaxConcurrentJobs = *o.MaxConcurrentJobs
	}
	if o.AutoDeploy != nil {
		cfg.Orchestrator.AutoDeploy = *o.AutoDeploy
	}
	if o.ABTesting != nil {
		cfg.Orchestrator.ABTesting = *o.ABTesting
	}
	if d, err := parseDuration(o.JobTimeout); err == nil && o.JobTimeout != "" {
		cfg.Orchestrator.JobTimeout = d
	}
	if d, err := parseDuration(o.RetrainInterval); err == nil && o.RetrainInterval != "" {
		cfg.Orchestrator.RetrainInterval = d
	}
	if len(o.ModelTypes) > 0 {
		types := make([]models.ModelType, 0, len(o.ModelTypes))
		for _, t := range o.ModelTypes {
			types = append(types, models.ModelType(t))
		}
		cfg.Orchestrator.ModelTypes = types
	}

	t := p.Triggers
	if t.PerformanceDegradationThreshold != nil {
		cfg.Trigger.PerformanceDegradationThreshold = *t.PerformanceDegradationThreshold
	}
	if t.MinNewDataThreshold != nil {
		cfg.Trigger.MinNewDataThreshold = *t.MinNewDataThreshold
	}
	if len(t.Baselines) > 0 {
		if cfg.Trigger.Baselines == nil {
			cfg.Trigger.Baselines = make(map[models.ModelType]float64, len(t.Baselines))
		}
		for name, v := range t.Baselines {
			cfg.Trigger.Baselines[models.ModelType(name)] = v
		}
	}

	d := p.Decision
	if d.PrimaryMetric != "" {
		cfg.Decision.PrimaryMetric = d.PrimaryMetric
	}
	if d.ImprovementThreshold != nil {
		cfg.Decision.ImprovementThreshold = *d.ImprovementThreshold
	}
	if d.DegradationThreshold != nil {
		cfg.Decision.DegradationThreshold = *d.DegradationThreshold
	}
	if d.QualityFloor != nil {
		cfg.Decision.QualityFloor = *d.QualityFloor
	}
	if d.MinSampleSize != nil {
		cfg.Decision.MinSampleSize = *d.MinSampleSize
	}

	if p.Registry.KeepVersions != nil {
		cfg.Registry.KeepVersions = *p.Registry.KeepVersions
	}
}

func parseDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}
