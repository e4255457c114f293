package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"model-orchestrator/core/models"
)

// Config holds the application configuration
type Config struct {
	// Database; empty keeps job history and the registry in memory
	DatabaseURL string

	// Redis; empty keeps performance history and trigger status in memory
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Server
	ServerPort string

	// Logging
	LogMode  string // production | development
	LogLevel string

	PolicyFile string

	Storage      StorageConfig
	Training     TrainingConfig
	Orchestrator OrchestratorConfig
	Trigger      TriggerConfig
	Decision     DecisionConfig
	Monitor      MonitorConfig
	Registry     RegistryConfig
}

// StorageConfig selects where model binaries are written
type StorageConfig struct {
	Backend   string // local | s3 | gcs
	LocalPath string
	Bucket    string
	AWSRegion string
}

// TrainingConfig selects the training collaborators
type TrainingConfig struct {
	Backend       string // simulated | remote
	RemoteURL     string
	RemoteTimeout time.Duration
	Seed          int64
}

// OrchestratorConfig controls the control loop and the scheduler
type OrchestratorConfig struct {
	TickInterval      time.Duration
	MonitorInterval   time.Duration
	FeedbackInterval  time.Duration
	RetrainInterval   time.Duration
	JobTimeout        time.Duration
	MaxConcurrentJobs int
	AutoDeploy        bool
	ABTesting         bool
	ModelTypes        []models.ModelType
}

// TriggerConfig holds the retraining trigger thresholds
type TriggerConfig struct {
	PerformanceDegradationThreshold float64
	MinNewDataThreshold             int
	Baselines                       map[models.ModelType]float64
}

// DecisionConfig holds the deployment decision thresholds
type DecisionConfig struct {
	PrimaryMetric        string
	ImprovementThreshold float64
	DegradationThreshold float64
	QualityFloor         float64
	MinSampleSize        int
}

// MonitorConfig holds monitoring retention and buffering
type MonitorConfig struct {
	HistoryWindow          time.Duration
	FeedbackFlushThreshold int
}

// RegistryConfig holds artifact retention
type RegistryConfig struct {
	KeepVersions  int
	StoragePrefix string
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		ServerPort: "8080",
		LogMode:    "production",
		LogLevel:   "info",
		Storage: StorageConfig{
			Backend:   "local",
			LocalPath: "./data",
			AWSRegion: "us-east-1",
		},
		Training: TrainingConfig{
			Backend:       "simulated",
			RemoteTimeout: 30 * time.Second,
			Seed:          1,
		},
		Orchestrator: OrchestratorConfig{
			TickInterval:      5 * time.Minute,
			MonitorInterval:   time.Minute,
			FeedbackInterval:  time.Minute,
			RetrainInterval:   7 * 24 * time.Hour,
			JobTimeout:        2 * time.Hour,
			MaxConcurrentJobs: 2,
			AutoDeploy:        true,
			ABTesting:         false,
			ModelTypes:        models.DefaultModelTypes(),
		},
		Trigger: TriggerConfig{
			PerformanceDegradationThreshold: 0.05,
			MinNewDataThreshold:             1000,
			Baselines:                       map[models.ModelType]float64{},
		},
		Decision: DecisionConfig{
			PrimaryMetric:        "accuracy",
			ImprovementThreshold: 0.02,
			DegradationThreshold: 0.01,
			QualityFloor:         0.8,
		},
		Monitor: MonitorConfig{
			HistoryWindow:          30 * 24 * time.Hour,
			FeedbackFlushThreshold: 100,
		},
		Registry: RegistryConfig{
			KeepVersions:  10,
			StoragePrefix: "models",
		},
	}
}

// Load loads configuration from .env, environment variables and the optional policy file
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	d := Default()
	cfg := &Config{
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		ServerPort:    getEnv("SERVER_PORT", d.ServerPort),
		LogMode:       getEnv("LOG_MODE", d.LogMode),
		LogLevel:      getEnv("LOG_LEVEL", d.LogLevel),
		PolicyFile:    getEnv("POLICY_FILE", ""),
		Storage: StorageConfig{
			Backend:   getEnv("STORAGE_BACKEND", d.Storage.Backend),
			LocalPath: getEnv("STORAGE_LOCAL_PATH", d.Storage.LocalPath),
			Bucket:    getEnv("STORAGE_BUCKET", ""),
			AWSRegion: getEnv("AWS_REGION", d.Storage.AWSRegion),
		},
		Training: TrainingConfig{
			Backend:       getEnv("TRAINING_BACKEND", d.Training.Backend),
			RemoteURL:     getEnv("TRAINING_REMOTE_URL", ""),
			RemoteTimeout: getEnvDuration("TRAINING_REMOTE_TIMEOUT", d.Training.RemoteTimeout),
			Seed:          int64(getEnvInt("TRAINING_SEED", int(d.Training.Seed))),
		},
		Orchestrator: OrchestratorConfig{
			TickInterval:      getEnvDuration("TICK_INTERVAL", d.Orchestrator.TickInterval),
			MonitorInterval:   getEnvDuration("MONITOR_INTERVAL", d.Orchestrator.MonitorInterval),
			FeedbackInterval:  getEnvDuration("FEEDBACK_INTERVAL", d.Orchestrator.FeedbackInterval),
			RetrainInterval:   getEnvDuration("RETRAIN_INTERVAL", d.Orchestrator.RetrainInterval),
			JobTimeout:        getEnvDuration("JOB_TIMEOUT", d.Orchestrator.JobTimeout),
			MaxConcurrentJobs: getEnvInt("MAX_CONCURRENT_JOBS", d.Orchestrator.MaxConcurrentJobs),
			AutoDeploy:        getEnvBool("AUTO_DEPLOY", d.Orchestrator.AutoDeploy),
			ABTesting:         getEnvBool("AB_TESTING", d.Orchestrator.ABTesting),
			ModelTypes:        getEnvModelTypes("MODEL_TYPES", d.Orchestrator.ModelTypes),
		},
		Trigger: TriggerConfig{
			PerformanceDegradationThreshold: getEnvFloat("PERFORMANCE_DEGRADATION_THRESHOLD", d.Trigger.PerformanceDegradationThreshold),
			MinNewDataThreshold:             getEnvInt("MIN_NEW_DATA_THRESHOLD", d.Trigger.MinNewDataThreshold),
			Baselines:                       d.Trigger.Baselines,
		},
		Decision: DecisionConfig{
			PrimaryMetric:        getEnv("PRIMARY_METRIC", d.Decision.PrimaryMetric),
			ImprovementThreshold: getEnvFloat("IMPROVEMENT_THRESHOLD", d.Decision.ImprovementThreshold),
			DegradationThreshold: getEnvFloat("DEGRADATION_THRESHOLD", d.Decision.DegradationThreshold),
			QualityFloor:         getEnvFloat("QUALITY_FLOOR", d.Decision.QualityFloor),
			MinSampleSize:        getEnvInt("MIN_SAMPLE_SIZE", d.Decision.MinSampleSize),
		},
		Monitor: MonitorConfig{
			HistoryWindow:          getEnvDuration("HISTORY_WINDOW", d.Monitor.HistoryWindow),
			FeedbackFlushThreshold: getEnvInt("FEEDBACK_FLUSH_THRESHOLD", d.Monitor.FeedbackFlushThreshold),
		},
		Registry: RegistryConfig{
			KeepVersions:  getEnvInt("KEEP_VERSIONS", d.Registry.KeepVersions),
			StoragePrefix: getEnv("STORAGE_PREFIX", d.Registry.StoragePrefix),
		},
	}

	if cfg.PolicyFile != "" {
		policy, err := LoadPolicyFile(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
		policy.Apply(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the orchestrator cannot run with
func (c *Config) Validate() error {
	intervals := map[string]time.Duration{
		"TICK_INTERVAL":     c.Orchestrator.TickInterval,
		"MONITOR_INTERVAL":  c.Orchestrator.MonitorInterval,
		"FEEDBACK_INTERVAL": c.Orchestrator.FeedbackInterval,
		"RETRAIN_INTERVAL":  c.Orchestrator.RetrainInterval,
		"HISTORY_WINDOW":    c.Monitor.HistoryWindow,
	}
	for name, d := range intervals {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.Orchestrator.JobTimeout < 0 {
		return fmt.Errorf("JOB_TIMEOUT must not be negative")
	}
	if c.Orchestrator.MaxConcurrentJobs < 1 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be at least 1, got %d", c.Orchestrator.MaxConcurrentJobs)
	}
	if len(c.Orchestrator.ModelTypes) == 0 {
		return fmt.Errorf("MODEL_TYPES must not be empty")
	}

	unit := map[string]float64{
		"PERFORMANCE_DEGRADATION_THRESHOLD": c.Trigger.PerformanceDegradationThreshold,
		"IMPROVEMENT_THRESHOLD":             c.Decision.ImprovementThreshold,
		"DEGRADATION_THRESHOLD":             c.Decision.DegradationThreshold,
		"QUALITY_FLOOR":                     c.Decision.QualityFloor,
	}
	for name, v := range unit {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0, 1], got %g", name, v)
		}
	}
	if c.Decision.ImprovementThreshold == 0 {
		return fmt.Errorf("IMPROVEMENT_THRESHOLD must be positive")
	}
	if c.Decision.PrimaryMetric == "" {
		return fmt.Errorf("PRIMARY_METRIC must be set")
	}
	if c.Trigger.MinNewDataThreshold < 1 {
		return fmt.Errorf("MIN_NEW_DATA_THRESHOLD must be at least 1")
	}
	if c.Monitor.FeedbackFlushThreshold < 1 {
		return fmt.Errorf("FEEDBACK_FLUSH_THRESHOLD must be at least 1")
	}
	if c.Registry.KeepVersions < 0 {
		return fmt.Errorf("KEEP_VERSIONS must not be negative")
	}

	switch c.Storage.Backend {
	case "local":
	case "s3", "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("STORAGE_BUCKET is required for the %s backend", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend)
	}

	switch c.Training.Backend {
	case "simulated":
	case "remote":
		if c.Training.RemoteURL == "" {
			return fmt.Errorf("TRAINING_REMOTE_URL is required for the remote training backend")
		}
	default:
		return fmt.Errorf("unknown TRAINING_BACKEND %q", c.Training.Backend)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if v, err := time.ParseDuration(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvModelTypes(key string, defaultValue []models.ModelType) []models.ModelType {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []models.ModelType
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, models.ModelType(part))
		}
	}
	return out
}
