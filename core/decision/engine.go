package decision

import (
	"fmt"
	"math"
)

// Verdict is the outcome of a deployment decision
type Verdict string

const (
	VerdictDeploy       Verdict = "deploy"
	VerdictReject       Verdict = "reject"
	VerdictContinueTest Verdict = "continue_test"
)

// Config holds the thresholds of the decision policy
type Config struct {
	PrimaryMetric        string
	ImprovementThreshold float64
	DegradationThreshold float64
	QualityFloor         float64
	// MinSampleSize is the smallest evaluation sample that can justify a deploy; 0 disables the check
	MinSampleSize int
}

// DefaultConfig returns the default thresholds
func DefaultConfig() Config {
	return Config{
		PrimaryMetric:        "accuracy",
		ImprovementThreshold: 0.02,
		DegradationThreshold: 0.01,
		QualityFloor:         0.8,
	}
}

// Input is everything the policy looks at
type Input struct {
	// ChampionMetrics is nil when no model is deployed for the type
	ChampionMetrics  map[string]float64
	CandidateMetrics map[string]float64
	QualityScore     float64
	SampleSize       int
}

// Decision is the verdict with a human readable reason and a confidence in [0,1]
type Decision struct {
	Verdict     Verdict
	Reason      string
	Confidence  float64
	Improvement float64
}

// Engine applies the deployment policy. It has no side effects.
type Engine struct {
	cfg Config
}

// NewEngine creates a decision engine
func NewEngine(cfg Config) *Engine {
	if cfg.PrimaryMetric == "" {
		cfg.PrimaryMetric = DefaultConfig().PrimaryMetric
	}
	return &Engine{cfg: cfg}
}

// Config returns the engine thresholds
func (e *Engine) Config() Config {
	return e.cfg
}

// Decide converts evaluation metrics into a verdict
func (e *Engine) Decide(in Input) Decision {
	// quality floor overrides everything else
	if in.QualityScore < e.cfg.QualityFloor {
		return Decision{
			Verdict:    VerdictReject,
			Reason:     fmt.Sprintf("quality score %.3f below floor %.3f", in.QualityScore, e.cfg.QualityFloor),
			Confidence: 1,
		}
	}

	candidate, ok := in.CandidateMetrics[e.cfg.PrimaryMetric]
	if !ok {
		return Decision{
			Verdict:    VerdictReject,
			Reason:     fmt.Sprintf("candidate is missing primary metric %q", e.cfg.PrimaryMetric),
			Confidence: 1,
		}
	}

	if e.cfg.MinSampleSize > 0 && in.SampleSize < e.cfg.MinSampleSize {
		return Decision{
			Verdict:    VerdictContinueTest,
			Reason:     fmt.Sprintf("evaluation sample %d below minimum %d", in.SampleSize, e.cfg.MinSampleSize),
			Confidence: ratio(float64(in.SampleSize), float64(e.cfg.MinSampleSize)),
		}
	}

	champion, hasChampion := in.ChampionMetrics[e.cfg.PrimaryMetric]
	if !hasChampion {
		return Decision{
			Verdict:     VerdictDeploy,
			Reason:      fmt.Sprintf("no champion %s to compare against; candidate %s %.4f", e.cfg.PrimaryMetric, e.cfg.PrimaryMetric, candidate),
			Confidence:  1,
			Improvement: candidate,
		}
	}

	diff := candidate - champion
	switch {
	case diff > e.cfg.ImprovementThreshold:
		return Decision{
			Verdict:     VerdictDeploy,
			Reason:      fmt.Sprintf("%s improved by %.4f (threshold %.4f)", e.cfg.PrimaryMetric, diff, e.cfg.ImprovementThreshold),
			Confidence:  ratio(diff, e.cfg.ImprovementThreshold),
			Improvement: diff,
		}
	case -diff > e.cfg.DegradationThreshold:
		return Decision{
			Verdict:     VerdictReject,
			Reason:      fmt.Sprintf("%s degraded by %.4f (threshold %.4f)", e.cfg.PrimaryMetric, -diff, e.cfg.DegradationThreshold),
			Confidence:  ratio(-diff, e.cfg.DegradationThreshold),
			Improvement: diff,
		}
	default:
		return Decision{
			Verdict:     VerdictContinueTest,
			Reason:      fmt.Sprintf("%s change %.4f within thresholds; insufficient evidence to promote", e.cfg.PrimaryMetric, diff),
			Confidence:  ratio(math.Max(diff, 0), e.cfg.ImprovementThreshold),
			Improvement: diff,
		}
	}
}

// ratio returns num/den clamped to [0,1]
func ratio(num, den float64) float64 {
	if den <= 0 {
		return 1
	}
	return math.Max(0, math.Min(1, num/den))
}
