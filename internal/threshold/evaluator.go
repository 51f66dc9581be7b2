// Package threshold scores conversational saturation and decides when an
// interview has extracted enough knowledge to generate training instances.
//
// The core score is deterministic: four capped components summed into an
// overall 0-100 value. An optional advisory pass consults the LLM inside a
// configurable band; whether that pass can override the deterministic
// decision is a config choice, not a code path.
package threshold

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"expertmine/internal/logging"
	"expertmine/internal/types"
)

// Component caps. Overall is always the sum of the four capped components.
const (
	DepthMax      = 30.0
	DiversityMax  = 25.0
	ComplexityMax = 25.0
	RichnessMax   = 20.0
)

// Reference points where each component saturates.
const (
	depthRefAnswerLen  = 200.0  // avg answer chars for full depth
	diversityRefSkills = 5.0    // distinct skills for full diversity
	complexityRefFlows = 3.0    // distinct workflows for full complexity
	richnessRefCtxLen  = 3000.0 // context chars for full richness
)

// AdvisoryMode controls what the LLM advisory pass may do.
type AdvisoryMode string

const (
	// ModeAdvisory logs the recommendation and leaves the deterministic
	// score authoritative. Scoring stays reproducible.
	ModeAdvisory AdvisoryMode = "advisory"
	// ModeAuthoritative lets a "ready" recommendation force generation by
	// lifting the overall score above the threshold.
	ModeAuthoritative AdvisoryMode = "authoritative"
)

// Config holds the evaluator tunables. Hot-reloadable via Update.
type Config struct {
	GenerationThreshold float64
	MaxExchanges        int
	AdvisoryMode        AdvisoryMode
	AdvisoryLow         float64
	AdvisoryHigh        float64
}

// DefaultConfig returns the standard evaluator configuration.
func DefaultConfig() Config {
	return Config{
		GenerationThreshold: 75,
		MaxExchanges:        20,
		AdvisoryMode:        ModeAdvisory,
		AdvisoryLow:         60,
		AdvisoryHigh:        80,
	}
}

// Evaluator computes saturation metrics and the continue-vs-generate decision.
type Evaluator struct {
	mu     sync.RWMutex
	cfg    Config
	client types.LLMClient // only used by the advisory pass; may be nil
}

// NewEvaluator creates an evaluator. client may be nil when the advisory pass
// is not wanted (the deterministic core never touches it).
func NewEvaluator(cfg Config, client types.LLMClient) *Evaluator {
	return &Evaluator{cfg: cfg, client: client}
}

// Update replaces the tunables at runtime (config hot reload).
func (e *Evaluator) Update(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

func (e *Evaluator) config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Compute derives ThresholdMetrics from session state. Pure and deterministic:
// identical exchanges produce identical metrics.
func Compute(session *types.InterviewSession) types.ThresholdMetrics {
	var m types.ThresholdMetrics

	if n := len(session.Exchanges); n > 0 {
		total := 0
		for _, ex := range session.Exchanges {
			total += len(ex.Answer)
		}
		avg := float64(total) / float64(n)
		m.Depth = capAt(DepthMax*avg/depthRefAnswerLen, DepthMax)
	}

	m.Diversity = capAt(DiversityMax*float64(len(session.Skills))/diversityRefSkills, DiversityMax)
	m.Complexity = capAt(ComplexityMax*float64(len(session.Workflows))/complexityRefFlows, ComplexityMax)
	m.Richness = capAt(RichnessMax*float64(len(session.Context))/richnessRefCtxLen, RichnessMax)

	m.Overall = m.Depth + m.Diversity + m.Complexity + m.Richness
	return m
}

func capAt(v, max float64) float64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// Decision is the outcome of one threshold check.
type Decision struct {
	Metrics  types.ThresholdMetrics
	Generate bool
	Reason   string
}

// Evaluate computes metrics for the session and decides whether to proceed to
// instance generation. The hard exchange cap guarantees termination regardless
// of score.
func (e *Evaluator) Evaluate(ctx context.Context, session *types.InterviewSession) (Decision, error) {
	timer := logging.StartTimer(logging.CategoryThreshold, "Evaluate")
	defer timer.Stop()

	cfg := e.config()
	metrics := Compute(session)

	logging.ThresholdDebug("Scored session %s: depth=%.1f diversity=%.1f complexity=%.1f richness=%.1f overall=%.1f",
		session.ID, metrics.Depth, metrics.Diversity, metrics.Complexity, metrics.Richness, metrics.Overall)

	if len(session.Exchanges) >= cfg.MaxExchanges {
		logging.Threshold("Session %s hit exchange cap (%d), forcing generation", session.ID, cfg.MaxExchanges)
		return Decision{
			Metrics:  metrics,
			Generate: true,
			Reason:   fmt.Sprintf("exchange cap reached (%d)", cfg.MaxExchanges),
		}, nil
	}

	if metrics.Overall >= cfg.GenerationThreshold {
		return Decision{
			Metrics:  metrics,
			Generate: true,
			Reason:   fmt.Sprintf("overall score %.1f >= %.1f", metrics.Overall, cfg.GenerationThreshold),
		}, nil
	}

	// Advisory pass inside the configured band.
	if e.client != nil && metrics.Overall >= cfg.AdvisoryLow && metrics.Overall < cfg.AdvisoryHigh {
		ready, err := e.advisoryReady(ctx, session, metrics)
		if err != nil {
			if cfg.AdvisoryMode == ModeAuthoritative {
				return Decision{Metrics: metrics}, types.NewEngineError(
					types.KindGenerationFailure, err, "advisory threshold check failed")
			}
			// Logged-only mode: the advisory pass may fail without
			// affecting the round.
			logging.Get(logging.CategoryThreshold).Warn("Advisory pass failed (ignored): %v", err)
		} else if ready {
			if cfg.AdvisoryMode == ModeAuthoritative {
				metrics.Overall = cfg.GenerationThreshold
				metrics.AdvisoryOverride = true
				logging.Threshold("Advisory override: session %s forced ready at band score", session.ID)
				return Decision{
					Metrics:  metrics,
					Generate: true,
					Reason:   "advisory recommendation: ready",
				}, nil
			}
			logging.Threshold("Advisory recommends ready for session %s (logged only, score %.1f rules)",
				session.ID, metrics.Overall)
		}
	}

	return Decision{
		Metrics: metrics,
		Reason:  fmt.Sprintf("overall score %.1f below %.1f", metrics.Overall, cfg.GenerationThreshold),
	}, nil
}

// advisoryReady asks the provider whether the accumulated conversation has
// saturated. Only consulted inside the band.
func (e *Evaluator) advisoryReady(ctx context.Context, session *types.InterviewSession, m types.ThresholdMetrics) (bool, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "An expert interview has accumulated %d exchanges, %d distinct skills, and %d workflows.\n",
		len(session.Exchanges), len(session.Skills), len(session.Workflows))
	fmt.Fprintf(&sb, "Deterministic saturation score: %.1f/100.\n\n", m.Overall)
	sb.WriteString("Recent exchanges:\n")
	for _, ex := range session.RecentExchanges(3) {
		fmt.Fprintf(&sb, "Q: %s\nA: %s\n\n", ex.Question, truncate(ex.Answer, 400))
	}
	sb.WriteString("Has this interview extracted enough depth to produce high-quality training instances? Answer with exactly one word: READY or CONTINUE.")

	resp, err := e.client.CompleteWithSystem(ctx,
		"You judge whether a knowledge-extraction interview has saturated.",
		sb.String())
	if err != nil {
		return false, err
	}

	return strings.Contains(strings.ToUpper(resp), "READY") &&
		!strings.Contains(strings.ToUpper(resp), "CONTINUE"), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
