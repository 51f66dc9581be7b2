// Package generation converts a saturated interview session into structured
// training instances. Generation is quota-gated: the user's allowance is
// checked and consumed before any provider tokens are spent.
package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"expertmine/internal/logging"
	"expertmine/internal/types"
)

// Config holds the generator tunables.
type Config struct {
	// InstanceTarget is how many instances to request per generation.
	InstanceTarget int
	// ParseRetries is how many extra provider calls a malformed response
	// earns before the session fails with a parse error.
	ParseRetries int
}

// DefaultConfig returns the standard generator configuration.
func DefaultConfig() Config {
	return Config{
		InstanceTarget: 10,
		ParseRetries:   2,
	}
}

// Refunder is optionally implemented by quota services that can return
// unused allowance when generation yields fewer instances than consumed.
type Refunder interface {
	Refund(userID string, n int)
}

// Generator produces, validates, scores, and persists training instances.
type Generator struct {
	cfg     Config
	client  types.LLMClient
	quota   types.QuotaService
	writer  types.SessionWriter
	indexer types.InstanceIndexer // may be nil when embedding is disabled
}

// NewGenerator creates a generator.
func NewGenerator(cfg Config, client types.LLMClient, quota types.QuotaService, writer types.SessionWriter, indexer types.InstanceIndexer) *Generator {
	if cfg.InstanceTarget <= 0 {
		cfg.InstanceTarget = 10
	}
	return &Generator{cfg: cfg, client: client, quota: quota, writer: writer, indexer: indexer}
}

// Generate runs the full pipeline for one session: quota gate, provider call
// with bounded parse retries, validation, scoring, persistence, and async
// embedding dispatch. On success the instances are attached to the session.
func (g *Generator) Generate(ctx context.Context, session *types.InterviewSession) ([]types.GeneratedInstance, error) {
	timer := logging.StartTimer(logging.CategoryGeneration, "Generate")
	defer timer.Stop()

	target := g.cfg.InstanceTarget

	// Quota first. A refused generation must cost the user nothing, neither
	// allowance nor provider tokens.
	decision, err := g.quota.CheckAndConsume(ctx, session.UserID, target)
	if err != nil {
		return nil, types.NewEngineError(types.KindGenerationFailure, err,
			"quota check failed for user %s", session.UserID)
	}
	if !decision.Allowed {
		return nil, types.NewEngineError(types.KindQuotaExceeded, nil,
			"user %s quota exhausted: %d instances remaining, %d requested",
			session.UserID, decision.Remaining, target)
	}

	instances, err := g.generateWithRetry(ctx, session, target)
	if err != nil {
		g.refund(session.UserID, target)
		return nil, err
	}

	// Fewer valid instances than consumed allowance: return the difference.
	if len(instances) < target {
		g.refund(session.UserID, target-len(instances))
	}

	for i := range instances {
		instances[i].ID = uuid.NewString()
		instances[i].SessionID = session.ID
		instances[i].CreatedAt = time.Now()
		instances[i].QualityScore = scoreQuality(instances[i])
		instances[i].Skills, instances[i].Workflows = provenance(instances[i], session)
	}

	if err := g.writer.SaveInstances(ctx, instances); err != nil {
		g.refund(session.UserID, len(instances))
		return nil, err
	}

	session.Instances = instances
	session.GenerationReady = true

	if g.indexer != nil {
		g.indexer.SubmitBatch(instances)
	}

	logging.Generation("Generated %d instances for session %s (quota remaining %d)",
		len(instances), session.ID, decision.Remaining)
	return instances, nil
}

func (g *Generator) refund(userID string, n int) {
	if r, ok := g.quota.(Refunder); ok {
		r.Refund(userID, n)
	}
}

// generateWithRetry calls the provider, retrying only on malformed output.
// A transport or provider error fails immediately; retries exist for the
// model occasionally wrapping JSON in prose, not for availability problems.
func (g *Generator) generateWithRetry(ctx context.Context, session *types.InterviewSession, target int) ([]types.GeneratedInstance, error) {
	prompt := buildGenerationPrompt(session, target)

	attempts := g.cfg.ParseRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := g.client.CompleteWithSystem(ctx,
			"You convert expert interview transcripts into training datasets. Respond with a JSON array only.",
			prompt)
		if err != nil {
			return nil, types.NewEngineError(types.KindGenerationFailure, err,
				"instance generation failed for session %s", session.ID)
		}

		candidates, parseErr := parseInstances(resp)
		if parseErr != nil {
			logging.GenerationDebug("Parse attempt %d/%d failed for session %s: %v",
				attempt, attempts, session.ID, parseErr)
			continue
		}

		valid, dropped := validateInstances(candidates)
		if len(valid) == 0 {
			logging.GenerationDebug("Attempt %d/%d produced no valid instances for session %s (%d dropped)",
				attempt, attempts, session.ID, dropped)
			continue
		}
		if dropped > 0 {
			logging.Generation("Dropped %d invalid instances for session %s", dropped, session.ID)
		}
		if len(valid) > target {
			valid = valid[:target]
		}
		return valid, nil
	}

	return nil, types.NewEngineError(types.KindParseFailure, nil,
		"no valid instances after %d attempts for session %s", attempts, session.ID)
}

func buildGenerationPrompt(session *types.InterviewSession, target int) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Produce exactly %d question/answer training instances from this expert interview.\n\n", target)

	if session.Context != "" {
		fmt.Fprintf(&sb, "Expert context:\n%s\n\n", truncate(session.Context, 4000))
	}
	if skills := session.SkillList(); len(skills) > 0 {
		fmt.Fprintf(&sb, "Skills covered: %s\n", strings.Join(skills, ", "))
	}
	if workflows := session.WorkflowList(); len(workflows) > 0 {
		fmt.Fprintf(&sb, "Workflows covered: %s\n", strings.Join(workflows, ", "))
	}

	sb.WriteString("\nInterview transcript:\n")
	for _, ex := range session.Exchanges {
		fmt.Fprintf(&sb, "Q: %s\nA: %s\n\n", ex.Question, truncate(ex.Answer, 1500))
	}

	sb.WriteString(`Each instance must be a self-contained Q/A pair a practitioner could learn from, grounded in the transcript. Substantive questions, detailed answers.
Return a JSON array of objects with this shape:
[{"question": "...", "answer": "...", "tags": ["..."], "category": "...", "difficulty": "beginner|intermediate|advanced", "confidence": 0.0}]
Return only the JSON array.`)

	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
