// Package compaction compresses a session's accumulated free-text context
// when it exceeds a size budget, while preserving extracted skills and
// workflows verbatim.
package compaction

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"expertmine/internal/logging"
	"expertmine/internal/types"
)

// Config holds the compaction tunables.
type Config struct {
	// Budget is the context length (chars) above which compaction triggers.
	Budget int
	// Target is the desired compacted length as a fraction of the original.
	Target float64
}

// DefaultConfig returns the standard compaction configuration.
func DefaultConfig() Config {
	return Config{
		Budget: 12000,
		Target: 0.70,
	}
}

// Compactor compresses session context via the generation provider.
type Compactor struct {
	mu     sync.RWMutex
	cfg    Config
	client types.LLMClient
}

// NewCompactor creates a compactor.
func NewCompactor(cfg Config, client types.LLMClient) *Compactor {
	return &Compactor{cfg: cfg, client: client}
}

// Update replaces the tunables at runtime (config hot reload).
func (c *Compactor) Update(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

func (c *Compactor) config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Result describes one compaction pass.
type Result struct {
	Compacted    bool
	OriginalLen  int
	CompactedLen int
	Ratio        float64 // compacted/original, 1.0 when skipped
	Preserved    int     // entities verified or re-appended
}

// MaybeCompact compresses the session context if it exceeds the budget. The
// narrative body is summarized; the skill and workflow sets extracted from
// the result must equal the pre-compaction sets, so any entity the summary
// dropped is re-appended in a preserved-entities ledger.
func (c *Compactor) MaybeCompact(ctx context.Context, session *types.InterviewSession) (Result, error) {
	cfg := c.config()

	original := session.Context
	if len(original) <= cfg.Budget {
		return Result{Ratio: 1.0, OriginalLen: len(original), CompactedLen: len(original)}, nil
	}

	timer := logging.StartTimer(logging.CategoryCompaction, "MaybeCompact")
	defer timer.Stop()

	skills := session.SkillList()
	workflows := session.WorkflowList()

	compacted, err := c.compress(ctx, original, skills, workflows, cfg)
	if err != nil {
		return Result{}, types.NewEngineError(types.KindGenerationFailure, err,
			"context compaction failed for session %s", session.ID)
	}

	// Enforce the postcondition deterministically: every entity must remain
	// verbatim-identifiable in the compacted text.
	compacted, restored := ensureEntities(compacted, skills, workflows)

	session.Context = compacted

	ratio := 1.0
	if len(original) > 0 {
		ratio = float64(len(compacted)) / float64(len(original))
	}

	logging.Compaction("Compacted session %s context: %d -> %d chars (ratio %.2f), %d skills + %d workflows preserved (%d re-appended)",
		session.ID, len(original), len(compacted), ratio, len(skills), len(workflows), restored)

	return Result{
		Compacted:    true,
		OriginalLen:  len(original),
		CompactedLen: len(compacted),
		Ratio:        ratio,
		Preserved:    len(skills) + len(workflows),
	}, nil
}

func (c *Compactor) compress(ctx context.Context, text string, skills, workflows []string, cfg Config) (string, error) {
	targetLen := int(float64(len(text)) * cfg.Target)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Compress the following interview context to roughly %d characters (about %.0f%% of its current size).\n\n",
		targetLen, cfg.Target*100)
	sb.WriteString("These terms MUST appear verbatim in your output, exactly as written:\n")
	if len(skills) > 0 {
		fmt.Fprintf(&sb, "Skills: %s\n", strings.Join(skills, ", "))
	}
	if len(workflows) > 0 {
		fmt.Fprintf(&sb, "Workflows: %s\n", strings.Join(workflows, ", "))
	}
	sb.WriteString("\nSummarize the narrative, merge redundant passages, keep concrete facts and examples.\n\nContext:\n")
	sb.WriteString(text)

	out, err := c.client.CompleteWithSystem(ctx,
		"You compress interview context without losing named skills or workflows.",
		sb.String())
	if err != nil {
		return "", err
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("provider returned empty compaction output")
	}
	return out, nil
}

// ensureEntities re-appends any entity missing from the compacted text and
// returns the possibly amended text plus the number restored.
func ensureEntities(text string, skills, workflows []string) (string, int) {
	missingSkills := missingFrom(text, skills)
	missingWorkflows := missingFrom(text, workflows)
	restored := len(missingSkills) + len(missingWorkflows)
	if restored == 0 {
		return text, 0
	}

	var sb strings.Builder
	sb.WriteString(text)
	sb.WriteString("\n\nKey entities:")
	if len(missingSkills) > 0 {
		sb.WriteString("\nSkills: " + strings.Join(missingSkills, ", "))
	}
	if len(missingWorkflows) > 0 {
		sb.WriteString("\nWorkflows: " + strings.Join(missingWorkflows, ", "))
	}
	return sb.String(), restored
}

func missingFrom(text string, entities []string) []string {
	var missing []string
	for _, e := range entities {
		if !strings.Contains(text, e) {
			missing = append(missing, e)
		}
	}
	return missing
}

// ContainsAll reports whether every entity appears verbatim in text. Exposed
// for postcondition checks in callers and tests.
func ContainsAll(text string, entities []string) bool {
	return len(missingFrom(text, entities)) == 0
}
