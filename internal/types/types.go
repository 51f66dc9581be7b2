// Package types provides shared type definitions used across expertmine packages.
// This package exists to break import cycles between the workflow, session, and
// generation layers. Types here are foundational data structures with no complex
// dependencies.
package types

import (
	"sort"
	"time"
)

// =============================================================================
// SESSION TYPES
// =============================================================================

// SessionStatus describes the lifecycle state of an interview session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusError     SessionStatus = "error"
)

// Exchange is one completed interview round: a question, the expert's answer,
// and whatever was extracted from that answer.
type Exchange struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
	Skills    []string  `json:"skills,omitempty"`
	Workflows []string  `json:"workflows,omitempty"`
}

// InterviewSession holds the full state of one interview, keyed by (user, tab).
// The exchange list is append-only; the skill and workflow sets only grow.
type InterviewSession struct {
	ID              string              `json:"id"`
	UserID          string              `json:"user_id"`
	TabID           string              `json:"tab_id"`
	Exchanges       []Exchange          `json:"exchanges"`
	PendingQuestion string              `json:"pending_question"`
	Skills          map[string]bool     `json:"skills"`
	Workflows       map[string]bool     `json:"workflows"`
	Metrics         ThresholdMetrics    `json:"metrics"`
	GenerationReady bool                `json:"generation_ready"`
	Instances       []GeneratedInstance `json:"instances,omitempty"`
	Context         string              `json:"context"`
	Status          SessionStatus       `json:"status"`
	LastError       string              `json:"last_error,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// AddExchange appends a completed round and unions its extracted entities into
// the session's cumulative sets.
func (s *InterviewSession) AddExchange(ex Exchange) {
	s.Exchanges = append(s.Exchanges, ex)
	if s.Skills == nil {
		s.Skills = make(map[string]bool)
	}
	if s.Workflows == nil {
		s.Workflows = make(map[string]bool)
	}
	for _, sk := range ex.Skills {
		s.Skills[sk] = true
	}
	for _, wf := range ex.Workflows {
		s.Workflows[wf] = true
	}
	s.UpdatedAt = ex.Timestamp
}

// SkillList returns the cumulative skill set as a sorted-stable slice copy.
func (s *InterviewSession) SkillList() []string {
	return setToSlice(s.Skills)
}

// WorkflowList returns the cumulative workflow set as a slice copy.
func (s *InterviewSession) WorkflowList() []string {
	return setToSlice(s.Workflows)
}

// RecentExchanges returns up to n of the most recent exchanges.
func (s *InterviewSession) RecentExchanges(n int) []Exchange {
	if n <= 0 || len(s.Exchanges) == 0 {
		return nil
	}
	if len(s.Exchanges) <= n {
		out := make([]Exchange, len(s.Exchanges))
		copy(out, s.Exchanges)
		return out
	}
	out := make([]Exchange, n)
	copy(out, s.Exchanges[len(s.Exchanges)-n:])
	return out
}

// GlobalContext is the per-user, cross-session knowledge snapshot. It is seeded
// into new sessions and folded back on every session update and close.
type GlobalContext struct {
	UserID        string          `json:"user_id"`
	Context       string          `json:"context"`
	Skills        map[string]bool `json:"skills"`
	Workflows     map[string]bool `json:"workflows"`
	LastSessionID string          `json:"last_session_id,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Snapshot returns a deep copy safe to hand to a new session. Sibling sessions
// must not observe later mutations through the copy.
func (g *GlobalContext) Snapshot() GlobalContext {
	cp := GlobalContext{
		UserID:        g.UserID,
		Context:       g.Context,
		LastSessionID: g.LastSessionID,
		UpdatedAt:     g.UpdatedAt,
		Skills:        make(map[string]bool, len(g.Skills)),
		Workflows:     make(map[string]bool, len(g.Workflows)),
	}
	for k := range g.Skills {
		cp.Skills[k] = true
	}
	for k := range g.Workflows {
		cp.Workflows[k] = true
	}
	return cp
}

// =============================================================================
// SCORING TYPES
// =============================================================================

// ThresholdMetrics is the saturation score recomputed every round from the
// session's exchanges. Overall is the sum of the four capped components.
type ThresholdMetrics struct {
	Depth      float64 `json:"depth"`      // 0-30, answer length
	Diversity  float64 `json:"diversity"`  // 0-25, distinct skills
	Complexity float64 `json:"complexity"` // 0-25, distinct workflows
	Richness   float64 `json:"richness"`   // 0-20, context length
	Overall    float64 `json:"overall"`    // 0-100

	// AdvisoryOverride is set when the advisory pass forced Overall above the
	// generation threshold. Kept for audit; not part of the deterministic core.
	AdvisoryOverride bool `json:"advisory_override,omitempty"`
}

// =============================================================================
// INSTANCE TYPES
// =============================================================================

// GeneratedInstance is one structured training record produced from a saturated
// session. Immutable once produced.
type GeneratedInstance struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	Question     string    `json:"question"`
	Answer       string    `json:"answer"`
	Tags         []string  `json:"tags"`
	Category     string    `json:"category,omitempty"`
	Difficulty   string    `json:"difficulty,omitempty"`
	Confidence   float64   `json:"confidence,omitempty"`
	QualityScore float64   `json:"quality_score"`       // 0-100
	Skills       []string  `json:"skills,omitempty"`    // session skills the text references
	Workflows    []string  `json:"workflows,omitempty"` // session workflows the text references
	CreatedAt    time.Time `json:"created_at"`
}

// =============================================================================
// ENGINE REQUEST/RESPONSE CONTRACTS
// =============================================================================

// StartSessionRequest opens a new interview session for one browser tab.
type StartSessionRequest struct {
	UserID string `json:"user_id"`
	TabID  string `json:"tab_id"`
}

// StartSessionResponse carries the first question and a summary of the seeded
// global-context snapshot.
type StartSessionResponse struct {
	SessionID              string   `json:"session_id"`
	Question               string   `json:"question"`
	Progress               Progress `json:"progress"`
	ContextSnapshotSummary string   `json:"context_snapshot_summary"`
}

// SubmitAnswerRequest advances a session by one round.
type SubmitAnswerRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	TabID     string `json:"tab_id"`
	Answer    string `json:"answer"`
}

// SubmitAnswerResponse is either a continue payload (next question) or a
// completion payload (instances), discriminated by IsComplete.
type SubmitAnswerResponse struct {
	IsComplete bool `json:"is_complete"`

	// Continue payload
	NextQuestion string           `json:"next_question,omitempty"`
	Progress     Progress         `json:"progress"`
	Metrics      ThresholdMetrics `json:"threshold_metrics"`
	NewSkills    []string         `json:"new_skills,omitempty"`
	NewWorkflows []string         `json:"new_workflows,omitempty"`

	// Completion payload
	InstancesGenerated int                 `json:"instances_generated,omitempty"`
	Instances          []GeneratedInstance `json:"instances,omitempty"`
	SessionSummary     string              `json:"session_summary,omitempty"`
}

// CloseSessionRequest ends a session between rounds, merging whatever state
// currently exists into the owner's global context.
type CloseSessionRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	TabID     string `json:"tab_id"`
}

// Progress summarizes how far along a session is.
type Progress struct {
	ExchangeCount int     `json:"exchange_count"`
	OverallScore  float64 `json:"overall_score"`
	SkillCount    int     `json:"skill_count"`
	WorkflowCount int     `json:"workflow_count"`
}

// setToSlice returns the set members sorted, so prompt construction and
// scoring replay are deterministic.
func setToSlice(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
