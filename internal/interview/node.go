// Package interview produces the next question of a knowledge-extraction
// interview and analyzes submitted answers for skills and workflows.
package interview

import (
	"context"
	"fmt"
	"strings"

	"expertmine/internal/logging"
	"expertmine/internal/types"
)

// Focus-area heuristics: under-covered dimensions steer the next question.
// Best-effort topic avoidance, not exact dedup.
const (
	minSkillsBeforeRefocus    = 3
	minWorkflowsBeforeRefocus = 2
	minExchangesBeforeRefocus = 3
)

// Node generates interview questions from session state.
type Node struct {
	client types.LLMClient
}

// NewNode creates an interview node backed by the given provider.
func NewNode(client types.LLMClient) *Node {
	return &Node{client: client}
}

// FocusAreas computes the under-covered areas for a session. Empty result
// means coverage is balanced and the provider picks freely.
func FocusAreas(session *types.InterviewSession) []string {
	var areas []string
	if len(session.Skills) < minSkillsBeforeRefocus {
		areas = append(areas, "technical skills")
	}
	if len(session.Workflows) < minWorkflowsBeforeRefocus {
		areas = append(areas, "processes")
	}
	if len(session.Exchanges) < minExchangesBeforeRefocus {
		areas = append(areas, "concrete examples")
	}
	return areas
}

// NextQuestion produces the next interview question. Provider failure is
// surfaced verbatim; there is no local retry.
func (n *Node) NextQuestion(ctx context.Context, session *types.InterviewSession) (string, error) {
	timer := logging.StartTimer(logging.CategoryInterview, "NextQuestion")
	defer timer.Stop()

	prompt := buildQuestionPrompt(session)

	question, err := n.client.CompleteWithSystem(ctx,
		"You are an expert interviewer extracting sellable professional knowledge. Ask one open-ended question at a time. Never repeat a topic already covered.",
		prompt)
	if err != nil {
		return "", types.NewEngineError(types.KindGenerationFailure, err,
			"question generation failed for session %s", session.ID)
	}

	question = strings.TrimSpace(question)
	if question == "" {
		return "", types.NewEngineError(types.KindGenerationFailure, nil,
			"provider returned empty question for session %s", session.ID)
	}

	logging.InterviewDebug("Generated question for session %s (exchange %d): %s",
		session.ID, len(session.Exchanges)+1, truncate(question, 120))
	return question, nil
}

func buildQuestionPrompt(session *types.InterviewSession) string {
	var sb strings.Builder

	sb.WriteString("You are interviewing a professional to extract their expertise into a structured dataset.\n\n")

	if session.Context != "" {
		fmt.Fprintf(&sb, "What we know about them so far:\n%s\n\n", truncate(session.Context, 2000))
	}

	if skills := session.SkillList(); len(skills) > 0 {
		fmt.Fprintf(&sb, "Skills already identified: %s\n", strings.Join(skills, ", "))
	}
	if workflows := session.WorkflowList(); len(workflows) > 0 {
		fmt.Fprintf(&sb, "Workflows already identified: %s\n", strings.Join(workflows, ", "))
	}

	if recent := session.RecentExchanges(3); len(recent) > 0 {
		sb.WriteString("\nMost recent exchanges:\n")
		for _, ex := range recent {
			fmt.Fprintf(&sb, "Q: %s\nA: %s\n\n", ex.Question, truncate(ex.Answer, 500))
		}
	}

	if areas := FocusAreas(session); len(areas) > 0 {
		fmt.Fprintf(&sb, "Under-covered areas to steer toward: %s\n", strings.Join(areas, ", "))
	}

	sb.WriteString("\nAsk exactly one open-ended question that digs deeper into their expertise. Do not re-ask about topics already covered above. Return only the question text.")
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
