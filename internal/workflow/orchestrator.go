package workflow

import (
	"context"
	"fmt"
	"time"

	"expertmine/internal/compaction"
	"expertmine/internal/generation"
	"expertmine/internal/interview"
	"expertmine/internal/logging"
	"expertmine/internal/threshold"
	"expertmine/internal/types"
)

// Orchestrator advances sessions through the state machine. One ProcessAnswer
// call handles exactly one round; between calls the session sits in INTERVIEW
// waiting for the expert's next answer.
type Orchestrator struct {
	node      *interview.Node
	evaluator *threshold.Evaluator
	generator *generation.Generator
	compactor *compaction.Compactor
	merger    Merger
	writer    types.SessionWriter
}

// Merger folds a session into the owner's global context.
type Merger interface {
	Merge(ctx context.Context, session *types.InterviewSession) error
}

// NewOrchestrator wires the round pipeline.
func NewOrchestrator(node *interview.Node, evaluator *threshold.Evaluator, generator *generation.Generator,
	compactor *compaction.Compactor, merger Merger, writer types.SessionWriter) *Orchestrator {
	return &Orchestrator{
		node:      node,
		evaluator: evaluator,
		generator: generator,
		compactor: compactor,
		merger:    merger,
		writer:    writer,
	}
}

// RoundResult is the outcome of one ProcessAnswer invocation.
type RoundResult struct {
	Completed    bool
	NextQuestion string
	Metrics      types.ThresholdMetrics
	NewSkills    []string
	NewWorkflows []string
	Instances    []types.GeneratedInstance
}

// ProcessAnswer advances the session one round. Any failure moves the session
// to the terminal error status with the failure message preserved verbatim,
// and the error is returned to the caller.
func (o *Orchestrator) ProcessAnswer(ctx context.Context, session *types.InterviewSession, answer string) (*RoundResult, error) {
	if session.Status != types.StatusActive {
		return nil, fmt.Errorf("session %s is %s, not active", session.ID, session.Status)
	}

	timer := logging.StartTimer(logging.CategorySession, "ProcessAnswer")
	defer timer.Stop()

	state := StateInterview

	// INTERVIEW: record the round. Answer analysis is best-effort and cannot
	// fail the round.
	clean := interview.SanitizeAnswer(answer)
	analysis := o.node.AnalyzeAnswer(ctx, session.PendingQuestion, clean)
	session.AddExchange(types.Exchange{
		Question:  session.PendingQuestion,
		Answer:    clean,
		Timestamp: time.Now(),
		Skills:    analysis.Skills,
		Workflows: analysis.Workflows,
	})
	o.appendContext(session, clean)

	state = o.advance(session, state, StateThresholdCheck)
	decision, err := o.evaluator.Evaluate(ctx, session)
	if err != nil {
		return nil, o.fail(ctx, session, state, err)
	}
	session.Metrics = decision.Metrics

	result := &RoundResult{
		Metrics:      decision.Metrics,
		NewSkills:    analysis.Skills,
		NewWorkflows: analysis.Workflows,
	}

	if decision.Generate {
		state = o.advance(session, state, StateGenerateInstances)
		logging.Session("Session %s crossed threshold: %s", session.ID, decision.Reason)

		instances, err := o.generator.Generate(ctx, session)
		if err != nil {
			return nil, o.fail(ctx, session, state, err)
		}

		state = o.advance(session, state, StateContextUpdate)
		if err := o.updateContext(ctx, session); err != nil {
			return nil, o.fail(ctx, session, state, err)
		}

		session.Status = types.StatusCompleted
		if err := o.writer.SaveSession(ctx, session); err != nil {
			session.Status = types.StatusActive
			return nil, o.fail(ctx, session, state, err)
		}
		o.advance(session, state, StateComplete)

		result.Completed = true
		result.Instances = instances
		return result, nil
	}

	// Continue interviewing: produce the next question, then fold the round
	// into the global context before waiting on the expert again.
	state = o.advance(session, state, StateInterview)
	question, err := o.node.NextQuestion(ctx, session)
	if err != nil {
		return nil, o.fail(ctx, session, state, err)
	}
	session.PendingQuestion = question

	state = o.advance(session, state, StateContextUpdate)
	if err := o.updateContext(ctx, session); err != nil {
		return nil, o.fail(ctx, session, state, err)
	}
	if err := o.writer.SaveSession(ctx, session); err != nil {
		return nil, o.fail(ctx, session, state, err)
	}
	o.advance(session, state, StateInterview)

	result.NextQuestion = question
	return result, nil
}

// FirstQuestion produces the opening question for a freshly admitted session
// and persists the initial snapshot.
func (o *Orchestrator) FirstQuestion(ctx context.Context, session *types.InterviewSession) (string, error) {
	question, err := o.node.NextQuestion(ctx, session)
	if err != nil {
		return "", o.fail(ctx, session, StateInterview, err)
	}
	session.PendingQuestion = question
	if err := o.writer.SaveSession(ctx, session); err != nil {
		return "", o.fail(ctx, session, StateInterview, err)
	}
	return question, nil
}

// updateContext compacts the session context if oversized and merges the
// session into the owner's global context.
func (o *Orchestrator) updateContext(ctx context.Context, session *types.InterviewSession) error {
	if _, err := o.compactor.MaybeCompact(ctx, session); err != nil {
		return err
	}
	return o.merger.Merge(ctx, session)
}

// appendContext folds the round's answer into the session narrative. The
// compactor keeps this bounded.
func (o *Orchestrator) appendContext(session *types.InterviewSession, answer string) {
	if session.Context != "" {
		session.Context += "\n\n"
	}
	session.Context += answer
}

// advance asserts the edge is legal and returns the new state. An illegal
// edge is a programming error, not a runtime condition.
func (o *Orchestrator) advance(session *types.InterviewSession, from, to State) State {
	if !CanTransition(from, to) {
		panic(fmt.Sprintf("workflow: illegal transition %s -> %s (session %s)", from, to, session.ID))
	}
	logging.SessionDebug("Session %s: %s -> %s", session.ID, from, to)
	return to
}

// fail moves the session to the terminal error status, preserving the failure
// message verbatim, and persists it best-effort.
func (o *Orchestrator) fail(ctx context.Context, session *types.InterviewSession, from State, err error) error {
	o.advance(session, from, StateError)
	session.Status = types.StatusError
	session.LastError = err.Error()

	if saveErr := o.writer.SaveSession(ctx, session); saveErr != nil {
		logging.Get(logging.CategorySession).Error("Failed to persist error state for session %s: %v",
			session.ID, saveErr)
	}

	logging.Get(logging.CategorySession).Error("Session %s failed: %v", session.ID, err)
	return err
}
