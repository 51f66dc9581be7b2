// Package engine is the public facade of the interview workflow: session
// start, answer submission, and session close, expressed as request/response
// contracts for a transport layer to expose.
package engine

import (
	"context"
	"fmt"
	"sync"

	"expertmine/internal/logging"
	"expertmine/internal/session"
	"expertmine/internal/types"
	"expertmine/internal/workflow"
)

// Engine coordinates admission, round processing, and teardown.
type Engine struct {
	registry     *session.Registry
	orchestrator *workflow.Orchestrator
	merger       workflow.Merger
	writer       types.SessionWriter

	mu     sync.Mutex
	rounds map[string]*sync.Mutex
}

// New creates an engine.
func New(registry *session.Registry, orchestrator *workflow.Orchestrator, merger workflow.Merger, writer types.SessionWriter) *Engine {
	return &Engine{
		registry:     registry,
		orchestrator: orchestrator,
		merger:       merger,
		writer:       writer,
		rounds:       make(map[string]*sync.Mutex),
	}
}

// roundLock returns the mutex serializing rounds and closes for one session.
// A close issued mid-round blocks on it until the round boundary.
func (e *Engine) roundLock(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.rounds[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		e.rounds[sessionID] = lock
	}
	return lock
}

// releaseSession frees the admission slot and drops the round lock entry.
func (e *Engine) releaseSession(sessionID string) {
	e.registry.Remove(sessionID)
	e.mu.Lock()
	delete(e.rounds, sessionID)
	e.mu.Unlock()
}

// StartSession admits a new session for (user, tab) and returns the opening
// question. Admission failures surface as AdmissionRejected.
func (e *Engine) StartSession(ctx context.Context, req types.StartSessionRequest) (*types.StartSessionResponse, error) {
	if req.UserID == "" || req.TabID == "" {
		return nil, fmt.Errorf("user_id and tab_id are required")
	}

	sess, err := e.registry.Admit(ctx, req.UserID, req.TabID)
	if err != nil {
		return nil, err
	}

	question, err := e.orchestrator.FirstQuestion(ctx, sess)
	if err != nil {
		// The slot must not leak when the opening question fails.
		e.releaseSession(sess.ID)
		return nil, err
	}

	return &types.StartSessionResponse{
		SessionID:              sess.ID,
		Question:               question,
		Progress:               progressOf(sess),
		ContextSnapshotSummary: snapshotSummary(sess),
	}, nil
}

// SubmitAnswer advances a session one round. On completion or failure the
// session's admission slot is released; the global-context merge has already
// happened inside the round pipeline by then.
func (e *Engine) SubmitAnswer(ctx context.Context, req types.SubmitAnswerRequest) (*types.SubmitAnswerResponse, error) {
	lock := e.roundLock(req.SessionID)
	lock.Lock()
	defer lock.Unlock()

	// Looked up under the round lock: a close that won the race has already
	// removed the session by the time we get here.
	sess := e.registry.Get(req.SessionID)
	if sess == nil {
		// Drop the entry again so unknown IDs cannot grow the lock map.
		e.releaseSession(req.SessionID)
		return nil, fmt.Errorf("no active session %s", req.SessionID)
	}
	if sess.UserID != req.UserID || sess.TabID != req.TabID {
		return nil, fmt.Errorf("session %s does not belong to user %s tab %s",
			req.SessionID, req.UserID, req.TabID)
	}

	result, err := e.orchestrator.ProcessAnswer(ctx, sess, req.Answer)
	if err != nil {
		e.releaseSession(sess.ID)
		return nil, err
	}

	resp := &types.SubmitAnswerResponse{
		Progress:     progressOf(sess),
		Metrics:      result.Metrics,
		NewSkills:    result.NewSkills,
		NewWorkflows: result.NewWorkflows,
	}

	if result.Completed {
		e.releaseSession(sess.ID)
		resp.IsComplete = true
		resp.InstancesGenerated = len(result.Instances)
		resp.Instances = result.Instances
		resp.SessionSummary = sessionSummary(sess)
		return resp, nil
	}

	resp.NextQuestion = result.NextQuestion
	return resp, nil
}

// CloseSession ends a session between rounds. Whatever state exists is merged
// into the owner's global context before the slot is released. The round lock
// is taken first, so a close issued while an answer is in flight waits for
// that round to finish.
func (e *Engine) CloseSession(ctx context.Context, req types.CloseSessionRequest) error {
	lock := e.roundLock(req.SessionID)
	lock.Lock()
	defer lock.Unlock()

	sess := e.registry.Get(req.SessionID)
	if sess == nil {
		e.releaseSession(req.SessionID)
		return fmt.Errorf("no active session %s", req.SessionID)
	}
	if sess.UserID != req.UserID || sess.TabID != req.TabID {
		return fmt.Errorf("session %s does not belong to user %s tab %s",
			req.SessionID, req.UserID, req.TabID)
	}

	if err := e.merger.Merge(ctx, sess); err != nil {
		return err
	}

	sess.Status = types.StatusCompleted
	if err := e.writer.SaveSession(ctx, sess); err != nil {
		return err
	}

	e.releaseSession(sess.ID)
	logging.Session("Closed session %s for user %s after %d exchanges",
		sess.ID, sess.UserID, len(sess.Exchanges))
	return nil
}

func progressOf(sess *types.InterviewSession) types.Progress {
	return types.Progress{
		ExchangeCount: len(sess.Exchanges),
		OverallScore:  sess.Metrics.Overall,
		SkillCount:    len(sess.Skills),
		WorkflowCount: len(sess.Workflows),
	}
}

func snapshotSummary(sess *types.InterviewSession) string {
	if sess.Context == "" && len(sess.Skills) == 0 {
		return "new expert, no prior context"
	}
	return fmt.Sprintf("seeded with %d skills, %d workflows, %d chars of prior context",
		len(sess.Skills), len(sess.Workflows), len(sess.Context))
}

func sessionSummary(sess *types.InterviewSession) string {
	return fmt.Sprintf("%d exchanges, %d skills, %d workflows, final score %.1f",
		len(sess.Exchanges), len(sess.Skills), len(sess.Workflows), sess.Metrics.Overall)
}
