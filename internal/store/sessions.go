package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"

	"expertmine/internal/logging"
	"expertmine/internal/types"
)

// SaveSession upserts a full session snapshot. Exchanges, entity sets, and
// metrics are stored as JSON columns; the session row is the unit of recovery.
func (s *Store) SaveSession(ctx context.Context, session *types.InterviewSession) error {
	timer := logging.StartTimer(logging.CategoryStore, "SaveSession")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	exchangesJSON, err := json.Marshal(session.Exchanges)
	if err != nil {
		return types.NewEngineError(types.KindPersistenceFailure, err,
			"failed to encode exchanges for session %s", session.ID)
	}
	metricsJSON, err := json.Marshal(session.Metrics)
	if err != nil {
		return types.NewEngineError(types.KindPersistenceFailure, err,
			"failed to encode metrics for session %s", session.ID)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, tab_id, status, exchanges_json, pending_question,
			skills_json, workflows_json, metrics_json, context, generation_ready,
			last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			exchanges_json = excluded.exchanges_json,
			pending_question = excluded.pending_question,
			skills_json = excluded.skills_json,
			workflows_json = excluded.workflows_json,
			metrics_json = excluded.metrics_json,
			context = excluded.context,
			generation_ready = excluded.generation_ready,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		session.ID, session.UserID, session.TabID, string(session.Status),
		string(exchangesJSON), session.PendingQuestion,
		encodeSet(session.Skills), encodeSet(session.Workflows), string(metricsJSON),
		session.Context, session.GenerationReady, session.LastError,
		session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return types.NewEngineError(types.KindPersistenceFailure, err,
			"failed to save session %s", session.ID)
	}

	logging.StoreDebug("Saved session %s (%d exchanges, status %s)",
		session.ID, len(session.Exchanges), session.Status)
	return nil
}

// LoadSession reads one session snapshot. Returns (nil, nil) when absent.
func (s *Store) LoadSession(ctx context.Context, sessionID string) (*types.InterviewSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		session                    types.InterviewSession
		status                     string
		exchangesJSON, metricsJSON string
		skillsJSON, workflowsJSON  string
		pendingQuestion, lastError sql.NullString
		contextText                sql.NullString
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, tab_id, status, exchanges_json, pending_question,
			skills_json, workflows_json, metrics_json, context, generation_ready,
			last_error, created_at, updated_at
		FROM sessions WHERE id = ?`, sessionID).Scan(
		&session.ID, &session.UserID, &session.TabID, &status,
		&exchangesJSON, &pendingQuestion, &skillsJSON, &workflowsJSON,
		&metricsJSON, &contextText, &session.GenerationReady, &lastError,
		&session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewEngineError(types.KindPersistenceFailure, err,
			"failed to load session %s", sessionID)
	}

	session.Status = types.SessionStatus(status)
	session.PendingQuestion = pendingQuestion.String
	session.LastError = lastError.String
	session.Context = contextText.String

	if err := json.Unmarshal([]byte(exchangesJSON), &session.Exchanges); err != nil {
		return nil, types.NewEngineError(types.KindPersistenceFailure, err,
			"corrupt exchanges for session %s", sessionID)
	}
	if err := json.Unmarshal([]byte(metricsJSON), &session.Metrics); err != nil {
		return nil, types.NewEngineError(types.KindPersistenceFailure, err,
			"corrupt metrics for session %s", sessionID)
	}
	session.Skills = decodeSet(skillsJSON)
	session.Workflows = decodeSet(workflowsJSON)

	return &session, nil
}

// ListUserSessions returns session IDs for a user, newest first.
func (s *Store) ListUserSessions(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM sessions WHERE user_id = ? ORDER BY updated_at DESC", userID)
	if err != nil {
		return nil, types.NewEngineError(types.KindPersistenceFailure, err,
			"failed to list sessions for user %s", userID)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewEngineError(types.KindPersistenceFailure, err,
				"failed to scan session row")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveInstances persists a batch of generated instances in one transaction.
// All-or-nothing: a partial batch is worse than a retryable failure.
func (s *Store) SaveInstances(ctx context.Context, instances []types.GeneratedInstance) error {
	if len(instances) == 0 {
		return nil
	}

	timer := logging.StartTimer(logging.CategoryStore, "SaveInstances")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.NewEngineError(types.KindPersistenceFailure, err,
			"failed to begin instance transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO instances (id, session_id, question, answer, tags_json,
			category, difficulty, confidence, quality_score, skills_json, workflows_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return types.NewEngineError(types.KindPersistenceFailure, err,
			"failed to prepare instance insert")
	}
	defer stmt.Close()

	for _, inst := range instances {
		tagsJSON, err := json.Marshal(inst.Tags)
		if err != nil {
			return types.NewEngineError(types.KindPersistenceFailure, err,
				"failed to encode tags for instance %s", inst.ID)
		}
		if _, err := stmt.ExecContext(ctx,
			inst.ID, inst.SessionID, inst.Question, inst.Answer, string(tagsJSON),
			inst.Category, inst.Difficulty, inst.Confidence, inst.QualityScore,
			encodeList(inst.Skills), encodeList(inst.Workflows), inst.CreatedAt); err != nil {
			return types.NewEngineError(types.KindPersistenceFailure, err,
				"failed to insert instance %s", inst.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return types.NewEngineError(types.KindPersistenceFailure, err,
			"failed to commit %d instances", len(instances))
	}

	logging.Store("Persisted %d instances for session %s", len(instances), instances[0].SessionID)
	return nil
}

// LoadInstances returns all instances generated for a session.
func (s *Store) LoadInstances(ctx context.Context, sessionID string) ([]types.GeneratedInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, question, answer, tags_json, category, difficulty,
			confidence, quality_score, skills_json, workflows_json, created_at
		FROM instances WHERE session_id = ? ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, types.NewEngineError(types.KindPersistenceFailure, err,
			"failed to load instances for session %s", sessionID)
	}
	defer rows.Close()

	var instances []types.GeneratedInstance
	for rows.Next() {
		var (
			inst                                types.GeneratedInstance
			tagsJSON, skillsJSON, workflowsJSON string
			category, difficulty                sql.NullString
		)
		if err := rows.Scan(&inst.ID, &inst.SessionID, &inst.Question, &inst.Answer,
			&tagsJSON, &category, &difficulty, &inst.Confidence, &inst.QualityScore,
			&skillsJSON, &workflowsJSON, &inst.CreatedAt); err != nil {
			return nil, types.NewEngineError(types.KindPersistenceFailure, err,
				"failed to scan instance row")
		}
		inst.Category = category.String
		inst.Difficulty = difficulty.String
		if err := json.Unmarshal([]byte(tagsJSON), &inst.Tags); err != nil {
			return nil, types.NewEngineError(types.KindPersistenceFailure, err,
				"corrupt tags for instance %s", inst.ID)
		}
		inst.Skills = decodeList(skillsJSON)
		inst.Workflows = decodeList(workflowsJSON)
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// LoadInstance reads one generated instance by ID. Returns (nil, nil) when
// absent.
func (s *Store) LoadInstance(ctx context.Context, instanceID string) (*types.GeneratedInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		inst                                types.GeneratedInstance
		tagsJSON, skillsJSON, workflowsJSON string
		category, difficulty                sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, question, answer, tags_json, category, difficulty,
			confidence, quality_score, skills_json, workflows_json, created_at
		FROM instances WHERE id = ?`, instanceID).Scan(
		&inst.ID, &inst.SessionID, &inst.Question, &inst.Answer,
		&tagsJSON, &category, &difficulty, &inst.Confidence, &inst.QualityScore,
		&skillsJSON, &workflowsJSON, &inst.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewEngineError(types.KindPersistenceFailure, err,
			"failed to load instance %s", instanceID)
	}

	inst.Category = category.String
	inst.Difficulty = difficulty.String
	if err := json.Unmarshal([]byte(tagsJSON), &inst.Tags); err != nil {
		return nil, types.NewEngineError(types.KindPersistenceFailure, err,
			"corrupt tags for instance %s", instanceID)
	}
	inst.Skills = decodeList(skillsJSON)
	inst.Workflows = decodeList(workflowsJSON)
	return &inst, nil
}

// encodeSet serializes a string set as a sorted JSON array for stable storage.
func encodeSet(set map[string]bool) string {
	items := make([]string, 0, len(set))
	for k := range set {
		items = append(items, k)
	}
	sort.Strings(items)
	return encodeList(items)
}

func decodeSet(raw string) map[string]bool {
	set := make(map[string]bool)
	for _, item := range decodeList(raw) {
		set[item] = true
	}
	return set
}

func encodeList(items []string) string {
	if items == nil {
		items = []string{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		// []string never fails to marshal; keep the column valid regardless.
		return "[]"
	}
	return string(raw)
}

func decodeList(raw string) []string {
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		logging.StoreDebug("Corrupt string list column, treating as empty: %v", err)
		return nil
	}
	return items
}
