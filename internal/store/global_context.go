package store

import (
	"context"
	"database/sql"

	"expertmine/internal/logging"
	"expertmine/internal/types"
)

// LoadGlobalContext reads a user's accumulated expertise profile.
// Returns (nil, nil) for a user with no profile yet; callers seed new
// sessions with an empty context in that case.
func (s *Store) LoadGlobalContext(ctx context.Context, userID string) (*types.GlobalContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		gc                        types.GlobalContext
		contextText               sql.NullString
		skillsJSON, workflowsJSON string
		lastSessionID             sql.NullString
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, context, skills_json, workflows_json, last_session_id, updated_at
		FROM global_contexts WHERE user_id = ?`, userID).Scan(
		&gc.UserID, &contextText, &skillsJSON, &workflowsJSON, &lastSessionID, &gc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewEngineError(types.KindPersistenceFailure, err,
			"failed to load global context for user %s", userID)
	}

	gc.Context = contextText.String
	gc.LastSessionID = lastSessionID.String
	gc.Skills = decodeSet(skillsJSON)
	gc.Workflows = decodeSet(workflowsJSON)
	return &gc, nil
}

// SaveGlobalContext upserts a user's expertise profile.
func (s *Store) SaveGlobalContext(ctx context.Context, gc *types.GlobalContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO global_contexts (user_id, context, skills_json, workflows_json, last_session_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			context = excluded.context,
			skills_json = excluded.skills_json,
			workflows_json = excluded.workflows_json,
			last_session_id = excluded.last_session_id,
			updated_at = excluded.updated_at`,
		gc.UserID, gc.Context, encodeSet(gc.Skills), encodeSet(gc.Workflows),
		gc.LastSessionID, gc.UpdatedAt)
	if err != nil {
		return types.NewEngineError(types.KindPersistenceFailure, err,
			"failed to save global context for user %s", gc.UserID)
	}

	logging.StoreDebug("Saved global context for user %s (%d skills, %d workflows)",
		gc.UserID, len(gc.Skills), len(gc.Workflows))
	return nil
}
