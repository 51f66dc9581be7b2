// Package session manages the lifecycle of concurrent interview sessions:
// admission per (user, tab), snapshot seeding from the user's global context,
// and merging session results back when a session ends.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"expertmine/internal/logging"
	"expertmine/internal/types"
)

// Registry tracks active sessions keyed by (user, tab) and enforces the
// per-user concurrency cap. Sessions are isolated: each gets its own deep
// snapshot of the user's global context at creation.
type Registry struct {
	mu         sync.RWMutex
	maxPerUser int
	byKey      map[sessionKey]*types.InterviewSession
	byID       map[string]*types.InterviewSession
	contexts   types.GlobalContextStore
}

type sessionKey struct {
	userID string
	tabID  string
}

// NewRegistry creates a registry backed by the given global-context store.
func NewRegistry(maxPerUser int, contexts types.GlobalContextStore) *Registry {
	if maxPerUser <= 0 {
		maxPerUser = 3
	}
	return &Registry{
		maxPerUser: maxPerUser,
		byKey:      make(map[sessionKey]*types.InterviewSession),
		byID:       make(map[string]*types.InterviewSession),
		contexts:   contexts,
	}
}

// Admit creates a new active session for (userID, tabID), seeded from the
// user's global context. Refuses with AdmissionRejected when the tab already
// has an active session or the user is at the concurrency cap.
func (r *Registry) Admit(ctx context.Context, userID, tabID string) (*types.InterviewSession, error) {
	timer := logging.StartTimer(logging.CategorySession, "Admit")
	defer timer.Stop()

	// Load outside the lock: store reads can be slow and admission must not
	// serialize on them.
	gc, err := r.contexts.LoadGlobalContext(ctx, userID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := sessionKey{userID: userID, tabID: tabID}
	if _, exists := r.byKey[key]; exists {
		return nil, types.NewEngineError(types.KindAdmissionRejected, nil,
			"tab %s already has an active session for user %s", tabID, userID)
	}

	active := 0
	for k := range r.byKey {
		if k.userID == userID {
			active++
		}
	}
	if active >= r.maxPerUser {
		logging.Session("Admission rejected for user %s: %d active sessions (cap %d)",
			userID, active, r.maxPerUser)
		return nil, types.NewEngineError(types.KindAdmissionRejected, nil,
			"user %s has %d active sessions (limit %d)", userID, active, r.maxPerUser)
	}

	now := time.Now()
	session := &types.InterviewSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		TabID:     tabID,
		Skills:    make(map[string]bool),
		Workflows: make(map[string]bool),
		Status:    types.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Seed from a deep snapshot so sibling sessions never share state.
	if gc != nil {
		snap := gc.Snapshot()
		session.Context = snap.Context
		for k := range snap.Skills {
			session.Skills[k] = true
		}
		for k := range snap.Workflows {
			session.Workflows[k] = true
		}
	}

	r.byKey[key] = session
	r.byID[session.ID] = session

	logging.Session("Admitted session %s for user %s tab %s (%d/%d active, seeded %d skills)",
		session.ID, userID, tabID, active+1, r.maxPerUser, len(session.Skills))
	return session, nil
}

// Get returns the active session by ID, or nil.
func (r *Registry) Get(sessionID string) *types.InterviewSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[sessionID]
}

// GetByTab returns the active session for (userID, tabID), or nil.
func (r *Registry) GetByTab(userID, tabID string) *types.InterviewSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byKey[sessionKey{userID: userID, tabID: tabID}]
}

// Remove deletes a session from the registry, freeing its admission slot.
// Callers merge the session into the global context before removing it.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.byID[sessionID]
	if !ok {
		return
	}
	delete(r.byID, sessionID)
	delete(r.byKey, sessionKey{userID: session.UserID, tabID: session.TabID})

	logging.SessionDebug("Removed session %s for user %s", sessionID, session.UserID)
}

// ActiveCount returns the number of active sessions for a user.
func (r *Registry) ActiveCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for k := range r.byKey {
		if k.userID == userID {
			count++
		}
	}
	return count
}
