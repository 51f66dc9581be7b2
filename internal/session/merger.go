package session

import (
	"context"
	"sync"
	"time"

	"expertmine/internal/logging"
	"expertmine/internal/types"
)

// Merger folds session results into the owner's global context. Merges for
// the same user are serialized so concurrent session completions cannot
// interleave a read-modify-write; different users merge in parallel.
type Merger struct {
	mu    sync.Mutex
	locks map[string]*userLock
	store types.GlobalContextStore
}

// userLock is a per-user merge lock with a waiter count. Entries are evicted
// once idle so the map does not grow with the lifetime user population.
type userLock struct {
	mu   sync.Mutex
	refs int
}

// NewMerger creates a merger backed by the given store.
func NewMerger(store types.GlobalContextStore) *Merger {
	return &Merger{
		locks: make(map[string]*userLock),
		store: store,
	}
}

func (m *Merger) acquire(userID string) *userLock {
	m.mu.Lock()
	lock, ok := m.locks[userID]
	if !ok {
		lock = &userLock{}
		m.locks[userID] = lock
	}
	lock.refs++
	m.mu.Unlock()

	lock.mu.Lock()
	return lock
}

func (m *Merger) release(userID string, lock *userLock) {
	lock.mu.Unlock()

	m.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(m.locks, userID)
	}
	m.mu.Unlock()
}

// Merge folds one session into the user's global context and persists the
// result. Skill and workflow sets merge by union; the context text is
// last-write-wins, so the most recently merged session's narrative replaces
// the previous one.
func (m *Merger) Merge(ctx context.Context, session *types.InterviewSession) error {
	timer := logging.StartTimer(logging.CategoryGlobalCtx, "Merge")
	defer timer.Stop()

	lock := m.acquire(session.UserID)
	defer m.release(session.UserID, lock)

	gc, err := m.store.LoadGlobalContext(ctx, session.UserID)
	if err != nil {
		return err
	}
	if gc == nil {
		gc = &types.GlobalContext{
			UserID:    session.UserID,
			Skills:    make(map[string]bool),
			Workflows: make(map[string]bool),
		}
	}
	if gc.Skills == nil {
		gc.Skills = make(map[string]bool)
	}
	if gc.Workflows == nil {
		gc.Workflows = make(map[string]bool)
	}

	addedSkills, addedWorkflows := 0, 0
	for k := range session.Skills {
		if !gc.Skills[k] {
			gc.Skills[k] = true
			addedSkills++
		}
	}
	for k := range session.Workflows {
		if !gc.Workflows[k] {
			gc.Workflows[k] = true
			addedWorkflows++
		}
	}

	if session.Context != "" {
		gc.Context = session.Context
	}
	gc.LastSessionID = session.ID
	gc.UpdatedAt = time.Now()

	if err := m.store.SaveGlobalContext(ctx, gc); err != nil {
		return err
	}

	logging.GlobalCtx("Merged session %s into user %s context: +%d skills, +%d workflows (totals %d/%d)",
		session.ID, session.UserID, addedSkills, addedWorkflows, len(gc.Skills), len(gc.Workflows))
	return nil
}
