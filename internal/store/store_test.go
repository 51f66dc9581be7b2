package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"expertmine/internal/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	session := &types.InterviewSession{
		ID:              "sess-1",
		UserID:          "alice",
		TabID:           "tab-1",
		PendingQuestion: "What do you deploy with?",
		Skills:          map[string]bool{"Go": true, "SQL": true},
		Workflows:       map[string]bool{"release process": true},
		Metrics:         types.ThresholdMetrics{Depth: 12.5, Overall: 40},
		Context:         "some accumulated narrative",
		Status:          types.StatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	session.AddExchange(types.Exchange{
		Question:  "q1",
		Answer:    "a1",
		Timestamp: now,
		Skills:    []string{"Go"},
	})

	if err := s.SaveSession(ctx, session); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	loaded, err := s.LoadSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected session, got nil")
	}

	if loaded.UserID != "alice" || loaded.TabID != "tab-1" {
		t.Errorf("identity mismatch: %s/%s", loaded.UserID, loaded.TabID)
	}
	if loaded.Status != types.StatusActive {
		t.Errorf("status = %s", loaded.Status)
	}
	if len(loaded.Exchanges) != 1 || loaded.Exchanges[0].Answer != "a1" {
		t.Errorf("exchanges mismatch: %+v", loaded.Exchanges)
	}
	if diff := cmp.Diff(session.SkillList(), loaded.SkillList()); diff != "" {
		t.Errorf("skills mismatch (-want +got):\n%s", diff)
	}
	if loaded.Metrics.Overall != 40 {
		t.Errorf("metrics overall = %.1f", loaded.Metrics.Overall)
	}
}

func TestSessionUpsert(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	session := &types.InterviewSession{
		ID: "sess-1", UserID: "alice", TabID: "t", Status: types.StatusActive,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := s.SaveSession(ctx, session); err != nil {
		t.Fatalf("first save: %v", err)
	}

	session.Status = types.StatusError
	session.LastError = "generation_failure: provider down"
	if err := s.SaveSession(ctx, session); err != nil {
		t.Fatalf("second save: %v", err)
	}

	loaded, err := s.LoadSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if loaded.Status != types.StatusError {
		t.Errorf("status = %s, want error", loaded.Status)
	}
	if loaded.LastError != "generation_failure: provider down" {
		t.Errorf("last error = %q", loaded.LastError)
	}
}

func TestLoadMissingSession(t *testing.T) {
	s := testStore(t)
	loaded, err := s.LoadSession(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded != nil {
		t.Error("missing session should load as nil")
	}
}

func TestInstancesRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	instances := []types.GeneratedInstance{
		{
			ID: "i1", SessionID: "sess-1", Question: "how do you test migrations?",
			Answer: "with a scratch database", Tags: []string{"sql", "testing"},
			Category: "databases", Difficulty: "intermediate", Confidence: 0.8,
			QualityScore: 72, Skills: []string{"SQL"}, CreatedAt: time.Now(),
		},
		{
			ID: "i2", SessionID: "sess-1", Question: "q2", Answer: "a2",
			Tags: []string{"ops"}, QualityScore: 55, CreatedAt: time.Now(),
		},
	}

	if err := s.SaveInstances(ctx, instances); err != nil {
		t.Fatalf("SaveInstances: %v", err)
	}

	loaded, err := s.LoadInstances(ctx, "sess-1")
	if err != nil {
		t.Fatalf("LoadInstances: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(loaded))
	}
	if diff := cmp.Diff([]string{"sql", "testing"}, loaded[0].Tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
	if loaded[0].QualityScore != 72 {
		t.Errorf("quality = %.1f", loaded[0].QualityScore)
	}
	if len(loaded[0].Skills) != 1 || loaded[0].Skills[0] != "SQL" {
		t.Errorf("provenance skills = %v", loaded[0].Skills)
	}
}

func TestLoadInstanceByID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	instances := []types.GeneratedInstance{
		{
			ID: "i1", SessionID: "sess-1", Question: "how do you roll back a bad release?",
			Answer: "flip traffic back to the previous revision", Tags: []string{"ops"},
			QualityScore: 64, CreatedAt: time.Now(),
		},
	}
	if err := s.SaveInstances(ctx, instances); err != nil {
		t.Fatalf("SaveInstances: %v", err)
	}

	inst, err := s.LoadInstance(ctx, "i1")
	if err != nil {
		t.Fatalf("LoadInstance: %v", err)
	}
	if inst == nil || inst.Question != "how do you roll back a bad release?" {
		t.Errorf("loaded instance = %+v", inst)
	}
	if inst.QualityScore != 64 {
		t.Errorf("quality = %.1f", inst.QualityScore)
	}

	missing, err := s.LoadInstance(ctx, "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if missing != nil {
		t.Error("missing instance should load as nil")
	}
}

func TestGlobalContextRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if gc, err := s.LoadGlobalContext(ctx, "alice"); err != nil || gc != nil {
		t.Fatalf("fresh user: gc=%v err=%v, want nil/nil", gc, err)
	}

	gc := &types.GlobalContext{
		UserID:        "alice",
		Context:       "experienced platform engineer",
		Skills:        map[string]bool{"Go": true},
		Workflows:     map[string]bool{"incident response": true},
		LastSessionID: "sess-1",
		UpdatedAt:     time.Now(),
	}
	if err := s.SaveGlobalContext(ctx, gc); err != nil {
		t.Fatalf("SaveGlobalContext: %v", err)
	}

	// Upsert with a grown set.
	gc.Skills["Terraform"] = true
	gc.LastSessionID = "sess-2"
	if err := s.SaveGlobalContext(ctx, gc); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	loaded, err := s.LoadGlobalContext(ctx, "alice")
	if err != nil {
		t.Fatalf("LoadGlobalContext: %v", err)
	}
	if len(loaded.Skills) != 2 || !loaded.Skills["Terraform"] {
		t.Errorf("skills = %v", loaded.Skills)
	}
	if loaded.LastSessionID != "sess-2" {
		t.Errorf("last session = %s", loaded.LastSessionID)
	}
}

func TestVectorSearchOrdering(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	vectors := map[string][]float64{
		"exact":      {1, 0, 0},
		"close":      {0.9, 0.1, 0},
		"orthogonal": {0, 1, 0},
	}
	for id, v := range vectors {
		if err := s.StoreInstanceVector(ctx, id, v); err != nil {
			t.Fatalf("StoreInstanceVector(%s): %v", id, err)
		}
	}

	results, err := s.SearchSimilarInstances(ctx, []float64{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("SearchSimilarInstances: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].InstanceID != "exact" || results[1].InstanceID != "close" {
		t.Errorf("ordering = %s, %s", results[0].InstanceID, results[1].InstanceID)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	s := testStore(t)
	// initialize already ran migrations once; a second pass must be a no-op.
	if err := RunMigrations(s.DB()); err != nil {
		t.Fatalf("second migration pass: %v", err)
	}
	if !columnExists(s.DB(), "sessions", "last_error") {
		t.Error("sessions.last_error missing after migrations")
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float64{1, 0}, []float64{1, 0}); got != 1 {
		t.Errorf("identical vectors = %v, want 1", got)
	}
	if got := CosineSimilarity([]float64{1, 0}, []float64{0, 1}); got != 0 {
		t.Errorf("orthogonal vectors = %v, want 0", got)
	}
	if got := CosineSimilarity([]float64{1}, []float64{1, 0}); got != 0 {
		t.Errorf("mismatched dims = %v, want 0", got)
	}
}
