package generation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"expertmine/internal/types"
)

// =============================================================================
// MOCKS
// =============================================================================

type mockClient struct {
	responses []string
	err       error
	calls     int
}

func (m *mockClient) Complete(ctx context.Context, prompt string) (string, error) {
	return m.CompleteWithSystem(ctx, "", prompt)
}

func (m *mockClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	i := m.calls - 1
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	return m.responses[i], nil
}

type mockQuota struct {
	allowed   bool
	remaining int
	consumed  int
	refunded  int
}

func (m *mockQuota) CheckAndConsume(ctx context.Context, userID string, n int) (types.QuotaDecision, error) {
	if !m.allowed {
		return types.QuotaDecision{Allowed: false, Remaining: m.remaining}, nil
	}
	m.consumed += n
	return types.QuotaDecision{Allowed: true, Remaining: m.remaining - m.consumed}, nil
}

func (m *mockQuota) Refund(userID string, n int) { m.refunded += n }

type mockWriter struct {
	sessions  []*types.InterviewSession
	instances []types.GeneratedInstance
	saveErr   error
}

func (m *mockWriter) SaveSession(ctx context.Context, s *types.InterviewSession) error {
	m.sessions = append(m.sessions, s)
	return nil
}

func (m *mockWriter) SaveInstances(ctx context.Context, instances []types.GeneratedInstance) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.instances = append(m.instances, instances...)
	return nil
}

type mockIndexer struct {
	batches [][]types.GeneratedInstance
}

func (m *mockIndexer) SubmitBatch(instances []types.GeneratedInstance) {
	m.batches = append(m.batches, instances)
}

// =============================================================================
// FIXTURES
// =============================================================================

func testSession() *types.InterviewSession {
	return &types.InterviewSession{
		ID:     "sess-1",
		UserID: "alice",
		Skills: map[string]bool{"Kubernetes": true, "Go": true},
		Workflows: map[string]bool{
			"canary rollout": true,
		},
		Context: "expert in cloud infrastructure",
	}
}

const longAnswer = "You start by routing a small percentage of traffic to the new version, watch error rates and latency dashboards, and only widen the rollout when the signals stay healthy for a full evaluation window."

func validResponse(n int) string {
	var sb strings.Builder
	sb.WriteString("[")
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`{"question": "How do you run a canary rollout in Kubernetes safely?",
			"answer": "` + longAnswer + `",
			"tags": ["kubernetes", "deployment"],
			"category": "infrastructure", "difficulty": "advanced", "confidence": 0.9}`)
	}
	sb.WriteString("]")
	return sb.String()
}

func newTestGenerator(client *mockClient, quota *mockQuota, writer *mockWriter, indexer *mockIndexer) *Generator {
	cfg := Config{InstanceTarget: 3, ParseRetries: 2}
	var idx types.InstanceIndexer
	if indexer != nil {
		idx = indexer
	}
	return NewGenerator(cfg, client, quota, writer, idx)
}

// =============================================================================
// TESTS
// =============================================================================

func TestGenerateHappyPath(t *testing.T) {
	client := &mockClient{responses: []string{validResponse(3)}}
	quota := &mockQuota{allowed: true, remaining: 100}
	writer := &mockWriter{}
	indexer := &mockIndexer{}

	g := newTestGenerator(client, quota, writer, indexer)
	session := testSession()

	instances, err := g.Generate(context.Background(), session)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(instances) != 3 {
		t.Fatalf("expected 3 instances, got %d", len(instances))
	}

	for _, inst := range instances {
		if inst.ID == "" || inst.SessionID != "sess-1" {
			t.Errorf("identity not stamped: %+v", inst)
		}
		if inst.QualityScore <= 0 || inst.QualityScore > 100 {
			t.Errorf("quality score out of range: %.1f", inst.QualityScore)
		}
	}

	if len(writer.instances) != 3 {
		t.Errorf("instances not persisted: %d", len(writer.instances))
	}
	if len(indexer.batches) != 1 {
		t.Errorf("expected 1 embedding batch, got %d", len(indexer.batches))
	}
	if !session.GenerationReady || len(session.Instances) != 3 {
		t.Error("session not marked generation-ready")
	}
}

func TestQuotaGateBeforeProviderCall(t *testing.T) {
	client := &mockClient{responses: []string{validResponse(3)}}
	quota := &mockQuota{allowed: false, remaining: 1}

	g := newTestGenerator(client, quota, &mockWriter{}, nil)
	_, err := g.Generate(context.Background(), testSession())

	if !types.IsKind(err, types.KindQuotaExceeded) {
		t.Errorf("expected quota exceeded, got %v", err)
	}
	if client.calls != 0 {
		t.Errorf("provider must not be called on quota refusal, got %d calls", client.calls)
	}
	if quota.consumed != 0 {
		t.Errorf("refusal must consume nothing, got %d", quota.consumed)
	}
}

func TestProviderFailureRefundsQuota(t *testing.T) {
	client := &mockClient{err: errors.New("provider down")}
	quota := &mockQuota{allowed: true, remaining: 100}

	g := newTestGenerator(client, quota, &mockWriter{}, nil)
	_, err := g.Generate(context.Background(), testSession())

	if !types.IsKind(err, types.KindGenerationFailure) {
		t.Errorf("expected generation failure, got %v", err)
	}
	if quota.refunded != 3 {
		t.Errorf("failed generation must refund the full consume, got %d", quota.refunded)
	}
}

func TestParseRetryRecovers(t *testing.T) {
	client := &mockClient{responses: []string{
		"I'd be happy to help! Here are some thoughts without JSON.",
		validResponse(3),
	}}
	quota := &mockQuota{allowed: true, remaining: 100}

	g := newTestGenerator(client, quota, &mockWriter{}, nil)
	instances, err := g.Generate(context.Background(), testSession())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if client.calls != 2 {
		t.Errorf("expected a retry, got %d calls", client.calls)
	}
	if len(instances) != 3 {
		t.Errorf("expected 3 instances after retry, got %d", len(instances))
	}
}

func TestParseFailureAfterBoundedRetries(t *testing.T) {
	client := &mockClient{responses: []string{"still not json"}}
	quota := &mockQuota{allowed: true, remaining: 100}

	g := newTestGenerator(client, quota, &mockWriter{}, nil)
	_, err := g.Generate(context.Background(), testSession())

	if !types.IsKind(err, types.KindParseFailure) {
		t.Errorf("expected parse failure, got %v", err)
	}
	// ParseRetries=2 means 3 total attempts.
	if client.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", client.calls)
	}
	if quota.refunded != 3 {
		t.Errorf("parse failure must refund, got %d", quota.refunded)
	}
}

func TestPersistenceFailureSurfaced(t *testing.T) {
	client := &mockClient{responses: []string{validResponse(3)}}
	quota := &mockQuota{allowed: true, remaining: 100}
	writer := &mockWriter{saveErr: types.NewEngineError(types.KindPersistenceFailure, nil, "disk full")}

	g := newTestGenerator(client, quota, writer, nil)
	_, err := g.Generate(context.Background(), testSession())
	if !types.IsKind(err, types.KindPersistenceFailure) {
		t.Errorf("expected persistence failure, got %v", err)
	}
	if quota.refunded != 3 {
		t.Errorf("failed persistence must refund, got %d", quota.refunded)
	}
}

func TestValidationDropsThinInstances(t *testing.T) {
	// One valid instance, one with a too-short answer, one without tags.
	resp := `[
		{"question": "How do you run a canary rollout in Kubernetes safely?", "answer": "` + longAnswer + `", "tags": ["k8s"]},
		{"question": "What about this other long enough question?", "answer": "too short", "tags": ["x"]},
		{"question": "And this long enough question without tags?", "answer": "` + longAnswer + `", "tags": []}
	]`
	client := &mockClient{responses: []string{resp}}
	quota := &mockQuota{allowed: true, remaining: 100}
	writer := &mockWriter{}

	g := newTestGenerator(client, quota, writer, nil)
	instances, err := g.Generate(context.Background(), testSession())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(instances) != 1 {
		t.Fatalf("expected 1 surviving instance, got %d", len(instances))
	}
	// Two consumed-but-unused slots returned.
	if quota.refunded != 2 {
		t.Errorf("expected refund of 2, got %d", quota.refunded)
	}
}

func TestScoreQualityCapsAt100(t *testing.T) {
	inst := types.GeneratedInstance{
		Answer:     strings.Repeat("a", 5000),
		Tags:       []string{"a", "b", "c", "d", "e", "f"},
		Category:   "x",
		Difficulty: "advanced",
		Confidence: 1.0,
	}
	if got := scoreQuality(inst); got != 100 {
		t.Errorf("score = %.1f, want capped 100", got)
	}

	thin := types.GeneratedInstance{Answer: strings.Repeat("a", 200), Tags: []string{"one"}}
	got := scoreQuality(thin)
	if got <= 0 || got >= 50 {
		t.Errorf("thin instance score = %.1f, want low but positive", got)
	}
}

func TestProvenanceMatchesReferencedEntities(t *testing.T) {
	session := testSession()
	inst := types.GeneratedInstance{
		Question: "How do you run a canary rollout?",
		Answer:   "Use Kubernetes primitives and progressive traffic shifting.",
	}
	skills, workflows := provenance(inst, session)

	if len(skills) != 1 || skills[0] != "Kubernetes" {
		t.Errorf("skills = %v, want [Kubernetes]", skills)
	}
	if len(workflows) != 1 || workflows[0] != "canary rollout" {
		t.Errorf("workflows = %v, want [canary rollout]", workflows)
	}
}

func TestParseInstancesLenient(t *testing.T) {
	raw := "Here you go:\n```json\n" + validResponse(2) + "\n```\nHope that helps!"
	got, err := parseInstances(raw)
	if err != nil {
		t.Fatalf("parseInstances: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 candidates, got %d", len(got))
	}

	if _, err := parseInstances("[]"); err == nil {
		t.Error("empty array must be a parse error")
	}
	if _, err := parseInstances("no array here"); err == nil {
		t.Error("missing array must be a parse error")
	}
}
