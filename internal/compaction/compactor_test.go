package compaction

import (
	"context"
	"errors"
	"strings"
	"testing"

	"expertmine/internal/types"
)

type mockClient struct {
	response string
	err      error
	calls    int
}

func (m *mockClient) Complete(ctx context.Context, prompt string) (string, error) {
	return m.CompleteWithSystem(ctx, "", prompt)
}

func (m *mockClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	m.calls++
	return m.response, m.err
}

func oversizedSession() *types.InterviewSession {
	return &types.InterviewSession{
		ID:        "s1",
		Context:   strings.Repeat("the expert explained their deployment process in detail. ", 300),
		Skills:    map[string]bool{"Kubernetes": true, "Helm": true},
		Workflows: map[string]bool{"canary rollout": true},
	}
}

func TestMaybeCompactSkipsUnderBudget(t *testing.T) {
	client := &mockClient{response: "should not be called"}
	c := NewCompactor(DefaultConfig(), client)

	s := &types.InterviewSession{ID: "s1", Context: "short context"}
	res, err := c.MaybeCompact(context.Background(), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Compacted {
		t.Error("context under budget must not compact")
	}
	if client.calls != 0 {
		t.Errorf("no provider call expected, got %d", client.calls)
	}
	if s.Context != "short context" {
		t.Error("context must be untouched when under budget")
	}
}

func TestMaybeCompactPreservesEntities(t *testing.T) {
	// The summary keeps Kubernetes but drops Helm and the workflow; the
	// compactor must restore them in the ledger.
	client := &mockClient{response: "Expert deploys with Kubernetes. Summary of the rest."}
	c := NewCompactor(DefaultConfig(), client)

	s := oversizedSession()
	res, err := c.MaybeCompact(context.Background(), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Compacted {
		t.Fatal("oversized context must compact")
	}

	for _, entity := range []string{"Kubernetes", "Helm", "canary rollout"} {
		if !strings.Contains(s.Context, entity) {
			t.Errorf("compacted context lost entity %q", entity)
		}
	}
	if !ContainsAll(s.Context, s.SkillList()) || !ContainsAll(s.Context, s.WorkflowList()) {
		t.Error("ContainsAll must hold after compaction")
	}
	if res.Ratio >= 1.0 {
		t.Errorf("expected shrinkage, ratio = %.2f", res.Ratio)
	}
}

func TestMaybeCompactProviderFailure(t *testing.T) {
	c := NewCompactor(DefaultConfig(), &mockClient{err: errors.New("timeout")})

	s := oversizedSession()
	original := s.Context
	_, err := c.MaybeCompact(context.Background(), s)
	if !types.IsKind(err, types.KindGenerationFailure) {
		t.Errorf("expected generation failure, got %v", err)
	}
	if s.Context != original {
		t.Error("failed compaction must leave the context untouched")
	}
}

func TestMaybeCompactRejectsEmptyOutput(t *testing.T) {
	c := NewCompactor(DefaultConfig(), &mockClient{response: "  "})
	if _, err := c.MaybeCompact(context.Background(), oversizedSession()); err == nil {
		t.Error("empty compaction output must fail")
	}
}

func TestEnsureEntities(t *testing.T) {
	text, restored := ensureEntities("mentions alpha only", []string{"alpha", "beta"}, []string{"gamma"})
	if restored != 2 {
		t.Errorf("restored = %d, want 2", restored)
	}
	for _, e := range []string{"alpha", "beta", "gamma"} {
		if !strings.Contains(text, e) {
			t.Errorf("result missing %q", e)
		}
	}

	same, restored := ensureEntities("alpha beta gamma", []string{"alpha"}, []string{"gamma"})
	if restored != 0 || same != "alpha beta gamma" {
		t.Errorf("fully covered text must be returned unchanged, got %q (%d)", same, restored)
	}
}
