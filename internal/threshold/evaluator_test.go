package threshold

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"expertmine/internal/types"
)

// mockClient returns canned responses for the advisory pass.
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

func sessionWith(exchanges int, answerLen int, skills, workflows int, ctxLen int) *types.InterviewSession {
	s := &types.InterviewSession{
		ID:        "test-session",
		Skills:    make(map[string]bool),
		Workflows: make(map[string]bool),
		Context:   strings.Repeat("x", ctxLen),
	}
	for i := 0; i < exchanges; i++ {
		s.AddExchange(types.Exchange{
			Question:  "q",
			Answer:    strings.Repeat("a", answerLen),
			Timestamp: time.Now(),
		})
	}
	for i := 0; i < skills; i++ {
		s.Skills[strings.Repeat("s", i+1)] = true
	}
	for i := 0; i < workflows; i++ {
		s.Workflows[strings.Repeat("w", i+1)] = true
	}
	return s
}

func TestComputeIsDeterministic(t *testing.T) {
	s := sessionWith(5, 150, 3, 2, 1500)
	a := Compute(s)
	b := Compute(s)
	if a != b {
		t.Fatalf("identical session produced different metrics: %+v vs %+v", a, b)
	}
}

func TestComputeComponentCaps(t *testing.T) {
	// Everything far past saturation: each component must sit at its cap.
	s := sessionWith(10, 5000, 50, 50, 100000)
	m := Compute(s)

	if m.Depth != DepthMax {
		t.Errorf("depth = %.1f, want cap %.1f", m.Depth, DepthMax)
	}
	if m.Diversity != DiversityMax {
		t.Errorf("diversity = %.1f, want cap %.1f", m.Diversity, DiversityMax)
	}
	if m.Complexity != ComplexityMax {
		t.Errorf("complexity = %.1f, want cap %.1f", m.Complexity, ComplexityMax)
	}
	if m.Richness != RichnessMax {
		t.Errorf("richness = %.1f, want cap %.1f", m.Richness, RichnessMax)
	}
	if m.Overall != 100 {
		t.Errorf("overall = %.1f, want 100", m.Overall)
	}
}

func TestComputeEmptySession(t *testing.T) {
	m := Compute(&types.InterviewSession{})
	if m.Overall != 0 {
		t.Errorf("empty session overall = %.1f, want 0", m.Overall)
	}
}

func TestEvaluateExchangeCapForcesGeneration(t *testing.T) {
	// Short answers keep the score low; the hard cap must still fire.
	s := sessionWith(20, 5, 0, 0, 0)
	e := NewEvaluator(DefaultConfig(), nil)

	d, err := e.Evaluate(context.Background(), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Generate {
		t.Errorf("expected generation at exchange cap, got reason %q", d.Reason)
	}
	if d.Metrics.Overall >= 75 {
		t.Errorf("cap case should have a low score, got %.1f", d.Metrics.Overall)
	}
}

func TestEvaluateScoreAboveThreshold(t *testing.T) {
	s := sessionWith(10, 5000, 50, 50, 100000)
	e := NewEvaluator(DefaultConfig(), nil)

	d, err := e.Evaluate(context.Background(), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Generate {
		t.Error("expected generation when overall >= threshold")
	}
}

// bandSession builds a session scoring inside [60, 80) but below 75.
func bandSession(t *testing.T) *types.InterviewSession {
	t.Helper()
	// 30 depth + 15 diversity + 8.33 complexity + 13.33 richness = 66.67
	s := sessionWith(5, 200, 3, 1, 2000)
	m := Compute(s)
	if m.Overall < 60 || m.Overall >= 75 {
		t.Fatalf("band session scored %.1f, want [60, 75)", m.Overall)
	}
	return s
}

func TestAdvisoryModeLogsOnly(t *testing.T) {
	s := bandSession(t)
	client := &mockClient{response: "READY"}

	cfg := DefaultConfig()
	cfg.AdvisoryMode = ModeAdvisory
	e := NewEvaluator(cfg, client)

	d, err := e.Evaluate(context.Background(), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.calls != 1 {
		t.Errorf("expected 1 advisory call, got %d", client.calls)
	}
	if d.Generate {
		t.Error("advisory mode must not override the deterministic decision")
	}
	if d.Metrics.AdvisoryOverride {
		t.Error("advisory mode must not mark an override")
	}
}

func TestAuthoritativeModeOverrides(t *testing.T) {
	s := bandSession(t)
	client := &mockClient{response: "READY"}

	cfg := DefaultConfig()
	cfg.AdvisoryMode = ModeAuthoritative
	e := NewEvaluator(cfg, client)

	d, err := e.Evaluate(context.Background(), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Generate {
		t.Fatal("authoritative READY must force generation")
	}
	if !d.Metrics.AdvisoryOverride {
		t.Error("override flag should be set for audit")
	}
	if d.Metrics.Overall != cfg.GenerationThreshold {
		t.Errorf("overridden overall = %.1f, want %.1f", d.Metrics.Overall, cfg.GenerationThreshold)
	}
}

func TestAdvisoryContinueDoesNotGenerate(t *testing.T) {
	s := bandSession(t)
	client := &mockClient{response: "CONTINUE"}

	cfg := DefaultConfig()
	cfg.AdvisoryMode = ModeAuthoritative
	e := NewEvaluator(cfg, client)

	d, err := e.Evaluate(context.Background(), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Generate {
		t.Error("CONTINUE recommendation must not generate")
	}
}

func TestAdvisoryFailureSurfacesOnlyInAuthoritative(t *testing.T) {
	s := bandSession(t)

	advisoryCfg := DefaultConfig()
	advisoryCfg.AdvisoryMode = ModeAdvisory
	e := NewEvaluator(advisoryCfg, &mockClient{err: errors.New("provider down")})
	if _, err := e.Evaluate(context.Background(), s); err != nil {
		t.Errorf("advisory mode must swallow advisory failures, got %v", err)
	}

	authCfg := DefaultConfig()
	authCfg.AdvisoryMode = ModeAuthoritative
	e = NewEvaluator(authCfg, &mockClient{err: errors.New("provider down")})
	_, err := e.Evaluate(context.Background(), s)
	if !types.IsKind(err, types.KindGenerationFailure) {
		t.Errorf("authoritative mode must surface advisory failures, got %v", err)
	}
}

func TestNoAdvisoryCallOutsideBand(t *testing.T) {
	client := &mockClient{response: "READY"}
	e := NewEvaluator(DefaultConfig(), client)

	// Well below the band.
	s := sessionWith(2, 10, 0, 0, 0)
	if _, err := e.Evaluate(context.Background(), s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.calls != 0 {
		t.Errorf("advisory pass must not run below the band, got %d calls", client.calls)
	}
}
