package types

import (
	"context"
)

// LLMClient defines the interface for text-generation providers. All interview,
// scoring-advisory, generation, and compaction calls go through it.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// QuotaDecision is the result of an atomic check-and-consume.
type QuotaDecision struct {
	Allowed   bool
	Remaining int
}

// QuotaService authorizes instance generation. CheckAndConsume must be atomic:
// a refusal consumes nothing.
type QuotaService interface {
	CheckAndConsume(ctx context.Context, userID string, n int) (QuotaDecision, error)
}

// SessionWriter persists session snapshots and generated instances.
type SessionWriter interface {
	SaveSession(ctx context.Context, session *InterviewSession) error
	SaveInstances(ctx context.Context, instances []GeneratedInstance) error
}

// GlobalContextStore reads and writes per-user global contexts.
type GlobalContextStore interface {
	LoadGlobalContext(ctx context.Context, userID string) (*GlobalContext, error)
	SaveGlobalContext(ctx context.Context, gc *GlobalContext) error
}

// InstanceIndexer submits generated instances for vector embedding.
// Fire-and-forget: implementations log failures and never surface them.
type InstanceIndexer interface {
	SubmitBatch(instances []GeneratedInstance)
}
