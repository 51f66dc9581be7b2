package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GenAIEngine embeds instance text through the Gemini embedding API.
// Instances are indexed with the retrieval-document task type; marketplace
// queries embed with retrieval-query so both sides of the search match.
type GenAIEngine struct {
	client   *genai.Client
	model    string
	taskType string
}

// NewGenAIEngine creates a GenAI embedding engine.
func NewGenAIEngine(apiKey, model, taskType string) (*GenAIEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIEngine{
		client:   client,
		model:    model,
		taskType: parseTaskType(taskType),
	}, nil
}

func parseTaskType(taskType string) string {
	switch taskType {
	case "RETRIEVAL_QUERY":
		return "RETRIEVAL_QUERY"
	case "SEMANTIC_SIMILARITY":
		return "SEMANTIC_SIMILARITY"
	default:
		return "RETRIEVAL_DOCUMENT"
	}
}

// Embed embeds one text.
func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds a batch of instance texts in one request.
func (e *GenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return e.embed(ctx, texts)
}

func (e *GenAIEngine) embed(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents,
		&genai.EmbedContentConfig{TaskType: e.taskType})
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("GenAI returned %d embeddings for %d texts",
			len(result.Embeddings), len(texts))
	}

	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

// Dimensions returns the embedding dimensionality.
// gemini-embedding-001 produces 768-dimensional vectors.
func (e *GenAIEngine) Dimensions() int {
	return 768
}

// Name returns the engine name.
func (e *GenAIEngine) Name() string {
	return fmt.Sprintf("genai:%s", e.model)
}

// Close closes the GenAI client. The genai client holds no resources
// that need explicit release.
func (e *GenAIEngine) Close() error {
	return nil
}
