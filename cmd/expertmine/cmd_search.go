package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"expertmine/internal/embedding"
)

// searchCmd finds generated instances semantically close to a query, the same
// lookup a marketplace buyer would run against a published dataset.
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search generated instances by semantic similarity",
	Long: `Embeds the query and returns the closest generated instances from the
local store, best match first.

Example:
  expertmine search "kubernetes rollback procedure"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

var searchLimit int

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "Maximum number of results")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	ws, err := resolveWorkspace()
	if err != nil {
		return err
	}
	a, err := buildApp(ws)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.Embedding.Provider == "none" {
		return fmt.Errorf("embedding is disabled; set embedding.provider to ollama or genai")
	}

	// Queries embed with the retrieval-query task type so they match the
	// document-side vectors the indexer wrote.
	engine, err := embedding.NewEngine(embedding.Config{
		Provider:       a.cfg.Embedding.Provider,
		OllamaEndpoint: a.cfg.Embedding.OllamaEndpoint,
		OllamaModel:    a.cfg.Embedding.OllamaModel,
		GenAIAPIKey:    a.cfg.Embedding.GenAIAPIKey,
		GenAIModel:     a.cfg.Embedding.GenAIModel,
		TaskType:       "RETRIEVAL_QUERY",
	})
	if err != nil {
		return err
	}

	ctx, cancel := withTimeout()
	defer cancel()

	vec, err := engine.Embed(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := a.store.SearchSimilarInstances(ctx, embedding.ToFloat64(vec), searchLimit)
	if err != nil {
		return err
	}
	logger.Info("Similarity search",
		zap.String("query", query),
		zap.Int("results", len(results)))

	if len(results) == 0 {
		fmt.Println("No matching instances found.")
		return nil
	}

	for i, r := range results {
		inst, err := a.store.LoadInstance(ctx, r.InstanceID)
		if err != nil {
			return err
		}
		if inst == nil {
			// Vector row survived an instance deletion; skip it.
			continue
		}
		fmt.Printf("%d. [%.3f] %s\n   quality %.0f, session %s\n",
			i+1, r.Score, truncateLine(inst.Question, 100), inst.QualityScore, inst.SessionID)
	}
	return nil
}
