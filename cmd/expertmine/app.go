package main

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"expertmine/internal/compaction"
	"expertmine/internal/config"
	"expertmine/internal/embedding"
	"expertmine/internal/engine"
	"expertmine/internal/generation"
	"expertmine/internal/interview"
	"expertmine/internal/logging"
	"expertmine/internal/provider"
	"expertmine/internal/quota"
	"expertmine/internal/session"
	"expertmine/internal/store"
	"expertmine/internal/threshold"
	"expertmine/internal/types"
	"expertmine/internal/workflow"
)

// app holds the fully wired engine and its lifecycle handles.
type app struct {
	cfg       *config.Config
	store     *store.Store
	ledger    *quota.Ledger
	indexer   *embedding.Indexer
	evaluator *threshold.Evaluator
	compactor *compaction.Compactor
	engine    *engine.Engine
	watcher   *config.Watcher
}

// buildApp wires the full pipeline from configuration.
func buildApp(ws string) (*app, error) {
	if err := logging.Initialize(ws); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logging.Boot("expertmine %s starting in %s", version, ws)

	cfg, err := config.Load(config.DefaultPath(ws))
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := provider.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	st, err := store.NewStore(workspacePath(ws, cfg.Storage.DatabasePath))
	if err != nil {
		return nil, err
	}

	ledger, err := quota.NewLedger(quota.Config{
		MonthlyAllowance: cfg.Quota.MonthlyAllowance,
		Path:             workspacePath(ws, cfg.Storage.QuotaPath),
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	// Embedding is best-effort infrastructure: an unreachable engine disables
	// vector indexing but never blocks interviews.
	var indexer *embedding.Indexer
	var instanceIndexer types.InstanceIndexer
	if cfg.Embedding.Provider != "none" {
		embedEngine, err := embedding.NewEngine(embedding.Config{
			Provider:       cfg.Embedding.Provider,
			OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
			OllamaModel:    cfg.Embedding.OllamaModel,
			GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
			GenAIModel:     cfg.Embedding.GenAIModel,
			TaskType:       "RETRIEVAL_DOCUMENT",
		})
		if err != nil {
			logging.EmbeddingWarn("Embedding disabled: %v", err)
		} else {
			indexer = embedding.NewIndexer(embedEngine, st)
			instanceIndexer = indexer
		}
	}

	evaluator := threshold.NewEvaluator(thresholdConfig(cfg), client)
	compactor := compaction.NewCompactor(compactionConfig(cfg), client)
	node := interview.NewNode(client)
	generator := generation.NewGenerator(generation.Config{
		InstanceTarget: cfg.Engine.InstanceTarget,
		ParseRetries:   cfg.Engine.GenerationRetries,
	}, client, ledger, st, instanceIndexer)

	registry := session.NewRegistry(cfg.Engine.MaxSessionsPerUser, st)
	merger := session.NewMerger(st)
	orchestrator := workflow.NewOrchestrator(node, evaluator, generator, compactor, merger, st)
	eng := engine.New(registry, orchestrator, merger, st)

	a := &app{
		cfg:       cfg,
		store:     st,
		ledger:    ledger,
		indexer:   indexer,
		evaluator: evaluator,
		compactor: compactor,
		engine:    eng,
	}

	// Hot-reload tunables on config file changes.
	watcher, err := config.NewWatcher(ws, cfg, func(next *config.Config) {
		logger.Info("Config reloaded, engine tunables updated",
			zap.Float64("generation_threshold", next.Engine.GenerationThreshold),
			zap.Int("max_exchanges", next.Engine.MaxExchanges))
		a.evaluator.Update(thresholdConfig(next))
		a.compactor.Update(compactionConfig(next))
	})
	if err != nil {
		logging.Boot("Config watcher unavailable: %v", err)
	} else if err := watcher.Start(); err != nil {
		logging.Boot("Config watcher failed to start: %v", err)
	} else {
		a.watcher = watcher
	}

	logger.Info("Engine wired",
		zap.String("workspace", ws),
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", cfg.LLM.Model),
		zap.Bool("embedding", indexer != nil))
	return a, nil
}

func (a *app) close() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.indexer != nil {
		a.indexer.Close()
	}
	if a.ledger != nil {
		_ = a.ledger.Save()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	logging.CloseAll()
}

func thresholdConfig(cfg *config.Config) threshold.Config {
	return threshold.Config{
		GenerationThreshold: cfg.Engine.GenerationThreshold,
		MaxExchanges:        cfg.Engine.MaxExchanges,
		AdvisoryMode:        threshold.AdvisoryMode(cfg.Engine.AdvisoryMode),
		AdvisoryLow:         cfg.Engine.AdvisoryLow,
		AdvisoryHigh:        cfg.Engine.AdvisoryHigh,
	}
}

func compactionConfig(cfg *config.Config) compaction.Config {
	return compaction.Config{
		Budget: cfg.Engine.ContextBudget,
		Target: cfg.Engine.CompactionTarget,
	}
}

// workspacePath resolves a possibly workspace-relative path.
func workspacePath(ws, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(ws, path)
}

// withTimeout derives the standard operation context.
func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
