package provider

import (
	"fmt"

	"expertmine/internal/config"
	"expertmine/internal/types"
)

// NewClient builds an LLM client from configuration.
func NewClient(cfg *config.Config) (types.LLMClient, error) {
	llm := cfg.LLM
	switch llm.Provider {
	case "gemini", "":
		gc := DefaultGeminiConfig(llm.APIKey)
		if llm.Model != "" {
			gc.Model = llm.Model
		}
		if llm.BaseURL != "" {
			gc.BaseURL = llm.BaseURL
		}
		gc.Timeout = cfg.GetLLMTimeout()
		return NewGeminiClientWithConfig(gc), nil
	case "openai":
		oc := DefaultOpenAIConfig(llm.APIKey)
		if llm.Model != "" {
			oc.Model = llm.Model
		}
		if llm.BaseURL != "" {
			oc.BaseURL = llm.BaseURL
		}
		oc.Timeout = cfg.GetLLMTimeout()
		return NewOpenAIClientWithConfig(oc), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s (use 'gemini' or 'openai')", llm.Provider)
	}
}
