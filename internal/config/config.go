// Package config loads and validates expertmine configuration from
// .expertmine/config.yaml, with environment variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all expertmine configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration (text-generation provider)
	LLM LLMConfig `yaml:"llm"`

	// Engine tunables (thresholds, caps, budgets)
	Engine EngineConfig `yaml:"engine"`

	// Storage configuration
	Storage StorageConfig `yaml:"storage"`

	// Embedding / vector indexing
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Quota ledger
	Quota QuotaConfig `yaml:"quota"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the text-generation provider.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini, openai
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// EngineConfig holds the interview engine tunables. These are the values the
// config watcher hot-reloads at runtime.
type EngineConfig struct {
	// Saturation decision
	GenerationThreshold float64 `yaml:"generation_threshold"` // default 75
	MaxExchanges        int     `yaml:"max_exchanges"`        // hard cap, default 20

	// Advisory pass over the deterministic score.
	// "advisory": logged-only signal, deterministic score rules (default).
	// "authoritative": a "ready" recommendation forces generation.
	AdvisoryMode string  `yaml:"advisory_mode"`
	AdvisoryLow  float64 `yaml:"advisory_low"`  // band lower bound, default 60
	AdvisoryHigh float64 `yaml:"advisory_high"` // band upper bound, default 80

	// Session admission
	MaxSessionsPerUser int `yaml:"max_sessions_per_user"` // default 3

	// Instance generation
	InstanceTarget    int `yaml:"instance_target"`    // instances per session, default 10
	GenerationRetries int `yaml:"generation_retries"` // parse retries, default 2

	// Context compaction
	ContextBudget    int     `yaml:"context_budget"`    // chars, default 12000
	CompactionTarget float64 `yaml:"compaction_target"` // fraction of original, default 0.70
}

// StorageConfig configures SQLite persistence.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	QuotaPath    string `yaml:"quota_path"` // JSON quota ledger
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // ollama, genai, none
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"`
}

// QuotaConfig configures the per-user instance quota.
type QuotaConfig struct {
	MonthlyAllowance int `yaml:"monthly_allowance"` // instances per user per month
}

// LoggingConfig configures categorized file logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Categories map[string]bool `yaml:"categories"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "expertmine",
		Version: "0.3.0",

		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.0-flash",
			Timeout:  "120s",
		},

		Engine: EngineConfig{
			GenerationThreshold: 75,
			MaxExchanges:        20,
			AdvisoryMode:        "advisory",
			AdvisoryLow:         60,
			AdvisoryHigh:        80,
			MaxSessionsPerUser:  3,
			InstanceTarget:      10,
			GenerationRetries:   2,
			ContextBudget:       12000,
			CompactionTarget:    0.70,
		},

		Storage: StorageConfig{
			DatabasePath: ".expertmine/expertmine.db",
			QuotaPath:    ".expertmine/quota.json",
		},

		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
		},

		Quota: QuotaConfig{
			MonthlyAllowance: 200,
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the workspace-relative config path.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, ".expertmine", "config.yaml")
}

// Load loads configuration from a YAML file. Missing file returns defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides. Secrets are never
// expected in the YAML file.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider == "" {
			c.LLM.Provider = "gemini"
		}
		if c.Embedding.GenAIAPIKey == "" {
			c.Embedding.GenAIAPIKey = key
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
	}
	if key := os.Getenv("EXPERTMINE_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if path := os.Getenv("EXPERTMINE_DB"); path != "" {
		c.Storage.DatabasePath = path
	}
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	e := c.Engine
	if e.GenerationThreshold <= 0 || e.GenerationThreshold > 100 {
		return fmt.Errorf("engine.generation_threshold must be in (0,100], got %v", e.GenerationThreshold)
	}
	if e.MaxExchanges <= 0 {
		return fmt.Errorf("engine.max_exchanges must be positive, got %d", e.MaxExchanges)
	}
	if e.MaxSessionsPerUser <= 0 {
		return fmt.Errorf("engine.max_sessions_per_user must be positive, got %d", e.MaxSessionsPerUser)
	}
	if e.AdvisoryMode != "advisory" && e.AdvisoryMode != "authoritative" {
		return fmt.Errorf("engine.advisory_mode must be 'advisory' or 'authoritative', got %q", e.AdvisoryMode)
	}
	if e.AdvisoryLow >= e.AdvisoryHigh {
		return fmt.Errorf("engine.advisory_low (%v) must be below advisory_high (%v)", e.AdvisoryLow, e.AdvisoryHigh)
	}
	if e.InstanceTarget <= 0 {
		return fmt.Errorf("engine.instance_target must be positive, got %d", e.InstanceTarget)
	}
	if e.ContextBudget <= 0 {
		return fmt.Errorf("engine.context_budget must be positive, got %d", e.ContextBudget)
	}
	if e.CompactionTarget <= 0 || e.CompactionTarget >= 1 {
		return fmt.Errorf("engine.compaction_target must be in (0,1), got %v", e.CompactionTarget)
	}
	return nil
}
