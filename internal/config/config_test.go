package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope", "config.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.GenerationThreshold != 75 || cfg.Engine.MaxExchanges != 20 {
		t.Errorf("engine defaults: %+v", cfg.Engine)
	}
	if cfg.Engine.AdvisoryMode != "advisory" {
		t.Errorf("advisory mode default = %q", cfg.Engine.AdvisoryMode)
	}
	if cfg.Quota.MonthlyAllowance != 200 {
		t.Errorf("quota default = %d", cfg.Quota.MonthlyAllowance)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
engine:
  generation_threshold: 80
  max_sessions_per_user: 5
llm:
  provider: openai
  model: gpt-4o-mini
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.GenerationThreshold != 80 {
		t.Errorf("threshold = %v, want 80", cfg.Engine.GenerationThreshold)
	}
	if cfg.Engine.MaxSessionsPerUser != 5 {
		t.Errorf("max sessions = %d, want 5", cfg.Engine.MaxSessionsPerUser)
	}
	// Unspecified values keep their defaults.
	if cfg.Engine.MaxExchanges != 20 {
		t.Errorf("max exchanges = %d, want default 20", cfg.Engine.MaxExchanges)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".expertmine", "config.yaml")

	cfg := DefaultConfig()
	cfg.Engine.InstanceTarget = 7
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Engine.InstanceTarget != 7 {
		t.Errorf("instance target = %d, want 7", loaded.Engine.InstanceTarget)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold zero", func(c *Config) { c.Engine.GenerationThreshold = 0 }},
		{"threshold over 100", func(c *Config) { c.Engine.GenerationThreshold = 150 }},
		{"no exchange cap", func(c *Config) { c.Engine.MaxExchanges = 0 }},
		{"no session cap", func(c *Config) { c.Engine.MaxSessionsPerUser = 0 }},
		{"unknown advisory mode", func(c *Config) { c.Engine.AdvisoryMode = "maybe" }},
		{"inverted advisory band", func(c *Config) { c.Engine.AdvisoryLow = 90; c.Engine.AdvisoryHigh = 60 }},
		{"no instance target", func(c *Config) { c.Engine.InstanceTarget = 0 }},
		{"compaction target over 1", func(c *Config) { c.Engine.CompactionTarget = 1.5 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestGetLLMTimeout(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.GetLLMTimeout(); got != 120*time.Second {
		t.Errorf("default timeout = %v", got)
	}
	cfg.LLM.Timeout = "30s"
	if got := cfg.GetLLMTimeout(); got != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", got)
	}
	cfg.LLM.Timeout = "bogus"
	if got := cfg.GetLLMTimeout(); got != 120*time.Second {
		t.Errorf("unparseable timeout should fall back, got %v", got)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("EXPERTMINE_API_KEY", "from-env")
	t.Setenv("EXPERTMINE_DB", "/tmp/other.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "from-env" {
		t.Errorf("api key = %q", cfg.LLM.APIKey)
	}
	if cfg.Storage.DatabasePath != "/tmp/other.db" {
		t.Errorf("db path = %q", cfg.Storage.DatabasePath)
	}
}
