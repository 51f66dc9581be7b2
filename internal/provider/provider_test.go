package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"expertmine/internal/config"
)

func geminiServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestGeminiComplete(t *testing.T) {
	var gotSystem, gotUser string
	srv := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-goog-api-key"); got != "test-key" {
			t.Errorf("api key header = %q", got)
		}
		var req geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.SystemInstruction != nil {
			gotSystem = req.SystemInstruction.Parts[0].Text
		}
		gotUser = req.Contents[0].Parts[0].Text

		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{{"text": "  the answer  "}}}},
			},
		})
	})

	c := NewGeminiClientWithConfig(GeminiConfig{
		APIKey: "test-key", BaseURL: srv.URL, Model: "gemini-2.0-flash", Timeout: 5 * time.Second,
	})

	got, err := c.CompleteWithSystem(context.Background(), "be terse", "hello")
	if err != nil {
		t.Fatalf("CompleteWithSystem: %v", err)
	}
	if got != "the answer" {
		t.Errorf("completion = %q, want trimmed %q", got, "the answer")
	}
	if gotSystem != "be terse" || gotUser != "hello" {
		t.Errorf("prompts sent: system=%q user=%q", gotSystem, gotUser)
	}
}

func TestGeminiRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{{"text": "recovered"}}}},
			},
		})
	})

	c := NewGeminiClientWithConfig(GeminiConfig{
		APIKey: "k", BaseURL: srv.URL, Model: "m", Timeout: 5 * time.Second,
	})
	got, err := c.Complete(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "recovered" {
		t.Errorf("completion = %q", got)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestGeminiSurfacesClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "bad request"}}`))
	})

	c := NewGeminiClientWithConfig(GeminiConfig{
		APIKey: "k", BaseURL: srv.URL, Model: "m", Timeout: 5 * time.Second,
	})
	if _, err := c.Complete(context.Background(), "hi"); err == nil {
		t.Fatal("expected error for 400")
	}
	// 4xx other than 429 must not retry.
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestGeminiRequiresAPIKey(t *testing.T) {
	c := NewGeminiClientWithConfig(GeminiConfig{BaseURL: "http://unused", Model: "m"})
	if _, err := c.Complete(context.Background(), "hi"); err == nil {
		t.Error("missing API key must fail before any request")
	}
}

func TestOpenAIComplete(t *testing.T) {
	srv := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		var req openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("messages = %+v", req.Messages)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "reply"}},
			},
		})
	})

	c := NewOpenAIClientWithConfig(OpenAIConfig{
		APIKey: "test-key", BaseURL: srv.URL, Model: "gpt-4o-mini", Timeout: 5 * time.Second,
	})
	got, err := c.CompleteWithSystem(context.Background(), "be terse", "hello")
	if err != nil {
		t.Fatalf("CompleteWithSystem: %v", err)
	}
	if got != "reply" {
		t.Errorf("completion = %q", got)
	}
}

func TestOpenAIEmptyChoices(t *testing.T) {
	srv := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	})

	c := NewOpenAIClientWithConfig(OpenAIConfig{
		APIKey: "k", BaseURL: srv.URL, Model: "m", Timeout: 5 * time.Second,
	})
	if _, err := c.Complete(context.Background(), "hi"); err == nil {
		t.Error("empty choices must fail")
	}
}

func TestNewClientSelectsProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LLM.APIKey = "k"

	cfg.LLM.Provider = "gemini"
	if c, err := NewClient(cfg); err != nil {
		t.Errorf("gemini: %v", err)
	} else if _, ok := c.(*GeminiClient); !ok {
		t.Errorf("gemini: got %T", c)
	}

	cfg.LLM.Provider = "openai"
	cfg.LLM.Model = "gpt-4o"
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("openai: %v", err)
	}
	oc, ok := c.(*OpenAIClient)
	if !ok {
		t.Fatalf("openai: got %T", c)
	}
	if oc.GetModel() != "gpt-4o" {
		t.Errorf("model = %q", oc.GetModel())
	}

	cfg.LLM.Provider = "anthropic"
	if _, err := NewClient(cfg); err == nil {
		t.Error("unknown provider must be rejected")
	}
}
