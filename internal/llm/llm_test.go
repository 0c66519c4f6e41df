package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mohammad-safakhou/newsflow/config"
)

func TestOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization header: %q", got)
		}
		var in struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if in.Model != "gpt-4o-mini" {
			t.Errorf("unexpected model: %q", in.Model)
		}
		if len(in.Messages) != 1 || in.Messages[0].Content != "summarize this" {
			t.Errorf("unexpected messages: %#v", in.Messages)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"a summary"}}],"usage":{"prompt_tokens":12,"completion_tokens":7}}`))
	}))
	defer srv.Close()

	p, err := New("primary", config.LLMProviderConfig{
		Type:    "openai",
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "gpt-4o-mini",
		Timeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("constructing provider: %v", err)
	}

	text, usage, err := p.Generate(context.Background(), "summarize this")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "a summary" {
		t.Fatalf("unexpected text: %q", text)
	}
	if usage.PromptTokens != 12 || usage.CompletionTokens != 7 {
		t.Fatalf("unexpected usage: %+v", usage)
	}
	if p.ModelName() != "gpt-4o-mini" {
		t.Fatalf("unexpected model name: %q", p.ModelName())
	}
}

func TestOpenAIGenerateNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	p, _ := New("primary", config.LLMProviderConfig{Type: "openai", APIKey: "k", BaseURL: srv.URL, Model: "gpt-4o-mini"})
	if _, _, err := p.Generate(context.Background(), "x"); err == nil {
		t.Fatalf("expected error for empty choices")
	}
}

func TestOllamaGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var in struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
			Stream bool   `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if in.Stream {
			t.Errorf("expected stream=false")
		}
		w.Write([]byte(`{"response":"local summary","prompt_eval_count":20,"eval_count":9}`))
	}))
	defer srv.Close()

	p, err := New("local", config.LLMProviderConfig{Type: "ollama", BaseURL: srv.URL, Model: "llama3"})
	if err != nil {
		t.Fatalf("constructing provider: %v", err)
	}
	text, usage, err := p.Generate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "local summary" {
		t.Fatalf("unexpected text: %q", text)
	}
	if usage.Total() != 29 {
		t.Fatalf("unexpected usage total: %d", usage.Total())
	}
}

func TestPickFallsBack(t *testing.T) {
	ps, err := FromConfig(config.LLMConfig{
		Providers: map[string]config.LLMProviderConfig{
			"primary": {Type: "openai", Model: "gpt-4o-mini"},
			"backup":  {Type: "ollama", Model: "llama3"},
		},
	})
	if err != nil {
		t.Fatalf("building providers: %v", err)
	}

	p, err := ps.Pick("primary", "backup")
	if err != nil || p.Name() != "primary" {
		t.Fatalf("expected primary, got %v (%v)", p, err)
	}

	p, err = ps.Pick("", "backup")
	if err != nil || p.Name() != "backup" {
		t.Fatalf("expected fallback, got %v (%v)", p, err)
	}

	if _, err := ps.Pick("missing", "also-missing"); err == nil {
		t.Fatalf("expected error for unroutable provider")
	}
}

func TestCostCalculation(t *testing.T) {
	p, _ := New("primary", config.LLMProviderConfig{
		Type:            "openai",
		Model:           "gpt-4o-mini",
		CostPer1KInput:  0.15,
		CostPer1KOutput: 0.60,
	})
	got := p.Cost(Usage{PromptTokens: 2000, CompletionTokens: 1000})
	want := 0.15*2 + 0.60*1
	if got != want {
		t.Fatalf("unexpected cost: got %f want %f", got, want)
	}
}

func TestUnsupportedProviderType(t *testing.T) {
	if _, err := New("x", config.LLMProviderConfig{Type: "anthropic", Model: "claude"}); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
}
