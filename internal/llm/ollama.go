package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mohammad-safakhou/newsflow/config"
	"github.com/mohammad-safakhou/newsflow/internal/httpx"
)

const ollamaDefaultBaseURL = "http://localhost:11434"

type ollamaProvider struct {
	name string
	cfg  config.LLMProviderConfig
	http *httpx.Client
}

func newOllama(name string, cfg config.LLMProviderConfig) *ollamaProvider {
	return &ollamaProvider{
		name: name,
		cfg:  cfg,
		http: httpx.NewClient(cfg.Timeout, cfg.MaxRetries, 0),
	}
}

func (p *ollamaProvider) Name() string      { return p.name }
func (p *ollamaProvider) ModelName() string { return p.cfg.Model }

func (p *ollamaProvider) Generate(ctx context.Context, prompt string) (string, Usage, error) {
	type generateOptions struct {
		NumPredict  int     `json:"num_predict,omitempty"`
		Temperature float64 `json:"temperature,omitempty"`
	}
	reqBody := struct {
		Model   string          `json:"model"`
		Prompt  string          `json:"prompt"`
		Stream  bool            `json:"stream"`
		Options generateOptions `json:"options"`
	}{
		Model:  p.cfg.Model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			NumPredict:  p.cfg.MaxTokens,
			Temperature: p.cfg.Temperature,
		},
	}

	baseURL := p.cfg.BaseURL
	if baseURL == "" {
		baseURL = ollamaDefaultBaseURL
	}

	var out struct {
		Response        string `json:"response"`
		PromptEvalCount int64  `json:"prompt_eval_count"`
		EvalCount       int64  `json:"eval_count"`
	}
	if err := p.http.DoJSON(ctx, http.MethodPost, baseURL+"/api/generate", nil, reqBody, &out); err != nil {
		return "", Usage{}, fmt.Errorf("ollama generate: %w", err)
	}
	if out.Response == "" {
		return "", Usage{}, fmt.Errorf("ollama generate: empty response")
	}

	usage := Usage{PromptTokens: out.PromptEvalCount, CompletionTokens: out.EvalCount}
	return out.Response, usage, nil
}

func (p *ollamaProvider) Cost(u Usage) float64 { return cost(p.cfg, u) }
