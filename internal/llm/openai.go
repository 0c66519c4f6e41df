package llm

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/mohammad-safakhou/newsflow/config"
	"github.com/mohammad-safakhou/newsflow/internal/httpx"
)

const openaiDefaultBaseURL = "https://api.openai.com/v1"

type openaiProvider struct {
	name string
	cfg  config.LLMProviderConfig
	http *httpx.Client
}

func newOpenAI(name string, cfg config.LLMProviderConfig) *openaiProvider {
	return &openaiProvider{
		name: name,
		cfg:  cfg,
		http: httpx.NewClient(cfg.Timeout, cfg.MaxRetries, 0),
	}
}

func (p *openaiProvider) Name() string      { return p.name }
func (p *openaiProvider) ModelName() string { return p.cfg.Model }

func (p *openaiProvider) Generate(ctx context.Context, prompt string) (string, Usage, error) {
	apiKey := p.cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return "", Usage{}, fmt.Errorf("openai API key not configured")
	}

	type chatMsg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	reqBody := struct {
		Model       string    `json:"model"`
		Messages    []chatMsg `json:"messages"`
		Temperature float64   `json:"temperature,omitempty"`
		MaxTokens   int       `json:"max_tokens,omitempty"`
	}{
		Model:       p.cfg.Model,
		Messages:    []chatMsg{{Role: "user", Content: prompt}},
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
	}

	baseURL := p.cfg.BaseURL
	if baseURL == "" {
		baseURL = openaiDefaultBaseURL
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int64 `json:"prompt_tokens"`
			CompletionTokens int64 `json:"completion_tokens"`
		} `json:"usage"`
	}
	headers := map[string]string{"Authorization": "Bearer " + apiKey}
	if err := p.http.DoJSON(ctx, http.MethodPost, baseURL+"/chat/completions", headers, reqBody, &out); err != nil {
		return "", Usage{}, fmt.Errorf("openai generate: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("openai generate: no choices in response")
	}

	usage := Usage{PromptTokens: out.Usage.PromptTokens, CompletionTokens: out.Usage.CompletionTokens}
	return out.Choices[0].Message.Content, usage, nil
}

func (p *openaiProvider) Cost(u Usage) float64 { return cost(p.cfg, u) }
