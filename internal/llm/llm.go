package llm

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/newsflow/config"
)

// Usage records token consumption for a single generation call.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
}

func (u Usage) Total() int64 { return u.PromptTokens + u.CompletionTokens }

// Provider generates text from a prompt against one configured model.
type Provider interface {
	Name() string
	ModelName() string
	Generate(ctx context.Context, prompt string) (string, Usage, error)
	Cost(u Usage) float64
}

// New constructs a provider from a single configuration entry.
func New(name string, cfg config.LLMProviderConfig) (Provider, error) {
	switch cfg.Type {
	case "openai":
		return newOpenAI(name, cfg), nil
	case "ollama":
		return newOllama(name, cfg), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider type: %s", cfg.Type)
	}
}

// Providers maps configuration keys to constructed providers.
type Providers map[string]Provider

func FromConfig(cfg config.LLMConfig) (Providers, error) {
	ps := make(Providers, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		p, err := New(name, pc)
		if err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", name, err)
		}
		ps[name] = p
	}
	return ps, nil
}

// Pick resolves a routing key, falling back to the fallback key when the
// primary is unset or unknown.
func (ps Providers) Pick(key, fallback string) (Provider, error) {
	if p, ok := ps[key]; ok {
		return p, nil
	}
	if p, ok := ps[fallback]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("no LLM provider for %q (fallback %q)", key, fallback)
}

func cost(cfg config.LLMProviderConfig, u Usage) float64 {
	inputCost := float64(u.PromptTokens) / 1000.0 * cfg.CostPer1KInput
	outputCost := float64(u.CompletionTokens) / 1000.0 * cfg.CostPer1KOutput
	return inputCost + outputCost
}
