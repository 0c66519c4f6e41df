package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/newsflow/internal/llm"
	"github.com/mohammad-safakhou/newsflow/internal/model"
	"github.com/mohammad-safakhou/newsflow/internal/plugin"
	"github.com/mohammad-safakhou/newsflow/internal/telemetry"
)

const defaultInstruction = "You are a professional news summarizer. Summarize the following article in 3-4 concise sentences, keeping key facts, names and numbers. Respond with the summary only."

type llmSummarizerConfig struct {
	Provider    string `config:"provider"`
	Instruction string `config:"instruction"`
}

type llmSummarizer struct {
	name        string
	provider    llm.Provider
	instruction string
	telemetry   *telemetry.Telemetry
}

// NewLLM returns a builder for summarizers backed by a configured LLM
// provider. The descriptor's provider key must name an entry in providers.
func NewLLM(providers llm.Providers, tel *telemetry.Telemetry) plugin.SummarizerBuilder {
	return func(d plugin.Descriptor) (plugin.Summarizer, error) {
		var cfg llmSummarizerConfig
		if err := plugin.DecodeConfig(d.Config, &cfg); err != nil {
			return nil, fmt.Errorf("summarizer %s: %w", d.Name, err)
		}
		if cfg.Provider == "" {
			return nil, fmt.Errorf("summarizer %s: provider is required", d.Name)
		}
		p, ok := providers[cfg.Provider]
		if !ok {
			return nil, fmt.Errorf("summarizer %s: unknown LLM provider %q", d.Name, cfg.Provider)
		}
		if cfg.Instruction == "" {
			cfg.Instruction = defaultInstruction
		}
		return &llmSummarizer{
			name:        d.Name,
			provider:    p,
			instruction: cfg.Instruction,
			telemetry:   tel,
		}, nil
	}
}

func (s *llmSummarizer) Name() string      { return s.name }
func (s *llmSummarizer) ModelName() string { return s.provider.ModelName() }

func (s *llmSummarizer) Summarize(ctx context.Context, article model.Article) (string, error) {
	if strings.TrimSpace(article.Body) == "" {
		return "", fmt.Errorf("summarizer %s: article %s has no body", s.name, article.ID)
	}

	prompt := fmt.Sprintf("%s\n\nTitle: %s\n\n%s", s.instruction, article.Title, article.Body)

	started := time.Now()
	text, usage, err := s.provider.Generate(ctx, prompt)
	if s.telemetry != nil {
		s.telemetry.RecordLLMEvent(telemetry.LLMEvent{
			Operation: "summarize",
			Model:     s.provider.ModelName(),
			Duration:  time.Since(started),
			Success:   err == nil,
			Tokens:    usage.Total(),
			Cost:      s.provider.Cost(usage),
		})
	}
	if err != nil {
		return "", fmt.Errorf("summarizer %s: %w", s.name, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("summarizer %s: empty summary for article %s", s.name, article.ID)
	}
	return text, nil
}
