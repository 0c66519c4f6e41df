package summarize

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/mohammad-safakhou/newsflow/internal/model"
	"github.com/mohammad-safakhou/newsflow/internal/plugin"
)

const fallbackMarker = "[Fallback Summary]"

type headlineConfig struct {
	Sentences int  `config:"sentences"`
	Marker    bool `config:"marker"`
}

// headlineSummarizer produces an extractive summary from the leading
// sentences of the article body. It needs no network and no credentials,
// which makes it the usual last link in a summarizer chain.
type headlineSummarizer struct {
	name      string
	sentences int
	marker    bool
}

func NewHeadline(d plugin.Descriptor) (plugin.Summarizer, error) {
	cfg := headlineConfig{Sentences: 3, Marker: true}
	if err := plugin.DecodeConfig(d.Config, &cfg); err != nil {
		return nil, fmt.Errorf("summarizer %s: %w", d.Name, err)
	}
	if cfg.Sentences <= 0 {
		cfg.Sentences = 3
	}
	return &headlineSummarizer{name: d.Name, sentences: cfg.Sentences, marker: cfg.Marker}, nil
}

func (s *headlineSummarizer) Name() string      { return s.name }
func (s *headlineSummarizer) ModelName() string { return "headline" }

func (s *headlineSummarizer) Summarize(_ context.Context, article model.Article) (string, error) {
	body := strings.TrimSpace(article.Body)
	if body == "" {
		return "", fmt.Errorf("summarizer %s: article %s has no body", s.name, article.ID)
	}

	parts := splitSentences(body)
	if len(parts) > s.sentences {
		parts = parts[:s.sentences]
	}
	text := strings.Join(parts, " ")
	if s.marker {
		text = fallbackMarker + " " + text
	}
	return text, nil
}

// splitSentences cuts text on sentence-ending punctuation followed by
// whitespace. Collapses internal runs of whitespace so multi-line bodies
// read as prose.
func splitSentences(text string) []string {
	var (
		sentences []string
		start     int
		runes     = []rune(text)
	)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				s := strings.Join(strings.Fields(string(runes[start:i+1])), " ")
				if s != "" {
					sentences = append(sentences, s)
				}
				start = i + 1
			}
		}
	}
	if start < len(runes) {
		s := strings.Join(strings.Fields(string(runes[start:])), " ")
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}
