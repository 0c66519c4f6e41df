package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/mohammad-safakhou/newsflow/internal/model"
	"github.com/mohammad-safakhou/newsflow/internal/plugin"
)

type rssConfig struct {
	URL    string        `config:"url"`
	Limit  int           `config:"limit"`
	MaxAge time.Duration `config:"max_age"`
}

type rssSource struct {
	name   string
	cfg    rssConfig
	parser *gofeed.Parser
}

// NewRSS builds a source that reads an RSS or Atom feed.
func NewRSS(d plugin.Descriptor) (plugin.Source, error) {
	var cfg rssConfig
	if err := plugin.DecodeConfig(d.Config, &cfg); err != nil {
		return nil, fmt.Errorf("source %s: %w", d.Name, err)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("source %s: url is required", d.Name)
	}
	return &rssSource{name: d.Name, cfg: cfg, parser: gofeed.NewParser()}, nil
}

func (s *rssSource) Name() string { return s.name }

func (s *rssSource) Fetch(ctx context.Context) ([]model.RawArticle, error) {
	feed, err := s.parser.ParseURLWithContext(s.cfg.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing feed %s: %w", s.cfg.URL, err)
	}

	now := time.Now()
	articles := make([]model.RawArticle, 0, len(feed.Items))
	for _, item := range feed.Items {
		published := now
		if item.PublishedParsed != nil {
			published = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			published = *item.UpdatedParsed
		}
		if s.cfg.MaxAge > 0 && published.Before(now.Add(-s.cfg.MaxAge)) {
			continue
		}

		body := item.Content
		if body == "" {
			body = item.Description
		}

		topic := ""
		if len(item.Categories) > 0 {
			topic = strings.ToLower(strings.TrimSpace(item.Categories[0]))
		}

		articles = append(articles, model.RawArticle{
			Title:       item.Title,
			Body:        stripHTML(body),
			URL:         item.Link,
			Topic:       topic,
			PublishedAt: published,
		})
		if s.cfg.Limit > 0 && len(articles) >= s.cfg.Limit {
			break
		}
	}
	return articles, nil
}

// stripHTML drops tags and collapses whitespace. Feed descriptions routinely
// embed markup that downstream summarizers should not see.
func stripHTML(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
