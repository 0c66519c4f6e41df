package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mohammad-safakhou/newsflow/internal/model"
	"github.com/mohammad-safakhou/newsflow/internal/plugin"
)

const newsapiDefaultEndpoint = "https://newsapi.org/v2/everything"

type newsapiConfig struct {
	APIKey   string `config:"api_key"`
	Query    string `config:"query"`
	Language string `config:"language"`
	Endpoint string `config:"endpoint"`
	Limit    int    `config:"limit"`
}

type newsapiSource struct {
	name   string
	cfg    newsapiConfig
	client *http.Client
}

// NewNewsAPI builds a source backed by the NewsAPI /everything endpoint.
func NewNewsAPI(d plugin.Descriptor) (plugin.Source, error) {
	var cfg newsapiConfig
	if err := plugin.DecodeConfig(d.Config, &cfg); err != nil {
		return nil, fmt.Errorf("source %s: %w", d.Name, err)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("source %s: api_key is required", d.Name)
	}
	if cfg.Query == "" {
		return nil, fmt.Errorf("source %s: query is required", d.Name)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = newsapiDefaultEndpoint
	}
	return &newsapiSource{
		name:   d.Name,
		cfg:    cfg,
		client: &http.Client{Timeout: 20 * time.Second},
	}, nil
}

func (s *newsapiSource) Name() string { return s.name }

func (s *newsapiSource) Fetch(ctx context.Context) ([]model.RawArticle, error) {
	params := url.Values{}
	params.Add("q", s.cfg.Query)
	if s.cfg.Language != "" {
		params.Add("language", s.cfg.Language)
	}
	if s.cfg.Limit > 0 {
		params.Add("pageSize", strconv.Itoa(s.cfg.Limit))
	}
	params.Add("apiKey", s.cfg.APIKey)

	reqURL := fmt.Sprintf("%s?%s", s.cfg.Endpoint, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch news: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("newsapi error: %s", resp.Status)
	}

	var result struct {
		Status   string `json:"status"`
		Articles []struct {
			Title       string    `json:"title"`
			Description string    `json:"description"`
			URL         string    `json:"url"`
			PublishedAt time.Time `json:"publishedAt"`
		} `json:"articles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if result.Status != "ok" {
		return nil, fmt.Errorf("newsapi status: %s", result.Status)
	}

	articles := make([]model.RawArticle, 0, len(result.Articles))
	for _, a := range result.Articles {
		articles = append(articles, model.RawArticle{
			Title:       a.Title,
			Body:        a.Description,
			URL:         a.URL,
			PublishedAt: a.PublishedAt,
		})
	}
	return articles, nil
}
