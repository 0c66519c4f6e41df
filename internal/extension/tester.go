package extension

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/mohammad-safakhou/newsflow/internal/model"
	"github.com/mohammad-safakhou/newsflow/internal/plugin"
)

// test builds the candidate against the snapshot's builders and runs one
// sample fetch. Passing means the fetch ran without raising and produced at
// least one article-shaped record. The candidate never touches the registry
// here.
func (a *Agent) test(ctx context.Context, snap *plugin.Snapshot, d plugin.Descriptor) (sample []model.RawArticle, valid int, err error) {
	defer func() {
		if r := recover(); r != nil {
			sample, valid = nil, 0
			err = fmt.Errorf("test: source panicked: %v", r)
		}
	}()

	src, err := snap.BuildSource(d)
	if err != nil {
		return nil, 0, fmt.Errorf("test: build: %w", err)
	}

	if a.cfg.TestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.TestTimeout)
		defer cancel()
	}
	articles, err := src.Fetch(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("test: fetch: %w", err)
	}

	limit := a.cfg.SampleLimit
	if limit <= 0 {
		limit = 5
	}
	for _, raw := range articles {
		if !articleShaped(raw) {
			continue
		}
		valid++
		if len(sample) < limit {
			sample = append(sample, raw)
		}
	}
	if valid == 0 {
		return nil, 0, fmt.Errorf("test: fetch returned %d records, none article-shaped", len(articles))
	}
	return sample, valid, nil
}

// articleShaped checks the minimal source contract: a non-empty title and a
// parseable absolute url.
func articleShaped(raw model.RawArticle) bool {
	if strings.TrimSpace(raw.Title) == "" {
		return false
	}
	u, err := url.Parse(strings.TrimSpace(raw.URL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	return true
}
