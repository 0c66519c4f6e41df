package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mohammad-safakhou/newsflow/internal/model"
	"github.com/mohammad-safakhou/newsflow/internal/plugin"
)

// summarizeAll summarizes every article under the configured concurrency
// ceiling. The output slice is positionally aligned with the input: nothing
// is dropped and nothing is reordered here. An article whose whole
// summarizer chain failed comes back Degraded, still headed for delivery.
func (o *Orchestrator) summarizeAll(ctx context.Context, snap *plugin.Snapshot, articles []model.Article) []model.Summarized {
	chain := o.summarizerChain(snap)
	if len(chain) == 0 {
		o.logger.Printf("no enabled summarizers; delivering title-only")
	}

	concurrency := o.cfg.SummarizeConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)

	out := make([]model.Summarized, len(articles))
	var wg sync.WaitGroup
	for i, a := range articles {
		if ctx.Err() != nil {
			out[i] = model.Summarized{Article: a, Degraded: true}
			continue
		}
		wg.Add(1)
		go func(i int, a model.Article) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			out[i] = o.summarizeArticle(ctx, chain, a)
		}(i, a)
	}
	wg.Wait()
	return out
}

// summarizerChain resolves the enabled summarizers in registration order.
// That order is the fallback order.
func (o *Orchestrator) summarizerChain(snap *plugin.Snapshot) []plugin.Summarizer {
	var chain []plugin.Summarizer
	for _, d := range snap.ListEnabled(plugin.KindSummarizer) {
		s, err := snap.ResolveSummarizer(d.Name)
		if err != nil {
			o.logger.Printf("warn: summarizer %s unavailable: %v", d.Name, err)
			continue
		}
		chain = append(chain, s)
	}
	return chain
}

// summarizeArticle walks the chain until one summarizer produces text. The
// summary is attributed to the model that actually produced it.
func (o *Orchestrator) summarizeArticle(ctx context.Context, chain []plugin.Summarizer, article model.Article) model.Summarized {
	prepared := article
	prepared.Body = truncateBody(article.Body, o.cfg.MaxBodyChars)

	for _, s := range chain {
		text, err := o.summarizeOnce(ctx, s, prepared)
		if err != nil {
			o.logger.Printf("summarizer %s failed for article %s: %v", s.Name(), article.ID, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		return model.Summarized{
			Article: article,
			Summary: &model.Summary{
				ArticleID:  article.ID,
				Text:       text,
				ModelName:  s.ModelName(),
				ProducedAt: time.Now(),
			},
		}
	}
	return model.Summarized{Article: article, Degraded: true}
}

// summarizeOnce calls one summarizer with the per-call timeout. A panicking
// summarizer is treated as a failed call, not a failed run.
func (o *Orchestrator) summarizeOnce(ctx context.Context, s plugin.Summarizer, article model.Article) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("summarizer %s panicked: %v", s.Name(), r)
		}
	}()

	if o.cfg.SummarizeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.SummarizeTimeout)
		defer cancel()
	}
	return s.Summarize(ctx, article)
}

// truncateBody cuts text to at most max runes, backing up to a word
// boundary when one is near.
func truncateBody(text string, max int) string {
	if max <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	cut := string(runes[:max])
	if i := strings.LastIndexAny(cut, " \t\n"); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "..."
}
