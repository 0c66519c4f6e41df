package index

import (
	"testing"
	"time"

	"github.com/mohammad-safakhou/newsflow/internal/model"
)

func summarized(title, body, url, topic, source, summary string) model.Summarized {
	item := model.Summarized{
		Article: model.Article{
			ID:         model.ArticleID(title, url),
			Title:      title,
			Body:       body,
			URL:        url,
			Topic:      topic,
			SourceName: source,
			FetchedAt:  time.Now(),
		},
	}
	if summary != "" {
		item.Summary = &model.Summary{ArticleID: item.Article.ID, Text: summary, ModelName: "gpt-4o-mini", ProducedAt: time.Now()}
	} else {
		item.Degraded = true
	}
	return item
}

func TestIndexAndSearch(t *testing.T) {
	ix, err := NewMemOnly()
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	defer ix.Close()

	items := []model.Summarized{
		summarized("Glacier retreat accelerates", "Long form body about glaciers.", "https://example.com/glaciers", "science", "bbc", "Glaciers are retreating faster than forecast."),
		summarized("Transfer window closes", "Football clubs finished their signings.", "https://example.com/transfers", "sports", "mirror", "The transfer window closed with record spending."),
		summarized("Markets drift sideways", "Equities were flat on low volume.", "https://example.com/markets", "finance", "bbc", ""),
	}
	if err := ix.IndexArticles(items); err != nil {
		t.Fatalf("index: %v", err)
	}

	n, err := ix.Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 documents, got %d", n)
	}

	hits, err := ix.Search("glaciers", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatalf("expected at least one hit")
	}
	if hits[0].ArticleID != items[0].Article.ID {
		t.Fatalf("expected glacier article first, got %s", hits[0].Title)
	}
	if hits[0].Rank != 1 {
		t.Fatalf("expected rank 1, got %d", hits[0].Rank)
	}
	if hits[0].Topic != "science" || hits[0].URL != "https://example.com/glaciers" {
		t.Fatalf("unexpected hit fields: %+v", hits[0])
	}
	if hits[0].Snippet != "Glaciers are retreating faster than forecast." {
		t.Fatalf("expected summary snippet, got %q", hits[0].Snippet)
	}
}

func TestSearchFallsBackToBodySnippet(t *testing.T) {
	ix, err := NewMemOnly()
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	defer ix.Close()

	if err := ix.IndexArticles([]model.Summarized{
		summarized("Markets drift sideways", "Equities were flat on low volume.", "https://example.com/markets", "finance", "bbc", ""),
	}); err != nil {
		t.Fatalf("index: %v", err)
	}

	hits, err := ix.Search("equities", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected one hit, got %d", len(hits))
	}
	if hits[0].Snippet != "Equities were flat on low volume." {
		t.Fatalf("expected body snippet for degraded article, got %q", hits[0].Snippet)
	}
}

func TestReindexReplacesDocument(t *testing.T) {
	ix, err := NewMemOnly()
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	defer ix.Close()

	first := summarized("Budget vote delayed", "Parliament postponed the vote.", "https://example.com/budget", "politics", "bbc", "The vote slipped a week.")
	if err := ix.IndexArticles([]model.Summarized{first}); err != nil {
		t.Fatalf("index: %v", err)
	}

	second := first
	second.Summary = &model.Summary{ArticleID: first.Article.ID, Text: "The vote now has a firm date.", ModelName: "gpt-4o-mini", ProducedAt: time.Now()}
	if err := ix.IndexArticles([]model.Summarized{second}); err != nil {
		t.Fatalf("reindex: %v", err)
	}

	n, _ := ix.Count()
	if n != 1 {
		t.Fatalf("expected 1 document after reindex, got %d", n)
	}
	hits, err := ix.Search("vote", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].Snippet != "The vote now has a firm date." {
		t.Fatalf("expected replaced summary, got %+v", hits)
	}
}

func TestSnippetTruncates(t *testing.T) {
	long := make([]byte, 400)
	for i := range long {
		long[i] = 'a'
	}
	got := snippet(string(long))
	if len([]rune(got)) != 301 {
		t.Fatalf("expected 300 chars plus ellipsis, got %d", len([]rune(got)))
	}
}
