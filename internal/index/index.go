package index

import (
	"fmt"
	"os"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/mohammad-safakhou/newsflow/internal/model"
)

// Index is a full-text index over delivered articles. Summaries are indexed
// alongside titles and bodies so a search can hit either.
type Index struct {
	bleve bleve.Index
	mu    sync.RWMutex
}

// Hit is one search result.
type Hit struct {
	ArticleID string  `json:"article_id"`
	Title     string  `json:"title"`
	URL       string  `json:"url"`
	Topic     string  `json:"topic"`
	Snippet   string  `json:"snippet"`
	Score     float64 `json:"score"`
	Rank      int     `json:"rank"`
}

type document struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	Summary string `json:"summary"`
	URL     string `json:"url"`
	Topic   string `json:"topic"`
	Source  string `json:"source"`
}

// NewMemOnly builds an in-memory index, used by tests and when no path is
// configured.
func NewMemOnly() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Index{bleve: idx}, nil
}

// Open opens the index at path, creating it when absent.
func Open(path string) (*Index, error) {
	if path == "" {
		return NewMemOnly()
	}
	idx, err := bleve.Open(path)
	if err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("open index %s: %w", path, err)
		}
		idx, err = bleve.New(path, bleve.NewIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index %s: %w", path, err)
		}
	}
	return &Index{bleve: idx}, nil
}

// IndexArticles adds a batch of summarized articles. Re-indexing the same
// article id replaces the previous document.
func (ix *Index) IndexArticles(items []model.Summarized) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	batch := ix.bleve.NewBatch()
	for _, item := range items {
		doc := document{
			Title:  item.Article.Title,
			Body:   item.Article.Body,
			URL:    item.Article.URL,
			Topic:  item.Article.Topic,
			Source: item.Article.SourceName,
		}
		if item.Summary != nil {
			doc.Summary = item.Summary.Text
		}
		if err := batch.Index(item.Article.ID, doc); err != nil {
			return err
		}
	}
	return ix.bleve.Batch(batch)
}

// Search runs a query-string search and returns up to k hits.
func (ix *Index) Search(q string, k int) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	query := bleve.NewQueryStringQuery(q)
	searchReq := bleve.NewSearchRequestOptions(query, k, 0, false)
	searchReq.Fields = []string{"title", "url", "topic", "summary", "body"}
	res, err := ix.bleve.Search(searchReq)
	if err != nil {
		return nil, err
	}
	var out []Hit
	for i, hit := range res.Hits {
		h := Hit{
			ArticleID: hit.ID,
			Title:     fieldString(hit.Fields, "title"),
			URL:       fieldString(hit.Fields, "url"),
			Topic:     fieldString(hit.Fields, "topic"),
			Score:     hit.Score,
			Rank:      i + 1,
		}
		text := fieldString(hit.Fields, "summary")
		if text == "" {
			text = fieldString(hit.Fields, "body")
		}
		h.Snippet = snippet(text)
		out = append(out, h)
	}
	return out, nil
}

// Count reports the number of indexed documents.
func (ix *Index) Count() (uint64, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.bleve.DocCount()
}

// Close releases the underlying index.
func (ix *Index) Close() error {
	return ix.bleve.Close()
}

func fieldString(fields map[string]interface{}, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

func snippet(s string) string {
	if len(s) <= 300 {
		return s
	}
	return s[:300] + "…"
}
