package pipeline

import (
	"strings"
	"time"

	"github.com/mohammad-safakhou/newsflow/internal/model"
)

// DedupRoute collapses duplicate articles and assigns every survivor a
// topic. It is a pure function of its inputs: given the same source results
// in the same order it produces the same output.
//
// Identity is the content hash of normalized title and url. The first
// occurrence wins; ordering follows the source result order, then the
// within-source order. Topic precedence: the article's own topic, then the
// source's default topic, then the global default. Records without a title
// or url are dropped with a recorded reason, never silently.
func DedupRoute(results []SourceResult, defaultTopic string, now time.Time) ([]model.Article, []model.DropReason) {
	seen := make(map[string]struct{})
	var articles []model.Article
	var drops []model.DropReason

	for _, res := range results {
		sourceTopic := res.Descriptor.DefaultTopic()
		for _, raw := range res.Articles {
			title := strings.TrimSpace(raw.Title)
			url := strings.TrimSpace(raw.URL)
			if title == "" {
				drops = append(drops, model.DropReason{SourceName: res.Descriptor.Name, Title: raw.Title, Reason: "missing title"})
				continue
			}
			if url == "" {
				drops = append(drops, model.DropReason{SourceName: res.Descriptor.Name, Title: title, Reason: "missing url"})
				continue
			}

			id := model.ArticleID(title, url)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}

			topic := strings.TrimSpace(raw.Topic)
			if topic == "" {
				topic = sourceTopic
			}
			if topic == "" {
				topic = defaultTopic
			}
			topic = strings.ToLower(topic)

			articles = append(articles, model.Article{
				ID:         id,
				Title:      title,
				Body:       raw.Body,
				URL:        url,
				Topic:      topic,
				SourceName: res.Descriptor.Name,
				FetchedAt:  now,
			})
		}
	}
	return articles, drops
}
