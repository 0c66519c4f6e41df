package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// RawArticle is what a source plugin returns: unvalidated, not yet
// deduplicated, topic optional.
type RawArticle struct {
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	URL         string    `json:"url"`
	Topic       string    `json:"topic,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

// Article is a deduplicated, routed article. ID is derived from content
// (normalized title + url), never assigned, so identical stories from
// different sources collapse to one Article.
type Article struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	URL        string    `json:"url"`
	Topic      string    `json:"topic"`
	SourceName string    `json:"source_name"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// Summary is the summarizer output for one Article. Re-runs overwrite.
type Summary struct {
	ArticleID  string    `json:"article_id"`
	Text       string    `json:"text"`
	ModelName  string    `json:"model_name"`
	ProducedAt time.Time `json:"produced_at"`
}

// Summarized pairs an Article with its Summary. Degraded means the whole
// summarizer chain failed and the article is delivered title-only.
type Summarized struct {
	Article  Article  `json:"article"`
	Summary  *Summary `json:"summary,omitempty"`
	Degraded bool     `json:"degraded"`
}

// DeliveryResult records one channel invocation for one topic. It is
// reporting output only; the pipeline never reads it back.
type DeliveryResult struct {
	ChannelName string   `json:"channel_name"`
	Topic       string   `json:"topic"`
	ArticleIDs  []string `json:"article_ids"`
	Success     bool     `json:"success"`
	Error       string   `json:"error,omitempty"`
}

// SourceFailure records why one source produced nothing this run.
type SourceFailure struct {
	SourceName string `json:"source_name"`
	Error      string `json:"error"`
}

// DropReason records a malformed record excluded during dedup/routing.
type DropReason struct {
	SourceName string `json:"source_name"`
	Title      string `json:"title"`
	Reason     string `json:"reason"`
}

// StageCounts is the per-stage summary every run reports, even when every
// unit inside a stage failed.
type StageCounts struct {
	Fetched        int `json:"fetched"`
	SourceFailures int `json:"source_failures"`
	Deduped        int `json:"deduped"`
	Dropped        int `json:"dropped"`
	Summarized     int `json:"summarized"`
	Degraded       int `json:"degraded"`
	Delivered      int `json:"delivered"`
	SendFailures   int `json:"send_failures"`
}

// RunReport is the operator-facing outcome of one pipeline run.
type RunReport struct {
	RunID          string           `json:"run_id"`
	StartedAt      time.Time        `json:"started_at"`
	FinishedAt     time.Time        `json:"finished_at"`
	Counts         StageCounts      `json:"counts"`
	SourceFailures []SourceFailure  `json:"source_failures,omitempty"`
	Drops          []DropReason     `json:"drops,omitempty"`
	Deliveries     []DeliveryResult `json:"deliveries,omitempty"`
	Cancelled      bool             `json:"cancelled,omitempty"`
	DryRun         bool             `json:"dry_run,omitempty"`
}

// ArticleID derives the content hash identity of an article from its title
// and url. Normalization keeps the hash stable across whitespace and case
// differences between feeds carrying the same story.
func ArticleID(title, url string) string {
	h := sha256.New()
	h.Write([]byte(NormalizeTitle(title)))
	h.Write([]byte("\n"))
	h.Write([]byte(NormalizeURL(url)))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeTitle lowercases and collapses runs of whitespace.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

// NormalizeURL trims whitespace and a trailing slash, and lowercases the
// scheme/host part. Query strings are kept: they distinguish real pages.
func NormalizeURL(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, "/")
	if i := strings.Index(s, "://"); i >= 0 {
		j := strings.IndexByte(s[i+3:], '/')
		if j < 0 {
			return strings.ToLower(s)
		}
		head := strings.ToLower(s[:i+3+j])
		return head + s[i+3+j:]
	}
	return s
}
