package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mohammad-safakhou/newsflow/internal/plugin"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Example News</title>
    <item>
      <title>Match Report</title>
      <link>https://news.example.com/sport/match</link>
      <description><![CDATA[<p>The home side <b>won</b> late.</p>]]></description>
      <category>Sports</category>
      <pubDate>Tue, 18 Aug 2026 09:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Budget Vote</title>
      <link>https://news.example.com/politics/budget</link>
      <description>Parliament votes today.</description>
      <pubDate>Tue, 18 Aug 2026 08:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Third Story</title>
      <link>https://news.example.com/third</link>
      <description>Overflow item.</description>
    </item>
  </channel>
</rss>`

func TestRSSFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	src, err := NewRSS(plugin.Descriptor{
		Name:    "bbc",
		Kind:    plugin.KindSource,
		Module:  "rss",
		Enabled: true,
		Config:  map[string]string{"url": srv.URL, "limit": "2"},
	})
	if err != nil {
		t.Fatalf("building source: %v", err)
	}

	articles, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(articles) != 2 {
		t.Fatalf("expected 2 articles (limit), got %d", len(articles))
	}
	if articles[0].Title != "Match Report" {
		t.Fatalf("unexpected first title: %q", articles[0].Title)
	}
	if articles[0].Topic != "sports" {
		t.Fatalf("expected topic from category, got %q", articles[0].Topic)
	}
	if articles[0].Body != "The home side won late." {
		t.Fatalf("expected html stripped from body, got %q", articles[0].Body)
	}
	if articles[1].URL != "https://news.example.com/politics/budget" {
		t.Fatalf("unexpected second url: %q", articles[1].URL)
	}
}

func TestRSSRejectsUnknownConfigKey(t *testing.T) {
	_, err := NewRSS(plugin.Descriptor{
		Name:   "bbc",
		Kind:   plugin.KindSource,
		Module: "rss",
		Config: map[string]string{"url": "https://example.com/rss", "bogus": "1"},
	})
	if err == nil {
		t.Fatalf("expected unknown key error")
	}
}

func TestRSSRequiresURL(t *testing.T) {
	_, err := NewRSS(plugin.Descriptor{Name: "bbc", Kind: plugin.KindSource, Module: "rss"})
	if err == nil {
		t.Fatalf("expected missing url error")
	}
}

func TestScrapeFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>
			<a class="headline" href="/stories/one">First  Story</a>
			<a class="headline" href="/stories/two">Second Story</a>
			<a class="headline" href="/stories/one">First  Story</a>
			<a class="headline" href="https://other.example.com/three">Third Story</a>
			<a class="other" href="/ignored">Ignored</a>
		</body></html>`))
	}))
	defer srv.Close()

	src, err := NewScrape(plugin.Descriptor{
		Name:    "frontpage",
		Kind:    plugin.KindSource,
		Module:  "scrape",
		Enabled: true,
		Config: map[string]string{
			"url":           srv.URL,
			"item_selector": "a.headline",
		},
	})
	if err != nil {
		t.Fatalf("building source: %v", err)
	}

	articles, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(articles) != 3 {
		t.Fatalf("expected 3 unique articles, got %d", len(articles))
	}
	if articles[0].Title != "First Story" {
		t.Fatalf("expected collapsed whitespace in title, got %q", articles[0].Title)
	}
	if articles[0].URL != srv.URL+"/stories/one" {
		t.Fatalf("expected absolutized url, got %q", articles[0].URL)
	}
	if articles[2].URL != "https://other.example.com/three" {
		t.Fatalf("expected absolute url untouched, got %q", articles[2].URL)
	}
}

func TestScrapeHonoursLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>
			<a class="headline" href="/a">A</a>
			<a class="headline" href="/b">B</a>
			<a class="headline" href="/c">C</a>
		</body></html>`))
	}))
	defer srv.Close()

	src, err := NewScrape(plugin.Descriptor{
		Name:   "frontpage",
		Kind:   plugin.KindSource,
		Module: "scrape",
		Config: map[string]string{"url": srv.URL, "item_selector": "a.headline", "limit": "2"},
	})
	if err != nil {
		t.Fatalf("building source: %v", err)
	}
	articles, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(articles) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(articles))
	}
}

func TestNewsAPIFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("q") != "golang" {
			t.Errorf("unexpected query: %q", q.Get("q"))
		}
		if q.Get("apiKey") != "secret" {
			t.Errorf("unexpected api key: %q", q.Get("apiKey"))
		}
		if q.Get("pageSize") != "10" {
			t.Errorf("unexpected page size: %q", q.Get("pageSize"))
		}
		w.Write([]byte(`{"status":"ok","articles":[
			{"title":"Go 1.25 released","description":"New toolchain.","url":"https://example.com/go125","publishedAt":"2026-08-18T10:00:00Z"}
		]}`))
	}))
	defer srv.Close()

	src, err := NewNewsAPI(plugin.Descriptor{
		Name:   "newsapi-tech",
		Kind:   plugin.KindSource,
		Module: "newsapi",
		Config: map[string]string{
			"api_key":  "secret",
			"query":    "golang",
			"endpoint": srv.URL,
			"limit":    "10",
		},
	})
	if err != nil {
		t.Fatalf("building source: %v", err)
	}

	articles, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(articles) != 1 || articles[0].Title != "Go 1.25 released" {
		t.Fatalf("unexpected articles: %#v", articles)
	}
	if articles[0].Body != "New toolchain." {
		t.Fatalf("expected description as body, got %q", articles[0].Body)
	}
}

func TestNewsAPIErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error","articles":[]}`))
	}))
	defer srv.Close()

	src, err := NewNewsAPI(plugin.Descriptor{
		Name:   "newsapi-tech",
		Kind:   plugin.KindSource,
		Module: "newsapi",
		Config: map[string]string{"api_key": "secret", "query": "golang", "endpoint": srv.URL},
	})
	if err != nil {
		t.Fatalf("building source: %v", err)
	}
	if _, err := src.Fetch(context.Background()); err == nil {
		t.Fatalf("expected error for non-ok status")
	}
}

func TestRegisterBuiltins(t *testing.T) {
	reg := plugin.NewRegistry()
	RegisterBuiltins(reg)

	err := reg.Upsert(plugin.Descriptor{
		Name:    "bbc",
		Kind:    plugin.KindSource,
		Module:  "rss",
		Enabled: true,
		Config:  map[string]string{"url": "https://example.com/rss"},
	})
	if err != nil {
		t.Fatalf("upsert rss descriptor: %v", err)
	}

	err = reg.Upsert(plugin.Descriptor{
		Name:    "nope",
		Kind:    plugin.KindSource,
		Module:  "missing-module",
		Enabled: true,
	})
	if err == nil {
		t.Fatalf("expected unknown module error")
	}
}
