package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"

	"github.com/mohammad-safakhou/newsflow/internal/model"
	"github.com/mohammad-safakhou/newsflow/internal/plugin"
)

const defaultUserAgent = "newsflow/1.0 (+https://github.com/mohammad-safakhou/newsflow)"

type scrapeConfig struct {
	URL          string `config:"url"`
	ItemSelector string `config:"item_selector"`
	Limit        int    `config:"limit"`
	Render       bool   `config:"render"`
	ExtractBody  bool   `config:"extract_body"`
	MaxChars     int    `config:"max_chars"`
	UserAgent    string `config:"user_agent"`
}

type scrapeSource struct {
	name   string
	cfg    scrapeConfig
	client *http.Client
}

// NewScrape builds a source that scrapes article links off a listing page.
// item_selector must match anchor elements; with render=true the listing is
// loaded through a headless browser first, and with extract_body=true each
// linked page is fetched and reduced to readable text.
func NewScrape(d plugin.Descriptor) (plugin.Source, error) {
	var cfg scrapeConfig
	if err := plugin.DecodeConfig(d.Config, &cfg); err != nil {
		return nil, fmt.Errorf("source %s: %w", d.Name, err)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("source %s: url is required", d.Name)
	}
	if cfg.ItemSelector == "" {
		return nil, fmt.Errorf("source %s: item_selector is required", d.Name)
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 8000
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	return &scrapeSource{
		name:   d.Name,
		cfg:    cfg,
		client: &http.Client{Timeout: 20 * time.Second},
	}, nil
}

func (s *scrapeSource) Name() string { return s.name }

func (s *scrapeSource) Fetch(ctx context.Context) ([]model.RawArticle, error) {
	var (
		doc *goquery.Document
		err error
	)
	if s.cfg.Render {
		html, rerr := renderHTML(ctx, s.cfg.URL, s.cfg.UserAgent)
		if rerr != nil {
			return nil, fmt.Errorf("rendering %s: %w", s.cfg.URL, rerr)
		}
		doc, err = goquery.NewDocumentFromReader(strings.NewReader(html))
	} else {
		doc, err = s.fetchDocument(ctx, s.cfg.URL)
	}
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid listing url %s: %w", s.cfg.URL, err)
	}

	var articles []model.RawArticle
	seen := map[string]struct{}{}
	doc.Find(s.cfg.ItemSelector).EachWithBreak(func(i int, sel *goquery.Selection) bool {
		title := strings.Join(strings.Fields(sel.Text()), " ")
		href, ok := sel.Attr("href")
		if !ok || title == "" {
			return true
		}
		link := absolutize(base, href)
		if _, dup := seen[link]; dup {
			return true
		}
		seen[link] = struct{}{}
		articles = append(articles, model.RawArticle{Title: title, URL: link})
		return s.cfg.Limit == 0 || len(articles) < s.cfg.Limit
	})

	if s.cfg.ExtractBody {
		for i := range articles {
			body, err := s.extractBody(ctx, articles[i].URL)
			if err != nil {
				// body extraction is best effort; title-only entries still flow
				continue
			}
			articles[i].Body = body
		}
	}
	return articles, nil
}

func (s *scrapeSource) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %s", pageURL, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

func (s *scrapeSource) extractBody(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s returned %s", pageURL, resp.Status)
	}

	parsed, err := url.Parse(pageURL)
	if err != nil {
		parsed = &url.URL{}
	}
	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(article.TextContent)
	if len(text) > s.cfg.MaxChars {
		text = text[:s.cfg.MaxChars]
	}
	return text, nil
}

func renderHTML(ctx context.Context, pageURL, userAgent string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(userAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

func absolutize(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
