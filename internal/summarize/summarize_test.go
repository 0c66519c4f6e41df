package summarize

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/newsflow/internal/llm"
	"github.com/mohammad-safakhou/newsflow/internal/model"
	"github.com/mohammad-safakhou/newsflow/internal/plugin"
)

type fakeProvider struct {
	model      string
	reply      string
	err        error
	lastPrompt string
}

func (f *fakeProvider) Name() string      { return "fake" }
func (f *fakeProvider) ModelName() string { return f.model }

func (f *fakeProvider) Generate(_ context.Context, prompt string) (string, llm.Usage, error) {
	f.lastPrompt = prompt
	return f.reply, llm.Usage{PromptTokens: 10, CompletionTokens: 5}, f.err
}

func (f *fakeProvider) Cost(llm.Usage) float64 { return 0 }

func llmDescriptor(cfg map[string]string) plugin.Descriptor {
	return plugin.Descriptor{
		Name:    "gpt",
		Kind:    plugin.KindSummarizer,
		Module:  "llm",
		Enabled: true,
		Config:  cfg,
	}
}

func TestLLMSummarize(t *testing.T) {
	p := &fakeProvider{model: "gpt-4o-mini", reply: "  A tidy summary.  "}
	build := NewLLM(llm.Providers{"primary": p}, nil)

	s, err := build(llmDescriptor(map[string]string{"provider": "primary"}))
	if err != nil {
		t.Fatalf("build summarizer: %v", err)
	}
	if s.ModelName() != "gpt-4o-mini" {
		t.Fatalf("unexpected model name: %q", s.ModelName())
	}

	article := model.Article{ID: "a1", Title: "Rate cut announced", Body: "The central bank cut rates by 25bp."}
	text, err := s.Summarize(context.Background(), article)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if text != "A tidy summary." {
		t.Fatalf("unexpected summary: %q", text)
	}
	if !strings.Contains(p.lastPrompt, article.Title) || !strings.Contains(p.lastPrompt, article.Body) {
		t.Fatalf("prompt missing article content: %q", p.lastPrompt)
	}
}

func TestLLMSummarizeProviderError(t *testing.T) {
	p := &fakeProvider{model: "gpt-4o-mini", err: errors.New("rate limited")}
	build := NewLLM(llm.Providers{"primary": p}, nil)

	s, err := build(llmDescriptor(map[string]string{"provider": "primary"}))
	if err != nil {
		t.Fatalf("build summarizer: %v", err)
	}
	if _, err := s.Summarize(context.Background(), model.Article{ID: "a1", Title: "t", Body: "b"}); err == nil {
		t.Fatal("expected provider error to propagate")
	}
}

func TestLLMSummarizeRejectsEmptyBody(t *testing.T) {
	p := &fakeProvider{model: "gpt-4o-mini", reply: "should not be used"}
	build := NewLLM(llm.Providers{"primary": p}, nil)

	s, err := build(llmDescriptor(map[string]string{"provider": "primary"}))
	if err != nil {
		t.Fatalf("build summarizer: %v", err)
	}
	if _, err := s.Summarize(context.Background(), model.Article{ID: "a1", Title: "title only"}); err == nil {
		t.Fatal("expected error for article without body")
	}
	if p.lastPrompt != "" {
		t.Fatalf("provider called for bodyless article: %q", p.lastPrompt)
	}
}

func TestLLMBuilderValidatesProvider(t *testing.T) {
	build := NewLLM(llm.Providers{"primary": &fakeProvider{model: "m"}}, nil)

	if _, err := build(llmDescriptor(nil)); err == nil {
		t.Fatal("expected error for missing provider key")
	}
	if _, err := build(llmDescriptor(map[string]string{"provider": "nope"})); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestHeadlineSummarize(t *testing.T) {
	s, err := NewHeadline(plugin.Descriptor{Name: "lead", Kind: plugin.KindSummarizer, Module: "headline", Enabled: true})
	if err != nil {
		t.Fatalf("build summarizer: %v", err)
	}
	if s.ModelName() != "headline" {
		t.Fatalf("unexpected model name: %q", s.ModelName())
	}

	body := "First point. Second point!\nThird point? Fourth point. Fifth point."
	text, err := s.Summarize(context.Background(), model.Article{ID: "a1", Title: "t", Body: body})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	want := "[Fallback Summary] First point. Second point! Third point?"
	if text != want {
		t.Fatalf("unexpected summary:\n got %q\nwant %q", text, want)
	}
}

func TestHeadlineConfig(t *testing.T) {
	s, err := NewHeadline(plugin.Descriptor{
		Name:    "lead",
		Kind:    plugin.KindSummarizer,
		Module:  "headline",
		Enabled: true,
		Config:  map[string]string{"sentences": "1", "marker": "false"},
	})
	if err != nil {
		t.Fatalf("build summarizer: %v", err)
	}

	text, err := s.Summarize(context.Background(), model.Article{ID: "a1", Title: "t", Body: "One. Two."})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if text != "One." {
		t.Fatalf("unexpected summary: %q", text)
	}
}

func TestHeadlineRejectsEmptyBody(t *testing.T) {
	s, err := NewHeadline(plugin.Descriptor{Name: "lead", Kind: plugin.KindSummarizer, Module: "headline", Enabled: true})
	if err != nil {
		t.Fatalf("build summarizer: %v", err)
	}
	if _, err := s.Summarize(context.Background(), model.Article{ID: "a1", Title: "title only", Body: "   "}); err == nil {
		t.Fatal("expected error for empty body")
	}
}

func TestSplitSentencesHandlesTrailingFragment(t *testing.T) {
	got := splitSentences("Done. And a trailing fragment without punctuation")
	if len(got) != 2 || got[1] != "And a trailing fragment without punctuation" {
		t.Fatalf("unexpected sentences: %#v", got)
	}
}
