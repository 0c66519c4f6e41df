package model

import "testing"

func TestArticleIDStableAcrossWhitespaceAndCase(t *testing.T) {
	a := ArticleID("Breaking: Markets Rally", "https://Example.com/story/1/")
	b := ArticleID("breaking:  markets   rally", "https://example.com/story/1")
	if a != b {
		t.Fatalf("expected identical ids, got %s vs %s", a, b)
	}
}

func TestArticleIDDistinguishesContent(t *testing.T) {
	a := ArticleID("Title X", "https://example.com/u1")
	b := ArticleID("Title Y", "https://example.com/u1")
	if a == b {
		t.Fatalf("different titles must not collide")
	}
	c := ArticleID("Title X", "https://example.com/u2")
	if a == c {
		t.Fatalf("different urls must not collide")
	}
}

func TestNormalizeURLKeepsPathCase(t *testing.T) {
	got := NormalizeURL("HTTPS://News.Example.COM/Some/Path?id=AbC")
	want := "https://news.example.com/Some/Path?id=AbC"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestNormalizeURLWithoutScheme(t *testing.T) {
	got := NormalizeURL("  example.com/story/ ")
	if got != "example.com/story" {
		t.Fatalf("got %q", got)
	}
}
