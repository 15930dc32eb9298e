package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const sampleRSS = `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>AI News</title>
    <item>
      <title>Model release roundup</title>
      <link>https://example.com/roundup</link>
      <guid>https://example.com/roundup</guid>
      <description>This week's releases.</description>
      <pubDate>Fri, 14 Aug 2026 10:30:00 +0000</pubDate>
    </item>
    <item>
      <title></title>
      <link>https://example.com/untitled</link>
    </item>
  </channel>
</rss>`

const sampleAtom = `<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Lab Blog</title>
  <entry>
    <title>Scaling study</title>
    <id>tag:example.com,2026:scaling</id>
    <summary>What we learned.</summary>
    <updated>2026-08-14T09:00:00Z</updated>
    <author><name>researcher</name></author>
    <link rel="alternate" href="https://example.com/scaling"/>
  </entry>
</feed>`

func TestParseFeedRSS(t *testing.T) {
	t.Parallel()

	candidates, err := parseFeed([]byte(sampleRSS))
	if err != nil {
		t.Fatalf("parse rss: %v", err)
	}
	// The untitled item is dropped.
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}

	c := candidates[0]
	if c.Title != "Model release roundup" || c.URL != "https://example.com/roundup" {
		t.Fatalf("unexpected candidate: %+v", c)
	}
	if c.SourceID != "https://example.com/roundup" {
		t.Fatalf("guid should be the source id, got %s", c.SourceID)
	}
	want := time.Date(2026, 8, 14, 10, 30, 0, 0, time.UTC)
	if !c.PublishedAt.Equal(want) {
		t.Fatalf("unexpected time: %s", c.PublishedAt)
	}
}

func TestParseFeedAtom(t *testing.T) {
	t.Parallel()

	candidates, err := parseFeed([]byte(sampleAtom))
	if err != nil {
		t.Fatalf("parse atom: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}

	c := candidates[0]
	if c.Title != "Scaling study" || c.URL != "https://example.com/scaling" {
		t.Fatalf("unexpected candidate: %+v", c)
	}
	if c.Author != "researcher" {
		t.Fatalf("unexpected author: %s", c.Author)
	}
	if c.Content != "What we learned." {
		t.Fatalf("unexpected content: %s", c.Content)
	}
}

func TestParseFeedRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := parseFeed([]byte("not xml at all")); err == nil {
		t.Fatal("expected error for non-feed body")
	}
}

func TestRSSSourceIsolatesFeedFailures(t *testing.T) {
	t.Parallel()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(sampleRSS))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer bad.Close()

	source := NewRSSSource(newTestClient(t), []Feed{
		{Name: "bad", URL: bad.URL},
		{Name: "good", URL: good.URL},
	}, nil)

	candidates, err := source.Fetch(context.Background(), 10)
	if err != nil {
		t.Fatalf("one healthy feed should carry the fetch: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected candidates from the healthy feed, got %d", len(candidates))
	}
}

func TestRSSSourceFailsWhenAllFeedsFail(t *testing.T) {
	t.Parallel()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer bad.Close()

	source := NewRSSSource(newTestClient(t), []Feed{{Name: "bad", URL: bad.URL}}, nil)
	if _, err := source.Fetch(context.Background(), 10); err == nil {
		t.Fatal("expected error when every feed fails")
	}
}

func TestParseFeedTimeFallsBackToNow(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC()
	got := parseFeedTime("not a date")
	if got.Before(before.Add(-time.Minute)) {
		t.Fatalf("unparseable time should fall back to now, got %s", got)
	}
}
