package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"newsdigest/internal/ratelimit"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerSecond: 1000, Burst: 1000})
	breaker := ratelimit.NewBreaker(100, time.Minute)
	return NewClient(nil, limiter, breaker, ClientConfig{MaxRetries: 1, WaitBudget: time.Second}, nil)
}

func TestBuildArxivPageURL(t *testing.T) {
	t.Parallel()

	base := "https://export.arxiv.org/list/cs.AI/recent"
	u, err := buildArxivPageURL(base, 200, 100)
	if err != nil {
		t.Fatalf("buildArxivPageURL returned error: %v", err)
	}

	parsed, err := url.Parse(u)
	if err != nil {
		t.Fatalf("parse result: %v", err)
	}
	if parsed.Scheme != "https" || parsed.Host != "export.arxiv.org" {
		t.Fatalf("unexpected host: %s", parsed.Host)
	}

	q := parsed.Query()
	if q.Get("skip") != "200" {
		t.Fatalf("expected skip=200, got %s", q.Get("skip"))
	}
	if q.Get("show") != "100" {
		t.Fatalf("expected show=100, got %s", q.Get("show"))
	}
}

func TestParseArxivEntry(t *testing.T) {
	t.Parallel()

	html := `
	<dl>
	  <dt>
	    <span class="list-identifier"><a href="/abs/2501.01234">arXiv:2501.01234</a></span>
	  </dt>
	  <dd>
	    <div class="list-date">Date: 14 Aug 2026</div>
	    <div class="list-title mathjax">Title: Sample Paper</div>
	    <div class="list-authors">Authors: A. Researcher, B. Colleague</div>
	    <p class="mathjax">Abstract: Sample abstract text.</p>
	  </dd>
	</dl>`

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("new document: %v", err)
	}

	candidate, err := parseArxivEntry(doc.Find("dt").First(), doc.Find("dd").First())
	if err != nil {
		t.Fatalf("parseArxivEntry error: %v", err)
	}

	if candidate.SourceID != "2501.01234" {
		t.Fatalf("unexpected id: %s", candidate.SourceID)
	}
	if candidate.Title != "Sample Paper" {
		t.Fatalf("unexpected title: %s", candidate.Title)
	}
	if candidate.Content != "Sample abstract text." {
		t.Fatalf("unexpected abstract: %s", candidate.Content)
	}
	if candidate.Author != "A. Researcher, B. Colleague" {
		t.Fatalf("unexpected authors: %s", candidate.Author)
	}
	if candidate.URL != "https://arxiv.org/abs/2501.01234" {
		t.Fatalf("unexpected url: %s", candidate.URL)
	}

	wantDate := time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)
	if !candidate.PublishedAt.Equal(wantDate) {
		t.Fatalf("unexpected date: %s", candidate.PublishedAt)
	}
}

func TestParseArxivEntryWithoutIdentifier(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<dl><dt></dt><dd></dd></dl>`))
	if err != nil {
		t.Fatalf("new document: %v", err)
	}
	if _, err := parseArxivEntry(doc.Find("dt").First(), doc.Find("dd").First()); err == nil {
		t.Fatal("expected error for entry without identifier")
	}
}

func TestArxivFetchRespectsMaxItems(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("<dl>")
	for _, id := range []string{"2501.00001", "2501.00002", "2501.00003"} {
		b.WriteString(`<dt><a href="/abs/` + id + `">arXiv:` + id + `</a></dt>`)
		b.WriteString(`<dd><div class="list-title">Title: Paper ` + id + `</div>` +
			`<p class="mathjax">Abstract: text.</p></dd>`)
	}
	b.WriteString("</dl>")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(b.String()))
	}))
	defer server.Close()

	source := NewArxivSource(newTestClient(t),
		[]ArxivCategory{{Name: "cs.AI", URL: server.URL + "/list/cs.AI/recent"}}, nil)

	candidates, err := source.Fetch(context.Background(), 2)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].SourceID != "2501.00001" {
		t.Fatalf("unexpected first candidate: %s", candidates[0].SourceID)
	}
}
