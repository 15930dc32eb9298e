package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"newsdigest/internal/domain"
	"newsdigest/internal/ports"
)

const arxivBaseURL = "https://arxiv.org"

var arxivDateExpr = regexp.MustCompile(`\d{1,2} [A-Za-z]{3} \d{4}`)

// ArxivCategory is one listing endpoint to crawl.
type ArxivCategory struct {
	Name string
	URL  string
}

// ArxivSource crawls arXiv category listing pages and extracts recent
// papers as candidates.
type ArxivSource struct {
	client     *Client
	categories []ArxivCategory
	pageSize   int
	logger     *slog.Logger
}

var _ ports.ArticleSource = (*ArxivSource)(nil)

// NewArxivSource wires the rate-limited client with configured categories.
func NewArxivSource(client *Client, categories []ArxivCategory, logger *slog.Logger) *ArxivSource {
	return &ArxivSource{
		client:     client,
		categories: categories,
		pageSize:   200,
		logger:     logger,
	}
}

// Name identifies the source inside the registry.
func (a *ArxivSource) Name() domain.Source {
	return domain.SourceArxiv
}

// Fetch walks the category pages until maxItems candidates are collected.
func (a *ArxivSource) Fetch(ctx context.Context, maxItems int) ([]domain.Candidate, error) {
	if len(a.categories) == 0 {
		return nil, &PermanentError{Err: fmt.Errorf("no arxiv categories configured")}
	}

	results := make([]domain.Candidate, 0, maxItems)
	seen := map[string]struct{}{}

	for _, cat := range a.categories {
		skip := 0
		for len(results) < maxItems {
			pageURL, err := buildArxivPageURL(cat.URL, skip, a.pageSize)
			if err != nil {
				return nil, &PermanentError{Err: fmt.Errorf("category %s: %w", cat.Name, err)}
			}

			doc, err := a.fetchDocument(ctx, pageURL)
			if err != nil {
				return results, fmt.Errorf("category %s: %w", cat.Name, err)
			}

			pageCandidates, processed := a.extractCandidates(doc)
			for _, candidate := range pageCandidates {
				if _, ok := seen[candidate.SourceID]; ok {
					continue
				}
				seen[candidate.SourceID] = struct{}{}
				results = append(results, candidate)
				if len(results) >= maxItems {
					break
				}
			}

			if processed < a.pageSize {
				break
			}
			skip += a.pageSize
		}
	}

	a.debug("arxiv fetch done", "candidates", len(results))
	return results, nil
}

func (a *ArxivSource) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	body, err := a.client.Get(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &PermanentError{Err: fmt.Errorf("parse document: %w", err)}
	}
	return doc, nil
}

func (a *ArxivSource) extractCandidates(doc *goquery.Document) ([]domain.Candidate, int) {
	var (
		collected []domain.Candidate
		processed int
	)

	doc.Find("dl > dt").Each(func(i int, dt *goquery.Selection) {
		dd := dt.Next()
		processed++

		candidate, err := parseArxivEntry(dt, dd)
		if err != nil {
			return
		}
		collected = append(collected, candidate)
	})

	return collected, processed
}

func parseArxivEntry(dt, dd *goquery.Selection) (domain.Candidate, error) {
	link := dt.Find("a[href*=\"/abs/\"]").First()

	id := strings.TrimSpace(link.Text())
	href, _ := link.Attr("href")
	if id == "" {
		id = strings.TrimPrefix(href, "/abs/")
	}
	id = strings.TrimPrefix(id, "arXiv:")
	if id == "" {
		return domain.Candidate{}, fmt.Errorf("entry has no identifier")
	}

	if !strings.HasPrefix(href, "http") {
		href = strings.TrimSuffix(arxivBaseURL, "/") + href
	}

	title := strings.TrimSpace(dd.Find(".list-title").First().Text())
	title = strings.TrimSpace(strings.TrimPrefix(title, "Title:"))

	// The title div also carries the mathjax class; the abstract is the
	// mathjax paragraph.
	abstract := dd.Find("p.mathjax").First().Text()
	abstract = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(abstract), "Abstract:"))

	authors := strings.TrimSpace(dd.Find(".list-authors").First().Text())
	authors = strings.TrimSpace(strings.TrimPrefix(authors, "Authors:"))

	dateText := strings.TrimSpace(dd.Find(".list-date").First().Text())
	if dateText == "" {
		dateText = strings.TrimSpace(dd.Find(".list-dateline").First().Text())
	}

	publishedAt := time.Now().UTC()
	if match := arxivDateExpr.FindString(dateText); match != "" {
		if parsed, err := time.Parse("2 Jan 2006", match); err == nil {
			publishedAt = parsed.UTC()
		}
	}

	return domain.Candidate{
		Source:      domain.SourceArxiv,
		SourceID:    id,
		Title:       title,
		Content:     abstract,
		URL:         href,
		Author:      authors,
		PublishedAt: publishedAt,
	}, nil
}

func buildArxivPageURL(base string, skip, pageSize int) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid category url %s: %w", base, err)
	}

	query := parsed.Query()
	query.Set("skip", strconv.Itoa(skip))
	query.Set("show", strconv.Itoa(pageSize))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (a *ArxivSource) debug(msg string, args ...any) {
	if a.logger != nil {
		a.logger.Debug(msg, args...)
	}
}
