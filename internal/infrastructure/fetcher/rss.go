package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"newsdigest/internal/domain"
	"newsdigest/internal/ports"
)

// Feed is one configured RSS or Atom endpoint.
type Feed struct {
	Name string
	URL  string
}

// RSSSource fetches articles from configured RSS/Atom feeds. Individual
// feed failures degrade that feed only, not the whole fetch.
type RSSSource struct {
	client *Client
	feeds  []Feed
	logger *slog.Logger
}

var _ ports.ArticleSource = (*RSSSource)(nil)

// NewRSSSource wires the rate-limited client with configured feeds.
func NewRSSSource(client *Client, feeds []Feed, logger *slog.Logger) *RSSSource {
	return &RSSSource{client: client, feeds: feeds, logger: logger}
}

// Name identifies the source inside the registry.
func (r *RSSSource) Name() domain.Source {
	return domain.SourceRSS
}

// rssDocument covers the RSS 2.0 shape.
type rssDocument struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	GUID        string `xml:"guid"`
	Description string `xml:"description"`
	Author      string `xml:"author"`
	Creator     string `xml:"creator"`
	PubDate     string `xml:"pubDate"`
}

// atomDocument covers the Atom shape.
type atomDocument struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title   string `xml:"title"`
	ID      string `xml:"id"`
	Summary string `xml:"summary"`
	Content string `xml:"content"`
	Updated string `xml:"updated"`
	Author  struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Links []struct {
		Rel  string `xml:"rel,attr"`
		Href string `xml:"href,attr"`
	} `xml:"link"`
}

// Fetch pulls every configured feed and returns up to maxItems
// candidates across all of them.
func (r *RSSSource) Fetch(ctx context.Context, maxItems int) ([]domain.Candidate, error) {
	if len(r.feeds) == 0 {
		return nil, &PermanentError{Err: fmt.Errorf("no rss feeds configured")}
	}

	var (
		candidates []domain.Candidate
		failures   int
		lastErr    error
	)

	for _, feed := range r.feeds {
		if len(candidates) >= maxItems {
			break
		}

		items, err := r.fetchFeed(ctx, feed)
		if err != nil {
			failures++
			lastErr = err
			r.debug("feed failed", "feed", feed.Name, "error", err)
			continue
		}

		for _, candidate := range items {
			if len(candidates) >= maxItems {
				break
			}
			candidates = append(candidates, candidate)
		}
	}

	if failures == len(r.feeds) && lastErr != nil {
		return nil, fmt.Errorf("all %d feeds failed: %w", failures, lastErr)
	}
	r.debug("rss fetch done", "candidates", len(candidates), "failed_feeds", failures)
	return candidates, nil
}

func (r *RSSSource) fetchFeed(ctx context.Context, feed Feed) ([]domain.Candidate, error) {
	body, err := r.client.Get(ctx, feed.URL)
	if err != nil {
		return nil, err
	}
	return parseFeed(body)
}

// parseFeed tries RSS 2.0 first, then Atom.
func parseFeed(body []byte) ([]domain.Candidate, error) {
	var rss rssDocument
	if err := xml.Unmarshal(body, &rss); err == nil && len(rss.Channel.Items) > 0 {
		candidates := make([]domain.Candidate, 0, len(rss.Channel.Items))
		for _, item := range rss.Channel.Items {
			if c, ok := rssItemToCandidate(item); ok {
				candidates = append(candidates, c)
			}
		}
		return candidates, nil
	}

	var atom atomDocument
	if err := xml.Unmarshal(body, &atom); err == nil && len(atom.Entries) > 0 {
		candidates := make([]domain.Candidate, 0, len(atom.Entries))
		for _, entry := range atom.Entries {
			if c, ok := atomEntryToCandidate(entry); ok {
				candidates = append(candidates, c)
			}
		}
		return candidates, nil
	}

	return nil, &PermanentError{Err: fmt.Errorf("body is neither RSS nor Atom")}
}

func rssItemToCandidate(item rssItem) (domain.Candidate, bool) {
	title := strings.TrimSpace(item.Title)
	link := strings.TrimSpace(item.Link)
	if title == "" || link == "" {
		return domain.Candidate{}, false
	}

	sourceID := strings.TrimSpace(item.GUID)
	if sourceID == "" {
		sourceID = hashSourceID(link)
	}

	author := strings.TrimSpace(item.Creator)
	if author == "" {
		author = strings.TrimSpace(item.Author)
	}

	content := strings.TrimSpace(item.Description)
	if content == "" {
		content = title
	}

	return domain.Candidate{
		Source:      domain.SourceRSS,
		SourceID:    sourceID,
		Title:       title,
		Content:     content,
		URL:         link,
		Author:      author,
		PublishedAt: parseFeedTime(item.PubDate),
	}, true
}

func atomEntryToCandidate(entry atomEntry) (domain.Candidate, bool) {
	title := strings.TrimSpace(entry.Title)
	link := ""
	for _, l := range entry.Links {
		if l.Rel == "" || l.Rel == "alternate" {
			link = l.Href
			break
		}
	}
	if title == "" || link == "" {
		return domain.Candidate{}, false
	}

	sourceID := strings.TrimSpace(entry.ID)
	if sourceID == "" {
		sourceID = hashSourceID(link)
	}

	content := strings.TrimSpace(entry.Summary)
	if content == "" {
		content = strings.TrimSpace(entry.Content)
	}
	if content == "" {
		content = title
	}

	return domain.Candidate{
		Source:      domain.SourceRSS,
		SourceID:    sourceID,
		Title:       title,
		Content:     content,
		URL:         link,
		Author:      strings.TrimSpace(entry.Author.Name),
		PublishedAt: parseFeedTime(entry.Updated),
	}, true
}

// feedTimeLayouts covers the date formats feeds use in the wild.
var feedTimeLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2006-01-02T15:04:05Z",
}

func parseFeedTime(value string) time.Time {
	value = strings.TrimSpace(value)
	for _, layout := range feedTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

func hashSourceID(link string) string {
	sum := sha256.Sum256([]byte(link))
	return hex.EncodeToString(sum[:16])
}

func (r *RSSSource) debug(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}
