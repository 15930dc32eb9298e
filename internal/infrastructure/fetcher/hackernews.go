package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"newsdigest/internal/domain"
	"newsdigest/internal/ports"
)

const defaultHackerNewsBaseURL = "https://hacker-news.firebaseio.com/v0"

// hnKeywords filters top stories down to AI/ML-adjacent content before
// they reach the scoring pipeline.
var hnKeywords = []string{
	"ai", "artificial intelligence", "machine learning", "deep learning",
	"neural network", "nlp", "computer vision", "llm", "large language model",
	"gpt", "transformer", "diffusion", "generative", "openai", "anthropic",
	"deepmind", "hugging face", "pytorch", "tensorflow", "reinforcement learning",
	"fine-tuning", "embedding", "language model", "dataset", "benchmark",
}

// HackerNewsSource fetches top stories from the HackerNews Firebase API
// and keeps the ones matching the keyword filter.
type HackerNewsSource struct {
	client   *Client
	baseURL  string
	keywords []string
	logger   *slog.Logger

	// overfetch compensates for stories dropped by the keyword filter.
	overfetch int
}

var _ ports.ArticleSource = (*HackerNewsSource)(nil)

// NewHackerNewsSource wires the rate-limited client; baseURL is
// overridable for tests.
func NewHackerNewsSource(client *Client, baseURL string, logger *slog.Logger) *HackerNewsSource {
	if baseURL == "" {
		baseURL = defaultHackerNewsBaseURL
	}
	return &HackerNewsSource{
		client:    client,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		keywords:  hnKeywords,
		logger:    logger,
		overfetch: 3,
	}
}

// SetKeywords replaces the default keyword filter.
func (h *HackerNewsSource) SetKeywords(keywords []string) {
	if len(keywords) > 0 {
		h.keywords = keywords
	}
}

// Name identifies the source inside the registry.
func (h *HackerNewsSource) Name() domain.Source {
	return domain.SourceHackerNews
}

type hnItem struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
	Text  string `json:"text"`
	URL   string `json:"url"`
	By    string `json:"by"`
	Time  int64  `json:"time"`
	Dead  bool   `json:"dead"`
}

// Fetch retrieves top story IDs, loads each story, and filters for
// relevance.
func (h *HackerNewsSource) Fetch(ctx context.Context, maxItems int) ([]domain.Candidate, error) {
	ids, err := h.fetchTopStoryIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("top stories: %w", err)
	}

	fetchCount := maxItems * h.overfetch
	if fetchCount > len(ids) {
		fetchCount = len(ids)
	}

	candidates := make([]domain.Candidate, 0, maxItems)
	for _, id := range ids[:fetchCount] {
		if len(candidates) >= maxItems {
			break
		}

		item, err := h.fetchItem(ctx, id)
		if err != nil {
			// One broken story should not sink the fetch; the client
			// already retried and fed the breaker.
			h.debug("skipping story", "id", id, "error", err)
			continue
		}
		if item == nil || item.Dead || item.Type != "story" || item.Title == "" {
			continue
		}
		if !matchesKeywords(h.keywords, item.Title, item.Text) {
			continue
		}

		candidates = append(candidates, h.toCandidate(item))
	}

	h.debug("hackernews fetch done", "candidates", len(candidates))
	return candidates, nil
}

func (h *HackerNewsSource) fetchTopStoryIDs(ctx context.Context) ([]int64, error) {
	body, err := h.client.Get(ctx, h.baseURL+"/topstories.json")
	if err != nil {
		return nil, err
	}

	var ids []int64
	if err := json.Unmarshal(body, &ids); err != nil {
		return nil, &PermanentError{Err: fmt.Errorf("decode story ids: %w", err)}
	}
	return ids, nil
}

func (h *HackerNewsSource) fetchItem(ctx context.Context, id int64) (*hnItem, error) {
	body, err := h.client.Get(ctx, fmt.Sprintf("%s/item/%d.json", h.baseURL, id))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(body)) == "null" {
		return nil, nil
	}

	var item hnItem
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, &PermanentError{Err: fmt.Errorf("decode item %d: %w", id, err)}
	}
	return &item, nil
}

func (h *HackerNewsSource) toCandidate(item *hnItem) domain.Candidate {
	url := item.URL
	if url == "" {
		url = fmt.Sprintf("https://news.ycombinator.com/item?id=%d", item.ID)
	}

	content := item.Text
	if content == "" {
		content = item.Title
	}

	return domain.Candidate{
		Source:      domain.SourceHackerNews,
		SourceID:    strconv.FormatInt(item.ID, 10),
		Title:       item.Title,
		Content:     content,
		URL:         url,
		Author:      item.By,
		PublishedAt: time.Unix(item.Time, 0).UTC(),
	}
}

func matchesKeywords(keywords []string, title, text string) bool {
	haystack := strings.ToLower(title + " " + text)
	tokens := map[string]struct{}{}
	for _, tok := range strings.FieldsFunc(haystack, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '-')
	}) {
		tokens[tok] = struct{}{}
	}

	for _, kw := range keywords {
		if strings.ContainsRune(kw, ' ') {
			if strings.Contains(haystack, kw) {
				return true
			}
			continue
		}
		// Single-word keywords match whole tokens only, so "ai" does not
		// fire on "air".
		if _, ok := tokens[kw]; ok {
			return true
		}
	}
	return false
}

func (h *HackerNewsSource) debug(msg string, args ...any) {
	if h.logger != nil {
		h.logger.Debug(msg, args...)
	}
}
