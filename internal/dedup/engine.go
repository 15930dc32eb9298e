package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"newsdigest/internal/domain"
	"newsdigest/internal/ports"
)

// Config tunes duplicate detection.
type Config struct {
	// SimilarityThreshold is the cosine similarity at or above which two
	// articles are the same story.
	SimilarityThreshold float64
	// Window bounds how far back similarity candidates are considered.
	Window time.Duration
	// CandidateLimit caps how many nearest neighbours are examined.
	CandidateLimit int
}

func (c Config) withDefaults() Config {
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = 0.85
	}
	if c.Window <= 0 {
		c.Window = 30 * 24 * time.Hour
	}
	if c.CandidateLimit <= 0 {
		c.CandidateLimit = 5
	}
	return c
}

// Engine decides whether an incoming article duplicates a stored one and
// persists the outcome. Exact URL equality is checked first and wins
// unconditionally; otherwise the nearest embedding within the window
// must clear the similarity threshold.
type Engine struct {
	repo   ports.ArticleRepository
	cfg    Config
	logger *slog.Logger

	// mu serializes resolve-then-persist so that concurrent ingestion
	// workers see each other's writes; without it two copies of the same
	// story arriving together would both pass the lookup and both be
	// stored canonical.
	mu sync.Mutex

	now func() time.Time
}

// NewEngine builds a dedup engine over the article repository.
func NewEngine(repo ports.ArticleRepository, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		repo:   repo,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    time.Now,
	}
}

// Resolve classifies the article against the store and persists it with
// its duplicate state set. When the article predates the canonical it
// matched, the roles swap: the article is stored canonical and the old
// canonical's whole cluster is re-pointed at it.
func (e *Engine) Resolve(ctx context.Context, article *domain.Article) error {
	if article == nil {
		return fmt.Errorf("nil article")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// A re-ingested candidate arrives with a zero ID but may already
	// have a stored row. Recover that row's ID first so the match
	// lookups exclude the article's own copy instead of linking it to
	// itself.
	if article.ID == uuid.Nil {
		existing, err := e.repo.FindBySourceID(ctx, article.Source, article.SourceID)
		if err != nil {
			return fmt.Errorf("source id lookup: %w", err)
		}
		if existing != nil {
			article.ID = existing.ID
		}
	}

	match, err := e.findCanonicalMatch(ctx, article)
	if err != nil {
		return err
	}

	if match == nil {
		article.IsDuplicate = false
		article.DuplicateOf = nil
		if err := e.repo.Upsert(ctx, article); err != nil {
			return fmt.Errorf("persist canonical: %w", err)
		}
		return nil
	}

	if article.PublishedAt.Before(match.PublishedAt) {
		// Earliest publication wins the canonical slot.
		article.IsDuplicate = false
		article.DuplicateOf = nil
		if err := e.repo.Upsert(ctx, article); err != nil {
			return fmt.Errorf("persist adopted canonical: %w", err)
		}
		if err := e.repo.AdoptCanonical(ctx, article.ID, match.ID); err != nil {
			return fmt.Errorf("adopt canonical: %w", err)
		}
		e.debug("canonical swapped",
			"new", article.ID, "old", match.ID, "url", article.URL)
		return nil
	}

	article.IsDuplicate = true
	id := match.ID
	article.DuplicateOf = &id
	if err := e.repo.Upsert(ctx, article); err != nil {
		return fmt.Errorf("persist duplicate: %w", err)
	}
	e.debug("duplicate detected",
		"article", article.ID, "canonical", match.ID, "similarity", match.Similarity)
	return nil
}

// RecheckRecent re-resolves canonical articles inside the window against
// each other. It exists because an article can arrive before the copy it
// duplicates; the periodic pass collapses such pairs after the fact.
func (e *Engine) RecheckRecent(ctx context.Context) (int, error) {
	since := e.now().Add(-e.cfg.Window)
	articles, _, err := e.repo.List(ctx, domain.ListOptions{Since: since})
	if err != nil {
		return 0, fmt.Errorf("list recheck candidates: %w", err)
	}

	collapsed := 0
	for i := range articles {
		article := articles[i]

		// The article may have been demoted by an earlier iteration.
		current, err := e.repo.GetByID(ctx, article.ID)
		if err != nil {
			return collapsed, fmt.Errorf("reload article: %w", err)
		}
		if current == nil || current.IsDuplicate {
			continue
		}

		if err := e.Resolve(ctx, current); err != nil {
			return collapsed, err
		}
		if current.IsDuplicate {
			collapsed++
		}
	}
	return collapsed, nil
}

// findCanonicalMatch returns the canonical article this one duplicates,
// or nil. Callers hold e.mu.
func (e *Engine) findCanonicalMatch(ctx context.Context, article *domain.Article) (*domain.Match, error) {
	if article.URL != "" {
		canonical, err := e.repo.FindCanonicalByURL(ctx, article.URL, article.ID)
		if err != nil {
			return nil, fmt.Errorf("url lookup: %w", err)
		}
		if canonical != nil {
			return &domain.Match{
				ID:          canonical.ID,
				URL:         canonical.URL,
				PublishedAt: canonical.PublishedAt,
				Similarity:  1,
			}, nil
		}
	}

	if len(article.Embedding) == 0 {
		return nil, nil
	}

	since := e.now().Add(-e.cfg.Window)
	matches, err := e.repo.SimilarSince(ctx, article.Embedding, since, e.cfg.CandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("similarity lookup: %w", err)
	}

	// Among everything clearing the threshold, the canonical is the
	// earliest publication, not the closest vector.
	var best *domain.Match
	for i := range matches {
		m := &matches[i]
		if m.ID == article.ID || m.Similarity < e.cfg.SimilarityThreshold {
			continue
		}
		if best == nil || m.PublishedAt.Before(best.PublishedAt) {
			best = m
		}
	}
	return best, nil
}

func (e *Engine) debug(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}
