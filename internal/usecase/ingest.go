package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"newsdigest/internal/domain"
	"newsdigest/internal/ports"
	"newsdigest/internal/scanner"
)

// duplicateResolver classifies and persists one article; satisfied by
// the dedup engine.
type duplicateResolver interface {
	Resolve(ctx context.Context, article *domain.Article) error
}

// IngestConfig tunes one ingestion run.
type IngestConfig struct {
	// MaxItemsPerSource caps how many candidates each fetcher returns.
	MaxItemsPerSource int
	// SourceConcurrency bounds how many sources run at once.
	SourceConcurrency int
	// RunTimeout is the deadline for the whole run; zero means the
	// caller's context governs.
	RunTimeout time.Duration
}

func (c IngestConfig) withDefaults() IngestConfig {
	if c.MaxItemsPerSource <= 0 {
		c.MaxItemsPerSource = 50
	}
	if c.SourceConcurrency <= 0 {
		c.SourceConcurrency = 3
	}
	return c
}

// IngestionService runs the fetch-enrich-dedup-persist pipeline. It owns
// no schedule; callers invoke RunIngestionOnce on whatever trigger they
// have, and runs are idempotent because persistence upserts by
// (source, source_id).
type IngestionService struct {
	registry *scanner.Registry
	analyzer ports.Analyzer
	embedder ports.Embedder
	resolver duplicateResolver
	repo     ports.ArticleRepository
	cfg      IngestConfig
	logger   *slog.Logger
}

// NewIngestionService wires the pipeline stages together.
func NewIngestionService(
	registry *scanner.Registry,
	analyzer ports.Analyzer,
	embedder ports.Embedder,
	resolver duplicateResolver,
	repo ports.ArticleRepository,
	cfg IngestConfig,
	logger *slog.Logger,
) *IngestionService {
	return &IngestionService{
		registry: registry,
		analyzer: analyzer,
		embedder: embedder,
		resolver: resolver,
		repo:     repo,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// RunIngestionOnce pulls every registered source concurrently and
// reports per-source outcomes. A failing source degrades its own entry;
// the run itself succeeds as long as it could start.
func (s *IngestionService) RunIngestionOnce(ctx context.Context) (domain.RunReport, error) {
	report := domain.RunReport{StartedAt: time.Now().UTC()}

	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	sources := s.registry.All()
	report.Sources = make([]domain.SourceReport, len(sources))

	sem := make(chan struct{}, s.cfg.SourceConcurrency)
	var wg sync.WaitGroup
	for i, source := range sources {
		wg.Add(1)
		go func(i int, source ports.ArticleSource) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			report.Sources[i] = s.ingestSource(ctx, source)
		}(i, source)
	}
	wg.Wait()

	for _, sr := range report.Sources {
		report.TotalStored += sr.Stored
	}
	report.FinishedAt = time.Now().UTC()

	s.info("ingestion run finished",
		"sources", len(sources),
		"stored", report.TotalStored,
		"degraded", report.Degraded(),
		"duration", report.FinishedAt.Sub(report.StartedAt))
	return report, nil
}

func (s *IngestionService) ingestSource(ctx context.Context, source ports.ArticleSource) domain.SourceReport {
	started := time.Now()
	sr := domain.SourceReport{Source: source.Name(), Status: domain.SourceStatusOK}
	defer func() { sr.Duration = time.Since(started) }()

	candidates, err := source.Fetch(ctx, s.cfg.MaxItemsPerSource)
	if err != nil {
		sr.Status = domain.SourceStatusDegraded
		sr.Error = err.Error()
		s.warn("source fetch failed", "source", source.Name(), "error", err)
		return sr
	}
	sr.Fetched = len(candidates)

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			sr.Status = domain.SourceStatusDegraded
			sr.Error = ctx.Err().Error()
			return sr
		}

		article, unscored, unembedded := s.enrich(ctx, candidate)
		if unscored {
			sr.Unscored++
		}
		if unembedded {
			sr.Unembedded++
		}

		if err := s.resolver.Resolve(ctx, article); err != nil {
			sr.Status = domain.SourceStatusDegraded
			sr.Error = err.Error()
			s.warn("persist failed", "source", source.Name(), "url", candidate.URL, "error", err)
			continue
		}
		sr.Stored++
		if article.IsDuplicate {
			sr.Duplicates++
		}
	}
	return sr
}

// enrich builds the article from a candidate with best-effort scoring
// and embedding. Either enrichment failing still produces a storable
// article; the maintenance passes fill the gaps later.
func (s *IngestionService) enrich(ctx context.Context, candidate domain.Candidate) (article *domain.Article, unscored, unembedded bool) {
	article = &domain.Article{
		Source:      candidate.Source,
		SourceID:    candidate.SourceID,
		Title:       candidate.Title,
		Content:     candidate.Content,
		URL:         candidate.URL,
		Author:      candidate.Author,
		PublishedAt: candidate.PublishedAt,
		FetchedAt:   time.Now().UTC(),
	}

	if s.analyzer != nil {
		analysis, err := s.analyzer.Score(ctx, candidate)
		if err != nil {
			unscored = true
			s.debug("scoring skipped", "url", candidate.URL, "error", err)
		} else {
			article.Summary = analysis.Summary
			score := analysis.RelevanceScore
			article.RelevanceScore = &score
			article.Categories = analysis.Categories
			article.KeyPoints = analysis.KeyPoints
		}
	} else {
		unscored = true
	}

	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, embeddingText(candidate.Title, candidate.Content))
		if err != nil {
			unembedded = true
			s.debug("embedding skipped", "url", candidate.URL, "error", err)
		} else {
			article.Embedding = vec
		}
	} else {
		unembedded = true
	}

	return article, unscored, unembedded
}

// ReembedPending vectorizes articles stored without an embedding and
// runs them back through duplicate resolution, which a late vector can
// change. Returns how many articles gained a vector.
func (s *IngestionService) ReembedPending(ctx context.Context, limit int) (int, error) {
	if s.embedder == nil {
		return 0, fmt.Errorf("no embedder configured")
	}

	pending, err := s.repo.PendingEmbedding(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending embeddings: %w", err)
	}

	embedded := 0
	for i := range pending {
		article := pending[i]
		vec, err := s.embedder.Embed(ctx, embeddingText(article.Title, article.Content))
		if err != nil {
			s.debug("re-embedding skipped", "article", article.ID, "error", err)
			continue
		}
		article.Embedding = vec
		if err := s.resolver.Resolve(ctx, &article); err != nil {
			return embedded, fmt.Errorf("re-resolve article %s: %w", article.ID, err)
		}
		embedded++
	}
	return embedded, nil
}

// embeddingText weights the title by repeating it ahead of the content;
// titles carry most of the duplicate signal across sources.
func embeddingText(title, content string) string {
	const maxContentChars = 2000
	content = truncateRunes(content, maxContentChars)
	var b strings.Builder
	b.WriteString(title)
	b.WriteString(". ")
	b.WriteString(title)
	b.WriteString(". ")
	b.WriteString(content)
	return b.String()
}

// truncateRunes cuts s to at most max bytes without splitting a rune.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func (s *IngestionService) info(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *IngestionService) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *IngestionService) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
