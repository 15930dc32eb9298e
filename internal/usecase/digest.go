package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"newsdigest/internal/domain"
	"newsdigest/internal/ports"
)

// DigestConfig tunes digest selection and composition.
type DigestConfig struct {
	// Window is how far back from the digest date articles qualify.
	Window time.Duration
	// MinRelevance is the score floor; unscored articles never qualify.
	MinRelevance float64
	// MaxItems caps how many articles a digest contains.
	MaxItems int
}

func (c DigestConfig) withDefaults() DigestConfig {
	if c.Window <= 0 {
		c.Window = 24 * time.Hour
	}
	if c.MinRelevance <= 0 {
		c.MinRelevance = 50
	}
	if c.MaxItems <= 0 {
		c.MaxItems = 10
	}
	return c
}

// DigestService composes the periodic digest from top-scored canonical
// articles. Regeneration for the same date replaces the digest in place,
// so the operation is idempotent and safe to retrigger.
type DigestService struct {
	articles ports.ArticleRepository
	digests  ports.DigestRepository
	notifier ports.Notifier
	cfg      DigestConfig
	logger   *slog.Logger
}

// NewDigestService wires the digest pipeline. notifier may be nil.
func NewDigestService(
	articles ports.ArticleRepository,
	digests ports.DigestRepository,
	notifier ports.Notifier,
	cfg DigestConfig,
	logger *slog.Logger,
) *DigestService {
	return &DigestService{
		articles: articles,
		digests:  digests,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// RunDigestOnce generates or regenerates the digest for the given date.
// The selection window ends at the start of the day after date, so a
// late regeneration sees the same articles as the original run.
func (s *DigestService) RunDigestOnce(ctx context.Context, date time.Time) (*domain.Digest, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	windowEnd := dayStart.Add(24 * time.Hour)
	windowStart := windowEnd.Add(-s.cfg.Window)

	selected, err := s.articles.TopForDigest(ctx, windowStart, windowEnd, s.cfg.MinRelevance, s.cfg.MaxItems)
	if err != nil {
		return nil, fmt.Errorf("select digest articles: %w", err)
	}

	considered, err := s.articles.CountCanonicalSince(ctx, windowStart)
	if err != nil {
		return nil, fmt.Errorf("count considered articles: %w", err)
	}

	digest := &domain.Digest{
		DigestDate:             dayStart,
		SummaryText:            composeSummary(selected),
		TotalArticlesProcessed: considered,
		CreatedAt:              time.Now().UTC(),
	}

	ids := make([]uuid.UUID, len(selected))
	for i, a := range selected {
		ids[i] = a.ID
	}
	if err := s.digests.Replace(ctx, digest, ids); err != nil {
		return nil, fmt.Errorf("persist digest: %w", err)
	}

	s.info("digest generated",
		"date", dayStart.Format("2006-01-02"),
		"articles", len(selected),
		"considered", considered)

	if s.notifier != nil && len(selected) > 0 {
		if err := s.notifier.PublishDigest(ctx, digest.SummaryText); err != nil {
			// Publishing is best effort; the digest itself is stored.
			s.warn("digest notification failed", "error", err)
		}
	}

	return digest, nil
}

// GetDigest returns the stored digest for a date with its member
// articles in digest order.
func (s *DigestService) GetDigest(ctx context.Context, date time.Time) (*domain.Digest, []domain.Article, error) {
	digest, ids, err := s.digests.GetByDate(ctx, date)
	if err != nil {
		return nil, nil, fmt.Errorf("load digest: %w", err)
	}
	if digest == nil {
		return nil, nil, nil
	}

	articles := make([]domain.Article, 0, len(ids))
	for _, id := range ids {
		article, err := s.articles.GetByID(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("load digest article %s: %w", id, err)
		}
		if article != nil {
			articles = append(articles, *article)
		}
	}
	return digest, articles, nil
}

// composeSummary builds the digest text from article summaries, falling
// back to headlines for articles scored without one. The result stays
// under MaxDigestSummaryChars; items that would overflow are dropped
// whole rather than cut mid-sentence.
func composeSummary(articles []domain.Article) string {
	if len(articles) == 0 {
		return "No qualifying articles today."
	}

	var b strings.Builder
	for i, a := range articles {
		line := a.Summary
		if line == "" {
			line = a.Title
		}
		entry := fmt.Sprintf("%d. %s: %s\n", i+1, a.Title, line)
		if line == a.Title {
			entry = fmt.Sprintf("%d. %s\n", i+1, a.Title)
		}
		if b.Len()+len(entry) > domain.MaxDigestSummaryChars {
			break
		}
		b.WriteString(entry)
	}

	summary := strings.TrimSpace(b.String())
	if summary == "" {
		// A single oversized entry still yields a headline-only digest.
		summary = truncateRunes(articles[0].Title, domain.MaxDigestSummaryChars)
	}
	return summary
}

func (s *DigestService) info(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *DigestService) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
