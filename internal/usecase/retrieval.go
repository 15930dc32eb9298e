package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"newsdigest/internal/domain"
	"newsdigest/internal/ports"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// Query carries the user-facing retrieval parameters. Zero values mean
// "no filter"; Page and PerPage are normalized during validation.
type Query struct {
	Text              string
	Source            domain.Source
	MinRelevance      *float64
	Since             time.Time
	IncludeDuplicates bool
	Page              int
	PerPage           int
}

// Pagination describes the page that was returned relative to the full
// result set.
type Pagination struct {
	Page       int
	PerPage    int
	Total      int
	TotalPages int
	HasNext    bool
	HasPrev    bool
}

// RetrievalService serves full-text search and composite filtering over
// stored articles.
type RetrievalService struct {
	repo   ports.ArticleRepository
	logger *slog.Logger
}

// NewRetrievalService builds the retrieval service.
func NewRetrievalService(repo ports.ArticleRepository, logger *slog.Logger) *RetrievalService {
	return &RetrievalService{repo: repo, logger: logger}
}

// Search runs a text query with optional filters. The query must be
// non-blank; filters compose with it the same way they do in Filter.
func (s *RetrievalService) Search(ctx context.Context, q Query) ([]domain.Article, Pagination, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, Pagination{}, fmt.Errorf("search query must not be empty")
	}
	q, err := normalizeQuery(q)
	if err != nil {
		return nil, Pagination{}, err
	}

	articles, total, err := s.repo.Search(ctx, q.Text, listOptions(q))
	if err != nil {
		return nil, Pagination{}, fmt.Errorf("search articles: %w", err)
	}
	return articles, paginate(q, total), nil
}

// Filter lists articles matching the composite filters without a text
// query.
func (s *RetrievalService) Filter(ctx context.Context, q Query) ([]domain.Article, Pagination, error) {
	q, err := normalizeQuery(q)
	if err != nil {
		return nil, Pagination{}, err
	}

	articles, total, err := s.repo.List(ctx, listOptions(q))
	if err != nil {
		return nil, Pagination{}, fmt.Errorf("list articles: %w", err)
	}
	return articles, paginate(q, total), nil
}

// Stats exposes store-wide counters for operators.
func (s *RetrievalService) Stats(ctx context.Context) (domain.StoreStats, error) {
	return s.repo.Stats(ctx)
}

func normalizeQuery(q Query) (Query, error) {
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Page < 1 {
		return q, fmt.Errorf("page must be at least 1, got %d", q.Page)
	}
	if q.PerPage == 0 {
		q.PerPage = defaultPerPage
	}
	if q.PerPage < 1 || q.PerPage > maxPerPage {
		return q, fmt.Errorf("per_page must be between 1 and %d, got %d", maxPerPage, q.PerPage)
	}
	if q.MinRelevance != nil && (*q.MinRelevance < 0 || *q.MinRelevance > 100) {
		return q, fmt.Errorf("min_relevance must be between 0 and 100, got %g", *q.MinRelevance)
	}
	return q, nil
}

func listOptions(q Query) domain.ListOptions {
	return domain.ListOptions{
		Source:            q.Source,
		MinRelevance:      q.MinRelevance,
		Since:             q.Since,
		IncludeDuplicates: q.IncludeDuplicates,
		Limit:             q.PerPage,
		Offset:            (q.Page - 1) * q.PerPage,
	}
}

func paginate(q Query, total int) Pagination {
	totalPages := (total + q.PerPage - 1) / q.PerPage
	return Pagination{
		Page:       q.Page,
		PerPage:    q.PerPage,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    q.Page < totalPages,
		HasPrev:    q.Page > 1,
	}
}
