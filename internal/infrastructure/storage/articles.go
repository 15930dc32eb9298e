package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"newsdigest/internal/domain"
	"newsdigest/internal/ports"
)

var _ ports.ArticleRepository = (*Store)(nil)

const articleColumns = `id, source, source_id, title, content, url, author,
	published_at, fetched_at, summary, relevance_score, categories, key_points,
	embedding, embedding_norm, is_duplicate, duplicate_of`

// Upsert inserts the article or updates the existing (source, source_id)
// row, keeping its stored ID, and syncs the full-text index.
func (s *Store) Upsert(ctx context.Context, article *domain.Article) error {
	if article.ID == uuid.Nil {
		article.ID = uuid.New()
	}
	if article.FetchedAt.IsZero() {
		article.FetchedAt = time.Now().UTC()
	}

	categories, err := json.Marshal(emptyIfNil(article.Categories))
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}
	keyPoints, err := json.Marshal(emptyIfNil(article.KeyPoints))
	if err != nil {
		return fmt.Errorf("marshal key points: %w", err)
	}

	var embedding []byte
	var norm sql.NullFloat64
	if len(article.Embedding) > 0 {
		embedding = serializeVector(article.Embedding)
		norm = sql.NullFloat64{Float64: vectorNorm(article.Embedding), Valid: true}
	}

	var score sql.NullFloat64
	if article.RelevanceScore != nil {
		score = sql.NullFloat64{Float64: *article.RelevanceScore, Valid: true}
	}

	var duplicateOf sql.NullString
	if article.DuplicateOf != nil {
		duplicateOf = sql.NullString{String: article.DuplicateOf.String(), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO articles (
			id, source, source_id, title, content, url, author,
			published_at, fetched_at, summary, relevance_score,
			categories, key_points, embedding, embedding_norm,
			is_duplicate, duplicate_of
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, source_id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			url = excluded.url,
			author = excluded.author,
			published_at = excluded.published_at,
			fetched_at = excluded.fetched_at,
			summary = excluded.summary,
			relevance_score = excluded.relevance_score,
			categories = excluded.categories,
			key_points = excluded.key_points,
			embedding = excluded.embedding,
			embedding_norm = excluded.embedding_norm,
			is_duplicate = excluded.is_duplicate,
			duplicate_of = excluded.duplicate_of`,
		article.ID.String(), string(article.Source), article.SourceID,
		article.Title, article.Content, article.URL, article.Author,
		article.PublishedAt.UTC().Unix(), article.FetchedAt.UTC().Unix(),
		article.Summary, score, string(categories), string(keyPoints),
		embedding, norm, boolToInt(article.IsDuplicate), duplicateOf,
	)
	if err != nil {
		return fmt.Errorf("upsert article: %w", err)
	}

	// The conflict branch keeps the original row ID; read it back.
	var storedID string
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM articles WHERE source = ? AND source_id = ?`,
		string(article.Source), article.SourceID,
	).Scan(&storedID); err != nil {
		return fmt.Errorf("read stored id: %w", err)
	}
	parsed, err := uuid.Parse(storedID)
	if err != nil {
		return fmt.Errorf("parse stored id: %w", err)
	}
	article.ID = parsed

	if s.ftsAvailable {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM articles_fts WHERE article_id = ?`, storedID); err != nil {
			return fmt.Errorf("clear fts row: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO articles_fts (article_id, title, content) VALUES (?, ?, ?)`,
			storedID, article.Title, article.Content); err != nil {
			return fmt.Errorf("insert fts row: %w", err)
		}
	}

	return tx.Commit()
}

// GetByID retrieves one article or nil when absent.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*domain.Article, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE id = ?`, id.String())

	article, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get article %s: %w", id, err)
	}
	return article, nil
}

// FindBySourceID returns the stored article for one upstream identity,
// or nil when it has never been seen.
func (s *Store) FindBySourceID(ctx context.Context, source domain.Source, sourceID string) (*domain.Article, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE source = ? AND source_id = ?`,
		string(source), sourceID)

	article, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by source id: %w", err)
	}
	return article, nil
}

// FindCanonicalByURL returns the canonical article with this exact URL,
// excluding the given article ID, or nil.
func (s *Store) FindCanonicalByURL(ctx context.Context, url string, exclude uuid.UUID) (*domain.Article, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+articleColumns+` FROM articles
		WHERE url = ? AND is_duplicate = 0 AND id != ?
		ORDER BY published_at ASC LIMIT 1`,
		url, exclude.String())

	article, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by url: %w", err)
	}
	return article, nil
}

// SimilarSince scans canonical articles published after since and
// returns the closest cosine matches, best first. Duplicates are not in
// the candidate set at all, not merely filtered from results.
func (s *Store) SimilarSince(ctx context.Context, embedding []float32, since time.Time, limit int) ([]domain.Match, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("empty query embedding")
	}
	if limit <= 0 {
		limit = 5
	}
	queryNorm := vectorNorm(embedding)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, published_at, embedding, embedding_norm
		FROM articles
		WHERE is_duplicate = 0 AND embedding IS NOT NULL AND published_at >= ?`,
		since.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("query similarity candidates: %w", err)
	}
	defer rows.Close()

	var matches []domain.Match
	for rows.Next() {
		var (
			idText      string
			url         string
			publishedAt int64
			blob        []byte
			norm        float64
		)
		if err := rows.Scan(&idText, &url, &publishedAt, &blob, &norm); err != nil {
			return nil, fmt.Errorf("scan similarity candidate: %w", err)
		}
		id, err := uuid.Parse(idText)
		if err != nil {
			return nil, fmt.Errorf("parse candidate id: %w", err)
		}

		similarity := cosineSimilarity(embedding, deserializeVector(blob), queryNorm, norm)
		matches = append(matches, domain.Match{
			ID:          id,
			URL:         url,
			PublishedAt: time.Unix(publishedAt, 0).UTC(),
			Similarity:  similarity,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate similarity candidates: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// AdoptCanonical atomically makes newID canonical for oldID's cluster:
// oldID becomes a duplicate of newID and every article pointing at oldID
// is re-pointed, so duplicates never chain.
func (s *Store) AdoptCanonical(ctx context.Context, newID, oldID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin adopt: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE articles SET is_duplicate = 0, duplicate_of = NULL WHERE id = ?`,
		newID.String()); err != nil {
		return fmt.Errorf("promote new canonical: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE articles SET duplicate_of = ? WHERE duplicate_of = ?`,
		newID.String(), oldID.String()); err != nil {
		return fmt.Errorf("repoint cluster: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE articles SET is_duplicate = 1, duplicate_of = ? WHERE id = ?`,
		newID.String(), oldID.String()); err != nil {
		return fmt.Errorf("demote old canonical: %w", err)
	}

	return tx.Commit()
}

// List runs the composite filter path. Results are ordered by
// published_at descending with id as the tiebreak; the page and total
// come from the same transaction snapshot.
func (s *Store) List(ctx context.Context, opts domain.ListOptions) ([]domain.Article, int, error) {
	where := listPredicate(opts)

	countSQL, countArgs, err := sq.Select("COUNT(*)").From("articles").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}

	query := sq.Select(articleColumns).
		From("articles").
		Where(where).
		OrderBy("published_at DESC", "id ASC")
	if opts.Limit > 0 {
		query = query.Limit(uint64(opts.Limit)).Offset(uint64(opts.Offset))
	}
	listSQL, listArgs, err := query.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list query: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin list: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int
	if err := tx.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count articles: %w", err)
	}

	articles, err := queryArticles(ctx, tx, listSQL, listArgs...)
	if err != nil {
		return nil, 0, err
	}

	return articles, total, tx.Commit()
}

func listPredicate(opts domain.ListOptions) sq.And {
	where := sq.And{}
	if !opts.IncludeDuplicates {
		where = append(where, sq.Eq{"is_duplicate": 0})
	}
	if opts.Source != "" {
		where = append(where, sq.Eq{"source": string(opts.Source)})
	}
	if opts.MinRelevance != nil {
		// A NULL relevance_score never satisfies the comparison, which
		// is exactly the unscored-articles-excluded rule.
		where = append(where, sq.GtOrEq{"relevance_score": *opts.MinRelevance})
	}
	if !opts.Since.IsZero() {
		where = append(where, sq.GtOrEq{"published_at": opts.Since.UTC().Unix()})
	}
	if len(where) == 0 {
		where = append(where, sq.Expr("1 = 1"))
	}
	return where
}

// TopForDigest returns the digest selection: canonical, scored at or
// above minRelevance, published inside [since, until), best score first
// with recency as the tiebreak. The upper bound is part of the query so
// out-of-window articles never occupy limit slots.
func (s *Store) TopForDigest(ctx context.Context, since, until time.Time, minRelevance float64, limit int) ([]domain.Article, error) {
	return queryArticles(ctx, s.db, `
		SELECT `+articleColumns+` FROM articles
		WHERE is_duplicate = 0
		  AND relevance_score IS NOT NULL
		  AND relevance_score >= ?
		  AND published_at >= ?
		  AND published_at < ?
		ORDER BY relevance_score DESC, published_at DESC, id ASC
		LIMIT ?`,
		minRelevance, since.UTC().Unix(), until.UTC().Unix(), limit)
}

// CountCanonicalSince counts canonical articles inside the window,
// scored or not; digest reporting uses it as "articles considered".
func (s *Store) CountCanonicalSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM articles WHERE is_duplicate = 0 AND published_at >= ?`,
		since.UTC().Unix()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count canonical: %w", err)
	}
	return count, nil
}

// PendingEmbedding lists canonical articles persisted without a vector,
// oldest fetch first, for the maintenance re-embedding pass.
func (s *Store) PendingEmbedding(ctx context.Context, limit int) ([]domain.Article, error) {
	if limit <= 0 {
		limit = 100
	}
	return queryArticles(ctx, s.db, `
		SELECT `+articleColumns+` FROM articles
		WHERE embedding IS NULL AND is_duplicate = 0
		ORDER BY fetched_at ASC, id ASC
		LIMIT ?`, limit)
}

// Stats reports store-wide counters.
func (s *Store) Stats(ctx context.Context) (domain.StoreStats, error) {
	stats := domain.StoreStats{ArticlesBySource: map[domain.Source]int{}}

	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles`).Scan(&stats.TotalArticles)
	if err != nil {
		return stats, fmt.Errorf("count articles: %w", err)
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM articles WHERE is_duplicate = 1`).Scan(&stats.DuplicateArticles)
	if err != nil {
		return stats, fmt.Errorf("count duplicates: %w", err)
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM articles WHERE published_at >= ?`,
		time.Now().UTC().Add(-24*time.Hour).Unix()).Scan(&stats.Recent24h)
	if err != nil {
		return stats, fmt.Errorf("count recent: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT source, COUNT(*) FROM articles GROUP BY source`)
	if err != nil {
		return stats, fmt.Errorf("count by source: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var source string
		var count int
		if err := rows.Scan(&source, &count); err != nil {
			return stats, fmt.Errorf("scan source count: %w", err)
		}
		stats.ArticlesBySource[domain.Source(source)] = count
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryArticles(ctx context.Context, q querier, query string, args ...any) ([]domain.Article, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	var articles []domain.Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		articles = append(articles, *article)
	}
	return articles, rows.Err()
}

func scanArticle(row rowScanner) (*domain.Article, error) {
	var (
		article        domain.Article
		idText         string
		source         string
		publishedAt    int64
		fetchedAt      int64
		score          sql.NullFloat64
		categoriesJSON string
		keyPointsJSON  string
		embedding      []byte
		norm           sql.NullFloat64
		isDuplicate    int
		duplicateOf    sql.NullString
	)

	err := row.Scan(
		&idText, &source, &article.SourceID, &article.Title, &article.Content,
		&article.URL, &article.Author, &publishedAt, &fetchedAt,
		&article.Summary, &score, &categoriesJSON, &keyPointsJSON,
		&embedding, &norm, &isDuplicate, &duplicateOf,
	)
	if err != nil {
		return nil, err
	}

	article.ID, err = uuid.Parse(idText)
	if err != nil {
		return nil, fmt.Errorf("parse article id: %w", err)
	}
	article.Source = domain.Source(source)
	article.PublishedAt = time.Unix(publishedAt, 0).UTC()
	article.FetchedAt = time.Unix(fetchedAt, 0).UTC()

	if score.Valid {
		v := score.Float64
		article.RelevanceScore = &v
	}
	if err := json.Unmarshal([]byte(categoriesJSON), &article.Categories); err != nil {
		return nil, fmt.Errorf("unmarshal categories: %w", err)
	}
	if err := json.Unmarshal([]byte(keyPointsJSON), &article.KeyPoints); err != nil {
		return nil, fmt.Errorf("unmarshal key points: %w", err)
	}
	if len(embedding) > 0 {
		article.Embedding = deserializeVector(embedding)
	}
	article.IsDuplicate = isDuplicate != 0
	if duplicateOf.Valid {
		parsed, err := uuid.Parse(duplicateOf.String)
		if err != nil {
			return nil, fmt.Errorf("parse duplicate_of: %w", err)
		}
		article.DuplicateOf = &parsed
	}

	return &article, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
