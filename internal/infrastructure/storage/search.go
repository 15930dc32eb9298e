package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"newsdigest/internal/domain"
)

const prefixedArticleColumns = `a.id, a.source, a.source_id, a.title, a.content, a.url, a.author,
	a.published_at, a.fetched_at, a.summary, a.relevance_score, a.categories, a.key_points,
	a.embedding, a.embedding_norm, a.is_duplicate, a.duplicate_of`

// Search runs a text query over titles and content, applies the same
// filters as List, and returns one page plus the total match count from
// a single transaction snapshot. The indexed full-text path ranks by
// bm25; the substring fallback orders by recency only.
func (s *Store) Search(ctx context.Context, query string, opts domain.ListOptions) ([]domain.Article, int, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, 0, fmt.Errorf("empty search query")
	}

	if s.ftsAvailable {
		return s.searchFTS(ctx, query, opts)
	}
	return s.searchSubstring(ctx, query, opts)
}

func (s *Store) searchFTS(ctx context.Context, query string, opts domain.ListOptions) ([]domain.Article, int, error) {
	match := ftsMatchExpr(query)
	if match == "" {
		return nil, 0, fmt.Errorf("search query has no indexable terms")
	}

	filterSQL, filterArgs := searchFilterClause(opts)

	base := ` FROM articles_fts f JOIN articles a ON a.id = f.article_id
		WHERE articles_fts MATCH ?` + filterSQL
	args := append([]any{match}, filterArgs...)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin search: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*)`+base, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count search matches: %w", err)
	}

	pageSQL := `SELECT ` + prefixedArticleColumns + base +
		` ORDER BY bm25(articles_fts), a.published_at DESC, a.id ASC`
	pageArgs := args
	if opts.Limit > 0 {
		pageSQL += ` LIMIT ? OFFSET ?`
		pageArgs = append(pageArgs, opts.Limit, opts.Offset)
	}

	articles, err := queryArticles(ctx, tx, pageSQL, pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	return articles, total, tx.Commit()
}

func (s *Store) searchSubstring(ctx context.Context, query string, opts domain.ListOptions) ([]domain.Article, int, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	filterSQL, filterArgs := searchFilterClause(opts)

	base := ` FROM articles a
		WHERE (LOWER(a.title) LIKE ? OR LOWER(a.content) LIKE ?)` + filterSQL
	args := append([]any{pattern, pattern}, filterArgs...)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin search: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*)`+base, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count search matches: %w", err)
	}

	pageSQL := `SELECT ` + prefixedArticleColumns + base +
		` ORDER BY a.published_at DESC, a.id ASC`
	pageArgs := args
	if opts.Limit > 0 {
		pageSQL += ` LIMIT ? OFFSET ?`
		pageArgs = append(pageArgs, opts.Limit, opts.Offset)
	}

	articles, err := queryArticles(ctx, tx, pageSQL, pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	return articles, total, tx.Commit()
}

func searchFilterClause(opts domain.ListOptions) (string, []any) {
	var clauses []string
	var args []any

	if !opts.IncludeDuplicates {
		clauses = append(clauses, "a.is_duplicate = 0")
	}
	if opts.Source != "" {
		clauses = append(clauses, "a.source = ?")
		args = append(args, string(opts.Source))
	}
	if opts.MinRelevance != nil {
		clauses = append(clauses, "a.relevance_score >= ?")
		args = append(args, *opts.MinRelevance)
	}
	if !opts.Since.IsZero() {
		clauses = append(clauses, "a.published_at >= ?")
		args = append(args, opts.Since.UTC().Unix())
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(clauses, " AND "), args
}

// ftsMatchExpr quotes each query token so user input cannot inject FTS
// operators like NEAR or column filters. Tokens are ANDed.
func ftsMatchExpr(query string) string {
	fields := strings.Fields(query)
	quoted := make([]string, 0, len(fields))
	for _, field := range fields {
		field = strings.ReplaceAll(field, `"`, "")
		if field == "" {
			continue
		}
		quoted = append(quoted, `"`+field+`"`)
	}
	return strings.Join(quoted, " ")
}
