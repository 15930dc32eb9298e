package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"newsdigest/internal/domain"
	"newsdigest/internal/ports"
)

var _ ports.DigestRepository = (*Store)(nil)

const digestDateLayout = "2006-01-02"

// Replace upserts the digest for its date and swaps its article
// membership in one transaction. Regenerating the same date keeps a
// single digest row and, since the audio columns are not part of the
// update, keeps any narration already attached to it.
func (s *Store) Replace(ctx context.Context, digest *domain.Digest, articleIDs []uuid.UUID) error {
	if digest == nil {
		return fmt.Errorf("nil digest")
	}
	if digest.ID == uuid.Nil {
		digest.ID = uuid.New()
	}
	if digest.CreatedAt.IsZero() {
		digest.CreatedAt = time.Now().UTC()
	}
	dateKey := digest.DigestDate.UTC().Format(digestDateLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin digest replace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO digests (
			id, digest_date, summary_text, total_articles_processed, created_at
		) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(digest_date) DO UPDATE SET
			summary_text = excluded.summary_text,
			total_articles_processed = excluded.total_articles_processed,
			created_at = excluded.created_at`,
		digest.ID.String(), dateKey, digest.SummaryText,
		digest.TotalArticlesProcessed, digest.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("upsert digest: %w", err)
	}

	// The conflict branch keeps the original row ID; read it back.
	var storedID string
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM digests WHERE digest_date = ?`, dateKey).Scan(&storedID); err != nil {
		return fmt.Errorf("read digest id: %w", err)
	}
	parsed, err := uuid.Parse(storedID)
	if err != nil {
		return fmt.Errorf("parse digest id: %w", err)
	}
	digest.ID = parsed

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM digest_articles WHERE digest_id = ?`, storedID); err != nil {
		return fmt.Errorf("clear digest membership: %w", err)
	}
	for position, articleID := range articleIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO digest_articles (digest_id, article_id, position) VALUES (?, ?, ?)`,
			storedID, articleID.String(), position); err != nil {
			return fmt.Errorf("insert digest membership: %w", err)
		}
	}

	return tx.Commit()
}

// GetByDate returns the digest for a calendar date with its member
// article IDs in digest order, or nil when no digest exists.
func (s *Store) GetByDate(ctx context.Context, date time.Time) (*domain.Digest, []uuid.UUID, error) {
	dateKey := date.UTC().Format(digestDateLayout)

	var (
		digest    domain.Digest
		idText    string
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, summary_text, total_articles_processed,
		       audio_url, audio_duration_seconds, audio_size_bytes, created_at
		FROM digests WHERE digest_date = ?`, dateKey).Scan(
		&idText, &digest.SummaryText, &digest.TotalArticlesProcessed,
		&digest.AudioURL, &digest.AudioDurationSeconds, &digest.AudioSizeBytes, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get digest for %s: %w", dateKey, err)
	}

	digest.ID, err = uuid.Parse(idText)
	if err != nil {
		return nil, nil, fmt.Errorf("parse digest id: %w", err)
	}
	parsedDate, err := time.ParseInLocation(digestDateLayout, dateKey, time.UTC)
	if err != nil {
		return nil, nil, fmt.Errorf("parse digest date: %w", err)
	}
	digest.DigestDate = parsedDate
	digest.CreatedAt = time.Unix(createdAt, 0).UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT article_id FROM digest_articles
		WHERE digest_id = ? ORDER BY position ASC`, idText)
	if err != nil {
		return nil, nil, fmt.Errorf("list digest articles: %w", err)
	}
	defer rows.Close()

	var articleIDs []uuid.UUID
	for rows.Next() {
		var articleText string
		if err := rows.Scan(&articleText); err != nil {
			return nil, nil, fmt.Errorf("scan digest article: %w", err)
		}
		articleID, err := uuid.Parse(articleText)
		if err != nil {
			return nil, nil, fmt.Errorf("parse digest article id: %w", err)
		}
		articleIDs = append(articleIDs, articleID)
	}
	return &digest, articleIDs, rows.Err()
}
