package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"

	_ "modernc.org/sqlite"
)

// Store manages article and digest persistence backed by SQLite.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	// ftsAvailable gates the indexed full-text path; when the virtual
	// table could not be created the store falls back to substring
	// matching behind the same Search method.
	ftsAvailable bool
}

// Open initializes or connects to the database and applies migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path, logger: logger}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS articles (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			source_id TEXT NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			url TEXT NOT NULL,
			author TEXT NOT NULL DEFAULT '',
			published_at INTEGER NOT NULL,
			fetched_at INTEGER NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			relevance_score REAL,
			categories TEXT NOT NULL DEFAULT '[]',
			key_points TEXT NOT NULL DEFAULT '[]',
			embedding BLOB,
			embedding_norm REAL,
			is_duplicate INTEGER NOT NULL DEFAULT 0,
			duplicate_of TEXT REFERENCES articles(id),
			UNIQUE(source, source_id)
		);
		CREATE INDEX IF NOT EXISTS idx_articles_source_published ON articles(source, published_at);
		CREATE INDEX IF NOT EXISTS idx_articles_score_published ON articles(relevance_score, published_at);
		CREATE INDEX IF NOT EXISTS idx_articles_url ON articles(url);
		CREATE INDEX IF NOT EXISTS idx_articles_duplicate_of ON articles(duplicate_of);

		CREATE TABLE IF NOT EXISTS digests (
			id TEXT PRIMARY KEY,
			digest_date TEXT NOT NULL UNIQUE,
			summary_text TEXT NOT NULL,
			total_articles_processed INTEGER NOT NULL,
			audio_url TEXT NOT NULL DEFAULT '',
			audio_duration_seconds REAL NOT NULL DEFAULT 0,
			audio_size_bytes INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS digest_articles (
			digest_id TEXT NOT NULL REFERENCES digests(id) ON DELETE CASCADE,
			article_id TEXT NOT NULL REFERENCES articles(id),
			position INTEGER NOT NULL,
			PRIMARY KEY (digest_id, article_id)
		);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	ftsSchema := `
		CREATE VIRTUAL TABLE IF NOT EXISTS articles_fts USING fts5(
			article_id UNINDEXED,
			title,
			content,
			tokenize='porter unicode61'
		);
	`
	if _, err := s.db.ExecContext(ctx, ftsSchema); err != nil {
		// FTS5 may be compiled out of the driver; degrade to the
		// substring path rather than refusing to start.
		s.warn("full-text index unavailable, using substring search", "error", err)
		s.ftsAvailable = false
		return nil
	}
	s.ftsAvailable = true
	return nil
}

// serializeVector converts a float32 slice to little-endian bytes.
func serializeVector(vec []float32) []byte {
	blob := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts bytes back to a float32 slice.
func deserializeVector(blob []byte) []float32 {
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}

// vectorNorm computes the L2 norm of a vector.
func vectorNorm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// cosineSimilarity uses precomputed norms; zero norms yield zero.
func cosineSimilarity(a, b []float32, normA, normB float64) float64 {
	if len(a) != len(b) || normA == 0 || normB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB)
}

func (s *Store) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *Store) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
