package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"newsdigest/internal/domain"
)

// ArticleSource pulls fresh candidates from one upstream provider. Each
// implementation owns its rate limiter and circuit breaker.
type ArticleSource interface {
	Name() domain.Source
	Fetch(ctx context.Context, maxItems int) ([]domain.Candidate, error)
}

// Analyzer scores an article for relevance and extracts structured
// enrichment. Treated as fallible; callers persist without enrichment
// when it fails.
type Analyzer interface {
	Score(ctx context.Context, candidate domain.Candidate) (domain.Analysis, error)
}

// Embedder turns normalized text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// ArticleRepository persists articles and serves the three query paths.
type ArticleRepository interface {
	// Upsert inserts the article or updates the existing
	// (source, source_id) row, filling in the stored ID.
	Upsert(ctx context.Context, article *domain.Article) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Article, error)

	// FindBySourceID returns the stored article for an upstream
	// identity, or nil when it has never been ingested.
	FindBySourceID(ctx context.Context, source domain.Source, sourceID string) (*domain.Article, error)

	// FindCanonicalByURL returns the canonical article with this exact
	// URL, excluding the given article ID, or nil.
	FindCanonicalByURL(ctx context.Context, url string, exclude uuid.UUID) (*domain.Article, error)

	// SimilarSince scans canonical articles published after since and
	// returns the closest matches by cosine similarity, best first.
	SimilarSince(ctx context.Context, embedding []float32, since time.Time, limit int) ([]domain.Match, error)

	// AdoptCanonical atomically makes newID the canonical article for
	// oldID's cluster: oldID and everything pointing at it become
	// duplicates of newID.
	AdoptCanonical(ctx context.Context, newID, oldID uuid.UUID) error

	// Search runs the full-text path; List runs the composite filter
	// path. Both return the page plus the total count from the same
	// snapshot.
	Search(ctx context.Context, query string, opts domain.ListOptions) ([]domain.Article, int, error)
	List(ctx context.Context, opts domain.ListOptions) ([]domain.Article, int, error)

	// TopForDigest selects canonical scored articles published inside
	// [since, until), best score first.
	TopForDigest(ctx context.Context, since, until time.Time, minRelevance float64, limit int) ([]domain.Article, error)
	CountCanonicalSince(ctx context.Context, since time.Time) (int, error)

	// PendingEmbedding lists canonical articles persisted without a
	// vector, oldest first, for the maintenance re-embedding pass.
	PendingEmbedding(ctx context.Context, limit int) ([]domain.Article, error)

	Stats(ctx context.Context) (domain.StoreStats, error)
}

// DigestRepository persists digests and their membership snapshots.
type DigestRepository interface {
	// Replace creates the digest for its date or updates the existing
	// row in place, and atomically swaps the membership set. Audio
	// fields written by the external pipeline are left untouched.
	Replace(ctx context.Context, digest *domain.Digest, articleIDs []uuid.UUID) error
	GetByDate(ctx context.Context, date time.Time) (*domain.Digest, []uuid.UUID, error)
}

// Notifier publishes a generated digest to an outbound channel.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}
