package domain

import (
	"time"

	"github.com/google/uuid"
)

// Source identifies the upstream provider an article came from.
type Source string

const (
	SourceArxiv      Source = "arxiv"
	SourceHackerNews Source = "hackernews"
	SourceRSS        Source = "rss"
)

// Candidate is a raw article produced by a fetcher before enrichment.
type Candidate struct {
	Source      Source
	SourceID    string
	Title       string
	Content     string
	URL         string
	Author      string
	PublishedAt time.Time
}

// Article is the core entity persisted by the store. (Source, SourceID)
// is unique; re-ingesting the same pair upserts the existing row.
type Article struct {
	ID          uuid.UUID
	Source      Source
	SourceID    string
	Title       string
	Content     string
	URL         string
	Author      string
	PublishedAt time.Time
	FetchedAt   time.Time

	// Enrichment, absent until an analysis pass succeeds.
	Summary        string
	RelevanceScore *float64
	Categories     []string
	KeyPoints      []string
	Embedding      []float32

	// Duplicate state. When IsDuplicate is true, DuplicateOf points at a
	// canonical article (one with IsDuplicate == false), never at another
	// duplicate.
	IsDuplicate bool
	DuplicateOf *uuid.UUID
}

// Analysis carries the enrichment produced by the relevance scorer.
type Analysis struct {
	Summary        string
	RelevanceScore float64
	Categories     []string
	KeyPoints      []string
}

// Match is a similarity-search hit against a stored canonical article.
type Match struct {
	ID          uuid.UUID
	URL         string
	PublishedAt time.Time
	Similarity  float64
}

// ListOptions controls the composite filter path of the store.
type ListOptions struct {
	Source            Source
	MinRelevance      *float64
	Since             time.Time
	IncludeDuplicates bool
	Limit             int
	Offset            int
}
