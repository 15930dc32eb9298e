package domain

import "time"

// SourceStatus summarizes how a single source fared during a run.
type SourceStatus string

const (
	SourceStatusOK       SourceStatus = "ok"
	SourceStatusDegraded SourceStatus = "degraded"
)

// SourceReport is the per-source outcome inside a RunReport.
type SourceReport struct {
	Source     Source
	Status     SourceStatus
	Fetched    int
	Stored     int
	Duplicates int
	Unscored   int
	Unembedded int
	Error      string
	Duration   time.Duration
}

// RunReport is the partial-success result of one ingestion run. A failing
// source degrades its own entry and never fails the run as a whole.
type RunReport struct {
	StartedAt   time.Time
	FinishedAt  time.Time
	Sources     []SourceReport
	TotalStored int
}

// Degraded reports whether any source failed to complete cleanly.
func (r RunReport) Degraded() bool {
	for _, s := range r.Sources {
		if s.Status != SourceStatusOK {
			return true
		}
	}
	return false
}

// StoreStats is a snapshot of store-wide counters for operators.
type StoreStats struct {
	TotalArticles     int
	DuplicateArticles int
	ArticlesBySource  map[Source]int
	Recent24h         int
}
