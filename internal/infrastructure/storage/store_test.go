package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"newsdigest/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testArticle(source domain.Source, sourceID, title, url string, publishedAt time.Time) *domain.Article {
	return &domain.Article{
		Source:      source,
		SourceID:    sourceID,
		Title:       title,
		Content:     "Body of " + title,
		URL:         url,
		PublishedAt: publishedAt,
		FetchedAt:   publishedAt,
	}
}

func TestUpsertKeepsOneRowPerSourceID(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	published := time.Now().UTC().Truncate(time.Second)
	first := testArticle(domain.SourceRSS, "guid-1", "LLM release", "https://example.com/a", published)
	if err := store.Upsert(ctx, first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	second := testArticle(domain.SourceRSS, "guid-1", "LLM release (updated)", "https://example.com/a", published)
	if err := store.Upsert(ctx, second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if second.ID != first.ID {
		t.Fatalf("re-ingestion must keep the stored ID: %s vs %s", second.ID, first.ID)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalArticles != 1 {
		t.Fatalf("expected 1 article after re-ingestion, got %d", stats.TotalArticles)
	}

	got, err := store.GetByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "LLM release (updated)" {
		t.Fatalf("upsert should refresh fields, got title %q", got.Title)
	}
}

func TestUpsertPreservesEnrichment(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	published := time.Now().UTC().Truncate(time.Second)
	article := testArticle(domain.SourceArxiv, "2501.00001", "Attention study", "https://arxiv.org/abs/2501.00001", published)
	score := 72.5
	article.RelevanceScore = &score
	article.Summary = "A study."
	article.Categories = []string{"research"}
	article.Embedding = []float32{0.6, 0.8}

	if err := store.Upsert(ctx, article); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := store.GetByID(ctx, article.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RelevanceScore == nil || *got.RelevanceScore != 72.5 {
		t.Fatalf("relevance score lost: %v", got.RelevanceScore)
	}
	if len(got.Embedding) != 2 || got.Embedding[0] != 0.6 {
		t.Fatalf("embedding lost: %v", got.Embedding)
	}
	if len(got.Categories) != 1 || got.Categories[0] != "research" {
		t.Fatalf("categories lost: %v", got.Categories)
	}
}

func TestFindCanonicalByURLExcludesSelfAndDuplicates(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	published := time.Now().UTC().Truncate(time.Second)
	canonical := testArticle(domain.SourceRSS, "a", "Story", "https://example.com/story", published)
	if err := store.Upsert(ctx, canonical); err != nil {
		t.Fatalf("upsert canonical: %v", err)
	}

	// Self-match must not count as a duplicate hit.
	if found, err := store.FindCanonicalByURL(ctx, canonical.URL, canonical.ID); err != nil || found != nil {
		t.Fatalf("expected no match excluding self, got %v err %v", found, err)
	}

	other := testArticle(domain.SourceHackerNews, "123", "Story repost", "https://example.com/story", published)
	if err := store.Upsert(ctx, other); err != nil {
		t.Fatalf("upsert other: %v", err)
	}
	found, err := store.FindCanonicalByURL(ctx, other.URL, other.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found == nil || found.ID != canonical.ID {
		t.Fatalf("expected canonical match, got %v", found)
	}

	// A duplicate row at the same URL is never offered as canonical.
	dup := testArticle(domain.SourceRSS, "b", "Story mirror", "https://example.com/story", published)
	dup.IsDuplicate = true
	dup.DuplicateOf = &canonical.ID
	if err := store.Upsert(ctx, dup); err != nil {
		t.Fatalf("upsert dup: %v", err)
	}
	found, err = store.FindCanonicalByURL(ctx, dup.URL, dup.ID)
	if err != nil {
		t.Fatalf("find after dup: %v", err)
	}
	if found == nil || found.ID != canonical.ID {
		t.Fatalf("expected canonical, got %v", found)
	}
}

func TestSimilarSinceOrdersByCosine(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	near := testArticle(domain.SourceRSS, "near", "Near", "https://example.com/near", now)
	near.Embedding = []float32{1, 0, 0}
	far := testArticle(domain.SourceRSS, "far", "Far", "https://example.com/far", now)
	far.Embedding = []float32{0, 1, 0}
	old := testArticle(domain.SourceRSS, "old", "Old", "https://example.com/old", now.Add(-60*24*time.Hour))
	old.Embedding = []float32{1, 0, 0}

	for _, a := range []*domain.Article{near, far, old} {
		if err := store.Upsert(ctx, a); err != nil {
			t.Fatalf("upsert %s: %v", a.SourceID, err)
		}
	}

	matches, err := store.SimilarSince(ctx, []float32{0.9, 0.1, 0}, now.Add(-30*24*time.Hour), 5)
	if err != nil {
		t.Fatalf("similar: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("window should exclude the old article, got %d matches", len(matches))
	}
	if matches[0].ID != near.ID {
		t.Fatalf("expected closest vector first, got %s", matches[0].ID)
	}
	if matches[0].Similarity <= matches[1].Similarity {
		t.Fatalf("matches not ordered: %f then %f", matches[0].Similarity, matches[1].Similarity)
	}
}

func TestAdoptCanonicalRepointsCluster(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	oldCanonical := testArticle(domain.SourceRSS, "old", "Original", "https://example.com/1", now)
	if err := store.Upsert(ctx, oldCanonical); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	member := testArticle(domain.SourceRSS, "member", "Copy", "https://example.com/2", now)
	member.IsDuplicate = true
	member.DuplicateOf = &oldCanonical.ID
	if err := store.Upsert(ctx, member); err != nil {
		t.Fatalf("upsert member: %v", err)
	}
	earlier := testArticle(domain.SourceArxiv, "2501.1", "Original preprint", "https://example.com/3", now.Add(-2*time.Hour))
	if err := store.Upsert(ctx, earlier); err != nil {
		t.Fatalf("upsert earlier: %v", err)
	}

	if err := store.AdoptCanonical(ctx, earlier.ID, oldCanonical.ID); err != nil {
		t.Fatalf("adopt: %v", err)
	}

	got, err := store.GetByID(ctx, oldCanonical.ID)
	if err != nil {
		t.Fatalf("get old: %v", err)
	}
	if !got.IsDuplicate || got.DuplicateOf == nil || *got.DuplicateOf != earlier.ID {
		t.Fatalf("old canonical should now point at the earlier article: %+v", got)
	}

	gotMember, err := store.GetByID(ctx, member.ID)
	if err != nil {
		t.Fatalf("get member: %v", err)
	}
	if gotMember.DuplicateOf == nil || *gotMember.DuplicateOf != earlier.ID {
		t.Fatalf("cluster member should be repointed, got %v", gotMember.DuplicateOf)
	}

	gotNew, err := store.GetByID(ctx, earlier.ID)
	if err != nil {
		t.Fatalf("get new: %v", err)
	}
	if gotNew.IsDuplicate {
		t.Fatal("adopted canonical must not be a duplicate")
	}
}

func TestSearchExcludesDuplicatesByDefault(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	canonical := testArticle(domain.SourceRSS, "a", "Transformer models explained", "https://example.com/a", now)
	if err := store.Upsert(ctx, canonical); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	dup := testArticle(domain.SourceHackerNews, "99", "Transformer models explained again", "https://example.com/b", now)
	dup.IsDuplicate = true
	dup.DuplicateOf = &canonical.ID
	if err := store.Upsert(ctx, dup); err != nil {
		t.Fatalf("upsert dup: %v", err)
	}

	results, total, err := store.Search(ctx, "transformer", domain.ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 1 || len(results) != 1 {
		t.Fatalf("expected only the canonical hit, got total=%d len=%d", total, len(results))
	}
	if results[0].ID != canonical.ID {
		t.Fatalf("unexpected hit %s", results[0].ID)
	}

	_, total, err = store.Search(ctx, "transformer", domain.ListOptions{Limit: 10, IncludeDuplicates: true})
	if err != nil {
		t.Fatalf("search with duplicates: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 hits with duplicates included, got %d", total)
	}
}

func TestSearchEmptyQueryRejected(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	if _, _, err := store.Search(context.Background(), "   ", domain.ListOptions{}); err == nil {
		t.Fatal("expected error for blank query")
	}
}

func TestListPaginationTotalsAreConsistent(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 7; i++ {
		a := testArticle(domain.SourceRSS, fmt.Sprintf("item-%d", i),
			fmt.Sprintf("Item %d", i), fmt.Sprintf("https://example.com/%d", i),
			now.Add(-time.Duration(i)*time.Minute))
		if err := store.Upsert(ctx, a); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	page1, total, err := store.List(ctx, domain.ListOptions{Limit: 3})
	if err != nil {
		t.Fatalf("list page 1: %v", err)
	}
	if total != 7 || len(page1) != 3 {
		t.Fatalf("expected total=7 page of 3, got total=%d len=%d", total, len(page1))
	}
	if page1[0].SourceID != "item-0" {
		t.Fatalf("expected newest first, got %s", page1[0].SourceID)
	}

	page3, total, err := store.List(ctx, domain.ListOptions{Limit: 3, Offset: 6})
	if err != nil {
		t.Fatalf("list page 3: %v", err)
	}
	if total != 7 || len(page3) != 1 {
		t.Fatalf("expected final partial page of 1, got total=%d len=%d", total, len(page3))
	}
}

func TestListFiltersCompose(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	scored := testArticle(domain.SourceArxiv, "scored", "Scored", "https://example.com/s", now)
	high := 80.0
	scored.RelevanceScore = &high
	unscored := testArticle(domain.SourceArxiv, "unscored", "Unscored", "https://example.com/u", now)
	otherSource := testArticle(domain.SourceRSS, "rss", "RSS", "https://example.com/r", now)
	low := 90.0
	otherSource.RelevanceScore = &low

	for _, a := range []*domain.Article{scored, unscored, otherSource} {
		if err := store.Upsert(ctx, a); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	minScore := 50.0
	results, total, err := store.List(ctx, domain.ListOptions{
		Source:       domain.SourceArxiv,
		MinRelevance: &minScore,
		Limit:        10,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(results) != 1 || results[0].ID != scored.ID {
		t.Fatalf("filters should leave only the scored arxiv article, got total=%d", total)
	}
}

func TestTopForDigestSkipsUnscored(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	top := testArticle(domain.SourceRSS, "top", "Top story", "https://example.com/top", now)
	topScore := 95.0
	top.RelevanceScore = &topScore
	mid := testArticle(domain.SourceRSS, "mid", "Mid story", "https://example.com/mid", now)
	midScore := 60.0
	mid.RelevanceScore = &midScore
	lowArticle := testArticle(domain.SourceRSS, "low", "Low story", "https://example.com/low", now)
	lowScore := 10.0
	lowArticle.RelevanceScore = &lowScore
	unscored := testArticle(domain.SourceRSS, "none", "Unscored story", "https://example.com/none", now)

	for _, a := range []*domain.Article{top, mid, lowArticle, unscored} {
		if err := store.Upsert(ctx, a); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	picked, err := store.TopForDigest(ctx, now.Add(-24*time.Hour), now.Add(time.Hour), 50, 10)
	if err != nil {
		t.Fatalf("top for digest: %v", err)
	}
	if len(picked) != 2 {
		t.Fatalf("expected 2 qualifying articles, got %d", len(picked))
	}
	if picked[0].ID != top.ID || picked[1].ID != mid.ID {
		t.Fatalf("unexpected ordering: %s, %s", picked[0].SourceID, picked[1].SourceID)
	}
}

func TestTopForDigestExcludesPostWindowArticles(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	windowStart := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	windowEnd := windowStart.Add(24 * time.Hour)

	inside := testArticle(domain.SourceRSS, "in", "Inside story", "https://example.com/in", windowStart.Add(9*time.Hour))
	insideScore := 60.0
	inside.RelevanceScore = &insideScore

	// Published after the window with a higher score; it must not use up
	// a limit slot.
	after := testArticle(domain.SourceRSS, "after", "Next-day story", "https://example.com/after", windowEnd.Add(time.Hour))
	afterScore := 99.0
	after.RelevanceScore = &afterScore

	for _, a := range []*domain.Article{inside, after} {
		if err := store.Upsert(ctx, a); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	picked, err := store.TopForDigest(ctx, windowStart, windowEnd, 50, 1)
	if err != nil {
		t.Fatalf("top for digest: %v", err)
	}
	if len(picked) != 1 || picked[0].ID != inside.ID {
		t.Fatalf("expected only the in-window article, got %d picked", len(picked))
	}
}

func TestPendingEmbeddingListsUnvectorized(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	withVec := testArticle(domain.SourceRSS, "vec", "Has vector", "https://example.com/v", now)
	withVec.Embedding = []float32{1, 0}
	withoutVec := testArticle(domain.SourceRSS, "novec", "No vector", "https://example.com/n", now)

	for _, a := range []*domain.Article{withVec, withoutVec} {
		if err := store.Upsert(ctx, a); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	pending, err := store.PendingEmbedding(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != withoutVec.ID {
		t.Fatalf("expected only the vectorless article, got %d", len(pending))
	}
}

func TestDigestReplaceRegeneratesInPlace(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	first := testArticle(domain.SourceRSS, "a", "First", "https://example.com/a", now)
	second := testArticle(domain.SourceRSS, "b", "Second", "https://example.com/b", now)
	for _, a := range []*domain.Article{first, second} {
		if err := store.Upsert(ctx, a); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	date := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	digest := &domain.Digest{
		DigestDate:             date,
		SummaryText:            "First pass",
		TotalArticlesProcessed: 2,
	}
	if err := store.Replace(ctx, digest, []uuid.UUID{first.ID}); err != nil {
		t.Fatalf("first replace: %v", err)
	}
	originalID := digest.ID

	regenerated := &domain.Digest{
		DigestDate:             date,
		SummaryText:            "Second pass",
		TotalArticlesProcessed: 2,
	}
	if err := store.Replace(ctx, regenerated, []uuid.UUID{second.ID, first.ID}); err != nil {
		t.Fatalf("second replace: %v", err)
	}
	if regenerated.ID != originalID {
		t.Fatalf("regeneration must reuse the digest row, got %s vs %s", regenerated.ID, originalID)
	}

	got, members, err := store.GetByDate(ctx, date)
	if err != nil {
		t.Fatalf("get by date: %v", err)
	}
	if got == nil || got.SummaryText != "Second pass" {
		t.Fatalf("expected regenerated summary, got %+v", got)
	}
	if len(members) != 2 || members[0] != second.ID || members[1] != first.ID {
		t.Fatalf("membership should be replaced in order, got %v", members)
	}
}

func TestDigestGetByDateMissing(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	digest, members, err := store.GetByDate(context.Background(), time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if digest != nil || members != nil {
		t.Fatalf("expected no digest, got %+v", digest)
	}
}
