// ABOUTME: Tests for the article store
// ABOUTME: Covers merge idempotence, status writes, retention, unread counts and search

package articles

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harper/feedsync/internal/models"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func setupTestStore(t *testing.T) (*Store, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	s, err := Open(filepath.Join(t.TempDir(), "articles.sqlite3"), Options{
		DisableBackgroundIndexing: true,
		Now:                       clock.Now,
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func item(uniqueID, title string) models.ParsedItem {
	published := time.Date(2025, 2, 28, 9, 0, 0, 0, time.UTC)
	return models.ParsedItem{
		UniqueID:      uniqueID,
		Title:         title,
		URL:           "https://example.com/" + uniqueID,
		ContentHTML:   "<p>Body of " + title + "</p>",
		DatePublished: &published,
	}
}

func TestMergeInsertsNewArticles(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	changes, err := s.Merge(ctx, "feed-1", []models.ParsedItem{item("a", "First"), item("b", "Second")}, false)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if len(changes.New) != 2 || len(changes.Updated) != 0 {
		t.Fatalf("expected 2 new and 0 updated, got %d and %d", len(changes.New), len(changes.Updated))
	}

	got, err := s.FetchArticles(ctx, []string{"feed-1"})
	if err != nil {
		t.Fatalf("FetchArticles failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 articles, got %d", len(got))
	}
	for _, a := range got {
		if a.Status.Read {
			t.Errorf("article %s should be unread", a.ArticleID)
		}
		if a.ArticleID != models.ArticleIDFor("feed-1", a.UniqueID) {
			t.Errorf("unexpected article id %s", a.ArticleID)
		}
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	items := []models.ParsedItem{item("a", "First")}

	if _, err := s.Merge(ctx, "feed-1", items, false); err != nil {
		t.Fatalf("first Merge failed: %v", err)
	}
	changes, err := s.Merge(ctx, "feed-1", items, false)
	if err != nil {
		t.Fatalf("second Merge failed: %v", err)
	}
	if !changes.IsEmpty() {
		t.Errorf("expected no changes on repeat merge, got %d new %d updated", len(changes.New), len(changes.Updated))
	}
}

func TestMergeZeroItemsIsNoop(t *testing.T) {
	s, _ := setupTestStore(t)
	changes, err := s.Merge(context.Background(), "feed-1", nil, false)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if !changes.IsEmpty() {
		t.Error("expected empty changes")
	}
}

func TestMergeUpdatesChangedFields(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	if _, err := s.Merge(ctx, "feed-1", []models.ParsedItem{item("a", "First")}, false); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	edited := item("a", "First, edited")
	edited.Authors = []models.ParsedAuthor{{Name: "Ada"}}
	changes, err := s.Merge(ctx, "feed-1", []models.ParsedItem{edited}, false)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if len(changes.Updated) != 1 || len(changes.New) != 0 {
		t.Fatalf("expected 1 updated, got %d new %d updated", len(changes.New), len(changes.Updated))
	}

	got, err := s.FetchArticle(ctx, models.ArticleIDFor("feed-1", "a"))
	if err != nil {
		t.Fatalf("FetchArticle failed: %v", err)
	}
	if got.Title != "First, edited" {
		t.Errorf("expected updated title, got %q", got.Title)
	}
	if len(got.Authors) != 1 || got.Authors[0].Name != "Ada" {
		t.Errorf("expected author Ada, got %+v", got.Authors)
	}
	if got.URL != "https://example.com/a" {
		t.Errorf("unchanged column was altered: %q", got.URL)
	}
}

func TestMergeDefaultReadAppliesOnlyToNewStatuses(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	if _, err := s.Merge(ctx, "feed-1", []models.ParsedItem{item("a", "First")}, false); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	changes, err := s.Merge(ctx, "feed-1", []models.ParsedItem{item("a", "First"), item("b", "Second")}, true)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if len(changes.New) != 1 || !changes.New[0].Status.Read {
		t.Fatalf("expected one new read article, got %+v", changes.New)
	}

	statuses, err := s.FetchStatuses(ctx, []string{models.ArticleIDFor("feed-1", "a")})
	if err != nil {
		t.Fatalf("FetchStatuses failed: %v", err)
	}
	if statuses[models.ArticleIDFor("feed-1", "a")].Read {
		t.Error("existing status should stay unread")
	}
}

func TestMergeIgnoresUserDeleted(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	id := models.ArticleIDFor("feed-1", "a")

	if _, err := s.Merge(ctx, "feed-1", []models.ParsedItem{item("a", "First")}, false); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if _, err := s.Mark(ctx, []string{id}, models.StatusUserDeleted, true); err != nil {
		t.Fatalf("Mark failed: %v", err)
	}
	changes, err := s.Merge(ctx, "feed-1", []models.ParsedItem{item("a", "Changed")}, false)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if !changes.IsEmpty() {
		t.Error("deleted article should be ignored by merge")
	}
	got, err := s.FetchArticles(ctx, []string{"feed-1"})
	if err != nil {
		t.Fatalf("FetchArticles failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("deleted article should be hidden, got %d", len(got))
	}
}

func TestRetentionHidesOldUnstarred(t *testing.T) {
	s, clock := setupTestStore(t)
	ctx := context.Background()
	oldID := models.ArticleIDFor("feed-1", "old")
	starredID := models.ArticleIDFor("feed-1", "starred")

	if _, err := s.Merge(ctx, "feed-1", []models.ParsedItem{item("old", "Old"), item("starred", "Starred")}, false); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if _, err := s.Mark(ctx, []string{starredID}, models.StatusStarred, true); err != nil {
		t.Fatalf("Mark failed: %v", err)
	}
	clock.advance(100 * 24 * time.Hour)

	got, err := s.FetchArticles(ctx, []string{"feed-1"})
	if err != nil {
		t.Fatalf("FetchArticles failed: %v", err)
	}
	if len(got) != 1 || got[0].ArticleID != starredID {
		t.Fatalf("expected only the starred article, got %+v", got)
	}

	byID, err := s.FetchArticlesByIDs(ctx, []string{oldID})
	if err != nil {
		t.Fatalf("FetchArticlesByIDs failed: %v", err)
	}
	if len(byID) != 1 {
		t.Errorf("fetch by id should ignore retention, got %d", len(byID))
	}

	changes, err := s.Merge(ctx, "feed-1", []models.ParsedItem{item("old", "Old, edited")}, false)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if !changes.IsEmpty() {
		t.Error("expired article should not be updated")
	}
}

func TestDeleteOldArticlesKeepsStatuses(t *testing.T) {
	s, clock := setupTestStore(t)
	ctx := context.Background()
	id := models.ArticleIDFor("feed-1", "a")

	if _, err := s.Merge(ctx, "feed-1", []models.ParsedItem{item("a", "First")}, true); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	clock.advance(91 * 24 * time.Hour)

	n, err := s.DeleteOldArticles(ctx)
	if err != nil {
		t.Fatalf("DeleteOldArticles failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted, got %d", n)
	}
	if _, err := s.FetchArticle(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	changes, err := s.Merge(ctx, "feed-1", []models.ParsedItem{item("a", "First")}, false)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if !changes.IsEmpty() {
		t.Error("pruned article must not come back")
	}
}

func TestMarkReturnsOnlyChanged(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	a := models.ArticleIDFor("feed-1", "a")
	b := models.ArticleIDFor("feed-1", "b")

	if _, err := s.Merge(ctx, "feed-1", []models.ParsedItem{item("a", "A"), item("b", "B")}, false); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	changed, err := s.Mark(ctx, []string{a}, models.StatusRead, true)
	if err != nil {
		t.Fatalf("Mark failed: %v", err)
	}
	if len(changed) != 1 {
		t.Fatalf("expected 1 changed, got %d", len(changed))
	}

	changed, err = s.Mark(ctx, []string{a, b}, models.StatusRead, true)
	if err != nil {
		t.Fatalf("Mark failed: %v", err)
	}
	if len(changed) != 1 || changed[0].ArticleID != b {
		t.Errorf("expected only %s to change, got %+v", b, changed)
	}

	unread, err := s.FetchUnreadArticleIDs(ctx)
	if err != nil {
		t.Fatalf("FetchUnreadArticleIDs failed: %v", err)
	}
	if len(unread) != 0 {
		t.Errorf("expected no unread ids, got %d", len(unread))
	}
}

func TestMarkCreatesMissingStatuses(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	changed, err := s.Mark(ctx, []string{"remote-1"}, models.StatusStarred, true)
	if err != nil {
		t.Fatalf("Mark failed: %v", err)
	}
	if len(changed) != 1 {
		t.Fatalf("expected 1 changed, got %d", len(changed))
	}
	missing, err := s.MissingArticleIDs(ctx)
	if err != nil {
		t.Fatalf("MissingArticleIDs failed: %v", err)
	}
	if _, ok := missing["remote-1"]; !ok {
		t.Error("starred status without article should be reported missing")
	}
}

func TestUnreadCounts(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	if _, err := s.Merge(ctx, "feed-1", []models.ParsedItem{item("a", "A"), item("b", "B")}, false); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if _, err := s.Merge(ctx, "feed-2", []models.ParsedItem{item("c", "C")}, true); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if _, err := s.Mark(ctx, []string{models.ArticleIDFor("feed-1", "a")}, models.StatusRead, true); err != nil {
		t.Fatalf("Mark failed: %v", err)
	}

	counts, err := s.UnreadCounts(ctx, []string{"feed-1", "feed-2", "feed-3"})
	if err != nil {
		t.Fatalf("UnreadCounts failed: %v", err)
	}
	want := map[string]int{"feed-1": 1, "feed-2": 0, "feed-3": 0}
	for feed, n := range want {
		if counts[feed] != n {
			t.Errorf("feed %s: expected %d unread, got %d", feed, n, counts[feed])
		}
	}

	all, err := s.AllUnreadCounts(ctx)
	if err != nil {
		t.Fatalf("AllUnreadCounts failed: %v", err)
	}
	if all["feed-1"] != 1 {
		t.Errorf("expected 1 unread for feed-1, got %d", all["feed-1"])
	}
}

func TestSearch(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	gopher := item("a", "Gophers everywhere")
	gopher.ContentHTML = "<p>The <b>concurrency</b> story</p>"
	if _, err := s.MergeFeeds(ctx, map[string][]models.ParsedItem{
		"feed-1": {gopher},
		"feed-2": {item("b", "Unrelated")},
	}, false); err != nil {
		t.Fatalf("MergeFeeds failed: %v", err)
	}
	if _, err := s.IndexPending(ctx); err != nil {
		t.Fatalf("IndexPending failed: %v", err)
	}

	got, err := s.Search(ctx, "concur", nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(got) != 1 || got[0].UniqueID != "a" {
		t.Fatalf("expected article a, got %+v", got)
	}

	got, err = s.Search(ctx, "gopher", []string{"feed-2"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("feed filter should exclude feed-1, got %d", len(got))
	}
}

func TestSearchFindsUpdatedContent(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	if _, err := s.Merge(ctx, "feed-1", []models.ParsedItem{item("a", "Original")}, false); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if _, err := s.IndexPending(ctx); err != nil {
		t.Fatalf("IndexPending failed: %v", err)
	}
	if _, err := s.Merge(ctx, "feed-1", []models.ParsedItem{item("a", "Rewritten")}, false); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if _, err := s.IndexPending(ctx); err != nil {
		t.Fatalf("IndexPending failed: %v", err)
	}

	if got, _ := s.Search(ctx, "rewritten", nil); len(got) != 1 {
		t.Errorf("expected updated title to be searchable, got %d", len(got))
	}
	if got, _ := s.Search(ctx, "original", nil); len(got) != 0 {
		t.Errorf("stale title should not match, got %d", len(got))
	}
}

func TestFailedReindexKeepsArticlesQueued(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	if _, err := s.Merge(ctx, "feed-1", []models.ParsedItem{item("a", "Original")}, false); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if _, err := s.IndexPending(ctx); err != nil {
		t.Fatalf("IndexPending failed: %v", err)
	}
	if _, err := s.Merge(ctx, "feed-1", []models.ParsedItem{item("a", "Rewritten")}, false); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	if _, err := s.db.ExecContext(ctx, "ALTER TABLE search RENAME TO search_away"); err != nil {
		t.Fatalf("rename search table: %v", err)
	}
	_, err := s.IndexPending(ctx)
	if err == nil {
		t.Fatal("expected reindex to fail without the search table")
	}
	if !strings.HasPrefix(err.Error(), "failed to update search row: ") {
		t.Errorf("unexpected error text: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, "ALTER TABLE search_away RENAME TO search"); err != nil {
		t.Fatalf("restore search table: %v", err)
	}

	if _, err := s.IndexPending(ctx); err != nil {
		t.Fatalf("IndexPending failed: %v", err)
	}
	if got, _ := s.Search(ctx, "rewritten", nil); len(got) != 1 {
		t.Errorf("expected the retried reindex to pick up the new title, got %d", len(got))
	}
}

func TestSearchQuery(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"go", `"go"*`},
		{"go AND rust", `"go"* AND "rust"*`},
		{"NOT go", `"go"*`},
		{`say "hi"`, `"say"* "hi"*`},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := SearchQuery(tt.in); got != tt.want {
			t.Errorf("SearchQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPruneFeed(t *testing.T) {
	s, clock := setupTestStore(t)
	ctx := context.Background()

	if _, err := s.Merge(ctx, "feed-1", []models.ParsedItem{item("a", "A"), item("b", "B")}, false); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	keep := []string{models.ArticleIDFor("feed-1", "a")}

	n, err := s.PruneFeed(ctx, "feed-1", keep)
	if err != nil {
		t.Fatalf("PruneFeed failed: %v", err)
	}
	if n != 0 {
		t.Errorf("recent articles should survive, pruned %d", n)
	}

	clock.advance(31 * 24 * time.Hour)
	n, err = s.PruneFeed(ctx, "feed-1", keep)
	if err != nil {
		t.Fatalf("PruneFeed failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned, got %d", n)
	}
}

func TestClosedStoreRejectsWrites(t *testing.T) {
	s, _ := setupTestStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	_, err := s.Merge(context.Background(), "feed-1", []models.ParsedItem{item("a", "A")}, false)
	if !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := s.Reopen(); err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	if _, err := s.Merge(context.Background(), "feed-1", []models.ParsedItem{item("a", "A")}, false); err != nil {
		t.Errorf("Merge after Reopen failed: %v", err)
	}
}
