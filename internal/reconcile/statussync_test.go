// ABOUTME: Tests for pending-aware status sync and chunked pushes
// ABOUTME: Runs against a real account with SQLite stores in a temp directory

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/harper/feedsync/internal/account"
	"github.com/harper/feedsync/internal/articles"
	"github.com/harper/feedsync/internal/models"
)

func setupTestAccount(t *testing.T) *account.Account {
	t.Helper()
	acct, err := account.Open(account.Options{
		ID:      "acct-test",
		Type:    account.TypeFeedbin,
		Name:    "Test",
		DataDir: t.TempDir(),
		Store:   articles.Options{DisableBackgroundIndexing: true},
	})
	if err != nil {
		t.Fatalf("account.Open failed: %v", err)
	}
	t.Cleanup(func() { acct.Close() })
	return acct
}

// seedFeed adds feed f at the top level with n unread articles and returns their ids.
func seedFeed(t *testing.T, acct *account.Account, feedID string, n int) []string {
	t.Helper()
	acct.AddFeed(account.Feed{FeedID: feedID, URL: "https://example.com/" + feedID})
	if err := acct.AddFeedToFolder(feedID, ""); err != nil {
		t.Fatalf("AddFeedToFolder failed: %v", err)
	}
	now := time.Now().UTC()
	items := make([]models.ParsedItem, n)
	ids := make([]string, n)
	for i := range items {
		uid := fmt.Sprintf("entry-%d", i)
		items[i] = models.ParsedItem{UniqueID: uid, Title: uid, DatePublished: &now}
		ids[i] = models.ArticleIDFor(feedID, uid)
	}
	if _, err := acct.MergeArticles(context.Background(), map[string][]models.ParsedItem{feedID: items}, false); err != nil {
		t.Fatalf("MergeArticles failed: %v", err)
	}
	return ids
}

func idSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func TestPendingReadSurvivesRemoteUnread(t *testing.T) {
	acct := setupTestAccount(t)
	ctx := context.Background()
	syncer := NewStatusSyncer(nil)
	ids := seedFeed(t, acct, "F", 10)

	if err := syncer.MarkArticles(ctx, acct, ids[:3], models.StatusRead, true, nil); err != nil {
		t.Fatalf("MarkArticles failed: %v", err)
	}
	if err := syncer.SyncState(ctx, acct, models.StatusRead, idSet(ids)); err != nil {
		t.Fatalf("SyncState failed: %v", err)
	}

	n, err := acct.UnreadCountForFeed(ctx, "F")
	if err != nil {
		t.Fatalf("UnreadCountForFeed failed: %v", err)
	}
	if n != 7 {
		t.Errorf("expected 7 unread, got %d", n)
	}
	pending, err := acct.Queue().PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount failed: %v", err)
	}
	if pending != 3 {
		t.Errorf("expected 3 pending changes, got %d", pending)
	}

	var sent []string
	err = syncer.Push(ctx, acct, []PushGroup{{Key: models.StatusRead, Flag: true, Send: func(_ context.Context, ids []string) error {
		sent = append(sent, ids...)
		return nil
	}}})
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if len(sent) != 3 {
		t.Errorf("expected 3 ids pushed, got %d", len(sent))
	}
	if pending, _ = acct.Queue().PendingCount(ctx); pending != 0 {
		t.Errorf("confirmed changes should leave the queue, %d remain", pending)
	}
}

func TestSyncStateAppliesRemoteDeltas(t *testing.T) {
	acct := setupTestAccount(t)
	ctx := context.Background()
	syncer := NewStatusSyncer(nil)
	ids := seedFeed(t, acct, "F", 4)

	// Remote says only the first two are unread and the third is starred.
	if err := syncer.SyncState(ctx, acct, models.StatusRead, idSet(ids[:2])); err != nil {
		t.Fatalf("SyncState read failed: %v", err)
	}
	if err := syncer.SyncState(ctx, acct, models.StatusStarred, idSet(ids[2:3])); err != nil {
		t.Fatalf("SyncState starred failed: %v", err)
	}

	statuses, err := acct.Store().FetchStatuses(ctx, ids)
	if err != nil {
		t.Fatalf("FetchStatuses failed: %v", err)
	}
	for i, id := range ids {
		st := statuses[id]
		if wantRead := i >= 2; st.Read != wantRead {
			t.Errorf("article %d: read=%v, want %v", i, st.Read, wantRead)
		}
		if wantStar := i == 2; st.Starred != wantStar {
			t.Errorf("article %d: starred=%v, want %v", i, st.Starred, wantStar)
		}
	}
	if n, _ := acct.UnreadCountForFeed(ctx, "F"); n != 2 {
		t.Errorf("expected 2 unread, got %d", n)
	}
}

func TestSyncStateCreatesStatusesForUnknownIDs(t *testing.T) {
	acct := setupTestAccount(t)
	ctx := context.Background()
	syncer := NewStatusSyncer(nil)

	if err := syncer.SyncState(ctx, acct, models.StatusStarred, idSet([]string{"remote-1"})); err != nil {
		t.Fatalf("SyncState failed: %v", err)
	}
	missing, err := acct.Store().MissingArticleIDs(ctx)
	if err != nil {
		t.Fatalf("MissingArticleIDs failed: %v", err)
	}
	if _, ok := missing["remote-1"]; !ok {
		t.Error("starred remote id should be waiting for its body")
	}
}

func TestPushKeepsFailedChunkPending(t *testing.T) {
	acct := setupTestAccount(t)
	ctx := context.Background()
	syncer := NewStatusSyncer(nil)
	syncer.ChunkSize = 2
	ids := seedFeed(t, acct, "F", 5)

	if err := syncer.MarkArticles(ctx, acct, ids, models.StatusStarred, true, nil); err != nil {
		t.Fatalf("MarkArticles failed: %v", err)
	}

	calls := 0
	var failed []string
	boom := errors.New("service unavailable")
	err := syncer.Push(ctx, acct, []PushGroup{{Key: models.StatusStarred, Flag: true, Send: func(_ context.Context, batch []string) error {
		calls++
		if calls == 2 {
			failed = append(failed, batch...)
			return boom
		}
		return nil
	}}})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the chunk error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("push should continue past a failed chunk, got %d calls", calls)
	}

	pending, err := acct.Queue().PendingArticleIDs(ctx, models.StatusStarred)
	if err != nil {
		t.Fatalf("PendingArticleIDs failed: %v", err)
	}
	if len(pending) != len(failed) {
		t.Fatalf("expected %d pending ids, got %d", len(failed), len(pending))
	}
	for _, id := range failed {
		if _, ok := pending[id]; !ok {
			t.Errorf("failed id %s should still be pending", id)
		}
	}

	// The failed chunk goes out again on the next push.
	var retried []string
	err = syncer.Push(ctx, acct, []PushGroup{{Key: models.StatusStarred, Flag: true, Send: func(_ context.Context, batch []string) error {
		retried = append(retried, batch...)
		return nil
	}}})
	if err != nil {
		t.Fatalf("second Push failed: %v", err)
	}
	if len(retried) != len(failed) {
		t.Errorf("expected %d retried ids, got %d", len(failed), len(retried))
	}
}

func TestPushReturnsUnhandledChanges(t *testing.T) {
	acct := setupTestAccount(t)
	ctx := context.Background()
	syncer := NewStatusSyncer(nil)
	ids := seedFeed(t, acct, "F", 2)

	if err := syncer.MarkArticles(ctx, acct, ids, models.StatusRead, true, nil); err != nil {
		t.Fatalf("MarkArticles failed: %v", err)
	}
	if err := syncer.Push(ctx, acct, nil); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if n, _ := acct.Queue().PendingCount(ctx); n != 2 {
		t.Errorf("changes without a sender should stay queued, got %d", n)
	}
}

func TestMarkArticlesAutoPushes(t *testing.T) {
	acct := setupTestAccount(t)
	ctx := context.Background()
	syncer := NewStatusSyncer(nil)
	syncer.AutoPushThreshold = 3
	ids := seedFeed(t, acct, "F", 5)

	pushes := 0
	push := func(context.Context) error {
		pushes++
		return nil
	}
	if err := syncer.MarkArticles(ctx, acct, ids[:3], models.StatusRead, true, push); err != nil {
		t.Fatalf("MarkArticles failed: %v", err)
	}
	if pushes != 0 {
		t.Errorf("push should wait for the threshold, got %d", pushes)
	}
	if err := syncer.MarkArticles(ctx, acct, ids[3:], models.StatusRead, true, push); err != nil {
		t.Fatalf("MarkArticles failed: %v", err)
	}
	if pushes != 1 {
		t.Errorf("expected one automatic push, got %d", pushes)
	}

	// Marking again changes nothing and queues nothing.
	if err := syncer.MarkArticles(ctx, acct, ids, models.StatusRead, true, push); err != nil {
		t.Fatalf("MarkArticles failed: %v", err)
	}
	if pushes != 1 {
		t.Errorf("a no-op mark should not push, got %d", pushes)
	}
}
