// ABOUTME: Tests for the local adapter against httptest feed servers
// ABOUTME: Covers conditional refresh, discovery on subscribe, OPML import and per-feed failures

package local

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harper/feedsync/internal/account"
	"github.com/harper/feedsync/internal/articles"
	"github.com/harper/feedsync/internal/models"
	"github.com/harper/feedsync/internal/opml"
	"github.com/harper/feedsync/internal/reconcile"
)

const rssTemplate = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<title>Example Feed</title>
<link>https://example.com/</link>
%s
</channel></rss>`

func rssItem(guid, title string) string {
	return fmt.Sprintf(`<item><guid>%s</guid><title>%s</title><link>https://example.com/%s</link><description>%s body</description></item>`, guid, title, guid, title)
}

type feedServer struct {
	mu    sync.Mutex
	items []string
	etag  string
	hits  map[string]int
	full  int
}

func newFeedServer(t *testing.T) (*feedServer, *httptest.Server) {
	t.Helper()
	fs := &feedServer{etag: `"v1"`, hits: make(map[string]int)}
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)
	return fs, srv
}

func (fs *feedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.hits[r.URL.Path]++
	switch r.URL.Path {
	case "/feed.xml":
		if r.Header.Get("If-None-Match") == fs.etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		fs.full++
		w.Header().Set("ETag", fs.etag)
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, rssTemplate, strings.Join(fs.items, "\n"))
	case "/":
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Home</title><link rel="alternate" type="application/rss+xml" title="Example" href="/feed.xml"></head><body></body></html>`)
	default:
		http.NotFound(w, r)
	}
}

func (fs *feedServer) do(fn func()) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fn()
}

func setup(t *testing.T) (*Delegate, *account.Account) {
	t.Helper()
	acct, err := account.Open(account.Options{
		ID:      "local-test",
		Type:    account.TypeLocal,
		Name:    "On My Machine",
		DataDir: t.TempDir(),
		Store:   articles.Options{DisableBackgroundIndexing: true},
	})
	require.NoError(t, err)
	t.Cleanup(func() { acct.Close() })
	tr := reconcile.NewTransport(reconcile.TransportOptions{MaxRetries: 1})
	return New(Options{Transport: tr, Concurrency: 2}), acct
}

func subscribe(t *testing.T, acct *account.Account, url string) account.Feed {
	t.Helper()
	f := acct.AddFeed(account.Feed{FeedID: url, URL: url})
	require.NoError(t, acct.AddFeedToFolder(f.FeedID, ""))
	return f
}

func TestRefreshAllMergesUnreadArticles(t *testing.T) {
	fs, srv := newFeedServer(t)
	fs.items = []string{rssItem("a", "First"), rssItem("b", "Second")}
	d, acct := setup(t)
	ctx := context.Background()
	feed := subscribe(t, acct, srv.URL+"/feed.xml")

	require.NoError(t, d.RefreshAll(ctx, acct))

	arts, err := acct.Store().FetchArticles(ctx, []string{feed.FeedID})
	require.NoError(t, err)
	require.Len(t, arts, 2)
	n, err := acct.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, ok := acct.Feed(feed.FeedID)
	require.True(t, ok)
	assert.Equal(t, "Example Feed", got.Name)
	assert.Equal(t, `"v1"`, got.ConditionalGet.ETag)
	assert.NotNil(t, acct.Metadata().LastArticleFetchStartTime)
}

func TestRefreshAllSendsValidators(t *testing.T) {
	fs, srv := newFeedServer(t)
	fs.items = []string{rssItem("a", "First")}
	d, acct := setup(t)
	ctx := context.Background()
	feed := subscribe(t, acct, srv.URL+"/feed.xml")

	require.NoError(t, d.RefreshAll(ctx, acct))
	fs.do(func() { fs.items = append(fs.items, rssItem("b", "Second")) })
	require.NoError(t, d.RefreshAll(ctx, acct))

	fs.do(func() { assert.Equal(t, 1, fs.full) })
	arts, err := acct.Store().FetchArticles(ctx, []string{feed.FeedID})
	require.NoError(t, err)
	assert.Len(t, arts, 1)

	fs.do(func() { fs.etag = `"v2"` })
	require.NoError(t, d.RefreshAll(ctx, acct))
	arts, err = acct.Store().FetchArticles(ctx, []string{feed.FeedID})
	require.NoError(t, err)
	assert.Len(t, arts, 2)
}

func TestFailedMergeKeepsValidators(t *testing.T) {
	fs, srv := newFeedServer(t)
	fs.items = []string{rssItem("a", "First")}
	d, acct := setup(t)
	ctx := context.Background()
	feed := subscribe(t, acct, srv.URL+"/feed.xml")

	require.NoError(t, acct.Suspend())
	require.Error(t, d.RefreshAll(ctx, acct))
	got, ok := acct.Feed(feed.FeedID)
	require.True(t, ok)
	assert.Empty(t, got.ConditionalGet.ETag, "validators must not outlive a failed merge")

	require.NoError(t, acct.Resume())
	require.NoError(t, d.RefreshAll(ctx, acct))
	fs.do(func() { assert.Equal(t, 2, fs.full) })
	arts, err := acct.Store().FetchArticles(ctx, []string{feed.FeedID})
	require.NoError(t, err)
	assert.Len(t, arts, 1)
	got, _ = acct.Feed(feed.FeedID)
	assert.Equal(t, `"v1"`, got.ConditionalGet.ETag)
}

func TestRefreshAllJoinsFeedErrors(t *testing.T) {
	fs, srv := newFeedServer(t)
	fs.items = []string{rssItem("a", "First")}
	d, acct := setup(t)
	ctx := context.Background()
	good := subscribe(t, acct, srv.URL+"/feed.xml")
	subscribe(t, acct, srv.URL+"/gone.xml")

	err := d.RefreshAll(ctx, acct)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gone.xml")

	arts, err := acct.Store().FetchArticles(ctx, []string{good.FeedID})
	require.NoError(t, err)
	assert.Len(t, arts, 1)
	assert.Nil(t, acct.Metadata().LastArticleFetchStartTime)
}

func TestCreateFeedDiscoversFromHomePage(t *testing.T) {
	fs, srv := newFeedServer(t)
	fs.items = []string{rssItem("a", "First"), rssItem("b", "Second")}
	d, acct := setup(t)
	ctx := context.Background()
	folder, err := d.CreateFolder(ctx, acct, "News")
	require.NoError(t, err)

	feed, err := d.CreateFeed(ctx, acct, srv.URL+"/", "Mine", folder.ID)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/feed.xml", feed.URL)
	assert.Equal(t, "Mine", feed.DisplayName())
	assert.True(t, acct.ContainsFeed(folder.ID, feed.FeedID))

	n, err := acct.UnreadCountForFolder(ctx, folder.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = d.CreateFeed(ctx, acct, srv.URL+"/feed.xml", "", "")
	assert.ErrorIs(t, err, reconcile.ErrAlreadySubscribed)
}

func TestCreateFeedWithoutFeedIsNotFound(t *testing.T) {
	_, srv := newFeedServer(t)
	d, acct := setup(t)

	_, err := d.CreateFeed(context.Background(), acct, "not a url", "", "")
	assert.ErrorIs(t, err, reconcile.ErrNotFound)

	_, err = d.CreateFeed(context.Background(), acct, srv.URL+"/feed.xml", "", "missing-folder")
	assert.ErrorIs(t, err, account.ErrFolderNotFound)
}

func TestImportBulkSubscriptionsPlacesFeeds(t *testing.T) {
	d, acct := setup(t)
	doc := opml.NewDocument("subs")
	require.NoError(t, doc.AddFeed(opml.Feed{URL: "https://go.dev/blog/feed.atom", Title: "Go Blog", Folder: "Tech"}))
	require.NoError(t, doc.AddFeed(opml.Feed{URL: "https://news.example.com/rss", Title: "News"}))

	require.NoError(t, d.ImportBulkSubscriptions(context.Background(), acct, doc))

	folder, ok := acct.FolderByName("Tech")
	require.True(t, ok)
	assert.True(t, folder.HasFeed("https://go.dev/blog/feed.atom"))
	assert.True(t, acct.ContainsFeed("", "https://news.example.com/rss"))
	feed, ok := acct.Feed("https://news.example.com/rss")
	require.True(t, ok)
	assert.Equal(t, "News", feed.Name)
}

func TestMoveFeedKeepsFeed(t *testing.T) {
	d, acct := setup(t)
	ctx := context.Background()
	feed := subscribe(t, acct, "https://example.com/feed.xml")
	folder, err := d.CreateFolder(ctx, acct, "Later")
	require.NoError(t, err)

	require.NoError(t, d.MoveFeed(ctx, acct, feed.FeedID, "", folder.ID))
	assert.True(t, acct.ContainsFeed(folder.ID, feed.FeedID))
	assert.False(t, acct.ContainsFeed("", feed.FeedID))

	require.NoError(t, d.RemoveFeed(ctx, acct, feed.FeedID, folder.ID))
	_, ok := acct.Feed(feed.FeedID)
	assert.False(t, ok)
}

func TestMarkArticlesSkipsQueue(t *testing.T) {
	fs, srv := newFeedServer(t)
	fs.items = []string{rssItem("a", "First")}
	d, acct := setup(t)
	ctx := context.Background()
	feed := subscribe(t, acct, srv.URL+"/feed.xml")
	require.NoError(t, d.RefreshAll(ctx, acct))

	arts, err := acct.Store().FetchArticles(ctx, []string{feed.FeedID})
	require.NoError(t, err)
	require.Len(t, arts, 1)

	require.NoError(t, d.MarkArticles(ctx, acct, []string{arts[0].ArticleID}, models.StatusRead, true))
	statuses, err := acct.Store().FetchStatuses(ctx, []string{arts[0].ArticleID})
	require.NoError(t, err)
	assert.True(t, statuses[arts[0].ArticleID].Read)

	pending, err := acct.Queue().PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}
