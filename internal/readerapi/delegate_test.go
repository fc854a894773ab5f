// ABOUTME: Tests for the Reader API adapter against an in-memory fake server
// ABOUTME: Covers refresh, status pushes, re-login, token refresh and structural edits

package readerapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harper/feedsync/internal/account"
	"github.com/harper/feedsync/internal/articles"
	"github.com/harper/feedsync/internal/models"
	"github.com/harper/feedsync/internal/reconcile"
	"github.com/harper/feedsync/internal/secrets"
)

const (
	testUser     = "reader@example.com"
	testPassword = "hunter2"
)

type fakeServer struct {
	t *testing.T

	mu            sync.Mutex
	validAuth     string
	writeToken    string
	badTokenOnce  bool
	pageSize      int
	logins        int
	tokenRequests int
	failEditTag   bool
	hits          map[string]int

	tags    []Tag
	subs    []Subscription
	entries map[string]Entry
	unread  []string
	starred []string

	editTags  []url.Values
	subEdits  []url.Values
	disabled  []string
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	fs := &fakeServer{t: t, validAuth: "auth-1", writeToken: "write-1", pageSize: 1000, entries: make(map[string]Entry), hits: make(map[string]int)}
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)
	return fs, srv
}

func (fs *fakeServer) addEntry(id, feed, title string) {
	n, _ := strconv.ParseUint(id, 10, 64)
	fs.entries[id] = Entry{
		ID:        fmt.Sprintf(longItemPrefix+"%016x", n),
		Title:     title,
		Published: time.Now().Add(-time.Hour).Unix(),
		Alternate: []Link{{Href: "https://example.com/" + id}},
		Content:   Content{Content: "<p>" + title + "</p>"},
		Origin:    Origin{StreamID: feed},
	}
}

func (fs *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	r.ParseForm()
	fs.hits[r.URL.Path]++

	if r.URL.Path == pathLogin {
		fs.logins++
		if r.PostForm.Get("Email") != testUser || r.PostForm.Get("Passwd") != testPassword {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprintf(w, "SID=none\nLSID=none\nAuth=%s\n", fs.validAuth)
		return
	}
	if r.Header.Get("Authorization") != "GoogleLogin auth="+fs.validAuth {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path != pathToken {
		if fs.badTokenOnce || r.PostForm.Get("T") != fs.writeToken {
			fs.badTokenOnce = false
			w.Header().Set(badTokenHeader, "true")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}

	switch r.URL.Path {
	case pathToken:
		fs.tokenRequests++
		fmt.Fprint(w, fs.writeToken)
	case pathTagList:
		fs.json(w, tagList{Tags: fs.tags})
	case pathSubscriptionList:
		fs.json(w, subscriptionList{Subscriptions: fs.subs})
	case pathItemIDs:
		fs.itemIDs(w, r)
	case pathContents:
		var out entryList
		for _, long := range r.PostForm["i"] {
			id, err := ShortItemID(long)
			assert.NoError(fs.t, err)
			if e, ok := fs.entries[id]; ok {
				out.Items = append(out.Items, e)
			}
		}
		fs.json(w, out)
	case pathEditTag:
		if fs.failEditTag {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fs.editTags = append(fs.editTags, r.PostForm)
		fmt.Fprint(w, "OK")
	case pathSubscriptionEdit:
		fs.subEdits = append(fs.subEdits, r.PostForm)
		fmt.Fprint(w, "OK")
	case pathDisableTag:
		fs.disabled = append(fs.disabled, r.PostForm.Get("s"))
		fmt.Fprint(w, "OK")
	case pathRenameTag:
		fmt.Fprint(w, "OK")
	case pathQuickAdd:
		feedURL := r.PostForm.Get("quickadd")
		if strings.Contains(feedURL, "missing") {
			fs.json(w, quickAddResult{NumResults: 0, Query: feedURL})
			return
		}
		stream := "feed/" + strconv.Itoa(len(fs.subs)+1)
		fs.subs = append(fs.subs, Subscription{ID: stream, Title: "Added", URL: feedURL})
		fs.json(w, quickAddResult{NumResults: 1, Query: feedURL, StreamID: stream})
	default:
		http.NotFound(w, r)
	}
}

func (fs *fakeServer) itemIDs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var ids []string
	switch {
	case q.Get("s") == stateStarred:
		ids = fs.starred
	case q.Get("xt") == stateRead && q.Get("s") == streamReadingList:
		ids = fs.unread
	case q.Get("xt") == stateRead:
		for _, id := range fs.unread {
			if fs.entries[id].Origin.StreamID == q.Get("s") {
				ids = append(ids, id)
			}
		}
	default:
		for id := range fs.entries {
			ids = append(ids, id)
		}
	}
	start, _ := strconv.Atoi(q.Get("c"))
	end := min(start+fs.pageSize, len(ids))
	var page itemRefs
	for _, id := range ids[start:end] {
		page.ItemRefs = append(page.ItemRefs, itemRef{ID: id})
	}
	if end < len(ids) {
		page.Continuation = strconv.Itoa(end)
	}
	fs.json(w, page)
}

// do runs fn with the server state locked.
func (fs *fakeServer) do(fn func()) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fn()
}

func (fs *fakeServer) json(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	assert.NoError(fs.t, json.NewEncoder(w).Encode(v))
}

func setup(t *testing.T) (*fakeServer, *Delegate, *account.Account, secrets.Store) {
	t.Helper()
	fs, srv := newFakeServer(t)
	store := secrets.NewMemoryStore()
	require.NoError(t, store.Set(secrets.Credentials{Type: secrets.TypeReaderBasic, Username: testUser, Secret: testPassword}))

	tr := reconcile.NewTransport(reconcile.TransportOptions{RequestsPerSecond: 1000, Burst: 100, RetryBase: time.Millisecond})
	d, err := New(Options{Endpoint: srv.URL, Username: testUser, Secrets: store, Transport: tr})
	require.NoError(t, err)

	acct, err := account.Open(account.Options{
		ID:      "reader-test",
		Type:    account.TypeReaderAPI,
		Name:    "Reader",
		DataDir: t.TempDir(),
		Store:   articles.Options{DisableBackgroundIndexing: true},
	})
	require.NoError(t, err)
	t.Cleanup(func() { acct.Close() })
	return fs, d, acct, store
}

func seedRemote(fs *fakeServer) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.tags = []Tag{
		{ID: "user/-/state/com.google/starred"},
		{ID: "user/-/label/Tech", Type: "folder"},
	}
	fs.subs = []Subscription{
		{ID: "feed/1", Title: "Go Blog", URL: "https://go.dev/blog/feed.atom", HTMLURL: "https://go.dev/blog",
			Categories: []Category{{ID: "user/-/label/Tech", Label: "Tech"}}},
		{ID: "feed/2", Title: "News", URL: "https://news.example.com/rss"},
	}
	fs.addEntry("101", "feed/1", "Generics")
	fs.addEntry("102", "feed/1", "Iterators")
	fs.addEntry("201", "feed/2", "Headline")
	fs.unread = []string{"101", "102"}
	fs.starred = []string{"201"}
}

func TestRefreshAllMirrorsTreeAndStatuses(t *testing.T) {
	fs, d, acct, _ := setup(t)
	seedRemote(fs)
	ctx := context.Background()

	require.NoError(t, d.RefreshAll(ctx, acct))

	folder, ok := acct.FolderByName("Tech")
	require.True(t, ok)
	assert.Equal(t, "user/-/label/Tech", folder.ExternalID)
	assert.True(t, folder.HasFeed("feed/1"))
	assert.True(t, acct.ContainsFeed("", "feed/2"))
	assert.False(t, acct.ContainsFeed("", "feed/1"))

	arts, err := acct.Store().FetchArticlesByIDs(ctx, []string{"101", "102", "201"})
	require.NoError(t, err)
	require.Len(t, arts, 3)

	statuses, err := acct.Store().FetchStatuses(ctx, []string{"101", "102", "201"})
	require.NoError(t, err)
	assert.False(t, statuses["101"].Read)
	assert.False(t, statuses["102"].Read)
	assert.True(t, statuses["201"].Read)
	assert.True(t, statuses["201"].Starred)

	n, err := acct.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NotNil(t, acct.Metadata().LastArticleFetchStartTime)
	fs.do(func() { assert.Equal(t, 1, fs.logins) })
}

func TestRefreshAllDropsRemovedFeeds(t *testing.T) {
	fs, d, acct, _ := setup(t)
	seedRemote(fs)
	ctx := context.Background()
	require.NoError(t, d.RefreshAll(ctx, acct))

	fs.do(func() {
		fs.subs = fs.subs[1:]
		fs.tags = fs.tags[:1]
	})
	require.NoError(t, d.RefreshAll(ctx, acct))

	_, ok := acct.Feed("feed/1")
	assert.False(t, ok)
	_, ok = acct.FolderByName("Tech")
	assert.False(t, ok)
}

func TestRefreshAllStopsAfterFailedPush(t *testing.T) {
	fs, d, acct, _ := setup(t)
	seedRemote(fs)
	ctx := context.Background()
	require.NoError(t, d.RefreshAll(ctx, acct))
	cursor := *acct.Metadata().LastArticleFetchStartTime

	require.NoError(t, d.MarkArticles(ctx, acct, []string{"101"}, models.StatusRead, true))
	fs.do(func() {
		fs.failEditTag = true
		fs.hits = make(map[string]int)
	})

	require.Error(t, d.RefreshAll(ctx, acct))

	fs.do(func() {
		assert.Equal(t, 1, fs.hits[pathEditTag])
		assert.Zero(t, fs.hits[pathTagList])
		assert.Zero(t, fs.hits[pathSubscriptionList])
		assert.Zero(t, fs.hits[pathItemIDs], "statuses must not be fetched after a failed push")
		assert.Zero(t, fs.hits[pathContents])
	})
	assert.Equal(t, cursor, *acct.Metadata().LastArticleFetchStartTime)

	pending, err := acct.Queue().PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending, "the failed edit stays queued")
	statuses, err := acct.Store().FetchStatuses(ctx, []string{"101"})
	require.NoError(t, err)
	assert.True(t, statuses["101"].Read)
}

func TestRefreshAllKeepsEditedNameAcrossFolderRemoval(t *testing.T) {
	fs, d, acct, _ := setup(t)
	seedRemote(fs)
	ctx := context.Background()
	require.NoError(t, d.RefreshAll(ctx, acct))
	require.NoError(t, d.RenameFeed(ctx, acct, "feed/1", "My Go"))

	fs.do(func() {
		fs.tags = fs.tags[:1]
		fs.subs[0].Categories = nil
		fs.subs[0].Title = "The Go Blog"
	})
	require.NoError(t, d.RefreshAll(ctx, acct))

	feed, ok := acct.Feed("feed/1")
	require.True(t, ok)
	assert.Equal(t, "My Go", feed.DisplayName())
	assert.True(t, acct.ContainsFeed("", "feed/1"))
	_, ok = acct.FolderByName("Tech")
	assert.False(t, ok)
}

func TestMarkArticlesPushesEditTags(t *testing.T) {
	fs, d, acct, _ := setup(t)
	seedRemote(fs)
	ctx := context.Background()
	require.NoError(t, d.RefreshAll(ctx, acct))

	require.NoError(t, d.MarkArticles(ctx, acct, []string{"101"}, models.StatusRead, true))
	pending, err := acct.Queue().PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	require.NoError(t, d.SendPendingStatuses(ctx, acct))
	pending, err = acct.Queue().PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	fs.do(func() {
		require.Len(t, fs.editTags, 1)
		assert.Equal(t, stateRead, fs.editTags[0].Get("a"))
		assert.Equal(t, []string{longItemPrefix + "0000000000000065"}, fs.editTags[0]["i"])
	})
}

func TestPendingReadSurvivesRefresh(t *testing.T) {
	fs, d, acct, _ := setup(t)
	seedRemote(fs)
	ctx := context.Background()
	require.NoError(t, d.RefreshAll(ctx, acct))

	// Not pushed yet, so the server still reports 101 unread.
	require.NoError(t, d.MarkArticles(ctx, acct, []string{"101"}, models.StatusRead, true))
	require.NoError(t, d.RefreshRemoteStatuses(ctx, acct))

	statuses, err := acct.Store().FetchStatuses(ctx, []string{"101", "102"})
	require.NoError(t, err)
	assert.True(t, statuses["101"].Read, "a queued read must not be undone by remote unread state")
	assert.False(t, statuses["102"].Read)
}

func TestClientLogsInAgainOnUnauthorized(t *testing.T) {
	fs, d, _, store := setup(t)
	require.NoError(t, store.Set(secrets.Credentials{Type: secrets.TypeReaderAPIKey, Username: testUser, Secret: "stale"}))

	_, err := d.client.Tags(context.Background())
	require.NoError(t, err)
	fs.do(func() { assert.Equal(t, 1, fs.logins) })

	cred, err := store.Get(secrets.TypeReaderAPIKey, testUser)
	require.NoError(t, err)
	assert.Equal(t, "auth-1", cred.Secret)
}

func TestClientRefreshesBadWriteToken(t *testing.T) {
	fs, d, _, _ := setup(t)
	fs.do(func() { fs.badTokenOnce = true })

	require.NoError(t, d.client.EditTag(context.Background(), []string{"101"}, stateStarred, true))
	fs.do(func() {
		assert.Equal(t, 2, fs.tokenRequests)
		assert.Equal(t, 1, fs.logins, "a bad write token must not trigger a new login")
		assert.Len(t, fs.editTags, 1)
	})
}

func TestItemIDsFollowContinuation(t *testing.T) {
	fs, d, _, _ := setup(t)
	fs.do(func() {
		fs.pageSize = 2
		fs.unread = []string{"1", "2", "3", "4", "5"}
	})

	ids, err := d.client.UnreadIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, ids)
}

func TestCreateFeedPlacesAndFetches(t *testing.T) {
	fs, d, acct, _ := setup(t)
	ctx := context.Background()
	folder, err := d.CreateFolder(ctx, acct, "Tech")
	require.NoError(t, err)

	fs.do(func() {
		fs.addEntry("301", "feed/1", "First post")
		fs.unread = []string{"301"}
	})

	feed, err := d.CreateFeed(ctx, acct, "https://blog.example.com/feed", "My Blog", folder.ID)
	require.NoError(t, err)
	assert.Equal(t, "feed/1", feed.FeedID)
	assert.Equal(t, "My Blog", feed.DisplayName())
	assert.True(t, acct.ContainsFeed(folder.ID, feed.FeedID))

	fs.do(func() {
		require.Len(t, fs.subEdits, 1)
		assert.Equal(t, "user/-/label/Tech", fs.subEdits[0].Get("a"))
		assert.Equal(t, "My Blog", fs.subEdits[0].Get("t"))
	})

	statuses, err := acct.Store().FetchStatuses(ctx, []string{"301"})
	require.NoError(t, err)
	assert.False(t, statuses["301"].Read)

	_, err = d.CreateFeed(ctx, acct, "https://blog.example.com/feed", "", "")
	assert.ErrorIs(t, err, reconcile.ErrAlreadySubscribed)
}

func TestCreateFeedNotFound(t *testing.T) {
	_, d, acct, _ := setup(t)
	_, err := d.CreateFeed(context.Background(), acct, "https://missing.example.com/", "", "")
	assert.ErrorIs(t, err, reconcile.ErrNotFound)
	assert.Empty(t, acct.Feeds())
}

func TestRemoveFolderUnsubscribesSoleMembers(t *testing.T) {
	fs, d, acct, _ := setup(t)
	seedRemote(fs)
	fs.do(func() {
		fs.subs[1].Categories = []Category{{ID: "user/-/label/Tech", Label: "Tech"}}
		fs.subs = append(fs.subs, Subscription{ID: "feed/3", Title: "Both", URL: "https://both.example.com/rss"})
	})
	ctx := context.Background()
	require.NoError(t, d.RefreshAll(ctx, acct))

	folder, ok := acct.FolderByName("Tech")
	require.True(t, ok)
	require.NoError(t, d.AddFeed(ctx, acct, "feed/3", folder.ID))
	fs.do(func() { fs.subEdits = nil })

	require.NoError(t, d.RemoveFolder(ctx, acct, folder.ID))

	fs.do(func() {
		actions := map[string]string{}
		for _, edit := range fs.subEdits {
			actions[edit.Get("s")] = edit.Get("ac")
		}
		assert.Equal(t, map[string]string{"feed/1": "unsubscribe", "feed/2": "unsubscribe", "feed/3": "edit"}, actions)
		assert.Equal(t, []string{"user/-/label/Tech"}, fs.disabled)
	})

	_, ok = acct.Feed("feed/1")
	assert.False(t, ok)
	assert.True(t, acct.ContainsFeed("", "feed/3"))
}

func TestMoveFeedSwapsLabels(t *testing.T) {
	fs, d, acct, _ := setup(t)
	seedRemote(fs)
	ctx := context.Background()
	require.NoError(t, d.RefreshAll(ctx, acct))
	tech, _ := acct.FolderByName("Tech")
	news, err := d.CreateFolder(ctx, acct, "News")
	require.NoError(t, err)

	require.NoError(t, d.MoveFeed(ctx, acct, "feed/1", tech.ID, news.ID))

	fs.do(func() {
		require.Len(t, fs.subEdits, 1)
		assert.Equal(t, "user/-/label/Tech", fs.subEdits[0].Get("r"))
		assert.Equal(t, "user/-/label/News", fs.subEdits[0].Get("a"))
	})
	assert.True(t, acct.ContainsFeed(news.ID, "feed/1"))
	assert.False(t, acct.ContainsFeed(tech.ID, "feed/1"))
}

func TestItemIDConversions(t *testing.T) {
	long, err := LongItemID("101")
	require.NoError(t, err)
	assert.Equal(t, "tag:google.com,2005:reader/item/0000000000000065", long)

	short, err := ShortItemID(long)
	require.NoError(t, err)
	assert.Equal(t, "101", short)

	_, err = ShortItemID("not-an-id")
	assert.Error(t, err)
	assert.Equal(t, "Tech", LabelName("user/1005921515/label/Tech"))
	assert.Empty(t, LabelName(stateRead))
}

func TestAccountWillBeDeletedForgetsCredentials(t *testing.T) {
	_, d, acct, store := setup(t)
	require.NoError(t, d.AccountInitialized(acct))
	require.NoError(t, d.AccountWillBeDeleted(context.Background(), acct))

	_, err := store.Get(secrets.TypeReaderBasic, testUser)
	assert.ErrorIs(t, err, secrets.ErrNotFound)
	assert.Error(t, d.AccountInitialized(acct))
}
