// ABOUTME: Tests for the account manager with fake and local delegates
// ABOUTME: Covers fan-out refresh, error aggregation, add/remove and suspend/resume

package manager

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harper/feedsync/internal/account"
	"github.com/harper/feedsync/internal/articles"
	"github.com/harper/feedsync/internal/config"
	"github.com/harper/feedsync/internal/models"
	"github.com/harper/feedsync/internal/reconcile"
	"github.com/harper/feedsync/internal/secrets"
)

type fakeDelegate struct {
	reconcile.Delegate

	mu         sync.Mutex
	refreshes  int
	refreshErr error
	initErr    error
	deleted    bool
	suspended  bool
}

func (f *fakeDelegate) RefreshAll(context.Context, *account.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshErr
}

func (f *fakeDelegate) SendPendingStatuses(context.Context, *account.Account) error { return nil }

func (f *fakeDelegate) AccountInitialized(*account.Account) error { return f.initErr }

func (f *fakeDelegate) AccountWillBeDeleted(context.Context, *account.Account) error {
	f.deleted = true
	return nil
}

func (f *fakeDelegate) Suspend() { f.suspended = true }

func (f *fakeDelegate) Resume(context.Context) error {
	f.suspended = false
	return nil
}

type fakes struct {
	mu sync.Mutex
	by map[string]*fakeDelegate
	// errs preloads refresh errors by account id.
	errs map[string]error
	init error
}

func (fs *fakes) factory(deps Deps) (reconcile.Delegate, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	d := &fakeDelegate{refreshErr: fs.errs[deps.Account.ID], initErr: fs.init}
	fs.by[deps.Account.ID] = d
	return d, nil
}

func newConfig(t *testing.T, accounts ...config.AccountConfig) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.LoadFrom(context.Background(), filepath.Join(dir, "config.json"), nil)
	require.NoError(t, err)
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Accounts = accounts
	return cfg
}

func newManager(t *testing.T, cfg *config.Config, factory DelegateFactory) *Manager {
	t.Helper()
	m, err := New(Options{
		Config:      cfg,
		Secrets:     secrets.NewMemoryStore(),
		NewDelegate: factory,
		Store:       articles.Options{DisableBackgroundIndexing: true},
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestRefreshAllAggregatesErrors(t *testing.T) {
	fs := &fakes{by: map[string]*fakeDelegate{}, errs: map[string]error{"b": errors.New("boom")}}
	cfg := newConfig(t,
		config.AccountConfig{ID: "a", Type: account.TypeLocal, Active: true},
		config.AccountConfig{ID: "b", Type: account.TypeLocal, Active: true},
		config.AccountConfig{ID: "c", Type: account.TypeLocal, Active: false},
	)
	m := newManager(t, cfg, fs.factory)

	var (
		mu   sync.Mutex
		seen []Progress
	)
	err := m.RefreshAll(context.Background(), func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, p)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	assert.Equal(t, 1, fs.by["a"].refreshes)
	assert.Equal(t, 1, fs.by["b"].refreshes)
	assert.Equal(t, 0, fs.by["c"].refreshes)
	require.Len(t, seen, 2)
	for _, p := range seen {
		assert.Equal(t, 2, p.Total)
		if p.AccountID == "b" {
			assert.Error(t, p.Err)
		}
	}
}

func TestDefaultNeedsOneActiveAccount(t *testing.T) {
	fs := &fakes{by: map[string]*fakeDelegate{}}
	m := newManager(t, newConfig(t), fs.factory)
	_, err := m.Default()
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = m.Add(context.Background(), config.AccountConfig{ID: "solo", Type: account.TypeLocal})
	require.NoError(t, err)
	e, err := m.Default()
	require.NoError(t, err)
	assert.Equal(t, "solo", e.Config.ID)
}

func TestAddSavesConfigAndRemoveDeletesData(t *testing.T) {
	fs := &fakes{by: map[string]*fakeDelegate{}}
	cfg := newConfig(t)
	m := newManager(t, cfg, fs.factory)
	ctx := context.Background()

	e, err := m.Add(ctx, config.AccountConfig{ID: "home", Type: account.TypeLocal, Name: "Home"})
	require.NoError(t, err)
	assert.True(t, e.Config.Active)
	dataDir := e.Account.DataDir()
	_, err = os.Stat(dataDir)
	require.NoError(t, err)

	saved, err := config.LoadFrom(ctx, cfg.Path(), nil)
	require.NoError(t, err)
	_, err = saved.Account("home")
	require.NoError(t, err)

	require.NoError(t, m.Remove(ctx, "home"))
	assert.True(t, fs.by["home"].deleted)
	_, err = os.Stat(dataDir)
	assert.True(t, os.IsNotExist(err))
	_, err = m.Account("home")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	saved, err = config.LoadFrom(ctx, cfg.Path(), nil)
	require.NoError(t, err)
	assert.Empty(t, saved.Accounts)
}

func TestAddRollsBackUninitializedAccount(t *testing.T) {
	fs := &fakes{by: map[string]*fakeDelegate{}, init: reconcile.ErrUnauthorized}
	cfg := newConfig(t)
	m := newManager(t, cfg, fs.factory)

	_, err := m.Add(context.Background(), config.AccountConfig{ID: "fb", Type: account.TypeFeedbin, Username: "me"})
	assert.ErrorIs(t, err, reconcile.ErrUnauthorized)
	assert.Empty(t, cfg.Accounts)
	assert.Empty(t, m.Accounts())
}

func TestNewDelegateNeedsCredentials(t *testing.T) {
	cfg := newConfig(t)
	m := newManager(t, cfg, nil)

	_, err := m.Add(context.Background(), config.AccountConfig{Type: account.TypeFeedbin, Username: "me@example.com"})
	assert.True(t, reconcile.IsAuthError(err), "got %v", err)

	_, err = NewDelegate(Deps{Account: config.AccountConfig{Type: "bogus"}})
	assert.ErrorIs(t, err, reconcile.ErrUnsupported)
}

func TestSuspendAndResume(t *testing.T) {
	fs := &fakes{by: map[string]*fakeDelegate{}}
	m := newManager(t, newConfig(t, config.AccountConfig{ID: "a", Type: account.TypeLocal, Active: true}), fs.factory)
	ctx := context.Background()

	require.NoError(t, m.Suspend())
	assert.True(t, fs.by["a"].suspended)
	require.NoError(t, m.Resume(ctx))
	assert.False(t, fs.by["a"].suspended)

	_, err := m.UnreadCount(ctx)
	require.NoError(t, err)
}

func TestLocalAccountEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, `<?xml version="1.0"?><rss version="2.0"><channel><title>T</title>
<item><guid>1</guid><title>One</title></item>
<item><guid>2</guid><title>Two</title></item>
</channel></rss>`)
	}))
	t.Cleanup(srv.Close)

	m := newManager(t, newConfig(t), nil)
	ctx := context.Background()
	e, err := m.Add(ctx, config.AccountConfig{ID: "mine", Type: account.TypeLocal})
	require.NoError(t, err)
	_, err = e.Delegate.CreateFeed(ctx, e.Account, srv.URL+"/feed.xml", "", "")
	require.NoError(t, err)

	require.NoError(t, m.RefreshAll(ctx, nil))
	n, err := m.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	limited, err := Articles(ctx, e.Account, Filter{Unread: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.NoError(t, e.Delegate.MarkArticles(ctx, e.Account, []string{limited[0].ArticleID}, models.StatusStarred, true))
	starred, err := Articles(ctx, e.Account, Filter{Starred: true})
	require.NoError(t, err)
	require.Len(t, starred, 1)
	assert.Equal(t, limited[0].ArticleID, starred[0].ArticleID)
	_, err = Articles(ctx, e.Account, Filter{FeedID: "nope"})
	assert.ErrorIs(t, err, account.ErrFeedNotFound)

	results, err := m.Prune(ctx, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Zero(t, results[0].Articles)
}
