// ABOUTME: Owns every configured account with its sync delegate
// ABOUTME: Fans refreshes out concurrently and aggregates per-account progress and errors

package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harper/feedsync/internal/account"
	"github.com/harper/feedsync/internal/articles"
	"github.com/harper/feedsync/internal/config"
	"github.com/harper/feedsync/internal/logger"
	"github.com/harper/feedsync/internal/reconcile"
	"github.com/harper/feedsync/internal/secrets"
)

// ErrAccountNotFound is returned for an id the manager does not hold.
var ErrAccountNotFound = errors.New("account not found")

// Entry pairs an opened account with the delegate that syncs it.
type Entry struct {
	Config   config.AccountConfig
	Account  *account.Account
	Delegate reconcile.Delegate
}

// Progress reports one account finishing a refresh.
type Progress struct {
	AccountID string
	Completed int
	Total     int
	Err       error
}

// Options configures a Manager.
type Options struct {
	Config  *config.Config
	Secrets secrets.Store
	Logger  *slog.Logger

	// HTTPClient is shared by every account transport. Defaults to a client
	// with config.DefaultHTTPTimeout.
	HTTPClient *http.Client

	// NewDelegate builds delegates. Defaults to NewDelegate.
	NewDelegate DelegateFactory

	// Store options applied to every account; retention and cache size come
	// from Config when zero.
	Store articles.Options
}

// Manager holds the open accounts.
type Manager struct {
	cfg       *config.Config
	secrets   secrets.Store
	log       *slog.Logger
	client    *http.Client
	factory   DelegateFactory
	storeOpts articles.Options

	mu      sync.RWMutex
	entries map[string]*Entry
}

// New opens every configured account.
func New(opts Options) (*Manager, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("%w: config required", reconcile.ErrInvalidParameter)
	}
	if opts.Secrets == nil {
		return nil, fmt.Errorf("%w: secrets store required", reconcile.ErrInvalidParameter)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: config.DefaultHTTPTimeout}
	}
	if opts.NewDelegate == nil {
		opts.NewDelegate = NewDelegate
	}
	if opts.Store.RetentionDays == 0 {
		opts.Store.RetentionDays = opts.Config.GetRetentionDays()
	}
	if opts.Store.StatusCacheSize == 0 {
		opts.Store.StatusCacheSize = opts.Config.GetStatusCacheSize()
	}

	m := &Manager{
		cfg:       opts.Config,
		secrets:   opts.Secrets,
		log:       opts.Logger,
		client:    opts.HTTPClient,
		factory:   opts.NewDelegate,
		storeOpts: opts.Store,
		entries:   make(map[string]*Entry),
	}
	for _, ac := range opts.Config.Accounts {
		e, err := m.open(ac)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.entries[ac.ID] = e
	}
	return m, nil
}

func (m *Manager) open(ac config.AccountConfig) (*Entry, error) {
	name := ac.Name
	if name == "" {
		name = ac.Username
	}
	storeOpts := m.storeOpts
	storeOpts.Logger = m.log
	acct, err := account.Open(account.Options{
		ID:      ac.ID,
		Type:    ac.Type,
		Name:    name,
		DataDir: m.cfg.AccountDataDir(ac.ID),
		Logger:  m.log,
		Store:   storeOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("open account %s: %w", ac.ID, err)
	}
	d, err := m.factory(Deps{
		Account:    ac,
		Secrets:    m.secrets,
		HTTPClient: m.client,
		Logger:     m.log.With("account", ac.ID),
		Config:     m.cfg,
	})
	if err != nil {
		acct.Close()
		return nil, fmt.Errorf("account %s: %w", ac.ID, err)
	}
	return &Entry{Config: ac, Account: acct, Delegate: d}, nil
}

// Accounts returns every entry ordered by id.
func (m *Manager) Accounts() []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Config.ID < out[j].Config.ID })
	return out
}

// ActiveAccounts returns the entries that take part in refreshes.
func (m *Manager) ActiveAccounts() []*Entry {
	var out []*Entry
	for _, e := range m.Accounts() {
		if e.Config.Active {
			out = append(out, e)
		}
	}
	return out
}

// Account returns the entry for id.
func (m *Manager) Account(id string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return e, nil
}

// Default returns the only active account, or an error naming the choice
// the caller must make.
func (m *Manager) Default() (*Entry, error) {
	active := m.ActiveAccounts()
	switch len(active) {
	case 0:
		return nil, fmt.Errorf("%w: no active accounts configured", ErrAccountNotFound)
	case 1:
		return active[0], nil
	default:
		return nil, fmt.Errorf("%d active accounts; pick one with --account", len(active))
	}
}

// Add configures, opens and checks a new account, then saves the config.
// Credentials must already be in the secrets store.
func (m *Manager) Add(ctx context.Context, ac config.AccountConfig) (*Entry, error) {
	ac, err := m.cfg.AddAccount(ac)
	if err != nil {
		return nil, err
	}
	e, err := m.open(ac)
	if err != nil {
		_ = m.cfg.RemoveAccount(ac.ID)
		return nil, err
	}
	if err := e.Delegate.AccountInitialized(e.Account); err != nil {
		e.Account.Close()
		os.RemoveAll(e.Account.DataDir())
		_ = m.cfg.RemoveAccount(ac.ID)
		return nil, err
	}
	if err := m.cfg.Save(); err != nil {
		e.Account.Close()
		_ = m.cfg.RemoveAccount(ac.ID)
		return nil, fmt.Errorf("save config: %w", err)
	}
	m.mu.Lock()
	m.entries[ac.ID] = e
	m.mu.Unlock()
	m.log.InfoContext(ctx, "account added", "account", ac.ID, "type", ac.Type)
	return e, nil
}

// Remove tells the delegate, closes the account, deletes its data and drops
// it from the config.
func (m *Manager) Remove(ctx context.Context, id string) error {
	e, err := m.Account(id)
	if err != nil {
		return err
	}
	var errs []error
	if err := e.Delegate.AccountWillBeDeleted(ctx, e.Account); err != nil {
		errs = append(errs, err)
	}
	if err := e.Account.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := os.RemoveAll(e.Account.DataDir()); err != nil {
		errs = append(errs, fmt.Errorf("remove data: %w", err))
	}
	if err := m.cfg.RemoveAccount(id); err != nil {
		errs = append(errs, err)
	}
	if err := m.cfg.Save(); err != nil {
		errs = append(errs, fmt.Errorf("save config: %w", err))
	}
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
	return errors.Join(errs...)
}

// SetActive includes or excludes an account from refreshes.
func (m *Manager) SetActive(id string, active bool) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	if ok {
		e.Config.Active = active
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	for i := range m.cfg.Accounts {
		if m.cfg.Accounts[i].ID == id {
			m.cfg.Accounts[i].Active = active
		}
	}
	return m.cfg.Save()
}

// RefreshAll refreshes every active account concurrently. One account's
// failure never cancels the others; all failures are joined. progress, when
// set, is called once per account as it finishes.
func (m *Manager) RefreshAll(ctx context.Context, progress func(Progress)) error {
	active := m.ActiveAccounts()
	start := time.Now()

	var (
		mu        sync.Mutex
		errs      []error
		completed int
	)
	g := new(errgroup.Group)
	for _, e := range active {
		g.Go(func() error {
			actx := logger.Ctx(ctx, slog.String("account", e.Config.ID))
			err := e.Delegate.RefreshAll(actx, e.Account)
			if err != nil {
				m.log.WarnContext(actx, "account refresh failed", "error", err)
			}
			mu.Lock()
			completed++
			if err != nil {
				errs = append(errs, err)
			}
			p := Progress{AccountID: e.Config.ID, Completed: completed, Total: len(active), Err: err}
			mu.Unlock()
			if progress != nil {
				progress(p)
			}
			return nil
		})
	}
	_ = g.Wait()
	m.log.InfoContext(ctx, "refresh complete", "accounts", len(active), "failed", len(errs), "duration", time.Since(start))
	return errors.Join(errs...)
}

// SendPendingStatuses pushes queued edits for every active account.
func (m *Manager) SendPendingStatuses(ctx context.Context) error {
	var errs []error
	for _, e := range m.ActiveAccounts() {
		if err := e.Delegate.SendPendingStatuses(ctx, e.Account); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// UnreadCount sums the unread counts of every active account.
func (m *Manager) UnreadCount(ctx context.Context) (int, error) {
	total := 0
	for _, e := range m.ActiveAccounts() {
		n, err := e.Account.UnreadCount(ctx)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// PruneResult counts the rows removed for one account.
type PruneResult struct {
	AccountID string
	Articles  int
	Statuses  int
}

// Prune deletes articles outside the retention window and statuses older
// than statusAge for every account.
func (m *Manager) Prune(ctx context.Context, statusAge time.Duration) ([]PruneResult, error) {
	var (
		out  []PruneResult
		errs []error
	)
	for _, e := range m.Accounts() {
		r := PruneResult{AccountID: e.Config.ID}
		n, err := e.Account.Store().DeleteOldArticles(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Config.ID, err))
			continue
		}
		r.Articles = n
		if n, err = e.Account.Store().DeleteOldStatuses(ctx, statusAge); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Config.ID, err))
		}
		r.Statuses = n
		if err := e.Account.RecomputeUnreadCounts(ctx); err != nil {
			errs = append(errs, err)
		}
		out = append(out, r)
	}
	return out, errors.Join(errs...)
}

// Suspend cancels in-flight requests and closes every account's databases.
func (m *Manager) Suspend() error {
	var errs []error
	for _, e := range m.Accounts() {
		e.Delegate.Suspend()
		if err := e.Account.Suspend(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Config.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Resume reopens storage and then lets the delegates talk to the network.
func (m *Manager) Resume(ctx context.Context) error {
	var errs []error
	for _, e := range m.Accounts() {
		if err := e.Account.Resume(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Config.ID, err))
			continue
		}
		if err := e.Delegate.Resume(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Config.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Close saves and closes every account.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for id, e := range m.entries {
		if err := e.Account.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	m.entries = make(map[string]*Entry)
	return errors.Join(errs...)
}
