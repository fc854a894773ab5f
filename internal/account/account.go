// ABOUTME: Account owns a feed/folder tree, its article store and its pending change queue
// ABOUTME: Tree mutations are serialized by the account mutex and announced through typed events

package account

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/harper/feedsync/internal/articles"
	"github.com/harper/feedsync/internal/models"
	"github.com/harper/feedsync/internal/syncdb"
)

const (
	articlesFile      = "DB.sqlite3"
	syncFile          = "sync.sqlite3"
	subscriptionsFile = "Subscriptions.opml"
	feedMetadataFile  = "FeedMetadata.json"
	accountMetaFile   = "AccountMetadata.json"
)

// Options configures an Account.
type Options struct {
	ID      string
	Type    Type
	Name    string
	DataDir string

	Logger *slog.Logger
	Store  articles.Options
}

// Account is one configured sync account.
type Account struct {
	id      string
	typ     Type
	name    string
	dataDir string
	log     *slog.Logger

	store *articles.Store
	queue *syncdb.Queue

	mu       sync.Mutex
	feeds    map[string]*Feed
	topLevel map[string]struct{}
	folders  map[string]*Folder
	metadata Metadata
	index    *treeIndex

	unread      map[string]int
	unreadDirty map[string]uint64
	unreadSeq   uint64

	treeDirty     bool
	feedMetaDirty bool
	metaDirty     bool

	batchDepth     int
	batchStructure bool

	obsMu        sync.Mutex
	observers    map[int]func(Event)
	nextObserver int
}

// Open loads the account from dataDir, creating empty state on first use.
func Open(opts Options) (*Account, error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("open account: missing id")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	storeOpts := opts.Store
	if storeOpts.Logger == nil {
		storeOpts.Logger = opts.Logger
	}

	a := &Account{
		id:          opts.ID,
		typ:         opts.Type,
		name:        opts.Name,
		dataDir:     opts.DataDir,
		log:         opts.Logger.With("account", opts.ID),
		feeds:       make(map[string]*Feed),
		topLevel:    make(map[string]struct{}),
		folders:     make(map[string]*Folder),
		unread:      make(map[string]int),
		unreadDirty: make(map[string]uint64),
		observers:   make(map[int]func(Event)),
	}

	if err := a.load(); err != nil {
		return nil, fmt.Errorf("load account %s: %w", opts.ID, err)
	}

	store, err := articles.Open(filepath.Join(opts.DataDir, articlesFile), storeOpts)
	if err != nil {
		return nil, err
	}
	queue, err := syncdb.Open(filepath.Join(opts.DataDir, syncFile))
	if err != nil {
		store.Close()
		return nil, err
	}
	a.store = store
	a.queue = queue
	return a, nil
}

// ID returns the account's stable id.
func (a *Account) ID() string { return a.id }

// Type returns the sync service type.
func (a *Account) Type() Type { return a.typ }

// Name returns the display name of the account.
func (a *Account) Name() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.name
}

// SetName renames the account.
func (a *Account) SetName(name string) {
	a.mu.Lock()
	a.name = name
	a.mu.Unlock()
}

// DataDir is where the account's files live.
func (a *Account) DataDir() string { return a.dataDir }

// Logger returns a logger tagged with the account id.
func (a *Account) Logger() *slog.Logger { return a.log }

// Store returns the account's article store.
func (a *Account) Store() *articles.Store { return a.store }

// Queue returns the account's pending change queue.
func (a *Account) Queue() *syncdb.Queue { return a.queue }

// Suspend closes the databases so the process can be frozen safely.
func (a *Account) Suspend() error {
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("close article store: %w", err)
	}
	if err := a.queue.Close(); err != nil {
		return fmt.Errorf("close sync queue: %w", err)
	}
	return nil
}

// Resume reopens the databases closed by Suspend.
func (a *Account) Resume() error {
	if err := a.store.Reopen(); err != nil {
		return fmt.Errorf("reopen article store: %w", err)
	}
	if err := a.queue.Reopen(); err != nil {
		return fmt.Errorf("reopen sync queue: %w", err)
	}
	return nil
}

// Close saves pending changes and closes the databases.
func (a *Account) Close() error {
	saveErr := a.Save()
	if err := a.Suspend(); err != nil {
		return err
	}
	return saveErr
}

// MergeArticles merges items into the store, marks the touched feeds' unread
// counts dirty and announces the changes.
func (a *Account) MergeArticles(ctx context.Context, itemsByFeed map[string][]models.ParsedItem, defaultRead bool) (models.ArticleChanges, error) {
	changes, err := a.store.MergeFeeds(ctx, itemsByFeed, defaultRead)
	if err != nil {
		return changes, err
	}
	if changes.IsEmpty() {
		return changes, nil
	}
	a.MarkUnreadDirty(changes.FeedIDs()...)

	ev := ArticlesChanged{}
	for _, art := range changes.New {
		ev.New = append(ev.New, art.ArticleID)
	}
	for _, art := range changes.Updated {
		ev.Updated = append(ev.Updated, art.ArticleID)
	}
	a.emit(ev)
	return changes, nil
}

// MarkArticles sets a status flag locally and announces what changed.
// It does not queue anything for the sync service.
func (a *Account) MarkArticles(ctx context.Context, ids []string, key models.StatusKey, flag bool) ([]models.ArticleStatus, error) {
	changed, err := a.store.Mark(ctx, ids, key, flag)
	if err != nil {
		return nil, err
	}
	if len(changed) == 0 {
		return nil, nil
	}
	changedIDs := make([]string, len(changed))
	for i, st := range changed {
		changedIDs[i] = st.ArticleID
	}
	feedIDs, err := a.store.FeedIDsForArticles(ctx, changedIDs)
	if err != nil {
		return changed, err
	}
	a.MarkUnreadDirty(feedIDs...)
	a.emit(StatusesChanged{ArticleIDs: changedIDs, Key: key, Flag: flag})
	return changed, nil
}
