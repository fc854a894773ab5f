// ABOUTME: Sync adapter for accounts with no service that download feeds themselves
// ABOUTME: Feeds are fetched concurrently with conditional GET, parsed, merged and pruned

package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harper/feedsync/internal/account"
	"github.com/harper/feedsync/internal/discover"
	"github.com/harper/feedsync/internal/fetch"
	"github.com/harper/feedsync/internal/logger"
	"github.com/harper/feedsync/internal/models"
	"github.com/harper/feedsync/internal/opml"
	"github.com/harper/feedsync/internal/parse"
	"github.com/harper/feedsync/internal/reconcile"
)

// DefaultConcurrency bounds parallel feed downloads.
const DefaultConcurrency = 8

// Options configures a Delegate.
type Options struct {
	// Transport sends feed requests. A default transport is built when nil.
	Transport   *reconcile.Transport
	Logger      *slog.Logger
	Now         func() time.Time
	Concurrency int
}

// Delegate refreshes a local account by downloading each feed directly.
type Delegate struct {
	tr          *reconcile.Transport
	log         *slog.Logger
	now         func() time.Time
	concurrency int
}

var _ reconcile.Delegate = (*Delegate)(nil)

// New creates a Delegate.
func New(opts Options) *Delegate {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Transport == nil {
		opts.Transport = reconcile.NewTransport(reconcile.TransportOptions{Logger: opts.Logger, UserAgent: fetch.UserAgent})
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Delegate{tr: opts.Transport, log: opts.Logger, now: opts.Now, concurrency: opts.Concurrency}
}

// RefreshAll downloads every feed. A failing feed does not stop the others;
// all failures are joined into the returned error.
func (d *Delegate) RefreshAll(ctx context.Context, acct *account.Account) error {
	ctx = logger.Ctx(ctx, slog.String("account", acct.ID()))
	start := d.now()
	feeds := acct.Feeds()
	d.log.InfoContext(ctx, "refresh started", "feeds", len(feeds))

	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	g.SetLimit(d.concurrency)
	for _, feed := range feeds {
		g.Go(func() error {
			if err := d.refreshFeed(ctx, acct, feed); err != nil {
				d.log.WarnContext(ctx, "feed refresh failed", "feed", feed.URL, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", feed.URL, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	err := reconcile.FinishRefresh(ctx, acct, start, d.now(), errors.Join(errs...))
	d.log.InfoContext(ctx, "refresh finished", "duration", d.now().Sub(start), "error", err)
	return err
}

func (d *Delegate) refreshFeed(ctx context.Context, acct *account.Account, feed account.Feed) error {
	res, err := fetch.Fetch(ctx, d.tr, feed.URL, feed.ConditionalGet)
	if err != nil {
		return err
	}
	if res.NotModified {
		return nil
	}
	parsed, err := parse.Parse(res.Body, feed.URL)
	if err != nil {
		return err
	}
	// Validators are stored only once the items are merged, so a failed merge
	// is retried in full next time.
	if err := d.merge(ctx, acct, feed.FeedID, parsed.Items); err != nil {
		return err
	}
	return acct.UpdateFeed(feed.FeedID, func(f *account.Feed) {
		if parsed.Title != "" {
			f.Name = parsed.Title
		}
		if parsed.HomePageURL != "" {
			f.HomePageURL = parsed.HomePageURL
		}
		if parsed.IconURL != "" {
			f.IconURL = parsed.IconURL
		}
		f.ConditionalGet = res.Validators
	})
}

func (d *Delegate) merge(ctx context.Context, acct *account.Account, feedID string, items []models.ParsedItem) error {
	if _, err := acct.MergeArticles(ctx, map[string][]models.ParsedItem{feedID: items}, false); err != nil {
		return err
	}
	keep := make([]string, 0, len(items))
	for _, item := range items {
		keep = append(keep, item.ArticleID(feedID))
	}
	if n, err := acct.Store().PruneFeed(ctx, feedID, keep); err != nil {
		return err
	} else if n > 0 {
		d.log.DebugContext(ctx, "pruned articles", "feed", feedID, "count", n)
	}
	return nil
}

// SendPendingStatuses is a no-op; there is no server to tell.
func (d *Delegate) SendPendingStatuses(context.Context, *account.Account) error { return nil }

// RefreshRemoteStatuses is a no-op.
func (d *Delegate) RefreshRemoteStatuses(context.Context, *account.Account) error { return nil }

// MarkArticles applies the mark directly without queueing.
func (d *Delegate) MarkArticles(ctx context.Context, acct *account.Account, ids []string, key models.StatusKey, flag bool) error {
	_, err := acct.MarkArticles(ctx, ids, key, flag)
	return err
}

// ImportBulkSubscriptions adds every feed in doc, creating folders by name.
// Articles arrive on the next refresh.
func (d *Delegate) ImportBulkSubscriptions(_ context.Context, acct *account.Account, doc *opml.Document) error {
	var errs []error
	for _, f := range doc.AllFeeds() {
		folderID := ""
		if f.Folder != "" {
			folder, ok := acct.FolderByName(f.Folder)
			if !ok {
				folder = acct.CreateFolder(f.Folder, "")
			}
			folderID = folder.ID
		}
		feed, ok := acct.FeedByURL(f.URL)
		if !ok {
			feed = acct.AddFeed(account.Feed{FeedID: f.URL, URL: f.URL, Name: f.Title, HomePageURL: f.HTMLURL})
		}
		if err := acct.AddFeedToFolder(feed.FeedID, folderID); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, acct.Save())
	return errors.Join(errs...)
}

// CreateFolder creates a folder.
func (d *Delegate) CreateFolder(_ context.Context, acct *account.Account, name string) (*account.Folder, error) {
	if name == "" {
		return nil, reconcile.ErrInvalidParameter
	}
	if f, ok := acct.FolderByName(name); ok {
		return &f, nil
	}
	f := acct.CreateFolder(name, "")
	return &f, nil
}

// RenameFolder renames a folder.
func (d *Delegate) RenameFolder(_ context.Context, acct *account.Account, folderID, name string) error {
	if name == "" {
		return reconcile.ErrInvalidParameter
	}
	return acct.RenameFolder(folderID, name)
}

// RemoveFolder deletes a folder. Feeds left in no container go with it.
func (d *Delegate) RemoveFolder(_ context.Context, acct *account.Account, folderID string) error {
	return acct.RemoveFolder(folderID)
}

// CreateFeed discovers the feed behind url, subscribes to it and stores its
// current articles as unread.
func (d *Delegate) CreateFeed(ctx context.Context, acct *account.Account, url, name, folderID string) (*account.Feed, error) {
	if folderID != "" {
		if _, ok := acct.Folder(folderID); !ok {
			return nil, fmt.Errorf("%w: %s", account.ErrFolderNotFound, folderID)
		}
	}
	if _, ok := acct.FeedByURL(url); ok {
		return nil, reconcile.ErrAlreadySubscribed
	}
	df, err := discover.Discover(ctx, d.tr, url)
	if err != nil {
		if errors.Is(err, discover.ErrNoFeedFound) || errors.Is(err, discover.ErrInvalidURL) {
			return nil, fmt.Errorf("%w: %w", reconcile.ErrNotFound, err)
		}
		return nil, err
	}
	if _, ok := acct.FeedByURL(df.URL); ok {
		return nil, reconcile.ErrAlreadySubscribed
	}

	feed := acct.AddFeed(account.Feed{FeedID: df.URL, URL: df.URL, Name: df.Title, HomePageURL: df.HomePageURL})
	if df.Feed != nil && df.Feed.IconURL != "" {
		_ = acct.UpdateFeed(feed.FeedID, func(f *account.Feed) { f.IconURL = df.Feed.IconURL })
	}
	if name != "" {
		_ = acct.UpdateFeed(feed.FeedID, func(f *account.Feed) { f.EditedName = name })
	}
	if err := acct.AddFeedToFolder(feed.FeedID, folderID); err != nil {
		acct.RemoveFeed(feed.FeedID)
		return nil, err
	}
	if df.Feed != nil {
		if err := d.merge(ctx, acct, feed.FeedID, df.Feed.Items); err != nil {
			d.log.WarnContext(ctx, "initial article merge failed", "feed", df.URL, "error", err)
		}
	}
	feed, _ = acct.Feed(feed.FeedID)
	return &feed, nil
}

// RenameFeed sets the edited name.
func (d *Delegate) RenameFeed(_ context.Context, acct *account.Account, feedID, name string) error {
	return acct.UpdateFeed(feedID, func(f *account.Feed) { f.EditedName = name })
}

// AddFeed places an existing feed in a container.
func (d *Delegate) AddFeed(_ context.Context, acct *account.Account, feedID, folderID string) error {
	if _, ok := acct.Feed(feedID); !ok {
		return fmt.Errorf("%w: %s", account.ErrFeedNotFound, feedID)
	}
	return acct.AddFeedToFolder(feedID, folderID)
}

// RemoveFeed takes a feed out of one container.
func (d *Delegate) RemoveFeed(_ context.Context, acct *account.Account, feedID, folderID string) error {
	if _, ok := acct.Feed(feedID); !ok {
		return fmt.Errorf("%w: %s", account.ErrFeedNotFound, feedID)
	}
	return acct.RemoveFeedFromFolder(feedID, folderID)
}

// MoveFeed adds the feed to the destination before leaving the source.
func (d *Delegate) MoveFeed(_ context.Context, acct *account.Account, feedID, fromFolderID, toFolderID string) error {
	if fromFolderID == toFolderID {
		return nil
	}
	if _, ok := acct.Feed(feedID); !ok {
		return fmt.Errorf("%w: %s", account.ErrFeedNotFound, feedID)
	}
	if err := acct.AddFeedToFolder(feedID, toFolderID); err != nil {
		return err
	}
	return acct.RemoveFeedFromFolder(feedID, fromFolderID)
}

// AccountInitialized always succeeds; local accounts need no credentials.
func (d *Delegate) AccountInitialized(*account.Account) error { return nil }

// AccountWillBeDeleted has nothing to forget.
func (d *Delegate) AccountWillBeDeleted(context.Context, *account.Account) error { return nil }

// Suspend cancels in-flight downloads.
func (d *Delegate) Suspend() { d.tr.Suspend() }

// Resume allows downloads again.
func (d *Delegate) Resume(context.Context) error {
	d.tr.Resume()
	return nil
}
