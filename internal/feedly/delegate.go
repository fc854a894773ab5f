// ABOUTME: Sync adapter for Feedly built on the shared reconcile pieces
// ABOUTME: Every feed lives in at least one collection; there is no top level

package feedly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/harper/feedsync/internal/account"
	"github.com/harper/feedsync/internal/logger"
	"github.com/harper/feedsync/internal/models"
	"github.com/harper/feedsync/internal/opml"
	"github.com/harper/feedsync/internal/reconcile"
	"github.com/harper/feedsync/internal/secrets"
)

var errTopLevel = fmt.Errorf("%w: feedly feeds must be in a folder", reconcile.ErrUnsupported)

// Options configures a Delegate.
type Options struct {
	Endpoint  string
	Username  string
	Secrets   secrets.Store
	Transport *reconcile.Transport
	// OAuth refreshes expired access tokens. Nil disables refreshing.
	OAuth  *oauth2.Config
	Logger *slog.Logger
	Now    func() time.Time
}

// Delegate syncs one account with Feedly.
type Delegate struct {
	client   *Client
	tr       *reconcile.Transport
	syncer   *reconcile.StatusSyncer
	secrets  secrets.Store
	username string
	log      *slog.Logger
	now      func() time.Time
}

var _ reconcile.Delegate = (*Delegate)(nil)

// New creates a Delegate.
func New(opts Options) (*Delegate, error) {
	if opts.Secrets == nil {
		return nil, fmt.Errorf("%w: secrets store required", reconcile.ErrInvalidParameter)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Transport == nil {
		opts.Transport = reconcile.NewTransport(reconcile.TransportOptions{Logger: opts.Logger})
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	client, err := NewClient(opts.Endpoint, opts.Transport, opts.Secrets, opts.Username, opts.OAuth)
	if err != nil {
		return nil, err
	}
	syncer := reconcile.NewStatusSyncer(opts.Logger)
	syncer.ChunkSize = MarkerChunkSize
	return &Delegate{
		client:   client,
		tr:       opts.Transport,
		syncer:   syncer,
		secrets:  opts.Secrets,
		username: opts.Username,
		log:      opts.Logger,
		now:      opts.Now,
	}, nil
}

// Syncer exposes the status syncer so callers can tune chunking.
func (d *Delegate) Syncer() *reconcile.StatusSyncer { return d.syncer }

func (d *Delegate) wrap(acct *account.Account, err error) error {
	return reconcile.WrapAccount(acct.ID(), acct.Name(), err)
}

// userID returns the Feedly user id, looking it up once and remembering it
// as the account's external id.
func (d *Delegate) userID(ctx context.Context, acct *account.Account) (string, error) {
	if id := acct.Metadata().ExternalID; id != "" {
		return id, nil
	}
	p, err := d.client.Profile(ctx)
	if err != nil {
		return "", err
	}
	if p.ID == "" {
		return "", &reconcile.ProtocolError{Field: "profile.id"}
	}
	acct.SetExternalID(p.ID)
	return p.ID, nil
}

// RefreshAll pushes local edits, mirrors collections, reconciles statuses and
// downloads new and missing entries.
func (d *Delegate) RefreshAll(ctx context.Context, acct *account.Account) error {
	ctx = logger.Ctx(ctx, slog.String("account", acct.ID()))
	start := d.now()
	since := reconcile.FetchSince(acct, start)
	d.log.InfoContext(ctx, "refresh started", "since", since)

	// The first failing step ends the refresh.
	err := d.SendPendingStatuses(ctx, acct)
	if err == nil {
		err = d.refreshStructure(ctx, acct)
	}
	var userID string
	if err == nil {
		userID, err = d.userID(ctx, acct)
	}
	var updated []string
	if err == nil {
		updated, err = d.client.StreamIDs(ctx, AllStream(userID), since, false)
	}
	if err == nil {
		err = d.RefreshRemoteStatuses(ctx, acct)
	}
	if err == nil {
		err = d.fetchMissing(ctx, acct, updated)
	}

	err = reconcile.FinishRefresh(ctx, acct, start, d.now(), err)
	d.log.InfoContext(ctx, "refresh finished", "duration", d.now().Sub(start), "error", err)
	return err
}

func (d *Delegate) refreshStructure(ctx context.Context, acct *account.Account) error {
	collections, err := d.client.Collections(ctx)
	if err != nil {
		return err
	}
	folders := make([]reconcile.RemoteFolder, len(collections))
	for i, c := range collections {
		folders[i] = reconcile.RemoteFolder{ExternalID: c.ID, Name: stripRTL(c.Label)}
	}
	if _, err := reconcile.MirrorFolders(acct, folders); err != nil {
		return fmt.Errorf("mirror folders: %w", err)
	}
	if err := reconcile.MirrorFeeds(acct, remoteFeeds(collections)); err != nil {
		return fmt.Errorf("mirror feeds: %w", err)
	}
	d.log.DebugContext(ctx, "mirrored collections", "collections", len(collections))
	return nil
}

// remoteFeeds flattens collections into feeds with one membership per
// collection they appear in.
func remoteFeeds(collections []Collection) []reconcile.RemoteFeed {
	byID := make(map[string]int)
	var out []reconcile.RemoteFeed
	for _, c := range collections {
		for _, f := range c.Feeds {
			i, ok := byID[f.ID]
			if !ok {
				i = len(out)
				byID[f.ID] = i
				out = append(out, reconcile.RemoteFeed{
					FeedID:      f.ID,
					URL:         FeedURL(f.ID),
					Name:        stripRTL(f.Title),
					HomePageURL: f.Website,
					IconURL:     f.IconURL,
					ExternalID:  f.ID,
				})
			}
			out[i].Memberships = append(out[i].Memberships, reconcile.Membership{FolderExternalID: c.ID})
		}
	}
	return out
}

func (d *Delegate) fetchMissing(ctx context.Context, acct *account.Account, extra []string) error {
	ids, err := reconcile.ArticlesToFetch(ctx, acct, extra)
	if err != nil {
		return err
	}
	return d.fetchEntries(ctx, acct, ids)
}

func (d *Delegate) fetchEntries(ctx context.Context, acct *account.Account, ids []string) error {
	var errs []error
	for _, batch := range reconcile.Chunk(ids, EntriesChunkSize) {
		entries, err := d.client.Entries(ctx, batch)
		if err != nil {
			errs = append(errs, err)
			if errors.Is(err, reconcile.ErrSuspended) || ctx.Err() != nil {
				break
			}
			continue
		}
		byFeed := make(map[string][]models.ParsedItem)
		for _, e := range entries {
			pi, err := e.ParsedItem()
			if err != nil {
				d.log.WarnContext(ctx, "skipping entry", "entry", e.ID, "error", err)
				continue
			}
			byFeed[pi.FeedURL] = append(byFeed[pi.FeedURL], pi)
		}
		if _, err := acct.MergeArticles(ctx, byFeed, true); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Delegate) pushGroups() []reconcile.PushGroup {
	mark := func(action string) reconcile.Sender {
		return func(ctx context.Context, ids []string) error {
			return d.client.Mark(ctx, action, ids)
		}
	}
	return []reconcile.PushGroup{
		{Key: models.StatusRead, Flag: true, Send: mark(actionRead)},
		{Key: models.StatusRead, Flag: false, Send: mark(actionUnread)},
		{Key: models.StatusStarred, Flag: true, Send: mark(actionSaved)},
		{Key: models.StatusStarred, Flag: false, Send: mark(actionUnsaved)},
	}
}

// SendPendingStatuses pushes queued edits as markers.
func (d *Delegate) SendPendingStatuses(ctx context.Context, acct *account.Account) error {
	return d.wrap(acct, d.syncer.Push(ctx, acct, d.pushGroups()))
}

// RefreshRemoteStatuses applies the saved stream and then the unread stream.
func (d *Delegate) RefreshRemoteStatuses(ctx context.Context, acct *account.Account) error {
	userID, err := d.userID(ctx, acct)
	if err != nil {
		return d.wrap(acct, err)
	}
	var errs []error
	for _, stream := range []struct {
		key        models.StatusKey
		id         string
		unreadOnly bool
	}{
		{models.StatusStarred, SavedStream(userID), false},
		{models.StatusRead, AllStream(userID), true},
	} {
		ids, err := d.client.StreamIDs(ctx, stream.id, time.Time{}, stream.unreadOnly)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		set := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		if err := d.syncer.SyncState(ctx, acct, stream.key, set); err != nil {
			errs = append(errs, err)
		}
	}
	return d.wrap(acct, errors.Join(errs...))
}

// MarkArticles marks locally, queues the edit and pushes once enough edits
// have accumulated.
func (d *Delegate) MarkArticles(ctx context.Context, acct *account.Account, ids []string, key models.StatusKey, flag bool) error {
	return d.syncer.MarkArticles(ctx, acct, ids, key, flag, func(ctx context.Context) error {
		return d.SendPendingStatuses(ctx, acct)
	})
}

// ImportBulkSubscriptions uploads doc and mirrors the resulting collections.
func (d *Delegate) ImportBulkSubscriptions(ctx context.Context, acct *account.Account, doc *opml.Document) error {
	data, err := doc.Bytes()
	if err != nil {
		return err
	}
	if err := d.client.ImportOPML(ctx, data); err != nil {
		return d.wrap(acct, err)
	}
	if err := d.refreshStructure(ctx, acct); err != nil {
		return d.wrap(acct, err)
	}
	return acct.Save()
}

// CreateFolder creates a collection and its local folder.
func (d *Delegate) CreateFolder(ctx context.Context, acct *account.Account, name string) (*account.Folder, error) {
	if name == "" {
		return nil, reconcile.ErrInvalidParameter
	}
	c, err := d.client.CreateCollection(ctx, name)
	if err != nil {
		return nil, d.wrap(acct, err)
	}
	f := acct.CreateFolder(stripRTL(c.Label), c.ID)
	return &f, nil
}

// RenameFolder relabels the collection and then the local folder.
func (d *Delegate) RenameFolder(ctx context.Context, acct *account.Account, folderID, name string) error {
	folder, err := d.folder(acct, folderID)
	if err != nil {
		return err
	}
	if name == "" {
		return reconcile.ErrInvalidParameter
	}
	if _, err := d.client.RenameCollection(ctx, folder.ExternalID, name); err != nil {
		return d.wrap(acct, err)
	}
	return acct.RenameFolder(folderID, name)
}

// RemoveFolder deletes the collection. Feeds left in no other collection go
// with it.
func (d *Delegate) RemoveFolder(ctx context.Context, acct *account.Account, folderID string) error {
	folder, err := d.folder(acct, folderID)
	if err != nil {
		return err
	}
	if err := d.client.DeleteCollection(ctx, folder.ExternalID); err != nil {
		return d.wrap(acct, err)
	}
	return acct.RemoveFolder(folderID)
}

func (d *Delegate) folder(acct *account.Account, folderID string) (account.Folder, error) {
	if folderID == "" {
		return account.Folder{}, errTopLevel
	}
	folder, ok := acct.Folder(folderID)
	if !ok {
		return account.Folder{}, fmt.Errorf("%w: %s", account.ErrFolderNotFound, folderID)
	}
	if folder.ExternalID == "" {
		return account.Folder{}, &reconcile.ProtocolError{Field: "folder.externalID"}
	}
	return folder, nil
}

// CreateFeed subscribes to url inside a collection and downloads its entries.
func (d *Delegate) CreateFeed(ctx context.Context, acct *account.Account, url, name, folderID string) (*account.Feed, error) {
	folder, err := d.folder(acct, folderID)
	if err != nil {
		return nil, err
	}
	resourceID := FeedResourceID(url)
	if _, ok := acct.FeedByURL(url); ok {
		return nil, reconcile.ErrAlreadySubscribed
	}
	if _, ok := acct.Feed(resourceID); ok {
		return nil, reconcile.ErrAlreadySubscribed
	}

	feeds, err := d.client.AddFeed(ctx, folder.ExternalID, resourceID, name)
	if err != nil {
		return nil, d.wrap(acct, err)
	}
	var added *Feed
	for i := range feeds {
		if feeds[i].ID == resourceID {
			added = &feeds[i]
			break
		}
	}
	if added == nil {
		return nil, d.wrap(acct, fmt.Errorf("subscribe %s: %w", url, reconcile.ErrNotFound))
	}

	rf := remoteFeeds([]Collection{{ID: folder.ExternalID, Feeds: []Feed{*added}}})[0]
	acct.AddFeed(account.Feed{FeedID: rf.FeedID, URL: rf.URL, Name: rf.Name, HomePageURL: rf.HomePageURL, IconURL: rf.IconURL, ExternalID: rf.ExternalID})
	if name != "" {
		if err := acct.UpdateFeed(rf.FeedID, func(f *account.Feed) { f.EditedName = name }); err != nil {
			return nil, err
		}
	}
	if err := acct.AddFeedToFolder(rf.FeedID, folder.ID); err != nil {
		return nil, err
	}

	ids, err := d.client.StreamIDs(ctx, rf.FeedID, d.now().AddDate(0, -3, 0), false)
	if err == nil {
		err = d.fetchEntries(ctx, acct, ids)
	}
	if err == nil {
		err = d.RefreshRemoteStatuses(ctx, acct)
	}
	if err != nil {
		d.log.WarnContext(ctx, "initial article download failed", "feed", rf.FeedID, "error", err)
	}

	feed, _ := acct.Feed(rf.FeedID)
	return &feed, nil
}

// RenameFeed re-adds the feed with a new title to each of its collections.
func (d *Delegate) RenameFeed(ctx context.Context, acct *account.Account, feedID, name string) error {
	feed, ok := acct.Feed(feedID)
	if !ok {
		return fmt.Errorf("%w: %s", account.ErrFeedNotFound, feedID)
	}
	for _, folderID := range acct.FoldersForFeed(feedID) {
		folder, err := d.folder(acct, folderID)
		if err != nil {
			return err
		}
		if _, err := d.client.AddFeed(ctx, folder.ExternalID, feed.ExternalID, name); err != nil {
			return d.wrap(acct, err)
		}
	}
	return acct.UpdateFeed(feedID, func(f *account.Feed) { f.EditedName = name })
}

// AddFeed adds an existing feed to another collection.
func (d *Delegate) AddFeed(ctx context.Context, acct *account.Account, feedID, folderID string) error {
	feed, ok := acct.Feed(feedID)
	if !ok {
		return fmt.Errorf("%w: %s", account.ErrFeedNotFound, feedID)
	}
	folder, err := d.folder(acct, folderID)
	if err != nil {
		return err
	}
	if _, err := d.client.AddFeed(ctx, folder.ExternalID, feed.ExternalID, feed.EditedName); err != nil {
		return d.wrap(acct, err)
	}
	return acct.AddFeedToFolder(feedID, folderID)
}

// RemoveFeed takes a feed out of one collection. A feed in no collection is
// no longer subscribed.
func (d *Delegate) RemoveFeed(ctx context.Context, acct *account.Account, feedID, folderID string) error {
	feed, ok := acct.Feed(feedID)
	if !ok {
		return fmt.Errorf("%w: %s", account.ErrFeedNotFound, feedID)
	}
	if !acct.ContainsFeed(folderID, feedID) {
		return nil
	}
	if folderID == "" {
		return acct.RemoveFeedFromFolder(feedID, "")
	}
	folder, err := d.folder(acct, folderID)
	if err != nil {
		return err
	}
	if err := d.client.RemoveFeed(ctx, folder.ExternalID, feed.ExternalID); err != nil {
		return d.wrap(acct, err)
	}
	return acct.RemoveFeedFromFolder(feedID, folderID)
}

// MoveFeed adds the feed to the destination collection before removing it
// from the source.
func (d *Delegate) MoveFeed(ctx context.Context, acct *account.Account, feedID, fromFolderID, toFolderID string) error {
	if fromFolderID == toFolderID {
		return nil
	}
	if err := d.AddFeed(ctx, acct, feedID, toFolderID); err != nil {
		return err
	}
	return d.RemoveFeed(ctx, acct, feedID, fromFolderID)
}

// AccountInitialized checks that a token is stored.
func (d *Delegate) AccountInitialized(acct *account.Account) error {
	if _, err := d.secrets.Get(secrets.TypeOAuthAccessToken, d.username); err == nil {
		return nil
	}
	if _, err := d.secrets.Get(secrets.TypeOAuthRefreshToken, d.username); err == nil {
		return nil
	}
	return d.wrap(acct, fmt.Errorf("%w: no tokens for %s", reconcile.ErrUnauthorized, d.username))
}

// AccountWillBeDeleted logs out and forgets the stored tokens. A failed
// logout does not stop the account from being deleted.
func (d *Delegate) AccountWillBeDeleted(ctx context.Context, acct *account.Account) error {
	if err := d.client.Logout(ctx); err != nil {
		d.log.WarnContext(ctx, "feedly logout failed", "account", acct.ID(), "error", err)
	}
	var errs []error
	for _, typ := range []secrets.Type{secrets.TypeOAuthAccessToken, secrets.TypeOAuthRefreshToken} {
		if err := d.secrets.Delete(typ, d.username); err != nil && !errors.Is(err, secrets.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Suspend cancels in-flight requests.
func (d *Delegate) Suspend() { d.tr.Suspend() }

// Resume allows requests again.
func (d *Delegate) Resume(context.Context) error {
	d.tr.Resume()
	return nil
}
