// ABOUTME: Sync adapter for Reader API services built on the shared reconcile pieces
// ABOUTME: Folders are labels and feeds are subscriptions keyed by their stream id

package readerapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/harper/feedsync/internal/account"
	"github.com/harper/feedsync/internal/logger"
	"github.com/harper/feedsync/internal/models"
	"github.com/harper/feedsync/internal/opml"
	"github.com/harper/feedsync/internal/reconcile"
	"github.com/harper/feedsync/internal/secrets"
)

// Options configures a Delegate.
type Options struct {
	Endpoint  string
	Username  string
	Secrets   secrets.Store
	Transport *reconcile.Transport
	Logger    *slog.Logger
	Now       func() time.Time
}

// Delegate syncs one account with a Reader API server.
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
	client, err := NewClient(opts.Endpoint, opts.Transport, opts.Secrets, opts.Username)
	if err != nil {
		return nil, err
	}
	return &Delegate{
		client:   client,
		tr:       opts.Transport,
		syncer:   reconcile.NewStatusSyncer(opts.Logger),
		secrets:  opts.Secrets,
		username: opts.Username,
		log:      opts.Logger,
		now:      opts.Now,
	}, nil
}

// Syncer exposes the status syncer so callers can tune chunking.
func (d *Delegate) Syncer() *reconcile.StatusSyncer { return d.syncer }

// RefreshAll pushes local edits, mirrors the tree, reconciles statuses and
// downloads missing articles.
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
	var updated []string
	if err == nil {
		updated, err = d.client.ItemIDsSince(ctx, streamReadingList, since)
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
	tags, err := d.client.Tags(ctx)
	if err != nil {
		return err
	}
	subs, err := d.client.Subscriptions(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{})
	var folders []reconcile.RemoteFolder
	addFolder := func(id string) {
		name := LabelName(id)
		if name == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		folders = append(folders, reconcile.RemoteFolder{ExternalID: id, Name: name})
	}
	for _, t := range tags {
		if t.Type == "" || t.Type == "folder" {
			addFolder(t.ID)
		}
	}
	for _, s := range subs {
		for _, c := range s.Categories {
			addFolder(c.ID)
		}
	}
	if _, err := reconcile.MirrorFolders(acct, folders); err != nil {
		return fmt.Errorf("mirror folders: %w", err)
	}

	feeds := make([]reconcile.RemoteFeed, 0, len(subs))
	for _, s := range subs {
		feeds = append(feeds, remoteFeed(s))
	}
	if err := reconcile.MirrorFeeds(acct, feeds); err != nil {
		return fmt.Errorf("mirror feeds: %w", err)
	}
	d.log.DebugContext(ctx, "mirrored tree", "folders", len(folders), "feeds", len(feeds))
	return nil
}

func remoteFeed(s Subscription) reconcile.RemoteFeed {
	rf := reconcile.RemoteFeed{
		FeedID:      s.ID,
		URL:         s.URL,
		Name:        s.Title,
		HomePageURL: s.HTMLURL,
		IconURL:     s.IconURL,
		ExternalID:  s.ID,
	}
	for _, c := range s.Categories {
		if LabelName(c.ID) != "" {
			rf.Memberships = append(rf.Memberships, reconcile.Membership{FolderExternalID: c.ID})
		}
	}
	if u, ok := strings.CutPrefix(s.ID, "feed/"); ok && rf.URL == "" && strings.HasPrefix(u, "http") {
		rf.URL = u
	}
	return rf
}

func (d *Delegate) fetchMissing(ctx context.Context, acct *account.Account, extra []string) error {
	ids, err := reconcile.ArticlesToFetch(ctx, acct, extra)
	if err != nil {
		return err
	}
	return d.fetchEntries(ctx, acct, ids, true)
}

func (d *Delegate) fetchEntries(ctx context.Context, acct *account.Account, ids []string, defaultRead bool) error {
	var errs []error
	for _, batch := range reconcile.Chunk(ids, ContentsChunkSize) {
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
			item, err := e.ParsedItem()
			if err != nil {
				d.log.WarnContext(ctx, "skipping entry", "id", e.ID, "error", err)
				continue
			}
			byFeed[e.Origin.StreamID] = append(byFeed[e.Origin.StreamID], item)
		}
		if _, err := acct.MergeArticles(ctx, byFeed, defaultRead); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Delegate) pushGroups() []reconcile.PushGroup {
	edit := func(tag string, add bool) reconcile.Sender {
		return func(ctx context.Context, ids []string) error {
			return d.client.EditTag(ctx, ids, tag, add)
		}
	}
	return []reconcile.PushGroup{
		{Key: models.StatusRead, Flag: true, Send: edit(stateRead, true)},
		{Key: models.StatusRead, Flag: false, Send: edit(stateRead, false)},
		{Key: models.StatusStarred, Flag: true, Send: edit(stateStarred, true)},
		{Key: models.StatusStarred, Flag: false, Send: edit(stateStarred, false)},
	}
}

// SendPendingStatuses pushes queued read and starred edits.
func (d *Delegate) SendPendingStatuses(ctx context.Context, acct *account.Account) error {
	return reconcile.WrapAccount(acct.ID(), acct.Name(), d.syncer.Push(ctx, acct, d.pushGroups()))
}

// RefreshRemoteStatuses applies the server's starred and unread sets. A
// failure in one set does not stop the other. Starred runs first so that
// statuses it creates are settled by the unread set.
func (d *Delegate) RefreshRemoteStatuses(ctx context.Context, acct *account.Account) error {
	var errs []error
	for _, stream := range []struct {
		key   models.StatusKey
		fetch func(context.Context) ([]string, error)
	}{
		{models.StatusStarred, d.client.StarredIDs},
		{models.StatusRead, d.client.UnreadIDs},
	} {
		ids, err := stream.fetch(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := d.syncer.SyncState(ctx, acct, stream.key, idSet(ids)); err != nil {
			errs = append(errs, err)
		}
	}
	return reconcile.WrapAccount(acct.ID(), acct.Name(), errors.Join(errs...))
}

// MarkArticles marks locally, queues the edit and pushes once enough edits
// have accumulated.
func (d *Delegate) MarkArticles(ctx context.Context, acct *account.Account, ids []string, key models.StatusKey, flag bool) error {
	return d.syncer.MarkArticles(ctx, acct, ids, key, flag, func(ctx context.Context) error {
		return d.SendPendingStatuses(ctx, acct)
	})
}

// ImportBulkSubscriptions subscribes to every feed in doc, creating labels
// for its folders. Feeds already in the account are only placed.
func (d *Delegate) ImportBulkSubscriptions(ctx context.Context, acct *account.Account, doc *opml.Document) error {
	var errs []error
	for _, f := range doc.AllFeeds() {
		folderID := ""
		if f.Folder != "" {
			folder, err := d.CreateFolder(ctx, acct, f.Folder)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			folderID = folder.ID
		}
		if existing, ok := acct.FeedByURL(f.URL); ok {
			if !acct.ContainsFeed(folderID, existing.FeedID) {
				if err := d.AddFeed(ctx, acct, existing.FeedID, folderID); err != nil {
					errs = append(errs, err)
				}
			}
			continue
		}
		if _, err := d.CreateFeed(ctx, acct, f.URL, "", folderID); err != nil {
			errs = append(errs, fmt.Errorf("import %s: %w", f.URL, err))
		}
	}
	return reconcile.WrapAccount(acct.ID(), acct.Name(), errors.Join(errs...))
}

// CreateFolder creates a local folder. The label exists on the server once a
// feed is tagged with it.
func (d *Delegate) CreateFolder(_ context.Context, acct *account.Account, name string) (*account.Folder, error) {
	if name == "" {
		return nil, reconcile.ErrInvalidParameter
	}
	f := acct.CreateFolder(name, LabelID(name))
	return &f, nil
}

// RenameFolder renames the label and then the local folder.
func (d *Delegate) RenameFolder(ctx context.Context, acct *account.Account, folderID, name string) error {
	folder, ok := acct.Folder(folderID)
	if !ok {
		return fmt.Errorf("%w: %s", account.ErrFolderNotFound, folderID)
	}
	if name == "" {
		return reconcile.ErrInvalidParameter
	}
	if err := d.client.RenameTag(ctx, folder.Name, name); err != nil {
		return reconcile.WrapAccount(acct.ID(), acct.Name(), err)
	}
	if err := acct.RenameFolder(folderID, name); err != nil {
		return err
	}
	return acct.SetFolderExternalID(folderID, LabelID(name))
}

// RemoveFolder unsubscribes feeds that live only in the folder, untags the
// rest and deletes the label.
func (d *Delegate) RemoveFolder(ctx context.Context, acct *account.Account, folderID string) error {
	folder, ok := acct.Folder(folderID)
	if !ok {
		return fmt.Errorf("%w: %s", account.ErrFolderNotFound, folderID)
	}
	for _, feedID := range reconcile.SortedIDs(folder.FeedIDs) {
		feed, ok := acct.Feed(feedID)
		if !ok {
			continue
		}
		var err error
		if containerCount(acct, feedID) > 1 {
			err = d.client.EditSubscription(ctx, SubscriptionEdit{StreamID: streamID(feed), RemoveLabel: folder.Name})
		} else {
			err = d.client.Unsubscribe(ctx, streamID(feed))
		}
		if err != nil {
			return reconcile.WrapAccount(acct.ID(), acct.Name(), err)
		}
	}
	tagID := folder.ExternalID
	if tagID == "" {
		tagID = LabelID(folder.Name)
	}
	if err := d.client.DisableTag(ctx, tagID); err != nil && !errors.Is(err, reconcile.ErrNotFound) {
		return reconcile.WrapAccount(acct.ID(), acct.Name(), err)
	}
	return acct.RemoveFolder(folderID)
}

// CreateFeed subscribes to url, optionally renaming it and labelling it with
// the folder, then downloads its unread articles.
func (d *Delegate) CreateFeed(ctx context.Context, acct *account.Account, url, name, folderID string) (*account.Feed, error) {
	if _, ok := acct.FeedByURL(url); ok {
		return nil, reconcile.ErrAlreadySubscribed
	}
	var folder account.Folder
	if folderID != "" {
		f, ok := acct.Folder(folderID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", account.ErrFolderNotFound, folderID)
		}
		folder = f
	}

	stream, err := d.client.QuickAdd(ctx, url)
	if err != nil {
		return nil, reconcile.WrapAccount(acct.ID(), acct.Name(), err)
	}
	if name != "" || folder.Name != "" {
		edit := SubscriptionEdit{StreamID: stream, Title: name, AddLabel: folder.Name}
		if err := d.client.EditSubscription(ctx, edit); err != nil {
			return nil, reconcile.WrapAccount(acct.ID(), acct.Name(), err)
		}
	}

	subs, err := d.client.Subscriptions(ctx)
	if err != nil {
		return nil, reconcile.WrapAccount(acct.ID(), acct.Name(), err)
	}
	var sub *Subscription
	for i := range subs {
		if subs[i].ID == stream {
			sub = &subs[i]
			break
		}
	}
	if sub == nil {
		return nil, reconcile.WrapAccount(acct.ID(), acct.Name(), &reconcile.ProtocolError{Field: "subscription " + stream})
	}

	rf := remoteFeed(*sub)
	acct.AddFeed(account.Feed{FeedID: rf.FeedID, URL: rf.URL, Name: rf.Name, HomePageURL: rf.HomePageURL, IconURL: rf.IconURL, ExternalID: rf.ExternalID})
	if name != "" {
		if err := acct.UpdateFeed(rf.FeedID, func(f *account.Feed) { f.EditedName = name }); err != nil {
			return nil, err
		}
	}
	if err := acct.AddFeedToFolder(rf.FeedID, folderID); err != nil {
		return nil, err
	}

	if ids, err := d.client.StreamUnreadIDs(ctx, stream); err != nil {
		d.log.WarnContext(ctx, "initial article download failed", "feed", stream, "error", err)
	} else if err := d.fetchEntries(ctx, acct, ids, false); err != nil {
		d.log.WarnContext(ctx, "initial article download failed", "feed", stream, "error", err)
	}

	feed, _ := acct.Feed(rf.FeedID)
	return &feed, nil
}

// RenameFeed sets the subscription title on the server and the edited name
// locally.
func (d *Delegate) RenameFeed(ctx context.Context, acct *account.Account, feedID, name string) error {
	feed, ok := acct.Feed(feedID)
	if !ok {
		return fmt.Errorf("%w: %s", account.ErrFeedNotFound, feedID)
	}
	if err := d.client.EditSubscription(ctx, SubscriptionEdit{StreamID: streamID(feed), Title: name}); err != nil {
		return reconcile.WrapAccount(acct.ID(), acct.Name(), err)
	}
	return acct.UpdateFeed(feedID, func(f *account.Feed) { f.EditedName = name })
}

// AddFeed labels an existing subscription with a folder. The top level needs
// no server change.
func (d *Delegate) AddFeed(ctx context.Context, acct *account.Account, feedID, folderID string) error {
	feed, ok := acct.Feed(feedID)
	if !ok {
		return fmt.Errorf("%w: %s", account.ErrFeedNotFound, feedID)
	}
	if folderID != "" {
		folder, ok := acct.Folder(folderID)
		if !ok {
			return fmt.Errorf("%w: %s", account.ErrFolderNotFound, folderID)
		}
		if err := d.client.EditSubscription(ctx, SubscriptionEdit{StreamID: streamID(feed), AddLabel: folder.Name}); err != nil {
			return reconcile.WrapAccount(acct.ID(), acct.Name(), err)
		}
	}
	return acct.AddFeedToFolder(feedID, folderID)
}

// RemoveFeed takes a feed out of one container. When no other container
// holds it the subscription is cancelled.
func (d *Delegate) RemoveFeed(ctx context.Context, acct *account.Account, feedID, folderID string) error {
	feed, ok := acct.Feed(feedID)
	if !ok {
		return fmt.Errorf("%w: %s", account.ErrFeedNotFound, feedID)
	}
	if !acct.ContainsFeed(folderID, feedID) {
		return nil
	}
	if containerCount(acct, feedID) <= 1 {
		if err := d.client.Unsubscribe(ctx, streamID(feed)); err != nil {
			return reconcile.WrapAccount(acct.ID(), acct.Name(), err)
		}
		acct.RemoveFeed(feedID)
		return nil
	}
	if folderID != "" {
		folder, _ := acct.Folder(folderID)
		if err := d.client.EditSubscription(ctx, SubscriptionEdit{StreamID: streamID(feed), RemoveLabel: folder.Name}); err != nil {
			return reconcile.WrapAccount(acct.ID(), acct.Name(), err)
		}
	}
	return acct.RemoveFeedFromFolder(feedID, folderID)
}

// MoveFeed swaps one label for another in a single edit.
func (d *Delegate) MoveFeed(ctx context.Context, acct *account.Account, feedID, fromFolderID, toFolderID string) error {
	if fromFolderID == toFolderID {
		return nil
	}
	feed, ok := acct.Feed(feedID)
	if !ok {
		return fmt.Errorf("%w: %s", account.ErrFeedNotFound, feedID)
	}
	edit := SubscriptionEdit{StreamID: streamID(feed)}
	if fromFolderID != "" {
		from, ok := acct.Folder(fromFolderID)
		if !ok {
			return fmt.Errorf("%w: %s", account.ErrFolderNotFound, fromFolderID)
		}
		edit.RemoveLabel = from.Name
	}
	if toFolderID != "" {
		to, ok := acct.Folder(toFolderID)
		if !ok {
			return fmt.Errorf("%w: %s", account.ErrFolderNotFound, toFolderID)
		}
		edit.AddLabel = to.Name
	}
	if err := d.client.EditSubscription(ctx, edit); err != nil {
		return reconcile.WrapAccount(acct.ID(), acct.Name(), err)
	}
	if err := acct.AddFeedToFolder(feedID, toFolderID); err != nil {
		return err
	}
	return acct.RemoveFeedFromFolder(feedID, fromFolderID)
}

// AccountInitialized checks that a password or token is stored.
func (d *Delegate) AccountInitialized(acct *account.Account) error {
	if _, err := d.secrets.Get(secrets.TypeReaderAPIKey, d.username); err == nil {
		return nil
	}
	if _, err := d.secrets.Get(secrets.TypeReaderBasic, d.username); err == nil {
		return nil
	}
	return reconcile.WrapAccount(acct.ID(), acct.Name(), fmt.Errorf("%w: no credentials for %s", reconcile.ErrUnauthorized, d.username))
}

// AccountWillBeDeleted forgets the stored password and token.
func (d *Delegate) AccountWillBeDeleted(_ context.Context, _ *account.Account) error {
	var errs []error
	for _, typ := range []secrets.Type{secrets.TypeReaderBasic, secrets.TypeReaderAPIKey} {
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

func streamID(f account.Feed) string {
	if f.ExternalID != "" {
		return f.ExternalID
	}
	return f.FeedID
}

func containerCount(acct *account.Account, feedID string) int {
	n := len(acct.FoldersForFeed(feedID))
	if acct.ContainsFeed("", feedID) {
		n++
	}
	return n
}

func idSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
