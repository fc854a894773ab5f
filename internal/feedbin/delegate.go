// ABOUTME: Sync adapter for Feedbin built on the shared reconcile pieces
// ABOUTME: Tags are folders, taggings are placements and entry ids are article ids

package feedbin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/harper/feedsync/internal/account"
	"github.com/harper/feedsync/internal/logger"
	"github.com/harper/feedsync/internal/models"
	"github.com/harper/feedsync/internal/opml"
	"github.com/harper/feedsync/internal/reconcile"
	"github.com/harper/feedsync/internal/secrets"
)

// Conditional GET keys stored in the account metadata.
const (
	keySubscriptions  = "subscriptions"
	keyTags           = "tags"
	keyTaggings       = "taggings"
	keyUnreadEntries  = "unreadEntries"
	keyStarredEntries = "starredEntries"
)

const (
	// DefaultImportPollInterval is the wait between OPML import status checks.
	DefaultImportPollInterval = 15 * time.Second
	importPollTries           = 6
)

// Options configures a Delegate.
type Options struct {
	Endpoint           string
	Username           string
	Secrets            secrets.Store
	Transport          *reconcile.Transport
	Logger             *slog.Logger
	Now                func() time.Time
	ImportPollInterval time.Duration
}

// Delegate syncs one account with Feedbin.
type Delegate struct {
	client       *Client
	tr           *reconcile.Transport
	syncer       *reconcile.StatusSyncer
	secrets      secrets.Store
	username     string
	log          *slog.Logger
	now          func() time.Time
	pollInterval time.Duration
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
	if opts.ImportPollInterval <= 0 {
		opts.ImportPollInterval = DefaultImportPollInterval
	}
	client, err := NewClient(opts.Endpoint, opts.Transport, opts.Secrets, opts.Username)
	if err != nil {
		return nil, err
	}
	return &Delegate{
		client:       client,
		tr:           opts.Transport,
		syncer:       reconcile.NewStatusSyncer(opts.Logger),
		secrets:      opts.Secrets,
		username:     opts.Username,
		log:          opts.Logger,
		now:          opts.Now,
		pollInterval: opts.ImportPollInterval,
	}, nil
}

// Syncer exposes the status syncer so callers can tune chunking.
func (d *Delegate) Syncer() *reconcile.StatusSyncer { return d.syncer }

func (d *Delegate) wrap(acct *account.Account, err error) error {
	return reconcile.WrapAccount(acct.ID(), acct.Name(), err)
}

// RefreshAll pushes local edits, mirrors tags and subscriptions, downloads new
// entries, reconciles statuses and fills in missing articles.
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
	if err == nil {
		err = d.client.EntriesSince(ctx, since, func(entries []Entry) error {
			return d.merge(ctx, acct, entries, true)
		})
	}
	if err == nil {
		err = d.RefreshRemoteStatuses(ctx, acct)
	}
	if err == nil {
		err = d.fetchMissing(ctx, acct)
	}

	err = reconcile.FinishRefresh(ctx, acct, start, d.now(), err)
	d.log.InfoContext(ctx, "refresh finished", "duration", d.now().Sub(start), "error", err)
	return err
}

func (d *Delegate) refreshStructure(ctx context.Context, acct *account.Account) error {
	tags, tagsInfo, tagsSame, err := d.client.Tags(ctx, acct.ConditionalGet(keyTags))
	if err != nil {
		return err
	}
	if !tagsSame {
		remote := make([]reconcile.RemoteFolder, len(tags))
		for i, t := range tags {
			remote[i] = reconcile.RemoteFolder{ExternalID: strconv.Itoa(t.ID), Name: t.Name}
		}
		created, err := reconcile.MirrorFolders(acct, remote)
		if err != nil {
			return fmt.Errorf("mirror folders: %w", err)
		}
		if created {
			// New folders need their placements, which an unchanged taggings
			// response would hide.
			acct.SetConditionalGet(keyTaggings, account.ConditionalGetInfo{})
		}
		acct.SetConditionalGet(keyTags, tagsInfo)
	}

	subs, subsInfo, subsSame, err := d.client.Subscriptions(ctx, acct.ConditionalGet(keySubscriptions))
	if err != nil {
		return err
	}
	taggings, taggingsInfo, taggingsSame, err := d.client.Taggings(ctx, acct.ConditionalGet(keyTaggings))
	if err != nil {
		return err
	}
	if subsSame && taggingsSame {
		return nil
	}
	if subsSame {
		if subs, subsInfo, _, err = d.client.Subscriptions(ctx, account.ConditionalGetInfo{}); err != nil {
			return err
		}
	}
	if taggingsSame {
		if taggings, taggingsInfo, _, err = d.client.Taggings(ctx, account.ConditionalGetInfo{}); err != nil {
			return err
		}
	}

	if err := reconcile.MirrorFeeds(acct, d.remoteFeeds(acct, subs, taggings)); err != nil {
		return fmt.Errorf("mirror feeds: %w", err)
	}
	acct.SetConditionalGet(keySubscriptions, subsInfo)
	acct.SetConditionalGet(keyTaggings, taggingsInfo)
	d.log.DebugContext(ctx, "mirrored tree", "subscriptions", len(subs), "taggings", len(taggings))
	return nil
}

func (d *Delegate) remoteFeeds(acct *account.Account, subs []Subscription, taggings []Tagging) []reconcile.RemoteFeed {
	byFeed := make(map[int][]reconcile.Membership)
	for _, t := range taggings {
		folder, ok := acct.FolderByName(t.Name)
		if !ok {
			continue
		}
		byFeed[t.FeedID] = append(byFeed[t.FeedID], reconcile.Membership{
			FolderExternalID: folder.ExternalID,
			RelationshipID:   strconv.Itoa(t.ID),
		})
	}
	out := make([]reconcile.RemoteFeed, len(subs))
	for i, s := range subs {
		out[i] = remoteFeed(s, byFeed[s.FeedID])
	}
	return out
}

func remoteFeed(s Subscription, memberships []reconcile.Membership) reconcile.RemoteFeed {
	return reconcile.RemoteFeed{
		FeedID:      strconv.Itoa(s.FeedID),
		URL:         s.FeedURL,
		Name:        s.Title,
		HomePageURL: s.SiteURL,
		IconURL:     s.IconURL(),
		ExternalID:  strconv.Itoa(s.ID),
		Memberships: memberships,
	}
}

func (d *Delegate) merge(ctx context.Context, acct *account.Account, entries []Entry, defaultRead bool) error {
	if len(entries) == 0 {
		return nil
	}
	byFeed := make(map[string][]models.ParsedItem)
	for _, e := range entries {
		byFeed[e.FeedKey()] = append(byFeed[e.FeedKey()], e.ParsedItem())
	}
	_, err := acct.MergeArticles(ctx, byFeed, defaultRead)
	return err
}

func (d *Delegate) fetchMissing(ctx context.Context, acct *account.Account) error {
	ids, err := reconcile.ArticlesToFetch(ctx, acct, nil)
	if err != nil {
		return err
	}
	nums, bad := entryIDs(ids)
	if len(bad) > 0 {
		d.log.WarnContext(ctx, "skipping articles with non-numeric ids", "ids", bad)
	}
	var errs []error
	for _, batch := range reconcile.Chunk(nums, EntriesPageSize) {
		entries, err := d.client.Entries(ctx, batch)
		if err != nil {
			errs = append(errs, err)
			if errors.Is(err, reconcile.ErrSuspended) || ctx.Err() != nil {
				break
			}
			continue
		}
		if err := d.merge(ctx, acct, entries, true); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// entryIDs splits ids into Feedbin entry ids and those that are not numeric.
func entryIDs(ids []string) (nums []int, bad []string) {
	nums = make([]int, 0, len(ids))
	for _, id := range ids {
		n, err := strconv.Atoi(id)
		if err != nil {
			bad = append(bad, id)
			continue
		}
		nums = append(nums, n)
	}
	return nums, bad
}

func (d *Delegate) pushGroups() []reconcile.PushGroup {
	send := func(fn func(context.Context, []int) error) reconcile.Sender {
		return func(ctx context.Context, ids []string) error {
			nums, bad := entryIDs(ids)
			if len(nums) > 0 {
				if err := fn(ctx, nums); err != nil {
					return err
				}
			}
			if len(bad) > 0 {
				return &reconcile.RejectedError{IDs: bad}
			}
			return nil
		}
	}
	return []reconcile.PushGroup{
		{Key: models.StatusRead, Flag: true, Send: send(d.client.MarkRead)},
		{Key: models.StatusRead, Flag: false, Send: send(d.client.MarkUnread)},
		{Key: models.StatusStarred, Flag: true, Send: send(d.client.Star)},
		{Key: models.StatusStarred, Flag: false, Send: send(d.client.Unstar)},
	}
}

// SendPendingStatuses pushes queued read and starred edits.
func (d *Delegate) SendPendingStatuses(ctx context.Context, acct *account.Account) error {
	return d.wrap(acct, d.syncer.Push(ctx, acct, d.pushGroups()))
}

// RefreshRemoteStatuses applies Feedbin's starred and unread sets. A set that
// has not changed since the last refresh is skipped.
func (d *Delegate) RefreshRemoteStatuses(ctx context.Context, acct *account.Account) error {
	var errs []error
	for _, stream := range []struct {
		key   models.StatusKey
		cgKey string
		fetch func(context.Context, account.ConditionalGetInfo) ([]int, account.ConditionalGetInfo, bool, error)
	}{
		{models.StatusStarred, keyStarredEntries, d.client.StarredEntries},
		{models.StatusRead, keyUnreadEntries, d.client.UnreadEntries},
	} {
		ids, info, same, err := stream.fetch(ctx, acct.ConditionalGet(stream.cgKey))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if same {
			continue
		}
		set := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			set[strconv.Itoa(id)] = struct{}{}
		}
		if err := d.syncer.SyncState(ctx, acct, stream.key, set); err != nil {
			errs = append(errs, err)
			continue
		}
		acct.SetConditionalGet(stream.cgKey, info)
	}
	return d.wrap(acct, errors.Join(errs...))
}

// MarkArticles marks locally, queues the edit and pushes once enough edits
// have accumulated. Ids that are not Feedbin entry ids are refused up front.
func (d *Delegate) MarkArticles(ctx context.Context, acct *account.Account, ids []string, key models.StatusKey, flag bool) error {
	if _, bad := entryIDs(ids); len(bad) > 0 {
		return d.wrap(acct, fmt.Errorf("%w: not Feedbin entry ids: %v", reconcile.ErrInvalidParameter, bad))
	}
	return d.syncer.MarkArticles(ctx, acct, ids, key, flag, func(ctx context.Context) error {
		return d.SendPendingStatuses(ctx, acct)
	})
}

// ImportBulkSubscriptions uploads doc as an OPML import, waits for Feedbin to
// finish it and then mirrors the result.
func (d *Delegate) ImportBulkSubscriptions(ctx context.Context, acct *account.Account, doc *opml.Document) error {
	data, err := doc.Bytes()
	if err != nil {
		return err
	}
	result, err := d.client.ImportOPML(ctx, data)
	if err != nil {
		return d.wrap(acct, err)
	}
	errIncomplete := errors.New("import still running")
	if !result.Complete {
		backoff := retry.WithMaxRetries(importPollTries, retry.NewConstant(d.pollInterval))
		err = retry.Do(ctx, backoff, func(ctx context.Context) error {
			status, err := d.client.ImportStatus(ctx, result.ID)
			if err != nil {
				return err
			}
			if !status.Complete {
				return retry.RetryableError(errIncomplete)
			}
			return nil
		})
		if err != nil {
			return d.wrap(acct, fmt.Errorf("import %d: %w", result.ID, err))
		}
	}
	d.log.InfoContext(ctx, "opml import finished", "account", acct.ID(), "import", result.ID)
	acct.SetConditionalGet(keySubscriptions, account.ConditionalGetInfo{})
	acct.SetConditionalGet(keyTaggings, account.ConditionalGetInfo{})
	acct.SetConditionalGet(keyTags, account.ConditionalGetInfo{})
	if err := d.refreshStructure(ctx, acct); err != nil {
		return d.wrap(acct, err)
	}
	return acct.Save()
}

// CreateFolder creates a local folder. Feedbin creates the tag when the first
// feed is tagged with it.
func (d *Delegate) CreateFolder(_ context.Context, acct *account.Account, name string) (*account.Folder, error) {
	if name == "" {
		return nil, reconcile.ErrInvalidParameter
	}
	f := acct.CreateFolder(name, "")
	return &f, nil
}

// RenameFolder renames the tag and then the local folder.
func (d *Delegate) RenameFolder(ctx context.Context, acct *account.Account, folderID, name string) error {
	folder, ok := acct.Folder(folderID)
	if !ok {
		return fmt.Errorf("%w: %s", account.ErrFolderNotFound, folderID)
	}
	if name == "" {
		return reconcile.ErrInvalidParameter
	}
	if len(folder.FeedIDs) > 0 {
		if err := d.client.RenameTag(ctx, folder.Name, name); err != nil {
			return d.wrap(acct, err)
		}
	}
	return acct.RenameFolder(folderID, name)
}

// RemoveFolder removes each placement in the folder, unsubscribing feeds the
// folder was the only home for.
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
		if containerCount(acct, feedID) > 1 {
			if rel := feed.FolderRelationship[folder.Name]; rel != "" {
				if err := d.client.DeleteTagging(ctx, rel); err != nil {
					return d.wrap(acct, err)
				}
			}
			continue
		}
		if err := d.client.DeleteSubscription(ctx, feed.ExternalID); err != nil {
			return d.wrap(acct, err)
		}
	}
	return acct.RemoveFolder(folderID)
}

// CreateFeed subscribes to url. When Feedbin offers several feeds the best
// candidate is subscribed instead.
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

	result, err := d.client.CreateSubscription(ctx, url)
	if err == nil && result.Subscription == nil {
		choice, ok := bestChoice(result.Choices)
		if !ok {
			return nil, d.wrap(acct, fmt.Errorf("subscribe %s: %w", url, reconcile.ErrNotFound))
		}
		result, err = d.client.CreateSubscription(ctx, choice.FeedURL)
		if err == nil && result.Subscription == nil {
			err = &reconcile.ProtocolError{Field: "subscription"}
		}
	}
	if err != nil {
		return nil, d.wrap(acct, err)
	}
	sub := *result.Subscription

	if name != "" {
		if err := d.client.RenameSubscription(ctx, strconv.Itoa(sub.ID), name); err != nil {
			return nil, d.wrap(acct, err)
		}
	}
	rf := remoteFeed(sub, nil)
	acct.AddFeed(account.Feed{FeedID: rf.FeedID, URL: rf.URL, Name: rf.Name, HomePageURL: rf.HomePageURL, IconURL: rf.IconURL, ExternalID: rf.ExternalID})
	if name != "" {
		if err := acct.UpdateFeed(rf.FeedID, func(f *account.Feed) { f.EditedName = name }); err != nil {
			return nil, err
		}
	}
	if folderID != "" {
		if err := d.placeInFolder(ctx, acct, rf.FeedID, folder); err != nil {
			_ = acct.AddFeedToFolder(rf.FeedID, "")
			return nil, err
		}
	} else if err := acct.AddFeedToFolder(rf.FeedID, ""); err != nil {
		return nil, err
	}

	since := d.now().AddDate(0, -3, 0)
	err = d.client.FeedEntries(ctx, rf.FeedID, since, func(entries []Entry) error {
		return d.merge(ctx, acct, entries, true)
	})
	if err == nil {
		err = d.RefreshRemoteStatuses(ctx, acct)
	}
	if err != nil {
		d.log.WarnContext(ctx, "initial article download failed", "feed", rf.FeedID, "error", err)
	}

	feed, _ := acct.Feed(rf.FeedID)
	return &feed, nil
}

// bestChoice prefers JSON Feed, then Atom, then RSS.
func bestChoice(choices []SubscriptionChoice) (SubscriptionChoice, bool) {
	if len(choices) == 0 {
		return SubscriptionChoice{}, false
	}
	for _, kind := range []string{"json", "atom", "rss"} {
		for _, c := range choices {
			if strings.Contains(strings.ToLower(c.FeedURL), kind) || strings.Contains(strings.ToLower(c.Title), kind) {
				return c, true
			}
		}
	}
	return choices[0], true
}

func (d *Delegate) placeInFolder(ctx context.Context, acct *account.Account, feedID string, folder account.Folder) error {
	rel, err := d.client.CreateTagging(ctx, feedID, folder.Name)
	if err != nil {
		return d.wrap(acct, err)
	}
	if err := acct.AddFeedToFolder(feedID, folder.ID); err != nil {
		return err
	}
	return acct.SetFeedRelationship(feedID, folder.Name, rel)
}

// RenameFeed renames the subscription and records the edited name locally.
func (d *Delegate) RenameFeed(ctx context.Context, acct *account.Account, feedID, name string) error {
	feed, ok := acct.Feed(feedID)
	if !ok {
		return fmt.Errorf("%w: %s", account.ErrFeedNotFound, feedID)
	}
	if err := d.client.RenameSubscription(ctx, feed.ExternalID, name); err != nil {
		return d.wrap(acct, err)
	}
	return acct.UpdateFeed(feedID, func(f *account.Feed) { f.EditedName = name })
}

// AddFeed tags an existing feed with a folder. The top level is local only.
func (d *Delegate) AddFeed(ctx context.Context, acct *account.Account, feedID, folderID string) error {
	if _, ok := acct.Feed(feedID); !ok {
		return fmt.Errorf("%w: %s", account.ErrFeedNotFound, feedID)
	}
	if folderID == "" {
		return acct.AddFeedToFolder(feedID, "")
	}
	folder, ok := acct.Folder(folderID)
	if !ok {
		return fmt.Errorf("%w: %s", account.ErrFolderNotFound, folderID)
	}
	return d.placeInFolder(ctx, acct, feedID, folder)
}

// RemoveFeed takes a feed out of one container, unsubscribing when nothing
// else holds it.
func (d *Delegate) RemoveFeed(ctx context.Context, acct *account.Account, feedID, folderID string) error {
	feed, ok := acct.Feed(feedID)
	if !ok {
		return fmt.Errorf("%w: %s", account.ErrFeedNotFound, feedID)
	}
	if !acct.ContainsFeed(folderID, feedID) {
		return nil
	}
	if containerCount(acct, feedID) <= 1 {
		if err := d.client.DeleteSubscription(ctx, feed.ExternalID); err != nil {
			return d.wrap(acct, err)
		}
		acct.RemoveFeed(feedID)
		return nil
	}
	if folderID != "" {
		if err := d.untag(ctx, acct, feed, folderID); err != nil {
			return err
		}
	}
	return acct.RemoveFeedFromFolder(feedID, folderID)
}

func (d *Delegate) untag(ctx context.Context, acct *account.Account, feed account.Feed, folderID string) error {
	folder, ok := acct.Folder(folderID)
	if !ok {
		return fmt.Errorf("%w: %s", account.ErrFolderNotFound, folderID)
	}
	if rel := feed.FolderRelationship[folder.Name]; rel != "" {
		if err := d.client.DeleteTagging(ctx, rel); err != nil {
			return d.wrap(acct, err)
		}
	}
	return acct.SetFeedRelationship(feed.FeedID, folder.Name, "")
}

// MoveFeed tags the feed with the destination before untagging the source.
func (d *Delegate) MoveFeed(ctx context.Context, acct *account.Account, feedID, fromFolderID, toFolderID string) error {
	if fromFolderID == toFolderID {
		return nil
	}
	if err := d.AddFeed(ctx, acct, feedID, toFolderID); err != nil {
		return err
	}
	feed, _ := acct.Feed(feedID)
	if fromFolderID != "" {
		if err := d.untag(ctx, acct, feed, fromFolderID); err != nil {
			return err
		}
	}
	return acct.RemoveFeedFromFolder(feedID, fromFolderID)
}

// AccountInitialized checks that a password is stored.
func (d *Delegate) AccountInitialized(acct *account.Account) error {
	if _, err := d.secrets.Get(secrets.TypeBasic, d.username); err != nil {
		return d.wrap(acct, fmt.Errorf("%w: no credentials for %s", reconcile.ErrUnauthorized, d.username))
	}
	return nil
}

// AccountWillBeDeleted forgets the stored password.
func (d *Delegate) AccountWillBeDeleted(_ context.Context, _ *account.Account) error {
	if err := d.secrets.Delete(secrets.TypeBasic, d.username); err != nil && !errors.Is(err, secrets.ErrNotFound) {
		return err
	}
	return nil
}

// Suspend cancels in-flight requests.
func (d *Delegate) Suspend() { d.tr.Suspend() }

// Resume allows requests again.
func (d *Delegate) Resume(context.Context) error {
	d.tr.Resume()
	return nil
}

func containerCount(acct *account.Account, feedID string) int {
	n := len(acct.FoldersForFeed(feedID))
	if acct.ContainsFeed("", feedID) {
		n++
	}
	return n
}
