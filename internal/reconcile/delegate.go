// ABOUTME: The contract every sync adapter implements plus tree mirroring shared by remote adapters
// ABOUTME: Mirroring maps remote folders and subscriptions onto the local account tree

package reconcile

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/harper/feedsync/internal/account"
	"github.com/harper/feedsync/internal/models"
	"github.com/harper/feedsync/internal/opml"
)

// Delegate talks to one sync service on behalf of an account.
// An empty folderID always means the account's top level.
type Delegate interface {
	RefreshAll(ctx context.Context, acct *account.Account) error
	SendPendingStatuses(ctx context.Context, acct *account.Account) error
	RefreshRemoteStatuses(ctx context.Context, acct *account.Account) error
	ImportBulkSubscriptions(ctx context.Context, acct *account.Account, doc *opml.Document) error

	CreateFolder(ctx context.Context, acct *account.Account, name string) (*account.Folder, error)
	RenameFolder(ctx context.Context, acct *account.Account, folderID, name string) error
	RemoveFolder(ctx context.Context, acct *account.Account, folderID string) error

	CreateFeed(ctx context.Context, acct *account.Account, url, name, folderID string) (*account.Feed, error)
	RenameFeed(ctx context.Context, acct *account.Account, feedID, name string) error
	AddFeed(ctx context.Context, acct *account.Account, feedID, folderID string) error
	RemoveFeed(ctx context.Context, acct *account.Account, feedID, folderID string) error
	MoveFeed(ctx context.Context, acct *account.Account, feedID, fromFolderID, toFolderID string) error

	MarkArticles(ctx context.Context, acct *account.Account, articleIDs []string, key models.StatusKey, flag bool) error

	AccountInitialized(acct *account.Account) error
	AccountWillBeDeleted(ctx context.Context, acct *account.Account) error

	Suspend()
	Resume(ctx context.Context) error
}

// RemoteFolder is a collection, tag or label as the service reports it.
type RemoteFolder struct {
	ExternalID string
	Name       string
}

// Membership places a remote feed in a folder. An empty FolderExternalID is
// the top level. RelationshipID is the service's id for the placement, if any.
type Membership struct {
	FolderExternalID string
	RelationshipID   string
}

// RemoteFeed is a subscription as the service reports it.
type RemoteFeed struct {
	FeedID      string
	URL         string
	Name        string
	HomePageURL string
	IconURL     string
	ExternalID  string
	Memberships []Membership
}

// MirrorFolders makes the local folders match remote. A folder whose external
// id survives keeps its local id even if renamed. Local folders with no remote
// match are deleted, and feeds they alone held move to the top level. It
// reports whether any remote folder was new locally.
func MirrorFolders(acct *account.Account, remote []RemoteFolder) (created bool, err error) {
	err = acct.BatchUpdate(func() error {
		keep := make(map[string]struct{}, len(remote))
		for _, rf := range remote {
			if f, ok := acct.FolderByExternalID(rf.ExternalID); ok {
				if f.Name != rf.Name {
					if err := acct.RenameFolder(f.ID, rf.Name); err != nil {
						return err
					}
				}
				keep[f.ID] = struct{}{}
				continue
			}
			if f, ok := acct.FolderByName(rf.Name); ok {
				if err := acct.SetFolderExternalID(f.ID, rf.ExternalID); err != nil {
					return err
				}
				keep[f.ID] = struct{}{}
				continue
			}
			f := acct.CreateFolder(rf.Name, rf.ExternalID)
			keep[f.ID] = struct{}{}
			created = true
		}
		for _, f := range acct.Folders() {
			if _, ok := keep[f.ID]; ok {
				continue
			}
			// Feeds held only by this folder move to the top level so their
			// local settings survive until MirrorFeeds places them.
			for feedID := range f.FeedIDs {
				if len(acct.FoldersForFeed(feedID)) > 1 || acct.ContainsFeed("", feedID) {
					continue
				}
				if err := acct.AddFeedToFolder(feedID, ""); err != nil {
					return err
				}
			}
			if err := acct.RemoveFolder(f.ID); err != nil {
				return err
			}
		}
		return nil
	})
	return created, err
}

// MirrorFeeds makes the local feeds and their placements match remote.
// Titles are only updated for feeds the user has not renamed locally.
// Memberships naming an unknown folder are ignored. A feed with no usable
// membership lands at the top level.
func MirrorFeeds(acct *account.Account, remote []RemoteFeed) error {
	return acct.BatchUpdate(func() error {
		seen := make(map[string]struct{}, len(remote))
		for _, rf := range remote {
			seen[rf.FeedID] = struct{}{}
			if err := mirrorFeed(acct, rf); err != nil {
				return err
			}
		}
		for _, id := range acct.FeedIDs() {
			if _, ok := seen[id]; !ok {
				acct.RemoveFeed(id)
			}
		}
		return nil
	})
}

func mirrorFeed(acct *account.Account, rf RemoteFeed) error {
	acct.AddFeed(account.Feed{
		FeedID:      rf.FeedID,
		URL:         rf.URL,
		Name:        rf.Name,
		HomePageURL: rf.HomePageURL,
		IconURL:     rf.IconURL,
		ExternalID:  rf.ExternalID,
	})
	err := acct.UpdateFeed(rf.FeedID, func(f *account.Feed) {
		if f.EditedName == "" && rf.Name != "" {
			f.Name = rf.Name
		}
		if rf.URL != "" {
			f.URL = rf.URL
		}
		if rf.HomePageURL != "" {
			f.HomePageURL = rf.HomePageURL
		}
		if rf.IconURL != "" {
			f.IconURL = rf.IconURL
		}
		if rf.ExternalID != "" {
			f.ExternalID = rf.ExternalID
		}
	})
	if err != nil {
		return err
	}

	want := make(map[string]struct{})
	relationships := make(map[string]string)
	for _, m := range rf.Memberships {
		if m.FolderExternalID == "" {
			want[""] = struct{}{}
			continue
		}
		f, ok := acct.FolderByExternalID(m.FolderExternalID)
		if !ok {
			continue
		}
		want[f.ID] = struct{}{}
		if m.RelationshipID != "" {
			relationships[f.Name] = m.RelationshipID
		}
	}
	if len(want) == 0 {
		want[""] = struct{}{}
	}

	// Add before removing so the feed is never briefly orphaned.
	for _, folderID := range sortedSet(want) {
		if err := acct.AddFeedToFolder(rf.FeedID, folderID); err != nil {
			return err
		}
	}
	for name, rel := range relationships {
		if err := acct.SetFeedRelationship(rf.FeedID, name, rel); err != nil {
			return err
		}
	}
	current := acct.FoldersForFeed(rf.FeedID)
	if acct.ContainsFeed("", rf.FeedID) {
		current = append(current, "")
	}
	for _, folderID := range current {
		if _, ok := want[folderID]; ok {
			continue
		}
		if f, ok := acct.Folder(folderID); ok {
			if err := acct.SetFeedRelationship(rf.FeedID, f.Name, ""); err != nil {
				return err
			}
		}
		if err := acct.RemoveFeedFromFolder(rf.FeedID, folderID); err != nil {
			return err
		}
	}
	return nil
}

// FetchSince returns the start of the last fully successful refresh, or the
// initial window before now when there is none.
func FetchSince(acct *account.Account, now time.Time) time.Time {
	if start := acct.Metadata().LastArticleFetchStartTime; start != nil {
		return *start
	}
	return now.AddDate(0, -3, 0)
}

// FinishRefresh ends a refresh that began at start. The fetch cursor only
// moves when err is nil. Unread counts are recomputed and the tree saved
// either way. The returned error is err wrapped for the account.
func FinishRefresh(ctx context.Context, acct *account.Account, start, end time.Time, err error) error {
	errs := []error{err}
	if err == nil {
		acct.SetLastArticleFetch(start, end)
	}
	errs = append(errs, acct.RecomputeUnreadCounts(ctx), acct.Save())
	return WrapAccount(acct.ID(), acct.Name(), errors.Join(errs...))
}

// ArticlesToFetch returns the retained ids with no stored body plus extra,
// deduplicated and sorted.
func ArticlesToFetch(ctx context.Context, acct *account.Account, extra []string) ([]string, error) {
	missing, err := acct.Store().MissingArticleIDs(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range extra {
		missing[id] = struct{}{}
	}
	return sortedSet(missing), nil
}

// Chunk splits items into slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for len(items) > 0 {
		n := min(size, len(items))
		out = append(out, items[:n])
		items = items[n:]
	}
	return out
}

// SortedIDs returns the members of an id set in order.
func SortedIDs(set map[string]struct{}) []string {
	return sortedSet(set)
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
