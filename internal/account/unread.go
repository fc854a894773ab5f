// ABOUTME: Cached unread counts for feeds, folders and the account
// ABOUTME: Dirty feeds are recomputed with one aggregate query on the next read

package account

import (
	"context"
	"sort"
)

// MarkUnreadDirty schedules the given feeds for recount.
func (a *Account) MarkUnreadDirty(feedIDs ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range feedIDs {
		if _, ok := a.feeds[id]; ok {
			a.markDirty(id)
		}
	}
}

// markDirty must be called with mu held.
func (a *Account) markDirty(feedID string) {
	a.unreadSeq++
	a.unreadDirty[feedID] = a.unreadSeq
}

// UnreadCountForFeed returns the unread count of one feed.
func (a *Account) UnreadCountForFeed(ctx context.Context, feedID string) (int, error) {
	if err := a.refreshDirtyUnread(ctx); err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unread[feedID], nil
}

// UnreadCountForFolder returns the sum of the folder's feeds' unread counts.
func (a *Account) UnreadCountForFolder(ctx context.Context, folderID string) (int, error) {
	if err := a.refreshDirtyUnread(ctx); err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.folders[folderID]
	if !ok {
		return 0, ErrFolderNotFound
	}
	return a.sumUnread(f.FeedIDs), nil
}

// UnreadCount returns the sum over folders plus the top-level feeds.
// A feed in two folders counts once per folder.
func (a *Account) UnreadCount(ctx context.Context) (int, error) {
	if err := a.refreshDirtyUnread(ctx); err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	total := a.sumUnread(a.topLevel)
	for _, f := range a.folders {
		total += a.sumUnread(f.FeedIDs)
	}
	return total, nil
}

// sumUnread must be called with mu held.
func (a *Account) sumUnread(feedIDs map[string]struct{}) int {
	n := 0
	for id := range feedIDs {
		n += a.unread[id]
	}
	return n
}

// RecomputeUnreadCounts recounts every feed with one query.
func (a *Account) RecomputeUnreadCounts(ctx context.Context) error {
	a.mu.Lock()
	seen := make(map[string]uint64, len(a.unreadDirty))
	for id, seq := range a.unreadDirty {
		seen[id] = seq
	}
	a.mu.Unlock()

	counts, err := a.store.AllUnreadCounts(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	ids := make([]string, 0, len(a.feeds))
	for id := range a.feeds {
		ids = append(ids, id)
	}
	changed := a.applyUnread(ids, counts, seen)
	a.mu.Unlock()
	if len(changed) > 0 {
		a.emit(UnreadCountsChanged{FeedIDs: changed})
	}
	return nil
}

func (a *Account) refreshDirtyUnread(ctx context.Context) error {
	a.mu.Lock()
	seen := make(map[string]uint64, len(a.unreadDirty))
	dirty := make([]string, 0, len(a.unreadDirty))
	for id, seq := range a.unreadDirty {
		seen[id] = seq
		dirty = append(dirty, id)
	}
	a.mu.Unlock()
	if len(dirty) == 0 {
		return nil
	}

	counts, err := a.store.UnreadCounts(ctx, dirty)
	if err != nil {
		return err
	}

	a.mu.Lock()
	changed := a.applyUnread(dirty, counts, seen)
	a.mu.Unlock()
	if len(changed) > 0 {
		a.emit(UnreadCountsChanged{FeedIDs: changed})
	}
	return nil
}

// applyUnread must be called with mu held. A feed marked dirty again after
// seen was taken stays dirty. It returns the feeds whose count moved.
func (a *Account) applyUnread(feedIDs []string, counts map[string]int, seen map[string]uint64) []string {
	var changed []string
	for _, id := range feedIDs {
		if seq, ok := a.unreadDirty[id]; ok && seq == seen[id] {
			delete(a.unreadDirty, id)
		}
		if _, ok := a.feeds[id]; !ok {
			continue
		}
		n := counts[id]
		if old, ok := a.unread[id]; !ok || old != n {
			a.unread[id] = n
			changed = append(changed, id)
		}
	}
	sort.Strings(changed)
	return changed
}
