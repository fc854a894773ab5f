// ABOUTME: Feed and folder tree operations keyed by id
// ABOUTME: Feeds live in one arena and containers hold feed id sets, so a feed can sit in several folders

package account

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ErrFeedNotFound is returned when a feed id is not in the tree.
var ErrFeedNotFound = errors.New("feed not found")

// ErrFolderNotFound is returned when a folder id is not in the tree.
var ErrFolderNotFound = errors.New("folder not found")

// Feed returns a copy of the feed with feedID.
func (a *Account) Feed(feedID string) (Feed, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.feeds[feedID]
	if !ok {
		return Feed{}, false
	}
	return f.clone(), true
}

// FeedByURL finds a feed by its subscription URL.
func (a *Account) FeedByURL(url string) (Feed, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if f, ok := a.feeds[a.lookup().feedsByURL[url]]; ok && url != "" {
		return f.clone(), true
	}
	return Feed{}, false
}

// FeedByExternalID finds a feed by its remote subscription id.
func (a *Account) FeedByExternalID(externalID string) (Feed, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if f, ok := a.feeds[a.lookup().feedsByExternalID[externalID]]; ok && externalID != "" {
		return f.clone(), true
	}
	return Feed{}, false
}

// Feeds returns every feed in the tree sorted by display name.
func (a *Account) Feeds() []Feed {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Feed, 0, len(a.feeds))
	for _, f := range a.feeds {
		out = append(out, f.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].DisplayName()) < strings.ToLower(out[j].DisplayName())
	})
	return out
}

// FeedIDs returns the ids of every feed in the tree.
func (a *Account) FeedIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.feeds))
	for id := range a.feeds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TopLevelFeedIDs returns the feeds that sit directly in the account.
func (a *Account) TopLevelFeedIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return sortedKeys(a.topLevel)
}

// Folder returns a copy of the folder with folderID.
func (a *Account) Folder(folderID string) (Folder, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.folders[folderID]
	if !ok {
		return Folder{}, false
	}
	return f.clone(), true
}

// FolderByName finds a folder by name.
func (a *Account) FolderByName(name string) (Folder, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if f := a.folderByName(name); f != nil {
		return f.clone(), true
	}
	return Folder{}, false
}

// FolderByExternalID finds a folder by its remote id.
func (a *Account) FolderByExternalID(externalID string) (Folder, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if f, ok := a.folders[a.lookup().foldersByExternalID[externalID]]; ok && externalID != "" {
		return f.clone(), true
	}
	return Folder{}, false
}

// Folders returns every folder sorted by name.
func (a *Account) Folders() []Folder {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Folder, 0, len(a.folders))
	for _, f := range a.folders {
		out = append(out, f.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

// FoldersForFeed returns the ids of the folders containing feedID.
func (a *Account) FoldersForFeed(feedID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var ids []string
	for id, f := range a.folders {
		if _, ok := f.FeedIDs[feedID]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ContainsFeed reports whether the container holds feedID. An empty
// folderID is the top level.
func (a *Account) ContainsFeed(folderID, feedID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	set, err := a.container(folderID)
	if err != nil {
		return false
	}
	_, ok := set[feedID]
	return ok
}

// AddFeed registers a feed in the arena, returning the existing copy when the
// account has already seen feedID. The feed is not placed in any container.
func (a *Account) AddFeed(f Feed) Feed {
	a.mu.Lock()
	defer a.mu.Unlock()
	if existing, ok := a.feeds[f.FeedID]; ok {
		return existing.clone()
	}
	f = f.clone()
	if f.FolderRelationship == nil {
		f.FolderRelationship = make(map[string]string)
	}
	a.feeds[f.FeedID] = &f
	a.feedMetaDirty = true
	a.index = nil
	a.markDirty(f.FeedID)
	return f.clone()
}

// UpdateFeed applies fn to the stored feed.
func (a *Account) UpdateFeed(feedID string, fn func(*Feed)) error {
	a.mu.Lock()
	f, ok := a.feeds[feedID]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrFeedNotFound, feedID)
	}
	before := f.DisplayName()
	fn(f)
	if f.FolderRelationship == nil {
		f.FolderRelationship = make(map[string]string)
	}
	a.feedMetaDirty = true
	a.index = nil
	var events []Event
	if f.DisplayName() != before {
		events = a.structureChanged()
	}
	a.mu.Unlock()
	a.emit(events...)
	return nil
}

// SetFeedRelationship records the remote id linking feedID to a folder name.
// An empty relationshipID removes the entry.
func (a *Account) SetFeedRelationship(feedID, folderName, relationshipID string) error {
	return a.UpdateFeed(feedID, func(f *Feed) {
		if f.FolderRelationship == nil {
			f.FolderRelationship = make(map[string]string)
		}
		if relationshipID == "" {
			delete(f.FolderRelationship, folderName)
			return
		}
		f.FolderRelationship[folderName] = relationshipID
	})
}

// AddFeedToFolder places a known feed into a container.
func (a *Account) AddFeedToFolder(feedID, folderID string) error {
	a.mu.Lock()
	if _, ok := a.feeds[feedID]; !ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrFeedNotFound, feedID)
	}
	set, err := a.container(folderID)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	if _, ok := set[feedID]; ok {
		a.mu.Unlock()
		return nil
	}
	set[feedID] = struct{}{}
	a.markDirty(feedID)
	events := a.structureChanged()
	a.mu.Unlock()
	a.emit(events...)
	return nil
}

// RemoveFeedFromFolder takes feedID out of a container. A feed left in no
// container is dropped from the account.
func (a *Account) RemoveFeedFromFolder(feedID, folderID string) error {
	a.mu.Lock()
	set, err := a.container(folderID)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	if _, ok := set[feedID]; !ok {
		a.mu.Unlock()
		return nil
	}
	delete(set, feedID)
	a.dropOrphan(feedID)
	events := a.structureChanged()
	a.mu.Unlock()
	a.emit(events...)
	return nil
}

// RemoveFeed removes feedID from every container and from the account.
func (a *Account) RemoveFeed(feedID string) {
	a.mu.Lock()
	if _, ok := a.feeds[feedID]; !ok {
		a.mu.Unlock()
		return
	}
	delete(a.topLevel, feedID)
	for _, f := range a.folders {
		delete(f.FeedIDs, feedID)
	}
	a.dropOrphan(feedID)
	events := a.structureChanged()
	a.mu.Unlock()
	a.emit(events...)
}

// CreateFolder returns the folder called name, creating it if needed.
func (a *Account) CreateFolder(name, externalID string) Folder {
	a.mu.Lock()
	if f := a.folderByName(name); f != nil {
		if externalID != "" && f.ExternalID != externalID {
			f.ExternalID = externalID
			a.feedMetaDirty = true
			a.index = nil
		}
		out := f.clone()
		a.mu.Unlock()
		return out
	}
	f := &Folder{ID: uuid.NewString(), Name: name, ExternalID: externalID, FeedIDs: make(map[string]struct{})}
	a.folders[f.ID] = f
	a.feedMetaDirty = true
	a.index = nil
	events := a.structureChanged()
	out := f.clone()
	a.mu.Unlock()
	a.emit(events...)
	return out
}

// RenameFolder renames a folder in place, keeping its id and feeds.
func (a *Account) RenameFolder(folderID, name string) error {
	a.mu.Lock()
	f, ok := a.folders[folderID]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrFolderNotFound, folderID)
	}
	if f.Name == name {
		a.mu.Unlock()
		return nil
	}
	old := f.Name
	f.Name = name
	a.index = nil
	for feedID := range f.FeedIDs {
		feed := a.feeds[feedID]
		if feed == nil {
			continue
		}
		if rel, ok := feed.FolderRelationship[old]; ok {
			delete(feed.FolderRelationship, old)
			feed.FolderRelationship[name] = rel
		}
	}
	a.feedMetaDirty = true
	events := a.structureChanged()
	a.mu.Unlock()
	a.emit(events...)
	return nil
}

// SetFolderExternalID records the remote id of a folder.
func (a *Account) SetFolderExternalID(folderID, externalID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.folders[folderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFolderNotFound, folderID)
	}
	f.ExternalID = externalID
	a.feedMetaDirty = true
	a.index = nil
	return nil
}

// RemoveFolder deletes a folder. Its feeds stay in the account only if
// another container still holds them.
func (a *Account) RemoveFolder(folderID string) error {
	a.mu.Lock()
	f, ok := a.folders[folderID]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrFolderNotFound, folderID)
	}
	delete(a.folders, folderID)
	a.index = nil
	for feedID := range f.FeedIDs {
		if feed, ok := a.feeds[feedID]; ok {
			delete(feed.FolderRelationship, f.Name)
		}
		a.dropOrphan(feedID)
	}
	a.feedMetaDirty = true
	events := a.structureChanged()
	a.mu.Unlock()
	a.emit(events...)
	return nil
}

// container must be called with mu held.
func (a *Account) container(folderID string) (map[string]struct{}, error) {
	if folderID == "" {
		return a.topLevel, nil
	}
	f, ok := a.folders[folderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFolderNotFound, folderID)
	}
	return f.FeedIDs, nil
}

func (a *Account) folderByName(name string) *Folder {
	return a.folders[a.lookup().foldersByName[name]]
}

// dropOrphan removes feedID from the arena when no container holds it.
func (a *Account) dropOrphan(feedID string) {
	if _, ok := a.topLevel[feedID]; ok {
		return
	}
	for _, f := range a.folders {
		if _, ok := f.FeedIDs[feedID]; ok {
			return
		}
	}
	delete(a.feeds, feedID)
	a.index = nil
	delete(a.unread, feedID)
	delete(a.unreadDirty, feedID)
	a.feedMetaDirty = true
}

// treeIndex maps lookup keys to feed and folder ids.
type treeIndex struct {
	feedsByURL          map[string]string
	feedsByExternalID   map[string]string
	foldersByName       map[string]string
	foldersByExternalID map[string]string
}

// lookup returns the tree indexes, rebuilding them after any change. It must
// be called with mu held. On duplicate keys the smallest id wins.
func (a *Account) lookup() *treeIndex {
	if a.index != nil {
		return a.index
	}
	idx := &treeIndex{
		feedsByURL:          make(map[string]string, len(a.feeds)),
		feedsByExternalID:   make(map[string]string, len(a.feeds)),
		foldersByName:       make(map[string]string, len(a.folders)),
		foldersByExternalID: make(map[string]string, len(a.folders)),
	}
	for id, f := range a.feeds {
		indexKey(idx.feedsByURL, f.URL, id)
		indexKey(idx.feedsByExternalID, f.ExternalID, id)
	}
	for id, f := range a.folders {
		indexKey(idx.foldersByName, f.Name, id)
		indexKey(idx.foldersByExternalID, f.ExternalID, id)
	}
	a.index = idx
	return idx
}

func indexKey(m map[string]string, key, id string) {
	if key == "" {
		return
	}
	if cur, ok := m[key]; ok && cur < id {
		return
	}
	m[key] = id
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
