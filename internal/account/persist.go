// ABOUTME: Loads and saves the account tree as OPML plus JSON metadata sidecars
// ABOUTME: Each file is written only when something it holds has changed

package account

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/harper/feedsync/internal/fsutil"
	"github.com/harper/feedsync/internal/opml"
)

type folderMeta struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ExternalID string `json:"externalID,omitempty"`
}

type feedMetadataDoc struct {
	Feeds   []Feed       `json:"feeds"`
	Folders []folderMeta `json:"folders"`
}

func (a *Account) load() error {
	var meta feedMetadataDoc
	if err := readJSON(filepath.Join(a.dataDir, feedMetadataFile), &meta); err != nil {
		return err
	}
	if err := readJSON(filepath.Join(a.dataDir, accountMetaFile), &a.metadata); err != nil {
		return err
	}

	known := make(map[string]Feed, len(meta.Feeds))
	for _, f := range meta.Feeds {
		known[f.URL] = f
	}
	folderIDs := make(map[string]folderMeta, len(meta.Folders))
	for _, f := range meta.Folders {
		folderIDs[f.Name] = f
	}

	doc, err := opml.ParseFile(filepath.Join(a.dataDir, subscriptionsFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, name := range doc.Folders() {
		fm, ok := folderIDs[name]
		if !ok {
			fm = folderMeta{ID: uuid.NewString(), Name: name}
		}
		a.folders[fm.ID] = &Folder{ID: fm.ID, Name: name, ExternalID: fm.ExternalID, FeedIDs: make(map[string]struct{})}
	}
	byName := make(map[string]*Folder, len(a.folders))
	for _, f := range a.folders {
		byName[f.Name] = f
	}

	for _, placement := range doc.AllFeeds() {
		f, ok := known[placement.URL]
		if !ok {
			f = Feed{FeedID: placement.URL, URL: placement.URL, Name: placement.Title, HomePageURL: placement.HTMLURL}
		}
		if _, exists := a.feeds[f.FeedID]; !exists {
			f = f.clone()
			if f.FolderRelationship == nil {
				f.FolderRelationship = make(map[string]string)
			}
			a.feeds[f.FeedID] = &f
			a.markDirty(f.FeedID)
		}
		if placement.Folder == "" {
			a.topLevel[f.FeedID] = struct{}{}
			continue
		}
		if folder, ok := byName[placement.Folder]; ok {
			folder.FeedIDs[f.FeedID] = struct{}{}
		}
	}
	return nil
}

// Save writes whatever has changed since the last save.
func (a *Account) Save() error {
	a.mu.Lock()
	var (
		doc      *opml.Document
		feedMeta *feedMetadataDoc
		meta     *Metadata
	)
	if a.treeDirty {
		doc = a.opmlLocked()
	}
	if a.feedMetaDirty || a.treeDirty {
		feedMeta = a.feedMetadataLocked()
	}
	if a.metaDirty {
		m := a.metadata.clone()
		meta = &m
	}
	a.treeDirty, a.feedMetaDirty, a.metaDirty = false, false, false
	a.mu.Unlock()

	var errs []error
	if doc != nil {
		if err := doc.WriteFile(filepath.Join(a.dataDir, subscriptionsFile)); err != nil {
			errs = append(errs, fmt.Errorf("save subscriptions: %w", err))
		}
	}
	if feedMeta != nil {
		if err := writeJSON(filepath.Join(a.dataDir, feedMetadataFile), feedMeta); err != nil {
			errs = append(errs, fmt.Errorf("save feed metadata: %w", err))
		}
	}
	if meta != nil {
		if err := writeJSON(filepath.Join(a.dataDir, accountMetaFile), meta); err != nil {
			errs = append(errs, fmt.Errorf("save account metadata: %w", err))
		}
	}
	if len(errs) > 0 {
		a.mu.Lock()
		a.treeDirty = a.treeDirty || doc != nil
		a.feedMetaDirty = a.feedMetaDirty || feedMeta != nil
		a.metaDirty = a.metaDirty || meta != nil
		a.mu.Unlock()
	}
	return errors.Join(errs...)
}

// OPML exports the tree as a subscription list.
func (a *Account) OPML() *opml.Document {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.opmlLocked()
}

func (a *Account) opmlLocked() *opml.Document {
	doc := opml.NewDocument(a.name)
	for _, id := range sortedKeys(a.topLevel) {
		f := a.feeds[id]
		doc.AddFeed(opml.Feed{URL: f.URL, Title: f.DisplayName(), HTMLURL: f.HomePageURL})
	}

	folders := make([]*Folder, 0, len(a.folders))
	for _, f := range a.folders {
		folders = append(folders, f)
	}
	sort.Slice(folders, func(i, j int) bool { return folders[i].Name < folders[j].Name })
	for _, folder := range folders {
		doc.AddFolder(folder.Name)
		for _, id := range sortedKeys(folder.FeedIDs) {
			f := a.feeds[id]
			doc.AddFeed(opml.Feed{URL: f.URL, Title: f.DisplayName(), HTMLURL: f.HomePageURL, Folder: folder.Name})
		}
	}
	return doc
}

func (a *Account) feedMetadataLocked() *feedMetadataDoc {
	out := &feedMetadataDoc{}
	for _, id := range sortedFeedIDs(a.feeds) {
		out.Feeds = append(out.Feeds, a.feeds[id].clone())
	}
	for _, f := range a.folders {
		out.Folders = append(out.Folders, folderMeta{ID: f.ID, Name: f.Name, ExternalID: f.ExternalID})
	}
	sort.Slice(out.Folders, func(i, j int) bool { return out.Folders[i].Name < out.Folders[j].Name })
	return out
}

func sortedFeedIDs(feeds map[string]*Feed) []string {
	ids := make([]string, 0, len(feeds))
	for id := range feeds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Metadata returns a copy of the account's sync metadata.
func (a *Account) Metadata() Metadata {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metadata.clone()
}

// SetLastArticleFetch records a fully successful refresh window.
func (a *Account) SetLastArticleFetch(start, end time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	start, end = start.UTC(), end.UTC()
	a.metadata.LastArticleFetchStartTime = &start
	a.metadata.LastArticleFetchEndTime = &end
	a.metaDirty = true
}

// ConditionalGet returns the validators stored for an endpoint.
func (a *Account) ConditionalGet(key string) ConditionalGetInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metadata.ConditionalGetInfo[key]
}

// SetConditionalGet stores validators for an endpoint. Empty info clears them.
func (a *Account) SetConditionalGet(key string, info ConditionalGetInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if info.IsEmpty() {
		if _, ok := a.metadata.ConditionalGetInfo[key]; !ok {
			return
		}
		delete(a.metadata.ConditionalGetInfo, key)
	} else {
		if a.metadata.ConditionalGetInfo == nil {
			a.metadata.ConditionalGetInfo = make(map[string]ConditionalGetInfo)
		}
		a.metadata.ConditionalGetInfo[key] = info
	}
	a.metaDirty = true
}

// SetExternalID records the service's id for the user.
func (a *Account) SetExternalID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.metadata.ExternalID != id {
		a.metadata.ExternalID = id
		a.metaDirty = true
	}
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFile(path, data, 0644)
}
