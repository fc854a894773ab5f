// ABOUTME: Feed, folder and metadata value types of an account tree
// ABOUTME: Values returned to callers are copies; the tree owns the originals

package account

import (
	"maps"
	"time"
)

// Type identifies the sync service behind an account.
type Type string

const (
	TypeLocal     Type = "local"
	TypeFeedbin   Type = "feedbin"
	TypeFeedly    Type = "feedly"
	TypeReaderAPI Type = "readerapi"
)

// ParseType validates an account type name.
func ParseType(s string) (Type, bool) {
	switch t := Type(s); t {
	case TypeLocal, TypeFeedbin, TypeFeedly, TypeReaderAPI:
		return t, true
	}
	return "", false
}

// ConditionalGetInfo holds validators for a conditional GET.
type ConditionalGetInfo struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"lastModified,omitempty"`
}

// IsEmpty reports whether there is nothing to send.
func (c ConditionalGetInfo) IsEmpty() bool {
	return c.ETag == "" && c.LastModified == ""
}

// Feed is a subscription. FeedID is the service's identity for it.
type Feed struct {
	FeedID      string `json:"feedID"`
	URL         string `json:"url"`
	Name        string `json:"name,omitempty"`
	EditedName  string `json:"editedName,omitempty"`
	HomePageURL string `json:"homePageURL,omitempty"`
	ExternalID  string `json:"externalID,omitempty"`
	IconURL     string `json:"iconURL,omitempty"`

	// FolderRelationship maps a folder name to the remote id of the
	// feed-in-folder relationship, such as a Feedbin tagging id.
	FolderRelationship map[string]string `json:"folderRelationship,omitempty"`

	ConditionalGet ConditionalGetInfo `json:"conditionalGet,omitempty"`
}

// DisplayName prefers the user's edited name.
func (f Feed) DisplayName() string {
	if f.EditedName != "" {
		return f.EditedName
	}
	if f.Name != "" {
		return f.Name
	}
	return f.URL
}

func (f Feed) clone() Feed {
	f.FolderRelationship = maps.Clone(f.FolderRelationship)
	return f
}

// Folder groups feeds. Folders do not nest.
type Folder struct {
	ID         string
	Name       string
	ExternalID string
	FeedIDs    map[string]struct{}
}

// HasFeed reports whether the folder contains feedID.
func (f Folder) HasFeed(feedID string) bool {
	_, ok := f.FeedIDs[feedID]
	return ok
}

func (f Folder) clone() Folder {
	f.FeedIDs = maps.Clone(f.FeedIDs)
	if f.FeedIDs == nil {
		f.FeedIDs = make(map[string]struct{})
	}
	return f
}

// Metadata is per-account sync state persisted beside the tree.
type Metadata struct {
	// LastArticleFetchStartTime is the "newer than" cursor for the next refresh.
	LastArticleFetchStartTime *time.Time `json:"lastArticleFetchStartTime,omitempty"`
	LastArticleFetchEndTime   *time.Time `json:"lastArticleFetchEndTime,omitempty"`

	// ConditionalGetInfo is keyed by endpoint name.
	ConditionalGetInfo map[string]ConditionalGetInfo `json:"conditionalGetInfo,omitempty"`

	// ExternalID is the service's id for the user, such as a Feedly user id.
	ExternalID string `json:"externalID,omitempty"`
}

func (m Metadata) clone() Metadata {
	m.ConditionalGetInfo = maps.Clone(m.ConditionalGetInfo)
	return m
}
