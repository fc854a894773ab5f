// ABOUTME: Article model stored per account with immutable content fields
// ABOUTME: Articles are created and updated only through the store's merge operation

package models

import (
	"crypto/md5"
	"encoding/hex"
	"time"
)

// Article is a single stored item belonging to exactly one feed.
type Article struct {
	ArticleID      string
	FeedID         string
	UniqueID       string
	Title          string
	ContentHTML    string
	ContentText    string
	URL            string
	ExternalURL    string
	Summary        string
	ImageURL       string
	BannerImageURL string
	DatePublished  *time.Time
	DateModified   *time.Time
	Authors        []Author
	Attachments    []Attachment

	// Status is populated by fetches that join the statuses table.
	Status ArticleStatus
}

// Author is a person credited on an article.
type Author struct {
	AuthorID     string
	Name         string
	URL          string
	AvatarURL    string
	EmailAddress string
}

// Attachment is an enclosure such as a podcast episode.
type Attachment struct {
	AttachmentID      string
	URL               string
	MimeType          string
	Title             string
	SizeInBytes       int64
	DurationInSeconds int64
}

// ArticleChanges is the result of a merge.
type ArticleChanges struct {
	New     []Article
	Updated []Article
}

// IsEmpty reports whether a merge produced nothing worth notifying about.
func (c ArticleChanges) IsEmpty() bool {
	return len(c.New) == 0 && len(c.Updated) == 0
}

// ArticleIDs returns the ids of every new and updated article.
func (c ArticleChanges) ArticleIDs() []string {
	ids := make([]string, 0, len(c.New)+len(c.Updated))
	for _, a := range c.New {
		ids = append(ids, a.ArticleID)
	}
	for _, a := range c.Updated {
		ids = append(ids, a.ArticleID)
	}
	return ids
}

// FeedIDs returns the distinct feeds touched by the merge.
func (c ArticleChanges) FeedIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, list := range [][]Article{c.New, c.Updated} {
		for _, a := range list {
			if _, ok := seen[a.FeedID]; ok {
				continue
			}
			seen[a.FeedID] = struct{}{}
			ids = append(ids, a.FeedID)
		}
	}
	return ids
}

// ArticleIDFor derives a stable article id from a feed and the item's unique id.
func ArticleIDFor(feedID, uniqueID string) string {
	sum := md5.Sum([]byte(feedID + " " + uniqueID))
	return hex.EncodeToString(sum[:])
}

// AuthorIDFor derives a stable author id from the author's identifying fields.
func AuthorIDFor(a Author) string {
	sum := md5.Sum([]byte(a.Name + "|" + a.URL + "|" + a.EmailAddress))
	return hex.EncodeToString(sum[:])
}

// AttachmentIDFor derives a stable attachment id scoped to one article.
func AttachmentIDFor(articleID string, a Attachment) string {
	sum := md5.Sum([]byte(articleID + "|" + a.URL))
	return hex.EncodeToString(sum[:])
}
