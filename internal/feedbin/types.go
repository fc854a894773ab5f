// ABOUTME: Feedbin v2 API JSON structures
// ABOUTME: Entries convert to ParsedItems keyed by the Feedbin entry id

package feedbin

import (
	"strconv"
	"time"

	"github.com/harper/feedsync/internal/models"
)

// Subscription is one row of subscriptions.json in extended mode.
type Subscription struct {
	ID       int       `json:"id"`
	FeedID   int       `json:"feed_id"`
	Title    string    `json:"title"`
	FeedURL  string    `json:"feed_url"`
	SiteURL  string    `json:"site_url"`
	Created  time.Time `json:"created_at"`
	JSONFeed *jsonFeed `json:"json_feed,omitempty"`
}

type jsonFeed struct {
	Icon    string `json:"icon"`
	Favicon string `json:"favicon"`
}

// IconURL returns the feed's icon when the extended response has one.
func (s Subscription) IconURL() string {
	if s.JSONFeed == nil {
		return ""
	}
	if s.JSONFeed.Icon != "" {
		return s.JSONFeed.Icon
	}
	return s.JSONFeed.Favicon
}

// SubscriptionChoice is one candidate returned with a 300 response.
type SubscriptionChoice struct {
	FeedURL string `json:"feed_url"`
	Title   string `json:"title"`
}

// Tag is a Feedbin tag, which the account shows as a folder.
type Tag struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Tagging places a feed under a tag.
type Tagging struct {
	ID     int    `json:"id"`
	FeedID int    `json:"feed_id"`
	Name   string `json:"name"`
}

// ImportResult reports the progress of an OPML import.
type ImportResult struct {
	ID       int  `json:"id"`
	Complete bool `json:"complete"`
}

// Entry is one article.
type Entry struct {
	ID                  int        `json:"id"`
	FeedID              int        `json:"feed_id"`
	Title               string     `json:"title"`
	URL                 string     `json:"url"`
	ExtractedContentURL string     `json:"extracted_content_url"`
	Author              string     `json:"author"`
	Content             string     `json:"content"`
	Summary             string     `json:"summary"`
	Published           *time.Time `json:"published"`
	Created             *time.Time `json:"created_at"`
	Images              *images    `json:"images,omitempty"`
	Enclosure           *enclosure `json:"enclosure,omitempty"`
}

type images struct {
	OriginalURL string `json:"original_url"`
	Size1       struct {
		CDNURL string `json:"cdn_url"`
	} `json:"size_1"`
}

type enclosure struct {
	URL      string `json:"enclosure_url"`
	Type     string `json:"enclosure_type"`
	Length   string `json:"enclosure_length"`
	Duration string `json:"itunes_duration"`
}

// FeedKey returns the local feed id of the entry's feed.
func (e Entry) FeedKey() string {
	return strconv.Itoa(e.FeedID)
}

// ParsedItem converts the entry.
func (e Entry) ParsedItem() models.ParsedItem {
	id := strconv.Itoa(e.ID)
	pi := models.ParsedItem{
		SyncServiceID: id,
		UniqueID:      id,
		FeedURL:       e.FeedKey(),
		URL:           e.URL,
		Title:         e.Title,
		ContentHTML:   e.Content,
		Summary:       e.Summary,
		DatePublished: e.Published,
	}
	if pi.DatePublished == nil {
		pi.DatePublished = e.Created
	}
	if e.Author != "" {
		pi.Authors = []models.ParsedAuthor{{Name: e.Author}}
	}
	if e.Images != nil {
		pi.ImageURL = e.Images.OriginalURL
		pi.BannerImageURL = e.Images.Size1.CDNURL
	}
	if e.Enclosure != nil && e.Enclosure.URL != "" {
		att := models.ParsedAttachment{URL: e.Enclosure.URL, MimeType: e.Enclosure.Type}
		if n, err := strconv.ParseInt(e.Enclosure.Length, 10, 64); err == nil {
			att.SizeInBytes = n
		}
		if n, err := strconv.ParseInt(e.Enclosure.Duration, 10, 64); err == nil {
			att.DurationInSeconds = n
		}
		pi.Attachments = []models.ParsedAttachment{att}
	}
	return pi
}

type unreadEntries struct {
	UnreadEntries []int `json:"unread_entries"`
}

type starredEntries struct {
	StarredEntries []int `json:"starred_entries"`
}

type createSubscription struct {
	FeedURL string `json:"feed_url"`
}

type updateSubscription struct {
	Title string `json:"title"`
}

type createTagging struct {
	FeedID int    `json:"feed_id"`
	Name   string `json:"name"`
}

type renameTag struct {
	OldName string `json:"old_name"`
	NewName string `json:"new_name"`
}
