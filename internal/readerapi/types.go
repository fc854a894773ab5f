// ABOUTME: Google Reader API response structures and item id conversions
// ABOUTME: Entries are converted into ParsedItems keyed by their decimal item id

package readerapi

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/harper/feedsync/internal/models"
)

const (
	stateRead         = "user/-/state/com.google/read"
	stateStarred      = "user/-/state/com.google/starred"
	streamReadingList = "user/-/state/com.google/reading-list"
	labelPrefix       = "user/-/label/"
	longItemPrefix    = "tag:google.com,2005:reader/item/"
)

// Tag is a label or state from tag/list.
type Tag struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
}

type tagList struct {
	Tags []Tag `json:"tags"`
}

// Category is a label attached to a subscription.
type Category struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Subscription is one feed from subscription/list.
type Subscription struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Categories []Category `json:"categories"`
	URL        string     `json:"url"`
	HTMLURL    string     `json:"htmlUrl"`
	IconURL    string     `json:"iconUrl"`
}

type subscriptionList struct {
	Subscriptions []Subscription `json:"subscriptions"`
}

type itemRef struct {
	ID string `json:"id"`
}

type itemRefs struct {
	ItemRefs     []itemRef `json:"itemRefs"`
	Continuation string    `json:"continuation"`
}

type quickAddResult struct {
	NumResults int    `json:"numResults"`
	Query      string `json:"query"`
	StreamID   string `json:"streamId"`
}

// Link is a canonical or alternate URL on an entry.
type Link struct {
	Href string `json:"href"`
	Type string `json:"type,omitempty"`
}

// Content holds an entry's HTML.
type Content struct {
	Direction string `json:"direction"`
	Content   string `json:"content"`
}

// Origin names the feed an entry came from.
type Origin struct {
	StreamID string `json:"streamId"`
	Title    string `json:"title"`
	HTMLURL  string `json:"htmlUrl"`
}

// Entry is one item from stream/items/contents.
type Entry struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Author        string   `json:"author"`
	Published     int64    `json:"published"`
	Updated       int64    `json:"updated"`
	CrawlTimeMsec string   `json:"crawlTimeMsec"`
	Categories    []string `json:"categories"`
	Canonical     []Link   `json:"canonical"`
	Alternate     []Link   `json:"alternate"`
	Summary       Content  `json:"summary"`
	Content       Content  `json:"content"`
	Origin        Origin   `json:"origin"`
}

type entryList struct {
	Items []Entry `json:"items"`
}

// ParsedItem converts the entry. The item id is stored in decimal form.
func (e Entry) ParsedItem() (models.ParsedItem, error) {
	id, err := ShortItemID(e.ID)
	if err != nil {
		return models.ParsedItem{}, err
	}
	pi := models.ParsedItem{
		SyncServiceID: id,
		UniqueID:      id,
		FeedURL:       e.Origin.StreamID,
		Title:         e.Title,
		ContentHTML:   e.Content.Content,
	}
	if pi.ContentHTML == "" {
		pi.ContentHTML = e.Summary.Content
	} else if e.Summary.Content != pi.ContentHTML {
		pi.Summary = e.Summary.Content
	}
	if len(e.Canonical) > 0 {
		pi.URL = e.Canonical[0].Href
	}
	if len(e.Alternate) > 0 {
		pi.ExternalURL = e.Alternate[0].Href
	}
	if e.Published > 0 {
		t := time.Unix(e.Published, 0).UTC()
		pi.DatePublished = &t
	}
	if e.Updated > 0 && e.Updated != e.Published {
		t := time.Unix(e.Updated, 0).UTC()
		pi.DateModified = &t
	}
	if e.Author != "" {
		pi.Authors = []models.ParsedAuthor{{Name: e.Author}}
	}
	return pi, nil
}

// ShortItemID converts a long hex item id to decimal. Decimal ids pass through.
func ShortItemID(id string) (string, error) {
	if hex, ok := strings.CutPrefix(id, longItemPrefix); ok {
		n, err := strconv.ParseUint(hex, 16, 64)
		if err != nil {
			return "", fmt.Errorf("parse item id %q: %w", id, err)
		}
		return strconv.FormatUint(n, 10), nil
	}
	if _, err := strconv.ParseUint(id, 10, 64); err != nil {
		return "", fmt.Errorf("parse item id %q: %w", id, err)
	}
	return id, nil
}

// LongItemID converts a decimal item id to the long hex form.
func LongItemID(id string) (string, error) {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return "", fmt.Errorf("parse item id %q: %w", id, err)
	}
	return fmt.Sprintf(longItemPrefix+"%016x", n), nil
}

// LabelID returns the tag id for a folder name.
func LabelID(name string) string {
	return labelPrefix + name
}

// LabelName returns the folder name in a tag id, or "" when it is not a label.
func LabelName(tagID string) string {
	i := strings.Index(tagID, "/label/")
	if i < 0 {
		return ""
	}
	return tagID[i+len("/label/"):]
}
