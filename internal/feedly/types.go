// ABOUTME: Feedly v3 cloud API JSON structures and resource id helpers
// ABOUTME: Collections are folders and "feed/<url>" resource ids are feed ids

package feedly

import (
	"strings"
	"time"

	"github.com/harper/feedsync/internal/models"
	"github.com/harper/feedsync/internal/reconcile"
)

const feedPrefix = "feed/"

// Marker actions for /v3/markers.
const (
	actionRead    = "markAsRead"
	actionUnread  = "keepUnread"
	actionSaved   = "markAsSaved"
	actionUnsaved = "markAsUnsaved"
)

// AllStream is the stream of every article in the user's subscriptions.
func AllStream(userID string) string { return "user/" + userID + "/category/global.all" }

// SavedStream is the stream of saved (starred) articles.
func SavedStream(userID string) string { return "user/" + userID + "/tag/global.saved" }

// FeedResourceID returns the resource id Feedly uses for a feed URL.
func FeedResourceID(feedURL string) string { return feedPrefix + feedURL }

// FeedURL strips the resource prefix from a feed id. Ids without the prefix
// are returned unchanged.
func FeedURL(id string) string {
	if u, ok := strings.CutPrefix(id, feedPrefix); ok {
		return u
	}
	return id
}

// Profile is the subset of /v3/profile used to find the user id.
type Profile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Collection is a personal category holding feeds.
type Collection struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Feeds []Feed `json:"feeds"`
}

// Feed is a subscription as listed inside a collection.
type Feed struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Website string `json:"website"`
	IconURL string `json:"iconUrl"`
	Updated int64  `json:"updated"`
}

// Link is an href with an optional media type.
type Link struct {
	Href string `json:"href"`
	Type string `json:"type"`
}

// Content is an HTML block with its text direction.
type Content struct {
	Content   string `json:"content"`
	Direction string `json:"direction"`
}

// Origin names the feed an entry was crawled from.
type Origin struct {
	Title    string `json:"title"`
	StreamID string `json:"streamId"`
	HTMLURL  string `json:"htmlUrl"`
}

// Tag is a user tag applied to an entry.
type Tag struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Entry is one article. Times are milliseconds since the epoch.
type Entry struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Content   *Content `json:"content,omitempty"`
	Summary   *Content `json:"summary,omitempty"`
	Author    string   `json:"author"`
	Crawled   int64    `json:"crawled"`
	Recrawled int64    `json:"recrawled"`
	Published int64    `json:"published"`
	Origin    *Origin  `json:"origin,omitempty"`
	Canonical []Link   `json:"canonical"`
	Alternate []Link   `json:"alternate"`
	Unread    bool     `json:"unread"`
	Tags      []Tag    `json:"tags"`
	Enclosure []Link   `json:"enclosure"`
	Visual    *struct {
		URL string `json:"url"`
	} `json:"visual,omitempty"`
}

// ParsedItem converts the entry. An entry with no origin cannot be placed in
// a feed and is rejected.
func (e Entry) ParsedItem() (models.ParsedItem, error) {
	if e.Origin == nil || e.Origin.StreamID == "" {
		return models.ParsedItem{}, &reconcile.ProtocolError{Field: "origin.streamId"}
	}
	pi := models.ParsedItem{
		SyncServiceID: e.ID,
		UniqueID:      e.ID,
		FeedURL:       e.Origin.StreamID,
		ExternalURL:   webPageLink(e.Canonical, e.Alternate),
		Title:         stripRTL(e.Title),
	}
	if e.Content != nil {
		pi.ContentHTML = e.Content.Content
	}
	if e.Summary != nil {
		pi.Summary = stripRTL(e.Summary.Content)
		if pi.ContentHTML == "" {
			pi.ContentHTML = e.Summary.Content
		}
	}
	published := e.Published
	if published == 0 {
		published = e.Crawled
	}
	if published > 0 {
		t := time.UnixMilli(published).UTC()
		pi.DatePublished = &t
	}
	if e.Recrawled > 0 {
		t := time.UnixMilli(e.Recrawled).UTC()
		pi.DateModified = &t
	}
	if e.Author != "" {
		pi.Authors = []models.ParsedAuthor{{Name: e.Author}}
	}
	if e.Visual != nil && e.Visual.URL != "" && e.Visual.URL != "none" {
		pi.ImageURL = e.Visual.URL
	}
	for _, l := range e.Enclosure {
		if l.Href != "" {
			pi.Attachments = append(pi.Attachments, models.ParsedAttachment{URL: l.Href, MimeType: l.Type})
		}
	}
	return pi, nil
}

// webPageLink picks the first canonical or alternate link that is a web page.
func webPageLink(groups ...[]Link) string {
	for _, links := range groups {
		for _, l := range links {
			if l.Type == "" || l.Type == "text/html" {
				return l.Href
			}
		}
	}
	return ""
}

const (
	rtlPrefix = `<div style="direction:rtl;text-align:right">`
	rtlSuffix = `</div>`
)

// stripRTL removes the wrapper Feedly puts around right-to-left text.
func stripRTL(s string) string {
	if strings.HasPrefix(s, rtlPrefix) && strings.HasSuffix(s, rtlSuffix) && len(s) >= len(rtlPrefix)+len(rtlSuffix) {
		return s[len(rtlPrefix) : len(s)-len(rtlSuffix)]
	}
	return s
}

type streamIDs struct {
	IDs          []string `json:"ids"`
	Continuation string   `json:"continuation"`
}

type markers struct {
	Type     string   `json:"type"`
	Action   string   `json:"action"`
	EntryIDs []string `json:"entryIds"`
}

type collectionBody struct {
	ID    string `json:"id,omitempty"`
	Label string `json:"label"`
}

type feedBody struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}
