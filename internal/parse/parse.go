// ABOUTME: RSS/Atom/JSON feed parsing using gofeed
// ABOUTME: Converts gofeed items into normalized ParsedItems ready for the article store

package parse

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/harper/feedsync/internal/content"
	"github.com/harper/feedsync/internal/models"
)

// ParsedFeed is a feed document reduced to what the store and tree need.
type ParsedFeed struct {
	Title       string
	HomePageURL string
	IconURL     string
	Items       []models.ParsedItem
}

// Parse parses RSS, Atom or JSON Feed data fetched from feedURL.
func Parse(data []byte, feedURL string) (*ParsedFeed, error) {
	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(data))
	if err != nil {
		return nil, err
	}

	parsed := &ParsedFeed{
		Title:       strings.TrimSpace(feed.Title),
		HomePageURL: feed.Link,
		Items:       make([]models.ParsedItem, 0, len(feed.Items)),
	}
	if feed.Image != nil {
		parsed.IconURL = feed.Image.URL
	}

	seen := make(map[string]struct{}, len(feed.Items))
	for _, item := range feed.Items {
		pi := convertItem(item, feedURL)
		if _, dup := seen[pi.UniqueID]; dup {
			continue
		}
		seen[pi.UniqueID] = struct{}{}
		parsed.Items = append(parsed.Items, pi)
	}
	return parsed, nil
}

func convertItem(item *gofeed.Item, feedURL string) models.ParsedItem {
	pi := models.ParsedItem{
		UniqueID: strings.TrimSpace(item.GUID),
		FeedURL:  feedURL,
		URL:      item.Link,
		Title:    strings.TrimSpace(item.Title),
	}

	// Fallback GUID to Link, then to a digest of what is left
	if pi.UniqueID == "" {
		pi.UniqueID = item.Link
	}
	if pi.UniqueID == "" {
		pi.UniqueID = digest(item.Title, item.Published, item.Description)
	}

	// Prefer Content over Description
	body := strings.TrimSpace(item.Content)
	if body == "" {
		body = strings.TrimSpace(item.Description)
	} else {
		pi.Summary = strings.TrimSpace(item.Description)
	}
	if content.IsHTML(body) {
		pi.ContentHTML = body
	} else {
		pi.ContentText = body
	}

	if item.PublishedParsed != nil {
		pi.DatePublished = utc(item.PublishedParsed)
		pi.DateModified = utc(item.UpdatedParsed)
	} else if item.UpdatedParsed != nil {
		pi.DatePublished = utc(item.UpdatedParsed)
	}

	if item.Image != nil {
		pi.ImageURL = item.Image.URL
	}

	authors := item.Authors
	if len(authors) == 0 && item.Author != nil {
		authors = []*gofeed.Person{item.Author}
	}
	for _, p := range authors {
		if p == nil {
			continue
		}
		pi.Authors = append(pi.Authors, models.ParsedAuthor{Name: p.Name, EmailAddress: p.Email})
	}

	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		att := models.ParsedAttachment{URL: enc.URL, MimeType: enc.Type}
		if n, err := strconv.ParseInt(enc.Length, 10, 64); err == nil {
			att.SizeInBytes = n
		}
		if pi.ImageURL == "" && strings.HasPrefix(enc.Type, "image/") {
			pi.ImageURL = enc.URL
		}
		pi.Attachments = append(pi.Attachments, att)
	}
	return pi
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func digest(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}
