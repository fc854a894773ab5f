// ABOUTME: Normalized item handed to the article store by parsers and sync adapters
// ABOUTME: Converts a parsed item into an Article for a given feed

package models

import "time"

// ParsedItem is the sole input to the article store's merge.
type ParsedItem struct {
	// SyncServiceID is the remote service's id for the item, when it has one.
	SyncServiceID  string
	UniqueID       string
	FeedURL        string
	URL            string
	ExternalURL    string
	Title          string
	ContentHTML    string
	ContentText    string
	Summary        string
	ImageURL       string
	BannerImageURL string
	DatePublished  *time.Time
	DateModified   *time.Time
	Authors        []ParsedAuthor
	Attachments    []ParsedAttachment
}

// ParsedAuthor is an author as reported by a feed or service.
type ParsedAuthor struct {
	Name         string
	URL          string
	AvatarURL    string
	EmailAddress string
}

// ParsedAttachment is an enclosure as reported by a feed or service.
type ParsedAttachment struct {
	URL               string
	MimeType          string
	Title             string
	SizeInBytes       int64
	DurationInSeconds int64
}

// ArticleID returns the id the item will be stored under in feedID.
func (p ParsedItem) ArticleID(feedID string) string {
	if p.SyncServiceID != "" {
		return p.SyncServiceID
	}
	return ArticleIDFor(feedID, p.UniqueID)
}

// Article converts the item into an Article owned by feedID.
func (p ParsedItem) Article(feedID string) Article {
	a := Article{
		ArticleID:      p.ArticleID(feedID),
		FeedID:         feedID,
		UniqueID:       p.UniqueID,
		Title:          p.Title,
		ContentHTML:    p.ContentHTML,
		ContentText:    p.ContentText,
		URL:            p.URL,
		ExternalURL:    p.ExternalURL,
		Summary:        p.Summary,
		ImageURL:       p.ImageURL,
		BannerImageURL: p.BannerImageURL,
		DatePublished:  utcPtr(p.DatePublished),
		DateModified:   utcPtr(p.DateModified),
	}
	for _, pa := range p.Authors {
		if pa.Name == "" && pa.URL == "" && pa.EmailAddress == "" && pa.AvatarURL == "" {
			continue
		}
		author := Author{Name: pa.Name, URL: pa.URL, AvatarURL: pa.AvatarURL, EmailAddress: pa.EmailAddress}
		author.AuthorID = AuthorIDFor(author)
		a.Authors = append(a.Authors, author)
	}
	for _, pa := range p.Attachments {
		if pa.URL == "" {
			continue
		}
		att := Attachment{URL: pa.URL, MimeType: pa.MimeType, Title: pa.Title, SizeInBytes: pa.SizeInBytes, DurationInSeconds: pa.DurationInSeconds}
		att.AttachmentID = AttachmentIDFor(a.ArticleID, att)
		a.Attachments = append(a.Attachments, att)
	}
	return a
}

// Times are stored at second precision, so comparisons against stored rows
// must use the same precision.
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC().Truncate(time.Second)
	return &v
}
