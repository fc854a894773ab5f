// ABOUTME: Row structs scanned by sqlx and their conversion to models
// ABOUTME: Dates are stored as unix seconds and flags as integers

package articles

import (
	"database/sql"

	"github.com/harper/feedsync/internal/models"
)

// articleColumns is the joined article+status projection used by every fetch.
var articleColumns = []string{
	"a.article_id AS article_id", "a.feed_id AS feed_id", "a.unique_id AS unique_id", "a.title AS title",
	"a.content_html AS content_html", "a.content_text AS content_text", "a.url AS url", "a.external_url AS external_url",
	"a.summary AS summary", "a.image_url AS image_url", "a.banner_image_url AS banner_image_url", "a.date_published AS date_published",
	"a.date_modified AS date_modified", "a.search_row_id AS search_row_id", "s.read AS read", "s.starred AS starred",
	"s.user_deleted AS user_deleted", "s.date_arrived AS date_arrived",
}

type articleRow struct {
	ArticleID      string        `db:"article_id"`
	FeedID         string        `db:"feed_id"`
	UniqueID       string        `db:"unique_id"`
	Title          string        `db:"title"`
	ContentHTML    string        `db:"content_html"`
	ContentText    string        `db:"content_text"`
	URL            string        `db:"url"`
	ExternalURL    string        `db:"external_url"`
	Summary        string        `db:"summary"`
	ImageURL       string        `db:"image_url"`
	BannerImageURL string        `db:"banner_image_url"`
	DatePublished  sql.NullInt64 `db:"date_published"`
	DateModified   sql.NullInt64 `db:"date_modified"`
	SearchRowID    sql.NullInt64 `db:"search_row_id"`

	Read        sql.NullBool  `db:"read"`
	Starred     sql.NullBool  `db:"starred"`
	UserDeleted sql.NullBool  `db:"user_deleted"`
	DateArrived sql.NullInt64 `db:"date_arrived"`
}

func (r articleRow) article() models.Article {
	a := models.Article{
		ArticleID:      r.ArticleID,
		FeedID:         r.FeedID,
		UniqueID:       r.UniqueID,
		Title:          r.Title,
		ContentHTML:    r.ContentHTML,
		ContentText:    r.ContentText,
		URL:            r.URL,
		ExternalURL:    r.ExternalURL,
		Summary:        r.Summary,
		ImageURL:       r.ImageURL,
		BannerImageURL: r.BannerImageURL,
		Status: models.ArticleStatus{
			ArticleID:   r.ArticleID,
			Read:        r.Read.Bool,
			Starred:     r.Starred.Bool,
			UserDeleted: r.UserDeleted.Bool,
		},
	}
	if r.DatePublished.Valid {
		t := fromUnix(r.DatePublished.Int64)
		a.DatePublished = &t
	}
	if r.DateModified.Valid {
		t := fromUnix(r.DateModified.Int64)
		a.DateModified = &t
	}
	if r.DateArrived.Valid {
		a.Status.DateArrived = fromUnix(r.DateArrived.Int64)
	}
	return a
}

type statusRow struct {
	ArticleID   string `db:"article_id"`
	Read        bool   `db:"read"`
	Starred     bool   `db:"starred"`
	UserDeleted bool   `db:"user_deleted"`
	DateArrived int64  `db:"date_arrived"`
}

func (r statusRow) status() models.ArticleStatus {
	return models.ArticleStatus{
		ArticleID:   r.ArticleID,
		Read:        r.Read,
		Starred:     r.Starred,
		UserDeleted: r.UserDeleted,
		DateArrived: fromUnix(r.DateArrived),
	}
}

type authorRow struct {
	ArticleID    string `db:"article_id"`
	AuthorID     string `db:"author_id"`
	Name         string `db:"name"`
	URL          string `db:"url"`
	AvatarURL    string `db:"avatar_url"`
	EmailAddress string `db:"email_address"`
}

type attachmentRow struct {
	AttachmentID      string `db:"attachment_id"`
	ArticleID         string `db:"article_id"`
	URL               string `db:"url"`
	MimeType          string `db:"mime_type"`
	Title             string `db:"title"`
	SizeInBytes       int64  `db:"size_in_bytes"`
	DurationInSeconds int64  `db:"duration_in_seconds"`
}
