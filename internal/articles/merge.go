// ABOUTME: Incremental merge of normalized items into the article store
// ABOUTME: Inserts new articles, writes only changed columns for updated ones and never resurrects pruned content

package articles

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/harper/feedsync/internal/models"
)

// Merge folds the incoming items of one feed into the store.
func (s *Store) Merge(ctx context.Context, feedID string, items []models.ParsedItem, defaultRead bool) (models.ArticleChanges, error) {
	return s.MergeFeeds(ctx, map[string][]models.ParsedItem{feedID: items}, defaultRead)
}

// MergeFeeds folds items for several feeds into the store in one transaction.
// New statuses are created with defaultRead. Items whose status is deleted, or
// unstarred and past the retention cutoff, are ignored.
func (s *Store) MergeFeeds(ctx context.Context, itemsByFeed map[string][]models.ParsedItem, defaultRead bool) (models.ArticleChanges, error) {
	var changes models.ArticleChanges

	var ids []string
	incoming := make(map[string]models.Article)
	for feedID, items := range itemsByFeed {
		for _, item := range items {
			a := item.Article(feedID)
			if a.ArticleID == "" {
				continue
			}
			if _, dup := incoming[a.ArticleID]; !dup {
				ids = append(ids, a.ArticleID)
			}
			incoming[a.ArticleID] = a
		}
	}
	if len(ids) == 0 {
		return changes, nil
	}

	if err := s.lockWriter(); err != nil {
		return changes, err
	}
	defer s.mu.Unlock()

	var statuses map[string]models.ArticleStatus
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		statuses, err = s.ensureStatuses(ctx, tx, ids, defaultRead)
		if err != nil {
			return err
		}

		cutoff := s.Cutoff()
		var keep []string
		for _, id := range ids {
			if statuses[id].Retained(cutoff) {
				keep = append(keep, id)
			}
		}
		if len(keep) == 0 {
			return nil
		}

		existing := make(map[string]models.Article, len(keep))
		for _, batch := range chunk(keep, queryChunkSize) {
			got, err := s.fetch(ctx, tx, s.baseQuery().Where(sq.Eq{"a.article_id": batch}))
			if err != nil {
				return err
			}
			for _, a := range got {
				existing[a.ArticleID] = a
			}
		}

		for _, id := range keep {
			a := incoming[id]
			a.Status = statuses[id]

			old, ok := existing[id]
			if !ok {
				if err := insertArticle(ctx, tx, a); err != nil {
					return err
				}
				changes.New = append(changes.New, a)
				continue
			}

			cols := changedColumns(old, a)
			sameRelated := relatedEqual(old, a)
			if len(cols) == 0 && sameRelated {
				continue
			}
			if len(cols) > 0 {
				query, args, err := sq.Update("articles").SetMap(cols).Where(sq.Eq{"article_id": id}).ToSql()
				if err != nil {
					return fmt.Errorf("failed to build article update: %w", err)
				}
				if _, err := tx.ExecContext(ctx, query, args...); err != nil {
					return fmt.Errorf("failed to update article: %w", err)
				}
			}
			if !sameRelated {
				if err := writeRelated(ctx, tx, a); err != nil {
					return err
				}
			}
			changes.Updated = append(changes.Updated, a)
		}
		return nil
	})
	if err != nil {
		s.cache.purge()
		return models.ArticleChanges{}, fmt.Errorf("failed to merge articles: %w", err)
	}
	s.cache.addAll(statuses)

	if !changes.IsEmpty() {
		updated := make([]string, 0, len(changes.Updated))
		for _, a := range changes.Updated {
			updated = append(updated, a.ArticleID)
		}
		s.scheduleIndex(updated)
		s.log.DebugContext(ctx, "merged articles", "new", len(changes.New), "updated", len(changes.Updated))
	}
	return changes, nil
}

func insertArticle(ctx context.Context, tx *sqlx.Tx, a models.Article) error {
	const q = `INSERT INTO articles (
		article_id, feed_id, unique_id, title, content_html, content_text, url, external_url,
		summary, image_url, banner_image_url, date_published, date_modified
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		a.ArticleID, a.FeedID, a.UniqueID, a.Title, a.ContentHTML, a.ContentText, a.URL, a.ExternalURL,
		a.Summary, a.ImageURL, a.BannerImageURL, unixOrNil(a.DatePublished), unixOrNil(a.DateModified),
	)
	if err != nil {
		return fmt.Errorf("failed to insert article: %w", err)
	}
	if len(a.Authors) > 0 || len(a.Attachments) > 0 {
		return writeRelated(ctx, tx, a)
	}
	return nil
}

// changedColumns diffs two versions of an article field by field and returns
// only the columns that need writing.
func changedColumns(old, cur models.Article) map[string]interface{} {
	cols := make(map[string]interface{})
	text := []struct {
		column   string
		old, cur string
	}{
		{"feed_id", old.FeedID, cur.FeedID},
		{"unique_id", old.UniqueID, cur.UniqueID},
		{"title", old.Title, cur.Title},
		{"content_html", old.ContentHTML, cur.ContentHTML},
		{"content_text", old.ContentText, cur.ContentText},
		{"url", old.URL, cur.URL},
		{"external_url", old.ExternalURL, cur.ExternalURL},
		{"summary", old.Summary, cur.Summary},
		{"image_url", old.ImageURL, cur.ImageURL},
		{"banner_image_url", old.BannerImageURL, cur.BannerImageURL},
	}
	for _, f := range text {
		if f.old != f.cur {
			cols[f.column] = f.cur
		}
	}
	if !sameTime(old.DatePublished, cur.DatePublished) {
		cols["date_published"] = unixOrNil(cur.DatePublished)
	}
	if !sameTime(old.DateModified, cur.DateModified) {
		cols["date_modified"] = unixOrNil(cur.DateModified)
	}
	return cols
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Unix() == b.Unix()
}
