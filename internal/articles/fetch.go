// ABOUTME: Article fetch queries joined with statuses
// ABOUTME: Default fetches enforce the retention predicate; by-id and "all" fetches do not

package articles

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/harper/feedsync/internal/models"
)

const newestFirst = "COALESCE(a.date_published, s.date_arrived) DESC, a.article_id"

func (s *Store) baseQuery() sq.SelectBuilder {
	return sq.Select(articleColumns...).
		From("articles a").
		Join("statuses s ON s.article_id = a.article_id")
}

func (s *Store) retained(q sq.SelectBuilder) sq.SelectBuilder {
	return q.Where("s.user_deleted = 0").
		Where("(s.starred = 1 OR s.date_arrived > ?)", s.Cutoff().Unix())
}

// FetchArticles returns the retained articles of the given feeds.
func (s *Store) FetchArticles(ctx context.Context, feedIDs []string) ([]models.Article, error) {
	return s.fetchForFeeds(ctx, feedIDs, func(q sq.SelectBuilder) sq.SelectBuilder {
		return s.retained(q)
	})
}

// FetchAllArticles returns every stored article of the given feeds regardless of retention.
func (s *Store) FetchAllArticles(ctx context.Context, feedIDs []string) ([]models.Article, error) {
	return s.fetchForFeeds(ctx, feedIDs, nil)
}

// FetchUnreadArticles returns the retained unread articles of the given feeds.
func (s *Store) FetchUnreadArticles(ctx context.Context, feedIDs []string) ([]models.Article, error) {
	return s.fetchForFeeds(ctx, feedIDs, func(q sq.SelectBuilder) sq.SelectBuilder {
		return s.retained(q).Where("s.read = 0")
	})
}

// FetchStarredArticles returns the starred articles of the given feeds.
func (s *Store) FetchStarredArticles(ctx context.Context, feedIDs []string) ([]models.Article, error) {
	return s.fetchForFeeds(ctx, feedIDs, func(q sq.SelectBuilder) sq.SelectBuilder {
		return s.retained(q).Where("s.starred = 1")
	})
}

// FetchArticlesSince returns retained articles published, or for undated
// articles arrived, after since.
func (s *Store) FetchArticlesSince(ctx context.Context, feedIDs []string, since time.Time) ([]models.Article, error) {
	ts := since.UTC().Unix()
	return s.fetchForFeeds(ctx, feedIDs, func(q sq.SelectBuilder) sq.SelectBuilder {
		return s.retained(q).Where(
			"(a.date_published > ? OR (a.date_published IS NULL AND s.date_arrived > ?))", ts, ts)
	})
}

// FetchArticlesByIDs returns the articles for ids regardless of retention.
func (s *Store) FetchArticlesByIDs(ctx context.Context, ids []string) ([]models.Article, error) {
	ids = dedupe(ids)
	var out []models.Article
	for _, batch := range chunk(ids, queryChunkSize) {
		got, err := s.fetch(ctx, s.db, s.baseQuery().Where(sq.Eq{"a.article_id": batch}).OrderBy(newestFirst))
		if err != nil {
			return nil, err
		}
		out = append(out, got...)
	}
	return out, nil
}

// FetchArticle returns a single article by id.
func (s *Store) FetchArticle(ctx context.Context, id string) (models.Article, error) {
	got, err := s.FetchArticlesByIDs(ctx, []string{id})
	if err != nil {
		return models.Article{}, err
	}
	if len(got) == 0 {
		return models.Article{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return got[0], nil
}

// FeedIDsForArticles returns the distinct feeds owning the given articles.
func (s *Store) FeedIDsForArticles(ctx context.Context, ids []string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, batch := range chunk(dedupe(ids), queryChunkSize) {
		query, args, err := sq.Select("DISTINCT feed_id").From("articles").Where(sq.Eq{"article_id": batch}).ToSql()
		if err != nil {
			return nil, fmt.Errorf("failed to build feed id query: %w", err)
		}
		var feedIDs []string
		if err := s.db.SelectContext(ctx, &feedIDs, query, args...); err != nil {
			return nil, fmt.Errorf("failed to fetch feed ids: %w", err)
		}
		for _, id := range feedIDs {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	return out, nil
}

func (s *Store) fetchForFeeds(ctx context.Context, feedIDs []string, filter func(sq.SelectBuilder) sq.SelectBuilder) ([]models.Article, error) {
	feedIDs = dedupe(feedIDs)
	if len(feedIDs) == 0 {
		return nil, nil
	}
	q := s.baseQuery().Where(sq.Eq{"a.feed_id": feedIDs}).OrderBy(newestFirst)
	if filter != nil {
		q = filter(q)
	}
	return s.fetch(ctx, s.db, q)
}

func (s *Store) fetch(ctx context.Context, db sqlx.QueryerContext, q sq.SelectBuilder) ([]models.Article, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build article query: %w", err)
	}
	var rows []articleRow
	if err := sqlx.SelectContext(ctx, db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to fetch articles: %w", err)
	}

	out := make([]models.Article, 0, len(rows))
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.article())
		ids = append(ids, r.ArticleID)
	}
	if err := s.attachRelated(ctx, db, out, ids); err != nil {
		return nil, err
	}
	return out, nil
}
