// ABOUTME: Unread count aggregation per feed
// ABOUTME: Counts only retained, undeleted, unread articles that have a stored body

package articles

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

type unreadRow struct {
	FeedID string `db:"feed_id"`
	Count  int    `db:"unread"`
}

// UnreadCounts returns the unread count of each requested feed. Feeds without
// unread articles are present with zero.
func (s *Store) UnreadCounts(ctx context.Context, feedIDs []string) (map[string]int, error) {
	feedIDs = dedupe(feedIDs)
	counts := make(map[string]int, len(feedIDs))
	for _, id := range feedIDs {
		counts[id] = 0
	}
	for _, batch := range chunk(feedIDs, queryChunkSize) {
		if err := s.countUnread(ctx, counts, sq.Eq{"a.feed_id": batch}); err != nil {
			return nil, err
		}
	}
	return counts, nil
}

// AllUnreadCounts returns the unread count of every feed with stored articles.
func (s *Store) AllUnreadCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	if err := s.countUnread(ctx, counts, nil); err != nil {
		return nil, err
	}
	return counts, nil
}

func (s *Store) countUnread(ctx context.Context, counts map[string]int, where sq.Sqlizer) error {
	q := s.retained(sq.Select("a.feed_id AS feed_id", "COUNT(*) AS unread").
		From("articles a").
		Join("statuses s ON s.article_id = a.article_id").
		Where("s.read = 0")).
		GroupBy("a.feed_id")
	if where != nil {
		q = q.Where(where)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build unread query: %w", err)
	}
	var rows []unreadRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return fmt.Errorf("failed to count unread: %w", err)
	}
	for _, r := range rows {
		counts[r.FeedID] = r.Count
	}
	return nil
}
