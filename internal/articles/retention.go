// ABOUTME: Retention cleanup for articles and statuses
// ABOUTME: Old unstarred articles lose their bodies while statuses survive so the articles never reappear

package articles

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

const (
	// DefaultStatusAge is how long orphaned read statuses are kept.
	DefaultStatusAge = 180 * 24 * time.Hour

	// pruneGrace protects recently arrived articles of local feeds from pruning.
	pruneGrace = 30 * 24 * time.Hour
)

// DeleteOldArticles removes the bodies of read, unstarred articles that
// arrived before the retention cutoff and of user-deleted articles.
// It returns the number of articles removed.
func (s *Store) DeleteOldArticles(ctx context.Context) (int, error) {
	const q = `SELECT a.article_id FROM articles a
		JOIN statuses s ON s.article_id = a.article_id
		WHERE s.user_deleted = 1 OR (s.read = 1 AND s.starred = 0 AND s.date_arrived <= ?)`
	return s.deleteMatching(ctx, q, s.Cutoff().Unix())
}

// DeleteOldStatuses removes read, unstarred statuses older than age that no
// longer have an article. A non-positive age means DefaultStatusAge.
// It returns the number removed.
func (s *Store) DeleteOldStatuses(ctx context.Context, age time.Duration) (int, error) {
	if age <= 0 {
		age = DefaultStatusAge
	}
	if age < s.retention {
		age = s.retention
	}
	cutoff := s.now().Add(-age).Unix()

	if err := s.lockWriter(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM statuses
		WHERE read = 1 AND starred = 0 AND date_arrived <= ?
		AND NOT EXISTS (SELECT 1 FROM articles a WHERE a.article_id = statuses.article_id)`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old statuses: %w", err)
	}
	s.cache.purge()
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PruneFeed removes unstarred articles of feedID that are absent from keepIDs
// and arrived more than 30 days ago. Used after a full fetch of a local feed.
func (s *Store) PruneFeed(ctx context.Context, feedID string, keepIDs []string) (int, error) {
	keep := make(map[string]struct{}, len(keepIDs))
	for _, id := range keepIDs {
		keep[id] = struct{}{}
	}

	var candidates []string
	query, args, err := sq.Select("a.article_id").From("articles a").
		Join("statuses s ON s.article_id = a.article_id").
		Where(sq.Eq{"a.feed_id": feedID, "s.starred": 0}).
		Where(sq.LtOrEq{"s.date_arrived": s.now().Add(-pruneGrace).Unix()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build prune query: %w", err)
	}
	if err := s.db.SelectContext(ctx, &candidates, query, args...); err != nil {
		return 0, fmt.Errorf("failed to fetch prune candidates: %w", err)
	}

	var doomed []string
	for _, id := range candidates {
		if _, ok := keep[id]; !ok {
			doomed = append(doomed, id)
		}
	}
	return s.deleteIDs(ctx, doomed)
}

func (s *Store) deleteMatching(ctx context.Context, query string, args ...interface{}) (int, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return 0, fmt.Errorf("failed to fetch expired articles: %w", err)
	}
	return s.deleteIDs(ctx, ids)
}

func (s *Store) deleteIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.lockWriter(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	if err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		return deleteArticles(ctx, tx, ids)
	}); err != nil {
		return 0, err
	}
	s.log.DebugContext(ctx, "deleted articles", "count", len(ids))
	return len(ids), nil
}
