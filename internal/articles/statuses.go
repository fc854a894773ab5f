// ABOUTME: Status table access with an in-memory LRU cache in front of the database
// ABOUTME: Creates missing statuses on demand and skips writes that change nothing

package articles

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx"

	"github.com/harper/feedsync/internal/models"
	"github.com/harper/feedsync/internal/sqlitedb"
)

type statusCache struct {
	entries *lru.Cache[string, models.ArticleStatus]
}

func newStatusCache(size int) (*statusCache, error) {
	c, err := lru.New[string, models.ArticleStatus](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create status cache: %w", err)
	}
	return &statusCache{entries: c}, nil
}

func (c *statusCache) get(id string) (models.ArticleStatus, bool) {
	return c.entries.Get(id)
}

func (c *statusCache) addAll(statuses map[string]models.ArticleStatus) {
	for id, st := range statuses {
		c.entries.Add(id, st)
	}
}

func (c *statusCache) purge() {
	c.entries.Purge()
}

// EnsureStatuses creates a status for every id that lacks one. New statuses
// get the supplied read flag and arrive now. Existing statuses are untouched.
func (s *Store) EnsureStatuses(ctx context.Context, ids []string, read bool) (map[string]models.ArticleStatus, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return map[string]models.ArticleStatus{}, nil
	}
	if err := s.lockWriter(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	var statuses map[string]models.ArticleStatus
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		statuses, err = s.ensureStatuses(ctx, tx, ids, read)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.cache.addAll(statuses)
	return statuses, nil
}

// ensureStatuses must be called with the writer lock held.
func (s *Store) ensureStatuses(ctx context.Context, tx *sqlx.Tx, ids []string, read bool) (map[string]models.ArticleStatus, error) {
	found, err := s.lookupStatuses(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	var created []models.ArticleStatus
	for _, id := range ids {
		if _, ok := found[id]; ok {
			continue
		}
		st := models.NewArticleStatus(id, read)
		st.DateArrived = s.now().UTC().Truncate(time.Second)
		created = append(created, st)
		found[id] = st
	}

	for _, batch := range chunk(created, queryChunkSize) {
		q := sq.Insert("statuses").
			Options("OR IGNORE").
			Columns("article_id", "read", "starred", "user_deleted", "date_arrived")
		for _, st := range batch {
			q = q.Values(st.ArticleID, sqlitedb.BoolToInt(st.Read), 0, 0, st.DateArrived.Unix())
		}
		query, args, err := q.ToSql()
		if err != nil {
			return nil, fmt.Errorf("failed to build status insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return nil, fmt.Errorf("failed to insert statuses: %w", err)
		}
	}
	return found, nil
}

// lookupStatuses returns cached or stored statuses without creating any.
func (s *Store) lookupStatuses(ctx context.Context, q sqlx.QueryerContext, ids []string) (map[string]models.ArticleStatus, error) {
	found := make(map[string]models.ArticleStatus, len(ids))
	var missing []string
	for _, id := range ids {
		if st, ok := s.cache.get(id); ok {
			found[id] = st
			continue
		}
		missing = append(missing, id)
	}

	for _, batch := range chunk(missing, queryChunkSize) {
		query, args, err := sq.Select("article_id", "read", "starred", "user_deleted", "date_arrived").
			From("statuses").
			Where(sq.Eq{"article_id": batch}).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("failed to build status query: %w", err)
		}
		var rows []statusRow
		if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
			return nil, fmt.Errorf("failed to fetch statuses: %w", err)
		}
		for _, r := range rows {
			found[r.ArticleID] = r.status()
		}
	}
	return found, nil
}

// FetchStatuses returns the statuses that exist for ids.
func (s *Store) FetchStatuses(ctx context.Context, ids []string) (map[string]models.ArticleStatus, error) {
	return s.lookupStatuses(ctx, s.db, dedupe(ids))
}

// Mark sets key to flag for every id, creating statuses as needed.
// It returns only the statuses whose value actually changed.
func (s *Store) Mark(ctx context.Context, ids []string, key models.StatusKey, flag bool) ([]models.ArticleStatus, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	column := key.Column()
	if column == "" {
		return nil, fmt.Errorf("unknown status key %q", key)
	}
	if err := s.lockWriter(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	var changed []models.ArticleStatus
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		statuses, err := s.ensureStatuses(ctx, tx, ids, false)
		if err != nil {
			return err
		}

		var changedIDs []string
		for _, id := range ids {
			st := statuses[id]
			if st.Flag(key) == flag {
				continue
			}
			st.SetFlag(key, flag)
			changed = append(changed, st)
			changedIDs = append(changedIDs, id)
		}

		for _, batch := range chunk(changedIDs, queryChunkSize) {
			query, args, err := sq.Update("statuses").
				Set(column, sqlitedb.BoolToInt(flag)).
				Where(sq.Eq{"article_id": batch}).
				ToSql()
			if err != nil {
				return fmt.Errorf("failed to build status update: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("failed to update statuses: %w", err)
			}
		}

		// Cache the statuses we created even when nothing changed.
		s.cache.addAll(statuses)
		return nil
	})
	if err != nil {
		s.cache.purge()
		return nil, err
	}

	updated := make(map[string]models.ArticleStatus, len(changed))
	for _, st := range changed {
		updated[st.ArticleID] = st
	}
	s.cache.addAll(updated)
	return changed, nil
}

// FetchUnreadArticleIDs returns every undeleted unread article id.
func (s *Store) FetchUnreadArticleIDs(ctx context.Context) (map[string]struct{}, error) {
	return s.fetchIDSet(ctx, "SELECT article_id FROM statuses WHERE read = 0 AND user_deleted = 0")
}

// FetchStarredArticleIDs returns every undeleted starred article id.
func (s *Store) FetchStarredArticleIDs(ctx context.Context) (map[string]struct{}, error) {
	return s.fetchIDSet(ctx, "SELECT article_id FROM statuses WHERE starred = 1 AND user_deleted = 0")
}

// MissingArticleIDs returns ids whose status is retained but whose article body
// was never downloaded or has been pruned.
func (s *Store) MissingArticleIDs(ctx context.Context) (map[string]struct{}, error) {
	const q = `SELECT s.article_id FROM statuses s
		WHERE s.user_deleted = 0
		AND (s.starred = 1 OR s.date_arrived > ?)
		AND NOT EXISTS (SELECT 1 FROM articles a WHERE a.article_id = s.article_id)`
	return s.fetchIDSet(ctx, q, s.Cutoff().Unix())
}

func (s *Store) fetchIDSet(ctx context.Context, query string, args ...interface{}) (map[string]struct{}, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("failed to fetch article ids: %w", err)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}
