// ABOUTME: Durable queue of local status edits waiting to be pushed to a sync service
// ABOUTME: Rows are selected for processing in one transaction so new edits never disturb an in-flight push

package syncdb

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/harper/feedsync/internal/models"
	"github.com/harper/feedsync/internal/sqlitedb"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("sync queue is closed")

const chunkSize = 500

// Change is one desired status value for an article.
type Change struct {
	ArticleID string           `db:"article_id"`
	Key       models.StatusKey `db:"key"`
	Flag      bool             `db:"flag"`
	Selected  bool             `db:"selected"`
}

// Queue stores pending changes for one account.
type Queue struct {
	path string

	mu     sync.Mutex
	db     *sqlx.DB
	closed bool
}

// Open creates or opens the queue database at dbPath.
func Open(dbPath string) (*Queue, error) {
	q := &Queue{path: dbPath}
	if err := q.open(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) open() error {
	migrations, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load sync migrations: %w", err)
	}
	db, err := sqlitedb.Open(q.path, migrations)
	if err != nil {
		return fmt.Errorf("failed to open sync queue: %w", err)
	}
	q.db = db
	q.closed = false
	return nil
}

// Close closes the database. It is safe to call more than once.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	return q.db.Close()
}

// Reopen opens the database again after Close.
func (q *Queue) Reopen() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		return nil
	}
	return q.open()
}

func (q *Queue) lock() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	return nil
}

func (q *Queue) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// InsertStatuses records desired values. A newer edit replaces an older
// unpushed one; rows already selected for processing are left alone.
func (q *Queue) InsertStatuses(ctx context.Context, changes []Change) error {
	if len(changes) == 0 {
		return nil
	}
	if err := q.lock(); err != nil {
		return err
	}
	defer q.mu.Unlock()

	return q.inTx(ctx, func(tx *sqlx.Tx) error {
		for start := 0; start < len(changes); start += chunkSize {
			end := min(start+chunkSize, len(changes))
			ins := sq.Insert("sync_status").Columns("article_id", "key", "flag", "selected")
			for _, c := range changes[start:end] {
				ins = ins.Values(c.ArticleID, string(c.Key), sqlitedb.BoolToInt(c.Flag), 0)
			}
			query, args, err := ins.Suffix("ON CONFLICT(article_id, key, selected) DO UPDATE SET flag = excluded.flag").ToSql()
			if err != nil {
				return fmt.Errorf("failed to build pending insert: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("failed to insert pending statuses: %w", err)
			}
		}
		return nil
	})
}

// SelectForProcessing marks every unselected row as selected and returns the
// selected snapshot. An in-flight row superseded by a newer edit is dropped.
func (q *Queue) SelectForProcessing(ctx context.Context) ([]Change, error) {
	if err := q.lock(); err != nil {
		return nil, err
	}
	defer q.mu.Unlock()

	var out []Change
	err := q.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_status
			WHERE selected = 1 AND EXISTS (
				SELECT 1 FROM sync_status n
				WHERE n.selected = 0 AND n.article_id = sync_status.article_id AND n.key = sync_status.key
			)`); err != nil {
			return fmt.Errorf("failed to drop superseded statuses: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE sync_status SET selected = 1 WHERE selected = 0"); err != nil {
			return fmt.Errorf("failed to select statuses: %w", err)
		}
		if err := tx.SelectContext(ctx, &out,
			"SELECT article_id, key, flag, selected FROM sync_status WHERE selected = 1 ORDER BY key, article_id"); err != nil {
			return fmt.Errorf("failed to fetch selected statuses: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteProcessed removes selected rows for key after a successful push.
func (q *Queue) DeleteProcessed(ctx context.Context, key models.StatusKey, ids []string) error {
	return q.eachChunk(ctx, ids, func(tx *sqlx.Tx, batch []string) error {
		query, args, err := sq.Delete("sync_status").
			Where(sq.Eq{"selected": 1, "key": string(key), "article_id": batch}).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build pending delete: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to delete processed statuses: %w", err)
		}
		return nil
	})
}

// ResetProcessing returns selected rows for key to the unselected state after
// a failed push. A newer unselected edit of the same article wins.
func (q *Queue) ResetProcessing(ctx context.Context, key models.StatusKey, ids []string) error {
	return q.eachChunk(ctx, ids, func(tx *sqlx.Tx, batch []string) error {
		args := make([]interface{}, 0, len(batch)+1)
		args = append(args, string(key))
		for _, id := range batch {
			args = append(args, id)
		}
		superseded := `DELETE FROM sync_status
			WHERE selected = 1 AND key = ? AND article_id IN (` + sq.Placeholders(len(batch)) + `)
			AND EXISTS (
				SELECT 1 FROM sync_status n
				WHERE n.selected = 0 AND n.article_id = sync_status.article_id AND n.key = sync_status.key
			)`
		if _, err := tx.ExecContext(ctx, superseded, args...); err != nil {
			return fmt.Errorf("failed to drop superseded statuses: %w", err)
		}
		query, uargs, err := sq.Update("sync_status").Set("selected", 0).
			Where(sq.Eq{"selected": 1, "key": string(key), "article_id": batch}).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build pending reset: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, uargs...); err != nil {
			return fmt.Errorf("failed to reset statuses: %w", err)
		}
		return nil
	})
}

func (q *Queue) eachChunk(ctx context.Context, ids []string, fn func(tx *sqlx.Tx, batch []string) error) error {
	if len(ids) == 0 {
		return nil
	}
	if err := q.lock(); err != nil {
		return err
	}
	defer q.mu.Unlock()

	return q.inTx(ctx, func(tx *sqlx.Tx) error {
		for start := 0; start < len(ids); start += chunkSize {
			if err := fn(tx, ids[start:min(start+chunkSize, len(ids))]); err != nil {
				return err
			}
		}
		return nil
	})
}

// PendingCount returns the number of queued rows, selected or not.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	if err := q.lock(); err != nil {
		return 0, err
	}
	defer q.mu.Unlock()

	var n int
	if err := q.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM sync_status"); err != nil {
		return 0, fmt.Errorf("failed to count pending statuses: %w", err)
	}
	return n, nil
}

// PendingArticleIDs returns every article with a queued change for key.
func (q *Queue) PendingArticleIDs(ctx context.Context, key models.StatusKey) (map[string]struct{}, error) {
	if err := q.lock(); err != nil {
		return nil, err
	}
	defer q.mu.Unlock()

	var ids []string
	if err := q.db.SelectContext(ctx, &ids, "SELECT DISTINCT article_id FROM sync_status WHERE key = ?", string(key)); err != nil {
		return nil, fmt.Errorf("failed to fetch pending article ids: %w", err)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}
