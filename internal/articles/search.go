// ABOUTME: Full-text search over article titles and bodies using SQLite FTS5
// ABOUTME: A background indexer fills the search table after merges without blocking them

package articles

import (
	"context"
	"fmt"
	"strings"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/harper/feedsync/internal/content"
	"github.com/harper/feedsync/internal/models"
)

type indexer struct {
	store  *Store
	kick   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func startIndexer(s *Store) *indexer {
	ctx, cancel := context.WithCancel(context.Background())
	ix := &indexer{store: s, kick: make(chan struct{}, 1), cancel: cancel}
	ix.wg.Add(1)
	go ix.run(ctx)
	ix.poke()
	return ix
}

func (ix *indexer) run(ctx context.Context) {
	defer ix.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ix.kick:
		}
		for {
			n, err := ix.store.indexBatch(ctx)
			if err != nil {
				if ctx.Err() == nil {
					ix.store.log.Warn("search indexing failed", "error", err)
				}
				break
			}
			if n < indexBatchSize {
				break
			}
		}
	}
}

func (ix *indexer) poke() {
	select {
	case ix.kick <- struct{}{}:
	default:
	}
}

func (ix *indexer) stop() {
	ix.cancel()
	ix.wg.Wait()
}

// scheduleIndex queues updated articles for reindexing and wakes the indexer.
// New articles are found by their missing search row.
func (s *Store) scheduleIndex(updated []string) {
	s.markDirty(updated)
	if s.indexer != nil {
		s.indexer.poke()
	}
}

func (s *Store) markDirty(ids []string) {
	if len(ids) == 0 {
		return
	}
	s.dirtyMu.Lock()
	defer s.dirtyMu.Unlock()
	if s.dirty == nil {
		s.dirty = make(map[string]struct{})
	}
	for _, id := range ids {
		s.dirty[id] = struct{}{}
	}
}

func (s *Store) takeDirty(limit int) []string {
	s.dirtyMu.Lock()
	defer s.dirtyMu.Unlock()
	var out []string
	for id := range s.dirty {
		if len(out) == limit {
			break
		}
		out = append(out, id)
		delete(s.dirty, id)
	}
	return out
}

// IndexPending indexes every article that is missing from, or stale in, the
// search table. It returns the number of articles indexed.
func (s *Store) IndexPending(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := s.indexBatch(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
}

type indexRow struct {
	ArticleID   string `db:"article_id"`
	Title       string `db:"title"`
	ContentHTML string `db:"content_html"`
	ContentText string `db:"content_text"`
	Summary     string `db:"summary"`
	SearchRowID *int64 `db:"search_row_id"`
}

var indexColumns = []string{"article_id", "title", "content_html", "content_text", "summary", "search_row_id"}

func (s *Store) indexBatch(ctx context.Context) (int, error) {
	if err := s.lockWriter(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	var rows []indexRow
	query, args, err := sq.Select(indexColumns...).From("articles").
		Where("search_row_id IS NULL").Limit(indexBatchSize).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build index query: %w", err)
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return 0, fmt.Errorf("failed to fetch unindexed articles: %w", err)
	}

	// Dirty ids taken here go back to the set if the batch fails.
	var taken []string
	if room := indexBatchSize - len(rows); room > 0 {
		if taken = s.takeDirty(room); len(taken) > 0 {
			query, args, err := sq.Select(indexColumns...).From("articles").
				Where(sq.Eq{"article_id": taken}).Where("search_row_id IS NOT NULL").ToSql()
			if err != nil {
				s.markDirty(taken)
				return 0, fmt.Errorf("failed to build reindex query: %w", err)
			}
			var stale []indexRow
			if err := s.db.SelectContext(ctx, &stale, query, args...); err != nil {
				s.markDirty(taken)
				return 0, fmt.Errorf("failed to fetch stale articles: %w", err)
			}
			rows = append(rows, stale...)
		}
	}
	if len(rows) == 0 {
		return 0, nil
	}

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, r := range rows {
			title := content.StripHTML(r.Title)
			body := content.SearchBody(r.ContentHTML, r.ContentText, r.Summary)
			if r.SearchRowID != nil {
				if _, err := tx.ExecContext(ctx, "UPDATE search SET title = ?, body = ? WHERE rowid = ?", title, body, *r.SearchRowID); err != nil {
					return fmt.Errorf("failed to update search row: %w", err)
				}
				continue
			}
			res, err := tx.ExecContext(ctx, "INSERT INTO search (title, body) VALUES (?, ?)", title, body)
			if err != nil {
				return fmt.Errorf("failed to insert search row: %w", err)
			}
			rowID, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to read search row id: %w", err)
			}
			if _, err := tx.ExecContext(ctx, "UPDATE articles SET search_row_id = ? WHERE article_id = ?", rowID, r.ArticleID); err != nil {
				return fmt.Errorf("failed to link search row: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		s.markDirty(taken)
		return 0, err
	}
	return len(rows), nil
}

// Search runs a full-text query against indexed articles, newest first. A nil
// feedIDs searches every feed. Deleted and unretained articles are excluded.
func (s *Store) Search(ctx context.Context, query string, feedIDs []string) ([]models.Article, error) {
	match := SearchQuery(query)
	if match == "" {
		return nil, nil
	}
	q := s.retained(s.baseQuery().
		Join("search ON search.rowid = a.search_row_id").
		Where("search MATCH ?", match)).
		OrderBy(newestFirst)
	if feedIDs != nil {
		feedIDs = dedupe(feedIDs)
		if len(feedIDs) == 0 {
			return nil, nil
		}
		q = q.Where(sq.Eq{"a.feed_id": feedIDs})
	}
	return s.fetch(ctx, s.db, q)
}

var searchOperators = map[string]bool{"AND": true, "OR": true, "NOT": true, "NEAR": true}

// SearchQuery turns free text into an FTS5 expression. Each word becomes a
// quoted prefix term; the FTS5 operators pass through unchanged.
func SearchQuery(text string) string {
	var terms []string
	for _, word := range strings.Fields(text) {
		if searchOperators[word] {
			terms = append(terms, word)
			continue
		}
		word = strings.ReplaceAll(word, `"`, "")
		if word == "" {
			continue
		}
		terms = append(terms, `"`+word+`"*`)
	}
	// An expression may not start or end with an operator.
	for len(terms) > 0 && searchOperators[terms[0]] {
		terms = terms[1:]
	}
	for len(terms) > 0 && searchOperators[terms[len(terms)-1]] {
		terms = terms[:len(terms)-1]
	}
	return strings.Join(terms, " ")
}
