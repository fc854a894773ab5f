// ABOUTME: SQLite-backed article store for one account using modernc.org/sqlite (pure Go)
// ABOUTME: Serializes writes through a single mutex while reads share the WAL connection pool

package articles

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/harper/feedsync/internal/sqlitedb"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrNotFound is returned when a requested article does not exist.
var ErrNotFound = errors.New("article not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("article store is closed")

const (
	// DefaultRetentionDays is how long unstarred articles stay visible after arriving.
	DefaultRetentionDays = 90

	// DefaultStatusCacheSize bounds the in-memory status cache.
	DefaultStatusCacheSize = 20000

	// queryChunkSize limits the number of bound variables per IN clause.
	queryChunkSize = 500

	// indexBatchSize bounds a single search indexing pass.
	indexBatchSize = 500
)

// Options configures a Store.
type Options struct {
	RetentionDays   int
	StatusCacheSize int
	Logger          *slog.Logger

	// DisableBackgroundIndexing leaves search indexing to explicit IndexPending calls.
	DisableBackgroundIndexing bool

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Store persists articles, statuses and the search index for one account.
type Store struct {
	path string
	opts Options

	db *sqlx.DB
	// mu is the single writer queue: merges, marks, pruning and index writes hold it.
	mu     sync.Mutex
	closed bool

	cache     *statusCache
	retention time.Duration
	now       func() time.Time
	log       *slog.Logger

	indexer *indexer
	dirtyMu sync.Mutex
	dirty   map[string]struct{}
}

// Open creates or opens the article database at dbPath.
func Open(dbPath string, opts Options) (*Store, error) {
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = DefaultRetentionDays
	}
	if opts.StatusCacheSize <= 0 {
		opts.StatusCacheSize = DefaultStatusCacheSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	cache, err := newStatusCache(opts.StatusCacheSize)
	if err != nil {
		return nil, err
	}

	s := &Store{
		path:      dbPath,
		opts:      opts,
		cache:     cache,
		retention: time.Duration(opts.RetentionDays) * 24 * time.Hour,
		now:       opts.Now,
		log:       opts.Logger,
	}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) open() error {
	migrations, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load article migrations: %w", err)
	}
	db, err := sqlitedb.Open(s.path, migrations)
	if err != nil {
		return fmt.Errorf("failed to open article store: %w", err)
	}
	s.db = db
	s.closed = false
	if !s.opts.DisableBackgroundIndexing {
		s.indexer = startIndexer(s)
	}
	return nil
}

// Close stops background indexing and closes the database.
func (s *Store) Close() error {
	if s.indexer != nil {
		s.indexer.stop()
		s.indexer = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Reopen opens the database again after Close.
func (s *Store) Reopen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		return nil
	}
	return s.open()
}

// Cutoff returns the current retention cutoff.
func (s *Store) Cutoff() time.Time {
	return s.now().Add(-s.retention)
}

// lockWriter takes the writer lock, failing if the store has been closed.
func (s *Store) lockWriter() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	return nil
}

// inTx runs fn inside a transaction, committing on success.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
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

func unixOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Unix()
}

func fromUnix(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}

func chunk[T any](items []T, size int) [][]T {
	var out [][]T
	for size < len(items) {
		items, out = items[size:], append(out, items[:size:size])
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
