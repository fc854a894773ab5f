// ABOUTME: Pushes queued status edits in chunks and applies remote status sets locally
// ABOUTME: Ids with a pending local edit are left alone when remote state is applied

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/harper/feedsync/internal/account"
	"github.com/harper/feedsync/internal/models"
	"github.com/harper/feedsync/internal/syncdb"
)

const (
	// DefaultPushChunkSize bounds the ids sent in one push request.
	DefaultPushChunkSize = 1000
	// DefaultAutoPushThreshold is the pending count above which a mark pushes.
	DefaultAutoPushThreshold = 100
)

// Sender delivers one chunk of ids for a (key, flag) pair to the service.
type Sender func(ctx context.Context, ids []string) error

// PushGroup routes queued changes with Key and Flag to Send.
type PushGroup struct {
	Key  models.StatusKey
	Flag bool
	Send Sender
}

// StatusSyncer moves status edits between the local queue and a service.
// Pushes for one syncer never overlap.
type StatusSyncer struct {
	ChunkSize         int
	AutoPushThreshold int

	log *slog.Logger
	mu  sync.Mutex
}

// NewStatusSyncer returns a syncer with default chunking.
func NewStatusSyncer(log *slog.Logger) *StatusSyncer {
	if log == nil {
		log = slog.Default()
	}
	return &StatusSyncer{
		ChunkSize:         DefaultPushChunkSize,
		AutoPushThreshold: DefaultAutoPushThreshold,
		log:               log,
	}
}

type groupKey struct {
	key  models.StatusKey
	flag bool
}

// Push selects every pending change and sends it through the matching group.
// A chunk that sends successfully is deleted from the queue. A failed chunk is
// returned to the queue and the push carries on with the next one. Ids a
// sender reports in a RejectedError stay queued without failing the push.
func (s *StatusSyncer) Push(ctx context.Context, acct *account.Account, groups []PushGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := acct.Queue()
	selected, err := queue.SelectForProcessing(ctx)
	if err != nil {
		return fmt.Errorf("select pending statuses: %w", err)
	}
	if len(selected) == 0 {
		return nil
	}

	byGroup := make(map[groupKey][]string)
	for _, c := range selected {
		gk := groupKey{c.Key, c.Flag}
		byGroup[gk] = append(byGroup[gk], c.ArticleID)
	}

	// Resets must land even if ctx was cancelled mid push.
	cleanup := context.WithoutCancel(ctx)
	var errs []error
	for _, g := range groups {
		gk := groupKey{g.Key, g.Flag}
		ids := byGroup[gk]
		delete(byGroup, gk)
		for _, batch := range Chunk(ids, s.chunkSize()) {
			err := g.Send(ctx, batch)
			var rejected *RejectedError
			if errors.As(err, &rejected) {
				s.log.WarnContext(ctx, "status push rejected ids", "key", g.Key, "flag", g.Flag, "ids", rejected.IDs)
				if rerr := queue.ResetProcessing(cleanup, g.Key, rejected.IDs); rerr != nil {
					errs = append(errs, rerr)
				}
				batch = without(batch, rejected.IDs)
				err = nil
			}
			if err != nil {
				s.log.WarnContext(ctx, "status push failed", "key", g.Key, "flag", g.Flag, "count", len(batch), "error", err)
				errs = append(errs, err)
				if rerr := queue.ResetProcessing(cleanup, g.Key, batch); rerr != nil {
					errs = append(errs, rerr)
				}
				continue
			}
			if err := queue.DeleteProcessed(cleanup, g.Key, batch); err != nil {
				errs = append(errs, err)
			}
		}
	}

	// Changes no group handles go back to the queue untouched.
	for gk, ids := range byGroup {
		if err := queue.ResetProcessing(cleanup, gk.key, ids); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func without(ids, drop []string) []string {
	skip := make(map[string]struct{}, len(drop))
	for _, id := range drop {
		skip[id] = struct{}{}
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := skip[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func (s *StatusSyncer) chunkSize() int {
	if s.ChunkSize <= 0 {
		return DefaultPushChunkSize
	}
	return s.ChunkSize
}

// SyncState applies a remote id set for key. For StatusRead, remoteIDs are
// the unread ids; for StatusStarred, the starred ids. Ids with a pending local
// edit for key keep their local value.
func (s *StatusSyncer) SyncState(ctx context.Context, acct *account.Account, key models.StatusKey, remoteIDs map[string]struct{}) error {
	pending, err := acct.Queue().PendingArticleIDs(ctx, key)
	if err != nil {
		return fmt.Errorf("load pending %s ids: %w", key, err)
	}

	var local map[string]struct{}
	var remoteFlag bool
	switch key {
	case models.StatusRead:
		local, err = acct.Store().FetchUnreadArticleIDs(ctx)
		remoteFlag = false
	case models.StatusStarred:
		local, err = acct.Store().FetchStarredArticleIDs(ctx)
		remoteFlag = true
	default:
		return fmt.Errorf("%w: cannot sync %s", ErrInvalidParameter, key)
	}
	if err != nil {
		return err
	}

	var gained, lost []string
	for id := range remoteIDs {
		if _, ok := pending[id]; ok {
			continue
		}
		if _, ok := local[id]; !ok {
			gained = append(gained, id)
		}
	}
	for id := range local {
		if _, ok := pending[id]; ok {
			continue
		}
		if _, ok := remoteIDs[id]; !ok {
			lost = append(lost, id)
		}
	}

	if len(gained) > 0 {
		if _, err := acct.MarkArticles(ctx, gained, key, remoteFlag); err != nil {
			return err
		}
	}
	if len(lost) > 0 {
		if _, err := acct.MarkArticles(ctx, lost, key, !remoteFlag); err != nil {
			return err
		}
	}
	s.log.DebugContext(ctx, "applied remote statuses", "key", key, "remote", len(remoteIDs), "gained", len(gained), "lost", len(lost), "pending", len(pending))
	return nil
}

// MarkArticles applies a local mark, queues the changed ids for the service
// and calls push once the queue grows past the auto-push threshold.
// A failed automatic push is logged; the edits stay queued.
func (s *StatusSyncer) MarkArticles(ctx context.Context, acct *account.Account, ids []string, key models.StatusKey, flag bool, push func(context.Context) error) error {
	changed, err := acct.MarkArticles(ctx, ids, key, flag)
	if err != nil {
		return err
	}
	if len(changed) == 0 {
		return nil
	}
	changes := make([]syncdb.Change, len(changed))
	for i, st := range changed {
		changes[i] = syncdb.Change{ArticleID: st.ArticleID, Key: key, Flag: flag}
	}
	if err := acct.Queue().InsertStatuses(ctx, changes); err != nil {
		return fmt.Errorf("queue status changes: %w", err)
	}
	if push == nil {
		return nil
	}

	n, err := acct.Queue().PendingCount(ctx)
	if err != nil {
		return err
	}
	threshold := s.AutoPushThreshold
	if threshold <= 0 {
		threshold = DefaultAutoPushThreshold
	}
	if n > threshold {
		if err := push(ctx); err != nil {
			s.log.WarnContext(ctx, "automatic status push failed", "pending", n, "error", err)
		}
	}
	return nil
}
