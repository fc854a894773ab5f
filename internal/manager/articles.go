// ABOUTME: Article queries shared by the CLI and the MCP server
// ABOUTME: Applies feed, folder, status, since and limit filters over one account's store

package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/harper/feedsync/internal/account"
	"github.com/harper/feedsync/internal/models"
)

// Filter narrows an article listing. Zero values mean no restriction.
type Filter struct {
	FeedID   string
	FolderID string
	Unread   bool
	Starred  bool
	Since    time.Time
	Query    string
	Limit    int
}

// feedIDs resolves the feed set the filter covers.
func (f Filter) feedIDs(acct *account.Account) ([]string, error) {
	switch {
	case f.FeedID != "":
		if _, ok := acct.Feed(f.FeedID); !ok {
			return nil, fmt.Errorf("%w: %s", account.ErrFeedNotFound, f.FeedID)
		}
		return []string{f.FeedID}, nil
	case f.FolderID != "":
		folder, ok := acct.Folder(f.FolderID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", account.ErrFolderNotFound, f.FolderID)
		}
		ids := make([]string, 0, len(folder.FeedIDs))
		for id := range folder.FeedIDs {
			ids = append(ids, id)
		}
		return ids, nil
	default:
		return acct.FeedIDs(), nil
	}
}

// Articles lists the account's articles matching f, newest first.
func Articles(ctx context.Context, acct *account.Account, f Filter) ([]models.Article, error) {
	feedIDs, err := f.feedIDs(acct)
	if err != nil {
		return nil, err
	}
	store := acct.Store()

	var arts []models.Article
	switch {
	case f.Query != "":
		arts, err = store.Search(ctx, f.Query, feedIDs)
	case f.Starred:
		arts, err = store.FetchStarredArticles(ctx, feedIDs)
	case f.Unread:
		arts, err = store.FetchUnreadArticles(ctx, feedIDs)
	case !f.Since.IsZero():
		arts, err = store.FetchArticlesSince(ctx, feedIDs, f.Since)
	default:
		arts, err = store.FetchArticles(ctx, feedIDs)
	}
	if err != nil {
		return nil, err
	}

	out := arts[:0]
	for _, a := range arts {
		if f.Unread && a.Status.Read {
			continue
		}
		if f.Starred && !a.Status.Starred {
			continue
		}
		if !f.Since.IsZero() && !articleTime(a).After(f.Since) {
			continue
		}
		out = append(out, a)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func articleTime(a models.Article) time.Time {
	if a.DatePublished != nil {
		return *a.DatePublished
	}
	return a.Status.DateArrived
}

// ParseAction maps a mark verb to the status key and flag it sets.
func ParseAction(action string) (models.StatusKey, bool, error) {
	switch action {
	case "read":
		return models.StatusRead, true, nil
	case "unread":
		return models.StatusRead, false, nil
	case "star", "starred":
		return models.StatusStarred, true, nil
	case "unstar", "unstarred":
		return models.StatusStarred, false, nil
	default:
		return "", false, fmt.Errorf("unknown action %q: want read, unread, star or unstar", action)
	}
}
