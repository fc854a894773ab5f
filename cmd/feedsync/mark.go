// ABOUTME: Mark command for changing read and starred state of articles
// ABOUTME: Changes are queued for the sync service and pushed right away when possible

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/harper/feedsync/internal/manager"
	"github.com/harper/feedsync/internal/models"
	"github.com/harper/feedsync/internal/timeutil"
)

var markCmd = &cobra.Command{
	Use:       "mark <read|unread|star|unstar> [article-id...]",
	Aliases:   []string{"m"},
	Short:     "Mark articles read, unread, starred or unstarred",
	ValidArgs: []string{"read", "unread", "star", "unstar"},
	Long: `Mark articles by id or id prefix.

With --all, mark every article matching the listing filters instead,
for example every unread article of a feed older than a week:

  feedsync mark read --all --feed "Go Blog" --before 7d`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, flag, err := manager.ParseAction(args[0])
		if err != nil {
			return err
		}
		all, _ := cmd.Flags().GetBool("all")
		if all == (len(args) > 1) {
			return fmt.Errorf("give article ids or --all, not both")
		}

		e, err := currentEntry()
		if err != nil {
			return err
		}

		var ids []string
		if all {
			ids, err = matchingArticles(cmd, e, key, flag)
		} else {
			ids, err = findArticles(cmd, e.Account, args[1:])
		}
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("No articles to mark")
			return nil
		}

		if err := e.Delegate.MarkArticles(cmd.Context(), e.Account, ids, key, flag); err != nil {
			return fmt.Errorf("failed to mark articles: %w", err)
		}
		fmt.Printf("Marked %d article(s) %s\n", len(ids), args[0])
		return nil
	},
}

// matchingArticles lists the ids the listing filters select, skipping
// articles already in the requested state.
func matchingArticles(cmd *cobra.Command, e *manager.Entry, key models.StatusKey, flag bool) ([]string, error) {
	filter, err := articleFilter(cmd, e)
	if err != nil {
		return nil, err
	}
	filter.Limit = 0
	var before time.Time
	if b, _ := cmd.Flags().GetString("before"); b != "" {
		if before, err = timeutil.ParseSince(b, time.Now()); err != nil {
			return nil, err
		}
	}
	arts, err := manager.Articles(cmd.Context(), e.Account, filter)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, a := range arts {
		if !before.IsZero() && publishedOrArrived(a).After(before) {
			continue
		}
		if stateOf(a, key) == flag {
			continue
		}
		ids = append(ids, a.ArticleID)
	}
	return ids, nil
}

func publishedOrArrived(a models.Article) time.Time {
	if a.DatePublished != nil {
		return *a.DatePublished
	}
	return a.Status.DateArrived
}

func stateOf(a models.Article, key models.StatusKey) bool {
	if key == models.StatusStarred {
		return a.Status.Starred
	}
	return a.Status.Read
}

func init() {
	rootCmd.AddCommand(markCmd)

	markCmd.Flags().Bool("all", false, "mark every article matching the filters")
	markCmd.Flags().String("before", "", "with --all, only articles older than this")
	markCmd.Flags().StringP("feed", "f", "", "with --all, filter by feed id, URL or name")
	markCmd.Flags().StringP("folder", "c", "", "with --all, filter by folder name")
	markCmd.Flags().BoolP("unread", "u", false, "with --all, only unread articles")
	markCmd.Flags().BoolP("starred", "s", false, "with --all, only starred articles")
	markCmd.Flags().String("since", "", "with --all, only articles newer than this")
	markCmd.MarkFlagsMutuallyExclusive("feed", "folder")
}
