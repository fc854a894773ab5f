// ABOUTME: List command for viewing articles with filtering options
// ABOUTME: Displays articles with read and star state, title, and published date using color formatting

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harper/feedsync/internal/config"
	"github.com/harper/feedsync/internal/manager"
	"github.com/harper/feedsync/internal/models"
	"github.com/harper/feedsync/internal/timeutil"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls", "l"},
	Short:   "List articles",
	Long: `List articles newest first.

--since accepts today, yesterday, week, month, a count of days such as 7d,
a duration such as 36h, or a date (YYYY-MM-DD).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := currentEntry()
		if err != nil {
			return err
		}
		filter, err := articleFilter(cmd, e)
		if err != nil {
			return err
		}
		arts, err := manager.Articles(cmd.Context(), e.Account, filter)
		if err != nil {
			return fmt.Errorf("failed to list articles: %w", err)
		}
		printArticles(e, arts)
		return nil
	},
}

// articleFilter builds a filter from the shared listing flags.
func articleFilter(cmd *cobra.Command, e *manager.Entry) (manager.Filter, error) {
	feedRef, _ := cmd.Flags().GetString("feed")
	folderName, _ := cmd.Flags().GetString("folder")
	unread, _ := cmd.Flags().GetBool("unread")
	starred, _ := cmd.Flags().GetBool("starred")
	since, _ := cmd.Flags().GetString("since")
	limit, _ := cmd.Flags().GetInt("limit")

	filter := manager.Filter{Unread: unread, Starred: starred, Limit: limit}
	if feedRef != "" {
		feed, err := findFeed(e.Account, feedRef)
		if err != nil {
			return filter, err
		}
		filter.FeedID = feed.FeedID
	}
	if folderName != "" {
		id, err := findFolder(e.Account, folderName)
		if err != nil {
			return filter, err
		}
		filter.FolderID = id
	}
	if since != "" {
		t, err := timeutil.ParseSince(since, time.Now())
		if err != nil {
			return filter, err
		}
		filter.Since = t
	}
	return filter, nil
}

func printArticles(e *manager.Entry, arts []models.Article) {
	if len(arts) == 0 {
		fmt.Println("No articles found")
		return
	}

	faint := color.New(color.Faint).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	for _, a := range arts {
		fmt.Print(faint(shortID(a.ArticleID)))
		fmt.Print(" ")

		switch {
		case a.Status.Starred:
			fmt.Print(yellow("★ "))
		case a.Status.Read:
			fmt.Print("✓ ")
		default:
			fmt.Print("  ")
		}

		title := strings.TrimSpace(a.Title)
		if title == "" {
			title = "Untitled"
		}
		fmt.Print(title)

		if feed, ok := e.Account.Feed(a.FeedID); ok {
			fmt.Print(" ")
			fmt.Print(faint("· " + feed.DisplayName()))
		}
		if a.DatePublished != nil {
			fmt.Print(" ")
			fmt.Print(faint(a.DatePublished.Local().Format(config.DateFormatShort)))
		}

		fmt.Println()
	}
}

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("feed", "f", "", "filter by feed id, URL or name")
	cmd.Flags().StringP("folder", "c", "", "filter by folder name")
	cmd.Flags().BoolP("unread", "u", false, "only unread articles")
	cmd.Flags().BoolP("starred", "s", false, "only starred articles")
	cmd.Flags().String("since", "", "only articles newer than this")
	cmd.Flags().IntP("limit", "n", config.DefaultListLimit, "max articles to show (0 for all)")
	cmd.MarkFlagsMutuallyExclusive("feed", "folder")
}

func init() {
	rootCmd.AddCommand(listCmd)
	addFilterFlags(listCmd)
}
