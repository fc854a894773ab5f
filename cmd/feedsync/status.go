// ABOUTME: Status command showing each account's folder tree with unread counts
// ABOUTME: Also reports pending changes waiting to be pushed and the last refresh time

package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harper/feedsync/internal/config"
	"github.com/harper/feedsync/internal/manager"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"st"},
	Short:   "Show accounts, folders and unread counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		entries := mgr.Accounts()
		if accountFlag != "" {
			e, err := mgr.Account(accountFlag)
			if err != nil {
				return err
			}
			entries = []*manager.Entry{e}
		}
		if len(entries) == 0 {
			fmt.Println("No accounts configured. Add one with 'feedsync account add <type>'")
			return nil
		}
		for i, e := range entries {
			if i > 0 {
				fmt.Println()
			}
			if err := printStatus(cmd, e); err != nil {
				return err
			}
		}
		return nil
	},
}

func printStatus(cmd *cobra.Command, e *manager.Entry) error {
	ctx := cmd.Context()
	acct := e.Account
	bold := color.New(color.Bold).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	total, err := acct.UnreadCount(ctx)
	if err != nil {
		return err
	}
	pending, err := acct.Queue().PendingCount(ctx)
	if err != nil {
		return err
	}

	fmt.Println(strings.Repeat("─", config.SeparatorWidth))
	fmt.Printf("%s %s  %s\n", bold(acct.Name()), faint("("+e.Config.ID+")"), unreadBadge(total))
	if last := acct.Metadata().LastArticleFetchEndTime; last != nil {
		fmt.Printf("%s %s\n", faint("Last refresh:"), last.Local().Format(config.DateFormatLong))
	} else {
		fmt.Printf("%s never\n", faint("Last refresh:"))
	}
	if pending > 0 {
		fmt.Printf("%s %s\n", faint("Pending changes:"), yellow(pending))
	}
	fmt.Println(strings.Repeat("─", config.SeparatorWidth))

	for _, folder := range acct.Folders() {
		n, err := acct.UnreadCountForFolder(ctx, folder.ID)
		if err != nil {
			return err
		}
		fmt.Printf("%s  %s\n", bold(folder.Name), unreadBadge(n))
		for _, feedID := range sortedFeedIDs(folder.FeedIDs) {
			if err := printFeedLine(cmd, e, feedID, "  "); err != nil {
				return err
			}
		}
	}
	for _, feedID := range acct.TopLevelFeedIDs() {
		if err := printFeedLine(cmd, e, feedID, ""); err != nil {
			return err
		}
	}
	return nil
}

func printFeedLine(cmd *cobra.Command, e *manager.Entry, feedID, indent string) error {
	feed, ok := e.Account.Feed(feedID)
	if !ok {
		return nil
	}
	n, err := e.Account.UnreadCountForFeed(cmd.Context(), feedID)
	if err != nil {
		return err
	}
	fmt.Printf("%s%s  %s\n", indent, feed.DisplayName(), unreadBadge(n))
	return nil
}

func unreadBadge(n int) string {
	if n == 0 {
		return color.New(color.Faint).Sprint("0")
	}
	return color.New(color.FgCyan).Sprint(n)
}

func sortedFeedIDs(set map[string]struct{}) []string {
	return slices.Sorted(maps.Keys(set))
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
