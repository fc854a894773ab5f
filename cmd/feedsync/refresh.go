// ABOUTME: Refresh command that syncs accounts with their services
// ABOUTME: Pushes queued edits, mirrors folders and feeds, and downloads new articles

package main

import (
	"fmt"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harper/feedsync/internal/manager"
)

var refreshCmd = &cobra.Command{
	Use:     "refresh",
	Aliases: []string{"sync", "fetch"},
	Short:   "Sync accounts with their services",
	Long: `Refresh one account (--account) or every active account concurrently.

Queued read and star changes are pushed first, then the folder tree and
subscriptions are mirrored and new articles are downloaded.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()

		if accountFlag != "" {
			e, err := mgr.Account(accountFlag)
			if err != nil {
				return err
			}
			fmt.Printf("Refreshing %s...\n", e.Config.ID)
			if err := e.Delegate.RefreshAll(ctx, e.Account); err != nil {
				return fmt.Errorf("refresh failed: %w", err)
			}
			return printUnread(cmd)
		}

		if len(mgr.ActiveAccounts()) == 0 {
			fmt.Println("No active accounts. Add one with 'feedsync account add <type>'")
			return nil
		}

		var mu sync.Mutex
		err := mgr.RefreshAll(ctx, func(p manager.Progress) {
			mu.Lock()
			defer mu.Unlock()
			status := green("✓")
			if p.Err != nil {
				status = red("✗ " + p.Err.Error())
			}
			fmt.Printf("[%d/%d] %s %s\n", p.Completed, p.Total, p.AccountID, status)
		})
		if perr := printUnread(cmd); perr != nil {
			return perr
		}
		if err != nil {
			return fmt.Errorf("some accounts failed to refresh")
		}
		return nil
	},
}

func printUnread(cmd *cobra.Command) error {
	n, err := mgr.UnreadCount(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("\n%d unread\n", n)
	return nil
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}
