// ABOUTME: Feed management commands for subscribing, renaming, moving and removing feeds
// ABOUTME: Handles subscription edits through the account's sync service and saves the tree

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var feedCmd = &cobra.Command{
	Use:     "feed",
	Aliases: []string{"f"},
	Short:   "Manage feeds",
	Long:    "Add, rename, move and remove feed subscriptions",
}

var feedAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Subscribe to a feed",
	Long:  "Subscribe to a feed. The URL may be the feed itself or a page that links to one.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		folderName, _ := cmd.Flags().GetString("folder")
		title, _ := cmd.Flags().GetString("title")

		e, err := currentEntry()
		if err != nil {
			return err
		}

		folderID := ""
		if folderName != "" {
			if folder, ok := e.Account.FolderByName(folderName); ok {
				folderID = folder.ID
			} else {
				created, err := e.Delegate.CreateFolder(cmd.Context(), e.Account, folderName)
				if err != nil {
					return fmt.Errorf("failed to create folder: %w", err)
				}
				folderID = created.ID
			}
		}

		feed, err := e.Delegate.CreateFeed(cmd.Context(), e.Account, args[0], title, folderID)
		if err != nil {
			return fmt.Errorf("failed to add feed: %w", err)
		}
		if err := saveAccount(e); err != nil {
			return err
		}

		if folderName != "" {
			fmt.Printf("Added feed to folder '%s': %s\n", folderName, feed.DisplayName())
		} else {
			fmt.Printf("Added feed: %s\n", feed.DisplayName())
		}
		fmt.Printf("Feed URL: %s\n", feed.URL)
		return nil
	},
}

var feedListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List subscribed feeds",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := currentEntry()
		if err != nil {
			return err
		}
		feeds := e.Account.Feeds()
		if len(feeds) == 0 {
			fmt.Println("No feeds found. Add a feed with 'feedsync feed add <url>'")
			return nil
		}

		fmt.Printf("Found %d feed(s):\n\n", len(feeds))
		for _, feed := range feeds {
			var names []string
			for _, id := range e.Account.FoldersForFeed(feed.FeedID) {
				if f, ok := e.Account.Folder(id); ok {
					names = append(names, f.Name)
				}
			}
			if len(names) > 0 {
				fmt.Printf("[%s] %s\n", strings.Join(names, ", "), feed.DisplayName())
			} else {
				fmt.Printf("%s\n", feed.DisplayName())
			}
			fmt.Printf("  URL: %s\n\n", feed.URL)
		}
		return nil
	},
}

var feedRenameCmd = &cobra.Command{
	Use:   "rename <feed> <name>",
	Short: "Rename a feed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := currentEntry()
		if err != nil {
			return err
		}
		feed, err := findFeed(e.Account, args[0])
		if err != nil {
			return err
		}
		if err := e.Delegate.RenameFeed(cmd.Context(), e.Account, feed.FeedID, args[1]); err != nil {
			return fmt.Errorf("failed to rename feed: %w", err)
		}
		if err := saveAccount(e); err != nil {
			return err
		}
		fmt.Printf("Renamed %s to '%s'\n", feed.DisplayName(), args[1])
		return nil
	},
}

var feedRemoveCmd = &cobra.Command{
	Use:     "remove <feed>",
	Aliases: []string{"rm"},
	Short:   "Remove a feed",
	Long:    "Remove a feed from a folder, or from the top level without --folder. A feed left in no folder is unsubscribed.",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		folderName, _ := cmd.Flags().GetString("folder")

		e, err := currentEntry()
		if err != nil {
			return err
		}
		feed, err := findFeed(e.Account, args[0])
		if err != nil {
			return err
		}
		folderID, err := findFolder(e.Account, folderName)
		if err != nil {
			return err
		}
		if err := e.Delegate.RemoveFeed(cmd.Context(), e.Account, feed.FeedID, folderID); err != nil {
			return fmt.Errorf("failed to remove feed: %w", err)
		}
		if err := saveAccount(e); err != nil {
			return err
		}
		if _, still := e.Account.Feed(feed.FeedID); still {
			fmt.Printf("Removed %s from %s\n", feed.DisplayName(), containerName(folderName))
		} else {
			fmt.Printf("Unsubscribed from %s\n", feed.DisplayName())
		}
		return nil
	},
}

var feedMoveCmd = &cobra.Command{
	Use:   "move <feed> <folder>",
	Short: "Move a feed to another folder",
	Long:  "Move a feed to another folder. Use \"\" as the folder for the top level.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")

		e, err := currentEntry()
		if err != nil {
			return err
		}
		feed, err := findFeed(e.Account, args[0])
		if err != nil {
			return err
		}
		fromID, err := findFolder(e.Account, from)
		if err != nil {
			return err
		}
		if from == "" {
			// Default to the feed's only folder.
			if folders := e.Account.FoldersForFeed(feed.FeedID); len(folders) == 1 {
				fromID = folders[0]
			}
		}
		toID, err := findFolder(e.Account, args[1])
		if err != nil {
			return err
		}
		if fromID == toID {
			return fmt.Errorf("feed is already in %s", containerName(args[1]))
		}
		if err := e.Delegate.MoveFeed(cmd.Context(), e.Account, feed.FeedID, fromID, toID); err != nil {
			return fmt.Errorf("failed to move feed: %w", err)
		}
		if err := saveAccount(e); err != nil {
			return err
		}
		fmt.Printf("Moved %s to %s\n", feed.DisplayName(), containerName(args[1]))
		return nil
	},
}

// containerName names a folder or the top level for messages.
func containerName(folder string) string {
	if folder == "" {
		return "the top level"
	}
	return "'" + folder + "'"
}

func init() {
	rootCmd.AddCommand(feedCmd)
	feedCmd.AddCommand(feedAddCmd)
	feedCmd.AddCommand(feedListCmd)
	feedCmd.AddCommand(feedRenameCmd)
	feedCmd.AddCommand(feedRemoveCmd)
	feedCmd.AddCommand(feedMoveCmd)

	feedAddCmd.Flags().StringP("folder", "f", "", "folder to place the feed in (created if needed)")
	feedAddCmd.Flags().StringP("title", "t", "", "display name (defaults to the feed title)")
	feedRemoveCmd.Flags().StringP("folder", "f", "", "folder to remove the feed from")
	feedMoveCmd.Flags().String("from", "", "folder to move the feed out of (default: its only folder)")
}
