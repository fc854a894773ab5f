// ABOUTME: Folder commands for creating, renaming and removing folders
// ABOUTME: Edits go through the account's sync service before the local tree is saved

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harper/feedsync/internal/account"
)

var folderCmd = &cobra.Command{
	Use:     "folder",
	Aliases: []string{"folders", "tag"},
	Short:   "Manage folders",
	Long:    "Create, rename and remove folders of an account",
}

var folderCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := currentEntry()
		if err != nil {
			return err
		}
		folder, err := e.Delegate.CreateFolder(cmd.Context(), e.Account, args[0])
		if err != nil {
			return fmt.Errorf("failed to create folder: %w", err)
		}
		if err := saveAccount(e); err != nil {
			return err
		}
		fmt.Printf("Created folder '%s'\n", folder.Name)
		return nil
	},
}

var folderRenameCmd = &cobra.Command{
	Use:   "rename <name> <new-name>",
	Short: "Rename a folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := currentEntry()
		if err != nil {
			return err
		}
		folder, ok := e.Account.FolderByName(args[0])
		if !ok {
			return fmt.Errorf("%w: %s", account.ErrFolderNotFound, args[0])
		}
		if err := e.Delegate.RenameFolder(cmd.Context(), e.Account, folder.ID, args[1]); err != nil {
			return fmt.Errorf("failed to rename folder: %w", err)
		}
		if err := saveAccount(e); err != nil {
			return err
		}
		fmt.Printf("Renamed folder '%s' to '%s'\n", args[0], args[1])
		return nil
	},
}

var folderRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Remove a folder",
	Long:    "Remove a folder. Feeds that were only in this folder are unsubscribed.",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := currentEntry()
		if err != nil {
			return err
		}
		folder, ok := e.Account.FolderByName(args[0])
		if !ok {
			return fmt.Errorf("%w: %s", account.ErrFolderNotFound, args[0])
		}
		if err := e.Delegate.RemoveFolder(cmd.Context(), e.Account, folder.ID); err != nil {
			return fmt.Errorf("failed to remove folder: %w", err)
		}
		if err := saveAccount(e); err != nil {
			return err
		}
		fmt.Printf("Removed folder '%s'\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(folderCmd)
	folderCmd.AddCommand(folderCreateCmd)
	folderCmd.AddCommand(folderRenameCmd)
	folderCmd.AddCommand(folderRemoveCmd)
}
