// ABOUTME: Import command for subscribing to every feed in an OPML file
// ABOUTME: Hands the whole document to the account's sync service in one request

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harper/feedsync/internal/opml"
)

var importCmd = &cobra.Command{
	Use:   "import <opml-file>",
	Short: "Import feeds from an OPML file",
	Long: `Import feeds from an OPML file.

Top-level outlines with children become folders. Services that import
OPML asynchronously may take a while to show every feed; run
'feedsync refresh' afterwards to pick them up.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := opml.ParseFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to parse OPML: %w", err)
		}
		feeds := doc.AllFeeds()
		if len(feeds) == 0 {
			fmt.Println("No feeds found in OPML file")
			return nil
		}

		e, err := currentEntry()
		if err != nil {
			return err
		}
		if err := e.Delegate.ImportBulkSubscriptions(cmd.Context(), e.Account, doc); err != nil {
			return fmt.Errorf("failed to import: %w", err)
		}
		if err := saveAccount(e); err != nil {
			return err
		}
		fmt.Printf("Imported %d feed(s) in %d folder(s)\n", len(feeds), len(doc.Folders()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
