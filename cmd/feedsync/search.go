// ABOUTME: Search command for full-text queries over stored articles
// ABOUTME: Brings the search index up to date before querying

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harper/feedsync/internal/manager"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search article titles and bodies",
	Long: `Search article titles and bodies.

Each word matches as a prefix. AND, OR and NOT combine words.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := currentEntry()
		if err != nil {
			return err
		}
		if _, err := e.Account.Store().IndexPending(cmd.Context()); err != nil {
			return fmt.Errorf("failed to update search index: %w", err)
		}
		filter, err := articleFilter(cmd, e)
		if err != nil {
			return err
		}
		filter.Query = strings.Join(args, " ")
		arts, err := manager.Articles(cmd.Context(), e.Account, filter)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		printArticles(e, arts)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
	addFilterFlags(searchCmd)
}
