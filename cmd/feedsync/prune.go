// ABOUTME: Prune command that applies article retention and drops old statuses
// ABOUTME: Reports how many articles and statuses were removed per account

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/harper/feedsync/internal/articles"
)

var defaultStatusAgeDays = int(articles.DefaultStatusAge / (24 * time.Hour))

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete articles outside the retention window",
	Long: `Delete read articles that arrived before the retention window
(retentionDays in the config) along with articles you deleted, then drop
statuses older than --status-days. Starred articles are always kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("status-days")
		if days < 0 {
			return fmt.Errorf("--status-days must not be negative")
		}
		results, err := mgr.Prune(cmd.Context(), time.Duration(days)*24*time.Hour)
		for _, r := range results {
			fmt.Printf("%s: removed %d article(s), %d status(es)\n", r.AccountID, r.Articles, r.Statuses)
		}
		if err != nil {
			return fmt.Errorf("prune failed: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pruneCmd)

	pruneCmd.Flags().Int("status-days", defaultStatusAgeDays, "drop statuses older than this many days")
}
