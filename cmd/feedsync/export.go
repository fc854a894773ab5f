// ABOUTME: Export command for writing an account's subscriptions as OPML
// ABOUTME: Writes to stdout or a file for backup or moving to another service

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export subscriptions as OPML",
	Long:  "Export the account's folders and feeds in OPML format to standard output or --output",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		e, err := currentEntry()
		if err != nil {
			return err
		}
		doc := e.Account.OPML()
		if output == "" {
			return doc.Write(os.Stdout)
		}
		if err := doc.WriteFile(output); err != nil {
			return fmt.Errorf("failed to write OPML: %w", err)
		}
		fmt.Printf("Exported %d feed(s) to %s\n", len(doc.AllFeeds()), output)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringP("output", "o", "", "write to this file instead of stdout")
}
