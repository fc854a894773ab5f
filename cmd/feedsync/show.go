// ABOUTME: Show command for reading an article
// ABOUTME: Renders the article body as markdown in the terminal and marks it read

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harper/feedsync/internal/config"
	"github.com/harper/feedsync/internal/content"
	"github.com/harper/feedsync/internal/models"
)

var showCmd = &cobra.Command{
	Use:     "show <article-id>",
	Aliases: []string{"read"},
	Short:   "Read an article",
	Long:    "Display the full content of an article and mark it as read",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		noMark, _ := cmd.Flags().GetBool("no-mark")

		e, err := currentEntry()
		if err != nil {
			return err
		}
		ids, err := findArticles(cmd, e.Account, args)
		if err != nil {
			return err
		}
		a, err := e.Account.Store().FetchArticle(cmd.Context(), ids[0])
		if err != nil {
			return err
		}

		bold := color.New(color.Bold).SprintFunc()
		faint := color.New(color.Faint).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()

		fmt.Println(strings.Repeat("─", config.SeparatorWidth))

		title := a.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Printf("%s\n\n", bold(title))

		if feed, ok := e.Account.Feed(a.FeedID); ok {
			fmt.Printf("%s %s\n", faint("Feed:"), feed.DisplayName())
		}
		if authors := authorNames(a); authors != "" {
			fmt.Printf("%s %s\n", faint("Author:"), authors)
		}
		if a.DatePublished != nil {
			fmt.Printf("%s %s\n", faint("Published:"), a.DatePublished.Local().Format(config.DateFormatLong))
		}
		if link := articleLink(a); link != "" {
			fmt.Printf("%s %s\n", faint("Link:"), cyan(link))
		}
		for _, att := range a.Attachments {
			fmt.Printf("%s %s %s\n", faint("Attachment:"), att.URL, faint(att.MimeType))
		}

		fmt.Println(strings.Repeat("─", config.SeparatorWidth))

		if body := articleBody(a); body != "" {
			rendered, err := glamour.Render(body, "dark")
			if err != nil {
				fmt.Printf("%s\n", faint("(markdown rendering unavailable, showing plain text)"))
				fmt.Printf("\n%s\n", body)
			} else {
				fmt.Print(rendered)
			}
		} else {
			fmt.Println("\n(No content available)")
		}

		fmt.Println()

		if !noMark && !a.Status.Read {
			if err := e.Delegate.MarkArticles(cmd.Context(), e.Account, ids, models.StatusRead, true); err != nil {
				return fmt.Errorf("failed to mark article as read: %w", err)
			}
			fmt.Printf("%s\n", faint("Marked as read"))
		}

		return nil
	},
}

// articleBody returns the best available body as markdown.
func articleBody(a models.Article) string {
	switch {
	case a.ContentHTML != "":
		return content.ToMarkdown(a.ContentHTML)
	case a.ContentText != "":
		return a.ContentText
	case content.IsHTML(a.Summary):
		return content.ToMarkdown(a.Summary)
	default:
		return a.Summary
	}
}

func articleLink(a models.Article) string {
	if a.URL != "" {
		return a.URL
	}
	return a.ExternalURL
}

func authorNames(a models.Article) string {
	var names []string
	for _, au := range a.Authors {
		if au.Name != "" {
			names = append(names, au.Name)
		}
	}
	return strings.Join(names, ", ")
}

func init() {
	rootCmd.AddCommand(showCmd)

	showCmd.Flags().Bool("no-mark", false, "don't mark the article as read")
}
