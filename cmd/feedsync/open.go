// ABOUTME: Open command for launching article links in the browser
// ABOUTME: Opens the article's link and marks it read through the sync service

package main

import (
	"fmt"
	"net/url"
	"os/exec"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harper/feedsync/internal/models"
)

var openCmd = &cobra.Command{
	Use:   "open <article-id>",
	Short: "Open an article link in the browser and mark it read",
	Long:  "Open an article's link in your default browser and mark it read. Accepts a full id or a unique prefix shown by list.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		link, err := browsableLink(a)
		if err != nil {
			return err
		}
		if err := openBrowser(link); err != nil {
			return fmt.Errorf("failed to open browser: %w", err)
		}

		if !a.Status.Read {
			if err := e.Delegate.MarkArticles(cmd.Context(), e.Account, ids, models.StatusRead, true); err != nil {
				return fmt.Errorf("failed to mark article as read: %w", err)
			}
		}

		title := a.Title
		if title == "" {
			title = "Untitled"
		}
		color.Green("✓ Opened and marked as read: %s", title)
		return nil
	},
}

// browsableLink returns the article's link when it is an http or https URL.
func browsableLink(a models.Article) (string, error) {
	link := articleLink(a)
	if link == "" {
		return "", fmt.Errorf("article has no link")
	}
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("article has malformed link: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("article link must be http or https, got: %s", u.Scheme)
	}
	return u.String(), nil
}

// openBrowser opens a URL in the default browser for the current platform
func openBrowser(urlStr string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", urlStr)
	case "linux":
		cmd = exec.Command("xdg-open", urlStr)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", urlStr)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	// Reap the child so it does not linger as a zombie
	go cmd.Wait()

	return nil
}

func init() {
	rootCmd.AddCommand(openCmd)
}
