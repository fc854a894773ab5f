// ABOUTME: Root Cobra command and global flags
// ABOUTME: Loads .env and config, then opens every account through the manager

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"

	"github.com/harper/feedsync/internal/account"
	"github.com/harper/feedsync/internal/articles"
	"github.com/harper/feedsync/internal/config"
	"github.com/harper/feedsync/internal/logger"
	"github.com/harper/feedsync/internal/manager"
	"github.com/harper/feedsync/internal/models"
	"github.com/harper/feedsync/internal/secrets"
)

// skipSetup marks commands that run without opening accounts.
const skipSetup = "skipSetup"

var (
	configPath  string
	accountFlag string

	cfg        *config.Config
	mgr        *manager.Manager
	store      secrets.Store
	log        *slog.Logger
	httpClient = &http.Client{Timeout: config.DefaultHTTPTimeout}
)

var rootCmd = &cobra.Command{
	Use:   "feedsync",
	Short: "Feed reader sync engine with MCP integration",
	Long: `
███████╗███████╗███████╗██████╗ ███████╗██╗   ██╗███╗   ██╗ ██████╗
██╔════╝██╔════╝██╔════╝██╔══██╗██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝
█████╗  █████╗  █████╗  ██║  ██║███████╗ ╚████╔╝ ██╔██╗ ██║██║
██╔══╝  ██╔══╝  ██╔══╝  ██║  ██║╚════██║  ╚██╔╝  ██║╚██╗██║██║
██║     ███████╗███████╗██████╔╝███████║   ██║   ██║ ╚████║╚██████╗
╚═╝     ╚══════╝╚══════╝╚═════╝ ╚══════╝   ╚═╝   ╚═╝  ╚═══╝ ╚═════╝

Sync feed subscriptions and read state with Feedbin, Feedly, Reader API
services, or fetch feeds directly on this device.

Articles are stored locally; edits are queued and pushed on refresh.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, ok := cmd.Annotations[skipSetup]; ok {
			return nil
		}
		return setup(cmd)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if mgr != nil {
			if err := mgr.Close(); err != nil {
				return fmt.Errorf("failed to close accounts: %w", err)
			}
			mgr = nil
		}
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default: ~/.config/feedsync/config.json)")
	rootCmd.PersistentFlags().StringVarP(&accountFlag, "account", "A", "", "account id (default: the only active account)")
}

func setup(cmd *cobra.Command) error {
	// A missing .env is fine.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	var err error
	cfg, err = loadConfig(cmd)
	if err != nil {
		return err
	}
	log = logger.New(os.Stderr, cfg.GetLogFormat(), cfg.GetLogLevel())
	slog.SetDefault(log)
	store = secrets.NewFileStore(cfg.SecretsPath())

	mgr, err = manager.New(manager.Options{
		Config:     cfg,
		Secrets:    store,
		Logger:     log,
		HTTPClient: httpClient,
	})
	if err != nil {
		return fmt.Errorf("failed to open accounts: %w", err)
	}
	return nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.GetConfigPath()
	}
	c, err := config.LoadFrom(cmd.Context(), config.ExpandPath(path), envconfig.OsLookuper())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return c, nil
}

// currentEntry resolves --account, falling back to the only active account.
func currentEntry() (*manager.Entry, error) {
	if accountFlag != "" {
		return mgr.Account(accountFlag)
	}
	return mgr.Default()
}

// saveAccount persists the tree after a structural edit.
func saveAccount(e *manager.Entry) error {
	if err := e.Account.Save(); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// shortID truncates an id for display.
func shortID(id string) string {
	if len(id) > config.DisplayIDLength {
		return id[:config.DisplayIDLength]
	}
	return id
}

// findFeed resolves a feed by id, URL or display name.
func findFeed(acct *account.Account, ref string) (account.Feed, error) {
	if f, ok := acct.Feed(ref); ok {
		return f, nil
	}
	if f, ok := acct.FeedByURL(ref); ok {
		return f, nil
	}
	var matches []account.Feed
	for _, f := range acct.Feeds() {
		if strings.EqualFold(f.DisplayName(), ref) {
			matches = append(matches, f)
		}
	}
	switch len(matches) {
	case 0:
		return account.Feed{}, fmt.Errorf("%w: %s", account.ErrFeedNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return account.Feed{}, fmt.Errorf("%d feeds are named %q; use the feed URL", len(matches), ref)
	}
}

// findFolder resolves a folder by name. An empty name is the top level.
func findFolder(acct *account.Account, name string) (string, error) {
	if name == "" {
		return "", nil
	}
	f, ok := acct.FolderByName(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", account.ErrFolderNotFound, name)
	}
	return f.ID, nil
}

// findArticles resolves full ids or unique prefixes of ids shown by list.
func findArticles(cmd *cobra.Command, acct *account.Account, refs []string) ([]string, error) {
	ids := make([]string, 0, len(refs))
	var all []models.Article
	for _, ref := range refs {
		if _, err := acct.Store().FetchArticle(cmd.Context(), ref); err == nil {
			ids = append(ids, ref)
			continue
		} else if !errors.Is(err, articles.ErrNotFound) {
			return nil, err
		}
		if all == nil {
			var err error
			if all, err = acct.Store().FetchAllArticles(cmd.Context(), acct.FeedIDs()); err != nil {
				return nil, err
			}
		}
		var match []string
		for _, a := range all {
			if strings.HasPrefix(a.ArticleID, ref) {
				match = append(match, a.ArticleID)
			}
		}
		switch len(match) {
		case 0:
			return nil, fmt.Errorf("%w: %s", articles.ErrNotFound, ref)
		case 1:
			ids = append(ids, match[0])
		default:
			return nil, fmt.Errorf("article prefix %q is ambiguous (%d matches)", ref, len(match))
		}
	}
	return ids, nil
}
