// ABOUTME: Daemon command that refreshes every active account on an interval
// ABOUTME: Reloads the refresh interval when the config file changes and stops on SIGINT or SIGTERM

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

// pruneEvery is how often the daemon applies retention.
const pruneEvery = 24 * time.Hour

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Refresh accounts periodically",
	Long: `Refresh every active account now and then every --interval until
interrupted. Without --interval the config's refreshInterval is used and
re-read whenever the config file changes. Retention runs once a day.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fixed, _ := cmd.Flags().GetDuration("interval")
		interval, err := daemonInterval(fixed)
		if err != nil {
			return err
		}

		watcher, err := watchConfig(cfg.Path())
		if err != nil {
			return err
		}
		defer watcher.Close()

		d := &daemon{}
		d.tick(ctx)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		log.InfoContext(ctx, "daemon started", "interval", interval, "accounts", len(mgr.ActiveAccounts()))

		for {
			select {
			case <-ctx.Done():
				log.Info("daemon stopping")
				return nil
			case <-ticker.C:
				d.tick(ctx)
			case ev, ok := <-watcher.Events:
				if !ok {
					return fmt.Errorf("config watcher closed")
				}
				if fixed > 0 || !isConfigChange(ev, cfg.Path()) {
					continue
				}
				next, err := reloadInterval(cmd)
				if err != nil {
					log.WarnContext(ctx, "config reload failed", "error", err)
					continue
				}
				if next != interval {
					interval = next
					ticker.Reset(interval)
					log.InfoContext(ctx, "refresh interval changed", "interval", interval)
				}
			case err, ok := <-watcher.Errors:
				if ok {
					log.WarnContext(ctx, "config watcher error", "error", err)
				}
			}
		}
	},
}

type daemon struct {
	lastPrune time.Time
}

func (d *daemon) tick(ctx context.Context) {
	if err := mgr.RefreshAll(ctx, nil); err != nil && ctx.Err() == nil {
		log.WarnContext(ctx, "refresh finished with errors", "error", err)
	}
	if time.Since(d.lastPrune) < pruneEvery || ctx.Err() != nil {
		return
	}
	results, err := mgr.Prune(ctx, 0)
	if err != nil {
		log.WarnContext(ctx, "prune failed", "error", err)
	}
	for _, r := range results {
		log.InfoContext(ctx, "pruned", "account", r.AccountID, "articles", r.Articles, "statuses", r.Statuses)
	}
	d.lastPrune = time.Now()
}

// daemonInterval returns fixed when set, else the configured interval.
func daemonInterval(fixed time.Duration) (time.Duration, error) {
	if fixed < 0 {
		return 0, fmt.Errorf("--interval must be positive")
	}
	if fixed > 0 {
		return fixed, nil
	}
	return cfg.GetRefreshInterval()
}

// watchConfig watches the config file's directory so saves that replace the
// file by rename are seen.
func watchConfig(path string) (*fsnotify.Watcher, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to watch config: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config: %w", err)
	}
	return watcher, nil
}

func isConfigChange(ev fsnotify.Event, path string) bool {
	if filepath.Clean(ev.Name) != filepath.Clean(path) {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

// reloadInterval re-reads the config and returns its refresh interval.
// Account changes need a restart.
func reloadInterval(cmd *cobra.Command) (time.Duration, error) {
	next, err := loadConfig(cmd)
	if err != nil {
		return 0, err
	}
	if len(next.Accounts) != len(cfg.Accounts) {
		log.Warn("account list changed; restart the daemon to pick it up")
	}
	return next.GetRefreshInterval()
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().Duration("interval", 0, "refresh interval (default: refreshInterval from the config)")
}
