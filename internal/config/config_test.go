// ABOUTME: Tests for config loading, environment overrides and account editing
// ABOUTME: Uses temp dirs and a map lookuper so the real environment is untouched

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/harper/feedsync/internal/account"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg, err := LoadFrom(context.Background(), path, envconfig.MapLookuper(nil))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if len(cfg.Accounts) != 0 {
		t.Errorf("expected no accounts, got %d", len(cfg.Accounts))
	}
	if cfg.GetLogFormat() != DefaultLogFormat || cfg.GetRetentionDays() != DefaultRetentionDays {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.Path() != path {
		t.Errorf("path = %q, want %q", cfg.Path(), path)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feedsync", "config.json")
	ctx := context.Background()

	cfg, err := LoadFrom(ctx, path, nil)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.RetentionDays = 30
	added, err := cfg.AddAccount(AccountConfig{Type: account.TypeFeedbin, Username: "me@example.com"})
	if err != nil {
		t.Fatalf("AddAccount: %v", err)
	}
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadFrom(ctx, path, nil)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	got, err := loaded.Account(added.ID)
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if !got.Active || got.Type != account.TypeFeedbin || got.Username != "me@example.com" {
		t.Errorf("unexpected account %+v", got)
	}
	if loaded.GetRetentionDays() != 30 {
		t.Errorf("retention = %d, want 30", loaded.GetRetentionDays())
	}
	if loaded.AccountDataDir(added.ID) != filepath.Join(dir, "data", "accounts", added.ID) {
		t.Errorf("unexpected account dir %q", loaded.AccountDataDir(added.ID))
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the config file, found %d entries", len(entries))
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"log_level":"info","retention_days":60}`), 0644); err != nil {
		t.Fatal(err)
	}
	env := envconfig.MapLookuper(map[string]string{
		"FEEDSYNC_LOG_LEVEL":        "debug",
		"FEEDSYNC_REFRESH_INTERVAL": "5m",
		"FEEDSYNC_FEEDLY_CLIENT_ID": "client",
		"LOG_LEVEL":                 "error",
	})

	cfg, err := LoadFrom(context.Background(), path, env)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.GetLogLevel() != "debug" {
		t.Errorf("log level = %q, want debug", cfg.GetLogLevel())
	}
	if cfg.GetRetentionDays() != 60 {
		t.Errorf("retention = %d, want 60 from file", cfg.GetRetentionDays())
	}
	interval, err := cfg.GetRefreshInterval()
	if err != nil || interval != 5*time.Minute {
		t.Errorf("interval = %v, %v", interval, err)
	}
	if cfg.FeedlyClientID != "client" {
		t.Errorf("feedly client id = %q", cfg.FeedlyClientID)
	}
}

func TestRefreshIntervalBounds(t *testing.T) {
	cfg := &Config{RefreshInterval: "1s"}
	d, err := cfg.GetRefreshInterval()
	if err != nil || d != MinRefreshInterval {
		t.Errorf("got %v, %v; want minimum", d, err)
	}
	cfg.RefreshInterval = "soon"
	if _, err := cfg.GetRefreshInterval(); err == nil {
		t.Error("expected parse error")
	}
}

func TestAccountEditing(t *testing.T) {
	cfg := &Config{}
	if _, err := cfg.AddAccount(AccountConfig{Type: "bogus"}); err == nil {
		t.Error("expected unknown type error")
	}
	a, err := cfg.AddAccount(AccountConfig{ID: "home", Type: account.TypeLocal})
	if err != nil {
		t.Fatalf("AddAccount: %v", err)
	}
	if _, err := cfg.AddAccount(AccountConfig{ID: a.ID, Type: account.TypeLocal}); err == nil {
		t.Error("expected duplicate id error")
	}
	if err := cfg.RemoveAccount("home"); err != nil {
		t.Fatalf("RemoveAccount: %v", err)
	}
	if err := cfg.RemoveAccount("home"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := ExpandPath("~/feeds"); got != filepath.Join(home, "feeds") {
		t.Errorf("ExpandPath = %q", got)
	}
	if got := ExpandPath("/tmp/x"); got != "/tmp/x" {
		t.Errorf("ExpandPath = %q", got)
	}
}
