// ABOUTME: Tests for daemon helpers
// ABOUTME: Covers interval selection and config change detection

package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/harper/feedsync/internal/config"
)

func TestDaemonInterval(t *testing.T) {
	old := cfg
	t.Cleanup(func() { cfg = old })

	var err error
	cfg, err = config.LoadFrom(context.Background(), filepath.Join(t.TempDir(), "config.json"), nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	got, err := daemonInterval(5 * time.Minute)
	if err != nil || got != 5*time.Minute {
		t.Errorf("fixed interval: got %v, %v", got, err)
	}
	got, err = daemonInterval(0)
	if err != nil || got != config.DefaultRefreshInterval {
		t.Errorf("default interval: got %v, %v", got, err)
	}
	cfg.RefreshInterval = "10s"
	got, err = daemonInterval(0)
	if err != nil || got != config.MinRefreshInterval {
		t.Errorf("clamped interval: got %v, %v", got, err)
	}
	if _, err := daemonInterval(-time.Second); err == nil {
		t.Error("expected negative interval to fail")
	}
}

func TestIsConfigChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{name: "write", ev: fsnotify.Event{Name: path, Op: fsnotify.Write}, want: true},
		{name: "create by rename", ev: fsnotify.Event{Name: path, Op: fsnotify.Create}, want: true},
		{name: "chmod only", ev: fsnotify.Event{Name: path, Op: fsnotify.Chmod}, want: false},
		{name: "other file", ev: fsnotify.Event{Name: path + ".tmp", Op: fsnotify.Write}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isConfigChange(tt.ev, path); got != tt.want {
				t.Errorf("isConfigChange() = %v, want %v", got, tt.want)
			}
		})
	}
}
