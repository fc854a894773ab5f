// ABOUTME: Tests for the context-aware slog handler
// ABOUTME: Verifies attributes attached to a context show up in records

package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestContextAttributesAreLogged(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "text", "debug")

	ctx := Ctx(context.Background(), slog.String("account", "acct-1"))
	ctx = Ctx(ctx, slog.String("step", "push"))
	log.With("component", "sync").InfoContext(ctx, "pushed statuses")

	out := buf.String()
	for _, want := range []string{"account=acct-1", "step=push", "component=sync", "pushed statuses"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}
}

func TestCtxDoesNotLeakBetweenBranches(t *testing.T) {
	base := Ctx(context.Background(), slog.String("a", "1"))
	left := Ctx(base, slog.String("b", "2"))
	right := Ctx(base, slog.String("c", "3"))

	if got := left.Value(attrKey).([]slog.Attr); len(got) != 2 || got[1].Key != "b" {
		t.Errorf("unexpected left attrs %v", got)
	}
	if got := right.Value(attrKey).([]slog.Attr); len(got) != 2 || got[1].Key != "c" {
		t.Errorf("unexpected right attrs %v", got)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("warn") != slog.LevelWarn {
		t.Error("expected warn level")
	}
	if ParseLevel("bogus") != slog.LevelInfo {
		t.Error("expected info fallback")
	}
}
