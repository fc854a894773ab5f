// ABOUTME: Tests for root command helpers
// ABOUTME: Resolves feeds, folders and article prefixes against a real local account

package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/harper/feedsync/internal/account"
	"github.com/harper/feedsync/internal/articles"
	"github.com/harper/feedsync/internal/models"
)

func testAccount(t *testing.T) *account.Account {
	t.Helper()
	a, err := account.Open(account.Options{
		ID:      "local-test",
		Type:    account.TypeLocal,
		DataDir: t.TempDir(),
		Store:   articles.Options{DisableBackgroundIndexing: true},
	})
	if err != nil {
		t.Fatalf("open account: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	tech := a.CreateFolder("Tech", "")
	a.AddFeed(account.Feed{FeedID: "go", URL: "https://go.dev/blog/feed.atom", Name: "The Go Blog"})
	a.AddFeed(account.Feed{FeedID: "news1", URL: "https://one.example.com/feed", Name: "News"})
	a.AddFeed(account.Feed{FeedID: "news2", URL: "https://two.example.com/feed", Name: "News"})
	for _, id := range []string{"go", "news1"} {
		if err := a.AddFeedToFolder(id, tech.ID); err != nil {
			t.Fatalf("add to folder: %v", err)
		}
	}
	if err := a.AddFeedToFolder("news2", ""); err != nil {
		t.Fatalf("add to top level: %v", err)
	}
	return a
}

func testCmd() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	return cmd
}

func TestFindFeed(t *testing.T) {
	a := testAccount(t)

	tests := []struct {
		name    string
		ref     string
		want    string
		wantErr bool
	}{
		{name: "by id", ref: "go", want: "go"},
		{name: "by url", ref: "https://go.dev/blog/feed.atom", want: "go"},
		{name: "by name ignoring case", ref: "the go blog", want: "go"},
		{name: "ambiguous name", ref: "News", wantErr: true},
		{name: "unknown", ref: "nope", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := findFeed(a, tt.ref)
			if tt.wantErr {
				if err == nil {
					t.Errorf("findFeed(%q) should fail", tt.ref)
				}
				return
			}
			if err != nil {
				t.Fatalf("findFeed(%q): %v", tt.ref, err)
			}
			if got.FeedID != tt.want {
				t.Errorf("findFeed(%q) = %s, want %s", tt.ref, got.FeedID, tt.want)
			}
		})
	}

	if _, err := findFeed(a, "nope"); !errors.Is(err, account.ErrFeedNotFound) {
		t.Errorf("expected ErrFeedNotFound, got %v", err)
	}
}

func TestFindFolder(t *testing.T) {
	a := testAccount(t)

	id, err := findFolder(a, "")
	if err != nil || id != "" {
		t.Errorf("empty name should be the top level, got %q, %v", id, err)
	}
	id, err = findFolder(a, "Tech")
	if err != nil {
		t.Fatalf("findFolder: %v", err)
	}
	if !a.ContainsFeed(id, "go") {
		t.Error("expected Tech to contain go")
	}
	if _, err := findFolder(a, "Sports"); !errors.Is(err, account.ErrFolderNotFound) {
		t.Errorf("expected ErrFolderNotFound, got %v", err)
	}
}

func TestFindArticles(t *testing.T) {
	a := testAccount(t)
	ctx := context.Background()
	_, err := a.MergeArticles(ctx, map[string][]models.ParsedItem{
		"go": {
			{SyncServiceID: "abc123", UniqueID: "1", Title: "One"},
			{SyncServiceID: "abd456", UniqueID: "2", Title: "Two"},
			{SyncServiceID: "xyz789", UniqueID: "3", Title: "Three"},
		},
	}, false)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}

	ids, err := findArticles(testCmd(), a, []string{"xyz789", "abc"})
	if err != nil {
		t.Fatalf("findArticles: %v", err)
	}
	if strings.Join(ids, ",") != "xyz789,abc123" {
		t.Errorf("unexpected ids %v", ids)
	}

	if _, err := findArticles(testCmd(), a, []string{"ab"}); err == nil || !strings.Contains(err.Error(), "ambiguous") {
		t.Errorf("expected ambiguous prefix error, got %v", err)
	}
	if _, err := findArticles(testCmd(), a, []string{"qqq"}); !errors.Is(err, articles.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789abcdef"); got != "0123456789ab" {
		t.Errorf("shortID = %q", got)
	}
	if got := shortID("short"); got != "short" {
		t.Errorf("shortID = %q", got)
	}
}

func TestContainerName(t *testing.T) {
	if got := containerName(""); got != "the top level" {
		t.Errorf("containerName(\"\") = %q", got)
	}
	if got := containerName("Tech"); got != "'Tech'" {
		t.Errorf("containerName(Tech) = %q", got)
	}
}

func TestArticleBody(t *testing.T) {
	tests := []struct {
		name string
		a    models.Article
		want string
	}{
		{name: "html converted", a: models.Article{ContentHTML: "<p><strong>Bold</strong></p>"}, want: "**Bold**"},
		{name: "text kept", a: models.Article{ContentText: "plain"}, want: "plain"},
		{name: "html summary converted", a: models.Article{Summary: "<p><em>sum</em></p>"}, want: "*sum*"},
		{name: "empty", a: models.Article{}, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := articleBody(tt.a); got != tt.want {
				t.Errorf("articleBody() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStateOf(t *testing.T) {
	a := models.Article{Status: models.ArticleStatus{Read: true}}
	if !stateOf(a, models.StatusRead) {
		t.Error("expected read")
	}
	if stateOf(a, models.StatusStarred) {
		t.Error("expected not starred")
	}
}

func TestBrowsableLink(t *testing.T) {
	tests := []struct {
		name    string
		article models.Article
		want    string
		wantErr bool
	}{
		{name: "url", article: models.Article{URL: "https://example.com/a"}, want: "https://example.com/a"},
		{name: "external fallback", article: models.Article{ExternalURL: "http://example.com/b"}, want: "http://example.com/b"},
		{name: "no link", article: models.Article{}, wantErr: true},
		{name: "bad scheme", article: models.Article{URL: "javascript:alert(1)"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := browsableLink(tt.article)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("browsableLink = %q, want %q", got, tt.want)
			}
		})
	}
}
