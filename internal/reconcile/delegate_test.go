// ABOUTME: Tests for mirroring remote folders and subscriptions onto an account tree
// ABOUTME: Covers renames that keep identity, membership moves and removals

package reconcile

import (
	"testing"

	"github.com/harper/feedsync/internal/account"
)

func TestMirrorFoldersRenameKeepsID(t *testing.T) {
	acct := setupTestAccount(t)

	if _, err := MirrorFolders(acct, []RemoteFolder{{ExternalID: "c-1", Name: "Tech"}}); err != nil {
		t.Fatalf("MirrorFolders failed: %v", err)
	}
	before, ok := acct.FolderByName("Tech")
	if !ok {
		t.Fatal("folder Tech not created")
	}

	created, err := MirrorFolders(acct, []RemoteFolder{{ExternalID: "c-1", Name: "Technology"}})
	if err != nil {
		t.Fatalf("MirrorFolders failed: %v", err)
	}
	if created {
		t.Error("a rename should not count as a new folder")
	}
	folders := acct.Folders()
	if len(folders) != 1 {
		t.Fatalf("expected 1 folder, got %d", len(folders))
	}
	if folders[0].ID != before.ID || folders[0].Name != "Technology" {
		t.Errorf("expected %s renamed to Technology, got %+v", before.ID, folders[0])
	}
}

func TestMirrorFoldersDeletesMissing(t *testing.T) {
	acct := setupTestAccount(t)
	acct.CreateFolder("Stale", "")

	created, err := MirrorFolders(acct, []RemoteFolder{{ExternalID: "c-2", Name: "News"}})
	if err != nil {
		t.Fatalf("MirrorFolders failed: %v", err)
	}
	if !created {
		t.Error("News should be reported as created")
	}
	if _, ok := acct.FolderByName("Stale"); ok {
		t.Error("folder with no remote match should be removed")
	}
	if f, ok := acct.FolderByName("News"); !ok || f.ExternalID != "c-2" {
		t.Errorf("News not mirrored: %+v", f)
	}
}

func TestMirrorFeedsMembership(t *testing.T) {
	acct := setupTestAccount(t)
	if _, err := MirrorFolders(acct, []RemoteFolder{
		{ExternalID: "t-1", Name: "Tech"},
		{ExternalID: "t-2", Name: "News"},
	}); err != nil {
		t.Fatalf("MirrorFolders failed: %v", err)
	}
	tech, _ := acct.FolderByName("Tech")
	news, _ := acct.FolderByName("News")

	err := MirrorFeeds(acct, []RemoteFeed{
		{FeedID: "1", URL: "https://a.example.com/feed", Name: "A", Memberships: []Membership{
			{FolderExternalID: "t-1", RelationshipID: "tg-1"},
			{FolderExternalID: "t-2", RelationshipID: "tg-2"},
		}},
		{FeedID: "2", URL: "https://b.example.com/feed", Name: "B"},
	})
	if err != nil {
		t.Fatalf("MirrorFeeds failed: %v", err)
	}
	if !acct.ContainsFeed(tech.ID, "1") || !acct.ContainsFeed(news.ID, "1") {
		t.Error("feed 1 should be in both folders")
	}
	if !acct.ContainsFeed("", "2") {
		t.Error("feed without memberships should be top level")
	}
	if f, _ := acct.Feed("1"); f.FolderRelationship["News"] != "tg-2" {
		t.Errorf("relationship not recorded: %v", f.FolderRelationship)
	}

	// The user renamed A locally; the remote drops feed 2 and moves 1 out of News.
	if err := acct.UpdateFeed("1", func(f *account.Feed) { f.EditedName = "Mine" }); err != nil {
		t.Fatalf("UpdateFeed failed: %v", err)
	}
	err = MirrorFeeds(acct, []RemoteFeed{
		{FeedID: "1", URL: "https://a.example.com/feed", Name: "A renamed", Memberships: []Membership{
			{FolderExternalID: "t-1", RelationshipID: "tg-1"},
		}},
	})
	if err != nil {
		t.Fatalf("MirrorFeeds failed: %v", err)
	}
	if acct.ContainsFeed(news.ID, "1") {
		t.Error("feed 1 should have left News")
	}
	if _, ok := acct.Feed("2"); ok {
		t.Error("feed 2 should be gone")
	}
	f, _ := acct.Feed("1")
	if f.DisplayName() != "Mine" {
		t.Errorf("a locally edited name must win, got %q", f.DisplayName())
	}
	if _, ok := f.FolderRelationship["News"]; ok {
		t.Error("stale relationship should be cleared")
	}
}

func TestMirrorFoldersKeepsFeedsOfRemovedFolder(t *testing.T) {
	acct := setupTestAccount(t)
	if _, err := MirrorFolders(acct, []RemoteFolder{
		{ExternalID: "t-1", Name: "Tech"},
		{ExternalID: "t-2", Name: "News"},
	}); err != nil {
		t.Fatalf("MirrorFolders failed: %v", err)
	}
	err := MirrorFeeds(acct, []RemoteFeed{
		{FeedID: "x", URL: "https://x.example.com/feed", Name: "X", Memberships: []Membership{{FolderExternalID: "t-1"}}},
		{FeedID: "y", URL: "https://y.example.com/feed", Name: "Y", Memberships: []Membership{
			{FolderExternalID: "t-1"}, {FolderExternalID: "t-2"},
		}},
	})
	if err != nil {
		t.Fatalf("MirrorFeeds failed: %v", err)
	}
	if err := acct.UpdateFeed("x", func(f *account.Feed) {
		f.EditedName = "Mine"
		f.ConditionalGet = account.ConditionalGetInfo{ETag: `"v1"`}
	}); err != nil {
		t.Fatalf("UpdateFeed failed: %v", err)
	}

	// Tech disappears remotely, as when a tag is deleted or a label renamed.
	if _, err := MirrorFolders(acct, []RemoteFolder{{ExternalID: "t-2", Name: "News"}}); err != nil {
		t.Fatalf("MirrorFolders failed: %v", err)
	}
	news, _ := acct.FolderByName("News")
	if !acct.ContainsFeed("", "x") {
		t.Fatal("feed held only by the removed folder should move to the top level")
	}
	if acct.ContainsFeed("", "y") || !acct.ContainsFeed(news.ID, "y") {
		t.Error("feed still in another folder should stay there and not gain a top-level placement")
	}

	err = MirrorFeeds(acct, []RemoteFeed{
		{FeedID: "x", URL: "https://x.example.com/feed", Name: "Remote"},
		{FeedID: "y", URL: "https://y.example.com/feed", Name: "Y", Memberships: []Membership{{FolderExternalID: "t-2"}}},
	})
	if err != nil {
		t.Fatalf("MirrorFeeds failed: %v", err)
	}
	f, ok := acct.Feed("x")
	if !ok {
		t.Fatal("feed x was dropped")
	}
	if f.DisplayName() != "Mine" {
		t.Errorf("user rename lost: got %q", f.DisplayName())
	}
	if f.ConditionalGet.ETag != `"v1"` {
		t.Errorf("conditional GET validators lost: %+v", f.ConditionalGet)
	}
}

func TestChunk(t *testing.T) {
	got := Chunk([]int{1, 2, 3, 4, 5}, 2)
	if len(got) != 3 || len(got[2]) != 1 || got[2][0] != 5 {
		t.Errorf("unexpected chunks: %v", got)
	}
	if Chunk([]int(nil), 10) != nil {
		t.Error("empty input should give no chunks")
	}
}
