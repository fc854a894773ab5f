// ABOUTME: Tests for OPML parsing, building and writing
// ABOUTME: Covers folder flattening, multi-folder feeds and round-trip integrity

package opml

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

const sample = `<?xml version="1.0" encoding="UTF-8"?>
<opml version="2.0">
  <head>
    <title>My Feeds</title>
  </head>
  <body>
    <outline text="Tech News">
      <outline type="rss" text="Hacker News" xmlUrl="https://hnrss.org/frontpage" />
      <outline type="rss" text="TechCrunch" title="TC" xmlUrl="https://techcrunch.com/feed/" htmlUrl="https://techcrunch.com/" />
      <outline text="Nested">
        <outline type="rss" text="Deep" xmlUrl="https://deep.example.com/feed" />
      </outline>
    </outline>
    <outline text="Blogs">
      <outline type="rss" text="Joel on Software" xmlUrl="https://www.joelonsoftware.com/feed/" />
    </outline>
    <outline type="rss" text="No Folder Feed" xmlUrl="https://example.com/feed" />
  </body>
</opml>`

func TestParseOPML(t *testing.T) {
	doc, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if doc.Title != "My Feeds" {
		t.Errorf("Title = %q, want %q", doc.Title, "My Feeds")
	}

	feeds := doc.AllFeeds()
	if len(feeds) != 5 {
		t.Fatalf("AllFeeds() returned %d feeds, want 5", len(feeds))
	}

	byURL := make(map[string]Feed)
	for _, f := range feeds {
		byURL[f.URL] = f
	}
	if f := byURL["https://techcrunch.com/feed/"]; f.Title != "TC" || f.HTMLURL != "https://techcrunch.com/" || f.Folder != "Tech News" {
		t.Errorf("unexpected TechCrunch feed: %+v", f)
	}
	if f := byURL["https://deep.example.com/feed"]; f.Folder != "Tech News" {
		t.Errorf("nested feed should flatten into top folder, got %q", f.Folder)
	}
	if f := byURL["https://example.com/feed"]; f.Folder != "" {
		t.Errorf("top-level feed has folder %q", f.Folder)
	}

	folders := doc.Folders()
	if len(folders) != 2 || folders[0] != "Tech News" || folders[1] != "Blogs" {
		t.Errorf("Folders() = %v", folders)
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse(strings.NewReader("not xml")); err == nil {
		t.Error("expected error for invalid OPML")
	}
}

func TestAddFeedAllowsMultipleFolders(t *testing.T) {
	doc := NewDocument("Test")
	feed := Feed{URL: "https://example.com/feed", Title: "Example"}

	feed.Folder = "A"
	if err := doc.AddFeed(feed); err != nil {
		t.Fatalf("AddFeed() error = %v", err)
	}
	feed.Folder = "B"
	if err := doc.AddFeed(feed); err != nil {
		t.Fatalf("AddFeed() error = %v", err)
	}
	feed.Folder = "A"
	if err := doc.AddFeed(feed); err == nil {
		t.Error("expected duplicate in the same folder to fail")
	}

	if got := len(doc.AllFeeds()); got != 2 {
		t.Errorf("expected 2 placements, got %d", got)
	}
}

func TestAddFolderIsIdempotent(t *testing.T) {
	doc := NewDocument("Test")
	doc.AddFolder("Empty")
	doc.AddFolder("Empty")
	if got := doc.Folders(); len(got) != 1 {
		t.Errorf("expected one folder, got %v", got)
	}
}

func TestRoundTrip(t *testing.T) {
	doc := NewDocument("Round Trip")
	doc.AddFolder("Empty")
	for _, f := range []Feed{
		{URL: "https://a.example.com/feed", Title: "A", Folder: "Tech"},
		{URL: "https://b.example.com/feed", Title: "B & Co", HTMLURL: "https://b.example.com/"},
	} {
		if err := doc.AddFeed(f); err != nil {
			t.Fatalf("AddFeed() error = %v", err)
		}
	}

	path := filepath.Join(t.TempDir(), "Subscriptions.opml")
	if err := doc.WriteFile(path); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	got, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if got.Title != "Round Trip" {
		t.Errorf("Title = %q", got.Title)
	}
	if folders := got.Folders(); len(folders) != 2 {
		t.Errorf("expected 2 folders after round trip, got %v", folders)
	}
	feeds := got.AllFeeds()
	if len(feeds) != 2 {
		t.Fatalf("expected 2 feeds after round trip, got %d", len(feeds))
	}
	if feeds[1].Title != "B & Co" || feeds[1].HTMLURL != "https://b.example.com/" {
		t.Errorf("unexpected feed after round trip: %+v", feeds[1])
	}
}

func TestWriteIncludesHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := NewDocument("x").Write(&buf); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !strings.HasPrefix(buf.String(), "<?xml") {
		t.Errorf("missing XML header: %q", buf.String())
	}
}
