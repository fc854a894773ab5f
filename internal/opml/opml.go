// ABOUTME: OPML reading and writing for subscription lists
// ABOUTME: Folders are one level deep and a feed may appear in more than one folder

package opml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"

	"github.com/harper/feedsync/internal/fsutil"
)

// Document is a parsed subscription list.
type Document struct {
	Title    string
	Outlines []Outline
}

// Outline is either a folder (no XMLURL, with Children) or a feed.
type Outline struct {
	Text     string
	Title    string
	Type     string
	XMLURL   string
	HTMLURL  string
	Children []Outline
}

// IsFeed reports whether the outline is a subscription rather than a folder.
func (o Outline) IsFeed() bool {
	return o.XMLURL != ""
}

// Name returns the display title of the outline.
func (o Outline) Name() string {
	if o.Title != "" {
		return o.Title
	}
	return o.Text
}

// Feed is one placement of a subscription. Folder is empty at the top level.
type Feed struct {
	URL     string
	Title   string
	HTMLURL string
	Folder  string
}

type opmlXML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    headXML  `xml:"head"`
	Body    bodyXML  `xml:"body"`
}

type headXML struct {
	Title string `xml:"title"`
}

type bodyXML struct {
	Outlines []outlineXML `xml:"outline"`
}

type outlineXML struct {
	Text     string       `xml:"text,attr"`
	Title    string       `xml:"title,attr,omitempty"`
	Type     string       `xml:"type,attr,omitempty"`
	XMLURL   string       `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string       `xml:"htmlUrl,attr,omitempty"`
	Children []outlineXML `xml:"outline,omitempty"`
}

// NewDocument creates an empty document.
func NewDocument(title string) *Document {
	return &Document{Title: title}
}

// Parse reads an OPML document.
func Parse(r io.Reader) (*Document, error) {
	var raw opmlXML
	if err := xml.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode OPML: %w", err)
	}
	doc := &Document{Title: raw.Head.Title, Outlines: make([]Outline, 0, len(raw.Body.Outlines))}
	for _, o := range raw.Body.Outlines {
		doc.Outlines = append(doc.Outlines, fromXML(o))
	}
	return doc, nil
}

// ParseFile reads an OPML document from disk.
func ParseFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open OPML: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// AllFeeds flattens the document. Outlines nested below the first folder
// level belong to that top folder.
func (d *Document) AllFeeds() []Feed {
	var feeds []Feed
	for _, o := range d.Outlines {
		if o.IsFeed() {
			feeds = append(feeds, feedOf(o, ""))
			continue
		}
		feeds = append(feeds, collect(o.Children, o.Name())...)
	}
	return feeds
}

func collect(outlines []Outline, folder string) []Feed {
	var feeds []Feed
	for _, o := range outlines {
		if o.IsFeed() {
			feeds = append(feeds, feedOf(o, folder))
		}
		feeds = append(feeds, collect(o.Children, folder)...)
	}
	return feeds
}

func feedOf(o Outline, folder string) Feed {
	return Feed{URL: o.XMLURL, Title: o.Name(), HTMLURL: o.HTMLURL, Folder: folder}
}

// Folders returns the top-level folder names in document order.
func (d *Document) Folders() []string {
	var names []string
	seen := make(map[string]bool)
	for _, o := range d.Outlines {
		if !o.IsFeed() && !seen[o.Name()] {
			seen[o.Name()] = true
			names = append(names, o.Name())
		}
	}
	return names
}

// AddFolder adds an empty folder unless one with that name exists.
func (d *Document) AddFolder(name string) {
	if d.folderIndex(name) < 0 {
		d.Outlines = append(d.Outlines, Outline{Text: name, Title: name})
	}
}

// AddFeed places a feed in folder, creating the folder if needed. Adding the
// same URL twice to one container is rejected.
func (d *Document) AddFeed(f Feed) error {
	o := Outline{Text: f.Title, Title: f.Title, Type: "rss", XMLURL: f.URL, HTMLURL: f.HTMLURL}
	if f.Folder == "" {
		if containsURL(d.Outlines, f.URL) {
			return fmt.Errorf("feed %s already at top level", f.URL)
		}
		d.Outlines = append(d.Outlines, o)
		return nil
	}
	d.AddFolder(f.Folder)
	i := d.folderIndex(f.Folder)
	if containsURL(d.Outlines[i].Children, f.URL) {
		return fmt.Errorf("feed %s already in folder %s", f.URL, f.Folder)
	}
	d.Outlines[i].Children = append(d.Outlines[i].Children, o)
	return nil
}

func (d *Document) folderIndex(name string) int {
	for i, o := range d.Outlines {
		if !o.IsFeed() && o.Name() == name {
			return i
		}
	}
	return -1
}

func containsURL(outlines []Outline, url string) bool {
	for _, o := range outlines {
		if o.XMLURL == url {
			return true
		}
	}
	return false
}

// Write encodes the document with an XML header.
func (d *Document) Write(w io.Writer) error {
	raw := opmlXML{
		Version: "1.1",
		Head:    headXML{Title: d.Title},
		Body:    bodyXML{Outlines: make([]outlineXML, 0, len(d.Outlines))},
	}
	for _, o := range d.Outlines {
		raw.Body.Outlines = append(raw.Body.Outlines, toXML(o))
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("write XML header: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(raw); err != nil {
		return fmt.Errorf("encode OPML: %w", err)
	}
	return nil
}

// Bytes returns the encoded document.
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile atomically writes the document to path.
func (d *Document) WriteFile(path string) error {
	data, err := d.Bytes()
	if err != nil {
		return err
	}
	return fsutil.WriteFile(path, data, 0644)
}

func fromXML(x outlineXML) Outline {
	o := Outline{Text: x.Text, Title: x.Title, Type: x.Type, XMLURL: x.XMLURL, HTMLURL: x.HTMLURL}
	for _, c := range x.Children {
		o.Children = append(o.Children, fromXML(c))
	}
	return o
}

func toXML(o Outline) outlineXML {
	x := outlineXML{Text: o.Text, Title: o.Title, Type: o.Type, XMLURL: o.XMLURL, HTMLURL: o.HTMLURL}
	for _, c := range o.Children {
		x.Children = append(x.Children, toXML(c))
	}
	return x
}
