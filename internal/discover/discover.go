// ABOUTME: Feed discovery for finding RSS/Atom feeds behind arbitrary URLs
// ABOUTME: Tries the URL as a feed, then HTML alternate links, then common feed paths

package discover

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/harper/feedsync/internal/account"
	"github.com/harper/feedsync/internal/fetch"
	"github.com/harper/feedsync/internal/parse"
)

// Common feed paths to probe when other discovery methods fail
var commonFeedPaths = []string{
	"/feed.xml",
	"/feed",
	"/rss.xml",
	"/rss",
	"/atom.xml",
	"/atom",
	"/index.xml",
	"/feed/rss",
	"/feed/atom",
	"/feeds/posts/default",
}

var (
	ErrNoFeedFound = errors.New("no RSS/Atom feed found at URL")
	ErrInvalidURL  = errors.New("invalid URL")
)

// DiscoveredFeed is a feed found during discovery, already parsed once.
type DiscoveredFeed struct {
	URL         string
	Title       string
	HomePageURL string
	Feed        *parse.ParsedFeed
}

// Discover finds a feed for inputURL. A nil doer uses the fetcher's default client.
func Discover(ctx context.Context, doer fetch.Doer, inputURL string) (*DiscoveredFeed, error) {
	parsedURL, err := url.Parse(strings.TrimSpace(inputURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("%w: missing scheme or host", ErrInvalidURL)
	}

	feed, body, err := tryDirectFeed(ctx, doer, parsedURL.String())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	if feed != nil {
		return feed, nil
	}

	for _, candidate := range extractFeedLinks(body, parsedURL) {
		verified, _, err := tryDirectFeed(ctx, doer, candidate.URL)
		if err != nil || verified == nil {
			continue
		}
		if verified.Title == "" {
			verified.Title = candidate.Title
		}
		return verified, nil
	}

	probeBase := &url.URL{Scheme: parsedURL.Scheme, Host: parsedURL.Host}
	for _, path := range commonFeedPaths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		feed, _, err := tryDirectFeed(ctx, doer, probeBase.String()+path)
		if err == nil && feed != nil {
			return feed, nil
		}
	}
	return nil, ErrNoFeedFound
}

// tryDirectFeed returns the feed when the URL parses as one, and otherwise
// the raw body for HTML link extraction.
func tryDirectFeed(ctx context.Context, doer fetch.Doer, feedURL string) (*DiscoveredFeed, []byte, error) {
	result, err := fetch.Fetch(ctx, doer, feedURL, account.ConditionalGetInfo{})
	if err != nil {
		return nil, nil, err
	}
	parsed, parseErr := parse.Parse(result.Body, feedURL)
	if parseErr != nil {
		return nil, result.Body, nil //nolint:nilerr // not a feed, fall through to HTML
	}
	return &DiscoveredFeed{
		URL:         feedURL,
		Title:       parsed.Title,
		HomePageURL: parsed.HomePageURL,
		Feed:        parsed,
	}, result.Body, nil
}

// extractFeedLinks returns feeds named by <link rel="alternate"> elements.
func extractFeedLinks(htmlBody []byte, baseURL *url.URL) []DiscoveredFeed {
	doc, err := html.Parse(bytes.NewReader(htmlBody))
	if err != nil {
		return nil
	}

	var feeds []DiscoveredFeed
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "link" {
			var rel, linkType, href, title string
			for _, attr := range n.Attr {
				switch strings.ToLower(attr.Key) {
				case "rel":
					rel = strings.ToLower(attr.Val)
				case "type":
					linkType = attr.Val
				case "href":
					href = strings.TrimSpace(attr.Val)
				case "title":
					title = attr.Val
				}
			}
			if hasToken(rel, "alternate") && isFeedContentType(linkType) && href != "" {
				if ref, err := url.Parse(href); err == nil {
					feeds = append(feeds, DiscoveredFeed{URL: baseURL.ResolveReference(ref).String(), Title: title})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return feeds
}

func hasToken(list, token string) bool {
	for _, f := range strings.Fields(list) {
		if f == token {
			return true
		}
	}
	return false
}

func isFeedContentType(contentType string) bool {
	contentType = strings.ToLower(contentType)
	return strings.Contains(contentType, "rss") ||
		strings.Contains(contentType, "atom") ||
		strings.Contains(contentType, "xml") ||
		strings.Contains(contentType, "feed+json")
}
