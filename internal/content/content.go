// ABOUTME: Content processing for article bodies
// ABOUTME: Strips HTML for search indexing and converts HTML to Markdown for display

package content

import (
	"html"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/microcosm-cc/bluemonday"
)

// htmlTagPattern matches common HTML tags
var htmlTagPattern = regexp.MustCompile(`<\s*(p|div|span|a|br|img|h[1-6]|ul|ol|li|table|tr|td|th|strong|em|b|i|code|pre|blockquote)[^>]*>`)

// anyTag matches the start of any tag so block boundaries can be padded before stripping.
var anyTag = regexp.MustCompile(`<[^>]*>`)

var strict = bluemonday.StrictPolicy()

// IsHTML checks if content appears to be HTML
func IsHTML(content string) bool {
	if strings.Contains(content, "<!DOCTYPE") || strings.Contains(content, "<html") {
		return true
	}
	return htmlTagPattern.MatchString(content)
}

// ToMarkdown converts HTML content to Markdown.
// Content that doesn't look like HTML is returned unchanged.
func ToMarkdown(content string) string {
	if content == "" || !IsHTML(content) {
		return content
	}

	markdown, err := htmltomarkdown.ConvertString(content)
	if err != nil {
		return content
	}
	return strings.TrimSpace(markdown)
}

// StripHTML removes all markup, decodes entities and collapses whitespace.
func StripHTML(content string) string {
	if content == "" {
		return ""
	}
	padded := anyTag.ReplaceAllStringFunc(content, func(tag string) string {
		return " " + tag + " "
	})
	text := html.UnescapeString(strict.Sanitize(padded))
	return CollapseWhitespace(text)
}

// CollapseWhitespace replaces runs of whitespace with a single space.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// SearchBody builds the text indexed for full-text search.
// HTML wins over plain text, and the summary is used when there is no body.
func SearchBody(contentHTML, contentText, summary string) string {
	switch {
	case contentHTML != "":
		return StripHTML(contentHTML)
	case contentText != "":
		return CollapseWhitespace(contentText)
	default:
		return StripHTML(summary)
	}
}
