// ABOUTME: HTTP client for the Feedbin v2 API using basic authentication
// ABOUTME: List endpoints support conditional GET and entries follow Link pagination

package feedbin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tomnomnom/linkheader"

	"github.com/harper/feedsync/internal/account"
	"github.com/harper/feedsync/internal/reconcile"
	"github.com/harper/feedsync/internal/secrets"
)

// DefaultEndpoint is the Feedbin API root.
const DefaultEndpoint = "https://api.feedbin.com/v2/"

// EntriesPageSize is the per_page value for entry listings and the id batch size.
const EntriesPageSize = 100

// Client calls Feedbin for one user.
type Client struct {
	base     *url.URL
	tr       *reconcile.Transport
	secrets  secrets.Store
	username string
}

// NewClient creates a client. An empty endpoint uses DefaultEndpoint.
func NewClient(endpoint string, tr *reconcile.Transport, store secrets.Store, username string) (*Client, error) {
	base, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	return &Client{base: base, tr: tr, secrets: store, username: username}, nil
}

func parseEndpoint(endpoint string) (*url.URL, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: endpoint %q", reconcile.ErrInvalidParameter, endpoint)
	}
	return u, nil
}

// ValidateCredentials checks a username and password against authentication.json.
func ValidateCredentials(ctx context.Context, client *http.Client, creds secrets.Credentials, endpoint string) (secrets.Credentials, error) {
	if creds.Username == "" || creds.Secret == "" {
		return secrets.Credentials{}, fmt.Errorf("%w: username and password required", reconcile.ErrInvalidParameter)
	}
	base, err := parseEndpoint(endpoint)
	if err != nil {
		return secrets.Credentials{}, err
	}
	tr := reconcile.NewTransport(reconcile.TransportOptions{Client: client})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.JoinPath("authentication.json").String(), nil)
	if err != nil {
		return secrets.Credentials{}, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(creds.Username, creds.Secret)
	resp, err := tr.Do(ctx, req)
	if err != nil {
		return secrets.Credentials{}, err
	}
	defer reconcile.Drain(resp)
	if err := reconcile.CheckStatus(resp); err != nil {
		return secrets.Credentials{}, err
	}
	return secrets.Credentials{Type: secrets.TypeBasic, Username: creds.Username, Secret: creds.Secret}, nil
}

func (c *Client) url(path string, query url.Values) string {
	u := c.base.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// send issues an authenticated request and returns the response whatever its
// status. body, when not nil, is sent as JSON.
func (c *Client) send(ctx context.Context, method, rawURL string, body any, cg account.ConditionalGetInfo) (*http.Response, error) {
	cred, err := c.secrets.Get(secrets.TypeBasic, c.username)
	if err != nil {
		return nil, fmt.Errorf("%w: no stored password for %s", reconcile.ErrUnauthorized, c.username)
	}
	req, err := reconcile.NewJSONRequest(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(cred.Username, cred.Secret)
	reconcile.SetConditionalHeaders(req, cg)
	return c.tr.Do(ctx, req)
}

// call sends a request and fails on any status outside ok, or outside 2xx
// when ok is empty.
func (c *Client) call(ctx context.Context, method, rawURL string, body any, ok ...int) (*http.Response, error) {
	resp, err := c.send(ctx, method, rawURL, body, account.ConditionalGetInfo{})
	if err != nil {
		return nil, err
	}
	if err := reconcile.CheckStatus(resp, ok...); err != nil {
		reconcile.Drain(resp)
		return nil, err
	}
	return resp, nil
}

// getConditional fetches a list endpoint. It reports notModified on 304 and
// returns the validators to store once the result has been applied.
func (c *Client) getConditional(ctx context.Context, path string, query url.Values, cg account.ConditionalGetInfo, out any) (info account.ConditionalGetInfo, notModified bool, err error) {
	resp, err := c.send(ctx, http.MethodGet, c.url(path, query), nil, cg)
	if err != nil {
		return info, false, err
	}
	if resp.StatusCode == http.StatusNotModified {
		reconcile.Drain(resp)
		return cg, true, nil
	}
	if err := reconcile.CheckStatus(resp); err != nil {
		reconcile.Drain(resp)
		return info, false, err
	}
	info = reconcile.ConditionalInfo(resp)
	if err := reconcile.DecodeJSON(resp, out); err != nil {
		return info, false, fmt.Errorf("decode %s: %w", path, err)
	}
	return info, false, nil
}

// Tags lists tags.
func (c *Client) Tags(ctx context.Context, cg account.ConditionalGetInfo) ([]Tag, account.ConditionalGetInfo, bool, error) {
	var tags []Tag
	info, nm, err := c.getConditional(ctx, "tags.json", nil, cg, &tags)
	return tags, info, nm, err
}

// Subscriptions lists subscriptions with icons.
func (c *Client) Subscriptions(ctx context.Context, cg account.ConditionalGetInfo) ([]Subscription, account.ConditionalGetInfo, bool, error) {
	var subs []Subscription
	info, nm, err := c.getConditional(ctx, "subscriptions.json", url.Values{"mode": {"extended"}}, cg, &subs)
	return subs, info, nm, err
}

// Taggings lists every feed-in-tag placement.
func (c *Client) Taggings(ctx context.Context, cg account.ConditionalGetInfo) ([]Tagging, account.ConditionalGetInfo, bool, error) {
	var taggings []Tagging
	info, nm, err := c.getConditional(ctx, "taggings.json", nil, cg, &taggings)
	return taggings, info, nm, err
}

// UnreadEntries lists unread entry ids.
func (c *Client) UnreadEntries(ctx context.Context, cg account.ConditionalGetInfo) ([]int, account.ConditionalGetInfo, bool, error) {
	var ids []int
	info, nm, err := c.getConditional(ctx, "unread_entries.json", nil, cg, &ids)
	return ids, info, nm, err
}

// StarredEntries lists starred entry ids.
func (c *Client) StarredEntries(ctx context.Context, cg account.ConditionalGetInfo) ([]int, account.ConditionalGetInfo, bool, error) {
	var ids []int
	info, nm, err := c.getConditional(ctx, "starred_entries.json", nil, cg, &ids)
	return ids, info, nm, err
}

// EntriesSince walks every page of entries created after since, handing each
// page to fn. Pages already handed over stay applied if a later page fails.
func (c *Client) EntriesSince(ctx context.Context, since time.Time, fn func([]Entry) error) error {
	query := url.Values{
		"since":    {since.UTC().Format(time.RFC3339Nano)},
		"per_page": {strconv.Itoa(EntriesPageSize)},
		"mode":     {"extended"},
	}
	return c.entryPages(ctx, c.url("entries.json", query), fn)
}

// FeedEntries walks the entries of one feed.
func (c *Client) FeedEntries(ctx context.Context, feedID string, since time.Time, fn func([]Entry) error) error {
	query := url.Values{
		"since":    {since.UTC().Format(time.RFC3339Nano)},
		"per_page": {strconv.Itoa(EntriesPageSize)},
		"mode":     {"extended"},
	}
	return c.entryPages(ctx, c.url("feeds/"+feedID+"/entries.json", query), fn)
}

func (c *Client) entryPages(ctx context.Context, next string, fn func([]Entry) error) error {
	for next != "" {
		resp, err := c.call(ctx, http.MethodGet, next, nil)
		if err != nil {
			return fmt.Errorf("fetch entries: %w", err)
		}
		next = nextLink(resp.Header.Get("Link"))
		var entries []Entry
		if err := reconcile.DecodeJSON(resp, &entries); err != nil {
			return fmt.Errorf("decode entries: %w", err)
		}
		if err := fn(entries); err != nil {
			return err
		}
	}
	return nil
}

func nextLink(header string) string {
	if header == "" {
		return ""
	}
	for _, l := range linkheader.Parse(header).FilterByRel("next") {
		return l.URL
	}
	return ""
}

// Entries fetches up to EntriesPageSize entries by id.
func (c *Client) Entries(ctx context.Context, ids []int) ([]Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	query := url.Values{"ids": {strings.Join(parts, ",")}, "mode": {"extended"}}
	resp, err := c.call(ctx, http.MethodGet, c.url("entries.json", query), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch entries by id: %w", err)
	}
	var entries []Entry
	if err := reconcile.DecodeJSON(resp, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// MarkUnread adds ids to the unread set.
func (c *Client) MarkUnread(ctx context.Context, ids []int) error {
	return c.discard(ctx, http.MethodPost, "unread_entries.json", unreadEntries{UnreadEntries: ids})
}

// MarkRead removes ids from the unread set.
func (c *Client) MarkRead(ctx context.Context, ids []int) error {
	return c.discard(ctx, http.MethodDelete, "unread_entries.json", unreadEntries{UnreadEntries: ids})
}

// Star adds ids to the starred set.
func (c *Client) Star(ctx context.Context, ids []int) error {
	return c.discard(ctx, http.MethodPost, "starred_entries.json", starredEntries{StarredEntries: ids})
}

// Unstar removes ids from the starred set.
func (c *Client) Unstar(ctx context.Context, ids []int) error {
	return c.discard(ctx, http.MethodDelete, "starred_entries.json", starredEntries{StarredEntries: ids})
}

func (c *Client) discard(ctx context.Context, method, path string, body any) error {
	resp, err := c.call(ctx, method, c.url(path, nil), body)
	if err != nil {
		return fmt.Errorf("%s %s: %w", strings.ToLower(method), path, err)
	}
	reconcile.Drain(resp)
	return nil
}

// CreateResult is the outcome of subscribing. Exactly one of Subscription
// and Choices is set.
type CreateResult struct {
	Subscription *Subscription
	Choices      []SubscriptionChoice
}

// CreateSubscription subscribes to feedURL. An existing subscription returns
// ErrAlreadySubscribed and an unknown feed ErrNotFound.
func (c *Client) CreateSubscription(ctx context.Context, feedURL string) (CreateResult, error) {
	resp, err := c.send(ctx, http.MethodPost, c.url("subscriptions.json", url.Values{"mode": {"extended"}}), createSubscription{FeedURL: feedURL}, account.ConditionalGetInfo{})
	if err != nil {
		return CreateResult{}, err
	}
	switch resp.StatusCode {
	case http.StatusCreated:
		var sub Subscription
		if err := reconcile.DecodeJSON(resp, &sub); err != nil {
			return CreateResult{}, err
		}
		return CreateResult{Subscription: &sub}, nil
	case http.StatusMultipleChoices:
		var choices []SubscriptionChoice
		if err := reconcile.DecodeJSON(resp, &choices); err != nil {
			return CreateResult{}, err
		}
		return CreateResult{Choices: choices}, nil
	case http.StatusFound, http.StatusOK:
		// A followed 302 lands on the existing subscription.
		reconcile.Drain(resp)
		return CreateResult{}, reconcile.ErrAlreadySubscribed
	case http.StatusNotFound:
		reconcile.Drain(resp)
		return CreateResult{}, fmt.Errorf("subscribe %s: %w", feedURL, reconcile.ErrNotFound)
	}
	err = reconcile.CheckStatus(resp)
	reconcile.Drain(resp)
	return CreateResult{}, err
}

// RenameSubscription sets a subscription's title.
func (c *Client) RenameSubscription(ctx context.Context, subscriptionID, title string) error {
	return c.discard(ctx, http.MethodPost, "subscriptions/"+subscriptionID+"/update.json", updateSubscription{Title: title})
}

// DeleteSubscription unsubscribes.
func (c *Client) DeleteSubscription(ctx context.Context, subscriptionID string) error {
	resp, err := c.call(ctx, http.MethodDelete, c.url("subscriptions/"+subscriptionID+".json", nil), nil)
	if err != nil {
		if errors.Is(err, reconcile.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("delete subscription %s: %w", subscriptionID, err)
	}
	reconcile.Drain(resp)
	return nil
}

// CreateTagging places a feed under a tag and returns the tagging id.
func (c *Client) CreateTagging(ctx context.Context, feedID, name string) (string, error) {
	id, err := strconv.Atoi(feedID)
	if err != nil {
		return "", fmt.Errorf("%w: feed id %q", reconcile.ErrInvalidParameter, feedID)
	}
	resp, err := c.call(ctx, http.MethodPost, c.url("taggings.json", nil), createTagging{FeedID: id, Name: name})
	if err != nil {
		return "", fmt.Errorf("create tagging: %w", err)
	}
	if loc := resp.Header.Get("Location"); loc != "" {
		reconcile.Drain(resp)
		return taggingIDFromLocation(loc)
	}
	var tagging Tagging
	if err := reconcile.DecodeJSON(resp, &tagging); err != nil {
		return "", err
	}
	return strconv.Itoa(tagging.ID), nil
}

func taggingIDFromLocation(loc string) (string, error) {
	_, rest, ok := strings.Cut(loc, "taggings/")
	if !ok {
		return "", &reconcile.ProtocolError{Field: "Location"}
	}
	id := strings.TrimSuffix(rest, ".json")
	if _, err := strconv.Atoi(id); err != nil {
		return "", &reconcile.ProtocolError{Field: "Location", Err: err}
	}
	return id, nil
}

// DeleteTagging removes a feed from a tag.
func (c *Client) DeleteTagging(ctx context.Context, taggingID string) error {
	resp, err := c.call(ctx, http.MethodDelete, c.url("taggings/"+taggingID+".json", nil), nil)
	if err != nil {
		if errors.Is(err, reconcile.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("delete tagging %s: %w", taggingID, err)
	}
	reconcile.Drain(resp)
	return nil
}

// RenameTag renames a tag across all of its taggings.
func (c *Client) RenameTag(ctx context.Context, oldName, newName string) error {
	return c.discard(ctx, http.MethodPost, "tags.json", renameTag{OldName: oldName, NewName: newName})
}

// ImportOPML starts an import of an OPML document.
func (c *Client) ImportOPML(ctx context.Context, opml []byte) (ImportResult, error) {
	cred, err := c.secrets.Get(secrets.TypeBasic, c.username)
	if err != nil {
		return ImportResult{}, fmt.Errorf("%w: no stored password for %s", reconcile.ErrUnauthorized, c.username)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("imports.json", nil), bytes.NewReader(opml))
	if err != nil {
		return ImportResult{}, fmt.Errorf("build import request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.SetBasicAuth(cred.Username, cred.Secret)
	resp, err := c.tr.Do(ctx, req)
	if err != nil {
		return ImportResult{}, err
	}
	if err := reconcile.CheckStatus(resp); err != nil {
		reconcile.Drain(resp)
		return ImportResult{}, fmt.Errorf("import opml: %w", err)
	}
	var result ImportResult
	err = reconcile.DecodeJSON(resp, &result)
	return result, err
}

// ImportStatus reports the progress of an import.
func (c *Client) ImportStatus(ctx context.Context, id int) (ImportResult, error) {
	resp, err := c.call(ctx, http.MethodGet, c.url("imports/"+strconv.Itoa(id)+".json", nil), nil)
	if err != nil {
		return ImportResult{}, fmt.Errorf("import status: %w", err)
	}
	var result ImportResult
	err = reconcile.DecodeJSON(resp, &result)
	return result, err
}
