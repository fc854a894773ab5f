// ABOUTME: HTTP client for Google Reader compatible services such as FreshRSS and Inoreader
// ABOUTME: Handles ClientLogin, write tokens and one-shot re-authentication

package readerapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/harper/feedsync/internal/reconcile"
	"github.com/harper/feedsync/internal/secrets"
)

const (
	pathLogin            = "/accounts/ClientLogin"
	pathToken            = "/reader/api/0/token"
	pathDisableTag       = "/reader/api/0/disable-tag"
	pathRenameTag        = "/reader/api/0/rename-tag"
	pathTagList          = "/reader/api/0/tag/list"
	pathSubscriptionList = "/reader/api/0/subscription/list"
	pathSubscriptionEdit = "/reader/api/0/subscription/edit"
	pathQuickAdd         = "/reader/api/0/subscription/quickadd"
	pathContents         = "/reader/api/0/stream/items/contents"
	pathItemIDs          = "/reader/api/0/stream/items/ids"
	pathEditTag          = "/reader/api/0/edit-tag"

	// ItemIDPageSize is the number of ids requested per stream page.
	ItemIDPageSize = 1000
	// ContentsChunkSize bounds the ids sent in one contents request.
	ContentsChunkSize = 150

	badTokenHeader = "X-Reader-Google-Bad-Token"
)

var errBadToken = errors.New("write token rejected")

// Client calls one Reader API endpoint for one user.
type Client struct {
	base     string
	tr       *reconcile.Transport
	secrets  secrets.Store
	username string

	mu         sync.Mutex
	authToken  string
	writeToken string
}

// NewClient creates a client for endpoint, the server root without /reader/api.
func NewClient(endpoint string, tr *reconcile.Transport, store secrets.Store, username string) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: endpoint %q", reconcile.ErrInvalidParameter, endpoint)
	}
	return &Client{
		base:     strings.TrimRight(u.String(), "/"),
		tr:       tr,
		secrets:  store,
		username: username,
	}, nil
}

// Login exchanges a username and password for an auth token.
func Login(ctx context.Context, tr *reconcile.Transport, endpoint, username, password string) (string, error) {
	form := url.Values{"Email": {username}, "Passwd": {password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(endpoint, "/")+pathLogin, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := tr.Do(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := reconcile.CheckStatus(resp); err != nil {
		return "", err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read login response: %w", err)
	}
	for _, line := range strings.Split(string(body), "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "Auth="); ok && v != "" {
			return v, nil
		}
	}
	return "", &reconcile.ProtocolError{Field: "Auth"}
}

// ValidateCredentials logs in with basic credentials and returns the auth
// token credentials to store.
func ValidateCredentials(ctx context.Context, client *http.Client, creds secrets.Credentials, endpoint string) (secrets.Credentials, error) {
	if creds.Username == "" || creds.Secret == "" {
		return secrets.Credentials{}, fmt.Errorf("%w: username and password required", reconcile.ErrInvalidParameter)
	}
	tr := reconcile.NewTransport(reconcile.TransportOptions{Client: client})
	token, err := Login(ctx, tr, endpoint, creds.Username, creds.Secret)
	if err != nil {
		return secrets.Credentials{}, err
	}
	return secrets.Credentials{Type: secrets.TypeReaderAPIKey, Username: creds.Username, Secret: token}, nil
}

func (c *Client) auth(ctx context.Context, force bool) (string, error) {
	c.mu.Lock()
	token := c.authToken
	c.mu.Unlock()
	if token != "" && !force {
		return token, nil
	}

	if !force {
		if cred, err := c.secrets.Get(secrets.TypeReaderAPIKey, c.username); err == nil {
			c.setAuth(cred.Secret)
			return cred.Secret, nil
		}
	}

	basic, err := c.secrets.Get(secrets.TypeReaderBasic, c.username)
	if err != nil {
		return "", fmt.Errorf("%w: no stored password for %s", reconcile.ErrUnauthorized, c.username)
	}
	token, err = Login(ctx, c.tr, c.base, c.username, basic.Secret)
	if err != nil {
		return "", err
	}
	if err := c.secrets.Set(secrets.Credentials{Type: secrets.TypeReaderAPIKey, Username: c.username, Secret: token}); err != nil {
		return "", fmt.Errorf("store auth token: %w", err)
	}
	c.setAuth(token)
	return token, nil
}

func (c *Client) setAuth(token string) {
	c.mu.Lock()
	c.authToken = token
	c.writeToken = ""
	c.mu.Unlock()
}

func (c *Client) token(ctx context.Context, force bool) (string, error) {
	c.mu.Lock()
	token := c.writeToken
	c.mu.Unlock()
	if token != "" && !force {
		return token, nil
	}

	resp, err := c.send(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.base+pathToken, nil)
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read write token: %w", err)
	}
	token = strings.TrimSpace(string(body))
	if token == "" {
		return "", &reconcile.ProtocolError{Field: "token"}
	}
	c.mu.Lock()
	c.writeToken = token
	c.mu.Unlock()
	return token, nil
}

// send issues an authenticated request, logging in again once on 401. A
// rejected write token is reported as errBadToken without logging in again.
func (c *Client) send(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		token, err := c.auth(ctx, attempt > 0)
		if err != nil {
			return nil, err
		}
		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "GoogleLogin auth="+token)
		resp, err := c.tr.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		err = reconcile.CheckStatus(resp)
		if err == nil {
			return resp, nil
		}
		badToken := strings.EqualFold(resp.Header.Get(badTokenHeader), "true")
		reconcile.Drain(resp)
		if badToken {
			return nil, fmt.Errorf("%w: %w", errBadToken, err)
		}
		if attempt == 0 && reconcile.IsAuthError(err) {
			continue
		}
		return nil, err
	}
}

// post sends a form with the write token, refreshing the token once when the
// server reports it bad.
func (c *Client) post(ctx context.Context, path string, form url.Values) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		token, err := c.token(ctx, attempt > 0)
		if err != nil {
			return nil, err
		}
		body := make(url.Values, len(form)+1)
		for k, v := range form {
			body[k] = v
		}
		body.Set("T", token)
		encoded := body.Encode()

		resp, err := c.send(ctx, func() (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, strings.NewReader(encoded))
			if err == nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
			return req, err
		})
		if attempt == 0 && errors.Is(err, errBadToken) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if attempt == 0 && strings.EqualFold(resp.Header.Get(badTokenHeader), "true") {
			reconcile.Drain(resp)
			continue
		}
		return resp, nil
	}
}

func (c *Client) postDiscard(ctx context.Context, path string, form url.Values) error {
	resp, err := c.post(ctx, path, form)
	if err != nil {
		return err
	}
	reconcile.Drain(resp)
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.send(ctx, func() (*http.Request, error) {
		u := c.base + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	})
	if err != nil {
		return err
	}
	return reconcile.DecodeJSON(resp, out)
}

// Tags lists every tag and label.
func (c *Client) Tags(ctx context.Context) ([]Tag, error) {
	var out tagList
	if err := c.getJSON(ctx, pathTagList, url.Values{"output": {"json"}}, &out); err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return out.Tags, nil
}

// Subscriptions lists every subscription.
func (c *Client) Subscriptions(ctx context.Context) ([]Subscription, error) {
	var out subscriptionList
	if err := c.getJSON(ctx, pathSubscriptionList, url.Values{"output": {"json"}}, &out); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return out.Subscriptions, nil
}

// UnreadIDs returns every unread item id in decimal form.
func (c *Client) UnreadIDs(ctx context.Context) ([]string, error) {
	return c.itemIDs(ctx, url.Values{"s": {streamReadingList}, "xt": {stateRead}})
}

// StarredIDs returns every starred item id in decimal form.
func (c *Client) StarredIDs(ctx context.Context) ([]string, error) {
	return c.itemIDs(ctx, url.Values{"s": {stateStarred}})
}

// ItemIDsSince returns the ids of items in stream that changed after since.
func (c *Client) ItemIDsSince(ctx context.Context, stream string, since time.Time) ([]string, error) {
	return c.itemIDs(ctx, url.Values{"s": {stream}, "ot": {strconv.FormatInt(since.Unix(), 10)}})
}

// StreamUnreadIDs returns the unread item ids of one feed or label stream.
func (c *Client) StreamUnreadIDs(ctx context.Context, stream string) ([]string, error) {
	return c.itemIDs(ctx, url.Values{"s": {stream}, "xt": {stateRead}})
}

// itemIDs follows continuation tokens until the stream is exhausted.
func (c *Client) itemIDs(ctx context.Context, query url.Values) ([]string, error) {
	query.Set("n", strconv.Itoa(ItemIDPageSize))
	query.Set("output", "json")
	var ids []string
	for {
		var page itemRefs
		if err := c.getJSON(ctx, pathItemIDs, query, &page); err != nil {
			return nil, fmt.Errorf("list item ids for %s: %w", query.Get("s"), err)
		}
		for _, ref := range page.ItemRefs {
			id, err := ShortItemID(ref.ID)
			if err != nil {
				return nil, &reconcile.ProtocolError{Field: "itemRefs.id", Err: err}
			}
			ids = append(ids, id)
		}
		if page.Continuation == "" {
			return ids, nil
		}
		query.Set("c", page.Continuation)
	}
}

// Entries fetches the bodies of up to ContentsChunkSize items.
func (c *Client) Entries(ctx context.Context, ids []string) ([]Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	form := url.Values{"output": {"json"}}
	for _, id := range ids {
		long, err := LongItemID(id)
		if err != nil {
			return nil, err
		}
		form.Add("i", long)
	}
	resp, err := c.post(ctx, pathContents, form)
	if err != nil {
		return nil, fmt.Errorf("fetch entries: %w", err)
	}
	var out entryList
	if err := reconcile.DecodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// EditTag adds or removes a state tag on items.
func (c *Client) EditTag(ctx context.Context, ids []string, tag string, add bool) error {
	form := url.Values{}
	for _, id := range ids {
		long, err := LongItemID(id)
		if err != nil {
			return err
		}
		form.Add("i", long)
	}
	if add {
		form.Set("a", tag)
	} else {
		form.Set("r", tag)
	}
	if err := c.postDiscard(ctx, pathEditTag, form); err != nil {
		return fmt.Errorf("edit tag %s: %w", tag, err)
	}
	return nil
}

// SubscriptionEdit describes one subscription/edit call.
type SubscriptionEdit struct {
	StreamID    string
	Title       string
	AddLabel    string
	RemoveLabel string
}

// EditSubscription renames a subscription or changes its labels.
func (c *Client) EditSubscription(ctx context.Context, edit SubscriptionEdit) error {
	if edit.Title == "" && edit.AddLabel == "" && edit.RemoveLabel == "" {
		return reconcile.ErrInvalidParameter
	}
	form := url.Values{"s": {edit.StreamID}, "ac": {"edit"}}
	if edit.RemoveLabel != "" {
		form.Set("r", LabelID(edit.RemoveLabel))
	}
	if edit.AddLabel != "" {
		form.Set("a", LabelID(edit.AddLabel))
	}
	if edit.Title != "" {
		form.Set("t", edit.Title)
	}
	if err := c.postDiscard(ctx, pathSubscriptionEdit, form); err != nil {
		return fmt.Errorf("edit subscription %s: %w", edit.StreamID, err)
	}
	return nil
}

// Unsubscribe removes a subscription.
func (c *Client) Unsubscribe(ctx context.Context, streamID string) error {
	if err := c.postDiscard(ctx, pathSubscriptionEdit, url.Values{"s": {streamID}, "ac": {"unsubscribe"}}); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", streamID, err)
	}
	return nil
}

// QuickAdd subscribes to feedURL and returns the new stream id. A query the
// server cannot resolve returns ErrNotFound.
func (c *Client) QuickAdd(ctx context.Context, feedURL string) (string, error) {
	resp, err := c.post(ctx, pathQuickAdd, url.Values{"quickadd": {feedURL}})
	if err != nil {
		return "", fmt.Errorf("subscribe %s: %w", feedURL, err)
	}
	var out quickAddResult
	if err := reconcile.DecodeJSON(resp, &out); err != nil {
		return "", err
	}
	if out.NumResults == 0 || out.StreamID == "" {
		return "", fmt.Errorf("subscribe %s: %w", feedURL, reconcile.ErrNotFound)
	}
	return out.StreamID, nil
}

// RenameTag renames a label.
func (c *Client) RenameTag(ctx context.Context, oldName, newName string) error {
	form := url.Values{"s": {LabelID(oldName)}, "dest": {LabelID(newName)}}
	if err := c.postDiscard(ctx, pathRenameTag, form); err != nil {
		return fmt.Errorf("rename tag %s: %w", oldName, err)
	}
	return nil
}

// DisableTag deletes a label. Its feeds stay subscribed.
func (c *Client) DisableTag(ctx context.Context, tagID string) error {
	if err := c.postDiscard(ctx, pathDisableTag, url.Values{"s": {tagID}}); err != nil {
		return fmt.Errorf("delete tag %s: %w", tagID, err)
	}
	return nil
}
