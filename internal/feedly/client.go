// ABOUTME: HTTP client for the Feedly cloud API with OAuth2 bearer tokens
// ABOUTME: A rejected access token is refreshed once and the request replayed

package feedly

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/harper/feedsync/internal/reconcile"
	"github.com/harper/feedsync/internal/secrets"
)

const (
	// DefaultEndpoint is the production cloud API.
	DefaultEndpoint = "https://cloud.feedly.com"
	// SandboxEndpoint is Feedly's developer sandbox.
	SandboxEndpoint = "https://sandbox7.feedly.com"

	// EntriesChunkSize bounds the ids sent in one .mget request.
	EntriesChunkSize = 1000
	// MarkerChunkSize bounds the ids sent in one markers request.
	MarkerChunkSize = 300
	streamPageSize  = 10000

	scope = "https://cloud.feedly.com/subscriptions"
)

// OAuthConfig returns the OAuth2 configuration for endpoint.
func OAuthConfig(endpoint, clientID, clientSecret, redirectURL string) *oauth2.Config {
	base := strings.TrimRight(endpoint, "/")
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{scope},
		Endpoint: oauth2.Endpoint{
			AuthURL:   base + "/v3/auth/auth",
			TokenURL:  base + "/v3/auth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// SaveToken stores the access and refresh tokens of tok for username.
func SaveToken(store secrets.Store, username string, tok *oauth2.Token) error {
	if tok.AccessToken == "" {
		return &reconcile.ProtocolError{Field: "access_token"}
	}
	err := store.Set(secrets.Credentials{
		Type:     secrets.TypeOAuthAccessToken,
		Username: username,
		Secret:   tok.AccessToken,
		Expiry:   tok.Expiry,
	})
	if err != nil {
		return fmt.Errorf("store access token: %w", err)
	}
	if tok.RefreshToken == "" {
		return nil
	}
	err = store.Set(secrets.Credentials{Type: secrets.TypeOAuthRefreshToken, Username: username, Secret: tok.RefreshToken})
	if err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	return nil
}

// ValidateCredentials checks an access token by reading the profile. The
// returned credentials carry the Feedly user id as their username.
func ValidateCredentials(ctx context.Context, client *http.Client, creds secrets.Credentials, endpoint string) (secrets.Credentials, error) {
	if creds.Type != secrets.TypeOAuthAccessToken || creds.Secret == "" {
		return secrets.Credentials{}, fmt.Errorf("%w: access token required", reconcile.ErrInvalidParameter)
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(endpoint, "/")+"/v3/profile", nil)
	if err != nil {
		return secrets.Credentials{}, fmt.Errorf("build profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.Secret)
	tr := reconcile.NewTransport(reconcile.TransportOptions{Client: client})
	resp, err := tr.Do(ctx, req)
	if err != nil {
		return secrets.Credentials{}, err
	}
	if err := reconcile.CheckStatus(resp); err != nil {
		reconcile.Drain(resp)
		return secrets.Credentials{}, err
	}
	var p Profile
	if err := reconcile.DecodeJSON(resp, &p); err != nil {
		return secrets.Credentials{}, err
	}
	creds.Username = p.ID
	return creds, nil
}

// Client calls the Feedly API for one user.
type Client struct {
	base     string
	tr       *reconcile.Transport
	secrets  secrets.Store
	username string
	oauth    *oauth2.Config

	mu    sync.Mutex
	token string
}

// NewClient creates a client. oauth may be nil, in which case an expired
// token cannot be refreshed.
func NewClient(endpoint string, tr *reconcile.Transport, store secrets.Store, username string, oauth *oauth2.Config) (*Client, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: endpoint %q", reconcile.ErrInvalidParameter, endpoint)
	}
	return &Client{
		base:     strings.TrimRight(u.String(), "/"),
		tr:       tr,
		secrets:  store,
		username: username,
		oauth:    oauth,
	}, nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}
	cred, err := c.secrets.Get(secrets.TypeOAuthAccessToken, c.username)
	if err == nil && (cred.Expiry.IsZero() || time.Until(cred.Expiry) > time.Minute) {
		c.setToken(cred.Secret)
		return cred.Secret, nil
	}
	return c.refresh(ctx)
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// refresh mints a new access token from the stored refresh token.
func (c *Client) refresh(ctx context.Context) (string, error) {
	if c.oauth == nil {
		return "", fmt.Errorf("%w: no oauth client configured", reconcile.ErrUnauthorized)
	}
	rt, err := c.secrets.Get(secrets.TypeOAuthRefreshToken, c.username)
	if err != nil {
		return "", fmt.Errorf("%w: no refresh token for %s", reconcile.ErrUnauthorized, c.username)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.tr.Client())
	tok, err := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: rt.Secret}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return "", fmt.Errorf("%w: refresh token rejected: %s", reconcile.ErrUnauthorized, re.ErrorCode)
		}
		return "", fmt.Errorf("refresh access token: %w", err)
	}
	if err := SaveToken(c.secrets, c.username, tok); err != nil {
		return "", err
	}
	c.setToken(tok.AccessToken)
	return tok.AccessToken, nil
}

// send issues an authenticated request. A 401 refreshes the access token and
// replays the request once.
func (c *Client) send(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		token, err := c.accessToken(ctx)
		if err != nil {
			return nil, err
		}
		req, err := build()
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := c.tr.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized || attempt > 0 {
			return resp, nil
		}
		reconcile.Drain(resp)
		c.setToken("")
		if _, err := c.refresh(ctx); err != nil {
			return nil, err
		}
	}
}

// call sends body as JSON and decodes a 2xx response into out when out is
// not nil.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	rawURL := c.base + path
	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}
	resp, err := c.send(ctx, func() (*http.Request, error) {
		return reconcile.NewJSONRequest(ctx, method, rawURL, body)
	})
	if err != nil {
		return fmt.Errorf("%s %s: %w", strings.ToLower(method), path, err)
	}
	if err := reconcile.CheckStatus(resp); err != nil {
		reconcile.Drain(resp)
		return fmt.Errorf("%s %s: %w", strings.ToLower(method), path, err)
	}
	if out == nil {
		reconcile.Drain(resp)
		return nil
	}
	return reconcile.DecodeJSON(resp, out)
}

// Profile returns the authenticated user.
func (c *Client) Profile(ctx context.Context) (Profile, error) {
	var p Profile
	err := c.call(ctx, http.MethodGet, "/v3/profile", nil, nil, &p)
	return p, err
}

// Collections lists collections with their feeds.
func (c *Client) Collections(ctx context.Context) ([]Collection, error) {
	var out []Collection
	err := c.call(ctx, http.MethodGet, "/v3/collections", nil, nil, &out)
	return out, err
}

// CreateCollection creates a collection with label.
func (c *Client) CreateCollection(ctx context.Context, label string) (Collection, error) {
	return c.saveCollection(ctx, collectionBody{Label: label})
}

// RenameCollection changes a collection's label.
func (c *Client) RenameCollection(ctx context.Context, id, label string) (Collection, error) {
	return c.saveCollection(ctx, collectionBody{ID: id, Label: label})
}

func (c *Client) saveCollection(ctx context.Context, body collectionBody) (Collection, error) {
	var out []Collection
	if err := c.call(ctx, http.MethodPost, "/v3/collections", nil, body, &out); err != nil {
		return Collection{}, err
	}
	if len(out) == 0 {
		return Collection{}, &reconcile.ProtocolError{Field: "collections"}
	}
	return out[0], nil
}

// DeleteCollection deletes a collection.
func (c *Client) DeleteCollection(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/v3/collections/"+url.PathEscape(id), nil, nil, nil)
}

// AddFeed subscribes to feedID inside a collection, or updates the title of
// an existing subscription. It returns the collection's feeds.
func (c *Client) AddFeed(ctx context.Context, collectionID, feedID, title string) ([]Feed, error) {
	var out []Feed
	err := c.call(ctx, http.MethodPut, "/v3/collections/"+url.PathEscape(collectionID)+"/feeds", nil, feedBody{ID: feedID, Title: title}, &out)
	return out, err
}

// RemoveFeed takes feedID out of a collection.
func (c *Client) RemoveFeed(ctx context.Context, collectionID, feedID string) error {
	return c.call(ctx, http.MethodDelete, "/v3/collections/"+url.PathEscape(collectionID)+"/feeds/.mdelete", nil, []feedBody{{ID: feedID}}, nil)
}

// StreamIDs walks every page of entry ids in a stream.
func (c *Client) StreamIDs(ctx context.Context, streamID string, newerThan time.Time, unreadOnly bool) ([]string, error) {
	query := url.Values{"streamId": {streamID}, "count": {strconv.Itoa(streamPageSize)}}
	if !newerThan.IsZero() {
		query.Set("newerThan", strconv.FormatInt(newerThan.UnixMilli(), 10))
	}
	if unreadOnly {
		query.Set("unreadOnly", "true")
	}
	var ids []string
	for {
		var page streamIDs
		if err := c.call(ctx, http.MethodGet, "/v3/streams/ids", query, nil, &page); err != nil {
			return ids, err
		}
		ids = append(ids, page.IDs...)
		if page.Continuation == "" {
			return ids, nil
		}
		query.Set("continuation", page.Continuation)
	}
}

// Entries fetches entries by id.
func (c *Client) Entries(ctx context.Context, ids []string) ([]Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []Entry
	err := c.call(ctx, http.MethodPost, "/v3/entries/.mget", nil, ids, &out)
	return out, err
}

// Mark applies a marker action to entries.
func (c *Client) Mark(ctx context.Context, action string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.call(ctx, http.MethodPost, "/v3/markers", nil, markers{Type: "entries", Action: action, EntryIDs: ids}, nil)
}

// ImportOPML uploads an OPML document.
func (c *Client) ImportOPML(ctx context.Context, opml []byte) error {
	resp, err := c.send(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v3/opml", bytes.NewReader(opml))
		if err != nil {
			return nil, fmt.Errorf("build import request: %w", err)
		}
		req.Header.Set("Content-Type", "text/xml")
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("import opml: %w", err)
	}
	defer reconcile.Drain(resp)
	if err := reconcile.CheckStatus(resp, http.StatusOK); err != nil {
		return fmt.Errorf("import opml: %w", err)
	}
	return nil
}

// Logout revokes the session's tokens.
func (c *Client) Logout(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/v3/auth/logout", nil, nil, nil)
}
