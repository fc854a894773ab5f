// ABOUTME: HTTP fetcher for feed documents with conditional requests using ETag and Last-Modified.
// ABOUTME: Returns NotModified for 304 responses and guards against private addresses and oversized bodies.

package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/harper/feedsync/internal/account"
)

const MaxResponseSize = 10 * 1024 * 1024 // 10MB

// UserAgent identifies feed requests.
const UserAgent = "feedsync/1.0 (feed reader)"

// Result contains the response from an HTTP fetch operation.
type Result struct {
	Body        []byte
	URL         string
	Validators  account.ConditionalGetInfo
	NotModified bool
}

// Doer sends a request. *reconcile.Transport satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

type clientDoer struct {
	client *http.Client
}

func (c clientDoer) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(ctx))
}

// ClientDoer adapts a plain http.Client.
func ClientDoer(client *http.Client) Doer {
	return clientDoer{client: client}
}

var defaultDoer = ClientDoer(&http.Client{Timeout: 30 * time.Second})

// isPrivateIP checks if an IP address is in a private range (excluding loopback for tests).
func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() {
		return false
	}
	return ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

// Fetch retrieves a feed URL, sending the stored validators. A nil doer uses
// a default client. Non-200/304 statuses are errors.
func Fetch(ctx context.Context, doer Doer, urlStr string, validators account.ConditionalGetInfo) (*Result, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme %q", parsedURL.Scheme)
	}

	if ips, err := net.DefaultResolver.LookupIP(ctx, "ip", parsedURL.Hostname()); err == nil {
		for _, ip := range ips {
			if isPrivateIP(ip) {
				return nil, fmt.Errorf("access to private IP ranges is not allowed")
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	if validators.ETag != "" {
		req.Header.Set("If-None-Match", validators.ETag)
	}
	if validators.LastModified != "" {
		req.Header.Set("If-Modified-Since", validators.LastModified)
	}

	if doer == nil {
		doer = defaultDoer
	}
	resp, err := doer.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &Result{URL: urlStr, Validators: validators, NotModified: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response too large (exceeds %d bytes)", MaxResponseSize)
	}

	final := urlStr
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	return &Result{
		Body: body,
		URL:  final,
		Validators: account.ConditionalGetInfo{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		},
	}, nil
}
