// ABOUTME: HTTP transport shared by sync adapters with rate limiting, retries and suspension
// ABOUTME: Suspend cancels every in-flight request and refuses new ones until Resume

package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/harper/feedsync/internal/account"
)

const (
	// DefaultRequestsPerSecond bounds the steady request rate per account.
	DefaultRequestsPerSecond = 5
	// DefaultBurst allows short bursts above the steady rate.
	DefaultBurst = 10
	// DefaultMaxRetries bounds retries of transient GET failures.
	DefaultMaxRetries = 3
	// DefaultRetryBase is the first Fibonacci backoff step.
	DefaultRetryBase = 500 * time.Millisecond
	// DefaultTimeout bounds a single request.
	DefaultTimeout = 60 * time.Second

	userAgent = "feedsync/1.0"
)

// TransportOptions configures a Transport.
type TransportOptions struct {
	Client            *http.Client
	RequestsPerSecond float64
	Burst             int
	MaxRetries        uint64
	RetryBase         time.Duration
	UserAgent         string
	Logger            *slog.Logger
}

// Transport sends requests for one account.
type Transport struct {
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries uint64
	retryBase  time.Duration
	userAgent  string
	log        *slog.Logger

	mu        sync.Mutex
	suspended bool
	base      context.Context
	cancel    context.CancelFunc
}

// NewTransport creates a Transport, filling unset options with defaults.
func NewTransport(opts TransportOptions) *Transport {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: DefaultTimeout}
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = DefaultRetryBase
	}
	if opts.UserAgent == "" {
		opts.UserAgent = userAgent
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Transport{
		client:     opts.Client,
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		maxRetries: opts.MaxRetries,
		retryBase:  opts.RetryBase,
		userAgent:  opts.UserAgent,
		log:        opts.Logger,
		base:       base,
		cancel:     cancel,
	}
}

// Client returns the underlying HTTP client.
func (t *Transport) Client() *http.Client {
	return t.client
}

// Suspend cancels in-flight requests. Later requests fail with ErrSuspended.
func (t *Transport) Suspend() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.suspended {
		return
	}
	t.suspended = true
	t.cancel()
}

// Resume allows requests again.
func (t *Transport) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.suspended {
		return
	}
	t.suspended = false
	t.base, t.cancel = context.WithCancel(context.Background())
}

// Suspended reports whether the transport is suspended.
func (t *Transport) Suspended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.suspended
}

func (t *Transport) bind(ctx context.Context) (context.Context, func(), error) {
	t.mu.Lock()
	suspended, base := t.suspended, t.base
	t.mu.Unlock()
	if suspended {
		return nil, nil, ErrSuspended
	}
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(base, cancel)
	return ctx, func() { stop(); cancel() }, nil
}

// Do sends req. GET and HEAD requests are retried with Fibonacci backoff on
// network errors and 5xx responses. Any response is returned to the caller,
// who must close its body.
func (t *Transport) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	ctx, release, err := t.bind(ctx)
	if err != nil {
		return nil, err
	}

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	idempotent := req.Method == http.MethodGet || req.Method == http.MethodHead
	var resp *http.Response

	attempt := func(ctx context.Context) error {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
		r := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return err
			}
			r.Body = body
		}
		res, err := t.client.Do(r)
		if err != nil {
			if ctx.Err() == nil && idempotent {
				return retry.RetryableError(err)
			}
			return err
		}
		if idempotent && res.StatusCode >= 500 {
			io.Copy(io.Discard, res.Body)
			res.Body.Close()
			t.log.DebugContext(ctx, "transient server error", "status", res.StatusCode, "url", redact(req))
			return retry.RetryableError(&StatusError{Code: res.StatusCode, Method: req.Method, URL: redact(req)})
		}
		resp = res
		return nil
	}

	backoff := retry.WithMaxRetries(t.maxRetries, retry.NewFibonacci(t.retryBase))
	if err := retry.Do(ctx, backoff, attempt); err != nil {
		release()
		if t.Suspended() {
			return nil, ErrSuspended
		}
		return nil, err
	}
	resp.Body = &releasingBody{ReadCloser: resp.Body, release: release}
	return resp, nil
}

type releasingBody struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}

func redact(req *http.Request) string {
	u := *req.URL
	u.User = nil
	u.RawQuery = ""
	return u.String()
}

// CheckStatus returns a StatusError unless the response code is one of ok.
// An empty ok accepts any 2xx code.
func CheckStatus(resp *http.Response, ok ...int) error {
	if len(ok) == 0 {
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
	}
	for _, code := range ok {
		if resp.StatusCode == code {
			return nil
		}
	}
	return &StatusError{Code: resp.StatusCode, Method: resp.Request.Method, URL: redact(resp.Request)}
}

// DecodeJSON reads a JSON body into out and closes it.
func DecodeJSON(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return &ProtocolError{Field: "body"}
		}
		return &ProtocolError{Field: "body", Err: err}
	}
	return nil
}

// Drain discards and closes a response body.
func Drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// SetConditionalHeaders adds If-None-Match and If-Modified-Since validators.
func SetConditionalHeaders(req *http.Request, info account.ConditionalGetInfo) {
	if info.ETag != "" {
		req.Header.Set("If-None-Match", info.ETag)
	}
	if info.LastModified != "" {
		req.Header.Set("If-Modified-Since", info.LastModified)
	}
}

// ConditionalInfo extracts validators from a response.
func ConditionalInfo(resp *http.Response) account.ConditionalGetInfo {
	return account.ConditionalGetInfo{
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}
}

// NewJSONRequest builds a request with a JSON body that can be replayed.
func NewJSONRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	var req *http.Request
	var err error
	if body == nil {
		req, err = http.NewRequestWithContext(ctx, method, url, nil)
	} else {
		data, merr := json.Marshal(body)
		if merr != nil {
			return nil, fmt.Errorf("encode request: %w", merr)
		}
		req, err = http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
		if err == nil {
			req.Header.Set("Content-Type", "application/json; charset=utf-8")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}
