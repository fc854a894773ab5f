// ABOUTME: Builds the sync delegate for an account from its configured type
// ABOUTME: Each account gets its own rate-limited transport over a shared HTTP client

package manager

import (
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/harper/feedsync/internal/account"
	"github.com/harper/feedsync/internal/config"
	"github.com/harper/feedsync/internal/feedbin"
	"github.com/harper/feedsync/internal/feedly"
	"github.com/harper/feedsync/internal/fetch"
	"github.com/harper/feedsync/internal/local"
	"github.com/harper/feedsync/internal/readerapi"
	"github.com/harper/feedsync/internal/reconcile"
	"github.com/harper/feedsync/internal/secrets"
)

// localRequestsPerSecond is the request rate for accounts that hit many
// unrelated feed hosts instead of one service.
const localRequestsPerSecond = 20

// Deps is what a DelegateFactory gets to build one delegate.
type Deps struct {
	Account    config.AccountConfig
	Secrets    secrets.Store
	HTTPClient *http.Client
	Logger     *slog.Logger
	Config     *config.Config
}

// DelegateFactory builds the delegate for an account.
type DelegateFactory func(Deps) (reconcile.Delegate, error)

// NewDelegate builds the delegate matching the account type.
func NewDelegate(deps Deps) (reconcile.Delegate, error) {
	ac := deps.Account
	if ac.Type == account.TypeLocal {
		tr := reconcile.NewTransport(reconcile.TransportOptions{
			Client:            deps.HTTPClient,
			Logger:            deps.Logger,
			RequestsPerSecond: localRequestsPerSecond,
			Burst:             local.DefaultConcurrency,
			UserAgent:         fetch.UserAgent,
		})
		return local.New(local.Options{Transport: tr, Logger: deps.Logger}), nil
	}

	tr := reconcile.NewTransport(reconcile.TransportOptions{Client: deps.HTTPClient, Logger: deps.Logger})
	switch ac.Type {
	case account.TypeReaderAPI:
		return readerapi.New(readerapi.Options{
			Endpoint:  ac.Endpoint,
			Username:  ac.Username,
			Secrets:   deps.Secrets,
			Transport: tr,
			Logger:    deps.Logger,
		})
	case account.TypeFeedbin:
		return feedbin.New(feedbin.Options{
			Endpoint:  ac.Endpoint,
			Username:  ac.Username,
			Secrets:   deps.Secrets,
			Transport: tr,
			Logger:    deps.Logger,
		})
	case account.TypeFeedly:
		return feedly.New(feedly.Options{
			Endpoint:  ac.Endpoint,
			Username:  ac.Username,
			Secrets:   deps.Secrets,
			Transport: tr,
			OAuth:     FeedlyOAuth(deps.Config, ac.Endpoint),
			Logger:    deps.Logger,
		})
	default:
		return nil, fmt.Errorf("%w: account type %q", reconcile.ErrUnsupported, ac.Type)
	}
}

// FeedlyOAuth returns the OAuth client for endpoint, or nil when no client
// registration is configured.
func FeedlyOAuth(cfg *config.Config, endpoint string) *oauth2.Config {
	if cfg == nil || cfg.FeedlyClientID == "" {
		return nil
	}
	if endpoint == "" {
		endpoint = feedly.DefaultEndpoint
	}
	return feedly.OAuthConfig(endpoint, cfg.FeedlyClientID, cfg.FeedlyClientSecret, config.FeedlyRedirectURL)
}
