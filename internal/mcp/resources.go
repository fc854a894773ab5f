// ABOUTME: MCP resource providers for feedsync
// ABOUTME: Exposes read-only views of accounts, unread articles, and statistics

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/harper/feedsync/internal/manager"
	"github.com/harper/feedsync/internal/timeutil"
)

// unreadResourceLimit caps the unread articles listed per account.
const unreadResourceLimit = 100

// ResourceData is the standard response format for all resources.
type ResourceData struct {
	Metadata ResourceMetadata  `json:"metadata"`
	Data     interface{}       `json:"data"`
	Links    map[string]string `json:"links"`
}

// ResourceMetadata contains metadata about the resource response.
type ResourceMetadata struct {
	Timestamp   time.Time      `json:"timestamp"`
	Count       int            `json:"count"`
	ResourceURI string         `json:"resource_uri"`
	Filters     map[string]any `json:"filters,omitempty"`
}

// StatsOutput summarizes one account.
type StatsOutput struct {
	Account      string `json:"account"`
	Feeds        int    `json:"feeds"`
	Folders      int    `json:"folders"`
	Unread       int    `json:"unread"`
	Starred      int    `json:"starred"`
	ArrivedToday int    `json:"arrived_today"`
	Pending      int    `json:"pending_changes"`
}

var resourceLinks = map[string]string{
	"accounts": "feedsync://accounts",
	"unread":   "feedsync://articles/unread",
	"stats":    "feedsync://stats",
}

func (s *Server) registerResources() {
	s.registerAccountsResource()
	s.registerUnreadResource()
	s.registerStatsResource()
}

func (s *Server) registerAccountsResource() {
	s.mcpServer.AddResource(
		mcp.Resource{
			URI:         "feedsync://accounts",
			Name:        "Accounts",
			Description: "Every configured sync account with unread counts and last refresh time",
			MIMEType:    "application/json",
		},
		func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			var accounts []AccountOutput
			for _, e := range s.mgr.Accounts() {
				a, err := accountOutput(ctx, e)
				if err != nil {
					return nil, err
				}
				accounts = append(accounts, a)
			}
			return s.resource(request.Params.URI, accounts, len(accounts), nil)
		},
	)
}

func (s *Server) registerUnreadResource() {
	s.mcpServer.AddResource(
		mcp.Resource{
			URI:         "feedsync://articles/unread",
			Name:        "Unread Articles",
			Description: "The newest unread articles of every active account",
			MIMEType:    "application/json",
		},
		func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			byAccount := make(map[string][]ArticleOutput)
			total := 0
			for _, e := range s.mgr.ActiveAccounts() {
				arts, err := manager.Articles(ctx, e.Account, manager.Filter{Unread: true, Limit: unreadResourceLimit})
				if err != nil {
					return nil, fmt.Errorf("unread articles for %s: %w", e.Config.ID, err)
				}
				out := make([]ArticleOutput, 0, len(arts))
				for _, a := range arts {
					out = append(out, articleOutput(a))
				}
				byAccount[e.Config.ID] = out
				total += len(out)
			}
			return s.resource(request.Params.URI, byAccount, total, map[string]any{"limit_per_account": unreadResourceLimit})
		},
	)
}

func (s *Server) registerStatsResource() {
	s.mcpServer.AddResource(
		mcp.Resource{
			URI:         "feedsync://stats",
			Name:        "Statistics",
			Description: "Per-account feed, unread, starred and pending-change totals plus articles arrived today",
			MIMEType:    "application/json",
		},
		func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			stats, err := s.stats(ctx)
			if err != nil {
				return nil, err
			}
			return s.resource(request.Params.URI, stats, len(stats), nil)
		},
	)
}

func (s *Server) stats(ctx context.Context) ([]StatsOutput, error) {
	today := timeutil.StartOfDay(s.now())
	var out []StatsOutput
	for _, e := range s.mgr.Accounts() {
		acct := e.Account
		unread, err := acct.UnreadCount(ctx)
		if err != nil {
			return nil, err
		}
		starred, err := acct.Store().FetchStarredArticleIDs(ctx)
		if err != nil {
			return nil, err
		}
		pending, err := acct.Queue().PendingCount(ctx)
		if err != nil {
			return nil, err
		}
		arrived := 0
		arts, err := acct.Store().FetchArticles(ctx, acct.FeedIDs())
		if err != nil {
			return nil, err
		}
		for _, a := range arts {
			if !a.Status.DateArrived.Before(today) {
				arrived++
			}
		}
		out = append(out, StatsOutput{
			Account:      e.Config.ID,
			Feeds:        len(acct.FeedIDs()),
			Folders:      len(acct.Folders()),
			Unread:       unread,
			Starred:      len(starred),
			ArrivedToday: arrived,
			Pending:      pending,
		})
	}
	return out, nil
}

func (s *Server) resource(uri string, data any, count int, filters map[string]any) ([]mcp.ResourceContents, error) {
	resourceData := ResourceData{
		Metadata: ResourceMetadata{
			Timestamp:   s.now(),
			Count:       count,
			ResourceURI: uri,
			Filters:     filters,
		},
		Data:  data,
		Links: resourceLinks,
	}
	jsonBytes, err := json.MarshalIndent(resourceData, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource data: %w", err)
	}
	return []mcp.ResourceContents{
		&mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(jsonBytes),
		},
	}, nil
}
