// ABOUTME: MCP tool definitions and handlers for account, feed and article operations
// ABOUTME: Every edit goes through the account's sync delegate so it reaches the service

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/harper/feedsync/internal/account"
	"github.com/harper/feedsync/internal/config"
	"github.com/harper/feedsync/internal/content"
	"github.com/harper/feedsync/internal/manager"
	"github.com/harper/feedsync/internal/models"
	"github.com/harper/feedsync/internal/timeutil"
)

// Type definitions for input/output structures

type AccountInput struct {
	Account string `json:"account,omitempty"`
}

type AccountOutput struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Name        string     `json:"name"`
	Active      bool       `json:"active"`
	Unread      int        `json:"unread"`
	Feeds       int        `json:"feeds"`
	Folders     int        `json:"folders"`
	LastRefresh *time.Time `json:"last_refresh,omitempty"`
}

type ListAccountsOutput struct {
	Accounts []AccountOutput `json:"accounts"`
	Count    int             `json:"count"`
}

type FeedOutput struct {
	ID          string   `json:"id"`
	URL         string   `json:"url"`
	Name        string   `json:"name"`
	HomePageURL string   `json:"home_page_url,omitempty"`
	Folders     []string `json:"folders,omitempty"`
	Unread      int      `json:"unread"`
}

type FolderOutput struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Unread int    `json:"unread"`
	Feeds  int    `json:"feeds"`
}

type ListFeedsOutput struct {
	Account string         `json:"account"`
	Feeds   []FeedOutput   `json:"feeds"`
	Folders []FolderOutput `json:"folders"`
	Count   int            `json:"count"`
}

type ListArticlesInput struct {
	Account     string `json:"account,omitempty"`
	FeedID      string `json:"feed_id,omitempty"`
	Folder      string `json:"folder,omitempty"`
	UnreadOnly  bool   `json:"unread_only,omitempty"`
	StarredOnly bool   `json:"starred_only,omitempty"`
	Since       string `json:"since,omitempty"`
	Query       string `json:"query,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

type ArticleOutput struct {
	ID          string     `json:"id"`
	FeedID      string     `json:"feed_id"`
	Title       string     `json:"title,omitempty"`
	URL         string     `json:"url,omitempty"`
	Authors     []string   `json:"authors,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Read        bool       `json:"read"`
	Starred     bool       `json:"starred"`
	Summary     string     `json:"summary,omitempty"`
}

type ListArticlesOutput struct {
	Articles []ArticleOutput `json:"articles"`
	Count    int             `json:"count"`
	Filters  map[string]any  `json:"filters"`
}

type GetArticleInput struct {
	Account   string `json:"account,omitempty"`
	ArticleID string `json:"article_id"`
}

type GetArticleOutput struct {
	ArticleOutput
	FeedName string `json:"feed_name,omitempty"`
	Content  string `json:"content,omitempty"`
}

type MarkArticlesInput struct {
	Account    string   `json:"account,omitempty"`
	ArticleIDs []string `json:"article_ids"`
	Action     string   `json:"action"`
}

type MarkArticlesOutput struct {
	Action string `json:"action"`
	Count  int    `json:"count"`
}

type RefreshOutput struct {
	Accounts []string `json:"accounts"`
	Unread   int      `json:"unread"`
	Errors   []string `json:"errors,omitempty"`
}

type AddFeedInput struct {
	Account string `json:"account,omitempty"`
	URL     string `json:"url"`
	Name    string `json:"name,omitempty"`
	Folder  string `json:"folder,omitempty"`
}

type RemoveFeedInput struct {
	Account string `json:"account,omitempty"`
	FeedID  string `json:"feed_id"`
	Folder  string `json:"folder,omitempty"`
}

type CreateFolderInput struct {
	Account string `json:"account,omitempty"`
	Name    string `json:"name"`
}

var accountProperty = map[string]interface{}{
	"type":        "string",
	"description": "Account id from list_accounts. May be omitted when only one account is active.",
}

// Tool registration

func (s *Server) registerTools() {
	s.registerListAccountsTool()
	s.registerListFeedsTool()
	s.registerListArticlesTool()
	s.registerGetArticleTool()
	s.registerMarkArticlesTool()
	s.registerRefreshTool()
	s.registerAddFeedTool()
	s.registerRemoveFeedTool()
	s.registerCreateFolderTool()
}

func (s *Server) registerListAccountsTool() {
	tool := mcp.Tool{
		Name:        "list_accounts",
		Description: "List every configured sync account with its type, unread count, feed and folder totals, and the time of the last successful refresh.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
	s.mcpServer.AddTool(tool, s.handleListAccounts)
}

func (s *Server) registerListFeedsTool() {
	tool := mcp.Tool{
		Name:        "list_feeds",
		Description: "List the feeds and folders of one account with per-feed and per-folder unread counts. Feed ids returned here are accepted by list_articles and remove_feed.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"account": accountProperty},
		},
	}
	s.mcpServer.AddTool(tool, s.handleListFeeds)
}

func (s *Server) registerListArticlesTool() {
	tool := mcp.Tool{
		Name:        "list_articles",
		Description: "List articles newest first. Filter by feed, folder, unread or starred state, a since cutoff, or a full-text query. Returns ids to use with get_article and mark_articles.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"account": accountProperty,
				"feed_id": map[string]interface{}{
					"type":        "string",
					"description": "Only articles of this feed id.",
				},
				"folder": map[string]interface{}{
					"type":        "string",
					"description": "Only articles of feeds in this folder name.",
				},
				"unread_only": map[string]interface{}{
					"type":        "boolean",
					"description": "Only unread articles.",
				},
				"starred_only": map[string]interface{}{
					"type":        "boolean",
					"description": "Only starred articles.",
				},
				"since": map[string]interface{}{
					"type":        "string",
					"description": "Only articles newer than this. Accepts today, yesterday, week, month, 36h, 7d or YYYY-MM-DD.",
				},
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Full-text search terms.",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": fmt.Sprintf("Maximum articles to return. Default %d.", config.DefaultListLimit),
				},
			},
		},
	}
	s.mcpServer.AddTool(tool, s.handleListArticles)
}

func (s *Server) registerGetArticleTool() {
	tool := mcp.Tool{
		Name:        "get_article",
		Description: "Get one article with its content converted to Markdown.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"account": accountProperty,
				"article_id": map[string]interface{}{
					"type":        "string",
					"description": "The article id from list_articles.",
				},
			},
			Required: []string{"article_id"},
		},
	}
	s.mcpServer.AddTool(tool, s.handleGetArticle)
}

func (s *Server) registerMarkArticlesTool() {
	tool := mcp.Tool{
		Name:        "mark_articles",
		Description: "Mark articles read, unread, starred or unstarred. The change is queued and pushed to the sync service.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"account": accountProperty,
				"article_ids": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Article ids from list_articles.",
				},
				"action": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"read", "unread", "star", "unstar"},
					"description": "What to do with the articles.",
				},
			},
			Required: []string{"article_ids", "action"},
		},
	}
	s.mcpServer.AddTool(tool, s.handleMarkArticles)
}

func (s *Server) registerRefreshTool() {
	tool := mcp.Tool{
		Name:        "refresh",
		Description: "Sync one account, or every active account when none is given. Pushes queued edits, mirrors the folder tree and downloads new articles.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"account": accountProperty},
		},
	}
	s.mcpServer.AddTool(tool, s.handleRefresh)
}

func (s *Server) registerAddFeedTool() {
	tool := mcp.Tool{
		Name:        "add_feed",
		Description: "Subscribe to a feed. The URL may be a feed or a web page that links to one. Optionally rename it and place it in a folder, which is created if needed.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"account": accountProperty,
				"url": map[string]interface{}{
					"type":        "string",
					"description": "Feed or site URL. Example: 'https://go.dev/blog'",
				},
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Optional display name.",
				},
				"folder": map[string]interface{}{
					"type":        "string",
					"description": "Optional folder name.",
				},
			},
			Required: []string{"url"},
		},
	}
	s.mcpServer.AddTool(tool, s.handleAddFeed)
}

func (s *Server) registerRemoveFeedTool() {
	tool := mcp.Tool{
		Name:        "remove_feed",
		Description: "Remove a feed from a folder, or from the top level when no folder is given. A feed left in no folder is unsubscribed.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"account": accountProperty,
				"feed_id": map[string]interface{}{
					"type":        "string",
					"description": "Feed id from list_feeds.",
				},
				"folder": map[string]interface{}{
					"type":        "string",
					"description": "Folder name to remove the feed from.",
				},
			},
			Required: []string{"feed_id"},
		},
	}
	s.mcpServer.AddTool(tool, s.handleRemoveFeed)
}

func (s *Server) registerCreateFolderTool() {
	tool := mcp.Tool{
		Name:        "create_folder",
		Description: "Create a folder in an account.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"account": accountProperty,
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Folder name.",
				},
			},
			Required: []string{"name"},
		},
	}
	s.mcpServer.AddTool(tool, s.handleCreateFolder)
}

// Handler implementations

func (s *Server) handleListAccounts(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries := s.mgr.Accounts()
	out := ListAccountsOutput{Accounts: make([]AccountOutput, 0, len(entries))}
	for _, e := range entries {
		a, err := accountOutput(ctx, e)
		if err != nil {
			return nil, err
		}
		out.Accounts = append(out.Accounts, a)
	}
	out.Count = len(out.Accounts)
	return jsonResult(out)
}

func accountOutput(ctx context.Context, e *manager.Entry) (AccountOutput, error) {
	unread, err := e.Account.UnreadCount(ctx)
	if err != nil {
		return AccountOutput{}, fmt.Errorf("unread count for %s: %w", e.Config.ID, err)
	}
	return AccountOutput{
		ID:          e.Config.ID,
		Type:        string(e.Account.Type()),
		Name:        e.Account.Name(),
		Active:      e.Config.Active,
		Unread:      unread,
		Feeds:       len(e.Account.FeedIDs()),
		Folders:     len(e.Account.Folders()),
		LastRefresh: e.Account.Metadata().LastArticleFetchEndTime,
	}, nil
}

func (s *Server) handleListFeeds(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input AccountInput
	if err := req.BindArguments(&input); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	e, err := s.entry(input.Account)
	if err != nil {
		return nil, err
	}
	acct := e.Account

	folderNames := make(map[string]string)
	out := ListFeedsOutput{Account: e.Config.ID}
	for _, f := range acct.Folders() {
		n, err := acct.UnreadCountForFolder(ctx, f.ID)
		if err != nil {
			return nil, err
		}
		folderNames[f.ID] = f.Name
		out.Folders = append(out.Folders, FolderOutput{ID: f.ID, Name: f.Name, Unread: n, Feeds: len(f.FeedIDs)})
	}
	for _, f := range acct.Feeds() {
		n, err := acct.UnreadCountForFeed(ctx, f.FeedID)
		if err != nil {
			return nil, err
		}
		fo := FeedOutput{ID: f.FeedID, URL: f.URL, Name: f.DisplayName(), HomePageURL: f.HomePageURL, Unread: n}
		for _, id := range acct.FoldersForFeed(f.FeedID) {
			fo.Folders = append(fo.Folders, folderNames[id])
		}
		sort.Strings(fo.Folders)
		out.Feeds = append(out.Feeds, fo)
	}
	out.Count = len(out.Feeds)
	return jsonResult(out)
}

func (s *Server) handleListArticles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input ListArticlesInput
	if err := req.BindArguments(&input); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	e, err := s.entry(input.Account)
	if err != nil {
		return nil, err
	}

	filter := manager.Filter{
		FeedID:  input.FeedID,
		Unread:  input.UnreadOnly,
		Starred: input.StarredOnly,
		Query:   input.Query,
		Limit:   input.Limit,
	}
	filters := map[string]any{}
	if filter.Limit <= 0 {
		filter.Limit = config.DefaultListLimit
	}
	filters["limit"] = filter.Limit
	if input.Folder != "" {
		folder, ok := e.Account.FolderByName(input.Folder)
		if !ok {
			return nil, fmt.Errorf("%w: %s", account.ErrFolderNotFound, input.Folder)
		}
		filter.FolderID = folder.ID
		filters["folder"] = input.Folder
	}
	if input.Since != "" {
		since, err := timeutil.ParseSince(input.Since, s.now())
		if err != nil {
			return nil, fmt.Errorf("invalid since: %w", err)
		}
		filter.Since = since
		filters["since"] = since
	}
	if input.FeedID != "" {
		filters["feed_id"] = input.FeedID
	}
	if input.UnreadOnly {
		filters["unread_only"] = true
	}
	if input.StarredOnly {
		filters["starred_only"] = true
	}
	if input.Query != "" {
		filters["query"] = input.Query
	}

	arts, err := manager.Articles(ctx, e.Account, filter)
	if err != nil {
		return nil, err
	}
	out := ListArticlesOutput{Articles: make([]ArticleOutput, 0, len(arts)), Filters: filters}
	for _, a := range arts {
		out.Articles = append(out.Articles, articleOutput(a))
	}
	out.Count = len(out.Articles)
	return jsonResult(out)
}

func articleOutput(a models.Article) ArticleOutput {
	out := ArticleOutput{
		ID:          a.ArticleID,
		FeedID:      a.FeedID,
		Title:       a.Title,
		URL:         a.URL,
		PublishedAt: a.DatePublished,
		Read:        a.Status.Read,
		Starred:     a.Status.Starred,
		Summary:     content.CollapseWhitespace(content.StripHTML(a.Summary)),
	}
	if out.URL == "" {
		out.URL = a.ExternalURL
	}
	for _, au := range a.Authors {
		if au.Name != "" {
			out.Authors = append(out.Authors, au.Name)
		}
	}
	return out
}

func (s *Server) handleGetArticle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input GetArticleInput
	if err := req.BindArguments(&input); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if input.ArticleID == "" {
		return nil, fmt.Errorf("article_id is required")
	}
	e, err := s.entry(input.Account)
	if err != nil {
		return nil, err
	}
	a, err := e.Account.Store().FetchArticle(ctx, input.ArticleID)
	if err != nil {
		return nil, err
	}

	out := GetArticleOutput{ArticleOutput: articleOutput(a)}
	if feed, ok := e.Account.Feed(a.FeedID); ok {
		out.FeedName = feed.DisplayName()
	}
	body := a.ContentHTML
	if body == "" {
		body = a.ContentText
	}
	if body == "" {
		body = a.Summary
	}
	if content.IsHTML(body) {
		body = content.ToMarkdown(body)
	}
	out.Content = body
	return jsonResult(out)
}

func (s *Server) handleMarkArticles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input MarkArticlesInput
	if err := req.BindArguments(&input); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if len(input.ArticleIDs) == 0 {
		return nil, fmt.Errorf("article_ids is required")
	}
	key, flag, err := manager.ParseAction(input.Action)
	if err != nil {
		return nil, err
	}
	e, err := s.entry(input.Account)
	if err != nil {
		return nil, err
	}
	if err := e.Delegate.MarkArticles(ctx, e.Account, input.ArticleIDs, key, flag); err != nil {
		return nil, fmt.Errorf("mark articles: %w", err)
	}
	return jsonResult(MarkArticlesOutput{Action: input.Action, Count: len(input.ArticleIDs)})
}

func (s *Server) handleRefresh(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input AccountInput
	if err := req.BindArguments(&input); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	out := RefreshOutput{}
	if input.Account != "" {
		e, err := s.mgr.Account(input.Account)
		if err != nil {
			return nil, err
		}
		out.Accounts = []string{e.Config.ID}
		if err := e.Delegate.RefreshAll(ctx, e.Account); err != nil {
			out.Errors = append(out.Errors, err.Error())
		}
	} else {
		var mu sync.Mutex
		// Failures are reported per account through progress.
		_ = s.mgr.RefreshAll(ctx, func(p manager.Progress) {
			mu.Lock()
			defer mu.Unlock()
			out.Accounts = append(out.Accounts, p.AccountID)
			if p.Err != nil {
				out.Errors = append(out.Errors, p.Err.Error())
			}
		})
		sort.Strings(out.Accounts)
	}

	n, err := s.mgr.UnreadCount(ctx)
	if err != nil {
		return nil, err
	}
	out.Unread = n
	return jsonResult(out)
}

func (s *Server) handleAddFeed(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input AddFeedInput
	if err := req.BindArguments(&input); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if input.URL == "" {
		return nil, fmt.Errorf("url is required")
	}
	e, err := s.entry(input.Account)
	if err != nil {
		return nil, err
	}

	folderID := ""
	if input.Folder != "" {
		folder, ok := e.Account.FolderByName(input.Folder)
		if !ok {
			created, err := e.Delegate.CreateFolder(ctx, e.Account, input.Folder)
			if err != nil {
				return nil, fmt.Errorf("create folder: %w", err)
			}
			folder = *created
		}
		folderID = folder.ID
	}

	feed, err := e.Delegate.CreateFeed(ctx, e.Account, input.URL, input.Name, folderID)
	if err != nil {
		return nil, fmt.Errorf("add feed: %w", err)
	}
	if err := e.Account.Save(); err != nil {
		return nil, err
	}
	n, _ := e.Account.UnreadCountForFeed(ctx, feed.FeedID)
	fo := FeedOutput{ID: feed.FeedID, URL: feed.URL, Name: feed.DisplayName(), HomePageURL: feed.HomePageURL, Unread: n}
	if input.Folder != "" {
		fo.Folders = []string{input.Folder}
	}
	return jsonResult(fo)
}

func (s *Server) handleRemoveFeed(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input RemoveFeedInput
	if err := req.BindArguments(&input); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	e, err := s.entry(input.Account)
	if err != nil {
		return nil, err
	}
	folderID := ""
	if input.Folder != "" {
		folder, ok := e.Account.FolderByName(input.Folder)
		if !ok {
			return nil, fmt.Errorf("%w: %s", account.ErrFolderNotFound, input.Folder)
		}
		folderID = folder.ID
	}
	if err := e.Delegate.RemoveFeed(ctx, e.Account, input.FeedID, folderID); err != nil {
		return nil, fmt.Errorf("remove feed: %w", err)
	}
	if err := e.Account.Save(); err != nil {
		return nil, err
	}
	_, stillThere := e.Account.Feed(input.FeedID)
	return jsonResult(map[string]any{
		"feed_id":      input.FeedID,
		"folder":       formatFolder(input.Folder),
		"unsubscribed": !stillThere,
	})
}

func (s *Server) handleCreateFolder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input CreateFolderInput
	if err := req.BindArguments(&input); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	e, err := s.entry(input.Account)
	if err != nil {
		return nil, err
	}
	folder, err := e.Delegate.CreateFolder(ctx, e.Account, input.Name)
	if err != nil {
		return nil, fmt.Errorf("create folder: %w", err)
	}
	if err := e.Account.Save(); err != nil {
		return nil, err
	}
	return jsonResult(FolderOutput{ID: folder.ID, Name: folder.Name})
}

// Helpers

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal output: %w", err)
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// formatFolder names a container for messages.
func formatFolder(name string) string {
	if name == "" {
		return "top level"
	}
	return "'" + name + "'"
}
