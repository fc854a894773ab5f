// ABOUTME: MCP prompt definitions and handlers
// ABOUTME: Provides workflow templates for daily reading, catching up and pruning subscriptions

package mcp

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.registerDailyDigestPrompt()
	s.registerCatchUpPrompt()
	s.registerCurateFeedsPrompt()
}

func userPrompt(description, text string) *mcp.GetPromptResult {
	return &mcp.GetPromptResult{
		Description: description,
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: text,
				},
			},
		},
	}
}

func (s *Server) registerDailyDigestPrompt() {
	s.mcpServer.AddPrompt(
		mcp.Prompt{
			Name:        "daily-digest",
			Description: "Summarize today's new articles across every synced account",
			Arguments:   []mcp.PromptArgument{},
		},
		s.handleDailyDigest,
	)
}

func (s *Server) handleDailyDigest(_ context.Context, _ mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	const template = `# Daily Digest

Summarize what arrived today in my feed reader.

1. Call the refresh tool so every account is current.
2. Read feedsync://stats to see how many articles arrived today per account.
3. For each active account call list_articles with since="today" and unread_only=true.
4. Group the articles by feed. For the five most interesting, call get_article and write a two-sentence summary with the link.
5. List the remaining titles one per line.
6. Ask which articles to star. Use mark_articles with action "star" for those and action "read" for the ones I skip.

Keep the whole digest readable in under five minutes.`
	return userPrompt("Daily digest workflow for today's articles", template), nil
}

func (s *Server) registerCatchUpPrompt() {
	s.mcpServer.AddPrompt(
		mcp.Prompt{
			Name:        "catch-up",
			Description: "Work through an unread backlog after time away",
			Arguments: []mcp.PromptArgument{
				{
					Name:        "days",
					Description: "How many days of backlog to cover (default 7)",
					Required:    false,
				},
			},
		},
		s.handleCatchUp,
	)
}

func (s *Server) handleCatchUp(_ context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	days := "7"
	if req.Params.Arguments != nil {
		if d, ok := req.Params.Arguments["days"]; ok && d != "" {
			if n, err := strconv.Atoi(d); err != nil || n <= 0 {
				return nil, fmt.Errorf("days must be a positive integer, got %q", d)
			}
			days = d
		}
	}

	template := fmt.Sprintf(`# Catch Up: %[1]s Days

I have been away for %[1]s days. Help me clear the unread backlog.

1. Call refresh, then read feedsync://stats for the unread totals.
2. Call list_feeds for each account and rank feeds by unread count.
3. For high-volume feeds, show the ten newest titles from list_articles with since="%[1]sd" and offer to mark the rest read with mark_articles.
4. For the remaining feeds, list unread articles since "%[1]sd" and pick the ones worth reading. Summarize each with get_article.
5. Star anything I want to keep, then mark everything reviewed as read.
6. Finish with the new unread total.`, days)
	return userPrompt(fmt.Sprintf("Catch-up workflow for %s days of unread articles", days), template), nil
}

func (s *Server) registerCurateFeedsPrompt() {
	s.mcpServer.AddPrompt(
		mcp.Prompt{
			Name:        "curate-feeds",
			Description: "Review subscriptions and suggest feeds to drop, move or add",
			Arguments:   []mcp.PromptArgument{},
		},
		s.handleCurateFeeds,
	)
}

func (s *Server) handleCurateFeeds(_ context.Context, _ mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	const template = `# Curate Feeds

Review my subscriptions.

1. Call list_accounts, then list_feeds for each account.
2. Flag feeds with a large unread count that I never star. Check with list_articles starred_only=true.
3. Flag feeds that sit at the top level but fit an existing folder.
4. Propose a short list of removals and moves and wait for my approval.
5. Apply approved changes with remove_feed, create_folder and add_feed.

Never remove a feed without asking first.`
	return userPrompt("Feed curation workflow", template), nil
}
