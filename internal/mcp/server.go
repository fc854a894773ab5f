// ABOUTME: MCP server implementation for feedsync
// ABOUTME: Provides tools, resources, and prompts for AI agents to read and triage synced accounts

package mcp

import (
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/harper/feedsync/internal/manager"
)

// Server wraps the MCP server with the account manager it serves.
type Server struct {
	mcpServer *server.MCPServer
	mgr       *manager.Manager
	now       func() time.Time
}

// NewServer creates a new MCP server instance
func NewServer(mgr *manager.Manager, version string) *Server {
	s := &Server{
		mgr: mgr,
		now: time.Now,
	}

	s.mcpServer = server.NewMCPServer(
		"feedsync",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(true),
	)

	s.registerTools()
	s.registerResources()
	s.registerPrompts()

	return s
}

// ServeStdio starts the MCP server on stdio
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// entry resolves an account id, falling back to the only active account.
func (s *Server) entry(id string) (*manager.Entry, error) {
	if id == "" {
		return s.mgr.Default()
	}
	return s.mgr.Account(id)
}
