// Package mcp exposes the advocate to local AI agents over the Model
// Context Protocol. Tools cover sending mail, draining the inbox through
// screening, and the capability negotiation surface.
package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/skworld/advocate/internal/advocate"
	"github.com/skworld/advocate/internal/transport"
)

// Server wraps the MCP SDK server around the advocate engine.
type Server struct {
	mcpServer *mcpsdk.Server
	engine    *advocate.Engine
	maildrop  *transport.Maildrop
	owner     string
}

// New creates an MCP server exposing the advocate tools.
func New(engine *advocate.Engine, maildrop *transport.Maildrop, owner string) *Server {
	s := &Server{
		engine:   engine,
		maildrop: maildrop,
		owner:    owner,
	}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "advocate",
			Version: "0.1.0",
		},
		nil,
	)

	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all advocate tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "advocate_send",
		Description: "Encrypt, sign and deliver a message to a peer through the maildrop.",
	}, s.handleSend)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "advocate_inbox",
		Description: "Drain the inbox through screening. Returns messages that passed, with flags; blocked and rejected envelopes are counted, never shown.",
	}, s.handleInbox)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "advocate_request_access",
		Description: "Negotiate a capability token for a resource. May block while the request escalates to the principal.",
	}, s.handleRequestAccess)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "advocate_resolve",
		Description: "Approve or deny an escalated access request by correlation id. Approval may narrow the scope.",
	}, s.handleResolve)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "advocate_pending",
		Description: "List escalated access requests awaiting the principal.",
	}, s.handlePending)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "advocate_revoke",
		Description: "Permanently revoke a capability token.",
	}, s.handleRevoke)
}
