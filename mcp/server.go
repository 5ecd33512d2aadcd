// Package mcp exposes the approval gate as MCP tools so a conversational agent
// can forward user messages and render the gate's decisions.
package mcp

import (
	"context"
	"errors"
	"log/slog"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/mark3labs/x402-agentpay"
	"github.com/mark3labs/x402-agentpay/gate"
)

// Tool names.
const (
	ToolChat   = "chat"
	ToolReset  = "reset"
	ToolStatus = "status"
)

// DefaultSession is used when a call names no session.
const DefaultSession = "default"

// ErrMissingMessage indicates a chat call without a message.
var ErrMissingMessage = errors.New("mcp: message is required")

// Server registers the gate's tools on an MCP server.
type Server struct {
	gate    *gate.Gate
	mcp     *mcpserver.MCPServer
	name    string
	version string
	logger  *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithImplementation sets the server name and version reported to clients.
func WithImplementation(name, version string) Option {
	return func(s *Server) {
		s.name = name
		s.version = version
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates an MCP server with the chat, reset and status tools.
func NewServer(g *gate.Gate, opts ...Option) (*Server, error) {
	if g == nil {
		return nil, x402.NewPaymentError(x402.ErrCodeConfig, "mcp server requires a gate", x402.ErrMissingConfig)
	}

	s := &Server{
		gate:    g,
		name:    "x402-agent",
		version: "0.1.0",
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = mcpserver.NewMCPServer(s.name, s.version, mcpserver.WithToolCapabilities(false))

	s.mcp.AddTool(mcpproto.NewTool(ToolChat,
		mcpproto.WithDescription("Send a user message to the payment agent. Requests for paid data are answered with a payment prompt; reply yes to pay or no to continue without paying."),
		mcpproto.WithString("message", mcpproto.Required(), mcpproto.Description("The user's message")),
		mcpproto.WithString("session", mcpproto.Description("Conversation identifier; defaults to \""+DefaultSession+"\"")),
	), s.handleChat)

	s.mcp.AddTool(mcpproto.NewTool(ToolReset,
		mcpproto.WithDescription("Discard any pending payment prompt for a session."),
		mcpproto.WithString("session", mcpproto.Description("Conversation identifier")),
	), s.handleReset)

	s.mcp.AddTool(mcpproto.NewTool(ToolStatus,
		mcpproto.WithDescription("Report whether a session is awaiting payment approval."),
		mcpproto.WithString("session", mcpproto.Description("Conversation identifier")),
	), s.handleStatus)

	return s, nil
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// ServeStdio serves the tools over stdin and stdout until the input closes.
func (s *Server) ServeStdio() error {
	s.logger.Info("serving MCP over stdio", "name", s.name, "version", s.version)
	return mcpserver.ServeStdio(s.mcp)
}

func sessionArg(req mcpproto.CallToolRequest) string {
	if session, _ := req.GetArguments()["session"].(string); session != "" {
		return session
	}
	return DefaultSession
}

func (s *Server) handleChat(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	message, _ := req.GetArguments()["message"].(string)
	if message == "" {
		return mcpproto.NewToolResultError(ErrMissingMessage.Error()), nil
	}
	session := sessionArg(req)

	result := s.gate.Handle(ctx, session, message)
	s.logger.Debug("chat handled", "session", session, "kind", result.Kind.String(), "state", result.State.String())
	return Render(result), nil
}

func (s *Server) handleReset(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	session := sessionArg(req)
	s.gate.Reset(ctx, session)
	return mcpproto.NewToolResultText("Session " + session + " reset."), nil
}

func (s *Server) handleStatus(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	session := sessionArg(req)
	pending := s.gate.Pending(session)
	if pending == nil {
		return mcpproto.NewToolResultText("No payment is pending."), nil
	}
	return mcpproto.NewToolResultText("Awaiting approval: " + gate.FormatPrompt(pending.Terms)), nil
}
