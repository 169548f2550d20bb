package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/satriobp/kino/internal/persona"
	"github.com/satriobp/kino/internal/session"
	"github.com/satriobp/kino/internal/tools"
	"github.com/satriobp/kino/internal/watchlist"
)

// mcpDefaultSession names the session used when an MCP client does not pass
// session_id. Created on first use.
const mcpDefaultSession = "default"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Sessions       *session.Manager
	Registry       *tools.Registry
	Agent          TurnRunner
	Watchlist      *watchlist.Store
	DefaultPersona persona.Persona
}

// NewMCPServer creates an MCP server exposing the assistant's tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"kino",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("kino — movie assistant with watchlist, scheduling, and document Q&A."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("chat",
			mcp.WithDescription("Send a message to the movie assistant and get its reply."),
			mcp.WithString("message", mcp.Description("The user message"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Conversation session (default: \"default\")")),
		),
		mcpChat(deps),
	)

	s.AddTool(
		mcp.NewTool("search_movie",
			mcp.WithDescription("Look up a movie by title and return its metadata."),
			mcp.WithString("query", mcp.Description("Movie title to search for"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Conversation session (default: \"default\")")),
		),
		mcpRegistryTool(deps, "search_movie"),
	)

	s.AddTool(
		mcp.NewTool("now_playing",
			mcp.WithDescription("List movies currently playing in theaters."),
			mcp.WithString("region", mcp.Description("Optional ISO 3166-1 region code")),
			mcp.WithString("session_id", mcp.Description("Conversation session (default: \"default\")")),
		),
		mcpRegistryTool(deps, "now_playing"),
	)

	s.AddTool(
		mcp.NewTool("add_to_watchlist",
			mcp.WithDescription("Add a movie to the session's watchlist."),
			mcp.WithString("title", mcp.Description("Movie title"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Conversation session (default: \"default\")")),
		),
		mcpRegistryTool(deps, "add_to_watchlist"),
	)

	s.AddTool(
		mcp.NewTool("remove_from_watchlist",
			mcp.WithDescription("Remove a movie from the session's watchlist by title."),
			mcp.WithString("title", mcp.Description("Movie title"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Conversation session (default: \"default\")")),
		),
		mcpRegistryTool(deps, "remove_from_watchlist"),
	)

	s.AddTool(
		mcp.NewTool("show_watchlist",
			mcp.WithDescription("Show the session's watchlist in insertion order."),
			mcp.WithString("session_id", mcp.Description("Conversation session (default: \"default\")")),
		),
		mcpRegistryTool(deps, "show_watchlist"),
	)

	s.AddTool(
		mcp.NewTool("plan_schedule",
			mcp.WithDescription("Plan a movie night that fits a time budget using watchlist items."),
			mcp.WithNumber("budget_minutes", mcp.Description("Total available minutes"), mcp.Required()),
			mcp.WithString("genre", mcp.Description("Optional genre filter")),
			mcp.WithArray("titles", mcp.Description("Optional title allowlist")),
			mcp.WithString("session_id", mcp.Description("Conversation session (default: \"default\")")),
		),
		mcpRegistryTool(deps, "plan_schedule"),
	)

	s.AddTool(
		mcp.NewTool("ask_document",
			mcp.WithDescription("Answer a question from the session's uploaded document."),
			mcp.WithString("question", mcp.Description("Question about the document"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Conversation session (default: \"default\")")),
		),
		mcpRegistryTool(deps, "ask_document"),
	)

	s.AddResource(
		mcp.NewResource(
			"kino://watchlist",
			"Watchlist",
			mcp.WithResourceDescription("The default session's watchlist as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceWatchlist(deps),
	)

	return s
}

func mcpSession(deps MCPDeps, req mcp.CallToolRequest) (*session.Session, error) {
	id := req.GetString("session_id", mcpDefaultSession)
	return deps.Sessions.Create(id, deps.DefaultPersona)
}

func mcpChat(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		sess, err := mcpSession(deps, req)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to open session: %v", err)), nil
		}

		result, err := deps.Agent.Turn(ctx, sess, message)
		if err != nil {
			return mcpError(fmt.Sprintf("turn failed: %v", err)), nil
		}

		return mcpText(result.Reply), nil
	}
}

// mcpRegistryTool bridges an MCP call to the shared tool registry. The
// observation JSON the agent sees is returned verbatim; soft failures come
// back as {"error": ...} text rather than MCP errors.
func mcpRegistryTool(deps MCPDeps, tool string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sess, err := mcpSession(deps, req)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to open session: %v", err)), nil
		}

		args := req.GetArguments()
		delete(args, "session_id")
		payload, err := json.Marshal(args)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal arguments: %v", err)), nil
		}

		obs, err := deps.Registry.Invoke(ctx, sess, tool, payload)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		return mcpText(obs), nil
	}
}

func mcpResourceWatchlist(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		items, err := deps.Watchlist.List(mcpDefaultSession)
		if err != nil {
			return nil, fmt.Errorf("failed to list watchlist: %w", err)
		}
		if items == nil {
			items = []watchlist.Item{}
		}

		b, err := json.Marshal(items)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal watchlist: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
