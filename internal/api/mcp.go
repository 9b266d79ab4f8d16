package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/chatgate/chatgate/internal/gateway"
	"github.com/chatgate/chatgate/internal/storage"
)

// MCPDeps holds dependencies for the MCP server. Store may be nil when the
// process has no direct store access; get_history then reports an error.
type MCPDeps struct {
	Orchestrator *gateway.Orchestrator
	Store        storage.HistoryStore
	Token        string // bearer token forwarded to the auth collaborator
}

// NewMCPServer exposes the gateway to MCP clients: one tool to chat through
// the full pipeline and one to read persisted history.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"chatgate",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("chatgate — conversational gateway with retrieval-grounded responses and durable history."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("chat",
			mcp.WithDescription("Send a message through the chat pipeline and return the generated response."),
			mcp.WithString("message", mcp.Description("The user message"), mcp.Required()),
			mcp.WithString("role", mcp.Description("Persona role for the system prompt (default: default)")),
		),
		mcpChat(deps),
	)

	s.AddTool(
		mcp.NewTool("get_history",
			mcp.WithDescription("Return the most recent persisted interactions for a user, newest first."),
			mcp.WithString("user_id", mcp.Description("User identifier"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of interactions (default 10, max 50)")),
		),
		mcpGetHistory(deps),
	)

	return s
}

func mcpChat(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}
		role := req.GetString("role", "")

		resp, err := deps.Orchestrator.Handle(ctx, gateway.Request{
			Message: message,
			Role:    role,
		}, deps.Token)
		if err != nil {
			return mcpError(fmt.Sprintf("chat failed: %v", err)), nil
		}
		return mcpText(resp.BotResponse), nil
	}
}

func mcpGetHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Store == nil {
			return mcpError("history store not available in this process"), nil
		}

		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		limit := req.GetInt("limit", 10)
		if limit <= 0 || limit > storage.DefaultHistoryLimit {
			limit = storage.DefaultHistoryLimit
		}

		history, err := deps.Store.RecentHistory(ctx, userID, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read history: %v", err)), nil
		}

		type entry struct {
			Message   string `json:"message"`
			Response  string `json:"response"`
			Timestamp string `json:"timestamp"`
		}
		entries := make([]entry, len(history))
		for i, in := range history {
			entries[i] = entry{
				Message:   in.Message,
				Response:  in.Response,
				Timestamp: in.Timestamp.Format(time.RFC3339),
			}
		}
		b, err := json.Marshal(entries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal history: %v", err)), nil
		}
		return mcpText(string(b)), nil
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
