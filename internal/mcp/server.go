// Package mcp exposes a running sandchat server as MCP tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/tejjnayak/sandchat/internal/client"
	"github.com/tejjnayak/sandchat/internal/proto"
	"github.com/tejjnayak/sandchat/internal/version"
)

type ChatArgs struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	UseRAG    bool   `json:"use_rag,omitempty"`
	TopK      int    `json:"top_k,omitempty"`
}

type SessionArgs struct {
	SessionID string `json:"session_id"`
}

type SearchArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type IngestArgs struct {
	Source  string `json:"source"`
	Content string `json:"content"`
}

type ArtifactArgs struct {
	Name string `json:"name"`
}

// ChatResult is what the chat tool returns.
type ChatResult struct {
	SessionID string `json:"session_id"`
	Response  string `json:"response"`
	Artifacts int    `json:"artifacts,omitempty"`
}

type handlerFunc = func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

// NewServer builds the MCP server backed by c.
func NewServer(c *client.Client) *server.MCPServer {
	s := server.NewMCPServer(
		"sandchat",
		version.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.AddTool(mcp.NewTool("chat",
		mcp.WithDescription("Send a message to the sandchat assistant and return its full reply. Pass session_id to continue a conversation."),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("Message to send (1 to 5000 characters)")),
		mcp.WithString("session_id",
			mcp.Description("Session to continue; a new session is created when empty or unknown")),
		mcp.WithBoolean("use_rag",
			mcp.Description("Augment the message with context from the knowledge index")),
		mcp.WithNumber("top_k",
			mcp.Description("Number of knowledge chunks to retrieve (default: 3)")),
	), makeChatHandler(c))

	s.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List chat sessions, most recently updated first"),
		mcp.WithNumber("limit",
			mcp.Description("Max sessions to return (default: 20)")),
	), makeListSessionsHandler(c))

	s.AddTool(mcp.NewTool("search_sessions",
		mcp.WithDescription("Fuzzy search chat sessions by title"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Text to match against session titles")),
		mcp.WithNumber("limit",
			mcp.Description("Max sessions to return (default: 20)")),
	), makeSearchSessionsHandler(c))

	s.AddTool(mcp.NewTool("get_messages",
		mcp.WithDescription("Return the messages of a chat session"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session to read")),
	), makeGetMessagesHandler(c))

	s.AddTool(mcp.NewTool("get_audit",
		mcp.WithDescription("Return the audit trail and timing statistics of a chat session"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session to inspect")),
	), makeGetAuditHandler(c))

	s.AddTool(mcp.NewTool("search_knowledge",
		mcp.WithDescription("Full-text search the knowledge index"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search terms")),
		mcp.WithNumber("limit",
			mcp.Description("Max results to return (default: 3)")),
	), makeSearchKnowledgeHandler(c))

	s.AddTool(mcp.NewTool("ingest_document",
		mcp.WithDescription("Add a text or markdown document to the knowledge index"),
		mcp.WithString("source",
			mcp.Required(),
			mcp.Description("Name the document is indexed under; re-ingesting a source replaces it")),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Document text")),
	), makeIngestHandler(c))

	s.AddTool(mcp.NewTool("list_artifacts",
		mcp.WithDescription("List files extracted from assistant replies"),
	), makeListArtifactsHandler(c))

	s.AddTool(mcp.NewTool("read_artifact",
		mcp.WithDescription("Return the content of an extracted artifact"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Artifact file name as returned by list_artifacts")),
	), makeReadArtifactHandler(c))

	return s
}

// Serve runs the MCP server on stdin and stdout until the client
// disconnects.
func Serve(c *client.Client) error {
	return server.ServeStdio(NewServer(c))
}

func parseArgs(request mcp.CallToolRequest, v any) error {
	argsBytes, err := json.Marshal(request.Params.Arguments)
	if err != nil {
		return err
	}
	return json.Unmarshal(argsBytes, v)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	resultJSON, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(resultJSON)), nil
}

func limit[T any](items []T, n, fallback int) []T {
	if n <= 0 {
		n = fallback
	}
	if len(items) > n {
		return items[:n]
	}
	return items
}

func makeChatHandler(c *client.Client) handlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args ChatArgs
		if err := parseArgs(request, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		if !proto.ValidateMessage(args.Message) {
			return mcp.NewToolResultError(fmt.Sprintf("message must be between %d and %d characters", proto.MinMessageLength, proto.MaxMessageLength)), nil
		}

		events, err := c.StreamChat(ctx, proto.StreamChatRequest{
			Message:   args.Message,
			SessionID: args.SessionID,
			UseRAG:    args.UseRAG,
			TopK:      args.TopK,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("chat failed: %v", err)), nil
		}

		var (
			result ChatResult
			reply  strings.Builder
		)
		for ev := range events {
			switch ev.Kind {
			case proto.StreamSessionInit:
				result.SessionID = ev.SessionID
			case proto.StreamChunk:
				reply.WriteString(ev.Text)
			case proto.StreamArtifacts:
				result.Artifacts = ev.Artifacts
			case proto.StreamError:
				return mcp.NewToolResultError(fmt.Sprintf("chat failed: %s", ev.Error)), nil
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.Response = strings.TrimSpace(reply.String())
		return jsonResult(result)
	}
}

func makeListSessionsHandler(c *client.Client) handlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args SearchArgs
		if err := parseArgs(request, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		sessions, err := c.ListSessions(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to list sessions: %v", err)), nil
		}
		return jsonResult(map[string]any{"sessions": limit(sessions, args.Limit, 20)})
	}
}

func makeSearchSessionsHandler(c *client.Client) handlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args SearchArgs
		if err := parseArgs(request, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		if strings.TrimSpace(args.Query) == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		sessions, err := c.SearchSessions(ctx, args.Query)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}
		return jsonResult(map[string]any{"sessions": limit(sessions, args.Limit, 20)})
	}
}

func makeGetMessagesHandler(c *client.Client) handlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args SessionArgs
		if err := parseArgs(request, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		msgs, err := c.GetSessionMessages(ctx, args.SessionID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("session not found: %v", err)), nil
		}
		return jsonResult(proto.SessionMessages{Messages: msgs})
	}
}

func makeGetAuditHandler(c *client.Client) handlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args SessionArgs
		if err := parseArgs(request, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		report, err := c.GetAudit(ctx, args.SessionID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to get audit: %v", err)), nil
		}
		return jsonResult(report)
	}
}

func makeSearchKnowledgeHandler(c *client.Client) handlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args SearchArgs
		if err := parseArgs(request, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		results, err := c.SearchKnowledge(ctx, args.Query, args.Limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}
		return jsonResult(results)
	}
}

func makeIngestHandler(c *client.Client) handlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args IngestArgs
		if err := parseArgs(request, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		res, err := c.IngestDocument(ctx, args.Source, args.Content)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("ingest failed: %v", err)), nil
		}
		return jsonResult(res)
	}
}

func makeListArtifactsHandler(c *client.Client) handlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		artifacts, err := c.ListArtifacts(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to list artifacts: %v", err)), nil
		}
		return jsonResult(proto.ArtifactList{Artifacts: artifacts})
	}
}

func makeReadArtifactHandler(c *client.Client) handlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args ArtifactArgs
		if err := parseArgs(request, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		body, _, err := c.GetArtifact(ctx, args.Name)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to read artifact: %v", err)), nil
		}
		return mcp.NewToolResultText(string(body)), nil
	}
}
