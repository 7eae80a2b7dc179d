// Package mcp exposes the memory manager as Model Context Protocol tools so
// an assistant can read and write memories over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/nidhogg/memhub/internal/memory"
)

// Memory is the part of memory.Manager the tools call.
type Memory interface {
	Retrieve(ctx context.Context, q memory.Query) (*memory.RetrieveResult, error)
	Remember(ctx context.Context, userID, content, conversationID, source string) (*memory.RememberResult, error)
	Forget(ctx context.Context, userID, content string) (*memory.ForgetResult, error)
}

// Server registers the memory tools on an MCP server.
type Server struct {
	mem    Memory
	budget memory.ContextBudget
	srv    *server.MCPServer
}

// NewServer creates the MCP server with retrieve_memories, remember and
// forget tools.
func NewServer(mem Memory, version string, budget memory.ContextBudget) *Server {
	s := &Server{
		mem:    mem,
		budget: budget,
		srv:    server.NewMCPServer("memhub", version, server.WithToolCapabilities(false)),
	}

	s.srv.AddTool(mcpgo.NewTool("retrieve_memories",
		mcpgo.WithDescription("Retrieve the memories most relevant to a query for one user"),
		mcpgo.WithString("user_id", mcpgo.Required(), mcpgo.Description("User whose memories to search")),
		mcpgo.WithString("query", mcpgo.Required(), mcpgo.Description("What to look for")),
		mcpgo.WithNumber("limit", mcpgo.Description("Maximum memories to return")),
		mcpgo.WithNumber("threshold", mcpgo.Description("Minimum relevance score in [0, 1]")),
	), s.handleRetrieve)

	s.srv.AddTool(mcpgo.NewTool("remember",
		mcpgo.WithDescription("Store a fact about the user in short-term and long-term memory"),
		mcpgo.WithString("user_id", mcpgo.Required()),
		mcpgo.WithString("content", mcpgo.Required(), mcpgo.Description("The fact to remember")),
		mcpgo.WithString("conversation_id"),
	), s.handleRemember)

	s.srv.AddTool(mcpgo.NewTool("forget",
		mcpgo.WithDescription("Delete memories whose text equals content"),
		mcpgo.WithString("user_id", mcpgo.Required()),
		mcpgo.WithString("content", mcpgo.Required()),
	), s.handleForget)

	return s
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer { return s.srv }

// ServeStdio blocks serving requests on stdin/stdout.
func (s *Server) ServeStdio() error { return server.ServeStdio(s.srv) }

func (s *Server) handleRetrieve(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	args := request.GetArguments()

	q := memory.Query{}
	q.UserID, _ = args["user_id"].(string)
	q.Text, _ = args["query"].(string)
	if q.UserID == "" || q.Text == "" {
		return mcpgo.NewToolResultError("user_id and query are required"), nil
	}
	if v, ok := args["limit"].(float64); ok && v > 0 {
		q.Limit = int(v)
	}
	if v, ok := args["threshold"].(float64); ok {
		q.Threshold = memory.Threshold(v)
	}

	res, err := s.mem.Retrieve(ctx, q)
	if err != nil {
		return mcpgo.NewToolResultError(fmt.Sprintf("retrieve error: %v", err)), nil
	}
	if len(res.Memories) == 0 {
		return mcpgo.NewToolResultText("No relevant memories."), nil
	}
	return mcpgo.NewToolResultText(memory.FormatContext(res.Memories, s.budget)), nil
}

func (s *Server) handleRemember(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	args := request.GetArguments()

	userID, _ := args["user_id"].(string)
	content, _ := args["content"].(string)
	conversationID, _ := args["conversation_id"].(string)
	if userID == "" || content == "" {
		return mcpgo.NewToolResultError("user_id and content are required"), nil
	}

	res, err := s.mem.Remember(ctx, userID, content, conversationID, memory.SourceAPI)
	if err != nil {
		return mcpgo.NewToolResultError(fmt.Sprintf("remember error: %v", err)), nil
	}
	out, _ := json.MarshalIndent(res, "", "  ")
	return mcpgo.NewToolResultText(string(out)), nil
}

func (s *Server) handleForget(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	args := request.GetArguments()

	userID, _ := args["user_id"].(string)
	content, _ := args["content"].(string)
	if userID == "" || content == "" {
		return mcpgo.NewToolResultError("user_id and content are required"), nil
	}

	res, err := s.mem.Forget(ctx, userID, content)
	if err != nil {
		return mcpgo.NewToolResultError(fmt.Sprintf("forget error: %v", err)), nil
	}
	out, _ := json.MarshalIndent(res, "", "  ")
	return mcpgo.NewToolResultText(string(out)), nil
}
