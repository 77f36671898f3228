// Package mcp exposes the approval gate to agents over the Model Context Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"

	"approval-gate/backend/internal/services"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server exposes approval requests to agents as MCP tools. Decisions are
// left to humans on the HTTP API, so there are no approve or reject tools.
type Server struct {
	mcpServer             *server.MCPServer
	workflows             services.Workflows
	defaultTimeoutMinutes int
}

// NewServer creates an MCP server with the approval tools registered.
// defaultTimeoutMinutes applies when request_approval omits timeout_minutes.
func NewServer(workflows services.Workflows, defaultTimeoutMinutes int) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Approval Gate",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		workflows:             workflows,
		defaultTimeoutMinutes: defaultTimeoutMinutes,
	}

	s.registerTools()
	return s
}

// GetMCPServer returns the underlying mcp-go server.
func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"request_approval",
			mcp.WithDescription("Ask a human to approve a sensitive action before performing it"),
			mcp.WithString("action", mcp.Required(), mcp.Description("What the agent wants to do")),
			mcp.WithString("requested_by", mcp.Required(), mcp.Description("Identifier of the requesting agent")),
			mcp.WithObject("context", mcp.Description("Arbitrary details shown to the reviewer")),
			mcp.WithNumber("timeout_minutes", mcp.Description(fmt.Sprintf("Minutes before the request times out (default %d)", s.defaultTimeoutMinutes))),
		),
		s.handleRequestApproval,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"check_approval",
			mcp.WithDescription("Check whether an approval request was approved, rejected or timed out"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The ID returned by request_approval")),
		),
		s.handleCheckApproval,
	)
}

func (s *Server) handleRequestApproval(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	action, ok := args["action"].(string)
	if !ok || action == "" {
		return mcp.NewToolResultError("Missing required parameter: action"), nil
	}

	requestedBy, ok := args["requested_by"].(string)
	if !ok || requestedBy == "" {
		return mcp.NewToolResultError("Missing required parameter: requested_by"), nil
	}

	var wfContext map[string]interface{}
	if raw, present := args["context"]; present && raw != nil {
		wfContext, ok = raw.(map[string]interface{})
		if !ok {
			return mcp.NewToolResultError("Parameter context must be an object"), nil
		}
	}

	timeout := s.defaultTimeoutMinutes
	if raw, present := args["timeout_minutes"]; present && raw != nil {
		minutes, ok := raw.(float64)
		if !ok || minutes != math.Trunc(minutes) {
			return mcp.NewToolResultError("Parameter timeout_minutes must be a whole number"), nil
		}
		if minutes < 0 || minutes > float64(services.MaxTimeoutMinutes) {
			return mcp.NewToolResultError(fmt.Sprintf("Parameter timeout_minutes must be between 0 and %d", services.MaxTimeoutMinutes)), nil
		}
		timeout = int(minutes)
	}

	record, err := s.workflows.Create(ctx, services.CreateWorkflowInput{
		Action:         action,
		RequestedBy:    requestedBy,
		Context:        wfContext,
		TimeoutMinutes: timeout,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to request approval: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(record)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleCheckApproval(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	id, ok := args["workflow_id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}

	record, err := s.workflows.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check approval: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(record)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// MountHTTPHandlers serves mcpServer over SSE at /mcp/sse and /mcp/message.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
