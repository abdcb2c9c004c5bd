// Package mcp exposes the automation engine as MCP tools so agent hosts can
// run prompts and work the approval queue over the protocol.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kspranav-az/automation-agent/internal/api"
	"github.com/kspranav-az/automation-agent/internal/repository"
)

// Server wraps an MCP server around the engine services.
type Server struct {
	mcpServer *server.MCPServer
	prompts   api.PromptHandler
	workflows repository.WorkflowStore
	proposals repository.ProposalStore
	approvals api.Approver
}

// NewServer creates the MCP server and registers the engine tools.
func NewServer(prompts api.PromptHandler, workflows repository.WorkflowStore, proposals repository.ProposalStore, approvals api.Approver) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Browser Automation Engine",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		prompts:   prompts,
		workflows: workflows,
		proposals: proposals,
		approvals: approvals,
	}
	s.registerTools()
	return s
}

// GetMCPServer returns the underlying MCP server for mounting.
func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"run_prompt",
			mcp.WithDescription("Route a natural-language prompt to a recorded workflow or the adaptive agent and execute it"),
			mcp.WithString("prompt", mcp.Required(), mcp.Description("The natural-language task to perform")),
		),
		s.handleRunPrompt,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_workflows",
			mcp.WithDescription("List the newest version of every recorded workflow"),
		),
		s.handleListWorkflows,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_proposals",
			mcp.WithDescription("List pending self-healing proposals awaiting approval"),
		),
		s.handleListProposals,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"approve_proposal",
			mcp.WithDescription("Approve a healing proposal, publishing a patched workflow version"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The proposal ID")),
			mcp.WithString("actor", mcp.Required(), mcp.Description("Who is approving")),
		),
		s.handleApproveProposal,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"reject_proposal",
			mcp.WithDescription("Reject a healing proposal; its failure signature is never retried automatically"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The proposal ID")),
			mcp.WithString("actor", mcp.Required(), mcp.Description("Who is rejecting")),
			mcp.WithString("reason", mcp.Description("Why the proposal is rejected")),
		),
		s.handleRejectProposal,
	)
}

func stringArg(request mcp.CallToolRequest, name string) (string, bool) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return "", false
	}
	v, ok := args[name].(string)
	return v, ok
}

func (s *Server) handleRunPrompt(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, ok := stringArg(request, "prompt")
	if !ok || prompt == "" {
		return mcp.NewToolResultError("Missing required parameter: prompt"), nil
	}

	rec, err := s.prompts.HandlePrompt(ctx, prompt)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to run prompt: %v", err)), nil
	}
	jsonBytes, _ := json.Marshal(rec)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleListWorkflows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflows, err := s.workflows.ListAll(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list workflows: %v", err)), nil
	}
	jsonBytes, _ := json.Marshal(workflows)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleListProposals(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	proposals, err := s.proposals.ListPending(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list proposals: %v", err)), nil
	}
	jsonBytes, _ := json.Marshal(proposals)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleApproveProposal(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, ok := stringArg(request, "id")
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: id"), nil
	}
	actor, ok := stringArg(request, "actor")
	if !ok || actor == "" {
		return mcp.NewToolResultError("Missing required parameter: actor"), nil
	}

	version, err := s.approvals.Approve(ctx, id, actor)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to approve: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(`{"new_version": %d}`, version)), nil
}

func (s *Server) handleRejectProposal(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, ok := stringArg(request, "id")
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: id"), nil
	}
	actor, ok := stringArg(request, "actor")
	if !ok || actor == "" {
		return mcp.NewToolResultError("Missing required parameter: actor"), nil
	}
	reason, _ := stringArg(request, "reason")

	if err := s.approvals.Reject(ctx, id, actor, reason); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to reject: %v", err)), nil
	}
	return mcp.NewToolResultText("Proposal rejected"), nil
}

// MountHTTPHandlers wires the MCP server's SSE endpoints onto the mux.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
