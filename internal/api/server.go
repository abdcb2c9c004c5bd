package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kspranav-az/automation-agent/internal/repository"
	"github.com/kspranav-az/automation-agent/internal/router"
	"github.com/kspranav-az/automation-agent/pkg/models"
)

// PromptHandler routes and executes a prompt; the router satisfies it.
type PromptHandler interface {
	HandlePrompt(ctx context.Context, prompt string) (*models.ExecutionRecord, error)
}

// Approver resolves healing proposals; the self-healing engine satisfies it.
type Approver interface {
	Approve(ctx context.Context, proposalID, actor string) (int, error)
	Reject(ctx context.Context, proposalID, actor, reason string) error
}

// Server holds the dependencies for the API server.
type Server struct {
	Prompts    PromptHandler
	Workflows  repository.WorkflowStore
	Executions repository.ExecutionStore
	Proposals  repository.ProposalStore
	Audit      repository.AuditLog
	Approvals  Approver
}

// NewServer creates a new Server.
func NewServer(prompts PromptHandler, workflows repository.WorkflowStore, executions repository.ExecutionStore, proposals repository.ProposalStore, audit repository.AuditLog, approvals Approver) *Server {
	return &Server{
		Prompts:    prompts,
		Workflows:  workflows,
		Executions: executions,
		Proposals:  proposals,
		Audit:      audit,
		Approvals:  approvals,
	}
}

// RegisterRoutes mounts the API endpoints on the group.
func (s *Server) RegisterRoutes(g *echo.Group) {
	g.POST("/prompts", s.RunPrompt)
	g.GET("/workflows", s.ListWorkflows)
	g.POST("/workflows", s.CreateWorkflow)
	g.GET("/executions/:id", s.GetExecution)
	g.GET("/proposals", s.ListProposals)
	g.POST("/proposals/:id/approve", s.ApproveProposal)
	g.POST("/proposals/:id/reject", s.RejectProposal)
	g.GET("/audit", s.QueryAudit)
}

// RunPrompt routes a natural-language prompt and executes the chosen
// strategy, returning the terminal execution record.
// (POST /api/v1/prompts)
func (s *Server) RunPrompt(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "invalid request", err.Error())
	}

	rec, err := s.Prompts.HandlePrompt(ctx, req.Prompt)
	if err != nil {
		switch {
		case errors.Is(err, router.ErrEmptyPrompt):
			return problem(c, http.StatusBadRequest, "invalid request", err.Error())
		case errors.Is(err, router.ErrMissingCredential):
			return problem(c, http.StatusUnprocessableEntity, "missing credential", err.Error())
		}
		return problem(c, http.StatusInternalServerError, "execution failed", err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

// ListWorkflows returns the newest version of every workflow.
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	workflows, err := s.Workflows.ListAll(c.Request().Context())
	if err != nil {
		return problem(c, http.StatusInternalServerError, "list workflows", err.Error())
	}
	return c.JSON(http.StatusOK, workflows)
}

// CreateWorkflow publishes a workflow definition as the next version of
// its workflow line. Definitions arrive as drafts unless marked approved.
// (POST /api/v1/workflows)
func (s *Server) CreateWorkflow(c echo.Context) error {
	var spec models.WorkflowSpec
	if err := c.Bind(&spec); err != nil {
		return problem(c, http.StatusBadRequest, "invalid request", err.Error())
	}
	if spec.WorkflowID == "" || spec.Site == "" || spec.IntentTag == "" || len(spec.Steps) == 0 {
		return problem(c, http.StatusBadRequest, "invalid request", "workflow_id, site, intent_tag and steps are required")
	}
	if spec.Status == "" {
		spec.Status = models.WorkflowStatusDraft
	}
	if spec.CreatedBy == "" {
		spec.CreatedBy = "api"
	}

	version, err := s.Workflows.Publish(c.Request().Context(), &spec)
	if err != nil {
		return problem(c, http.StatusInternalServerError, "publish workflow", err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]any{"workflow_id": spec.WorkflowID, "version": version})
}

// GetExecution returns one execution record.
// (GET /api/v1/executions/:id)
func (s *Server) GetExecution(c echo.Context) error {
	rec, err := s.Executions.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return problem(c, http.StatusNotFound, "not found", "no such execution")
		}
		return problem(c, http.StatusInternalServerError, "get execution", err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

// ListProposals returns all pending healing proposals.
// (GET /api/v1/proposals)
func (s *Server) ListProposals(c echo.Context) error {
	proposals, err := s.Proposals.ListPending(c.Request().Context())
	if err != nil {
		return problem(c, http.StatusInternalServerError, "list proposals", err.Error())
	}
	return c.JSON(http.StatusOK, proposals)
}

type approvalRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

// ApproveProposal promotes a proposal into a new approved workflow version.
// (POST /api/v1/proposals/:id/approve)
func (s *Server) ApproveProposal(c echo.Context) error {
	var req approvalRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "invalid request", err.Error())
	}
	if req.Actor == "" {
		return problem(c, http.StatusBadRequest, "invalid request", "actor is required")
	}

	version, err := s.Approvals.Approve(c.Request().Context(), c.Param("id"), req.Actor)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return problem(c, http.StatusNotFound, "not found", "no such proposal")
		}
		return problem(c, http.StatusConflict, "approval failed", err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"new_version": version})
}

// RejectProposal resolves a proposal as rejected.
// (POST /api/v1/proposals/:id/reject)
func (s *Server) RejectProposal(c echo.Context) error {
	var req approvalRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "invalid request", err.Error())
	}
	if req.Actor == "" {
		return problem(c, http.StatusBadRequest, "invalid request", "actor is required")
	}

	if err := s.Approvals.Reject(c.Request().Context(), c.Param("id"), req.Actor, req.Reason); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return problem(c, http.StatusNotFound, "not found", "no such proposal")
		}
		return problem(c, http.StatusConflict, "rejection failed", err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// QueryAudit returns audit entries, newest first.
// (GET /api/v1/audit)
func (s *Server) QueryAudit(c echo.Context) error {
	filter := models.AuditFilter{
		Kind:       models.AuditKind(c.QueryParam("kind")),
		WorkflowID: c.QueryParam("workflow_id"),
		Site:       c.QueryParam("site"),
		IntentTag:  c.QueryParam("intent_tag"),
		Limit:      100,
	}
	entries, err := s.Audit.Query(c.Request().Context(), filter)
	if err != nil {
		return problem(c, http.StatusInternalServerError, "query audit log", err.Error())
	}
	return c.JSON(http.StatusOK, entries)
}
