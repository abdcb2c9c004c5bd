package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kspranav-az/automation-agent/internal/repository"
	"github.com/kspranav-az/automation-agent/internal/router"
	"github.com/kspranav-az/automation-agent/pkg/models"
)

type stubPrompts struct {
	handle func(ctx context.Context, prompt string) (*models.ExecutionRecord, error)
}

func (s *stubPrompts) HandlePrompt(ctx context.Context, prompt string) (*models.ExecutionRecord, error) {
	return s.handle(ctx, prompt)
}

type stubApprover struct {
	approve func(ctx context.Context, proposalID, actor string) (int, error)
	reject  func(ctx context.Context, proposalID, actor, reason string) error
}

func (s *stubApprover) Approve(ctx context.Context, proposalID, actor string) (int, error) {
	return s.approve(ctx, proposalID, actor)
}

func (s *stubApprover) Reject(ctx context.Context, proposalID, actor, reason string) error {
	return s.reject(ctx, proposalID, actor, reason)
}

// stubWorkflows overrides only the methods a handler touches.
type stubWorkflows struct {
	repository.WorkflowStore
	listAll func(ctx context.Context) ([]*models.WorkflowSpec, error)
	publish func(ctx context.Context, spec *models.WorkflowSpec) (int, error)
}

func (s *stubWorkflows) ListAll(ctx context.Context) ([]*models.WorkflowSpec, error) {
	return s.listAll(ctx)
}

func (s *stubWorkflows) Publish(ctx context.Context, spec *models.WorkflowSpec) (int, error) {
	return s.publish(ctx, spec)
}

type stubExecutions struct {
	repository.ExecutionStore
	get func(ctx context.Context, id string) (*models.ExecutionRecord, error)
}

func (s *stubExecutions) Get(ctx context.Context, id string) (*models.ExecutionRecord, error) {
	return s.get(ctx, id)
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestRunPrompt(t *testing.T) {
	e := echo.New()

	t.Run("returns the terminal execution record", func(t *testing.T) {
		srv := &Server{Prompts: &stubPrompts{
			handle: func(ctx context.Context, prompt string) (*models.ExecutionRecord, error) {
				assert.Equal(t, "export PROJ-42 as pdf", prompt)
				return &models.ExecutionRecord{ID: "exec-1", Status: models.ExecutionStatusCompleted}, nil
			},
		}}

		rec := httptest.NewRecorder()
		c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/prompts", `{"prompt":"export PROJ-42 as pdf"}`), rec)

		require.NoError(t, srv.RunPrompt(c))
		assert.Equal(t, http.StatusOK, rec.Code)

		var out models.ExecutionRecord
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		assert.Equal(t, "exec-1", out.ID)
		assert.Equal(t, models.ExecutionStatusCompleted, out.Status)
	})

	t.Run("empty prompt is a 400", func(t *testing.T) {
		srv := &Server{Prompts: &stubPrompts{
			handle: func(ctx context.Context, prompt string) (*models.ExecutionRecord, error) {
				return nil, router.ErrEmptyPrompt
			},
		}}

		rec := httptest.NewRecorder()
		c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/prompts", `{"prompt":""}`), rec)

		require.NoError(t, srv.RunPrompt(c))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing credential is a 422", func(t *testing.T) {
		srv := &Server{Prompts: &stubPrompts{
			handle: func(ctx context.Context, prompt string) (*models.ExecutionRecord, error) {
				return nil, router.ErrMissingCredential
			},
		}}

		rec := httptest.NewRecorder()
		c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/prompts", `{"prompt":"log in to jira"}`), rec)

		require.NoError(t, srv.RunPrompt(c))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		var pd ProblemDetails
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pd))
		assert.Equal(t, "missing credential", pd.Title)
	})
}

func TestCreateWorkflow(t *testing.T) {
	e := echo.New()

	t.Run("publishes a draft and returns the version", func(t *testing.T) {
		var published *models.WorkflowSpec
		srv := &Server{Workflows: &stubWorkflows{
			publish: func(ctx context.Context, spec *models.WorkflowSpec) (int, error) {
				published = spec
				return 1, nil
			},
		}}

		body := `{"workflow_id":"jira-export","site":"jira","intent_tag":"export","steps":[{"position":1,"kind":"navigate","selector":{"value":"https://jira.example.com"}}]}`
		rec := httptest.NewRecorder()
		c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/workflows", body), rec)

		require.NoError(t, srv.CreateWorkflow(c))
		assert.Equal(t, http.StatusCreated, rec.Code)

		require.NotNil(t, published)
		assert.Equal(t, models.WorkflowStatusDraft, published.Status)
		assert.Equal(t, "api", published.CreatedBy)
		// row id assignment is the store's job
		assert.Empty(t, published.ID)
	})

	t.Run("rejects incomplete definitions", func(t *testing.T) {
		srv := &Server{Workflows: &stubWorkflows{}}

		rec := httptest.NewRecorder()
		c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/workflows", `{"workflow_id":"x"}`), rec)

		require.NoError(t, srv.CreateWorkflow(c))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetExecution(t *testing.T) {
	e := echo.New()

	srv := &Server{Executions: &stubExecutions{
		get: func(ctx context.Context, id string) (*models.ExecutionRecord, error) {
			if id == "exec-1" {
				return &models.ExecutionRecord{ID: "exec-1"}, nil
			}
			return nil, repository.ErrNotFound
		},
	}}

	t.Run("found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
		c.SetParamNames("id")
		c.SetParamValues("exec-1")

		require.NoError(t, srv.GetExecution(c))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("not found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
		c.SetParamNames("id")
		c.SetParamValues("missing")

		require.NoError(t, srv.GetExecution(c))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestApproveProposal(t *testing.T) {
	e := echo.New()

	t.Run("returns the new version", func(t *testing.T) {
		srv := &Server{Approvals: &stubApprover{
			approve: func(ctx context.Context, proposalID, actor string) (int, error) {
				assert.Equal(t, "prop-1", proposalID)
				assert.Equal(t, "reviewer", actor)
				return 4, nil
			},
		}}

		rec := httptest.NewRecorder()
		c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"actor":"reviewer"}`), rec)
		c.SetParamNames("id")
		c.SetParamValues("prop-1")

		require.NoError(t, srv.ApproveProposal(c))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"new_version":4}`, rec.Body.String())
	})

	t.Run("requires an actor", func(t *testing.T) {
		srv := &Server{Approvals: &stubApprover{}}

		rec := httptest.NewRecorder()
		c := e.NewContext(jsonRequest(http.MethodPost, "/", `{}`), rec)
		c.SetParamNames("id")
		c.SetParamValues("prop-1")

		require.NoError(t, srv.ApproveProposal(c))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown proposal is a 404", func(t *testing.T) {
		srv := &Server{Approvals: &stubApprover{
			approve: func(ctx context.Context, proposalID, actor string) (int, error) {
				return 0, repository.ErrNotFound
			},
		}}

		rec := httptest.NewRecorder()
		c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"actor":"reviewer"}`), rec)
		c.SetParamNames("id")
		c.SetParamValues("missing")

		require.NoError(t, srv.ApproveProposal(c))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRejectProposal(t *testing.T) {
	e := echo.New()

	srv := &Server{Approvals: &stubApprover{
		reject: func(ctx context.Context, proposalID, actor, reason string) error {
			assert.Equal(t, "wrong element", reason)
			return nil
		},
	}}

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"actor":"reviewer","reason":"wrong element"}`), rec)
	c.SetParamNames("id")
	c.SetParamValues("prop-1")

	require.NoError(t, srv.RejectProposal(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
