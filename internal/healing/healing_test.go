package healing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kspranav-az/automation-agent/internal/browser"
	"github.com/kspranav-az/automation-agent/internal/llm"
	"github.com/kspranav-az/automation-agent/internal/logging"
	"github.com/kspranav-az/automation-agent/pkg/models"
)

type mockWorkflowStore struct {
	mock.Mock
}

func (m *mockWorkflowStore) Load(ctx context.Context, workflowID string, version int) (*models.WorkflowSpec, error) {
	args := m.Called(ctx, workflowID, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WorkflowSpec), args.Error(1)
}

func (m *mockWorkflowStore) ListApproved(ctx context.Context, site, intentTag string) ([]*models.WorkflowSpec, error) {
	args := m.Called(ctx, site, intentTag)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.WorkflowSpec), args.Error(1)
}

func (m *mockWorkflowStore) ListAll(ctx context.Context) ([]*models.WorkflowSpec, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.WorkflowSpec), args.Error(1)
}

func (m *mockWorkflowStore) Publish(ctx context.Context, spec *models.WorkflowSpec) (int, error) {
	args := m.Called(ctx, spec)
	return args.Int(0), args.Error(1)
}

func (m *mockWorkflowStore) Approve(ctx context.Context, workflowID string, version int, actor string) error {
	return m.Called(ctx, workflowID, version, actor).Error(0)
}

func (m *mockWorkflowStore) HasDraftFor(ctx context.Context, fingerprint string) (bool, error) {
	args := m.Called(ctx, fingerprint)
	return args.Bool(0), args.Error(1)
}

type mockProposalStore struct {
	mock.Mock
}

func (m *mockProposalStore) CreatePending(ctx context.Context, p *models.HealingProposal) (bool, *models.HealingProposal, error) {
	args := m.Called(ctx, p)
	var existing *models.HealingProposal
	if args.Get(1) != nil {
		existing = args.Get(1).(*models.HealingProposal)
	}
	return args.Bool(0), existing, args.Error(2)
}

func (m *mockProposalStore) AddEvidence(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockProposalStore) Get(ctx context.Context, id string) (*models.HealingProposal, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.HealingProposal), args.Error(1)
}

func (m *mockProposalStore) ListPending(ctx context.Context) ([]*models.HealingProposal, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.HealingProposal), args.Error(1)
}

func (m *mockProposalStore) Resolve(ctx context.Context, id string, status models.ProposalStatus, actor, reason string) error {
	return m.Called(ctx, id, status, actor, reason).Error(0)
}

func (m *mockProposalStore) WasRejected(ctx context.Context, signature string) (bool, error) {
	args := m.Called(ctx, signature)
	return args.Bool(0), args.Error(1)
}

type mockAuditLog struct {
	mock.Mock
}

func (m *mockAuditLog) Append(ctx context.Context, entry *models.AuditEntry) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *mockAuditLog) Query(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AuditEntry), args.Error(1)
}

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) ParseIntent(ctx context.Context, prompt string) (*models.Intent, error) {
	args := m.Called(ctx, prompt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Intent), args.Error(1)
}

func (m *mockLLM) ProposeRepair(ctx context.Context, rc llm.RepairContext) (*llm.RepairSuggestion, error) {
	args := m.Called(ctx, rc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.RepairSuggestion), args.Error(1)
}

func (m *mockLLM) NextAction(ctx context.Context, goal string, history []llm.AgentStep, dom string) (*llm.AgentStep, error) {
	args := m.Called(ctx, goal, history, dom)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.AgentStep), args.Error(1)
}

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) OpenSession(ctx context.Context) (browser.Session, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(browser.Session), args.Error(1)
}

type mockSession struct {
	mock.Mock
}

func (m *mockSession) Perform(ctx context.Context, action browser.Action) (*browser.Observation, error) {
	args := m.Called(ctx, action)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*browser.Observation), args.Error(1)
}

func (m *mockSession) Snapshot(ctx context.Context) (*browser.Observation, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*browser.Observation), args.Error(1)
}

func (m *mockSession) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func driftedSpec() *models.WorkflowSpec {
	return &models.WorkflowSpec{
		ID:         "spec-1",
		WorkflowID: "jira-export",
		Version:    3,
		Name:       "Export a Jira ticket",
		Site:       "jira",
		IntentTag:  "export",
		Status:     models.WorkflowStatusApproved,
		Steps: []models.Step{
			{Position: 1, Kind: models.StepKindNavigate, Selector: models.Selector{Value: "https://jira.example.com"}},
			{Position: 2, Kind: models.StepKindClick, Selector: models.Selector{Value: "#export-old"}, Description: "open the export menu"},
		},
	}
}

func driftedRecord() *models.ExecutionRecord {
	return &models.ExecutionRecord{
		ID:         "exec-1",
		WorkflowID: "jira-export",
		Version:    3,
		Status:     models.ExecutionStatusFailed,
		Steps: []models.StepResult{
			{Position: 1, Status: models.StepStatusDone},
			{Position: 2, Status: models.StepStatusFailed,
				Cause:  models.FailureCauseSelectorNotFound,
				Detail: "selector not found: #export-old"},
		},
	}
}

type testDeps struct {
	workflows *mockWorkflowStore
	proposals *mockProposalStore
	audit     *mockAuditLog
	llm       *mockLLM
	executor  *mockExecutor
}

func newTestEngine() (*Engine, *testDeps) {
	deps := &testDeps{
		workflows: new(mockWorkflowStore),
		proposals: new(mockProposalStore),
		audit:     new(mockAuditLog),
		llm:       new(mockLLM),
		executor:  new(mockExecutor),
	}
	e := New(deps.workflows, deps.proposals, deps.audit, deps.llm, deps.executor, logging.NewLogger())
	return e, deps
}

func TestDiagnose_CreatesPendingProposal(t *testing.T) {
	e, deps := newTestEngine()
	session := new(mockSession)

	var captured llm.RepairContext
	deps.workflows.On("Load", mock.Anything, "jira-export", 3).Return(driftedSpec(), nil)
	deps.proposals.On("WasRejected", mock.Anything, "jira-export:3:2:#export-old").Return(false, nil)
	deps.executor.On("OpenSession", mock.Anything).Return(session, nil)
	session.On("Snapshot", mock.Anything).Return(&browser.Observation{DOMSnapshot: "<button id=export-new>"}, nil)
	session.On("Close", mock.Anything).Return(nil)
	deps.llm.On("ProposeRepair", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(1).(llm.RepairContext) }).
		Return(&llm.RepairSuggestion{Selector: "#export-new", Kind: "click", Confidence: 0.8}, nil)
	deps.proposals.On("CreatePending", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			args.Get(1).(*models.HealingProposal).Status = models.ProposalStatusPending
		}).
		Return(true, nil, nil)
	deps.audit.On("Append", mock.Anything, mock.Anything).Return(nil)

	proposal, err := e.Diagnose(context.Background(), driftedRecord())
	require.NoError(t, err)
	require.NotNil(t, proposal)

	assert.Equal(t, models.ProposalStatusPending, proposal.Status)
	assert.Equal(t, "jira-export:3:2:#export-old", proposal.Signature)
	assert.Equal(t, "#export-old", proposal.OldSelector)
	assert.Equal(t, "#export-new", proposal.NewSelector)
	assert.Equal(t, 2, proposal.StepPosition)
	assert.Equal(t, "exec-1", proposal.ExecutionID)

	// live page context reached the model
	assert.Equal(t, "#export-old", captured.OldSelector)
	assert.Contains(t, captured.DOMSnapshot, "export-new")

	deps.audit.AssertCalled(t, "Append", mock.Anything, mock.MatchedBy(func(e *models.AuditEntry) bool {
		return e.Kind == models.AuditKindProposalCreated
	}))
}

func TestDiagnose_DuplicateSignatureAddsEvidence(t *testing.T) {
	e, deps := newTestEngine()

	existing := &models.HealingProposal{
		ID:            "prop-1",
		Signature:     "jira-export:3:2:#export-old",
		Status:        models.ProposalStatusPending,
		EvidenceCount: 2,
	}

	deps.workflows.On("Load", mock.Anything, "jira-export", 3).Return(driftedSpec(), nil)
	deps.proposals.On("WasRejected", mock.Anything, mock.Anything).Return(false, nil)
	deps.executor.On("OpenSession", mock.Anything).Return(nil, assert.AnError)
	deps.llm.On("ProposeRepair", mock.Anything, mock.Anything).
		Return(&llm.RepairSuggestion{Selector: "#export-new", Kind: "click", Confidence: 0.7}, nil)
	deps.proposals.On("CreatePending", mock.Anything, mock.Anything).Return(false, existing, nil)
	deps.proposals.On("AddEvidence", mock.Anything, "prop-1").Return(nil)

	proposal, err := e.Diagnose(context.Background(), driftedRecord())
	require.NoError(t, err)
	require.NotNil(t, proposal)

	assert.Equal(t, "prop-1", proposal.ID)
	deps.proposals.AssertCalled(t, "AddEvidence", mock.Anything, "prop-1")
	// the duplicate must not announce a new proposal
	deps.audit.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestDiagnose_RejectedSignatureIsNeverRetried(t *testing.T) {
	e, deps := newTestEngine()

	deps.workflows.On("Load", mock.Anything, "jira-export", 3).Return(driftedSpec(), nil)
	deps.proposals.On("WasRejected", mock.Anything, "jira-export:3:2:#export-old").Return(true, nil)

	proposal, err := e.Diagnose(context.Background(), driftedRecord())
	require.NoError(t, err)
	assert.Nil(t, proposal)

	deps.llm.AssertNotCalled(t, "ProposeRepair", mock.Anything, mock.Anything)
	deps.proposals.AssertNotCalled(t, "CreatePending", mock.Anything, mock.Anything)
}

func TestDiagnose_IgnoresNonDriftFailures(t *testing.T) {
	e, deps := newTestEngine()

	rec := driftedRecord()
	rec.Steps[1].Cause = models.FailureCauseTimeout

	proposal, err := e.Diagnose(context.Background(), rec)
	require.NoError(t, err)
	assert.Nil(t, proposal)

	deps.workflows.AssertNotCalled(t, "Load", mock.Anything, mock.Anything, mock.Anything)
}

func TestDiagnose_IgnoresNonFailedExecutions(t *testing.T) {
	e, deps := newTestEngine()

	rec := driftedRecord()
	rec.Status = models.ExecutionStatusAborted

	proposal, err := e.Diagnose(context.Background(), rec)
	require.NoError(t, err)
	assert.Nil(t, proposal)

	deps.workflows.AssertNotCalled(t, "Load", mock.Anything, mock.Anything, mock.Anything)
}

func TestDiagnose_StructurallyInvalidSuggestion(t *testing.T) {
	cases := []struct {
		name       string
		suggestion *llm.RepairSuggestion
	}{
		{"empty selector", &llm.RepairSuggestion{Selector: "", Kind: "click"}},
		{"changed action kind", &llm.RepairSuggestion{Selector: "#export-new", Kind: "type"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, deps := newTestEngine()

			deps.workflows.On("Load", mock.Anything, "jira-export", 3).Return(driftedSpec(), nil)
			deps.proposals.On("WasRejected", mock.Anything, mock.Anything).Return(false, nil)
			deps.executor.On("OpenSession", mock.Anything).Return(nil, assert.AnError)
			deps.llm.On("ProposeRepair", mock.Anything, mock.Anything).Return(tc.suggestion, nil)
			deps.audit.On("Append", mock.Anything, mock.Anything).Return(nil)

			proposal, err := e.Diagnose(context.Background(), driftedRecord())
			require.NoError(t, err)
			assert.Nil(t, proposal)

			deps.proposals.AssertNotCalled(t, "CreatePending", mock.Anything, mock.Anything)
			deps.audit.AssertCalled(t, "Append", mock.Anything, mock.MatchedBy(func(e *models.AuditEntry) bool {
				return e.Kind == models.AuditKindUnhealable
			}))
		})
	}
}

func TestApprove_PublishesPatchedVersion(t *testing.T) {
	e, deps := newTestEngine()

	proposal := &models.HealingProposal{
		ID:           "prop-1",
		ExecutionID:  "exec-1",
		WorkflowID:   "jira-export",
		Version:      3,
		StepPosition: 2,
		OldSelector:  "#export-old",
		NewSelector:  "#export-new",
		Kind:         models.StepKindClick,
		Confidence:   0.8,
		Status:       models.ProposalStatusPending,
	}

	var published *models.WorkflowSpec
	deps.proposals.On("Get", mock.Anything, "prop-1").Return(proposal, nil)
	deps.workflows.On("Load", mock.Anything, "jira-export", 3).Return(driftedSpec(), nil)
	deps.workflows.On("Publish", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { published = args.Get(1).(*models.WorkflowSpec) }).
		Return(4, nil)
	deps.proposals.On("Resolve", mock.Anything, "prop-1", models.ProposalStatusApproved, "reviewer", "").Return(nil)
	deps.audit.On("Append", mock.Anything, mock.Anything).Return(nil)

	version, err := e.Approve(context.Background(), "prop-1", "reviewer")
	require.NoError(t, err)
	assert.Equal(t, 4, version)

	require.NotNil(t, published)
	assert.Equal(t, models.WorkflowStatusApproved, published.Status)
	assert.Equal(t, "reviewer", published.CreatedBy)
	patched := published.StepAt(2)
	require.NotNil(t, patched)
	assert.Equal(t, "#export-new", patched.Selector.Value)
	assert.Equal(t, models.StepKindClick, patched.Kind)
	assert.WithinDuration(t, time.Now(), patched.Selector.VerifiedAt, time.Minute)

	deps.audit.AssertCalled(t, "Append", mock.Anything, mock.MatchedBy(func(e *models.AuditEntry) bool {
		return e.Kind == models.AuditKindProposalApproved &&
			e.Detail["old_version"] == "3" && e.Detail["new_version"] == "4"
	}))
}

func TestApprove_RequiresPendingProposal(t *testing.T) {
	e, deps := newTestEngine()

	deps.proposals.On("Get", mock.Anything, "prop-1").Return(&models.HealingProposal{
		ID:     "prop-1",
		Status: models.ProposalStatusRejected,
	}, nil)

	_, err := e.Approve(context.Background(), "prop-1", "reviewer")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not pending")

	deps.workflows.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestReject_ResolvesWithoutPublishing(t *testing.T) {
	e, deps := newTestEngine()

	deps.proposals.On("Get", mock.Anything, "prop-1").Return(&models.HealingProposal{
		ID:         "prop-1",
		WorkflowID: "jira-export",
		Version:    3,
		Status:     models.ProposalStatusPending,
	}, nil)
	deps.proposals.On("Resolve", mock.Anything, "prop-1", models.ProposalStatusRejected, "reviewer", "wrong element").Return(nil)
	deps.audit.On("Append", mock.Anything, mock.Anything).Return(nil)

	err := e.Reject(context.Background(), "prop-1", "reviewer", "wrong element")
	require.NoError(t, err)

	deps.workflows.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	deps.audit.AssertCalled(t, "Append", mock.Anything, mock.MatchedBy(func(e *models.AuditEntry) bool {
		return e.Kind == models.AuditKindProposalRejected && e.Detail["reason"] == "wrong element"
	}))
}
