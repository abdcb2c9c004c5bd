// Package healing implements the self-healing engine: it diagnoses
// drift-compatible execution failures, proposes patched workflow steps and
// gates their promotion behind explicit human approval.
package healing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kspranav-az/automation-agent/internal/browser"
	"github.com/kspranav-az/automation-agent/internal/llm"
	"github.com/kspranav-az/automation-agent/internal/repository"
	"github.com/kspranav-az/automation-agent/pkg/models"
)

// Logger is the logging interface the healing engine depends on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Engine diagnoses failed executions and manages the proposal lifecycle.
// Diagnosis is speculative and may run any number of times; approval is the
// only durable mutation and publishes a new workflow version atomically.
type Engine struct {
	workflows repository.WorkflowStore
	proposals repository.ProposalStore
	audit     repository.AuditLog
	llm       llm.Client
	executor  browser.Executor
	logger    Logger
}

// New creates a healing Engine.
func New(workflows repository.WorkflowStore, proposals repository.ProposalStore, audit repository.AuditLog, llmClient llm.Client, executor browser.Executor, logger Logger) *Engine {
	return &Engine{
		workflows: workflows,
		proposals: proposals,
		audit:     audit,
		llm:       llmClient,
		executor:  executor,
		logger:    logger,
	}
}

// Diagnose inspects a failed execution record and, when the failure is
// drift-compatible and healable, returns a pending healing proposal. A nil
// proposal with a nil error means the failure was examined but produced no
// proposal (non-drift cause, rejected signature, or an unusable model
// response).
func (e *Engine) Diagnose(ctx context.Context, rec *models.ExecutionRecord) (*models.HealingProposal, error) {
	if rec.Status != models.ExecutionStatusFailed {
		return nil, nil
	}
	failing := rec.FailingStep()
	if failing == nil || !failing.Cause.DriftCompatible() {
		return nil, nil
	}

	spec, err := e.workflows.Load(ctx, rec.WorkflowID, rec.Version)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s v%d: %w", rec.WorkflowID, rec.Version, err)
	}
	step := spec.StepAt(failing.Position)
	if step == nil {
		return nil, fmt.Errorf("workflow %s v%d has no step at position %d", rec.WorkflowID, rec.Version, failing.Position)
	}

	signature := models.FailureSignature(rec.WorkflowID, rec.Version, failing.Position, step.Selector.Value)

	rejected, err := e.proposals.WasRejected(ctx, signature)
	if err != nil {
		return nil, err
	}
	if rejected {
		e.logger.Info("skipping diagnosis for rejected signature", "signature", signature)
		return nil, nil
	}

	suggestion, err := e.propose(ctx, step, failing)
	if err != nil || suggestion == nil {
		// Diagnosis produced nothing usable; report unhealable, do not retry.
		e.appendAudit(ctx, &models.AuditEntry{
			Kind:        models.AuditKindUnhealable,
			WorkflowID:  rec.WorkflowID,
			Version:     rec.Version,
			ExecutionID: rec.ID,
			Detail:      map[string]string{"signature": signature},
		})
		if err != nil {
			e.logger.Warn("diagnosis failed", "signature", signature, "error", err)
		}
		return nil, nil
	}

	proposal := &models.HealingProposal{
		ID:           uuid.New().String(),
		ExecutionID:  rec.ID,
		WorkflowID:   rec.WorkflowID,
		Version:      rec.Version,
		StepPosition: failing.Position,
		Signature:    signature,
		OldSelector:  step.Selector.Value,
		NewSelector:  suggestion.Selector,
		Kind:         step.Kind,
		Confidence:   suggestion.Confidence,
	}

	created, existing, err := e.proposals.CreatePending(ctx, proposal)
	if err != nil {
		return nil, fmt.Errorf("create proposal: %w", err)
	}
	if !created {
		// Another diagnosis already holds the pending slot for this
		// signature; record the repeat failure as extra evidence.
		if err := e.proposals.AddEvidence(ctx, existing.ID); err != nil {
			e.logger.Warn("failed to add evidence", "proposal", existing.ID, "error", err)
		}
		return existing, nil
	}

	e.appendAudit(ctx, &models.AuditEntry{
		Kind:        models.AuditKindProposalCreated,
		WorkflowID:  rec.WorkflowID,
		Version:     rec.Version,
		ExecutionID: rec.ID,
		Detail: map[string]string{
			"proposal":     proposal.ID,
			"signature":    signature,
			"old_selector": proposal.OldSelector,
			"new_selector": proposal.NewSelector,
		},
	})
	e.logger.Info("healing proposal created", "proposal", proposal.ID, "workflow", rec.WorkflowID, "step", failing.Position)
	return proposal, nil
}

// propose gathers live page context and asks the model for a replacement,
// validating the response structurally before accepting it.
func (e *Engine) propose(ctx context.Context, step *models.Step, failing *models.StepResult) (*llm.RepairSuggestion, error) {
	rc := llm.RepairContext{
		Description: step.Description,
		Kind:        string(step.Kind),
		OldSelector: step.Selector.Value,
		FailureMsg:  failing.Detail,
	}

	// Page context is best effort; diagnosis proceeds without it.
	if session, err := e.executor.OpenSession(ctx); err == nil {
		if obs, err := session.Snapshot(ctx); err == nil {
			rc.DOMSnapshot = obs.DOMSnapshot
			rc.Screenshot = obs.Screenshot
		}
		if err := session.Close(ctx); err != nil {
			e.logger.Warn("failed to close diagnosis session", "error", err)
		}
	}

	suggestion, err := e.llm.ProposeRepair(ctx, rc)
	if err != nil {
		return nil, err
	}
	if suggestion.Selector == "" {
		return nil, nil
	}
	if suggestion.Kind != "" && suggestion.Kind != string(step.Kind) {
		// A repair must keep the recorded action kind.
		return nil, nil
	}
	return suggestion, nil
}

// Approve promotes a pending proposal: a new approved workflow version is
// published with the patched step, the old version is deprecated and the
// proposal is resolved, all recorded in the audit log. Returns the new
// version number.
func (e *Engine) Approve(ctx context.Context, proposalID, actor string) (int, error) {
	proposal, err := e.proposals.Get(ctx, proposalID)
	if err != nil {
		return 0, err
	}
	if proposal.Status != models.ProposalStatusPending {
		return 0, fmt.Errorf("proposal %s is %s, not pending", proposalID, proposal.Status)
	}

	spec, err := e.workflows.Load(ctx, proposal.WorkflowID, proposal.Version)
	if err != nil {
		return 0, fmt.Errorf("load workflow %s v%d: %w", proposal.WorkflowID, proposal.Version, err)
	}

	patched := *spec
	patched.ID = uuid.New().String()
	patched.Status = models.WorkflowStatusApproved
	patched.CreatedBy = actor
	patched.CreatedAt = time.Now()
	patched.Steps = make([]models.Step, len(spec.Steps))
	copy(patched.Steps, spec.Steps)
	step := patched.StepAt(proposal.StepPosition)
	if step == nil {
		return 0, fmt.Errorf("workflow %s v%d has no step at position %d", proposal.WorkflowID, proposal.Version, proposal.StepPosition)
	}
	step.Selector = models.Selector{
		Value:      proposal.NewSelector,
		Confidence: proposal.Confidence,
		VerifiedAt: time.Now(),
	}

	newVersion, err := e.workflows.Publish(ctx, &patched)
	if err != nil {
		return 0, fmt.Errorf("publish patched workflow: %w", err)
	}
	if err := e.proposals.Resolve(ctx, proposalID, models.ProposalStatusApproved, actor, ""); err != nil {
		return 0, fmt.Errorf("resolve proposal: %w", err)
	}

	e.appendAudit(ctx, &models.AuditEntry{
		Kind:        models.AuditKindProposalApproved,
		Actor:       actor,
		WorkflowID:  proposal.WorkflowID,
		Version:     newVersion,
		ExecutionID: proposal.ExecutionID,
		Detail: map[string]string{
			"proposal":    proposalID,
			"old_version": fmt.Sprintf("%d", proposal.Version),
			"new_version": fmt.Sprintf("%d", newVersion),
		},
	})
	e.logger.Info("healing proposal approved", "proposal", proposalID, "workflow", proposal.WorkflowID, "version", newVersion)
	return newVersion, nil
}

// Reject resolves a pending proposal as rejected. The signature is never
// retried automatically afterwards.
func (e *Engine) Reject(ctx context.Context, proposalID, actor, reason string) error {
	proposal, err := e.proposals.Get(ctx, proposalID)
	if err != nil {
		return err
	}
	if proposal.Status != models.ProposalStatusPending {
		return fmt.Errorf("proposal %s is %s, not pending", proposalID, proposal.Status)
	}
	if err := e.proposals.Resolve(ctx, proposalID, models.ProposalStatusRejected, actor, reason); err != nil {
		return err
	}

	e.appendAudit(ctx, &models.AuditEntry{
		Kind:        models.AuditKindProposalRejected,
		Actor:       actor,
		WorkflowID:  proposal.WorkflowID,
		Version:     proposal.Version,
		ExecutionID: proposal.ExecutionID,
		Detail:      map[string]string{"proposal": proposalID, "reason": reason},
	})
	return nil
}

func (e *Engine) appendAudit(ctx context.Context, entry *models.AuditEntry) {
	entry.ID = uuid.New().String()
	if err := e.audit.Append(ctx, entry); err != nil {
		e.logger.Error("failed to append audit entry", "kind", entry.Kind, "error", err)
	}
}
