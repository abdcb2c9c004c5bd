package models

import (
	"fmt"
	"time"
)

// ExecutionStatus represents the top-level state of an execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusAborted   ExecutionStatus = "aborted"
)

// Terminal reports whether the status is immutable.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusAborted:
		return true
	}
	return false
}

// StepStatus represents the state of a single step within an execution.
type StepStatus string

const (
	StepStatusNotStarted StepStatus = "not_started"
	StepStatusExecuting  StepStatus = "executing"
	StepStatusDone       StepStatus = "done"
	StepStatusFailed     StepStatus = "failed"
	StepStatusSkipped    StepStatus = "skipped"
)

// FailureCause classifies why a step failed.
type FailureCause string

const (
	FailureCauseTimeout           FailureCause = "timeout"
	FailureCauseSelectorNotFound  FailureCause = "selector_not_found"
	FailureCausePredicateMismatch FailureCause = "predicate_mismatch"
	FailureCauseActionError       FailureCause = "action_error"
	FailureCauseUnboundVariable   FailureCause = "unbound_variable"
)

// DriftCompatible reports whether the cause indicates UI drift and is
// therefore eligible for self-healing. Timeouts and generic action errors
// are operational failures and are only reported.
func (c FailureCause) DriftCompatible() bool {
	return c == FailureCauseSelectorNotFound || c == FailureCausePredicateMismatch
}

// StepResult is the recorded outcome of one step.
type StepResult struct {
	Position  int          `json:"position"`
	Status    StepStatus   `json:"status"`
	Cause     FailureCause `json:"cause,omitempty"`
	Detail    string       `json:"detail,omitempty"`
	Extracted string       `json:"extracted,omitempty"`
	Attempts  int          `json:"attempts"`
}

// ExecutionRecord is the audit trail of one dispatch. It is created when an
// execution starts, appended to only by the running execution and immutable
// once the status is terminal.
type ExecutionRecord struct {
	ID          string            `json:"id" db:"id"`
	WorkflowID  string            `json:"workflow_id,omitempty" db:"workflow_id"`
	Version     int               `json:"version,omitempty" db:"version"`
	AgentDirect bool              `json:"agent_direct" db:"agent_direct"`
	Status      ExecutionStatus   `json:"status" db:"status"`
	Steps       []StepResult      `json:"steps"`
	Bindings    map[string]string `json:"bindings,omitempty"` // sensitive values masked
	StartedAt   time.Time         `json:"started_at" db:"started_at"`
	EndedAt     *time.Time        `json:"ended_at,omitempty" db:"ended_at"`
	ProposalID  string            `json:"proposal_id,omitempty" db:"proposal_id"`
}

// FailingStep returns the first failed step result, or nil.
func (r *ExecutionRecord) FailingStep() *StepResult {
	for i := range r.Steps {
		if r.Steps[i].Status == StepStatusFailed {
			return &r.Steps[i]
		}
	}
	return nil
}

// FailureSignature identifies a recurring failure point for proposal
// deduplication: same workflow version, same step, same selector.
func FailureSignature(workflowID string, version, stepPosition int, selector string) string {
	return fmt.Sprintf("%s:%d:%d:%s", workflowID, version, stepPosition, selector)
}
