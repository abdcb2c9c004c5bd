// Package models defines the domain models shared by the router, the
// execution engine and the self-healing engine.
package models

import (
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow version.
type WorkflowStatus string

const (
	WorkflowStatusDraft      WorkflowStatus = "draft"
	WorkflowStatusApproved   WorkflowStatus = "approved"
	WorkflowStatusDeprecated WorkflowStatus = "deprecated"
)

// StepKind is the closed set of browser actions a step can perform.
type StepKind string

const (
	StepKindNavigate StepKind = "navigate"
	StepKindClick    StepKind = "click"
	StepKindType     StepKind = "type"
	StepKindExtract  StepKind = "extract"
	StepKindCustom   StepKind = "custom"
)

// Selector identifies one target element on a page. The confidence and
// verification timestamp are bookkeeping for drift detection; they carry no
// weight at execution time.
type Selector struct {
	Value      string    `json:"value" db:"selector"`
	Confidence float64   `json:"confidence" db:"selector_confidence"`
	VerifiedAt time.Time `json:"verified_at" db:"selector_verified_at"`
}

// VariableDef declares a workflow variable.
type VariableDef struct {
	Type      string `json:"type"`
	Required  bool   `json:"required"`
	Sensitive bool   `json:"sensitive"`
	Default   string `json:"default,omitempty"`
}

// Step is one ordered action within a workflow version. Steps never mutate
// the owning WorkflowSpec; changes flow through new versions only.
type Step struct {
	Position     int           `json:"position"`
	Kind         StepKind      `json:"kind"`
	Selector     Selector      `json:"selector"`
	Input        string        `json:"input,omitempty"` // template, may reference {{variables}}
	Expect       string        `json:"expect,omitempty"`
	Description  string        `json:"description,omitempty"`
	RetryBudget  int           `json:"retry_budget,omitempty"`
	RetryBackoff time.Duration `json:"retry_backoff,omitempty"`
}

// WorkflowSpec is one immutable version of a recorded workflow.
//
// WorkflowID is the stable concept identifier shared by all versions; ID is
// unique per version. An approved version is never edited in place: every
// change (including a healing patch) is published as a new draft version and
// the superseded version is deprecated, never deleted.
type WorkflowSpec struct {
	ID         string                 `json:"id" db:"id"`
	WorkflowID string                 `json:"workflow_id" db:"workflow_id"`
	Version    int                    `json:"version" db:"version"`
	Name       string                 `json:"name" db:"name"`
	Site       string                 `json:"site" db:"site"`
	IntentTag  string                 `json:"intent_tag" db:"intent_tag"`
	Status     WorkflowStatus         `json:"status" db:"status"`
	Steps      []Step                 `json:"steps"`
	Variables  map[string]VariableDef `json:"variables,omitempty"`
	CreatedBy  string                 `json:"created_by,omitempty" db:"created_by"`
	CreatedAt  time.Time              `json:"created_at" db:"created_at"`

	// TraceFingerprint is set on drafts synthesized from agent traces so
	// the learning loop emits at most one candidate per trace.
	TraceFingerprint string `json:"trace_fingerprint,omitempty" db:"trace_fingerprint"`
}

// StepAt returns the step at the given position, or nil.
func (w *WorkflowSpec) StepAt(position int) *Step {
	for i := range w.Steps {
		if w.Steps[i].Position == position {
			return &w.Steps[i]
		}
	}
	return nil
}
