package models

import "time"

// ProposalStatus represents the lifecycle of a healing proposal.
type ProposalStatus string

const (
	ProposalStatusPending  ProposalStatus = "pending"
	ProposalStatusApproved ProposalStatus = "approved"
	ProposalStatusRejected ProposalStatus = "rejected"
)

// HealingProposal is a candidate patch for a drifted workflow step. It is
// created by the self-healing engine and only ever resolved by an explicit
// approval action; the confidence score is advisory and never promotes a
// proposal on its own.
type HealingProposal struct {
	ID            string         `json:"id" db:"id"`
	ExecutionID   string         `json:"execution_id" db:"execution_id"`
	WorkflowID    string         `json:"workflow_id" db:"workflow_id"`
	Version       int            `json:"version" db:"version"`
	StepPosition  int            `json:"step_position" db:"step_position"`
	Signature     string         `json:"signature" db:"signature"`
	OldSelector   string         `json:"old_selector" db:"old_selector"`
	NewSelector   string         `json:"new_selector" db:"new_selector"`
	Kind          StepKind       `json:"kind" db:"kind"`
	Confidence    float64        `json:"confidence" db:"confidence"`
	Status        ProposalStatus `json:"status" db:"status"`
	EvidenceCount int            `json:"evidence_count" db:"evidence_count"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	ResolvedAt    *time.Time     `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedBy    string         `json:"resolved_by,omitempty" db:"resolved_by"`
	Reason        string         `json:"reason,omitempty" db:"reason"`
}
