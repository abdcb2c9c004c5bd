package models

import "time"

// AuditKind classifies audit log entries.
type AuditKind string

const (
	AuditKindRouteDecision     AuditKind = "route_decision"
	AuditKindExecutionFinished AuditKind = "execution_finished"
	AuditKindAgentTrace        AuditKind = "agent_trace"
	AuditKindCandidateDraft    AuditKind = "candidate_draft"
	AuditKindProposalCreated   AuditKind = "proposal_created"
	AuditKindProposalApproved  AuditKind = "proposal_approved"
	AuditKindProposalRejected  AuditKind = "proposal_rejected"
	AuditKindUnhealable        AuditKind = "unhealable_failure"
)

// AuditEntry is one append-only audit log record. Entries are never updated
// or deleted; the agent-trace entries double as the event source for the
// router's learning fold.
type AuditEntry struct {
	ID          string            `json:"id" db:"id"`
	Kind        AuditKind         `json:"kind" db:"kind"`
	At          time.Time         `json:"at" db:"at"`
	Actor       string            `json:"actor,omitempty" db:"actor"`
	WorkflowID  string            `json:"workflow_id,omitempty" db:"workflow_id"`
	Version     int               `json:"version,omitempty" db:"version"`
	ExecutionID string            `json:"execution_id,omitempty" db:"execution_id"`
	Site        string            `json:"site,omitempty" db:"site"`
	IntentTag   string            `json:"intent_tag,omitempty" db:"intent_tag"`
	Detail      map[string]string `json:"detail,omitempty"`
}

// AuditFilter narrows an audit log query. Zero values match everything.
type AuditFilter struct {
	Kind       AuditKind
	WorkflowID string
	Site       string
	IntentTag  string
	Limit      int
}
