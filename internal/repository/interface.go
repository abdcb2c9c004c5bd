// Package repository defines the persistence interfaces and their Postgres
// implementations. All shared state between the router, the execution engine
// and the self-healing engine lives behind these interfaces.
package repository

import (
	"context"
	"errors"

	"github.com/kspranav-az/automation-agent/pkg/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// WorkflowStore stores versioned workflow specifications. Versions are
// append-only: Publish inserts a new version, nothing updates a spec's steps
// in place.
type WorkflowStore interface {
	// Load retrieves one version of a workflow. Version 0 means the
	// latest approved version.
	Load(ctx context.Context, workflowID string, version int) (*models.WorkflowSpec, error)
	// ListApproved returns all approved workflows matching site and intent tag.
	ListApproved(ctx context.Context, site, intentTag string) ([]*models.WorkflowSpec, error)
	// ListAll returns the latest version of every workflow concept.
	ListAll(ctx context.Context) ([]*models.WorkflowSpec, error)
	// Publish atomically inserts the spec as the next version of its
	// workflow concept and returns the assigned version number. When the
	// spec is published as approved, any previously approved version of
	// the same concept is deprecated in the same transaction.
	Publish(ctx context.Context, spec *models.WorkflowSpec) (int, error)
	// Approve promotes a draft version to approved, deprecating any prior
	// approved version of the same concept.
	Approve(ctx context.Context, workflowID string, version int, actor string) error
	// HasDraftFor reports whether a draft synthesized from the given
	// trace fingerprint already exists.
	HasDraftFor(ctx context.Context, fingerprint string) (bool, error)
}

// ExecutionStore stores execution records. Records are created open and
// closed exactly once; a closed record is immutable.
type ExecutionStore interface {
	Create(ctx context.Context, rec *models.ExecutionRecord) error
	// Finish writes the terminal state of the record. Finishing an
	// already-terminal record is an error.
	Finish(ctx context.Context, rec *models.ExecutionRecord) error
	Get(ctx context.Context, id string) (*models.ExecutionRecord, error)
	// LastSuccessAt returns the end time of the most recent completed
	// execution of the given workflow version, or zero time.
	LastSuccessAt(ctx context.Context, workflowID string, version int) (int64, error)
}

// ProposalStore stores healing proposals and enforces the
// at-most-one-pending-proposal-per-signature invariant.
type ProposalStore interface {
	// CreatePending inserts the proposal unless a pending proposal with
	// the same failure signature already exists. It reports whether the
	// insert happened and, if not, returns the existing proposal.
	CreatePending(ctx context.Context, p *models.HealingProposal) (bool, *models.HealingProposal, error)
	// AddEvidence increments the evidence counter of a pending proposal.
	AddEvidence(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*models.HealingProposal, error)
	ListPending(ctx context.Context) ([]*models.HealingProposal, error)
	// Resolve moves a pending proposal to approved or rejected.
	Resolve(ctx context.Context, id string, status models.ProposalStatus, actor, reason string) error
	// WasRejected reports whether any proposal with the signature was
	// rejected; rejected signatures are never retried automatically.
	WasRejected(ctx context.Context, signature string) (bool, error)
}

// AuditLog is the append-only audit trail.
type AuditLog interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
	Query(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error)
}
