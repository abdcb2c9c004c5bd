package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kspranav-az/automation-agent/pkg/models"
)

// PostgresProposalStore is a PostgreSQL implementation of ProposalStore.
//
// The at-most-one-pending-proposal-per-signature invariant is enforced by a
// partial unique index on (signature) WHERE status = 'pending', so concurrent
// diagnosis attempts resolve at the database rather than in process.
type PostgresProposalStore struct {
	db *pgxpool.Pool
}

// NewPostgresProposalStore creates a new PostgresProposalStore.
func NewPostgresProposalStore(db *pgxpool.Pool) *PostgresProposalStore {
	return &PostgresProposalStore{db: db}
}

const proposalColumns = `id, execution_id, workflow_id, version, step_position, signature, old_selector, new_selector, kind, confidence, status, evidence_count, created_at, resolved_at, resolved_by, reason`

func scanProposal(row pgx.Row) (*models.HealingProposal, error) {
	var (
		p          models.HealingProposal
		resolvedBy *string
		reason     *string
	)
	err := row.Scan(&p.ID, &p.ExecutionID, &p.WorkflowID, &p.Version, &p.StepPosition,
		&p.Signature, &p.OldSelector, &p.NewSelector, &p.Kind, &p.Confidence, &p.Status,
		&p.EvidenceCount, &p.CreatedAt, &p.ResolvedAt, &resolvedBy, &reason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if resolvedBy != nil {
		p.ResolvedBy = *resolvedBy
	}
	if reason != nil {
		p.Reason = *reason
	}
	return &p, nil
}

// CreatePending inserts the proposal unless a pending one with the same
// signature exists; in that case the existing proposal is returned instead.
func (s *PostgresProposalStore) CreatePending(ctx context.Context, p *models.HealingProposal) (bool, *models.HealingProposal, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	tag, err := s.db.Exec(ctx,
		`INSERT INTO proposals (id, execution_id, workflow_id, version, step_position, signature, old_selector, new_selector, kind, confidence, status, evidence_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'pending', 1, $11)
		 ON CONFLICT (signature) WHERE status = 'pending' DO NOTHING`,
		p.ID, p.ExecutionID, p.WorkflowID, p.Version, p.StepPosition, p.Signature,
		p.OldSelector, p.NewSelector, p.Kind, p.Confidence, p.CreatedAt)
	if err != nil {
		return false, nil, err
	}
	if tag.RowsAffected() == 1 {
		p.Status = models.ProposalStatusPending
		p.EvidenceCount = 1
		return true, nil, nil
	}
	existing, err := scanProposal(s.db.QueryRow(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE signature = $1 AND status = 'pending'`,
		p.Signature))
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

// AddEvidence bumps the evidence counter of a pending proposal.
func (s *PostgresProposalStore) AddEvidence(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE proposals SET evidence_count = evidence_count + 1
		 WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("proposal %s: %w", id, ErrNotFound)
	}
	return nil
}

// Get retrieves a proposal by ID.
func (s *PostgresProposalStore) Get(ctx context.Context, id string) (*models.HealingProposal, error) {
	return scanProposal(s.db.QueryRow(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE id = $1`, id))
}

// ListPending returns all pending proposals, oldest first.
func (s *PostgresProposalStore) ListPending(ctx context.Context) ([]*models.HealingProposal, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE status = 'pending' ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var proposals []*models.HealingProposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

// Resolve moves a pending proposal to a terminal status.
func (s *PostgresProposalStore) Resolve(ctx context.Context, id string, status models.ProposalStatus, actor, reason string) error {
	if status != models.ProposalStatusApproved && status != models.ProposalStatusRejected {
		return fmt.Errorf("proposal %s: %q is not a terminal status", id, status)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE proposals SET status = $2, resolved_at = $3, resolved_by = $4, reason = NULLIF($5, '')
		 WHERE id = $1 AND status = 'pending'`,
		id, status, time.Now(), actor, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("proposal %s: already resolved or %w", id, ErrNotFound)
	}
	return nil
}

// WasRejected reports whether the signature has a rejected proposal.
func (s *PostgresProposalStore) WasRejected(ctx context.Context, signature string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM proposals WHERE signature = $1 AND status = 'rejected')`,
		signature).Scan(&exists)
	return exists, err
}
