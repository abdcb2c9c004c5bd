package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kspranav-az/automation-agent/pkg/models"
)

// PostgresExecutionStore is a PostgreSQL implementation of ExecutionStore.
type PostgresExecutionStore struct {
	db *pgxpool.Pool
}

// NewPostgresExecutionStore creates a new PostgresExecutionStore.
func NewPostgresExecutionStore(db *pgxpool.Pool) *PostgresExecutionStore {
	return &PostgresExecutionStore{db: db}
}

// Create inserts a freshly dispatched execution record.
func (s *PostgresExecutionStore) Create(ctx context.Context, rec *models.ExecutionRecord) error {
	steps, err := json.Marshal(rec.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	bindings, err := json.Marshal(rec.Bindings)
	if err != nil {
		return fmt.Errorf("encode bindings: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO executions (id, workflow_id, version, agent_direct, status, steps, bindings, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.WorkflowID, rec.Version, rec.AgentDirect, rec.Status, steps, bindings, rec.StartedAt)
	return err
}

// Finish closes the record with its terminal state. A record that was
// already closed is left untouched and an error is returned.
func (s *PostgresExecutionStore) Finish(ctx context.Context, rec *models.ExecutionRecord) error {
	if !rec.Status.Terminal() {
		return fmt.Errorf("execution %s: status %s is not terminal", rec.ID, rec.Status)
	}
	steps, err := json.Marshal(rec.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE executions SET status = $2, steps = $3, ended_at = $4, proposal_id = NULLIF($5, '')
		 WHERE id = $1 AND status IN ('pending', 'running')`,
		rec.ID, rec.Status, steps, rec.EndedAt, rec.ProposalID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("execution %s: already closed or %w", rec.ID, ErrNotFound)
	}
	return nil
}

// Get retrieves an execution record by ID.
func (s *PostgresExecutionStore) Get(ctx context.Context, id string) (*models.ExecutionRecord, error) {
	var (
		rec        models.ExecutionRecord
		steps      []byte
		bindings   []byte
		proposalID *string
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, workflow_id, version, agent_direct, status, steps, bindings, started_at, ended_at, proposal_id
		 FROM executions WHERE id = $1`, id).
		Scan(&rec.ID, &rec.WorkflowID, &rec.Version, &rec.AgentDirect, &rec.Status,
			&steps, &bindings, &rec.StartedAt, &rec.EndedAt, &proposalID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(steps, &rec.Steps); err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	if len(bindings) > 0 {
		if err := json.Unmarshal(bindings, &rec.Bindings); err != nil {
			return nil, fmt.Errorf("decode bindings: %w", err)
		}
	}
	if proposalID != nil {
		rec.ProposalID = *proposalID
	}
	return &rec, nil
}

// LastSuccessAt returns the unix time of the most recent completed execution
// of the workflow version, or 0 when none exists.
func (s *PostgresExecutionStore) LastSuccessAt(ctx context.Context, workflowID string, version int) (int64, error) {
	var endedAt *time.Time
	err := s.db.QueryRow(ctx,
		`SELECT MAX(ended_at) FROM executions
		 WHERE workflow_id = $1 AND version = $2 AND status = 'completed'`,
		workflowID, version).Scan(&endedAt)
	if err != nil {
		return 0, err
	}
	if endedAt == nil {
		return 0, nil
	}
	return endedAt.Unix(), nil
}
