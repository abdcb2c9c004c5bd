package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kspranav-az/automation-agent/pkg/models"
)

// PostgresWorkflowStore is a PostgreSQL implementation of the WorkflowStore
// interface. Workflow versions are append-only rows; publishing takes an
// advisory lock on the workflow concept so concurrent publishes cannot race
// on the version counter.
type PostgresWorkflowStore struct {
	db *pgxpool.Pool
}

// NewPostgresWorkflowStore creates a new PostgresWorkflowStore.
func NewPostgresWorkflowStore(db *pgxpool.Pool) *PostgresWorkflowStore {
	return &PostgresWorkflowStore{db: db}
}

const workflowColumns = `id, workflow_id, version, name, site, intent_tag, status, steps, variables, created_by, created_at, trace_fingerprint`

func scanWorkflow(row pgx.Row) (*models.WorkflowSpec, error) {
	var (
		spec      models.WorkflowSpec
		steps     []byte
		variables []byte
	)
	err := row.Scan(&spec.ID, &spec.WorkflowID, &spec.Version, &spec.Name, &spec.Site,
		&spec.IntentTag, &spec.Status, &steps, &variables, &spec.CreatedBy, &spec.CreatedAt,
		&spec.TraceFingerprint)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(steps, &spec.Steps); err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	if len(variables) > 0 {
		if err := json.Unmarshal(variables, &spec.Variables); err != nil {
			return nil, fmt.Errorf("decode variables: %w", err)
		}
	}
	return &spec, nil
}

// Load retrieves one version of a workflow; version 0 means latest approved.
func (s *PostgresWorkflowStore) Load(ctx context.Context, workflowID string, version int) (*models.WorkflowSpec, error) {
	var row pgx.Row
	if version == 0 {
		row = s.db.QueryRow(ctx,
			`SELECT `+workflowColumns+` FROM workflows
			 WHERE workflow_id = $1 AND status = 'approved'
			 ORDER BY version DESC LIMIT 1`, workflowID)
	} else {
		row = s.db.QueryRow(ctx,
			`SELECT `+workflowColumns+` FROM workflows
			 WHERE workflow_id = $1 AND version = $2`, workflowID, version)
	}
	return scanWorkflow(row)
}

// ListApproved returns approved workflows matching site and intent tag,
// highest version first.
func (s *PostgresWorkflowStore) ListApproved(ctx context.Context, site, intentTag string) ([]*models.WorkflowSpec, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+workflowColumns+` FROM workflows
		 WHERE site = $1 AND intent_tag = $2 AND status = 'approved'
		 ORDER BY version DESC`, site, intentTag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWorkflows(rows)
}

// ListAll returns the newest version of every workflow concept.
func (s *PostgresWorkflowStore) ListAll(ctx context.Context) ([]*models.WorkflowSpec, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT ON (workflow_id) `+workflowColumns+` FROM workflows
		 ORDER BY workflow_id, version DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWorkflows(rows)
}

func collectWorkflows(rows pgx.Rows) ([]*models.WorkflowSpec, error) {
	var specs []*models.WorkflowSpec
	for rows.Next() {
		spec, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, rows.Err()
}

// Publish inserts the spec as the next version of its workflow concept.
func (s *PostgresWorkflowStore) Publish(ctx context.Context, spec *models.WorkflowSpec) (int, error) {
	steps, err := json.Marshal(spec.Steps)
	if err != nil {
		return 0, fmt.Errorf("encode steps: %w", err)
	}
	variables, err := json.Marshal(spec.Variables)
	if err != nil {
		return 0, fmt.Errorf("encode variables: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	// Serialize concurrent publishes of the same concept.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, spec.WorkflowID); err != nil {
		return 0, err
	}

	var next int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM workflows WHERE workflow_id = $1`,
		spec.WorkflowID).Scan(&next); err != nil {
		return 0, err
	}

	if spec.Status == models.WorkflowStatusApproved {
		if _, err := tx.Exec(ctx,
			`UPDATE workflows SET status = 'deprecated'
			 WHERE workflow_id = $1 AND status = 'approved'`, spec.WorkflowID); err != nil {
			return 0, err
		}
	}

	if spec.ID == "" {
		spec.ID = uuid.New().String()
	}
	if spec.CreatedAt.IsZero() {
		spec.CreatedAt = time.Now()
	}
	spec.Version = next
	if _, err := tx.Exec(ctx,
		`INSERT INTO workflows (id, workflow_id, version, name, site, intent_tag, status, steps, variables, created_by, created_at, trace_fingerprint)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		spec.ID, spec.WorkflowID, spec.Version, spec.Name, spec.Site, spec.IntentTag,
		spec.Status, steps, variables, spec.CreatedBy, spec.CreatedAt, spec.TraceFingerprint); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return next, nil
}

// Approve promotes a draft to approved and deprecates any prior approved
// version of the same concept.
func (s *PostgresWorkflowStore) Approve(ctx context.Context, workflowID string, version int, actor string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, workflowID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE workflows SET status = 'deprecated'
		 WHERE workflow_id = $1 AND status = 'approved' AND version <> $2`, workflowID, version); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx,
		`UPDATE workflows SET status = 'approved'
		 WHERE workflow_id = $1 AND version = $2 AND status = 'draft'`, workflowID, version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("workflow %s version %d: %w", workflowID, version, ErrNotFound)
	}
	return tx.Commit(ctx)
}

// HasDraftFor reports whether a draft with the trace fingerprint exists.
func (s *PostgresWorkflowStore) HasDraftFor(ctx context.Context, fingerprint string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM workflows WHERE trace_fingerprint = $1)`,
		fingerprint).Scan(&exists)
	return exists, err
}
