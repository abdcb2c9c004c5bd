package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kspranav-az/automation-agent/pkg/models"
)

// PostgresAuditLog is a PostgreSQL implementation of the append-only AuditLog.
type PostgresAuditLog struct {
	db *pgxpool.Pool
}

// NewPostgresAuditLog creates a new PostgresAuditLog.
func NewPostgresAuditLog(db *pgxpool.Pool) *PostgresAuditLog {
	return &PostgresAuditLog{db: db}
}

// Append inserts a new audit entry. Entries are never updated or deleted.
func (l *PostgresAuditLog) Append(ctx context.Context, entry *models.AuditEntry) error {
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	detail, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("encode detail: %w", err)
	}
	_, err = l.db.Exec(ctx,
		`INSERT INTO audit_log (id, kind, at, actor, workflow_id, version, execution_id, site, intent_tag, detail)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.Kind, entry.At, entry.Actor, entry.WorkflowID, entry.Version,
		entry.ExecutionID, entry.Site, entry.IntentTag, detail)
	return err
}

// Query returns audit entries matching the filter, newest first.
func (l *PostgresAuditLog) Query(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Kind != "" {
		add("kind = $%d", filter.Kind)
	}
	if filter.WorkflowID != "" {
		add("workflow_id = $%d", filter.WorkflowID)
	}
	if filter.Site != "" {
		add("site = $%d", filter.Site)
	}
	if filter.IntentTag != "" {
		add("intent_tag = $%d", filter.IntentTag)
	}

	query := `SELECT id, kind, at, actor, workflow_id, version, execution_id, site, intent_tag, detail FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := l.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var (
			entry  models.AuditEntry
			detail []byte
		)
		if err := rows.Scan(&entry.ID, &entry.Kind, &entry.At, &entry.Actor, &entry.WorkflowID,
			&entry.Version, &entry.ExecutionID, &entry.Site, &entry.IntentTag, &detail); err != nil {
			return nil, err
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &entry.Detail); err != nil {
				return nil, fmt.Errorf("decode detail: %w", err)
			}
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}
