package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/construkt/approvalflow/pkg/models"
	"github.com/construkt/approvalflow/pkg/persistence"
)

// AuditRepository appends and reads immutable audit entries. There is no
// update or delete statement in this file on purpose.
type AuditRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *AuditRepository) Append(ctx context.Context, entry *models.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if entry.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate audit entry ID: %w", err)
		}

		entry.ID = id.String()
	}

	insert := `
		INSERT INTO audit_entries (
			id, instance_id, execution_id, actor_id, action,
			before_state, after_state, detail, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, insert,
		entry.ID, entry.InstanceID, nullString(entry.ExecutionID),
		nullString(entry.ActorID), entry.Action, []byte(entry.Before),
		[]byte(entry.After), entry.Detail, entry.CreatedAt,
	)
	if err != nil {
		return persistence.NewRepositoryError("Append", "audit", entry.ID, err)
	}

	return nil
}

func (r *AuditRepository) ListByInstance(ctx context.Context, instanceID string) ([]*models.AuditEntry, error) {
	query := `
		SELECT
			id
		  , instance_id
		  , execution_id
		  , actor_id
		  , action
		  , before_state
		  , after_state
		  , detail
		  , created_at
		FROM audit_entries
		WHERE instance_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, persistence.NewRepositoryError("ListByInstance", "audit", instanceID, err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	entries := make([]*models.AuditEntry, 0)

	for rows.Next() {
		var (
			entry       models.AuditEntry
			executionID sql.NullString
			actorID     sql.NullString
			before      []byte
			after       []byte
		)

		err := rows.Scan(
			&entry.ID, &entry.InstanceID, &executionID, &actorID,
			&entry.Action, &before, &after, &entry.Detail, &entry.CreatedAt,
		)
		if err != nil {
			return nil, persistence.NewRepositoryError("ListByInstance", "audit", instanceID, err)
		}

		entry.ExecutionID = executionID.String
		entry.ActorID = actorID.String
		entry.Before = before
		entry.After = after

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
