package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/construkt/approvalflow/pkg/models"
	"github.com/construkt/approvalflow/pkg/persistence"
)

// InstanceRepository handles workflow instance database operations.
type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const instanceColumns = `
	id
  , definition_id
  , definition_code
  , definition_version
  , entity_type
  , entity_id
  , snapshot
  , current_step_order
  , status
  , error_reason
  , triggered_by
  , started_at
  , due_at
  , completed_at
  , created_at
  , updated_at
`

func (r *InstanceRepository) Save(ctx context.Context, instance *models.WorkflowInstance) error {
	now := time.Now().UTC()

	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = now
	}

	instance.UpdatedAt = now

	if instance.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}

		instance.ID = id.String()
	}

	snapshot, err := json.Marshal(instance.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	upsert := `
		INSERT INTO workflow_instances (
			id, definition_id, definition_code, definition_version,
			entity_type, entity_id, snapshot, current_step_order, status,
			error_reason, triggered_by, started_at, due_at, completed_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			current_step_order = EXCLUDED.current_step_order,
			status = EXCLUDED.status,
			error_reason = EXCLUDED.error_reason,
			due_at = EXCLUDED.due_at,
			completed_at = EXCLUDED.completed_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, upsert,
		instance.ID, instance.DefinitionID, instance.DefinitionCode,
		instance.DefinitionVersion, instance.Entity.Type, instance.Entity.ID,
		snapshot, instance.CurrentStepOrder, instance.Status,
		instance.ErrorReason, nullString(instance.TriggeredBy),
		instance.StartedAt, instance.DueAt, instance.CompletedAt,
		instance.CreatedAt, instance.UpdatedAt,
	)
	if err != nil {
		return persistence.NewRepositoryError("Save", "instance", instance.ID, err)
	}

	return nil
}

func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE id = $1`

	instance, err := r.scanInstance(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, persistence.NewRepositoryError("GetByID", "instance", id, err)
	}

	return instance, nil
}

func (r *InstanceRepository) ListByEntity(ctx context.Context, entity models.EntityRef) ([]*models.WorkflowInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM workflow_instances
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at
	`

	return r.queryInstances(ctx, query, entity.Type, entity.ID)
}

func (r *InstanceRepository) ListByStatus(ctx context.Context, status models.InstanceStatus) ([]*models.WorkflowInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM workflow_instances
		WHERE status = $1
		ORDER BY created_at
	`

	return r.queryInstances(ctx, query, string(status))
}

func (r *InstanceRepository) queryInstances(ctx context.Context, query string, args ...any) ([]*models.WorkflowInstance, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewRepositoryError("List", "instance", "", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	instances := make([]*models.WorkflowInstance, 0)

	for rows.Next() {
		instance, err := r.scanInstance(rows)
		if err != nil {
			return nil, persistence.NewRepositoryError("List", "instance", "", err)
		}

		instances = append(instances, instance)
	}

	return instances, rows.Err()
}

func (r *InstanceRepository) scanInstance(row rowScanner) (*models.WorkflowInstance, error) {
	var (
		instance    models.WorkflowInstance
		snapshot    []byte
		triggeredBy sql.NullString
	)

	err := row.Scan(
		&instance.ID, &instance.DefinitionID, &instance.DefinitionCode,
		&instance.DefinitionVersion, &instance.Entity.Type, &instance.Entity.ID,
		&snapshot, &instance.CurrentStepOrder, &instance.Status,
		&instance.ErrorReason, &triggeredBy, &instance.StartedAt,
		&instance.DueAt, &instance.CompletedAt, &instance.CreatedAt, &instance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	instance.TriggeredBy = triggeredBy.String

	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &instance.Snapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
	}

	return &instance, nil
}
