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

// DefinitionRepository handles workflow definition database operations.
type DefinitionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const definitionColumns = `
	id
  , code
  , version
  , name
  , description
  , entity_type
  , trigger_event
  , entry_conditions
  , sla_hours
  , status
  , created_by
  , created_at
  , updated_at
  , published_at
`

// Save writes the definition and its steps in one transaction. Steps are
// replaced wholesale; the definition service guarantees published versions
// are never edited.
func (r *DefinitionRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	now := time.Now().UTC()

	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	if definition.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate definition ID: %w", err)
		}

		definition.ID = id.String()
	}

	entryConditions, err := json.Marshal(definition.EntryConditions)
	if err != nil {
		return fmt.Errorf("failed to marshal entry conditions: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	upsert := `
		INSERT INTO workflow_definitions (
			id, code, version, name, description, entity_type, trigger_event,
			entry_conditions, sla_hours, status, created_by, created_at, updated_at, published_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			entity_type = EXCLUDED.entity_type,
			trigger_event = EXCLUDED.trigger_event,
			entry_conditions = EXCLUDED.entry_conditions,
			sla_hours = EXCLUDED.sla_hours,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at,
			published_at = EXCLUDED.published_at
	`

	_, err = tx.ExecContext(ctx, upsert,
		definition.ID, definition.Code, definition.Version, definition.Name,
		definition.Description, definition.EntityType, definition.TriggerEvent,
		entryConditions, definition.SLAHours, definition.Status,
		nullString(definition.CreatedBy), definition.CreatedAt, definition.UpdatedAt,
		definition.PublishedAt,
	)
	if err != nil {
		return persistence.NewRepositoryError("Save", "definition", definition.ID, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM workflow_steps WHERE definition_id = $1", definition.ID); err != nil {
		return persistence.NewRepositoryError("Save", "definition", definition.ID, err)
	}

	for _, step := range definition.Steps {
		if err := r.insertStep(ctx, tx, definition.ID, step); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit definition save: %w", err)
	}

	return nil
}

func (r *DefinitionRepository) insertStep(ctx context.Context, tx *sql.Tx, definitionID string, step *models.StepDefinition) error {
	if step.ID == "" {
		step.ID = uuid.New().String()
	}

	assignment, err := json.Marshal(step.Assignment)
	if err != nil {
		return fmt.Errorf("failed to marshal step assignment: %w", err)
	}

	condition, err := json.Marshal(step.Condition)
	if err != nil {
		return fmt.Errorf("failed to marshal step condition: %w", err)
	}

	var escalateTo []byte

	if step.EscalateTo != nil {
		escalateTo, err = json.Marshal(step.EscalateTo)
		if err != nil {
			return fmt.Errorf("failed to marshal escalation target: %w", err)
		}
	}

	insert := `
		INSERT INTO workflow_steps (
			definition_id, id, step_order, name, assignment, condition,
			on_approve, on_reject, sla_hours, escalation_hours, escalate_to,
			is_final, allow_delegation, allow_reassignment, require_comment, form_schema
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err = tx.ExecContext(ctx, insert,
		definitionID, step.ID, step.Order, step.Name, assignment, condition,
		step.OnApprove, step.OnReject, step.SLAHours, step.EscalationHours,
		escalateTo, step.IsFinal, step.AllowDelegation, step.AllowReassignment,
		step.RequireComment, []byte(step.FormSchema),
	)
	if err != nil {
		return persistence.NewRepositoryError("Save", "definition", definitionID, err)
	}

	return nil
}

func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions WHERE id = $1`

	definition, err := r.scanDefinition(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, persistence.NewRepositoryError("GetByID", "definition", id, err)
	}

	if err := r.loadSteps(ctx, definition); err != nil {
		return nil, err
	}

	return definition, nil
}

func (r *DefinitionRepository) GetPublishedByCode(ctx context.Context, code string) (*models.WorkflowDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM workflow_definitions
		WHERE code = $1 AND status = 'published'
		ORDER BY version DESC
		LIMIT 1
	`

	definition, err := r.scanDefinition(r.db.QueryRowContext(ctx, query, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, persistence.NewRepositoryError("GetPublishedByCode", "definition", code, err)
	}

	if err := r.loadSteps(ctx, definition); err != nil {
		return nil, err
	}

	return definition, nil
}

func (r *DefinitionRepository) ListVersions(ctx context.Context, code string) ([]*models.WorkflowDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM workflow_definitions
		WHERE code = $1
		ORDER BY version DESC
	`

	return r.queryDefinitions(ctx, query, code)
}

func (r *DefinitionRepository) ListByTrigger(ctx context.Context, entityType, eventName string) ([]*models.WorkflowDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM workflow_definitions
		WHERE entity_type = $1 AND trigger_event = $2 AND status = 'published'
		ORDER BY code
	`

	return r.queryDefinitions(ctx, query, entityType, eventName)
}

func (r *DefinitionRepository) List(ctx context.Context, opts persistence.ListDefinitionsOptions) (*persistence.DefinitionListResult, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	sortColumn := map[string]string{
		"":           "created_at",
		"created_at": "created_at",
		"updated_at": "updated_at",
		"code":       "code",
		"name":       "name",
	}[opts.SortBy]
	if sortColumn == "" {
		return nil, fmt.Errorf("invalid sort field: %s", opts.SortBy)
	}

	direction := "DESC"
	if opts.SortOrder == "asc" {
		direction = "ASC"
	}

	where := "WHERE 1=1"
	args := []any{}

	if opts.Status != nil {
		args = append(args, string(*opts.Status))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	if opts.EntityType != "" {
		args = append(args, opts.EntityType)
		where += fmt.Sprintf(" AND entity_type = $%d", len(args))
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflow_definitions "+where, args...).Scan(&total); err != nil {
		return nil, persistence.NewRepositoryError("List", "definition", "", err)
	}

	args = append(args, opts.Limit, opts.Offset)
	query := fmt.Sprintf(
		"SELECT %s FROM workflow_definitions %s ORDER BY %s %s LIMIT $%d OFFSET $%d",
		definitionColumns, where, sortColumn, direction, len(args)-1, len(args),
	)

	definitions, err := r.queryDefinitions(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return &persistence.DefinitionListResult{
		Definitions: definitions,
		TotalCount:  total,
		HasNextPage: int64(opts.Offset+len(definitions)) < total,
	}, nil
}

func (r *DefinitionRepository) queryDefinitions(ctx context.Context, query string, args ...any) ([]*models.WorkflowDefinition, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewRepositoryError("List", "definition", "", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	definitions := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		definition, err := r.scanDefinition(rows)
		if err != nil {
			return nil, persistence.NewRepositoryError("List", "definition", "", err)
		}

		definitions = append(definitions, definition)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewRepositoryError("List", "definition", "", err)
	}

	for _, definition := range definitions {
		if err := r.loadSteps(ctx, definition); err != nil {
			return nil, err
		}
	}

	return definitions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *DefinitionRepository) scanDefinition(row rowScanner) (*models.WorkflowDefinition, error) {
	var (
		definition      models.WorkflowDefinition
		entryConditions []byte
		createdBy       sql.NullString
	)

	err := row.Scan(
		&definition.ID, &definition.Code, &definition.Version, &definition.Name,
		&definition.Description, &definition.EntityType, &definition.TriggerEvent,
		&entryConditions, &definition.SLAHours, &definition.Status,
		&createdBy, &definition.CreatedAt, &definition.UpdatedAt, &definition.PublishedAt,
	)
	if err != nil {
		return nil, err
	}

	definition.CreatedBy = createdBy.String

	if len(entryConditions) > 0 {
		if err := json.Unmarshal(entryConditions, &definition.EntryConditions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entry conditions: %w", err)
		}
	}

	return &definition, nil
}

func (r *DefinitionRepository) loadSteps(ctx context.Context, definition *models.WorkflowDefinition) error {
	query := `
		SELECT
			id
		  , step_order
		  , name
		  , assignment
		  , condition
		  , on_approve
		  , on_reject
		  , sla_hours
		  , escalation_hours
		  , escalate_to
		  , is_final
		  , allow_delegation
		  , allow_reassignment
		  , require_comment
		  , form_schema
		FROM workflow_steps
		WHERE definition_id = $1
		ORDER BY step_order
	`

	rows, err := r.db.QueryContext(ctx, query, definition.ID)
	if err != nil {
		return persistence.NewRepositoryError("loadSteps", "definition", definition.ID, err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	definition.Steps = make([]*models.StepDefinition, 0)

	for rows.Next() {
		var (
			step       models.StepDefinition
			assignment []byte
			condition  []byte
			escalateTo []byte
			formSchema []byte
		)

		err := rows.Scan(
			&step.ID, &step.Order, &step.Name, &assignment, &condition,
			&step.OnApprove, &step.OnReject, &step.SLAHours, &step.EscalationHours,
			&escalateTo, &step.IsFinal, &step.AllowDelegation, &step.AllowReassignment,
			&step.RequireComment, &formSchema,
		)
		if err != nil {
			return persistence.NewRepositoryError("loadSteps", "definition", definition.ID, err)
		}

		if err := json.Unmarshal(assignment, &step.Assignment); err != nil {
			return fmt.Errorf("failed to unmarshal step assignment: %w", err)
		}

		if len(condition) > 0 {
			if err := json.Unmarshal(condition, &step.Condition); err != nil {
				return fmt.Errorf("failed to unmarshal step condition: %w", err)
			}
		}

		if len(escalateTo) > 0 {
			step.EscalateTo = &models.AssignmentRule{}
			if err := json.Unmarshal(escalateTo, step.EscalateTo); err != nil {
				return fmt.Errorf("failed to unmarshal escalation target: %w", err)
			}
		}

		step.FormSchema = formSchema

		definition.Steps = append(definition.Steps, &step)
	}

	return rows.Err()
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
