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

// ExecutionRepository handles step execution database operations. Transition
// and Update take a row lock so a racing actor and scheduler sweep serialize
// on the pending status.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const executionColumns = `
	id
  , instance_id
  , step_id
  , step_order
  , dispatch_id
  , assignee_id
  , assignee_name
  , status
  , comment
  , form_data
  , delegated_from
  , escalated_from
  , reason
  , due_at
  , acted_by
  , acted_at
  , signatures
  , attachments
  , created_at
  , updated_at
`

func (r *ExecutionRepository) Save(ctx context.Context, execution *models.StepExecution) error {
	now := time.Now().UTC()

	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = now
	}

	execution.UpdatedAt = now

	if execution.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate execution ID: %w", err)
		}

		execution.ID = id.String()
	}

	return r.save(ctx, r.db, execution)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *ExecutionRepository) save(ctx context.Context, db execer, execution *models.StepExecution) error {
	formData, err := json.Marshal(execution.FormData)
	if err != nil {
		return fmt.Errorf("failed to marshal form data: %w", err)
	}

	signatures, err := json.Marshal(execution.Signatures)
	if err != nil {
		return fmt.Errorf("failed to marshal signatures: %w", err)
	}

	attachments, err := json.Marshal(execution.Attachments)
	if err != nil {
		return fmt.Errorf("failed to marshal attachments: %w", err)
	}

	upsert := `
		INSERT INTO step_executions (
			id, instance_id, step_id, step_order, dispatch_id, assignee_id, assignee_name,
			status, comment, form_data, delegated_from, escalated_from, reason,
			due_at, acted_by, acted_at, signatures, attachments, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (id) DO UPDATE SET
			assignee_id = EXCLUDED.assignee_id,
			assignee_name = EXCLUDED.assignee_name,
			status = EXCLUDED.status,
			comment = EXCLUDED.comment,
			form_data = EXCLUDED.form_data,
			reason = EXCLUDED.reason,
			due_at = EXCLUDED.due_at,
			acted_by = EXCLUDED.acted_by,
			acted_at = EXCLUDED.acted_at,
			signatures = EXCLUDED.signatures,
			attachments = EXCLUDED.attachments,
			updated_at = EXCLUDED.updated_at
	`

	_, err = db.ExecContext(ctx, upsert,
		execution.ID, execution.InstanceID, execution.StepID, execution.StepOrder,
		execution.DispatchID, execution.Assignee.ID, execution.Assignee.Name, execution.Status,
		execution.Comment, formData, nullString(execution.DelegatedFrom),
		nullString(execution.EscalatedFrom), execution.Reason, execution.DueAt,
		nullString(execution.ActedBy), execution.ActedAt, signatures, attachments,
		execution.CreatedAt, execution.UpdatedAt,
	)
	if err != nil {
		return persistence.NewRepositoryError("Save", "execution", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.StepExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM step_executions WHERE id = $1`

	execution, err := r.scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, persistence.NewRepositoryError("GetByID", "execution", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ListByInstance(ctx context.Context, instanceID string) ([]*models.StepExecution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM step_executions
		WHERE instance_id = $1
		ORDER BY created_at
	`

	return r.queryExecutions(ctx, query, instanceID)
}

func (r *ExecutionRepository) ListPendingByAssignee(ctx context.Context, actorID string) ([]*models.StepExecution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM step_executions
		WHERE assignee_id = $1 AND status = 'pending'
		ORDER BY created_at
	`

	return r.queryExecutions(ctx, query, actorID)
}

func (r *ExecutionRepository) ListOverduePending(ctx context.Context, now time.Time) ([]*models.StepExecution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM step_executions
		WHERE status = 'pending' AND due_at IS NOT NULL AND due_at < $1
		ORDER BY due_at
	`

	return r.queryExecutions(ctx, query, now)
}

// Transition locks the row, verifies it is still pending, applies the
// mutation, and writes the new status within one transaction. A concurrent
// transition on the same row gets ErrExecutionNotPending.
func (r *ExecutionRepository) Transition(
	ctx context.Context,
	id string,
	to models.ExecutionStatus,
	mutate func(*models.StepExecution),
) (*models.StepExecution, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	query := `SELECT ` + executionColumns + ` FROM step_executions WHERE id = $1 FOR UPDATE`

	execution, err := r.scanExecution(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRepositoryError("Transition", "execution", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewRepositoryError("Transition", "execution", id, err)
	}

	if execution.Status != models.ExecutionStatusPending {
		return nil, persistence.NewRepositoryError("Transition", "execution", id, persistence.ErrExecutionNotPending)
	}

	execution.Status = to
	execution.UpdatedAt = time.Now().UTC()

	if mutate != nil {
		mutate(execution)
	}

	if err := r.save(ctx, tx, execution); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}

	return execution, nil
}

func (r *ExecutionRepository) Update(
	ctx context.Context,
	id string,
	mutate func(*models.StepExecution) error,
) (*models.StepExecution, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	query := `SELECT ` + executionColumns + ` FROM step_executions WHERE id = $1 FOR UPDATE`

	execution, err := r.scanExecution(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRepositoryError("Update", "execution", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewRepositoryError("Update", "execution", id, err)
	}

	if execution.Status != models.ExecutionStatusPending {
		return nil, persistence.NewRepositoryError("Update", "execution", id, persistence.ErrExecutionNotPending)
	}

	if err := mutate(execution); err != nil {
		return nil, err
	}

	execution.UpdatedAt = time.Now().UTC()

	if err := r.save(ctx, tx, execution); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}

	return execution, nil
}

func (r *ExecutionRepository) queryExecutions(ctx context.Context, query string, args ...any) ([]*models.StepExecution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewRepositoryError("List", "execution", "", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.StepExecution, 0)

	for rows.Next() {
		execution, err := r.scanExecution(rows)
		if err != nil {
			return nil, persistence.NewRepositoryError("List", "execution", "", err)
		}

		executions = append(executions, execution)
	}

	return executions, rows.Err()
}

func (r *ExecutionRepository) scanExecution(row rowScanner) (*models.StepExecution, error) {
	var (
		execution     models.StepExecution
		formData      []byte
		signatures    []byte
		attachments   []byte
		delegatedFrom sql.NullString
		escalatedFrom sql.NullString
		actedBy       sql.NullString
	)

	err := row.Scan(
		&execution.ID, &execution.InstanceID, &execution.StepID, &execution.StepOrder,
		&execution.DispatchID, &execution.Assignee.ID, &execution.Assignee.Name, &execution.Status,
		&execution.Comment, &formData, &delegatedFrom, &escalatedFrom,
		&execution.Reason, &execution.DueAt, &actedBy, &execution.ActedAt,
		&signatures, &attachments, &execution.CreatedAt, &execution.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	execution.DelegatedFrom = delegatedFrom.String
	execution.EscalatedFrom = escalatedFrom.String
	execution.ActedBy = actedBy.String

	if len(formData) > 0 {
		if err := json.Unmarshal(formData, &execution.FormData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal form data: %w", err)
		}
	}

	if len(signatures) > 0 {
		if err := json.Unmarshal(signatures, &execution.Signatures); err != nil {
			return nil, fmt.Errorf("failed to unmarshal signatures: %w", err)
		}
	}

	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &execution.Attachments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attachments: %w", err)
		}
	}

	return &execution, nil
}
