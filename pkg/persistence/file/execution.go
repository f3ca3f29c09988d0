package file

import (
	"context"
	"errors"
	"os"
	"sort"
	"time"

	"github.com/construkt/approvalflow/pkg/models"
	"github.com/construkt/approvalflow/pkg/persistence"
)

const kindExecution = "executions"

// ExecutionRepository stores step executions as JSON documents. Transition
// and Update run under the store mutex so a racing actor and scheduler sweep
// cannot both win the pending status.
type ExecutionRepository struct {
	store *Persistence
}

func (r *ExecutionRepository) Save(ctx context.Context, execution *models.StepExecution) error {
	return r.store.write(kindExecution, execution.ID, execution)
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.StepExecution, error) {
	var execution models.StepExecution

	err := r.store.read(kindExecution, id, &execution)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, persistence.NewRepositoryError("GetByID", "execution", id, err)
	}

	return &execution, nil
}

func (r *ExecutionRepository) ListByInstance(ctx context.Context, instanceID string) ([]*models.StepExecution, error) {
	return r.filter(ctx, func(execution *models.StepExecution) bool {
		return execution.InstanceID == instanceID
	})
}

func (r *ExecutionRepository) ListPendingByAssignee(ctx context.Context, actorID string) ([]*models.StepExecution, error) {
	return r.filter(ctx, func(execution *models.StepExecution) bool {
		return execution.Status == models.ExecutionStatusPending && execution.Assignee.ID == actorID
	})
}

func (r *ExecutionRepository) ListOverduePending(ctx context.Context, now time.Time) ([]*models.StepExecution, error) {
	return r.filter(ctx, func(execution *models.StepExecution) bool {
		return execution.Status == models.ExecutionStatusPending && execution.Overdue(now)
	})
}

func (r *ExecutionRepository) Transition(
	ctx context.Context,
	id string,
	to models.ExecutionStatus,
	mutate func(*models.StepExecution),
) (*models.StepExecution, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	execution, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if execution == nil {
		return nil, persistence.NewRepositoryError("Transition", "execution", id, persistence.ErrExecutionNotFound)
	}

	if execution.Status != models.ExecutionStatusPending {
		return nil, persistence.NewRepositoryError("Transition", "execution", id, persistence.ErrExecutionNotPending)
	}

	execution.Status = to
	execution.UpdatedAt = time.Now().UTC()

	if mutate != nil {
		mutate(execution)
	}

	if err := r.Save(ctx, execution); err != nil {
		return nil, err
	}

	return execution, nil
}

func (r *ExecutionRepository) Update(
	ctx context.Context,
	id string,
	mutate func(*models.StepExecution) error,
) (*models.StepExecution, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	execution, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if execution == nil {
		return nil, persistence.NewRepositoryError("Update", "execution", id, persistence.ErrExecutionNotFound)
	}

	if execution.Status != models.ExecutionStatusPending {
		return nil, persistence.NewRepositoryError("Update", "execution", id, persistence.ErrExecutionNotPending)
	}

	if err := mutate(execution); err != nil {
		return nil, err
	}

	execution.UpdatedAt = time.Now().UTC()

	if err := r.Save(ctx, execution); err != nil {
		return nil, err
	}

	return execution, nil
}

func (r *ExecutionRepository) filter(ctx context.Context, keep func(*models.StepExecution) bool) ([]*models.StepExecution, error) {
	ids, err := r.store.ids(kindExecution)
	if err != nil {
		return nil, err
	}

	executions := make([]*models.StepExecution, 0)

	for _, id := range ids {
		execution, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if execution != nil && keep(execution) {
			executions = append(executions, execution)
		}
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreatedAt.Before(executions[j].CreatedAt)
	})

	return executions, nil
}
