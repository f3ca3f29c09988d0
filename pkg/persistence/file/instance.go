package file

import (
	"context"
	"errors"
	"os"
	"sort"

	"github.com/construkt/approvalflow/pkg/models"
	"github.com/construkt/approvalflow/pkg/persistence"
)

const kindInstance = "instances"

// InstanceRepository stores workflow instances as JSON documents.
type InstanceRepository struct {
	store *Persistence
}

func (r *InstanceRepository) Save(ctx context.Context, instance *models.WorkflowInstance) error {
	return r.store.write(kindInstance, instance.ID, instance)
}

func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	var instance models.WorkflowInstance

	err := r.store.read(kindInstance, id, &instance)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, persistence.NewRepositoryError("GetByID", "instance", id, err)
	}

	return &instance, nil
}

func (r *InstanceRepository) ListByEntity(ctx context.Context, entity models.EntityRef) ([]*models.WorkflowInstance, error) {
	return r.filter(ctx, func(instance *models.WorkflowInstance) bool {
		return instance.Entity == entity
	})
}

func (r *InstanceRepository) ListByStatus(ctx context.Context, status models.InstanceStatus) ([]*models.WorkflowInstance, error) {
	return r.filter(ctx, func(instance *models.WorkflowInstance) bool {
		return instance.Status == status
	})
}

func (r *InstanceRepository) filter(ctx context.Context, keep func(*models.WorkflowInstance) bool) ([]*models.WorkflowInstance, error) {
	ids, err := r.store.ids(kindInstance)
	if err != nil {
		return nil, err
	}

	instances := make([]*models.WorkflowInstance, 0)

	for _, id := range ids {
		instance, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if instance != nil && keep(instance) {
			instances = append(instances, instance)
		}
	}

	sort.Slice(instances, func(i, j int) bool {
		return instances[i].CreatedAt.Before(instances[j].CreatedAt)
	})

	return instances, nil
}
