package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/construkt/approvalflow/pkg/models"
	"github.com/construkt/approvalflow/pkg/persistence"
)

const kindDefinition = "definitions"

// DefinitionRepository stores workflow definitions as JSON documents.
type DefinitionRepository struct {
	store *Persistence
}

func (r *DefinitionRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	return r.store.write(kindDefinition, definition.ID, definition)
}

func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	var definition models.WorkflowDefinition

	err := r.store.read(kindDefinition, id, &definition)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, persistence.NewRepositoryError("GetByID", "definition", id, err)
	}

	return &definition, nil
}

func (r *DefinitionRepository) GetPublishedByCode(ctx context.Context, code string) (*models.WorkflowDefinition, error) {
	all, err := r.all(ctx)
	if err != nil {
		return nil, err
	}

	for _, definition := range all {
		if definition.Code == code && definition.Status == models.DefinitionStatusPublished {
			return definition, nil
		}
	}

	return nil, nil
}

func (r *DefinitionRepository) ListVersions(ctx context.Context, code string) ([]*models.WorkflowDefinition, error) {
	all, err := r.all(ctx)
	if err != nil {
		return nil, err
	}

	versions := make([]*models.WorkflowDefinition, 0)

	for _, definition := range all {
		if definition.Code == code {
			versions = append(versions, definition)
		}
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Version > versions[j].Version
	})

	return versions, nil
}

func (r *DefinitionRepository) ListByTrigger(ctx context.Context, entityType, eventName string) ([]*models.WorkflowDefinition, error) {
	all, err := r.all(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]*models.WorkflowDefinition, 0)

	for _, definition := range all {
		if definition.IsActive() && definition.EntityType == entityType && definition.TriggerEvent == eventName {
			matched = append(matched, definition)
		}
	}

	return matched, nil
}

func (r *DefinitionRepository) List(ctx context.Context, opts persistence.ListDefinitionsOptions) (*persistence.DefinitionListResult, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	if opts.SortBy == "" {
		opts.SortBy = "created_at"
	}

	if opts.SortOrder == "" {
		opts.SortOrder = "desc"
	}

	allowedSorts := map[string]bool{"created_at": true, "updated_at": true, "code": true, "name": true}
	if !allowedSorts[opts.SortBy] {
		return nil, fmt.Errorf("invalid sort field: %s", opts.SortBy)
	}

	all, err := r.all(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.WorkflowDefinition, 0, len(all))

	for _, definition := range all {
		if opts.Status != nil && definition.Status != *opts.Status {
			continue
		}

		if opts.EntityType != "" && definition.EntityType != opts.EntityType {
			continue
		}

		filtered = append(filtered, definition)
	}

	sort.Slice(filtered, func(i, j int) bool {
		var less bool

		switch opts.SortBy {
		case "code":
			less = filtered[i].Code < filtered[j].Code
		case "name":
			less = filtered[i].Name < filtered[j].Name
		case "updated_at":
			less = filtered[i].UpdatedAt.Before(filtered[j].UpdatedAt)
		default:
			less = filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
		}

		if opts.SortOrder == "desc" {
			return !less
		}

		return less
	})

	total := int64(len(filtered))

	start := opts.Offset
	if start > len(filtered) {
		start = len(filtered)
	}

	end := start + opts.Limit
	if end > len(filtered) {
		end = len(filtered)
	}

	return &persistence.DefinitionListResult{
		Definitions: filtered[start:end],
		TotalCount:  total,
		HasNextPage: end < len(filtered),
	}, nil
}

func (r *DefinitionRepository) all(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	ids, err := r.store.ids(kindDefinition)
	if err != nil {
		return nil, err
	}

	definitions := make([]*models.WorkflowDefinition, 0, len(ids))

	for _, id := range ids {
		definition, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if definition != nil {
			definitions = append(definitions, definition)
		}
	}

	return definitions, nil
}
