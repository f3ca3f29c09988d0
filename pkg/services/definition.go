// Package services implements the definition lifecycle: authoring drafts,
// publishing immutable versions, and superseding them.
package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/construkt/approvalflow/pkg/models"
	"github.com/construkt/approvalflow/pkg/persistence"
)

// Definition is the workflow definition service.
type Definition struct {
	persistence persistence.Persistence
}

// NewDefinition creates a new definition service.
func NewDefinition(persistence persistence.Persistence) *Definition {
	return &Definition{persistence: persistence}
}

// HealthCheck checks the health of the persistence layer.
func (s *Definition) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	if err := s.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Create adds a new draft definition at version 1, or at the next version
// when earlier versions of the code already exist.
func (s *Definition) Create(ctx context.Context, definition *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	now := time.Now().UTC()

	versions, err := s.persistence.Definitions().ListVersions(ctx, definition.Code)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}

	definition.ID = uuid.New().String()
	definition.Version = 1
	definition.Status = models.DefinitionStatusDraft
	definition.CreatedAt = now
	definition.UpdatedAt = now
	definition.PublishedAt = nil

	if len(versions) > 0 {
		definition.Version = versions[0].Version + 1
	}

	for _, step := range definition.Steps {
		if step.ID == "" {
			step.ID = uuid.New().String()
		}
	}

	if err := s.persistence.Definitions().Save(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to create definition: %w", err)
	}

	return definition, nil
}

// Update modifies a draft definition. Published and inactive versions are
// immutable.
func (s *Definition) Update(ctx context.Context, id string, definition *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	existing, err := s.persistence.Definitions().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		return nil, ErrDefinitionNotFound
	}

	if existing.Status != models.DefinitionStatusDraft {
		return nil, ErrCannotModifyPublished
	}

	definition.ID = existing.ID
	definition.Code = existing.Code
	definition.Version = existing.Version
	definition.Status = models.DefinitionStatusDraft
	definition.CreatedAt = existing.CreatedAt
	definition.UpdatedAt = time.Now().UTC()

	for _, step := range definition.Steps {
		if step.ID == "" {
			step.ID = uuid.New().String()
		}
	}

	if err := s.persistence.Definitions().Save(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to update definition: %w", err)
	}

	return definition, nil
}

// Publish validates the step graph and makes the draft the active published
// version for its code. The previously published version, if any, becomes
// inactive; its running instances keep executing against it.
func (s *Definition) Publish(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	definition, err := s.persistence.Definitions().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if definition == nil {
		return nil, ErrDefinitionNotFound
	}

	if definition.Status != models.DefinitionStatusDraft {
		return nil, ErrCannotModifyPublished
	}

	if err := ValidateDefinition(definition); err != nil {
		return nil, err
	}

	current, err := s.persistence.Definitions().GetPublishedByCode(ctx, definition.Code)
	if err != nil {
		return nil, err
	}

	if current != nil {
		current.Status = models.DefinitionStatusInactive
		if err := s.persistence.Definitions().Save(ctx, current); err != nil {
			return nil, fmt.Errorf("failed to deactivate version %d: %w", current.Version, err)
		}
	}

	now := time.Now().UTC()
	definition.Status = models.DefinitionStatusPublished
	definition.PublishedAt = &now

	if err := s.persistence.Definitions().Save(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to publish definition: %w", err)
	}

	return definition, nil
}

// NewVersion copies a published definition into a fresh draft at the next
// version number. The published version stays active until the draft is
// published in its place.
func (s *Definition) NewVersion(ctx context.Context, code string) (*models.WorkflowDefinition, error) {
	published, err := s.persistence.Definitions().GetPublishedByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if published == nil {
		return nil, ErrDefinitionNotFound
	}

	versions, err := s.persistence.Definitions().ListVersions(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}

	draft := copyDefinition(published)
	draft.ID = uuid.New().String()
	draft.Version = versions[0].Version + 1
	draft.Status = models.DefinitionStatusDraft
	draft.PublishedAt = nil

	now := time.Now().UTC()
	draft.CreatedAt = now
	draft.UpdatedAt = now

	if err := s.persistence.Definitions().Save(ctx, draft); err != nil {
		return nil, fmt.Errorf("failed to create draft version: %w", err)
	}

	return draft, nil
}

// ListVersions returns every version of a definition code, newest first.
func (s *Definition) ListVersions(ctx context.Context, code string) ([]*models.WorkflowDefinition, error) {
	versions, err := s.persistence.Definitions().ListVersions(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}

	if len(versions) == 0 {
		return nil, ErrDefinitionNotFound
	}

	return versions, nil
}

// FetchByID retrieves a definition by its ID.
func (s *Definition) FetchByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	definition, err := s.persistence.Definitions().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if definition == nil {
		return nil, ErrDefinitionNotFound
	}

	return definition, nil
}

// FetchPublished retrieves the currently published version for a code.
func (s *Definition) FetchPublished(ctx context.Context, code string) (*models.WorkflowDefinition, error) {
	definition, err := s.persistence.Definitions().GetPublishedByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if definition == nil {
		return nil, ErrDefinitionNotFound
	}

	return definition, nil
}

// ListDefinitionsRequest contains options for listing definitions.
type ListDefinitionsRequest struct {
	Limit      int
	Offset     int
	Status     *models.DefinitionStatus
	EntityType string
	SortBy     string
	SortOrder  string
}

// ListDefinitionsResponse contains the result of listing definitions.
type ListDefinitionsResponse struct {
	Definitions []*models.WorkflowDefinition `json:"definitions"`
	TotalCount  int64                        `json:"total_count"`
	HasNextPage bool                         `json:"has_next_page"`
}

// List retrieves definitions with filtering, sorting, and pagination.
func (s *Definition) List(ctx context.Context, req ListDefinitionsRequest) (*ListDefinitionsResponse, error) {
	if req.SortOrder != "" && req.SortOrder != "asc" && req.SortOrder != "desc" {
		return nil, NewValidationError("List", "INVALID_SORT_ORDER",
			fmt.Sprintf("invalid sort order %q, allowed: asc, desc", req.SortOrder), ErrInvalidSortOrder)
	}

	switch req.SortBy {
	case "", "created_at", "updated_at", "code", "name":
	default:
		return nil, NewValidationError("List", "INVALID_SORT_FIELD",
			fmt.Sprintf("invalid sort field %q", req.SortBy), ErrInvalidSortField)
	}

	result, err := s.persistence.Definitions().List(ctx, persistence.ListDefinitionsOptions{
		Limit:      req.Limit,
		Offset:     req.Offset,
		Status:     req.Status,
		EntityType: req.EntityType,
		SortBy:     req.SortBy,
		SortOrder:  req.SortOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}

	return &ListDefinitionsResponse{
		Definitions: result.Definitions,
		TotalCount:  result.TotalCount,
		HasNextPage: result.HasNextPage,
	}, nil
}

// ValidateDefinition checks the step graph for publishability and collects
// every violation rather than stopping at the first.
func ValidateDefinition(definition *models.WorkflowDefinition) error {
	violations := make([]string, 0)

	if len(definition.Steps) == 0 {
		violations = append(violations, "definition has no steps")

		return &DefinitionInvalidError{Code: definition.Code, Violations: violations}
	}

	orders := make(map[int]*models.StepDefinition, len(definition.Steps))
	finalCount := 0

	for _, step := range definition.Steps {
		if _, dup := orders[step.Order]; dup {
			violations = append(violations, fmt.Sprintf("duplicate step order %d", step.Order))
		}

		orders[step.Order] = step

		if step.IsFinal {
			finalCount++
		}

		if err := step.Assignment.Validate(); err != nil {
			violations = append(violations, fmt.Sprintf("step %d: %v", step.Order, err))
		}

		if step.EscalateTo != nil {
			if err := step.EscalateTo.Validate(); err != nil {
				violations = append(violations, fmt.Sprintf("step %d escalation target: %v", step.Order, err))
			}
		}

		if len(step.FormSchema) > 0 {
			if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(step.FormSchema)); err != nil {
				violations = append(violations, fmt.Sprintf("step %d: invalid form schema: %v", step.Order, err))
			}
		}
	}

	for want := 1; want <= len(definition.Steps); want++ {
		if _, ok := orders[want]; !ok {
			violations = append(violations, fmt.Sprintf("step orders are not contiguous: missing order %d", want))
		}
	}

	if finalCount == 0 {
		violations = append(violations, "definition has no final step")
	} else if finalCount > 1 {
		violations = append(violations, fmt.Sprintf("definition has %d final steps, expected exactly one", finalCount))
	}

	for _, step := range definition.Steps {
		if step.IsFinal {
			continue
		}

		if step.OnApprove != nil {
			if _, ok := orders[*step.OnApprove]; !ok {
				violations = append(violations, fmt.Sprintf("step %d: approve target %d does not exist", step.Order, *step.OnApprove))
			}
		} else if definition.NextByOrder(step.Order) == nil {
			violations = append(violations, fmt.Sprintf("step %d: no approve successor (not final, no explicit target, no next step)", step.Order))
		}

		if step.OnReject != nil {
			if _, ok := orders[*step.OnReject]; !ok {
				violations = append(violations, fmt.Sprintf("step %d: reject target %d does not exist", step.Order, *step.OnReject))
			}
		}
	}

	violations = append(violations, findCycles(definition, orders)...)

	if len(violations) > 0 {
		return &DefinitionInvalidError{Code: definition.Code, Violations: violations}
	}

	return nil
}

// findCycles walks approve and reject edges from every step, so a cycle
// among steps unreachable from step 1 is still caught. Final steps terminate
// a path; any walk that revisits a step without passing a final step is a
// cycle.
func findCycles(definition *models.WorkflowDefinition, orders map[int]*models.StepDefinition) []string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)

	state := make(map[int]int, len(orders))
	violations := make([]string, 0)

	var walk func(order int)

	walk = func(order int) {
		step, ok := orders[order]
		if !ok || step.IsFinal {
			return
		}

		switch state[order] {
		case inStack:
			violations = append(violations, fmt.Sprintf("cycle detected through step %d", order))

			return
		case done:
			return
		}

		state[order] = inStack

		if step.OnApprove != nil {
			walk(*step.OnApprove)
		} else if next := definition.NextByOrder(order); next != nil {
			walk(next.Order)
		}

		if step.OnReject != nil {
			walk(*step.OnReject)
		}

		state[order] = done
	}

	starts := make([]int, 0, len(orders))
	for order := range orders {
		starts = append(starts, order)
	}

	sort.Ints(starts)

	for _, order := range starts {
		walk(order)
	}

	return violations
}

func copyDefinition(original *models.WorkflowDefinition) *models.WorkflowDefinition {
	draft := *original

	draft.EntryConditions = append(models.ConditionSet(nil), original.EntryConditions...)
	draft.Steps = make([]*models.StepDefinition, len(original.Steps))

	for i, step := range original.Steps {
		copied := *step
		copied.ID = uuid.New().String()
		copied.Condition = append(models.ConditionSet(nil), step.Condition...)

		if step.EscalateTo != nil {
			target := *step.EscalateTo
			copied.EscalateTo = &target
		}

		if step.OnApprove != nil {
			target := *step.OnApprove
			copied.OnApprove = &target
		}

		if step.OnReject != nil {
			target := *step.OnReject
			copied.OnReject = &target
		}

		draft.Steps[i] = &copied
	}

	return &draft
}
