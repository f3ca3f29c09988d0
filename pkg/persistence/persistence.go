// Package persistence provides the data storage abstraction layer for
// workflow definitions, instances, executions, and the audit log.
package persistence

import (
	"context"
	"time"

	"github.com/construkt/approvalflow/pkg/models"
)

// Persistence exposes one repository per aggregate. Implementations:
// file (tests/dev) and postgresql.
type Persistence interface {
	Definitions() DefinitionRepository
	Instances() InstanceRepository
	Executions() ExecutionRepository
	Audit() AuditRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ListDefinitionsOptions controls definition listing.
type ListDefinitionsOptions struct {
	Limit      int
	Offset     int
	Status     *models.DefinitionStatus
	EntityType string
	SortBy     string
	SortOrder  string
}

// DefinitionListResult carries one page of definitions.
type DefinitionListResult struct {
	Definitions []*models.WorkflowDefinition
	TotalCount  int64
	HasNextPage bool
}

type DefinitionRepository interface {
	Save(ctx context.Context, definition *models.WorkflowDefinition) error
	// GetByID returns nil without error when the definition does not exist.
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	// GetPublishedByCode returns the currently published version for a code,
	// or nil when no published version exists.
	GetPublishedByCode(ctx context.Context, code string) (*models.WorkflowDefinition, error)
	// ListVersions returns every version for a code, newest first.
	ListVersions(ctx context.Context, code string) ([]*models.WorkflowDefinition, error)
	// ListByTrigger returns published definitions matching an entity type and
	// trigger event name.
	ListByTrigger(ctx context.Context, entityType, eventName string) ([]*models.WorkflowDefinition, error)
	List(ctx context.Context, opts ListDefinitionsOptions) (*DefinitionListResult, error)
}

type InstanceRepository interface {
	Save(ctx context.Context, instance *models.WorkflowInstance) error
	GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error)
	ListByEntity(ctx context.Context, entity models.EntityRef) ([]*models.WorkflowInstance, error)
	ListByStatus(ctx context.Context, status models.InstanceStatus) ([]*models.WorkflowInstance, error)
}

type ExecutionRepository interface {
	Save(ctx context.Context, execution *models.StepExecution) error
	GetByID(ctx context.Context, id string) (*models.StepExecution, error)
	ListByInstance(ctx context.Context, instanceID string) ([]*models.StepExecution, error)
	// ListPendingByAssignee is the inbox query.
	ListPendingByAssignee(ctx context.Context, actorID string) ([]*models.StepExecution, error)
	// ListOverduePending returns pending executions whose due time has
	// passed. The escalation sweep filters these by step configuration.
	ListOverduePending(ctx context.Context, now time.Time) ([]*models.StepExecution, error)
	// Transition atomically moves a pending execution to a terminal status,
	// applying mutate to the row inside the store's critical section. It
	// returns ErrExecutionNotPending when the execution already left pending,
	// which is how racing actors and scheduler sweeps are serialized.
	Transition(
		ctx context.Context,
		id string,
		to models.ExecutionStatus,
		mutate func(*models.StepExecution),
	) (*models.StepExecution, error)
	// Update mutates a pending execution in place (reassignment, signatures,
	// attachments) without a status change, under the same critical section.
	Update(ctx context.Context, id string, mutate func(*models.StepExecution) error) (*models.StepExecution, error)
}

type AuditRepository interface {
	// Append writes one immutable entry. There is no update or delete.
	Append(ctx context.Context, entry *models.AuditEntry) error
	ListByInstance(ctx context.Context, instanceID string) ([]*models.AuditEntry, error)
}
