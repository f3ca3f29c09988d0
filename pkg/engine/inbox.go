package engine

import (
	"context"

	"github.com/construkt/approvalflow/pkg/models"
)

// InboxItem is one pending task enriched with the instance and step context
// a task list needs to render a row.
type InboxItem struct {
	Execution    *models.StepExecution    `json:"execution"`
	Instance     *models.WorkflowInstance `json:"instance"`
	WorkflowName string                   `json:"workflow_name"`
	StepName     string                   `json:"step_name"`
}

// Inbox returns every pending execution assigned to an actor, oldest first.
func (e *Engine) Inbox(ctx context.Context, actorID string) ([]*InboxItem, error) {
	executions, err := e.persistence.Executions().ListPendingByAssignee(ctx, actorID)
	if err != nil {
		return nil, err
	}

	items := make([]*InboxItem, 0, len(executions))
	definitions := make(map[string]*models.WorkflowDefinition)

	for _, execution := range executions {
		instance, err := e.persistence.Instances().GetByID(ctx, execution.InstanceID)
		if err != nil {
			return nil, err
		}

		if instance == nil {
			continue
		}

		item := &InboxItem{Execution: execution, Instance: instance}

		definition, ok := definitions[instance.DefinitionID]
		if !ok {
			definition, err = e.persistence.Definitions().GetByID(ctx, instance.DefinitionID)
			if err != nil {
				return nil, err
			}

			definitions[instance.DefinitionID] = definition
		}

		if definition != nil {
			item.WorkflowName = definition.Name

			if step := definition.StepByOrder(execution.StepOrder); step != nil {
				item.StepName = step.Name
			}
		}

		items = append(items, item)
	}

	return items, nil
}
