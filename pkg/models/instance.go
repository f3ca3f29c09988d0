package models

import "time"

// InstanceStatus represents the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstanceStatusPending    InstanceStatus = "pending"     // Created, first step not yet dispatched
	InstanceStatusInProgress InstanceStatus = "in_progress" // At least one step dispatched
	InstanceStatusApproved   InstanceStatus = "approved"
	InstanceStatusRejected   InstanceStatus = "rejected"
	InstanceStatusCancelled  InstanceStatus = "cancelled"
	InstanceStatusError      InstanceStatus = "error" // Fatal, queued for operator intervention
)

// WorkflowInstance is one running approval process bound to one concrete
// business entity. Only the orchestrator mutates it.
type WorkflowInstance struct {
	ID                string         `json:"id"`
	DefinitionID      string         `json:"definition_id"`
	DefinitionCode    string         `json:"definition_code"`
	DefinitionVersion int            `json:"definition_version"`
	Entity            EntityRef      `json:"entity"`
	Snapshot          EntitySnapshot `json:"snapshot,omitempty"`
	CurrentStepOrder  int            `json:"current_step_order"`
	Status            InstanceStatus `json:"status"`
	ErrorReason       string         `json:"error_reason,omitempty"`
	TriggeredBy       string         `json:"triggered_by,omitempty"`
	StartedAt         time.Time      `json:"started_at"`
	DueAt             *time.Time     `json:"due_at,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Terminal reports whether the instance has reached a final status. Terminal
// instances are never mutated again.
func (i *WorkflowInstance) Terminal() bool {
	switch i.Status {
	case InstanceStatusApproved, InstanceStatusRejected, InstanceStatusCancelled, InstanceStatusError:
		return true
	default:
		return false
	}
}
