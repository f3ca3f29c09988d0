// Package models defines the core domain models for the approval-workflow
// engine.
package models

import (
	"encoding/json"
	"time"
)

// DefinitionStatus represents the lifecycle state of a workflow definition.
type DefinitionStatus string

const (
	DefinitionStatusDraft     DefinitionStatus = "draft"     // Editable, not triggerable
	DefinitionStatusPublished DefinitionStatus = "published" // Immutable, matched by triggers
	DefinitionStatusInactive  DefinitionStatus = "inactive"  // Superseded version, kept for running instances
)

// WorkflowDefinition is a reusable approval template bound to one entity
// type. Published definitions are immutable; edits create a new version and
// mark the prior one inactive. Definitions are never hard-deleted so running
// instances can keep resolving their original version.
type WorkflowDefinition struct {
	ID              string           `json:"id"`
	Code            string           `json:"code"             validate:"required,min=2"`
	Version         int              `json:"version"`
	Name            string           `json:"name"             validate:"required,min=3"`
	Description     string           `json:"description"`
	EntityType      string           `json:"entity_type"      validate:"required"`
	TriggerEvent    string           `json:"trigger_event"    validate:"required"`
	EntryConditions ConditionSet     `json:"entry_conditions,omitempty"`
	SLAHours        int              `json:"sla_hours,omitempty"        validate:"min=0"`
	Status          DefinitionStatus `json:"status"`
	Steps           []*StepDefinition `json:"steps"`
	CreatedBy       string           `json:"created_by,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	PublishedAt     *time.Time       `json:"published_at,omitempty"`
}

// StepDefinition is one node of the ordered approval graph. Branch targets
// are step orders; a nil OnApprove means "next step by order" and a nil
// OnReject means "reject the instance".
type StepDefinition struct {
	ID                string          `json:"id"`
	Order             int             `json:"order"              validate:"min=1"`
	Name              string          `json:"name"               validate:"required"`
	Assignment        AssignmentRule  `json:"assignment"`
	Condition         ConditionSet    `json:"condition,omitempty"`
	OnApprove         *int            `json:"on_approve,omitempty"`
	OnReject          *int            `json:"on_reject,omitempty"`
	SLAHours          int             `json:"sla_hours,omitempty"         validate:"min=0"`
	EscalationHours   int             `json:"escalation_hours,omitempty"  validate:"min=0"`
	EscalateTo        *AssignmentRule `json:"escalate_to,omitempty"`
	IsFinal           bool            `json:"is_final"`
	AllowDelegation   bool            `json:"allow_delegation"`
	AllowReassignment bool            `json:"allow_reassignment"`
	RequireComment    bool            `json:"require_comment"`
	FormSchema        json.RawMessage `json:"form_schema,omitempty"`
}

// IsActive reports whether the definition can be matched by triggers.
func (d *WorkflowDefinition) IsActive() bool {
	return d.Status == DefinitionStatusPublished
}

// StepByOrder returns the step with the given order, or nil.
func (d *WorkflowDefinition) StepByOrder(order int) *StepDefinition {
	for _, step := range d.Steps {
		if step.Order == order {
			return step
		}
	}

	return nil
}

// NextByOrder returns the step with the smallest order greater than the
// given order, or nil when none exists.
func (d *WorkflowDefinition) NextByOrder(order int) *StepDefinition {
	var next *StepDefinition

	for _, step := range d.Steps {
		if step.Order <= order {
			continue
		}

		if next == nil || step.Order < next.Order {
			next = step
		}
	}

	return next
}

// EscalationEnabled reports whether overdue executions of this step are
// picked up by the escalation sweep.
func (s *StepDefinition) EscalationEnabled() bool {
	return s.EscalationHours > 0
}
