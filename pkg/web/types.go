// Package web provides HTTP request and response types for the approval API.
package web

import (
	"encoding/json"

	"github.com/construkt/approvalflow/pkg/models"
)

// CreateDefinitionRequest represents the request body for creating a new
// draft definition.
type CreateDefinitionRequest struct {
	Code            string              `json:"code"             validate:"required,min=2"`
	Name            string              `json:"name"             validate:"required,min=3"`
	Description     string              `json:"description"`
	EntityType      string              `json:"entity_type"      validate:"required"`
	TriggerEvent    string              `json:"trigger_event"    validate:"required"`
	EntryConditions models.ConditionSet `json:"entry_conditions,omitempty"`
	SLAHours        int                 `json:"sla_hours,omitempty"        validate:"min=0"`
	Steps           []StepRequest       `json:"steps"            validate:"required,min=1,dive"`
	CreatedBy       string              `json:"created_by,omitempty"`
}

// UpdateDefinitionRequest represents the request body for editing a draft.
// All fields are optional to support partial updates.
type UpdateDefinitionRequest struct {
	Name            *string             `json:"name,omitempty"        validate:"omitempty,min=3"`
	Description     *string             `json:"description,omitempty"`
	TriggerEvent    *string             `json:"trigger_event,omitempty"`
	EntryConditions models.ConditionSet `json:"entry_conditions,omitempty"`
	SLAHours        *int                `json:"sla_hours,omitempty"   validate:"omitempty,min=0"`
	Steps           []StepRequest       `json:"steps,omitempty"       validate:"omitempty,min=1,dive"`
}

// StepRequest represents one step of the approval graph in a definition
// request body.
type StepRequest struct {
	Order             int                    `json:"order"              validate:"min=1"`
	Name              string                 `json:"name"               validate:"required"`
	Assignment        models.AssignmentRule  `json:"assignment"`
	Condition         models.ConditionSet    `json:"condition,omitempty"`
	OnApprove         *int                   `json:"on_approve,omitempty"`
	OnReject          *int                   `json:"on_reject,omitempty"`
	SLAHours          int                    `json:"sla_hours,omitempty"         validate:"min=0"`
	EscalationHours   int                    `json:"escalation_hours,omitempty"  validate:"min=0"`
	EscalateTo        *models.AssignmentRule `json:"escalate_to,omitempty"`
	IsFinal           bool                   `json:"is_final"`
	AllowDelegation   bool                   `json:"allow_delegation"`
	AllowReassignment bool                   `json:"allow_reassignment"`
	RequireComment    bool                   `json:"require_comment"`
	FormSchema        json.RawMessage        `json:"form_schema,omitempty"`
}

func (r StepRequest) toModel() *models.StepDefinition {
	return &models.StepDefinition{
		Order:             r.Order,
		Name:              r.Name,
		Assignment:        r.Assignment,
		Condition:         r.Condition,
		OnApprove:         r.OnApprove,
		OnReject:          r.OnReject,
		SLAHours:          r.SLAHours,
		EscalationHours:   r.EscalationHours,
		EscalateTo:        r.EscalateTo,
		IsFinal:           r.IsFinal,
		AllowDelegation:   r.AllowDelegation,
		AllowReassignment: r.AllowReassignment,
		RequireComment:    r.RequireComment,
		FormSchema:        r.FormSchema,
	}
}

func stepsToModels(steps []StepRequest) []*models.StepDefinition {
	result := make([]*models.StepDefinition, 0, len(steps))
	for _, step := range steps {
		result = append(result, step.toModel())
	}

	return result
}

// TriggerRequest represents an incoming domain event from the host
// application.
type TriggerRequest struct {
	EntityType string                `json:"entity_type" validate:"required"`
	EntityID   string                `json:"entity_id"   validate:"required"`
	EventName  string                `json:"event_name"  validate:"required"`
	Snapshot   models.EntitySnapshot `json:"snapshot"`
	Actor      ActorRequest          `json:"actor"       validate:"required"`
}

// ActorRequest identifies the user performing a request. Authentication is
// owned by the host; the engine trusts the identity it is handed.
type ActorRequest struct {
	ID   string `json:"id"   validate:"required"`
	Name string `json:"name,omitempty"`
}

func (r ActorRequest) toModel() models.Actor {
	return models.Actor{ID: r.ID, Name: r.Name}
}

// DecisionRequest represents the body of an approve or reject call.
type DecisionRequest struct {
	Actor    ActorRequest   `json:"actor"               validate:"required"`
	Comment  string         `json:"comment,omitempty"`
	FormData map[string]any `json:"form_data,omitempty"`
}

// HandOffRequest represents the body of a delegate or reassign call.
type HandOffRequest struct {
	Actor        ActorRequest `json:"actor"          validate:"required"`
	TargetUserID string       `json:"target_user_id" validate:"required"`
	Reason       string       `json:"reason,omitempty"`
}

// EscalateRequest represents the body of a manual escalation call.
type EscalateRequest struct {
	Actor  ActorRequest `json:"actor"  validate:"required"`
	Reason string       `json:"reason,omitempty"`
}

// CancelRequest represents the body of an instance cancellation call.
type CancelRequest struct {
	Actor  ActorRequest `json:"actor"  validate:"required"`
	Reason string       `json:"reason,omitempty"`
}

// SignatureRequest represents the body of an add-signature call.
type SignatureRequest struct {
	Actor ActorRequest `json:"actor" validate:"required"`
	Data  string       `json:"data"  validate:"required"`
	Type  string       `json:"type"  validate:"required"`
}

// AttachmentRequest represents the body of an add-attachment call.
type AttachmentRequest struct {
	Actor       ActorRequest `json:"actor"        validate:"required"`
	Path        string       `json:"path"         validate:"required"`
	Name        string       `json:"name"         validate:"required"`
	ContentType string       `json:"content_type,omitempty"`
}
