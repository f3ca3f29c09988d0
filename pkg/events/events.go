// Package events defines event types and structures for approval lifecycle
// notifications.
package events

import (
	"errors"
	"time"

	"github.com/construkt/approvalflow/pkg/models"
	"github.com/construkt/approvalflow/pkg/protocol"
)

type EventType string

// Topic carries every engine lifecycle event.
const Topic = "approvalflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Instance lifecycle events.
	InstanceStartedEvent  EventType = "instance.started"
	InstanceFinishedEvent EventType = "instance.finished"
	InstanceErroredEvent  EventType = "instance.errored"

	// Execution lifecycle events.
	ExecutionCreatedEvent  EventType = "execution.created"
	ExecutionResolvedEvent EventType = "execution.resolved"

	// Notification requests, consumed by the host's delivery subscriber.
	NotificationRequestedEvent EventType = "notification.requested"
)

// ErrInvalidEventData indicates an event payload failed validation.
var ErrInvalidEventData = errors.New("invalid event data")

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	InstanceID string         `json:"instance_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type InstanceStarted struct {
	BaseEvent

	DefinitionCode    string           `json:"definition_code"`
	DefinitionVersion int              `json:"definition_version"`
	Entity            models.EntityRef `json:"entity"`
	TriggeredBy       string           `json:"triggered_by,omitempty"`
}

func (e InstanceStarted) GetType() EventType {
	return InstanceStartedEvent
}

type InstanceFinished struct {
	BaseEvent

	Status models.InstanceStatus `json:"status"`
	Entity models.EntityRef      `json:"entity"`
}

func (e InstanceFinished) GetType() EventType {
	return InstanceFinishedEvent
}

type InstanceErrored struct {
	BaseEvent

	Reason string           `json:"reason"`
	Entity models.EntityRef `json:"entity"`
}

func (e InstanceErrored) GetType() EventType {
	return InstanceErroredEvent
}

type ExecutionCreated struct {
	BaseEvent

	ExecutionID string       `json:"execution_id"`
	StepOrder   int          `json:"step_order"`
	Assignee    models.Actor `json:"assignee"`
	DueAt       *time.Time   `json:"due_at,omitempty"`
}

func (e ExecutionCreated) GetType() EventType {
	return ExecutionCreatedEvent
}

type ExecutionResolved struct {
	BaseEvent

	ExecutionID string                 `json:"execution_id"`
	StepOrder   int                    `json:"step_order"`
	Status      models.ExecutionStatus `json:"status"`
	ActedBy     string                 `json:"acted_by,omitempty"`
}

func (e ExecutionResolved) GetType() EventType {
	return ExecutionResolvedEvent
}

type NotificationRequested struct {
	BaseEvent

	Notification protocol.Notification `json:"notification"`
}

func (e NotificationRequested) GetType() EventType {
	return NotificationRequestedEvent
}
