package models

import (
	"encoding/json"
	"time"
)

// AuditAction names what happened in an audit entry.
type AuditAction string

const (
	AuditInstanceStarted   AuditAction = "instance.started"
	AuditInstanceApproved  AuditAction = "instance.approved"
	AuditInstanceRejected  AuditAction = "instance.rejected"
	AuditInstanceCancelled AuditAction = "instance.cancelled"
	AuditInstanceErrored   AuditAction = "instance.errored"
	AuditStepDispatched    AuditAction = "step.dispatched"

	AuditExecutionApproved   AuditAction = "execution.approved"
	AuditExecutionRejected   AuditAction = "execution.rejected"
	AuditExecutionDelegated  AuditAction = "execution.delegated"
	AuditExecutionReassigned AuditAction = "execution.reassigned"
	AuditExecutionEscalated  AuditAction = "execution.escalated"
	AuditExecutionCancelled  AuditAction = "execution.cancelled"
	AuditSignatureAdded      AuditAction = "execution.signature_added"
	AuditAttachmentAdded     AuditAction = "execution.attachment_added"
)

// AuditEntry is one immutable log line. Entries are append-only, never
// consulted for control flow, and survive the instance reaching any terminal
// state including error.
type AuditEntry struct {
	ID          string          `json:"id"`
	InstanceID  string          `json:"instance_id"`
	ExecutionID string          `json:"execution_id,omitempty"`
	ActorID     string          `json:"actor_id,omitempty"`
	Action      AuditAction     `json:"action"`
	Before      json.RawMessage `json:"before,omitempty"`
	After       json.RawMessage `json:"after,omitempty"`
	Detail      string          `json:"detail,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
