package models

import "time"

// ExecutionStatus represents the state of one actor's task. Transitions are
// monotone: pending moves to exactly one terminal status and never back.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusApproved  ExecutionStatus = "approved"
	ExecutionStatusRejected  ExecutionStatus = "rejected"
	ExecutionStatusDelegated ExecutionStatus = "delegated"
	ExecutionStatusEscalated ExecutionStatus = "escalated"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// StepExecution is one actor's actionable task for one step within one
// instance. It is the unit actors approve, reject, delegate, reassign, or
// escalate.
type StepExecution struct {
	ID         string `json:"id"`
	InstanceID string `json:"instance_id"`
	StepID     string `json:"step_id"`
	StepOrder  int    `json:"step_order"`
	// DispatchID groups the sibling executions fanned out by one step
	// dispatch. Handoff replacements inherit it, so a remediation loop that
	// revisits the same step order starts a distinguishable new group.
	DispatchID string          `json:"dispatch_id"`
	Assignee   Actor           `json:"assignee"`
	Status     ExecutionStatus `json:"status"`
	Comment    string          `json:"comment,omitempty"`
	FormData   map[string]any  `json:"form_data,omitempty"`
	// DelegatedFrom / EscalatedFrom carry the execution ID this task was
	// handed off from, when it was created by delegation or escalation.
	DelegatedFrom string       `json:"delegated_from,omitempty"`
	EscalatedFrom string       `json:"escalated_from,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	DueAt         *time.Time   `json:"due_at,omitempty"`
	ActedBy       string       `json:"acted_by,omitempty"`
	ActedAt       *time.Time   `json:"acted_at,omitempty"`
	Signatures    []Signature  `json:"signatures,omitempty"`
	Attachments   []Attachment `json:"attachments,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Signature is metadata attached to a pending execution, typically a drawn
// or certificate-backed signature blob reference.
type Signature struct {
	Data     string    `json:"data"     validate:"required"`
	Type     string    `json:"type"     validate:"required"`
	SignedAt time.Time `json:"signed_at"`
}

// Attachment is supporting-document metadata attached to a pending
// execution. File storage itself is owned by the host application.
type Attachment struct {
	Path        string    `json:"path"         validate:"required"`
	Name        string    `json:"name"         validate:"required"`
	ContentType string    `json:"content_type"`
	AddedAt     time.Time `json:"added_at"`
}

// Terminal reports whether the execution has been acted on, handed off, or
// cancelled.
func (e *StepExecution) Terminal() bool {
	return e.Status != ExecutionStatusPending
}

// Overdue reports whether the execution's due time has passed.
func (e *StepExecution) Overdue(now time.Time) bool {
	return e.DueAt != nil && now.After(*e.DueAt)
}
