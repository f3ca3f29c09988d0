package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/construkt/approvalflow/pkg/events"
	"github.com/construkt/approvalflow/pkg/models"
	"github.com/construkt/approvalflow/pkg/persistence"
	"github.com/construkt/approvalflow/pkg/services"
)

// executionContext bundles the rows an action needs: the execution, its
// instance, and the step configuration it runs under.
type executionContext struct {
	execution  *models.StepExecution
	instance   *models.WorkflowInstance
	definition *models.WorkflowDefinition
	step       *models.StepDefinition
}

func (e *Engine) loadExecutionContext(ctx context.Context, executionID string) (*executionContext, error) {
	execution, err := e.persistence.Executions().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution == nil {
		return nil, services.ErrExecutionNotFound
	}

	instance, err := e.persistence.Instances().GetByID(ctx, execution.InstanceID)
	if err != nil {
		return nil, err
	}

	if instance == nil {
		return nil, services.ErrInstanceNotFound
	}

	definition, err := e.persistence.Definitions().GetByID(ctx, instance.DefinitionID)
	if err != nil {
		return nil, err
	}

	if definition == nil {
		return nil, services.ErrDefinitionNotFound
	}

	step := definition.StepByOrder(execution.StepOrder)
	if step == nil {
		return nil, fmt.Errorf("step order %d not in definition %s", execution.StepOrder, definition.ID)
	}

	return &executionContext{
		execution:  execution,
		instance:   instance,
		definition: definition,
		step:       step,
	}, nil
}

// authorize rejects actors other than the current assignee. Terminal
// executions fail with the already-acted conflict before authorization so a
// late duplicate click by the right actor gets the truthful answer.
func (ec *executionContext) authorize(actor models.Actor) error {
	if ec.execution.Terminal() {
		return services.ErrAlreadyActed
	}

	if actor.ID != ec.execution.Assignee.ID {
		return services.ErrNotAuthorized
	}

	return nil
}

func (ec *executionContext) validateDecision(comment string, formData map[string]any) error {
	if ec.step.RequireComment && strings.TrimSpace(comment) == "" {
		return services.ErrCommentRequired
	}

	if len(ec.step.FormSchema) == 0 {
		return nil
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(ec.step.FormSchema))
	if err != nil {
		return fmt.Errorf("step form schema is not loadable: %w", err)
	}

	payload, err := json.Marshal(formData)
	if err != nil {
		return fmt.Errorf("failed to marshal form data: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("form data validation failed: %w", err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			details = append(details, resultErr.String())
		}

		return services.NewValidationError("validateDecision", "INVALID_FORM_DATA",
			strings.Join(details, "; "), services.ErrInvalidFormData)
	}

	return nil
}

// Approve records an approval decision and advances the instance.
func (e *Engine) Approve(
	ctx context.Context,
	executionID string,
	actor models.Actor,
	comment string,
	formData map[string]any,
) (*models.StepExecution, error) {
	return e.decide(ctx, executionID, actor, comment, formData, models.ExecutionStatusApproved)
}

// Reject records a rejection and advances the instance, either to terminal
// rejected or along the step's remediation branch.
func (e *Engine) Reject(
	ctx context.Context,
	executionID string,
	actor models.Actor,
	comment string,
	formData map[string]any,
) (*models.StepExecution, error) {
	return e.decide(ctx, executionID, actor, comment, formData, models.ExecutionStatusRejected)
}

func (e *Engine) decide(
	ctx context.Context,
	executionID string,
	actor models.Actor,
	comment string,
	formData map[string]any,
	decision models.ExecutionStatus,
) (*models.StepExecution, error) {
	ec, err := e.loadExecutionContext(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if err := ec.authorize(actor); err != nil {
		return nil, err
	}

	if err := ec.validateDecision(comment, formData); err != nil {
		return nil, err
	}

	before := marshalState(ec.execution)
	now := e.now()

	resolved, err := e.persistence.Executions().Transition(ctx, executionID, decision,
		func(ex *models.StepExecution) {
			ex.Comment = comment
			ex.FormData = formData
			ex.ActedBy = actor.ID
			ex.ActedAt = &now
		})
	if err != nil {
		if errors.Is(err, persistence.ErrExecutionNotPending) {
			return nil, services.ErrAlreadyActed
		}

		return nil, err
	}

	action := models.AuditExecutionApproved
	if decision == models.ExecutionStatusRejected {
		action = models.AuditExecutionRejected
	}

	e.audit(ctx, &models.AuditEntry{
		InstanceID:  resolved.InstanceID,
		ExecutionID: resolved.ID,
		ActorID:     actor.ID,
		Action:      action,
		Before:      before,
		After:       marshalState(resolved),
		Detail:      comment,
	})

	e.publish(ctx, resolved.InstanceID, events.ExecutionResolved{
		BaseEvent:   e.baseEvent(events.ExecutionResolvedEvent, resolved.InstanceID),
		ExecutionID: resolved.ID,
		StepOrder:   resolved.StepOrder,
		Status:      resolved.Status,
		ActedBy:     actor.ID,
	})

	if err := e.OnExecutionResolved(ctx, resolved.ID); err != nil {
		return nil, err
	}

	return resolved, nil
}

// Delegate hands the task to another user. The old execution terminates as
// delegated and a replacement is created for the target with the original
// due time, so delegation never resets the escalation clock.
func (e *Engine) Delegate(
	ctx context.Context,
	executionID string,
	actor models.Actor,
	targetUserID string,
	reason string,
) (*models.StepExecution, error) {
	ec, err := e.loadExecutionContext(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if err := ec.authorize(actor); err != nil {
		return nil, err
	}

	if !ec.step.AllowDelegation {
		return nil, services.ErrDelegationNotAllowed
	}

	targets, err := e.resolver.Resolve(ctx, models.UserAssignment(targetUserID), ec.instance.Snapshot)
	if err != nil {
		return nil, err
	}

	if targets.Empty() {
		return nil, services.NewValidationError("Delegate", "UNKNOWN_TARGET",
			"delegation target is not an active user: "+targetUserID, services.ErrInvalidRequest)
	}

	return e.handOff(ctx, ec, actor, Primary(targets), reason, models.ExecutionStatusDelegated, ec.execution.DueAt)
}

// Escalate moves an overdue (or manually pushed) task up: to the step's
// configured escalation target, or to the assignee's direct manager when no
// target is configured. Steps without an escalation window reject the
// request; an empty escalation target halts the instance.
func (e *Engine) Escalate(ctx context.Context, executionID string, actor models.Actor, reason string) (*models.StepExecution, error) {
	ec, err := e.loadExecutionContext(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if ec.execution.Terminal() {
		return nil, services.ErrAlreadyActed
	}

	if !ec.step.EscalationEnabled() {
		return nil, services.ErrEscalationNotConfigured
	}

	var targets models.ActorSet

	if ec.step.EscalateTo != nil {
		targets, err = e.resolver.Resolve(ctx, *ec.step.EscalateTo, ec.instance.Snapshot)
	} else {
		targets, err = e.resolver.directory.ManagerOf(ctx, ec.execution.Assignee.ID)
	}

	if err != nil {
		return nil, err
	}

	if targets.Empty() {
		e.cancelPendingExecutions(ctx, ec.instance, actor, "no assignable escalation target")

		if failErr := e.failInstance(ctx, ec.instance,
			fmt.Sprintf("step %d escalation has no assignable actor", ec.step.Order)); failErr != nil {
			return nil, failErr
		}

		return nil, services.ErrInstanceNotRunning
	}

	due := e.now().Add(time.Duration(ec.step.EscalationHours) * time.Hour)

	return e.handOff(ctx, ec, actor, Primary(targets), reason, models.ExecutionStatusEscalated, &due)
}

// handOff atomically terminates the current execution and creates its
// replacement. The CAS transition is what makes escalation one-shot: a
// second sweep or a racing actor loses the pending check and stops.
func (e *Engine) handOff(
	ctx context.Context,
	ec *executionContext,
	actor models.Actor,
	target models.Actor,
	reason string,
	status models.ExecutionStatus,
	due *time.Time,
) (*models.StepExecution, error) {
	before := marshalState(ec.execution)
	now := e.now()

	resolved, err := e.persistence.Executions().Transition(ctx, ec.execution.ID, status,
		func(ex *models.StepExecution) {
			ex.ActedBy = actor.ID
			ex.ActedAt = &now
			ex.Reason = reason
		})
	if err != nil {
		if errors.Is(err, persistence.ErrExecutionNotPending) {
			return nil, services.ErrAlreadyActed
		}

		return nil, err
	}

	replacement := &models.StepExecution{
		ID:         e.newID(),
		InstanceID: resolved.InstanceID,
		StepID:     resolved.StepID,
		StepOrder:  resolved.StepOrder,
		DispatchID: resolved.DispatchID,
		Assignee:   target,
		Status:     models.ExecutionStatusPending,
		DueAt:      due,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	action := models.AuditExecutionDelegated
	subject := "Task delegated to you: " + ec.step.Name

	if status == models.ExecutionStatusEscalated {
		replacement.EscalatedFrom = resolved.ID
		action = models.AuditExecutionEscalated
		subject = "Task escalated to you: " + ec.step.Name
	} else {
		replacement.DelegatedFrom = resolved.ID
	}

	if err := e.persistence.Executions().Save(ctx, replacement); err != nil {
		return nil, fmt.Errorf("failed to save replacement execution: %w", err)
	}

	e.audit(ctx, &models.AuditEntry{
		InstanceID:  resolved.InstanceID,
		ExecutionID: resolved.ID,
		ActorID:     actor.ID,
		Action:      action,
		Before:      before,
		After:       marshalState(replacement),
		Detail:      reason,
	})

	e.publish(ctx, resolved.InstanceID, events.ExecutionResolved{
		BaseEvent:   e.baseEvent(events.ExecutionResolvedEvent, resolved.InstanceID),
		ExecutionID: resolved.ID,
		StepOrder:   resolved.StepOrder,
		Status:      resolved.Status,
		ActedBy:     actor.ID,
	})

	e.publish(ctx, resolved.InstanceID, events.ExecutionCreated{
		BaseEvent:   e.baseEvent(events.ExecutionCreatedEvent, resolved.InstanceID),
		ExecutionID: replacement.ID,
		StepOrder:   replacement.StepOrder,
		Assignee:    replacement.Assignee,
		DueAt:       replacement.DueAt,
	})

	e.notifyAssignee(ctx, ec.instance, replacement, subject)

	return replacement, nil
}

// Reassign swaps the assignee of a pending execution in place. Unlike
// delegation this is an administrative override: it needs no consent from
// the current assignee and leaves no terminated execution behind.
func (e *Engine) Reassign(
	ctx context.Context,
	executionID string,
	actor models.Actor,
	targetUserID string,
	reason string,
) (*models.StepExecution, error) {
	ec, err := e.loadExecutionContext(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if ec.execution.Terminal() {
		return nil, services.ErrAlreadyActed
	}

	if !ec.step.AllowReassignment {
		return nil, services.ErrReassignmentNotAllowed
	}

	targets, err := e.resolver.Resolve(ctx, models.UserAssignment(targetUserID), ec.instance.Snapshot)
	if err != nil {
		return nil, err
	}

	if targets.Empty() {
		return nil, services.NewValidationError("Reassign", "UNKNOWN_TARGET",
			"reassignment target is not an active user: "+targetUserID, services.ErrInvalidRequest)
	}

	target := Primary(targets)
	before := marshalState(ec.execution)

	updated, err := e.persistence.Executions().Update(ctx, executionID, func(ex *models.StepExecution) error {
		ex.Assignee = target

		return nil
	})
	if err != nil {
		if errors.Is(err, persistence.ErrExecutionNotPending) {
			return nil, services.ErrAlreadyActed
		}

		return nil, err
	}

	e.audit(ctx, &models.AuditEntry{
		InstanceID:  updated.InstanceID,
		ExecutionID: updated.ID,
		ActorID:     actor.ID,
		Action:      models.AuditExecutionReassigned,
		Before:      before,
		After:       marshalState(updated),
		Detail:      reason,
	})

	e.notifyAssignee(ctx, ec.instance, updated, "Task reassigned to you: "+ec.step.Name)

	return updated, nil
}

// AddSignature attaches signature metadata to a pending execution.
func (e *Engine) AddSignature(
	ctx context.Context,
	executionID string,
	actor models.Actor,
	signature models.Signature,
) (*models.StepExecution, error) {
	ec, err := e.loadExecutionContext(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if err := ec.authorize(actor); err != nil {
		return nil, err
	}

	if err := e.validator.Struct(signature); err != nil {
		return nil, services.NewValidationError("AddSignature", "INVALID_SIGNATURE", err.Error(), services.ErrInvalidRequest)
	}

	signature.SignedAt = e.now()

	updated, err := e.persistence.Executions().Update(ctx, executionID, func(ex *models.StepExecution) error {
		ex.Signatures = append(ex.Signatures, signature)

		return nil
	})
	if err != nil {
		if errors.Is(err, persistence.ErrExecutionNotPending) {
			return nil, services.ErrAlreadyActed
		}

		return nil, err
	}

	e.audit(ctx, &models.AuditEntry{
		InstanceID:  updated.InstanceID,
		ExecutionID: updated.ID,
		ActorID:     actor.ID,
		Action:      models.AuditSignatureAdded,
		Detail:      signature.Type,
	})

	return updated, nil
}

// AddAttachment attaches supporting-document metadata to a pending
// execution. The document itself lives in the host's file storage.
func (e *Engine) AddAttachment(
	ctx context.Context,
	executionID string,
	actor models.Actor,
	attachment models.Attachment,
) (*models.StepExecution, error) {
	ec, err := e.loadExecutionContext(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if err := ec.authorize(actor); err != nil {
		return nil, err
	}

	if err := e.validator.Struct(attachment); err != nil {
		return nil, services.NewValidationError("AddAttachment", "INVALID_ATTACHMENT", err.Error(), services.ErrInvalidRequest)
	}

	attachment.AddedAt = e.now()

	updated, err := e.persistence.Executions().Update(ctx, executionID, func(ex *models.StepExecution) error {
		ex.Attachments = append(ex.Attachments, attachment)

		return nil
	})
	if err != nil {
		if errors.Is(err, persistence.ErrExecutionNotPending) {
			return nil, services.ErrAlreadyActed
		}

		return nil, err
	}

	e.audit(ctx, &models.AuditEntry{
		InstanceID:  updated.InstanceID,
		ExecutionID: updated.ID,
		ActorID:     actor.ID,
		Action:      models.AuditAttachmentAdded,
		Detail:      attachment.Name,
	})

	return updated, nil
}
