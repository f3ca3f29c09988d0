package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/construkt/approvalflow/pkg/errorqueue"
	"github.com/construkt/approvalflow/pkg/events"
	"github.com/construkt/approvalflow/pkg/models"
	"github.com/construkt/approvalflow/pkg/otelhelper"
	"github.com/construkt/approvalflow/pkg/protocol"
	"github.com/construkt/approvalflow/pkg/services"
)

// HandleTrigger matches a domain event against published definitions and
// starts an instance for every match whose entry conditions hold. Entities
// that already have a running instance of the same definition code are
// skipped, so repeated status-change events do not fan out duplicates.
func (e *Engine) HandleTrigger(ctx context.Context, event models.TriggerEvent) ([]*models.WorkflowInstance, error) {
	ctx, span := e.tracer.Start(ctx, "engine.handle_trigger", trace.WithAttributes(
		attribute.String(otelhelper.EntityTypeKey, event.EntityType),
		attribute.String(otelhelper.EntityIDKey, event.EntityID),
		attribute.String(otelhelper.TriggerEventKey, event.EventName),
	))
	defer span.End()

	if err := e.validator.Struct(event); err != nil {
		return nil, services.NewValidationError("HandleTrigger", "INVALID_TRIGGER", err.Error(), services.ErrInvalidRequest)
	}

	definitions, err := e.persistence.Definitions().ListByTrigger(ctx, event.EntityType, event.EventName)
	if err != nil {
		return nil, fmt.Errorf("failed to match trigger: %w", err)
	}

	existing, err := e.persistence.Instances().ListByEntity(ctx, event.EntityRef())
	if err != nil {
		return nil, fmt.Errorf("failed to list entity instances: %w", err)
	}

	running := make(map[string]bool)

	for _, instance := range existing {
		if !instance.Terminal() {
			running[instance.DefinitionCode] = true
		}
	}

	var started []*models.WorkflowInstance

	for _, definition := range definitions {
		if running[definition.Code] {
			e.logger.InfoContext(ctx, "skipping trigger, instance already running",
				"definition_code", definition.Code,
				"entity_id", event.EntityID,
			)

			continue
		}

		matched, err := definition.EntryConditions.Evaluate(event.Snapshot)
		if err != nil {
			e.logger.ErrorContext(ctx, "entry condition evaluation failed",
				"definition_code", definition.Code,
				"error", err,
			)

			continue
		}

		if !matched {
			continue
		}

		instance, err := e.StartInstance(ctx, definition, event)
		if err != nil {
			return started, err
		}

		started = append(started, instance)
	}

	return started, nil
}

// StartInstance creates and dispatches a new instance of a published
// definition. The entity snapshot is frozen here; later steps resolve
// assignees and conditions against this copy, never a re-read.
func (e *Engine) StartInstance(
	ctx context.Context,
	definition *models.WorkflowDefinition,
	event models.TriggerEvent,
) (*models.WorkflowInstance, error) {
	now := e.now()

	instance := &models.WorkflowInstance{
		ID:                e.newID(),
		DefinitionID:      definition.ID,
		DefinitionCode:    definition.Code,
		DefinitionVersion: definition.Version,
		Entity:            event.EntityRef(),
		Snapshot:          event.Snapshot,
		Status:            models.InstanceStatusPending,
		TriggeredBy:       event.Actor.ID,
		StartedAt:         now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if definition.SLAHours > 0 {
		due := now.Add(time.Duration(definition.SLAHours) * time.Hour)
		instance.DueAt = &due
	}

	if err := e.persistence.Instances().Save(ctx, instance); err != nil {
		return nil, fmt.Errorf("failed to save instance: %w", err)
	}

	e.audit(ctx, &models.AuditEntry{
		InstanceID: instance.ID,
		ActorID:    event.Actor.ID,
		Action:     models.AuditInstanceStarted,
		After:      marshalState(instance),
	})

	e.publish(ctx, instance.ID, events.InstanceStarted{
		BaseEvent:         e.baseEvent(events.InstanceStartedEvent, instance.ID),
		DefinitionCode:    definition.Code,
		DefinitionVersion: definition.Version,
		Entity:            instance.Entity,
		TriggeredBy:       instance.TriggeredBy,
	})

	first := definition.NextByOrder(0)
	if first == nil {
		return instance, e.failInstance(ctx, instance, "definition has no steps")
	}

	if err := e.dispatchStep(ctx, instance, definition, first); err != nil {
		return nil, err
	}

	return instance, nil
}

// dispatchStep resolves the step's assignees, creates a pending execution
// for each of them, and moves the instance onto the step. Steps whose
// condition does not hold are skipped; an empty assignee set is fatal for
// the instance.
func (e *Engine) dispatchStep(
	ctx context.Context,
	instance *models.WorkflowInstance,
	definition *models.WorkflowDefinition,
	step *models.StepDefinition,
) error {
	ctx, span := e.tracer.Start(ctx, "engine.dispatch_step", trace.WithAttributes(
		attribute.String(otelhelper.InstanceIDKey, instance.ID),
		attribute.Int(otelhelper.StepOrderKey, step.Order),
	))
	defer span.End()

	matched, err := step.Condition.Evaluate(instance.Snapshot)
	if err != nil {
		return e.failInstance(ctx, instance, fmt.Sprintf("step %d condition evaluation failed: %v", step.Order, err))
	}

	if !matched {
		next := definition.NextByOrder(step.Order)
		if next == nil {
			return e.finishInstance(ctx, instance, models.InstanceStatusApproved)
		}

		return e.dispatchStep(ctx, instance, definition, next)
	}

	assignees, err := e.resolver.Resolve(ctx, step.Assignment, instance.Snapshot)
	if err != nil {
		return e.failInstance(ctx, instance, fmt.Sprintf("step %d assignee resolution failed: %v", step.Order, err))
	}

	if assignees.Empty() {
		return e.failInstance(ctx, instance, fmt.Sprintf("step %d has no assignable actor", step.Order))
	}

	now := e.now()
	dispatchID := e.newID()
	due := executionDueAt(now, step)
	created := make([]*models.StepExecution, 0, len(assignees))

	// Every resolved actor gets their own pending execution; the first
	// terminal decision resolves the step and cancels the siblings.
	for _, assignee := range sortedActors(assignees) {
		execution := &models.StepExecution{
			ID:         e.newID(),
			InstanceID: instance.ID,
			StepID:     step.ID,
			StepOrder:  step.Order,
			DispatchID: dispatchID,
			Assignee:   assignee,
			Status:     models.ExecutionStatusPending,
			DueAt:      due,
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		if err := e.persistence.Executions().Save(ctx, execution); err != nil {
			otelhelper.RecordFailure(span, err, instance.ID)

			return fmt.Errorf("failed to save execution: %w", err)
		}

		created = append(created, execution)
	}

	instance.Status = models.InstanceStatusInProgress
	instance.CurrentStepOrder = step.Order
	instance.UpdatedAt = now

	if err := e.persistence.Instances().Save(ctx, instance); err != nil {
		otelhelper.RecordFailure(span, err, instance.ID)

		return fmt.Errorf("failed to save instance: %w", err)
	}

	for _, execution := range created {
		e.audit(ctx, &models.AuditEntry{
			InstanceID:  instance.ID,
			ExecutionID: execution.ID,
			Action:      models.AuditStepDispatched,
			After:       marshalState(execution),
			Detail:      step.Name,
		})

		e.publish(ctx, instance.ID, events.ExecutionCreated{
			BaseEvent:   e.baseEvent(events.ExecutionCreatedEvent, instance.ID),
			ExecutionID: execution.ID,
			StepOrder:   execution.StepOrder,
			Assignee:    execution.Assignee,
			DueAt:       execution.DueAt,
		})

		e.notifyAssignee(ctx, instance, execution, "Approval required: "+step.Name)
	}

	return nil
}

// executionDueAt derives the execution deadline. The escalation window wins
// over the step SLA because the sweep keys off this timestamp.
func executionDueAt(now time.Time, step *models.StepDefinition) *time.Time {
	hours := step.SLAHours
	if step.EscalationHours > 0 {
		hours = step.EscalationHours
	}

	if hours <= 0 {
		return nil
	}

	due := now.Add(time.Duration(hours) * time.Hour)

	return &due
}

func (e *Engine) notifyAssignee(
	ctx context.Context,
	instance *models.WorkflowInstance,
	execution *models.StepExecution,
	subject string,
) {
	e.notifier.Send(ctx, protocol.Notification{
		Recipient:   execution.Assignee,
		InstanceID:  instance.ID,
		ExecutionID: execution.ID,
		Subject:     subject,
	})
}

// OnExecutionResolved advances the instance after an execution reached a
// decision. Pending siblings of the same dispatch lost the race and are
// cancelled here. The call is idempotent: a replay finds the instance
// terminal or a pending execution of a newer dispatch and returns without
// side effects.
func (e *Engine) OnExecutionResolved(ctx context.Context, executionID string) error {
	execution, err := e.persistence.Executions().GetByID(ctx, executionID)
	if err != nil {
		return err
	}

	if execution == nil {
		return services.ErrExecutionNotFound
	}

	if !execution.Terminal() {
		return fmt.Errorf("execution %s is still pending", executionID)
	}

	instance, err := e.persistence.Instances().GetByID(ctx, execution.InstanceID)
	if err != nil {
		return err
	}

	if instance == nil {
		return services.ErrInstanceNotFound
	}

	if instance.Terminal() {
		return nil
	}

	siblings, err := e.persistence.Executions().ListByInstance(ctx, instance.ID)
	if err != nil {
		return err
	}

	for _, sibling := range siblings {
		if !sibling.Terminal() && sibling.DispatchID != execution.DispatchID {
			// A later dispatch is already pending, so this resolution was
			// processed before.
			return nil
		}
	}

	if execution.Status == models.ExecutionStatusApproved || execution.Status == models.ExecutionStatusRejected {
		e.cancelPendingExecutions(ctx, instance, models.Actor{ID: SystemActorID},
			"step resolved by "+execution.ActedBy)
	}

	definition, err := e.persistence.Definitions().GetByID(ctx, instance.DefinitionID)
	if err != nil {
		return err
	}

	if definition == nil {
		return e.failInstance(ctx, instance, "definition vanished: "+instance.DefinitionID)
	}

	step := definition.StepByOrder(execution.StepOrder)
	if step == nil {
		return e.failInstance(ctx, instance, fmt.Sprintf("step order %d not in definition", execution.StepOrder))
	}

	switch execution.Status {
	case models.ExecutionStatusApproved:
		return e.advanceAfterApproval(ctx, instance, definition, step)
	case models.ExecutionStatusRejected:
		return e.advanceAfterRejection(ctx, instance, definition, step)
	default:
		// Delegated, escalated, and cancelled executions are replaced (or
		// ended) by the action that resolved them; nothing to advance.
		return nil
	}
}

func (e *Engine) advanceAfterApproval(
	ctx context.Context,
	instance *models.WorkflowInstance,
	definition *models.WorkflowDefinition,
	step *models.StepDefinition,
) error {
	if step.IsFinal {
		return e.finishInstance(ctx, instance, models.InstanceStatusApproved)
	}

	var next *models.StepDefinition
	if step.OnApprove != nil {
		next = definition.StepByOrder(*step.OnApprove)
		if next == nil {
			return e.failInstance(ctx, instance, fmt.Sprintf("approve target %d not in definition", *step.OnApprove))
		}
	} else {
		next = definition.NextByOrder(step.Order)
	}

	if next == nil {
		return e.finishInstance(ctx, instance, models.InstanceStatusApproved)
	}

	return e.dispatchStep(ctx, instance, definition, next)
}

func (e *Engine) advanceAfterRejection(
	ctx context.Context,
	instance *models.WorkflowInstance,
	definition *models.WorkflowDefinition,
	step *models.StepDefinition,
) error {
	if step.OnReject == nil {
		return e.finishInstance(ctx, instance, models.InstanceStatusRejected)
	}

	target := definition.StepByOrder(*step.OnReject)
	if target == nil {
		return e.failInstance(ctx, instance, fmt.Sprintf("reject target %d not in definition", *step.OnReject))
	}

	// Remediation branch: the instance loops back (or sideways) instead of
	// terminating rejected.
	return e.dispatchStep(ctx, instance, definition, target)
}

// Cancel aborts a running instance. Pending executions are cancelled first
// so the inbox empties before the instance flips terminal.
func (e *Engine) Cancel(ctx context.Context, instanceID string, actor models.Actor, reason string) (*models.WorkflowInstance, error) {
	instance, err := e.persistence.Instances().GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if instance == nil {
		return nil, services.ErrInstanceNotFound
	}

	if instance.Terminal() {
		return nil, services.ErrInstanceNotRunning
	}

	e.cancelPendingExecutions(ctx, instance, actor, reason)

	now := e.now()
	instance.Status = models.InstanceStatusCancelled
	instance.CompletedAt = &now
	instance.UpdatedAt = now

	if err := e.persistence.Instances().Save(ctx, instance); err != nil {
		return nil, fmt.Errorf("failed to save instance: %w", err)
	}

	e.audit(ctx, &models.AuditEntry{
		InstanceID: instance.ID,
		ActorID:    actor.ID,
		Action:     models.AuditInstanceCancelled,
		Detail:     reason,
		After:      marshalState(instance),
	})

	e.publish(ctx, instance.ID, events.InstanceFinished{
		BaseEvent: e.baseEvent(events.InstanceFinishedEvent, instance.ID),
		Status:    instance.Status,
		Entity:    instance.Entity,
	})

	e.registry.NotifyEntity(ctx, instance.Entity, instance.Status)

	return instance, nil
}

func (e *Engine) cancelPendingExecutions(ctx context.Context, instance *models.WorkflowInstance, actor models.Actor, reason string) {
	executions, err := e.persistence.Executions().ListByInstance(ctx, instance.ID)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to list executions for cancellation",
			"instance_id", instance.ID,
			"error", err,
		)

		return
	}

	now := e.now()

	for _, execution := range executions {
		if execution.Terminal() {
			continue
		}

		cancelled, err := e.persistence.Executions().Transition(ctx, execution.ID, models.ExecutionStatusCancelled,
			func(ex *models.StepExecution) {
				ex.ActedBy = actor.ID
				ex.ActedAt = &now
				ex.Reason = reason
			})
		if err != nil {
			e.logger.ErrorContext(ctx, "failed to cancel execution",
				"execution_id", execution.ID,
				"error", err,
			)

			continue
		}

		e.audit(ctx, &models.AuditEntry{
			InstanceID:  instance.ID,
			ExecutionID: cancelled.ID,
			ActorID:     actor.ID,
			Action:      models.AuditExecutionCancelled,
			Detail:      reason,
		})
	}
}

func (e *Engine) finishInstance(ctx context.Context, instance *models.WorkflowInstance, status models.InstanceStatus) error {
	now := e.now()
	instance.Status = status
	instance.CompletedAt = &now
	instance.UpdatedAt = now

	if err := e.persistence.Instances().Save(ctx, instance); err != nil {
		return fmt.Errorf("failed to save instance: %w", err)
	}

	action := models.AuditInstanceApproved
	if status == models.InstanceStatusRejected {
		action = models.AuditInstanceRejected
	}

	e.audit(ctx, &models.AuditEntry{
		InstanceID: instance.ID,
		Action:     action,
		After:      marshalState(instance),
	})

	e.publish(ctx, instance.ID, events.InstanceFinished{
		BaseEvent: e.baseEvent(events.InstanceFinishedEvent, instance.ID),
		Status:    status,
		Entity:    instance.Entity,
	})

	e.registry.NotifyEntity(ctx, instance.Entity, status)

	return nil
}

// failInstance is the fatal path: the instance halts in error status and a
// queue entry is pushed for operators. It returns nil so callers treat the
// halt as handled, not as a propagating failure.
func (e *Engine) failInstance(ctx context.Context, instance *models.WorkflowInstance, reason string) error {
	now := e.now()
	instance.Status = models.InstanceStatusError
	instance.ErrorReason = reason
	instance.CompletedAt = &now
	instance.UpdatedAt = now

	if err := e.persistence.Instances().Save(ctx, instance); err != nil {
		return fmt.Errorf("failed to save errored instance: %w", err)
	}

	e.logger.ErrorContext(ctx, "instance halted",
		"instance_id", instance.ID,
		"reason", reason,
	)

	e.audit(ctx, &models.AuditEntry{
		InstanceID: instance.ID,
		Action:     models.AuditInstanceErrored,
		Detail:     reason,
		After:      marshalState(instance),
	})

	e.publish(ctx, instance.ID, events.InstanceErrored{
		BaseEvent: e.baseEvent(events.InstanceErroredEvent, instance.ID),
		Reason:    reason,
		Entity:    instance.Entity,
	})

	if e.errorQueue != nil {
		entry := &errorqueue.Entry{
			ID:         e.newID(),
			InstanceID: instance.ID,
			EntityType: instance.Entity.Type,
			EntityID:   instance.Entity.ID,
			Reason:     reason,
			OccurredAt: now,
		}

		if err := e.errorQueue.Push(ctx, entry); err != nil {
			e.logger.ErrorContext(ctx, "failed to push error queue entry",
				"instance_id", instance.ID,
				"error", err,
			)
		}
	}

	return nil
}

// Resume re-dispatches an errored instance's current step after an operator
// fixed the underlying cause (for example, staffed the empty role).
func (e *Engine) Resume(ctx context.Context, instanceID string) (*models.WorkflowInstance, error) {
	instance, err := e.persistence.Instances().GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if instance == nil {
		return nil, services.ErrInstanceNotFound
	}

	if instance.Status != models.InstanceStatusError {
		return nil, services.ErrInstanceNotRunning
	}

	definition, err := e.persistence.Definitions().GetByID(ctx, instance.DefinitionID)
	if err != nil {
		return nil, err
	}

	if definition == nil {
		return nil, services.ErrDefinitionNotFound
	}

	step := definition.StepByOrder(instance.CurrentStepOrder)
	if step == nil {
		step = definition.NextByOrder(0)
	}

	if step == nil {
		return nil, services.ErrDefinitionInvalid
	}

	instance.Status = models.InstanceStatusInProgress
	instance.ErrorReason = ""
	instance.CompletedAt = nil
	instance.UpdatedAt = e.now()

	if err := e.dispatchStep(ctx, instance, definition, step); err != nil {
		return nil, err
	}

	return instance, nil
}
