// Package engine implements the approval orchestrator: trigger matching,
// instance lifecycle, step dispatch, actor actions, and the escalation
// sweep.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/construkt/approvalflow/pkg/errorqueue"
	"github.com/construkt/approvalflow/pkg/eventbus"
	"github.com/construkt/approvalflow/pkg/events"
	"github.com/construkt/approvalflow/pkg/models"
	"github.com/construkt/approvalflow/pkg/persistence"
	"github.com/construkt/approvalflow/pkg/protocol"
	"github.com/construkt/approvalflow/pkg/registry"
	"github.com/construkt/approvalflow/pkg/services"
)

// Engine owns every mutation of instances and executions. Web handlers and
// the scheduler never touch repositories directly for writes.
type Engine struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	resolver    *AssigneeResolver
	notifier    protocol.Notifier
	publisher   eventbus.EventPublisher
	errorQueue  errorqueue.Queue
	validator   *validator.Validate
	tracer      trace.Tracer
}

func NewEngine(
	logger *slog.Logger,
	persist persistence.Persistence,
	reg *registry.Registry,
	directory protocol.UserDirectory,
	notifier protocol.Notifier,
	publisher eventbus.EventPublisher,
	errorQueue errorqueue.Queue,
) *Engine {
	return &Engine{
		logger:      logger.With("module", "engine"),
		persistence: persist,
		registry:    reg,
		resolver:    NewAssigneeResolver(directory),
		notifier:    notifier,
		publisher:   publisher,
		errorQueue:  errorQueue,
		validator:   validator.New(),
		tracer:      otel.Tracer("approvalflow/engine"),
	}
}

func (e *Engine) now() time.Time {
	return time.Now().UTC()
}

func (e *Engine) newID() string {
	return uuid.New().String()
}

func (e *Engine) baseEvent(eventType events.EventType, instanceID string) events.BaseEvent {
	return events.BaseEvent{
		ID:         e.newID(),
		Type:       eventType,
		Timestamp:  e.now(),
		InstanceID: instanceID,
	}
}

// publish sends a lifecycle event. Publishing is best-effort: a bus outage
// must not roll back an approval that is already persisted.
func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.ErrorContext(ctx, "failed to publish event",
			"event_type", event.GetType(),
			"key", key,
			"error", err,
		)
	}
}

// audit appends one log entry. Append failures are logged, never propagated:
// the audit log observes state, it does not gate it.
func (e *Engine) audit(ctx context.Context, entry *models.AuditEntry) {
	entry.ID = e.newID()
	entry.CreatedAt = e.now()

	if err := e.persistence.Audit().Append(ctx, entry); err != nil {
		e.logger.ErrorContext(ctx, "failed to append audit entry",
			"instance_id", entry.InstanceID,
			"action", entry.Action,
			"error", err,
		)
	}
}

// Instance returns one workflow instance by ID.
func (e *Engine) Instance(ctx context.Context, instanceID string) (*models.WorkflowInstance, error) {
	instance, err := e.persistence.Instances().GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if instance == nil {
		return nil, services.ErrInstanceNotFound
	}

	return instance, nil
}

// AuditTrail returns the immutable history of one instance, oldest first.
func (e *Engine) AuditTrail(ctx context.Context, instanceID string) ([]*models.AuditEntry, error) {
	return e.persistence.Audit().ListByInstance(ctx, instanceID)
}

func marshalState(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}

	return raw
}
