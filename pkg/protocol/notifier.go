package protocol

import (
	"context"

	"github.com/construkt/approvalflow/pkg/models"
)

// Notification is the payload handed to the host's notification channel.
// Rendering and delivery (email, SMS, push) are entirely outside the engine.
type Notification struct {
	Recipient   models.Actor `json:"recipient"`
	InstanceID  string       `json:"instance_id"`
	ExecutionID string       `json:"execution_id,omitempty"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body,omitempty"`
}

// Notifier delivers notifications fire-and-forget. The engine never blocks
// on delivery and ignores delivery failures; implementations own retries.
type Notifier interface {
	Send(ctx context.Context, notification Notification)
}

// NoopNotifier discards notifications. Used in tests and when the host wires
// delivery through the event bus instead.
type NoopNotifier struct{}

func (NoopNotifier) Send(_ context.Context, _ Notification) {}
