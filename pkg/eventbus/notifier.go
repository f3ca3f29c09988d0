package eventbus

import (
	"context"
	"log/slog"
	"time"

	"github.com/construkt/approvalflow/pkg/events"
	"github.com/construkt/approvalflow/pkg/protocol"
)

// BusNotifier implements protocol.Notifier by publishing notification
// requests onto the event bus. A host subscriber renders and delivers them.
type BusNotifier struct {
	logger *slog.Logger
	bus    EventBus
}

func NewBusNotifier(logger *slog.Logger, bus EventBus) *BusNotifier {
	return &BusNotifier{
		logger: logger.With("module", "bus_notifier"),
		bus:    bus,
	}
}

func (n *BusNotifier) Send(ctx context.Context, notification protocol.Notification) {
	event := events.NotificationRequested{
		BaseEvent: events.BaseEvent{
			ID:         n.bus.GenerateID(),
			Type:       events.NotificationRequestedEvent,
			Timestamp:  time.Now().UTC(),
			InstanceID: notification.InstanceID,
		},
		Notification: notification,
	}

	if err := n.bus.Publish(ctx, notification.InstanceID, event); err != nil {
		n.logger.ErrorContext(ctx, "failed to publish notification request",
			"instance_id", notification.InstanceID,
			"recipient", notification.Recipient.ID,
			"error", err,
		)
	}
}
