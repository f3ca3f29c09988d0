// Package errorqueue stores instances that halted with an error so that
// administrators can inspect and requeue them.
package errorqueue

import (
	"context"
	"time"
)

type Entry struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instance_id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Queue interface {
	Push(ctx context.Context, entry *Entry) error
	List(ctx context.Context) ([]*Entry, error)
	Remove(ctx context.Context, id string) error
	Close() error
}
