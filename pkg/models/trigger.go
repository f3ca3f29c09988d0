package models

// TriggerEvent is emitted by host domain models on create, update,
// status-change, and similar events. The engine matches it against active
// definitions by entity type and event name, then evaluates entry conditions
// against the snapshot.
type TriggerEvent struct {
	EntityType string         `json:"entity_type" validate:"required"`
	EntityID   string         `json:"entity_id"   validate:"required"`
	EventName  string         `json:"event_name"  validate:"required"`
	Snapshot   EntitySnapshot `json:"snapshot"`
	Actor      Actor          `json:"actor"       validate:"required"`
}

func (t TriggerEvent) EntityRef() EntityRef {
	return EntityRef{Type: t.EntityType, ID: t.EntityID}
}
