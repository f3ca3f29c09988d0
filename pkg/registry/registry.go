// Package registry maps entity type tags to host-supplied collaborators.
package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/construkt/approvalflow/pkg/models"
	"github.com/construkt/approvalflow/pkg/protocol"
)

// Registry holds the snapshot loaders and terminal-state callbacks the host
// application registers per entity type tag. Entity references stay explicit
// (type tag + id); there is no reflective model lookup.
type Registry struct {
	logger    *slog.Logger
	loaders   map[string]protocol.SnapshotLoader
	callbacks map[string]protocol.EntityCallback
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger,
		loaders:   make(map[string]protocol.SnapshotLoader),
		callbacks: make(map[string]protocol.EntityCallback),
	}
}

// RegisterLoader registers the snapshot loader for an entity type tag.
func (r *Registry) RegisterLoader(entityType string, loader protocol.SnapshotLoader) {
	r.loaders[entityType] = loader
}

// RegisterCallback registers the terminal-state callback for an entity type
// tag. Entity types without a callback are valid; the outcome is simply not
// pushed back.
func (r *Registry) RegisterCallback(entityType string, callback protocol.EntityCallback) {
	r.callbacks[entityType] = callback
}

// LoadSnapshot loads a fresh snapshot for the referenced entity.
func (r *Registry) LoadSnapshot(ctx context.Context, ref models.EntityRef) (models.EntitySnapshot, error) {
	loader, ok := r.loaders[ref.Type]
	if !ok {
		return nil, fmt.Errorf("entity type %q not registered", ref.Type)
	}

	return loader(ctx, ref)
}

// NotifyEntity invokes the terminal-state callback for the referenced
// entity, if one is registered. Callback failures are logged and swallowed.
func (r *Registry) NotifyEntity(ctx context.Context, ref models.EntityRef, status models.InstanceStatus) {
	callback, ok := r.callbacks[ref.Type]
	if !ok {
		return
	}

	if err := callback(ctx, ref, status); err != nil {
		r.logger.ErrorContext(ctx, "entity callback failed",
			"entity_type", ref.Type,
			"entity_id", ref.ID,
			"status", status,
			"error", err,
		)
	}
}
