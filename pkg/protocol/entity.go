package protocol

import (
	"context"

	"github.com/construkt/approvalflow/pkg/models"
)

// SnapshotLoader loads a fresh snapshot of a business entity by reference.
// The host application registers one loader per entity type tag.
type SnapshotLoader func(ctx context.Context, ref models.EntityRef) (models.EntitySnapshot, error)

// EntityCallback is invoked by the orchestrator when an instance reaches a
// terminal status, so the host domain model can reflect the outcome in its
// own status field. Errors are logged, not propagated; the instance outcome
// stands regardless.
type EntityCallback func(ctx context.Context, ref models.EntityRef, status models.InstanceStatus) error
