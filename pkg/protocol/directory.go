// Package protocol defines the contracts between the approval engine and its
// host application.
package protocol

import (
	"context"

	"github.com/construkt/approvalflow/pkg/models"
)

// UserDirectory resolves assignment rules to concrete actors. The host
// application supplies the implementation; the engine only consumes it.
//
// Resolution never fails with a domain error: an unknown role, team, user, or
// relation yields an empty set, and the orchestrator turns empty sets into
// the fatal no-assignable-actor path.
type UserDirectory interface {
	// ActorsByRole returns all active users holding a role.
	ActorsByRole(ctx context.Context, roleID string) (models.ActorSet, error)

	// ActorsByTeam returns all active members of a team.
	ActorsByTeam(ctx context.Context, teamID string) (models.ActorSet, error)

	// ActorByID returns the user when active, or an empty set.
	ActorByID(ctx context.Context, userID string) (models.ActorSet, error)

	// ResolveRelation resolves a dynamic relationship (direct manager,
	// department head, branch manager, creator) against the entity snapshot.
	ResolveRelation(ctx context.Context, kind models.RelationKind, snapshot models.EntitySnapshot) (models.ActorSet, error)

	// ManagerOf returns an actor's direct manager, used as the escalation
	// fallback when a step has no configured escalation target.
	ManagerOf(ctx context.Context, actorID string) (models.ActorSet, error)
}
