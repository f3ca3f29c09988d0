package engine

import (
	"context"
	"sort"

	"github.com/construkt/approvalflow/pkg/models"
	"github.com/construkt/approvalflow/pkg/protocol"
)

// AssigneeResolver turns an assignment rule into the set of actors allowed
// to act on a step. Resolution is a pure lookup against the host's user
// directory and never fails on the rule itself: an unknown or unmatched rule
// yields an empty set, and the orchestrator owns the no-assignable-actor
// path.
type AssigneeResolver struct {
	directory protocol.UserDirectory
}

func NewAssigneeResolver(directory protocol.UserDirectory) *AssigneeResolver {
	return &AssigneeResolver{directory: directory}
}

func (r *AssigneeResolver) Resolve(
	ctx context.Context,
	rule models.AssignmentRule,
	snapshot models.EntitySnapshot,
) (models.ActorSet, error) {
	switch rule.Type {
	case models.AssignmentRole:
		return r.directory.ActorsByRole(ctx, rule.RoleID)
	case models.AssignmentTeam:
		return r.directory.ActorsByTeam(ctx, rule.TeamID)
	case models.AssignmentUser:
		return r.directory.ActorByID(ctx, rule.UserID)
	case models.AssignmentRelation:
		return r.directory.ResolveRelation(ctx, rule.Relation, snapshot)
	default:
		return models.NewActorSet(), nil
	}
}

// sortedActors lists a set in ascending actor-ID order so dispatch and
// retries produce the same execution order.
func sortedActors(set models.ActorSet) []models.Actor {
	actors := set.List()
	sort.Slice(actors, func(i, j int) bool { return actors[i].ID < actors[j].ID })

	return actors
}

// Primary picks a single actor out of a resolved set, deterministically
// (lowest actor ID). Handoff targets resolve through this: delegation and
// escalation move a task to one person, not a group.
func Primary(set models.ActorSet) models.Actor {
	return sortedActors(set)[0]
}
