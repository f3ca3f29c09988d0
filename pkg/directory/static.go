// Package directory provides a file-backed user directory for deployments
// that provision approvers through configuration instead of implementing the
// directory contract in the host application.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/construkt/approvalflow/pkg/models"
)

// User is one provisioned approver.
type User struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Active      bool     `json:"active"`
	RoleIDs     []string `json:"role_ids,omitempty"`
	TeamIDs     []string `json:"team_ids,omitempty"`
	ManagerID   string   `json:"manager_id,omitempty"`
	HeadOfDepts []string `json:"head_of_departments,omitempty"`
	ManagesBrs  []string `json:"manages_branches,omitempty"`
}

// Config is the on-disk shape of the directory file.
type Config struct {
	Users []User `json:"users"`
}

// Static resolves assignments from a fixed user list. It satisfies the
// engine's directory contract without any external identity system.
type Static struct {
	users map[string]User
}

func NewStatic(config Config) *Static {
	users := make(map[string]User, len(config.Users))
	for _, user := range config.Users {
		users[user.ID] = user
	}

	return &Static{users: users}
}

// LoadStatic reads a directory config file.
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse directory file: %w", err)
	}

	return NewStatic(config), nil
}

func (s *Static) actor(user User) models.Actor {
	return models.Actor{ID: user.ID, Name: user.Name}
}

func (s *Static) ActorsByRole(_ context.Context, roleID string) (models.ActorSet, error) {
	set := models.NewActorSet()

	for _, user := range s.users {
		if !user.Active {
			continue
		}

		for _, role := range user.RoleIDs {
			if role == roleID {
				set.Add(s.actor(user))

				break
			}
		}
	}

	return set, nil
}

func (s *Static) ActorsByTeam(_ context.Context, teamID string) (models.ActorSet, error) {
	set := models.NewActorSet()

	for _, user := range s.users {
		if !user.Active {
			continue
		}

		for _, team := range user.TeamIDs {
			if team == teamID {
				set.Add(s.actor(user))

				break
			}
		}
	}

	return set, nil
}

func (s *Static) ActorByID(_ context.Context, userID string) (models.ActorSet, error) {
	set := models.NewActorSet()

	if user, ok := s.users[userID]; ok && user.Active {
		set.Add(s.actor(user))
	}

	return set, nil
}

func (s *Static) ResolveRelation(
	ctx context.Context,
	kind models.RelationKind,
	snapshot models.EntitySnapshot,
) (models.ActorSet, error) {
	switch kind {
	case models.RelationCreator:
		return s.ActorByID(ctx, snapshot.String(models.SnapshotFieldCreator))
	case models.RelationDirectManager:
		creator, ok := s.users[snapshot.String(models.SnapshotFieldCreator)]
		if !ok {
			return models.NewActorSet(), nil
		}

		return s.ManagerOf(ctx, creator.ID)
	case models.RelationDepartmentHead:
		return s.findBy(snapshot.String(models.SnapshotFieldDepartmentID), func(u User) []string { return u.HeadOfDepts }), nil
	case models.RelationBranchManager:
		return s.findBy(snapshot.String(models.SnapshotFieldBranchID), func(u User) []string { return u.ManagesBrs }), nil
	default:
		return nil, fmt.Errorf("unknown relation kind: %q", kind)
	}
}

func (s *Static) ManagerOf(_ context.Context, actorID string) (models.ActorSet, error) {
	set := models.NewActorSet()

	user, ok := s.users[actorID]
	if !ok || user.ManagerID == "" {
		return set, nil
	}

	if manager, ok := s.users[user.ManagerID]; ok && manager.Active {
		set.Add(s.actor(manager))
	}

	return set, nil
}

func (s *Static) findBy(id string, scopes func(User) []string) models.ActorSet {
	set := models.NewActorSet()

	if id == "" {
		return set
	}

	for _, user := range s.users {
		if !user.Active {
			continue
		}

		for _, scope := range scopes(user) {
			if scope == id {
				set.Add(s.actor(user))

				break
			}
		}
	}

	return set
}
