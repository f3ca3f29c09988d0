package models

import "fmt"

// AssignmentType is the closed set of assignee resolution strategies. Free
// string dispatch is deliberately avoided; everything outside this set is a
// validation error at definition time.
type AssignmentType string

const (
	AssignmentRole     AssignmentType = "role"
	AssignmentTeam     AssignmentType = "team"
	AssignmentUser     AssignmentType = "user"
	AssignmentRelation AssignmentType = "relation"
)

// RelationKind names a dynamic relationship resolved against the entity
// snapshot through the host application's user directory.
type RelationKind string

const (
	RelationDirectManager  RelationKind = "direct_manager"
	RelationDepartmentHead RelationKind = "department_head"
	RelationBranchManager  RelationKind = "branch_manager"
	RelationCreator        RelationKind = "creator"
)

// AssignmentRule describes who must act on a step. Exactly one of the target
// fields is meaningful, selected by Type.
type AssignmentRule struct {
	Type     AssignmentType `json:"type"               validate:"required,oneof=role team user relation"`
	RoleID   string         `json:"role_id,omitempty"`
	TeamID   string         `json:"team_id,omitempty"`
	UserID   string         `json:"user_id,omitempty"`
	Relation RelationKind   `json:"relation,omitempty"`
}

func RoleAssignment(roleID string) AssignmentRule {
	return AssignmentRule{Type: AssignmentRole, RoleID: roleID}
}

func TeamAssignment(teamID string) AssignmentRule {
	return AssignmentRule{Type: AssignmentTeam, TeamID: teamID}
}

func UserAssignment(userID string) AssignmentRule {
	return AssignmentRule{Type: AssignmentUser, UserID: userID}
}

func RelationAssignment(kind RelationKind) AssignmentRule {
	return AssignmentRule{Type: AssignmentRelation, Relation: kind}
}

// Validate checks that the rule's target matches its type.
func (r AssignmentRule) Validate() error {
	switch r.Type {
	case AssignmentRole:
		if r.RoleID == "" {
			return fmt.Errorf("role assignment requires role_id")
		}
	case AssignmentTeam:
		if r.TeamID == "" {
			return fmt.Errorf("team assignment requires team_id")
		}
	case AssignmentUser:
		if r.UserID == "" {
			return fmt.Errorf("user assignment requires user_id")
		}
	case AssignmentRelation:
		switch r.Relation {
		case RelationDirectManager, RelationDepartmentHead, RelationBranchManager, RelationCreator:
		default:
			return fmt.Errorf("unknown relation kind: %q", r.Relation)
		}
	default:
		return fmt.Errorf("unknown assignment type: %q", r.Type)
	}

	return nil
}
