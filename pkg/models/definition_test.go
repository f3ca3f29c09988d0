package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepByOrder(t *testing.T) {
	definition := &WorkflowDefinition{
		Steps: []*StepDefinition{
			{Order: 1, Name: "Manager review"},
			{Order: 2, Name: "Finance review", IsFinal: true},
		},
	}

	step := definition.StepByOrder(2)
	require.NotNil(t, step)
	assert.Equal(t, "Finance review", step.Name)

	assert.Nil(t, definition.StepByOrder(5))
}

func TestNextByOrder(t *testing.T) {
	definition := &WorkflowDefinition{
		Steps: []*StepDefinition{
			{Order: 3, IsFinal: true},
			{Order: 1},
			{Order: 2},
		},
	}

	next := definition.NextByOrder(1)
	require.NotNil(t, next)
	assert.Equal(t, 2, next.Order)

	assert.Nil(t, definition.NextByOrder(3))
}

func TestAssignmentRuleValidate(t *testing.T) {
	tests := []struct {
		name    string
		rule    AssignmentRule
		wantErr bool
	}{
		{"role", RoleAssignment("role-manager"), false},
		{"role missing id", AssignmentRule{Type: AssignmentRole}, true},
		{"team", TeamAssignment("team-finance"), false},
		{"user", UserAssignment("user-1"), false},
		{"relation", RelationAssignment(RelationDirectManager), false},
		{"relation unknown kind", AssignmentRule{Type: AssignmentRelation, Relation: "cousin"}, true},
		{"unknown type", AssignmentRule{Type: "group"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestInstanceTerminal(t *testing.T) {
	instance := &WorkflowInstance{Status: InstanceStatusInProgress}
	assert.False(t, instance.Terminal())

	for _, status := range []InstanceStatus{
		InstanceStatusApproved, InstanceStatusRejected, InstanceStatusCancelled, InstanceStatusError,
	} {
		instance.Status = status
		assert.True(t, instance.Terminal(), string(status))
	}
}

func TestExecutionOverdue(t *testing.T) {
	now := time.Now().UTC()

	execution := &StepExecution{Status: ExecutionStatusPending}
	assert.False(t, execution.Overdue(now), "no due time means never overdue")

	due := now.Add(-time.Hour)
	execution.DueAt = &due
	assert.True(t, execution.Overdue(now))

	due = now.Add(time.Hour)
	assert.False(t, execution.Overdue(now))
}

func TestActorSet(t *testing.T) {
	set := NewActorSet(Actor{ID: "u1", Name: "Amira"}, Actor{ID: "u2", Name: "Bilal"})

	assert.True(t, set.Contains("u1"))
	assert.False(t, set.Contains("u3"))
	assert.False(t, set.Empty())
	assert.Len(t, set.List(), 2)

	set.Add(Actor{ID: "u1", Name: "Amira"})
	assert.Len(t, set.List(), 2, "adding an existing member is a no-op")
}
