package services

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/construkt/approvalflow/pkg/models"
	"github.com/construkt/approvalflow/pkg/persistence/file"
)

func intPtr(v int) *int {
	return &v
}

func validDefinition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		Code:         "po-approval",
		Name:         "PO Approval",
		EntityType:   "purchase_order",
		TriggerEvent: "created",
		Steps: []*models.StepDefinition{
			{Order: 1, Name: "Manager review", Assignment: models.RoleAssignment("manager")},
			{Order: 2, Name: "Finance review", Assignment: models.RoleAssignment("finance"), IsFinal: true},
		},
	}
}

func TestDefinition_CreateAndPublish(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	service := NewDefinition(store)

	created, err := service.Create(t.Context(), validDefinition())
	require.NoError(t, err)
	assert.Equal(t, 1, created.Version)
	assert.Equal(t, models.DefinitionStatusDraft, created.Status)
	assert.NotEmpty(t, created.Steps[0].ID)

	published, err := service.Publish(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DefinitionStatusPublished, published.Status)
	require.NotNil(t, published.PublishedAt)

	// Published definitions are immutable.
	_, err = service.Update(t.Context(), published.ID, validDefinition())
	require.ErrorIs(t, err, ErrCannotModifyPublished)

	_, err = service.Publish(t.Context(), published.ID)
	require.ErrorIs(t, err, ErrCannotModifyPublished)
}

func TestDefinition_PublishSupersedesPriorVersion(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	service := NewDefinition(store)

	v1, err := service.Create(t.Context(), validDefinition())
	require.NoError(t, err)
	_, err = service.Publish(t.Context(), v1.ID)
	require.NoError(t, err)

	draft, err := service.NewVersion(t.Context(), "po-approval")
	require.NoError(t, err)
	assert.Equal(t, 2, draft.Version)
	assert.Equal(t, models.DefinitionStatusDraft, draft.Status)

	// v1 stays published until the draft replaces it.
	active, err := service.FetchPublished(t.Context(), "po-approval")
	require.NoError(t, err)
	assert.Equal(t, 1, active.Version)

	_, err = service.Publish(t.Context(), draft.ID)
	require.NoError(t, err)

	active, err = service.FetchPublished(t.Context(), "po-approval")
	require.NoError(t, err)
	assert.Equal(t, 2, active.Version)

	// The superseded version is inactive, not deleted.
	v1Loaded, err := service.FetchByID(t.Context(), v1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DefinitionStatusInactive, v1Loaded.Status)
}

func TestValidateDefinition_CollectsAllViolations(t *testing.T) {
	definition := &models.WorkflowDefinition{
		Code: "broken",
		Steps: []*models.StepDefinition{
			{Order: 1, Name: "a", Assignment: models.AssignmentRule{Type: models.AssignmentRole}},
			{Order: 1, Name: "dup", Assignment: models.RoleAssignment("x"), OnApprove: intPtr(9)},
			{Order: 4, Name: "gap", Assignment: models.RoleAssignment("y")},
		},
	}

	err := ValidateDefinition(definition)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrDefinitionInvalid)

	var invalid *DefinitionInvalidError
	require.True(t, errors.As(err, &invalid))

	joined := invalid.Error()
	assert.Contains(t, joined, "duplicate step order 1")
	assert.Contains(t, joined, "role assignment requires role_id")
	assert.Contains(t, joined, "approve target 9 does not exist")
	assert.Contains(t, joined, "not contiguous")
	assert.Contains(t, joined, "no final step")
}

func TestValidateDefinition_DetectsCycle(t *testing.T) {
	definition := &models.WorkflowDefinition{
		Code: "cyclic",
		Steps: []*models.StepDefinition{
			{Order: 1, Name: "a", Assignment: models.RoleAssignment("x"), OnApprove: intPtr(2)},
			{Order: 2, Name: "b", Assignment: models.RoleAssignment("y"), OnApprove: intPtr(1)},
			{Order: 3, Name: "end", Assignment: models.RoleAssignment("z"), IsFinal: true},
		},
	}

	err := ValidateDefinition(definition)
	require.Error(t, err)

	var invalid *DefinitionInvalidError
	require.True(t, errors.As(err, &invalid))
	assert.Contains(t, invalid.Error(), "cycle detected")
}

func TestValidateDefinition_DetectsCycleUnreachableFromStepOne(t *testing.T) {
	// Steps 3 and 4 loop on each other but are never reached from step 1;
	// the walk must still flag them.
	definition := &models.WorkflowDefinition{
		Code: "island",
		Steps: []*models.StepDefinition{
			{Order: 1, Name: "review", Assignment: models.RoleAssignment("x"), OnApprove: intPtr(2)},
			{Order: 2, Name: "final", Assignment: models.RoleAssignment("y"), IsFinal: true},
			{Order: 3, Name: "a", Assignment: models.RoleAssignment("z"), OnApprove: intPtr(4)},
			{Order: 4, Name: "b", Assignment: models.RoleAssignment("z"), OnApprove: intPtr(3)},
		},
	}

	err := ValidateDefinition(definition)
	require.Error(t, err)

	var invalid *DefinitionInvalidError
	require.True(t, errors.As(err, &invalid))
	assert.Contains(t, invalid.Error(), "cycle detected")
}

func TestValidateDefinition_RejectBranchToRemediationIsNotACycle(t *testing.T) {
	// step1 reject -> step2 (remediation) -> approve back into step3 final.
	definition := &models.WorkflowDefinition{
		Code: "remediation",
		Steps: []*models.StepDefinition{
			{Order: 1, Name: "review", Assignment: models.RoleAssignment("manager"), OnApprove: intPtr(3), OnReject: intPtr(2)},
			{Order: 2, Name: "rework", Assignment: models.RelationAssignment(models.RelationCreator), OnApprove: intPtr(3)},
			{Order: 3, Name: "final", Assignment: models.RoleAssignment("finance"), IsFinal: true},
		},
	}

	require.NoError(t, ValidateDefinition(definition))
}

func TestValidateDefinition_InvalidFormSchema(t *testing.T) {
	definition := validDefinition()
	definition.Steps[0].FormSchema = json.RawMessage(`{"type": 12}`)

	err := ValidateDefinition(definition)
	require.Error(t, err)

	var invalid *DefinitionInvalidError
	require.True(t, errors.As(err, &invalid))
	assert.Contains(t, invalid.Error(), "invalid form schema")
}

func TestDefinition_List(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	service := NewDefinition(store)

	_, err := service.Create(t.Context(), validDefinition())
	require.NoError(t, err)

	other := validDefinition()
	other.Code = "contract-approval"
	other.EntityType = "contract"
	_, err = service.Create(t.Context(), other)
	require.NoError(t, err)

	result, err := service.List(t.Context(), ListDefinitionsRequest{EntityType: "contract"})
	require.NoError(t, err)
	require.Len(t, result.Definitions, 1)
	assert.Equal(t, "contract-approval", result.Definitions[0].Code)

	_, err = service.List(t.Context(), ListDefinitionsRequest{SortBy: "owner"})
	require.ErrorIs(t, err, ErrInvalidSortField)

	_, err = service.List(t.Context(), ListDefinitionsRequest{SortOrder: "sideways"})
	require.ErrorIs(t, err, ErrInvalidSortOrder)
}
