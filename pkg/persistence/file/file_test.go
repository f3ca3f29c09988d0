package file

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/construkt/approvalflow/pkg/models"
	"github.com/construkt/approvalflow/pkg/persistence"
)

func newExecution(id, instanceID string, status models.ExecutionStatus) *models.StepExecution {
	now := time.Now().UTC()

	return &models.StepExecution{
		ID:         id,
		InstanceID: instanceID,
		StepOrder:  1,
		Assignee:   models.Actor{ID: "user-1", Name: "Amira"},
		Status:     status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestDefinitionRepository_SaveAndGet(t *testing.T) {
	store := NewPersistence(t.TempDir())

	definition := &models.WorkflowDefinition{
		ID:           "def-1",
		Code:         "po-approval",
		Version:      1,
		Name:         "PO Approval",
		EntityType:   "purchase_order",
		TriggerEvent: "created",
		Status:       models.DefinitionStatusPublished,
		Steps: []*models.StepDefinition{
			{ID: "step-1", Order: 1, Name: "Manager", Assignment: models.RoleAssignment("manager"), IsFinal: true},
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	require.NoError(t, store.Definitions().Save(t.Context(), definition))

	loaded, err := store.Definitions().GetByID(t.Context(), "def-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "po-approval", loaded.Code)
	require.Len(t, loaded.Steps, 1)
	assert.Equal(t, models.AssignmentRole, loaded.Steps[0].Assignment.Type)

	missing, err := store.Definitions().GetByID(t.Context(), "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDefinitionRepository_GetPublishedByCode(t *testing.T) {
	store := NewPersistence(t.TempDir())

	inactive := &models.WorkflowDefinition{
		ID: "def-1", Code: "po-approval", Version: 1, Status: models.DefinitionStatusInactive,
	}
	published := &models.WorkflowDefinition{
		ID: "def-2", Code: "po-approval", Version: 2, Status: models.DefinitionStatusPublished,
	}

	require.NoError(t, store.Definitions().Save(t.Context(), inactive))
	require.NoError(t, store.Definitions().Save(t.Context(), published))

	loaded, err := store.Definitions().GetPublishedByCode(t.Context(), "po-approval")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 2, loaded.Version)

	versions, err := store.Definitions().ListVersions(t.Context(), "po-approval")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Version, "newest first")
}

func TestDefinitionRepository_ListByTrigger(t *testing.T) {
	store := NewPersistence(t.TempDir())

	matching := &models.WorkflowDefinition{
		ID: "def-1", Code: "po-approval", EntityType: "purchase_order",
		TriggerEvent: "created", Status: models.DefinitionStatusPublished,
	}
	wrongEvent := &models.WorkflowDefinition{
		ID: "def-2", Code: "po-amended", EntityType: "purchase_order",
		TriggerEvent: "amended", Status: models.DefinitionStatusPublished,
	}
	draft := &models.WorkflowDefinition{
		ID: "def-3", Code: "po-draft", EntityType: "purchase_order",
		TriggerEvent: "created", Status: models.DefinitionStatusDraft,
	}

	for _, d := range []*models.WorkflowDefinition{matching, wrongEvent, draft} {
		require.NoError(t, store.Definitions().Save(t.Context(), d))
	}

	matched, err := store.Definitions().ListByTrigger(t.Context(), "purchase_order", "created")
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "def-1", matched[0].ID)
}

func TestExecutionRepository_Transition(t *testing.T) {
	store := NewPersistence(t.TempDir())

	require.NoError(t, store.Executions().Save(t.Context(), newExecution("exec-1", "inst-1", models.ExecutionStatusPending)))

	updated, err := store.Executions().Transition(
		t.Context(), "exec-1", models.ExecutionStatusApproved,
		func(e *models.StepExecution) {
			e.ActedBy = "user-1"
			e.Comment = "looks good"
		},
	)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusApproved, updated.Status)
	assert.Equal(t, "looks good", updated.Comment)

	// Second transition must lose the pending race.
	_, err = store.Executions().Transition(t.Context(), "exec-1", models.ExecutionStatusEscalated, nil)
	require.Error(t, err)
	assert.True(t, persistence.IsNotPending(err))
}

func TestExecutionRepository_TransitionConcurrent(t *testing.T) {
	store := NewPersistence(t.TempDir())

	require.NoError(t, store.Executions().Save(t.Context(), newExecution("exec-1", "inst-1", models.ExecutionStatusPending)))

	var wg sync.WaitGroup

	wins := make(chan models.ExecutionStatus, 2)

	for _, status := range []models.ExecutionStatus{models.ExecutionStatusApproved, models.ExecutionStatusEscalated} {
		wg.Add(1)

		go func(to models.ExecutionStatus) {
			defer wg.Done()

			if _, err := store.Executions().Transition(t.Context(), "exec-1", to, nil); err == nil {
				wins <- to
			}
		}(status)
	}

	wg.Wait()
	close(wins)

	assert.Len(t, wins, 1, "exactly one racer may win the pending status")
}

func TestExecutionRepository_ListOverduePending(t *testing.T) {
	store := NewPersistence(t.TempDir())
	now := time.Now().UTC()

	overdue := newExecution("exec-1", "inst-1", models.ExecutionStatusPending)
	past := now.Add(-2 * time.Hour)
	overdue.DueAt = &past

	fresh := newExecution("exec-2", "inst-1", models.ExecutionStatusPending)
	future := now.Add(2 * time.Hour)
	fresh.DueAt = &future

	acted := newExecution("exec-3", "inst-1", models.ExecutionStatusApproved)
	acted.DueAt = &past

	for _, e := range []*models.StepExecution{overdue, fresh, acted} {
		require.NoError(t, store.Executions().Save(t.Context(), e))
	}

	result, err := store.Executions().ListOverduePending(t.Context(), now)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "exec-1", result[0].ID)
}

func TestExecutionRepository_Inbox(t *testing.T) {
	store := NewPersistence(t.TempDir())

	mine := newExecution("exec-1", "inst-1", models.ExecutionStatusPending)
	theirs := newExecution("exec-2", "inst-1", models.ExecutionStatusPending)
	theirs.Assignee = models.Actor{ID: "user-2"}
	acted := newExecution("exec-3", "inst-2", models.ExecutionStatusApproved)

	for _, e := range []*models.StepExecution{mine, theirs, acted} {
		require.NoError(t, store.Executions().Save(t.Context(), e))
	}

	inbox, err := store.Executions().ListPendingByAssignee(t.Context(), "user-1")
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "exec-1", inbox[0].ID)
}

func TestAuditRepository_AppendAndList(t *testing.T) {
	store := NewPersistence(t.TempDir())

	first := &models.AuditEntry{
		ID: "audit-1", InstanceID: "inst-1", Action: models.AuditInstanceStarted,
		CreatedAt: time.Now().UTC().Add(-time.Minute),
	}
	second := &models.AuditEntry{
		ID: "audit-2", InstanceID: "inst-1", Action: models.AuditExecutionApproved,
		ActorID: "user-1", CreatedAt: time.Now().UTC(),
	}
	other := &models.AuditEntry{
		ID: "audit-3", InstanceID: "inst-2", Action: models.AuditInstanceStarted,
		CreatedAt: time.Now().UTC(),
	}

	for _, e := range []*models.AuditEntry{second, first, other} {
		require.NoError(t, store.Audit().Append(t.Context(), e))
	}

	entries, err := store.Audit().ListByInstance(t.Context(), "inst-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.AuditInstanceStarted, entries[0].Action, "chronological order")
}

func TestInstanceRepository_ListByEntity(t *testing.T) {
	store := NewPersistence(t.TempDir())

	instance := &models.WorkflowInstance{
		ID:     "inst-1",
		Entity: models.EntityRef{Type: "purchase_order", ID: "po-100"},
		Status: models.InstanceStatusInProgress,
	}
	other := &models.WorkflowInstance{
		ID:     "inst-2",
		Entity: models.EntityRef{Type: "purchase_order", ID: "po-200"},
		Status: models.InstanceStatusApproved,
	}

	require.NoError(t, store.Instances().Save(t.Context(), instance))
	require.NoError(t, store.Instances().Save(t.Context(), other))

	found, err := store.Instances().ListByEntity(t.Context(), models.EntityRef{Type: "purchase_order", ID: "po-100"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "inst-1", found[0].ID)

	inProgress, err := store.Instances().ListByStatus(t.Context(), models.InstanceStatusInProgress)
	require.NoError(t, err)
	require.Len(t, inProgress, 1)
}
