package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/construkt/approvalflow/pkg/errorqueue"
	"github.com/construkt/approvalflow/pkg/eventbus"
	"github.com/construkt/approvalflow/pkg/log"
	"github.com/construkt/approvalflow/pkg/models"
	"github.com/construkt/approvalflow/pkg/persistence"
	"github.com/construkt/approvalflow/pkg/persistence/file"
	"github.com/construkt/approvalflow/pkg/protocol"
	"github.com/construkt/approvalflow/pkg/registry"
	"github.com/construkt/approvalflow/pkg/services"
)

type fakeDirectory struct {
	roles     map[string][]models.Actor
	teams     map[string][]models.Actor
	users     map[string]models.Actor
	managers  map[string]models.Actor
	relations map[models.RelationKind]models.Actor
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		roles:     make(map[string][]models.Actor),
		teams:     make(map[string][]models.Actor),
		users:     make(map[string]models.Actor),
		managers:  make(map[string]models.Actor),
		relations: make(map[models.RelationKind]models.Actor),
	}
}

func (d *fakeDirectory) addUser(actor models.Actor, roles ...string) {
	d.users[actor.ID] = actor
	for _, role := range roles {
		d.roles[role] = append(d.roles[role], actor)
	}
}

func (d *fakeDirectory) ActorsByRole(_ context.Context, roleID string) (models.ActorSet, error) {
	return models.NewActorSet(d.roles[roleID]...), nil
}

func (d *fakeDirectory) ActorsByTeam(_ context.Context, teamID string) (models.ActorSet, error) {
	return models.NewActorSet(d.teams[teamID]...), nil
}

func (d *fakeDirectory) ActorByID(_ context.Context, userID string) (models.ActorSet, error) {
	if actor, ok := d.users[userID]; ok {
		return models.NewActorSet(actor), nil
	}

	return models.NewActorSet(), nil
}

func (d *fakeDirectory) ResolveRelation(_ context.Context, kind models.RelationKind, _ models.EntitySnapshot) (models.ActorSet, error) {
	if actor, ok := d.relations[kind]; ok {
		return models.NewActorSet(actor), nil
	}

	return models.NewActorSet(), nil
}

func (d *fakeDirectory) ManagerOf(_ context.Context, actorID string) (models.ActorSet, error) {
	if manager, ok := d.managers[actorID]; ok {
		return models.NewActorSet(manager), nil
	}

	return models.NewActorSet(), nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *capturePublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

type testEnv struct {
	engine    *Engine
	persist   persistence.Persistence
	directory *fakeDirectory
	queue     *errorqueue.MemoryQueue
	published *capturePublisher
	registry  *registry.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := log.WithModule("test")
	persist := file.NewPersistence(t.TempDir())
	directory := newFakeDirectory()
	queue := errorqueue.NewMemoryQueue()
	published := &capturePublisher{}
	reg := registry.NewRegistry(logger)

	eng := NewEngine(logger, persist, reg, directory, protocol.NoopNotifier{}, published, queue)

	return &testEnv{
		engine:    eng,
		persist:   persist,
		directory: directory,
		queue:     queue,
		published: published,
		registry:  reg,
	}
}

func intPtr(i int) *int {
	return &i
}

var (
	supervisor = models.Actor{ID: "u-supervisor", Name: "Sam Supervisor"}
	accountant = models.Actor{ID: "u-accountant", Name: "Alex Accountant"}
	requester  = models.Actor{ID: "u-requester", Name: "Riley Requester"}
	director   = models.Actor{ID: "u-director", Name: "Dana Director"}
)

func purchaseOrderDefinition() *models.WorkflowDefinition {
	now := time.Now().UTC()

	return &models.WorkflowDefinition{
		ID:           "def-po-1",
		Code:         "po-approval",
		Version:      1,
		Name:         "Purchase Order Approval",
		EntityType:   "purchase_order",
		TriggerEvent: "submitted",
		EntryConditions: models.ConditionSet{
			{Field: "amount", Operator: models.OpGreaterThan, Value: 1000},
		},
		Status: models.DefinitionStatusPublished,
		Steps: []*models.StepDefinition{
			{
				ID:              "step-supervisor",
				Order:           1,
				Name:            "Supervisor Review",
				Assignment:      models.RoleAssignment("supervisor"),
				EscalationHours: 4,
				AllowDelegation: true,
			},
			{
				ID:             "step-finance",
				Order:          2,
				Name:           "Finance Approval",
				Assignment:     models.RoleAssignment("finance"),
				IsFinal:        true,
				RequireComment: true,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func submittedEvent(amount float64) models.TriggerEvent {
	return models.TriggerEvent{
		EntityType: "purchase_order",
		EntityID:   "po-42",
		EventName:  "submitted",
		Snapshot: models.EntitySnapshot{
			"amount":     amount,
			"created_by": requester.ID,
		},
		Actor: requester,
	}
}

func (env *testEnv) seedPurchaseOrder(t *testing.T) *models.WorkflowDefinition {
	t.Helper()

	env.directory.addUser(supervisor, "supervisor")
	env.directory.addUser(accountant, "finance")
	env.directory.addUser(requester)
	env.directory.managers[supervisor.ID] = director
	env.directory.addUser(director)

	definition := purchaseOrderDefinition()
	require.NoError(t, env.persist.Definitions().Save(context.Background(), definition))

	return definition
}

func (env *testEnv) pendingExecution(t *testing.T, instanceID string) *models.StepExecution {
	t.Helper()

	executions, err := env.persist.Executions().ListByInstance(context.Background(), instanceID)
	require.NoError(t, err)

	for _, execution := range executions {
		if !execution.Terminal() {
			return execution
		}
	}

	t.Fatalf("no pending execution for instance %s", instanceID)

	return nil
}

func TestHandleTriggerStartsInstance(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedPurchaseOrder(t)

	started, err := env.engine.HandleTrigger(ctx, submittedEvent(5000))
	require.NoError(t, err)
	require.Len(t, started, 1)

	instance := started[0]
	assert.Equal(t, models.InstanceStatusInProgress, instance.Status)
	assert.Equal(t, 1, instance.CurrentStepOrder)
	assert.Equal(t, "po-approval", instance.DefinitionCode)
	assert.Equal(t, requester.ID, instance.TriggeredBy)

	execution := env.pendingExecution(t, instance.ID)
	assert.Equal(t, supervisor.ID, execution.Assignee.ID)
	assert.Equal(t, 1, execution.StepOrder)
	require.NotNil(t, execution.DueAt)

	// A repeated trigger for the same entity must not fan out a duplicate.
	again, err := env.engine.HandleTrigger(ctx, submittedEvent(5000))
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestEntryConditionsGateStart(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedPurchaseOrder(t)

	started, err := env.engine.HandleTrigger(ctx, submittedEvent(400))
	require.NoError(t, err)
	assert.Empty(t, started)
}

func TestApproveAdvancesThroughSteps(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedPurchaseOrder(t)

	var callbackStatus models.InstanceStatus

	env.registry.RegisterCallback("purchase_order", func(_ context.Context, _ models.EntityRef, status models.InstanceStatus) error {
		callbackStatus = status

		return nil
	})

	started, err := env.engine.HandleTrigger(ctx, submittedEvent(5000))
	require.NoError(t, err)
	require.Len(t, started, 1)
	instance := started[0]

	first := env.pendingExecution(t, instance.ID)
	_, err = env.engine.Approve(ctx, first.ID, supervisor, "looks good", nil)
	require.NoError(t, err)

	second := env.pendingExecution(t, instance.ID)
	assert.Equal(t, 2, second.StepOrder)
	assert.Equal(t, accountant.ID, second.Assignee.ID)

	_, err = env.engine.Approve(ctx, second.ID, accountant, "budget confirmed", nil)
	require.NoError(t, err)

	final, err := env.persist.Instances().GetByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusApproved, final.Status)
	require.NotNil(t, final.CompletedAt)
	assert.Equal(t, models.InstanceStatusApproved, callbackStatus)
}

func TestRejectWithoutBranchTerminates(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedPurchaseOrder(t)

	started, err := env.engine.HandleTrigger(ctx, submittedEvent(5000))
	require.NoError(t, err)
	instance := started[0]

	first := env.pendingExecution(t, instance.ID)
	_, err = env.engine.Reject(ctx, first.ID, supervisor, "over budget", nil)
	require.NoError(t, err)

	final, err := env.persist.Instances().GetByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusRejected, final.Status)

	// No step-two execution may exist after a terminal rejection.
	executions, err := env.persist.Executions().ListByInstance(ctx, instance.ID)
	require.NoError(t, err)

	for _, execution := range executions {
		assert.NotEqual(t, 2, execution.StepOrder)
	}
}

func TestRejectFollowsRemediationBranch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	definition := env.seedPurchaseOrder(t)

	definition.Steps[1].OnReject = intPtr(1)
	require.NoError(t, env.persist.Definitions().Save(ctx, definition))

	started, err := env.engine.HandleTrigger(ctx, submittedEvent(5000))
	require.NoError(t, err)
	instance := started[0]

	first := env.pendingExecution(t, instance.ID)
	_, err = env.engine.Approve(ctx, first.ID, supervisor, "", nil)
	require.NoError(t, err)

	second := env.pendingExecution(t, instance.ID)
	_, err = env.engine.Reject(ctx, second.ID, accountant, "wrong cost center", nil)
	require.NoError(t, err)

	current, err := env.persist.Instances().GetByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusInProgress, current.Status)
	assert.Equal(t, 1, current.CurrentStepOrder)

	redo := env.pendingExecution(t, instance.ID)
	assert.Equal(t, 1, redo.StepOrder)
	assert.Equal(t, supervisor.ID, redo.Assignee.ID)
}

func TestApproveAuthorization(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedPurchaseOrder(t)

	started, err := env.engine.HandleTrigger(ctx, submittedEvent(5000))
	require.NoError(t, err)

	execution := env.pendingExecution(t, started[0].ID)

	_, err = env.engine.Approve(ctx, execution.ID, accountant, "", nil)
	require.ErrorIs(t, err, services.ErrNotAuthorized)

	_, err = env.engine.Approve(ctx, execution.ID, supervisor, "", nil)
	require.NoError(t, err)

	_, err = env.engine.Approve(ctx, execution.ID, supervisor, "", nil)
	require.ErrorIs(t, err, services.ErrAlreadyActed)
}

func TestRejectRequiresComment(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedPurchaseOrder(t)

	started, err := env.engine.HandleTrigger(ctx, submittedEvent(5000))
	require.NoError(t, err)

	first := env.pendingExecution(t, started[0].ID)
	_, err = env.engine.Approve(ctx, first.ID, supervisor, "", nil)
	require.NoError(t, err)

	second := env.pendingExecution(t, started[0].ID)

	_, err = env.engine.Reject(ctx, second.ID, accountant, "   ", nil)
	require.ErrorIs(t, err, services.ErrCommentRequired)

	_, err = env.engine.Reject(ctx, second.ID, accountant, "missing invoice", nil)
	require.NoError(t, err)
}

func TestApproveValidatesFormData(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	definition := env.seedPurchaseOrder(t)

	definition.Steps[0].FormSchema = []byte(`{
		"type": "object",
		"required": ["cost_center"],
		"properties": {"cost_center": {"type": "string"}}
	}`)
	require.NoError(t, env.persist.Definitions().Save(ctx, definition))

	started, err := env.engine.HandleTrigger(ctx, submittedEvent(5000))
	require.NoError(t, err)

	execution := env.pendingExecution(t, started[0].ID)

	_, err = env.engine.Approve(ctx, execution.ID, supervisor, "", map[string]any{"cost_center": 7})
	require.ErrorIs(t, err, services.ErrInvalidFormData)

	resolved, err := env.engine.Approve(ctx, execution.ID, supervisor, "", map[string]any{"cost_center": "CC-100"})
	require.NoError(t, err)
	assert.Equal(t, "CC-100", resolved.FormData["cost_center"])
}

func TestDelegatePreservesDueTime(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedPurchaseOrder(t)

	started, err := env.engine.HandleTrigger(ctx, submittedEvent(5000))
	require.NoError(t, err)

	execution := env.pendingExecution(t, started[0].ID)
	require.NotNil(t, execution.DueAt)
	originalDue := *execution.DueAt

	replacement, err := env.engine.Delegate(ctx, execution.ID, supervisor, director.ID, "on vacation")
	require.NoError(t, err)

	assert.Equal(t, director.ID, replacement.Assignee.ID)
	assert.Equal(t, execution.ID, replacement.DelegatedFrom)
	require.NotNil(t, replacement.DueAt)
	assert.True(t, replacement.DueAt.Equal(originalDue), "delegation must not reset the deadline")

	old, err := env.persist.Executions().GetByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusDelegated, old.Status)

	// The delegate can act; the original assignee no longer can.
	_, err = env.engine.Approve(ctx, replacement.ID, supervisor, "", nil)
	require.ErrorIs(t, err, services.ErrNotAuthorized)

	_, err = env.engine.Approve(ctx, replacement.ID, director, "", nil)
	require.NoError(t, err)
}

func TestDelegationDisallowedByStep(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedPurchaseOrder(t)

	started, err := env.engine.HandleTrigger(ctx, submittedEvent(5000))
	require.NoError(t, err)

	first := env.pendingExecution(t, started[0].ID)
	_, err = env.engine.Approve(ctx, first.ID, supervisor, "", nil)
	require.NoError(t, err)

	second := env.pendingExecution(t, started[0].ID)
	_, err = env.engine.Delegate(ctx, second.ID, accountant, director.ID, "")
	require.ErrorIs(t, err, services.ErrDelegationNotAllowed)
}

func TestNoAssignableActorHaltsInstance(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	definition := env.seedPurchaseOrder(t)

	definition.Steps[1].Assignment = models.RoleAssignment("cfo") // nobody holds it
	require.NoError(t, env.persist.Definitions().Save(ctx, definition))

	started, err := env.engine.HandleTrigger(ctx, submittedEvent(5000))
	require.NoError(t, err)
	instance := started[0]

	first := env.pendingExecution(t, instance.ID)
	_, err = env.engine.Approve(ctx, first.ID, supervisor, "", nil)
	require.NoError(t, err)

	halted, err := env.persist.Instances().GetByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusError, halted.Status)
	assert.Contains(t, halted.ErrorReason, "no assignable actor")

	entries, err := env.queue.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, instance.ID, entries[0].InstanceID)
}

func TestResumeAfterStaffingFix(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	definition := env.seedPurchaseOrder(t)

	definition.Steps[1].Assignment = models.RoleAssignment("cfo")
	require.NoError(t, env.persist.Definitions().Save(ctx, definition))

	started, err := env.engine.HandleTrigger(ctx, submittedEvent(5000))
	require.NoError(t, err)
	instance := started[0]

	first := env.pendingExecution(t, instance.ID)
	_, err = env.engine.Approve(ctx, first.ID, supervisor, "", nil)
	require.NoError(t, err)

	cfo := models.Actor{ID: "u-cfo", Name: "Charlie CFO"}
	env.directory.addUser(cfo, "cfo")

	resumed, err := env.engine.Resume(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusInProgress, resumed.Status)

	execution := env.pendingExecution(t, instance.ID)
	assert.Equal(t, cfo.ID, execution.Assignee.ID)
	assert.Equal(t, 2, execution.StepOrder)
}

func TestEscalationSweepIsOneShot(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedPurchaseOrder(t)

	started, err := env.engine.HandleTrigger(ctx, submittedEvent(5000))
	require.NoError(t, err)
	instance := started[0]

	execution := env.pendingExecution(t, instance.ID)
	past := time.Now().UTC().Add(-time.Hour)

	_, err = env.persist.Executions().Update(ctx, execution.ID, func(ex *models.StepExecution) error {
		ex.DueAt = &past

		return nil
	})
	require.NoError(t, err)

	scheduler := NewEscalationScheduler(log.WithModule("test"), env.engine, time.Minute)

	escalated, err := scheduler.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, escalated)

	old, err := env.persist.Executions().GetByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusEscalated, old.Status)

	// No configured target on the step, so the task goes to the assignee's
	// direct manager.
	replacement := env.pendingExecution(t, instance.ID)
	assert.Equal(t, director.ID, replacement.Assignee.ID)
	assert.Equal(t, execution.ID, replacement.EscalatedFrom)

	// The replacement is not overdue, so a second sweep does nothing.
	escalated, err = scheduler.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, escalated)
}

func TestEscalationWithoutTargetHalts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	definition := env.seedPurchaseOrder(t)

	delete(env.directory.managers, supervisor.ID)
	definition.Steps[0].EscalationHours = 1
	require.NoError(t, env.persist.Definitions().Save(ctx, definition))

	started, err := env.engine.HandleTrigger(ctx, submittedEvent(5000))
	require.NoError(t, err)
	instance := started[0]

	execution := env.pendingExecution(t, instance.ID)
	past := time.Now().UTC().Add(-time.Hour)

	_, err = env.persist.Executions().Update(ctx, execution.ID, func(ex *models.StepExecution) error {
		ex.DueAt = &past

		return nil
	})
	require.NoError(t, err)

	scheduler := NewEscalationScheduler(log.WithModule("test"), env.engine, time.Minute)

	escalated, err := scheduler.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, escalated)

	halted, err := env.persist.Instances().GetByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusError, halted.Status)
}

func TestCancelEmptiesInbox(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedPurchaseOrder(t)

	started, err := env.engine.HandleTrigger(ctx, submittedEvent(5000))
	require.NoError(t, err)
	instance := started[0]

	cancelled, err := env.engine.Cancel(ctx, instance.ID, requester, "order withdrawn")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCancelled, cancelled.Status)

	items, err := env.engine.Inbox(ctx, supervisor.ID)
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = env.engine.Cancel(ctx, instance.ID, requester, "again")
	require.ErrorIs(t, err, services.ErrInstanceNotRunning)
}

func TestInboxEnrichment(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedPurchaseOrder(t)

	_, err := env.engine.HandleTrigger(ctx, submittedEvent(5000))
	require.NoError(t, err)

	items, err := env.engine.Inbox(ctx, supervisor.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)

	assert.Equal(t, "Purchase Order Approval", items[0].WorkflowName)
	assert.Equal(t, "Supervisor Review", items[0].StepName)
	assert.Equal(t, supervisor.ID, items[0].Execution.Assignee.ID)
}

func TestOnExecutionResolvedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedPurchaseOrder(t)

	started, err := env.engine.HandleTrigger(ctx, submittedEvent(5000))
	require.NoError(t, err)
	instance := started[0]

	first := env.pendingExecution(t, instance.ID)
	_, err = env.engine.Approve(ctx, first.ID, supervisor, "", nil)
	require.NoError(t, err)

	countExecutions := func() int {
		executions, listErr := env.persist.Executions().ListByInstance(ctx, instance.ID)
		require.NoError(t, listErr)

		return len(executions)
	}

	before := countExecutions()

	// Replaying the resolution must not dispatch step two a second time.
	require.NoError(t, env.engine.OnExecutionResolved(ctx, first.ID))
	require.NoError(t, env.engine.OnExecutionResolved(ctx, first.ID))

	assert.Equal(t, before, countExecutions())
}

func TestSignaturesAndAttachments(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedPurchaseOrder(t)

	started, err := env.engine.HandleTrigger(ctx, submittedEvent(5000))
	require.NoError(t, err)

	execution := env.pendingExecution(t, started[0].ID)

	_, err = env.engine.AddSignature(ctx, execution.ID, supervisor, models.Signature{
		Data: "base64-blob",
		Type: "drawn",
	})
	require.NoError(t, err)

	updated, err := env.engine.AddAttachment(ctx, execution.ID, supervisor, models.Attachment{
		Path: "uploads/quote.pdf",
		Name: "quote.pdf",
	})
	require.NoError(t, err)

	require.Len(t, updated.Signatures, 1)
	require.Len(t, updated.Attachments, 1)
	assert.False(t, updated.Signatures[0].SignedAt.IsZero())

	_, err = env.engine.AddSignature(ctx, execution.ID, accountant, models.Signature{Data: "x", Type: "drawn"})
	require.ErrorIs(t, err, services.ErrNotAuthorized)

	_, err = env.engine.Approve(ctx, execution.ID, supervisor, "", nil)
	require.NoError(t, err)

	_, err = env.engine.AddAttachment(ctx, execution.ID, supervisor, models.Attachment{Path: "p", Name: "n"})
	require.ErrorIs(t, err, services.ErrAlreadyActed)
}

func TestAuditTrailRecordsLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedPurchaseOrder(t)

	started, err := env.engine.HandleTrigger(ctx, submittedEvent(5000))
	require.NoError(t, err)
	instance := started[0]

	first := env.pendingExecution(t, instance.ID)
	_, err = env.engine.Approve(ctx, first.ID, supervisor, "ok", nil)
	require.NoError(t, err)

	second := env.pendingExecution(t, instance.ID)
	_, err = env.engine.Approve(ctx, second.ID, accountant, "ok", nil)
	require.NoError(t, err)

	trail, err := env.engine.AuditTrail(ctx, instance.ID)
	require.NoError(t, err)

	actions := make([]models.AuditAction, 0, len(trail))
	for _, entry := range trail {
		actions = append(actions, entry.Action)
	}

	assert.Equal(t, []models.AuditAction{
		models.AuditInstanceStarted,
		models.AuditStepDispatched,
		models.AuditExecutionApproved,
		models.AuditStepDispatched,
		models.AuditExecutionApproved,
		models.AuditInstanceApproved,
	}, actions)
}

func TestDispatchFansOutToAllRoleHolders(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedPurchaseOrder(t)

	second := models.Actor{ID: "u-supervisor-2", Name: "Sasha Supervisor"}
	env.directory.addUser(second, "supervisor")

	started, err := env.engine.HandleTrigger(ctx, submittedEvent(5000))
	require.NoError(t, err)
	instance := started[0]

	executions, err := env.persist.Executions().ListByInstance(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, executions, 2)
	assert.Equal(t, executions[0].DispatchID, executions[1].DispatchID)

	// Each role holder gets their own task.
	for _, actor := range []models.Actor{supervisor, second} {
		items, inboxErr := env.engine.Inbox(ctx, actor.ID)
		require.NoError(t, inboxErr)
		require.Len(t, items, 1)
		assert.Equal(t, actor.ID, items[0].Execution.Assignee.ID)
	}

	var won, lost *models.StepExecution

	for _, execution := range executions {
		if execution.Assignee.ID == supervisor.ID {
			won = execution
		} else {
			lost = execution
		}
	}

	_, err = env.engine.Approve(ctx, won.ID, supervisor, "looks good", nil)
	require.NoError(t, err)

	// The first decision resolves the step; the sibling task is cancelled
	// and leaves the other holder's inbox.
	cancelled, err := env.persist.Executions().GetByID(ctx, lost.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)

	items, err := env.engine.Inbox(ctx, second.ID)
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = env.engine.Approve(ctx, lost.ID, second, "me too", nil)
	require.ErrorIs(t, err, services.ErrAlreadyActed)

	next := env.pendingExecution(t, instance.ID)
	assert.Equal(t, 2, next.StepOrder)
}

func TestEscalationSchedulerTickerLoop(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedPurchaseOrder(t)

	started, err := env.engine.HandleTrigger(ctx, submittedEvent(5000))
	require.NoError(t, err)

	execution := env.pendingExecution(t, started[0].ID)
	past := time.Now().UTC().Add(-time.Hour)

	_, err = env.persist.Executions().Update(ctx, execution.ID, func(ex *models.StepExecution) error {
		ex.DueAt = &past

		return nil
	})
	require.NoError(t, err)

	scheduler := NewEscalationScheduler(log.WithModule("test"), env.engine, 10*time.Millisecond)
	scheduler.Start(ctx)

	defer scheduler.Stop(ctx)

	require.Eventually(t, func() bool {
		old, getErr := env.persist.Executions().GetByID(ctx, execution.ID)

		return getErr == nil && old.Status == models.ExecutionStatusEscalated
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResolveUnknownAssignmentYieldsEmptySet(t *testing.T) {
	resolver := NewAssigneeResolver(newFakeDirectory())

	set, err := resolver.Resolve(context.Background(), models.AssignmentRule{Type: "lottery"}, models.EntitySnapshot{})
	require.NoError(t, err)
	assert.True(t, set.Empty())
}

func TestEscalateRequiresEscalationWindow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	definition := env.seedPurchaseOrder(t)

	// Step two names an escalation target but no escalation window.
	target := models.RoleAssignment("supervisor")
	definition.Steps[1].EscalateTo = &target
	require.NoError(t, env.persist.Definitions().Save(ctx, definition))

	started, err := env.engine.HandleTrigger(ctx, submittedEvent(5000))
	require.NoError(t, err)

	first := env.pendingExecution(t, started[0].ID)
	_, err = env.engine.Approve(ctx, first.ID, supervisor, "", nil)
	require.NoError(t, err)

	second := env.pendingExecution(t, started[0].ID)
	_, err = env.engine.Escalate(ctx, second.ID, accountant, "stuck")
	require.ErrorIs(t, err, services.ErrEscalationNotConfigured)
}

func TestReassignSwapsAssigneeInPlace(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	definition := env.seedPurchaseOrder(t)

	definition.Steps[0].AllowReassignment = true
	require.NoError(t, env.persist.Definitions().Save(ctx, definition))

	started, err := env.engine.HandleTrigger(ctx, submittedEvent(5000))
	require.NoError(t, err)

	execution := env.pendingExecution(t, started[0].ID)

	updated, err := env.engine.Reassign(ctx, execution.ID, models.Actor{ID: "admin"}, director.ID, "workload balancing")
	require.NoError(t, err)

	assert.Equal(t, execution.ID, updated.ID, "reassignment must not create a new execution")
	assert.Equal(t, director.ID, updated.Assignee.ID)

	executions, err := env.persist.Executions().ListByInstance(ctx, started[0].ID)
	require.NoError(t, err)
	assert.Len(t, executions, 1)
}
