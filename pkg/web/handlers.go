// Package web provides HTTP handlers and REST API endpoints for the
// approval engine.
package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/construkt/approvalflow/pkg/engine"
	"github.com/construkt/approvalflow/pkg/errorqueue"
	"github.com/construkt/approvalflow/pkg/models"
	"github.com/construkt/approvalflow/pkg/services"
)

type APIHandlers struct {
	definitionService *services.Definition
	engine            *engine.Engine
	errorQueue        errorqueue.Queue
	validator         *validator.Validate
}

func NewAPIHandlers(
	definitionService *services.Definition,
	eng *engine.Engine,
	errorQueue errorqueue.Queue,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		definitionService: definitionService,
		engine:            eng,
		errorQueue:        errorQueue,
		validator:         validator,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.definitionService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Approvalflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Approvalflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetDefinitions(c fiber.Ctx) error {
	req, err := h.parseListDefinitionsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.definitionService.List(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"definitions":   result.Definitions,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
		"sorting": fiber.Map{
			"sort_by":    req.SortBy,
			"sort_order": req.SortOrder,
		},
	})
}

func (h *APIHandlers) parseListDefinitionsRequest(c fiber.Ctx) (*services.ListDefinitionsRequest, error) {
	req := &services.ListDefinitionsRequest{}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		req.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		req.Offset = offset
	}

	req.EntityType = c.Query("entity_type")

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.DefinitionStatus(statusStr)
		req.Status = &status
	}

	req.SortBy = c.Query("sort_by")
	req.SortOrder = c.Query("sort_order")

	return req, nil
}

func (h *APIHandlers) GetDefinition(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Definition ID is required")
	}

	definition, err := h.definitionService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) GetDefinitionVersions(c fiber.Ctx) error {
	code := c.Params("code")
	if code == "" {
		return badRequest(c, "Definition code is required")
	}

	versions, err := h.definitionService.ListVersions(c.Context(), code)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"versions": versions})
}

func (h *APIHandlers) CreateDefinition(c fiber.Ctx) error {
	var req CreateDefinitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	definition := &models.WorkflowDefinition{
		Code:            req.Code,
		Name:            req.Name,
		Description:     req.Description,
		EntityType:      req.EntityType,
		TriggerEvent:    req.TriggerEvent,
		EntryConditions: req.EntryConditions,
		SLAHours:        req.SLAHours,
		Steps:           stepsToModels(req.Steps),
		CreatedBy:       req.CreatedBy,
	}

	created, err := h.definitionService.Create(c.Context(), definition)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateDefinition(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Definition ID is required")
	}

	var req UpdateDefinitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	existing, err := h.definitionService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	if req.Name != nil {
		existing.Name = *req.Name
	}

	if req.Description != nil {
		existing.Description = *req.Description
	}

	if req.TriggerEvent != nil {
		existing.TriggerEvent = *req.TriggerEvent
	}

	if req.EntryConditions != nil {
		existing.EntryConditions = req.EntryConditions
	}

	if req.SLAHours != nil {
		existing.SLAHours = *req.SLAHours
	}

	if req.Steps != nil {
		existing.Steps = stepsToModels(req.Steps)
	}

	updated, err := h.definitionService.Update(c.Context(), id, existing)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) PublishDefinition(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Definition ID is required")
	}

	published, err := h.definitionService.Publish(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(published)
}

func (h *APIHandlers) CreateDefinitionVersion(c fiber.Ctx) error {
	code := c.Params("code")
	if code == "" {
		return badRequest(c, "Definition code is required")
	}

	draft, err := h.definitionService.NewVersion(c.Context(), code)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(draft)
}

// Trigger accepts a domain event and starts every matching workflow.
func (h *APIHandlers) Trigger(c fiber.Ctx) error {
	var req TriggerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	started, err := h.engine.HandleTrigger(c.Context(), models.TriggerEvent{
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		EventName:  req.EventName,
		Snapshot:   req.Snapshot,
		Actor:      req.Actor.toModel(),
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"instances": started})
}

func (h *APIHandlers) GetInstance(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	instance, err := h.engine.Instance(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) GetInstanceAudit(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	trail, err := h.engine.AuditTrail(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"entries": trail})
}

func (h *APIHandlers) CancelInstance(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	var req CancelRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	cancelled, err := h.engine.Cancel(c.Context(), id, req.Actor.toModel(), req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(cancelled)
}

func (h *APIHandlers) ResumeInstance(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	resumed, err := h.engine.Resume(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(resumed)
}

func (h *APIHandlers) GetInbox(c fiber.Ctx) error {
	actorID := c.Params("actorId")
	if actorID == "" {
		return badRequest(c, "Actor ID is required")
	}

	items, err := h.engine.Inbox(c.Context(), actorID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"items": items})
}

func (h *APIHandlers) ApproveExecution(c fiber.Ctx) error {
	return h.decide(c, h.engine.Approve)
}

func (h *APIHandlers) RejectExecution(c fiber.Ctx) error {
	return h.decide(c, h.engine.Reject)
}

func (h *APIHandlers) decide(
	c fiber.Ctx,
	action func(ctx context.Context, executionID string, actor models.Actor, comment string, formData map[string]any) (*models.StepExecution, error),
) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	var req DecisionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	resolved, err := action(c.Context(), id, req.Actor.toModel(), req.Comment, req.FormData)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(resolved)
}

func (h *APIHandlers) DelegateExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	var req HandOffRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	replacement, err := h.engine.Delegate(c.Context(), id, req.Actor.toModel(), req.TargetUserID, req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(replacement)
}

func (h *APIHandlers) ReassignExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	var req HandOffRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.engine.Reassign(c.Context(), id, req.Actor.toModel(), req.TargetUserID, req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) EscalateExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	var req EscalateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	replacement, err := h.engine.Escalate(c.Context(), id, req.Actor.toModel(), req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(replacement)
}

func (h *APIHandlers) AddSignature(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	var req SignatureRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.engine.AddSignature(c.Context(), id, req.Actor.toModel(), models.Signature{
		Data: req.Data,
		Type: req.Type,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) AddAttachment(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	var req AttachmentRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.engine.AddAttachment(c.Context(), id, req.Actor.toModel(), models.Attachment{
		Path:        req.Path,
		Name:        req.Name,
		ContentType: req.ContentType,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) GetErrorQueue(c fiber.Ctx) error {
	entries, err := h.errorQueue.List(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"entries": entries})
}

func (h *APIHandlers) RemoveErrorQueueEntry(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Entry ID is required")
	}

	if err := h.errorQueue.Remove(c.Context(), id); err != nil {
		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
