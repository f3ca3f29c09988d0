// Package main provides the Approvalflow API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/construkt/approvalflow/pkg/engine"
	"github.com/construkt/approvalflow/pkg/errorqueue"
	"github.com/construkt/approvalflow/pkg/eventbus"
	"github.com/construkt/approvalflow/pkg/persistence"
	"github.com/construkt/approvalflow/pkg/protocol"
	"github.com/construkt/approvalflow/pkg/registry"
	"github.com/construkt/approvalflow/pkg/services"
	"github.com/construkt/approvalflow/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	directory   protocol.UserDirectory
	eventBus    eventbus.EventBus
	errorQueue  errorqueue.Queue
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	directory protocol.UserDirectory,
	eventBus eventbus.EventBus,
	errorQueue errorqueue.Queue,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		directory:   directory,
		eventBus:    eventBus,
		errorQueue:  errorQueue,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	definitionService := services.NewDefinition(a.persistence)
	reg := registry.NewRegistry(a.logger)
	notifier := eventbus.NewBusNotifier(a.logger, a.eventBus)

	eng := engine.NewEngine(a.logger, a.persistence, reg, a.directory, notifier, a.eventBus, a.errorQueue)

	handlers := web.NewAPIHandlers(definitionService, eng, a.errorQueue, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Approvalflow API")
	})

	d := app.Group("/definitions")
	d.Get("/", handlers.GetDefinitions)
	d.Post("/", handlers.CreateDefinition)
	d.Get("/:id", handlers.GetDefinition)
	d.Patch("/:id", handlers.UpdateDefinition)
	d.Post("/:id/publish", handlers.PublishDefinition)
	d.Get("/codes/:code/versions", handlers.GetDefinitionVersions)
	d.Post("/codes/:code/versions", handlers.CreateDefinitionVersion)

	app.Post("/triggers", handlers.Trigger)

	i := app.Group("/instances")
	i.Get("/:id", handlers.GetInstance)
	i.Get("/:id/audit", handlers.GetInstanceAudit)
	i.Post("/:id/cancel", handlers.CancelInstance)
	i.Post("/:id/resume", handlers.ResumeInstance)

	e := app.Group("/executions")
	e.Post("/:id/approve", handlers.ApproveExecution)
	e.Post("/:id/reject", handlers.RejectExecution)
	e.Post("/:id/delegate", handlers.DelegateExecution)
	e.Post("/:id/reassign", handlers.ReassignExecution)
	e.Post("/:id/escalate", handlers.EscalateExecution)
	e.Post("/:id/signatures", handlers.AddSignature)
	e.Post("/:id/attachments", handlers.AddAttachment)

	app.Get("/inbox/:actorId", handlers.GetInbox)

	admin := app.Group("/admin")
	admin.Get("/errors", handlers.GetErrorQueue)
	admin.Delete("/errors/:id", handlers.RemoveErrorQueueEntry)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
