// Package main provides the escalation scheduler daemon. It periodically
// sweeps overdue pending tasks and escalates them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	cli "github.com/urfave/cli/v3"

	"github.com/construkt/approvalflow/pkg/cmd"
	"github.com/construkt/approvalflow/pkg/directory"
	"github.com/construkt/approvalflow/pkg/engine"
	"github.com/construkt/approvalflow/pkg/eventbus"
	"github.com/construkt/approvalflow/pkg/log"
	"github.com/construkt/approvalflow/pkg/otelhelper"
	"github.com/construkt/approvalflow/pkg/registry"
)

func main() {
	command := &cli.Command{
		Name:                  "approvalflow-scheduler",
		Usage:                 "Start the escalation scheduler service",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "scheduler-id",
				Aliases: []string{"id"},
				Usage:   "Custom scheduler ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("SCHEDULER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "directory-file",
				Usage:    "Path to the user directory configuration file",
				Required: true,
				Sources:  cli.EnvVars("DIRECTORY_FILE"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.StringFlag{
				Name:    "sweep-schedule",
				Usage:   "Cron expression for the escalation sweep (empty to use --sweep-interval instead)",
				Value:   "*/5 * * * *",
				Sources: cli.EnvVars("SWEEP_SCHEDULE"),
			},
			&cli.DurationFlag{
				Name:    "sweep-interval",
				Usage:   "Fixed sweep interval, used when no cron expression is configured",
				Value:   5 * time.Minute,
				Sources: cli.EnvVars("SWEEP_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address for the operator error queue (empty for in-memory)",
				Sources: cli.EnvVars("REDIS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password for the operator error queue",
				Sources: cli.EnvVars("REDIS_PASSWORD"),
			},
			&cli.StringFlag{
				Name:    "redis-db",
				Usage:   "Redis database number for the operator error queue",
				Sources: cli.EnvVars("REDIS_DB"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	schedulerID := command.String("scheduler-id")
	if schedulerID == "" {
		schedulerID = fmt.Sprintf("scheduler-%s", uuid.New().String()[:8])
	}

	logger := log.WithModule("scheduler").With("scheduler_id", schedulerID)

	if _, err := otelhelper.NewTracer(ctx, "approvalflow-scheduler"); err != nil {
		logger.WarnContext(ctx, "Tracing disabled", "error", err)
	}

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	userDirectory, err := directory.LoadStatic(command.String("directory-file"))
	if err != nil {
		return err
	}

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), "approvalflow-scheduler", logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	errorQueue, err := cmd.NewErrorQueue(ctx,
		command.String("redis-addr"),
		command.String("redis-password"),
		command.String("redis-db"),
	)
	if err != nil {
		return err
	}

	defer func() {
		if err := errorQueue.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close error queue", "error", err)
		}
	}()

	reg := registry.NewRegistry(logger)
	notifier := eventbus.NewBusNotifier(logger, eventBus)
	eng := engine.NewEngine(logger, persistence, reg, userDirectory, notifier, eventBus, errorQueue)
	scheduler := engine.NewEscalationScheduler(logger, eng, command.Duration("sweep-interval"))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	schedule := command.String("sweep-schedule")
	if schedule == "" {
		// No cron expression, fall back to the fixed-interval ticker loop.
		scheduler.Start(ctx)

		logger.InfoContext(ctx, "Starting escalation scheduler",
			"interval", command.Duration("sweep-interval"),
		)

		select {
		case <-stop:
		case <-ctx.Done():
		}

		logger.InfoContext(ctx, "Shutting down escalation scheduler")
		scheduler.Stop(ctx)

		return nil
	}

	c := cron.New()

	_, err = c.AddFunc(schedule, func() {
		escalated, sweepErr := scheduler.Sweep(ctx)
		if sweepErr != nil {
			logger.ErrorContext(ctx, "Escalation sweep failed", "error", sweepErr)

			return
		}

		if escalated > 0 {
			logger.InfoContext(ctx, "Escalation sweep completed", "escalated", escalated)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule: %w", err)
	}

	logger.InfoContext(ctx, "Starting escalation scheduler", "schedule", schedule)

	c.Start()

	select {
	case <-stop:
	case <-ctx.Done():
	}

	logger.InfoContext(ctx, "Shutting down escalation scheduler")

	<-c.Stop().Done()

	return nil
}
