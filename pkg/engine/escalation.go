package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/construkt/approvalflow/pkg/models"
	"github.com/construkt/approvalflow/pkg/services"
)

// EscalationScheduler periodically sweeps overdue pending executions and
// escalates the ones whose step has escalation enabled. Multiple scheduler
// processes may sweep concurrently: the per-execution CAS transition inside
// Escalate guarantees each task escalates at most once.
type EscalationScheduler struct {
	logger   *slog.Logger
	engine   *Engine
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewEscalationScheduler(logger *slog.Logger, engine *Engine, interval time.Duration) *EscalationScheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	return &EscalationScheduler{
		logger:   logger.With("module", "escalation_scheduler"),
		engine:   engine,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

func (s *EscalationScheduler) Start(ctx context.Context) {
	s.logger.InfoContext(ctx, "Starting escalation scheduler", "interval", s.interval)

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCh:
				s.logger.InfoContext(ctx, "Escalation scheduler stopped")

				return
			case <-ctx.Done():
				s.logger.InfoContext(ctx, "Context cancelled, stopping escalation scheduler")

				return
			case <-ticker.C:
				escalated, err := s.Sweep(ctx)
				if err != nil {
					s.logger.ErrorContext(ctx, "Escalation sweep failed", "error", err)
				} else if escalated > 0 {
					s.logger.InfoContext(ctx, "Escalation sweep completed", "escalated", escalated)
				}
			}
		}
	}()
}

func (s *EscalationScheduler) Stop(ctx context.Context) {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.InfoContext(ctx, "Escalation scheduler shut down")
}

// Sweep runs one pass over overdue pending executions and returns how many
// were escalated. Per-execution failures are logged and skipped so one bad
// row never stalls the whole sweep.
func (s *EscalationScheduler) Sweep(ctx context.Context) (int, error) {
	overdue, err := s.engine.persistence.Executions().ListOverduePending(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	escalated := 0

	for _, execution := range overdue {
		ec, err := s.engine.loadExecutionContext(ctx, execution.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to load overdue execution",
				"execution_id", execution.ID,
				"error", err,
			)

			continue
		}

		if !ec.step.EscalationEnabled() {
			continue
		}

		_, err = s.engine.Escalate(ctx, execution.ID, models.Actor{ID: SystemActorID, Name: "Escalation scheduler"},
			"escalated automatically after deadline")
		if err != nil {
			// A racing actor resolved the task between the listing and the
			// transition; that is the expected one-shot behavior.
			if errors.Is(err, services.ErrAlreadyActed) || errors.Is(err, services.ErrInstanceNotRunning) {
				continue
			}

			s.logger.ErrorContext(ctx, "Failed to escalate execution",
				"execution_id", execution.ID,
				"error", err,
			)

			continue
		}

		escalated++
	}

	return escalated, nil
}

// SystemActorID marks actions performed by the engine itself rather than a
// user.
const SystemActorID = "system"
