package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jcmexdev/ecommerce-orders/internal/coordinator/sagalog"
)

// Step is a single unit of work in a saga. Compensate undoes a successful
// Execute.
type Step interface {
	Name() string
	Execute(ctx context.Context) error
	Compensate(ctx context.Context) error
}

// Orchestrator runs steps in order and undoes the finished ones, last first,
// when a later step fails.
type Orchestrator struct {
	sagaID  string
	payload any
	steps   []Step
	repo    sagalog.Repository
}

// NewOrchestrator creates a saga identified by sagaID. payload is stored as
// JSON on the STARTED log row. repo may be nil, in which case nothing is
// logged.
func NewOrchestrator(sagaID string, payload any, steps []Step, repo sagalog.Repository) *Orchestrator {
	return &Orchestrator{
		sagaID:  sagaID,
		payload: payload,
		steps:   steps,
		repo:    repo,
	}
}

// Start runs the saga. The error of the failing step is returned unchanged
// so callers can match on it. A failure to write the STARTED row aborts the
// saga before any step runs.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.logStart(ctx); err != nil {
		return err
	}

	var done []Step
	for _, step := range o.steps {
		slog.DebugContext(ctx, "executing saga step", "saga_id", o.sagaID, "step", step.Name())
		if err := step.Execute(ctx); err != nil {
			slog.InfoContext(ctx, "saga step failed, rolling back",
				"saga_id", o.sagaID, "step", step.Name(), "error", err)
			o.save(ctx, sagalog.StatusCompensating, step.Name(), []string{fmt.Sprintf("step %s failed: %v", step.Name(), err)})

			if errs := o.rollback(ctx, done); len(errs) > 0 {
				o.save(ctx, sagalog.StatusFailed, step.Name(), errs)
			} else {
				o.save(ctx, sagalog.StatusCompensated, step.Name(), nil)
			}
			return err
		}
		done = append(done, step)
		o.save(ctx, sagalog.StatusStepDone, step.Name(), nil)
	}

	o.save(ctx, sagalog.StatusCompleted, "", nil)
	slog.DebugContext(ctx, "saga completed", "saga_id", o.sagaID)
	return nil
}

func (o *Orchestrator) rollback(ctx context.Context, steps []Step) []string {
	var errs []string
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		slog.InfoContext(ctx, "compensating saga step", "saga_id", o.sagaID, "step", step.Name())
		if err := step.Compensate(ctx); err != nil {
			slog.ErrorContext(ctx, "CRITICAL: failed to compensate saga step",
				"saga_id", o.sagaID, "step", step.Name(), "error", err)
			errs = append(errs, fmt.Sprintf("compensation of %s failed: %v", step.Name(), err))
		}
	}
	return errs
}

func (o *Orchestrator) logStart(ctx context.Context) error {
	if o.repo == nil {
		return nil
	}
	payload, err := json.Marshal(o.payload)
	if err != nil {
		return fmt.Errorf("coordinator: encode payload of saga %s: %w", o.sagaID, err)
	}
	entry := sagalog.NewEntry(ctx, o.sagaID, sagalog.StatusStarted, "", string(payload), nil)
	if err := o.repo.Save(ctx, entry); err != nil {
		return fmt.Errorf("coordinator: log start of saga %s: %w", o.sagaID, err)
	}
	return nil
}

// save records a transition. Failures are logged only: the steps already ran.
func (o *Orchestrator) save(ctx context.Context, status sagalog.Status, step string, errs []string) {
	if o.repo == nil {
		return
	}
	entry := sagalog.NewEntry(ctx, o.sagaID, status, step, "", errs)
	if err := o.repo.Save(context.WithoutCancel(ctx), entry); err != nil {
		slog.ErrorContext(ctx, "failed to write saga log",
			"saga_id", o.sagaID, "status", status, "error", err)
	}
}
