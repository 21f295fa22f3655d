// Package saga runs an ordered list of steps with compensations in place of a
// cross-system transaction. When a step fails, the compensations of every
// completed step run most-recent-first.
package saga

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MahdiBaghbani/userservice-go/internal/platform/logutil"
	"github.com/MahdiBaghbani/userservice-go/internal/platform/metrics"
)

// DefaultCompensationTimeout bounds each compensation.
const DefaultCompensationTimeout = 30 * time.Second

// StepName identifies a step in errors, logs and metrics.
type StepName string

// Step pairs an action with the compensation that undoes it. Compensate may
// be nil when an earlier step's compensation covers this one or when the
// effect is deliberately left in place.
type Step struct {
	Name       StepName
	Action     func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Config configures a Runner.
type Config struct {
	// Name labels logs, metrics and errors.
	Name string

	// CompensationTimeout bounds each compensation. Default: 30s.
	CompensationTimeout time.Duration

	Logger *slog.Logger
}

// Runner executes sagas. It holds no per-run state and is safe for
// concurrent use.
type Runner struct {
	cfg Config
	log *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg Config) *Runner {
	if cfg.Name == "" {
		cfg.Name = "saga"
	}
	if cfg.CompensationTimeout <= 0 {
		cfg.CompensationTimeout = DefaultCompensationTimeout
	}
	log := logutil.NoopIfNil(cfg.Logger).With("saga", cfg.Name)
	return &Runner{cfg: cfg, log: log}
}

// Name returns the saga name.
func (r *Runner) Name() string {
	return r.cfg.Name
}

// Run executes steps in order. It returns the names of the completed steps
// and, on failure, a *DistributedTransactionError after compensating.
func (r *Runner) Run(ctx context.Context, steps []Step) ([]StepName, error) {
	start := time.Now()
	defer func() {
		metrics.SagaDuration.WithLabelValues(r.cfg.Name).Observe(time.Since(start).Seconds())
	}()

	completed := make([]Step, 0, len(steps))
	for _, step := range steps {
		err := ctx.Err()
		if err == nil {
			err = safeAction(ctx, step)
		}
		if err != nil {
			return names(completed), r.fail(ctx, completed, step.Name, err)
		}
		r.log.Debug("saga step completed", "step", step.Name)
		completed = append(completed, step)
	}

	metrics.SagaRuns.WithLabelValues(r.cfg.Name, "success").Inc()
	return names(completed), nil
}

func (r *Runner) fail(ctx context.Context, completed []Step, failed StepName, err error) error {
	metrics.SagaStepFailures.WithLabelValues(r.cfg.Name, string(failed)).Inc()
	r.log.Error("saga step failed, compensating", "step", failed, "completed", len(completed), "error", err)

	dte := &DistributedTransactionError{
		SagaName:       r.cfg.Name,
		CompletedSteps: names(completed),
		FailedStep:     failed,
		Cause:          &StepError{Step: failed, Err: err},
	}
	dte.CompensationErrors = r.compensate(ctx, completed)

	metrics.SagaRuns.WithLabelValues(r.cfg.Name, "compensated").Inc()
	return dte
}

// compensate unwinds completed steps on a context detached from the
// caller's cancellation.
func (r *Runner) compensate(ctx context.Context, completed []Step) []CompensationError {
	base := context.WithoutCancel(ctx)
	var errs []CompensationError
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Compensate == nil {
			continue
		}

		stepCtx, cancel := context.WithTimeout(base, r.cfg.CompensationTimeout)
		err := safeCompensate(stepCtx, step)
		cancel()

		metrics.SagaCompensations.WithLabelValues(r.cfg.Name, string(step.Name), metrics.Outcome(err)).Inc()
		if err != nil {
			r.log.Error("saga compensation failed", "step", step.Name, "error", err)
			errs = append(errs, CompensationError{Step: step.Name, Err: err})
			continue
		}
		r.log.Info("saga step compensated", "step", step.Name)
	}
	return errs
}

func safeAction(ctx context.Context, step Step) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in step %s: %v", step.Name, rec)
		}
	}()
	return step.Action(ctx)
}

func safeCompensate(ctx context.Context, step Step) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in compensation: %v", rec)
		}
	}()
	return step.Compensate(ctx)
}

func names(steps []Step) []StepName {
	out := make([]StepName, len(steps))
	for i, s := range steps {
		out[i] = s.Name
	}
	return out
}
