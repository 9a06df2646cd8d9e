package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TFMV/fraudpipe/errs"
	"github.com/TFMV/fraudpipe/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrRunInProgress is returned when a run is already executing in this
	// process. Runs in other processes are not detected.
	ErrRunInProgress = errors.New("pipeline: run in progress")
	// ErrUnknownStage is returned for a stage name the runner does not have.
	ErrUnknownStage = errors.New("pipeline: unknown stage")
)

// RetryPolicy bounds how often a failing stage is attempted. The wait
// before attempt n+1 is n*Backoff. Failures that errs.Retryable rejects
// are never retried.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// StageReport describes one stage execution.
type StageReport struct {
	Name     string        `json:"name"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
}

// Report describes a run.
type Report struct {
	RunID  string        `json:"run_id"`
	Stages []StageReport `json:"stages"`
}

// Runner executes stages one at a time.
type Runner struct {
	stages []Stage
	retry  RetryPolicy
	logger *zap.Logger
	mu     sync.Mutex
}

// NewRunner creates a Runner over stages, which run in the given order.
func NewRunner(stages []Stage, retry RetryPolicy, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &Runner{stages: stages, retry: retry, logger: logger.Named("pipeline")}
}

// Stages lists the stage names in execution order.
func (r *Runner) Stages() []string {
	names := make([]string, len(r.stages))
	for i, s := range r.stages {
		names[i] = s.Name()
	}
	return names
}

// RunStage executes the named stage alone. Its input artifact must
// already exist.
func (r *Runner) RunStage(ctx context.Context, name string) (Report, error) {
	pos := -1
	for i, s := range r.stages {
		if s.Name() == name {
			pos = i
			break
		}
	}
	if pos < 0 {
		return Report{}, fmt.Errorf("%w: %q", ErrUnknownStage, name)
	}
	if !r.mu.TryLock() {
		return Report{}, ErrRunInProgress
	}
	defer r.mu.Unlock()

	report := Report{RunID: uuid.NewString()}
	sr, err := r.execute(ctx, report.RunID, r.stages[pos])
	report.Stages = append(report.Stages, sr)
	if err != nil {
		return report, fmt.Errorf("pipeline stage %d (%s) failed: %w", pos+1, name, err)
	}
	return report, nil
}

// RunAll executes every stage in order and stops at the first failure.
func (r *Runner) RunAll(ctx context.Context) (Report, error) {
	if !r.mu.TryLock() {
		return Report{}, ErrRunInProgress
	}
	defer r.mu.Unlock()

	report := Report{RunID: uuid.NewString()}
	start := time.Now()
	r.logger.Info("Pipeline run started", zap.String("run_id", report.RunID))

	for i, s := range r.stages {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("pipeline stage %d (%s) not started: %w", i+1, s.Name(), err)
		}
		sr, err := r.execute(ctx, report.RunID, s)
		report.Stages = append(report.Stages, sr)
		if err != nil {
			return report, fmt.Errorf("pipeline stage %d (%s) failed: %w", i+1, s.Name(), err)
		}
	}

	r.logger.Info("Pipeline run completed",
		zap.String("run_id", report.RunID),
		zap.Duration("duration", time.Since(start)))
	return report, nil
}

func (r *Runner) execute(ctx context.Context, runID string, s Stage) (StageReport, error) {
	name := s.Name()
	log := r.logger.With(zap.String("run_id", runID), zap.String("stage", name))
	report := StageReport{Name: name}
	start := time.Now()

	var err error
	for attempt := 1; ; attempt++ {
		report.Attempts = attempt
		t0 := time.Now()
		err = s.Run(ctx)
		metrics.StageDuration.WithLabelValues(name).Observe(time.Since(t0).Seconds())

		if err == nil {
			metrics.StageAttempts.WithLabelValues(name, "success").Inc()
			log.Info("Stage completed", zap.Int("attempt", attempt), zap.Duration("duration", time.Since(t0)))
			break
		}
		metrics.StageAttempts.WithLabelValues(name, "failure").Inc()

		if attempt >= r.retry.MaxAttempts || !errs.Retryable(err) || ctx.Err() != nil {
			log.Error("Stage failed", zap.Int("attempt", attempt), zap.Error(err))
			break
		}

		wait := r.retry.Backoff * time.Duration(attempt)
		log.Warn("Retrying stage", zap.Int("attempt", attempt), zap.Duration("backoff", wait), zap.Error(err))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			err = fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-timer.C:
			continue
		}
		break
	}

	report.Duration = time.Since(start)
	return report, err
}

// ----------------------------------------------------------------------------
// Scheduling
// ----------------------------------------------------------------------------

// Schedule runs the whole pipeline immediately and then once per interval
// until ctx is done. A failed run is logged and the next tick proceeds.
func (r *Runner) Schedule(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("pipeline: schedule interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("Scheduler started", zap.Duration("interval", interval))
	for {
		report, err := r.RunAll(ctx)
		switch {
		case errors.Is(err, ErrRunInProgress):
			r.logger.Warn("Skipping scheduled run; previous run still in progress")
		case err != nil && ctx.Err() == nil:
			r.logger.Error("Scheduled run failed", zap.String("run_id", report.RunID), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			r.logger.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}
