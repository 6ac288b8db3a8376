// Package coordinator orchestrates the before -> load -> after phases of
// one run and owns the cancellation signal.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/voltrace/loadgen/internal/metrics"
	"github.com/voltrace/loadgen/internal/retry"
	"github.com/voltrace/loadgen/internal/scheduler"
	"github.com/voltrace/loadgen/pkg/loadtest"
)

// Run executes the before, load, and after phases for cfg and returns the
// final RunResult. cfg is validated by the caller (pkg/loadtest.Validate);
// Run does not re-validate it.
//
// before and after may be nil, in which case that phase is skipped (After
// still contributes an empty PhaseResult). onOutcome, if non-nil, is
// invoked once per recorded outcome from any phase.
func Run(ctx context.Context, cfg loadtest.TestConfig, task loadtest.TaskFn, before, after loadtest.TaskFn, onOutcome loadtest.OutcomeCallback) loadtest.RunResult {
	runStart := time.Now()
	signal := &scheduler.Signal{}

	agg := metrics.New(metrics.Options{Thresholds: cfg.Thresholds})
	retryExec := retry.New(cfg.Retry, cfg.TaskTimeout, signal.IsSet)

	var abortReason loadtest.AbortReason

	beforeResult := loadtest.PhaseResult{}
	if before != nil {
		beforeResult = runPhase(ctx, before, clampConcurrency(cfg.BeforeConcurrency, cfg.MaxThreadPoolSize), retryExec, onOutcome)
		if beforeResult.Failure > 0 && cfg.StopOnError {
			abortReason = loadtest.AbortBeforeFailed
			signal.Set()
		}
	}

	var stepResults []loadtest.StepResult
	var intervalResults []loadtest.IntervalResult
	if abortReason == loadtest.AbortNone {
		sched := scheduler.New(cfg, task, retryExec, agg, onOutcome, signal)
		stepResults, intervalResults = sched.Run(ctx)
		abortReason = sched.AbortReason()
	}

	// After always runs, best-effort, regardless of Before/Load outcome —
	// including a cancelled ctx, so it gets a context that ignores that
	// cancellation.
	afterResult := loadtest.PhaseResult{}
	if after != nil {
		afterRetry := retry.New(cfg.Retry, cfg.TaskTimeout, func() bool { return false })
		afterResult = runPhase(context.WithoutCancel(ctx), after, clampConcurrency(cfg.AfterConcurrency, cfg.MaxThreadPoolSize), afterRetry, onOutcome)
	}

	if ctx.Err() != nil && abortReason == loadtest.AbortNone {
		abortReason = loadtest.AbortUserCancel
	}

	result := agg.Snapshot()
	result.BeforeResult = beforeResult
	result.AfterResult = afterResult
	result.StepResults = stepResults
	result.IntervalResults = intervalResults
	result.AbortReason = abortReason
	result.ElapsedSeconds = time.Since(runStart).Seconds()
	return result
}

func clampConcurrency(n, max int) int {
	if n <= 0 {
		n = 1
	}
	if max > 0 && n > max {
		return max
	}
	return n
}

// runPhase fans a single before/after task out across concurrency workers,
// each running it once (not a timed load phase).
func runPhase(ctx context.Context, task loadtest.TaskFn, concurrency int, retryExec *retry.Executor, onOutcome loadtest.OutcomeCallback) loadtest.PhaseResult {
	var mu sync.Mutex
	var outcomes []loadtest.TaskOutcome
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			outcome := retryExec.Execute(ctx, task)
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
			if onOutcome != nil {
				onOutcome(outcome)
			}
		}()
	}
	wg.Wait()

	result := loadtest.PhaseResult{Outcomes: outcomes}
	for _, o := range outcomes {
		result.Total++
		if o.Success {
			result.Success++
		} else {
			result.Failure++
		}
	}
	return result
}
