// Package scheduler drives one load profile against a task function:
// a bounded worker pool with profile-specific dispatch and end
// conditions (concurrent, rate-limited, ramp-up, stability-check).
package scheduler

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/voltrace/loadgen/internal/metrics"
	"github.com/voltrace/loadgen/internal/retry"
	"github.com/voltrace/loadgen/pkg/loadtest"
)

// Signal is the level-triggered, idempotent cancellation flag S. Once set
// it stays set; the Scheduler observes it at every dispatch boundary.
type Signal struct {
	flag atomic.Bool
}

// Set trips the signal. Safe to call more than once or concurrently.
func (s *Signal) Set() { s.flag.Store(true) }

// IsSet reports whether the signal has been tripped.
func (s *Signal) IsSet() bool { return s.flag.Load() }

// Scheduler dispatches s.task per s.cfg.Profile, feeding every completion
// to the Aggregator and, if set, the user's OutcomeCallback.
type Scheduler struct {
	cfg       loadtest.TestConfig
	task      loadtest.TaskFn
	retryExec *retry.Executor
	agg       *metrics.Aggregator
	onOutcome loadtest.OutcomeCallback
	signal    *Signal

	inFlight int64

	abortMu     sync.Mutex
	abortReason loadtest.AbortReason
}

// New builds a Scheduler. signal is owned by the caller (the Run
// Coordinator) and shared with whatever else observes cancellation.
func New(cfg loadtest.TestConfig, task loadtest.TaskFn, retryExec *retry.Executor, agg *metrics.Aggregator, onOutcome loadtest.OutcomeCallback, signal *Signal) *Scheduler {
	return &Scheduler{cfg: cfg, task: task, retryExec: retryExec, agg: agg, onOutcome: onOutcome, signal: signal}
}

// AbortReason reports why the run stopped early, or AbortNone if the
// profile's end condition was reached on its own.
func (s *Scheduler) AbortReason() loadtest.AbortReason {
	s.abortMu.Lock()
	defer s.abortMu.Unlock()
	return s.abortReason
}

func (s *Scheduler) setAbort(reason loadtest.AbortReason) {
	s.abortMu.Lock()
	if s.abortReason == loadtest.AbortNone {
		s.abortReason = reason
	}
	s.abortMu.Unlock()
	s.signal.Set()
}

// Run dispatches work until the profile's end condition or cancellation.
// Returns profile-specific extras: StepResults for RampUp, IntervalResults
// for Stability; both nil for the other profiles.
func (s *Scheduler) Run(ctx context.Context) (stepResults []loadtest.StepResult, intervalResults []loadtest.IntervalResult) {
	switch s.cfg.Profile {
	case loadtest.ProfileTPS, loadtest.ProfileQPS:
		s.runRate(ctx)
	case loadtest.ProfileRampUp:
		stepResults = s.runRampUp(ctx)
	case loadtest.ProfileStability:
		intervalResults = s.runStability(ctx)
	default: // ProfileConcurrent, and any unrecognized value, use the Concurrent algorithm
		s.runConcurrent(ctx, maxInt(s.workerCount(s.cfg.ConcurrentUsers), 1), s.cfg.Duration)
	}
	return stepResults, intervalResults
}

func (s *Scheduler) workerCount(nominal int) int {
	if nominal <= 0 {
		nominal = 1
	}
	if s.cfg.MaxThreadPoolSize > 0 && nominal > s.cfg.MaxThreadPoolSize {
		return s.cfg.MaxThreadPoolSize
	}
	return nominal
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// dispatchOne runs task through the Retry Executor, records the outcome,
// and applies stop_on_error / threshold escalation onto the signal.
func (s *Scheduler) dispatchOne(ctx context.Context) loadtest.TaskOutcome {
	n := atomic.AddInt64(&s.inFlight, 1)
	s.agg.UpdateConcurrentUsers(int(n))

	outcome := s.retryExec.Execute(ctx, s.task)
	atomic.AddInt64(&s.inFlight, -1)

	s.agg.Record(outcome)
	if s.onOutcome != nil {
		s.onOutcome(outcome)
	}

	if !outcome.Success && s.cfg.StopOnError {
		s.setAbort(loadtest.AbortThresholdExceeded)
	}
	if verdict := s.agg.CheckThresholds(); verdict.Abort {
		s.setAbort(loadtest.AbortThresholdExceeded)
	}
	return outcome
}

// runConcurrent sustains up to workers in-flight tasks until duration
// elapses or the signal is set.
func (s *Scheduler) runConcurrent(ctx context.Context, workers int, duration time.Duration) {
	deadline := time.Now().Add(duration)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if s.signal.IsSet() || time.Now().After(deadline) {
					return
				}
				select {
				case <-ctx.Done():
					s.setAbort(loadtest.AbortUserCancel)
					return
				default:
				}
				s.dispatchOne(ctx)
				if s.cfg.ThinkTime > 0 {
					sleepCtx(ctx, s.cfg.ThinkTime)
				}
			}
		}()
	}
	wg.Wait()
}

// runRate paces dispatches at TargetRate requests/sec via a token-bucket
// limiter, re-anchored to the wall clock on every Wait rather than a
// hand-rolled ticker that would accumulate per-iteration drift. In-flight
// count is clamped by the worker pool size, not the limiter.
func (s *Scheduler) runRate(ctx context.Context) {
	workers := maxInt(s.cfg.MaxThreadPoolSize, 1)
	limiter := rate.NewLimiter(rate.Limit(s.cfg.TargetRate), 1)
	deadline := time.Now().Add(s.cfg.Duration)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if s.signal.IsSet() || time.Now().After(deadline) {
					return
				}
				if err := limiter.Wait(ctx); err != nil {
					if ctx.Err() != nil {
						s.setAbort(loadtest.AbortUserCancel)
					}
					return
				}
				if s.signal.IsSet() || time.Now().After(deadline) {
					return
				}
				s.dispatchOne(ctx)
				if s.cfg.ThinkTime > 0 {
					sleepCtx(ctx, s.cfg.ThinkTime)
				}
			}
		}()
	}
	wg.Wait()
}

type totalsSnap struct{ total, failure int64 }

func (s *Scheduler) snapshotTotals() totalsSnap {
	total, _, failure, _ := s.agg.Totals()
	return totalsSnap{total: total, failure: failure}
}

func (s *Scheduler) stepResult(idx, concurrency int, dur time.Duration, before totalsSnap) loadtest.StepResult {
	total, _, failure, _ := s.agg.Totals()
	stepTotal := total - before.total
	stepFailure := failure - before.failure
	errRate := 0.0
	if stepTotal > 0 {
		errRate = float64(stepFailure) / float64(stepTotal)
	}
	return loadtest.StepResult{
		StepIndex:   idx,
		Concurrency: concurrency,
		Duration:    dur,
		Total:       stepTotal,
		Failure:     stepFailure,
		ErrorRate:   errRate,
	}
}

// runRampUp holds concurrency round(concurrent_users * k / ramp_up_steps)
// for ramp_up_time_sec/ramp_up_steps at each step k, then holds terminal
// concurrency for duration_sec as the trailing stable phase. Each step is
// its own StepResult; index ramp_up_steps is the stable phase.
func (s *Scheduler) runRampUp(ctx context.Context) []loadtest.StepResult {
	steps := s.cfg.RampUpSteps
	if steps < 1 {
		steps = 1
	}
	stepDuration := s.cfg.RampUpTime / time.Duration(steps)
	results := make([]loadtest.StepResult, 0, steps+1)

	for k := 1; k <= steps; k++ {
		if s.signal.IsSet() || ctx.Err() != nil {
			break
		}
		concurrency := s.workerCount(int(math.Round(float64(s.cfg.ConcurrentUsers) * float64(k) / float64(steps))))
		before := s.snapshotTotals()
		start := time.Now()
		s.runConcurrent(ctx, maxInt(concurrency, 1), stepDuration)
		results = append(results, s.stepResult(k-1, concurrency, time.Since(start), before))
	}

	if !s.signal.IsSet() && ctx.Err() == nil {
		concurrency := s.workerCount(s.cfg.ConcurrentUsers)
		before := s.snapshotTotals()
		start := time.Now()
		s.runConcurrent(ctx, maxInt(concurrency, 1), s.cfg.Duration)
		results = append(results, s.stepResult(steps, concurrency, time.Since(start), before))
	}

	return results
}

func (s *Scheduler) windowBreachesThresholds(w loadtest.StabilityWindow) bool {
	th := s.cfg.StabilityThresholds
	if th.ErrorRate > 0 && w.ErrorRate >= th.ErrorRate {
		return true
	}
	if th.P95 > 0 && w.P95 >= th.P95 {
		return true
	}
	if th.P99 > 0 && w.P99 >= th.P99 {
		return true
	}
	return false
}

// runStability is a long-duration Concurrent run with a periodic health
// check every stability_check_interval_sec.
func (s *Scheduler) runStability(ctx context.Context) []loadtest.IntervalResult {
	workers := maxInt(s.workerCount(s.cfg.ConcurrentUsers), 1)
	runStart := time.Now()

	var mu sync.Mutex
	var intervals []loadtest.IntervalResult

	stop := make(chan struct{})
	var checkerWG sync.WaitGroup
	if s.cfg.StabilityCheckInterval > 0 {
		checkerWG.Add(1)
		go func() {
			defer checkerWG.Done()
			ticker := time.NewTicker(s.cfg.StabilityCheckInterval)
			defer ticker.Stop()
			since := runStart
			for {
				select {
				case <-stop:
					return
				case <-ctx.Done():
					return
				case now := <-ticker.C:
					window := s.agg.WindowSnapshot(since)
					since = now
					triggered := s.windowBreachesThresholds(window)
					mu.Lock()
					intervals = append(intervals, loadtest.IntervalResult{
						Window:         window,
						CheckedAt:      now,
						TriggeredAbort: triggered,
					})
					mu.Unlock()
					if triggered {
						s.setAbort(loadtest.AbortStabilityThreshold)
						return
					}
				}
			}
		}()
	}

	s.runConcurrent(ctx, workers, s.cfg.StabilityDuration)
	close(stop)
	checkerWG.Wait()

	mu.Lock()
	defer mu.Unlock()
	return append([]loadtest.IntervalResult(nil), intervals...)
}
