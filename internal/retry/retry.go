// Package retry runs a single task with bounded retries and exponential
// backoff on retryable error kinds.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/voltrace/loadgen/internal/classify"
	"github.com/voltrace/loadgen/pkg/loadtest"
)

// Cancelled is checked after every failed attempt, before backing off for
// a retry (the first attempt always runs); the Retry
// Executor reads it but never sets it — that's the Scheduler/Aggregator's
// job. Keeping this as a function (not a channel) avoids a read dependency
// from C2 onto C3's internals, per the cyclic-coupling design note.
type Cancelled func() bool

// Executor runs a TaskFn at most MaxRetries+1 times, enforcing
// TaskTimeout as a per-attempt hard deadline.
type Executor struct {
	Config      loadtest.RetryConfig
	TaskTimeout time.Duration // 0 disables the per-attempt deadline
	Cancelled   Cancelled
	Sleep       func(time.Duration) // overridable for tests; defaults to time.Sleep
}

// New builds an Executor with the given retry policy, per-attempt task
// deadline, and cancellation check. cancelled may be nil, meaning never
// cancelled. taskTimeout of 0 disables the deadline.
func New(cfg loadtest.RetryConfig, taskTimeout time.Duration, cancelled Cancelled) *Executor {
	if cancelled == nil {
		cancelled = func() bool { return false }
	}
	return &Executor{Config: cfg, TaskTimeout: taskTimeout, Cancelled: cancelled, Sleep: time.Sleep}
}

// Execute runs task, retrying on retryable ErrorKinds, and returns a
// TaskOutcome for the final attempt. Timings are measured around the
// successful attempt only (or the last attempt, on final failure). Each
// attempt is bounded by TaskTimeout: a task that is still running when
// the deadline passes is reported as ErrorTimeout and abandoned (the
// goroutine running it is left to exit on its own once/if it returns,
// same as the task_timeout_sec semantics this is ported from).
func (e *Executor) Execute(ctx context.Context, task loadtest.TaskFn) loadtest.TaskOutcome {
	maxAttempts := e.Config.MaxRetries + 1
	var last loadtest.TaskOutcome

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		started := time.Now()
		result, timedOut := e.runOnce(ctx, task)
		ended := time.Now()

		last = loadtest.TaskOutcome{
			Success:          result.Success,
			StartedAt:        started,
			EndedAt:          ended,
			ResponseTimeMs:   result.ResponseTimeMs,
			StatusCode:       result.StatusCode,
			TransactionName:  result.TransactionName,
			Attempt:          attempt,
			LatencyBreakdown: result.LatencyBreakdown,
			ConnectionInfo:   result.ConnectionInfo,
		}
		if last.ResponseTimeMs == 0 {
			last.ResponseTimeMs = float64(ended.Sub(started).Microseconds()) / 1000.0
		}

		if result.Success {
			return last
		}

		var kind loadtest.ErrorKind
		if timedOut {
			kind = loadtest.ErrorTimeout
			last.ErrorMessage = "task exceeded its task_timeout_sec deadline"
		} else if _, isPanic := result.Err.(panicError); isPanic {
			kind = loadtest.ErrorOther
			last.ErrorMessage = result.Err.Error()
		} else {
			kind = classify.Classify(result.Err)
			if result.Err != nil {
				last.ErrorMessage = result.Err.Error()
			}
		}
		last.ErrorKind = kind

		retriesLeft := attempt < maxAttempts
		if !retriesLeft || !e.Config.IsRetryable(kind) || e.Cancelled() {
			return last
		}

		backoff := e.Config.BaseDelay * time.Duration(1<<uint(attempt-1))
		if backoff > 0 {
			e.Sleep(backoff)
		}
	}

	return last
}

// runOnce invokes task under a per-attempt deadline derived from
// TaskTimeout, recovering a panic into an Other-classified failure so one
// bad task body can never crash a worker goroutine. task runs on its own
// goroutine so a task that ignores ctx and blocks forever still yields a
// timeout to the caller instead of hanging the Executor.
func (e *Executor) runOnce(ctx context.Context, task loadtest.TaskFn) (result loadtest.TaskResult, timedOut bool) {
	attemptCtx := ctx
	cancel := func() {}
	if e.TaskTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, e.TaskTimeout)
	}
	defer cancel()

	done := make(chan loadtest.TaskResult, 1)
	go func() {
		done <- e.runSafely(attemptCtx, task)
	}()

	select {
	case r := <-done:
		return r, false
	case <-attemptCtx.Done():
		// Only a deadline (our own WithTimeout, or an outer ctx with its
		// own deadline) counts as a task_timeout_sec timeout; a plain
		// outer cancellation classifies through the normal path below
		// instead of being reported as a timeout it wasn't.
		err := attemptCtx.Err()
		return loadtest.TaskResult{Success: false, Err: err}, errors.Is(err, context.DeadlineExceeded)
	}
}

func (e *Executor) runSafely(ctx context.Context, task loadtest.TaskFn) (result loadtest.TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			result = loadtest.TaskResult{
				Success: false,
				Err:     panicError{r},
			}
		}
	}()
	return task(ctx)
}

type panicError struct{ value any }

func (p panicError) Error() string {
	if err, ok := p.value.(error); ok {
		return "panic: " + err.Error()
	}
	return fmt.Sprintf("panic: %v", p.value)
}
