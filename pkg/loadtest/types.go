// Package loadtest is the public surface of the load generation and
// metrics core: the scheduler, retry executor, and aggregator that drive a
// user-defined task at a target load profile.
package loadtest

import (
	"context"
	"time"
)

// Profile selects the load shape the Scheduler drives.
type Profile string

const (
	ProfileConcurrent Profile = "concurrent"
	ProfileTPS        Profile = "tps"
	ProfileQPS        Profile = "qps"
	ProfileRampUp     Profile = "ramp_up"
	ProfileStability  Profile = "stability"
)

// ErrorKind is the closed taxonomy every task failure is classified into.
type ErrorKind string

const (
	ErrorTimeout    ErrorKind = "timeout"
	ErrorConnection ErrorKind = "connection_error"
	ErrorHTTP       ErrorKind = "http_error"
	ErrorAssertion  ErrorKind = "assertion_error"
	ErrorValidation ErrorKind = "validation_error"
	ErrorSystem     ErrorKind = "system_error"
	ErrorOther      ErrorKind = "other"
)

// AbortReason tags why a run ended before its nominal deadline.
type AbortReason string

const (
	AbortNone                AbortReason = ""
	AbortUserCancel          AbortReason = "user_cancel"
	AbortThresholdExceeded   AbortReason = "threshold_exceeded"
	AbortStabilityThreshold  AbortReason = "stability_threshold"
	AbortBeforeFailed        AbortReason = "before_failed"
)

// RetryConfig bounds the Retry Executor's attempts and backoff.
type RetryConfig struct {
	MaxRetries     int
	BaseDelay      time.Duration
	RetryableKinds map[ErrorKind]bool
}

// IsRetryable reports whether kind should be retried under this policy.
// Timeout is always retryable regardless of configuration — see DESIGN.md
// "Open question: Timeout always retryable".
func (r RetryConfig) IsRetryable(kind ErrorKind) bool {
	if kind == ErrorTimeout {
		return true
	}
	return r.RetryableKinds[kind]
}

// KindThreshold is a per-ErrorKind sub-threshold: abort once Count failures
// of Kind have been recorded.
type KindThreshold struct {
	Kind  ErrorKind
	Count int64
}

// Thresholds bound the overall run; any exceeded threshold sets the
// cancellation signal.
type Thresholds struct {
	MaxErrors            int64
	MaxErrorRate         float64 // in [0,1]; 0 disables
	MaxConsecutiveErrors int64
	PerKind              []KindThreshold
}

// StabilityThresholds bound one health-check window of a Stability run.
type StabilityThresholds struct {
	ErrorRate float64
	P95       time.Duration
	P99       time.Duration
}

// TestConfig is immutable for the duration of a run.
type TestConfig struct {
	Profile Profile

	Duration         time.Duration // load-phase wall clock (profile-specific interpretation)
	ConcurrentUsers  int           // cap on in-flight tasks
	TargetRate       float64       // target requests/sec (TPS/QPS only)

	RampUpTime  time.Duration // RampUp only
	RampUpSteps int           // RampUp only

	StabilityDuration      time.Duration // Stability only
	StabilityCheckInterval time.Duration // Stability only
	StabilityThresholds    StabilityThresholds

	TaskTimeout time.Duration // per-task hard deadline
	ThinkTime   time.Duration // post-completion delay per worker

	Retry      RetryConfig
	Thresholds Thresholds

	BeforeConcurrency int
	AfterConcurrency  int
	MaxThreadPoolSize int

	StopOnError bool
}

// TaskResult is what a user TaskFn returns for one logical unit of work.
type TaskResult struct {
	Success          bool
	StatusCode       int
	ResponseTimeMs   float64
	TransactionName  string
	Err              error // classified by internal/classify when Success is false
	LatencyBreakdown map[string]float64
	ConnectionInfo   map[string]string
}

// TaskFn executes one logical unit of work. Before/After tasks share this
// shape. ctx carries the per-attempt task_timeout_sec deadline the Retry
// Executor applies around every call; a TaskFn that threads ctx through
// its own blocking calls (an HTTP request, a DB query) is cancelled the
// moment that deadline expires, but the Executor reports ErrorTimeout
// either way once ctx.Done() fires, even for a TaskFn that ignores ctx.
// A panic escaping TaskFn is treated as success=false with an
// Other-classified error (see internal/retry).
type TaskFn func(ctx context.Context) TaskResult

// OutcomeCallback is invoked once per recorded TaskOutcome, after the
// Aggregator has recorded it. Must be safe to call from worker goroutines;
// the Core does not serialize calls to it.
type OutcomeCallback func(TaskOutcome)

// TaskOutcome is the record of one final attempt (after any retries).
type TaskOutcome struct {
	Success         bool      `json:"success"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	ResponseTimeMs  float64   `json:"response_time_ms"`
	StatusCode      int       `json:"status_code,omitempty"`
	ErrorKind       ErrorKind `json:"error_kind,omitempty"` // zero value only meaningful when !Success
	ErrorMessage    string    `json:"error_message,omitempty"`
	TransactionName string    `json:"transaction_name,omitempty"`
	Attempt         int       `json:"attempt"` // attempts consumed (1 = succeeded or failed on first try)

	LatencyBreakdown map[string]float64 `json:"latency_breakdown,omitempty"`
	ConnectionInfo   map[string]string  `json:"connection_info,omitempty"`

	Profile   Profile `json:"profile,omitempty"`
	StepIndex int      `json:"step_index,omitempty"`
}
