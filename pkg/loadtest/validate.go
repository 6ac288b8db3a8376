package loadtest

import (
	"fmt"
	"strings"
)

// ValidationError describes one configuration problem, with a hint toward
// the fix — the only error the Core surfaces directly to callers (all
// operational failures become TaskOutcome/RunResult data instead).
type ValidationError struct {
	Field    string
	Value    string
	Message  string
	Expected string
	Hint     string
}

func (e ValidationError) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s", e.Field, e.Message)
	if e.Expected != "" {
		fmt.Fprintf(&sb, " (expected %s)", e.Expected)
	}
	if e.Value != "" {
		fmt.Fprintf(&sb, " (got %q)", e.Value)
	}
	if e.Hint != "" {
		fmt.Fprintf(&sb, " — %s", e.Hint)
	}
	return sb.String()
}

// ValidationErrors is the caller-visible error returned when a TestConfig
// fails validation.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "invalid config"
	}
	lines := make([]string, len(v))
	for i, e := range v {
		lines[i] = e.String()
	}
	return "invalid config:\n  - " + strings.Join(lines, "\n  - ")
}

// Validate checks cfg for caller-visible boundary conditions. It mutates
// nothing; callers decide what to do with the errors.
func Validate(cfg TestConfig) error {
	var errs ValidationErrors

	add := func(field, msg, expected, hint string) {
		errs = append(errs, ValidationError{Field: field, Message: msg, Expected: expected, Hint: hint})
	}

	switch cfg.Profile {
	case ProfileConcurrent, ProfileTPS, ProfileQPS, ProfileRampUp, ProfileStability:
	default:
		add("profile", "unknown profile", "one of concurrent, tps, qps, ramp_up, stability", "")
	}

	if cfg.ConcurrentUsers <= 0 {
		add("concurrent_users", "must be greater than 0", "positive integer", "")
	}
	if cfg.MaxThreadPoolSize <= 0 {
		add("max_thread_pool_size", "must be greater than 0", "positive integer", "")
	}

	switch cfg.Profile {
	case ProfileTPS, ProfileQPS:
		if cfg.TargetRate <= 0 {
			add("target_rate", "must be greater than 0", "positive number", "TPS/QPS profiles need a target rate")
		}
		if cfg.Duration <= 0 {
			add("duration_sec", "must be greater than 0", "positive duration", "")
		}
	case ProfileConcurrent:
		if cfg.Duration <= 0 {
			add("duration_sec", "must be greater than 0", "positive duration", "")
		}
	case ProfileRampUp:
		if cfg.RampUpSteps < 1 {
			add("ramp_up_steps", "must be at least 1", "positive integer", "")
		}
		if cfg.RampUpTime <= 0 {
			add("ramp_up_time_sec", "must be greater than 0", "positive duration", "")
		}
		if cfg.Duration <= 0 {
			add("duration_sec", "must be greater than 0", "positive duration", "held as the stable phase after ramp-up")
		}
	case ProfileStability:
		if cfg.StabilityDuration <= 0 {
			add("stability_duration_sec", "must be greater than 0", "positive duration", "")
		}
		if cfg.StabilityCheckInterval <= 0 {
			add("stability_check_interval_sec", "must be greater than 0", "positive duration", "")
		}
	}

	if cfg.Retry.MaxRetries < 0 {
		add("retry.max_retries", "cannot be negative", "0 or greater", "")
	}
	if cfg.BeforeConcurrency < 0 || cfg.AfterConcurrency < 0 {
		add("before_concurrency/after_concurrency", "cannot be negative", "0 or greater", "")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
