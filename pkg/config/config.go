// Package config loads a loadtest.TestConfig from a YAML file, with
// hint-and-suggestion validation errors for typo'd values.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/voltrace/loadgen/pkg/loadtest"
)

// YAMLStabilityThresholds mirrors loadtest.StabilityThresholds in the
// on-disk schema, with durations as strings.
type YAMLStabilityThresholds struct {
	ErrorRate float64 `yaml:"error_rate,omitempty"`
	P95       string  `yaml:"p95,omitempty"`
	P99       string  `yaml:"p99,omitempty"`
}

// YAMLRetry mirrors loadtest.RetryConfig in the on-disk schema.
type YAMLRetry struct {
	MaxRetries     int      `yaml:"max_retries,omitempty"`
	BaseDelay      string   `yaml:"base_delay_sec,omitempty"`
	RetryableKinds []string `yaml:"retryable_kinds,omitempty"`
}

// YAMLThresholds mirrors loadtest.Thresholds in the on-disk schema.
type YAMLThresholds struct {
	MaxErrors            int64   `yaml:"max_errors,omitempty"`
	MaxErrorRate         float64 `yaml:"max_error_rate,omitempty"`
	MaxConsecutiveErrors int64   `yaml:"max_consecutive_errors,omitempty"`
	PerKind              []struct {
		Kind  string `yaml:"kind"`
		Count int64  `yaml:"count"`
	} `yaml:"per_kind,omitempty"`
}

// YAMLConfig is the on-disk shape of a TestConfig, using snake_case
// field names.
type YAMLConfig struct {
	Profile string `yaml:"profile"`

	DurationSec     string  `yaml:"duration_sec,omitempty"`
	ConcurrentUsers int     `yaml:"concurrent_users,omitempty"`
	TargetRate      float64 `yaml:"target_rate,omitempty"`

	RampUpTimeSec string `yaml:"ramp_up_time_sec,omitempty"`
	RampUpSteps   int    `yaml:"ramp_up_steps,omitempty"`

	StabilityDurationSec      string                  `yaml:"stability_duration_sec,omitempty"`
	StabilityCheckIntervalSec string                  `yaml:"stability_check_interval_sec,omitempty"`
	StabilityThresholds       YAMLStabilityThresholds `yaml:"stability_thresholds,omitempty"`

	TaskTimeoutSec string `yaml:"task_timeout_sec,omitempty"`
	ThinkTimeSec   string `yaml:"think_time_sec,omitempty"`

	Retry      YAMLRetry      `yaml:"retry,omitempty"`
	Thresholds YAMLThresholds `yaml:"thresholds,omitempty"`

	BeforeConcurrency int  `yaml:"before_concurrency,omitempty"`
	AfterConcurrency  int  `yaml:"after_concurrency,omitempty"`
	MaxThreadPoolSize int  `yaml:"max_thread_pool_size,omitempty"`
	StopOnError       bool `yaml:"stop_on_error,omitempty"`
}

var profileAliases = map[string]loadtest.Profile{
	"concurrent": loadtest.ProfileConcurrent,
	"tps":        loadtest.ProfileTPS,
	"qps":        loadtest.ProfileQPS,
	"ramp_up":    loadtest.ProfileRampUp,
	"rampup":     loadtest.ProfileRampUp,
	"stability":  loadtest.ProfileStability,
}

var validProfiles = []string{"concurrent", "tps", "qps", "ramp_up", "stability"}

var kindAliases = map[string]loadtest.ErrorKind{
	"timeout":          loadtest.ErrorTimeout,
	"connection_error": loadtest.ErrorConnection,
	"http_error":       loadtest.ErrorHTTP,
	"assertion_error":  loadtest.ErrorAssertion,
	"validation_error": loadtest.ErrorValidation,
	"system_error":     loadtest.ErrorSystem,
	"other":            loadtest.ErrorOther,
}

// Load reads a YAML file at path and converts it into a loadtest.TestConfig.
// It does not call loadtest.Validate — callers decide when to validate.
func Load(path string) (loadtest.TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return loadtest.TestConfig{}, fmt.Errorf("read config file: %w", err)
	}

	var y YAMLConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return loadtest.TestConfig{}, fmt.Errorf("parse config file: %w", err)
	}

	return fromYAML(y)
}

func fromYAML(y YAMLConfig) (loadtest.TestConfig, error) {
	var cfg loadtest.TestConfig

	profile, ok := profileAliases[y.Profile]
	if !ok {
		verr := loadtest.ValidationError{
			Field:    "profile",
			Value:    y.Profile,
			Message:  "unrecognized profile",
			Expected: "one of " + joinComma(validProfiles),
		}
		if suggestion := closestMatch(y.Profile, validProfiles); suggestion != "" {
			verr.Hint = fmt.Sprintf("did you mean %q?", suggestion)
		}
		return cfg, loadtest.ValidationErrors{verr}
	}
	cfg.Profile = profile

	var errs loadtest.ValidationErrors
	parseDur := func(field, raw string) time.Duration {
		if raw == "" {
			return 0
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			errs = append(errs, loadtest.ValidationError{
				Field: field, Value: raw, Message: "invalid duration",
				Expected: `a Go duration string, e.g. "30s", "2m"`,
			})
		}
		return d
	}

	cfg.Duration = parseDur("duration_sec", y.DurationSec)
	cfg.ConcurrentUsers = y.ConcurrentUsers
	cfg.TargetRate = y.TargetRate
	cfg.RampUpTime = parseDur("ramp_up_time_sec", y.RampUpTimeSec)
	cfg.RampUpSteps = y.RampUpSteps
	cfg.StabilityDuration = parseDur("stability_duration_sec", y.StabilityDurationSec)
	cfg.StabilityCheckInterval = parseDur("stability_check_interval_sec", y.StabilityCheckIntervalSec)
	cfg.StabilityThresholds = loadtest.StabilityThresholds{
		ErrorRate: y.StabilityThresholds.ErrorRate,
		P95:       parseDur("stability_thresholds.p95", y.StabilityThresholds.P95),
		P99:       parseDur("stability_thresholds.p99", y.StabilityThresholds.P99),
	}
	cfg.TaskTimeout = parseDur("task_timeout_sec", y.TaskTimeoutSec)
	cfg.ThinkTime = parseDur("think_time_sec", y.ThinkTimeSec)

	validKinds := []string{"timeout", "connection_error", "http_error", "assertion_error", "validation_error", "system_error", "other"}
	kindHint := func(raw string) string {
		if suggestion := closestMatch(raw, validKinds); suggestion != "" {
			return fmt.Sprintf("did you mean %q?", suggestion)
		}
		return ""
	}

	retryableKinds := make(map[loadtest.ErrorKind]bool, len(y.Retry.RetryableKinds))
	for _, k := range y.Retry.RetryableKinds {
		kind, ok := kindAliases[k]
		if !ok {
			errs = append(errs, loadtest.ValidationError{
				Field: "retry.retryable_kinds", Value: k, Message: "unrecognized error kind", Hint: kindHint(k),
			})
			continue
		}
		retryableKinds[kind] = true
	}
	cfg.Retry = loadtest.RetryConfig{
		MaxRetries:     y.Retry.MaxRetries,
		BaseDelay:      parseDur("retry.base_delay_sec", y.Retry.BaseDelay),
		RetryableKinds: retryableKinds,
	}

	var perKind []loadtest.KindThreshold
	for _, kt := range y.Thresholds.PerKind {
		kind, ok := kindAliases[kt.Kind]
		if !ok {
			errs = append(errs, loadtest.ValidationError{
				Field: "thresholds.per_kind", Value: kt.Kind, Message: "unrecognized error kind", Hint: kindHint(kt.Kind),
			})
			continue
		}
		perKind = append(perKind, loadtest.KindThreshold{Kind: kind, Count: kt.Count})
	}
	cfg.Thresholds = loadtest.Thresholds{
		MaxErrors:            y.Thresholds.MaxErrors,
		MaxErrorRate:         y.Thresholds.MaxErrorRate,
		MaxConsecutiveErrors: y.Thresholds.MaxConsecutiveErrors,
		PerKind:              perKind,
	}

	cfg.BeforeConcurrency = y.BeforeConcurrency
	cfg.AfterConcurrency = y.AfterConcurrency
	cfg.MaxThreadPoolSize = y.MaxThreadPoolSize
	cfg.StopOnError = y.StopOnError

	if len(errs) > 0 {
		return cfg, errs
	}
	return cfg, nil
}

func joinComma(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
