// Package assertcheck evaluates response assertions (contains, regex,
// JSON-path via gjson) against a task's raw output and produces an error
// that internal/classify recognizes as ErrorAssertion. It turns a
// TaskFn's raw response into the Err field of a TaskResult, one layer
// below request-building/report-rendering concerns.
package assertcheck

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Kind is the closed set of assertion checks a TaskFn may run against a
// response body.
type Kind string

const (
	Contains Kind = "contains"
	Regex    Kind = "regex"
	JSONPath Kind = "json_path"
)

// Assertion is one check to run against a response body.
type Assertion struct {
	Type    Kind
	Path    string // JSONPath only
	Value   string // expected substring, regex pattern, or expected JSONPath value
	Message string // overrides the generated message when non-empty

	compiled *regexp.Regexp
}

// Compile pre-compiles any Regex assertion's pattern. Meant to run once
// at config load time, not per-request.
func Compile(assertions []Assertion) error {
	for i := range assertions {
		if assertions[i].Type == Regex {
			re, err := regexp.Compile(assertions[i].Value)
			if err != nil {
				return fmt.Errorf("invalid regex pattern %q: %w", assertions[i].Value, err)
			}
			assertions[i].compiled = re
		}
	}
	return nil
}

// Failure is the error internal/classify's AssertionFailure interface
// recognizes. Its AssertionFailure method always returns true; the type's
// existence is the signal, not the return value.
type Failure struct {
	Type     Kind
	Path     string
	Expected string
	Actual   string
	Message  string
}

func (f *Failure) Error() string {
	if f.Message != "" {
		return f.Message
	}
	switch f.Type {
	case Contains:
		return fmt.Sprintf("assertion failed: response body does not contain %q", f.Expected)
	case Regex:
		return fmt.Sprintf("assertion failed: response body does not match regex %q", f.Expected)
	case JSONPath:
		if f.Expected != "" {
			return fmt.Sprintf("assertion failed: json path %q expected %q, got %q", f.Path, f.Expected, f.Actual)
		}
		return fmt.Sprintf("assertion failed: json path %q not found or empty", f.Path)
	default:
		return fmt.Sprintf("assertion failed: %s", f.Expected)
	}
}

// AssertionFailure satisfies internal/classify.AssertionFailure.
func (f *Failure) AssertionFailure() bool { return true }

// Check evaluates every assertion against body in order, failing fast on
// the first failure. Returns nil if all pass.
func Check(body []byte, assertions []Assertion) error {
	for _, a := range assertions {
		var err error
		switch a.Type {
		case Regex:
			err = checkRegexCompiled(body, a)
		case JSONPath:
			err = checkJSONPath(body, a)
		default: // Contains, and any unrecognized Type
			err = checkOne(a.Type, a.Message, a.Value, bytes.Contains(body, []byte(a.Value)), body)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// checkOne builds a Failure when matched is false, truncating body into
// Actual. Contains and Regex both reduce to a single boolean match against
// the whole body; JSONPath does not (see checkJSONPath) and builds its own
// Failure directly.
func checkOne(kind Kind, message, expected string, matched bool, body []byte) error {
	if matched {
		return nil
	}
	return &Failure{Type: kind, Expected: expected, Actual: truncate(body, 100), Message: message}
}

func checkRegexCompiled(body []byte, a Assertion) error {
	re := a.compiled
	if re == nil {
		compiled, err := regexp.Compile(a.Value)
		if err != nil {
			return &Failure{Type: Regex, Expected: a.Value, Message: fmt.Sprintf("invalid regex: %v", err)}
		}
		re = compiled
	}
	return checkOne(Regex, a.Message, a.Value, re.Match(body), body)
}

func checkJSONPath(body []byte, a Assertion) error {
	path := a.Path
	if path == "" {
		path = a.Value
	}

	result := gjson.GetBytes(body, path)
	if !result.Exists() {
		return &Failure{Type: JSONPath, Path: path, Expected: a.Value, Message: a.Message}
	}

	if a.Value != "" && a.Path != "" {
		expected := strings.TrimSpace(a.Value)
		actual := strings.TrimSpace(result.String())
		if actual != expected {
			return &Failure{Type: JSONPath, Path: path, Expected: expected, Actual: actual, Message: a.Message}
		}
	}
	return nil
}

func truncate(body []byte, max int) string {
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max]) + "..."
}
