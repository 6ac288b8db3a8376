// Package classify maps a raw task failure to a stable loadtest.ErrorKind.
// The classifier is pure and total: every non-nil error maps to exactly
// one kind, and the set never grows at the call site.
package classify

import (
	"context"
	"errors"
	"net"
	"os"
	"runtime"
	"strings"

	"github.com/voltrace/loadgen/pkg/loadtest"
)

// AssertionFailure is implemented by errors that represent a failed
// response assertion (see internal/assertcheck). Any error satisfying it
// classifies as ErrorAssertion regardless of message content.
type AssertionFailure interface {
	AssertionFailure() bool
}

// HTTPError is the sentinel a TaskFn returns to report a structured
// HTTP-level failure (4xx/5xx surfaced as an error rather than a status
// code on a successful TaskResult).
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "http error"
}

// ValidationError is the sentinel a TaskFn returns for an input-validation
// failure (malformed request data, schema mismatch) distinct from a
// server-side HttpError.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

var retryableTimeoutPatterns = []string{
	"timeout",
	"i/o timeout",
	"tls handshake timeout",
	"deadline exceeded",
}

var connectionPatterns = []string{
	"connection reset",
	"connection refused",
	"no such host",
	"broken pipe",
	"eof",
}

var systemPatterns = []string{
	"out of memory",
	"too many open files",
	"cannot allocate memory",
}

// Classify maps err to its ErrorKind. Priority order: Timeout,
// ConnectionError, HttpError, AssertionError, ValidationError, SystemError,
// Other — first match wins.
func Classify(err error) loadtest.ErrorKind {
	if err == nil {
		return loadtest.ErrorOther
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return loadtest.ErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return loadtest.ErrorTimeout
		}
	}
	if os.IsTimeout(err) {
		return loadtest.ErrorTimeout
	}

	msg := strings.ToLower(err.Error())
	for _, p := range retryableTimeoutPatterns {
		if strings.Contains(msg, p) {
			return loadtest.ErrorTimeout
		}
	}

	if netErr != nil {
		return loadtest.ErrorConnection
	}
	for _, p := range connectionPatterns {
		if strings.Contains(msg, p) {
			return loadtest.ErrorConnection
		}
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return loadtest.ErrorHTTP
	}

	var assertFail AssertionFailure
	if errors.As(err, &assertFail) && assertFail.AssertionFailure() {
		return loadtest.ErrorAssertion
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return loadtest.ErrorValidation
	}

	var runtimeErr runtime.Error
	if errors.As(err, &runtimeErr) {
		return loadtest.ErrorSystem
	}
	for _, p := range systemPatterns {
		if strings.Contains(msg, p) {
			return loadtest.ErrorSystem
		}
	}

	return loadtest.ErrorOther
}
