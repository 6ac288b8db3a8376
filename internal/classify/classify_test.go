package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/voltrace/loadgen/pkg/loadtest"
)

func TestClassify_Timeout(t *testing.T) {
	if got := Classify(context.DeadlineExceeded); got != loadtest.ErrorTimeout {
		t.Errorf("expected ErrorTimeout, got %s", got)
	}
	if got := Classify(errors.New("dial tcp: i/o timeout")); got != loadtest.ErrorTimeout {
		t.Errorf("expected ErrorTimeout, got %s", got)
	}
}

func TestClassify_Connection(t *testing.T) {
	if got := Classify(errors.New("connection refused")); got != loadtest.ErrorConnection {
		t.Errorf("expected ErrorConnection, got %s", got)
	}
	if got := Classify(errors.New("read: connection reset by peer")); got != loadtest.ErrorConnection {
		t.Errorf("expected ErrorConnection, got %s", got)
	}
}

func TestClassify_HTTPError(t *testing.T) {
	err := &HTTPError{StatusCode: 503, Message: "service unavailable"}
	if got := Classify(err); got != loadtest.ErrorHTTP {
		t.Errorf("expected ErrorHTTP, got %s", got)
	}
}

func TestClassify_AssertionFailure(t *testing.T) {
	if got := Classify(fakeAssertionError{}); got != loadtest.ErrorAssertion {
		t.Errorf("expected ErrorAssertion, got %s", got)
	}
}

func TestClassify_ValidationError(t *testing.T) {
	err := &ValidationError{Message: "missing field"}
	if got := Classify(err); got != loadtest.ErrorValidation {
		t.Errorf("expected ErrorValidation, got %s", got)
	}
}

func TestClassify_Other(t *testing.T) {
	if got := Classify(errors.New("something unexpected")); got != loadtest.ErrorOther {
		t.Errorf("expected ErrorOther, got %s", got)
	}
}

func TestClassify_PriorityOrder(t *testing.T) {
	// A message that contains both a timeout and connection pattern should
	// classify as Timeout since it is checked first.
	err := errors.New("connection reset: i/o timeout")
	if got := Classify(err); got != loadtest.ErrorTimeout {
		t.Errorf("expected timeout to take priority, got %s", got)
	}
}

type fakeAssertionError struct{}

func (fakeAssertionError) Error() string        { return "assertion failed" }
func (fakeAssertionError) AssertionFailure() bool { return true }
