package assertcheck

import (
	"errors"
	"testing"

	"github.com/voltrace/loadgen/internal/classify"
)

func TestCheck_Contains_PassAndFail(t *testing.T) {
	body := []byte(`{"status":"ok"}`)
	if err := Check(body, []Assertion{{Type: Contains, Value: "ok"}}); err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
	err := Check(body, []Assertion{{Type: Contains, Value: "error"}})
	if err == nil {
		t.Fatal("expected failure")
	}
	if classify.Classify(err) != "assertion_error" {
		t.Errorf("expected ErrorAssertion classification, got %s", classify.Classify(err))
	}
}

func TestCheck_Regex_PassAndFail(t *testing.T) {
	assertions := []Assertion{{Type: Regex, Value: `^\{.*\}$`}}
	if err := Compile(assertions); err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}
	if err := Check([]byte(`{"a":1}`), assertions); err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
	if err := Check([]byte(`not json`), assertions); err == nil {
		t.Fatal("expected failure")
	}
}

func TestCompile_InvalidRegex(t *testing.T) {
	assertions := []Assertion{{Type: Regex, Value: "(unclosed"}}
	if err := Compile(assertions); err == nil {
		t.Fatal("expected a compile error for invalid regex")
	}
}

func TestCheck_JSONPath_ExistsOnly(t *testing.T) {
	body := []byte(`{"data":{"token":"abc123"}}`)
	if err := Check(body, []Assertion{{Type: JSONPath, Path: "data.token"}}); err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
	if err := Check(body, []Assertion{{Type: JSONPath, Path: "data.missing"}}); err == nil {
		t.Fatal("expected failure for missing path")
	}
}

func TestCheck_JSONPath_ExpectedValue(t *testing.T) {
	body := []byte(`{"status":"active"}`)
	if err := Check(body, []Assertion{{Type: JSONPath, Path: "status", Value: "active"}}); err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
	if err := Check(body, []Assertion{{Type: JSONPath, Path: "status", Value: "inactive"}}); err == nil {
		t.Fatal("expected failure on value mismatch")
	}
}

func TestCheck_FirstFailureShortCircuits(t *testing.T) {
	body := []byte(`{"a":1}`)
	assertions := []Assertion{
		{Type: Contains, Value: "missing"},
		{Type: Contains, Value: "a"},
	}
	err := Check(body, assertions)
	if err == nil {
		t.Fatal("expected the first assertion's failure")
	}
	var f *Failure
	if !errors.As(err, &f) {
		t.Fatal("expected a *Failure")
	}
	if f.Type != Contains || f.Expected != "missing" {
		t.Errorf("expected the failure to be from the first assertion, got %+v", f)
	}
}

func TestFailure_CustomMessageOverridesGenerated(t *testing.T) {
	f := &Failure{Type: Contains, Expected: "x", Message: "custom message"}
	if f.Error() != "custom message" {
		t.Errorf("expected custom message, got %q", f.Error())
	}
}
