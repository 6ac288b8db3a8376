package threshold

import (
	"testing"

	"github.com/voltrace/loadgen/pkg/loadtest"
)

func TestCheck_ZeroValueNeverAborts(t *testing.T) {
	c := New(loadtest.Thresholds{})
	v := c.Check(State{Total: 1000, Failure: 1000, ConsecutiveErrors: 1000})
	if v.Abort {
		t.Fatal("a zero-value Thresholds should never abort")
	}
}

func TestCheck_MaxErrors(t *testing.T) {
	c := New(loadtest.Thresholds{MaxErrors: 5})
	if c.Check(State{Failure: 4}).Abort {
		t.Fatal("should not abort below threshold")
	}
	if !c.Check(State{Failure: 5}).Abort {
		t.Fatal("should abort at threshold")
	}
}

func TestCheck_MaxErrorRate(t *testing.T) {
	c := New(loadtest.Thresholds{MaxErrorRate: 0.5})
	if c.Check(State{Total: 10, Failure: 4}).Abort {
		t.Fatal("0.4 should not trigger 0.5 threshold")
	}
	if !c.Check(State{Total: 10, Failure: 5}).Abort {
		t.Fatal("0.5 should trigger 0.5 threshold")
	}
}

func TestCheck_MaxErrorRate_IgnoredAtZeroTotal(t *testing.T) {
	c := New(loadtest.Thresholds{MaxErrorRate: 0.01})
	if c.Check(State{Total: 0, Failure: 0}).Abort {
		t.Fatal("should not divide by zero or abort with no samples yet")
	}
}

func TestCheck_MaxConsecutiveErrors(t *testing.T) {
	c := New(loadtest.Thresholds{MaxConsecutiveErrors: 3})
	if c.Check(State{ConsecutiveErrors: 2}).Abort {
		t.Fatal("should not abort below streak threshold")
	}
	if !c.Check(State{ConsecutiveErrors: 3}).Abort {
		t.Fatal("should abort at streak threshold")
	}
}

func TestCheck_PerKind(t *testing.T) {
	c := New(loadtest.Thresholds{
		PerKind: []loadtest.KindThreshold{{Kind: loadtest.ErrorTimeout, Count: 2}},
	})
	state := State{PerKind: map[loadtest.ErrorKind]int64{loadtest.ErrorTimeout: 1}}
	if c.Check(state).Abort {
		t.Fatal("should not abort below per-kind threshold")
	}
	state.PerKind[loadtest.ErrorTimeout] = 2
	if !c.Check(state).Abort {
		t.Fatal("should abort at per-kind threshold")
	}
}

func TestCheck_PerKind_UnrelatedKindDoesNotTrigger(t *testing.T) {
	c := New(loadtest.Thresholds{
		PerKind: []loadtest.KindThreshold{{Kind: loadtest.ErrorTimeout, Count: 1}},
	})
	state := State{PerKind: map[loadtest.ErrorKind]int64{loadtest.ErrorConnection: 100}}
	if c.Check(state).Abort {
		t.Fatal("a different kind's count should not trigger this threshold")
	}
}
