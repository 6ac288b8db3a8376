// Package threshold evaluates stateless abort conditions over a
// snapshot of run totals: max errors, max error rate, max consecutive
// errors, and per-kind error counts.
package threshold

import (
	"fmt"

	"github.com/voltrace/loadgen/pkg/loadtest"
)

// State is the subset of Aggregator counters a Checker needs to decide.
type State struct {
	Total             int64
	Failure           int64
	ConsecutiveErrors int64
	PerKind           map[loadtest.ErrorKind]int64
}

// Verdict is the result of one Check call.
type Verdict struct {
	Abort  bool
	Reason string
}

// Checker evaluates loadtest.Thresholds against a State snapshot. Stateless
// aside from the configured thresholds — it does not latch "tripped"
// itself, since the scheduler's cancellation signal is the single source
// of truth for that.
type Checker struct {
	cfg loadtest.Thresholds
}

// New builds a Checker for cfg. A zero-value Thresholds never aborts.
func New(cfg loadtest.Thresholds) *Checker {
	return &Checker{cfg: cfg}
}

// Check returns Abort iff any configured threshold is met: absolute error
// count, error rate, consecutive-error streak, or a per-kind sub-count.
func (c *Checker) Check(s State) Verdict {
	if c.cfg.MaxErrors > 0 && s.Failure >= c.cfg.MaxErrors {
		return Verdict{Abort: true, Reason: fmt.Sprintf("failure count %d >= max_errors %d", s.Failure, c.cfg.MaxErrors)}
	}

	if c.cfg.MaxErrorRate > 0 && s.Total > 0 {
		rate := float64(s.Failure) / float64(s.Total)
		if rate >= c.cfg.MaxErrorRate {
			return Verdict{Abort: true, Reason: fmt.Sprintf("error rate %.3f >= max_error_rate %.3f", rate, c.cfg.MaxErrorRate)}
		}
	}

	if c.cfg.MaxConsecutiveErrors > 0 && s.ConsecutiveErrors >= c.cfg.MaxConsecutiveErrors {
		return Verdict{Abort: true, Reason: fmt.Sprintf("consecutive errors %d >= max_consecutive_errors %d", s.ConsecutiveErrors, c.cfg.MaxConsecutiveErrors)}
	}

	for _, kt := range c.cfg.PerKind {
		if kt.Count <= 0 {
			continue
		}
		if s.PerKind[kt.Kind] >= kt.Count {
			return Verdict{Abort: true, Reason: fmt.Sprintf("%s count %d >= threshold %d", kt.Kind, s.PerKind[kt.Kind], kt.Count)}
		}
	}

	return Verdict{}
}
