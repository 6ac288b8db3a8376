package metrics

import (
	"testing"
	"time"

	"github.com/voltrace/loadgen/pkg/loadtest"
)

func outcome(success bool, ms float64, kind loadtest.ErrorKind, status int) loadtest.TaskOutcome {
	return loadtest.TaskOutcome{
		Success:        success,
		StartedAt:      time.Now(),
		EndedAt:        time.Now(),
		ResponseTimeMs: ms,
		ErrorKind:      kind,
		StatusCode:     status,
		Attempt:        1,
	}
}

func TestAggregator_Totals(t *testing.T) {
	agg := New(Options{})
	agg.Record(outcome(true, 10, "", 200))
	agg.Record(outcome(false, 20, loadtest.ErrorTimeout, 0))
	agg.Record(outcome(true, 30, "", 200))

	total, success, failure, _ := agg.Totals()
	if total != 3 || success != 2 || failure != 1 {
		t.Errorf("expected 3/2/1, got %d/%d/%d", total, success, failure)
	}
}

func TestAggregator_ConsecutiveErrorsResetOnSuccess(t *testing.T) {
	agg := New(Options{})
	agg.Record(outcome(false, 1, loadtest.ErrorOther, 0))
	agg.Record(outcome(false, 1, loadtest.ErrorOther, 0))
	_, _, _, consec := agg.Totals()
	if consec != 2 {
		t.Fatalf("expected 2 consecutive errors, got %d", consec)
	}

	agg.Record(outcome(true, 1, "", 200))
	_, _, _, consec = agg.Totals()
	if consec != 0 {
		t.Errorf("expected consecutive errors reset to 0 after success, got %d", consec)
	}
}

func TestAggregator_Snapshot_Idempotent(t *testing.T) {
	agg := New(Options{})
	for i := 0; i < 50; i++ {
		agg.Record(outcome(true, float64(10+i), "", 200))
	}

	a := agg.Snapshot()
	b := agg.Snapshot()

	if a.TotalRequests != b.TotalRequests || a.ResponseTime.P50 != b.ResponseTime.P50 {
		t.Fatal("Snapshot should be idempotent with no intervening Record calls")
	}
}

func TestAggregator_Snapshot_Percentiles(t *testing.T) {
	agg := New(Options{})
	for i := 1; i <= 100; i++ {
		agg.Record(outcome(true, float64(i), "", 200))
	}

	snap := agg.Snapshot()
	// HDR histogram has bucketed resolution; allow a small tolerance.
	if snap.ResponseTime.P50 < 48*time.Millisecond || snap.ResponseTime.P50 > 52*time.Millisecond {
		t.Errorf("expected P50 near 50ms, got %s", snap.ResponseTime.P50)
	}
	if snap.ResponseTime.P99 < 97*time.Millisecond {
		t.Errorf("expected P99 near 99ms, got %s", snap.ResponseTime.P99)
	}
}

func TestAggregator_ErrorKindCounts(t *testing.T) {
	agg := New(Options{})
	agg.Record(outcome(false, 1, loadtest.ErrorTimeout, 0))
	agg.Record(outcome(false, 1, loadtest.ErrorTimeout, 0))
	agg.Record(outcome(false, 1, loadtest.ErrorConnection, 0))

	snap := agg.Snapshot()
	if snap.ErrorKindCounts[loadtest.ErrorTimeout] != 2 {
		t.Errorf("expected 2 timeouts, got %d", snap.ErrorKindCounts[loadtest.ErrorTimeout])
	}
	if snap.ErrorKindCounts[loadtest.ErrorConnection] != 1 {
		t.Errorf("expected 1 connection error, got %d", snap.ErrorKindCounts[loadtest.ErrorConnection])
	}
}

func TestAggregator_CheckThresholds_MaxErrors(t *testing.T) {
	agg := New(Options{Thresholds: loadtest.Thresholds{MaxErrors: 2}})
	agg.Record(outcome(false, 1, loadtest.ErrorOther, 0))
	if v := agg.CheckThresholds(); v.Abort {
		t.Fatal("should not abort before threshold reached")
	}
	agg.Record(outcome(false, 1, loadtest.ErrorOther, 0))
	if v := agg.CheckThresholds(); !v.Abort {
		t.Fatal("expected abort once MaxErrors reached")
	}
}

func TestAggregator_CheckThresholds_SystemErrorAlwaysFatal(t *testing.T) {
	agg := New(Options{Thresholds: loadtest.Thresholds{MaxErrors: 1000}})
	agg.Record(outcome(false, 1, loadtest.ErrorSystem, 0))
	if v := agg.CheckThresholds(); !v.Abort {
		t.Fatal("expected system error to abort regardless of MaxErrors")
	}
}

func TestAggregator_UpdateConcurrentUsers_TracksMax(t *testing.T) {
	agg := New(Options{})
	agg.UpdateConcurrentUsers(5)
	agg.UpdateConcurrentUsers(2)
	agg.UpdateConcurrentUsers(8)
	agg.UpdateConcurrentUsers(3)

	snap := agg.Snapshot()
	if snap.MaxConcurrentUsers != 8 {
		t.Errorf("expected max of 8, got %d", snap.MaxConcurrentUsers)
	}
}

func TestAggregator_WindowSnapshot_ExcludesOlderBuckets(t *testing.T) {
	agg := New(Options{})
	old := loadtest.TaskOutcome{Success: false, StartedAt: time.Now().Add(-1 * time.Hour), ResponseTimeMs: 5, ErrorKind: loadtest.ErrorOther, Attempt: 1}
	agg.Record(old)

	cutoff := time.Now()
	recent := loadtest.TaskOutcome{Success: true, StartedAt: time.Now(), ResponseTimeMs: 5, Attempt: 1}
	agg.Record(recent)

	w := agg.WindowSnapshot(cutoff)
	if w.Total != 1 {
		t.Errorf("expected window to exclude the older bucket, got total %d", w.Total)
	}
}

func TestPercentile_NearestRank(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := percentile(sorted, 50); got != 5 {
		t.Errorf("expected 5, got %v", got)
	}
	if got := percentile(sorted, 100); got != 10 {
		t.Errorf("expected 10, got %v", got)
	}
	if got := percentile(nil, 50); got != 0 {
		t.Errorf("expected 0 for empty input, got %v", got)
	}
}
