package coordinator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voltrace/loadgen/internal/retry"
	"github.com/voltrace/loadgen/pkg/loadtest"
)

func noopRetryExecutor() *retry.Executor {
	exec := retry.New(loadtest.RetryConfig{}, 0, nil)
	exec.Sleep = func(time.Duration) {}
	return exec
}

func TestRun_BeforeLoadAfter_AllPhasesExecute(t *testing.T) {
	cfg := loadtest.TestConfig{
		Profile:           loadtest.ProfileConcurrent,
		Duration:          20 * time.Millisecond,
		ConcurrentUsers:   2,
		MaxThreadPoolSize: 2,
		BeforeConcurrency: 2,
		AfterConcurrency:  2,
	}

	var beforeCalls, loadCalls, afterCalls int64
	before := func(ctx context.Context) loadtest.TaskResult {
		atomic.AddInt64(&beforeCalls, 1)
		return loadtest.TaskResult{Success: true}
	}
	load := func(ctx context.Context) loadtest.TaskResult {
		atomic.AddInt64(&loadCalls, 1)
		return loadtest.TaskResult{Success: true}
	}
	after := func(ctx context.Context) loadtest.TaskResult {
		atomic.AddInt64(&afterCalls, 1)
		return loadtest.TaskResult{Success: true}
	}

	result := Run(context.Background(), cfg, load, before, after, nil)

	if atomic.LoadInt64(&beforeCalls) != 2 {
		t.Errorf("expected 2 before calls, got %d", beforeCalls)
	}
	if atomic.LoadInt64(&afterCalls) != 2 {
		t.Errorf("expected 2 after calls, got %d", afterCalls)
	}
	if atomic.LoadInt64(&loadCalls) == 0 {
		t.Error("expected at least one load-phase call")
	}
	if result.AbortReason != loadtest.AbortNone {
		t.Errorf("expected AbortNone, got %s", result.AbortReason)
	}
}

func TestRun_BeforeFailureWithStopOnError_SkipsLoadButRunsAfter(t *testing.T) {
	cfg := loadtest.TestConfig{
		Profile:           loadtest.ProfileConcurrent,
		Duration:          time.Second,
		ConcurrentUsers:   1,
		MaxThreadPoolSize: 1,
		BeforeConcurrency: 1,
		AfterConcurrency:  1,
		StopOnError:       true,
	}

	before := func(ctx context.Context) loadtest.TaskResult {
		return loadtest.TaskResult{Success: false, Err: errors.New("setup failed")}
	}
	var loadCalls, afterCalls int64
	load := func(ctx context.Context) loadtest.TaskResult {
		atomic.AddInt64(&loadCalls, 1)
		return loadtest.TaskResult{Success: true}
	}
	after := func(ctx context.Context) loadtest.TaskResult {
		atomic.AddInt64(&afterCalls, 1)
		return loadtest.TaskResult{Success: true}
	}

	result := Run(context.Background(), cfg, load, before, after, nil)

	if atomic.LoadInt64(&loadCalls) != 0 {
		t.Errorf("expected the load phase to be skipped, got %d calls", loadCalls)
	}
	if atomic.LoadInt64(&afterCalls) != 1 {
		t.Errorf("expected after to still run best-effort, got %d calls", afterCalls)
	}
	if result.AbortReason != loadtest.AbortBeforeFailed {
		t.Errorf("expected AbortBeforeFailed, got %s", result.AbortReason)
	}
}

func TestRun_AfterAlwaysBestEffort_IgnoresCancellation(t *testing.T) {
	cfg := loadtest.TestConfig{
		Profile:           loadtest.ProfileConcurrent,
		Duration:          5 * time.Second,
		ConcurrentUsers:   1,
		MaxThreadPoolSize: 1,
		AfterConcurrency:  1,
	}

	load := func(ctx context.Context) loadtest.TaskResult { return loadtest.TaskResult{Success: true} }
	var afterCalls int64
	after := func(ctx context.Context) loadtest.TaskResult {
		atomic.AddInt64(&afterCalls, 1)
		return loadtest.TaskResult{Success: true}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	result := Run(ctx, cfg, load, nil, after, nil)

	if atomic.LoadInt64(&afterCalls) != 1 {
		t.Errorf("expected the after phase to still run once cancellation fires mid-load, got %d calls", afterCalls)
	}
	if result.AbortReason != loadtest.AbortUserCancel {
		t.Errorf("expected AbortUserCancel, got %s", result.AbortReason)
	}
}

func TestRunPhase_NoPhantomOutcomesOnEarlyCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already cancelled before any worker starts

	task := func(ctx context.Context) loadtest.TaskResult { return loadtest.TaskResult{Success: true} }
	exec := noopRetryExecutor()

	result := runPhase(ctx, task, 5, exec, nil)

	for _, o := range result.Outcomes {
		if !o.Success && o.ErrorKind == "" {
			t.Fatal("every failed outcome must carry a non-empty ErrorKind; phantom zero-value outcomes are not allowed")
		}
	}
	if result.Total != int64(len(result.Outcomes)) {
		t.Errorf("Total should match the number of actually-recorded outcomes, got Total=%d len=%d", result.Total, len(result.Outcomes))
	}
}

func TestClampConcurrency(t *testing.T) {
	if got := clampConcurrency(0, 10); got != 1 {
		t.Errorf("expected 0 to clamp up to 1, got %d", got)
	}
	if got := clampConcurrency(20, 10); got != 10 {
		t.Errorf("expected 20 to clamp down to max 10, got %d", got)
	}
	if got := clampConcurrency(5, 0); got != 5 {
		t.Errorf("expected no clamp when max is 0, got %d", got)
	}
}
