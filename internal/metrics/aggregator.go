// Package metrics is the thread-safe sink for per-request outcomes:
// atomic counters, sync.Map for open-ended maps, and a single mutex
// guarding a shared HdrHistogram.
package metrics

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/voltrace/loadgen/internal/threshold"
	"github.com/voltrace/loadgen/pkg/loadtest"
)

// histogram bounds: 1µs floor, 30s ceiling, 3 significant figures — ample
// resolution for web-latency-scale response times.
const (
	histMin    = 1
	histMax    = 30_000_000
	histSigFig = 3
)

func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(histMin, histMax, histSigFig)
}

// bucketSampleCap bounds how many raw response-time samples a per-second
// bucket retains for WindowSnapshot's nearest-rank percentiles. Each
// bucket's own histogram (used for the time series) still records every
// sample.
const bucketSampleCap = 2000

type secondBucket struct {
	mu        sync.Mutex
	total     int64
	success   int64
	failure   int64
	histogram *hdrhistogram.Histogram
	samples   []float64
}

// Aggregator is the single logical serialization point for all metric
// mutations (C3). All operations take short critical sections; no user
// code runs inside one.
type Aggregator struct {
	startedAt time.Time

	total   int64
	success int64
	failure int64

	consecutiveErrors int64
	maxConcurrentUsers int64

	mu        sync.Mutex
	histogram *hdrhistogram.Histogram
	samples   []float64 // raw samples (capped at sampleCap when non-zero), for exact stddev

	kindCounts   sync.Map // loadtest.ErrorKind -> *int64
	statusCounts sync.Map // int -> *int64
	errorMsgs    sync.Map // string -> *int64
	txSummaries  sync.Map // string -> *txAccum

	bucketMu sync.RWMutex
	buckets  map[int64]*secondBucket // keyed by UTC unix second

	checker *threshold.Checker

	sampleCap int
}

type txAccum struct {
	mu      sync.Mutex
	total   int64
	success int64
	failure int64
	samples []float64
}

// Options configures an Aggregator at construction time.
type Options struct {
	Thresholds loadtest.Thresholds
	SampleCap  int // 0 means unbounded raw-sample retention
}

// New builds an empty Aggregator, owned exclusively by whoever constructs
// it (the Run Coordinator) for the lifetime of one run.
func New(opts Options) *Aggregator {
	return &Aggregator{
		startedAt: time.Now(),
		histogram: newHistogram(),
		buckets:   make(map[int64]*secondBucket),
		checker:   threshold.New(opts.Thresholds),
		sampleCap: opts.SampleCap,
	}
}

func (a *Aggregator) getOrCreateBucket(second int64) *secondBucket {
	a.bucketMu.RLock()
	b, ok := a.buckets[second]
	a.bucketMu.RUnlock()
	if ok {
		return b
	}

	a.bucketMu.Lock()
	defer a.bucketMu.Unlock()
	if b, ok := a.buckets[second]; ok {
		return b
	}
	b = &secondBucket{histogram: newHistogram()}
	a.buckets[second] = b
	return b
}

func kindCounter(m *sync.Map, key any) *int64 {
	v, _ := m.LoadOrStore(key, new(int64))
	return v.(*int64)
}

// Record incrementally folds one TaskOutcome into the aggregator state.
// Safe for concurrent use by many worker goroutines.
func (a *Aggregator) Record(o loadtest.TaskOutcome) {
	atomic.AddInt64(&a.total, 1)

	if o.Success {
		atomic.AddInt64(&a.success, 1)
		atomic.StoreInt64(&a.consecutiveErrors, 0)
	} else {
		atomic.AddInt64(&a.failure, 1)
		atomic.AddInt64(&a.consecutiveErrors, 1)
		atomic.AddInt64(kindCounter(&a.kindCounts, o.ErrorKind), 1)
		if o.ErrorMessage != "" {
			atomic.AddInt64(kindCounter(&a.errorMsgs, o.ErrorMessage), 1)
		}
	}

	if o.StatusCode != 0 {
		atomic.AddInt64(kindCounter(&a.statusCounts, o.StatusCode), 1)
	}

	a.mu.Lock()
	a.histogram.RecordValue(int64(o.ResponseTimeMs * 1000)) // microseconds
	if a.sampleCap == 0 || len(a.samples) < a.sampleCap {
		a.samples = append(a.samples, o.ResponseTimeMs)
	}
	a.mu.Unlock()

	second := o.StartedAt.UTC().Unix()
	bucket := a.getOrCreateBucket(second)
	bucket.mu.Lock()
	bucket.total++
	if o.Success {
		bucket.success++
	} else {
		bucket.failure++
	}
	bucket.histogram.RecordValue(int64(o.ResponseTimeMs * 1000))
	if len(bucket.samples) < bucketSampleCap {
		bucket.samples = append(bucket.samples, o.ResponseTimeMs)
	}
	bucket.mu.Unlock()

	if o.TransactionName != "" {
		v, _ := a.txSummaries.LoadOrStore(o.TransactionName, &txAccum{})
		tx := v.(*txAccum)
		tx.mu.Lock()
		tx.total++
		if o.Success {
			tx.success++
			tx.samples = append(tx.samples, o.ResponseTimeMs)
		} else {
			tx.failure++
		}
		tx.mu.Unlock()
	}
}

// UpdateConcurrentUsers monotonically tracks the maximum observed in-flight
// count.
func (a *Aggregator) UpdateConcurrentUsers(n int) {
	for {
		cur := atomic.LoadInt64(&a.maxConcurrentUsers)
		if int64(n) <= cur {
			return
		}
		if atomic.CompareAndSwapInt64(&a.maxConcurrentUsers, cur, int64(n)) {
			return
		}
	}
}

// Totals returns the raw counters the threshold Checker and Coordinator
// need without taking the full Snapshot path.
func (a *Aggregator) Totals() (total, success, failure, consecutiveErrors int64) {
	return atomic.LoadInt64(&a.total),
		atomic.LoadInt64(&a.success),
		atomic.LoadInt64(&a.failure),
		atomic.LoadInt64(&a.consecutiveErrors)
}

// CheckThresholds evaluates the configured Thresholds against current
// state and returns the verdict. SystemError failures are always fatal
// regardless of counts.
func (a *Aggregator) CheckThresholds() threshold.Verdict {
	total, _, failure, consecutive := a.Totals()
	systemErrors := atomic.LoadInt64(kindCounter(&a.kindCounts, loadtest.ErrorSystem))
	if systemErrors > 0 {
		return threshold.Verdict{Abort: true, Reason: "system_error"}
	}
	perKind := make(map[loadtest.ErrorKind]int64)
	a.kindCounts.Range(func(k, v any) bool {
		perKind[k.(loadtest.ErrorKind)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return a.checker.Check(threshold.State{
		Total:             total,
		Failure:           failure,
		ConsecutiveErrors: consecutive,
		PerKind:           perKind,
	})
}

func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	// nearest-rank: ceil(p/100 * n), 1-indexed, ties broken toward lower index
	rank := int((p/100)*float64(n) + 0.9999999)
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return sorted[rank-1]
}

func stddev(samples []float64, mean float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		d := s - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}

// Snapshot computes a RunResult from the current state without mutating
// it. Calling it twice with no intervening Record yields equal counts,
// percentiles, maps and time series; ElapsedSeconds and RPS are measured
// against the current time and so differ between the two calls.
func (a *Aggregator) Snapshot() loadtest.RunResult {
	total, success, failure, _ := a.Totals()

	a.mu.Lock()
	p50 := a.histogram.ValueAtQuantile(50)
	p90 := a.histogram.ValueAtQuantile(90)
	p95 := a.histogram.ValueAtQuantile(95)
	p99 := a.histogram.ValueAtQuantile(99)
	p999 := a.histogram.ValueAtQuantile(99.9)
	hmin := a.histogram.Min()
	hmax := a.histogram.Max()
	samples := append([]float64(nil), a.samples...)
	a.mu.Unlock()

	sort.Float64s(samples)
	var mean float64
	if len(samples) > 0 {
		var sum float64
		for _, s := range samples {
			sum += s
		}
		mean = sum / float64(len(samples))
	}

	elapsed := time.Since(a.startedAt).Seconds()
	rps := 0.0
	if elapsed > 0 {
		rps = float64(total) / elapsed
	}

	statusCodes := make(map[int]int64)
	a.statusCounts.Range(func(k, v any) bool {
		statusCodes[k.(int)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	kindCounts := make(map[loadtest.ErrorKind]int64)
	a.kindCounts.Range(func(k, v any) bool {
		kindCounts[k.(loadtest.ErrorKind)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	errorMessages := make(map[string]int64)
	a.errorMsgs.Range(func(k, v any) bool {
		errorMessages[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})

	txMetrics := make(map[string]loadtest.TransactionSummary)
	a.txSummaries.Range(func(k, v any) bool {
		name := k.(string)
		tx := v.(*txAccum)
		tx.mu.Lock()
		s := append([]float64(nil), tx.samples...)
		t, su, f := tx.total, tx.success, tx.failure
		tx.mu.Unlock()
		sort.Float64s(s)
		txMetrics[name] = loadtest.TransactionSummary{
			Total:   t,
			Success: su,
			Failure: f,
			P50:     percentile(s, 50),
			P95:     percentile(s, 95),
			P99:     percentile(s, 99),
		}
		return true
	})

	series := a.timeSeries()

	errorRate := 0.0
	if total > 0 {
		errorRate = float64(failure) / float64(total)
	}

	return loadtest.RunResult{
		TotalRequests: total,
		SuccessCount:  success,
		FailureCount:  failure,
		ErrorRate:     errorRate,
		MaxConcurrentUsers: int(atomic.LoadInt64(&a.maxConcurrentUsers)),
		ElapsedSeconds:     elapsed,
		RPS:                rps,
		ResponseTime: loadtest.ResponseTimeSummary{
			P50:    time.Duration(p50) * time.Microsecond,
			P90:    time.Duration(p90) * time.Microsecond,
			P95:    time.Duration(p95) * time.Microsecond,
			P99:    time.Duration(p99) * time.Microsecond,
			P999:   time.Duration(p999) * time.Microsecond,
			Min:    time.Duration(hmin) * time.Microsecond,
			Max:    time.Duration(hmax) * time.Microsecond,
			AvgMs:  mean,
			StdDev: stddev(samples, mean),
		},
		ErrorKindCounts:   kindCounts,
		StatusCodeCounts:  statusCodes,
		ErrorMessageCounts: errorMessages,
		TransactionMetrics: txMetrics,
		TimeSeries:         series,
	}
}

func (a *Aggregator) timeSeries() []loadtest.SecondPoint {
	a.bucketMu.RLock()
	defer a.bucketMu.RUnlock()

	seconds := make([]int64, 0, len(a.buckets))
	for s := range a.buckets {
		seconds = append(seconds, s)
	}
	sort.Slice(seconds, func(i, j int) bool { return seconds[i] < seconds[j] })

	points := make([]loadtest.SecondPoint, 0, len(seconds))
	for _, s := range seconds {
		b := a.buckets[s]
		b.mu.Lock()
		total, success, failure := b.total, b.success, b.failure
		p95 := time.Duration(b.histogram.ValueAtQuantile(95)) * time.Microsecond
		p99 := time.Duration(b.histogram.ValueAtQuantile(99)) * time.Microsecond
		b.mu.Unlock()

		points = append(points, loadtest.SecondPoint{
			TimestampUnix: s,
			Total:         total,
			Success:       success,
			Failure:       failure,
			P95:           p95,
			P99:           p99,
		})
	}
	return points
}

// WindowSnapshot computes the {error_rate, p95, p99} of the per-second
// buckets whose UTC second (taken from each outcome's StartedAt) is at or
// after since's second — used by the Stability profile's periodic health
// check. Whole buckets are counted, so the window also holds outcomes that
// started earlier within since's own second.
func (a *Aggregator) WindowSnapshot(since time.Time) loadtest.StabilityWindow {
	a.bucketMu.RLock()
	defer a.bucketMu.RUnlock()

	cutoff := since.UTC().Unix()
	var total, failure int64
	var samples []float64
	for s, b := range a.buckets {
		if s < cutoff {
			continue
		}
		b.mu.Lock()
		total += b.total
		failure += b.failure
		samples = append(samples, b.samples...)
		b.mu.Unlock()
	}
	sort.Float64s(samples)

	errorRate := 0.0
	if total > 0 {
		errorRate = float64(failure) / float64(total)
	}
	return loadtest.StabilityWindow{
		Total:     total,
		Failure:   failure,
		ErrorRate: errorRate,
		P95:       time.Duration(percentile(samples, 95)*1000) * time.Microsecond,
		P99:       time.Duration(percentile(samples, 99)*1000) * time.Microsecond,
	}
}
