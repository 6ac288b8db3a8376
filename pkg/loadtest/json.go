package loadtest

import (
	"encoding/json"
	"fmt"
	"time"
)

// jsonResponseTimeSummary mirrors ResponseTimeSummary with durations
// rendered as seconds-as-float, per the report-facing JSON contract
// (snake_case fields, durations in seconds, timestamps as integer
// seconds).
type jsonResponseTimeSummary struct {
	P50    float64 `json:"p50"`
	P90    float64 `json:"p90"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
	P999   float64 `json:"p99_9"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	AvgMs  float64 `json:"avg_response_time_ms"`
	StdDev float64 `json:"stddev_response_time_ms"`
}

func toSeconds(d time.Duration) float64 { return d.Seconds() }

// MarshalJSON renders ResponseTimeSummary with durations as seconds.
func (r ResponseTimeSummary) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonResponseTimeSummary{
		P50: toSeconds(r.P50), P90: toSeconds(r.P90), P95: toSeconds(r.P95),
		P99: toSeconds(r.P99), P999: toSeconds(r.P999),
		Min: toSeconds(r.Min), Max: toSeconds(r.Max),
		AvgMs: r.AvgMs, StdDev: r.StdDev,
	})
}

type jsonSecondPoint struct {
	TimestampUnix int64   `json:"timestamp"`
	Total         int64   `json:"total"`
	Success       int64   `json:"success"`
	Failure       int64   `json:"failure"`
	P95           float64 `json:"p95"`
	P99           float64 `json:"p99"`
}

// MarshalJSON renders SecondPoint with durations as seconds.
func (p SecondPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonSecondPoint{
		TimestampUnix: p.TimestampUnix, Total: p.Total, Success: p.Success, Failure: p.Failure,
		P95: toSeconds(p.P95), P99: toSeconds(p.P99),
	})
}

type jsonTaskOutcome struct {
	Success         bool              `json:"success"`
	StartedAtUnix   int64             `json:"started_at"`
	EndedAtUnix     int64             `json:"ended_at"`
	ResponseTimeMs  float64           `json:"response_time_ms"`
	StatusCode      int               `json:"status_code,omitempty"`
	ErrorKind       ErrorKind         `json:"error_kind,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	TransactionName string            `json:"transaction_name,omitempty"`
	Attempt         int               `json:"attempt"`

	LatencyBreakdown map[string]float64 `json:"latency_breakdown,omitempty"`
	ConnectionInfo   map[string]string  `json:"connection_info,omitempty"`

	Profile   Profile `json:"profile,omitempty"`
	StepIndex int     `json:"step_index,omitempty"`
}

// MarshalJSON renders TaskOutcome with StartedAt/EndedAt as Unix seconds,
// matching SecondPoint and report_info.generated_at rather than Go's
// default RFC3339 string encoding for time.Time.
func (o TaskOutcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonTaskOutcome{
		Success:          o.Success,
		StartedAtUnix:    o.StartedAt.UTC().Unix(),
		EndedAtUnix:      o.EndedAt.UTC().Unix(),
		ResponseTimeMs:   o.ResponseTimeMs,
		StatusCode:       o.StatusCode,
		ErrorKind:        o.ErrorKind,
		ErrorMessage:     o.ErrorMessage,
		TransactionName:  o.TransactionName,
		Attempt:          o.Attempt,
		LatencyBreakdown: o.LatencyBreakdown,
		ConnectionInfo:   o.ConnectionInfo,
		Profile:          o.Profile,
		StepIndex:        o.StepIndex,
	})
}

type jsonRunResult struct {
	ReportInfo struct {
		GeneratedAtUnix int64 `json:"generated_at"`
	} `json:"report_info"`
	SummaryStatistics struct {
		TotalRequests      int64               `json:"total_requests"`
		SuccessCount       int64               `json:"success_count"`
		FailureCount       int64               `json:"failure_count"`
		ErrorRate          float64             `json:"error_rate"`
		MaxConcurrentUsers int                 `json:"max_concurrent_users"`
		ElapsedSeconds     float64             `json:"elapsed_seconds"`
		RPS                float64             `json:"rps"`
		ResponseTime       ResponseTimeSummary `json:"response_time"`
	} `json:"summary_statistics"`
	DetailedResults struct {
		ErrorKindCounts    map[ErrorKind]int64 `json:"error_kind_counts"`
		StatusCodeCounts   map[string]int64    `json:"status_code_counts"`
		ErrorMessageCounts map[string]int64    `json:"error_message_counts"`
	} `json:"detailed_results"`
	TimeSeries         []SecondPoint                  `json:"time_series"`
	LatencyStats       ResponseTimeSummary            `json:"latency_stats"`
	TransactionMetrics map[string]TransactionSummary  `json:"transaction_metrics"`
	BeforeResults      PhaseResult                    `json:"before_results"`
	AfterResults       PhaseResult                    `json:"after_results"`
	ProfileExtras      struct {
		StepResults     []StepResult     `json:"step_results,omitempty"`
		IntervalResults []IntervalResult `json:"interval_results,omitempty"`
	} `json:"profile_extras"`
	AbortReason AbortReason `json:"abort_reason"`
}

// MarshalJSON renders RunResult as the report-facing JSON schema:
// report_info, summary_statistics, detailed_results, time_series,
// latency_stats, transaction_metrics, before_results, after_results,
// profile_extras, abort_reason. It emits no test_config and no
// connection_metrics key. TransactionSummary, StepResult and
// IntervalResult values use Go's default encoding (exported field names,
// StepResult.Duration and window percentiles in nanoseconds, CheckedAt as
// an RFC3339 string).
func (r RunResult) MarshalJSON() ([]byte, error) {
	var out jsonRunResult
	out.ReportInfo.GeneratedAtUnix = time.Now().UTC().Unix()

	out.SummaryStatistics.TotalRequests = r.TotalRequests
	out.SummaryStatistics.SuccessCount = r.SuccessCount
	out.SummaryStatistics.FailureCount = r.FailureCount
	out.SummaryStatistics.ErrorRate = r.ErrorRate
	out.SummaryStatistics.MaxConcurrentUsers = r.MaxConcurrentUsers
	out.SummaryStatistics.ElapsedSeconds = r.ElapsedSeconds
	out.SummaryStatistics.RPS = r.RPS
	out.SummaryStatistics.ResponseTime = r.ResponseTime

	out.DetailedResults.ErrorKindCounts = r.ErrorKindCounts
	statusStrs := make(map[string]int64, len(r.StatusCodeCounts))
	for code, n := range r.StatusCodeCounts {
		statusStrs[fmt.Sprintf("%d", code)] = n
	}
	out.DetailedResults.StatusCodeCounts = statusStrs
	out.DetailedResults.ErrorMessageCounts = r.ErrorMessageCounts

	out.TimeSeries = r.TimeSeries
	out.LatencyStats = r.ResponseTime
	out.TransactionMetrics = r.TransactionMetrics
	out.BeforeResults = r.BeforeResult
	out.AfterResults = r.AfterResult
	out.ProfileExtras.StepResults = r.StepResults
	out.ProfileExtras.IntervalResults = r.IntervalResults
	out.AbortReason = r.AbortReason

	return json.Marshal(out)
}
