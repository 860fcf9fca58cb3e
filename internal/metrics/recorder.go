package metrics

import "time"

// ResultLabel enumerates per-item outcomes for counters.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success"
	ResultFailed  ResultLabel = "failed"
	ResultSkipped ResultLabel = "skipped"
)

// OutcomeLabel is the final status of a run.
type OutcomeLabel string

const (
	OutcomeSuccess  OutcomeLabel = "success"
	OutcomePartial  OutcomeLabel = "partial"
	OutcomeFailed   OutcomeLabel = "failed"
	OutcomeCanceled OutcomeLabel = "canceled"
)

// Recorder defines observability hooks for backup runs. Implementations must
// be safe for concurrent use by fetch workers.
type Recorder interface {
	ObserveRunDuration(d time.Duration)
	IncRunOutcome(outcome OutcomeLabel)
	ObserveFetchDuration(d time.Duration, success bool)
	SetFetchConcurrency(n int)
	IncAction(kind string, result ResultLabel)
	IncAncestryFailures(n int)
	SetEntities(kind, status string, n int)
	SetLastRun(t time.Time)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveRunDuration(time.Duration)         {}
func (NoopRecorder) IncRunOutcome(OutcomeLabel)               {}
func (NoopRecorder) ObserveFetchDuration(time.Duration, bool) {}
func (NoopRecorder) SetFetchConcurrency(int)                  {}
func (NoopRecorder) IncAction(string, ResultLabel)            {}
func (NoopRecorder) IncAncestryFailures(int)                  {}
func (NoopRecorder) SetEntities(string, string, int)          {}
func (NoopRecorder) SetLastRun(time.Time)                     {}
