package metrics

import (
	"testing"
	"time"
)

// countingRecorder checks that a Recorder can be satisfied by a test double.
type countingRecorder struct {
	NoopRecorder
	actions map[string]int
}

func (c *countingRecorder) IncAction(kind string, _ ResultLabel) { c.actions[kind]++ }

func TestNoopRecorderSatisfiesInterface(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.ObserveRunDuration(time.Second)
	r.IncRunOutcome(OutcomeSuccess)
	r.ObserveFetchDuration(time.Second, true)
	r.SetFetchConcurrency(1)
	r.IncAction("FETCH", ResultSuccess)
	r.IncAncestryFailures(1)
	r.SetEntities("organization", "ACTIVE", 1)
	r.SetLastRun(time.Now())

	c := &countingRecorder{actions: map[string]int{}}
	r = c
	r.IncAction("WARN", ResultSuccess)
	r.IncAction("WARN", ResultFailed)
	if c.actions["WARN"] != 2 {
		t.Fatalf("expected 2 WARN actions, got %d", c.actions["WARN"])
	}
}
