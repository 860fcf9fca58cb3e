package eventstore

import (
	"context"

	"github.com/google/uuid"
	"github.com/juju/clock"
)

// Journal appends the events of one run under a fresh UUID.
type Journal struct {
	store Store
	clock clock.Clock
	runID string
}

// NewJournal starts a journal for a new run.
func NewJournal(store Store, clk clock.Clock) *Journal {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Journal{store: store, clock: clk, runID: uuid.NewString()}
}

// RunID returns the identifier of the run.
func (j *Journal) RunID() string { return j.runID }

// Started records the start of the run.
func (j *Journal) Started(ctx context.Context, meta RunStartedMeta) error {
	e, err := NewRunStarted(j.runID, j.clock.Now(), meta)
	if err != nil {
		return err
	}
	return j.store.Append(ctx, e)
}

// FetchFailed records a repository left unfetched.
func (j *Journal) FetchFailed(ctx context.Context, meta FetchFailedMeta) error {
	e, err := NewFetchFailed(j.runID, j.clock.Now(), meta)
	if err != nil {
		return err
	}
	return j.store.Append(ctx, e)
}

// Completed records the end of the run.
func (j *Journal) Completed(ctx context.Context, report RunReport) error {
	e, err := NewRunCompleted(j.runID, j.clock.Now(), report)
	if err != nil {
		return err
	}
	return j.store.Append(ctx, e)
}

// Failed records a fatal error.
func (j *Journal) Failed(ctx context.Context, meta RunFailedMeta) error {
	e, err := NewRunFailed(j.runID, j.clock.Now(), meta)
	if err != nil {
		return err
	}
	return j.store.Append(ctx, e)
}
