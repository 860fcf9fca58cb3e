package eventstore

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalRecordsRun(t *testing.T) {
	store := newMemoryStore(t)
	ctx := t.Context()
	clk := testclock.NewClock(time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC))

	j := NewJournal(store, clk)
	_, err := uuid.Parse(j.RunID())
	require.NoError(t, err, "run ids are UUIDs")
	assert.NotEqual(t, j.RunID(), NewJournal(store, clk).RunID())

	require.NoError(t, j.Started(ctx, RunStartedMeta{Organizations: []string{"acme"}, Concurrency: 4}))
	clk.Advance(time.Minute)
	require.NoError(t, j.FetchFailed(ctx, FetchFailedMeta{Repository: "acme/api", Error: "timeout"}))
	clk.Advance(time.Minute)
	require.NoError(t, j.Completed(ctx, RunReport{Outcome: "partial", Fetched: 3, FetchFailures: 1}))

	events, err := store.GetByRunID(ctx, j.RunID())
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []string{TypeRunStarted, TypeFetchFailed, TypeRunCompleted},
		[]string{events[0].Type(), events[1].Type(), events[2].Type()})
	assert.Equal(t, clk.Now(), events[2].Timestamp())

	var report RunReport
	require.NoError(t, json.Unmarshal(events[2].Payload(), &report))
	assert.Equal(t, 3, report.Fetched)
}
