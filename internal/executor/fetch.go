package executor

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/ghbackup/internal/logfields"
	"git.home.luguber.info/inful/ghbackup/internal/reconcile"
	"git.home.luguber.info/inful/ghbackup/internal/state"
)

// FetchFailure is a repository whose fetch failed after retries.
type FetchFailure struct {
	Key      state.Key
	CloneURL string
	Err      error
}

// FetchReport is the outcome of Fetch.
type FetchReport struct {
	Fetched []state.Key
	Failed  []FetchFailure
}

// FailedKeys returns the set of repositories whose fetch failed.
func (r FetchReport) FailedKeys() map[state.Key]bool {
	out := make(map[state.Key]bool, len(r.Failed))
	for _, f := range r.Failed {
		out[f.Key] = true
	}
	return out
}

// Fetch runs the FETCH actions with at most Concurrency workers. A failed fetch
// never cancels its siblings; the error is only non-nil when ctx ends.
func (e *Executor) Fetch(ctx context.Context, actions []reconcile.Action) (FetchReport, error) {
	var (
		mu     sync.Mutex
		report FetchReport
		g      errgroup.Group
	)
	g.SetLimit(e.concurrency)
	e.recorder.SetFetchConcurrency(e.concurrency)

	for _, a := range actions {
		if a.Kind != reconcile.ActionFetch {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			start := e.clock.Now()
			err := e.mirror.Fetch(ctx, a.Key, a.CloneURL)
			e.recorder.ObserveFetchDuration(e.clock.Now().Sub(start), err == nil)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed = append(report.Failed, FetchFailure{Key: a.Key, CloneURL: a.CloneURL, Err: err})
				slog.Warn("Fetch failed",
					logfields.Organization(a.Key.Organization),
					logfields.Repository(a.Key.Repository),
					logfields.Error(err))
				return nil
			}
			report.Fetched = append(report.Fetched, a.Key)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Fetched, func(i, j int) bool { return report.Fetched[i].Less(report.Fetched[j]) })
	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i].Key.Less(report.Failed[j].Key) })
	return report, ctx.Err()
}
